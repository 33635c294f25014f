package answer

import (
	"fmt"
	"strings"

	"github.com/duckqa/duckqa/internal/intent"
)

// Mode selects where the candidate SQL comes from. Each request declares
// its own mode.
type Mode string

const (
	ModeClassic  Mode = "classic"
	ModeAssisted Mode = "assisted"
)

// ParseMode accepts the wire spellings of a mode. Empty means classic.
func ParseMode(raw string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "classic":
		return ModeClassic, nil
	case "assisted", "ai":
		return ModeAssisted, nil
	default:
		return "", fmt.Errorf("unknown mode %q", raw)
	}
}

type Question struct {
	Text string `json:"question"`
	Mode Mode   `json:"mode"`

	// DateRange, when set, pins revenue questions to an explicit range.
	DateRange *intent.Period `json:"-"`
}
