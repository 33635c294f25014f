package evidence

import (
	"fmt"
	"math"
	"time"

	"github.com/duckqa/duckqa/internal/quality"
	"github.com/duckqa/duckqa/internal/sqlguard"
)

const (
	baseConfidence   = 0.75
	minConfidence    = 0.1
	maxConfidence    = 1.0
	failedCheck      = 0.3
	noDataPenalty    = 0.5
	orphanPenalty    = 0.1
	nullDatePenalty  = 0.05
	negativePenalty  = 0.15
	stalenessPenalty = 0.1
)

type score struct {
	value  float64
	badges []Badge
}

func newScore(report sqlguard.Report) *score {
	s := &score{value: baseConfidence}
	for _, check := range report.Failed() {
		s.penalize(failedCheck, Badge{Type: "warning", Label: "Validation: " + string(check.Name), Severity: "medium"})
	}
	return s
}

func (s *score) penalize(amount float64, badge Badge) {
	s.value -= amount
	s.badges = append(s.badges, badge)
}

func (s *score) applyQuality(report *quality.Report, cfg Config, now time.Time) {
	if report == nil {
		s.badges = append(s.badges, Badge{Type: "info", Label: "Data quality unavailable", Severity: "low"})
		return
	}
	for _, orphan := range report.Orphans {
		if orphan.Rate > cfg.OrphanRateThreshold {
			s.penalize(orphanPenalty, Badge{
				Type:     "info",
				Label:    fmt.Sprintf("Orphan rows %s: %.0f%%", orphan.Join, orphan.Rate*100),
				Severity: "low",
			})
		}
	}
	if report.NullOrderDateRate > cfg.NullRateThreshold {
		s.penalize(nullDatePenalty, Badge{
			Type:     "info",
			Label:    fmt.Sprintf("Missing order dates: %.0f%%", report.NullOrderDateRate*100),
			Severity: "low",
		})
	}
	if report.NegativeTotals > 0 {
		s.penalize(negativePenalty, Badge{Type: "warning", Label: fmt.Sprintf("Negative totals: %d", report.NegativeTotals), Severity: "medium"})
	}
	if report.NegativePrices > 0 {
		s.penalize(negativePenalty, Badge{Type: "warning", Label: fmt.Sprintf("Negative prices: %d", report.NegativePrices), Severity: "medium"})
	}
	if age := report.DataAge(now); age > cfg.StaleAfter {
		s.penalize(stalenessPenalty, Badge{
			Type:     "info",
			Label:    fmt.Sprintf("Stale data: newest order %s", report.MaxOrderDate.Format(time.DateOnly)),
			Severity: "low",
		})
	}
}

// result clamps the score and rounds away float noise from the penalties.
func (s *score) result() (float64, []Badge) {
	badges := s.badges
	if len(badges) == 0 {
		badges = []Badge{{Type: "success", Label: "High data quality", Severity: "none"}}
	}
	value := math.Max(minConfidence, math.Min(maxConfidence, s.value))
	return math.Round(value*100) / 100, badges
}
