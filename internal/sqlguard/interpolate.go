package sqlguard

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Interpolate renders sql with its positional arguments inlined as SQL
// literals. The result is for display in evidence only; execution always
// binds args through the driver.
func Interpolate(sql string, args []any) (string, error) {
	tokens, err := lex(sql)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	last := 0
	next := 0
	for _, tok := range tokens {
		if tok.kind != tokParam {
			continue
		}
		var value any
		switch {
		case tok.text == "?":
			if next >= len(args) {
				return "", fmt.Errorf("statement has more placeholders than arguments (%d)", len(args))
			}
			value = args[next]
			next++
		default:
			n, err := strconv.Atoi(tok.text[1:])
			if err != nil || n < 1 || n > len(args) {
				return "", fmt.Errorf("unsupported placeholder %s", tok.text)
			}
			value = args[n-1]
			if n > next {
				next = n
			}
		}
		literal, err := Literal(value)
		if err != nil {
			return "", err
		}
		b.WriteString(sql[last:tok.start])
		b.WriteString(literal)
		last = tok.end
	}
	if next != len(args) {
		return "", fmt.Errorf("statement uses %d of %d arguments", next, len(args))
	}
	b.WriteString(sql[last:])
	return b.String(), nil
}

// Literal formats a bound value as a DuckDB literal.
func Literal(value any) (string, error) {
	switch v := value.(type) {
	case nil:
		return "NULL", nil
	case int:
		return strconv.Itoa(v), nil
	case int32:
		return strconv.FormatInt(int64(v), 10), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case uint64:
		return strconv.FormatUint(v, 10), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case bool:
		if v {
			return "TRUE", nil
		}
		return "FALSE", nil
	case string:
		return "'" + strings.ReplaceAll(v, "'", "''") + "'", nil
	case time.Time:
		if v.Hour() == 0 && v.Minute() == 0 && v.Second() == 0 && v.Nanosecond() == 0 {
			return "DATE '" + v.Format("2006-01-02") + "'", nil
		}
		return "TIMESTAMP '" + v.UTC().Format("2006-01-02 15:04:05") + "'", nil
	default:
		return "", fmt.Errorf("unsupported argument type %T", value)
	}
}
