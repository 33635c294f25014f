package intent

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// Period is an inclusive date range resolved from a phrase in the question.
type Period struct {
	From  time.Time
	To    time.Time
	Label string
}

var (
	lastNPattern     = regexp.MustCompile(`\b(?:last|past)\s+(\d+)\s+(days?|weeks?|months?)\b`)
	quarterPattern   = regexp.MustCompile(`\bq([1-4])\s*(\d{4})\b`)
	monthYearPattern = regexp.MustCompile(`\b(january|february|march|april|may|june|july|august|september|october|november|december)\s+(\d{4})\b`)
	monthPattern     = regexp.MustCompile(`\b(january|february|march|april|june|july|august|september|october|november|december)\b`)
)

var monthNumbers = map[string]time.Month{
	"january": time.January, "february": time.February, "march": time.March, "april": time.April,
	"may": time.May, "june": time.June, "july": time.July, "august": time.August,
	"september": time.September, "october": time.October, "november": time.November, "december": time.December,
}

// ParsePeriod resolves a date phrase in normalized text. Relative phrases are
// anchored on max, the latest order date in the dataset, never on the wall
// clock; they do not resolve when max is zero.
func ParsePeriod(text string, max time.Time) (Period, bool) {
	anchored := !max.IsZero()
	max = dateOnly(max)

	if m := lastNPattern.FindStringSubmatch(text); m != nil && anchored {
		n, err := strconv.Atoi(m[1])
		if err != nil || n < 1 || n > 3650 {
			return Period{}, false
		}
		days := n
		switch m[2][0] {
		case 'w':
			days = 7 * n
		case 'm':
			days = 30 * n
		}
		return Period{From: max.AddDate(0, 0, -(days - 1)), To: max, Label: m[0]}, true
	}

	if anchored {
		switch {
		case containsPhrase(text, "this month"):
			return Period{From: startOfMonth(max), To: max, Label: "this month"}, true
		case containsPhrase(text, "last month"):
			end := startOfMonth(max).AddDate(0, 0, -1)
			return Period{From: startOfMonth(end), To: end, Label: "last month"}, true
		case containsPhrase(text, "this year"):
			return Period{From: time.Date(max.Year(), 1, 1, 0, 0, 0, 0, time.UTC), To: max, Label: "this year"}, true
		case containsPhrase(text, "last year"):
			y := max.Year() - 1
			return Period{
				From:  time.Date(y, 1, 1, 0, 0, 0, 0, time.UTC),
				To:    time.Date(y, 12, 31, 0, 0, 0, 0, time.UTC),
				Label: "last year",
			}, true
		case containsPhrase(text, "this week"):
			return Period{From: startOfWeek(max), To: max, Label: "this week"}, true
		case containsPhrase(text, "last week"):
			start := startOfWeek(max).AddDate(0, 0, -7)
			return Period{From: start, To: start.AddDate(0, 0, 6), Label: "last week"}, true
		case containsPhrase(text, "this quarter"):
			from, _ := quarterBounds(max.Year(), quarterOf(max))
			return Period{From: from, To: max, Label: "this quarter"}, true
		case containsPhrase(text, "last quarter"):
			y, q := max.Year(), quarterOf(max)-1
			if q == 0 {
				y, q = y-1, 4
			}
			from, to := quarterBounds(y, q)
			return Period{From: from, To: to, Label: "last quarter"}, true
		}
	}

	if m := quarterPattern.FindStringSubmatch(text); m != nil {
		q, _ := strconv.Atoi(m[1])
		y, _ := strconv.Atoi(m[2])
		from, to := quarterBounds(y, q)
		return Period{From: from, To: to, Label: m[0]}, true
	}
	if m := monthYearPattern.FindStringSubmatch(text); m != nil {
		y, _ := strconv.Atoi(m[2])
		from := time.Date(y, monthNumbers[m[1]], 1, 0, 0, 0, 0, time.UTC)
		return Period{From: from, To: endOfMonth(from), Label: m[0]}, true
	}
	// "may" alone is too common a word to read as a month.
	if m := monthPattern.FindStringSubmatch(text); m != nil && anchored {
		from := time.Date(max.Year(), monthNumbers[m[1]], 1, 0, 0, 0, 0, time.UTC)
		return Period{From: from, To: endOfMonth(from), Label: m[0]}, true
	}
	return Period{}, false
}

var phrasePatterns = func() map[string]*regexp.Regexp {
	out := map[string]*regexp.Regexp{}
	for _, phrase := range []string{
		"this month", "last month", "this year", "last year",
		"this week", "last week", "this quarter", "last quarter",
	} {
		out[phrase] = regexp.MustCompile(`\b` + regexp.QuoteMeta(phrase) + `\b`)
	}
	return out
}()

func containsPhrase(text, phrase string) bool {
	return phrasePatterns[phrase].MatchString(text)
}

func dateOnly(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func startOfMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

func endOfMonth(t time.Time) time.Time {
	return startOfMonth(t).AddDate(0, 1, -1)
}

func startOfWeek(t time.Time) time.Time {
	offset := (int(t.Weekday()) + 6) % 7
	return t.AddDate(0, 0, -offset)
}

func quarterOf(t time.Time) int {
	return (int(t.Month())-1)/3 + 1
}

func quarterBounds(year, quarter int) (time.Time, time.Time) {
	from := time.Date(year, time.Month((quarter-1)*3+1), 1, 0, 0, 0, 0, time.UTC)
	return from, from.AddDate(0, 3, -1)
}

// WithDateRange pins a revenue question to an explicit range. It overrides
// any period phrase in the text and fills one that was missing. Results for
// other intents are returned unchanged.
func WithDateRange(result Result, period Period) Result {
	name := result.Intent
	if result.NoMatch != nil {
		name = result.NoMatch.Intent
	}
	if name != RevenueByPeriod {
		return result
	}
	params := Params{}
	for key, value := range result.Params {
		params[key] = value
	}
	label := period.Label
	if label == "" {
		label = fmt.Sprintf("%s to %s", period.From.Format(time.DateOnly), period.To.Format(time.DateOnly))
	}
	params[ParamFrom] = dateOnly(period.From)
	params[ParamTo] = dateOnly(period.To)
	params[ParamPeriod] = label
	return Result{Intent: RevenueByPeriod, Pattern: "date_range", Params: params}
}
