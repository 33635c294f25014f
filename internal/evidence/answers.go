package evidence

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/duckqa/duckqa/internal/intent"
	"github.com/duckqa/duckqa/internal/query"
)

const maxFollowUps = 3

var printer = message.NewPrinter(language.English)

// answerText states the factual claim. Every number comes from the result
// set or the resolved parameters.
func answerText(plan Plan, result query.Result, scanned int64) string {
	switch plan.Intent {
	case intent.RevenueByPeriod:
		from, okFrom := plan.Params.Time(intent.ParamFrom)
		to, okTo := plan.Params.Time(intent.ParamTo)
		total, okTotal := cell(result, 0, plan.TotalColumn)
		value, okValue := toFloat64(total)
		if okFrom && okTo && okTotal && okValue {
			return fmt.Sprintf("Revenue from %s to %s: %s.", from.Format(time.DateOnly), to.Format(time.DateOnly), FormatCurrency(value))
		}
	case intent.OrdersByCustomer, intent.OrdersByCustomerName:
		cid, ok := plan.Params.Int64(intent.ParamCID)
		if !ok {
			if v, found := cell(result, 0, "CID"); found {
				cid, _ = toInt64(v)
			}
		}
		text := fmt.Sprintf("Found %s for CID %d.", plural(scanned, "order"), cid)
		if name, ok := cell(result, 0, "name"); ok && name != nil && fmt.Sprint(name) != "" {
			text = fmt.Sprintf("Found %s for %v (CID %d).", plural(scanned, "order"), name, cid)
		}
		if int64(result.RowCount) < scanned {
			text += fmt.Sprintf(" Showing the first %d.", result.RowCount)
		}
		return text
	case intent.TopProducts:
		return fmt.Sprintf("Top %s by revenue returned.", plural(int64(result.RowCount), "product"))
	case intent.TopCustomers:
		return fmt.Sprintf("Top %s by revenue returned.", plural(int64(result.RowCount), "customer"))
	case intent.OrderDetails:
		iid, _ := plan.Params.Int64(intent.ParamIID)
		text := fmt.Sprintf("Order %d has %s.", iid, plural(scanned, "line"))
		if int64(result.RowCount) < scanned {
			text += fmt.Sprintf(" Showing the first %d.", result.RowCount)
		}
		return text
	}
	return fmt.Sprintf("Query returned %s.", plural(int64(result.RowCount), "row"))
}

func followUps(plan Plan, result query.Result) []string {
	if plan.Intent == "" {
		if out := limitFollowUps(plan.FollowUps); len(out) > 0 {
			return out
		}
	}
	return staticFollowUps(plan.Intent, &result)
}

// staticFollowUps returns only questions the classic matcher can answer.
func staticFollowUps(name string, result *query.Result) []string {
	var out []string
	switch name {
	case intent.RevenueByPeriod:
		out = []string{"Top 5 products", "Top 5 customers"}
	case intent.OrdersByCustomer, intent.OrdersByCustomerName:
		if iid, ok := firstInt(result, "IID"); ok {
			out = append(out, fmt.Sprintf("Order details %d", iid))
		}
		out = append(out, "Top 5 customers", "Revenue last 30 days")
	case intent.TopProducts:
		out = []string{"Top 5 customers", "Revenue last 30 days"}
	case intent.TopCustomers:
		if cid, ok := firstInt(result, "CID"); ok {
			out = append(out, fmt.Sprintf("Orders for CID %d", cid))
		}
		out = append(out, "Revenue last 30 days")
	case intent.OrderDetails:
		out = []string{"Top 5 products", "Revenue last 30 days"}
	default:
		out = []string{"Revenue last 30 days", "Top 5 products", "Top 5 customers"}
	}
	return limitFollowUps(out)
}

func limitFollowUps(in []string) []string {
	out := make([]string, 0, maxFollowUps)
	seen := make(map[string]bool, len(in))
	for _, item := range in {
		if item == "" || seen[item] {
			continue
		}
		seen[item] = true
		out = append(out, item)
		if len(out) == maxFollowUps {
			break
		}
	}
	return out
}

func cell(result query.Result, row int, column string) (any, bool) {
	if column == "" || row >= len(result.Rows) {
		return nil, false
	}
	idx := result.Column(column)
	if idx < 0 || idx >= len(result.Rows[row]) {
		return nil, false
	}
	return result.Rows[row][idx], true
}

func firstInt(result *query.Result, column string) (int64, bool) {
	if result == nil {
		return 0, false
	}
	value, ok := cell(*result, 0, column)
	if !ok {
		return 0, false
	}
	return toInt64(value)
}

// FormatCurrency renders dollars with thousands separators and two decimals.
func FormatCurrency(value float64) string {
	if value < 0 {
		return "-" + printer.Sprintf("$%.2f", math.Abs(value))
	}
	return printer.Sprintf("$%.2f", value)
}

func plural(n int64, noun string) string {
	if n == 1 {
		return "1 " + noun
	}
	return fmt.Sprintf("%d %ss", n, noun)
}

func toInt64(value any) (int64, bool) {
	switch v := value.(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case int32:
		return int64(v), true
	case float64:
		return int64(v), true
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		return n, err == nil
	}
	return 0, false
}

func toFloat64(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case int64:
		return float64(v), true
	case int:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	}
	return 0, false
}
