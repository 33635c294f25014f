package intent

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	OrderDetails     = "order_details"
	OrdersByCustomer = "orders_by_customer"
	TopCustomers     = "top_customers"
	TopProducts      = "top_products"
	RevenueByPeriod  = "revenue_by_period"

	// OrdersByCustomerName resolves a customer by name or email before
	// listing orders.
	OrdersByCustomerName = "orders_by_customer_name"
)

const (
	ParamCID    = "cid"
	ParamIID    = "iid"
	ParamK      = "k"
	ParamFrom   = "from"
	ParamTo     = "to"
	ParamPeriod = "period"

	// ParamCustomerName is the lowercased name as asked; ParamNamePattern is
	// the LIKE pattern bound into SQL.
	ParamCustomerName = "customer_name"
	ParamNamePattern  = "name_pattern"
)

const (
	minTopK = 1
	maxTopK = 1000
)

// Extractor pulls parameters out of normalized text. It reports false when
// the pattern does not apply.
type Extractor func(text string, grounding time.Time) (Params, bool)

type Pattern struct {
	Name    string
	Extract Extractor
}

// Definition describes one recognized question shape. Keywords is a list of
// synonym groups; every group must be present for the intent to be
// considered. When Signal is set it must match as well, otherwise the intent
// steps aside for weaker ones and only reports its NoMatch if none of them
// applies.
type Definition struct {
	Name       string
	Keywords   [][]string
	Signal     *regexp.Regexp
	Patterns   []Pattern
	Required   []string
	Optional   []string
	Defaults   Params
	Missing    string
	Suggestion string
}

// Definitions returns the intents in evaluation priority order.
func Definitions() []Definition {
	return []Definition{
		{
			Name:     OrderDetails,
			Keywords: [][]string{{"detail", "details", "line", "lines"}},
			Signal:   regexp.MustCompile(`\biid\b|#[0-9]+|\b(?:order|details?|lines?|for|iid)\s*#?[0-9]+|\b[0-9]+\s+(?:details?|lines?)\b`),
			Patterns: []Pattern{
				regexPattern("details_for_id", `(?:order\s*)?(?:details?|lines?)\s*(?:for\s*)?(?:iid|order)?\s*#?([0-9]+)\b`, idParam(ParamIID)),
				regexPattern("id_then_details", `(?:order|iid)\s*#?([0-9]+)\s+(?:details?|lines?)\b`, idParam(ParamIID)),
			},
			Required:   []string{ParamIID},
			Missing:    "Order detail questions need an order ID (IID).",
			Suggestion: "Try 'Order details 2001' or 'Lines for IID 2001'.",
		},
		{
			Name:     OrdersByCustomer,
			Keywords: [][]string{{"order", "orders"}},
			Signal:   regexp.MustCompile(`\bcid\b|#[0-9]+|\b(?:orders?|for|customer)\s*#?[0-9]+|\b[0-9]+\s+orders?\b`),
			Patterns: []Pattern{
				regexPattern("orders_for_id", `orders?\s*(?:for\s*)?(?:customer|cid)?\s*#?([0-9]+)\b`, idParam(ParamCID)),
				regexPattern("id_then_orders", `(?:customer|cid)\s*#?([0-9]+)\s+orders?\b`, idParam(ParamCID)),
			},
			Required:   []string{ParamCID},
			Missing:    "Order questions need a numeric customer ID (CID).",
			Suggestion: "Try 'Orders for CID 1001' or 'Customer 1001 orders'.",
		},
		{
			Name:     TopCustomers,
			Keywords: [][]string{{"top", "best", "largest"}, {"customer", "customers"}},
			Patterns: []Pattern{
				regexPattern("top_k_customers", `(?:top|best|largest)\s*(\d+)?\s*customers?\b`, topKParam),
			},
			Optional:   []string{ParamK},
			Defaults:   Params{ParamK: 5},
			Missing:    "Customer rankings need a phrase like 'top 5 customers'.",
			Suggestion: "Try 'Top 5 customers' or 'Largest customers'.",
		},
		{
			Name:     TopProducts,
			Keywords: [][]string{{"top", "best", "popular"}, {"product", "products", "item", "items", "selling", "sellers"}},
			Patterns: []Pattern{
				regexPattern("top_k_products", `(?:top|best|popular)\s*(\d+)?\s*(?:best[-\s]*)?(?:selling|sellers|products?|items?)\b`, topKParam),
			},
			Optional:   []string{ParamK},
			Defaults:   Params{ParamK: 10},
			Missing:    "Product rankings need a phrase like 'top 5 products'.",
			Suggestion: "Try 'Top 5 products' or 'Best selling items'.",
		},
		{
			Name:     RevenueByPeriod,
			Keywords: [][]string{{"revenue", "sales", "income", "earnings"}},
			Patterns: []Pattern{
				{Name: "period_phrase", Extract: periodParams},
			},
			Required:   []string{ParamFrom, ParamTo},
			Optional:   []string{ParamPeriod},
			Missing:    "Revenue queries need a time period.",
			Suggestion: "Choose a time period: 'Revenue last 30 days', 'Revenue this month', 'Revenue August 2024', or 'Revenue this year'.",
		},
		{
			Name:     OrdersByCustomerName,
			Keywords: [][]string{{"order", "orders"}},
			Signal:   regexp.MustCompile(`\borders?\s+(?:for|of)\s+\pL`),
			Patterns: []Pattern{
				{Name: "orders_for_name", Extract: customerNameParams},
			},
			Required:   []string{ParamCustomerName, ParamNamePattern},
			Missing:    "Order questions need a customer ID (CID) or a customer name.",
			Suggestion: "Try 'Orders for Ada Lovelace' or 'Orders for CID 1001'.",
		},
	}
}

func regexPattern(name, expr string, build func(groups []string) (Params, bool)) Pattern {
	re := regexp.MustCompile(expr)
	return Pattern{
		Name: name,
		Extract: func(text string, _ time.Time) (Params, bool) {
			groups := re.FindStringSubmatch(text)
			if groups == nil {
				return nil, false
			}
			return build(groups)
		},
	}
}

// idParam accepts only integer-like captures that fit in int64.
func idParam(name string) func(groups []string) (Params, bool) {
	return func(groups []string) (Params, bool) {
		id, err := strconv.ParseInt(groups[1], 10, 64)
		if err != nil || id < 0 {
			return nil, false
		}
		return Params{name: id}, true
	}
}

func topKParam(groups []string) (Params, bool) {
	if groups[1] == "" {
		return Params{}, true
	}
	k, err := strconv.Atoi(groups[1])
	if err != nil {
		k = maxTopK
	}
	return Params{ParamK: clamp(k, minTopK, maxTopK)}, true
}

var customerNamePattern = regexp.MustCompile(`\borders?\s+(?:for|of)\s+(?:customer\s+)?(\pL[\pL-]*(?:\s+\pL[\pL-]*){0,3})$`)

// nameStopWords are words that make a trailing phrase a date, ranking or
// filler phrase rather than a name.
var nameStopWords = map[string]struct{}{
	"last": {}, "this": {}, "past": {}, "previous": {}, "next": {}, "today": {}, "yesterday": {},
	"day": {}, "days": {}, "week": {}, "weeks": {}, "month": {}, "months": {}, "quarter": {},
	"year": {}, "years": {}, "revenue": {}, "sales": {}, "total": {}, "top": {}, "best": {},
	"all": {}, "every": {}, "recent": {}, "latest": {}, "please": {}, "me": {}, "customers": {},
	"order": {}, "orders": {}, "detail": {}, "details": {}, "line": {}, "lines": {}, "cid": {},
	"iid": {}, "products": {}, "items": {},
}

func customerNameParams(text string, _ time.Time) (Params, bool) {
	m := customerNamePattern.FindStringSubmatch(text)
	if m == nil {
		return nil, false
	}
	words := strings.Fields(m[1])
	for _, word := range words {
		if _, stop := nameStopWords[word]; stop {
			return nil, false
		}
		if _, month := monthNumbers[word]; month {
			return nil, false
		}
	}
	name := strings.Join(words, " ")
	return Params{ParamCustomerName: name, ParamNamePattern: "%" + name + "%"}, true
}

func periodParams(text string, grounding time.Time) (Params, bool) {
	period, ok := ParsePeriod(text, grounding)
	if !ok {
		return nil, false
	}
	return Params{ParamFrom: period.From, ParamTo: period.To, ParamPeriod: period.Label}, true
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
