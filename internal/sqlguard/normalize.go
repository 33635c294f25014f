package sqlguard

import (
	"regexp"
	"strconv"
	"strings"
)

// Vendor idiom rules. Each one rewrites a single known construct into DuckDB
// syntax; anything else is left untouched and fails at execution time.
const (
	RuleDateAdd       = "dateadd"
	RuleMySQLDateSub  = "mysql_date_sub"
	RuleSQLiteDateNow = "sqlite_date_now"
	RuleSQLiteStrf    = "sqlite_strftime"
	RuleGetDate       = "getdate"
	RuleIsNull        = "isnull"
	RuleSelectTop     = "select_top"
)

const maxNormalizePasses = 8

var intervalUnits = map[string]string{
	"day": "DAY", "days": "DAY", "dd": "DAY", "d": "DAY",
	"week": "WEEK", "weeks": "WEEK", "wk": "WEEK", "ww": "WEEK",
	"month": "MONTH", "months": "MONTH", "mm": "MONTH", "m": "MONTH",
	"quarter": "QUARTER", "quarters": "QUARTER", "qq": "QUARTER", "q": "QUARTER",
	"year": "YEAR", "years": "YEAR", "yy": "YEAR", "yyyy": "YEAR",
	"hour": "HOUR", "hours": "HOUR", "hh": "HOUR",
	"minute": "MINUTE", "minutes": "MINUTE", "mi": "MINUTE",
	"second": "SECOND", "seconds": "SECOND", "ss": "SECOND",
}

var sqliteModifier = regexp.MustCompile(`^\s*([+-]?\d+)\s+([a-z]+)\s*$`)

type rewrite struct {
	from, to int
	text     string
}

// normalizeVendorSQL applies the idiom rules until none matches. It returns
// the rewritten SQL and the rules that fired, in order.
func normalizeVendorSQL(sql string) (string, []string, error) {
	var applied []string
	current := sql
	for pass := 0; pass < maxNormalizePasses; pass++ {
		tokens, err := lex(current)
		if err != nil {
			return sql, nil, err
		}
		next, rules := normalizePass(current, stripComments(tokens))
		if len(rules) == 0 {
			break
		}
		applied = append(applied, rules...)
		current = next
	}
	return current, dedupe(applied), nil
}

func normalizePass(sql string, toks []token) (string, []string) {
	var rewrites []rewrite
	var rules []string
	topN := ""

	for i := 0; i < len(toks); i++ {
		tok := toks[i]
		if tok.is("SELECT") && depthAt(toks, i) == 0 {
			j := i + 1
			if j < len(toks) && toks[j].is("DISTINCT") {
				j++
			}
			if j+1 < len(toks) && toks[j].is("TOP") && toks[j+1].kind == tokNumber {
				rewrites = append(rewrites, rewrite{from: toks[j].start, to: toks[j+1].end, text: ""})
				topN = toks[j+1].text
				rules = append(rules, RuleSelectTop)
				i = j + 1
			}
			continue
		}
		if tok.kind != tokIdent || i+1 >= len(toks) || !toks[i+1].isSymbol("(") {
			continue
		}
		closing := matchingParen(toks, i+1)
		if closing < 0 {
			continue
		}
		args := splitArgs(toks, i+1, closing)
		text, rule, ok := rewriteCall(sql, toks, strings.ToLower(tok.text), args)
		if !ok {
			continue
		}
		rewrites = append(rewrites, rewrite{from: tok.start, to: toks[closing].end, text: text})
		rules = append(rules, rule)
		i = closing
	}
	if len(rewrites) == 0 {
		return sql, nil
	}

	var b strings.Builder
	last := 0
	for _, rw := range rewrites {
		b.WriteString(sql[last:rw.from])
		b.WriteString(rw.text)
		last = rw.to
	}
	b.WriteString(sql[last:])
	out := b.String()
	if topN != "" && !hasTopLevelLimit(out) {
		out = strings.TrimRight(strings.TrimSpace(out), ";") + " LIMIT " + topN
	}
	return out, rules
}

func rewriteCall(sql string, toks []token, name string, args [][2]int) (string, string, bool) {
	arg := func(n int) string { return strings.TrimSpace(spanText(sql, toks, args[n][0], args[n][1])) }
	switch name {
	case "dateadd":
		if len(args) != 3 {
			return "", "", false
		}
		unit, ok := unitArg(toks, args[0])
		if !ok {
			return "", "", false
		}
		n, ok := integerArg(toks, args[1])
		if !ok {
			return "", "", false
		}
		return "(" + arg(2) + " + INTERVAL '" + n + "' " + unit + ")", RuleDateAdd, true
	case "date_sub":
		if len(args) != 2 || args[1][0] >= args[1][1] || !toks[args[1][0]].is("INTERVAL") {
			return "", "", false
		}
		return "(" + arg(0) + " - " + arg(1) + ")", RuleMySQLDateSub, true
	case "getdate", "sysdatetime":
		if len(args) != 0 {
			return "", "", false
		}
		return "current_timestamp", RuleGetDate, true
	case "isnull":
		if len(args) != 2 {
			return "", "", false
		}
		return "coalesce(" + arg(0) + ", " + arg(1) + ")", RuleIsNull, true
	case "date", "datetime":
		if len(args) == 0 || !isStringArg(toks, args[0], "now") {
			return "", "", false
		}
		base := "current_date"
		if name == "datetime" {
			base = "current_timestamp"
		}
		if len(args) == 1 {
			return base, RuleSQLiteDateNow, true
		}
		if len(args) != 2 || args[1][1]-args[1][0] != 1 || toks[args[1][0]].kind != tokString {
			return "", "", false
		}
		m := sqliteModifier.FindStringSubmatch(strings.ToLower(toks[args[1][0]].value))
		if m == nil {
			return "", "", false
		}
		unit, ok := intervalUnits[m[2]]
		if !ok {
			return "", "", false
		}
		n := strings.TrimPrefix(m[1], "+")
		return "(" + base + " + INTERVAL '" + n + "' " + unit + ")", RuleSQLiteDateNow, true
	case "strftime":
		if len(args) != 2 || args[0][1]-args[0][0] != 1 || toks[args[0][0]].kind != tokString {
			return "", "", false
		}
		format := toks[args[0][0]]
		if !strings.Contains(format.value, "%") {
			return "", "", false
		}
		target := arg(1)
		if isStringArg(toks, args[1], "now") {
			target = "current_date"
		}
		return "strftime(" + target + ", " + format.text + ")", RuleSQLiteStrf, true
	}
	return "", "", false
}

func unitArg(toks []token, span [2]int) (string, bool) {
	if span[1]-span[0] != 1 {
		return "", false
	}
	tok := toks[span[0]]
	raw := tok.text
	if tok.kind == tokString || tok.kind == tokQuotedIdent {
		raw = tok.value
	} else if tok.kind != tokIdent {
		return "", false
	}
	unit, ok := intervalUnits[strings.ToLower(raw)]
	return unit, ok
}

func integerArg(toks []token, span [2]int) (string, bool) {
	width := span[1] - span[0]
	switch {
	case width == 1 && toks[span[0]].kind == tokNumber:
		if _, err := strconv.ParseInt(toks[span[0]].text, 10, 64); err != nil {
			return "", false
		}
		return toks[span[0]].text, true
	case width == 2 && (toks[span[0]].isSymbol("-") || toks[span[0]].isSymbol("+")) && toks[span[0]+1].kind == tokNumber:
		if _, err := strconv.ParseInt(toks[span[0]+1].text, 10, 64); err != nil {
			return "", false
		}
		sign := ""
		if toks[span[0]].isSymbol("-") {
			sign = "-"
		}
		return sign + toks[span[0]+1].text, true
	}
	return "", false
}

func isStringArg(toks []token, span [2]int, value string) bool {
	return span[1]-span[0] == 1 && toks[span[0]].kind == tokString && strings.EqualFold(toks[span[0]].value, value)
}

func depthAt(toks []token, idx int) int {
	depth := 0
	for i := 0; i < idx; i++ {
		switch {
		case toks[i].isSymbol("("):
			depth++
		case toks[i].isSymbol(")"):
			depth--
		}
	}
	return depth
}

func hasTopLevelLimit(sql string) bool {
	tokens, err := lex(sql)
	if err != nil {
		return false
	}
	idx, _ := topLevelLimit(stripComments(tokens))
	return idx >= 0
}

func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, value := range values {
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	return out
}
