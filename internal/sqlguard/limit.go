package sqlguard

import (
	"fmt"
	"strconv"
	"strings"
)

// topLevelLimit returns the index of the outermost LIMIT keyword (or -1) and
// whether a FETCH clause bounds the statement instead.
func topLevelLimit(toks []token) (int, bool) {
	depth := 0
	idx := -1
	fetch := false
	for i, tok := range toks {
		switch {
		case tok.isSymbol("("):
			depth++
		case tok.isSymbol(")"):
			depth--
		case depth == 0 && tok.is("LIMIT"):
			idx = i
		case depth == 0 && tok.is("FETCH"):
			fetch = true
		}
	}
	return idx, fetch
}

// boundRows makes sure the statement returns at most maxLimit rows. A
// missing LIMIT is injected at defaultLimit, an oversized literal LIMIT is
// clamped and anything it cannot reason about is wrapped in an outer query.
func boundRows(sql string, defaultLimit, maxLimit int) (string, int, string, error) {
	tokens, err := lex(sql)
	if err != nil {
		return "", 0, "", err
	}
	toks := stripComments(tokens)
	if defaultLimit <= 0 || defaultLimit > maxLimit {
		defaultLimit = maxLimit
	}

	idx, fetch := topLevelLimit(toks)
	if idx < 0 && !fetch {
		return sql + " LIMIT " + strconv.Itoa(defaultLimit), defaultLimit,
			fmt.Sprintf("no LIMIT present; injected LIMIT %d", defaultLimit), nil
	}
	if idx >= 0 && idx+1 < len(toks) && isLiteralLimit(toks, idx) {
		n, err := strconv.Atoi(toks[idx+1].text)
		if err == nil && n >= 0 {
			if n <= maxLimit {
				return sql, n, fmt.Sprintf("LIMIT %d within maximum %d", n, maxLimit), nil
			}
			num := toks[idx+1]
			clamped := sql[:num.start] + strconv.Itoa(maxLimit) + sql[num.end:]
			return clamped, maxLimit, fmt.Sprintf("LIMIT %d clamped to %d", n, maxLimit), nil
		}
	}
	wrapped := "SELECT * FROM (" + strings.TrimSpace(sql) + ") AS bounded LIMIT " + strconv.Itoa(maxLimit)
	return wrapped, maxLimit, fmt.Sprintf("non-literal row bound wrapped with LIMIT %d", maxLimit), nil
}

func isLiteralLimit(toks []token, idx int) bool {
	num := toks[idx+1]
	if num.kind != tokNumber || strings.ContainsAny(num.text, ".eE_") {
		return false
	}
	if idx+2 == len(toks) {
		return true
	}
	return toks[idx+2].is("OFFSET")
}
