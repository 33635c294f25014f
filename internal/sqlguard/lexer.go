package sqlguard

import (
	"fmt"
	"strings"
)

type tokenKind int

const (
	tokIdent tokenKind = iota
	tokQuotedIdent
	tokString
	tokNumber
	tokParam
	tokSymbol
	tokComment
)

type token struct {
	kind  tokenKind
	text  string
	value string
	start int
	end   int
}

func (t token) is(keyword string) bool {
	return t.kind == tokIdent && strings.EqualFold(t.text, keyword)
}

func (t token) isSymbol(symbol string) bool {
	return t.kind == tokSymbol && t.text == symbol
}

func (t token) upper() string {
	return strings.ToUpper(t.text)
}

// name returns the identifier without quoting, lowercased for lookups.
func (t token) name() string {
	if t.kind == tokQuotedIdent {
		return strings.ToLower(t.value)
	}
	return strings.ToLower(t.text)
}

func (t token) isIdent() bool {
	return t.kind == tokIdent || t.kind == tokQuotedIdent
}

var twoCharSymbols = map[string]struct{}{
	"::": {}, "<=": {}, ">=": {}, "<>": {}, "!=": {}, "||": {}, "->": {}, "=>": {}, "==": {},
}

// lex splits sql into tokens. String literals, quoted identifiers and
// comments are kept whole so that keywords or separators inside them are
// never mistaken for structure. Unterminated literals are an error.
func lex(sql string) ([]token, error) {
	var tokens []token
	i := 0
	for i < len(sql) {
		c := sql[i]
		switch {
		case isSpace(c):
			i++
		case c == '-' && i+1 < len(sql) && sql[i+1] == '-':
			end := strings.IndexByte(sql[i:], '\n')
			if end < 0 {
				end = len(sql)
			} else {
				end += i
			}
			tokens = append(tokens, token{kind: tokComment, text: sql[i:end], start: i, end: end})
			i = end
		case c == '/' && i+1 < len(sql) && sql[i+1] == '*':
			end := strings.Index(sql[i+2:], "*/")
			if end < 0 {
				return nil, fmt.Errorf("unterminated block comment at offset %d", i)
			}
			end += i + 4
			tokens = append(tokens, token{kind: tokComment, text: sql[i:end], start: i, end: end})
			i = end
		case c == '\'':
			end, value, err := scanQuoted(sql, i, '\'')
			if err != nil {
				return nil, fmt.Errorf("unterminated string literal at offset %d", i)
			}
			tokens = append(tokens, token{kind: tokString, text: sql[i:end], value: value, start: i, end: end})
			i = end
		case c == '"' || c == '`':
			end, value, err := scanQuoted(sql, i, c)
			if err != nil {
				return nil, fmt.Errorf("unterminated quoted identifier at offset %d", i)
			}
			tokens = append(tokens, token{kind: tokQuotedIdent, text: sql[i:end], value: value, start: i, end: end})
			i = end
		case isDigit(c) || (c == '.' && i+1 < len(sql) && isDigit(sql[i+1])):
			end := scanNumber(sql, i)
			tokens = append(tokens, token{kind: tokNumber, text: sql[i:end], start: i, end: end})
			i = end
		case (c == 'e' || c == 'E') && i+1 < len(sql) && sql[i+1] == '\'':
			end, value, err := scanEscaped(sql, i+1)
			if err != nil {
				return nil, fmt.Errorf("unterminated escape string at offset %d", i)
			}
			tokens = append(tokens, token{kind: tokString, text: sql[i:end], value: value, start: i, end: end})
			i = end
		case isIdentStart(c):
			end := i + 1
			for end < len(sql) && isIdentPart(sql[end]) {
				end++
			}
			tokens = append(tokens, token{kind: tokIdent, text: sql[i:end], start: i, end: end})
			i = end
		case c == '?':
			tokens = append(tokens, token{kind: tokParam, text: "?", start: i, end: i + 1})
			i++
		case c == '$':
			tagEnd := i + 1
			for tagEnd < len(sql) && (isIdentStart(sql[tagEnd]) || isDigit(sql[tagEnd])) {
				tagEnd++
			}
			if tagEnd < len(sql) && sql[tagEnd] == '$' {
				tag := sql[i : tagEnd+1]
				closing := strings.Index(sql[tagEnd+1:], tag)
				if closing < 0 {
					return nil, fmt.Errorf("unterminated dollar-quoted string at offset %d", i)
				}
				end := tagEnd + 1 + closing + len(tag)
				tokens = append(tokens, token{kind: tokString, text: sql[i:end], value: sql[tagEnd+1 : tagEnd+1+closing], start: i, end: end})
				i = end
				continue
			}
			if tagEnd == i+1 {
				return nil, fmt.Errorf("unexpected $ at offset %d", i)
			}
			tokens = append(tokens, token{kind: tokParam, text: sql[i:tagEnd], start: i, end: tagEnd})
			i = tagEnd
		default:
			if i+1 < len(sql) {
				if _, ok := twoCharSymbols[sql[i:i+2]]; ok {
					tokens = append(tokens, token{kind: tokSymbol, text: sql[i : i+2], start: i, end: i + 2})
					i += 2
					continue
				}
			}
			tokens = append(tokens, token{kind: tokSymbol, text: sql[i : i+1], start: i, end: i + 1})
			i++
		}
	}
	return tokens, nil
}

func scanQuoted(sql string, start int, quote byte) (int, string, error) {
	var value strings.Builder
	i := start + 1
	for i < len(sql) {
		if sql[i] == quote {
			if i+1 < len(sql) && sql[i+1] == quote {
				value.WriteByte(quote)
				i += 2
				continue
			}
			return i + 1, value.String(), nil
		}
		value.WriteByte(sql[i])
		i++
	}
	return 0, "", fmt.Errorf("unterminated")
}

// scanEscaped reads an E'...' literal whose quote is at start. Backslash
// escapes the next byte and a doubled quote is a literal quote.
func scanEscaped(sql string, start int) (int, string, error) {
	var value strings.Builder
	i := start + 1
	for i < len(sql) {
		switch {
		case sql[i] == '\\' && i+1 < len(sql):
			value.WriteByte(sql[i+1])
			i += 2
		case sql[i] == '\'' && i+1 < len(sql) && sql[i+1] == '\'':
			value.WriteByte('\'')
			i += 2
		case sql[i] == '\'':
			return i + 1, value.String(), nil
		default:
			value.WriteByte(sql[i])
			i++
		}
	}
	return 0, "", fmt.Errorf("unterminated")
}

func scanNumber(sql string, start int) int {
	i := start
	for i < len(sql) && (isDigit(sql[i]) || sql[i] == '_') {
		i++
	}
	if i < len(sql) && sql[i] == '.' {
		i++
		for i < len(sql) && isDigit(sql[i]) {
			i++
		}
	}
	if i < len(sql) && (sql[i] == 'e' || sql[i] == 'E') {
		j := i + 1
		if j < len(sql) && (sql[j] == '+' || sql[j] == '-') {
			j++
		}
		if j < len(sql) && isDigit(sql[j]) {
			i = j
			for i < len(sql) && isDigit(sql[i]) {
				i++
			}
		}
	}
	return i
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f' || c == '\v'
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c >= 0x80
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || isDigit(c)
}

// stripComments drops comment tokens.
func stripComments(tokens []token) []token {
	out := make([]token, 0, len(tokens))
	for _, tok := range tokens {
		if tok.kind != tokComment {
			out = append(out, tok)
		}
	}
	return out
}

// matchingParen returns the index of the ")" closing the "(" at open, or -1.
func matchingParen(tokens []token, open int) int {
	depth := 0
	for i := open; i < len(tokens); i++ {
		switch {
		case tokens[i].isSymbol("("):
			depth++
		case tokens[i].isSymbol(")"):
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// splitArgs splits the tokens strictly between open and close at top-level commas.
func splitArgs(tokens []token, open, close int) [][2]int {
	var args [][2]int
	depth := 0
	start := open + 1
	for i := open + 1; i < close; i++ {
		switch {
		case tokens[i].isSymbol("("):
			depth++
		case tokens[i].isSymbol(")"):
			depth--
		case tokens[i].isSymbol(",") && depth == 0:
			args = append(args, [2]int{start, i})
			start = i + 1
		}
	}
	if start < close || len(args) > 0 {
		args = append(args, [2]int{start, close})
	}
	return args
}

// spanText returns the source text covering tokens[from:to].
func spanText(sql string, tokens []token, from, to int) string {
	if from >= to {
		return ""
	}
	return sql[tokens[from].start:tokens[to-1].end]
}
