package sqlguard

import (
	"fmt"
	"sort"
	"strings"

	"github.com/duckqa/duckqa/internal/schema"
)

// relation is what a qualifier (table name, alias or CTE) points at. A nil
// table means a derived relation whose columns are only known by name.
type relation struct {
	table *schema.Table
}

type frame struct {
	function      bool
	tableParen    bool
	fromList      bool
	expectTable   bool
	afterRelation bool
	pending       relation
}

type analysis struct {
	registry   *schema.Registry
	tokens     []token
	tables     []*schema.Table
	qualifiers map[string]relation
	declared   map[string]struct{}
	ctes       map[string]struct{}
	skip       map[int]struct{}
	rewrites   map[int]string
	tableErrs  []string
	columnErrs []string
}

func analyze(registry *schema.Registry, tokens []token) *analysis {
	a := &analysis{
		registry:   registry,
		tokens:     tokens,
		qualifiers: map[string]relation{},
		declared:   map[string]struct{}{},
		ctes:       map[string]struct{}{},
		skip:       map[int]struct{}{},
		rewrites:   map[int]string{},
	}
	a.collectCTEs()
	a.walkRelations()
	a.checkColumns()
	return a
}

func (a *analysis) tableNames() []string {
	out := make([]string, 0, len(a.tables))
	for _, table := range a.tables {
		out = append(out, table.Name)
	}
	sort.Strings(out)
	return out
}

func (a *analysis) addTable(table *schema.Table) {
	for _, existing := range a.tables {
		if existing == table {
			return
		}
	}
	a.tables = append(a.tables, table)
}

func (a *analysis) collectCTEs() {
	toks := a.tokens
	for i := 1; i < len(toks); i++ {
		if !toks[i].isIdent() || isReserved(toks[i]) {
			continue
		}
		prev := toks[i-1]
		if !prev.is("WITH") && !prev.is("RECURSIVE") && !prev.isSymbol(",") {
			continue
		}
		j := i + 1
		var columns []int
		if j < len(toks) && toks[j].isSymbol("(") {
			closing := matchingParen(toks, j)
			if closing < 0 {
				continue
			}
			for k := j + 1; k < closing; k++ {
				if toks[k].isIdent() {
					columns = append(columns, k)
				}
			}
			j = closing + 1
		}
		if j+1 >= len(toks) || !toks[j].is("AS") {
			continue
		}
		body := j + 1
		for body < len(toks) && (toks[body].is("NOT") || toks[body].is("MATERIALIZED")) {
			body++
		}
		if body >= len(toks) || !toks[body].isSymbol("(") {
			continue
		}
		name := toks[i].name()
		a.ctes[name] = struct{}{}
		a.qualifiers[name] = relation{}
		a.skip[i] = struct{}{}
		for _, k := range columns {
			a.declared[toks[k].name()] = struct{}{}
			a.skip[k] = struct{}{}
		}
	}
}

// walkRelations resolves FROM and JOIN targets, records aliases and output
// names, and flags functions that read outside the dataset.
func (a *analysis) walkRelations() {
	toks := a.tokens
	stack := []*frame{{}}
	for i := 0; i < len(toks); i++ {
		tok := toks[i]
		cur := stack[len(stack)-1]

		if tok.isIdent() && i+1 < len(toks) && toks[i+1].isSymbol("(") && isBlockedFunction(tok.name()) {
			a.tableErrs = append(a.tableErrs, fmt.Sprintf("function %s reads outside the loaded dataset", tok.text))
		}

		if tok.isSymbol("(") {
			next := &frame{}
			if cur.expectTable {
				next.tableParen = true
				cur.expectTable = false
			} else if i > 0 && toks[i-1].isIdent() && !isReserved(toks[i-1]) {
				next.function = true
			}
			stack = append(stack, next)
			continue
		}
		if tok.isSymbol(")") {
			if len(stack) == 1 {
				a.tableErrs = append(a.tableErrs, "unbalanced parenthesis")
				continue
			}
			closed := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if closed.tableParen {
				parent := stack[len(stack)-1]
				parent.afterRelation = true
				parent.pending = relation{}
			}
			continue
		}
		if cur.function {
			if !startsSubquery(toks, i) {
				continue
			}
			// ARRAY(SELECT ...), list(FROM ...) and similar read relations
			// too, so the frame is walked like any other query.
			cur.function = false
		}

		if cur.afterRelation {
			cur.afterRelation = false
			if tok.is("AS") && i+1 < len(toks) && toks[i+1].isIdent() {
				a.defineAlias(i+1, cur.pending)
				a.skip[i] = struct{}{}
				i = a.skipColumnAliasList(i + 2)
				continue
			}
			if tok.isIdent() && !isReserved(tok) && !inSet(joinModifiers, tok) {
				a.defineAlias(i, cur.pending)
				i = a.skipColumnAliasList(i + 1)
				continue
			}
		}

		if cur.expectTable {
			cur.expectTable = false
			i = a.tableReference(i, cur)
			continue
		}

		switch {
		case tok.is("FROM"):
			cur.fromList = true
			cur.expectTable = true
		case tok.is("JOIN"):
			cur.fromList = true
			cur.expectTable = true
		case inSet(clauseWords, tok):
			cur.fromList = false
		case tok.isSymbol(",") && cur.fromList:
			cur.expectTable = true
		case tok.is("AS") && i+1 < len(toks) && toks[i+1].isIdent():
			if toks[i+1].kind == tokQuotedIdent || !isReserved(toks[i+1]) {
				a.declared[toks[i+1].name()] = struct{}{}
				a.skip[i+1] = struct{}{}
			}
		}
	}
	if len(stack) != 1 {
		a.tableErrs = append(a.tableErrs, "unbalanced parenthesis")
	}
}

// startsSubquery reports whether toks[i] begins a query nested directly
// in a function's argument list.
func startsSubquery(toks []token, i int) bool {
	tok := toks[i]
	if tok.is("SELECT") || tok.is("WITH") || tok.is("VALUES") {
		return true
	}
	return tok.is("FROM") && i > 0 && toks[i-1].isSymbol("(")
}

// tableReference consumes a FROM/JOIN target starting at i and returns the
// index of its last token.
func (a *analysis) tableReference(i int, cur *frame) int {
	toks := a.tokens
	tok := toks[i]
	switch {
	case tok.is("LATERAL"):
		cur.expectTable = true
		return i
	case tok.kind == tokString:
		a.tableErrs = append(a.tableErrs, fmt.Sprintf("file reference %s in FROM is not allowed", tok.text))
		cur.afterRelation = true
		cur.pending = relation{}
		return i
	case !tok.isIdent() || (tok.kind == tokIdent && isReserved(tok)):
		a.tableErrs = append(a.tableErrs, fmt.Sprintf("unrecognized table reference near %q", tok.text))
		return i
	}

	parts := []int{i}
	j := i
	for j+2 < len(toks) && toks[j+1].isSymbol(".") && toks[j+2].isIdent() {
		j += 2
		parts = append(parts, j)
	}
	for k := i; k <= j; k++ {
		a.skip[k] = struct{}{}
	}
	names := make([]string, 0, len(parts))
	for _, idx := range parts {
		names = append(names, toks[idx].text)
	}
	display := strings.Join(names, ".")

	if j+1 < len(toks) && toks[j+1].isSymbol("(") {
		a.tableErrs = append(a.tableErrs, fmt.Sprintf("table function %s is not allowed", display))
		return j
	}

	name := toks[j].name()
	if len(parts) > 2 || (len(parts) == 2 && toks[parts[0]].name() != "main") {
		a.tableErrs = append(a.tableErrs, fmt.Sprintf("unknown table %s", display))
		cur.afterRelation = true
		cur.pending = relation{}
		return j
	}
	if _, ok := a.ctes[name]; ok {
		cur.afterRelation = true
		cur.pending = relation{}
		return j
	}
	table, ok := a.registry.Table(name)
	if !ok {
		a.tableErrs = append(a.tableErrs, fmt.Sprintf("unknown table %s", display))
		cur.afterRelation = true
		cur.pending = relation{}
		return j
	}
	a.addTable(table)
	a.qualifiers[name] = relation{table: table}
	cur.afterRelation = true
	cur.pending = relation{table: table}
	return j
}

func (a *analysis) defineAlias(i int, rel relation) {
	a.qualifiers[a.tokens[i].name()] = rel
	a.skip[i] = struct{}{}
}

// skipColumnAliasList handles "alias(col, ...)" after a relation alias.
func (a *analysis) skipColumnAliasList(i int) int {
	if i >= len(a.tokens) || !a.tokens[i].isSymbol("(") {
		return i - 1
	}
	closing := matchingParen(a.tokens, i)
	if closing < 0 {
		return i - 1
	}
	for k := i + 1; k < closing; k++ {
		if a.tokens[k].isIdent() {
			a.declared[a.tokens[k].name()] = struct{}{}
			a.skip[k] = struct{}{}
		}
	}
	return closing
}

func (a *analysis) checkColumns() {
	toks := a.tokens
	for i := 0; i < len(toks); i++ {
		tok := toks[i]
		if !tok.isIdent() {
			continue
		}
		if _, skipped := a.skip[i]; skipped {
			continue
		}
		if i+1 < len(toks) && toks[i+1].isSymbol("(") {
			continue
		}
		if i > 0 && (toks[i-1].isSymbol("::") || toks[i-1].is("AS")) {
			continue
		}
		if tok.kind == tokIdent && isReserved(tok) {
			continue
		}

		if i+1 < len(toks) && toks[i+1].isSymbol(".") {
			if i+2 >= len(toks) {
				a.columnErrs = append(a.columnErrs, fmt.Sprintf("dangling qualifier %s", tok.text))
				return
			}
			a.checkQualified(i, i+2)
			i += 2
			if i+1 < len(toks) && toks[i+1].isSymbol(".") {
				a.columnErrs = append(a.columnErrs, fmt.Sprintf("cannot resolve nested reference after %s", tok.text))
			}
			continue
		}
		if i > 0 && toks[i-1].isSymbol(".") {
			a.columnErrs = append(a.columnErrs, fmt.Sprintf("cannot resolve reference %s", tok.text))
			continue
		}
		a.checkBare(i)
	}
}

func (a *analysis) checkQualified(qualIdx, colIdx int) {
	qualTok := a.tokens[qualIdx]
	colTok := a.tokens[colIdx]
	rel, ok := a.qualifiers[qualTok.name()]
	if !ok {
		a.columnErrs = append(a.columnErrs, fmt.Sprintf("unknown table or alias %s", qualTok.text))
		return
	}
	if colTok.isSymbol("*") {
		return
	}
	if !colTok.isIdent() {
		a.columnErrs = append(a.columnErrs, fmt.Sprintf("cannot resolve reference after %s", qualTok.text))
		return
	}
	if rel.table == nil {
		if !a.knownName(colTok.name()) {
			a.columnErrs = append(a.columnErrs, fmt.Sprintf("unknown column %s.%s", qualTok.text, colTok.text))
		}
		return
	}
	canonical, ok := rel.table.Resolve(colTok.name())
	if !ok {
		a.columnErrs = append(a.columnErrs, fmt.Sprintf("unknown column %s.%s", rel.table.Name, colTok.text))
		return
	}
	if rel.table.IsAlias(colTok.name()) {
		a.rewrites[colIdx] = rewriteIdent(colTok, canonical)
	}
}

func (a *analysis) checkBare(i int) {
	tok := a.tokens[i]
	name := tok.name()
	if _, ok := a.declared[name]; ok {
		return
	}
	if _, ok := a.qualifiers[name]; ok {
		return
	}
	for _, table := range a.tables {
		if _, ok := table.Column(name); ok {
			return
		}
	}
	for _, table := range a.tables {
		if canonical, ok := table.Resolve(name); ok {
			a.rewrites[i] = rewriteIdent(tok, canonical)
			return
		}
	}
	a.columnErrs = append(a.columnErrs, fmt.Sprintf("unknown column %s", tok.text))
}

// knownName accepts names that a derived relation could legitimately expose.
func (a *analysis) knownName(name string) bool {
	if _, ok := a.declared[name]; ok {
		return true
	}
	for _, table := range a.tables {
		if _, ok := table.Resolve(name); ok {
			return true
		}
	}
	return false
}

func rewriteIdent(tok token, canonical string) string {
	if tok.kind == tokQuotedIdent {
		return `"` + canonical + `"`
	}
	return canonical
}
