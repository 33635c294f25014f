package intent

import (
	"strings"
	"time"
	"unicode"
)

// Params holds extracted intent parameters keyed by name.
type Params map[string]any

func (p Params) Int64(name string) (int64, bool) {
	switch v := p[name].(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	}
	return 0, false
}

func (p Params) Int(name string) (int, bool) {
	v, ok := p.Int64(name)
	return int(v), ok
}

func (p Params) Time(name string) (time.Time, bool) {
	v, ok := p[name].(time.Time)
	return v, ok
}

func (p Params) String(name string) string {
	v, _ := p[name].(string)
	return v
}

// NoMatch explains why a question did not resolve. Intent is empty for a
// generic miss.
type NoMatch struct {
	Intent     string `json:"intent,omitempty"`
	Reason     string `json:"reason"`
	Suggestion string `json:"suggestion"`
}

type Result struct {
	Intent  string
	Pattern string
	Params  Params
	NoMatch *NoMatch
}

func (r Result) Matched() bool {
	return r.NoMatch == nil && r.Intent != ""
}

const genericSuggestion = "Try questions like 'Top 5 customers', 'Top 10 products', 'Orders for CID 1001', 'Order details 2001', or 'Revenue last 30 days'."

type Matcher struct {
	definitions []Definition
}

func NewMatcher() *Matcher {
	return &Matcher{definitions: Definitions()}
}

// NewMatcherWith evaluates the given definitions in order.
func NewMatcherWith(definitions []Definition) *Matcher {
	return &Matcher{definitions: append([]Definition(nil), definitions...)}
}

func (m *Matcher) Definitions() []Definition {
	return append([]Definition(nil), m.definitions...)
}

// Match resolves text to the first intent whose keyword groups, and signal
// when it has one, are present. When that intent's patterns cannot supply
// its required parameters, the result is a NoMatch scoped to it and weaker
// intents are not consulted. An intent whose keywords are present without
// its signal is only reported when nothing after it claims the question.
// grounding anchors relative date phrases.
func (m *Matcher) Match(text string, grounding time.Time) Result {
	normalized := Normalize(text)
	if normalized == "" {
		return Result{NoMatch: &NoMatch{Reason: "Question is empty.", Suggestion: genericSuggestion}}
	}
	words := wordSet(normalized)

	var setAside *Definition
	for i := range m.definitions {
		def := m.definitions[i]
		if !keywordsPresent(def.Keywords, words) {
			continue
		}
		if def.Signal != nil && !def.Signal.MatchString(normalized) {
			if setAside == nil {
				setAside = &m.definitions[i]
			}
			continue
		}
		for _, pattern := range def.Patterns {
			params, ok := pattern.Extract(normalized, grounding)
			if !ok || !hasAll(params, def.Required) {
				continue
			}
			out := Params{}
			for name, value := range def.Defaults {
				out[name] = value
			}
			for name, value := range params {
				out[name] = value
			}
			return Result{Intent: def.Name, Pattern: pattern.Name, Params: out}
		}
		return Result{NoMatch: &NoMatch{Intent: def.Name, Reason: def.Missing, Suggestion: def.Suggestion}}
	}
	if setAside != nil {
		return Result{NoMatch: &NoMatch{Intent: setAside.Name, Reason: setAside.Missing, Suggestion: setAside.Suggestion}}
	}

	for _, def := range m.definitions {
		if anyKeywordPresent(def.Keywords, words) {
			return Result{NoMatch: &NoMatch{
				Reason:     "Question did not match a supported pattern.",
				Suggestion: def.Suggestion,
			}}
		}
	}
	return Result{NoMatch: &NoMatch{Reason: "Question did not match a supported pattern.", Suggestion: genericSuggestion}}
}

// Normalize lowercases text, replaces punctuation other than '#' and '-'
// with spaces and collapses whitespace.
func Normalize(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	space := true
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '#' || r == '-' {
			b.WriteRune(r)
			space = false
			continue
		}
		if !space {
			b.WriteByte(' ')
			space = true
		}
	}
	return strings.TrimSpace(b.String())
}

func wordSet(normalized string) map[string]struct{} {
	out := map[string]struct{}{}
	for _, field := range strings.Fields(normalized) {
		out[field] = struct{}{}
		for _, part := range strings.FieldsFunc(field, func(r rune) bool { return r == '-' || r == '#' }) {
			out[part] = struct{}{}
		}
	}
	return out
}

func keywordsPresent(groups [][]string, words map[string]struct{}) bool {
	if len(groups) == 0 {
		return false
	}
	for _, group := range groups {
		if !groupPresent(group, words) {
			return false
		}
	}
	return true
}

func anyKeywordPresent(groups [][]string, words map[string]struct{}) bool {
	for _, group := range groups {
		if groupPresent(group, words) {
			return true
		}
	}
	return false
}

func groupPresent(group []string, words map[string]struct{}) bool {
	for _, keyword := range group {
		if _, ok := words[keyword]; ok {
			return true
		}
	}
	return false
}

func hasAll(params Params, names []string) bool {
	for _, name := range names {
		if _, ok := params[name]; !ok {
			return false
		}
	}
	return true
}
