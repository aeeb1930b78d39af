package sigma

import (
	"fmt"
	"strings"
)

// MinLiteralLen is the shortest literal worth a prefilter pattern.
const MinLiteralLen = 3

// RequiredLiterals returns lower-cased strings of which at least one occurs,
// case-insensitively, in the flattened values of every event the selection
// matches. ok is false when no such set can be derived: some group has no
// predicate with a usable literal.
func (s Selection) RequiredLiterals() (lits []string, ok bool) {
	if len(s.Groups) == 0 {
		return nil, false
	}
	seen := map[string]struct{}{}
	for _, g := range s.Groups {
		best, ok := g.requiredLiterals()
		if !ok {
			return nil, false
		}
		for _, l := range best {
			if _, dup := seen[l]; !dup {
				seen[l] = struct{}{}
				lits = append(lits, l)
			}
		}
	}
	return lits, true
}

// requiredLiterals picks the predicate whose shortest literal is longest;
// any single predicate of an AND group is a necessary condition.
func (g SelectionGroup) requiredLiterals() ([]string, bool) {
	var best []string
	bestMin := 0
	for _, p := range g.Predicates {
		lits, ok := p.requiredLiterals()
		if !ok {
			continue
		}
		m := shortest(lits)
		if best == nil || m > bestMin {
			best, bestMin = lits, m
		}
	}
	return best, best != nil
}

func (p SelectionPredicate) requiredLiterals() ([]string, bool) {
	switch p.Op {
	case OpEq, OpContains, OpStartsWith, OpEndsWith, OpAll:
	default:
		return nil, false
	}
	if p.Modifiers.Encoded() || p.Modifiers.Windash || p.Modifiers.FieldRef {
		return nil, false
	}

	var vals []any
	if arr, ok := p.Value.([]any); ok {
		vals = arr
	} else {
		vals = []any{p.Value}
	}
	if len(vals) == 0 {
		return nil, false
	}
	out := make([]string, 0, len(vals))
	for _, v := range vals {
		s, ok := literalString(v)
		if !ok || len(s) < MinLiteralLen {
			return nil, false
		}
		out = append(out, strings.ToLower(s))
	}
	return out, true
}

func literalString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case int, int64, float64:
		return fmt.Sprint(t), true
	}
	return "", false
}

func shortest(lits []string) int {
	m := 0
	for i, l := range lits {
		if i == 0 || len(l) < m {
			m = len(l)
		}
	}
	return m
}
