package engine

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/PhucNguyen204/sigma-detect/pkg/condition"
	"github.com/PhucNguyen204/sigma-detect/pkg/sigma"
)

var (
	ErrDuplicateRule = errors.New("duplicate rule id")
	ErrInvalidRegex  = errors.New("invalid regular expression")
)

// SkippedRule is a rule left out of the engine and the reason.
type SkippedRule struct {
	ID    string
	Title string
	Err   error
}

// Kind is a short label for the failure, used in logs and metrics.
func (s SkippedRule) Kind() string {
	if k := condition.KindName(s.Err); k != "" {
		return k
	}
	switch {
	case errors.Is(s.Err, ErrDuplicateRule):
		return "duplicate"
	case errors.Is(s.Err, ErrInvalidRegex):
		return "invalid_regex"
	}
	return "other"
}

func (s SkippedRule) Error() string {
	return fmt.Sprintf("rule %s (%s): %v", s.ID, s.Title, s.Err)
}

// compileRule compiles the condition of r against its own selections.
func compileRule(r sigma.RuleIR, opts condition.Options) (CompiledRule, error) {
	if err := checkRegexes(r); err != nil {
		return CompiledRule{}, err
	}
	c, err := condition.CompileWithOptions(r.Condition, r.SelectionNames(), opts)
	if err != nil {
		return CompiledRule{}, err
	}
	return CompiledRule{IR: r, Condition: c, refs: c.References()}, nil
}

func checkRegexes(r sigma.RuleIR) error {
	for _, name := range r.SelectionNames() {
		for _, g := range r.Selections[name].Groups {
			for _, p := range g.Predicates {
				if p.Op != sigma.OpRegex {
					continue
				}
				vals, ok := p.Value.([]any)
				if !ok {
					vals = []any{p.Value}
				}
				for _, v := range vals {
					pat := toString(v)
					if !p.Modifiers.CaseSensitive && !strings.HasPrefix(pat, "(?i)") {
						pat = "(?i)" + pat
					}
					if _, err := regexp.Compile(pat); err != nil {
						return fmt.Errorf("%w in selection %s: %v", ErrInvalidRegex, name, err)
					}
				}
			}
		}
	}
	return nil
}

// conditionLiterals derives, from the compiled tree, literals of which at
// least one is present in every event the rule can match. ok is false when
// the rule must be evaluated for every event.
func conditionLiterals(c *condition.Compiled, sels map[string]sigma.Selection) ([]string, bool) {
	return nodeLiterals(c, c.Root(), sels)
}

func nodeLiterals(c *condition.Compiled, n *condition.Node, sels map[string]sigma.Selection) ([]string, bool) {
	switch n.Kind {
	case condition.NodeIdentifier:
		return sels[n.Name].RequiredLiterals()

	case condition.NodeNot:
		return nil, false

	case condition.NodeAnd:
		for _, t := range n.Terms {
			if lits, ok := nodeLiterals(c, t, sels); ok {
				return lits, true
			}
		}
		return nil, false

	case condition.NodeOr:
		var all []string
		for _, t := range n.Terms {
			lits, ok := nodeLiterals(c, t, sels)
			if !ok {
				return nil, false
			}
			all = append(all, lits...)
		}
		return all, true

	case condition.NodeOneOfPattern, condition.NodeOneOfThem:
		var all []string
		for _, name := range c.Targets(n) {
			lits, ok := sels[name].RequiredLiterals()
			if !ok {
				return nil, false
			}
			all = append(all, lits...)
		}
		return all, len(all) > 0

	case condition.NodeAllOfPattern, condition.NodeAllOfThem:
		for _, name := range c.Targets(n) {
			if lits, ok := sels[name].RequiredLiterals(); ok {
				return lits, true
			}
		}
	}
	return nil, false
}
