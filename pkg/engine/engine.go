package engine

import (
	"fmt"
	"sort"
	"time"

	"github.com/PhucNguyen204/sigma-detect/pkg/condition"
	"github.com/PhucNguyen204/sigma-detect/pkg/sigma"
)

// CompiledRule is a rule whose condition compiled against its selections.
type CompiledRule struct {
	IR        sigma.RuleIR
	Condition *condition.Compiled

	refs []string // identifiers the condition can read
}

// facts evaluates every selection the condition can read.
func (r *CompiledRule) facts(event map[string]any, fm sigma.FieldMapping) condition.Facts {
	facts := make(condition.Facts, len(r.refs))
	for _, name := range r.refs {
		facts[name] = evalSelection(event, r.IR.Selections[name], fm)
	}
	return facts
}

type Options struct {
	Condition condition.Options
	// DisablePrefilter evaluates every rule against every event.
	DisablePrefilter bool
	Metrics          *Metrics
}

func DefaultOptions() Options {
	return Options{Condition: condition.DefaultOptions()}
}

// Engine is an immutable compiled rule set. Evaluate is safe for concurrent use.
type Engine struct {
	fm        sigma.FieldMapping
	rules     []CompiledRule // sorted by ID
	byID      map[string]int
	prefilter *prefilter
	metrics   *Metrics
}

// Compile compiles every rule's condition once. Rules that fail are left
// out and reported; the rest form the engine.
func Compile(rules []sigma.RuleIR, fm sigma.FieldMapping, opts Options) (*Engine, []SkippedRule) {
	e := &Engine{
		fm:      fm,
		byID:    map[string]int{},
		metrics: opts.Metrics,
	}

	var skipped []SkippedRule
	seen := map[string]struct{}{}
	for _, r := range rules {
		if _, dup := seen[r.ID]; dup {
			skipped = append(skipped, SkippedRule{ID: r.ID, Title: r.Title, Err: ErrDuplicateRule})
			continue
		}
		cr, err := compileRule(r, opts.Condition)
		if err != nil {
			skipped = append(skipped, SkippedRule{ID: r.ID, Title: r.Title, Err: err})
			continue
		}
		seen[r.ID] = struct{}{}
		e.rules = append(e.rules, cr)
	}

	sort.Slice(e.rules, func(i, j int) bool { return e.rules[i].IR.ID < e.rules[j].IR.ID })
	for i, r := range e.rules {
		e.byID[r.IR.ID] = i
	}
	if !opts.DisablePrefilter {
		e.prefilter = newPrefilter(e.rules)
	}

	e.metrics.rulesCompiled(len(e.rules), skipped)
	return e, skipped
}

func (e *Engine) Len() int { return len(e.rules) }

// Rules returns the compiled rules sorted by ID.
func (e *Engine) Rules() []CompiledRule {
	return append([]CompiledRule(nil), e.rules...)
}

func (e *Engine) Rule(id string) (CompiledRule, bool) {
	i, ok := e.byID[id]
	if !ok {
		return CompiledRule{}, false
	}
	return e.rules[i], true
}

// PrefilterStats reports the literal index; zero when the prefilter is off.
func (e *Engine) PrefilterStats() PrefilterStats {
	if e.prefilter == nil {
		return PrefilterStats{AlwaysEval: len(e.rules)}
	}
	return e.prefilter.stats()
}

func (e *Engine) candidates(event map[string]any) []int {
	if e.prefilter == nil {
		out := make([]int, len(e.rules))
		for i := range out {
			out[i] = i
		}
		return out
	}
	return e.prefilter.candidates(event)
}

// Evaluate returns the IDs of the rules matching event, sorted.
func (e *Engine) Evaluate(event map[string]any) ([]string, error) {
	start := time.Now()
	cands := e.candidates(event)
	var out []string
	for _, i := range cands {
		r := &e.rules[i]
		ok, err := r.Condition.Evaluate(r.facts(event, e.fm))
		if err != nil {
			e.metrics.evalFailed()
			return nil, fmt.Errorf("rule %s: %w", r.IR.ID, err)
		}
		if ok {
			out = append(out, r.IR.ID)
			e.metrics.ruleMatched(r.IR.ID)
		}
	}
	e.metrics.eventEvaluated(len(e.rules), len(cands), time.Since(start))
	return out, nil
}
