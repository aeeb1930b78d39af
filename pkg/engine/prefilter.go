package engine

import (
	"strings"

	ahocorasick "github.com/petar-dambovaliev/aho-corasick"
)

// prefilter narrows the rules worth evaluating for an event. A rule is
// indexed under literals of which every matching event contains at least
// one; rules without such a set are always candidates.
type prefilter struct {
	automaton ahocorasick.AhoCorasick
	patterns  []string
	byPattern [][]int // pattern index -> rule indices
	always    []int
	nRules    int
}

// PrefilterStats describes the built prefilter.
type PrefilterStats struct {
	Patterns     int
	IndexedRules int
	AlwaysEval   int
}

func newPrefilter(rules []CompiledRule) *prefilter {
	p := &prefilter{nRules: len(rules)}
	index := map[string]int{}
	for i, r := range rules {
		lits, ok := conditionLiterals(r.Condition, r.IR.Selections)
		if !ok {
			p.always = append(p.always, i)
			continue
		}
		seen := map[int]struct{}{}
		for _, lit := range lits {
			pid, exists := index[lit]
			if !exists {
				pid = len(p.patterns)
				index[lit] = pid
				p.patterns = append(p.patterns, lit)
				p.byPattern = append(p.byPattern, nil)
			}
			if _, dup := seen[pid]; dup {
				continue
			}
			seen[pid] = struct{}{}
			p.byPattern[pid] = append(p.byPattern[pid], i)
		}
	}
	if len(p.patterns) > 0 {
		// overlapping iteration needs the standard match kind; leftmost
		// kinds skip literals that overlap an earlier hit
		builder := ahocorasick.NewAhoCorasickBuilder(ahocorasick.Opts{
			AsciiCaseInsensitive: true,
			MatchKind:            ahocorasick.StandardMatch,
		})
		p.automaton = builder.Build(p.patterns)
	}
	return p
}

func (p *prefilter) stats() PrefilterStats {
	return PrefilterStats{
		Patterns:     len(p.patterns),
		IndexedRules: p.nRules - len(p.always),
		AlwaysEval:   len(p.always),
	}
}

// candidates returns rule indices in ascending order.
func (p *prefilter) candidates(event map[string]any) []int {
	mark := make([]bool, p.nRules)
	for _, i := range p.always {
		mark[i] = true
	}
	if len(p.patterns) > 0 {
		iter := p.automaton.IterOverlapping(haystack(event))
		for m := iter.Next(); m != nil; m = iter.Next() {
			for _, i := range p.byPattern[m.Pattern()] {
				mark[i] = true
			}
		}
	}
	out := make([]int, 0, len(p.always))
	for i, ok := range mark {
		if ok {
			out = append(out, i)
		}
	}
	return out
}

// haystack lower-cases the string form of every value in the event,
// containers included, since a predicate compares against toString of
// whatever its field path reaches.
func haystack(event map[string]any) string {
	var sb strings.Builder
	for _, v := range event {
		appendValue(&sb, v)
	}
	return sb.String()
}

func appendValue(sb *strings.Builder, v any) {
	sb.WriteString(strings.ToLower(toString(v)))
	sb.WriteByte('\n')
	switch t := v.(type) {
	case map[string]any:
		for _, vv := range t {
			appendValue(sb, vv)
		}
	case []any:
		for _, vv := range t {
			appendValue(sb, vv)
		}
	}
}
