package sigma

import "sort"

// Operator is the comparison a predicate applies to a field value.
type Operator int

const (
	OpEq Operator = iota
	OpNeq
	OpContains
	OpStartsWith
	OpEndsWith
	OpRegex
	OpExists // Value true: field present, false: field absent
	OpCidr   // Value is one CIDR or a list of them
	OpLt     // numeric
	OpLte
	OpGt
	OpGte
	OpAll // field is a list and every element contains the needle
)

func (o Operator) String() string {
	switch o {
	case OpEq:
		return "eq"
	case OpNeq:
		return "neq"
	case OpContains:
		return "contains"
	case OpStartsWith:
		return "startswith"
	case OpEndsWith:
		return "endswith"
	case OpRegex:
		return "re"
	case OpExists:
		return "exists"
	case OpCidr:
		return "cidr"
	case OpLt:
		return "lt"
	case OpLte:
		return "lte"
	case OpGt:
		return "gt"
	case OpGte:
		return "gte"
	case OpAll:
		return "all"
	}
	return "unknown"
}

// KeywordField marks a predicate built from a keyword list: it matches a
// value anywhere in the event rather than a named field.
const KeywordField = "__any"

// PredicateModifiers are the flags parsed from "Field|mod1|mod2".
type PredicateModifiers struct {
	CaseSensitive  bool // cased
	Wide           bool // wide: UTF-16LE, NUL interleaved
	UTF16LE        bool
	Base64         bool
	Base64Offset   bool // three encodings at byte offsets 0..2
	Windash        bool // treat '-', '/' and the dash variants alike
	FieldRef       bool // Value names another field
	RequireAllVals bool // list values: all must match instead of any
}

// Encoded reports whether the pattern is transformed before comparison.
func (m PredicateModifiers) Encoded() bool {
	return m.Wide || m.UTF16LE || m.Base64 || m.Base64Offset
}

type SelectionPredicate struct {
	Field     string
	Op        Operator
	Value     any // string|number|bool|[]any
	Modifiers PredicateModifiers
}

// SelectionGroup matches when all of its predicates match.
type SelectionGroup struct {
	Predicates []SelectionPredicate
}

// Selection matches when any of its groups match. A mapping yields one
// group, a list of mappings one group per item.
type Selection struct {
	Name   string
	Groups []SelectionGroup
}

// RuleIR is a loaded rule: metadata, named selections and the raw
// condition text. The condition is compiled by the engine, not here.
type RuleIR struct {
	ID          string
	Title       string
	Description string
	Status      string
	Level       string
	Author      string
	Tags        []string
	Logsource   map[string]any
	Selections  map[string]Selection
	// Condition is the text handed to the compiler. A list of conditions
	// in the source is joined into one "or" expression.
	Condition string
	// Conditions keeps the source entries as written.
	Conditions []string
}

// SelectionNames returns the declared search identifiers, sorted.
func (r RuleIR) SelectionNames() []string {
	out := make([]string, 0, len(r.Selections))
	for name := range r.Selections {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
