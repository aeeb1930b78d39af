package condition

import (
	"errors"
	"sort"
	"strings"
	"unicode"
)

// Options tunes compilation.
type Options struct {
	// MaxDepth caps parenthesis nesting.
	MaxDepth int `json:"max_depth"`
}

func DefaultOptions() Options {
	return Options{MaxDepth: 64}
}

func (o Options) WithMaxDepth(depth int) Options {
	o.MaxDepth = depth
	return o
}

// Compiled is a validated condition bound to the search identifiers it was
// compiled against. It is never modified after Compile returns and may be
// evaluated from many goroutines at once.
type Compiled struct {
	root     *Node
	source   string
	declared []string
	// pattern -> sorted identifiers, filled for every Identifier and
	// pattern node during validation
	resolved map[string][]string
}

// Compile parses condition and checks every reference against declared.
// Errors are always *CompileError.
//
// Keywords are matched case-insensitively and end at whitespace, a
// parenthesis or the end of input, so "not(a)" and "a and(b)" are accepted
// in addition to the whitespace-separated forms. "andb" stays an identifier.
func Compile(condition string, declared []string) (*Compiled, error) {
	return CompileWithOptions(condition, declared, DefaultOptions())
}

func CompileWithOptions(condition string, declared []string, opts Options) (*Compiled, error) {
	if strings.TrimSpace(condition) == "" {
		return nil, &CompileError{Kind: ErrEmptyCondition, Position: -1}
	}
	if i := strings.IndexByte(condition, '|'); i >= 0 {
		return nil, &CompileError{
			Kind:     ErrAggregationUnsupported,
			Position: i,
			Fragment: strings.TrimSpace(condition[i:]),
		}
	}
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = DefaultOptions().MaxDepth
	}

	root, err := parseCondition(condition, opts.MaxDepth)
	if err != nil {
		return nil, err
	}

	names := normalizeDeclared(declared)
	resolved, err := validate(root, names)
	if err != nil {
		return nil, err
	}
	return &Compiled{
		root:     root,
		source:   condition,
		declared: names,
		resolved: resolved,
	}, nil
}

// Parse builds the tree for condition without checking references.
func Parse(condition string) (*Node, error) {
	if strings.TrimSpace(condition) == "" {
		return nil, &CompileError{Kind: ErrEmptyCondition, Position: -1}
	}
	return parseCondition(condition, DefaultOptions().MaxDepth)
}

func parseCondition(condition string, maxDepth int) (*Node, error) {
	p := parser{maxDepth: maxDepth}
	res, err := p.parseOr(cursor{input: condition}, 0)
	if err != nil {
		var se *syntaxError
		if errors.As(err, &se) {
			return nil, &CompileError{Kind: ErrSyntax, Position: se.pos, Reason: se.reason}
		}
		return nil, err
	}

	tail := res.next.skipSpace()
	if !tail.eof() {
		if tail.peek() == ')' {
			return nil, &CompileError{Kind: ErrSyntax, Position: tail.pos, Reason: "unmatched ')'"}
		}
		return nil, &CompileError{
			Kind:     ErrTrailingInput,
			Position: tail.pos,
			Fragment: strings.TrimRightFunc(tail.rest(), unicode.IsSpace),
		}
	}
	return res.node, nil
}

// validate resolves every reference once and fails on the first one that
// matches nothing.
func validate(root *Node, declared []string) (map[string][]string, error) {
	resolved := make(map[string][]string)
	var err error
	root.Walk(func(n *Node) {
		if err != nil {
			return
		}
		var ref string
		switch n.Kind {
		case NodeIdentifier:
			ref = n.Name
		case NodeOneOfPattern, NodeAllOfPattern:
			ref = n.Pattern
		case NodeOneOfThem, NodeAllOfThem:
			if len(declared) == 0 {
				err = &CompileError{Kind: ErrUnresolvedReference, Position: -1, Fragment: "them"}
			}
			return
		default:
			return
		}
		if _, ok := resolved[ref]; ok {
			return
		}
		names := Resolve(ref, declared)
		if len(names) == 0 {
			err = &CompileError{Kind: ErrUnresolvedReference, Position: -1, Fragment: ref}
			return
		}
		resolved[ref] = names
	})
	if err != nil {
		return nil, err
	}
	return resolved, nil
}

func (c *Compiled) Root() *Node { return c.root }

// Source is the condition text as given to Compile.
func (c *Compiled) Source() string { return c.source }

// String is the canonical rendering of the compiled tree.
func (c *Compiled) String() string { return c.root.String() }

// Identifiers returns the declared search identifiers, sorted.
func (c *Compiled) Identifiers() []string {
	return append([]string(nil), c.declared...)
}

// Targets returns the identifiers n reads: its name for an Identifier, the
// resolved set for a pattern quantifier and every declared identifier for
// the "them" forms. Other kinds return nil. The result must not be modified.
func (c *Compiled) Targets(n *Node) []string {
	switch n.Kind {
	case NodeIdentifier:
		return []string{n.Name}
	case NodeOneOfPattern, NodeAllOfPattern:
		return c.resolved[n.Pattern]
	case NodeOneOfThem, NodeAllOfThem:
		return c.declared
	}
	return nil
}

// References returns every declared identifier the tree can read, sorted.
func (c *Compiled) References() []string {
	seen := make(map[string]struct{})
	c.root.Walk(func(n *Node) {
		for _, name := range c.Targets(n) {
			seen[name] = struct{}{}
		}
	})
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
