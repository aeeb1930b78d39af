package condition

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Grammar, loosest binding first:
//
//	or   := and ("or" and)*
//	and  := not ("and" not)*
//	not  := "not" not | atom
//	atom := "(" or ")" | ("1" | "all") "of" ("them" | pattern) | identifier
//
// Every parser takes a cursor and returns the node plus the cursor just past
// what it consumed. Whitespace before a token is skipped by whoever reads the
// token, never by the caller, so all parsers agree on what remains.

// cursor is the unconsumed suffix input[pos:] of a condition.
type cursor struct {
	input string
	pos   int
}

func (c cursor) rest() string { return c.input[c.pos:] }

func (c cursor) eof() bool { return c.pos >= len(c.input) }

func (c cursor) peek() byte { return c.input[c.pos] }

func (c cursor) advance(n int) cursor { return cursor{input: c.input, pos: c.pos + n} }

func (c cursor) skipSpace() cursor {
	for !c.eof() {
		r, size := utf8.DecodeRuneInString(c.rest())
		if !unicode.IsSpace(r) {
			break
		}
		c = c.advance(size)
	}
	return c
}

// atBoundary reports whether a token may end at c.
func (c cursor) atBoundary() bool {
	if c.eof() {
		return true
	}
	switch c.peek() {
	case '(', ')':
		return true
	}
	r, _ := utf8.DecodeRuneInString(c.rest())
	return unicode.IsSpace(r)
}

// keyword consumes kw, case-insensitively, when it is followed by a token
// boundary. On failure the cursor is returned unchanged.
func (c cursor) keyword(kw string) (cursor, bool) {
	start := c.skipSpace()
	r := start.rest()
	if len(r) < len(kw) || !strings.EqualFold(r[:len(kw)], kw) {
		return c, false
	}
	next := start.advance(len(kw))
	if !next.atBoundary() {
		return c, false
	}
	return next, true
}

// word consumes the maximal run of characters up to the next boundary.
func (c cursor) word() (string, cursor) {
	start := c.skipSpace()
	end := start
	for !end.atBoundary() {
		_, size := utf8.DecodeRuneInString(end.rest())
		end = end.advance(size)
	}
	return start.input[start.pos:end.pos], end
}

var reservedWords = []string{"and", "or", "not", "of", "them", "all"}

func isKeyword(s string) bool {
	for _, kw := range reservedWords {
		if strings.EqualFold(s, kw) {
			return true
		}
	}
	return false
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// parsed is a successful parse: the node and the cursor after it.
type parsed struct {
	node *Node
	next cursor
}

type parser struct {
	maxDepth int
}

// parseOr is the grammar entry point.
func (p *parser) parseOr(c cursor, depth int) (parsed, error) {
	first, err := p.parseAnd(c, depth)
	if err != nil {
		return parsed{}, err
	}
	terms := []*Node{first.node}
	next := first.next
	for {
		after, ok := next.keyword("or")
		if !ok {
			break
		}
		term, err := p.parseAnd(after, depth)
		if err != nil {
			return parsed{}, err
		}
		terms = append(terms, term.node)
		next = term.next
	}
	return parsed{node: Or(terms...), next: next}, nil
}

func (p *parser) parseAnd(c cursor, depth int) (parsed, error) {
	first, err := p.parseNot(c, depth)
	if err != nil {
		return parsed{}, err
	}
	terms := []*Node{first.node}
	next := first.next
	for {
		after, ok := next.keyword("and")
		if !ok {
			break
		}
		term, err := p.parseNot(after, depth)
		if err != nil {
			return parsed{}, err
		}
		terms = append(terms, term.node)
		next = term.next
	}
	return parsed{node: And(terms...), next: next}, nil
}

// parseNot keeps repeated negations as nested Not nodes.
func (p *parser) parseNot(c cursor, depth int) (parsed, error) {
	after, ok := c.keyword("not")
	if !ok {
		return p.parseAtom(c, depth)
	}
	inner, err := p.parseNot(after, depth)
	if err != nil {
		return parsed{}, err
	}
	return parsed{node: Not(inner.node), next: inner.next}, nil
}

func (p *parser) parseAtom(c cursor, depth int) (parsed, error) {
	c = c.skipSpace()
	if c.eof() {
		return parsed{}, failAt(c, "expected search identifier, quantifier or '(' but found end of condition")
	}
	switch c.peek() {
	case '(':
		return p.parseGroup(c, depth)
	case ')':
		return parsed{}, failAt(c, "unexpected ')'")
	}
	if res, ok, err := parseQuantifier(c); ok || err != nil {
		return res, err
	}
	return parseIdentifier(c)
}

func (p *parser) parseGroup(c cursor, depth int) (parsed, error) {
	if depth >= p.maxDepth {
		return parsed{}, failAt(c, "parentheses nested deeper than %d", p.maxDepth)
	}
	inner, err := p.parseOr(c.advance(1), depth+1)
	if err != nil {
		return parsed{}, err
	}
	closing := inner.next.skipSpace()
	if closing.eof() || closing.peek() != ')' {
		return parsed{}, failAt(closing, "expected ')' to close '(' at position %d", c.pos)
	}
	return parsed{node: inner.node, next: closing.advance(1)}, nil
}

// parseQuantifier reports ok=false, without error, when c does not start
// with a quantifier count; once a count is read the quantifier is committed.
func parseQuantifier(c cursor) (parsed, bool, error) {
	all := true
	after, ok := c.keyword("all")
	if !ok {
		all = false
		if after, ok = c.keyword("1"); !ok {
			count, rest := c.word()
			if _, of := rest.keyword("of"); of && isDigits(count) {
				return parsed{}, true, failAt(c.skipSpace(), "unsupported quantifier %q, expected '1' or 'all'", count)
			}
			return parsed{}, false, nil
		}
	}
	count := "1"
	if all {
		count = "all"
	}

	afterOf, ok := after.keyword("of")
	if !ok {
		return parsed{}, true, failAt(after.skipSpace(), "expected 'of' after %q", count)
	}
	if next, them := afterOf.keyword("them"); them {
		node := OneOfThem()
		if all {
			node = AllOfThem()
		}
		return parsed{node: node, next: next}, true, nil
	}

	target := afterOf.skipSpace()
	pattern, next := target.word()
	if pattern == "" {
		return parsed{}, true, failAt(target, "expected identifier pattern or 'them' after 'of'")
	}
	if isKeyword(pattern) {
		return parsed{}, true, failAt(target, "unexpected keyword %q after 'of'", pattern)
	}
	node := OneOfPattern(pattern)
	if all {
		node = AllOfPattern(pattern)
	}
	return parsed{node: node, next: next}, true, nil
}

func parseIdentifier(c cursor) (parsed, error) {
	start := c.skipSpace()
	name, next := start.word()
	switch {
	case name == "":
		return parsed{}, failAt(start, "expected search identifier")
	case isKeyword(name):
		return parsed{}, failAt(start, "unexpected keyword %q", name)
	case isWildcard(name):
		return parsed{}, failAt(start, "wildcard %q needs a '1 of' or 'all of' prefix", name)
	}
	return parsed{node: Identifier(name), next: next}, nil
}
