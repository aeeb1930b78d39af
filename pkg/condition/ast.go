package condition

import (
	"fmt"
	"strings"
)

// ---------------- AST ----------------

type NodeKind int

const (
	NodeIdentifier NodeKind = iota
	NodeNot
	NodeAnd
	NodeOr
	NodeOneOfPattern
	NodeAllOfPattern
	NodeOneOfThem
	NodeAllOfThem
)

func (k NodeKind) String() string {
	switch k {
	case NodeIdentifier:
		return "Identifier"
	case NodeNot:
		return "Not"
	case NodeAnd:
		return "And"
	case NodeOr:
		return "Or"
	case NodeOneOfPattern:
		return "OneOfPattern"
	case NodeAllOfPattern:
		return "AllOfPattern"
	case NodeOneOfThem:
		return "OneOfThem"
	case NodeAllOfThem:
		return "AllOfThem"
	default:
		return fmt.Sprintf("NodeKind(%d)", int(k))
	}
}

// Node is one element of a compiled condition. Only the fields belonging to
// Kind are set: Name for Identifier, Operand for Not, Terms for And/Or and
// Pattern for the pattern quantifiers.
type Node struct {
	Kind NodeKind

	Name    string
	Operand *Node
	Terms   []*Node
	Pattern string
}

func Identifier(name string) *Node { return &Node{Kind: NodeIdentifier, Name: name} }

func Not(operand *Node) *Node { return &Node{Kind: NodeNot, Operand: operand} }

// And collapses a single term to the term itself.
func And(terms ...*Node) *Node { return junction(NodeAnd, terms) }

// Or collapses a single term to the term itself.
func Or(terms ...*Node) *Node { return junction(NodeOr, terms) }

func OneOfPattern(pattern string) *Node { return &Node{Kind: NodeOneOfPattern, Pattern: pattern} }

func AllOfPattern(pattern string) *Node { return &Node{Kind: NodeAllOfPattern, Pattern: pattern} }

func OneOfThem() *Node { return &Node{Kind: NodeOneOfThem} }

func AllOfThem() *Node { return &Node{Kind: NodeAllOfThem} }

func junction(kind NodeKind, terms []*Node) *Node {
	switch len(terms) {
	case 0:
		return nil
	case 1:
		return terms[0]
	}
	return &Node{Kind: kind, Terms: append([]*Node(nil), terms...)}
}

// Equal reports structural equality.
func (n *Node) Equal(o *Node) bool {
	if n == nil || o == nil {
		return n == o
	}
	if n.Kind != o.Kind {
		return false
	}
	switch n.Kind {
	case NodeIdentifier:
		return n.Name == o.Name
	case NodeNot:
		return n.Operand.Equal(o.Operand)
	case NodeAnd, NodeOr:
		if len(n.Terms) != len(o.Terms) {
			return false
		}
		for i := range n.Terms {
			if !n.Terms[i].Equal(o.Terms[i]) {
				return false
			}
		}
		return true
	case NodeOneOfPattern, NodeAllOfPattern:
		return n.Pattern == o.Pattern
	default:
		return true
	}
}

// Walk visits n and its descendants depth-first, parents before children.
func (n *Node) Walk(fn func(*Node)) {
	if n == nil {
		return
	}
	fn(n)
	switch n.Kind {
	case NodeNot:
		n.Operand.Walk(fn)
	case NodeAnd, NodeOr:
		for _, t := range n.Terms {
			t.Walk(fn)
		}
	}
}

// String renders the canonical condition text. Compiling the rendered text
// yields a tree Equal to n.
func (n *Node) String() string {
	var sb strings.Builder
	n.render(&sb)
	return sb.String()
}

func (n *Node) render(sb *strings.Builder) {
	if n == nil {
		return
	}
	switch n.Kind {
	case NodeIdentifier:
		sb.WriteString(n.Name)
	case NodeNot:
		sb.WriteString("not ")
		renderGrouped(sb, n.Operand, n.Operand.Kind == NodeAnd || n.Operand.Kind == NodeOr)
	case NodeAnd, NodeOr:
		sep := " and "
		if n.Kind == NodeOr {
			sep = " or "
		}
		for i, t := range n.Terms {
			if i > 0 {
				sb.WriteString(sep)
			}
			// same-kind children must keep their grouping, and an or
			// under an and would otherwise be re-associated
			group := t.Kind == n.Kind || (n.Kind == NodeAnd && t.Kind == NodeOr)
			renderGrouped(sb, t, group)
		}
	case NodeOneOfPattern:
		sb.WriteString("1 of ")
		sb.WriteString(n.Pattern)
	case NodeAllOfPattern:
		sb.WriteString("all of ")
		sb.WriteString(n.Pattern)
	case NodeOneOfThem:
		sb.WriteString("1 of them")
	case NodeAllOfThem:
		sb.WriteString("all of them")
	}
}

func renderGrouped(sb *strings.Builder, n *Node, group bool) {
	if group {
		sb.WriteByte('(')
	}
	n.render(sb)
	if group {
		sb.WriteByte(')')
	}
}
