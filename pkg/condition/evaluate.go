package condition

import "fmt"

// Facts holds the match result of every search identifier for one event.
type Facts map[string]bool

// Evaluate computes the verdict for one event. And/Or and the quantifiers
// stop at the first term that decides the result. A referenced identifier
// absent from facts is reported as *MissingFactError, never read as false.
func (c *Compiled) Evaluate(facts Facts) (bool, error) {
	return c.eval(c.root, facts)
}

func (c *Compiled) eval(n *Node, facts Facts) (bool, error) {
	switch n.Kind {
	case NodeIdentifier:
		return lookup(facts, n.Name)

	case NodeNot:
		v, err := c.eval(n.Operand, facts)
		if err != nil {
			return false, err
		}
		return !v, nil

	case NodeAnd:
		for _, t := range n.Terms {
			v, err := c.eval(t, facts)
			if err != nil || !v {
				return false, err
			}
		}
		return true, nil

	case NodeOr:
		for _, t := range n.Terms {
			v, err := c.eval(t, facts)
			if err != nil {
				return false, err
			}
			if v {
				return true, nil
			}
		}
		return false, nil

	case NodeOneOfPattern, NodeOneOfThem:
		return anyOf(c.Targets(n), facts)

	case NodeAllOfPattern, NodeAllOfThem:
		return allOf(c.Targets(n), facts)
	}
	return false, fmt.Errorf("condition: unknown node kind %v", n.Kind)
}

func lookup(facts Facts, name string) (bool, error) {
	v, ok := facts[name]
	if !ok {
		return false, &MissingFactError{Identifier: name}
	}
	return v, nil
}

func anyOf(names []string, facts Facts) (bool, error) {
	for _, name := range names {
		v, err := lookup(facts, name)
		if err != nil {
			return false, err
		}
		if v {
			return true, nil
		}
	}
	return false, nil
}

// allOf is false for an empty set; Compile rejects patterns that resolve to nothing.
func allOf(names []string, facts Facts) (bool, error) {
	if len(names) == 0 {
		return false, nil
	}
	for _, name := range names {
		v, err := lookup(facts, name)
		if err != nil || !v {
			return false, err
		}
	}
	return true, nil
}
