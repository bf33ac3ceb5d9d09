package expr

import (
	"fmt"
	"strings"
)

// Node is one relation in a parsed eager expression. The root node has an
// empty Name.
//
// A node continues in at most one way: explicit Children, AllRelations
// ("*", every relation of the related model, propagated downwards) or
// Recursive ("^", the same relation again). The last two are resolved by the
// fetcher; the tree itself never contains cycles.
type Node struct {
	Name         string
	Children     []*Node
	AllRelations bool
	Recursive    bool
}

// Child returns the direct child with the given name, or nil.
func (n *Node) Child(name string) *Node {
	for _, c := range n.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// ChildNames returns the names of the direct children in declaration order.
func (n *Node) ChildNames() []string {
	names := make([]string, len(n.Children))
	for i, c := range n.Children {
		names[i] = c.Name
	}
	return names
}

// IsLeaf reports whether the node has no continuation at all.
func (n *Node) IsLeaf() bool {
	return len(n.Children) == 0 && !n.AllRelations && !n.Recursive
}

// Equal reports whether two trees have the same shape. Child order matters.
func (n *Node) Equal(o *Node) bool {
	if n == nil || o == nil {
		return n == o
	}
	if n.Name != o.Name || n.AllRelations != o.AllRelations || n.Recursive != o.Recursive {
		return false
	}
	if len(n.Children) != len(o.Children) {
		return false
	}
	for i := range n.Children {
		if !n.Children[i].Equal(o.Children[i]) {
			return false
		}
	}
	return true
}

// String renders the canonical textual form of the tree rooted at n.
// Parsing the result yields a tree Equal to n.
func (n *Node) String() string {
	if n.Name == "" {
		if n.AllRelations {
			return "*"
		}
		return renderList(n.Children)
	}
	return n.chain()
}

func (n *Node) chain() string {
	switch {
	case n.Recursive:
		return n.Name + ".^"
	case n.AllRelations:
		return n.Name + ".*"
	case len(n.Children) == 0:
		return n.Name
	default:
		return n.Name + "." + renderList(n.Children)
	}
}

func renderList(children []*Node) string {
	switch len(children) {
	case 0:
		return ""
	case 1:
		return children[0].chain()
	}
	parts := make([]string, len(children))
	for i, c := range children {
		parts[i] = c.chain()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// add inserts child under n, merging it into an existing sibling of the same
// name.
func (n *Node) add(child *Node) error {
	existing := n.Child(child.Name)
	if existing == nil {
		n.Children = append(n.Children, child)
		return nil
	}
	return existing.merge(child)
}

func (n *Node) merge(o *Node) error {
	switch {
	case o.IsLeaf():
		return nil
	case n.IsLeaf():
		n.Children = o.Children
		n.AllRelations = o.AllRelations
		n.Recursive = o.Recursive
		return nil
	case n.Recursive && o.Recursive, n.AllRelations && o.AllRelations:
		return nil
	case len(n.Children) > 0 && len(o.Children) > 0:
		for _, c := range o.Children {
			if err := n.add(c); err != nil {
				return err
			}
		}
		return nil
	}
	return fmt.Errorf("conflicting continuations for relation %q", n.Name)
}
