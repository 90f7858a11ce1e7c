// Package tree is the uniform in-memory representation of one parsed file and
// the positional addressing scheme used to reach its nodes.
//
// Every parser adapter, whatever its grammar, produces the same Node shape:
// a kind label, a byte span into the cached source, ordered children and an
// optional name. Nodes are addressed by Path, a sequence of child indices that
// encodes position rather than identity.
package tree

import (
	"fmt"

	"github.com/jward/graft/internal/errs"
)

// Node is one structural unit within a Tree.
type Node struct {
	Kind string `json:"kind"`
	Name string `json:"name,omitempty"`

	// Start and End delimit the node's bytes in Tree.Source, [Start, End).
	Start int `json:"start"`
	End   int `json:"end"`

	// Line and Column locate Start, 1-based.
	Line   int `json:"line"`
	Column int `json:"column"`

	// Leaf marks a grammar token: a node that can never contain children.
	Leaf bool `json:"leaf,omitempty"`

	Children []*Node `json:"children,omitempty"`
}

// Text returns the node's source bytes as a string.
func (n *Node) Text(src []byte) string {
	if n.Start < 0 || n.End > len(src) || n.Start > n.End {
		return ""
	}
	return string(src[n.Start:n.End])
}

// Tree is a parsed file: root node, the exact source it was parsed from and
// the language tag of the adapter that produced it.
type Tree struct {
	Language string `json:"language"`
	Root     *Node  `json:"root"`
	Source   []byte `json:"-"`
}

// Resolve walks p from the root. It fails with a KindPath error naming the
// first depth whose index does not exist in its parent's children.
func Resolve(t *Tree, p Path) (*Node, error) {
	if t == nil || t.Root == nil {
		return nil, errs.New(errs.KindPath, "resolve", "empty tree").WithPath(p.String())
	}
	n := t.Root
	for depth := 0; depth < p.Len(); depth++ {
		i := p.At(depth)
		if i >= len(n.Children) {
			e := errs.Newf(errs.KindPath, "resolve",
				"index %d out of range at depth %d (node %s has %d children)", i, depth, n.Kind, len(n.Children))
			e.Path = p.String()
			e.Segment = depth
			return nil, e
		}
		n = n.Children[i]
	}
	return n, nil
}

// ChildIndices returns 0..len(children)-1. The indices are only meaningful
// against the snapshot n belongs to.
func ChildIndices(n *Node) []int {
	out := make([]int, len(n.Children))
	for i := range out {
		out[i] = i
	}
	return out
}

// WalkFunc is called for each node in pre-order. Returning false skips the
// node's children.
type WalkFunc func(p Path, n *Node) bool

// Walk visits every node of t in pre-order.
func Walk(t *Tree, fn WalkFunc) {
	if t == nil || t.Root == nil {
		return
	}
	walk(Root(), t.Root, fn)
}

func walk(p Path, n *Node, fn WalkFunc) {
	if !fn(p, n) {
		return
	}
	for i, c := range n.Children {
		walk(p.Child(i), c, fn)
	}
}

// FindByName returns the paths of nodes with the given name, restricted to
// kind when kind is non-empty.
func FindByName(t *Tree, kind, name string) []Path {
	var out []Path
	Walk(t, func(p Path, n *Node) bool {
		if n.Name == name && (kind == "" || n.Kind == kind) {
			out = append(out, p)
		}
		return true
	})
	return out
}

// Count returns the number of nodes in t.
func Count(t *Tree) int {
	total := 0
	Walk(t, func(Path, *Node) bool {
		total++
		return true
	})
	return total
}

// Describe renders a one-line summary of n for listings.
func Describe(p Path, n *Node) string {
	label := p.String()
	if label == "" {
		label = "<root>"
	}
	if n.Name != "" {
		return fmt.Sprintf("%s %s %q [%d:%d]", label, n.Kind, n.Name, n.Start, n.End)
	}
	return fmt.Sprintf("%s %s [%d:%d]", label, n.Kind, n.Start, n.End)
}
