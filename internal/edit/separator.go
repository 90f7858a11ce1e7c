package edit

import (
	"bytes"
	"strings"

	"github.com/jward/graft/internal/tree"
)

// Separator policy for inserts and deletes.
//
// Inserted text is joined to its neighbours with a separator inherited from
// the container: the exact bytes between two adjacent existing children.
// A container with a single child borrows the gap from the first other node
// of the same kind that has two or more children, re-indented to the anchor's
// line. Failing that the separator is a newline plus the anchor's indentation
// when the anchor starts its line, else one space. An empty container takes
// the text just before its closing delimiter with no separator at all.
//
// Delete removes the node together with the gap to the following sibling,
// or from the preceding sibling when it is the last child. An only child is
// removed with its line when that line is left blank.

// delimiters pairs the container openers with their closers; an insert into
// an empty delimited container lands before the closer.
var delimiters = map[byte]byte{'{': '}', '[': ']', '(': ')'}

func insertSplice(t *tree.Tree, parent *tree.Node, op Operation) (int, string) {
	src := t.Source
	kids := parent.Children
	if len(kids) == 0 {
		return emptyContainerOffset(src, parent), op.Text
	}

	anchor := op.Index
	placement := op.Placement
	if placement == PlaceLast {
		anchor = len(kids) - 1
		placement = PlaceAfter
	}
	sep := separatorFor(t, parent, anchor)

	a := kids[anchor]
	if placement == PlaceBefore {
		return a.Start, op.Text + sep
	}
	return a.End, sep + op.Text
}

func separatorFor(t *tree.Tree, parent *tree.Node, anchor int) string {
	src := t.Source
	kids := parent.Children
	if len(kids) >= 2 {
		// The gap preceding the anchor is the one the new node will repeat;
		// the first child has none, so it uses the gap that follows it.
		if anchor > 0 {
			return gap(src, kids[anchor-1], kids[anchor])
		}
		return gap(src, kids[0], kids[1])
	}

	a := kids[anchor]
	indent, startsLine := lineIndent(src, a.Start)
	if borrowed, ok := borrowGap(t, parent); ok {
		return reindent(borrowed, indent)
	}
	if startsLine {
		return "\n" + indent
	}
	return " "
}

func gap(src []byte, left, right *tree.Node) string {
	if left.End > right.Start {
		return ""
	}
	return string(src[left.End:right.Start])
}

// borrowGap finds another container of the same kind with at least two
// children and returns the gap between its first two.
func borrowGap(t *tree.Tree, container *tree.Node) (string, bool) {
	var found string
	var ok bool
	tree.Walk(t, func(_ tree.Path, n *tree.Node) bool {
		if ok {
			return false
		}
		if n != container && n.Kind == container.Kind && len(n.Children) >= 2 {
			found, ok = gap(t.Source, n.Children[0], n.Children[1]), true
			return false
		}
		return true
	})
	return found, ok
}

// reindent replaces whatever follows the last newline of g with indent.
func reindent(g, indent string) string {
	i := strings.LastIndexByte(g, '\n')
	if i < 0 {
		return g
	}
	return g[:i+1] + indent
}

// lineIndent returns the whitespace run that opens the line containing
// offset, and whether only whitespace precedes offset on that line.
func lineIndent(src []byte, offset int) (string, bool) {
	lineStart := bytes.LastIndexByte(src[:offset], '\n') + 1
	prefix := src[lineStart:offset]
	i := 0
	for i < len(prefix) && (prefix[i] == ' ' || prefix[i] == '\t') {
		i++
	}
	return string(prefix[:i]), i == len(prefix)
}

func emptyContainerOffset(src []byte, parent *tree.Node) int {
	end := parent.End
	// Trailing whitespace inside the span does not count.
	for end > parent.Start && isSpace(src[end-1]) {
		end--
	}
	if end-parent.Start < 2 {
		return parent.End
	}
	if closer, ok := delimiters[src[parent.Start]]; ok && src[end-1] == closer {
		return end - 1
	}
	return parent.End
}

func deleteSpan(src []byte, parent *tree.Node, i int) (int, int) {
	kids := parent.Children
	n := kids[i]
	if i+1 < len(kids) {
		return n.Start, kids[i+1].Start
	}
	if i > 0 {
		return kids[i-1].End, n.End
	}

	start, end := n.Start, n.End
	lineStart := bytes.LastIndexByte(src[:start], '\n') + 1
	lineEnd := len(src)
	if j := bytes.IndexByte(src[end:], '\n'); j >= 0 {
		lineEnd = end + j + 1
	}
	if allSpace(src[lineStart:start]) && allSpace(src[end:lineEnd]) {
		return lineStart, lineEnd
	}
	return start, end
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

func allSpace(b []byte) bool {
	for _, c := range b {
		if !isSpace(c) {
			return false
		}
	}
	return true
}
