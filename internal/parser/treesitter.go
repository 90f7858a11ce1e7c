package parser

import (
	"context"
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/jward/graft/internal/tree"
)

// treeSitterAdapter wraps one tree-sitter grammar. A fresh sitter.Parser is
// created per call: parsers are not safe for concurrent use and batch
// operations validate several files at once.
type treeSitterAdapter struct {
	name    string
	grammar *sitter.Language
}

func (a *treeSitterAdapter) Language() string { return a.name }

func (a *treeSitterAdapter) Parse(ctx context.Context, src []byte) (*tree.Tree, error) {
	st, err := a.parse(ctx, src)
	if err != nil {
		return nil, err
	}
	defer st.Close()

	root := st.RootNode()
	t := &tree.Tree{Language: a.name, Source: src, Root: convert(root, src)}
	if se := check(root, src); se != nil {
		return t, se
	}
	return t, nil
}

func (a *treeSitterAdapter) Serialize(t *tree.Tree) []byte { return serialize(t) }

// Validate parses src without building a tree.
func (a *treeSitterAdapter) Validate(ctx context.Context, src []byte) error {
	st, err := a.parse(ctx, src)
	if err != nil {
		return err
	}
	defer st.Close()
	if se := check(st.RootNode(), src); se != nil {
		return se
	}
	return nil
}

func (a *treeSitterAdapter) parse(ctx context.Context, src []byte) (*sitter.Tree, error) {
	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(a.grammar)

	st, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", a.name, err)
	}
	return st, nil
}

// check reports the first syntax error under root, or nil.
func check(root *sitter.Node, src []byte) *SyntaxError {
	if root.HasError() {
		return firstSyntaxError(root, src)
	}
	// A grammar may recover a required construct as an empty named node
	// without flagging an error, such as a Python block left with no
	// statements.
	if empty := findEmpty(root); empty != nil {
		sp := empty.StartPoint()
		return &SyntaxError{
			Line:    int(sp.Row) + 1,
			Column:  int(sp.Column) + 1,
			Message: "empty " + empty.Type(),
		}
	}
	return nil
}

// convert copies the named structure of n. Anonymous tokens (punctuation,
// keywords) stay in the source bytes but are not addressable.
func convert(n *sitter.Node, src []byte) *tree.Node {
	sp := n.StartPoint()
	out := &tree.Node{
		Kind:   n.Type(),
		Start:  int(n.StartByte()),
		End:    int(n.EndByte()),
		Line:   int(sp.Row) + 1,
		Column: int(sp.Column) + 1,
		Leaf:   n.ChildCount() == 0,
	}
	if name := n.ChildByFieldName("name"); name != nil {
		out.Name = name.Content(src)
	}
	count := int(n.NamedChildCount())
	for i := 0; i < count; i++ {
		c := n.NamedChild(i)
		if c == nil {
			continue
		}
		out.Children = append(out.Children, convert(c, src))
	}
	return out
}

// firstSyntaxError finds the first ERROR or MISSING node in document order.
func firstSyntaxError(root *sitter.Node, src []byte) *SyntaxError {
	bad := findError(root)
	if bad == nil {
		return &SyntaxError{Message: "invalid syntax"}
	}
	sp := bad.StartPoint()
	se := &SyntaxError{Line: int(sp.Row) + 1, Column: int(sp.Column) + 1}
	if bad.IsMissing() {
		se.Message = "missing " + bad.Type()
		return se
	}
	text := bad.Content(src)
	if len(text) > 40 {
		text = text[:40] + "..."
	}
	se.Message = fmt.Sprintf("unexpected %q", strings.TrimSpace(text))
	return se
}

func findError(n *sitter.Node) *sitter.Node {
	if n == nil {
		return nil
	}
	if n.Type() == "ERROR" || n.IsMissing() {
		return n
	}
	if !n.HasError() {
		return nil
	}
	count := int(n.ChildCount())
	for i := 0; i < count; i++ {
		if bad := findError(n.Child(i)); bad != nil {
			return bad
		}
	}
	return nil
}

// findEmpty returns the first named node below root that spans no bytes.
func findEmpty(root *sitter.Node) *sitter.Node {
	count := int(root.NamedChildCount())
	for i := 0; i < count; i++ {
		c := root.NamedChild(i)
		if c == nil {
			continue
		}
		if c.StartByte() == c.EndByte() {
			return c
		}
		if empty := findEmpty(c); empty != nil {
			return empty
		}
	}
	return nil
}
