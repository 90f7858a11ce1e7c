package parser

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"

	"github.com/tidwall/gjson"

	"github.com/jward/graft/internal/tree"
)

// jsonAdapter builds trees from gjson results. Node kinds are document,
// object, array, pair, string, number, true, false and null; a pair is named
// after its key and its single child is the value.
type jsonAdapter struct{}

func (jsonAdapter) Language() string { return "json" }

func (a jsonAdapter) Parse(ctx context.Context, src []byte) (*tree.Tree, error) {
	if err := a.Validate(ctx, src); err != nil {
		return nil, err
	}
	b := &jsonBuilder{src: src}
	root := &tree.Node{Kind: "document", Start: 0, End: len(src), Line: 1, Column: 1}
	res := gjson.ParseBytes(src)
	if res.Raw != "" {
		root.Children = []*tree.Node{b.value(res, 0)}
	}
	return &tree.Tree{Language: "json", Source: src, Root: root}, nil
}

func (jsonAdapter) Serialize(t *tree.Tree) []byte { return serialize(t) }

func (jsonAdapter) Validate(ctx context.Context, src []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if gjson.ValidBytes(src) {
		return nil
	}
	return locateJSONError(src)
}

// locateJSONError recovers a position for invalid input. gjson only answers
// yes or no, so the offset comes from the standard decoder.
func locateJSONError(src []byte) *SyntaxError {
	var v any
	err := json.Unmarshal(src, &v)
	var se *json.SyntaxError
	if errors.As(err, &se) {
		line, col := lineCol(src, int(se.Offset))
		return &SyntaxError{Message: se.Error(), Line: line, Column: col}
	}
	if err != nil {
		return &SyntaxError{Message: err.Error()}
	}
	return &SyntaxError{Message: "invalid JSON"}
}

type jsonBuilder struct {
	src []byte
}

// locate finds raw at or after from. gjson results carry raw text but not
// offsets, and every value appears in order, so a forward scan is exact.
func (b *jsonBuilder) locate(raw string, from int) int {
	if from > len(b.src) {
		return len(b.src)
	}
	i := bytes.Index(b.src[from:], []byte(raw))
	if i < 0 {
		return from
	}
	return from + i
}

func (b *jsonBuilder) node(kind string, start, end int) *tree.Node {
	line, col := lineCol(b.src, start)
	return &tree.Node{Kind: kind, Start: start, End: end, Line: line, Column: col}
}

func (b *jsonBuilder) value(r gjson.Result, from int) *tree.Node {
	start := b.locate(r.Raw, from)
	end := start + len(r.Raw)

	switch {
	case r.IsObject():
		n := b.node("object", start, end)
		cursor := start + 1
		r.ForEach(func(k, v gjson.Result) bool {
			ks := b.locate(k.Raw, cursor)
			if !startsWithQuote(k.Raw) && ks > 0 && b.src[ks-1] == '"' {
				ks--
			}
			val := b.value(v, ks+len(k.Raw))
			pair := b.node("pair", ks, val.End)
			pair.Name = k.String()
			pair.Children = []*tree.Node{val}
			n.Children = append(n.Children, pair)
			cursor = val.End
			return true
		})
		return n
	case r.IsArray():
		n := b.node("array", start, end)
		cursor := start + 1
		r.ForEach(func(_, v gjson.Result) bool {
			el := b.value(v, cursor)
			n.Children = append(n.Children, el)
			cursor = el.End
			return true
		})
		return n
	}

	var kind string
	switch r.Type {
	case gjson.String:
		kind = "string"
	case gjson.Number:
		kind = "number"
	case gjson.True:
		kind = "true"
	case gjson.False:
		kind = "false"
	default:
		kind = "null"
	}
	n := b.node(kind, start, end)
	n.Leaf = true
	return n
}

func startsWithQuote(s string) bool { return len(s) > 0 && s[0] == '"' }
