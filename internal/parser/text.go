package parser

import (
	"context"

	"github.com/jward/graft/internal/tree"
)

// textAdapter treats a whole file as one node. Any bytes are valid, so only
// root-level replacement and appends are meaningful, but every file still
// gets history, undo and time travel.
type textAdapter struct{}

func (textAdapter) Language() string { return "text" }

func (textAdapter) Parse(ctx context.Context, src []byte) (*tree.Tree, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &tree.Tree{
		Language: "text",
		Source:   src,
		Root:     &tree.Node{Kind: "text", Start: 0, End: len(src), Line: 1, Column: 1},
	}, nil
}

func (textAdapter) Serialize(t *tree.Tree) []byte { return serialize(t) }

func (textAdapter) Validate(ctx context.Context, _ []byte) error { return ctx.Err() }
