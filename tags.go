package graft

import (
	"context"

	"go.uber.org/zap"

	"github.com/jward/graft/internal/edit"
	"github.com/jward/graft/internal/errs"
	"github.com/jward/graft/internal/store"
	"github.com/jward/graft/internal/tags"
	"github.com/jward/graft/internal/tree"
)

// TagAdd names the node at ref (a dotted path, or another tag) in file.
// The node's kind, name and content hash are stored as the tag's
// fingerprint. Edits made inside the node keep the tag current; edits that
// move it leave the tag stale until TagRelocate.
func (e *Engine) TagAdd(ctx context.Context, file, ref, name string, overwrite bool) (*Tag, error) {
	rel, t, err := e.loadForTags(ctx, file)
	if err != nil {
		return nil, err
	}
	p, perr := e.resolveRef(rel, ref, t)
	if perr != nil {
		perr.Op = "tag add"
		return nil, perr.WithFile(rel)
	}
	tag, err := e.tags.Add(rel, t, p, name, overwrite)
	if err != nil {
		return nil, err
	}
	e.logger.Info("tag added", zap.String("file", rel), zap.String("tag", name), zap.String("path", tag.Path))
	return tag, nil
}

// TagResolve returns the path bound to name after checking that the node
// there still carries the tag's fingerprint. A mismatch is a stale tag
// error; use TagRelocate to rebind it.
func (e *Engine) TagResolve(ctx context.Context, file, name string) (Path, *Node, error) {
	rel, t, err := e.loadForTags(ctx, file)
	if err != nil {
		return tree.Path{}, nil, err
	}
	return e.tags.ResolveNode(rel, name, t)
}

// TagRename renames a tag of file.
func (e *Engine) TagRename(file, oldName, newName string) error {
	rel, err := e.rel(file)
	if err != nil {
		return err
	}
	return e.tags.Rename(rel, oldName, newName)
}

// TagRemove deletes a tag of file and reports whether it existed.
func (e *Engine) TagRemove(file, name string) (bool, error) {
	rel, err := e.rel(file)
	if err != nil {
		return false, err
	}
	return e.tags.Remove(rel, name)
}

// TagList returns file's tags sorted by name.
func (e *Engine) TagList(file string) ([]*Tag, error) {
	rel, err := e.rel(file)
	if err != nil {
		return nil, err
	}
	return e.tags.List(rel)
}

// TagRelocate rebinds a stale tag to the single node in the current tree
// that carries its fingerprint, or failing that the single node of the same
// kind and name.
func (e *Engine) TagRelocate(ctx context.Context, file, name string) (*Tag, error) {
	rel, t, err := e.loadForTags(ctx, file)
	if err != nil {
		return nil, err
	}
	tag, err := e.tags.Relocate(rel, name, t)
	if err != nil {
		return nil, err
	}
	e.logger.Info("tag relocated", zap.String("file", rel), zap.String("tag", name), zap.String("path", tag.Path))
	return tag, nil
}

func (e *Engine) loadForTags(ctx context.Context, file string) (string, *tree.Tree, error) {
	rel, err := e.rel(file)
	if err != nil {
		return "", nil, err
	}
	t, _, err := e.load(ctx, rel)
	if err != nil {
		if pe, ok := errs.As(err); ok && pe.Op == "" {
			pe.Op = "tag"
		}
		return "", nil, err
	}
	return rel, t, nil
}

// refreshTags carries rel's tags across committed changes. The edit is
// already on disk, so a failure is logged rather than returned.
func (e *Engine) refreshTags(rel string, changes ...tags.Change) {
	if len(changes) == 0 {
		return
	}
	if err := e.tags.Refresh(rel, changes...); err != nil {
		e.logger.Warn("refresh tags", zap.String("file", rel), zap.Error(err))
	}
}

// editScope returns the scope of the edit rec captures, following undo and
// redo records back to the edit they reverse. Batches and restores rewrite
// whole files, so their scope is the root.
func (e *Engine) editScope(rec *store.Record) tree.Path {
	for rec != nil && (rec.Op == store.OpUndo || rec.Op == store.OpRedo) {
		next, err := e.store.Record(rec.Reverts)
		if err != nil {
			return tree.Root()
		}
		rec = next
	}
	if rec == nil {
		return tree.Root()
	}
	switch rec.Op {
	case store.OpReplace, store.OpInsert, store.OpDelete, store.OpClone:
		p, err := tree.ParsePath(rec.NodePath)
		if err != nil {
			return tree.Root()
		}
		return edit.Operation{Kind: edit.Kind(rec.Op), Path: p}.Scope()
	}
	return tree.Root()
}
