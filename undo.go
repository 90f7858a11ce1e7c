package graft

import (
	"bytes"
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jward/graft/internal/edit"
	"github.com/jward/graft/internal/errs"
	"github.com/jward/graft/internal/store"
	"github.com/jward/graft/internal/tags"
)

// Change is a whole-file rewrite performed (or, in dry-run, planned) by
// Undo, Redo, Recover or a restore.
type Change struct {
	File     string   `json:"file"`
	Op       store.Op `json:"op"`
	RecordID string   `json:"record_id,omitempty"`
	Reverts  string   `json:"reverts,omitempty"`
	Diff     string   `json:"diff,omitempty"`

	// Unchanged is set when the file already held the target content.
	Unchanged bool `json:"unchanged,omitempty"`
	Written   bool `json:"written"`

	Before []byte `json:"-"`
	After  []byte `json:"-"`
}

// Undo reverses the newest committed edit of file that has not been undone,
// restoring the file to that edit's pre-image. Undo appends an undo record
// before writing, so it can itself be reversed by Redo.
//
// A file whose content differs from the target's post-image was changed
// outside graft; Undo refuses with a Conflict error rather than discard that
// change. Nothing to undo is a NotFound error.
func (e *Engine) Undo(ctx context.Context, file string, dryRun bool) (*Change, error) {
	rel, err := e.rel(file)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	target, err := e.store.UndoTarget(rel)
	if err != nil {
		return nil, errs.Wrap(errs.KindIO, "undo", err).WithFile(rel)
	}
	if target == nil {
		return nil, errs.New(errs.KindNotFound, "undo", "nothing to undo").WithFile(rel)
	}
	return e.revert(ctx, "undo", store.OpUndo, rel, target, dryRun)
}

// Redo reverses the newest undo of file, provided no edit has been made
// since. It fails with NotFound when there is nothing to redo.
func (e *Engine) Redo(ctx context.Context, file string, dryRun bool) (*Change, error) {
	rel, err := e.rel(file)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	target, err := e.store.RedoTarget(rel)
	if err != nil {
		return nil, errs.Wrap(errs.KindIO, "redo", err).WithFile(rel)
	}
	if target == nil {
		return nil, errs.New(errs.KindNotFound, "redo", "nothing to redo").WithFile(rel)
	}
	return e.revert(ctx, "redo", store.OpRedo, rel, target, dryRun)
}

// revert restores rel from target's post-image back to its pre-image and
// records op with Reverts = target. Callers hold e.mu.
func (e *Engine) revert(ctx context.Context, name string, op store.Op, rel string, target *store.Record, dryRun bool) (*Change, error) {
	post, err := e.store.Snapshot(target.PostHash, target.Language)
	if err != nil {
		return nil, withFile(err, rel)
	}
	pre, err := e.store.Snapshot(target.PreHash, target.Language)
	if err != nil {
		return nil, withFile(err, rel)
	}
	disk, err := e.read(rel)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(disk, post.Source) {
		return nil, errs.Newf(errs.KindConflict, name,
			"file changed since record %s; refusing to overwrite", target.ID).WithFile(rel)
	}

	ch := &Change{
		File:    rel,
		Op:      op,
		Reverts: target.ID,
		Before:  disk,
		After:   pre.Source,
		Diff:    edit.UnifiedDiff(rel, disk, pre.Source),
	}
	if dryRun {
		return ch, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rec := &store.Record{
		File:      rel,
		Op:        op,
		NodePath:  target.NodePath,
		Status:    store.StatusCommitted,
		SessionID: e.sessionID,
		Reverts:   target.ID,
		Pre:       post,
		Post:      pre,
	}
	u := store.NewUnit(uuid.NewString())
	u.Add(rec)
	if err := e.commit(u, []fileWrite{{rel: rel, before: disk, after: pre.Source}}); err != nil {
		return nil, err
	}
	ch.RecordID = rec.ID
	ch.Written = true
	if from, err := post.DecodeTree(); err == nil {
		if to, err := pre.DecodeTree(); err == nil {
			e.refreshTags(rel, tags.Change{Before: from, After: to, Scope: e.editScope(target)})
		}
	}
	e.logger.Info(name+" committed",
		zap.String("file", rel), zap.String("record", rec.ID), zap.String("reverts", target.ID))
	return ch, nil
}

// DriftState classifies how a file's content relates to its newest record.
type DriftState string

const (
	// DriftInterrupted: the file still holds the pre-image of its newest
	// record, so the write that should have followed the record never
	// happened.
	DriftInterrupted DriftState = "interrupted"

	// DriftModified: the file matches neither image; it was edited outside
	// graft.
	DriftModified DriftState = "modified"

	// DriftMissing: the file no longer exists.
	DriftMissing DriftState = "missing"
)

// Drift is a file whose content disagrees with its newest committed record.
type Drift struct {
	File     string     `json:"file"`
	RecordID string     `json:"record_id"`
	State    DriftState `json:"state"`
}

// Verify compares every logged file with its newest committed record and
// reports the files that disagree. It writes nothing.
func (e *Engine) Verify(ctx context.Context) ([]Drift, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	drifts, _, err := e.verify(ctx)
	return drifts, err
}

func (e *Engine) verify(ctx context.Context) ([]Drift, map[string]*store.Record, error) {
	files, err := e.store.Files()
	if err != nil {
		return nil, nil, errs.Wrap(errs.KindIO, "verify", err)
	}
	var out []Drift
	latest := make(map[string]*store.Record)
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		rec, err := e.store.LatestCommitted(f)
		if err != nil {
			return nil, nil, errs.Wrap(errs.KindIO, "verify", err).WithFile(f)
		}
		if rec == nil {
			continue
		}
		latest[f] = rec
		disk, err := e.read(f)
		if errs.KindOf(err) == errs.KindNotFound {
			out = append(out, Drift{File: f, RecordID: rec.ID, State: DriftMissing})
			continue
		}
		if err != nil {
			return nil, nil, err
		}
		switch store.HashSource(disk) {
		case rec.PostHash:
		case rec.PreHash:
			out = append(out, Drift{File: f, RecordID: rec.ID, State: DriftInterrupted})
		default:
			out = append(out, Drift{File: f, RecordID: rec.ID, State: DriftModified})
		}
	}
	return out, latest, nil
}

// Recover completes writes interrupted by a crash: every file that still
// holds the pre-image of its newest committed record is rolled forward to
// that record's post-image. Files modified outside graft are left alone and
// logged. It returns the files it rewrote.
func (e *Engine) Recover(ctx context.Context) ([]Change, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	drifts, latest, err := e.verify(ctx)
	if err != nil {
		return nil, err
	}
	var out []Change
	for _, d := range drifts {
		if d.State != DriftInterrupted {
			e.logger.Warn("file drifted from log", zap.String("file", d.File), zap.String("state", string(d.State)))
			continue
		}
		rec := latest[d.File]
		post, err := e.store.Snapshot(rec.PostHash, rec.Language)
		if err != nil {
			return out, withFile(err, d.File)
		}
		before, err := e.read(d.File)
		if err != nil {
			return out, err
		}
		if err := e.write(e.abs(d.File), post.Source); err != nil {
			return out, errs.Wrap(errs.KindIO, "recover", err).WithFile(d.File)
		}
		e.logger.Info("rolled forward interrupted write", zap.String("file", d.File), zap.String("record", rec.ID))
		out = append(out, Change{
			File:     d.File,
			Op:       rec.Op,
			RecordID: rec.ID,
			Diff:     edit.UnifiedDiff(d.File, before, post.Source),
			Written:  true,
			Before:   before,
			After:    post.Source,
		})
	}
	return out, nil
}

// withFile attaches rel to a structured error.
func withFile(err error, rel string) error {
	if e, ok := errs.As(err); ok && e.File == "" {
		e.File = rel
	}
	return err
}
