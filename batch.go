package graft

import (
	"context"
	"sort"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jward/graft/internal/edit"
	"github.com/jward/graft/internal/errs"
	"github.com/jward/graft/internal/store"
	"github.com/jward/graft/internal/tags"
	"github.com/jward/graft/internal/tree"
)

// BatchItem is one operation of a batch. Ref, when set, addresses the
// target by dotted path or "@tag" and overrides Op.Path; it is resolved
// against the file's tree as left by the preceding items of the batch.
type BatchItem struct {
	File string    `json:"file"`
	Ref  string    `json:"ref,omitempty"`
	Op   Operation `json:"operation"`
}

// BatchRequest groups operations across files.
type BatchRequest struct {
	Items       []BatchItem
	Atomic      bool
	DryRun      bool
	Description string
}

// ItemRejection reports why one item was rejected.
type ItemRejection struct {
	Index  int    `json:"index"`
	File   string `json:"file"`
	Kind   string `json:"kind"`
	Reason string `json:"reason"`
}

// BatchFile is the per-file outcome of a batch.
type BatchFile struct {
	File     string `json:"file"`
	Accepted int    `json:"accepted"`
	Rejected int    `json:"rejected"`
	Diff     string `json:"diff,omitempty"`
	RecordID string `json:"record_id,omitempty"`
	Written  bool   `json:"written"`
}

// BatchResult is the outcome of a batch. Items holds one Result per request
// item, in request order.
type BatchResult struct {
	UnitID     string          `json:"unit_id,omitempty"`
	Committed  bool            `json:"committed"`
	Items      []*Result       `json:"items"`
	Files      []BatchFile     `json:"files"`
	Rejections []ItemRejection `json:"rejections,omitempty"`
}

// fileWork accumulates one file's batch evaluation.
type fileWork struct {
	rel   string
	items []int
	orig  *tree.Tree // nil when the file could not be loaded
	final *tree.Tree
	steps []tags.Change
}

// Batch applies req's operations. Files are loaded, parsed and validated in
// parallel (bounded by the configured worker count); each file's operations
// run in order against its in-memory tree. With Atomic set, any rejection
// means no file is written. Otherwise every file with at least one accepted
// operation gets one batch record, all records are appended as one unit,
// and then the files are written. A failed write rolls back the files
// already written and aborts the unit.
func (e *Engine) Batch(ctx context.Context, req BatchRequest) (*BatchResult, error) {
	out := &BatchResult{Items: make([]*Result, len(req.Items))}
	if len(req.Items) == 0 {
		out.Committed = !req.DryRun
		return out, nil
	}

	var works []*fileWork
	byFile := map[string]*fileWork{}
	for i, it := range req.Items {
		rel, err := e.rel(it.File)
		if err != nil {
			return nil, err
		}
		w, ok := byFile[rel]
		if !ok {
			w = &fileWork{rel: rel}
			byFile[rel] = w
			works = append(works, w)
		}
		w.items = append(w.items, i)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for _, w := range works {
		g.Go(func() error {
			return e.evaluateFile(gctx, w, req.Items, out.Items)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, w := range works {
		bf := BatchFile{File: w.rel}
		for _, i := range w.items {
			res := out.Items[i]
			if res.State == edit.Rejected {
				bf.Rejected++
				out.Rejections = append(out.Rejections, ItemRejection{
					Index:  i,
					File:   w.rel,
					Kind:   res.Rejection.Kind.String(),
					Reason: res.Rejection.Error(),
				})
				continue
			}
			bf.Accepted++
		}
		if bf.Accepted > 0 {
			bf.Diff = edit.UnifiedDiff(w.rel, w.orig.Source, w.final.Source)
		}
		out.Files = append(out.Files, bf)
	}
	sort.Slice(out.Rejections, func(i, j int) bool { return out.Rejections[i].Index < out.Rejections[j].Index })

	if req.DryRun {
		return out, nil
	}

	if req.Atomic && len(out.Rejections) > 0 {
		e.logger.Info("atomic batch rejected",
			zap.Int("items", len(req.Items)), zap.Int("rejections", len(out.Rejections)))
		if err := e.recordBatchRejections(works, out); err != nil {
			return nil, err
		}
		return out, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	u := store.NewUnit(uuid.NewString())
	var writes []fileWrite
	fileRecs := make(map[string]*store.Record)
	itemRecs := make(map[int]*store.Record)
	for _, w := range works {
		var pre *store.Snapshot
		if w.orig != nil {
			var err error
			if pre, err = store.NewSnapshot(w.orig); err != nil {
				return nil, errs.Wrap(errs.KindIO, "batch", err).WithFile(w.rel)
			}
		}
		for _, i := range w.items {
			if res := out.Items[i]; res.State == edit.Rejected {
				rec := rejectionRecord(e.sessionID, w.rel, res)
				rec.Description = req.Description
				rec.Pre = pre
				u.Add(rec)
				itemRecs[i] = rec
			}
		}
		if w.final == w.orig {
			continue
		}
		post, err := store.NewSnapshot(w.final)
		if err != nil {
			return nil, errs.Wrap(errs.KindIO, "batch", err).WithFile(w.rel)
		}
		rec := &store.Record{
			File:        w.rel,
			Op:          store.OpBatch,
			Status:      store.StatusCommitted,
			SessionID:   e.sessionID,
			Description: req.Description,
			Pre:         pre,
			Post:        post,
		}
		u.Add(rec)
		fileRecs[w.rel] = rec
		writes = append(writes, fileWrite{rel: w.rel, before: w.orig.Source, after: w.final.Source})
	}

	if err := e.commit(u, writes); err != nil {
		return nil, err
	}
	out.UnitID = u.ID
	out.Committed = true

	for fi := range out.Files {
		bf := &out.Files[fi]
		if rec, ok := fileRecs[bf.File]; ok {
			bf.Written = true
			bf.RecordID = rec.ID
		}
	}
	for _, w := range works {
		if _, ok := fileRecs[w.rel]; ok {
			e.refreshTags(w.rel, w.steps...)
		}
	}
	for i, res := range out.Items {
		switch res.State {
		case edit.Validated:
			res.RecordID = fileRecs[res.File].ID
			if err := res.MarkCommitted(); err != nil {
				return nil, err
			}
		case edit.Rejected:
			res.RecordID = itemRecs[i].ID
		}
	}
	e.logger.Info("batch committed",
		zap.String("unit", u.ID), zap.Int("files", len(writes)), zap.Int("rejections", len(out.Rejections)))
	return out, nil
}

// evaluateFile loads w's file once and runs its items in order. A file that
// cannot be loaded rejects all of its items.
func (e *Engine) evaluateFile(ctx context.Context, w *fileWork, items []BatchItem, results []*Result) error {
	t, a, err := e.load(ctx, w.rel)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		rej := asError(err, errs.KindIO)
		for _, i := range w.items {
			op := items[i].Op
			res := &Result{State: edit.Pending, File: w.rel, Op: op}
			cp := *rej
			cp.Op = string(op.Kind)
			res.Reject(&cp)
			results[i] = res
		}
		return nil
	}

	w.orig, w.final = t, t
	for _, i := range w.items {
		res, err := e.evaluate(ctx, a, w.rel, w.final, items[i].Ref, items[i].Op, w.steps)
		if err != nil {
			return err
		}
		results[i] = res
		if res.State == edit.Validated {
			w.steps = append(w.steps, tags.Change{Before: w.final, After: res.Tree, Scope: res.Op.Scope()})
			w.final = res.Tree
		}
	}
	return nil
}

// recordBatchRejections appends audit records for the rejected items of an
// atomic batch that wrote nothing.
func (e *Engine) recordBatchRejections(works []*fileWork, out *BatchResult) error {
	u := store.NewUnit(uuid.NewString())
	recs := make(map[int]*store.Record)
	for _, w := range works {
		var pre *store.Snapshot
		if w.orig != nil {
			var err error
			if pre, err = store.NewSnapshot(w.orig); err != nil {
				return errs.Wrap(errs.KindIO, "record rejections", err).WithFile(w.rel)
			}
		}
		for _, i := range w.items {
			res := out.Items[i]
			if res.State != edit.Rejected {
				continue
			}
			rec := rejectionRecord(e.sessionID, w.rel, res)
			rec.Pre = pre
			u.Add(rec)
			recs[i] = rec
		}
	}
	if err := e.store.CommitUnit(u); err != nil {
		return errs.Wrap(errs.KindIO, "record rejections", err)
	}
	for i, rec := range recs {
		out.Items[i].RecordID = rec.ID
	}
	return nil
}
