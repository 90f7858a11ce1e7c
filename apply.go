package graft

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jward/graft/internal/edit"
	"github.com/jward/graft/internal/errs"
	"github.com/jward/graft/internal/parser"
	"github.com/jward/graft/internal/runtime"
	"github.com/jward/graft/internal/store"
	"github.com/jward/graft/internal/tags"
	"github.com/jward/graft/internal/tree"
)

// Apply runs op against file. The returned Result is Committed on success
// and Rejected when the operation is invalid, addresses a missing node,
// yields unparseable content or is vetoed by a hook; a rejection leaves the
// file untouched and is recorded in the log for audit. A non-nil error means
// the attempt itself failed (unreadable file, storage failure, cancelled
// context).
//
// With dryRun, nothing is recorded or written and a Validated result carries
// the unified diff of the change.
func (e *Engine) Apply(ctx context.Context, file string, op Operation, dryRun bool) (*Result, error) {
	return e.ApplyRef(ctx, file, "", op, dryRun)
}

// ApplyRef is Apply with op's path given by ref: a dotted path such as
// "1.2.0" or a tag reference such as "@main_fn". An empty ref keeps op.Path.
func (e *Engine) ApplyRef(ctx context.Context, file, ref string, op Operation, dryRun bool) (*Result, error) {
	rel, err := e.rel(file)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	t, a, err := e.load(ctx, rel)
	if err != nil {
		return nil, err
	}
	res, err := e.evaluate(ctx, a, rel, t, ref, op, nil)
	if err != nil {
		return nil, err
	}
	if dryRun {
		return res, nil
	}

	if res.State == edit.Rejected {
		e.logger.Info("edit rejected",
			zap.String("file", rel), zap.String("op", op.String()), zap.Error(res.Rejection))
		if err := e.recordRejection(ctx, rel, t, res); err != nil {
			return nil, err
		}
		return res, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pre, err := store.NewSnapshot(t)
	if err != nil {
		return nil, errs.Wrap(errs.KindIO, "apply", err).WithFile(rel)
	}
	post, err := store.NewSnapshot(res.Tree)
	if err != nil {
		return nil, errs.Wrap(errs.KindIO, "apply", err).WithFile(rel)
	}
	rec := &store.Record{
		File:      rel,
		Op:        store.Op(res.Op.Kind),
		NodePath:  res.Op.Path.String(),
		Status:    store.StatusCommitted,
		SessionID: e.sessionID,
		Pre:       pre,
		Post:      post,
	}
	u := store.NewUnit(uuid.NewString())
	u.Add(rec)
	if err := e.commit(u, []fileWrite{{rel: rel, before: t.Source, after: res.After}}); err != nil {
		return nil, err
	}
	res.RecordID = rec.ID
	if err := res.MarkCommitted(); err != nil {
		return nil, err
	}
	e.refreshTags(rel, tags.Change{Before: t, After: res.Tree, Scope: res.Op.Scope()})
	e.logger.Info("edit committed",
		zap.String("file", rel), zap.String("op", op.String()), zap.String("record", rec.ID))
	return res, nil
}

// evaluate resolves ref, computes and validates op against t, then runs the
// hook scripts on a grammatically valid outcome. pending lists the
// uncommitted changes that produced t from the file on disk.
func (e *Engine) evaluate(ctx context.Context, a parser.Adapter, rel string, t *tree.Tree, ref string, op Operation, pending []tags.Change) (*Result, error) {
	if ref != "" {
		p, rerr := e.resolveRef(rel, ref, t, pending...)
		if rerr != nil {
			res := &Result{State: edit.Pending, File: rel, Language: a.Language(), Op: op, Before: t.Source}
			rerr.Op = string(op.Kind)
			res.Reject(rerr)
			return res, nil
		}
		op.Path = p
	}

	res, err := edit.Apply(ctx, a, rel, t, op)
	if err != nil {
		return nil, err
	}
	if res.State != edit.Validated {
		return res, nil
	}

	v, err := e.hooks.Check(ctx, runtime.Event{
		File:      rel,
		Language:  a.Language(),
		Operation: string(op.Kind),
		NodePath:  op.Path.String(),
		Before:    t.Source,
		After:     res.After,
	})
	if err != nil {
		return nil, err
	}
	res.Warnings = append(res.Warnings, v.Warnings...)
	if v.Rejected() {
		res.Reject(errs.New(errs.KindValidation, string(op.Kind), "policy: "+strings.Join(v.Rejections, "; ")).
			WithPath(op.Path.String()))
	}
	return res, nil
}

// resolveRef turns a dotted path or "@tag" reference into a Path against t.
// A tag whose node no longer carries its fingerprint is a stale tag error.
func (e *Engine) resolveRef(rel, ref string, t *tree.Tree, pending ...tags.Change) (tree.Path, *errs.Error) {
	ref = strings.TrimSpace(ref)
	if name, ok := strings.CutPrefix(ref, "@"); ok {
		p, _, err := e.tags.ResolveNode(rel, name, t, pending...)
		if err != nil {
			return tree.Path{}, asError(err, errs.KindPath)
		}
		return p, nil
	}
	p, err := tree.ParsePath(ref)
	if err != nil {
		return tree.Path{}, asError(err, errs.KindPath)
	}
	return p, nil
}

// recordRejection appends an audit record for a rejected attempt. Rejected
// records carry the pre-image only.
func (e *Engine) recordRejection(ctx context.Context, rel string, t *tree.Tree, res *Result) error {
	rec := rejectionRecord(e.sessionID, rel, res)
	if t != nil {
		pre, err := store.NewSnapshot(t)
		if err != nil {
			return errs.Wrap(errs.KindIO, "record rejection", err).WithFile(rel)
		}
		rec.Pre = pre
	}
	if err := e.store.AppendRecord(rec); err != nil {
		return errs.Wrap(errs.KindIO, "record rejection", err).WithFile(rel)
	}
	res.RecordID = rec.ID
	return nil
}

func rejectionRecord(sessionID, rel string, res *Result) *store.Record {
	reason := ""
	if res.Rejection != nil {
		reason = res.Rejection.Error()
	}
	return &store.Record{
		File:      rel,
		Op:        store.Op(res.Op.Kind),
		NodePath:  res.Op.Path.String(),
		Status:    store.StatusRejected,
		SessionID: sessionID,
		Reason:    reason,
	}
}

// asError returns err as an *errs.Error, wrapping it with kind when it is
// not one already.
func asError(err error, kind errs.Kind) *errs.Error {
	if e, ok := errs.As(err); ok {
		return e
	}
	return errs.Wrap(kind, "", err)
}

// Analyze parses file and returns its tree.
func (e *Engine) Analyze(ctx context.Context, file string) (*Tree, error) {
	rel, err := e.rel(file)
	if err != nil {
		return nil, err
	}
	t, _, err := e.load(ctx, rel)
	return t, err
}

// Located is a node found by Show or Find.
type Located struct {
	File string `json:"file"`
	Path Path   `json:"path"`
	Node *Node  `json:"node"`
	Text string `json:"text"`
}

// Show resolves ref (a dotted path or "@tag") in file.
func (e *Engine) Show(ctx context.Context, file, ref string) (*Located, error) {
	rel, err := e.rel(file)
	if err != nil {
		return nil, err
	}
	t, _, err := e.load(ctx, rel)
	if err != nil {
		return nil, err
	}
	p, perr := e.resolveRef(rel, ref, t)
	if perr != nil {
		return nil, perr.WithFile(rel)
	}
	n, err := tree.Resolve(t, p)
	if err != nil {
		return nil, asError(err, errs.KindPath).WithFile(rel)
	}
	return &Located{File: rel, Path: p, Node: n, Text: n.Text(t.Source)}, nil
}

// Find lists the nodes of file with the given kind and name, in document
// order. An empty kind or name matches any.
func (e *Engine) Find(ctx context.Context, file, kind, name string) ([]Located, error) {
	rel, err := e.rel(file)
	if err != nil {
		return nil, err
	}
	t, _, err := e.load(ctx, rel)
	if err != nil {
		return nil, err
	}
	out := []Located{}
	tree.Walk(t, func(p tree.Path, n *tree.Node) bool {
		if (kind == "" || n.Kind == kind) && (name == "" || n.Name == name) {
			out = append(out, Located{File: rel, Path: p, Node: n, Text: n.Text(t.Source)})
		}
		return true
	})
	return out, nil
}
