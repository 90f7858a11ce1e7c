package graft

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jward/graft/internal/edit"
	"github.com/jward/graft/internal/errs"
	"github.com/jward/graft/internal/store"
)

// RestoreResult describes a project, session or file restore.
type RestoreResult struct {
	UnitID  string   `json:"unit_id,omitempty"`
	Changes []Change `json:"changes"`
}

// restoreTarget is the image one file must be restored to.
type restoreTarget struct {
	rel      string
	hash     string
	language string
	snap     *store.Snapshot
}

// RestoreProject returns every logged file to its state as of t: the state
// after every record stamped before t was applied. A record stamped exactly
// at t is reverted. Files with no committed record at or after t are left
// alone and not reported. A file's target is the post-image of its newest
// record before t, or else the pre-image of its oldest record.
//
// All target images are read and verified before anything is written; one
// unreadable image aborts the whole restore with a Corruption error. Files
// that already hold their target are reported as unchanged.
func (e *Engine) RestoreProject(ctx context.Context, t time.Time, dryRun bool) (*RestoreResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	recs, err := e.store.Records(store.Query{Status: store.StatusCommitted})
	if err != nil {
		return nil, errs.Wrap(errs.KindIO, "restore project", err)
	}

	lastBefore := map[string]*store.Record{}
	firstAfter := map[string]*store.Record{}
	for _, r := range recs {
		if r.Time.Before(t) {
			lastBefore[r.File] = r
		} else if _, ok := firstAfter[r.File]; !ok {
			firstAfter[r.File] = r
		}
	}

	var targets []restoreTarget
	for file, after := range firstAfter {
		tg := restoreTarget{rel: file, hash: after.PreHash, language: after.Language}
		if before, ok := lastBefore[file]; ok {
			tg.hash, tg.language = before.PostHash, before.Language
		}
		targets = append(targets, tg)
	}
	desc := fmt.Sprintf("restore project to %s", t.UTC().Format(time.RFC3339Nano))
	return e.restore(ctx, "restore project", desc, targets, dryRun)
}

// RestoreSession returns every file touched in sessionID to the pre-image of
// its first committed record in that session.
func (e *Engine) RestoreSession(ctx context.Context, sessionID string, dryRun bool) (*RestoreResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	sess, err := e.store.Session(sessionID)
	if err != nil {
		return nil, errs.Wrap(errs.KindIO, "restore session", err)
	}
	if sess == nil {
		return nil, errs.Newf(errs.KindNotFound, "restore session", "no session %q", sessionID)
	}
	recs, err := e.store.Records(store.Query{SessionID: sessionID, Status: store.StatusCommitted})
	if err != nil {
		return nil, errs.Wrap(errs.KindIO, "restore session", err)
	}

	first := map[string]*store.Record{}
	for _, r := range recs {
		if _, ok := first[r.File]; !ok {
			first[r.File] = r
		}
	}
	var targets []restoreTarget
	for file, r := range first {
		targets = append(targets, restoreTarget{rel: file, hash: r.PreHash, language: r.Language})
	}
	return e.restore(ctx, "restore session", "restore session "+sessionID, targets, dryRun)
}

// RestoreFile returns file to its state right after the record recordID:
// the record's post-image, or for a rejected attempt the content it left in
// place. Like every restore it is logged and can be undone.
func (e *Engine) RestoreFile(ctx context.Context, file, recordID string, dryRun bool) (*RestoreResult, error) {
	rel, err := e.rel(file)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	rec, err := e.store.Record(recordID)
	if err != nil {
		return nil, errs.Wrap(errs.KindIO, "restore file", err).WithFile(rel)
	}
	if rec == nil {
		return nil, errs.Newf(errs.KindNotFound, "restore file", "no record %q", recordID).WithFile(rel)
	}
	if rec.File != rel {
		return nil, errs.Newf(errs.KindValidation, "restore file", "record %s belongs to %s", recordID, rec.File).WithFile(rel)
	}
	hash := rec.PostHash
	if !rec.Committed() {
		hash = rec.PreHash
	}
	if hash == "" {
		return nil, errs.Newf(errs.KindNotFound, "restore file", "record %s carries no image", recordID).WithFile(rel)
	}
	desc := fmt.Sprintf("restore %s to record %s", rel, recordID)
	return e.restore(ctx, "restore file", desc, []restoreTarget{{rel: rel, hash: hash, language: rec.Language}}, dryRun)
}

// restore rewrites each target file to its image as one unit. Callers hold
// e.mu.
func (e *Engine) restore(ctx context.Context, name, desc string, targets []restoreTarget, dryRun bool) (*RestoreResult, error) {
	sort.Slice(targets, func(i, j int) bool { return targets[i].rel < targets[j].rel })

	for i := range targets {
		snap, err := e.store.Snapshot(targets[i].hash, targets[i].language)
		if err != nil {
			return nil, withFile(err, targets[i].rel)
		}
		targets[i].snap = snap
	}

	out := &RestoreResult{}
	u := store.NewUnit(uuid.NewString())
	var writes []fileWrite
	var recs []*store.Record
	for _, tg := range targets {
		disk, err := e.read(tg.rel)
		if err != nil && errs.KindOf(err) != errs.KindNotFound {
			return nil, err
		}
		ch := Change{File: tg.rel, Op: store.OpRestore, Before: disk, After: tg.snap.Source}
		if err == nil && bytes.Equal(disk, tg.snap.Source) {
			ch.Unchanged = true
			out.Changes = append(out.Changes, ch)
			recs = append(recs, nil)
			continue
		}
		ch.Diff = edit.UnifiedDiff(tg.rel, disk, tg.snap.Source)
		out.Changes = append(out.Changes, ch)
		if dryRun {
			recs = append(recs, nil)
			continue
		}

		pre, err := e.snapshot(ctx, tg.rel, disk)
		if err != nil {
			return nil, errs.Wrap(errs.KindIO, name, err).WithFile(tg.rel)
		}
		post := tg.snap
		if post.Language != pre.Language {
			// The file's language changed since the image was logged.
			if post, err = e.snapshot(ctx, tg.rel, tg.snap.Source); err != nil {
				return nil, errs.Wrap(errs.KindIO, name, err).WithFile(tg.rel)
			}
		}
		rec := &store.Record{
			File:        tg.rel,
			Op:          store.OpRestore,
			Status:      store.StatusCommitted,
			SessionID:   e.sessionID,
			Description: desc,
			Pre:         pre,
			Post:        post,
		}
		u.Add(rec)
		recs = append(recs, rec)
		writes = append(writes, fileWrite{rel: tg.rel, before: disk, after: tg.snap.Source})
	}
	if dryRun || len(writes) == 0 {
		return out, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := e.commit(u, writes); err != nil {
		return nil, err
	}
	out.UnitID = u.ID
	for i, rec := range recs {
		if rec != nil {
			out.Changes[i].RecordID = rec.ID
			out.Changes[i].Written = true
		}
	}
	e.logger.Info(name+" committed", zap.String("unit", u.ID), zap.Int("files", len(writes)))
	return out, nil
}
