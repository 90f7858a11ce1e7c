package graft

import (
	"fmt"
	"time"

	"github.com/jward/graft/internal/store"
)

// QueryBuilder provides read-only access to the transaction log.
type QueryBuilder struct {
	store *store.Store
}

// History returns the newest records of file, newest first. An empty file
// lists records of every file; limit <= 0 means no limit.
func (q *QueryBuilder) History(file string, limit int) ([]*Record, error) {
	recs, err := q.store.Records(store.Query{File: file, Desc: true, Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	return recs, nil
}

// Between returns the records stamped in (since, until], oldest first.
// A zero bound is open.
func (q *QueryBuilder) Between(since, until time.Time) ([]*Record, error) {
	recs, err := q.store.Records(store.Query{Since: since, Until: until})
	if err != nil {
		return nil, fmt.Errorf("between: %w", err)
	}
	return recs, nil
}

// Rejections returns the rejected attempts on file (every file when empty),
// newest first.
func (q *QueryBuilder) Rejections(file string, limit int) ([]*Record, error) {
	recs, err := q.store.Records(store.Query{File: file, Status: store.StatusRejected, Desc: true, Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("rejections: %w", err)
	}
	return recs, nil
}

// Session returns the records of one session, oldest first.
func (q *QueryBuilder) Session(id string) ([]*Record, error) {
	recs, err := q.store.Records(store.Query{SessionID: id})
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	return recs, nil
}

// Sessions lists every session, oldest first.
func (q *QueryBuilder) Sessions() ([]*Session, error) {
	return q.store.Sessions()
}

// Unit returns the records of one batch or restore unit, including units
// that were aborted.
func (q *QueryBuilder) Unit(id string) ([]*Record, error) {
	recs, err := q.store.Records(store.Query{UnitID: id, IncludeAborted: true})
	if err != nil {
		return nil, fmt.Errorf("unit: %w", err)
	}
	return recs, nil
}

// Record returns one record by id, or nil.
func (q *QueryBuilder) Record(id string) (*Record, error) {
	return q.store.Record(id)
}

// Images returns the verified pre- and post-image sources of a record. A
// rejected record has no post-image.
func (q *QueryBuilder) Images(id string) (pre, post []byte, err error) {
	r, err := q.store.Record(id)
	if err != nil {
		return nil, nil, fmt.Errorf("images: %w", err)
	}
	if r == nil {
		return nil, nil, fmt.Errorf("images: %w: record %s", ErrNotFound, id)
	}
	if r.PreHash != "" {
		snap, err := q.store.Snapshot(r.PreHash, r.Language)
		if err != nil {
			return nil, nil, fmt.Errorf("images: %w", err)
		}
		pre = snap.Source
	}
	if r.PostHash != "" {
		snap, err := q.store.Snapshot(r.PostHash, r.Language)
		if err != nil {
			return nil, nil, fmt.Errorf("images: %w", err)
		}
		post = snap.Source
	}
	return pre, post, nil
}

// ContentAt reconstructs file's content as of t from the log alone: the
// post-image of its newest committed record stamped before t, else the
// pre-image of its oldest record. A record stamped exactly at t has not yet
// been applied. ok is false when the log holds no
// committed record of file.
func (q *QueryBuilder) ContentAt(file string, t time.Time) (src []byte, ok bool, err error) {
	recs, err := q.store.Records(store.Query{File: file, Status: store.StatusCommitted})
	if err != nil {
		return nil, false, fmt.Errorf("content at: %w", err)
	}
	if len(recs) == 0 {
		return nil, false, nil
	}
	hash, lang := recs[0].PreHash, recs[0].Language
	for _, r := range recs {
		if !r.Time.Before(t) {
			break
		}
		hash, lang = r.PostHash, r.Language
	}
	snap, err := q.store.Snapshot(hash, lang)
	if err != nil {
		return nil, false, fmt.Errorf("content at: %w", err)
	}
	return snap.Source, true, nil
}

// Files lists every file with committed history.
func (q *QueryBuilder) Files() ([]string, error) {
	return q.store.Files()
}

// History returns file's newest records, newest first. An empty file lists
// every file's records.
func (e *Engine) History(file string, limit int) ([]*Record, error) {
	rel := ""
	if file != "" {
		var err error
		if rel, err = e.rel(file); err != nil {
			return nil, err
		}
	}
	return e.Query().History(rel, limit)
}

// Rejections returns file's newest rejected attempts, newest first. An empty
// file lists every file's rejections.
func (e *Engine) Rejections(file string, limit int) ([]*Record, error) {
	rel := ""
	if file != "" {
		var err error
		if rel, err = e.rel(file); err != nil {
			return nil, err
		}
	}
	return e.Query().Rejections(rel, limit)
}
