package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jward/graft/internal/errs"
)

const recordColumns = `r.seq, r.id, r.ts_ns, r.file, r.op, COALESCE(r.node_path, ''), r.status,
  COALESCE(r.pre_hash, ''), COALESCE(r.post_hash, ''), COALESCE(r.session_id, ''),
  COALESCE(r.unit_id, ''), COALESCE(r.reverts, ''), COALESCE(r.description, ''), COALESCE(r.reason, ''), r.language`

// live excludes records of aborted units.
const live = `COALESCE(r.unit_id, '') NOT IN (SELECT unit_id FROM aborted_units)`

// unreverted excludes records that a live committed record reverses.
const unreverted = `NOT EXISTS (
  SELECT 1 FROM records v
  WHERE v.reverts = r.id AND v.status = 'committed'
    AND COALESCE(v.unit_id, '') NOT IN (SELECT unit_id FROM aborted_units))`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	r := &Record{}
	var ns int64
	var op, status string
	if err := row.Scan(&r.Seq, &r.ID, &ns, &r.File, &op, &r.NodePath, &status,
		&r.PreHash, &r.PostHash, &r.SessionID, &r.UnitID, &r.Reverts, &r.Description, &r.Reason, &r.Language); err != nil {
		return nil, err
	}
	r.Time = time.Unix(0, ns).UTC()
	r.Op = Op(op)
	r.Status = Status(status)
	return r, nil
}

func (s *Store) queryRecords(query string, args ...any) ([]*Record, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) queryRecord(query string, args ...any) (*Record, error) {
	r, err := scanRecord(s.db.QueryRow(query, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return r, err
}

// Records returns the records matching q in seq order (newest first when
// q.Desc is set). The result is read in one statement, so it reflects the
// log as of the call.
func (s *Store) Records(q Query) ([]*Record, error) {
	var where []string
	var args []any
	add := func(clause string, a ...any) {
		where = append(where, clause)
		args = append(args, a...)
	}
	if q.File != "" {
		add("r.file = ?", q.File)
	}
	if q.SessionID != "" {
		add("r.session_id = ?", q.SessionID)
	}
	if q.UnitID != "" {
		add("r.unit_id = ?", q.UnitID)
	}
	if q.Status != "" {
		add("r.status = ?", string(q.Status))
	}
	if len(q.Ops) > 0 {
		add("r.op IN ("+placeholderList(len(q.Ops))+")", opsToArgs(q.Ops)...)
	}
	if !q.Since.IsZero() {
		add("r.ts_ns > ?", q.Since.UnixNano())
	}
	if !q.Until.IsZero() {
		add("r.ts_ns <= ?", q.Until.UnixNano())
	}
	if !q.IncludeAborted {
		add(live)
	}

	var b strings.Builder
	b.WriteString("SELECT " + recordColumns + " FROM records r")
	if len(where) > 0 {
		b.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	if q.Desc {
		b.WriteString(" ORDER BY r.seq DESC")
	} else {
		b.WriteString(" ORDER BY r.seq")
	}
	if q.Limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", q.Limit)
	}

	recs, err := s.queryRecords(b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("records: %w", err)
	}
	return recs, nil
}

// Record returns the record with the given id, or nil.
func (s *Store) Record(id string) (*Record, error) {
	r, err := s.queryRecord("SELECT "+recordColumns+" FROM records r WHERE r.id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("record %s: %w", id, err)
	}
	return r, nil
}

// LatestCommitted returns the newest live committed record for file, or nil.
func (s *Store) LatestCommitted(file string) (*Record, error) {
	r, err := s.queryRecord(
		"SELECT "+recordColumns+" FROM records r WHERE r.file = ? AND r.status = 'committed' AND "+live+
			" ORDER BY r.seq DESC LIMIT 1", file)
	if err != nil {
		return nil, fmt.Errorf("latest committed: %w", err)
	}
	return r, nil
}

// UndoTarget returns the newest live committed record for file that is not
// itself an undo and has not been reverted, or nil when there is nothing to
// undo.
func (s *Store) UndoTarget(file string) (*Record, error) {
	r, err := s.queryRecord(
		"SELECT "+recordColumns+" FROM records r WHERE r.file = ? AND r.status = 'committed' AND r.op != 'undo' AND "+
			live+" AND "+unreverted+" ORDER BY r.seq DESC LIMIT 1", file)
	if err != nil {
		return nil, fmt.Errorf("undo target: %w", err)
	}
	return r, nil
}

// RedoTarget returns the newest unreverted undo record for file, provided no
// unreverted regular edit is newer than it. Redo records do not block.
func (s *Store) RedoTarget(file string) (*Record, error) {
	r, err := s.queryRecord(
		"SELECT "+recordColumns+" FROM records r WHERE r.file = ? AND r.status = 'committed' AND r.op = 'undo' AND "+
			live+" AND "+unreverted+" ORDER BY r.seq DESC LIMIT 1", file)
	if err != nil {
		return nil, fmt.Errorf("redo target: %w", err)
	}
	if r == nil {
		return nil, nil
	}
	var newer int
	err = s.db.QueryRow(
		"SELECT COUNT(*) FROM records r WHERE r.file = ? AND r.seq > ? AND r.status = 'committed'"+
			" AND r.op NOT IN ('undo', 'redo') AND "+live+" AND "+unreverted, file, r.Seq,
	).Scan(&newer)
	if err != nil {
		return nil, fmt.Errorf("redo target: %w", err)
	}
	if newer > 0 {
		return nil, nil
	}
	return r, nil
}

// Files lists every file with at least one live committed record.
func (s *Store) Files() ([]string, error) {
	rows, err := s.db.Query("SELECT DISTINCT r.file FROM records r WHERE r.status = 'committed' AND " + live + " ORDER BY r.file")
	if err != nil {
		return nil, fmt.Errorf("files: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var f string
		if err := rows.Scan(&f); err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// AbortedUnits lists the ids of aborted units.
func (s *Store) AbortedUnits() ([]string, error) {
	rows, err := s.db.Query("SELECT unit_id FROM aborted_units ORDER BY ts")
	if err != nil {
		return nil, fmt.Errorf("aborted units: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan unit: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// Snapshot loads and verifies the image of content hash parsed as
// language. A missing or tampered image is a KindCorruption error.
func (s *Store) Snapshot(hash, language string) (*Snapshot, error) {
	if hash == "" {
		return nil, errs.New(errs.KindCorruption, "read snapshot", "record has no image")
	}
	snap := &Snapshot{}
	var treeJSON sql.NullString
	err := s.db.QueryRow(
		"SELECT hash, language, source, tree FROM snapshots WHERE hash = ? AND language = ?", hash, language,
	).Scan(&snap.Hash, &snap.Language, &snap.Source, &treeJSON)
	if err == sql.ErrNoRows {
		return nil, errs.Newf(errs.KindCorruption, "read snapshot", "image %s is missing", short(hash))
	}
	if err != nil {
		return nil, errs.Wrap(errs.KindIO, "read snapshot", err)
	}
	if treeJSON.Valid {
		snap.Tree = []byte(treeJSON.String)
	}
	if err := snap.Verify(); err != nil {
		return nil, err
	}
	return snap, nil
}
