package store

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// AppendRecord durably appends a single standalone record.
func (s *Store) AppendRecord(r *Record) error {
	u := NewUnit("")
	u.Add(r)
	return s.CommitUnit(u)
}

// CommitUnit inserts every buffered record of u, and the snapshots they
// reference, within a single transaction. Either all records become durable
// or none do. On success each record has its Seq, ID and Time assigned.
//
// Insert order:
//  1. Pre and post snapshots (keyed by content hash and language, stored once)
//  2. The record row, stamped by the store clock
func (s *Store) CommitUnit(u *Unit) error {
	recs := u.Records()
	if len(recs) == 0 {
		return nil
	}
	for _, r := range recs {
		if err := checkRecord(r); err != nil {
			return fmt.Errorf("commit unit: %w", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("commit unit: begin: %w", err)
	}
	defer tx.Rollback()

	for _, r := range recs {
		if err := setLanguage(r); err != nil {
			return fmt.Errorf("commit unit: %w", err)
		}
		if r.Pre != nil {
			if err := insertSnapshotTx(tx, r.Pre); err != nil {
				return fmt.Errorf("commit unit: pre-image of %s: %w", r.File, err)
			}
			r.PreHash = r.Pre.Hash
		}
		if r.Post != nil {
			if err := insertSnapshotTx(tx, r.Post); err != nil {
				return fmt.Errorf("commit unit: post-image of %s: %w", r.File, err)
			}
			r.PostHash = r.Post.Hash
		}
		if r.ID == "" {
			r.ID = uuid.NewString()
		}
		r.UnitID = u.ID
		r.Time = s.stamp()
		seq, err := insertRecordTx(tx, r)
		if err != nil {
			return fmt.Errorf("commit unit: record for %s: %w", r.File, err)
		}
		r.Seq = seq
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit unit: %w", err)
	}
	return nil
}

// AbortUnit marks every record of unitID as void. Used when a file write
// fails after the unit's records were appended and the written files have
// been rolled back.
func (s *Store) AbortUnit(unitID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(
		"INSERT OR IGNORE INTO aborted_units (unit_id, ts, reason) VALUES (?, ?, ?)",
		unitID, formatTime(s.stamp()), reason,
	)
	if err != nil {
		return fmt.Errorf("abort unit %s: %w", unitID, err)
	}
	return nil
}

func checkRecord(r *Record) error {
	if r.File == "" {
		return fmt.Errorf("record has no file")
	}
	switch r.Status {
	case StatusCommitted:
		if r.Post == nil && r.PostHash == "" {
			return fmt.Errorf("committed record for %s has no post-image", r.File)
		}
	case StatusRejected:
		if r.Post != nil || r.PostHash != "" {
			return fmt.Errorf("rejected record for %s carries a post-image", r.File)
		}
	default:
		return fmt.Errorf("record for %s has status %q", r.File, r.Status)
	}
	return nil
}

// setLanguage takes r's language from its images, which must agree.
func setLanguage(r *Record) error {
	switch {
	case r.Pre != nil && r.Post != nil && r.Pre.Language != r.Post.Language:
		return fmt.Errorf("images of %s differ in language: %s and %s", r.File, r.Pre.Language, r.Post.Language)
	case r.Post != nil:
		r.Language = r.Post.Language
	case r.Pre != nil:
		r.Language = r.Pre.Language
	}
	return nil
}

func insertSnapshotTx(tx *sql.Tx, snap *Snapshot) error {
	src := snap.Source
	if src == nil {
		src = []byte{} // a nil slice binds as NULL
	}
	_, err := tx.Exec(
		"INSERT OR IGNORE INTO snapshots (hash, language, source, tree) VALUES (?, ?, ?, ?)",
		snap.Hash, snap.Language, src, string(snap.Tree),
	)
	return err
}

func insertRecordTx(tx *sql.Tx, r *Record) (int64, error) {
	res, err := tx.Exec(
		`INSERT INTO records (id, ts, ts_ns, file, op, node_path, status, language, pre_hash, post_hash,
		   session_id, unit_id, reverts, description, reason)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, formatTime(r.Time), r.Time.UnixNano(), r.File, string(r.Op), nullString(r.NodePath), string(r.Status), r.Language,
		nullString(r.PreHash), nullString(r.PostHash), nullString(r.SessionID), nullString(r.UnitID),
		nullString(r.Reverts), nullString(r.Description), nullString(r.Reason),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}
