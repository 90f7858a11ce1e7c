package store

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Store is the SQLite transaction log: sessions, records, content-addressed
// snapshots and aborted units.
type Store struct {
	db *sql.DB

	// mu serializes appends so that timestamps and seq order agree.
	mu     sync.Mutex
	now    func() time.Time
	lastNS int64
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the wall clock used to stamp records.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore opens a SQLite database at dbPath with WAL mode enabled.
func NewStore(dbPath string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for read-only queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Migrate creates all tables, indexes and append-only guards, then primes
// the clock from the newest record. Idempotent.
func (s *Store) Migrate() error {
	if _, err := s.db.Exec(schemaDDL); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	var last sql.NullInt64
	if err := s.db.QueryRow("SELECT MAX(ts_ns) FROM records").Scan(&last); err != nil {
		return fmt.Errorf("migrate: read clock: %w", err)
	}
	s.mu.Lock()
	if last.Valid && last.Int64 > s.lastNS {
		s.lastNS = last.Int64
	}
	s.mu.Unlock()
	return nil
}

// stamp returns the next record time: the wall clock, or one nanosecond past
// the previous stamp when the wall clock has not advanced. Callers hold mu.
func (s *Store) stamp() time.Time {
	ns := s.now().UnixNano()
	if ns <= s.lastNS {
		ns = s.lastNS + 1
	}
	s.lastNS = ns
	return time.Unix(0, ns).UTC()
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS sessions (
  id              TEXT PRIMARY KEY,
  started_at      TEXT NOT NULL,
  started_ns      INTEGER NOT NULL,
  description     TEXT
);

CREATE TABLE IF NOT EXISTS snapshots (
  hash            TEXT NOT NULL,
  language        TEXT NOT NULL,
  source          BLOB NOT NULL,
  tree            TEXT,
  PRIMARY KEY (hash, language)
);

CREATE TABLE IF NOT EXISTS records (
  seq             INTEGER PRIMARY KEY AUTOINCREMENT,
  id              TEXT NOT NULL UNIQUE,
  ts              TEXT NOT NULL,
  ts_ns           INTEGER NOT NULL,
  file            TEXT NOT NULL,
  op              TEXT NOT NULL,
  node_path       TEXT,
  status          TEXT NOT NULL CHECK (status IN ('committed', 'rejected')),
  language        TEXT NOT NULL DEFAULT '',
  pre_hash        TEXT,
  post_hash       TEXT,
  session_id      TEXT REFERENCES sessions(id),
  unit_id         TEXT,
  reverts         TEXT,
  description     TEXT,
  reason          TEXT,
  FOREIGN KEY (pre_hash, language) REFERENCES snapshots(hash, language),
  FOREIGN KEY (post_hash, language) REFERENCES snapshots(hash, language)
);

CREATE TABLE IF NOT EXISTS aborted_units (
  unit_id         TEXT PRIMARY KEY,
  ts              TEXT NOT NULL,
  reason          TEXT
);

CREATE INDEX IF NOT EXISTS idx_records_file ON records(file, seq);
CREATE INDEX IF NOT EXISTS idx_records_ts ON records(ts_ns);
CREATE INDEX IF NOT EXISTS idx_records_session ON records(session_id);
CREATE INDEX IF NOT EXISTS idx_records_unit ON records(unit_id);
CREATE INDEX IF NOT EXISTS idx_records_reverts ON records(reverts);

CREATE TRIGGER IF NOT EXISTS records_no_update BEFORE UPDATE ON records
BEGIN
  SELECT RAISE(ABORT, 'records are append-only');
END;

CREATE TRIGGER IF NOT EXISTS records_no_delete BEFORE DELETE ON records
BEGIN
  SELECT RAISE(ABORT, 'records are append-only');
END;
`

// StartSession registers a session. Re-registering an existing id is a no-op.
func (s *Store) StartSession(id, description string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.stamp()
	_, err := s.db.Exec(
		"INSERT OR IGNORE INTO sessions (id, started_at, started_ns, description) VALUES (?, ?, ?, ?)",
		id, formatTime(t), t.UnixNano(), description,
	)
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	return nil
}

// Session returns the session with the given id, or nil.
func (s *Store) Session(id string) (*Session, error) {
	sess := &Session{}
	var ns int64
	err := s.db.QueryRow(
		"SELECT id, started_ns, COALESCE(description, '') FROM sessions WHERE id = ?", id,
	).Scan(&sess.ID, &ns, &sess.Description)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	sess.StartedAt = time.Unix(0, ns).UTC()
	return sess, nil
}

// Sessions lists all sessions, oldest first.
func (s *Store) Sessions() ([]*Session, error) {
	rows, err := s.db.Query("SELECT id, started_ns, COALESCE(description, '') FROM sessions ORDER BY started_ns")
	if err != nil {
		return nil, fmt.Errorf("sessions: %w", err)
	}
	defer rows.Close()
	var out []*Session
	for rows.Next() {
		sess := &Session{}
		var ns int64
		if err := rows.Scan(&sess.ID, &ns, &sess.Description); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sess.StartedAt = time.Unix(0, ns).UTC()
		out = append(out, sess)
	}
	return out, rows.Err()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
