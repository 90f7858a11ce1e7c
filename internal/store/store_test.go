package store

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/graft/internal/errs"
	"github.com/jward/graft/internal/tree"
)

func newTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewStore(dbPath, opts...)
	require.NoError(t, err)
	require.NoError(t, s.Migrate())
	t.Cleanup(func() { s.Close() })
	return s
}

// fixedClock returns a clock that never advances.
func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

func snap(src string) *Snapshot {
	sn, err := NewSnapshot(&tree.Tree{
		Language: "text",
		Source:   []byte(src),
		Root:     &tree.Node{Kind: "text", End: len(src)},
	})
	if err != nil {
		panic(err)
	}
	return sn
}

// committed builds a committed record for file moving pre to post.
func committed(file string, op Op, pre, post string) *Record {
	return &Record{File: file, Op: op, Status: StatusCommitted, Pre: snap(pre), Post: snap(post)}
}

func appendRecord(t *testing.T, s *Store, r *Record) *Record {
	t.Helper()
	require.NoError(t, s.AppendRecord(r))
	require.Positive(t, r.Seq)
	return r
}

// =============================================================================
// Schema & Lifecycle
// =============================================================================

func TestMigrate_AllTablesExist(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	for _, table := range []string{"sessions", "snapshots", "records", "aborted_units"} {
		var name string
		err := s.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		require.NoError(t, err, "table %s should exist", table)
		assert.Equal(t, table, name)
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	require.NoError(t, s.Migrate())
}

func TestMigrate_WALMode(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	var mode string
	err := s.db.QueryRow("PRAGMA journal_mode").Scan(&mode)
	require.NoError(t, err)
	assert.Equal(t, "wal", mode)
}

// =============================================================================
// Append
// =============================================================================

func TestAppendRecord_AssignsIdentity(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	r := appendRecord(t, s, committed("a.py", OpReplace, "x = 1\n", "x = 2\n"))

	assert.NotEmpty(t, r.ID)
	assert.False(t, r.Time.IsZero())
	assert.Empty(t, r.UnitID)

	got, err := s.Record(r.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, r.Seq, got.Seq)
	assert.Equal(t, "a.py", got.File)
	assert.Equal(t, OpReplace, got.Op)
	assert.Equal(t, StatusCommitted, got.Status)
	assert.Equal(t, HashSource([]byte("x = 1\n")), got.PreHash)
	assert.Equal(t, HashSource([]byte("x = 2\n")), got.PostHash)
	assert.True(t, r.Time.Equal(got.Time))
}

func TestAppendRecord_RejectedHasNoPostImage(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	r := &Record{File: "a.py", Op: OpReplace, Status: StatusRejected, Pre: snap("x\n"), Reason: "syntax"}
	appendRecord(t, s, r)

	got, err := s.Record(r.ID)
	require.NoError(t, err)
	assert.Empty(t, got.PostHash)
	assert.Equal(t, "syntax", got.Reason)

	bad := &Record{File: "a.py", Op: OpReplace, Status: StatusRejected, Pre: snap("x\n"), Post: snap("y\n")}
	assert.Error(t, s.AppendRecord(bad))

	missing := &Record{File: "a.py", Op: OpReplace, Status: StatusCommitted, Pre: snap("x\n")}
	assert.Error(t, s.AppendRecord(missing))
}

func TestRecords_AppendOnly(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	r := appendRecord(t, s, committed("a.py", OpReplace, "a", "b"))

	_, err := s.db.Exec("UPDATE records SET file = 'b.py' WHERE id = ?", r.ID)
	assert.ErrorContains(t, err, "append-only")
	_, err = s.db.Exec("DELETE FROM records WHERE id = ?", r.ID)
	assert.ErrorContains(t, err, "append-only")
}

func TestClock_StrictlyIncreasing(t *testing.T) {
	t.Parallel()
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s := newTestStore(t, WithClock(fixedClock(at)))

	var prev time.Time
	for i := 0; i < 5; i++ {
		r := appendRecord(t, s, committed("a.py", OpReplace, "a", "b"))
		assert.True(t, r.Time.After(prev), "record %d must be later than the previous one", i)
		prev = r.Time
	}
}

func TestClock_PrimedFromExistingLog(t *testing.T) {
	t.Parallel()
	dbPath := filepath.Join(t.TempDir(), "h.db")
	later := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	s1, err := NewStore(dbPath, WithClock(fixedClock(later)))
	require.NoError(t, err)
	require.NoError(t, s1.Migrate())
	first := committed("a.py", OpReplace, "a", "b")
	require.NoError(t, s1.AppendRecord(first))
	require.NoError(t, s1.Close())

	// A clock that went backwards must not produce an older record.
	s2, err := NewStore(dbPath, WithClock(fixedClock(later.Add(-time.Hour))))
	require.NoError(t, err)
	t.Cleanup(func() { s2.Close() })
	require.NoError(t, s2.Migrate())
	second := committed("a.py", OpReplace, "b", "c")
	require.NoError(t, s2.AppendRecord(second))
	assert.True(t, second.Time.After(first.Time))
}

// =============================================================================
// Units
// =============================================================================

func TestCommitUnit_ConcurrentAddAndFileOrder(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	u := NewUnit("unit-1")

	var wg sync.WaitGroup
	for _, f := range []string{"c.py", "a.py", "b.py"} {
		wg.Add(1)
		go func(file string) {
			defer wg.Done()
			u.Add(committed(file, OpBatch, "x", "y"))
		}(f)
	}
	wg.Wait()
	require.Equal(t, 3, u.Len())
	require.NoError(t, s.CommitUnit(u))

	recs, err := s.Records(Query{UnitID: "unit-1"})
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, []string{"a.py", "b.py", "c.py"}, []string{recs[0].File, recs[1].File, recs[2].File})
	for _, r := range recs {
		assert.Equal(t, "unit-1", r.UnitID)
	}
}

func TestCommitUnit_AllOrNothing(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	require.NoError(t, s.StartSession("known", ""))

	u := NewUnit("unit-bad")
	ok := committed("a.py", OpBatch, "x", "y")
	ok.SessionID = "known"
	broken := committed("b.py", OpBatch, "x", "y")
	broken.SessionID = "unknown" // violates the sessions foreign key
	u.Add(ok)
	u.Add(broken)

	require.Error(t, s.CommitUnit(u))
	recs, err := s.Records(Query{IncludeAborted: true})
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestAbortUnit_HidesRecords(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	u := NewUnit("unit-2")
	u.Add(committed("a.py", OpBatch, "x", "y"))
	require.NoError(t, s.CommitUnit(u))
	require.NoError(t, s.AbortUnit("unit-2", "write failed"))

	recs, err := s.Records(Query{File: "a.py"})
	require.NoError(t, err)
	assert.Empty(t, recs)

	recs, err = s.Records(Query{File: "a.py", IncludeAborted: true})
	require.NoError(t, err)
	assert.Len(t, recs, 1)

	latest, err := s.LatestCommitted("a.py")
	require.NoError(t, err)
	assert.Nil(t, latest)

	aborted, err := s.AbortedUnits()
	require.NoError(t, err)
	assert.Equal(t, []string{"unit-2"}, aborted)
}

// =============================================================================
// Snapshots
// =============================================================================

func TestSnapshot_StoredOnceAndVerified(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	appendRecord(t, s, committed("a.py", OpReplace, "same", "other"))
	appendRecord(t, s, committed("a.py", OpReplace, "other", "same"))

	var n int
	require.NoError(t, s.db.QueryRow("SELECT COUNT(*) FROM snapshots").Scan(&n))
	assert.Equal(t, 2, n)

	got, err := s.Snapshot(HashSource([]byte("same")), "text")
	require.NoError(t, err)
	assert.Equal(t, "same", string(got.Source))

	tr, err := got.DecodeTree()
	require.NoError(t, err)
	assert.Equal(t, "text", tr.Language)
	assert.Equal(t, "same", string(tr.Source))
}

func TestSnapshot_KeyedByLanguage(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	src := []byte(`[1]`)
	asText := snap(`[1]`)
	asJSON, err := NewSnapshot(&tree.Tree{
		Language: "json",
		Source:   src,
		Root: &tree.Node{Kind: "document", End: 3, Children: []*tree.Node{
			{Kind: "array", End: 3, Children: []*tree.Node{{Kind: "number", Start: 1, End: 2, Leaf: true}}},
		}},
	})
	require.NoError(t, err)
	require.Equal(t, asText.Hash, asJSON.Hash)

	appendRecord(t, s, &Record{File: "a.txt", Op: OpReplace, Status: StatusCommitted, Pre: snap("x"), Post: asText})
	rec := appendRecord(t, s, &Record{File: "a.json", Op: OpReplace, Status: StatusCommitted,
		Pre: &Snapshot{Hash: HashSource(nil), Language: "json", Tree: []byte(`{"language":"json"}`)}, Post: asJSON})

	got, err := s.Record(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "json", got.Language)

	jsonSnap, err := s.Snapshot(got.PostHash, got.Language)
	require.NoError(t, err)
	tr, err := jsonSnap.DecodeTree()
	require.NoError(t, err)
	assert.Equal(t, "json", tr.Language)
	require.Len(t, tr.Root.Children, 1)
	assert.Equal(t, "array", tr.Root.Children[0].Kind)

	textSnap, err := s.Snapshot(got.PostHash, "text")
	require.NoError(t, err)
	tr, err = textSnap.DecodeTree()
	require.NoError(t, err)
	assert.Equal(t, "text", tr.Language)
}

func TestCommitUnit_RejectsMixedLanguageImages(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	post := snap("b")
	post.Language = "json"
	err := s.AppendRecord(&Record{File: "a.json", Op: OpReplace, Status: StatusCommitted, Pre: snap("a"), Post: post})
	assert.ErrorContains(t, err, "differ in language")
}

func TestSnapshot_EmptySource(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	empty := &Snapshot{Hash: HashSource(nil), Language: "text", Tree: []byte(`{"language":"text"}`)}
	appendRecord(t, s, &Record{File: "a.py", Op: OpDelete, Status: StatusCommitted, Pre: snap("x"), Post: empty})

	got, err := s.Snapshot(HashSource(nil), "text")
	require.NoError(t, err)
	assert.Empty(t, got.Source)
}

func TestSnapshot_Corruption(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	appendRecord(t, s, committed("a.py", OpReplace, "good", "next"))

	hash := HashSource([]byte("good"))
	_, err := s.db.Exec("UPDATE snapshots SET source = ? WHERE hash = ?", []byte("evil"), hash)
	require.NoError(t, err)

	_, err = s.Snapshot(hash, "text")
	assert.ErrorIs(t, err, errs.ErrCorruption)

	_, err = s.Snapshot(HashSource([]byte("never stored")), "text")
	assert.ErrorIs(t, err, errs.ErrCorruption)

	_, err = s.Snapshot("", "text")
	assert.ErrorIs(t, err, errs.ErrCorruption)
}

// =============================================================================
// Queries
// =============================================================================

func TestRecords_Filters(t *testing.T) {
	t.Parallel()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := base.Add(-time.Hour)
	s := newTestStore(t, WithClock(func() time.Time { return now }))
	require.NoError(t, s.StartSession("s1", "first"))

	now = base
	r1 := committed("a.py", OpReplace, "1", "2")
	r1.SessionID = "s1"
	appendRecord(t, s, r1)
	now = base.Add(time.Minute)
	appendRecord(t, s, committed("b.py", OpInsert, "1", "2"))
	now = base.Add(2 * time.Minute)
	appendRecord(t, s, &Record{File: "a.py", Op: OpDelete, Status: StatusRejected, Pre: snap("2")})

	all, err := s.Records(Query{})
	require.NoError(t, err)
	require.Len(t, all, 3)

	byFile, err := s.Records(Query{File: "a.py"})
	require.NoError(t, err)
	assert.Len(t, byFile, 2)

	bySession, err := s.Records(Query{SessionID: "s1"})
	require.NoError(t, err)
	require.Len(t, bySession, 1)
	assert.Equal(t, r1.ID, bySession[0].ID)

	onlyCommitted, err := s.Records(Query{Status: StatusCommitted})
	require.NoError(t, err)
	assert.Len(t, onlyCommitted, 2)

	byOp, err := s.Records(Query{Ops: []Op{OpInsert, OpDelete}})
	require.NoError(t, err)
	assert.Len(t, byOp, 2)

	window, err := s.Records(Query{Since: base, Until: base.Add(time.Minute)})
	require.NoError(t, err)
	require.Len(t, window, 1)
	assert.Equal(t, "b.py", window[0].File)

	newest, err := s.Records(Query{Desc: true, Limit: 1})
	require.NoError(t, err)
	require.Len(t, newest, 1)
	assert.Equal(t, StatusRejected, newest[0].Status)

	files, err := s.Files()
	require.NoError(t, err)
	assert.Equal(t, []string{"a.py", "b.py"}, files)
}

func TestUndoRedoTargets(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	target, err := s.UndoTarget("a.py")
	require.NoError(t, err)
	assert.Nil(t, target, "nothing to undo yet")

	r1 := appendRecord(t, s, committed("a.py", OpReplace, "a", "b"))
	target, err = s.UndoTarget("a.py")
	require.NoError(t, err)
	require.NotNil(t, target)
	assert.Equal(t, r1.ID, target.ID)

	u1 := committed("a.py", OpUndo, "b", "a")
	u1.Reverts = r1.ID
	appendRecord(t, s, u1)

	target, err = s.UndoTarget("a.py")
	require.NoError(t, err)
	assert.Nil(t, target, "undo records are not undone; redo reverses them")

	redo, err := s.RedoTarget("a.py")
	require.NoError(t, err)
	require.NotNil(t, redo)
	assert.Equal(t, u1.ID, redo.ID)

	d1 := committed("a.py", OpRedo, "a", "b")
	d1.Reverts = u1.ID
	appendRecord(t, s, d1)

	redo, err = s.RedoTarget("a.py")
	require.NoError(t, err)
	assert.Nil(t, redo)

	target, err = s.UndoTarget("a.py")
	require.NoError(t, err)
	require.NotNil(t, target)
	assert.Equal(t, d1.ID, target.ID, "a redo can be undone again")
}

func TestRedoTarget_BlockedByNewerEdit(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	r1 := appendRecord(t, s, committed("a.py", OpReplace, "a", "b"))
	u1 := committed("a.py", OpUndo, "b", "a")
	u1.Reverts = r1.ID
	appendRecord(t, s, u1)
	appendRecord(t, s, committed("a.py", OpReplace, "a", "c"))

	redo, err := s.RedoTarget("a.py")
	require.NoError(t, err)
	assert.Nil(t, redo)
}

func TestSessions(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	require.NoError(t, s.StartSession("s1", "one"))
	require.NoError(t, s.StartSession("s1", "ignored"))
	require.NoError(t, s.StartSession("s2", ""))

	sess, err := s.Session("s1")
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, "one", sess.Description)

	missing, err := s.Session("nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	all, err := s.Sessions()
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
