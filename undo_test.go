package graft

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/graft/internal/store"
)

func TestUndo_DeleteIsByteIdentical(t *testing.T) {
	t.Parallel()
	// Irregular spacing and a trailing comment must survive the round trip.
	const src = "import os\n\n\ndef helper():\n    return 1   # keep\n\n\ndef main():\n\treturn 2\n"
	root := newProject(t, map[string]string{"app.py": src})
	e := newTestEngine(t, root)
	ctx := context.Background()

	res, err := e.Apply(ctx, "app.py", Delete(MustParsePath("1")), false)
	require.NoError(t, err)
	require.NoError(t, res.Err())
	assert.NotContains(t, readFile(t, root, "app.py"), "helper")

	ch, err := e.Undo(ctx, "app.py", false)
	require.NoError(t, err)
	assert.True(t, ch.Written)
	assert.Equal(t, res.RecordID, ch.Reverts)
	assert.Equal(t, src, readFile(t, root, "app.py"))

	rec, err := e.Store().Record(ch.RecordID)
	require.NoError(t, err)
	assert.Equal(t, store.OpUndo, rec.Op)
	assert.Equal(t, res.RecordID, rec.Reverts)
}

func TestUndo_RedoReappliesEdit(t *testing.T) {
	t.Parallel()
	root := newProject(t, map[string]string{"a.json": `{"a": 1}`})
	e := newTestEngine(t, root)
	ctx := context.Background()

	_, err := e.Redo(ctx, "a.json", false)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = e.Apply(ctx, "a.json", Replace(MustParsePath("0.0.0"), "2"), false)
	require.NoError(t, err)
	_, err = e.Apply(ctx, "a.json", Replace(MustParsePath("0.0.0"), "3"), false)
	require.NoError(t, err)

	_, err = e.Undo(ctx, "a.json", false)
	require.NoError(t, err)
	assert.Equal(t, `{"a": 2}`, readFile(t, root, "a.json"))
	_, err = e.Undo(ctx, "a.json", false)
	require.NoError(t, err)
	assert.Equal(t, `{"a": 1}`, readFile(t, root, "a.json"))
	_, err = e.Undo(ctx, "a.json", false)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = e.Redo(ctx, "a.json", false)
	require.NoError(t, err)
	assert.Equal(t, `{"a": 2}`, readFile(t, root, "a.json"))
	_, err = e.Redo(ctx, "a.json", false)
	require.NoError(t, err)
	assert.Equal(t, `{"a": 3}`, readFile(t, root, "a.json"))
	_, err = e.Redo(ctx, "a.json", false)
	assert.ErrorIs(t, err, ErrNotFound)

	// A new edit after an undo clears the redo chain.
	_, err = e.Undo(ctx, "a.json", false)
	require.NoError(t, err)
	_, err = e.Apply(ctx, "a.json", Replace(MustParsePath("0.0.0"), "9"), false)
	require.NoError(t, err)
	_, err = e.Redo(ctx, "a.json", false)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUndo_ConflictAfterExternalEdit(t *testing.T) {
	t.Parallel()
	root := newProject(t, map[string]string{"a.json": `{"a": 1}`})
	e := newTestEngine(t, root)
	ctx := context.Background()

	_, err := e.Apply(ctx, "a.json", Replace(MustParsePath("0.0.0"), "2"), false)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.json"), []byte(`{"a": 7}`), 0o644))

	_, err = e.Undo(ctx, "a.json", false)
	require.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, `{"a": 7}`, readFile(t, root, "a.json"))
}

func TestUndo_DryRun(t *testing.T) {
	t.Parallel()
	root := newProject(t, map[string]string{"a.json": `{"a": 1}`})
	e := newTestEngine(t, root)
	ctx := context.Background()

	_, err := e.Apply(ctx, "a.json", Replace(MustParsePath("0.0.0"), "2"), false)
	require.NoError(t, err)

	ch, err := e.Undo(ctx, "a.json", true)
	require.NoError(t, err)
	assert.False(t, ch.Written)
	assert.Empty(t, ch.RecordID)
	assert.Contains(t, ch.Diff, `+{"a": 1}`)
	assert.Equal(t, `{"a": 2}`, readFile(t, root, "a.json"))
}

func TestVerify_ReportsDrift(t *testing.T) {
	t.Parallel()
	root := newProject(t, map[string]string{
		"a.json": `{"a": 1}`,
		"b.json": `{"b": 1}`,
		"c.json": `{"c": 1}`,
		"d.json": `{"d": 1}`,
	})
	e := newTestEngine(t, root)
	ctx := context.Background()

	for _, f := range []string{"a.json", "b.json", "c.json", "d.json"} {
		res, err := e.Apply(ctx, f, Replace(MustParsePath("0.0.0"), "2"), false)
		require.NoError(t, err)
		require.NoError(t, res.Err())
	}
	drifts, err := e.Verify(ctx)
	require.NoError(t, err)
	assert.Empty(t, drifts)

	require.NoError(t, os.WriteFile(filepath.Join(root, "b.json"), []byte(`{"b": 1}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "c.json"), []byte(`{"c": 5}`), 0o644))
	require.NoError(t, os.Remove(filepath.Join(root, "d.json")))

	drifts, err = e.Verify(ctx)
	require.NoError(t, err)
	require.Len(t, drifts, 3)
	assert.Equal(t, "b.json", drifts[0].File)
	assert.Equal(t, DriftInterrupted, drifts[0].State)
	assert.Equal(t, "c.json", drifts[1].File)
	assert.Equal(t, DriftModified, drifts[1].State)
	assert.Equal(t, "d.json", drifts[2].File)
	assert.Equal(t, DriftMissing, drifts[2].State)
}

func TestRecover_RollsForwardInterruptedWrites(t *testing.T) {
	t.Parallel()
	root := newProject(t, map[string]string{
		"a.json": `{"a": 1}`,
		"b.json": `{"b": 1}`,
	})
	e := newTestEngine(t, root)
	ctx := context.Background()

	resA, err := e.Apply(ctx, "a.json", Replace(MustParsePath("0.0.0"), "2"), false)
	require.NoError(t, err)
	_, err = e.Apply(ctx, "b.json", Replace(MustParsePath("0.0.0"), "2"), false)
	require.NoError(t, err)

	// Simulate a crash between the log append and the write of a.json, and
	// an unrelated external edit of b.json.
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.json"), []byte(`{"a": 1}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "b.json"), []byte(`{"b": 8}`), 0o644))

	changes, err := e.Recover(ctx)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, "a.json", changes[0].File)
	assert.Equal(t, resA.RecordID, changes[0].RecordID)
	assert.Equal(t, `{"a": 2}`, readFile(t, root, "a.json"))
	assert.Equal(t, `{"b": 8}`, readFile(t, root, "b.json"))

	// Recovery writes no new record.
	recs, err := e.History("a.json", 0)
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}
