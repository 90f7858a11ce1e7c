package graft

import (
	"context"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/graft/internal/store"
)

func TestScenario1_ReplaceFunction(t *testing.T) {
	t.Parallel()
	root := newProject(t, map[string]string{"app.py": "def f(): pass"})
	e := newTestEngine(t, root)

	res, err := e.Apply(context.Background(), "app.py", Replace(MustParsePath("0"), "def f(): return 1"), false)
	require.NoError(t, err)
	require.NoError(t, res.Err())
	assert.Equal(t, Committed, res.State)
	assert.Equal(t, "def f(): return 1", readFile(t, root, "app.py"))
	assert.NotEmpty(t, res.RecordID)

	rec, err := e.Store().Record(res.RecordID)
	require.NoError(t, err)
	assert.Equal(t, store.OpReplace, rec.Op)
	assert.Equal(t, "0", rec.NodePath)
	assert.Equal(t, e.SessionID(), rec.SessionID)
	assert.Equal(t, store.HashSource([]byte("def f(): pass")), rec.PreHash)
	assert.Equal(t, store.HashSource([]byte("def f(): return 1")), rec.PostHash)
}

func TestApply_RejectionIsNoOp(t *testing.T) {
	t.Parallel()
	const src = "def f():\n    return 1\n"
	root := newProject(t, map[string]string{"app.py": src})
	e := newTestEngine(t, root)

	res, err := e.Apply(context.Background(), "app.py", Replace(MustParsePath("0.2.0"), "return ("), false)
	require.NoError(t, err)
	assert.Equal(t, Rejected, res.State)
	require.ErrorIs(t, res.Err(), ErrValidation)
	assert.Positive(t, res.Rejection.Line)
	assert.Equal(t, src, readFile(t, root, "app.py"))

	// The attempt is audited without a post-image.
	rec, err := e.Store().Record(res.RecordID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusRejected, rec.Status)
	assert.Empty(t, rec.PostHash)
	assert.NotEmpty(t, rec.Reason)

	// Nothing committed means nothing to undo.
	_, err = e.Undo(context.Background(), "app.py", false)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestApply_PathErrors(t *testing.T) {
	t.Parallel()
	const src = "def f():\n    return 1\n"
	root := newProject(t, map[string]string{"app.py": src})
	e := newTestEngine(t, root)
	ctx := context.Background()

	res, err := e.Apply(ctx, "app.py", Replace(MustParsePath("0.7"), "x"), false)
	require.NoError(t, err)
	require.ErrorIs(t, res.Err(), ErrPath)
	assert.Equal(t, 1, res.Rejection.Segment)

	res, err = e.Apply(ctx, "app.py", Delete(RootPath()), false)
	require.NoError(t, err)
	assert.ErrorIs(t, res.Err(), ErrPath)

	res, err = e.ApplyRef(ctx, "app.py", "@nope", Replace(RootPath(), "x = 1\n"), false)
	require.NoError(t, err)
	assert.ErrorIs(t, res.Err(), ErrNotFound)

	assert.Equal(t, src, readFile(t, root, "app.py"))

	_, err = e.Apply(ctx, "missing.py", Replace(RootPath(), "x = 1\n"), false)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestApply_DryRun(t *testing.T) {
	t.Parallel()
	const src = "def f():\n    return 1\n"
	root := newProject(t, map[string]string{"app.py": src})
	e := newTestEngine(t, root)

	res, err := e.Apply(context.Background(), "app.py", Replace(MustParsePath("0.2.0"), "return 2"), true)
	require.NoError(t, err)
	assert.Equal(t, Validated, res.State)
	assert.Contains(t, res.Diff, "-    return 1")
	assert.Contains(t, res.Diff, "+    return 2")
	assert.Empty(t, res.RecordID)
	assert.Equal(t, src, readFile(t, root, "app.py"))

	recs, err := e.History("app.py", 0)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestApply_InsertAndDelete(t *testing.T) {
	t.Parallel()
	root := newProject(t, map[string]string{"app.py": "def f():\n    a = 1\n    b = 2\n"})
	e := newTestEngine(t, root)
	ctx := context.Background()

	res, err := e.Apply(ctx, "app.py", InsertChild(MustParsePath("0.2"), 0, "z = 0", PlaceAfter), false)
	require.NoError(t, err)
	require.NoError(t, res.Err())
	assert.Equal(t, "def f():\n    a = 1\n    z = 0\n    b = 2\n", readFile(t, root, "app.py"))

	res, err = e.Apply(ctx, "app.py", Delete(MustParsePath("0.2.0")), false)
	require.NoError(t, err)
	require.NoError(t, res.Err())
	assert.Equal(t, "def f():\n    z = 0\n    b = 2\n", readFile(t, root, "app.py"))

	recs, err := e.History("app.py", 0)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, store.OpDelete, recs[0].Op)
	assert.Equal(t, store.OpInsert, recs[1].Op)
}

func TestApply_HookRejects(t *testing.T) {
	t.Parallel()
	const src = "def f():\n    return 1\n"
	root := newProject(t, map[string]string{"app.py": src})
	hooks := fstest.MapFS{
		"no_todo.risor": &fstest.MapFile{Data: []byte(`
if strings.contains(after, "TODO") {
	reject("TODO markers are not allowed")
}
warn("checked " + file)
`)},
	}
	e := newTestEngine(t, root, WithHooksFS(hooks))
	ctx := context.Background()

	res, err := e.Apply(ctx, "app.py", Replace(MustParsePath("0.2.0"), "return 1  # TODO"), false)
	require.NoError(t, err)
	require.ErrorIs(t, res.Err(), ErrValidation)
	assert.Contains(t, res.Rejection.Reason, "policy: no_todo.risor: TODO markers are not allowed")
	assert.Equal(t, src, readFile(t, root, "app.py"))

	res, err = e.Apply(ctx, "app.py", Replace(MustParsePath("0.2.0"), "return 2"), false)
	require.NoError(t, err)
	require.NoError(t, res.Err())
	assert.Equal(t, []string{"no_todo.risor: checked app.py"}, res.Warnings)
}

func TestApply_CancelledBeforeCommit(t *testing.T) {
	t.Parallel()
	const src = "x = 1\n"
	root := newProject(t, map[string]string{"notes.txt": src})
	e := newTestEngine(t, root)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.Apply(ctx, "notes.txt", Replace(RootPath(), "x = 2\n"), false)
	require.Error(t, err)
	assert.Equal(t, src, readFile(t, root, "notes.txt"))
}

func TestApply_JSONFile(t *testing.T) {
	t.Parallel()
	root := newProject(t, map[string]string{"cfg.json": `{"name": "a", "port": 80}`})
	e := newTestEngine(t, root)
	ctx := context.Background()

	// document > object > pair("port") > number
	res, err := e.Apply(ctx, "cfg.json", Replace(MustParsePath("0.1.0"), "8080"), false)
	require.NoError(t, err)
	require.NoError(t, res.Err())
	assert.Equal(t, `{"name": "a", "port": 8080}`, readFile(t, root, "cfg.json"))

	res, err = e.Apply(ctx, "cfg.json", Replace(MustParsePath("0.1.0"), "80,"), false)
	require.NoError(t, err)
	assert.ErrorIs(t, res.Err(), ErrValidation)
}

func TestScenario2_TagSurvivesSiblingInsert(t *testing.T) {
	t.Parallel()
	root := newProject(t, map[string]string{"app.py": "import os\n\ndef helper():\n    return 1\n\ndef main():\n    return 2\n"})
	e := newTestEngine(t, root)
	ctx := context.Background()

	tag, err := e.TagAdd(ctx, "app.py", "2", "main_fn", false)
	require.NoError(t, err)
	assert.Equal(t, "function_definition", tag.Kind)
	assert.Equal(t, "main", tag.NodeName)

	res, err := e.Apply(ctx, "app.py", InsertChild(RootPath(), 1, "def setup():\n    return 0", PlaceBefore), false)
	require.NoError(t, err)
	require.NoError(t, res.Err())
	assert.Equal(t,
		"import os\n\ndef setup():\n    return 0\n\ndef helper():\n    return 1\n\ndef main():\n    return 2\n",
		readFile(t, root, "app.py"))

	// The old path now names helper: the bare path hits the wrong node and
	// the tag refuses to resolve rather than follow it.
	loc, err := e.Show(ctx, "app.py", "2")
	require.NoError(t, err)
	assert.Equal(t, "helper", loc.Node.Name)

	_, _, err = e.TagResolve(ctx, "app.py", "main_fn")
	require.ErrorIs(t, err, ErrPath)
	assert.Contains(t, err.Error(), "stale tag")

	res, err = e.ApplyRef(ctx, "app.py", "@main_fn", Replace(RootPath(), "def main():\n    return 3"), false)
	require.NoError(t, err)
	assert.ErrorIs(t, res.Err(), ErrPath)

	// Explicit relocation rebinds the tag to main's new position.
	tag, err = e.TagRelocate(ctx, "app.py", "main_fn")
	require.NoError(t, err)
	assert.Equal(t, "3", tag.Path)

	res, err = e.ApplyRef(ctx, "app.py", "@main_fn", Replace(RootPath(), "def main():\n    return 3"), false)
	require.NoError(t, err)
	require.NoError(t, res.Err())
	assert.Equal(t, "3", res.Op.Path.String())
	assert.Contains(t, readFile(t, root, "app.py"), "def main():\n    return 3\n")
}

func TestTags_Deterministic(t *testing.T) {
	t.Parallel()
	root := newProject(t, map[string]string{"app.py": "def f():\n    return 1\n"})
	e := newTestEngine(t, root)
	ctx := context.Background()

	_, err := e.TagAdd(ctx, "app.py", "0.2.0", "ret", false)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		p, n, err := e.TagResolve(ctx, "app.py", "ret")
		require.NoError(t, err)
		assert.Equal(t, "0.2.0", p.String())
		assert.Equal(t, "return_statement", n.Kind)
	}

	_, err = e.TagAdd(ctx, "app.py", "0", "ret", false)
	assert.ErrorIs(t, err, ErrConflict)
	_, err = e.TagAdd(ctx, "app.py", "0.5", "other", false)
	assert.ErrorIs(t, err, ErrPath)

	require.NoError(t, e.TagRename("app.py", "ret", "body"))
	tags, err := e.TagList("app.py")
	require.NoError(t, err)
	require.Len(t, tags, 1)
	assert.Equal(t, "body", tags[0].Name)

	removed, err := e.TagRemove("app.py", "body")
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = e.TagRemove("app.py", "body")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestTags_ShiftedUnnamedNodeIsStale(t *testing.T) {
	t.Parallel()
	root := newProject(t, map[string]string{"app.py": "x = 1\ny = 2\n"})
	e := newTestEngine(t, root)
	ctx := context.Background()

	tag, err := e.TagAdd(ctx, "app.py", "1", "y_assign", false)
	require.NoError(t, err)
	assert.Equal(t, "expression_statement", tag.Kind)
	assert.Empty(t, tag.NodeName)

	res, err := e.Apply(ctx, "app.py", InsertChild(RootPath(), 0, "z = 0", PlaceBefore), false)
	require.NoError(t, err)
	require.NoError(t, res.Err())
	after := readFile(t, root, "app.py")

	// Path 1 now holds "x = 1": same kind, no name, different bytes.
	_, _, err = e.TagResolve(ctx, "app.py", "y_assign")
	require.ErrorIs(t, err, ErrPath)
	assert.Contains(t, err.Error(), "stale tag")

	res, err = e.ApplyRef(ctx, "app.py", "@y_assign", Replace(RootPath(), "y = 3"), false)
	require.NoError(t, err)
	assert.ErrorIs(t, res.Err(), ErrPath)
	assert.Equal(t, after, readFile(t, root, "app.py"))

	tag, err = e.TagRelocate(ctx, "app.py", "y_assign")
	require.NoError(t, err)
	assert.Equal(t, "2", tag.Path)
	loc, err := e.Show(ctx, "app.py", "@y_assign")
	require.NoError(t, err)
	assert.Equal(t, "y = 2", loc.Text)
}

func TestTags_FollowEditsInsideTaggedNode(t *testing.T) {
	t.Parallel()
	root := newProject(t, map[string]string{"app.py": "def f():\n    return 1\n"})
	e := newTestEngine(t, root)
	ctx := context.Background()

	_, err := e.TagAdd(ctx, "app.py", "0", "f_fn", false)
	require.NoError(t, err)
	_, err = e.TagAdd(ctx, "app.py", "0.2.0", "ret", false)
	require.NoError(t, err)

	resolvesTo := func(name, text string) {
		t.Helper()
		loc, err := e.Show(ctx, "app.py", "@"+name)
		require.NoError(t, err, name)
		assert.Equal(t, text, loc.Text, name)
	}

	res, err := e.ApplyRef(ctx, "app.py", "@ret", Replace(RootPath(), "return 2"), false)
	require.NoError(t, err)
	require.NoError(t, res.Err())
	resolvesTo("ret", "return 2")
	resolvesTo("f_fn", "def f():\n    return 2")

	_, err = e.Undo(ctx, "app.py", false)
	require.NoError(t, err)
	resolvesTo("ret", "return 1")
	resolvesTo("f_fn", "def f():\n    return 1")

	_, err = e.Redo(ctx, "app.py", false)
	require.NoError(t, err)
	resolvesTo("ret", "return 2")
}

func TestBatch_TagsCarriedAcrossItems(t *testing.T) {
	t.Parallel()
	root := newProject(t, map[string]string{"app.py": "def f():\n    return 1\n"})
	e := newTestEngine(t, root)
	ctx := context.Background()

	_, err := e.TagAdd(ctx, "app.py", "0", "f_fn", false)
	require.NoError(t, err)
	_, err = e.TagAdd(ctx, "app.py", "0.2.0", "ret", false)
	require.NoError(t, err)

	// The second item addresses f after the first changed its body.
	res, err := e.Batch(ctx, BatchRequest{Atomic: true, Items: []BatchItem{
		{File: "app.py", Ref: "@ret", Op: Replace(RootPath(), "return 5")},
		{File: "app.py", Ref: "@f_fn", Op: Replace(RootPath(), "def f():\n    return 6")},
	}})
	require.NoError(t, err)
	require.Empty(t, res.Rejections)
	assert.Equal(t, "def f():\n    return 6\n", readFile(t, root, "app.py"))

	loc, err := e.Show(ctx, "app.py", "@f_fn")
	require.NoError(t, err)
	assert.Equal(t, "def f():\n    return 6", loc.Text)

	// f was replaced wholesale, so the tag inside it no longer matches.
	_, _, err = e.TagResolve(ctx, "app.py", "ret")
	assert.ErrorIs(t, err, ErrPath)
}

func TestApply_RepairsUnparseableFile(t *testing.T) {
	t.Parallel()
	const broken = `{"a": 1,`
	root := newProject(t, map[string]string{"cfg.json": broken})
	e := newTestEngine(t, root)
	ctx := context.Background()

	tr, err := e.Analyze(ctx, "cfg.json")
	require.NoError(t, err)
	assert.Equal(t, "text", tr.Root.Kind)

	res, err := e.Apply(ctx, "cfg.json", Replace(RootPath(), `{"a": `), false)
	require.NoError(t, err)
	assert.ErrorIs(t, res.Err(), ErrValidation)
	rej, err := e.Store().Record(res.RecordID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusRejected, rej.Status)
	assert.Equal(t, store.HashSource([]byte(broken)), rej.PreHash)

	res, err = e.Apply(ctx, "cfg.json", Replace(RootPath(), `{"a": 1}`), false)
	require.NoError(t, err)
	require.NoError(t, res.Err())
	assert.Equal(t, `{"a": 1}`, readFile(t, root, "cfg.json"))

	recs, err := e.Store().Records(store.Query{File: "cfg.json"})
	require.NoError(t, err)
	assert.Len(t, recs, 2)

	_, err = e.Undo(ctx, "cfg.json", false)
	require.NoError(t, err)
	assert.Equal(t, broken, readFile(t, root, "cfg.json"))
}

func TestApply_Clone(t *testing.T) {
	t.Parallel()
	root := newProject(t, map[string]string{"list.json": `{"items": [1, 2], "extra": [3]}`})
	e := newTestEngine(t, root)
	ctx := context.Background()

	// Copy the first element of items to the end of extra.
	res, err := e.Apply(ctx, "list.json", Clone(MustParsePath("0.0.0.0"), MustParsePath("0.1.0"), 0, PlaceLast), false)
	require.NoError(t, err)
	require.NoError(t, res.Err())
	assert.Equal(t, `{"items": [1, 2], "extra": [3, 1]}`, readFile(t, root, "list.json"))

	rec, err := e.Store().Record(res.RecordID)
	require.NoError(t, err)
	assert.Equal(t, store.OpClone, rec.Op)
	assert.Equal(t, "0.1.0", rec.NodePath)

	res, err = e.Apply(ctx, "list.json", Clone(MustParsePath("0.9"), MustParsePath("0.1.0"), 0, PlaceLast), false)
	require.NoError(t, err)
	require.ErrorIs(t, res.Err(), ErrPath)
	assert.Equal(t, "0.9", res.Rejection.Path)
}

func TestFind(t *testing.T) {
	t.Parallel()
	root := newProject(t, map[string]string{"app.py": "def a():\n    pass\n\nclass C:\n    def a(self):\n        pass\n"})
	e := newTestEngine(t, root)
	ctx := context.Background()

	fns, err := e.Find(ctx, "app.py", "function_definition", "")
	require.NoError(t, err)
	require.Len(t, fns, 2)
	assert.Equal(t, "0", fns[0].Path.String())
	assert.Equal(t, "a", fns[1].Node.Name)
	assert.Contains(t, fns[1].Text, "def a(self)")

	named, err := e.Find(ctx, "app.py", "", "C")
	require.NoError(t, err)
	require.Len(t, named, 1)
	assert.Equal(t, "class_definition", named[0].Node.Kind)

	none, err := e.Find(ctx, "app.py", "while_statement", "")
	require.NoError(t, err)
	assert.Empty(t, none)
}
