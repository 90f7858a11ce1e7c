package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/graft"
)

func TestFindProjectRoot_GraftDir(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, ".graft"), 0o755))
	deep := filepath.Join(root, "sub", "deep")
	require.NoError(t, os.MkdirAll(deep, 0o755))

	assert.Equal(t, root, findProjectRoot(deep))
}

func TestFindProjectRoot_GitDir(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, ".git"), 0o755))

	assert.Equal(t, root, findProjectRoot(root))
}

func TestFindProjectRoot_NearestWins(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, ".git"), 0o755))
	inner := filepath.Join(root, "pkg")
	require.NoError(t, os.MkdirAll(filepath.Join(inner, ".graft"), 0o755))

	assert.Equal(t, inner, findProjectRoot(filepath.Join(inner)))
}

func TestFindProjectRoot_NoMarker(t *testing.T) {
	t.Parallel()
	// TempDir has no .git or .graft directory anywhere in its ancestry
	// (unless /tmp itself is a repo, which would be unusual).
	dir := t.TempDir()
	assert.Equal(t, dir, findProjectRoot(dir))
}

func TestValidateFormat(t *testing.T) {
	t.Parallel()
	assert.NoError(t, validateFormat("json"))
	assert.NoError(t, validateFormat("text"))
	assert.ErrorContains(t, validateFormat("yaml"), `invalid format "yaml"`)
}

func TestToCLITree_Depth(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.json"), []byte(`{"a": [1, 2]}`), 0o644))
	e, err := graft.New(root, graft.WithConfig(graft.DefaultConfig()))
	require.NoError(t, err)
	defer e.Close()

	tr, err := e.Analyze(context.Background(), "a.json")
	require.NoError(t, err)

	var paths []string
	for _, n := range toCLITree("a.json", tr, 2).Nodes {
		paths = append(paths, n.Path)
	}
	if diff := cmp.Diff([]string{"", "0", "0.0"}, paths); diff != "" {
		t.Errorf("paths mismatch (-want +got):\n%s", diff)
	}

	full := toCLITree("a.json", tr, 0)
	assert.Len(t, full.Nodes, 6)
	last := full.Nodes[len(full.Nodes)-1]
	assert.Equal(t, "0.0.0.1", last.Path)
	assert.Equal(t, "number", last.Kind)
}

func TestToCLIEdit_Rejection(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.json"), []byte(`{"a": 1}`), 0o644))
	e, err := graft.New(root, graft.WithConfig(graft.DefaultConfig()))
	require.NoError(t, err)
	defer e.Close()

	res, err := e.Apply(context.Background(), "a.json", graft.Replace(graft.MustParsePath("0.3"), "2"), true)
	require.NoError(t, err)

	out := toCLIEdit(res)
	assert.Equal(t, "rejected", out.State)
	require.NotNil(t, out.Rejection)
	assert.Equal(t, "path", out.Rejection.Kind)
	assert.Equal(t, 1, out.Rejection.Segment)
}

func TestTagResolveHelp_MentionsRelocate(t *testing.T) {
	t.Parallel()
	assert.Contains(t, tagResolveCmd.Long, "stale")
	assert.Contains(t, tagResolveCmd.Long, "graft tag relocate")
}
