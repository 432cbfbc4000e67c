package repo_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danieljhkim/deltaserve/internal/fsops"
	"github.com/danieljhkim/deltaserve/internal/repo"
	"github.com/danieljhkim/deltaserve/internal/repo/repotest"
)

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for p, content := range files {
		full := filepath.Join(dir, filepath.FromSlash(p))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0644))
	}
	return dir
}

func TestImportTree(t *testing.T) {
	ctx := context.Background()
	r := repotest.New(t)

	dir := writeTree(t, map[string]string{
		"README":          "hello\n",
		"src/main.go":     "package main\n",
		".git/config":     "ignored",
		"src/lib/util.go": "package lib\n",
	})

	rev, err := r.ImportTree(ctx, fsops.NewOSFS(dir), repo.ImportOptions{
		Dest:   "project/trunk",
		Author: "importer",
		Log:    "import",
		Ignore: []string{".git"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), rev)

	root, err := r.Root(ctx, rev)
	require.NoError(t, err)

	for _, p := range []string{"project", "project/trunk", "project/trunk/src", "project/trunk/src/lib"} {
		node, err := root.Node(p)
		require.NoError(t, err, p)
		assert.True(t, node.IsDir(), p)
	}

	node, err := root.Node("project/trunk/src/lib/util.go")
	require.NoError(t, err)
	data, err := r.ReadContent(ctx, node.ContentID)
	require.NoError(t, err)
	assert.Equal(t, "package lib\n", string(data))

	_, err = root.Node("project/trunk/.git")
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestImportTree_Reimport(t *testing.T) {
	ctx := context.Background()
	r := repotest.New(t)

	first := writeTree(t, map[string]string{"a.txt": "one\n", "b.txt": "b\n"})
	_, err := r.ImportTree(ctx, fsops.NewOSFS(first), repo.ImportOptions{})
	require.NoError(t, err)

	second := writeTree(t, map[string]string{"a.txt": "two\n"})
	rev, err := r.ImportTree(ctx, fsops.NewOSFS(second), repo.ImportOptions{})
	require.NoError(t, err)

	root, err := r.Root(ctx, rev)
	require.NoError(t, err)
	a, err := root.Node("a.txt")
	require.NoError(t, err)
	assert.Equal(t, rev, a.CreatedRev)
	b, err := root.Node("b.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(1), b.CreatedRev, "import never deletes")
}
