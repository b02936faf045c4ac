package localfs

import (
	"os"
	"path/filepath"
	"testing"

	mirrorerrors "github.com/alexjbarnes/page-mirror/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTree(t *testing.T) *Tree {
	t.Helper()
	tree, err := New(t.TempDir())
	require.NoError(t, err)
	return tree
}

func TestNew_CreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "root")
	tree, err := New(dir)
	require.NoError(t, err)

	info, err := os.Stat(tree.Dir())
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestNew_EmptyDir(t *testing.T) {
	_, err := New("")
	assert.Error(t, err)
}

func TestOpen_MissingDirectory(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestOpen_File(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(f, []byte("x"), 0o644))

	_, err := Open(f)
	assert.ErrorContains(t, err, "not a directory")
}

func TestWriteReadFile(t *testing.T) {
	tree := testTree(t)
	require.NoError(t, tree.WriteFile("a/b/page.md", []byte("hello\n")))

	data, err := tree.ReadFile("a/b/page.md")
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(data))

	entries, err := os.ReadDir(filepath.Join(tree.Dir(), "a", "b"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file should not be left behind")
}

func TestDeleteFile_MissingIsNotError(t *testing.T) {
	tree := testTree(t)
	assert.NoError(t, tree.DeleteFile("nope.md"))
}

func TestResolve_RejectsTraversal(t *testing.T) {
	tree := testTree(t)

	for _, p := range []string{"../escape.md", "a/../../escape.md", "a\\..\\..\\x", "with\x00null"} {
		_, err := tree.ReadFile(p)
		assert.Error(t, err, p)
	}

	_, err := tree.Abs("../x")
	assert.ErrorIs(t, err, mirrorerrors.ErrPathTraversal)

	_, err = tree.Abs("")
	assert.Error(t, err)
}

func TestResolve_RejectsSymlinkEscape(t *testing.T) {
	tree := testTree(t)
	outside := t.TempDir()
	require.NoError(t, os.Symlink(outside, filepath.Join(tree.Dir(), "link")))

	err := tree.WriteFile("link/file.md", []byte("x"))
	assert.ErrorIs(t, err, mirrorerrors.ErrPathTraversal)
}

func TestMove(t *testing.T) {
	tree := testTree(t)
	require.NoError(t, tree.WriteFile("a.md", []byte("x")))

	require.NoError(t, tree.Move("a.md", "a/index.md"))
	assert.False(t, tree.Exists("a.md"))
	assert.True(t, tree.Exists("a/index.md"))
}

func TestMove_MissingSource(t *testing.T) {
	tree := testTree(t)
	err := tree.Move("missing.md", "b.md")
	assert.ErrorIs(t, err, mirrorerrors.ErrSourceMissing)
}

func TestPruneEmptyDirs(t *testing.T) {
	tree := testTree(t)
	require.NoError(t, tree.WriteFile("keep/x.md", []byte("x")))
	require.NoError(t, os.MkdirAll(filepath.Join(tree.Dir(), "keep", "empty", "deeper"), 0o755))

	tree.PruneEmptyDirs("keep/empty/deeper")

	assert.False(t, tree.Exists("keep/empty"))
	assert.True(t, tree.Exists("keep"), "non-empty parent must survive")
	assert.True(t, tree.Exists("keep/x.md"))
}

func TestPruneEmptyDirs_StopsAtRoot(t *testing.T) {
	tree := testTree(t)
	require.NoError(t, os.MkdirAll(filepath.Join(tree.Dir(), "only"), 0o755))

	tree.PruneEmptyDirs("only")
	tree.PruneEmptyDirs("")

	_, err := os.Stat(tree.Dir())
	assert.NoError(t, err)
	assert.False(t, tree.Exists("only"))
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"a/b.md", "a/b.md"},
		{"/a//b.md/", "a/b.md"},
		{"a\\b.md", "a/b.md"},
		{"a\u00a0b.md", "a b.md"},
		{".", ""},
		{"cafe\u0301.md", "caf\u00e9.md"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizePath(tt.in), tt.in)
	}
}

func TestListFiles(t *testing.T) {
	tree := testTree(t)
	require.NoError(t, tree.WriteFile("page.attachments/b.png", []byte("b")))
	require.NoError(t, tree.WriteFile("page.attachments/a.pdf", []byte("a")))
	require.NoError(t, tree.WriteFile("page.attachments/.hidden", []byte("h")))
	require.NoError(t, tree.WriteFile("page.attachments/sub/c.txt", []byte("c")))

	names, err := tree.ListFiles("page.attachments")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.pdf", "b.png"}, names)
}

func TestListFiles_MissingDir(t *testing.T) {
	tree := testTree(t)
	names, err := tree.ListFiles("nothing.attachments")
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestListFiles_Traversal(t *testing.T) {
	tree := testTree(t)
	_, err := tree.ListFiles("../outside")
	assert.ErrorIs(t, err, mirrorerrors.ErrPathTraversal)
}
