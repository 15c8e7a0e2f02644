package workspace

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWorkspace(t *testing.T) *Workspace {
	t.Helper()
	root := t.TempDir()
	ws, err := New(
		filepath.Join(root, "outputs"),
		filepath.Join(root, "inputs"),
		filepath.Join(root, "ComfyUI", "temp"),
	)
	require.NoError(t, err)
	return ws
}

func assertEmptyDir(t *testing.T, dir string) {
	t.Helper()
	info, err := os.Stat(dir)
	require.NoError(t, err, "directory %s should exist", dir)
	require.True(t, info.IsDir())
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "directory %s should be empty", dir)
}

func TestNewRequiresAllDirs(t *testing.T) {
	_, err := New("out", "", "temp")
	assert.Error(t, err)
}

func TestResetCreatesMissingDirs(t *testing.T) {
	ws := newTestWorkspace(t)
	ctx := context.Background()

	require.NoError(t, ws.Reset(ctx))
	for _, dir := range ws.Dirs() {
		assertEmptyDir(t, dir)
	}
}

func TestResetClearsPreviousArtifacts(t *testing.T) {
	ws := newTestWorkspace(t)
	ctx := context.Background()
	require.NoError(t, ws.Ensure(ctx))

	for _, dir := range ws.Dirs() {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "stale.png"), []byte("old"), 0644))
		nested := filepath.Join(dir, "sub", "deeper")
		require.NoError(t, os.MkdirAll(nested, 0755))
		require.NoError(t, os.WriteFile(filepath.Join(nested, "stale.txt"), []byte("old"), 0644))
	}

	require.NoError(t, ws.Reset(ctx))
	for _, dir := range ws.Dirs() {
		assertEmptyDir(t, dir)
	}

	// resetting an already clean workspace is harmless
	require.NoError(t, ws.Reset(ctx))
	for _, dir := range ws.Dirs() {
		assertEmptyDir(t, dir)
	}
}

func TestEnsureKeepsContents(t *testing.T) {
	ws := newTestWorkspace(t)
	ctx := context.Background()
	require.NoError(t, ws.Ensure(ctx))

	keep := filepath.Join(ws.OutputDir(), "keep.png")
	require.NoError(t, os.WriteFile(keep, []byte("x"), 0644))
	require.NoError(t, ws.Ensure(ctx))

	_, err := os.Stat(keep)
	assert.NoError(t, err)
}

func TestMaterializeInputKeepsExtension(t *testing.T) {
	ws := newTestWorkspace(t)
	ctx := context.Background()
	require.NoError(t, ws.Reset(ctx))

	src := filepath.Join(t.TempDir(), "holiday_photo.JPEG")
	require.NoError(t, os.WriteFile(src, []byte("jpeg bytes"), 0644))

	name, err := ws.MaterializeInput(ctx, src, "image")
	require.NoError(t, err)
	assert.Equal(t, "image.JPEG", name)

	data, err := os.ReadFile(filepath.Join(ws.InputDir(), name))
	require.NoError(t, err)
	assert.Equal(t, "jpeg bytes", string(data))
}

func TestListFilesIsSortedAndRecursive(t *testing.T) {
	ws := newTestWorkspace(t)
	ctx := context.Background()
	require.NoError(t, ws.Reset(ctx))

	out := ws.OutputDir()
	require.NoError(t, os.MkdirAll(filepath.Join(out, "sub"), 0755))
	for _, name := range []string{"ComfyUI_00002_.png", "ComfyUI_00001_.png", "sub/ComfyUI_00003_.png"} {
		require.NoError(t, os.WriteFile(filepath.Join(out, name), []byte("png"), 0644))
	}

	files, err := ws.ListFiles(ctx, out)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(out, "ComfyUI_00001_.png"),
		filepath.Join(out, "ComfyUI_00002_.png"),
		filepath.Join(out, "sub", "ComfyUI_00003_.png"),
	}, files)
}
