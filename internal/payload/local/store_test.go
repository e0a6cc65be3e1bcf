package local

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fcdockets/imm-crawler/internal/caseid"
)

func TestNewValidatesBaseDir(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)

	file := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
	_, err = New(Config{BaseDir: file})
	require.Error(t, err)
}

func TestNewCreatesMissingBaseDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "payloads")
	_, err := New(Config{BaseDir: dir})
	require.NoError(t, err)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	require.True(t, info.IsDir())
}

func TestPersistWritesUnderYearDir(t *testing.T) {
	dir := t.TempDir()
	store, err := New(Config{BaseDir: dir})
	require.NoError(t, err)

	id := caseid.ID{Year: "25", Number: 1042}
	ref, err := store.Persist(context.Background(), id, []byte("<html>docket</html>"))
	require.NoError(t, err)

	path := filepath.Join(dir, "25", "IMM-1042-25.html")
	require.Equal(t, "file://"+path, ref)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "<html>docket</html>", string(data))

	_, err = os.Stat(path + ".tmp")
	require.True(t, os.IsNotExist(err))
}

func TestPersistOverwritesExisting(t *testing.T) {
	dir := t.TempDir()
	store, err := New(Config{BaseDir: dir})
	require.NoError(t, err)

	id := caseid.ID{Year: "25", Number: 7}
	_, err = store.Persist(context.Background(), id, []byte("first"))
	require.NoError(t, err)
	_, err = store.Persist(context.Background(), id, []byte("second"))
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, "25", "IMM-7-25.html"))
	require.NoError(t, err)
	require.Equal(t, "second", string(data))
}

func TestPersistRejectsPathTraversal(t *testing.T) {
	dir := t.TempDir()
	store, err := New(Config{BaseDir: dir})
	require.NoError(t, err)

	id := caseid.ID{Year: "../..", Number: 1}
	_, err = store.Persist(context.Background(), id, []byte("x"))
	require.ErrorContains(t, err, "path traversal")
}
