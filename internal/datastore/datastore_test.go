package datastore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type doc struct {
	Name  string   `json:"name"`
	Items []string `json:"items"`
}

func open(t *testing.T, path string, backups int) *DataStore {
	t.Helper()
	cfg := DefaultConfig(path)
	cfg.AutoSaveInterval = 0
	cfg.BackupCount = backups
	ds, err := Open(cfg)
	require.NoError(t, err)
	return ds
}

func TestPutGetPersist(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "store.json")
	ds := open(t, path, 0)

	require.NoError(t, ds.Put("g1", doc{Name: "one", Items: []string{"a"}}))
	var got doc
	ok, err := ds.Get("g1", &got)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "one", got.Name)

	ok, err = ds.Get("missing", &got)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, ds.Close())

	reopened := open(t, path, 0)
	defer reopened.Close()
	var again doc
	ok, err = reopened.Get("g1", &again)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"a"}, again.Items)
	assert.Equal(t, []string{"g1"}, reopened.Keys())
}

func TestDeleteAndClosed(t *testing.T) {
	ds := open(t, filepath.Join(t.TempDir(), "store.json"), 0)
	require.NoError(t, ds.Put("k", 1))
	require.NoError(t, ds.Delete("k"))
	assert.Empty(t, ds.Keys())

	require.NoError(t, ds.Close())
	require.NoError(t, ds.Close())
	assert.ErrorIs(t, ds.Put("k", 1), ErrClosed)
	_, err := ds.Get("k", new(int))
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, ds.Flush(), ErrClosed)
}

func TestInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o644))
	_, err := Open(DefaultConfig(path))
	assert.Error(t, err)
}

func TestBackupsArePruned(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	ds := open(t, path, 2)
	defer ds.Close()

	for i := 0; i < 5; i++ {
		require.NoError(t, ds.Put("n", i))
		require.NoError(t, ds.Flush())
	}
	backups, err := filepath.Glob(path + ".backup.*")
	require.NoError(t, err)
	assert.LessOrEqual(t, len(backups), 2)
	assert.NotEmpty(t, backups)
}
