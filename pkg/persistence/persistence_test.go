package persistence

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type doc struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestJSONFileStore_SaveLoadDelete(t *testing.T) {
	svc := NewJSONFileService(t.TempDir())
	store := svc.NewStore("accounts", "book", "v1")

	var got doc
	assert.ErrorIs(t, store.Load(&got), ErrNotExists)

	require.NoError(t, store.Save(doc{Name: "a", Count: 2}))
	require.NoError(t, store.Load(&got))
	assert.Equal(t, doc{Name: "a", Count: 2}, got)

	info, err := os.Stat(store.(*JSONFileStore).Path())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	require.NoError(t, store.Delete())
	require.NoError(t, store.Delete())
	assert.ErrorIs(t, store.Load(&got), ErrNotExists)
}
