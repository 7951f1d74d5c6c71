package storage

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemDBPutGet(t *testing.T) {
	db := NewMemDB()
	defer db.Close()

	_, err := db.Get([]byte("missing"))
	require.True(t, errors.Is(err, ErrNotFound))

	value := []byte("v1")
	require.NoError(t, db.Put([]byte("k"), value))
	value[0] = 'x'

	got, err := db.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("v1"), got)
	require.NotNil(t, db.TrieDB())
}

func TestLevelDBReopenKeepsMetadata(t *testing.T) {
	dir := t.TempDir()

	db, err := NewLevelDB(dir)
	require.NoError(t, err)
	_, err = db.Get([]byte("height"))
	require.True(t, errors.Is(err, ErrNotFound))
	require.NoError(t, db.Put([]byte("height"), []byte{0x07}))
	db.Close()

	reopened, err := NewLevelDB(dir)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Get([]byte("height"))
	require.NoError(t, err)
	require.Equal(t, []byte{0x07}, got)
}
