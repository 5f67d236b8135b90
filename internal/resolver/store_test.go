package resolver

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_InsertAndLookup(t *testing.T) {
	// Given: an in-memory store
	s, err := openStore("")
	require.NoError(t, err)
	defer func() { _ = s.close() }()

	// When: a binding is inserted
	id := uuid.New()
	require.NoError(t, s.insert(context.Background(), "movies", id))

	// Then: lookup finds it
	got, found, err := s.lookup(context.Background(), "movies")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, id, got)

	// And: other names stay unbound
	_, found, err = s.lookup(context.Background(), "books")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestStore_RemoveReportsExistence(t *testing.T) {
	// Given: a store with one binding
	s, err := openStore("")
	require.NoError(t, err)
	defer func() { _ = s.close() }()
	require.NoError(t, s.insert(context.Background(), "movies", uuid.New()))

	// When: the binding is removed twice
	existed, err := s.remove(context.Background(), "movies")
	require.NoError(t, err)
	assert.True(t, existed)

	existed, err = s.remove(context.Background(), "movies")
	require.NoError(t, err)
	assert.False(t, existed)
}

func TestStore_SwapLeavesNothingChangedOnFailure(t *testing.T) {
	// Given: a store with a single binding
	s, err := openStore("")
	require.NoError(t, err)
	defer func() { _ = s.close() }()
	id := uuid.New()
	require.NoError(t, s.insert(context.Background(), "movies", id))

	// When: swapping against an unbound name
	err = s.swap(context.Background(), "movies", "ghost")

	// Then: the swap fails
	require.Error(t, err)

	// And: the existing binding is intact
	got, found, err := s.lookup(context.Background(), "movies")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, id, got)
}

func TestStore_BindingsSurviveReopen(t *testing.T) {
	// Given: a binding written to disk
	path := filepath.Join(t.TempDir(), "uuids.db")
	s, err := openStore(path)
	require.NoError(t, err)
	id := uuid.New()
	require.NoError(t, s.insert(context.Background(), "movies", id))
	require.NoError(t, s.close())

	// When: the store is reopened
	s2, err := openStore(path)
	require.NoError(t, err)
	defer func() { _ = s2.close() }()

	// Then: the binding is still present
	got, found, err := s2.lookup(context.Background(), "movies")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, id, got)
}

func TestStore_RefusesCorruptedFile(t *testing.T) {
	// Given: a file that is not a sqlite database
	path := filepath.Join(t.TempDir(), "uuids.db")
	require.NoError(t, os.WriteFile(path, []byte("not a database"), 0644))

	// When: opening the store on it
	_, err := openStore(path)

	// Then: the open is refused rather than clearing the file
	require.Error(t, err)
	data, readErr := os.ReadFile(path)
	require.NoError(t, readErr)
	assert.Equal(t, []byte("not a database"), data)
}
