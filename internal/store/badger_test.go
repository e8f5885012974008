package store_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bibmerge/bibmerge/internal/store"
	"github.com/bibmerge/bibmerge/internal/store/storetest"
)

func setupBadgerStore(t *testing.T) *store.BadgerStore {
	t.Helper()

	s, err := store.OpenBadgerInMemory(nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestBadgerConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		return setupBadgerStore(t)
	})
}

func TestBadgerReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.badger")

	s, err := store.OpenBadger(path, nil)
	require.NoError(t, err)
	rec := storetest.NewRecord("a.1", "a", "kalevala", "9789510114964")
	require.NoError(t, s.SaveRecord(context.Background(), rec))
	require.NoError(t, s.Close())

	s, err = store.OpenBadger(path, nil)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.GetRecord(context.Background(), "a.1")
	require.NoError(t, err)
	assert.Equal(t, []string{"9789510114964"}, got.ISBNKeys)

	var found []string
	for r, err := range s.FindCandidates(context.Background(), "isbn", "9789510114964", "b") {
		require.NoError(t, err)
		found = append(found, r.ID)
	}
	assert.Equal(t, []string{"a.1"}, found)
}

func TestBadgerClosed(t *testing.T) {
	s, err := store.OpenBadgerInMemory(nil)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = s.GetRecord(context.Background(), "a.1")
	require.ErrorIs(t, err, store.ErrClosed)
}
