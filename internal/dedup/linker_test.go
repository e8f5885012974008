package dedup_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bibmerge/bibmerge/internal/dedup"
	domainerrors "github.com/bibmerge/bibmerge/internal/errors"
	"github.com/bibmerge/bibmerge/internal/store"
)

func TestLinker_MintsThenPropagates(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	l := dedup.NewLinker(s, nil)

	a := put(t, s, "a.1", "a", book("Kalevala"))
	b := put(t, s, "b.1", "b", book("Kalevala"))
	c := put(t, s, "c.1", "c", book("Kalevala"))

	key, err := l.Link(ctx, a, b)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(key, "dedup-"), key)
	assert.Equal(t, key, a.DedupKey, "caller's records reflect stored state")
	assert.Equal(t, key, get(t, s, "a.1").DedupKey)
	assert.Equal(t, key, get(t, s, "b.1").DedupKey)

	aBefore := get(t, s, "a.1").UpdatedAt
	time.Sleep(2 * time.Millisecond)

	key2, err := l.Link(ctx, a, c)
	require.NoError(t, err)
	assert.Equal(t, key, key2)
	assert.Equal(t, key, get(t, s, "c.1").DedupKey)
	assert.True(t, aBefore.Equal(get(t, s, "a.1").UpdatedAt), "a is left unchanged")
}

func TestLinker_TakesCandidateKey(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	l := dedup.NewLinker(s, nil)

	a := put(t, s, "a.1", "a", book("Kalevala"))
	b := newRecord(t, "b.1", "b", book("Kalevala"))
	b.DedupKey = "dedup-existing"
	require.NoError(t, s.SaveRecord(ctx, b))

	key, err := l.Link(ctx, a, b)
	require.NoError(t, err)
	assert.Equal(t, "dedup-existing", key)
	assert.Equal(t, "dedup-existing", get(t, s, "a.1").DedupKey)
}

func TestLinker_SameKeyIsNoop(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	l := dedup.NewLinker(s, nil)

	a := put(t, s, "a.1", "a", book("Kalevala"))
	b := put(t, s, "b.1", "b", book("Kalevala"))
	key, err := l.Link(ctx, a, b)
	require.NoError(t, err)

	before := get(t, s, "b.1").UpdatedAt
	time.Sleep(2 * time.Millisecond)

	again, err := l.Link(ctx, b, a)
	require.NoError(t, err)
	assert.Equal(t, key, again)
	assert.True(t, before.Equal(get(t, s, "b.1").UpdatedAt), "nothing is written")
}

func TestLinker_UsesStoredState(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	l := dedup.NewLinker(s, nil)

	a := put(t, s, "a.1", "a", book("Kalevala"))
	b := put(t, s, "b.1", "b", book("Kalevala"))

	// Another pass linked b after our copy was read.
	_, err := s.SetDedupKey(ctx, "b.1", "dedup-concurrent")
	require.NoError(t, err)

	key, err := l.Link(ctx, a, b)
	require.NoError(t, err)
	assert.Equal(t, "dedup-concurrent", key)
	assert.Equal(t, "dedup-concurrent", get(t, s, "a.1").DedupKey)
}

func TestLinker_RefusesDeletedRecord(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	l := dedup.NewLinker(s, nil)

	a := put(t, s, "a.1", "a", book("Kalevala"))
	b := put(t, s, "b.1", "b", book("Kalevala"))
	_, err := s.MarkSourceDeleted(ctx, "b")
	require.NoError(t, err)

	_, err = l.Link(ctx, a, b)
	require.Error(t, err)
	assert.Equal(t, domainerrors.CodeConflict, domainerrors.CodeOf(err))
	assert.Empty(t, get(t, s, "a.1").DedupKey)
}

func TestLinker_Clear(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	l := dedup.NewLinker(s, nil)

	a := put(t, s, "a.1", "a", book("Kalevala"))
	b := put(t, s, "b.1", "b", book("Kalevala"))
	key, err := l.Link(ctx, a, b)
	require.NoError(t, err)

	cleared, err := l.Clear(ctx, a)
	require.NoError(t, err)
	assert.True(t, cleared)
	assert.Empty(t, a.DedupKey)
	assert.Empty(t, get(t, s, "a.1").DedupKey)
	assert.Equal(t, key, get(t, s, "b.1").DedupKey, "other members keep the key")

	cleared, err = l.Clear(ctx, a)
	require.NoError(t, err)
	assert.False(t, cleared)
}

func TestLinker_ClearMissingRecord(t *testing.T) {
	s := newStore(t)
	l := dedup.NewLinker(s, nil)

	_, err := l.Clear(context.Background(), newRecord(t, "a.404", "a", book("x")))
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestLinker_ConcurrentLinksShareOneCluster(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	l := dedup.NewLinker(s, nil)

	hub := put(t, s, "a.1", "a", book("Kalevala"))
	ids := []string{"b.1", "c.1", "d.1", "e.1", "f.1"}
	for _, id := range ids {
		put(t, s, id, id[:1], book("Kalevala"))
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		other := get(t, s, id)
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Link(ctx, hub.Clone(), other)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	key := get(t, s, "a.1").DedupKey
	require.NotEmpty(t, key)
	for _, id := range ids {
		assert.Equal(t, key, get(t, s, id).DedupKey, id)
	}
}
