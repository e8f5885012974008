package store_test

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bibmerge/bibmerge/internal/store"
)

type testEntity struct {
	ID   string   `json:"id"`
	Name string   `json:"name"`
	Tags []string `json:"tags"`
}

func setupEntity(t *testing.T) *store.Entity[testEntity] {
	t.Helper()

	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return store.NewEntity[testEntity](db, "test:").
		WithIndex("tag", func(e *testEntity) []string { return e.Tags })
}

func listIDs(t *testing.T, seq func(func(*testEntity, error) bool)) []string {
	t.Helper()
	var out []string
	for e, err := range seq {
		require.NoError(t, err)
		out = append(out, e.ID)
	}
	return out
}

func TestEntity_SaveAndGet(t *testing.T) {
	e := setupEntity(t)
	ctx := context.Background()

	require.NoError(t, e.Save(ctx, "1", &testEntity{ID: "1", Name: "John Doe"}))

	got, err := e.Get(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, "John Doe", got.Name)

	_, err = e.Get(ctx, "2")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestEntity_IndexFollowsUpdates(t *testing.T) {
	e := setupEntity(t)
	ctx := context.Background()

	require.NoError(t, e.Save(ctx, "1", &testEntity{ID: "1", Tags: []string{"a", "b", "a"}}))
	require.NoError(t, e.Save(ctx, "2", &testEntity{ID: "2", Tags: []string{"b"}}))

	assert.Equal(t, []string{"1"}, listIDs(t, e.ListByIndex(ctx, "tag", "a")))
	assert.Equal(t, []string{"1", "2"}, listIDs(t, e.ListByIndex(ctx, "tag", "b")))

	_, err := e.Update(ctx, "1", func(v *testEntity) error {
		v.Tags = []string{"c"}
		return nil
	})
	require.NoError(t, err)

	assert.Empty(t, listIDs(t, e.ListByIndex(ctx, "tag", "a")))
	assert.Equal(t, []string{"2"}, listIDs(t, e.ListByIndex(ctx, "tag", "b")))
	assert.Equal(t, []string{"1"}, listIDs(t, e.ListByIndex(ctx, "tag", "c")))
}

func TestEntity_ListSkipsIndexKeys(t *testing.T) {
	e := setupEntity(t)
	ctx := context.Background()

	for _, id := range []string{"b", "a", "c"} {
		require.NoError(t, e.Save(ctx, id, &testEntity{ID: id, Tags: []string{"x"}}))
	}

	assert.Equal(t, []string{"a", "b", "c"}, listIDs(t, e.List(ctx)))
}

func TestEntity_UpdateMissing(t *testing.T) {
	e := setupEntity(t)

	_, err := e.Update(context.Background(), "nope", func(*testEntity) error { return nil })
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestEntity_MutateAbort(t *testing.T) {
	e := setupEntity(t)
	ctx := context.Background()
	require.NoError(t, e.Save(ctx, "1", &testEntity{ID: "1", Name: "before"}))

	boom := errors.New("boom")
	_, err := e.Update(ctx, "1", func(v *testEntity) error {
		v.Name = "after"
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := e.Get(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, "before", got.Name)
}

func TestEntity_Delete(t *testing.T) {
	e := setupEntity(t)
	ctx := context.Background()
	require.NoError(t, e.Save(ctx, "1", &testEntity{ID: "1", Tags: []string{"x"}}))

	require.NoError(t, e.Delete(ctx, "1"))
	require.NoError(t, e.Delete(ctx, "1"), "delete is idempotent")

	_, err := e.Get(ctx, "1")
	require.ErrorIs(t, err, store.ErrNotFound)
	assert.Empty(t, listIDs(t, e.ListByIndex(ctx, "tag", "x")))
}

func TestEntity_ConcurrentUpdates(t *testing.T) {
	e := setupEntity(t)
	ctx := context.Background()
	require.NoError(t, e.Save(ctx, "1", &testEntity{ID: "1"}))

	var wg sync.WaitGroup
	for i := range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.Update(ctx, "1", func(v *testEntity) error {
				v.Tags = append(v.Tags, string(rune('a'+i)))
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := e.Get(ctx, "1")
	require.NoError(t, err)
	assert.Len(t, got.Tags, 4)
	slices.Sort(got.Tags)
	assert.Equal(t, "a", got.Tags[0])
}
