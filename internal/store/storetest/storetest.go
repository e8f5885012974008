// Package storetest holds the behavior every store.Store implementation must
// share. Backend packages call Run from their own tests.
package storetest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bibmerge/bibmerge/internal/domain"
	"github.com/bibmerge/bibmerge/internal/store"
)

// Opener returns a fresh, empty store closed by test cleanup.
type Opener func(t *testing.T) store.Store

// NewRecord builds a live record with the given blocking keys.
func NewRecord(id, sourceID, title string, isbns ...string) *domain.Record {
	return &domain.Record{
		ID:             id,
		SourceID:       sourceID,
		DataFormat:     "json",
		Format:         "Book",
		OriginalData:   fmt.Sprintf(`{"title":%q}`, title),
		NormalizedData: fmt.Sprintf(`{"title":%q}`, title),
		TitleKeys:      []string{title},
		ISBNKeys:       isbns,
	}
}

// Run executes the shared suite.
func Run(t *testing.T, open Opener) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"SaveAndGet", testSaveAndGet},
		{"GetMissing", testGetMissing},
		{"ResaveKeepsCreatedAt", testResaveKeepsCreatedAt},
		{"ResaveReplacesKeys", testResaveReplacesKeys},
		{"FindCandidates", testFindCandidates},
		{"FindCandidatesExactKey", testFindCandidatesExactKey},
		{"FindCandidatesEarlyStop", testFindCandidatesEarlyStop},
		{"FindCandidatesWhileWriting", testFindCandidatesWhileWriting},
		{"DedupKeys", testDedupKeys},
		{"ClusterHasSource", testClusterHasSource},
		{"ClusterAfterKeyChange", testClusterAfterKeyChange},
		{"ClearUpdateNeeded", testClearUpdateNeeded},
		{"MarkSourceDeleted", testMarkSourceDeleted},
		{"StreamFilters", testStreamFilters},
		{"StreamManyPages", testStreamManyPages},
		{"CountBySource", testCountBySource},
		{"State", testState},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, open(t))
		})
	}
}

func save(t *testing.T, s store.Store, records ...*domain.Record) {
	t.Helper()
	for _, r := range records {
		require.NoError(t, s.SaveRecord(context.Background(), r))
	}
}

func ids(t *testing.T, seq func(func(*domain.Record, error) bool)) []string {
	t.Helper()
	var out []string
	for r, err := range seq {
		require.NoError(t, err)
		out = append(out, r.ID)
	}
	return out
}

func testSaveAndGet(t *testing.T, s store.Store) {
	ctx := context.Background()
	r := NewRecord("a.1", "a", "kalevala", "9789510114964", "9780306406157")
	r.OAIID = "oai:a:1"
	r.HostRecordID = "a.0"
	r.ContentHash = "abc"
	r.UpdateNeeded = true
	save(t, s, r)

	assert.False(t, r.CreatedAt.IsZero(), "timestamps are set on save")

	got, err := s.GetRecord(ctx, "a.1")
	require.NoError(t, err)
	assert.Equal(t, r.ID, got.ID)
	assert.Equal(t, "a", got.SourceID)
	assert.Equal(t, "oai:a:1", got.OAIID)
	assert.Equal(t, "a.0", got.HostRecordID)
	assert.Equal(t, "json", got.DataFormat)
	assert.Equal(t, "Book", got.Format)
	assert.Equal(t, r.NormalizedData, got.NormalizedData)
	assert.Equal(t, "abc", got.ContentHash)
	assert.Equal(t, []string{"kalevala"}, got.TitleKeys)
	assert.Equal(t, []string{"9789510114964", "9780306406157"}, got.ISBNKeys)
	assert.True(t, got.UpdateNeeded)
	assert.False(t, got.Deleted)
	assert.Empty(t, got.DedupKey)
	assert.True(t, r.CreatedAt.Equal(got.CreatedAt))
	assert.True(t, r.UpdatedAt.Equal(got.UpdatedAt))
}

func testGetMissing(t *testing.T, s store.Store) {
	_, err := s.GetRecord(context.Background(), "nope")
	require.ErrorIs(t, err, store.ErrNotFound)

	_, err = s.SetDedupKey(context.Background(), "nope", "dedup-x")
	require.ErrorIs(t, err, store.ErrNotFound)

	_, err = s.GetState(context.Background(), "nope")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func testResaveKeepsCreatedAt(t *testing.T, s store.Store) {
	ctx := context.Background()
	r := NewRecord("a.1", "a", "kalevala")
	save(t, s, r)
	created := r.CreatedAt
	firstUpdate := r.UpdatedAt

	time.Sleep(2 * time.Millisecond)

	again := NewRecord("a.1", "a", "kalevala")
	save(t, s, again)

	got, err := s.GetRecord(ctx, "a.1")
	require.NoError(t, err)
	assert.True(t, created.Equal(got.CreatedAt))
	assert.True(t, got.UpdatedAt.After(firstUpdate))
}

func testResaveReplacesKeys(t *testing.T, s store.Store) {
	ctx := context.Background()
	save(t, s, NewRecord("a.1", "a", "old title", "9780306406157"))
	save(t, s, NewRecord("a.1", "a", "new title"))

	assert.Empty(t, ids(t, s.FindCandidates(ctx, domain.KeyTypeTitle, "old title", "z")))
	assert.Empty(t, ids(t, s.FindCandidates(ctx, domain.KeyTypeISBN, "9780306406157", "z")))
	assert.Equal(t, []string{"a.1"}, ids(t, s.FindCandidates(ctx, domain.KeyTypeTitle, "new title", "z")))
}

func testFindCandidates(t *testing.T, s store.Store) {
	ctx := context.Background()
	deleted := NewRecord("c.9", "c", "kalevala")
	deleted.Deleted = true
	save(t, s,
		NewRecord("b.2", "b", "kalevala", "9789510114964"),
		NewRecord("a.1", "a", "kalevala"),
		NewRecord("c.1", "c", "kalevala", "9789510114964"),
		NewRecord("a.2", "a", "aarnien aika"),
		deleted,
	)

	assert.Equal(t, []string{"b.2", "c.1"}, ids(t, s.FindCandidates(ctx, domain.KeyTypeTitle, "kalevala", "a")),
		"same-source and deleted records are excluded, order is by id")
	assert.Equal(t, []string{"c.1"}, ids(t, s.FindCandidates(ctx, domain.KeyTypeISBN, "9789510114964", "b")))
	assert.Empty(t, ids(t, s.FindCandidates(ctx, domain.KeyTypeISBN, "kalevala", "x")),
		"title keys are not isbn keys")
	assert.Empty(t, ids(t, s.FindCandidates(ctx, domain.KeyTypeTitle, "", "x")))
}

func testFindCandidatesExactKey(t *testing.T, s store.Store) {
	ctx := context.Background()
	save(t, s,
		NewRecord("a.1", "a", "kalevala"),
		NewRecord("a.2", "a", "kalevala runot"),
		NewRecord("a.3", "a", "kale"),
	)

	assert.Equal(t, []string{"a.1"}, ids(t, s.FindCandidates(ctx, domain.KeyTypeTitle, "kalevala", "x")))
	assert.Equal(t, []string{"a.3"}, ids(t, s.FindCandidates(ctx, domain.KeyTypeTitle, "kale", "x")))
}

func testFindCandidatesEarlyStop(t *testing.T, s store.Store) {
	ctx := context.Background()
	for i := range 10 {
		save(t, s, NewRecord(fmt.Sprintf("b.%02d", i), "b", "common"))
	}

	seen := 0
	for r, err := range s.FindCandidates(ctx, domain.KeyTypeTitle, "common", "a") {
		require.NoError(t, err)
		require.NotNil(t, r)
		seen++
		if seen == 3 {
			break
		}
	}
	assert.Equal(t, 3, seen)
}

func testFindCandidatesWhileWriting(t *testing.T, s store.Store) {
	ctx := context.Background()
	for i := range 300 {
		save(t, s, NewRecord(fmt.Sprintf("b.%03d", i), "b", "common"))
	}

	n := 0
	for r, err := range s.FindCandidates(ctx, domain.KeyTypeTitle, "common", "a") {
		require.NoError(t, err)
		_, err := s.SetDedupKey(ctx, r.ID, "dedup-all")
		require.NoError(t, err)
		n++
	}
	assert.Equal(t, 300, n)

	members, err := s.FindByDedupKey(ctx, "dedup-all")
	require.NoError(t, err)
	assert.Len(t, members, 300)
}

func testDedupKeys(t *testing.T, s store.Store) {
	ctx := context.Background()
	r := NewRecord("a.1", "a", "kalevala")
	save(t, s, r)
	before := r.UpdatedAt

	time.Sleep(2 * time.Millisecond)

	got, err := s.SetDedupKey(ctx, "a.1", "dedup-1")
	require.NoError(t, err)
	assert.Equal(t, "dedup-1", got.DedupKey)
	assert.True(t, got.UpdatedAt.After(before), "UpdatedAt is bumped")
	assert.Equal(t, []string{"kalevala"}, got.TitleKeys, "other fields are untouched")

	save(t, s, NewRecord("b.1", "b", "kalevala"))
	_, err = s.SetDedupKey(ctx, "b.1", "dedup-1")
	require.NoError(t, err)

	members, err := s.FindByDedupKey(ctx, "dedup-1")
	require.NoError(t, err)
	require.Len(t, members, 2)
	assert.Equal(t, "a.1", members[0].ID)
	assert.Equal(t, "b.1", members[1].ID)

	got, err = s.SetDedupKey(ctx, "a.1", "")
	require.NoError(t, err)
	assert.Empty(t, got.DedupKey)

	members, err = s.FindByDedupKey(ctx, "dedup-1")
	require.NoError(t, err)
	assert.Len(t, members, 1)

	none, err := s.FindByDedupKey(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testClusterHasSource(t *testing.T, s store.Store) {
	ctx := context.Background()
	a := NewRecord("a.1", "a", "x")
	a.DedupKey = "dedup-1"
	gone := NewRecord("c.1", "c", "x")
	gone.DedupKey = "dedup-1"
	gone.Deleted = true
	save(t, s, a, gone)

	has, err := s.ClusterHasSource(ctx, "dedup-1", "a")
	require.NoError(t, err)
	assert.True(t, has)

	has, err = s.ClusterHasSource(ctx, "dedup-1", "b")
	require.NoError(t, err)
	assert.False(t, has)

	has, err = s.ClusterHasSource(ctx, "dedup-1", "c")
	require.NoError(t, err)
	assert.False(t, has, "tombstones do not count")

	has, err = s.ClusterHasSource(ctx, "", "a")
	require.NoError(t, err)
	assert.False(t, has)
}

func testClusterAfterKeyChange(t *testing.T, s store.Store) {
	ctx := context.Background()
	a := NewRecord("a.1", "a", "x")
	a.DedupKey = "dedup-1"
	b := NewRecord("b.1", "b", "x")
	b.DedupKey = "dedup-1"
	save(t, s, a, b)

	_, err := s.SetDedupKey(ctx, "a.1", "")
	require.NoError(t, err)

	has, err := s.ClusterHasSource(ctx, "dedup-1", "a")
	require.NoError(t, err)
	assert.False(t, has, "a record that left the cluster no longer counts for its source")

	members, err := s.FindByDedupKey(ctx, "dedup-1")
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Equal(t, "b.1", members[0].ID)

	_, err = s.SetDedupKey(ctx, "b.1", "dedup-2")
	require.NoError(t, err)

	members, err = s.FindByDedupKey(ctx, "dedup-1")
	require.NoError(t, err)
	assert.Empty(t, members)
	members, err = s.FindByDedupKey(ctx, "dedup-2")
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Equal(t, "dedup-2", members[0].DedupKey)
}

func testClearUpdateNeeded(t *testing.T, s store.Store) {
	ctx := context.Background()
	r := NewRecord("a.1", "a", "x")
	r.UpdateNeeded = true
	save(t, s, r)

	require.NoError(t, s.ClearUpdateNeeded(ctx, "a.1"))

	got, err := s.GetRecord(ctx, "a.1")
	require.NoError(t, err)
	assert.False(t, got.UpdateNeeded)

	for r, err := range s.StreamRecords(ctx, store.RecordFilter{UpdateNeeded: true}) {
		require.NoError(t, err)
		assert.Failf(t, "cleared record still listed as dirty", "record %s", r.ID)
	}

	require.ErrorIs(t, s.ClearUpdateNeeded(ctx, "missing"), store.ErrNotFound)
}

func testMarkSourceDeleted(t *testing.T, s store.Store) {
	ctx := context.Background()
	a1 := NewRecord("a.1", "a", "kalevala")
	a1.UpdateNeeded = true
	a1.DedupKey = "dedup-1"
	save(t, s, a1, NewRecord("a.2", "a", "kalevala"), NewRecord("b.1", "b", "kalevala"))

	n, err := s.MarkSourceDeleted(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = s.MarkSourceDeleted(ctx, "a")
	require.NoError(t, err)
	assert.Zero(t, n, "already tombstoned records are not counted again")

	got, err := s.GetRecord(ctx, "a.1")
	require.NoError(t, err)
	assert.True(t, got.Deleted)
	assert.False(t, got.UpdateNeeded)
	assert.Equal(t, "dedup-1", got.DedupKey, "tombstones keep their cluster")

	assert.Empty(t, ids(t, s.FindCandidates(ctx, domain.KeyTypeTitle, "kalevala", "b")))
}

func testStreamFilters(t *testing.T, s store.Store) {
	ctx := context.Background()
	dirty := NewRecord("a.1", "a", "x")
	dirty.UpdateNeeded = true
	gone := NewRecord("a.3", "a", "x")
	gone.Deleted = true
	save(t, s, dirty, NewRecord("a.2", "a", "x"), gone, NewRecord("b.1", "b", "x"))

	cutoff := time.Now().UTC()
	time.Sleep(2 * time.Millisecond)
	save(t, s, NewRecord("b.2", "b", "x"))

	tests := []struct {
		name   string
		filter store.RecordFilter
		want   []string
	}{
		{"all live", store.RecordFilter{}, []string{"a.1", "a.2", "b.1", "b.2"}},
		{"include deleted", store.RecordFilter{IncludeDeleted: true}, []string{"a.1", "a.2", "a.3", "b.1", "b.2"}},
		{"source", store.RecordFilter{SourceID: "a"}, []string{"a.1", "a.2"}},
		{"dirty in source", store.RecordFilter{SourceID: "a", UpdateNeeded: true}, []string{"a.1"}},
		{"clean", store.RecordFilter{NotUpdateNeeded: true}, []string{"a.2", "b.1", "b.2"}},
		{"single", store.RecordFilter{RecordID: "b.1"}, []string{"b.1"}},
		{"single deleted hidden", store.RecordFilter{RecordID: "a.3"}, nil},
		{"single missing", store.RecordFilter{RecordID: "zz"}, nil},
		{"updated since", store.RecordFilter{UpdatedSince: cutoff}, []string{"b.2"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ids(t, s.StreamRecords(ctx, tt.filter)))

			n, err := s.CountRecords(ctx, tt.filter)
			require.NoError(t, err)
			assert.Equal(t, len(tt.want), n)
		})
	}
}

func testStreamManyPages(t *testing.T, s store.Store) {
	ctx := context.Background()
	for i := range 600 {
		r := NewRecord(fmt.Sprintf("a.%04d", i), "a", "x")
		r.UpdateNeeded = true
		save(t, s, r)
	}

	// Clearing flags while streaming dirty records must neither skip nor
	// repeat records.
	var got []string
	for r, err := range s.StreamRecords(ctx, store.RecordFilter{SourceID: "a", UpdateNeeded: true}) {
		require.NoError(t, err)
		require.NoError(t, s.ClearUpdateNeeded(ctx, r.ID))
		got = append(got, r.ID)
	}
	require.Len(t, got, 600)
	assert.Equal(t, "a.0000", got[0])
	assert.Equal(t, "a.0599", got[599])

	n, err := s.CountRecords(ctx, store.RecordFilter{UpdateNeeded: true})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func testCountBySource(t *testing.T, s store.Store) {
	ctx := context.Background()
	dirty := NewRecord("b.1", "b", "x")
	dirty.UpdateNeeded = true
	clustered := NewRecord("a.1", "a", "x")
	clustered.DedupKey = "dedup-1"
	gone := NewRecord("a.2", "a", "x")
	gone.Deleted = true
	save(t, s, dirty, clustered, gone)

	stats, err := s.CountBySource(ctx)
	require.NoError(t, err)
	assert.Equal(t, []store.SourceStats{
		{SourceID: "a", Total: 2, Deleted: 1, Clustered: 1},
		{SourceID: "b", Total: 1, UpdateNeeded: 1},
	}, stats)
}

func testState(t *testing.T, s store.Store) {
	ctx := context.Background()
	key := domain.LastIndexUpdateKey("a")
	first := time.Date(2024, 5, 1, 12, 0, 0, 123456789, time.UTC)

	require.NoError(t, s.SetState(ctx, &domain.State{ID: key, Value: first}))
	got, err := s.GetState(ctx, key)
	require.NoError(t, err)
	assert.True(t, first.Equal(got.Value))

	second := first.Add(time.Hour)
	require.NoError(t, s.SetState(ctx, &domain.State{ID: key, Value: second}))
	got, err = s.GetState(ctx, key)
	require.NoError(t, err)
	assert.True(t, second.Equal(got.Value))

	require.Error(t, s.SetState(ctx, &domain.State{}))
}
