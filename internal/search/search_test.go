package search

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestIndex creates a temporary search index for testing.
func setupTestIndex(t *testing.T) (*SearchIndex, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "search-test-*")
	require.NoError(t, err)

	index, err := NewSearchIndex(Options{
		DataPath: tmpDir,
		Logger:   nil,
	})
	require.NoError(t, err)

	cleanup := func() {
		_ = index.Close()
		_ = os.RemoveAll(tmpDir)
	}

	return index, cleanup
}

func TestNewSearchIndex(t *testing.T) {
	index, cleanup := setupTestIndex(t)
	defer cleanup()

	count, err := index.DocumentCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), count)
}

func TestNewSearchIndex_RebuildsOnVersionChange(t *testing.T) {
	dir := t.TempDir()

	index, err := NewSearchIndex(Options{DataPath: dir})
	require.NoError(t, err)
	require.NoError(t, index.IndexDocument(&ClusterDocument{ID: "a.1", Type: DocTypeRecord, Title: "Kalevala"}))
	require.NoError(t, index.Close())

	require.NoError(t, os.WriteFile(dir+"/search.version", []byte("0"), 0o600))

	index, err = NewSearchIndex(Options{DataPath: dir})
	require.NoError(t, err)
	defer index.Close()

	count, err := index.DocumentCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), count, "outdated index is recreated empty")
}

func TestSearchIndex_IndexDocuments_Batch(t *testing.T) {
	index, cleanup := setupTestIndex(t)
	defer cleanup()

	docs := []*ClusterDocument{
		{ID: "a.1", Type: DocTypeRecord, Title: "Book One"},
		{ID: "a.2", Type: DocTypeRecord, Title: "Book Two"},
		{ID: "a.3", Type: DocTypeRecord, Title: "Book Three"},
	}

	err := index.IndexDocuments(docs)
	require.NoError(t, err)

	count, err := index.DocumentCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(3), count)

	require.NoError(t, index.DeleteDocuments([]string{"a.1", "a.2"}))
	count, err = index.DocumentCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count)
}

func TestBatch_LastOperationWins(t *testing.T) {
	index, cleanup := setupTestIndex(t)
	defer cleanup()

	b := index.NewBatch()
	require.NoError(t, b.Index(&ClusterDocument{ID: "a.1", Type: DocTypeRecord, Title: "Kept"}))
	require.NoError(t, b.Index(&ClusterDocument{ID: "a.2", Type: DocTypeRecord, Title: "Dropped"}))
	b.Delete("a.2")
	assert.Equal(t, 2, b.Size())

	require.NoError(t, index.Commit(b))
	assert.Zero(t, b.Size(), "commit empties the batch")

	_, found, err := index.Get(context.Background(), "a.2")
	require.NoError(t, err)
	assert.False(t, found)

	hit, found, err := index.Get(context.Background(), "a.1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "Kept", hit.Title)
}

func TestSearchIndex_Search(t *testing.T) {
	index, cleanup := setupTestIndex(t)
	defer cleanup()
	ctx := context.Background()

	docs := []*ClusterDocument{
		{
			ID: "dedup-1", Type: DocTypeMerged, DedupKey: "dedup-1",
			Title: "Kalevala", Author: "Lönnrot, Elias", Format: "Book", Year: 1835,
			ISBNs:        []string{"9789511088678"},
			Institutions: []string{"HelMet", "Archive"}, Sources: []string{"helmet", "archive"},
			LocalIDs: []string{"helmet.1", "arc.9"},
		},
		{
			ID: "helmet.2", Type: DocTypeRecord, Title: "Seitsemän veljestä", Author: "Kivi, Aleksis",
			Format: "Book", Year: 1870, Institutions: []string{"HelMet"}, Sources: []string{"helmet"},
			LocalIDs: []string{"helmet.2"},
		},
		{
			ID: "arc.3", Type: DocTypeRecord, Title: "Kanteletar", Author: "Lönnrot, Elias",
			Format: "Sound", Year: 1840, Institutions: []string{"Archive"}, Sources: []string{"archive"},
			LocalIDs: []string{"arc.3"},
		},
	}
	require.NoError(t, index.IndexDocuments(docs))

	tests := []struct {
		name    string
		params  SearchParams
		wantIDs []string
	}{
		{name: "title", params: SearchParams{Query: "kalevala"}, wantIDs: []string{"dedup-1"}},
		{name: "author", params: SearchParams{Query: "lönnrot"}, wantIDs: []string{"arc.3", "dedup-1"}},
		{name: "isbn", params: SearchParams{Query: "9789511088678"}, wantIDs: []string{"dedup-1"}},
		{name: "local id", params: SearchParams{Query: "arc.9"}, wantIDs: []string{"dedup-1"}},
		{name: "type filter", params: SearchParams{Types: []string{string(DocTypeMerged)}}, wantIDs: []string{"dedup-1"}},
		{name: "source filter", params: SearchParams{Sources: []string{"archive"}}, wantIDs: []string{"arc.3", "dedup-1"}},
		{name: "format filter", params: SearchParams{Formats: []string{"Sound"}}, wantIDs: []string{"arc.3"}},
		{name: "year range", params: SearchParams{MinYear: 1836, MaxYear: 1870}, wantIDs: []string{"arc.3", "helmet.2"}},
		{name: "no match", params: SearchParams{Query: "zzzyyyxxx"}, wantIDs: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := index.Search(ctx, tt.params)
			require.NoError(t, err)

			var ids []string
			for _, h := range res.Hits {
				ids = append(ids, h.ID)
			}
			assert.ElementsMatch(t, tt.wantIDs, ids)
			assert.Equal(t, uint64(len(tt.wantIDs)), res.Total)
		})
	}

	t.Run("stored fields and facets", func(t *testing.T) {
		params := DefaultSearchParams()
		params.Query = "kalevala"
		res, err := index.Search(ctx, params)
		require.NoError(t, err)
		require.Len(t, res.Hits, 1)

		hit := res.Hits[0]
		assert.Equal(t, DocTypeMerged, hit.Type)
		assert.Equal(t, "Kalevala", hit.Title)
		assert.Equal(t, 1835, hit.Year)
		assert.ElementsMatch(t, []string{"helmet", "archive"}, hit.Sources)
		assert.Equal(t, []string{"9789511088678"}, hit.ISBNs)
		assert.NotEmpty(t, res.Facets.Types)
	})
}

func TestSearchIndex_DeleteSource(t *testing.T) {
	index, cleanup := setupTestIndex(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, index.IndexDocuments([]*ClusterDocument{
		{ID: "helmet.1", Type: DocTypeRecord, Title: "A", Sources: []string{"helmet"}},
		{ID: "helmet.2", Type: DocTypeRecord, Title: "B", Sources: []string{"helmet"}},
		{ID: "arc.1", Type: DocTypeRecord, Title: "C", Sources: []string{"archive"}},
		{ID: "dedup-1", Type: DocTypeMerged, Title: "D", Sources: []string{"helmet", "archive"}},
	}))

	n, err := index.DeleteSource(ctx, "helmet")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	count, err := index.DocumentCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), count, "merged documents wait for the next update")
}

func TestMergeDocuments(t *testing.T) {
	a := &ClusterDocument{
		ID: "a.1", Type: DocTypeRecord, Title: "Kalevala", Format: "Book",
		ISBNs: []string{"1"}, Topics: []string{"epics"},
		Institutions: []string{"A"}, Sources: []string{"a"}, LocalIDs: []string{"a.1"}, UpdatedAt: 10,
	}
	b := &ClusterDocument{
		ID: "b.1", Type: DocTypeRecord, Title: "Kalevala : runoja", Author: "Lönnrot", Year: 1849,
		ISBNs: []string{"1", "2"}, Topics: []string{"epics", "poetry"},
		Institutions: []string{"B"}, Sources: []string{"b"}, LocalIDs: []string{"b.1"}, UpdatedAt: 20,
	}

	m := MergeDocuments("dedup-1", []*ClusterDocument{a, b})

	assert.Equal(t, "dedup-1", m.ID)
	assert.Equal(t, DocTypeMerged, m.Type)
	assert.Equal(t, "Kalevala", m.Title, "first member wins")
	assert.Equal(t, "Lönnrot", m.Author, "missing values are filled from later members")
	assert.Equal(t, 1849, m.Year)
	assert.Equal(t, []string{"1", "2"}, m.ISBNs)
	assert.Equal(t, []string{"epics", "poetry"}, m.Topics)
	assert.Equal(t, []string{"a.1", "b.1"}, m.LocalIDs)
	assert.Equal(t, []string{"A", "B"}, m.Institutions)
	assert.Equal(t, int64(20), m.UpdatedAt)

	assert.Equal(t, []string{"1"}, a.ISBNs, "members are not modified")
}
