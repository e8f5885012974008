package dedup_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bibmerge/bibmerge/internal/dedup"
	"github.com/bibmerge/bibmerge/internal/domain"
	"github.com/bibmerge/bibmerge/internal/metadata"
	"github.com/bibmerge/bibmerge/internal/store"
)

// work is the metadata of a test record in the json data format.
type work struct {
	Title           string   `json:"title,omitempty"`
	MainAuthor      string   `json:"mainAuthor,omitempty"`
	ISBNs           []string `json:"isbns,omitempty"`
	SeriesISSN      string   `json:"seriesIssn,omitempty"`
	SeriesNumbering string   `json:"seriesNumbering,omitempty"`
	Format          string   `json:"format,omitempty"`
	PublicationYear string   `json:"publicationYear,omitempty"`
	PageCount       string   `json:"pageCount,omitempty"`
}

func book(title string) work {
	return work{Title: title, Format: "Book"}
}

func newStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.OpenBadgerInMemory(nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// newRecord builds a dirty record with keys derived from w.
func newRecord(t *testing.T, id, sourceID string, w work) *domain.Record {
	t.Helper()
	data, err := json.Marshal(w)
	require.NoError(t, err)

	r := &domain.Record{
		ID:             id,
		SourceID:       sourceID,
		DataFormat:     metadata.FormatJSON,
		OriginalData:   string(data),
		NormalizedData: string(data),
		UpdateNeeded:   true,
	}
	f, err := dedup.DeriveFields(r, metadata.Default())
	require.NoError(t, err)
	r.Format = f.Format
	r.TitleKeys = f.TitleKeys
	r.ISBNKeys = f.ISBNs
	return r
}

// put saves a record built by newRecord and returns it.
func put(t *testing.T, s store.Store, id, sourceID string, w work) *domain.Record {
	t.Helper()
	r := newRecord(t, id, sourceID, w)
	require.NoError(t, s.SaveRecord(context.Background(), r))
	return r
}

func get(t *testing.T, s store.Store, id string) *domain.Record {
	t.Helper()
	r, err := s.GetRecord(context.Background(), id)
	require.NoError(t, err)
	return r
}

func newDeduplicator(s store.Store, opts dedup.Options) *dedup.Deduplicator {
	return dedup.NewDeduplicator(s, metadata.Default(), dedup.NewLinker(s, nil), dedup.NewOverflowCache(0), nil, opts)
}
