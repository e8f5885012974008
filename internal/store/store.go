// Package store defines the record persistence interface and a Badger
// implementation. The SQLite implementation lives in store/sqlite.
package store

import (
	"context"
	"iter"
	"time"

	"github.com/bibmerge/bibmerge/internal/domain"
)

// Store is the record store used by the dedup engine, the record service,
// the index updater and the API.
//
// Every write bumps the record's UpdatedAt. Iterators are lazy: consumers
// may stop early and the iterator releases its resources when they do.
type Store interface {
	Close() error

	// GetRecord returns ErrNotFound when the record does not exist.
	GetRecord(ctx context.Context, id string) (*domain.Record, error)
	// SaveRecord inserts or replaces a record together with its blocking keys.
	// CreatedAt is kept from the stored record when one exists.
	SaveRecord(ctx context.Context, r *domain.Record) error
	// SetDedupKey writes only DedupKey (and UpdatedAt) of a stored record and
	// returns the record as stored afterwards. An empty key clears the link.
	SetDedupKey(ctx context.Context, id, dedupKey string) (*domain.Record, error)
	// ClearUpdateNeeded resets the dirty flag of a record.
	ClearUpdateNeeded(ctx context.Context, id string) error
	// MarkSourceDeleted tombstones every live record of a source and returns
	// how many records changed.
	MarkSourceDeleted(ctx context.Context, sourceID string) (int, error)

	// FindCandidates yields live records carrying key among their keys of
	// keyType, excluding records of excludeSource, ordered by id.
	FindCandidates(ctx context.Context, keyType domain.KeyType, key, excludeSource string) iter.Seq2[*domain.Record, error]
	// ClusterHasSource reports whether a live record of sourceID carries dedupKey.
	ClusterHasSource(ctx context.Context, dedupKey, sourceID string) (bool, error)
	// FindByDedupKey returns every record carrying dedupKey, tombstones
	// included, ordered by id.
	FindByDedupKey(ctx context.Context, dedupKey string) ([]*domain.Record, error)

	// StreamRecords yields records matching filter ordered by id.
	StreamRecords(ctx context.Context, filter RecordFilter) iter.Seq2[*domain.Record, error]
	CountRecords(ctx context.Context, filter RecordFilter) (int, error)
	// CountBySource returns per-source statistics ordered by source id.
	CountBySource(ctx context.Context) ([]SourceStats, error)

	// GetState returns ErrNotFound when no value is stored under id.
	GetState(ctx context.Context, id string) (*domain.State, error)
	SetState(ctx context.Context, state *domain.State) error
}

// RecordFilter selects records for streaming and counting. The zero value
// selects every live record.
type RecordFilter struct {
	SourceID string
	RecordID string
	// UpdateNeeded restricts to dirty records; NotUpdateNeeded to clean ones.
	UpdateNeeded    bool
	NotUpdateNeeded bool
	IncludeDeleted  bool
	// UpdatedSince restricts to records with UpdatedAt at or after the time.
	UpdatedSince time.Time
}

// Matches reports whether r passes the filter. Backends without a query
// language use it to filter scans.
func (f RecordFilter) Matches(r *domain.Record) bool {
	switch {
	case f.SourceID != "" && r.SourceID != f.SourceID:
		return false
	case f.RecordID != "" && r.ID != f.RecordID:
		return false
	case f.UpdateNeeded && !r.UpdateNeeded:
		return false
	case f.NotUpdateNeeded && r.UpdateNeeded:
		return false
	case !f.IncludeDeleted && r.Deleted:
		return false
	case !f.UpdatedSince.IsZero() && r.UpdatedAt.Before(f.UpdatedSince):
		return false
	}
	return true
}

// SourceStats summarizes the records of one source.
type SourceStats struct {
	SourceID     string `json:"source_id"`
	Total        int    `json:"total"`
	Deleted      int    `json:"deleted"`
	UpdateNeeded int    `json:"update_needed"`
	Clustered    int    `json:"clustered"`
}
