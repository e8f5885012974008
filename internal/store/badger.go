package store

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"slices"

	"github.com/dgraph-io/badger/v4"

	"github.com/bibmerge/bibmerge/internal/domain"
)

const (
	recordPrefix = "record:"
	statePrefix  = "state:"

	indexSource = "source"
	indexDirty  = "dirty"
	indexDedup  = "dedup"
)

// BadgerStore is a Store backed by an embedded Badger database.
type BadgerStore struct {
	db     *badger.DB
	logger *slog.Logger

	records *Entity[domain.Record]
	states  *Entity[domain.State]
}

var _ Store = (*BadgerStore)(nil)

// OpenBadger opens (or creates) a Badger store at path.
func OpenBadger(path string, logger *slog.Logger) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil            // Disable Badger's internal logging
	opts.SyncWrites = true       // Ensure writes are synced to disk to prevent corruption on crashes
	opts.CompactL0OnClose = true // Compact L0 tables on close for faster startup
	return openBadger(opts, logger)
}

// OpenBadgerInMemory opens a store that lives only in memory.
func OpenBadgerInMemory(logger *slog.Logger) (*BadgerStore, error) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil
	return openBadger(opts, logger)
}

func openBadger(opts badger.Options, logger *slog.Logger) (*BadgerStore, error) {
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db: %w", err)
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	s := &BadgerStore{
		db:     db,
		logger: logger,
		states: NewEntity[domain.State](db, statePrefix),
	}
	s.records = NewEntity[domain.Record](db, recordPrefix).
		WithIndex(string(domain.KeyTypeISBN), func(r *domain.Record) []string {
			if r.Deleted {
				return nil
			}
			return r.ISBNKeys
		}).
		WithIndex(string(domain.KeyTypeTitle), func(r *domain.Record) []string {
			if r.Deleted {
				return nil
			}
			return r.TitleKeys
		}).
		WithIndex(indexDedup, func(r *domain.Record) []string {
			return []string{r.DedupKey}
		}).
		WithIndex(indexSource, func(r *domain.Record) []string {
			return []string{r.SourceID}
		}).
		WithIndex(indexDirty, func(r *domain.Record) []string {
			if !r.UpdateNeeded || r.Deleted {
				return nil
			}
			return []string{r.SourceID}
		})

	logger.Info("badger database opened", "path", opts.Dir, "in_memory", opts.InMemory)
	return s, nil
}

// Close gracefully closes the database connection.
func (s *BadgerStore) Close() error {
	s.logger.Info("closing badger database")
	return s.db.Close()
}

// GetRecord retrieves a record by id.
func (s *BadgerStore) GetRecord(ctx context.Context, id string) (*domain.Record, error) {
	return s.records.Get(ctx, id)
}

// SaveRecord inserts or replaces a record.
func (s *BadgerStore) SaveRecord(ctx context.Context, r *domain.Record) error {
	if r.ID == "" {
		return ErrInvalidInput.WithMessage("record id is required")
	}
	stored, err := s.records.Mutate(ctx, r.ID, func(current *domain.Record) (*domain.Record, error) {
		next := r.Clone()
		switch {
		case current != nil:
			next.CreatedAt = current.CreatedAt
			next.Touch()
		case next.CreatedAt.IsZero():
			next.InitTimestamps()
		default:
			next.Touch()
		}
		return next, nil
	})
	if err != nil {
		return err
	}
	r.Timestamps = stored.Timestamps
	return nil
}

// SetDedupKey writes only the dedup key of a stored record.
func (s *BadgerStore) SetDedupKey(ctx context.Context, id, dedupKey string) (*domain.Record, error) {
	return s.records.Update(ctx, id, func(r *domain.Record) error {
		r.DedupKey = dedupKey
		r.Touch()
		return nil
	})
}

// ClearUpdateNeeded resets the dirty flag of a record.
func (s *BadgerStore) ClearUpdateNeeded(ctx context.Context, id string) error {
	_, err := s.records.Update(ctx, id, func(r *domain.Record) error {
		r.UpdateNeeded = false
		r.Touch()
		return nil
	})
	return err
}

// MarkSourceDeleted tombstones every live record of a source.
func (s *BadgerStore) MarkSourceDeleted(ctx context.Context, sourceID string) (int, error) {
	// Collect ids first; writes inside the read iterator would not be
	// visible to it anyway and would hold the read transaction open.
	var ids []string
	for r, err := range s.records.ListByIndex(ctx, indexSource, sourceID) {
		if err != nil {
			return 0, err
		}
		if !r.Deleted {
			ids = append(ids, r.ID)
		}
	}

	changed := 0
	for _, id := range ids {
		var tombstoned bool
		_, err := s.records.Update(ctx, id, func(r *domain.Record) error {
			tombstoned = !r.Deleted
			if tombstoned {
				r.Deleted = true
				r.UpdateNeeded = false
				r.Touch()
			}
			return nil
		})
		if err != nil && !errors.Is(err, ErrNotFound) {
			return changed, err
		}
		if err == nil && tombstoned {
			changed++
		}
	}
	return changed, nil
}

// FindCandidates yields live records of other sources indexed under key.
func (s *BadgerStore) FindCandidates(ctx context.Context, keyType domain.KeyType, key, excludeSource string) iter.Seq2[*domain.Record, error] {
	return func(yield func(*domain.Record, error) bool) {
		if key == "" {
			return
		}
		for r, err := range s.records.ListByIndex(ctx, string(keyType), key) {
			if err != nil {
				yield(nil, err)
				return
			}
			if r.Deleted || r.SourceID == excludeSource {
				continue
			}
			if !yield(r, nil) {
				return
			}
		}
	}
}

// ClusterHasSource reports whether a live record of sourceID carries dedupKey.
func (s *BadgerStore) ClusterHasSource(ctx context.Context, dedupKey, sourceID string) (bool, error) {
	if dedupKey == "" {
		return false, nil
	}
	for r, err := range s.records.ListByIndex(ctx, indexDedup, dedupKey) {
		if err != nil {
			return false, err
		}
		if !r.Deleted && r.SourceID == sourceID && r.DedupKey == dedupKey {
			return true, nil
		}
	}
	return false, nil
}

// FindByDedupKey returns every record carrying dedupKey.
func (s *BadgerStore) FindByDedupKey(ctx context.Context, dedupKey string) ([]*domain.Record, error) {
	if dedupKey == "" {
		return nil, nil
	}
	var out []*domain.Record
	for r, err := range s.records.ListByIndex(ctx, indexDedup, dedupKey) {
		if err != nil {
			return nil, err
		}
		if r.DedupKey != dedupKey {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// StreamRecords yields records matching filter, using the narrowest index
// available for the filter.
func (s *BadgerStore) StreamRecords(ctx context.Context, filter RecordFilter) iter.Seq2[*domain.Record, error] {
	return func(yield func(*domain.Record, error) bool) {
		var seq iter.Seq2[*domain.Record, error]
		switch {
		case filter.RecordID != "":
			seq = s.single(ctx, filter.RecordID)
		case filter.UpdateNeeded && filter.SourceID != "" && !filter.IncludeDeleted:
			seq = s.records.ListByIndex(ctx, indexDirty, filter.SourceID)
		case filter.SourceID != "":
			seq = s.records.ListByIndex(ctx, indexSource, filter.SourceID)
		default:
			seq = s.records.List(ctx)
		}

		for r, err := range seq {
			if err != nil {
				yield(nil, err)
				return
			}
			if !filter.Matches(r) {
				continue
			}
			if !yield(r, nil) {
				return
			}
		}
	}
}

func (s *BadgerStore) single(ctx context.Context, id string) iter.Seq2[*domain.Record, error] {
	return func(yield func(*domain.Record, error) bool) {
		r, err := s.records.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			return
		}
		yield(r, err)
	}
}

// CountRecords counts records matching filter.
func (s *BadgerStore) CountRecords(ctx context.Context, filter RecordFilter) (int, error) {
	n := 0
	for _, err := range s.StreamRecords(ctx, filter) {
		if err != nil {
			return 0, err
		}
		n++
	}
	return n, nil
}

// CountBySource aggregates statistics over every record.
func (s *BadgerStore) CountBySource(ctx context.Context) ([]SourceStats, error) {
	bySource := make(map[string]*SourceStats)
	for r, err := range s.records.List(ctx) {
		if err != nil {
			return nil, err
		}
		st, ok := bySource[r.SourceID]
		if !ok {
			st = &SourceStats{SourceID: r.SourceID}
			bySource[r.SourceID] = st
		}
		st.Total++
		switch {
		case r.Deleted:
			st.Deleted++
		case r.UpdateNeeded:
			st.UpdateNeeded++
		}
		if !r.Deleted && r.DedupKey != "" {
			st.Clustered++
		}
	}

	out := make([]SourceStats, 0, len(bySource))
	for _, st := range bySource {
		out = append(out, *st)
	}
	slices.SortFunc(out, func(a, b SourceStats) int {
		return cmp.Compare(a.SourceID, b.SourceID)
	})
	return out, nil
}

// GetState retrieves a stored watermark.
func (s *BadgerStore) GetState(ctx context.Context, id string) (*domain.State, error) {
	return s.states.Get(ctx, id)
}

// SetState stores a watermark.
func (s *BadgerStore) SetState(ctx context.Context, state *domain.State) error {
	if state.ID == "" {
		return ErrInvalidInput.WithMessage("state id is required")
	}
	return s.states.Save(ctx, state.ID, state)
}
