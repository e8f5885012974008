package dedup

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bibmerge/bibmerge/internal/domain"
	domainerrors "github.com/bibmerge/bibmerge/internal/errors"
	"github.com/bibmerge/bibmerge/internal/id"
	"github.com/bibmerge/bibmerge/internal/store"
)

// Linker assigns, propagates and clears dedup keys.
//
// Each record is changed with its own short write; there is no transaction
// spanning two records. Writes to one record are serialized by an
// in-process lock, and the stored record is re-read under that lock so a
// concurrent pass cannot be overwritten with stale state.
type Linker struct {
	store  store.Store
	locks  *recordLocks
	logger *slog.Logger
	newKey func() (string, error)
}

// NewLinker creates a linker writing through st.
func NewLinker(st store.Store, logger *slog.Logger) *Linker {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Linker{
		store:  st,
		locks:  newRecordLocks(),
		logger: logger,
		newKey: id.NewDedupKey,
	}
}

// Link puts a and b into the same cluster and returns the cluster's key.
//
//   - both already share a key: nothing is written
//   - a has a key: b takes it
//   - b has a key: a takes it
//   - neither has one: a new key is minted for both
//
// a and b are updated in place with the stored state.
func (l *Linker) Link(ctx context.Context, a, b *domain.Record) (string, error) {
	unlock := l.locks.lock(a.ID, b.ID)
	defer unlock()

	curA, err := l.current(ctx, a.ID)
	if err != nil {
		return "", err
	}
	curB, err := l.current(ctx, b.ID)
	if err != nil {
		return "", err
	}

	switch {
	case curA.HasDedupKey() && curA.DedupKey == curB.DedupKey:
		*a, *b = *curA, *curB
		return curA.DedupKey, nil

	case curA.HasDedupKey():
		stored, err := l.store.SetDedupKey(ctx, curB.ID, curA.DedupKey)
		if err != nil {
			return "", fmt.Errorf("propagate dedup key to %s: %w", curB.ID, err)
		}
		*a, *b = *curA, *stored
		l.logger.Debug("dedup key propagated", "dedup_key", curA.DedupKey, "from", curA.ID, "to", curB.ID)
		return curA.DedupKey, nil

	case curB.HasDedupKey():
		stored, err := l.store.SetDedupKey(ctx, curA.ID, curB.DedupKey)
		if err != nil {
			return "", fmt.Errorf("propagate dedup key to %s: %w", curA.ID, err)
		}
		*a, *b = *stored, *curB
		l.logger.Debug("dedup key propagated", "dedup_key", curB.DedupKey, "from", curB.ID, "to", curA.ID)
		return curB.DedupKey, nil

	default:
		key, err := l.newKey()
		if err != nil {
			return "", domainerrors.Wrap(err, domainerrors.CodeInternal, "mint dedup key")
		}
		storedA, err := l.store.SetDedupKey(ctx, curA.ID, key)
		if err != nil {
			return "", fmt.Errorf("set dedup key of %s: %w", curA.ID, err)
		}
		storedB, err := l.store.SetDedupKey(ctx, curB.ID, key)
		if err != nil {
			return "", fmt.Errorf("set dedup key of %s: %w", curB.ID, err)
		}
		*a, *b = *storedA, *storedB
		l.logger.Debug("dedup cluster created", "dedup_key", key, "records", []string{curA.ID, curB.ID})
		return key, nil
	}
}

// Clear removes subject from its cluster. It reports whether a key was
// removed. Other members keep the key.
func (l *Linker) Clear(ctx context.Context, subject *domain.Record) (bool, error) {
	unlock := l.locks.lock(subject.ID)
	defer unlock()

	cur, err := l.current(ctx, subject.ID)
	if err != nil {
		return false, err
	}
	if !cur.HasDedupKey() {
		*subject = *cur
		return false, nil
	}

	stored, err := l.store.SetDedupKey(ctx, cur.ID, "")
	if err != nil {
		return false, fmt.Errorf("clear dedup key of %s: %w", cur.ID, err)
	}
	l.logger.Debug("dedup key cleared", "record_id", cur.ID, "dedup_key", cur.DedupKey)
	*subject = *stored
	return true, nil
}

// Unlink rewrites a record under its lock and saves it without a dedup key.
// edit receives the freshly read record; tombstones are edited too.
func (l *Linker) Unlink(ctx context.Context, recordID string, edit func(*domain.Record)) (*domain.Record, error) {
	unlock := l.locks.lock(recordID)
	defer unlock()

	r, err := l.store.GetRecord(ctx, recordID)
	if err != nil {
		return nil, fmt.Errorf("read record %s: %w", recordID, err)
	}
	previous := r.DedupKey
	edit(r)
	r.DedupKey = ""
	if err := l.store.SaveRecord(ctx, r); err != nil {
		return nil, fmt.Errorf("save record %s: %w", recordID, err)
	}
	if previous != "" {
		l.logger.Debug("dedup key cleared", "record_id", recordID, "dedup_key", previous)
	}
	return r, nil
}

// ClearUpdateNeeded resets the dirty flag of a processed record under its
// lock.
func (l *Linker) ClearUpdateNeeded(ctx context.Context, recordID string) error {
	unlock := l.locks.lock(recordID)
	defer unlock()
	return l.store.ClearUpdateNeeded(ctx, recordID)
}

// current re-reads a record. Tombstoned records cannot be linked.
func (l *Linker) current(ctx context.Context, recordID string) (*domain.Record, error) {
	r, err := l.store.GetRecord(ctx, recordID)
	if err != nil {
		return nil, fmt.Errorf("read record %s: %w", recordID, err)
	}
	if r.Deleted {
		return nil, domainerrors.Conflictf("record %s was deleted", recordID)
	}
	return r, nil
}
