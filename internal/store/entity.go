package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"

	"github.com/dgraph-io/badger/v4"
)

// maxConflictRetries bounds optimistic retries of read-modify-write
// transactions that lose a race on the same key.
const maxConflictRetries = 16

// Entity provides generic persistence for one domain type in Badger.
//
// Secondary indexes are non-unique and multi-valued: an index entry is
// prefix + "idx:" + name + ":" + value + 0x00 + id with an empty value, so
// scanning one index value yields ids in ascending order.
type Entity[T any] struct {
	db      *badger.DB
	prefix  string
	indexes []Index[T]
}

// Index defines a secondary index on an entity.
type Index[T any] struct {
	name   string
	keyGen func(*T) []string
}

// NewEntity creates a new Entity instance for type T.
func NewEntity[T any](db *badger.DB, prefix string) *Entity[T] {
	return &Entity[T]{
		db:      db,
		prefix:  prefix,
		indexes: make([]Index[T], 0),
	}
}

// WithIndex adds a secondary index to the entity. keyGen returns the values
// an entity is indexed under; empty values are skipped.
func (e *Entity[T]) WithIndex(name string, keyGen func(*T) []string) *Entity[T] {
	e.indexes = append(e.indexes, Index[T]{
		name:   name,
		keyGen: keyGen,
	})
	return e
}

// Get retrieves an entity by ID.
// Returns ErrNotFound if the entity does not exist.
func (e *Entity[T]) Get(ctx context.Context, id string) (*T, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var entity *T
	err := e.db.View(func(txn *badger.Txn) error {
		var err error
		entity, err = e.getTxn(txn, id)
		return err
	})
	if err != nil {
		return nil, mapBadgerErr(err)
	}
	return entity, nil
}

func (e *Entity[T]) getTxn(txn *badger.Txn, id string) (*T, error) {
	key := buildKey(e.prefix, id)
	defer releaseKey(key)

	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get key: %w", err)
	}

	var entity T
	err = item.Value(func(val []byte) error {
		if err := json.Unmarshal(val, &entity); err != nil {
			return fmt.Errorf("failed to unmarshal entity: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &entity, nil
}

// Mutate runs a read-modify-write of one entity in a single transaction.
// fn receives the stored entity (nil when absent) and returns the entity to
// store. Returning an error aborts without writing. The stored result is
// returned.
func (e *Entity[T]) Mutate(ctx context.Context, id string, fn func(current *T) (*T, error)) (*T, error) {
	var result *T
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		err := e.db.Update(func(txn *badger.Txn) error {
			current, err := e.getTxn(txn, id)
			if err != nil && !errors.Is(err, ErrNotFound) {
				return err
			}
			// fn may modify current in place, so the index entries to
			// remove come from a second decode of the stored value.
			var old *T
			if current != nil {
				if old, err = e.getTxn(txn, id); err != nil {
					return err
				}
			}

			next, err := fn(current)
			if err != nil {
				return err
			}
			if err := e.setTxn(txn, id, old, next); err != nil {
				return err
			}
			result = next
			return nil
		})
		if errors.Is(err, badger.ErrConflict) && attempt < maxConflictRetries {
			continue
		}
		if err != nil {
			return nil, mapBadgerErr(err)
		}
		return result, nil
	}
}

// Update applies fn to an existing entity and stores the result.
// Returns ErrNotFound if the entity does not exist.
func (e *Entity[T]) Update(ctx context.Context, id string, fn func(*T) error) (*T, error) {
	return e.Mutate(ctx, id, func(current *T) (*T, error) {
		if current == nil {
			return nil, ErrNotFound
		}
		if err := fn(current); err != nil {
			return nil, err
		}
		return current, nil
	})
}

// Save inserts or replaces an entity.
func (e *Entity[T]) Save(ctx context.Context, id string, entity *T) error {
	_, err := e.Mutate(ctx, id, func(*T) (*T, error) { return entity, nil })
	return err
}

// setTxn writes entity under id, replacing the index entries of old.
func (e *Entity[T]) setTxn(txn *badger.Txn, id string, old, entity *T) error {
	data, err := json.Marshal(entity)
	if err != nil {
		return fmt.Errorf("failed to marshal entity: %w", err)
	}

	if old != nil {
		if err := e.deleteIndexesTxn(txn, id, old); err != nil {
			return err
		}
	}

	if err := txn.Set([]byte(e.prefix+id), data); err != nil {
		return fmt.Errorf("failed to set key: %w", err)
	}

	for _, idx := range e.indexes {
		for _, value := range uniqueValues(idx.keyGen(entity)) {
			if err := txn.Set(buildIndexKey(e.prefix, idx.name, value, id), nil); err != nil {
				return fmt.Errorf("failed to set index key: %w", err)
			}
		}
	}
	return nil
}

func (e *Entity[T]) deleteIndexesTxn(txn *badger.Txn, id string, entity *T) error {
	for _, idx := range e.indexes {
		for _, value := range uniqueValues(idx.keyGen(entity)) {
			if err := txn.Delete(buildIndexKey(e.prefix, idx.name, value, id)); err != nil {
				return fmt.Errorf("failed to delete index key: %w", err)
			}
		}
	}
	return nil
}

// Delete deletes an entity by ID.
// This operation is idempotent - it does not return an error if the entity does not exist.
func (e *Entity[T]) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := e.db.Update(func(txn *badger.Txn) error {
		entity, err := e.getTxn(txn, id)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		if err := e.deleteIndexesTxn(txn, id, entity); err != nil {
			return err
		}
		if err := txn.Delete([]byte(e.prefix + id)); err != nil {
			return fmt.Errorf("failed to delete key: %w", err)
		}
		return nil
	})
	return mapBadgerErr(err)
}

// List returns an iterator over all entities in id order.
func (e *Entity[T]) List(ctx context.Context) iter.Seq2[*T, error] {
	return func(yield func(*T, error) bool) {
		err := e.db.View(func(txn *badger.Txn) error {
			opts := badger.DefaultIteratorOptions
			opts.Prefix = []byte(e.prefix)
			opts.PrefetchValues = true

			it := txn.NewIterator(opts)
			defer it.Close()

			indexPrefix := []byte(e.prefix + "idx:")
			for it.Seek(opts.Prefix); it.ValidForPrefix(opts.Prefix); it.Next() {
				if ctx.Err() != nil {
					yield(nil, ctx.Err())
					return nil
				}

				if bytes.HasPrefix(it.Item().Key(), indexPrefix) {
					continue
				}

				var entity T
				err := it.Item().Value(func(val []byte) error {
					return json.Unmarshal(val, &entity)
				})
				if err != nil {
					if !yield(nil, fmt.Errorf("failed to unmarshal entity: %w", err)) {
						return nil
					}
					continue
				}

				if !yield(&entity, nil) {
					return nil
				}
			}
			return nil
		})
		if err != nil {
			yield(nil, mapBadgerErr(err))
		}
	}
}

// ListByIndex returns an iterator over the entities indexed under value,
// in id order.
func (e *Entity[T]) ListByIndex(ctx context.Context, indexName, value string) iter.Seq2[*T, error] {
	return func(yield func(*T, error) bool) {
		prefix := buildIndexPrefix(e.prefix, indexName, value)
		defer releaseKey(prefix)

		err := e.db.View(func(txn *badger.Txn) error {
			opts := badger.DefaultIteratorOptions
			opts.Prefix = prefix
			opts.PrefetchValues = false

			it := txn.NewIterator(opts)
			defer it.Close()

			for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
				if ctx.Err() != nil {
					yield(nil, ctx.Err())
					return nil
				}

				id := string(it.Item().Key()[len(prefix):])
				entity, err := e.getTxn(txn, id)
				if errors.Is(err, ErrNotFound) {
					// Index entry without a primary key; nothing to yield.
					continue
				}
				if err != nil {
					if !yield(nil, err) {
						return nil
					}
					continue
				}

				if !yield(entity, nil) {
					return nil
				}
			}
			return nil
		})
		if err != nil {
			yield(nil, mapBadgerErr(err))
		}
	}
}

func uniqueValues(values []string) []string {
	if len(values) < 2 {
		if len(values) == 1 && values[0] == "" {
			return nil
		}
		return values
	}
	out := make([]string, 0, len(values))
	seen := make(map[string]bool, len(values))
	for _, v := range values {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

func mapBadgerErr(err error) error {
	if errors.Is(err, badger.ErrDBClosed) {
		return ErrClosed.WithCause(err)
	}
	return err
}
