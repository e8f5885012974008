package sqlite

import (
	"context"
	"fmt"

	"github.com/bibmerge/bibmerge/internal/domain"
	"github.com/bibmerge/bibmerge/internal/store"
)

// GetState retrieves a stored watermark.
// Returns store.ErrNotFound if nothing is stored under id.
func (s *Store) GetState(ctx context.Context, id string) (*domain.State, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM state WHERE id = ?`, id).Scan(&value)
	if err != nil {
		return nil, mapErr(err)
	}

	t, err := parseTime(value)
	if err != nil {
		return nil, fmt.Errorf("parse state %q: %w", id, err)
	}
	return &domain.State{ID: id, Value: t}, nil
}

// SetState stores a watermark, replacing any previous value.
func (s *Store) SetState(ctx context.Context, state *domain.State) error {
	if state.ID == "" {
		return store.ErrInvalidInput.WithMessage("state id is required")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO state (id, value) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET value = excluded.value`,
		state.ID, formatTime(state.Value))
	return mapErr(err)
}
