package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"iter"
	"slices"
	"strings"
	"time"

	"github.com/bibmerge/bibmerge/internal/domain"
	"github.com/bibmerge/bibmerge/internal/store"
)

// keySep joins aggregated blocking keys; it cannot occur in normalized keys.
const keySep = "\x1f"

// recordColumns is the ordered list of columns selected in record queries.
// Must match the scan order in scanRecord.
const recordColumns = `r.id, r.source_id, r.oai_id, r.host_record_id, r.data_format, r.format,
	r.original_data, r.normalized_data, r.content_hash, r.dedup_key,
	r.update_needed, r.deleted, r.created_at, r.updated_at,
	(SELECT group_concat(k.key, char(31) ORDER BY k.position) FROM record_keys k
		WHERE k.record_id = r.id AND k.key_type = 'title'),
	(SELECT group_concat(k.key, char(31) ORDER BY k.position) FROM record_keys k
		WHERE k.record_id = r.id AND k.key_type = 'isbn')`

// scanRecord scans a sql.Row (or sql.Rows via its Scan method) into a domain.Record.
func scanRecord(scanner interface{ Scan(dest ...any) error }) (*domain.Record, error) {
	var r domain.Record

	var (
		oaiID        sql.NullString
		hostRecordID sql.NullString
		format       sql.NullString
		contentHash  sql.NullString
		dedupKey     sql.NullString
		updateNeeded int
		deleted      int
		createdAt    string
		updatedAt    string
		titleKeys    sql.NullString
		isbnKeys     sql.NullString
	)

	err := scanner.Scan(
		&r.ID,
		&r.SourceID,
		&oaiID,
		&hostRecordID,
		&r.DataFormat,
		&format,
		&r.OriginalData,
		&r.NormalizedData,
		&contentHash,
		&dedupKey,
		&updateNeeded,
		&deleted,
		&createdAt,
		&updatedAt,
		&titleKeys,
		&isbnKeys,
	)
	if err != nil {
		return nil, err
	}

	r.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, err
	}
	r.UpdatedAt, err = parseTime(updatedAt)
	if err != nil {
		return nil, err
	}

	r.OAIID = oaiID.String
	r.HostRecordID = hostRecordID.String
	r.Format = format.String
	r.ContentHash = contentHash.String
	r.DedupKey = dedupKey.String
	r.UpdateNeeded = updateNeeded != 0
	r.Deleted = deleted != 0
	r.TitleKeys = splitKeys(titleKeys)
	r.ISBNKeys = splitKeys(isbnKeys)

	return &r, nil
}

func splitKeys(s sql.NullString) []string {
	if !s.Valid || s.String == "" {
		return nil
	}
	return strings.Split(s.String, keySep)
}

// GetRecord retrieves a record by id.
// Returns store.ErrNotFound if the record does not exist.
func (s *Store) GetRecord(ctx context.Context, id string) (*domain.Record, error) {
	return getRecord(ctx, s.db, id)
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getRecord(ctx context.Context, q querier, id string) (*domain.Record, error) {
	row := q.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM records r WHERE r.id = ?`, id)
	r, err := scanRecord(row)
	if err != nil {
		return nil, mapErr(err)
	}
	return r, nil
}

// SaveRecord inserts or replaces a record and its blocking keys.
func (s *Store) SaveRecord(ctx context.Context, r *domain.Record) error {
	if r.ID == "" {
		return store.ErrInvalidInput.WithMessage("record id is required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapErr(fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback()

	// The upsert runs first so the transaction takes the write lock
	// immediately; created_at is only written on insert.
	now := time.Now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now

	_, err = tx.ExecContext(ctx, `
		INSERT INTO records (
			id, source_id, oai_id, host_record_id, data_format, format,
			original_data, normalized_data, content_hash, dedup_key,
			update_needed, deleted, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			source_id = excluded.source_id,
			oai_id = excluded.oai_id,
			host_record_id = excluded.host_record_id,
			data_format = excluded.data_format,
			format = excluded.format,
			original_data = excluded.original_data,
			normalized_data = excluded.normalized_data,
			content_hash = excluded.content_hash,
			dedup_key = excluded.dedup_key,
			update_needed = excluded.update_needed,
			deleted = excluded.deleted,
			updated_at = excluded.updated_at`,
		r.ID,
		r.SourceID,
		nullString(r.OAIID),
		nullString(r.HostRecordID),
		r.DataFormat,
		nullString(r.Format),
		r.OriginalData,
		r.NormalizedData,
		nullString(r.ContentHash),
		nullString(r.DedupKey),
		boolInt(r.UpdateNeeded),
		boolInt(r.Deleted),
		formatTime(r.CreatedAt),
		formatTime(r.UpdatedAt),
	)
	if err != nil {
		return mapErr(fmt.Errorf("upsert record %s: %w", r.ID, err))
	}

	var createdAt string
	if err := tx.QueryRowContext(ctx, `SELECT created_at FROM records WHERE id = ?`, r.ID).Scan(&createdAt); err != nil {
		return mapErr(err)
	}
	if r.CreatedAt, err = parseTime(createdAt); err != nil {
		return fmt.Errorf("parse created_at of %s: %w", r.ID, err)
	}

	// Replace blocking keys.
	if _, err := tx.ExecContext(ctx, `DELETE FROM record_keys WHERE record_id = ?`, r.ID); err != nil {
		return fmt.Errorf("delete record_keys: %w", err)
	}
	for keyType, keys := range map[domain.KeyType][]string{
		domain.KeyTypeTitle: r.TitleKeys,
		domain.KeyTypeISBN:  r.ISBNKeys,
	} {
		for pos, key := range keys {
			if key == "" {
				continue
			}
			_, err := tx.ExecContext(ctx, `
				INSERT OR IGNORE INTO record_keys (record_id, key_type, key, position)
				VALUES (?, ?, ?, ?)`,
				r.ID, string(keyType), key, pos,
			)
			if err != nil {
				return fmt.Errorf("insert record_keys: %w", err)
			}
		}
	}

	return mapErr(tx.Commit())
}

// SetDedupKey writes only the dedup key of a stored record and returns the
// record as stored afterwards.
func (s *Store) SetDedupKey(ctx context.Context, id, dedupKey string) (*domain.Record, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, mapErr(fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE records SET dedup_key = ?, updated_at = ? WHERE id = ?`,
		nullString(dedupKey), formatTime(time.Now()), id)
	if err != nil {
		return nil, mapErr(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, store.ErrNotFound
	}

	r, err := getRecord(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, mapErr(err)
	}
	return r, nil
}

// ClearUpdateNeeded resets the dirty flag of a record.
func (s *Store) ClearUpdateNeeded(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE records SET update_needed = 0, updated_at = ? WHERE id = ?`,
		formatTime(time.Now()), id)
	if err != nil {
		return mapErr(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// MarkSourceDeleted tombstones every live record of a source.
func (s *Store) MarkSourceDeleted(ctx context.Context, sourceID string) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE records SET deleted = 1, update_needed = 0, updated_at = ?
		WHERE source_id = ? AND deleted = 0`,
		formatTime(time.Now()), sourceID)
	if err != nil {
		return 0, mapErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// FindCandidates yields live records of other sources carrying key.
func (s *Store) FindCandidates(ctx context.Context, keyType domain.KeyType, key, excludeSource string) iter.Seq2[*domain.Record, error] {
	if key == "" {
		return func(func(*domain.Record, error) bool) {}
	}
	return s.pagedRecords(ctx,
		`record_keys c JOIN records r ON r.id = c.record_id`,
		`c.key_type = ? AND c.key = ? AND r.deleted = 0 AND r.source_id <> ?`,
		[]any{string(keyType), key, excludeSource},
	)
}

// ClusterHasSource reports whether a live record of sourceID carries dedupKey.
func (s *Store) ClusterHasSource(ctx context.Context, dedupKey, sourceID string) (bool, error) {
	if dedupKey == "" {
		return false, nil
	}
	var exists int
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM records
			WHERE dedup_key = ? AND source_id = ? AND deleted = 0
		)`, dedupKey, sourceID).Scan(&exists)
	if err != nil {
		return false, mapErr(err)
	}
	return exists == 1, nil
}

// FindByDedupKey returns every record carrying dedupKey, tombstones included.
func (s *Store) FindByDedupKey(ctx context.Context, dedupKey string) ([]*domain.Record, error) {
	if dedupKey == "" {
		return nil, nil
	}
	return s.queryRecords(ctx,
		`SELECT `+recordColumns+` FROM records r WHERE r.dedup_key = ? ORDER BY r.id`,
		dedupKey)
}

// StreamRecords yields records matching filter ordered by id.
func (s *Store) StreamRecords(ctx context.Context, filter store.RecordFilter) iter.Seq2[*domain.Record, error] {
	where, args := filterClause(filter)
	return s.pagedRecords(ctx, `records r`, where, args)
}

// CountRecords counts records matching filter.
func (s *Store) CountRecords(ctx context.Context, filter store.RecordFilter) (int, error) {
	where, args := filterClause(filter)
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records r WHERE `+where, args...).Scan(&n)
	if err != nil {
		return 0, mapErr(err)
	}
	return n, nil
}

// CountBySource returns per-source statistics ordered by source id.
func (s *Store) CountBySource(ctx context.Context) ([]store.SourceStats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT source_id,
			COUNT(*),
			SUM(deleted),
			SUM(CASE WHEN deleted = 0 AND update_needed = 1 THEN 1 ELSE 0 END),
			SUM(CASE WHEN deleted = 0 AND dedup_key IS NOT NULL THEN 1 ELSE 0 END)
		FROM records
		GROUP BY source_id
		ORDER BY source_id`)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []store.SourceStats
	for rows.Next() {
		var st store.SourceStats
		if err := rows.Scan(&st.SourceID, &st.Total, &st.Deleted, &st.UpdateNeeded, &st.Clustered); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// filterClause renders a RecordFilter as a WHERE clause over alias r.
func filterClause(f store.RecordFilter) (string, []any) {
	conds := []string{"1 = 1"}
	var args []any

	if f.SourceID != "" {
		conds = append(conds, "r.source_id = ?")
		args = append(args, f.SourceID)
	}
	if f.RecordID != "" {
		conds = append(conds, "r.id = ?")
		args = append(args, f.RecordID)
	}
	if f.UpdateNeeded {
		conds = append(conds, "r.update_needed = 1")
	}
	if f.NotUpdateNeeded {
		conds = append(conds, "r.update_needed = 0")
	}
	if !f.IncludeDeleted {
		conds = append(conds, "r.deleted = 0")
	}
	if !f.UpdatedSince.IsZero() {
		conds = append(conds, "r.updated_at >= ?")
		args = append(args, formatTime(f.UpdatedSince))
	}

	return strings.Join(conds, " AND "), args
}

// pagedRecords streams records using keyset pagination on r.id.
func (s *Store) pagedRecords(ctx context.Context, from, where string, args []any) iter.Seq2[*domain.Record, error] {
	query := `SELECT ` + recordColumns + ` FROM ` + from +
		` WHERE ` + where + ` AND r.id > ? ORDER BY r.id LIMIT ?`

	return func(yield func(*domain.Record, error) bool) {
		last := ""
		for {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}

			pageArgs := append(slices.Clone(args), last, pageSize)
			page, err := s.queryRecords(ctx, query, pageArgs...)
			if err != nil {
				yield(nil, err)
				return
			}

			for _, r := range page {
				if !yield(r, nil) {
					return
				}
			}

			if len(page) < pageSize {
				return
			}
			last = page[len(page)-1].ID
		}
	}
}

func (s *Store) queryRecords(ctx context.Context, query string, args ...any) ([]*domain.Record, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []*domain.Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		out = append(out, r)
	}
	return out, mapErr(rows.Err())
}
