// Package service provides the record management operations behind the CLI
// and the HTTP API: importing source data, renormalizing, deleting sources
// and reading records back.
package service

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"

	"golang.org/x/crypto/blake2b"

	"github.com/bibmerge/bibmerge/internal/config"
	"github.com/bibmerge/bibmerge/internal/dedup"
	"github.com/bibmerge/bibmerge/internal/domain"
	domainerrors "github.com/bibmerge/bibmerge/internal/errors"
	"github.com/bibmerge/bibmerge/internal/id"
	"github.com/bibmerge/bibmerge/internal/metadata"
	"github.com/bibmerge/bibmerge/internal/store"
)

// ImportRecord is one record as delivered by a source.
type ImportRecord struct {
	// ID is the record's local id. When empty it is taken from the data.
	ID      string `json:"id" parquet:"id,optional"`
	OAIID   string `json:"oai_id,omitempty" parquet:"oai_id,optional"`
	Deleted bool   `json:"deleted,omitempty" parquet:"deleted,optional"`
	Data    string `json:"data" parquet:"data,optional"`
}

// ImportResult counts what an import did.
type ImportResult struct {
	Imported  int `json:"imported"`
	Unchanged int `json:"unchanged"`
	Deleted   int `json:"deleted"`
	Failed    int `json:"failed"`
}

// Total returns how many input records were seen.
func (r ImportResult) Total() int {
	return r.Imported + r.Unchanged + r.Deleted + r.Failed
}

// RecordService orchestrates record storage operations.
type RecordService struct {
	store   store.Store
	parser  dedup.Parser
	linker  *dedup.Linker
	sources *config.DataSources
	logger  *slog.Logger
}

// NewRecordService creates a new record service. linker must be the one the
// deduplicators of this process use, so key resets share their locks.
func NewRecordService(st store.Store, parser dedup.Parser, linker *dedup.Linker, sources *config.DataSources, logger *slog.Logger) *RecordService {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &RecordService{
		store:   st,
		parser:  parser,
		linker:  linker,
		sources: sources,
		logger:  logger,
	}
}

// Import stores the records of one source. Records whose data did not change
// since the last import are skipped; records flagged deleted are tombstoned.
// A record that cannot be parsed is logged and counted as failed; the import
// continues with the next one.
func (s *RecordService) Import(ctx context.Context, sourceID string, records iter.Seq2[ImportRecord, error]) (ImportResult, error) {
	var result ImportResult

	ds, err := s.sources.Get(sourceID)
	if err != nil {
		return result, err
	}
	if !s.supports(ds.Format) {
		return result, domainerrors.Validationf("source %q uses unsupported data format %q", sourceID, ds.Format)
	}

	for rec, err := range records {
		if err != nil {
			return result, fmt.Errorf("read import records: %w", err)
		}
		if err := ctx.Err(); err != nil {
			return result, err
		}

		outcome, err := s.importOne(ctx, ds, rec)
		if err != nil {
			if domainerrors.CodeOf(err) != domainerrors.CodeValidation {
				return result, err
			}
			s.logger.Warn("skipping record",
				"source", sourceID,
				"record_id", rec.ID,
				"error", err,
			)
			result.Failed++
			continue
		}
		switch outcome {
		case outcomeImported:
			result.Imported++
		case outcomeUnchanged:
			result.Unchanged++
		case outcomeDeleted:
			result.Deleted++
		}
	}

	s.logger.Info("import complete",
		"source", sourceID,
		"imported", result.Imported,
		"unchanged", result.Unchanged,
		"deleted", result.Deleted,
		"failed", result.Failed,
	)
	return result, nil
}

type importOutcome int

const (
	outcomeImported importOutcome = iota
	outcomeUnchanged
	outcomeDeleted
)

func (s *RecordService) importOne(ctx context.Context, ds *config.DataSource, rec ImportRecord) (importOutcome, error) {
	normalized := ds.Normalization.Apply(rec.Data)

	var md metadata.Metadata = metadata.Empty{}
	if !rec.Deleted || rec.ID == "" {
		parsed, err := s.parser.Parse(ds.Format, normalized)
		if err != nil {
			return 0, domainerrors.Wrap(err, domainerrors.CodeValidation, "parse record")
		}
		md = parsed
	}

	localID := strings.TrimSpace(rec.ID)
	if localID == "" {
		localID = md.LocalID()
	}
	if localID == "" {
		return 0, domainerrors.Validation("record has no id")
	}
	recordID := id.RecordID(ds.IDPrefix, localID)

	existing, err := s.store.GetRecord(ctx, recordID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return 0, fmt.Errorf("get record %s: %w", recordID, err)
	}

	if rec.Deleted {
		if existing == nil || existing.Deleted {
			return outcomeUnchanged, nil
		}
		existing.Deleted = true
		existing.UpdateNeeded = false
		if err := s.store.SaveRecord(ctx, existing); err != nil {
			return 0, fmt.Errorf("tombstone record %s: %w", recordID, err)
		}
		return outcomeDeleted, nil
	}

	hash := contentHash(rec.Data)
	if existing != nil && !existing.Deleted && existing.ContentHash == hash {
		return outcomeUnchanged, nil
	}

	r := &domain.Record{
		ID:           recordID,
		SourceID:     ds.ID,
		OAIID:        rec.OAIID,
		DataFormat:   ds.Format,
		OriginalData: rec.Data,
		ContentHash:  hash,
		UpdateNeeded: ds.Dedup,
	}
	if !ds.Normalization.IsZero() {
		r.NormalizedData = normalized
	}
	if host := md.HostRecordID(); host != "" {
		r.HostRecordID = id.RecordID(ds.IDPrefix, host)
	}
	if existing != nil {
		r.Timestamps = existing.Timestamps
		r.DedupKey = existing.DedupKey
	}
	applyKeys(r, md)

	if err := s.store.SaveRecord(ctx, r); err != nil {
		return 0, fmt.Errorf("save record %s: %w", recordID, err)
	}
	return outcomeImported, nil
}

// Renormalize reapplies the source's normalization to stored records,
// refreshes their blocking keys and unlinks them so the next dedup run
// reconsiders them. With singleID only that record is processed.
func (s *RecordService) Renormalize(ctx context.Context, sourceID, singleID string) (int, error) {
	ds, err := s.sources.Get(sourceID)
	if err != nil {
		return 0, err
	}

	filter := store.RecordFilter{SourceID: sourceID}
	if singleID != "" {
		filter.RecordID = singleID
	}

	count := 0
	for r, err := range s.store.StreamRecords(ctx, filter) {
		if err != nil {
			return count, fmt.Errorf("stream records: %w", err)
		}

		_, err = s.linker.Unlink(ctx, r.ID, func(cur *domain.Record) {
			cur.NormalizedData = ""
			if !ds.Normalization.IsZero() {
				cur.NormalizedData = ds.Normalization.Apply(cur.OriginalData)
			}
			md, err := s.parser.Parse(cur.DataFormat, cur.Data())
			if err != nil {
				s.logger.Warn("renormalized record does not parse",
					"source", sourceID,
					"record_id", cur.ID,
					"error", err,
				)
			}
			applyKeys(cur, md)
			cur.UpdateNeeded = ds.Dedup
		})
		if err != nil {
			return count, err
		}
		count++
	}

	s.logger.Info("renormalization complete", "source", sourceID, "records", count)
	return count, nil
}

// DeleteSource tombstones every record of a source. The index updater
// removes the records' documents on its next run.
func (s *RecordService) DeleteSource(ctx context.Context, sourceID string) (int, error) {
	if strings.TrimSpace(sourceID) == "" {
		return 0, domainerrors.Validation("source id is required")
	}
	n, err := s.store.MarkSourceDeleted(ctx, sourceID)
	if err != nil {
		return 0, fmt.Errorf("delete source %s: %w", sourceID, err)
	}
	s.logger.Info("source deleted", "source", sourceID, "records", n)
	return n, nil
}

// Get returns one record.
func (s *RecordService) Get(ctx context.Context, recordID string) (*domain.Record, error) {
	r, err := s.store.GetRecord(ctx, recordID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, domainerrors.NotFoundf("record %q not found", recordID)
		}
		return nil, fmt.Errorf("get record: %w", err)
	}
	return r, nil
}

// Cluster returns every record linked under dedupKey, tombstones included.
func (s *RecordService) Cluster(ctx context.Context, dedupKey string) ([]*domain.Record, error) {
	members, err := s.store.FindByDedupKey(ctx, dedupKey)
	if err != nil {
		return nil, fmt.Errorf("find cluster: %w", err)
	}
	if len(members) == 0 {
		return nil, domainerrors.NotFoundf("cluster %q not found", dedupKey)
	}
	return members, nil
}

// Count returns the number of records matching filter.
func (s *RecordService) Count(ctx context.Context, filter store.RecordFilter) (int, error) {
	n, err := s.store.CountRecords(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return n, nil
}

// Stats returns record counts per source.
func (s *RecordService) Stats(ctx context.Context) ([]store.SourceStats, error) {
	stats, err := s.store.CountBySource(ctx)
	if err != nil {
		return nil, fmt.Errorf("count by source: %w", err)
	}
	return stats, nil
}

func (s *RecordService) supports(format string) bool {
	type supporter interface{ Supports(string) bool }
	if sp, ok := s.parser.(supporter); ok {
		return sp.Supports(format)
	}
	return true
}

// applyKeys refreshes the persisted blocking keys and format from metadata.
func applyKeys(r *domain.Record, md metadata.Metadata) {
	if md == nil {
		md = metadata.Empty{}
	}
	f := dedup.FieldsFromMetadata(md)
	r.Format = f.Format
	r.TitleKeys = f.TitleKeys
	r.ISBNKeys = f.ISBNs
}

// contentHash fingerprints source data so unchanged records are skipped on
// reimport.
func contentHash(data string) string {
	sum := blake2b.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])
}
