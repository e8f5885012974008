package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/bibmerge/bibmerge/internal/domain"
	domainerrors "github.com/bibmerge/bibmerge/internal/errors"
	"github.com/bibmerge/bibmerge/internal/store"
)

// Dump formats.
const (
	DumpJSONL   = "jsonl"
	DumpParquet = "parquet"
)

// DumpRow is the flat parquet layout of a record.
type DumpRow struct {
	ID             string    `parquet:"id"`
	SourceID       string    `parquet:"source_id"`
	OAIID          string    `parquet:"oai_id,optional"`
	HostRecordID   string    `parquet:"host_record_id,optional"`
	DataFormat     string    `parquet:"data_format"`
	Format         string    `parquet:"format,optional"`
	OriginalData   string    `parquet:"original_data"`
	NormalizedData string    `parquet:"normalized_data,optional"`
	TitleKeys      []string  `parquet:"title_keys,list"`
	ISBNKeys       []string  `parquet:"isbn_keys,list"`
	DedupKey       string    `parquet:"dedup_key,optional"`
	UpdateNeeded   bool      `parquet:"update_needed"`
	Deleted        bool      `parquet:"deleted"`
	CreatedAt      time.Time `parquet:"created_at"`
	UpdatedAt      time.Time `parquet:"updated_at"`
}

func dumpRow(r *domain.Record) DumpRow {
	return DumpRow{
		ID:             r.ID,
		SourceID:       r.SourceID,
		OAIID:          r.OAIID,
		HostRecordID:   r.HostRecordID,
		DataFormat:     r.DataFormat,
		Format:         r.Format,
		OriginalData:   r.OriginalData,
		NormalizedData: r.NormalizedData,
		TitleKeys:      r.TitleKeys,
		ISBNKeys:       r.ISBNKeys,
		DedupKey:       r.DedupKey,
		UpdateNeeded:   r.UpdateNeeded,
		Deleted:        r.Deleted,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}

// Dump writes the records matching filter to w as JSON lines or parquet and
// returns how many were written.
func (s *RecordService) Dump(ctx context.Context, w io.Writer, format string, filter store.RecordFilter) (int, error) {
	switch format {
	case DumpJSONL, "":
		return s.dumpJSONL(ctx, w, filter)
	case DumpParquet:
		return s.dumpParquet(ctx, w, filter)
	default:
		return 0, domainerrors.Validationf("unsupported dump format %q (supported: jsonl, parquet)", format)
	}
}

func (s *RecordService) dumpJSONL(ctx context.Context, w io.Writer, filter store.RecordFilter) (int, error) {
	enc := json.NewEncoder(w)
	n := 0
	for r, err := range s.store.StreamRecords(ctx, filter) {
		if err != nil {
			return n, fmt.Errorf("stream records: %w", err)
		}
		if err := enc.Encode(r); err != nil {
			return n, fmt.Errorf("encode record %s: %w", r.ID, err)
		}
		n++
	}
	return n, nil
}

func (s *RecordService) dumpParquet(ctx context.Context, w io.Writer, filter store.RecordFilter) (int, error) {
	pw := parquet.NewGenericWriter[DumpRow](w)

	n := 0
	batch := make([]DumpRow, 0, parquetBatch)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if _, err := pw.Write(batch); err != nil {
			return fmt.Errorf("write parquet rows: %w", err)
		}
		batch = batch[:0]
		return nil
	}

	for r, err := range s.store.StreamRecords(ctx, filter) {
		if err != nil {
			return n, fmt.Errorf("stream records: %w", err)
		}
		batch = append(batch, dumpRow(r))
		n++
		if len(batch) == cap(batch) {
			if err := flush(); err != nil {
				return n, err
			}
		}
	}
	if err := flush(); err != nil {
		return n, err
	}
	if err := pw.Close(); err != nil {
		return n, fmt.Errorf("close parquet writer: %w", err)
	}
	return n, nil
}
