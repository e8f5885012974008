package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bibmerge/bibmerge/internal/config"
	"github.com/bibmerge/bibmerge/internal/domain"
	domainerrors "github.com/bibmerge/bibmerge/internal/errors"
	"github.com/bibmerge/bibmerge/internal/metadata"
	"github.com/bibmerge/bibmerge/internal/store"
)

// updateBatchSize is how many index operations are committed at once.
const updateBatchSize = 500

// Parser turns stored record data into metadata. *metadata.Registry
// satisfies it.
type Parser interface {
	Parse(format, data string) (metadata.Metadata, error)
}

// UpdateOptions selects the records an index update reads.
type UpdateOptions struct {
	SourceID string
	RecordID string
	// From overrides the stored watermark.
	From time.Time
	// All reindexes every record regardless of the watermark.
	All bool
	// Rebuild empties the index first and implies All.
	Rebuild bool
}

// UpdateResult counts what an index update did.
type UpdateResult struct {
	Records   int       `json:"records"`
	Indexed   int       `json:"indexed"`
	Merged    int       `json:"merged"`
	Deleted   int       `json:"deleted"`
	Watermark time.Time `json:"watermark"`
}

// Updater brings the index in line with the record store. Records still
// waiting for deduplication are skipped until a dedup run clears their flag.
type Updater struct {
	store   store.Store
	index   *SearchIndex
	parser  Parser
	sources *config.DataSources
	logger  *slog.Logger
}

// NewUpdater creates an index updater.
func NewUpdater(st store.Store, index *SearchIndex, parser Parser, sources *config.DataSources, logger *slog.Logger) *Updater {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Updater{
		store:   st,
		index:   index,
		parser:  parser,
		sources: sources,
		logger:  logger,
	}
}

// Index returns the index the updater writes to.
func (u *Updater) Index() *SearchIndex {
	return u.index
}

// updateRun is the state of one Update call.
type updateRun struct {
	*Updater
	batch    *Batch
	clusters map[string]bool
	result   UpdateResult
}

// Update indexes records changed since the watermark (or opts.From). A full
// run, one without RecordID, stores its start time as the new watermark.
func (u *Updater) Update(ctx context.Context, opts UpdateOptions) (UpdateResult, error) {
	start := time.Now().UTC()
	stateKey := domain.LastIndexUpdateKey(opts.SourceID)

	if opts.Rebuild {
		if opts.SourceID != "" || opts.RecordID != "" {
			return UpdateResult{}, domainerrors.Validation("rebuild cannot be limited to a source or record")
		}
		if err := u.index.Rebuild(); err != nil {
			return UpdateResult{}, err
		}
		opts.All = true
	}

	from, err := u.from(ctx, opts, stateKey)
	if err != nil {
		return UpdateResult{}, err
	}

	run := &updateRun{
		Updater:  u,
		batch:    u.index.NewBatch(),
		clusters: make(map[string]bool),
	}

	u.logger.Info("index update started",
		"source", opts.SourceID,
		"record_id", opts.RecordID,
		"from", from,
	)

	filter := store.RecordFilter{
		SourceID:        opts.SourceID,
		RecordID:        opts.RecordID,
		NotUpdateNeeded: true,
		IncludeDeleted:  true,
		UpdatedSince:    from,
	}
	for r, err := range u.store.StreamRecords(ctx, filter) {
		if err != nil {
			return run.result, fmt.Errorf("stream records: %w", err)
		}
		run.result.Records++

		if err := run.apply(ctx, r); err != nil {
			return run.result, err
		}
		if run.batch.Size() >= updateBatchSize {
			if err := u.index.Commit(run.batch); err != nil {
				return run.result, err
			}
		}
	}
	if err := u.index.Commit(run.batch); err != nil {
		return run.result, err
	}

	if opts.RecordID == "" {
		if err := u.store.SetState(ctx, &domain.State{ID: stateKey, Value: start}); err != nil {
			return run.result, fmt.Errorf("store index watermark: %w", err)
		}
		run.result.Watermark = start
	}

	u.logger.Info("index update complete",
		"source", opts.SourceID,
		"records", run.result.Records,
		"indexed", run.result.Indexed,
		"merged", run.result.Merged,
		"deleted", run.result.Deleted,
		"duration", time.Since(start),
	)
	return run.result, nil
}

func (u *Updater) from(ctx context.Context, opts UpdateOptions, stateKey string) (time.Time, error) {
	switch {
	case !opts.From.IsZero():
		return opts.From, nil
	case opts.All:
		return time.Time{}, nil
	}
	state, err := u.store.GetState(ctx, stateKey)
	if errors.Is(err, store.ErrNotFound) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("read index watermark: %w", err)
	}
	return state.Value, nil
}

func (run *updateRun) apply(ctx context.Context, r *domain.Record) error {
	switch {
	case r.Deleted:
		run.delete(r.ID)
		if r.HasDedupKey() {
			return run.rebuildCluster(ctx, r.DedupKey)
		}
		return nil
	case r.HasDedupKey():
		return run.rebuildCluster(ctx, r.DedupKey)
	case run.mergedIntoHost(r):
		run.delete(r.ID)
		return nil
	default:
		return run.indexStandalone(r)
	}
}

// rebuildCluster replaces the documents of a cluster, once per key and run.
// Two or more live members become one merged document; a lone member is
// indexed on its own.
func (run *updateRun) rebuildCluster(ctx context.Context, dedupKey string) error {
	if run.clusters[dedupKey] {
		return nil
	}
	run.clusters[dedupKey] = true

	members, err := run.store.FindByDedupKey(ctx, dedupKey)
	if err != nil {
		return fmt.Errorf("find cluster %s: %w", dedupKey, err)
	}

	live := make([]*domain.Record, 0, len(members))
	for _, m := range members {
		if m.Deleted {
			run.delete(m.ID)
			continue
		}
		live = append(live, m)
	}

	if len(live) < 2 {
		if len(live) == 1 {
			run.logger.Warn("dedup key has a single live record, indexing it alone",
				"dedup_key", dedupKey,
				"record_id", live[0].ID,
			)
		}
		run.delete(dedupKey)
		for _, m := range live {
			if err := run.indexStandalone(m); err != nil {
				return err
			}
		}
		return nil
	}

	docs := make([]*ClusterDocument, 0, len(live))
	for _, m := range live {
		docs = append(docs, run.document(m))
		run.delete(m.ID)
	}
	if err := run.batch.Index(MergeDocuments(dedupKey, docs)); err != nil {
		return err
	}
	run.result.Merged++
	return nil
}

func (run *updateRun) indexStandalone(r *domain.Record) error {
	if err := run.batch.Index(run.document(r)); err != nil {
		return err
	}
	run.result.Indexed++
	return nil
}

func (run *updateRun) delete(docID string) {
	run.batch.Delete(docID)
	run.result.Deleted++
}

// mergedIntoHost reports whether a component part is represented by its
// host record instead of its own document.
func (run *updateRun) mergedIntoHost(r *domain.Record) bool {
	if r.HostRecordID == "" {
		return false
	}
	ds, err := run.sources.Get(r.SourceID)
	if err != nil {
		return false
	}
	switch ds.ComponentParts {
	case config.ComponentPartsMergeAll:
		return true
	case config.ComponentPartsMergeNonArticles:
		return !isArticle(r.Format)
	default:
		return false
	}
}

func isArticle(format string) bool {
	switch format {
	case "Article", "eArticle", "Journal article":
		return true
	default:
		return false
	}
}

func (run *updateRun) document(r *domain.Record) *ClusterDocument {
	md, err := run.parser.Parse(r.DataFormat, r.Data())
	if err != nil {
		run.logger.Warn("indexing record with unparseable data",
			"record_id", r.ID,
			"error", err,
		)
	}
	if md == nil {
		md = metadata.Empty{}
	}
	return RecordToDocument(r, md, run.sources.Institution(r.SourceID))
}
