package dedup

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bibmerge/bibmerge/internal/config"
	"github.com/bibmerge/bibmerge/internal/domain"
	domainerrors "github.com/bibmerge/bibmerge/internal/errors"
	"github.com/bibmerge/bibmerge/internal/id"
	"github.com/bibmerge/bibmerge/internal/ratelimit"
	"github.com/bibmerge/bibmerge/internal/store"
)

const (
	progressInterval = 1000
	slowRecord       = 700 * time.Millisecond
)

// RunnerConfig configures batch runs.
type RunnerConfig struct {
	Workers       int
	MaxCandidates int
	CacheSize     int
	// RateLimit caps records processed per second and source; 0 disables it.
	RateLimit float64
	Match     MatchConfig
}

// RunOptions selects the subjects of a run.
type RunOptions struct {
	// SourceID limits the run to one source; empty means every source with
	// dedup enabled.
	SourceID string
	// RecordID processes a single record of the selected source(s).
	RecordID string
	// AllRecords processes every live record, not only dirty ones.
	AllRecords bool
}

// RunResult summarizes a run.
type RunResult struct {
	RunID     string        `json:"run_id"`
	Sources   []string      `json:"sources"`
	Processed int           `json:"processed"`
	Matched   int           `json:"matched"`
	Failed    int           `json:"failed"`
	Skipped   int           `json:"skipped"`
	Duration  time.Duration `json:"duration"`
	Stats     Stats         `json:"stats"`
}

// Runner processes batches of dirty records source by source.
type Runner struct {
	store   store.Store
	parser  Parser
	sources *config.DataSources
	linker  *Linker
	limiter *ratelimit.KeyedRateLimiter
	logger  *slog.Logger
	cfg     RunnerConfig
}

// NewRunner creates a Runner. linker may be shared with other writers of
// dedup keys in this process.
func NewRunner(st store.Store, parser Parser, sources *config.DataSources, linker *Linker, logger *slog.Logger, cfg RunnerConfig) *Runner {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return &Runner{
		store:   st,
		parser:  parser,
		sources: sources,
		linker:  linker,
		limiter: ratelimit.New(cfg.RateLimit, 1),
		logger:  logger,
		cfg:     cfg,
	}
}

// Close stops the throttle's background cleanup.
func (r *Runner) Close() {
	r.limiter.Stop()
}

// Run deduplicates the selected records. Per-record failures are logged and
// counted and leave the record dirty for the next run; configuration errors
// abort the run before anything is processed.
func (r *Runner) Run(ctx context.Context, opts RunOptions) (*RunResult, error) {
	sourceIDs, err := r.selectSources(opts.SourceID)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	result := &RunResult{RunID: id.NewRunID(), Sources: sourceIDs}
	logger := r.logger.With("run_id", result.RunID)
	logger.Info("deduplication started", "sources", sourceIDs, "all_records", opts.AllRecords)

	var total Stats
	for _, sourceID := range sourceIDs {
		res, stats, err := r.runSource(ctx, logger, sourceID, opts)
		result.Processed += res.processed
		result.Matched += res.matched
		result.Failed += res.failed
		result.Skipped += res.skipped
		total = total.add(stats)
		if err != nil {
			result.Stats = total
			result.Duration = time.Since(start)
			return result, err
		}
	}

	result.Stats = total
	result.Duration = time.Since(start)
	logger.Info("deduplication completed",
		"processed", result.Processed,
		"matched", result.Matched,
		"failed", result.Failed,
		"duration", result.Duration)
	return result, nil
}

func (r *Runner) selectSources(sourceID string) ([]string, error) {
	if sourceID != "" {
		if _, err := r.sources.Get(sourceID); err != nil {
			return nil, err
		}
		return []string{sourceID}, nil
	}
	ids := r.sources.WithDedup()
	if len(ids) == 0 {
		return nil, domainerrors.Config("no data sources have deduplication enabled")
	}
	return ids, nil
}

type sourceCounts struct {
	processed, matched, failed, skipped int
}

// runSource processes one source with a fresh overflow cache.
func (r *Runner) runSource(ctx context.Context, logger *slog.Logger, sourceID string, opts RunOptions) (sourceCounts, Stats, error) {
	logger = logger.With("source", sourceID)
	d := NewDeduplicator(r.store, r.parser, r.linker, NewOverflowCache(r.cfg.CacheSize), logger, Options{
		MaxCandidates: r.cfg.MaxCandidates,
		Match:         r.cfg.Match,
	})

	filter := store.RecordFilter{SourceID: sourceID, RecordID: opts.RecordID}
	if !opts.AllRecords && opts.RecordID == "" {
		filter.UpdateNeeded = true
	}

	total, err := r.store.CountRecords(ctx, filter)
	if err != nil {
		return sourceCounts{}, d.Stats(), err
	}
	logger.Info("processing records", "total", total)

	var (
		processed, matched, failed atomic.Int64
		progressMu                 sync.Mutex
		windowStart                = time.Now()
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Workers)

	for rec, err := range r.store.StreamRecords(gctx, filter) {
		if err != nil {
			g.Go(func() error { return err })
			break
		}
		if err := r.limiter.Wait(gctx, sourceID); err != nil {
			break
		}

		g.Go(func() error {
			ok, err := r.processOne(gctx, logger, d, rec)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				failed.Add(1)
				return nil
			}
			if ok {
				matched.Add(1)
			}

			if n := processed.Add(1); n%progressInterval == 0 {
				progressMu.Lock()
				elapsed := time.Since(windowStart)
				windowStart = time.Now()
				progressMu.Unlock()
				logger.Info("deduplication progress",
					"processed", n,
					"matched", matched.Load(),
					"rate", float64(progressInterval)/elapsed.Seconds())
			}
			return nil
		})
	}

	err = g.Wait()
	if err == nil {
		err = ctx.Err()
	}

	counts := sourceCounts{
		processed: int(processed.Load()),
		matched:   int(matched.Load()),
		failed:    int(failed.Load()),
	}
	counts.skipped = max(total-counts.processed-counts.failed, 0)

	stats := d.Stats()
	logger.Info("source completed",
		"processed", counts.processed,
		"matched", counts.matched,
		"failed", counts.failed,
		"keys_overflowed", stats.KeysOverflowed,
		"keys_skipped", stats.KeysSkipped)
	return counts, stats, err
}

// processOne deduplicates one record and clears its dirty flag on success.
func (r *Runner) processOne(ctx context.Context, logger *slog.Logger, d *Deduplicator, rec *domain.Record) (bool, error) {
	start := time.Now()

	matched, err := d.Process(ctx, rec)
	if err == nil {
		err = r.linker.ClearUpdateNeeded(ctx, rec.ID)
	}
	if err != nil {
		logger.Error("deduplication failed", "record_id", rec.ID, "error", err)
		return false, err
	}

	if elapsed := time.Since(start); elapsed > slowRecord {
		logger.Warn("slow candidate search", "record_id", rec.ID, "duration", elapsed)
	}
	return matched, nil
}

func (s Stats) add(o Stats) Stats {
	return Stats{
		Processed:          s.Processed + o.Processed,
		Matched:            s.Matched + o.Matched,
		Cleared:            s.Cleared + o.Cleared,
		CandidatesCompared: s.CandidatesCompared + o.CandidatesCompared,
		KeysSkipped:        s.KeysSkipped + o.KeysSkipped,
		KeysOverflowed:     s.KeysOverflowed + o.KeysOverflowed,
	}
}
