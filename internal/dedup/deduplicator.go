// Package dedup links records from different sources that describe the same
// work. A Deduplicator processes one subject record at a time: it searches
// candidates by blocking key, compares them with the Matcher, and links the
// first match into a shared cluster through the Linker. The Runner drives
// batches of subjects through a worker pool.
package dedup

import (
	"context"
	"iter"
	"log/slog"
	"sync/atomic"

	"github.com/bibmerge/bibmerge/internal/domain"
	domainerrors "github.com/bibmerge/bibmerge/internal/errors"
	"github.com/bibmerge/bibmerge/internal/store"
)

// DefaultMaxCandidates is how many candidates one key may yield before the
// key is recorded as overflowed.
const DefaultMaxCandidates = 1000

// Options configures a Deduplicator.
type Options struct {
	MaxCandidates int
	Match         MatchConfig
}

// Stats counts the work done by a Deduplicator.
type Stats struct {
	Processed          int64 `json:"processed"`
	Matched            int64 `json:"matched"`
	Cleared            int64 `json:"cleared"`
	CandidatesCompared int64 `json:"candidates_compared"`
	KeysSkipped        int64 `json:"keys_skipped"`
	KeysOverflowed     int64 `json:"keys_overflowed"`
}

type counters struct {
	processed          atomic.Int64
	matched            atomic.Int64
	cleared            atomic.Int64
	candidatesCompared atomic.Int64
	keysSkipped        atomic.Int64
	keysOverflowed     atomic.Int64
}

// Result describes the outcome of processing one subject.
type Result struct {
	Matched     bool
	DedupKey    string
	MatchedWith string
	Decision    Decision
	Cleared     bool
}

// Deduplicator processes subject records. It is safe for concurrent use;
// concurrent passes share its overflow cache and serialize record writes
// through the Linker.
type Deduplicator struct {
	store         store.Store
	parser        Parser
	matcher       *Matcher
	linker        *Linker
	cache         *OverflowCache
	logger        *slog.Logger
	maxCandidates int
	stats         counters
}

// NewDeduplicator creates a Deduplicator. A nil cache gets a fresh cache of
// the default size.
func NewDeduplicator(st store.Store, parser Parser, linker *Linker, cache *OverflowCache, logger *slog.Logger, opts Options) *Deduplicator {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if cache == nil {
		cache = NewOverflowCache(DefaultCacheSize)
	}
	if opts.MaxCandidates <= 0 {
		opts.MaxCandidates = DefaultMaxCandidates
	}
	return &Deduplicator{
		store:         st,
		parser:        parser,
		matcher:       NewMatcher(opts.Match),
		linker:        linker,
		cache:         cache,
		logger:        logger,
		maxCandidates: opts.MaxCandidates,
	}
}

// Process searches a match for subject and updates its cluster membership.
// It returns true when subject was linked to a candidate; otherwise any
// dedup key subject still carries is cleared. UpdateNeeded is left alone.
func (d *Deduplicator) Process(ctx context.Context, subject *domain.Record) (bool, error) {
	res, err := d.ProcessRecord(ctx, subject)
	return res.Matched, err
}

// ProcessRecord is Process returning the full outcome.
func (d *Deduplicator) ProcessRecord(ctx context.Context, subject *domain.Record) (Result, error) {
	if subject.Deleted {
		return Result{}, domainerrors.Validationf("record %s is deleted", subject.ID)
	}

	fields, err := DeriveFields(subject, d.parser)
	if err != nil {
		if domainerrors.CodeOf(err) == domainerrors.CodeValidation {
			return Result{}, err
		}
		d.logger.Warn("unparseable subject metadata, comparing empty fields",
			"record_id", subject.ID, "error", err)
	}
	d.stats.processed.Add(1)

	for c, err := range d.candidates(ctx, subject, fields) {
		if err != nil {
			return Result{}, err
		}

		decision := d.matcher.Match(fields, c.fields)
		if !decision.Matched {
			d.logger.Debug("candidate rejected",
				"record_id", subject.ID, "candidate", c.record.ID,
				"stage", decision.Stage, "reason", decision.Reason)
			continue
		}

		key, err := d.linker.Link(ctx, subject, c.record)
		if err != nil {
			return Result{}, err
		}
		d.stats.matched.Add(1)
		d.logger.Debug("match found",
			"record_id", subject.ID, "candidate", c.record.ID, "key_type", c.key.Type,
			"stage", decision.Stage, "reason", decision.Reason, "dedup_key", key)
		return Result{Matched: true, DedupKey: key, MatchedWith: c.record.ID, Decision: decision}, nil
	}

	cleared, err := d.linker.Clear(ctx, subject)
	if err != nil {
		return Result{}, err
	}
	if cleared {
		d.stats.cleared.Add(1)
	}
	return Result{Cleared: cleared}, nil
}

// candidate is one record found under one of the subject's keys.
type candidate struct {
	key    blockingKey
	record *domain.Record
	fields *Fields
}

// candidates yields the subject's candidates lazily: ISBN keys first, then
// title keys, each key's records in store order. Keys in the overflow cache
// are skipped. The consumer stops the whole search by breaking.
func (d *Deduplicator) candidates(ctx context.Context, subject *domain.Record, fields *Fields) iter.Seq2[candidate, error] {
	return func(yield func(candidate, error) bool) {
		for _, key := range fields.blockingKeys() {
			cacheKey := key.cacheKey()
			if d.cache.ShouldSkip(cacheKey) {
				d.stats.keysSkipped.Add(1)
				continue
			}

			scanned := 0
			for rec, err := range d.store.FindCandidates(ctx, key.Type, key.Value, subject.SourceID) {
				if err != nil {
					yield(candidate{}, err)
					return
				}
				if rec.ID == subject.ID || rec.SourceID == subject.SourceID || rec.Deleted {
					continue
				}

				skip, err := d.alreadyLinkedToSource(ctx, subject, rec)
				if err != nil {
					yield(candidate{}, err)
					return
				}
				if skip {
					continue
				}

				scanned++
				if scanned > d.maxCandidates {
					d.cache.RecordOverflow(cacheKey)
					d.stats.keysOverflowed.Add(1)
					d.logger.Debug("too many candidates",
						"record_id", subject.ID, "key_type", key.Type, "key", key.Value)
					break
				}

				cf, err := DeriveFields(rec, d.parser)
				if err != nil {
					d.logger.Debug("unparseable candidate metadata, comparing empty fields",
						"candidate", rec.ID, "error", err)
				}
				d.stats.candidatesCompared.Add(1)

				if !yield(candidate{key: key, record: rec, fields: cf}, nil) {
					return
				}
			}
		}
	}
}

// alreadyLinkedToSource reports whether candidate sits in a cluster that
// already holds a live record of the subject's source. The subject's own
// cluster is exempt: confirming an existing link must not undo it.
func (d *Deduplicator) alreadyLinkedToSource(ctx context.Context, subject, candidate *domain.Record) (bool, error) {
	if !candidate.HasDedupKey() || candidate.DedupKey == subject.DedupKey {
		return false, nil
	}
	return d.store.ClusterHasSource(ctx, candidate.DedupKey, subject.SourceID)
}

// Stats returns a snapshot of the counters.
func (d *Deduplicator) Stats() Stats {
	return Stats{
		Processed:          d.stats.processed.Load(),
		Matched:            d.stats.matched.Load(),
		Cleared:            d.stats.cleared.Load(),
		CandidatesCompared: d.stats.candidatesCompared.Load(),
		KeysSkipped:        d.stats.keysSkipped.Load(),
		KeysOverflowed:     d.stats.keysOverflowed.Load(),
	}
}

// Linker returns the linker the Deduplicator writes through.
func (d *Deduplicator) Linker() *Linker {
	return d.linker
}
