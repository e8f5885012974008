package providers

import (
	"github.com/samber/do/v2"

	"github.com/bibmerge/bibmerge/internal/config"
	"github.com/bibmerge/bibmerge/internal/dedup"
	"github.com/bibmerge/bibmerge/internal/logger"
	"github.com/bibmerge/bibmerge/internal/metadata"
	"github.com/bibmerge/bibmerge/internal/service"
)

// ProvideRecordService provides the record management service.
func ProvideRecordService(i do.Injector) (*service.RecordService, error) {
	storeHandle := do.MustInvoke[*StoreHandle](i)
	parser := do.MustInvoke[*metadata.Registry](i)
	linker := do.MustInvoke[*dedup.Linker](i)
	sources := do.MustInvoke[*config.DataSources](i)
	log := do.MustInvoke[*logger.Logger](i)

	return service.NewRecordService(storeHandle.Store, parser, linker, sources, log.Logger), nil
}

// ProvideLinker provides the cluster linker. Every writer of dedup keys in
// the process shares it so per-record locks cover all of them.
func ProvideLinker(i do.Injector) (*dedup.Linker, error) {
	storeHandle := do.MustInvoke[*StoreHandle](i)
	log := do.MustInvoke[*logger.Logger](i)

	return dedup.NewLinker(storeHandle.Store, log.Logger), nil
}

// ProvideDeduplicator provides a long-lived deduplicator for single-record
// requests. Its overflow cache lives as long as the process.
func ProvideDeduplicator(i do.Injector) (*dedup.Deduplicator, error) {
	cfg := do.MustInvoke[*config.Config](i)
	storeHandle := do.MustInvoke[*StoreHandle](i)
	parser := do.MustInvoke[*metadata.Registry](i)
	linker := do.MustInvoke[*dedup.Linker](i)
	log := do.MustInvoke[*logger.Logger](i)

	return dedup.NewDeduplicator(
		storeHandle.Store,
		parser,
		linker,
		dedup.NewOverflowCache(cfg.Dedup.CacheSize),
		log.Logger,
		dedup.Options{MaxCandidates: cfg.Dedup.MaxCandidates},
	), nil
}

// DedupRunnerHandle wraps the dedup runner with shutdown capability.
type DedupRunnerHandle struct {
	*dedup.Runner
}

// Shutdown implements do.Shutdownable.
func (h *DedupRunnerHandle) Shutdown() error {
	h.Close()
	return nil
}

// ProvideDedupRunner provides the batch deduplication runner.
func ProvideDedupRunner(i do.Injector) (*DedupRunnerHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	storeHandle := do.MustInvoke[*StoreHandle](i)
	parser := do.MustInvoke[*metadata.Registry](i)
	sources := do.MustInvoke[*config.DataSources](i)
	linker := do.MustInvoke[*dedup.Linker](i)
	log := do.MustInvoke[*logger.Logger](i)

	runner := dedup.NewRunner(storeHandle.Store, parser, sources, linker, log.Logger, dedup.RunnerConfig{
		Workers:       cfg.Dedup.Workers,
		MaxCandidates: cfg.Dedup.MaxCandidates,
		CacheSize:     cfg.Dedup.CacheSize,
		RateLimit:     cfg.Dedup.RateLimit,
	})
	return &DedupRunnerHandle{Runner: runner}, nil
}
