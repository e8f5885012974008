package providers

import (
	"github.com/samber/do/v2"

	"github.com/bibmerge/bibmerge/internal/config"
	"github.com/bibmerge/bibmerge/internal/logger"
	"github.com/bibmerge/bibmerge/internal/metadata"
	"github.com/bibmerge/bibmerge/internal/search"
)

// SearchIndexHandle wraps the search index with shutdown capability.
type SearchIndexHandle struct {
	*search.SearchIndex
}

// Shutdown implements do.Shutdownable.
func (h *SearchIndexHandle) Shutdown() error {
	return h.Close()
}

// ProvideSearchIndex provides the Bleve search index.
func ProvideSearchIndex(i do.Injector) (*SearchIndexHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	index, err := search.NewSearchIndex(search.Options{
		DataPath: cfg.SearchIndexPath(),
		Logger:   log.Logger,
	})
	if err != nil {
		return nil, err
	}

	docCount, _ := index.DocumentCount()
	log.Debug("Search index initialized", "documents", docCount)

	return &SearchIndexHandle{SearchIndex: index}, nil
}

// ProvideIndexUpdater provides the updater that syncs the index with the store.
func ProvideIndexUpdater(i do.Injector) (*search.Updater, error) {
	storeHandle := do.MustInvoke[*StoreHandle](i)
	indexHandle := do.MustInvoke[*SearchIndexHandle](i)
	parser := do.MustInvoke[*metadata.Registry](i)
	sources := do.MustInvoke[*config.DataSources](i)
	log := do.MustInvoke[*logger.Logger](i)

	return search.NewUpdater(storeHandle.Store, indexHandle.SearchIndex, parser, sources, log.Logger), nil
}
