package providers

import (
	"fmt"

	"github.com/samber/do/v2"

	"github.com/bibmerge/bibmerge/internal/config"
	"github.com/bibmerge/bibmerge/internal/logger"
	"github.com/bibmerge/bibmerge/internal/store"
	"github.com/bibmerge/bibmerge/internal/store/sqlite"
)

// StoreHandle wraps the store with shutdown capability.
type StoreHandle struct {
	store.Store
}

// Shutdown implements do.Shutdownable.
func (h *StoreHandle) Shutdown() error {
	return h.Close()
}

// ProvideStore provides the record store for the configured backend.
func ProvideStore(i do.Injector) (*StoreHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	dbPath := cfg.DatabasePath()

	var (
		st  store.Store
		err error
	)
	switch cfg.Data.StoreBackend {
	case config.BackendBadger:
		st, err = store.OpenBadger(dbPath, log.Logger)
	case config.BackendSQLite:
		st, err = sqlite.Open(dbPath, log.Logger)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Data.StoreBackend)
	}
	if err != nil {
		return nil, err
	}

	log.Debug("Database initialized", "backend", cfg.Data.StoreBackend, "path", dbPath)

	return &StoreHandle{Store: st}, nil
}
