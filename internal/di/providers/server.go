package providers

import (
	"context"
	"errors"
	"net/http"

	"github.com/samber/do/v2"

	"github.com/bibmerge/bibmerge/internal/api"
	"github.com/bibmerge/bibmerge/internal/auth"
	"github.com/bibmerge/bibmerge/internal/config"
	"github.com/bibmerge/bibmerge/internal/dedup"
	"github.com/bibmerge/bibmerge/internal/logger"
	"github.com/bibmerge/bibmerge/internal/search"
	"github.com/bibmerge/bibmerge/internal/service"
)

// HTTPServerHandle wraps http.Server with Shutdownable.
type HTTPServerHandle struct {
	*http.Server
	api *api.Server
	// Done is closed once the listener has stopped; Err then holds the
	// listener error, nil after a clean shutdown.
	Done chan struct{}
	Err  error
}

// Shutdown implements do.Shutdownable.
func (h *HTTPServerHandle) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := h.Server.Shutdown(ctx)
	h.api.Shutdown()
	return err
}

// ProvideHTTPServer provides the HTTP server and starts listening.
func ProvideHTTPServer(i do.Injector) (*HTTPServerHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	storeHandle := do.MustInvoke[*StoreHandle](i)
	indexHandle := do.MustInvoke[*SearchIndexHandle](i)
	log := do.MustInvoke[*logger.Logger](i)

	services := &api.Services{
		Records: do.MustInvoke[*service.RecordService](i),
		Dedup:   do.MustInvoke[*dedup.Deduplicator](i),
		Index:   indexHandle.SearchIndex,
		Updater: do.MustInvoke[*search.Updater](i),
		Tokens:  do.MustInvoke[*auth.TokenService](i),
	}

	handler := api.NewServer(storeHandle.Store, services, api.Options{
		AllowedOrigins:    cfg.Server.AllowedOrigins,
		RequestsPerMinute: cfg.Server.RequestsPerMinute,
	}, log.Logger)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	h := &HTTPServerHandle{Server: srv, api: handler, Done: make(chan struct{})}

	// Start in background
	go func() {
		defer close(h.Done)
		log.Info("HTTP server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server error", "error", err)
			h.Err = err
		}
	}()

	return h, nil
}
