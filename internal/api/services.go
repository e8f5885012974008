package api

import (
	"github.com/bibmerge/bibmerge/internal/auth"
	"github.com/bibmerge/bibmerge/internal/dedup"
	"github.com/bibmerge/bibmerge/internal/search"
	"github.com/bibmerge/bibmerge/internal/service"
)

// Services groups the components used by the API server.
type Services struct {
	Records *service.RecordService
	Dedup   *dedup.Deduplicator
	Index   *search.SearchIndex
	Updater *search.Updater // Optional; index refresh route returns 503 without it
	Tokens  *auth.TokenService
}
