package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/bibmerge/bibmerge/internal/search"
)

func (s *Server) registerSearchRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "search",
		Method:      http.MethodGet,
		Path:        "/api/v1/search",
		Summary:     "Search records",
		Description: "Searches merged clusters and standalone records",
		Tags:        []string{"Search"},
	}, s.handleSearch)
}

// === DTOs ===

// SearchInput contains parameters for searching the index.
type SearchInput struct {
	Query   string `query:"q" maxLength:"200" doc:"Search query; ISBNs and record IDs match exactly"`
	Types   string `query:"types" maxLength:"100" doc:"Comma-separated document types (record,merged). Omit for all."`
	Sources string `query:"sources" maxLength:"500" doc:"Comma-separated contributing source IDs"`
	Formats string `query:"formats" maxLength:"500" doc:"Comma-separated material formats"`
	MinYear int    `query:"min_year" minimum:"0" doc:"Earliest publication year"`
	MaxYear int    `query:"max_year" minimum:"0" doc:"Latest publication year"`
	Limit   int    `query:"limit" minimum:"0" maximum:"100" doc:"Max results (default 20)"`
	Offset  int    `query:"offset" minimum:"0" doc:"Pagination offset (default 0)"`
	Sort    string `query:"sort" enum:"relevance,title,year,recent" doc:"Sort field (default relevance)"`
	Order   string `query:"order" enum:"asc,desc" doc:"Sort order (default desc)"`
	Facets  bool   `query:"facets" doc:"Include facets in response"`
}

// SearchOutput wraps the search response for Huma.
type SearchOutput struct {
	Body *search.SearchResult
}

// === Handlers ===

func (s *Server) handleSearch(ctx context.Context, input *SearchInput) (*SearchOutput, error) {
	if s.services.Index == nil {
		return nil, huma.Error503ServiceUnavailable("Search index not configured")
	}

	params := search.DefaultSearchParams()
	params.Query = input.Query
	params.Types = splitList(input.Types)
	params.Sources = splitList(input.Sources)
	params.Formats = splitList(input.Formats)
	params.MinYear = input.MinYear
	params.MaxYear = input.MaxYear
	params.Offset = input.Offset
	params.IncludeFacets = input.Facets
	if input.Limit > 0 {
		params.Limit = input.Limit
	}
	if input.Sort != "" {
		params.SortBy = input.Sort
	}
	if input.Order != "" {
		params.SortOrder = input.Order
	}

	result, err := s.services.Index.Search(ctx, params)
	if err != nil {
		return nil, toAPIError(err)
	}
	return &SearchOutput{Body: result}, nil
}
