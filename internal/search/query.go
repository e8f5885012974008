package search

import (
	"context"
	"fmt"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search/query"
)

// MaxLimit caps the page size of one search.
const MaxLimit = 100

// SearchParams configures a search query.
type SearchParams struct {
	Query string   // User's search query
	Types []string // Document types to include (empty = all)

	// Filters
	Sources []string // Contributing source ids (OR)
	Formats []string // Exact formats (OR)
	MinYear int
	MaxYear int

	// Pagination
	Limit  int
	Offset int

	// Sorting
	SortBy    string // "relevance", "title", "year", "recent"
	SortOrder string // "asc", "desc"

	// Options
	IncludeFacets bool     // Include facet counts in results
	FacetFields   []string // Which fields to facet on
	Highlight     bool     // Include match highlighting
}

// DefaultSearchParams returns sensible defaults.
func DefaultSearchParams() SearchParams {
	return SearchParams{
		Limit:         20,
		Offset:        0,
		SortBy:        "relevance",
		SortOrder:     "desc",
		IncludeFacets: true,
		FacetFields:   []string{"type", "format", "institutions"},
		Highlight:     true,
	}
}

// SearchResult represents the search results.
type SearchResult struct {
	Query  string       `json:"query"`
	Total  uint64       `json:"total"`
	TookMs int64        `json:"took_ms"`
	Hits   []SearchHit  `json:"hits"`
	Facets SearchFacets `json:"facets,omitempty"`
}

// SearchHit represents a single search result.
type SearchHit struct {
	ID           string            `json:"id"`
	Type         DocType           `json:"type"`
	Score        float64           `json:"score"`
	Title        string            `json:"title"`
	Author       string            `json:"author,omitempty"`
	Format       string            `json:"format,omitempty"`
	Year         int               `json:"year,omitempty"`
	Publisher    string            `json:"publisher,omitempty"`
	ISBNs        []string          `json:"isbns,omitempty"`
	Institutions []string          `json:"institutions,omitempty"`
	Sources      []string          `json:"sources,omitempty"`
	LocalIDs     []string          `json:"local_ids,omitempty"`
	Highlights   map[string]string `json:"highlights,omitempty"`
}

// SearchFacets contains facet counts.
type SearchFacets struct {
	Types        []FacetCount `json:"types,omitempty"`
	Formats      []FacetCount `json:"formats,omitempty"`
	Institutions []FacetCount `json:"institutions,omitempty"`
}

// FacetCount represents a facet value and its count.
type FacetCount struct {
	Value string `json:"value"`
	Count int    `json:"count"`
}

var storedFields = []string{
	"id", "type", "title", "author", "format", "year", "publisher",
	"isbns", "institutions", "sources", "local_ids",
}

// Search executes a search query.
func (s *SearchIndex) Search(ctx context.Context, params SearchParams) (*SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if params.Limit <= 0 {
		params.Limit = DefaultSearchParams().Limit
	}
	params.Limit = min(params.Limit, MaxLimit)

	searchQuery := buildSearchQuery(params)
	searchRequest := bleve.NewSearchRequestOptions(searchQuery, params.Limit, params.Offset, false)

	addSorting(searchRequest, params)

	if params.IncludeFacets {
		addFacets(searchRequest, params)
	}

	if params.Highlight {
		searchRequest.Highlight = bleve.NewHighlight()
		searchRequest.Highlight.AddField("title")
		searchRequest.Highlight.AddField("author")
	}

	searchRequest.Fields = storedFields

	searchResult, err := s.index.SearchInContext(ctx, searchRequest)
	if err != nil {
		return nil, fmt.Errorf("execute search: %w", err)
	}

	result := &SearchResult{
		Query:  params.Query,
		Total:  searchResult.Total,
		TookMs: searchResult.Took.Milliseconds(),
		Hits:   make([]SearchHit, 0, len(searchResult.Hits)),
	}

	for _, hit := range searchResult.Hits {
		searchHit := hitFromFields(hit.ID, hit.Fields)
		searchHit.Score = hit.Score

		if len(hit.Fragments) > 0 {
			searchHit.Highlights = make(map[string]string)
			for field, fragments := range hit.Fragments {
				if len(fragments) > 0 {
					searchHit.Highlights[field] = fragments[0]
				}
			}
		}

		result.Hits = append(result.Hits, searchHit)
	}

	if params.IncludeFacets {
		result.Facets = extractFacets(searchResult)
	}

	return result, nil
}

// Get returns the stored fields of one document.
func (s *SearchIndex) Get(ctx context.Context, id string) (*SearchHit, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	req := bleve.NewSearchRequest(bleve.NewDocIDQuery([]string{id}))
	req.Fields = storedFields
	res, err := s.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, false, fmt.Errorf("get document %s: %w", id, err)
	}
	if len(res.Hits) == 0 {
		return nil, false, nil
	}
	hit := hitFromFields(res.Hits[0].ID, res.Hits[0].Fields)
	return &hit, true, nil
}

func hitFromFields(id string, fields map[string]interface{}) SearchHit {
	h := SearchHit{ID: id}
	if t, ok := fields["type"].(string); ok {
		h.Type = DocType(t)
	}
	if v, ok := fields["title"].(string); ok {
		h.Title = v
	}
	if v, ok := fields["author"].(string); ok {
		h.Author = v
	}
	if v, ok := fields["format"].(string); ok {
		h.Format = v
	}
	if v, ok := fields["publisher"].(string); ok {
		h.Publisher = v
	}
	if y, ok := fields["year"].(float64); ok {
		h.Year = int(y)
	}
	h.ISBNs = stringList(fields["isbns"])
	h.Institutions = stringList(fields["institutions"])
	h.Sources = stringList(fields["sources"])
	h.LocalIDs = stringList(fields["local_ids"])
	return h
}

// stringList reads a stored field that Bleve returns as a string for one
// value and as a slice for several.
func stringList(v interface{}) []string {
	switch val := v.(type) {
	case string:
		return []string{val}
	case []interface{}:
		out := make([]string, 0, len(val))
		for _, item := range val {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// buildSearchQuery constructs the Bleve query from params.
func buildSearchQuery(params SearchParams) query.Query {
	var queries []query.Query

	// An ISBN or record id typed into the search box finds the document
	// directly; otherwise titles weigh most, then authors.
	if params.Query != "" {
		textQueries := []query.Query{}

		titleMatch := bleve.NewMatchQuery(params.Query)
		titleMatch.SetField("title")
		titleMatch.SetBoost(3.0)
		textQueries = append(textQueries, titleMatch)

		authorMatch := bleve.NewMatchQuery(params.Query)
		authorMatch.SetField("author")
		authorMatch.SetBoost(2.0)
		textQueries = append(textQueries, authorMatch)

		for _, field := range []string{"authors2", "topics", "description"} {
			mq := bleve.NewMatchQuery(params.Query)
			mq.SetField(field)
			mq.SetBoost(0.5)
			textQueries = append(textQueries, mq)
		}

		for _, field := range []string{"isbns", "local_ids"} {
			tq := bleve.NewTermQuery(strings.TrimSpace(params.Query))
			tq.SetField(field)
			tq.SetBoost(5.0)
			textQueries = append(textQueries, tq)
		}

		// Fuzzy matching for typo tolerance on titles
		fuzzyQuery := bleve.NewFuzzyQuery(strings.ToLower(params.Query))
		fuzzyQuery.SetFuzziness(1)
		fuzzyQuery.SetField("title")
		fuzzyQuery.SetBoost(0.8)
		textQueries = append(textQueries, fuzzyQuery)

		queries = append(queries, bleve.NewDisjunctionQuery(textQueries...))
	}

	if q := anyTerm("type", params.Types); q != nil {
		queries = append(queries, q)
	}
	if q := anyTerm("sources", params.Sources); q != nil {
		queries = append(queries, q)
	}
	if q := anyTerm("format", params.Formats); q != nil {
		queries = append(queries, q)
	}

	if params.MinYear > 0 || params.MaxYear > 0 {
		lo := float64(params.MinYear)
		hi := float64(params.MaxYear)
		if params.MaxYear == 0 {
			hi = 3000 // Far future
		}
		inclusive := true
		rangeQuery := bleve.NewNumericRangeInclusiveQuery(&lo, &hi, &inclusive, &inclusive)
		rangeQuery.SetField("year")
		queries = append(queries, rangeQuery)
	}

	// Combine all queries with AND
	if len(queries) == 0 {
		return bleve.NewMatchAllQuery()
	}
	if len(queries) == 1 {
		return queries[0]
	}
	return bleve.NewConjunctionQuery(queries...)
}

// anyTerm matches documents whose field holds any of values.
func anyTerm(field string, values []string) query.Query {
	if len(values) == 0 {
		return nil
	}
	qs := make([]query.Query, len(values))
	for i, v := range values {
		tq := bleve.NewTermQuery(v)
		tq.SetField(field)
		qs[i] = tq
	}
	return bleve.NewDisjunctionQuery(qs...)
}

// addSorting configures sort order.
func addSorting(req *bleve.SearchRequest, params SearchParams) {
	desc := params.SortOrder == "desc"
	switch params.SortBy {
	case "title":
		if desc {
			req.SortBy([]string{"-title", "id"})
		} else {
			req.SortBy([]string{"title", "id"})
		}
	case "year":
		if desc {
			req.SortBy([]string{"-year", "id"})
		} else {
			req.SortBy([]string{"year", "id"})
		}
	case "recent":
		if params.SortOrder == "asc" {
			req.SortBy([]string{"updated_at", "id"})
		} else {
			req.SortBy([]string{"-updated_at", "id"})
		}
	default:
		// Relevance (score) is default; id breaks ties
		req.SortBy([]string{"-_score", "id"})
	}
}

// addFacets configures facet requests.
func addFacets(req *bleve.SearchRequest, params SearchParams) {
	for _, field := range params.FacetFields {
		facetReq := bleve.NewFacetRequest(field, 20) // Top 20 values
		req.AddFacet(field, facetReq)
	}
}

// extractFacets converts Bleve facets to our format.
func extractFacets(result *bleve.SearchResult) SearchFacets {
	facets := SearchFacets{}
	facets.Types = facetCounts(result, "type")
	facets.Formats = facetCounts(result, "format")
	facets.Institutions = facetCounts(result, "institutions")
	return facets
}

func facetCounts(result *bleve.SearchResult, field string) []FacetCount {
	facet, ok := result.Facets[field]
	if !ok || facet.Terms == nil {
		return nil
	}
	var counts []FacetCount
	for _, term := range facet.Terms.Terms() {
		counts = append(counts, FacetCount{
			Value: term.Term,
			Count: term.Count,
		})
	}
	return counts
}

// DeleteSource removes every standalone document contributed by sourceID
// and returns how many were removed. Merged documents are rebuilt by the
// next index update once the source's records are tombstoned.
func (s *SearchIndex) DeleteSource(ctx context.Context, sourceID string) (int, error) {
	const page = 500

	s.mu.RLock()
	defer s.mu.RUnlock()

	sourceQuery := bleve.NewTermQuery(sourceID)
	sourceQuery.SetField("sources")
	typeQuery := bleve.NewTermQuery(string(DocTypeRecord))
	typeQuery.SetField("type")
	q := bleve.NewConjunctionQuery(sourceQuery, typeQuery)

	deleted := 0
	for {
		req := bleve.NewSearchRequestOptions(q, page, 0, false)
		res, err := s.index.SearchInContext(ctx, req)
		if err != nil {
			return deleted, fmt.Errorf("find source documents: %w", err)
		}
		if len(res.Hits) == 0 {
			return deleted, nil
		}

		batch := s.index.NewBatch()
		for _, hit := range res.Hits {
			batch.Delete(hit.ID)
		}
		if err := s.index.Batch(batch); err != nil {
			return deleted, fmt.Errorf("delete source documents: %w", err)
		}
		deleted += len(res.Hits)
	}
}
