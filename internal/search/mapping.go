package search

import (
	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/simple"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
)

// buildIndexMapping creates the Bleve index mapping for cluster documents.
//
// Records come in many languages, so text fields use the standard analyzer
// without stemming. Identifiers and facet values use the keyword analyzer.
func buildIndexMapping() mapping.IndexMapping {
	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultAnalyzer = standard.Name

	docMapping := bleve.NewDocumentMapping()

	// --- Text fields (full-text searchable) ---

	titleFieldMapping := bleve.NewTextFieldMapping()
	titleFieldMapping.Analyzer = standard.Name
	titleFieldMapping.Store = true
	titleFieldMapping.IncludeTermVectors = true // For highlighting
	docMapping.AddFieldMappingsAt("title", titleFieldMapping)

	titleShortFieldMapping := bleve.NewTextFieldMapping()
	titleShortFieldMapping.Analyzer = standard.Name
	titleShortFieldMapping.Store = false
	docMapping.AddFieldMappingsAt("title_short", titleShortFieldMapping)

	titleSubFieldMapping := bleve.NewTextFieldMapping()
	titleSubFieldMapping.Analyzer = standard.Name
	titleSubFieldMapping.Store = false
	docMapping.AddFieldMappingsAt("title_sub", titleSubFieldMapping)

	authorFieldMapping := bleve.NewTextFieldMapping()
	authorFieldMapping.Analyzer = standard.Name
	authorFieldMapping.Store = true
	authorFieldMapping.IncludeTermVectors = true // For highlighting
	docMapping.AddFieldMappingsAt("author", authorFieldMapping)

	authors2FieldMapping := bleve.NewTextFieldMapping()
	authors2FieldMapping.Analyzer = standard.Name
	authors2FieldMapping.Store = false
	docMapping.AddFieldMappingsAt("authors2", authors2FieldMapping)

	topicsFieldMapping := bleve.NewTextFieldMapping()
	topicsFieldMapping.Analyzer = standard.Name
	topicsFieldMapping.Store = false
	docMapping.AddFieldMappingsAt("topics", topicsFieldMapping)

	// Description - searchable but not stored (too large)
	descFieldMapping := bleve.NewTextFieldMapping()
	descFieldMapping.Analyzer = standard.Name
	descFieldMapping.Store = false
	docMapping.AddFieldMappingsAt("description", descFieldMapping)

	publisherFieldMapping := bleve.NewTextFieldMapping()
	publisherFieldMapping.Analyzer = simple.Name
	publisherFieldMapping.Store = true
	docMapping.AddFieldMappingsAt("publisher", publisherFieldMapping)

	// --- Keyword fields (exact match, facetable) ---

	for _, field := range []string{"id", "type", "dedup_key", "format", "isbns", "institutions", "sources", "local_ids", "languages"} {
		fm := bleve.NewTextFieldMapping()
		fm.Analyzer = keyword.Name
		fm.Store = true
		docMapping.AddFieldMappingsAt(field, fm)
	}

	// --- Numeric fields (range queries, sorting) ---

	yearFieldMapping := bleve.NewNumericFieldMapping()
	yearFieldMapping.Store = true
	docMapping.AddFieldMappingsAt("year", yearFieldMapping)

	recordCountFieldMapping := bleve.NewNumericFieldMapping()
	recordCountFieldMapping.Store = true
	docMapping.AddFieldMappingsAt("record_count", recordCountFieldMapping)

	updatedAtFieldMapping := bleve.NewNumericFieldMapping()
	updatedAtFieldMapping.Store = true
	docMapping.AddFieldMappingsAt("updated_at", updatedAtFieldMapping)

	indexMapping.AddDocumentMapping("_default", docMapping)

	return indexMapping
}
