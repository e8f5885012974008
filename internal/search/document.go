// Package search maintains the full-text index of deduplicated records.
// Every cluster of linked records is indexed as one merged document keyed by
// its dedup key; unlinked records are indexed on their own.
package search

import (
	"slices"
	"strconv"

	"github.com/bibmerge/bibmerge/internal/domain"
	"github.com/bibmerge/bibmerge/internal/metadata"
)

// DocType represents the type of document in the index.
type DocType string

// Document types for the search index.
const (
	DocTypeRecord DocType = "record"
	DocTypeMerged DocType = "merged"
)

// ClusterDocument is the document structure for the Bleve index. A merged
// document carries the union of its members' identifiers and the display
// values of its first member.
type ClusterDocument struct {
	// Identity: record id for standalone documents, dedup key for merged ones.
	ID       string  `json:"id"`
	Type     DocType `json:"type"`
	DedupKey string  `json:"dedup_key,omitempty"`

	Title       string   `json:"title"`
	TitleShort  string   `json:"title_short,omitempty"`
	TitleSub    string   `json:"title_sub,omitempty"`
	Author      string   `json:"author,omitempty"`
	Authors2    []string `json:"authors2,omitempty"`
	Format      string   `json:"format,omitempty"`
	Year        int      `json:"year,omitempty"`
	ISBNs       []string `json:"isbns,omitempty"`
	Publisher   string   `json:"publisher,omitempty"`
	Topics      []string `json:"topics,omitempty"`
	Languages   []string `json:"languages,omitempty"`
	Description string   `json:"description,omitempty"`

	// Provenance of the merged records.
	Institutions []string `json:"institutions"`
	Sources      []string `json:"sources"`
	LocalIDs     []string `json:"local_ids"`

	UpdatedAt int64 `json:"updated_at"` // Unix millis
}

// ToMap converts the document to a map with lowercase field names.
// This ensures field names match the Bleve index mapping.
func (d *ClusterDocument) ToMap() map[string]interface{} {
	m := map[string]interface{}{
		"id":           d.ID,
		"type":         string(d.Type),
		"title":        d.Title,
		"institutions": d.Institutions,
		"sources":      d.Sources,
		"local_ids":    d.LocalIDs,
		"record_count": len(d.LocalIDs),
		"updated_at":   d.UpdatedAt,
	}

	if d.DedupKey != "" {
		m["dedup_key"] = d.DedupKey
	}
	if d.TitleShort != "" {
		m["title_short"] = d.TitleShort
	}
	if d.TitleSub != "" {
		m["title_sub"] = d.TitleSub
	}
	if d.Author != "" {
		m["author"] = d.Author
	}
	if len(d.Authors2) > 0 {
		m["authors2"] = d.Authors2
	}
	if d.Format != "" {
		m["format"] = d.Format
	}
	if d.Year > 0 {
		m["year"] = d.Year
	}
	if len(d.ISBNs) > 0 {
		m["isbns"] = d.ISBNs
	}
	if d.Publisher != "" {
		m["publisher"] = d.Publisher
	}
	if len(d.Topics) > 0 {
		m["topics"] = d.Topics
	}
	if len(d.Languages) > 0 {
		m["languages"] = d.Languages
	}
	if d.Description != "" {
		m["description"] = d.Description
	}

	return m
}

// RecordToDocument converts one record and its parsed metadata to a
// standalone document.
func RecordToDocument(r *domain.Record, md metadata.Metadata, institution string) *ClusterDocument {
	f := md.IndexFields()
	doc := &ClusterDocument{
		ID:           r.ID,
		Type:         DocTypeRecord,
		Title:        f.Title,
		TitleShort:   f.TitleShort,
		TitleSub:     f.TitleSub,
		Author:       f.Author,
		Authors2:     f.Authors2,
		Format:       f.Format,
		ISBNs:        f.ISBNs,
		Publisher:    f.Publisher,
		Topics:       f.Topics,
		Languages:    f.Languages,
		Description:  f.Description,
		Institutions: []string{institution},
		Sources:      []string{r.SourceID},
		LocalIDs:     []string{r.ID},
		UpdatedAt:    r.UpdatedAt.UnixMilli(),
	}
	if doc.Format == "" {
		doc.Format = r.Format
	}
	if f.Year != "" {
		if year, err := strconv.Atoi(f.Year); err == nil {
			doc.Year = year
		}
	}
	return doc
}

// MergeDocuments combines the standalone documents of a cluster's live
// members into one merged document with id dedupKey. Scalar fields come
// from the first member that has them; list fields are unioned in member
// order.
func MergeDocuments(dedupKey string, members []*ClusterDocument) *ClusterDocument {
	merged := &ClusterDocument{
		ID:       dedupKey,
		Type:     DocTypeMerged,
		DedupKey: dedupKey,
	}

	for _, m := range members {
		firstNonEmpty(&merged.Title, m.Title)
		firstNonEmpty(&merged.TitleShort, m.TitleShort)
		firstNonEmpty(&merged.TitleSub, m.TitleSub)
		firstNonEmpty(&merged.Author, m.Author)
		firstNonEmpty(&merged.Format, m.Format)
		firstNonEmpty(&merged.Publisher, m.Publisher)
		firstNonEmpty(&merged.Description, m.Description)
		if merged.Year == 0 {
			merged.Year = m.Year
		}

		merged.Authors2 = union(merged.Authors2, m.Authors2)
		merged.ISBNs = union(merged.ISBNs, m.ISBNs)
		merged.Topics = union(merged.Topics, m.Topics)
		merged.Languages = union(merged.Languages, m.Languages)
		merged.Institutions = union(merged.Institutions, m.Institutions)
		merged.Sources = union(merged.Sources, m.Sources)
		merged.LocalIDs = union(merged.LocalIDs, m.LocalIDs)

		merged.UpdatedAt = max(merged.UpdatedAt, m.UpdatedAt)
	}

	return merged
}

func firstNonEmpty(dst *string, v string) {
	if *dst == "" {
		*dst = v
	}
}

// union appends the values of add missing from dst, keeping order.
func union(dst, add []string) []string {
	for _, v := range add {
		if v != "" && !slices.Contains(dst, v) {
			dst = append(dst, v)
		}
	}
	return dst
}
