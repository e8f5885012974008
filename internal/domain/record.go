// Package domain holds the persisted entities shared by the store, the dedup
// engine, the search updater and the API.
package domain

import (
	"slices"
	"time"
)

// KeyType identifies which persisted blocking keys a candidate lookup uses.
type KeyType string

// Blocking key types, in the order the dedup engine consults them.
const (
	KeyTypeISBN  KeyType = "isbn"
	KeyTypeTitle KeyType = "title"
)

// Timestamps tracks record creation and modification.
type Timestamps struct {
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Touch updates the UpdatedAt timestamp to the current time.
// Call this whenever a persisted field changes.
func (t *Timestamps) Touch() {
	t.UpdatedAt = time.Now().UTC()
}

// InitTimestamps sets both CreatedAt and UpdatedAt to now.
func (t *Timestamps) InitTimestamps() {
	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now
}

// Record is one bibliographic record contributed by a source.
//
// Comparison fields (title, author, year, ...) are not stored here; they are
// derived from NormalizedData by the metadata parser for DataFormat.
// TitleKeys and ISBNKeys are persisted so they can be queried as blocking keys
// and must be refreshed whenever NormalizedData changes.
type Record struct {
	Timestamps
	ID             string   `json:"id"`
	SourceID       string   `json:"source_id"`
	OAIID          string   `json:"oai_id,omitempty"`
	HostRecordID   string   `json:"host_record_id,omitempty"`
	DataFormat     string   `json:"data_format"`
	Format         string   `json:"format,omitempty"`
	OriginalData   string   `json:"original_data"`
	NormalizedData string   `json:"normalized_data"`
	ContentHash    string   `json:"content_hash,omitempty"`
	TitleKeys      []string `json:"title_keys,omitempty"`
	ISBNKeys       []string `json:"isbn_keys,omitempty"`
	// DedupKey is the cluster identifier; empty means the record is not
	// linked to any other record.
	DedupKey     string `json:"dedup_key,omitempty"`
	UpdateNeeded bool   `json:"update_needed"`
	Deleted      bool   `json:"deleted"`
}

// HasDedupKey reports whether the record belongs to a cluster.
func (r *Record) HasDedupKey() bool {
	return r.DedupKey != ""
}

// Keys returns the persisted blocking keys of the given type.
func (r *Record) Keys(keyType KeyType) []string {
	switch keyType {
	case KeyTypeISBN:
		return r.ISBNKeys
	case KeyTypeTitle:
		return r.TitleKeys
	default:
		return nil
	}
}

// Data returns the metadata the parsers should read: the normalized data
// when present, the original data otherwise.
func (r *Record) Data() string {
	if r.NormalizedData != "" {
		return r.NormalizedData
	}
	return r.OriginalData
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	c := *r
	c.TitleKeys = slices.Clone(r.TitleKeys)
	c.ISBNKeys = slices.Clone(r.ISBNKeys)
	return &c
}
