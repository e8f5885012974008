// Package metadata parses stored record data into the values the dedup
// engine compares and the search index displays. One parser exists per
// record data format.
package metadata

import (
	"fmt"
	"slices"
	"sync"

	domainerrors "github.com/bibmerge/bibmerge/internal/errors"
)

// Data formats understood by the default registry.
const (
	FormatJSON = "json"
	FormatESE  = "ese"
)

// UnknownFormat is reported by Metadata.Format when the record carries no
// type information.
const UnknownFormat = "Unknown"

// Metadata is the parsed view of one record.
type Metadata interface {
	// LocalID is the record identifier inside its source, if the data has one.
	LocalID() string
	// Title returns the title; with forFiling, leading non-filing
	// characters (articles) are removed.
	Title(forFiling bool) string
	FullTitle() string
	// MainAuthor returns the main author, preferably as "Last, First".
	MainAuthor() string
	// ISBNs returns ISBN-13 values without separators, deduplicated.
	ISBNs() []string
	SeriesISSN() string
	SeriesNumbering() string
	Format() string
	// PublicationYear returns four digits or "".
	PublicationYear() string
	// PageCount returns the raw extent statement, e.g. "345 s.".
	PageCount() string
	HostRecordID() string
	IndexFields() IndexFields
}

// IndexFields are the display and search values contributed to index documents.
type IndexFields struct {
	Title       string
	TitleShort  string
	TitleSub    string
	Author      string
	Authors2    []string
	Publisher   string
	Year        string
	ISBNs       []string
	Topics      []string
	Languages   []string
	URLs        []string
	Description string
	Format      string
}

// ParseFunc parses raw data of one format.
type ParseFunc func(data string) (Metadata, error)

// Registry maps data formats to parsers. The zero value is not usable; use
// NewRegistry or Default.
type Registry struct {
	mu      sync.RWMutex
	parsers map[string]ParseFunc
}

// NewRegistry creates a registry with the built-in formats.
func NewRegistry() *Registry {
	r := &Registry{parsers: make(map[string]ParseFunc)}
	r.Register(FormatJSON, parseJSON)
	r.Register(FormatESE, parseESE)
	return r
}

var defaultRegistry = NewRegistry()

// Default returns the process-wide registry with the built-in formats.
func Default() *Registry {
	return defaultRegistry
}

// Register adds or replaces the parser for a format.
func (r *Registry) Register(format string, fn ParseFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.parsers[format] = fn
}

// Supports reports whether a parser exists for format.
func (r *Registry) Supports(format string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.parsers[format]
	return ok
}

// Formats lists the registered formats in sorted order.
func (r *Registry) Formats() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	formats := make([]string, 0, len(r.parsers))
	for f := range r.parsers {
		formats = append(formats, f)
	}
	slices.Sort(formats)
	return formats
}

// Parse parses data in the given format. An unregistered format is a
// validation error. Malformed data returns Empty together with the parse
// error, so callers that must keep going can compare empty values.
func (r *Registry) Parse(format, data string) (Metadata, error) {
	r.mu.RLock()
	fn, ok := r.parsers[format]
	r.mu.RUnlock()
	if !ok {
		return Empty{}, domainerrors.Validationf("unsupported data format %q", format)
	}

	md, err := fn(data)
	if err != nil {
		return Empty{}, fmt.Errorf("parse %s record: %w", format, err)
	}
	return md, nil
}

// Empty is the metadata of a record whose data could not be parsed.
type Empty struct{}

func (Empty) LocalID() string          { return "" }
func (Empty) Title(bool) string        { return "" }
func (Empty) FullTitle() string        { return "" }
func (Empty) MainAuthor() string       { return "" }
func (Empty) ISBNs() []string          { return nil }
func (Empty) SeriesISSN() string       { return "" }
func (Empty) SeriesNumbering() string  { return "" }
func (Empty) Format() string           { return "" }
func (Empty) PublicationYear() string  { return "" }
func (Empty) PageCount() string        { return "" }
func (Empty) HostRecordID() string     { return "" }
func (Empty) IndexFields() IndexFields { return IndexFields{} }
