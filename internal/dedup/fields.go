package dedup

import (
	"slices"

	"github.com/bibmerge/bibmerge/internal/domain"
	"github.com/bibmerge/bibmerge/internal/metadata"
	"github.com/bibmerge/bibmerge/internal/normalize"
)

// Parser turns stored record data into metadata. *metadata.Registry
// satisfies it.
type Parser interface {
	Parse(format, data string) (metadata.Metadata, error)
}

// Fields holds the comparison values of one record, derived from its
// current metadata once per dedup pass. They are never persisted.
type Fields struct {
	// Title and Author are normalized with normalize.Text.
	Title  string
	Author string
	// AuthorName is the main author as written, for name-order aware
	// comparison.
	AuthorName      string
	ISBNs           []string
	SeriesISSN      string
	SeriesNumbering string
	Format          string
	Year            string
	Pages           int

	TitleKeys []string
}

// FieldsFromMetadata derives comparison fields from parsed metadata.
func FieldsFromMetadata(md metadata.Metadata) *Fields {
	filingTitle := md.Title(true)
	return &Fields{
		Title:           normalize.Text(filingTitle),
		Author:          normalize.Text(md.MainAuthor()),
		AuthorName:      md.MainAuthor(),
		ISBNs:           normalize.ISBNKeys(md.ISBNs()),
		SeriesISSN:      normalize.ISSN(md.SeriesISSN()),
		SeriesNumbering: normalize.SeriesNumbering(md.SeriesNumbering()),
		Format:          md.Format(),
		Year:            normalize.Year(md.PublicationYear()),
		Pages:           normalize.PageCount(md.PageCount()),
		TitleKeys:       normalize.TitleKeys(filingTitle),
	}
}

// DeriveFields parses the record's current data and derives its comparison
// fields. When parsing fails the returned fields are empty (never nil) and
// the error is returned for the caller to log or act on.
func DeriveFields(r *domain.Record, p Parser) (*Fields, error) {
	md, err := p.Parse(r.DataFormat, r.Data())
	if md == nil {
		md = metadata.Empty{}
	}
	return FieldsFromMetadata(md), err
}

// blockingKey is one key a subject is searched by.
type blockingKey struct {
	Type  domain.KeyType
	Value string
}

// cacheKey qualifies the key value with its type so an ISBN never collides
// with a numeric title in the overflow cache.
func (k blockingKey) cacheKey() string {
	return string(k.Type) + ":" + k.Value
}

// blockingKeys returns the subject's keys in search order: every ISBN key,
// then every title key.
func (f *Fields) blockingKeys() []blockingKey {
	keys := make([]blockingKey, 0, len(f.ISBNs)+len(f.TitleKeys))
	for _, v := range f.ISBNs {
		if v != "" {
			keys = append(keys, blockingKey{Type: domain.KeyTypeISBN, Value: v})
		}
	}
	for _, v := range f.TitleKeys {
		if v != "" {
			keys = append(keys, blockingKey{Type: domain.KeyTypeTitle, Value: v})
		}
	}
	return keys
}

// sharesISBN reports whether the two ISBN sets intersect.
func sharesISBN(a, b []string) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for _, v := range a {
		if slices.Contains(b, v) {
			return true
		}
	}
	return false
}
