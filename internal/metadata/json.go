package metadata

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/bibmerge/bibmerge/internal/normalize"
)

// flexString accepts a JSON string or number. Harvested records are not
// consistent about "publicationYear": 1835 versus "1835".
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", b)
	}
	*f = flexString(n.String())
	return nil
}

// jsonRecord is the native record format.
type jsonRecord struct {
	ID              string     `json:"id"`
	Title           string     `json:"title"`
	NonFilingChars  int        `json:"nonFilingChars"`
	MainAuthor      string     `json:"mainAuthor"`
	OtherAuthors    []string   `json:"otherAuthors"`
	ISBNs           []string   `json:"isbns"`
	SeriesISSN      string     `json:"seriesIssn"`
	SeriesNumbering flexString `json:"seriesNumbering"`
	Format          string     `json:"format"`
	PublicationYear flexString `json:"publicationYear"`
	PageCount       flexString `json:"pageCount"`
	HostRecordID    string     `json:"hostRecordId"`
	Publisher       string     `json:"publisher"`
	Languages       []string   `json:"languages"`
	Subjects        []string   `json:"subjects"`
	Description     string     `json:"description"`
	URLs            []string   `json:"urls"`
}

type jsonMetadata struct {
	rec   jsonRecord
	isbns []string
}

func parseJSON(data string) (Metadata, error) {
	var rec jsonRecord
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, err
	}
	return &jsonMetadata{rec: rec, isbns: normalize.ISBNKeys(rec.ISBNs)}, nil
}

func (m *jsonMetadata) LocalID() string { return m.rec.ID }

func (m *jsonMetadata) Title(forFiling bool) string {
	title := strings.TrimSpace(m.rec.Title)
	if !forFiling || m.rec.NonFilingChars <= 0 {
		return title
	}
	runes := []rune(title)
	if m.rec.NonFilingChars >= len(runes) {
		return title
	}
	return strings.TrimSpace(string(runes[m.rec.NonFilingChars:]))
}

func (m *jsonMetadata) FullTitle() string       { return strings.TrimSpace(m.rec.Title) }
func (m *jsonMetadata) MainAuthor() string      { return strings.TrimSpace(m.rec.MainAuthor) }
func (m *jsonMetadata) ISBNs() []string         { return m.isbns }
func (m *jsonMetadata) SeriesISSN() string      { return normalize.ISSN(m.rec.SeriesISSN) }
func (m *jsonMetadata) SeriesNumbering() string { return strings.TrimSpace(string(m.rec.SeriesNumbering)) }
func (m *jsonMetadata) PublicationYear() string { return normalize.Year(string(m.rec.PublicationYear)) }
func (m *jsonMetadata) PageCount() string       { return strings.TrimSpace(string(m.rec.PageCount)) }
func (m *jsonMetadata) HostRecordID() string    { return m.rec.HostRecordID }

func (m *jsonMetadata) Format() string {
	if f := strings.TrimSpace(m.rec.Format); f != "" {
		return f
	}
	return UnknownFormat
}

func (m *jsonMetadata) IndexFields() IndexFields {
	short, sub := splitTitle(m.FullTitle())
	return IndexFields{
		Title:       m.FullTitle(),
		TitleShort:  short,
		TitleSub:    sub,
		Author:      m.MainAuthor(),
		Authors2:    m.rec.OtherAuthors,
		Publisher:   m.rec.Publisher,
		Year:        m.PublicationYear(),
		ISBNs:       m.isbns,
		Topics:      m.rec.Subjects,
		Languages:   m.rec.Languages,
		URLs:        m.rec.URLs,
		Description: descriptionToMarkdown(m.rec.Description),
		Format:      m.Format(),
	}
}

// splitTitle separates "Main title : subtitle" into its parts.
func splitTitle(title string) (short, sub string) {
	short, sub, _ = strings.Cut(title, " : ")
	return strings.TrimSpace(short), strings.TrimSpace(sub)
}

