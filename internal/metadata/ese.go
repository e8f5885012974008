package metadata

import (
	"encoding/xml"
	"regexp"
	"strings"

	"github.com/bibmerge/bibmerge/internal/normalize"
)

// eseRecord is a Europeana Semantic Elements record. Element names are
// matched by local name so the dc:, dcterms: and europeana: prefixes all
// resolve.
type eseRecord struct {
	XMLName     xml.Name `xml:"record"`
	Titles      []string `xml:"title"`
	Creators    []string `xml:"creator"`
	Contributor []string `xml:"contributor"`
	Identifiers []string `xml:"identifier"`
	Types       []string `xml:"type"`
	Dates       []string `xml:"date"`
	Publishers  []string `xml:"publisher"`
	Languages   []string `xml:"language"`
	Subjects    []string `xml:"subject"`
	Description []string `xml:"description"`
	RecordID    string   `xml:"recordID"`
}

var (
	yearOnlyPattern = regexp.MustCompile(`^\d{4}$`)
	urlPattern      = regexp.MustCompile(`^https?://`)
)

type eseMetadata struct {
	rec   eseRecord
	isbns []string
}

func parseESE(data string) (Metadata, error) {
	var rec eseRecord
	if err := xml.Unmarshal([]byte(data), &rec); err != nil {
		return nil, err
	}
	return &eseMetadata{rec: rec, isbns: normalize.ISBNKeys(rec.Identifiers)}, nil
}

func first(values []string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func (m *eseMetadata) LocalID() string { return strings.TrimSpace(m.rec.RecordID) }

// Title ignores forFiling: ESE carries no non-filing indicator.
func (m *eseMetadata) Title(bool) string { return m.FullTitle() }

func (m *eseMetadata) FullTitle() string       { return plainText(first(m.rec.Titles)) }
func (m *eseMetadata) MainAuthor() string      { return plainText(first(m.rec.Creators)) }
func (m *eseMetadata) ISBNs() []string         { return m.isbns }
func (m *eseMetadata) SeriesISSN() string      { return "" }
func (m *eseMetadata) SeriesNumbering() string { return "" }
func (m *eseMetadata) PageCount() string       { return "" }
func (m *eseMetadata) HostRecordID() string    { return "" }

func (m *eseMetadata) Format() string {
	if t := first(m.rec.Types); t != "" {
		return t
	}
	return UnknownFormat
}

// PublicationYear returns the first date element that is exactly four digits.
func (m *eseMetadata) PublicationYear() string {
	for _, d := range m.rec.Dates {
		if d = strings.TrimSpace(d); yearOnlyPattern.MatchString(d) {
			return d
		}
	}
	return ""
}

func (m *eseMetadata) IndexFields() IndexFields {
	title := m.FullTitle()
	short, sub := splitTitle(title)

	var urls []string
	var description string
	for _, id := range m.rec.Identifiers {
		if id = strings.TrimSpace(id); urlPattern.MatchString(id) {
			urls = append(urls, id)
		}
	}
	for _, d := range m.rec.Description {
		d = strings.TrimSpace(d)
		switch {
		case urlPattern.MatchString(d):
			urls = append(urls, d)
		case description == "":
			description = descriptionToMarkdown(d)
		}
	}

	var languages []string
	for _, l := range m.rec.Languages {
		languages = append(languages, strings.Fields(l)...)
	}

	authors2 := make([]string, 0, len(m.rec.Contributor))
	for _, c := range m.rec.Contributor {
		if c = plainText(c); c != "" {
			authors2 = append(authors2, c)
		}
	}

	return IndexFields{
		Title:       title,
		TitleShort:  short,
		TitleSub:    sub,
		Author:      m.MainAuthor(),
		Authors2:    authors2,
		Publisher:   first(m.rec.Publishers),
		Year:        m.PublicationYear(),
		ISBNs:       m.isbns,
		Topics:      m.rec.Subjects,
		Languages:   languages,
		URLs:        urls,
		Description: description,
		Format:      m.Format(),
	}
}
