package dedup_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/bibmerge/bibmerge/internal/dedup"
	"github.com/bibmerge/bibmerge/internal/metadata"
)

func fields(t *testing.T, w work) *dedup.Fields {
	t.Helper()
	r := newRecord(t, "x.1", "x", w)
	f, err := dedup.DeriveFields(r, metadata.Default())
	if err != nil {
		t.Fatalf("derive fields: %v", err)
	}
	return f
}

func TestMatch_Stages(t *testing.T) {
	m := dedup.NewMatcher(dedup.DefaultMatchConfig())

	tests := []struct {
		name      string
		subject   work
		candidate work
		want      bool
		stage     dedup.Stage
	}{
		{
			name:      "shared isbn wins over everything",
			subject:   work{Title: "Kalevala", Format: "Book", PublicationYear: "1835", ISBNs: []string{"951-0-11496-X"}},
			candidate: work{Title: "Totally different", Format: "Journal", PublicationYear: "1999", ISBNs: []string{"9789510114964"}},
			want:      true,
			stage:     dedup.StageISBN,
		},
		{
			name:      "format differs",
			subject:   work{Title: "Kalevala", Format: "Book"},
			candidate: work{Title: "Kalevala", Format: "Journal"},
			stage:     dedup.StageFormat,
		},
		{
			name:      "year differs",
			subject:   work{Title: "Kalevala", Format: "Book", PublicationYear: "1835"},
			candidate: work{Title: "Kalevala", Format: "Book", PublicationYear: "1849"},
			stage:     dedup.StageYear,
		},
		{
			name:      "one year missing",
			subject:   work{Title: "Kalevala", Format: "Book", PublicationYear: "1835"},
			candidate: work{Title: "Kalevala", Format: "Book"},
			want:      true,
			stage:     dedup.StageTitle,
		},
		{
			name:      "pages within ten",
			subject:   work{Title: "Kalevala", Format: "Book", PageCount: "300 s."},
			candidate: work{Title: "Kalevala", Format: "Book", PageCount: "310"},
			want:      true,
			stage:     dedup.StageTitle,
		},
		{
			name:      "pages differ by eleven",
			subject:   work{Title: "Kalevala", Format: "Book", PageCount: "300"},
			candidate: work{Title: "Kalevala", Format: "Book", PageCount: "311"},
			stage:     dedup.StagePages,
		},
		{
			name:      "series issn only on one side",
			subject:   work{Title: "Kalevala", Format: "Book", SeriesISSN: "0355-0893"},
			candidate: work{Title: "Kalevala", Format: "Book"},
			stage:     dedup.StageSeriesISSN,
		},
		{
			name:      "series issn formatting ignored",
			subject:   work{Title: "Kalevala", Format: "Book", SeriesISSN: "0355-0893"},
			candidate: work{Title: "Kalevala", Format: "Book", SeriesISSN: "03550893"},
			want:      true,
			stage:     dedup.StageTitle,
		},
		{
			name:      "series numbering differs",
			subject:   work{Title: "Kalevala", Format: "Book", SeriesNumbering: "1"},
			candidate: work{Title: "Kalevala", Format: "Book", SeriesNumbering: "2"},
			stage:     dedup.StageSeriesNumbering,
		},
		{
			name:      "missing title",
			subject:   work{Format: "Book"},
			candidate: work{Title: "Kalevala", Format: "Book"},
			stage:     dedup.StageTitle,
		},
		{
			name:      "title too different",
			subject:   book("Kalevala"),
			candidate: book("Kalewala"),
			stage:     dedup.StageTitle,
		},
		{
			name:      "title punctuation and case ignored",
			subject:   book("Seitsemän veljestä!"),
			candidate: book("seitsemän  veljestä"),
			want:      true,
			stage:     dedup.StageTitle,
		},
		{
			name:      "equivalent author names",
			subject:   work{Title: "Kalevala", Format: "Book", MainAuthor: "Lönnrot, Elias"},
			candidate: work{Title: "Kalevala", Format: "Book", MainAuthor: "Elias Lönnrot"},
			want:      true,
			stage:     dedup.StageAuthor,
		},
		{
			name:      "abbreviated given name",
			subject:   work{Title: "Kalevala", Format: "Book", MainAuthor: "Lönnrot, E."},
			candidate: work{Title: "Kalevala", Format: "Book", MainAuthor: "Lönnrot, Elias"},
			want:      true,
			stage:     dedup.StageAuthor,
		},
		{
			name:      "author typo within twenty percent",
			subject:   work{Title: "Kalevala", Format: "Book", MainAuthor: "Lönnrot, Elias"},
			candidate: work{Title: "Kalevala", Format: "Book", MainAuthor: "Lönrot, Elias"},
			want:      true,
			stage:     dedup.StageAuthor,
		},
		{
			name:      "different author",
			subject:   work{Title: "Kalevala", Format: "Book", MainAuthor: "Lönnrot, Elias"},
			candidate: work{Title: "Kalevala", Format: "Book", MainAuthor: "Kivi, Aleksis"},
			stage:     dedup.StageAuthor,
		},
		{
			name:      "one author missing",
			subject:   work{Title: "Kalevala", Format: "Book", MainAuthor: "Lönnrot, Elias"},
			candidate: work{Title: "Kalevala", Format: "Book"},
			want:      true,
			stage:     dedup.StageTitle,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := m.Match(fields(t, tt.subject), fields(t, tt.candidate))
			assert.Equal(t, tt.want, d.Matched, d.Reason)
			assert.Equal(t, tt.stage, d.Stage, d.Reason)
			assert.NotEmpty(t, d.Reason)
		})
	}
}

func TestMatch_ExactKeyAndCategoricalStagesAreSymmetric(t *testing.T) {
	m := dedup.NewMatcher(dedup.DefaultMatchConfig())

	pairs := [][2]work{
		{{Title: "A", Format: "Book", ISBNs: []string{"9789510114964"}}, {Title: "B", Format: "Map", ISBNs: []string{"951-0-11496-X"}}},
		{{Title: "Kalevala", Format: "Book"}, {Title: "Kalevala", Format: "Map"}},
		{{Title: "Kalevala", Format: "Book", PublicationYear: "1835"}, {Title: "Kalevala", Format: "Book", PublicationYear: "1849"}},
		{{Title: "Kalevala", Format: "Book", PageCount: "100"}, {Title: "Kalevala", Format: "Book", PageCount: "200"}},
		{{Title: "Kalevala", Format: "Book", SeriesISSN: "0355-0893"}, {Title: "Kalevala", Format: "Book"}},
		{{Title: "Kalevala", Format: "Book", SeriesNumbering: "1"}, {Title: "Kalevala", Format: "Book", SeriesNumbering: "2"}},
		{{Title: "Kalevala", Format: "Book"}, {Format: "Book"}},
	}

	for _, p := range pairs {
		a, b := fields(t, p[0]), fields(t, p[1])
		ab, ba := m.Match(a, b), m.Match(b, a)
		assert.Equal(t, ab.Matched, ba.Matched, "%+v / %+v", p[0], p[1])
		assert.Equal(t, ab.Stage, ba.Stage)
	}
}

// The title percentage is relative to the subject's length, so swapping
// subject and candidate can change the outcome near the threshold.
func TestMatch_TitleDistanceIsRelativeToSubject(t *testing.T) {
	m := dedup.NewMatcher(dedup.DefaultMatchConfig())
	short := fields(t, book("abcdefghij"))  // 10 runes: 1 edit = 10%
	long := fields(t, book("abcdefghijk")) // 11 runes: 1 edit = 9.1%

	assert.False(t, m.Match(short, long).Matched)
	assert.True(t, m.Match(long, short).Matched)
}

func TestMatch_KalevalaISBNExample(t *testing.T) {
	m := dedup.NewMatcher(dedup.DefaultMatchConfig())
	subject := fields(t, work{
		Title: "Kalevala", MainAuthor: "Lönnrot, Elias", PublicationYear: "1835",
		ISBNs: []string{"9789512345678"}, Format: "Book",
	})
	candidate := fields(t, work{Title: "Kalewala", ISBNs: []string{"9789512345678"}, Format: "Book"})

	d := m.Match(subject, candidate)
	assert.True(t, d.Matched)
	assert.Equal(t, dedup.StageISBN, d.Stage)
}

func TestMatch_AarnienAikaExample(t *testing.T) {
	m := dedup.NewMatcher(dedup.DefaultMatchConfig())

	d := m.Match(fields(t, book("Aarnien aika")), fields(t, book("aarnien aika")))
	assert.True(t, d.Matched)
	assert.Equal(t, dedup.StageTitle, d.Stage)
}

func TestMatch_LongTitlesComparePrefix(t *testing.T) {
	m := dedup.NewMatcher(dedup.DefaultMatchConfig())
	prefix := strings.Repeat("sana ", 60)

	d := m.Match(fields(t, book(prefix+"alku")), fields(t, book(prefix+"loppu")))
	assert.True(t, d.Matched, d.Reason)
}

func TestMatch_CustomThresholds(t *testing.T) {
	strict := dedup.NewMatcher(dedup.MatchConfig{MaxPageDelta: 2})
	assert.Equal(t, 2, strict.Config().MaxPageDelta)
	assert.Equal(t, 255, strict.Config().MaxCompareRunes, "zero values take defaults")

	d := strict.Match(
		fields(t, work{Title: "Kalevala", Format: "Book", PageCount: "300"}),
		fields(t, work{Title: "Kalevala", Format: "Book", PageCount: "305"}),
	)
	assert.False(t, d.Matched)
	assert.Equal(t, dedup.StagePages, d.Stage)
}
