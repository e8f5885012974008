package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTitleKey(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"lowercases", "Kalevala", "kalevala"},
		{"strips diacritics", "Äidinkieli ja kirjallisuus", "aidinkieli ja kirjallisuus"},
		{"strips punctuation", "Aarnien aika : romaani.", "aarnien aika romaani"},
		{"collapses whitespace", "  The   Hobbit\t\n", "the hobbit"},
		{"joins hyphenated words", "Sci-Fi", "scifi"},
		{"folds sharp s", "Straße", "strasse"},
		{"keeps cyrillic", "Преступление и наказание", "преступление и наказание"},
		{"empty", "", ""},
		{"punctuation only", "?!...", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TitleKey(tt.input))
		})
	}
}

func TestTitleKey_Deterministic(t *testing.T) {
	in := "Seitsemän veljestä – kertomus"
	first := TitleKey(in)
	for range 100 {
		assert.Equal(t, first, TitleKey(in))
	}
}

func TestTitleKeys(t *testing.T) {
	assert.Equal(t, []string{"kalevala"}, TitleKeys("Kalevala!"))
	assert.Nil(t, TitleKeys("   "))
}

func TestText_KeepsDiacritics(t *testing.T) {
	assert.Equal(t, "lönnrot elias", Text("Lönnrot, Elias"))
	assert.Equal(t, "aarnien aika", Text("Aarnien  aika."))
}

func TestYear(t *testing.T) {
	assert.Equal(t, "1835", Year("1835"))
	assert.Equal(t, "1999", Year("cop. 1999."))
	assert.Equal(t, "2004", Year("[2004]"))
	assert.Equal(t, "", Year("19xx"))
	assert.Equal(t, "", Year("12345"))
	assert.Equal(t, "", Year(""))
}

func TestPageCount(t *testing.T) {
	assert.Equal(t, 345, PageCount("345 s."))
	assert.Equal(t, 12, PageCount("12"))
	assert.Equal(t, 0, PageCount("unpaged"))
	assert.Equal(t, 0, PageCount(""))
}

func TestISBN13(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"isbn10 with dashes", "0-306-40615-2", "9780306406157"},
		{"isbn10 with X check digit", "951-0-11496-X", "9789510114964"},
		{"isbn13 with dashes", "978-951-1-23456-7", "9789511234567"},
		{"isbn13 plain", "9789512345678", "9789512345678"},
		{"qualifier text", "ISBN 0306406152 (nid.)", "9780306406157"},
		{"spaces", "978 0 306 40615 7", "9780306406157"},
		{"trailing year", "951-1-23456-7 2010", "9789511234562"},
		{"trailing page note", "951-0-12345-6 2. p.", "9789510123454"},
		{"isbn13 then year", "978-951-1-23456-7 2010", "9789511234567"},
		{"lowercase x", "951-0-11496-x", "9789510114964"},
		{"fourteen digits", "97803064061571", ""},
		{"second value in text", "nid. 0-306-40615-2", "9780306406157"},
		{"too short", "12345", ""},
		{"twelve digits", "978030640615", ""},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ISBN13(tt.input))
		})
	}
}

func TestISBNKeys_DeduplicatesConvertedValues(t *testing.T) {
	keys := ISBNKeys([]string{"0-306-40615-2", "9780306406157", "bogus", "978-951-1-23456-7"})
	assert.Equal(t, []string{"9780306406157", "9789511234567"}, keys)
	assert.Nil(t, ISBNKeys(nil))
}

func TestISSN(t *testing.T) {
	assert.Equal(t, "03550893", ISSN("0355-0893"))
	assert.Equal(t, "1234567X", ISSN("ISSN 1234-567x"))
	assert.Equal(t, "", ISSN("none"))
}

func TestAuthorMatch(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want bool
	}{
		{"identical", "Lönnrot, Elias", "Lönnrot, Elias", true},
		{"name order", "Lönnrot, Elias", "Elias Lönnrot", true},
		{"initial", "Lönnrot, E.", "Lönnrot, Elias", true},
		{"diacritics", "Lonnrot, Elias", "Lönnrot, Elias", true},
		{"life dates ignored", "Lönnrot, Elias, 1802-1884", "Lönnrot, Elias", true},
		{"multiple initials", "Tolkien, J. R. R.", "Tolkien, John Ronald Reuel", true},
		{"family only", "Homeros", "Homeros", true},
		{"different family", "Kivi, Aleksis", "Lönnrot, Elias", false},
		{"different given", "Lönnrot, Elias", "Lönnrot, Emil", false},
		{"mismatched initial", "Lönnrot, K.", "Lönnrot, Elias", false},
		{"empty", "", "Lönnrot, Elias", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, AuthorMatch(tt.a, tt.b))
			assert.Equal(t, tt.want, AuthorMatch(tt.b, tt.a), "AuthorMatch must be symmetric")
		})
	}
}
