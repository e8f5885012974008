// Package normalize derives comparison values and blocking keys from raw
// bibliographic metadata. Every function here is deterministic: the same
// input always yields the same output, because title and ISBN keys are
// persisted and queried as database index values.
package normalize

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Text case-folds s, drops punctuation and symbols, and collapses runs of
// whitespace to one space. Diacritics are kept: "Lönnrot" stays "lönnrot".
func Text(s string) string {
	return clean(cases.Fold().String(norm.NFC.String(s)), false)
}

// TitleKey returns the blocking key for a title: case-folded,
// diacritics-stripped, punctuation-stripped and whitespace-collapsed.
// Letters outside the Latin script are kept as they are.
func TitleKey(title string) string {
	folded := cases.Fold().String(title)
	return norm.NFC.String(clean(norm.NFKD.String(folded), true))
}

// TitleKeys returns the ordered set of title blocking keys for a record.
func TitleKeys(title string) []string {
	key := TitleKey(title)
	if key == "" {
		return nil
	}
	return []string{key}
}

// clean keeps letters, numbers and single spaces between words.
func clean(s string, stripMarks bool) string {
	var b strings.Builder
	b.Grow(len(s))
	pendingSpace := false

	for _, r := range s {
		switch {
		case unicode.Is(unicode.Mn, r):
			if !stripMarks {
				b.WriteRune(r)
			}
		case unicode.IsLetter(r) || unicode.IsNumber(r):
			if pendingSpace && b.Len() > 0 {
				b.WriteByte(' ')
			}
			pendingSpace = false
			b.WriteRune(r)
		case unicode.IsSpace(r):
			pendingSpace = true
		}
	}
	return b.String()
}

var (
	yearPattern  = regexp.MustCompile(`\b(\d{4})\b`)
	digitPattern = regexp.MustCompile(`\d+`)
)

// Year returns the first standalone four-digit number in s, or "".
func Year(s string) string {
	m := yearPattern.FindStringSubmatch(s)
	if m == nil {
		return ""
	}
	return m[1]
}

// PageCount returns the first integer in s ("345 s." -> 345), or 0 when s
// holds no number.
func PageCount(s string) int {
	m := digitPattern.FindString(s)
	if m == "" {
		return 0
	}
	n, err := strconv.Atoi(m)
	if err != nil {
		return 0
	}
	return n
}

// SeriesNumbering normalizes a series volume designation for equality checks.
func SeriesNumbering(s string) string {
	return Text(s)
}
