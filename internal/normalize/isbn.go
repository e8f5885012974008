package normalize

import (
	"regexp"
	"strings"
)

var (
	// isbnRun matches digit groups separated by single spaces; the last
	// character may be the ISBN-10 check character X.
	isbnRun     = regexp.MustCompile(`[0-9]+(?: [0-9]+)*[xX]?`)
	isbnHyphens = strings.NewReplacer("-", "", "‐", "", "–", "")
	issnPattern = regexp.MustCompile(`[0-9]{4}-?[0-9]{3}[0-9xX]`)
)

// ISBN13 extracts an ISBN from s and returns it as 13 digits without
// separators. ISBN-10 values get the 978 prefix and a recomputed EAN check
// digit. Anything that is not a 10 or 13 character ISBN yields "".
//
// Hyphens are removed first. Spaces only join short digit groups ("978 0
// 306 40615 7"); a number after a complete ISBN, such as a year, is never
// appended to it.
func ISBN13(s string) string {
	for _, run := range isbnRun.FindAllString(isbnHyphens.Replace(s), -1) {
		switch m := isbnCandidate(strings.ToUpper(run)); len(m) {
		case 10:
			return isbn10to13(m)
		case 13:
			if isDigits(m) {
				return m
			}
		}
	}
	return ""
}

// isbnCandidate joins the space-separated groups of run into a 10 or 13
// character ISBN, or returns "". A group of ten or more characters stands
// alone.
func isbnCandidate(run string) string {
	groups := strings.Split(run, " ")
	if len(groups[0]) >= 10 {
		return groups[0]
	}

	var joined, ten string
	for _, g := range groups {
		if len(g) >= 10 || len(joined)+len(g) > 13 {
			break
		}
		joined += g
		switch len(joined) {
		case 10:
			ten = joined
		case 13:
			return joined
		}
	}
	return ten
}

// ISBNKeys converts every value with ISBN13, drops empty results and
// removes duplicates while keeping first-seen order.
func ISBNKeys(values []string) []string {
	var keys []string
	seen := make(map[string]bool, len(values))
	for _, v := range values {
		isbn := ISBN13(v)
		if isbn == "" || seen[isbn] {
			continue
		}
		seen[isbn] = true
		keys = append(keys, isbn)
	}
	return keys
}

// isbn10to13 converts the first nine digits of an ISBN-10 to an EAN-13.
func isbn10to13(isbn10 string) string {
	body := "978" + isbn10[:9]
	if !isDigits(body) {
		return ""
	}
	return body + string(eanCheckDigit(body))
}

// eanCheckDigit computes the EAN-13 check digit for twelve digits.
// Weights alternate 1 and 3 starting from the left.
func eanCheckDigit(twelve string) byte {
	sum := 0
	for i := range len(twelve) {
		d := int(twelve[i] - '0')
		if i%2 == 1 {
			d *= 3
		}
		sum += d
	}
	return byte('0' + (10-sum%10)%10)
}

func isDigits(s string) bool {
	for i := range len(s) {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return s != ""
}

// ISSN extracts an ISSN from s as eight characters without the hyphen,
// upper-casing a trailing check character X. Returns "" when none is found.
func ISSN(s string) string {
	m := issnPattern.FindString(s)
	if m == "" {
		return ""
	}
	return strings.ToUpper(strings.ReplaceAll(m, "-", ""))
}
