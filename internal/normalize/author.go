package normalize

import (
	"strings"
	"unicode/utf8"
)

// personName is an author split into family name and given-name tokens,
// each reduced to TitleKey form.
type personName struct {
	family string
	given  []string
}

// parseName accepts both "Last, First Middle" and "First Middle Last".
// Trailing life dates and roles after a second comma are ignored:
// "Lönnrot, Elias, 1802-1884" -> family "lonnrot", given ["elias"].
func parseName(s string) personName {
	s = strings.TrimSpace(s)
	if s == "" {
		return personName{}
	}

	if family, rest, ok := strings.Cut(s, ","); ok {
		given, _, _ := strings.Cut(rest, ",")
		return personName{
			family: TitleKey(family),
			given:  strings.Fields(TitleKey(given)),
		}
	}

	tokens := strings.Fields(TitleKey(s))
	if len(tokens) == 0 {
		return personName{}
	}
	return personName{
		family: tokens[len(tokens)-1],
		given:  tokens[:len(tokens)-1],
	}
}

// AuthorMatch reports whether two author strings plausibly name the same
// person despite name-order or abbreviation differences:
//
//	"Lönnrot, Elias" ~ "Elias Lönnrot"
//	"Lönnrot, E."    ~ "Lönnrot, Elias"
//	"Tolkien, J. R. R." ~ "Tolkien, John Ronald Reuel"
//
// Family names must be equal after key normalization. Given names are
// compared pairwise in order; an initial matches any name starting with it.
// When either side has no given names the family name alone decides.
func AuthorMatch(a, b string) bool {
	na, nb := parseName(a), parseName(b)
	if na.family == "" || na.family != nb.family {
		return false
	}
	if len(na.given) == 0 || len(nb.given) == 0 {
		return true
	}

	n := min(len(na.given), len(nb.given))
	for i := range n {
		if !givenNameMatch(na.given[i], nb.given[i]) {
			return false
		}
	}
	return true
}

func givenNameMatch(a, b string) bool {
	if a == b {
		return true
	}
	if utf8.RuneCountInString(a) == 1 || utf8.RuneCountInString(b) == 1 {
		ra, _ := utf8.DecodeRuneInString(a)
		rb, _ := utf8.DecodeRuneInString(b)
		return ra == rb
	}
	return false
}
