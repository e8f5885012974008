package dedup

import "unicode/utf8"

// truncateRunes returns the first n runes of s.
func truncateRunes(s string, n int) []rune {
	runes := []rune(s)
	if n > 0 && len(runes) > n {
		runes = runes[:n]
	}
	return runes
}

// levenshtein returns the edit distance between a and b counted in runes,
// using two rows of the dynamic-programming matrix.
func levenshtein(a, b []rune) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min(
				prev[j]+1,      // deletion
				curr[j-1]+1,    // insertion
				prev[j-1]+cost, // substitution
			)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

// distancePercent compares the first maxRunes runes of subject and
// candidate and returns the edit distance as a percentage of the full
// subject length. The denominator is the subject only, so the measure is
// not symmetric.
func distancePercent(subject, candidate string, maxRunes int) float64 {
	n := utf8.RuneCountInString(subject)
	if n == 0 {
		return 100
	}
	d := levenshtein(truncateRunes(subject, maxRunes), truncateRunes(candidate, maxRunes))
	return float64(d) * 100 / float64(n)
}
