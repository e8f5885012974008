package dedup

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLevenshtein(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"abc", "", 3},
		{"", "abc", 3},
		{"kalevala", "kalevala", 0},
		{"kalevala", "kalewala", 1},
		{"kitten", "sitting", 3},
		{"lönnrot", "lonnrot", 1},
		{"война и мир", "война и мiр", 1},
	}

	for _, tt := range tests {
		t.Run(tt.a+"/"+tt.b, func(t *testing.T) {
			assert.Equal(t, tt.want, levenshtein([]rune(tt.a), []rune(tt.b)))
			assert.Equal(t, tt.want, levenshtein([]rune(tt.b), []rune(tt.a)))
		})
	}
}

func TestDistancePercent(t *testing.T) {
	assert.InDelta(t, 12.5, distancePercent("kalevala", "kalewala", 255), 0.001)
	assert.InDelta(t, 0, distancePercent("aarnien aika", "aarnien aika", 255), 0.001)
	assert.InDelta(t, 100, distancePercent("", "x", 255), 0.001)

	// Multi-byte letters count as one character each.
	assert.InDelta(t, 100.0/7, distancePercent("lönnrot", "lonnrot", 255), 0.001)
}

func TestDistancePercent_Truncates(t *testing.T) {
	prefix := strings.Repeat("a", 255)
	subject := prefix + strings.Repeat("b", 100)
	candidate := prefix + strings.Repeat("c", 100)

	// Only the first 255 runes are compared, but the denominator is the
	// full subject length.
	assert.InDelta(t, 0, distancePercent(subject, candidate, 255), 0.001)
	assert.InDelta(t, 100*5.0/360, distancePercent("xxxxx"+subject, candidate, 255), 0.001)
}

func TestTruncateRunes(t *testing.T) {
	assert.Equal(t, []rune("äö"), truncateRunes("äöü", 2))
	assert.Equal(t, []rune("äöü"), truncateRunes("äöü", 10))
	assert.Equal(t, []rune("äöü"), truncateRunes("äöü", 0))
}
