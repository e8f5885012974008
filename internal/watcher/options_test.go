package watcher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestOptions_Defaults(t *testing.T) {
	opts := Options{}
	opts.setDefaults()

	assert.True(t, opts.IgnoreHidden, "Should ignore hidden files by default")
	assert.Equal(t, 2*time.Second, opts.SettleDelay)
	assert.Contains(t, opts.IgnorePatterns, "*.done", "Handled files are never picked up again")
	assert.Contains(t, opts.IgnorePatterns, "*.failed")
}

func TestOptions_CustomValues(t *testing.T) {
	opts := Options{
		IgnoreHidden:   false,
		SettleDelay:    200 * time.Millisecond,
		IgnorePatterns: []string{"*.bak"},
	}
	opts.setDefaults()

	assert.False(t, opts.IgnoreHidden, "Custom ignore hidden should be preserved")
	assert.Equal(t, 200*time.Millisecond, opts.SettleDelay, "Custom settle delay should be preserved")
	assert.Equal(t, []string{"*.bak"}, opts.IgnorePatterns)
}

func TestOptions_Accepts(t *testing.T) {
	opts := Options{Extensions: []string{".jsonl", ".parquet"}}
	opts.setDefaults()

	tests := []struct {
		name   string
		path   string
		expect bool
	}{
		{"jsonl", "/drop/records.jsonl", true},
		{"upper case extension", "/drop/RECORDS.JSONL", true},
		{"parquet", "/drop/records.parquet", true},
		{"other extension", "/drop/records.csv", false},
		{"hidden file", "/drop/.records.jsonl", false},
		{"handled file", "/drop/records.jsonl.done", false},
		{"failed file", "/drop/records.jsonl.failed", false},
		{"partial upload", "/drop/records.jsonl.part", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expect, opts.accepts(tt.path))
		})
	}
}
