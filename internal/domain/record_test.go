package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRecord_Keys(t *testing.T) {
	r := &Record{
		TitleKeys: []string{"kalevala"},
		ISBNKeys:  []string{"9789512345678"},
	}

	assert.Equal(t, []string{"9789512345678"}, r.Keys(KeyTypeISBN))
	assert.Equal(t, []string{"kalevala"}, r.Keys(KeyTypeTitle))
	assert.Nil(t, r.Keys(KeyType("other")))
}

func TestRecord_Clone(t *testing.T) {
	r := &Record{ID: "a.1", TitleKeys: []string{"x"}, ISBNKeys: []string{"1"}}
	c := r.Clone()
	c.TitleKeys[0] = "y"
	c.DedupKey = "dedup-1"

	assert.Equal(t, "x", r.TitleKeys[0])
	assert.False(t, r.HasDedupKey())
	assert.True(t, c.HasDedupKey())
}

func TestRecord_Data(t *testing.T) {
	r := &Record{OriginalData: "orig"}
	assert.Equal(t, "orig", r.Data())

	r.NormalizedData = "norm"
	assert.Equal(t, "norm", r.Data())
}

func TestTimestamps(t *testing.T) {
	var r Record
	r.InitTimestamps()
	assert.Equal(t, r.CreatedAt, r.UpdatedAt)

	before := r.UpdatedAt
	time.Sleep(time.Millisecond)
	r.Touch()
	assert.True(t, r.UpdatedAt.After(before))
}

func TestLastIndexUpdateKey(t *testing.T) {
	assert.Equal(t, "last index update", LastIndexUpdateKey(""))
	assert.Equal(t, "last index update helmet", LastIndexUpdateKey("helmet"))
}
