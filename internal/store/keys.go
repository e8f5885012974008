package store

import "sync"

// keyPool provides reusable byte slices for building database keys.
// This reduces allocations on the hot path of candidate scans.
var keyPool = sync.Pool{
	New: func() any {
		// 256 bytes covers prefix, index name, a title key and a record id
		// for almost every record.
		return make([]byte, 0, 256)
	},
}

// indexSep terminates the indexed value inside an index key so that the
// prefix for "kalevala" never matches entries for "kalevala runot".
const indexSep = 0x00

// buildKey constructs a primary key from prefix and id using a pooled buffer.
// Callers MUST call releaseKey when done with the key.
//
// Usage:
//
//	key := buildKey("record:", recordID)
//	defer releaseKey(key)
//	item, err := txn.Get(key)
func buildKey(prefix, id string) []byte {
	buf, _ := keyPool.Get().([]byte)
	buf = buf[:0]
	buf = append(buf, prefix...)
	buf = append(buf, id...)
	return buf
}

// buildIndexPrefix constructs the scan prefix for all entries of one index
// value: prefix + "idx:" + index + ":" + value + 0x00.
// Callers MUST call releaseKey when done with the key.
func buildIndexPrefix(prefix, indexName, value string) []byte {
	buf, _ := keyPool.Get().([]byte)
	buf = buf[:0]
	buf = append(buf, prefix...)
	buf = append(buf, "idx:"...)
	buf = append(buf, indexName...)
	buf = append(buf, ':')
	buf = append(buf, value...)
	buf = append(buf, indexSep)
	return buf
}

// buildIndexKey constructs one index entry: the index prefix followed by the
// entity id. Entries carry no value; the id is recovered from the key.
// The slice is freshly allocated because Badger retains keys passed to Set
// and Delete until the transaction commits.
func buildIndexKey(prefix, indexName, value, id string) []byte {
	buf := make([]byte, 0, len(prefix)+len(indexName)+len(value)+len(id)+6)
	buf = append(buf, prefix...)
	buf = append(buf, "idx:"...)
	buf = append(buf, indexName...)
	buf = append(buf, ':')
	buf = append(buf, value...)
	buf = append(buf, indexSep)
	buf = append(buf, id...)
	return buf
}

// releaseKey returns a key buffer to the pool for reuse.
// After calling this, the key slice must not be used.
func releaseKey(key []byte) {
	// Oversized buffers (very long title keys) are left to the GC.
	if cap(key) <= 512 {
		keyPool.Put(key[:0]) //nolint:staticcheck // slices are the pooled type
	}
}
