// Package id generates the identifiers used for records, clusters and runs.
package id

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

// Prefixes for generated identifiers.
const (
	PrefixDedup = "dedup"
	PrefixToken = "token"
)

// clusterAlphabet avoids '-' and '_' so dedup keys stay safe inside
// badger index keys and bleve document ids.
const clusterAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// Generate creates a prefixed unique ID using NanoID.
// Format: prefix-nanoid (e.g., "dedup-V1StGXR8Z5jdHi6BmyT3q").
func Generate(prefix string) (string, error) {
	id, err := gonanoid.Generate(clusterAlphabet, 21)
	if err != nil {
		return "", fmt.Errorf("generate nanoid: %w", err)
	}
	return prefix + "-" + id, nil
}

// NewDedupKey mints a new cluster identifier.
func NewDedupKey() (string, error) {
	return Generate(PrefixDedup)
}

// NewRunID returns an identifier for one batch run, used to correlate logs.
func NewRunID() string {
	return uuid.NewString()
}

// RecordID builds the global record id from a source's id prefix and the
// record's local id: "helmet.12345".
func RecordID(idPrefix, localID string) string {
	localID = strings.TrimSpace(localID)
	if idPrefix == "" {
		return localID
	}
	return idPrefix + "." + localID
}
