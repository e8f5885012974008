package domain

import "time"

// State is a named watermark persisted next to the records.
type State struct {
	ID    string    `json:"id"`
	Value time.Time `json:"value"`
}

const lastIndexUpdate = "last index update"

// LastIndexUpdateKey names the watermark of the last completed index update
// for a source, or for all sources when sourceID is empty.
func LastIndexUpdateKey(sourceID string) string {
	if sourceID == "" {
		return lastIndexUpdate
	}
	return lastIndexUpdate + " " + sourceID
}
