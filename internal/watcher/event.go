package watcher

import "time"

// Event describes a file that stopped changing in the watched directory.
type Event struct {
	Path    string
	Size    int64
	ModTime time.Time
}
