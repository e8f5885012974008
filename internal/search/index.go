package search

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/blevesearch/bleve/v2"
)

// mappingVersion changes whenever buildIndexMapping changes. An index
// written with another version is recreated empty on open; run a full
// index update afterwards.
const mappingVersion = "1"

// indexBatchSize bounds the documents committed in one bleve batch.
const indexBatchSize = 500

// SearchIndex holds one document per cluster and one per record outside a
// cluster.
//
// All methods are safe for concurrent use. Rebuild takes the write lock;
// everything else shares the read lock.
type SearchIndex struct {
	index  bleve.Index
	path   string
	logger *slog.Logger
	mu     sync.RWMutex
}

// Options configures the search index.
type Options struct {
	DataPath string // Directory for index storage
	Logger   *slog.Logger
}

// NewSearchIndex opens the index under opts.DataPath, creating it when it
// is missing, unreadable or was written with another mapping version.
func NewSearchIndex(opts Options) (*SearchIndex, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if err := os.MkdirAll(opts.DataPath, 0o755); err != nil {
		return nil, fmt.Errorf("create search directory: %w", err)
	}

	s := &SearchIndex{
		path:   filepath.Join(opts.DataPath, "search.bleve"),
		logger: logger,
	}
	versionPath := filepath.Join(opts.DataPath, "search.version")

	if index, ok := s.openCurrent(versionPath); ok {
		s.index = index
		logger.Info("opened search index", "path", s.path)
		return s, nil
	}

	if err := s.create(); err != nil {
		return nil, err
	}
	if err := os.WriteFile(versionPath, []byte(mappingVersion), 0o600); err != nil {
		logger.Warn("failed to write search version file", "error", err)
	}
	logger.Info("created search index", "path", s.path, "mapping_version", mappingVersion)
	return s, nil
}

// openCurrent opens an existing index whose version file matches
// mappingVersion.
func (s *SearchIndex) openCurrent(versionPath string) (bleve.Index, bool) {
	if _, err := os.Stat(s.path); errors.Is(err, fs.ErrNotExist) {
		return nil, false
	}

	version, err := os.ReadFile(versionPath)
	switch {
	case err != nil:
		s.logger.Info("search index has no version file, recreating", "new_version", mappingVersion)
		return nil, false
	case string(version) != mappingVersion:
		s.logger.Info("search index mapping changed, recreating",
			"old_version", string(version),
			"new_version", mappingVersion,
		)
		return nil, false
	}

	index, err := bleve.Open(s.path)
	if err != nil {
		s.logger.Warn("failed to open search index, recreating", "path", s.path, "error", err)
		return nil, false
	}
	return index, true
}

// create replaces whatever is at s.path with an empty index.
func (s *SearchIndex) create() error {
	if err := os.RemoveAll(s.path); err != nil {
		return fmt.Errorf("remove old index: %w", err)
	}
	index, err := bleve.New(s.path, buildIndexMapping())
	if err != nil {
		return fmt.Errorf("create index: %w", err)
	}
	s.index = index
	return nil
}

// Close closes the index.
func (s *SearchIndex) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index.Close()
}

// IndexDocument indexes a single document.
func (s *SearchIndex) IndexDocument(doc *ClusterDocument) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index.Index(doc.ID, doc.ToMap())
}

// IndexDocuments indexes docs in batches of indexBatchSize.
func (s *SearchIndex) IndexDocuments(docs []*ClusterDocument) error {
	for chunk := range slices.Chunk(docs, indexBatchSize) {
		b := s.NewBatch()
		for _, doc := range chunk {
			if err := b.Index(doc); err != nil {
				return err
			}
		}
		if err := s.Commit(b); err != nil {
			return err
		}
	}
	return nil
}

// DeleteDocuments removes documents by id; missing ids are ignored.
func (s *SearchIndex) DeleteDocuments(ids []string) error {
	b := s.NewBatch()
	for _, id := range ids {
		b.Delete(id)
	}
	return s.Commit(b)
}

// Batch collects index and delete operations to commit together. Later
// operations on the same id replace earlier ones.
type Batch struct {
	batch *bleve.Batch
}

// NewBatch starts an empty batch.
func (s *SearchIndex) NewBatch() *Batch {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return &Batch{batch: s.index.NewBatch()}
}

// Index queues doc for indexing. Documents are stored as maps so the field
// names match the mapping.
func (b *Batch) Index(doc *ClusterDocument) error {
	if err := b.batch.Index(doc.ID, doc.ToMap()); err != nil {
		return fmt.Errorf("batch index %s: %w", doc.ID, err)
	}
	return nil
}

// Delete queues removal of a document. Deleting a missing id is a no-op.
func (b *Batch) Delete(id string) {
	b.batch.Delete(id)
}

// Size returns the number of queued operations.
func (b *Batch) Size() int {
	return b.batch.Size()
}

// Commit applies the batch and empties it for reuse.
func (s *SearchIndex) Commit(b *Batch) error {
	if b.Size() == 0 {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.index.Batch(b.batch); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	b.batch.Reset()
	return nil
}

// DocumentCount returns the total number of indexed documents.
func (s *SearchIndex) DocumentCount() (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index.DocCount()
}

// Rebuild drops every document by recreating the index. It blocks all
// other operations until done; follow it with a full update.
func (s *SearchIndex) Rebuild() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.index.Close(); err != nil {
		return fmt.Errorf("close index: %w", err)
	}
	if err := s.create(); err != nil {
		return err
	}
	s.logger.Info("rebuilt search index", "path", s.path)
	return nil
}
