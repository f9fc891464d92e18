package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"loadlab/pkg/loadtest"
)

// Documents stores one JSON document per id under basePath
type Documents[T any] struct {
	basePath string
}

// NewDocuments creates the directory if needed
func NewDocuments[T any](basePath string) (*Documents[T], error) {
	err := os.MkdirAll(basePath, 0755)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	return &Documents[T]{basePath: basePath}, nil
}

func (d *Documents[T]) path(id string) string {
	return filepath.Join(d.basePath, id+".json")
}

// Save writes data to <id>.json, replacing any previous version. The
// document is written to a temp file and renamed into place, so readers see
// either the old or the new version.
func (d *Documents[T]) Save(id string, data T) error {
	f, err := os.CreateTemp(d.basePath, id+".*.tmp")
	if err != nil {
		return err
	}
	tmp := f.Name()

	encoder := json.NewEncoder(f)
	encoder.SetIndent("", "  ")

	if err := encoder.Encode(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, d.path(id)); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// Load reads <id>.json
func (d *Documents[T]) Load(id string) (T, error) {
	var zero T
	f, err := os.Open(d.path(id))
	if err != nil {
		return zero, err
	}
	defer f.Close()

	var data T
	if err := json.NewDecoder(f).Decode(&data); err != nil {
		return zero, err
	}
	return data, nil
}

// Exists reports whether a document is stored under id
func (d *Documents[T]) Exists(id string) bool {
	_, err := os.Stat(d.path(id))
	return err == nil
}

// IDs lists the ids of all stored documents
func (d *Documents[T]) IDs() ([]string, error) {
	entries, err := os.ReadDir(d.basePath)
	if err != nil {
		return nil, err
	}

	var ids []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(entry.Name(), ".json"))
	}
	return ids, nil
}

// FileStore keeps test records as JSON files, one per run
type FileStore struct {
	mu   sync.RWMutex
	docs *Documents[*loadtest.TestRecord]
}

// NewFileStore creates a file store rooted at basePath
func NewFileStore(basePath string) (*FileStore, error) {
	docs, err := NewDocuments[*loadtest.TestRecord](basePath)
	if err != nil {
		return nil, err
	}
	return &FileStore{docs: docs}, nil
}

// Create implements loadtest.Store
func (s *FileStore) Create(ctx context.Context, record *loadtest.TestRecord) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := record.ID
	if id == "" {
		id = uuid.NewString()
	}
	if s.docs.Exists(id) {
		return "", fmt.Errorf("record %s already exists", id)
	}

	stored := *record
	stored.ID = id
	if err := s.docs.Save(id, &stored); err != nil {
		return "", fmt.Errorf("failed to save record: %w", err)
	}
	return id, nil
}

// Update implements loadtest.Store
func (s *FileStore) Update(ctx context.Context, record *loadtest.TestRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if record.ID == "" || !s.docs.Exists(record.ID) {
		return loadtest.ErrRecordNotFound
	}
	if err := s.docs.Save(record.ID, record); err != nil {
		return fmt.Errorf("failed to save record: %w", err)
	}
	return nil
}

// Get implements loadtest.Store
func (s *FileStore) Get(ctx context.Context, id string) (*loadtest.TestRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, err := s.docs.Load(id)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, loadtest.ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to load record: %w", err)
	}
	return record, nil
}

// ListByOwner implements loadtest.Store
func (s *FileStore) ListByOwner(ctx context.Context, ownerID string, limit int) ([]*loadtest.TestRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids, err := s.docs.IDs()
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}

	var records []*loadtest.TestRecord
	for _, id := range ids {
		record, err := s.docs.Load(id)
		if err != nil {
			continue // Skip files that can't be decoded
		}
		if record.OwnerID == ownerID {
			records = append(records, record)
		}
	}

	// Newest first
	sort.Slice(records, func(i, j int) bool {
		return records[i].StartedAt.After(records[j].StartedAt)
	})

	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}
