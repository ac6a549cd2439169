package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/meshworks/backoffice/internal/shared"
)

// MemoryStore keeps documents in process. It backs tests and the CLI's local mode.
type MemoryStore struct {
	mu    sync.RWMutex
	data  map[string]map[string]Document
	clock func() time.Time
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data:  make(map[string]map[string]Document),
		clock: func() time.Time { return time.Now().UTC() },
	}
}

// Get returns a copy of the stored document.
func (s *MemoryStore) Get(ctx context.Context, collection, id string) (Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.data[collection][id]
	if !ok {
		return Document{}, fmt.Errorf("store: %s/%s: %w", collection, id, shared.ErrNotFound)
	}
	return doc.Clone(), nil
}

// Put stores the document, enforcing expectedVersion when it is non-zero.
func (s *MemoryStore) Put(ctx context.Context, collection string, doc Document, expectedVersion int64) (int64, error) {
	if doc.ID == "" {
		return 0, shared.Invalid("id", "is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	coll := s.collection(collection)
	current, exists := coll[doc.ID]
	if expectedVersion > 0 {
		if !exists {
			return 0, fmt.Errorf("store: %s/%s: %w", collection, doc.ID, shared.ErrNotFound)
		}
		if current.Version != expectedVersion {
			return 0, fmt.Errorf("store: %s/%s at version %d: %w", collection, doc.ID, current.Version, shared.ErrVersionConflict)
		}
	}
	stored := doc.Clone()
	stored.Version = current.Version + 1
	stored.UpdatedAt = s.clock()
	coll[doc.ID] = stored
	return stored.Version, nil
}

// Query scans the collection.
func (s *MemoryStore) Query(ctx context.Context, collection string, q Query) ([]Document, error) {
	s.mu.RLock()
	docs := make([]Document, 0, len(s.data[collection]))
	for _, doc := range s.data[collection] {
		docs = append(docs, doc.Clone())
	}
	s.mu.RUnlock()
	return finish(docs, q)
}

// Delete removes a document.
func (s *MemoryStore) Delete(ctx context.Context, collection, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[collection][id]; !ok {
		return fmt.Errorf("store: %s/%s: %w", collection, id, shared.ErrNotFound)
	}
	delete(s.data[collection], id)
	return nil
}

// AppendToArrayField appends under the write lock, so concurrent appends never
// overwrite each other.
func (s *MemoryStore) AppendToArrayField(ctx context.Context, collection, id, field string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("store: encode append value: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	coll := s.collection(collection)
	doc, ok := coll[id]
	if !ok {
		doc = NewDocument(id)
	}
	doc = doc.Clone()
	var items []json.RawMessage
	if _, err := doc.Field(field, &items); err != nil {
		return err
	}
	items = append(items, raw)
	if err := doc.SetField(field, items); err != nil {
		return err
	}
	doc.Version++
	doc.UpdatedAt = s.clock()
	coll[id] = doc
	return nil
}

func (s *MemoryStore) collection(name string) map[string]Document {
	coll, ok := s.data[name]
	if !ok {
		coll = make(map[string]Document)
		s.data[name] = coll
	}
	return coll
}
