// Package metadata maps vector ids to their chunk text, source location, and
// document association. It never calls into the index or the registry; the
// query engine joins the pieces.
package metadata

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrNotFound is returned by Get when no metadata exists for an id.
var ErrNotFound = errors.New("metadata not found")

// Metadata describes one stored vector: the document it belongs to, the chunk
// it was embedded from, and where that chunk sits in the source. Attributes is
// an open-ended extension map for caller-defined fields.
type Metadata struct {
	DocumentID string            `json:"document_id"`
	ChunkIndex int               `json:"chunk_index"`
	ChunkText  string            `json:"chunk_text"`
	Page       int               `json:"page,omitempty"`
	Offset     int               `json:"offset,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// clone returns a deep copy so callers and the store never share an
// Attributes map.
func (m Metadata) clone() Metadata {
	c := m
	if m.Attributes != nil {
		c.Attributes = make(map[string]string, len(m.Attributes))
		for k, v := range m.Attributes {
			c.Attributes[k] = v
		}
	}
	return c
}

// Store is an in-memory metadata table keyed by vector id. Reads run
// concurrently; writes are exclusive.
type Store struct {
	mu      sync.RWMutex
	records map[string]Metadata
}

// NewStore creates an empty metadata store.
func NewStore() *Store {
	return &Store{records: make(map[string]Metadata)}
}

// Put stores metadata under the given vector id, replacing any previous
// value. The record is validated on write: the document id must be set, the
// chunk index non-negative, and attribute keys non-empty.
func (s *Store) Put(id string, meta Metadata) error {
	if id == "" {
		return fmt.Errorf("put metadata: empty vector id")
	}
	if meta.DocumentID == "" {
		return fmt.Errorf("put metadata %s: empty document id", id)
	}
	if meta.ChunkIndex < 0 {
		return fmt.Errorf("put metadata %s: negative chunk index %d", id, meta.ChunkIndex)
	}
	for k := range meta.Attributes {
		if k == "" {
			return fmt.Errorf("put metadata %s: empty attribute key", id)
		}
	}

	s.mu.Lock()
	s.records[id] = meta.clone()
	s.mu.Unlock()
	return nil
}

// Get returns the metadata for a vector id, or ErrNotFound.
func (s *Store) Get(id string) (Metadata, error) {
	s.mu.RLock()
	meta, ok := s.records[id]
	s.mu.RUnlock()
	if !ok {
		return Metadata{}, fmt.Errorf("get metadata %s: %w", id, ErrNotFound)
	}
	return meta.clone(), nil
}

// GetMany returns the metadata for the given ids. Ids with no metadata are
// silently omitted from the result.
func (s *Store) GetMany(ids []string) map[string]Metadata {
	result := make(map[string]Metadata, len(ids))
	s.mu.RLock()
	for _, id := range ids {
		if meta, ok := s.records[id]; ok {
			result[id] = meta.clone()
		}
	}
	s.mu.RUnlock()
	return result
}

// Delete removes the metadata for the given ids. Absent ids are ignored.
// Returns the number of records actually deleted.
func (s *Store) Delete(ids ...string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	deleted := 0
	for _, id := range ids {
		if _, ok := s.records[id]; ok {
			delete(s.records, id)
			deleted++
		}
	}
	return deleted
}

// Len returns the number of metadata records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Range calls fn for every record until fn returns false. Iteration order is
// unspecified. The metadata passed to fn is a copy.
func (s *Store) Range(fn func(id string, meta Metadata) bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for id, meta := range s.records {
		if !fn(id, meta.clone()) {
			return
		}
	}
}
