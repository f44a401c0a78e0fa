// Package registry tracks one record per ingested document, deduplicates
// ingestion by content hash, and maintains per-document access counters.
package registry

import (
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"
)

// DocumentRecord is a point-in-time view of one ingested document.
type DocumentRecord struct {
	DocumentID     string    `json:"document_id"`
	Filename       string    `json:"filename"`
	ContentHash    string    `json:"content_hash"`
	ChunkCount     int       `json:"chunk_count"`
	CreatedAt      time.Time `json:"created_at"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
	AccessCount    int64     `json:"access_count"`
}

// record is the live registry entry. The access counters are atomics so Touch
// never serializes with structural mutations on other documents.
type record struct {
	documentID  string
	filename    string
	contentHash string
	chunkCount  int
	createdAt   time.Time
	accessCount atomic.Int64
	lastAccess  atomic.Int64 // unix nanoseconds
}

func (r *record) view() DocumentRecord {
	return DocumentRecord{
		DocumentID:     r.documentID,
		Filename:       r.filename,
		ContentHash:    r.contentHash,
		ChunkCount:     r.chunkCount,
		CreatedAt:      r.createdAt,
		LastAccessedAt: time.Unix(0, r.lastAccess.Load()).UTC(),
		AccessCount:    r.accessCount.Load(),
	}
}

// Registry is the in-memory document table, keyed by document id and by
// content hash.
type Registry struct {
	mu     sync.RWMutex
	byID   map[string]*record
	byHash map[string]string // content hash -> document id
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		byID:   make(map[string]*record),
		byHash: make(map[string]string),
	}
}

// Register creates a record for a newly ingested document. If a record with
// the same content hash already exists it is returned unchanged and the bool
// is true, signalling the caller to skip re-embedding identical content.
//
// documentID may be empty, in which case a fresh UUID is assigned. A non-empty
// documentID that is already bound to different content is rejected.
func (r *Registry) Register(documentID, filename, contentHash string, chunkCount int) (DocumentRecord, bool, error) {
	if contentHash == "" {
		return DocumentRecord{}, false, fmt.Errorf("register %q: empty content hash", filename)
	}
	if chunkCount < 0 {
		return DocumentRecord{}, false, fmt.Errorf("register %q: negative chunk count %d", filename, chunkCount)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existingID, ok := r.byHash[contentHash]; ok {
		return r.byID[existingID].view(), true, nil
	}

	if documentID == "" {
		documentID = uuid.NewString()
	} else if _, taken := r.byID[documentID]; taken {
		return DocumentRecord{}, false, fmt.Errorf("register %q: document id %s already in use", filename, documentID)
	}

	now := time.Now().UTC()
	rec := &record{
		documentID:  documentID,
		filename:    filename,
		contentHash: contentHash,
		chunkCount:  chunkCount,
		createdAt:   now,
	}
	rec.lastAccess.Store(now.UnixNano())
	r.byID[documentID] = rec
	r.byHash[contentHash] = documentID
	return rec.view(), false, nil
}

// Remove deletes a document record. Returns false when no such document
// exists, making repeated removal a no-op. The caller is responsible for
// cascading vector and metadata deletion before removing the record.
func (r *Registry) Remove(documentID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.byID[documentID]
	if !ok {
		return false
	}
	delete(r.byID, documentID)
	delete(r.byHash, rec.contentHash)
	return true
}

// Touch increments a document's access count and stamps its last-access time.
// Silently does nothing when the document has been removed concurrently.
func (r *Registry) Touch(documentID string) {
	r.mu.RLock()
	rec, ok := r.byID[documentID]
	r.mu.RUnlock()
	if !ok {
		return
	}
	rec.accessCount.Add(1)
	rec.lastAccess.Store(time.Now().UTC().UnixNano())
}

// Get returns a document record by id.
func (r *Registry) Get(documentID string) (DocumentRecord, bool) {
	r.mu.RLock()
	rec, ok := r.byID[documentID]
	r.mu.RUnlock()
	if !ok {
		return DocumentRecord{}, false
	}
	return rec.view(), true
}

// ByHash returns the document record registered under a content hash, letting
// ingestion detect duplicates before embedding.
func (r *Registry) ByHash(contentHash string) (DocumentRecord, bool) {
	r.mu.RLock()
	id, ok := r.byHash[contentHash]
	var rec *record
	if ok {
		rec = r.byID[id]
	}
	r.mu.RUnlock()
	if rec == nil {
		return DocumentRecord{}, false
	}
	return rec.view(), true
}

// List returns all document records ordered by creation time, oldest first,
// with ties broken by document id for a stable order.
func (r *Registry) List() []DocumentRecord {
	r.mu.RLock()
	records := make([]DocumentRecord, 0, len(r.byID))
	for _, rec := range r.byID {
		records = append(records, rec.view())
	}
	r.mu.RUnlock()

	sort.Slice(records, func(i, j int) bool {
		if !records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].CreatedAt.Before(records[j].CreatedAt)
		}
		return records[i].DocumentID < records[j].DocumentID
	})
	return records
}

// Len returns the number of registered documents.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// AccessCounts returns a copy of the per-document access counters.
func (r *Registry) AccessCounts() map[string]int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	counts := make(map[string]int64, len(r.byID))
	for id, rec := range r.byID {
		counts[id] = rec.accessCount.Load()
	}
	return counts
}

// Restore reinstates a record loaded from a snapshot, including its access
// counters. Fails if the id or content hash is already present.
func (r *Registry) Restore(rec DocumentRecord) error {
	if rec.DocumentID == "" {
		return fmt.Errorf("restore: empty document id")
	}
	if rec.ContentHash == "" {
		return fmt.Errorf("restore %s: empty content hash", rec.DocumentID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[rec.DocumentID]; exists {
		return fmt.Errorf("restore %s: document id already present", rec.DocumentID)
	}
	if _, exists := r.byHash[rec.ContentHash]; exists {
		return fmt.Errorf("restore %s: content hash already present", rec.DocumentID)
	}

	live := &record{
		documentID:  rec.DocumentID,
		filename:    rec.Filename,
		contentHash: rec.ContentHash,
		chunkCount:  rec.ChunkCount,
		createdAt:   rec.CreatedAt,
	}
	live.accessCount.Store(rec.AccessCount)
	live.lastAccess.Store(rec.LastAccessedAt.UnixNano())
	r.byID[rec.DocumentID] = live
	r.byHash[rec.ContentHash] = rec.DocumentID
	return nil
}

// HashContent computes the hex-encoded BLAKE2b-256 fingerprint of raw
// document content, the hash ingestion deduplicates on.
func HashContent(data []byte) string {
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:])
}
