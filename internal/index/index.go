// Package index implements the in-memory vector index: incremental insertion,
// idempotent removal, and top-k cosine-similarity search across the whole
// collection or scoped to a single document.
package index

import (
	"errors"
	"fmt"
	"runtime"
	"sort"
	"sync"
)

var (
	// ErrDimensionMismatch is returned when a vector's dimension differs from
	// the index dimension.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	// ErrDuplicateID is returned when inserting an id that is already present.
	ErrDuplicateID = errors.New("duplicate vector id")
	// ErrEmptyIndex is returned by Search when no vectors match the search scope.
	ErrEmptyIndex = errors.New("no vectors in search scope")
)

// Hit is one search result: a vector id with its similarity score.
type Hit struct {
	ID         string  `json:"id"`
	DocumentID string  `json:"document_id"`
	Score      float64 `json:"score"`
}

// entry is one stored vector with its precomputed L2 norm and insertion sequence.
type entry struct {
	id    string
	docID string
	vec   []float32
	norm  float64
	seq   uint64
}

// Index holds embedding vectors in memory and answers top-k cosine-similarity
// queries. All vectors share one dimension, fixed at construction or adopted
// from the first insert when constructed with dimension 0.
//
// Every vector belongs to a document, and a per-document sub-index serves
// scoped searches, so a scoped search costs time proportional to that
// document's vector count rather than the whole collection's.
//
// Readers (Search, Len, Range, ...) run concurrently under a read lock and
// never observe a partially applied Insert or Remove.
type Index struct {
	mu    sync.RWMutex
	dim   int
	seq   uint64
	byID  map[string]*entry
	byDoc map[string][]*entry
	order []*entry // insertion order, backing global scans
}

// New creates an empty index. dim <= 0 means the dimension is adopted from the
// first inserted vector and frozen afterwards.
func New(dim int) *Index {
	if dim < 0 {
		dim = 0
	}
	return &Index{
		dim:   dim,
		byID:  make(map[string]*entry),
		byDoc: make(map[string][]*entry),
	}
}

// Insert adds a vector under the given id and document. The stored copy is
// independent of the caller's slice. Fails with ErrDimensionMismatch if the
// vector's dimension differs from the index dimension, and with ErrDuplicateID
// if the id is already present. A failed insert leaves the index unchanged.
func (ix *Index) Insert(id, documentID string, embedding []float32) error {
	if id == "" {
		return fmt.Errorf("insert: empty vector id")
	}
	if documentID == "" {
		return fmt.Errorf("insert: empty document id")
	}
	if len(embedding) == 0 {
		return fmt.Errorf("insert %s: %w (empty vector)", id, ErrDimensionMismatch)
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	if ix.dim == 0 {
		ix.dim = len(embedding)
	}
	if len(embedding) != ix.dim {
		return fmt.Errorf("insert %s: %w (got %d, index dimension %d)", id, ErrDimensionMismatch, len(embedding), ix.dim)
	}
	if _, exists := ix.byID[id]; exists {
		return fmt.Errorf("insert %s: %w", id, ErrDuplicateID)
	}

	vec := make([]float32, len(embedding))
	copy(vec, embedding)

	ix.seq++
	e := &entry{
		id:    id,
		docID: documentID,
		vec:   vec,
		norm:  l2Norm(vec),
		seq:   ix.seq,
	}
	ix.byID[id] = e
	ix.byDoc[documentID] = append(ix.byDoc[documentID], e)
	ix.order = append(ix.order, e)
	return nil
}

// Search returns up to k hits ordered by descending cosine similarity to
// query. Equal scores are ordered by insertion sequence, earliest first, so
// results are deterministic. If documentID is non-empty the scan is restricted
// to that document's vectors. Returns ErrEmptyIndex when no vectors exist in
// the requested scope.
func (ix *Index) Search(query []float32, k int, documentID string) ([]Hit, error) {
	if k <= 0 {
		return nil, fmt.Errorf("search: k must be positive, got %d", k)
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if ix.dim > 0 && len(query) != ix.dim {
		return nil, fmt.Errorf("search: %w (got %d, index dimension %d)", ErrDimensionMismatch, len(query), ix.dim)
	}

	candidates := ix.order
	if documentID != "" {
		candidates = ix.byDoc[documentID]
	}
	if len(candidates) == 0 {
		if documentID != "" {
			return nil, fmt.Errorf("search document %s: %w", documentID, ErrEmptyIndex)
		}
		return nil, fmt.Errorf("search: %w", ErrEmptyIndex)
	}

	scored := scoreAll(candidates, query)

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].score != scored[j].score {
			return scored[i].score > scored[j].score
		}
		return scored[i].seq < scored[j].seq
	})

	if k > len(scored) {
		k = len(scored)
	}
	hits := make([]Hit, k)
	for i := 0; i < k; i++ {
		hits[i] = Hit{ID: scored[i].id, DocumentID: scored[i].docID, Score: scored[i].score}
	}
	return hits, nil
}

// scoredEntry pairs a candidate with its similarity score for ranking.
type scoredEntry struct {
	id    string
	docID string
	score float64
	seq   uint64
}

// scoreAll computes cosine similarity between query and every candidate,
// partitioning the scan across workers for large candidate sets.
func scoreAll(candidates []*entry, query []float32) []scoredEntry {
	qnorm := l2Norm(query)
	scored := make([]scoredEntry, len(candidates))

	score := func(lo, hi int) {
		for i := lo; i < hi; i++ {
			e := candidates[i]
			var s float64
			if qnorm != 0 && e.norm != 0 && len(query) == len(e.vec) {
				s = dot(query, e.vec) / (qnorm * e.norm)
			}
			scored[i] = scoredEntry{id: e.id, docID: e.docID, score: s, seq: e.seq}
		}
	}

	numWorkers := runtime.NumCPU()
	if numWorkers > len(candidates) {
		numWorkers = len(candidates)
	}
	if numWorkers <= 1 || len(candidates) < 64 {
		score(0, len(candidates))
		return scored
	}

	var wg sync.WaitGroup
	chunk := (len(candidates) + numWorkers - 1) / numWorkers
	for w := 0; w < numWorkers; w++ {
		lo := w * chunk
		hi := lo + chunk
		if hi > len(candidates) {
			hi = len(candidates)
		}
		if lo >= hi {
			break
		}
		wg.Add(1)
		go func(lo, hi int) {
			defer wg.Done()
			score(lo, hi)
		}(lo, hi)
	}
	wg.Wait()
	return scored
}

// Remove deletes the given ids from the index. Absent ids are ignored, so
// removing the same set twice is a no-op. Returns the number of vectors
// actually removed.
func (ix *Index) Remove(ids []string) int {
	if len(ids) == 0 {
		return 0
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	doomed := make(map[string]struct{}, len(ids))
	docs := make(map[string]struct{})
	for _, id := range ids {
		e, ok := ix.byID[id]
		if !ok {
			continue
		}
		doomed[id] = struct{}{}
		docs[e.docID] = struct{}{}
		delete(ix.byID, id)
	}
	if len(doomed) == 0 {
		return 0
	}

	ix.order = compact(ix.order, doomed)
	for docID := range docs {
		kept := compact(ix.byDoc[docID], doomed)
		if len(kept) == 0 {
			delete(ix.byDoc, docID)
		} else {
			ix.byDoc[docID] = kept
		}
	}
	return len(doomed)
}

// compact filters doomed entries out of a slice, preserving order.
func compact(entries []*entry, doomed map[string]struct{}) []*entry {
	kept := entries[:0]
	for _, e := range entries {
		if _, gone := doomed[e.id]; !gone {
			kept = append(kept, e)
		}
	}
	// Zero the tail so removed entries can be collected.
	for i := len(kept); i < len(entries); i++ {
		entries[i] = nil
	}
	return kept
}

// DocumentVectorIDs returns the ids of all vectors belonging to a document,
// in insertion order. Returns nil for an unknown document.
func (ix *Index) DocumentVectorIDs(documentID string) []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	entries := ix.byDoc[documentID]
	if len(entries) == 0 {
		return nil
	}
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.id
	}
	return ids
}

// DocumentLen returns the number of vectors stored for a document.
func (ix *Index) DocumentLen(documentID string) int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.byDoc[documentID])
}

// Len returns the total number of vectors in the index.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.byID)
}

// Dimension returns the index dimension, or 0 if it has not been fixed yet.
func (ix *Index) Dimension() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.dim
}

// Centroid returns the arithmetic mean of a document's vectors, or false if
// the document has none. The returned slice is owned by the caller.
func (ix *Index) Centroid(documentID string) ([]float32, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	entries := ix.byDoc[documentID]
	if len(entries) == 0 {
		return nil, false
	}
	sum := make([]float64, ix.dim)
	for _, e := range entries {
		for i, v := range e.vec {
			sum[i] += float64(v)
		}
	}
	centroid := make([]float32, ix.dim)
	n := float64(len(entries))
	for i, v := range sum {
		centroid[i] = float32(v / n)
	}
	return centroid, true
}

// Range calls fn for every vector in insertion order until fn returns false.
// The embedding slice is the index's own storage and must not be mutated.
// The read lock is held for the duration of the iteration.
func (ix *Index) Range(fn func(id, documentID string, embedding []float32) bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	for _, e := range ix.order {
		if !fn(e.id, e.docID, e.vec) {
			return
		}
	}
}
