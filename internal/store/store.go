// Package store assembles the vector index, metadata store, document
// registry, snapshot persistence, usage tracking, and query engine into a
// single owned store with an explicit open/close lifecycle.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"vectorkeep/internal/db"
	"vectorkeep/internal/embedding"
	"vectorkeep/internal/engine"
	"vectorkeep/internal/index"
	"vectorkeep/internal/metadata"
	"vectorkeep/internal/registry"
	"vectorkeep/internal/snapshot"
	"vectorkeep/internal/usage"
)

// ErrClosed is returned by operations invoked after Close.
var ErrClosed = errors.New("store is closed")

// ErrUnknownDocument is returned for document-scoped operations naming a
// document the registry does not hold.
var ErrUnknownDocument = errors.New("unknown document")

const (
	// DefaultTopK is used when a query does not specify k.
	DefaultTopK = 5
	// DefaultSaveDebounce is the settle time between a mutation and the
	// background snapshot it triggers.
	DefaultSaveDebounce = 2 * time.Second
	// DefaultEmbedWorkers bounds concurrent embedding batches per ingest.
	DefaultEmbedWorkers = 3
	// DefaultBatchSize is the number of chunk texts per embedding request.
	DefaultBatchSize = 16
)

// Options configures an opened store.
type Options struct {
	SnapshotPath string            // snapshot file location (required)
	UsageDBPath  string            // SQLite query log; empty disables usage tracking
	Dimension    int               // 0 adopts the dimension of the first ingested vector
	SaveDebounce time.Duration     // delay between a mutation and the background save
	MinScore     float64           // hits scoring below this are dropped from results
	Embedder     embedding.Service // required
	EmbedWorkers int               // concurrent embedding batches during ingest
	BatchSize    int               // texts per embedding request
}

// Chunk is one piece of a document submitted for ingestion.
type Chunk struct {
	Text       string            `json:"text"`
	Page       int               `json:"page,omitempty"`
	Offset     int               `json:"offset,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// IngestRequest carries a chunked document into the store.
type IngestRequest struct {
	DocumentIDHint string  `json:"document_id,omitempty"`
	Filename       string  `json:"filename"`
	ContentHash    string  `json:"content_hash,omitempty"` // computed from chunk texts when empty
	Chunks         []Chunk `json:"chunks"`
}

// DocumentSimilarity pairs a document with its centroid similarity to a
// reference document.
type DocumentSimilarity struct {
	Document registry.DocumentRecord `json:"document"`
	Score    float64                 `json:"score"`
}

// Store is the owned vector store. All mutating operations are serialized
// by an internal writer lock; queries run concurrently.
type Store struct {
	opts     Options
	index    *index.Index
	meta     *metadata.Store
	registry *registry.Registry
	snaps    *snapshot.Manager
	engine   *engine.Engine
	tracker  *usage.Tracker
	usageDB  *sql.DB

	// writeMu serializes Ingest, RemoveDocument, and snapshot capture.
	writeMu sync.Mutex

	closed atomic.Bool
	dirty  chan struct{} // buffered 1; a send marks unsaved mutations
	stopCh chan struct{}
	doneCh chan struct{}
}

// Open loads the snapshot at Options.SnapshotPath (if any), replays it into
// memory, and starts the background saver. A corrupt snapshot fails Open
// with snapshot.ErrCorrupt rather than silently starting empty.
func Open(opts Options) (*Store, error) {
	if opts.SnapshotPath == "" {
		return nil, fmt.Errorf("open store: snapshot path is required")
	}
	if opts.Embedder == nil {
		return nil, fmt.Errorf("open store: embedding service is required")
	}
	if opts.SaveDebounce <= 0 {
		opts.SaveDebounce = DefaultSaveDebounce
	}
	if opts.EmbedWorkers <= 0 {
		opts.EmbedWorkers = DefaultEmbedWorkers
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}

	s := &Store{
		opts:     opts,
		meta:     metadata.NewStore(),
		registry: registry.New(),
		snaps:    snapshot.NewManager(opts.SnapshotPath),
	}

	// 1. Restore persisted state, or start empty on first run
	snap, err := s.snaps.Load()
	switch {
	case errors.Is(err, fs.ErrNotExist):
		s.index = index.New(opts.Dimension)
		log.Printf("[Store] no snapshot at %s, starting empty", opts.SnapshotPath)
	case err != nil:
		return nil, fmt.Errorf("open store: %w", err)
	default:
		if opts.Dimension > 0 && snap.Dimension > 0 && snap.Dimension != opts.Dimension {
			return nil, fmt.Errorf("open store: snapshot dimension %d conflicts with configured dimension %d", snap.Dimension, opts.Dimension)
		}
		s.index = index.New(snap.Dimension)
		if err := s.restore(snap); err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		log.Printf("[Store] restored snapshot: %d documents, %d vectors, dimension=%d",
			s.registry.Len(), s.index.Len(), s.index.Dimension())
	}

	// 2. Open the usage log, if configured
	if opts.UsageDBPath != "" {
		conn, err := db.InitDB(opts.UsageDBPath)
		if err != nil {
			return nil, fmt.Errorf("open store: usage log: %w", err)
		}
		tracker, err := usage.NewTracker(conn, s.registry)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("open store: usage log: %w", err)
		}
		s.usageDB = conn
		s.tracker = tracker
	}

	// 3. Wire the query engine
	var recorder engine.Recorder
	if s.tracker != nil {
		recorder = s.tracker
	}
	s.engine = engine.New(opts.Embedder, s.index, s.meta, recorder, opts.MinScore)

	// 4. Start the background saver
	s.dirty = make(chan struct{}, 1)
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	go s.runSaver()

	return s, nil
}

// restore replays a decoded snapshot into the empty in-memory components.
// Vectors whose document record is missing are swept with a logged count;
// a chunk-count mismatch between a record and its vectors is corruption.
func (s *Store) restore(snap *snapshot.Snapshot) error {
	for _, rec := range snap.Documents {
		if err := s.registry.Restore(rec); err != nil {
			return fmt.Errorf("restore document %s: %w", rec.DocumentID, err)
		}
	}

	orphans := 0
	perDoc := make(map[string]int, len(snap.Documents))
	for _, ve := range snap.Vectors {
		if _, ok := s.registry.Get(ve.Meta.DocumentID); !ok {
			orphans++
			continue
		}
		if err := s.index.Insert(ve.ID, ve.Meta.DocumentID, ve.Embedding); err != nil {
			return fmt.Errorf("%w: vector %s: %v", snapshot.ErrCorrupt, ve.ID, err)
		}
		if err := s.meta.Put(ve.ID, ve.Meta); err != nil {
			return fmt.Errorf("%w: vector %s metadata: %v", snapshot.ErrCorrupt, ve.ID, err)
		}
		perDoc[ve.Meta.DocumentID]++
	}
	if orphans > 0 {
		log.Printf("[Store] swept %d orphan vectors with no document record", orphans)
	}

	for _, rec := range s.registry.List() {
		if perDoc[rec.DocumentID] != rec.ChunkCount {
			return fmt.Errorf("%w: document %s has %d vectors, expected %d",
				snapshot.ErrCorrupt, rec.DocumentID, perDoc[rec.DocumentID], rec.ChunkCount)
		}
	}
	return nil
}

// Ingest embeds a chunked document and commits it atomically. Content
// already present (by hash) short-circuits without re-embedding; the bool
// reports that case. A failure while committing rolls back every chunk of
// the document, never leaving a partial ingest behind.
func (s *Store) Ingest(ctx context.Context, req IngestRequest) (registry.DocumentRecord, bool, error) {
	if s.closed.Load() {
		return registry.DocumentRecord{}, false, ErrClosed
	}
	if len(req.Chunks) == 0 {
		return registry.DocumentRecord{}, false, fmt.Errorf("ingest %q: no chunks", req.Filename)
	}
	texts := make([]string, len(req.Chunks))
	for i, c := range req.Chunks {
		if c.Text == "" {
			return registry.DocumentRecord{}, false, fmt.Errorf("ingest %q: chunk %d is empty", req.Filename, i)
		}
		texts[i] = c.Text
	}

	hash := req.ContentHash
	if hash == "" {
		hash = registry.HashContent([]byte(strings.Join(texts, "\x00")))
	}

	// Duplicate content needs no embedding round-trips
	if rec, ok := s.registry.ByHash(hash); ok {
		log.Printf("[Store] content of %q already present as document %s", req.Filename, rec.DocumentID)
		return rec, true, nil
	}

	// Step 1: Embed every chunk before taking the writer lock
	vecs, err := s.embedChunks(ctx, texts)
	if err != nil {
		return registry.DocumentRecord{}, false, fmt.Errorf("ingest %q: %w", req.Filename, err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.closed.Load() {
		return registry.DocumentRecord{}, false, ErrClosed
	}
	// Step 2: Re-check the hash; another ingest may have won the race
	// while embedding ran outside the lock
	if rec, ok := s.registry.ByHash(hash); ok {
		log.Printf("[Store] content of %q already present as document %s", req.Filename, rec.DocumentID)
		return rec, true, nil
	}

	// Step 3: Register the document
	rec, already, err := s.registry.Register(req.DocumentIDHint, req.Filename, hash, len(req.Chunks))
	if err != nil {
		return registry.DocumentRecord{}, false, fmt.Errorf("ingest %q: %w", req.Filename, err)
	}
	if already {
		return rec, true, nil
	}

	// Step 4: Insert vectors and metadata, rolling back the whole document
	// on any failure
	now := time.Now().UTC()
	inserted := make([]string, 0, len(req.Chunks))
	for i, chunk := range req.Chunks {
		vecID := uuid.NewString()
		if err := s.index.Insert(vecID, rec.DocumentID, vecs[i]); err != nil {
			s.rollbackIngest(rec.DocumentID, inserted)
			return registry.DocumentRecord{}, false, fmt.Errorf("ingest %q: chunk %d: %w", req.Filename, i, err)
		}
		inserted = append(inserted, vecID)

		meta := metadata.Metadata{
			DocumentID: rec.DocumentID,
			ChunkIndex: i,
			ChunkText:  chunk.Text,
			Page:       chunk.Page,
			Offset:     chunk.Offset,
			CreatedAt:  now,
			Attributes: chunk.Attributes,
		}
		if err := s.meta.Put(vecID, meta); err != nil {
			s.rollbackIngest(rec.DocumentID, inserted)
			return registry.DocumentRecord{}, false, fmt.Errorf("ingest %q: chunk %d metadata: %w", req.Filename, i, err)
		}
	}

	s.markDirty()
	log.Printf("[Store] ingested document %s (%q): %d chunks", rec.DocumentID, req.Filename, len(req.Chunks))
	return rec, false, nil
}

// embedChunks embeds texts in bounded concurrent batches. Any batch failure
// cancels the rest; there is no partial success.
func (s *Store) embedChunks(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.EmbedWorkers)

	for start := 0; start < len(texts); start += s.opts.BatchSize {
		start := start
		end := min(start+s.opts.BatchSize, len(texts))
		g.Go(func() error {
			vecs, err := s.opts.Embedder.EmbedMany(ctx, texts[start:end])
			if err != nil {
				return err
			}
			copy(out[start:end], vecs)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// rollbackIngest undoes a partially committed document. Caller holds writeMu.
func (s *Store) rollbackIngest(documentID string, vectorIDs []string) {
	s.index.Remove(vectorIDs)
	s.meta.Delete(vectorIDs...)
	s.registry.Remove(documentID)
	log.Printf("[Store] rolled back partial ingest of document %s (%d vectors)", documentID, len(vectorIDs))
}

// Query answers a search over the store. k <= 0 uses DefaultTopK.
func (s *Store) Query(ctx context.Context, text string, scope engine.Scope, k int) ([]engine.Result, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	if k <= 0 {
		k = DefaultTopK
	}
	return s.engine.Query(ctx, text, scope, k)
}

// RemoveDocument deletes a document and everything derived from it:
// vectors, metadata, and finally the registry record. Removing an unknown
// document is a no-op returning false.
func (s *Store) RemoveDocument(documentID string) (bool, error) {
	if s.closed.Load() {
		return false, ErrClosed
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	ids := s.index.DocumentVectorIDs(documentID)
	removedVecs := s.index.Remove(ids)
	s.meta.Delete(ids...)
	removed := s.registry.Remove(documentID)

	if removed || removedVecs > 0 {
		s.markDirty()
		log.Printf("[Store] removed document %s: %d vectors", documentID, removedVecs)
	}
	return removed, nil
}

// Document returns a single document record.
func (s *Store) Document(documentID string) (registry.DocumentRecord, bool) {
	return s.registry.Get(documentID)
}

// Documents lists all document records ordered by creation time.
func (s *Store) Documents() []registry.DocumentRecord {
	return s.registry.List()
}

// DocumentChunks returns a document's chunk metadata in chunk order.
func (s *Store) DocumentChunks(documentID string) ([]metadata.Metadata, error) {
	if _, ok := s.registry.Get(documentID); !ok {
		return nil, fmt.Errorf("document chunks: %w: %s", ErrUnknownDocument, documentID)
	}
	ids := s.index.DocumentVectorIDs(documentID)
	metas := s.meta.GetMany(ids)

	chunks := make([]metadata.Metadata, 0, len(metas))
	for _, id := range ids {
		if m, ok := metas[id]; ok {
			chunks = append(chunks, m)
		}
	}
	sort.Slice(chunks, func(i, j int) bool { return chunks[i].ChunkIndex < chunks[j].ChunkIndex })
	return chunks, nil
}

// SimilarDocuments ranks other documents by cosine similarity between
// per-document centroids, most similar first. Ties keep creation order.
func (s *Store) SimilarDocuments(documentID string, n int) ([]DocumentSimilarity, error) {
	if n <= 0 {
		n = DefaultTopK
	}
	if _, ok := s.registry.Get(documentID); !ok {
		return nil, fmt.Errorf("similar documents: %w: %s", ErrUnknownDocument, documentID)
	}
	center, ok := s.index.Centroid(documentID)
	if !ok {
		return nil, nil
	}

	var sims []DocumentSimilarity
	for _, rec := range s.registry.List() {
		if rec.DocumentID == documentID {
			continue
		}
		other, ok := s.index.Centroid(rec.DocumentID)
		if !ok {
			continue
		}
		sims = append(sims, DocumentSimilarity{Document: rec, Score: index.Cosine(center, other)})
	}
	sort.SliceStable(sims, func(i, j int) bool { return sims[i].Score > sims[j].Score })
	if len(sims) > n {
		sims = sims[:n]
	}
	return sims, nil
}

// Stats returns a point-in-time snapshot of store counters.
func (s *Store) Stats() usage.Stats {
	if s.tracker != nil {
		return s.tracker.Stats(s.registry.Len(), s.index.Len(), s.registry.AccessCounts())
	}
	return usage.Stats{
		TotalDocuments:    s.registry.Len(),
		TotalVectors:      s.index.Len(),
		PerDocumentAccess: s.registry.AccessCounts(),
	}
}

// TopQueries returns the most frequent query texts. Without a usage log it
// returns nothing.
func (s *Store) TopQueries(n int) ([]usage.QueryCount, error) {
	if s.tracker == nil {
		return nil, nil
	}
	return s.tracker.TopQueries(n)
}

// Save forces a snapshot write, bypassing the debounce.
func (s *Store) Save() error {
	if s.closed.Load() {
		return ErrClosed
	}
	return s.save()
}

// Close stops the background saver, writes a final snapshot, and closes the
// usage log. Further calls return ErrClosed.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	close(s.stopCh)
	<-s.doneCh

	err := s.save()
	if s.usageDB != nil {
		if cerr := s.usageDB.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close usage log: %w", cerr)
		}
	}
	log.Printf("[Store] closed")
	return err
}

// save captures a consistent snapshot under the writer lock and writes it
// outside the lock, so disk IO never blocks mutations.
func (s *Store) save() error {
	s.writeMu.Lock()
	snap := s.capture()
	s.writeMu.Unlock()

	if err := s.snaps.Save(snap); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	log.Printf("[Store] saved snapshot: %d documents, %d vectors", len(snap.Documents), len(snap.Vectors))
	return nil
}

// capture assembles a snapshot from current state. Caller holds writeMu, so
// no structural mutation can interleave; vector slices are immutable once
// inserted and are referenced, not copied.
func (s *Store) capture() *snapshot.Snapshot {
	snap := &snapshot.Snapshot{
		Dimension: s.index.Dimension(),
		Documents: s.registry.List(),
	}
	s.index.Range(func(id, documentID string, embedding []float32) bool {
		m, err := s.meta.Get(id)
		if err != nil {
			log.Printf("[Store] vector %s has no metadata, not saved", id)
			return true
		}
		snap.Vectors = append(snap.Vectors, snapshot.VectorEntry{ID: id, Meta: m, Embedding: embedding})
		return true
	})
	return snap
}

// markDirty schedules a background save. Non-blocking; repeated marks
// before the saver wakes coalesce into one.
func (s *Store) markDirty() {
	select {
	case s.dirty <- struct{}{}:
	default:
	}
}

// runSaver is the single background save goroutine. Each dirty mark is
// debounced so a burst of mutations produces one write, and the final save
// on Close covers anything still pending when it stops.
func (s *Store) runSaver() {
	defer close(s.doneCh)
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[Store] saver goroutine panic: %v", r)
		}
	}()

	for {
		select {
		case <-s.stopCh:
			return
		case <-s.dirty:
			select {
			case <-time.After(s.opts.SaveDebounce):
			case <-s.stopCh:
				return
			}
			if err := s.save(); err != nil {
				log.Printf("[Store] background save failed: %v", err)
			}
		}
	}
}
