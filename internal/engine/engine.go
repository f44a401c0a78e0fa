// Package engine implements the query pipeline that coordinates
// embedding, vector search, and metadata joins.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"

	"vectorkeep/internal/embedding"
	"vectorkeep/internal/index"
	"vectorkeep/internal/metadata"
	"vectorkeep/internal/usage"
)

// ErrNoResults means the search completed but nothing relevant survived:
// every hit fell below the score floor or lost its metadata. Distinct from
// index.ErrEmptyIndex, which means there was nothing to search at all.
var ErrNoResults = errors.New("query matched no results")

// Scope restricts a query to a single document. The zero value searches
// all documents.
type Scope struct {
	DocumentID string `json:"document_id,omitempty"`
}

// Result is one scored chunk joined with its metadata.
type Result struct {
	ChunkText  string  `json:"chunk_text"`
	DocumentID string  `json:"document_id"`
	Score      float64 `json:"score"`
	ChunkIndex int     `json:"chunk_index"`
	Page       int     `json:"page,omitempty"`
	Offset     int     `json:"offset,omitempty"`
}

// Recorder receives a usage event for each answered query. The usage
// tracker satisfies it.
type Recorder interface {
	Record(ev usage.Event) error
}

// Engine runs the query pipeline over a shared index and metadata store.
type Engine struct {
	embedder embedding.Service
	index    *index.Index
	meta     *metadata.Store
	recorder Recorder
	minScore float64
}

// New creates an Engine. recorder may be nil to disable usage tracking;
// minScore drops hits scoring below it (0 keeps everything non-negative).
func New(
	embedder embedding.Service,
	ix *index.Index,
	meta *metadata.Store,
	recorder Recorder,
	minScore float64,
) *Engine {
	return &Engine{
		embedder: embedder,
		index:    ix,
		meta:     meta,
		recorder: recorder,
		minScore: minScore,
	}
}

// Query executes the pipeline:
// 1. Embed the query text
// 2. Search the index within the scope
// 3. Drop hits below the score floor
// 4. Join surviving hits with chunk metadata
// 5. Record the usage event (answered queries only)
func (e *Engine) Query(ctx context.Context, text string, scope Scope, k int) ([]Result, error) {
	if text == "" {
		return nil, fmt.Errorf("query: empty query text")
	}
	if k <= 0 {
		return nil, fmt.Errorf("query: k must be positive, got %d", k)
	}

	// Step 1: Embed the query text
	vec, err := e.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	// Step 2: Search the index within the scope
	hits, err := e.index.Search(vec, k, scope.DocumentID)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	log.Printf("[Query] text=%q scope=%q k=%d hits=%d", text, scope.DocumentID, k, len(hits))

	// Step 3: Drop hits below the score floor
	kept := hits[:0]
	for _, h := range hits {
		if h.Score >= e.minScore {
			kept = append(kept, h)
		}
	}
	if len(kept) == 0 {
		return nil, ErrNoResults
	}

	// Step 4: Join surviving hits with chunk metadata
	ids := make([]string, len(kept))
	for i, h := range kept {
		ids[i] = h.ID
	}
	metas := e.meta.GetMany(ids)

	results := make([]Result, 0, len(kept))
	for _, h := range kept {
		m, ok := metas[h.ID]
		if !ok {
			log.Printf("[Query] vector %s has no metadata, skipping", h.ID)
			continue
		}
		results = append(results, Result{
			ChunkText:  m.ChunkText,
			DocumentID: m.DocumentID,
			Score:      h.Score,
			ChunkIndex: m.ChunkIndex,
			Page:       m.Page,
			Offset:     m.Offset,
		})
	}
	if len(results) == 0 {
		return nil, ErrNoResults
	}

	// Step 5: Record the usage event (answered queries only)
	if e.recorder != nil {
		ev := usage.Event{
			QueryText:       text,
			DocumentID:      scope.DocumentID,
			ResultCount:     len(results),
			ResultDocuments: accessedDocuments(scope, results),
		}
		if err := e.recorder.Record(ev); err != nil {
			// The query already succeeded; tracking failures must not fail it.
			log.Printf("[Query] failed to record usage event: %v", err)
		}
	}

	return results, nil
}

// accessedDocuments lists the documents a query touched. A scoped query
// touches its scope document; an all-documents query touches each distinct
// document appearing in the results, in result order.
func accessedDocuments(scope Scope, results []Result) []string {
	if scope.DocumentID != "" {
		return []string{scope.DocumentID}
	}
	seen := make(map[string]struct{}, len(results))
	var docs []string
	for _, r := range results {
		if _, ok := seen[r.DocumentID]; ok {
			continue
		}
		seen[r.DocumentID] = struct{}{}
		docs = append(docs, r.DocumentID)
	}
	return docs
}
