package index

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
)

func TestInsert_AdoptsDimensionFromFirstVector(t *testing.T) {
	ix := New(0)
	if err := ix.Insert("v1", "doc-a", []float32{1, 2, 3}); err != nil {
		t.Fatalf("first insert failed: %v", err)
	}
	if got := ix.Dimension(); got != 3 {
		t.Errorf("expected dimension 3 after first insert, got %d", got)
	}
	// Later inserts must match the adopted dimension
	err := ix.Insert("v2", "doc-a", []float32{1, 2})
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("expected ErrDimensionMismatch, got %v", err)
	}
}

func TestInsert_DimensionMismatchLeavesIndexUnchanged(t *testing.T) {
	ix := New(3)
	if err := ix.Insert("v1", "doc-a", []float32{1, 0, 0}); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	err := ix.Insert("v2", "doc-a", []float32{1, 0, 0, 0})
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch, got %v", err)
	}

	if ix.Len() != 1 {
		t.Errorf("expected 1 vector after rejected insert, got %d", ix.Len())
	}
	if ix.DocumentLen("doc-a") != 1 {
		t.Errorf("expected doc-a to keep 1 vector, got %d", ix.DocumentLen("doc-a"))
	}
}

func TestInsert_DuplicateID(t *testing.T) {
	ix := New(2)
	if err := ix.Insert("v1", "doc-a", []float32{1, 0}); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	err := ix.Insert("v1", "doc-b", []float32{0, 1})
	if !errors.Is(err, ErrDuplicateID) {
		t.Errorf("expected ErrDuplicateID, got %v", err)
	}
	if ix.Len() != 1 {
		t.Errorf("expected 1 vector, got %d", ix.Len())
	}
}

func TestInsert_CopiesCallerSlice(t *testing.T) {
	ix := New(2)
	vec := []float32{1, 0}
	if err := ix.Insert("v1", "doc-a", vec); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	// Mutating the caller's slice must not affect stored data
	vec[0] = 0
	vec[1] = 1

	hits, err := ix.Search([]float32{1, 0}, 1, "")
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if math.Abs(hits[0].Score-1.0) > 1e-9 {
		t.Errorf("expected score 1.0 against original vector, got %f", hits[0].Score)
	}
}

func TestSearch_RanksByCosineSimilarity(t *testing.T) {
	ix := New(3)
	if err := ix.Insert("va", "doc-a", []float32{1, 0, 0}); err != nil {
		t.Fatalf("insert va: %v", err)
	}
	if err := ix.Insert("vb", "doc-b", []float32{0, 1, 0}); err != nil {
		t.Fatalf("insert vb: %v", err)
	}

	hits, err := ix.Search([]float32{0.9, 0.1, 0}, 1, "")
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if hits[0].ID != "va" {
		t.Errorf("expected va as top hit, got %s", hits[0].ID)
	}

	// Scoped to doc-b, its vector wins despite the lower absolute score
	scoped, err := ix.Search([]float32{0.9, 0.1, 0}, 1, "doc-b")
	if err != nil {
		t.Fatalf("scoped search failed: %v", err)
	}
	if scoped[0].ID != "vb" {
		t.Errorf("expected vb as scoped top hit, got %s", scoped[0].ID)
	}
	if scoped[0].Score >= hits[0].Score {
		t.Errorf("expected scoped score %f below global top %f", scoped[0].Score, hits[0].Score)
	}
}

func TestSearch_TiesBrokenByInsertionOrder(t *testing.T) {
	ix := New(2)
	// Identical vectors produce identical scores; the earlier insert must win.
	for i, id := range []string{"first", "second", "third"} {
		doc := fmt.Sprintf("doc-%d", i)
		if err := ix.Insert(id, doc, []float32{1, 1}); err != nil {
			t.Fatalf("insert %s: %v", id, err)
		}
	}

	hits, err := ix.Search([]float32{1, 1}, 3, "")
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	want := []string{"first", "second", "third"}
	for i, id := range want {
		if hits[i].ID != id {
			t.Errorf("position %d: expected %s, got %s", i, id, hits[i].ID)
		}
	}
}

func TestSearch_ResultsDescendingByScore(t *testing.T) {
	ix := New(2)
	vectors := map[string][]float32{
		"close":  {0.9, 0.1},
		"mid":    {0.5, 0.5},
		"far":    {0.1, 0.9},
		"exact":  {1, 0},
		"orthog": {0, 1},
	}
	i := 0
	for id, v := range vectors {
		if err := ix.Insert(id, fmt.Sprintf("doc-%d", i), v); err != nil {
			t.Fatalf("insert %s: %v", id, err)
		}
		i++
	}

	hits, err := ix.Search([]float32{1, 0}, 5, "")
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if hits[0].ID != "exact" {
		t.Errorf("expected exact as top hit, got %s", hits[0].ID)
	}
	for i := 1; i < len(hits); i++ {
		if hits[i].Score > hits[i-1].Score {
			t.Errorf("scores not descending at position %d: %f > %f", i, hits[i].Score, hits[i-1].Score)
		}
	}
}

func TestSearch_KClampedToCollectionSize(t *testing.T) {
	ix := New(2)
	if err := ix.Insert("v1", "doc-a", []float32{1, 0}); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	hits, err := ix.Search([]float32{1, 0}, 100, "")
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(hits) != 1 {
		t.Errorf("expected 1 hit, got %d", len(hits))
	}
}

func TestSearch_InvalidK(t *testing.T) {
	ix := New(2)
	if err := ix.Insert("v1", "doc-a", []float32{1, 0}); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	if _, err := ix.Search([]float32{1, 0}, 0, ""); err == nil {
		t.Error("expected error for k=0, got nil")
	}
	if _, err := ix.Search([]float32{1, 0}, -3, ""); err == nil {
		t.Error("expected error for negative k, got nil")
	}
}

func TestSearch_EmptyIndex(t *testing.T) {
	ix := New(3)
	_, err := ix.Search([]float32{1, 0, 0}, 5, "")
	if !errors.Is(err, ErrEmptyIndex) {
		t.Errorf("expected ErrEmptyIndex, got %v", err)
	}
}

func TestSearch_EmptyScope(t *testing.T) {
	ix := New(2)
	if err := ix.Insert("v1", "doc-a", []float32{1, 0}); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	_, err := ix.Search([]float32{1, 0}, 5, "doc-missing")
	if !errors.Is(err, ErrEmptyIndex) {
		t.Errorf("expected ErrEmptyIndex for unknown document scope, got %v", err)
	}
}

func TestSearch_QueryDimensionMismatch(t *testing.T) {
	ix := New(3)
	if err := ix.Insert("v1", "doc-a", []float32{1, 0, 0}); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	_, err := ix.Search([]float32{1, 0}, 1, "")
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("expected ErrDimensionMismatch, got %v", err)
	}
}

func TestSearch_ZeroQueryVectorScoresZero(t *testing.T) {
	ix := New(2)
	if err := ix.Insert("v1", "doc-a", []float32{1, 0}); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	hits, err := ix.Search([]float32{0, 0}, 1, "")
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if hits[0].Score != 0 {
		t.Errorf("expected score 0 for zero query, got %f", hits[0].Score)
	}
}

func TestRemove_IsIdempotent(t *testing.T) {
	ix := New(2)
	for i := 0; i < 3; i++ {
		id := fmt.Sprintf("v%d", i)
		if err := ix.Insert(id, "doc-a", []float32{1, float32(i)}); err != nil {
			t.Fatalf("insert %s: %v", id, err)
		}
	}

	if got := ix.Remove([]string{"v0", "v1"}); got != 2 {
		t.Errorf("first remove: expected 2 removed, got %d", got)
	}
	if got := ix.Remove([]string{"v0", "v1"}); got != 0 {
		t.Errorf("second remove: expected 0 removed, got %d", got)
	}
	if got := ix.Remove([]string{"never-existed"}); got != 0 {
		t.Errorf("remove absent id: expected 0 removed, got %d", got)
	}
	if ix.Len() != 1 {
		t.Errorf("expected 1 vector remaining, got %d", ix.Len())
	}
}

func TestRemove_DocumentVectorsNeverReturnedAgain(t *testing.T) {
	ix := New(2)
	for i := 0; i < 4; i++ {
		id := fmt.Sprintf("a%d", i)
		if err := ix.Insert(id, "doc-a", []float32{1, 0}); err != nil {
			t.Fatalf("insert %s: %v", id, err)
		}
	}
	if err := ix.Insert("b0", "doc-b", []float32{0, 1}); err != nil {
		t.Fatalf("insert b0: %v", err)
	}

	ids := ix.DocumentVectorIDs("doc-a")
	if len(ids) != 4 {
		t.Fatalf("expected 4 ids for doc-a, got %d", len(ids))
	}
	if got := ix.Remove(ids); got != 4 {
		t.Fatalf("expected 4 removed, got %d", got)
	}

	hits, err := ix.Search([]float32{1, 0}, 10, "")
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	for _, h := range hits {
		if h.DocumentID == "doc-a" {
			t.Errorf("hit %s still belongs to removed document doc-a", h.ID)
		}
	}
	if ix.DocumentLen("doc-a") != 0 {
		t.Errorf("expected doc-a empty, got %d vectors", ix.DocumentLen("doc-a"))
	}
}

func TestDocumentVectorIDs_InsertionOrder(t *testing.T) {
	ix := New(2)
	want := []string{"c", "a", "b"}
	for i, id := range want {
		if err := ix.Insert(id, "doc-a", []float32{1, float32(i)}); err != nil {
			t.Fatalf("insert %s: %v", id, err)
		}
	}
	got := ix.DocumentVectorIDs("doc-a")
	if len(got) != len(want) {
		t.Fatalf("expected %d ids, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("position %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestCentroid_MeanOfDocumentVectors(t *testing.T) {
	ix := New(2)
	if err := ix.Insert("v1", "doc-a", []float32{2, 0}); err != nil {
		t.Fatalf("insert v1: %v", err)
	}
	if err := ix.Insert("v2", "doc-a", []float32{0, 2}); err != nil {
		t.Fatalf("insert v2: %v", err)
	}

	centroid, ok := ix.Centroid("doc-a")
	if !ok {
		t.Fatal("expected centroid for doc-a")
	}
	if centroid[0] != 1 || centroid[1] != 1 {
		t.Errorf("expected centroid [1 1], got %v", centroid)
	}

	if _, ok := ix.Centroid("doc-missing"); ok {
		t.Error("expected no centroid for unknown document")
	}
}

func TestRange_VisitsAllInInsertionOrder(t *testing.T) {
	ix := New(2)
	want := []string{"v1", "v2", "v3"}
	for i, id := range want {
		if err := ix.Insert(id, "doc-a", []float32{float32(i), 1}); err != nil {
			t.Fatalf("insert %s: %v", id, err)
		}
	}
	var got []string
	ix.Range(func(id, docID string, emb []float32) bool {
		got = append(got, id)
		return true
	})
	if len(got) != len(want) {
		t.Fatalf("expected %d visits, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("position %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestConcurrentInsert_NoLostUpdates(t *testing.T) {
	ix := New(4)
	const perDoc = 100

	var wg sync.WaitGroup
	for _, doc := range []string{"doc-a", "doc-b"} {
		wg.Add(1)
		go func(doc string) {
			defer wg.Done()
			for i := 0; i < perDoc; i++ {
				id := fmt.Sprintf("%s-%d", doc, i)
				if err := ix.Insert(id, doc, []float32{1, 2, 3, float32(i)}); err != nil {
					t.Errorf("insert %s: %v", id, err)
					return
				}
			}
		}(doc)
	}
	wg.Wait()

	if got := ix.Len(); got != 2*perDoc {
		t.Errorf("expected %d vectors, got %d", 2*perDoc, got)
	}
	if got := ix.DocumentLen("doc-a"); got != perDoc {
		t.Errorf("expected %d vectors in doc-a, got %d", perDoc, got)
	}
	if got := ix.DocumentLen("doc-b"); got != perDoc {
		t.Errorf("expected %d vectors in doc-b, got %d", perDoc, got)
	}
}

func TestCosine_Properties(t *testing.T) {
	tests := []struct {
		name     string
		a, b     []float32
		expected float64
	}{
		{"identical vectors", []float32{1, 2, 3}, []float32{1, 2, 3}, 1.0},
		{"orthogonal vectors", []float32{1, 0}, []float32{0, 1}, 0.0},
		{"opposite vectors", []float32{1, 2}, []float32{-1, -2}, -1.0},
		{"zero vector", []float32{0, 0, 0}, []float32{1, 2, 3}, 0.0},
		{"scaled vectors", []float32{1, 2, 3}, []float32{2, 4, 6}, 1.0},
		{"length mismatch", []float32{1, 2}, []float32{1, 2, 3}, 0.0},
		{"both empty", nil, nil, 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Cosine(tt.a, tt.b)
			if math.Abs(got-tt.expected) > 1e-9 {
				t.Errorf("Cosine(%v, %v) = %f, expected %f", tt.a, tt.b, got, tt.expected)
			}
		})
	}
}
