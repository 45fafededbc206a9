package agent

import (
	"context"
	"errors"
	"strings"
	"testing"
)

// keywordEmbedder produces a fixed-dimension vector from keyword presence so
// similarity ordering is deterministic.
type keywordEmbedder struct {
	keywords []string
	err      error
}

func (e *keywordEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	if e.err != nil {
		return nil, e.err
	}
	vec := make([]float64, len(e.keywords))
	lower := strings.ToLower(text)
	for i, kw := range e.keywords {
		if strings.Contains(lower, kw) {
			vec[i] = 1
		}
	}
	return vec, nil
}

func newTestKB() *KnowledgeBase {
	return NewKnowledgeBase(&keywordEmbedder{keywords: []string{"gene", "protein", "cell", "sample"}})
}

func TestKnowledgeBaseSearchRanksByRelevance(t *testing.T) {
	kb := newTestKB()
	ctx := context.Background()

	docs := []Document{
		{ID: "d1", Content: "gene expression is measured per sample"},
		{ID: "d2", Content: "protein folding dynamics"},
		{ID: "d3", Content: "cell culture protocols"},
	}
	for _, d := range docs {
		if err := kb.Add(ctx, d); err != nil {
			t.Fatalf("Add(%s) failed: %v", d.ID, err)
		}
	}

	hits, err := kb.Search(ctx, "which gene was measured in each sample", 2)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("got %d hits, want 2", len(hits))
	}
	if hits[0].Document.ID != "d1" {
		t.Errorf("top hit = %s, want d1", hits[0].Document.ID)
	}
	if hits[0].Score < hits[1].Score {
		t.Errorf("hits not sorted: %v then %v", hits[0].Score, hits[1].Score)
	}
}

func TestKnowledgeBaseSearchEmpty(t *testing.T) {
	kb := newTestKB()

	hits, err := kb.Search(context.Background(), "anything", 5)
	if err != nil {
		t.Fatalf("Search on empty base failed: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("got %d hits from empty base, want 0", len(hits))
	}
}

func TestKnowledgeBaseAddReplacesByID(t *testing.T) {
	kb := newTestKB()
	ctx := context.Background()

	kb.Add(ctx, Document{ID: "d1", Content: "gene notes"})
	kb.Add(ctx, Document{ID: "d1", Content: "cell notes"})

	if kb.Count() != 1 {
		t.Fatalf("Count = %d, want 1 after replace", kb.Count())
	}

	hits, _ := kb.Search(ctx, "cell", 1)
	if len(hits) != 1 || hits[0].Document.Content != "cell notes" {
		t.Errorf("stored doc = %+v, want replacement content", hits)
	}
}

func TestKnowledgeBaseAddValidation(t *testing.T) {
	kb := newTestKB()
	ctx := context.Background()

	if err := kb.Add(ctx, Document{ID: "", Content: "x"}); err == nil {
		t.Error("empty ID accepted")
	}
	if err := kb.Add(ctx, Document{ID: "d", Content: ""}); err == nil {
		t.Error("empty content accepted")
	}
}

func TestKnowledgeBaseEmbedderFailure(t *testing.T) {
	kb := NewKnowledgeBase(&keywordEmbedder{err: errors.New("endpoint down")})

	if err := kb.Add(context.Background(), Document{ID: "d", Content: "x"}); err == nil {
		t.Error("Add succeeded despite embedder failure")
	}
}

func TestCosineSimilarity(t *testing.T) {
	if got := cosineSimilarity([]float64{1, 0}, []float64{1, 0}); got != 1 {
		t.Errorf("identical vectors = %v, want 1", got)
	}
	if got := cosineSimilarity([]float64{1, 0}, []float64{0, 1}); got != 0 {
		t.Errorf("orthogonal vectors = %v, want 0", got)
	}
	if got := cosineSimilarity([]float64{1, 0}, []float64{0, 0}); got != 0 {
		t.Errorf("zero vector = %v, want 0", got)
	}
	if got := cosineSimilarity([]float64{1}, []float64{1, 2}); got != 0 {
		t.Errorf("mismatched lengths = %v, want 0", got)
	}
}
