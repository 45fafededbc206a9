package agent

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
)

// Embedder turns text into a dense vector. The production embedder calls the
// configured model endpoint; tests plug in a deterministic fake.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// Document is one entry in the knowledge base.
type Document struct {
	ID       string                 `json:"id"`
	Content  string                 `json:"content"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// SearchHit is a document with its similarity score against the query.
type SearchHit struct {
	Document Document `json:"document"`
	Score    float64  `json:"score"`
}

type storedDoc struct {
	doc       Document
	embedding []float64
}

// KnowledgeBase is an in-memory vector index over reference documents.
// Search embeds the query and ranks documents by cosine similarity.
type KnowledgeBase struct {
	mu       sync.RWMutex
	embedder Embedder
	docs     []storedDoc
}

// NewKnowledgeBase creates an empty knowledge base.
func NewKnowledgeBase(embedder Embedder) *KnowledgeBase {
	return &KnowledgeBase{embedder: embedder}
}

// Add embeds and stores a document. A document with an existing ID replaces
// the stored one.
func (kb *KnowledgeBase) Add(ctx context.Context, doc Document) error {
	if doc.ID == "" {
		return fmt.Errorf("document id must not be empty")
	}
	if doc.Content == "" {
		return fmt.Errorf("document content must not be empty")
	}
	embedding, err := kb.embedder.Embed(ctx, doc.Content)
	if err != nil {
		return fmt.Errorf("failed to embed document %s: %w", doc.ID, err)
	}

	kb.mu.Lock()
	defer kb.mu.Unlock()
	for i := range kb.docs {
		if kb.docs[i].doc.ID == doc.ID {
			kb.docs[i] = storedDoc{doc: doc, embedding: embedding}
			return nil
		}
	}
	kb.docs = append(kb.docs, storedDoc{doc: doc, embedding: embedding})
	return nil
}

// Count returns the number of stored documents.
func (kb *KnowledgeBase) Count() int {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return len(kb.docs)
}

// Search returns up to topK documents ranked by similarity to the query.
// An empty knowledge base yields an empty result, not an error.
func (kb *KnowledgeBase) Search(ctx context.Context, query string, topK int) ([]SearchHit, error) {
	if topK <= 0 {
		topK = 3
	}

	kb.mu.RLock()
	docs := make([]storedDoc, len(kb.docs))
	copy(docs, kb.docs)
	kb.mu.RUnlock()

	if len(docs) == 0 {
		return []SearchHit{}, nil
	}

	queryVec, err := kb.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	hits := make([]SearchHit, 0, len(docs))
	for _, d := range docs {
		hits = append(hits, SearchHit{
			Document: d.doc,
			Score:    cosineSimilarity(queryVec, d.embedding),
		})
	}

	sort.Slice(hits, func(i, j int) bool {
		return hits[i].Score > hits[j].Score
	})

	if topK > len(hits) {
		topK = len(hits)
	}
	return hits[:topK], nil
}

func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
