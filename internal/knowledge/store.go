// File: internal/knowledge/store.go
// Description: An in-memory vector store over the reference corpus. It uses
// brute-force search with cosine similarity, which is plenty for the few
// hundred chunks a benchmark document and a scan transcript produce.

package knowledge

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/AnandaIndraTan/CERBERUS/api/schemas"
	"github.com/AnandaIndraTan/CERBERUS/internal/observability"
)

type document struct {
	text   string
	vector []float32
}

// Store holds embedded text chunks and answers similarity queries.
type Store struct {
	mu       sync.RWMutex
	docs     []document
	embedder schemas.EmbeddingClient
	logger   *zap.Logger
}

// NewStore creates an empty store backed by the given embedding client.
func NewStore(embedder schemas.EmbeddingClient) (*Store, error) {
	if embedder == nil {
		return nil, fmt.Errorf("cannot initialize knowledge store with a nil embedder")
	}
	return &Store{
		embedder: embedder,
		logger:   observability.GetLogger().Named("knowledge"),
	}, nil
}

// Add embeds the texts and appends them to the corpus. Empty texts are
// dropped before embedding.
func (s *Store) Add(ctx context.Context, texts []string) error {
	kept := make([]string, 0, len(texts))
	for _, text := range texts {
		if text != "" {
			kept = append(kept, text)
		}
	}
	if len(kept) == 0 {
		return nil
	}

	vectors, err := s.embedder.Embed(ctx, kept)
	if err != nil {
		return fmt.Errorf("embedding %d chunks: %w", len(kept), err)
	}
	if len(vectors) != len(kept) {
		return fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(kept))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i, text := range kept {
		s.docs = append(s.docs, document{text: text, vector: vectors[i]})
	}
	s.logger.Debug("Indexed chunks.", zap.Int("added", len(kept)), zap.Int("total", len(s.docs)))
	return nil
}

// Len reports how many chunks the store holds.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

// Search embeds the query and returns the topK most similar chunk texts,
// best first. Fewer than topK chunks returns them all.
func (s *Store) Search(ctx context.Context, query string, topK int) ([]string, error) {
	if topK <= 0 {
		return nil, nil
	}

	vectors, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("embedder returned %d vectors for one query", len(vectors))
	}
	queryVector := vectors[0]

	s.mu.RLock()
	defer s.mu.RUnlock()

	type scored struct {
		text  string
		score float64
	}
	results := make([]scored, 0, len(s.docs))
	for _, doc := range s.docs {
		results = append(results, scored{
			text:  doc.text,
			score: cosineSimilarity(queryVector, doc.vector),
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].score > results[j].score
	})
	if len(results) > topK {
		results = results[:topK]
	}

	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.text
	}
	return out, nil
}

// cosineSimilarity is (a · b) / (||a|| * ||b||); zero for mismatched or
// zero-length vectors.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
