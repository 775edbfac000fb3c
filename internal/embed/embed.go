// Package embed turns text into L2-normalized embedding vectors via an LLM
// provider. Normalization makes cosine similarity equivalent to dot product,
// matching the store's distance configuration.
package embed

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/efebarandurmaz/docquery/internal/llm"
)

// ErrZeroVector is returned when the provider produces an all-zero embedding,
// which cannot be normalized.
var ErrZeroVector = errors.New("embedding is a zero vector")

// Embedder produces normalized embeddings and remembers the model's vector
// dimension after the first call.
type Embedder struct {
	provider llm.Provider

	once      sync.Once
	dimension int
	probeErr  error
}

// New creates an Embedder over the given provider.
func New(provider llm.Provider) *Embedder {
	return &Embedder{provider: provider}
}

// Dimension returns the embedding dimension, probing the provider with a
// one-token request on first use. Concurrent callers share a single probe.
func (e *Embedder) Dimension(ctx context.Context) (int, error) {
	e.once.Do(func() {
		vectors, err := e.provider.Embed(ctx, []string{"dimension probe"})
		if err != nil {
			e.probeErr = fmt.Errorf("probing embedding dimension: %w", err)
			return
		}
		if len(vectors) == 0 || len(vectors[0]) == 0 {
			e.probeErr = errors.New("provider returned no embedding for dimension probe")
			return
		}
		e.dimension = len(vectors[0])
	})
	return e.dimension, e.probeErr
}

// Embed returns the normalized embedding for a single text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch embeds texts in one provider call and normalizes every vector.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	vectors, err := e.provider.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embedding %d texts: %w", len(texts), err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: got %d, want %d", len(vectors), len(texts))
	}

	for i, v := range vectors {
		normalized, err := Normalize(v)
		if err != nil {
			return nil, fmt.Errorf("text %d: %w", i, err)
		}
		vectors[i] = normalized

		// First successful batch also settles the dimension, sparing the probe.
		e.once.Do(func() { e.dimension = len(normalized) })
	}
	return vectors, nil
}

// Normalize scales v to unit length.
func Normalize(v []float32) ([]float32, error) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return nil, ErrZeroVector
	}
	norm := math.Sqrt(sum)
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out, nil
}
