// Package embedding defines the vector-embedding boundary the engine
// consumes (spec.md §6): real provider HTTP clients are external
// collaborators (Non-goals), so this package exposes only the Engine
// interface and a deterministic Mock implementation for tests. Grounded
// on the teacher's internal/embedding/engine.go EmbeddingEngine
// interface shape, generalized to a single-provider boundary since the
// engine's Non-goals exclude provider selection/fallback logic.
package embedding

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"

	"github.com/cogmem/engine/internal/config"
)

// Engine generates vector embeddings for text (spec.md §6: the engine
// consumes this interface; real HTTP providers are out of scope).
type Engine interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Name() string
}

// Mock is a deterministic Engine for tests and local development: the
// same text always yields the same vector, with no network calls.
type Mock struct {
	dimensions int
	name       string
}

// NewMock returns a Mock sized per cfg's primary provider dimension, or
// a 64-dimension default if unset.
func NewMock(cfg config.EmbeddingConfig) *Mock {
	dim := 64
	for _, p := range cfg.Providers {
		if p.Name == cfg.Primary && p.Dimension > 0 {
			dim = p.Dimension
			break
		}
	}
	return &Mock{dimensions: dim, name: "mock"}
}

// Embed derives a unit vector from text's FNV-1a hash, seeding a tiny
// PRNG so repeated calls on the same text are bit-identical.
func (m *Mock) Embed(ctx context.Context, text string) ([]float32, error) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	seed := h.Sum64()

	vec := make([]float32, m.dimensions)
	var sumSquares float64
	state := seed
	for i := range vec {
		state = state*6364136223846793005 + 1442695040888963407
		v := float32(int32(state>>32)) / float32(1<<31)
		vec[i] = v
		sumSquares += float64(v) * float64(v)
	}

	if sumSquares == 0 {
		return vec, nil
	}
	norm := float32(1.0 / math.Sqrt(sumSquares))
	for i := range vec {
		vec[i] *= norm
	}
	return vec, nil
}

// EmbedBatch embeds each text independently.
func (m *Mock) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := m.Embed(ctx, t)
		if err != nil {
			return nil, fmt.Errorf("embedding: batch item %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}

// Dimensions reports the mock's vector width.
func (m *Mock) Dimensions() int { return m.dimensions }

// Name reports the engine name.
func (m *Mock) Name() string { return m.name }
