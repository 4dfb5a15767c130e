package embedding

import (
	"context"
	"hash/fnv"
	"math"
)

// StubEmbedder is a deterministic, dependency-free Embedder used in tests
// and local development without a configured provider. It derives a unit
// vector from a hash of the input so repeated calls on the same text are
// stable and distinct texts are (almost always) distinct vectors.
type StubEmbedder struct {
	dim int
}

func NewStubEmbedder(dim int) *StubEmbedder {
	if dim <= 0 {
		dim = 32
	}
	return &StubEmbedder{dim: dim}
}

func (s *StubEmbedder) Dimension() int { return s.dim }

func (s *StubEmbedder) Embed(ctx context.Context, content string) ([]float32, error) {
	return s.vectorFor(content), nil
}

func (s *StubEmbedder) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	return s.vectorFor(query), nil
}

func (s *StubEmbedder) vectorFor(text string) []float32 {
	vec := make([]float32, s.dim)
	seed := fnv.New64a()
	seed.Write([]byte(text))
	state := seed.Sum64()
	var norm float64
	for i := range vec {
		state = state*6364136223846793005 + 1442695040888963407
		v := float64(int64(state)%2000-1000) / 1000.0
		vec[i] = float32(v)
		norm += v * v
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		return vec
	}
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec
}
