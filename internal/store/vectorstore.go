package store

import (
	"context"
	"sort"
	"sync"
)

// VectorResult is a single nearest-neighbor hit from a VectorStore.
type VectorResult struct {
	ID       string
	Score    float64 // higher is closer
	Metadata map[string]string
}

// VectorStore is the duck-typed plug-in surface for an external nearest
// neighbor backend (§9): embeddings live primarily on the Memory row, but a
// tenant that wants an ANN index separate from Postgres can have every
// SetEmbedding mirrored here and searched through it instead. Mirrors the
// teacher's databases.VectorStore interface.
type VectorStore interface {
	Upsert(ctx context.Context, id string, vector []float32, metadata map[string]string) error
	Delete(ctx context.Context, id string) error
	SimilaritySearch(ctx context.Context, vector []float32, k int, filter map[string]string) ([]VectorResult, error)
}

// memVectorStore is an in-process VectorStore used by tests. NewVectorStore
// never returns it: with no external ANN backend configured there is no
// VectorStore at all.
type memVectorStore struct {
	mu     sync.RWMutex
	points map[string]memPoint
}

type memPoint struct {
	vector   []float32
	metadata map[string]string
}

// NewMemVectorStore returns an in-memory VectorStore, mirroring the
// in-process fallback the teacher's Manager falls back to when no vector
// backend DSN is configured.
func NewMemVectorStore() VectorStore {
	return &memVectorStore{points: make(map[string]memPoint)}
}

func (v *memVectorStore) Upsert(_ context.Context, id string, vector []float32, metadata map[string]string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	vec := append([]float32(nil), vector...)
	md := make(map[string]string, len(metadata))
	for k, val := range metadata {
		md[k] = val
	}
	v.points[id] = memPoint{vector: vec, metadata: md}
	return nil
}

func (v *memVectorStore) Delete(_ context.Context, id string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.points, id)
	return nil
}

func (v *memVectorStore) SimilaritySearch(_ context.Context, vector []float32, k int, filter map[string]string) ([]VectorResult, error) {
	if k <= 0 {
		k = 10
	}
	v.mu.RLock()
	defer v.mu.RUnlock()

	results := make([]VectorResult, 0, len(v.points))
	for id, p := range v.points {
		if !matchesMetadata(p.metadata, filter) {
			continue
		}
		results = append(results, VectorResult{ID: id, Score: cosineSimilarity(vector, p.vector), Metadata: p.metadata})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

func matchesMetadata(have, want map[string]string) bool {
	for k, v := range want {
		if have[k] != v {
			return false
		}
	}
	return true
}
