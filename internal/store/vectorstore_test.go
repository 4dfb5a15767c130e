package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemVectorStoreRanksBySimilarity(t *testing.T) {
	vs := NewMemVectorStore()
	ctx := context.Background()

	require.NoError(t, vs.Upsert(ctx, "a", []float32{1, 0, 0}, map[string]string{"tenant_id": "t1"}))
	require.NoError(t, vs.Upsert(ctx, "b", []float32{0, 1, 0}, map[string]string{"tenant_id": "t1"}))
	require.NoError(t, vs.Upsert(ctx, "c", []float32{0.9, 0.1, 0}, map[string]string{"tenant_id": "t1"}))

	results, err := vs.SimilaritySearch(ctx, []float32{1, 0, 0}, 2, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, "a", results[0].ID)
	require.Equal(t, "c", results[1].ID)
}

func TestMemVectorStoreFiltersByMetadata(t *testing.T) {
	vs := NewMemVectorStore()
	ctx := context.Background()

	require.NoError(t, vs.Upsert(ctx, "a", []float32{1, 0}, map[string]string{"tenant_id": "t1"}))
	require.NoError(t, vs.Upsert(ctx, "b", []float32{1, 0}, map[string]string{"tenant_id": "t2"}))

	results, err := vs.SimilaritySearch(ctx, []float32{1, 0}, 10, map[string]string{"tenant_id": "t2"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "b", results[0].ID)
}

func TestMemVectorStoreDeleteRemovesPoint(t *testing.T) {
	vs := NewMemVectorStore()
	ctx := context.Background()

	require.NoError(t, vs.Upsert(ctx, "a", []float32{1, 0}, nil))
	require.NoError(t, vs.Delete(ctx, "a"))

	results, err := vs.SimilaritySearch(ctx, []float32{1, 0}, 10, nil)
	require.NoError(t, err)
	require.Empty(t, results)
}
