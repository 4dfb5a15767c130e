package store

import "memoryhub/internal/config"

// NewVectorStore resolves cfg.VectorBackend to a concrete VectorStore,
// mirroring eventbus.NewBridge's backend-name switch. An empty backend
// returns nil: callers treat a nil VectorStore as "no external ANN index
// configured" and skip the mirror entirely.
func NewVectorStore(cfg config.StoreConfig) (VectorStore, error) {
	switch cfg.VectorBackend {
	case "qdrant":
		dim := cfg.EmbeddingDim
		metric := cfg.QdrantMetric
		if metric == "" {
			metric = "cosine"
		}
		return NewQdrantVectorStore(cfg.QdrantDSN, cfg.QdrantCollection, dim, metric)
	case "", "none":
		return nil, nil
	default:
		return nil, nil
	}
}
