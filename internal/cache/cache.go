// Package cache implements C2: a remote key/value cache fronting the store,
// keyed by content type (embedding/entity/memory/metadata/search/list) each
// with its own TTL (§4.3), plus pattern-based invalidation on write.
package cache

import "context"

// Kind selects the TTL bucket a key belongs to (§4.3's TTL table).
type Kind string

const (
	KindEmbedding Kind = "embedding"
	KindEntity    Kind = "entity"
	KindMemory    Kind = "memory"
	KindMetadata  Kind = "metadata"
	KindSearch    Kind = "search"
	KindList      Kind = "list"
)

// Cache is the interface every component depends on; a disabled or
// unreachable Redis degrades to NoopCache rather than failing requests
// (§4.3: cache is always a performance layer, never a correctness
// dependency).
type Cache interface {
	Get(ctx context.Context, kind Kind, key string, dest any) (bool, error)
	Set(ctx context.Context, kind Kind, key string, value any) error
	InvalidatePattern(ctx context.Context, pattern string) error
	Close() error
}

// NoopCache implements Cache as a pure passthrough: every Get misses, every
// Set/Invalidate is a no-op. Used when caching is disabled in config.
type NoopCache struct{}

func (NoopCache) Get(ctx context.Context, kind Kind, key string, dest any) (bool, error) {
	return false, nil
}
func (NoopCache) Set(ctx context.Context, kind Kind, key string, value any) error { return nil }
func (NoopCache) InvalidatePattern(ctx context.Context, pattern string) error     { return nil }
func (NoopCache) Close() error                                                   { return nil }
