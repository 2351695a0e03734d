package embed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize is the default number of embeddings kept in memory.
// At 768 dims x 4 bytes x 1024 entries that is about 3MB.
const DefaultCacheSize = 1024

// CachedProvider wraps a Provider with LRU caching. Repeated saves of
// unchanged content and repeated queries skip the provider entirely.
type CachedProvider struct {
	inner Provider
	cache *lru.Cache[string, []float32]
}

var _ Provider = (*CachedProvider)(nil)

// NewCachedProvider creates a cached provider with the given entry count.
func NewCachedProvider(inner Provider, size int) *CachedProvider {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, _ := lru.New[string, []float32](size)
	return &CachedProvider{inner: inner, cache: cache}
}

// cacheKey mixes the kind (document vs query), model, and text so the two
// embedding spaces never collide in the cache.
func (c *CachedProvider) cacheKey(kind, text string) string {
	p := c.inner.Profile()
	h := sha256.Sum256([]byte(kind + "\x00" + p.Model + "\x00" + text))
	return hex.EncodeToString(h[:])
}

// EmbedDocument returns the cached document vector or computes and caches it.
func (c *CachedProvider) EmbedDocument(ctx context.Context, text string) ([]float32, error) {
	key := c.cacheKey("doc", text)
	if vec, ok := c.cache.Get(key); ok {
		return vec, nil
	}
	vec, err := c.inner.EmbedDocument(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, vec)
	return vec, nil
}

// EmbedQuery returns the cached query vector or computes and caches it.
func (c *CachedProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	key := c.cacheKey("query", text)
	if vec, ok := c.cache.Get(key); ok {
		return vec, nil
	}
	vec, err := c.inner.EmbedQuery(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, vec)
	return vec, nil
}

// Profile passes through to the inner provider.
func (c *CachedProvider) Profile() Profile { return c.inner.Profile() }

// Ready passes through to the inner provider.
func (c *CachedProvider) Ready(ctx context.Context) bool { return c.inner.Ready(ctx) }

// AwaitReady passes through to the inner provider.
func (c *CachedProvider) AwaitReady(ctx context.Context) error { return c.inner.AwaitReady(ctx) }

// Close closes the inner provider.
func (c *CachedProvider) Close() error { return c.inner.Close() }
