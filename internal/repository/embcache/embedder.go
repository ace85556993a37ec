// Package embcache caches query embeddings in a key-value store.
package embcache

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/kailas-cloud/ragtools/internal/db"
	"github.com/kailas-cloud/ragtools/internal/domain"
)

// KeyPrefix namespaces cache entries in the shared store.
const KeyPrefix = "ragtools:emb_cache:"

// embedder is the decorated embedding path.
type embedder interface {
	Embed(ctx context.Context, q domain.Query) ([]float32, error)
}

// CachedEmbedder caches text query embeddings. Image queries always go to the inner embedder.
type CachedEmbedder struct {
	inner      embedder
	store      db.KVStore
	name       string
	dims       int
	ttl        time.Duration
	cacheTotal *prometheus.CounterVec
	logger     *zap.Logger
}

// New creates a caching decorator for the embedder called name producing dims-wide vectors.
// cacheTotal is a counter vec with labels "embedder" and "result" ("hit"/"miss"); nil disables it.
func New(
	inner embedder,
	s db.KVStore,
	name string,
	dims int,
	ttl time.Duration,
	cacheTotal *prometheus.CounterVec,
	logger *zap.Logger,
) *CachedEmbedder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedEmbedder{
		inner:      inner,
		store:      s,
		name:       name,
		dims:       dims,
		ttl:        ttl,
		cacheTotal: cacheTotal,
		logger:     logger,
	}
}

// Embed returns a cached vector or calls the inner embedder and stores its result.
// Cache failures are logged and never fail the query.
func (c *CachedEmbedder) Embed(ctx context.Context, q domain.Query) ([]float32, error) {
	if q.Modality() != domain.ModalityText || q.IsEmpty() {
		return c.inner.Embed(ctx, q)
	}

	key := c.cacheKey(q.Text())
	if vec, ok := c.getFromCache(ctx, key); ok {
		c.incCache("hit")
		return vec, nil
	}
	c.incCache("miss")

	vec, err := c.inner.Embed(ctx, q)
	if err != nil {
		return nil, err
	}

	c.putToCache(ctx, key, vec)
	return vec, nil
}

func (c *CachedEmbedder) incCache(result string) {
	if c.cacheTotal != nil {
		c.cacheTotal.WithLabelValues(c.name, result).Inc()
	}
}

// cacheKey scopes entries by embedder and width so a model change never serves stale vectors.
func (c *CachedEmbedder) cacheKey(text string) string {
	h := sha256.Sum256([]byte(text))
	return fmt.Sprintf("%s%s:%d:%s", KeyPrefix, c.name, c.dims, hex.EncodeToString(h[:]))
}

func (c *CachedEmbedder) getFromCache(ctx context.Context, key string) ([]float32, bool) {
	data, err := c.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, db.ErrKeyNotFound) {
			c.logger.Warn("Failed to get cached embedding", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}
	if len(data) == 0 {
		return nil, false
	}

	vec, err := bytesToVector(data)
	if err != nil || (c.dims > 0 && len(vec) != c.dims) {
		c.logger.Warn("Failed to parse cached embedding", zap.String("key", key), zap.Error(err))
		return nil, false
	}

	return vec, true
}

func (c *CachedEmbedder) putToCache(ctx context.Context, key string, vec []float32) {
	if err := c.store.Set(ctx, key, vectorToCacheBytes(vec), c.ttl); err != nil {
		c.logger.Warn("Failed to cache embedding", zap.String("key", key), zap.Error(err))
	}
}

func vectorToCacheBytes(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func bytesToVector(data []byte) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("invalid embedding cache data: len=%d (not multiple of 4)", len(data))
	}
	vec := make([]float32, len(data)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return vec, nil
}
