package retrieval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// CachedEmbedder memoises embeddings in an in-process ristretto cache so
// repeated topic queries skip the upstream call.
type CachedEmbedder struct {
	next  Embedder
	cache *ristretto.Cache[string, []float32]
	ttl   time.Duration
}

// NewCachedEmbedder wraps next. maxCost bounds the cached vectors in bytes.
func NewCachedEmbedder(next Embedder, maxCost int64, ttl time.Duration) (*CachedEmbedder, error) {
	if next == nil {
		return nil, errors.New("retrieval: embedder must not be nil")
	}
	if maxCost <= 0 {
		return nil, errors.New("retrieval: cache max cost must be positive")
	}
	c, err := ristretto.NewCache(&ristretto.Config[string, []float32]{
		NumCounters: max(maxCost/1024*10, 1000),
		MaxCost:     maxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("retrieval: create cache: %w", err)
	}
	return &CachedEmbedder{next: next, cache: c, ttl: ttl}, nil
}

func (e *CachedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var (
		missing []string
		slots   []int
	)
	for i, t := range texts {
		if v, ok := e.cache.Get(t); ok {
			out[i] = v
			continue
		}
		missing = append(missing, t)
		slots = append(slots, i)
	}
	if len(missing) == 0 {
		return out, nil
	}

	vecs, err := e.next.Embed(ctx, missing)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(missing) {
		return nil, fmt.Errorf("retrieval: expected %d embeddings, got %d", len(missing), len(vecs))
	}
	for i, v := range vecs {
		out[slots[i]] = v
		e.cache.SetWithTTL(missing[i], v, int64(len(v)*4), e.ttl)
	}
	e.cache.Wait()
	return out, nil
}

// Close releases the cache.
func (e *CachedEmbedder) Close() {
	e.cache.Close()
}
