package store

import (
	"context"
	"fmt"

	"github.com/dgraph-io/ristretto"

	"github.com/adalundhe/neuralmem/core/neural"
)

// CachedStore is a read-through cache over a Store. Neurons are immutable
// apart from metadata, so they cache well; the hot retrieval path reads
// the same anchors over and over. States and synapses change on every
// retrieval and are never cached. Metadata updates and deletes invalidate.
type CachedStore struct {
	Store
	cache *ristretto.Cache
}

// NewCachedStore wraps the store with a neuron cache holding up to
// maxNeurons entries.
func NewCachedStore(inner Store, maxNeurons int64) (*CachedStore, error) {
	if maxNeurons <= 0 {
		maxNeurons = 10_000
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxNeurons * 10,
		MaxCost:     maxNeurons,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create neuron cache: %w", err)
	}
	return &CachedStore{Store: inner, cache: cache}, nil
}

func (c *CachedStore) GetNeuron(ctx context.Context, id string) (*neural.Neuron, error) {
	if v, ok := c.cache.Get(id); ok {
		if n, ok := v.(*neural.Neuron); ok {
			return cloneNeuron(n), nil
		}
	}
	n, err := c.Store.GetNeuron(ctx, id)
	if err != nil {
		return nil, err
	}
	c.cache.Set(id, cloneNeuron(n), 1)
	return n, nil
}

func (c *CachedStore) GetNeurons(ctx context.Context, ids []string) (map[string]*neural.Neuron, error) {
	out := make(map[string]*neural.Neuron, len(ids))
	var misses []string
	for _, id := range ids {
		if v, ok := c.cache.Get(id); ok {
			if n, ok := v.(*neural.Neuron); ok {
				out[id] = cloneNeuron(n)
				continue
			}
		}
		misses = append(misses, id)
	}
	if len(misses) == 0 {
		return out, nil
	}
	fetched, err := c.Store.GetNeurons(ctx, misses)
	if err != nil {
		return nil, err
	}
	for id, n := range fetched {
		out[id] = n
		c.cache.Set(id, cloneNeuron(n), 1)
	}
	return out, nil
}

func (c *CachedStore) UpdateNeuronMetadata(ctx context.Context, id string, metadata map[string]any) error {
	c.cache.Del(id)
	return c.Store.UpdateNeuronMetadata(ctx, id, metadata)
}

func (c *CachedStore) DeleteNeurons(ctx context.Context, ids []string) error {
	for _, id := range ids {
		c.cache.Del(id)
	}
	return c.Store.DeleteNeurons(ctx, ids)
}

func (c *CachedStore) Close() error {
	c.cache.Close()
	return c.Store.Close()
}
