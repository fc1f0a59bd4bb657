package authz

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/ristretto"
)

// CacheConfig sizes a CachingResolver.
type CacheConfig struct {
	TTL         time.Duration
	NumCounters int64
	MaxCost     int64
	BufferItems int64
}

// DefaultCacheConfig caches up to 10k (identity, workspace) pairs for five
// seconds.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{TTL: 5 * time.Second, NumCounters: 100_000, MaxCost: 10_000, BufferItems: 64}
}

// CachingResolver is a short-lived cache in front of another GrantResolver.
// Only successful lookups are cached; failures always reach the caller so an
// unavailable store is never remembered as "no access".
type CachingResolver struct {
	inner GrantResolver
	ttl   time.Duration
	cache *ristretto.Cache
	// per-workspace generation, bumped by InvalidateWorkspace
	generations sync.Map // workspaceID -> *atomic.Uint64
	// per-pair generation, bumped by Invalidate; entries exist only for
	// pairs that were invalidated at least once
	pairGenerations sync.Map // pairKey -> *atomic.Uint64
}

func NewCachingResolver(inner GrantResolver, cfg CacheConfig) (*CachingResolver, error) {
	if inner == nil {
		return nil, fmt.Errorf("inner resolver is required")
	}
	def := DefaultCacheConfig()
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}
	if cfg.NumCounters <= 0 {
		cfg.NumCounters = def.NumCounters
	}
	if cfg.MaxCost <= 0 {
		cfg.MaxCost = def.MaxCost
	}
	if cfg.BufferItems <= 0 {
		cfg.BufferItems = def.BufferItems
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxCost,
		BufferItems: cfg.BufferItems,
	})
	if err != nil {
		return nil, fmt.Errorf("create grant cache: %w", err)
	}
	return &CachingResolver{inner: inner, ttl: cfg.TTL, cache: cache}, nil
}

func (c *CachingResolver) Resolve(ctx context.Context, identityID, workspaceID string) ([]RoleRef, error) {
	key := c.key(identityID, workspaceID)
	if v, ok := c.cache.Get(key); ok {
		if refs, ok := v.([]RoleRef); ok {
			return refs, nil
		}
	}
	refs, err := c.inner.Resolve(ctx, identityID, workspaceID)
	if err != nil {
		return nil, err
	}
	if refs == nil {
		refs = []RoleRef{}
	}
	c.cache.SetWithTTL(key, refs, 1, c.ttl)
	return refs, nil
}

// Invalidate drops the cached grants of one identity in one workspace,
// including entries written by lookups still in flight.
func (c *CachingResolver) Invalidate(identityID, workspaceID string) {
	old := c.key(identityID, workspaceID)
	pk := pairKey(identityID, workspaceID)
	g, _ := c.pairGenerations.LoadOrStore(pk, new(atomic.Uint64))
	g.(*atomic.Uint64).Add(1)
	c.cache.Del(old)
}

// InvalidateWorkspace drops every cached entry of workspaceID, including
// entries written by lookups still in flight.
func (c *CachingResolver) InvalidateWorkspace(workspaceID string) {
	c.generation(workspaceID).Add(1)
}

// Clear drops every cached entry.
func (c *CachingResolver) Clear() {
	c.cache.Clear()
}

// Wait blocks until buffered writes are applied to the cache.
func (c *CachingResolver) Wait() {
	c.cache.Wait()
}

func (c *CachingResolver) Close() {
	c.cache.Close()
}

func (c *CachingResolver) generation(workspaceID string) *atomic.Uint64 {
	if g, ok := c.generations.Load(workspaceID); ok {
		return g.(*atomic.Uint64)
	}
	g, _ := c.generations.LoadOrStore(workspaceID, new(atomic.Uint64))
	return g.(*atomic.Uint64)
}

// key is injective in (identity, workspace): each ID is length-prefixed so
// separator bytes inside an ID cannot shift the boundary.
func (c *CachingResolver) key(identityID, workspaceID string) string {
	pk := pairKey(identityID, workspaceID)
	var pairGen uint64
	if g, ok := c.pairGenerations.Load(pk); ok {
		pairGen = g.(*atomic.Uint64).Load()
	}
	wsGen := c.generation(workspaceID).Load()
	return pk + strconv.FormatUint(wsGen, 10) + "." + strconv.FormatUint(pairGen, 10)
}

func pairKey(identityID, workspaceID string) string {
	return strconv.Itoa(len(workspaceID)) + ":" + workspaceID + strconv.Itoa(len(identityID)) + ":" + identityID
}
