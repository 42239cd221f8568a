package catalog

import (
	"context"
	"time"

	"github.com/bvandewe/agent-gateway/internal/cache"
)

// DefaultManifestTTL is the group-manifest cache TTL (§4.3 "Caching": "TTL
// 30 min").
const DefaultManifestTTL = 30 * time.Minute

// ManifestCache caches each Tool Group's resolved tool-id list.
type ManifestCache struct {
	cache *cache.Cache
	ttl   time.Duration
}

// NewManifestCache wraps c for group-manifest caching.
func NewManifestCache(c *cache.Cache, ttl time.Duration) *ManifestCache {
	if ttl <= 0 {
		ttl = DefaultManifestTTL
	}
	return &ManifestCache{cache: c, ttl: ttl}
}

// Get returns the cached tool-id list for groupID, if present and unexpired.
func (m *ManifestCache) Get(ctx context.Context, groupID string) ([]string, bool, error) {
	var ids []string
	ok, err := m.cache.Get(ctx, groupID, &ids)
	if err != nil || !ok {
		return nil, false, err
	}
	return ids, true, nil
}

// Set stores the resolved tool-id list for groupID.
func (m *ManifestCache) Set(ctx context.Context, groupID string, toolIDs []string) error {
	return m.cache.Set(ctx, groupID, toolIDs, m.ttl)
}

// Invalidate drops groupID's cached manifest across replicas (§4.3:
// invalidated "on any change event to the group, to a selector-matching
// tool's enablement, or to a source's tool inventory").
func (m *ManifestCache) Invalidate(ctx context.Context, groupID string) error {
	return m.cache.Invalidate(ctx, groupID)
}

// InvalidateAll drops every cached group manifest, for tool-enablement and
// inventory changes where the affected groups are not known without a full
// selector re-evaluation.
func (m *ManifestCache) InvalidateAll(ctx context.Context) error {
	return m.cache.InvalidateAll(ctx)
}
