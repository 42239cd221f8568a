package access

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/bvandewe/agent-gateway/internal/access/store"
	"github.com/bvandewe/agent-gateway/internal/cache"
	"github.com/bvandewe/agent-gateway/internal/catalog"
	catalogstore "github.com/bvandewe/agent-gateway/internal/catalog/store"
	"github.com/bvandewe/agent-gateway/internal/errkind"
)

// DefaultAccessCacheTTL is the agent-access cache TTL (§4.3 "Caching": "TTL
// 5 min").
const DefaultAccessCacheTTL = 5 * time.Minute

// PolicyLoader lists every currently active Access Policy. Implementations
// typically load each policy aggregate by replay and filter Deleted/Active.
type PolicyLoader interface {
	ListActivePolicies(ctx context.Context) ([]*Policy, error)
}

// Resolver implements resolve_accessible_tools (§4.3) end to end: policy
// evaluation, group membership resolution via the tool-group manifest
// cache, and the two-tier cache described in §4.3 "Caching".
type Resolver struct {
	policies  PolicyLoader
	catalog   catalogstore.Store
	manifests *catalog.ManifestCache
	access    *cache.Cache
	accessTTL time.Duration
}

// NewResolver constructs a Resolver. access may be nil to disable the
// agent-access cache tier (every call recomputes allowed groups).
func NewResolver(policies PolicyLoader, catalogStore catalogstore.Store, manifests *catalog.ManifestCache, access *cache.Cache, accessTTL time.Duration) *Resolver {
	if accessTTL <= 0 {
		accessTTL = DefaultAccessCacheTTL
	}
	return &Resolver{policies: policies, catalog: catalogStore, manifests: manifests, access: access, accessTTL: accessTTL}
}

// ClaimsCacheKey computes a stable hash of claims restricted to the paths
// any policy actually names (§4.3 "Caching": "keyed by a stable hash of
// caller_claims (only claims named by any policy)").
func ClaimsCacheKey(claims map[string]any, relevantPaths []string) string {
	sort.Strings(relevantPaths)
	reduced := make(map[string]any, len(relevantPaths))
	for _, path := range relevantPaths {
		if v, ok := store.ExtractClaim(claims, path); ok {
			reduced[path] = v
		}
	}
	b, _ := json.Marshal(reduced)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func relevantClaimPaths(policies []*Policy) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, p := range policies {
		for _, m := range p.Matchers {
			if _, ok := seen[m.ClaimPath]; ok {
				continue
			}
			seen[m.ClaimPath] = struct{}{}
			out = append(out, m.ClaimPath)
		}
	}
	return out
}

// ResolveAccessibleTools implements resolve_accessible_tools(claims) (§4.3
// steps 1-5): resolves allowed group ids (cached), then the union of each
// group's resolved tool-id manifest (cached), filtered to enabled, active
// tools.
func (r *Resolver) ResolveAccessibleTools(ctx context.Context, claims map[string]any) ([]string, error) {
	policies, err := r.policies.ListActivePolicies(ctx)
	if err != nil {
		return nil, fmt.Errorf("access: list active policies: %w", err)
	}

	var groupIDs []string
	cacheKey := ClaimsCacheKey(claims, relevantClaimPaths(policies))
	hit := false
	if r.access != nil {
		hit, err = r.access.Get(ctx, cacheKey, &groupIDs)
		if err != nil {
			return nil, err
		}
	}
	if !hit {
		groupIDs = ResolveAllowedGroups(policies, claims)
		if r.access != nil {
			_ = r.access.Set(ctx, cacheKey, groupIDs, r.accessTTL)
		}
	}

	toolSet := make(map[string]struct{})
	for _, gid := range groupIDs {
		ids, err := r.resolveGroupManifest(ctx, gid)
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			toolSet[id] = struct{}{}
		}
	}
	out := make([]string, 0, len(toolSet))
	for id := range toolSet {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func (r *Resolver) resolveGroupManifest(ctx context.Context, groupID string) ([]string, error) {
	if r.manifests != nil {
		if ids, ok, err := r.manifests.Get(ctx, groupID); err != nil {
			return nil, err
		} else if ok {
			return ids, nil
		}
	}

	groupDTO, err := r.catalog.GetGroup(ctx, groupID)
	if err != nil {
		if err == catalogstore.ErrNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("access: load group %q: %w", groupID, err)
	}
	if groupDTO.Deleted {
		return nil, nil
	}

	tools, err := r.catalog.ListTools(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("access: list tools: %w", err)
	}
	candidates := make([]catalog.ToolFacts, 0, len(tools))
	for _, t := range tools {
		candidates = append(candidates, catalog.ToolFacts{
			ID: t.ID, Name: t.ToolName, Tags: t.Tags, SourceID: t.SourceID,
			Enabled: t.IsEnabled, Active: t.Status == catalog.ToolStatusActive,
		})
	}

	group := &catalog.Group{
		Selectors: groupDTO.Selectors,
		Includes:  groupDTO.Includes,
		Excludes:  groupDTO.Excludes,
	}
	ids := group.Resolve(candidates)

	// Explicit includes bypass selector matching, so drop any member that is
	// not an enabled, active tool.
	eligible := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		eligible[c.ID] = c.Enabled && c.Active
	}
	filtered := ids[:0]
	for _, id := range ids {
		if eligible[id] {
			filtered = append(filtered, id)
		}
	}
	ids = filtered

	if r.manifests != nil {
		_ = r.manifests.Set(ctx, groupID, ids)
	}
	return ids, nil
}

// InvalidateGroup drops groupID's cached manifest across replicas (§4.3
// "Consistency"). Nil-safe when no manifest cache is configured.
func (r *Resolver) InvalidateGroup(ctx context.Context, groupID string) error {
	if r.manifests == nil {
		return nil
	}
	return r.manifests.Invalidate(ctx, groupID)
}

// InvalidateAllManifests drops every cached group manifest, for writes whose
// affected group set is unknown (tool enablement, inventory refresh).
func (r *Resolver) InvalidateAllManifests(ctx context.Context) error {
	if r.manifests == nil {
		return nil
	}
	return r.manifests.InvalidateAll(ctx)
}

// InvalidateAccess drops every cached agent-access entry (§4.3 "Caching":
// "invalidated globally on policy change").
func (r *Resolver) InvalidateAccess(ctx context.Context) error {
	if r.access == nil {
		return nil
	}
	return r.access.InvalidateAll(ctx)
}

// IsToolAccessible reports whether toolID is present in the caller's
// resolved accessible set (§8 scenario 4: explicit request of a
// non-accessible tool yields FORBIDDEN).
func (r *Resolver) IsToolAccessible(ctx context.Context, claims map[string]any, toolID string) (bool, error) {
	ids, err := r.ResolveAccessibleTools(ctx, claims)
	if err != nil {
		return false, err
	}
	for _, id := range ids {
		if id == toolID {
			return true, nil
		}
	}
	return false, nil
}

// RequireToolAccess returns errkind.Forbidden when the caller's claims do
// not grant toolID.
func (r *Resolver) RequireToolAccess(ctx context.Context, claims map[string]any, toolID string) error {
	ok, err := r.IsToolAccessible(ctx, claims, toolID)
	if err != nil {
		return err
	}
	if !ok {
		return errkind.Newf(errkind.Forbidden, "tool %q is not accessible to caller", toolID)
	}
	return nil
}
