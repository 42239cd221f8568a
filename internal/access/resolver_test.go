package access_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bvandewe/agent-gateway/internal/access"
	catalogstore "github.com/bvandewe/agent-gateway/internal/catalog/store"
	catmemory "github.com/bvandewe/agent-gateway/internal/catalog/store/memory"
	"github.com/bvandewe/agent-gateway/internal/errkind"
)

type staticPolicies []*access.Policy

func (s staticPolicies) ListActivePolicies(ctx context.Context) ([]*access.Policy, error) {
	return []*access.Policy(s), nil
}

func adminPolicies() staticPolicies {
	return staticPolicies{{
		Name:            "admins",
		Matchers:        []access.ClaimMatcher{{ClaimPath: "roles", Operator: access.OpContains, Expected: "admin"}},
		AllowedGroupIDs: []string{"g1"},
		Priority:        10,
		Active:          true,
	}}
}

func seedCatalog(t *testing.T) *catmemory.Store {
	t.Helper()
	ctx := context.Background()
	cs := catmemory.New()
	require.NoError(t, cs.SaveTool(ctx, &catalogstore.ToolDTO{
		ID: "src1:list_users", SourceID: "src1", ToolName: "list_users",
		IsEnabled: true, Status: catalogstore.ToolStatusActive,
	}))
	require.NoError(t, cs.SaveTool(ctx, &catalogstore.ToolDTO{
		ID: "src1:delete_users", SourceID: "src1", ToolName: "delete_users",
		IsEnabled: false, Status: catalogstore.ToolStatusActive,
	}))
	require.NoError(t, cs.SaveGroup(ctx, &catalogstore.GroupDTO{
		ID: "g1", Name: "user-admin",
		Selectors: []catalogstore.Selector{{
			Kind: catalogstore.SelectorWildcard, Field: catalogstore.SelectorFieldName, Pattern: "*_users",
		}},
	}))
	return cs
}

func TestResolveAccessibleToolsGrantsMatchingCaller(t *testing.T) {
	ctx := context.Background()
	r := access.NewResolver(adminPolicies(), seedCatalog(t), nil, nil, 0)

	ids, err := r.ResolveAccessibleTools(ctx, map[string]any{"roles": []any{"admin"}})
	require.NoError(t, err)
	// delete_users matches the selector but is disabled, so only list_users
	// survives.
	require.Equal(t, []string{"src1:list_users"}, ids)
}

func TestResolveAccessibleToolsDeniesNonMatchingCaller(t *testing.T) {
	ctx := context.Background()
	r := access.NewResolver(adminPolicies(), seedCatalog(t), nil, nil, 0)

	ids, err := r.ResolveAccessibleTools(ctx, map[string]any{"roles": []any{"viewer"}})
	require.NoError(t, err)
	require.Empty(t, ids)

	err = r.RequireToolAccess(ctx, map[string]any{"roles": []any{"viewer"}}, "src1:list_users")
	require.Error(t, err)
	require.Equal(t, errkind.Forbidden, errkind.KindOf(err))
}

func TestResolveAccessibleToolsUnionsAcrossPolicies(t *testing.T) {
	ctx := context.Background()
	cs := seedCatalog(t)
	require.NoError(t, cs.SaveTool(context.Background(), &catalogstore.ToolDTO{
		ID: "src2:get_report", SourceID: "src2", ToolName: "get_report",
		IsEnabled: true, Status: catalogstore.ToolStatusActive,
	}))
	require.NoError(t, cs.SaveGroup(context.Background(), &catalogstore.GroupDTO{
		ID: "g2", Name: "reporting", Includes: []string{"src2:get_report"},
	}))

	policies := append(adminPolicies(), &access.Policy{
		Name:            "reporters",
		Matchers:        []access.ClaimMatcher{{ClaimPath: "roles", Operator: access.OpContains, Expected: "reporter"}},
		AllowedGroupIDs: []string{"g2"},
		Priority:        1,
		Active:          true,
	})
	r := access.NewResolver(policies, cs, nil, nil, 0)

	ids, err := r.ResolveAccessibleTools(ctx, map[string]any{"roles": []any{"admin", "reporter"}})
	require.NoError(t, err)
	require.Equal(t, []string{"src1:list_users", "src2:get_report"}, ids)
}

func TestClaimsCacheKeyIgnoresIrrelevantClaims(t *testing.T) {
	paths := []string{"roles"}
	a := access.ClaimsCacheKey(map[string]any{"roles": []any{"admin"}, "jti": "x"}, paths)
	b := access.ClaimsCacheKey(map[string]any{"roles": []any{"admin"}, "jti": "y"}, paths)
	require.Equal(t, a, b)

	c := access.ClaimsCacheKey(map[string]any{"roles": []any{"viewer"}}, paths)
	require.NotEqual(t, a, c)
}
