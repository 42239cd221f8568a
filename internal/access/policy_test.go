package access_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bvandewe/agent-gateway/internal/access"
	"github.com/bvandewe/agent-gateway/internal/eventstore"
)

func toEvent(evt eventstore.NewEvent) eventstore.Event {
	return eventstore.Event{Type: evt.Type, Payload: evt.Payload, Metadata: evt.Metadata}
}

func policyWith(name string, priority int, active bool, matchers []access.ClaimMatcher, groups ...string) *access.Policy {
	p := access.NewPolicy("p-" + name).(*access.Policy)
	evt, err := access.CreatePolicy(name, matchers, groups, priority)
	if err != nil {
		panic(err)
	}
	if err := p.ApplyEvent(toEvent(evt)); err != nil {
		panic(err)
	}
	if !active {
		evt, err = p.SetActive(false)
		if err != nil {
			panic(err)
		}
		if err := p.ApplyEvent(toEvent(evt)); err != nil {
			panic(err)
		}
	}
	return p
}

func TestAccessDenialWhenNoPolicyMatches(t *testing.T) {
	// §8 scenario 4: caller has {roles:["viewer"]}, policy requires
	// roles contains "admin" -> resolve_accessible_tools must be empty.
	p := policyWith("admin-only", 0, true, []access.ClaimMatcher{
		{ClaimPath: "roles", Operator: access.OpContains, Expected: "admin"},
	}, "group-admin")

	claims := map[string]any{"roles": []any{"viewer"}}
	groups := access.ResolveAllowedGroups([]*access.Policy{p}, claims)
	require.Empty(t, groups)
}

func TestResolveAllowedGroupsUnionsAcrossMatchingPolicies(t *testing.T) {
	p1 := policyWith("p1", 10, true, []access.ClaimMatcher{
		{ClaimPath: "roles", Operator: access.OpContains, Expected: "admin"},
	}, "group-admin")
	p2 := policyWith("p2", 5, true, []access.ClaimMatcher{
		{ClaimPath: "roles", Operator: access.OpContains, Expected: "viewer"},
	}, "group-readonly")

	claims := map[string]any{"roles": []any{"admin", "viewer"}}
	groups := access.ResolveAllowedGroups([]*access.Policy{p2, p1}, claims)
	require.ElementsMatch(t, []string{"group-admin", "group-readonly"}, groups)
}

func TestResolveAllowedGroupsSkipsInactivePolicies(t *testing.T) {
	p := policyWith("disabled", 0, false, []access.ClaimMatcher{
		{ClaimPath: "roles", Operator: access.OpContains, Expected: "admin"},
	}, "group-admin")

	claims := map[string]any{"roles": []any{"admin"}}
	groups := access.ResolveAllowedGroups([]*access.Policy{p}, claims)
	require.Empty(t, groups, "an inactive policy must never grant access")
}

func TestClaimMatcherOperators(t *testing.T) {
	claims := map[string]any{
		"sub":   "user-123",
		"email": "alice@example.com",
		"roles": []any{"viewer", "editor"},
	}

	require.True(t, access.ClaimMatcher{ClaimPath: "sub", Operator: access.OpEquals, Expected: "user-123"}.Matches(claims))
	require.True(t, access.ClaimMatcher{ClaimPath: "email", Operator: access.OpStartsWith, Expected: "alice@"}.Matches(claims))
	require.True(t, access.ClaimMatcher{ClaimPath: "roles", Operator: access.OpContains, Expected: "editor"}.Matches(claims))
	require.True(t, access.ClaimMatcher{ClaimPath: "sub", Operator: access.OpInList, Expected: []any{"user-123", "user-456"}}.Matches(claims))
	require.False(t, access.ClaimMatcher{ClaimPath: "missing.path", Operator: access.OpEquals, Expected: "x"}.Matches(claims))
}
