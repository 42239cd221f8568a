package conversation

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bvandewe/agent-gateway/internal/eventstore"
)

func TestAccessRulesAllows(t *testing.T) {
	cases := []struct {
		name   string
		rules  AccessRules
		userID string
		roles  []string
		scopes []string
		want   bool
	}{
		{"public always allowed", AccessRules{Public: true}, "anyone", nil, nil, true},
		{"allow list match", AccessRules{AllowList: []string{"u1"}}, "u1", nil, nil, true},
		{"no rules at all denies", AccessRules{}, "u2", nil, nil, false},
		{"required role missing", AccessRules{RequiredRoles: []string{"admin"}}, "u2", []string{"user"}, nil, false},
		{"required role present", AccessRules{RequiredRoles: []string{"admin"}}, "u2", []string{"admin"}, nil, true},
		{"required scope present", AccessRules{RequiredScopes: []string{"agent:use"}}, "u2", nil, []string{"agent:use"}, true},
		{"role present but scope missing", AccessRules{RequiredRoles: []string{"admin"}, RequiredScopes: []string{"agent:use"}}, "u2", []string{"admin"}, nil, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, tc.rules.Allows(tc.userID, tc.roles, tc.scopes))
		})
	}
}

func TestDefinitionCreateAndUpdate(t *testing.T) {
	def := NewDefinition("def-1").(*Definition)

	created, err := CreateDefinition("owner-1", "Helper", "icon.png", "desc", "be nice",
		[]string{"src:op"}, "model-a", "tmpl-1", AccessRules{Public: true}, true)
	require.NoError(t, err)
	require.NoError(t, def.ApplyEvent(eventstore.Event{Type: created.Type, Payload: created.Payload}))

	require.Equal(t, "owner-1", def.OwnerID)
	require.Equal(t, "Helper", def.DisplayName)
	require.True(t, def.Access.Public)
	require.True(t, def.StopOnError)
	require.Equal(t, 1, def.version)

	updated, err := def.Update("Helper v2", "icon2.png", "desc2", "be nicer",
		[]string{"src:op2"}, "model-b", "tmpl-2", AccessRules{RequiredRoles: []string{"admin"}}, false)
	require.NoError(t, err)
	require.NoError(t, def.ApplyEvent(eventstore.Event{Type: updated.Type, Payload: updated.Payload}))

	require.Equal(t, "Helper v2", def.DisplayName)
	require.Equal(t, "owner-1", def.OwnerID, "update must not change ownership")
	require.False(t, def.StopOnError)

	deleted, err := def.Delete()
	require.NoError(t, err)
	require.NoError(t, def.ApplyEvent(eventstore.Event{Type: deleted.Type}))
	require.True(t, def.Deleted)
}
