package conversation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bvandewe/agent-gateway/internal/conversation/store"
	"github.com/bvandewe/agent-gateway/internal/conversation/store/memory"
	"github.com/bvandewe/agent-gateway/internal/eventstore"
)

func TestConversationProjectionAppliesMessageLifecycle(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	proj := NewConversationProjection(st)

	created, err := Create("owner-1", "def-1", "")
	require.NoError(t, err)
	require.NoError(t, proj.Apply(ctx, eventstore.Event{AggregateID: "conv-1", Sequence: 1, Type: created.Type, Payload: created.Payload}, 0))

	conv := New("conv-1").(*Conversation)
	require.NoError(t, conv.ApplyEvent(eventstore.Event{Type: created.Type, Payload: created.Payload}))
	added, err := conv.AddMessage("msg-1", RoleUser, "hello", MessageInProgress, time.Now().UTC())
	require.NoError(t, err)
	require.NoError(t, proj.Apply(ctx, eventstore.Event{AggregateID: "conv-1", Sequence: 2, Type: added.Type, Payload: added.Payload}, 1))

	dto, err := st.GetConversation(ctx, "conv-1")
	require.NoError(t, err)
	require.Equal(t, "owner-1", dto.OwnerUserID)
	require.Len(t, dto.Messages, 1)
	require.Equal(t, StatusActive, dto.Status)
	require.Equal(t, 2, dto.LastAppliedSeq)
}

func TestDefinitionProjectionRoundTrip(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	proj := NewDefinitionProjection(st)

	created, err := CreateDefinition("owner-1", "Helper", "", "", "prompt", nil, "model-a", "", AccessRules{Public: true}, false)
	require.NoError(t, err)
	require.NoError(t, proj.Apply(ctx, eventstore.Event{AggregateID: "def-1", Sequence: 1, Type: created.Type, Payload: created.Payload}, 0))

	dto, err := st.GetDefinition(ctx, "def-1")
	require.NoError(t, err)
	require.Equal(t, "Helper", dto.DisplayName)
	require.True(t, dto.Access.Public)

	_, err = st.GetDefinition(ctx, "missing")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestTemplateProjectionRoundTrip(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	proj := NewTemplateProjection(st)

	items := []Item{{ID: "item-1"}}
	created, err := CreateTemplate(items, false, true, false, false, false, false, false, 0, false, "", "")
	require.NoError(t, err)
	require.NoError(t, proj.Apply(ctx, eventstore.Event{AggregateID: "tmpl-1", Sequence: 1, Type: created.Type, Payload: created.Payload}, 0))

	dto, err := st.GetTemplate(ctx, "tmpl-1")
	require.NoError(t, err)
	require.Len(t, dto.Items, 1)
	require.True(t, dto.AllowNavigation)
}
