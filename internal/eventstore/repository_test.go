package eventstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bvandewe/agent-gateway/internal/conversation"
	"github.com/bvandewe/agent-gateway/internal/conversation/store"
	"github.com/bvandewe/agent-gateway/internal/conversation/store/memory"
	"github.com/bvandewe/agent-gateway/internal/eventstore"
	memstore "github.com/bvandewe/agent-gateway/internal/eventstore/memory"
)

func TestRepositoryExecuteCreateThenMutate(t *testing.T) {
	ctx := context.Background()
	es := memstore.New()
	readModel := memory.New()
	bus := eventstore.NewBus()
	bus.Register(conversation.NewConversationProjection(readModel))

	repo := eventstore.NewRepository(es, bus, conversation.ConversationAggregateType, func(id string) *conversation.Conversation {
		return conversation.New(id).(*conversation.Conversation)
	})

	_, _, err := repo.Execute(ctx, "conv-1", false, func(c *conversation.Conversation) ([]eventstore.NewEvent, error) {
		evt, err := conversation.Create("owner-1", "def-1", "")
		if err != nil {
			return nil, err
		}
		return []eventstore.NewEvent{evt}, nil
	})
	require.NoError(t, err)

	agg, _, err := repo.Execute(ctx, "conv-1", true, func(c *conversation.Conversation) ([]eventstore.NewEvent, error) {
		evt, err := c.AddMessage("msg-1", conversation.RoleUser, "hi", conversation.MessageInProgress, time.Now().UTC())
		if err != nil {
			return nil, err
		}
		return []eventstore.NewEvent{evt}, nil
	})
	require.NoError(t, err)
	require.Len(t, agg.Messages, 1)
	require.Equal(t, conversation.StatusActive, agg.Status)

	dto, err := readModel.GetConversation(ctx, "conv-1")
	require.NoError(t, err)
	require.Len(t, dto.Messages, 1)
}

func TestRepositoryExecuteRequiresExistingAggregate(t *testing.T) {
	ctx := context.Background()
	es := memstore.New()
	repo := eventstore.NewRepository(es, nil, conversation.ConversationAggregateType, func(id string) *conversation.Conversation {
		return conversation.New(id).(*conversation.Conversation)
	})

	_, _, err := repo.Execute(ctx, "missing", true, func(c *conversation.Conversation) ([]eventstore.NewEvent, error) {
		t.Fatal("fn must not be called when the aggregate is missing and mustExist is true")
		return nil, nil
	})
	require.ErrorIs(t, err, eventstore.ErrNotFound)
}

func TestAppendConcurrencyConflictAndRetry(t *testing.T) {
	ctx := context.Background()
	es := memstore.New()

	created, err := conversation.Create("owner-1", "def-1", "")
	require.NoError(t, err)
	_, err = es.Append(ctx, conversation.ConversationAggregateType, "c1", 0, []eventstore.NewEvent{created})
	require.NoError(t, err)

	// Two writers both loaded version 1. The first commits.
	msg := func(id string) eventstore.NewEvent {
		c := conversation.New("c1").(*conversation.Conversation)
		evt, err := c.AddMessage(id, conversation.RoleUser, "hi", conversation.MessageCompleted, time.Now().UTC())
		require.NoError(t, err)
		return evt
	}
	first, err := es.Append(ctx, conversation.ConversationAggregateType, "c1", 1, []eventstore.NewEvent{msg("m1")})
	require.NoError(t, err)
	require.Equal(t, 2, first[0].Sequence)

	// The second writer's stale expected version is rejected.
	_, err = es.Append(ctx, conversation.ConversationAggregateType, "c1", 1, []eventstore.NewEvent{msg("m2")})
	require.ErrorIs(t, err, eventstore.ErrConcurrencyConflictSentinel)

	// Reloading gives it the fresh version; the retry succeeds.
	_, version, err := es.Load(ctx, conversation.ConversationAggregateType, "c1", conversation.New)
	require.NoError(t, err)
	require.Equal(t, 2, version)
	retried, err := es.Append(ctx, conversation.ConversationAggregateType, "c1", version, []eventstore.NewEvent{msg("m2")})
	require.NoError(t, err)
	require.Equal(t, 3, retried[0].Sequence)
}

// Replaying an aggregate's events reconstructs a state equal to the state in
// memory after applying the same commands (§8 "Round-trip / idempotence").
func TestLoadReplayMatchesInMemoryState(t *testing.T) {
	ctx := context.Background()
	es := memstore.New()
	repo := eventstore.NewRepository(es, nil, conversation.ConversationAggregateType, func(id string) *conversation.Conversation {
		return conversation.New(id).(*conversation.Conversation)
	})

	agg, _, err := repo.Execute(ctx, "c1", false, func(c *conversation.Conversation) ([]eventstore.NewEvent, error) {
		evt, err := conversation.Create("owner-1", "def-1", "tmpl-1")
		if err != nil {
			return nil, err
		}
		return []eventstore.NewEvent{evt}, nil
	})
	require.NoError(t, err)
	agg, _, err = repo.Execute(ctx, "c1", true, func(c *conversation.Conversation) ([]eventstore.NewEvent, error) {
		evt, err := c.AddMessage("m1", conversation.RoleUser, "hello", conversation.MessageCompleted, time.Unix(1700000000, 0).UTC())
		if err != nil {
			return nil, err
		}
		return []eventstore.NewEvent{evt}, nil
	})
	require.NoError(t, err)

	replayed, version, err := repo.Load(ctx, "c1")
	require.NoError(t, err)
	require.Equal(t, agg.Version(), version)
	require.Equal(t, agg, replayed)
}

var _ store.Store = (*memory.Store)(nil)
