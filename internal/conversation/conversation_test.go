package conversation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bvandewe/agent-gateway/internal/eventstore"
)

func newConv(t *testing.T) *Conversation {
	t.Helper()
	c := New("conv-1").(*Conversation)
	created, err := Create("owner-1", "def-1", "")
	require.NoError(t, err)
	require.NoError(t, c.ApplyEvent(eventstore.Event{Type: created.Type, Payload: created.Payload}))
	return c
}

func apply(t *testing.T, c *Conversation, evt eventstore.NewEvent, err error) {
	t.Helper()
	require.NoError(t, err)
	require.NoError(t, c.ApplyEvent(eventstore.Event{Type: evt.Type, Payload: evt.Payload}))
}

// §3 invariant 1: the system message, if any, must be first.
func TestAddMessageRejectsSystemMessageAfterOthers(t *testing.T) {
	c := newConv(t)
	evt, err := c.AddMessage("m1", RoleUser, "hi", MessageCompleted, time.Now().UTC())
	apply(t, c, evt, err)

	_, err = c.AddMessage("m2", RoleSystem, "be nice", MessageCompleted, time.Now().UTC())
	require.Error(t, err)
}

func TestAddMessageAllowsSystemMessageFirst(t *testing.T) {
	c := newConv(t)
	evt, err := c.AddMessage("m1", RoleSystem, "be nice", MessageCompleted, time.Now().UTC())
	require.NoError(t, err)
	apply(t, c, evt, nil)
	require.Equal(t, RoleSystem, c.Messages[0].Role)
}

// §3 invariant 2: a tool result's call id must match a tool call on this
// or an earlier message.
func TestAddToolResultRejectsUnmatchedCallID(t *testing.T) {
	c := newConv(t)
	evt, err := c.AddMessage("m1", RoleAssistant, "", MessageInProgress, time.Now().UTC())
	apply(t, c, evt, err)

	_, err = c.AddToolResult("m1", ToolResult{CallID: "call-missing", Success: true})
	require.Error(t, err)
}

func TestAddToolResultAcceptsMatchingCallID(t *testing.T) {
	c := newConv(t)
	evt, err := c.AddMessage("m1", RoleAssistant, "", MessageInProgress, time.Now().UTC())
	apply(t, c, evt, err)
	evt, err = c.AddToolCall("m1", ToolCall{CallID: "call-1", Name: "lookup"})
	apply(t, c, evt, err)

	evt, err = c.AddToolResult("m1", ToolResult{CallID: "call-1", Success: true})
	require.NoError(t, err)
	apply(t, c, evt, nil)
	require.True(t, c.hasToolCall("call-1"))
}

// §3 invariant 3: current_item_index must never exceed the template's
// item_count.
func TestAdvanceTemplateRejectsIndexPastItemCount(t *testing.T) {
	c := newConv(t)
	_, err := c.AdvanceTemplate(3, 2)
	require.Error(t, err)
}

func TestAdvanceTemplateAcceptsIndexAtItemCount(t *testing.T) {
	c := newConv(t)
	evt, err := c.AdvanceTemplate(2, 2)
	require.NoError(t, err)
	apply(t, c, evt, nil)
	require.Equal(t, 2, c.CurrentItemIndex)
}

// §3 invariant 4: at most one client action may be pending at a time.
func TestRequestClientActionRejectsWhenAlreadyPending(t *testing.T) {
	c := newConv(t)
	evt, err := c.RequestClientAction(ClientAction{WidgetID: "w1", WidgetType: "text"})
	apply(t, c, evt, err)

	_, err = c.RequestClientAction(ClientAction{WidgetID: "w2", WidgetType: "text"})
	require.Error(t, err)
}

func TestResolveClientActionRejectsMismatchedWidgetID(t *testing.T) {
	c := newConv(t)
	evt, err := c.RequestClientAction(ClientAction{WidgetID: "w1", WidgetType: "text"})
	apply(t, c, evt, err)

	_, err = c.ResolveClientAction("w2")
	require.Error(t, err)
}

func TestResolveClientActionClearsPendingOnMatch(t *testing.T) {
	c := newConv(t)
	evt, err := c.RequestClientAction(ClientAction{WidgetID: "w1", WidgetType: "text"})
	apply(t, c, evt, err)

	evt, err = c.ResolveClientAction("w1")
	require.NoError(t, err)
	apply(t, c, evt, nil)
	require.Nil(t, c.PendingAction)
	require.Equal(t, StatusActive, c.Status)
}
