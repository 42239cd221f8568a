package conversation

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bvandewe/agent-gateway/internal/eventstore"
)

func TestWidgetTypeRequiresResponse(t *testing.T) {
	require.False(t, WidgetMessage.RequiresResponse())
	require.False(t, WidgetTextDisplay.RequiresResponse())
	require.False(t, WidgetImageDisplay.RequiresResponse())
	require.False(t, WidgetStickyNote.RequiresResponse())
	require.True(t, WidgetMultipleChoice.RequiresResponse())
	require.True(t, WidgetFreeText.RequiresResponse())
	require.True(t, WidgetCodeEditor.RequiresResponse())
	require.True(t, WidgetButton.RequiresResponse())
}

func TestTemplateCreateAndItemCount(t *testing.T) {
	tpl := NewTemplate("tmpl-1").(*Template)

	items := []Item{
		{ID: "item-1", Contents: []ItemContent{{ID: "c1", WidgetType: WidgetMessage}}},
		{ID: "item-2", Contents: []ItemContent{{ID: "c2", WidgetType: WidgetMultipleChoice, Required: true, CorrectAnswer: "b"}}},
	}
	created, err := CreateTemplate(items, true, false, true, true, true, true, false, 80, true, "welcome", "done")
	require.NoError(t, err)
	require.NoError(t, tpl.ApplyEvent(eventstore.Event{Type: created.Type, Payload: created.Payload}))

	require.Equal(t, 2, tpl.ItemCount())
	require.True(t, tpl.AgentStartsFirst)
	require.True(t, tpl.HasPassingScore)
	require.Equal(t, 80.0, tpl.PassingScorePercent)
	require.Equal(t, "welcome", tpl.IntroductionMessage)

	deleted, err := tpl.Delete()
	require.NoError(t, err)
	require.NoError(t, tpl.ApplyEvent(eventstore.Event{Type: deleted.Type}))
	require.True(t, tpl.Deleted)
}

func TestItemContentCorrectAnswerNeverSerialized(t *testing.T) {
	ic := ItemContent{ID: "c1", WidgetType: WidgetMultipleChoice, CorrectAnswer: "secret"}
	// CorrectAnswer is tagged json:"-": it stays on the value but is absent
	// from the encoded JSON.
	require.Equal(t, "secret", ic.CorrectAnswer)
	encoded, err := json.Marshal(ic)
	require.NoError(t, err)
	require.NotContains(t, string(encoded), "secret")
}
