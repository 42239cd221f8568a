package conversation

import (
	"github.com/bvandewe/agent-gateway/internal/conversation/store"
	"github.com/bvandewe/agent-gateway/internal/eventstore"
)

const TemplateAggregateType = "conversation_template"

// Event types for the ConversationTemplate aggregate.
const (
	TemplateEventCreated = "template_created"
	TemplateEventUpdated = "template_updated"
	TemplateEventDeleted = "template_deleted"
)

// WidgetType, ItemContent, and Item live canonically in
// internal/conversation/store; see conversation.go for why.
type (
	WidgetType  = store.WidgetType
	ItemContent = store.ItemContent
	Item        = store.Item
)

const (
	WidgetMessage        = store.WidgetMessage
	WidgetMultipleChoice = store.WidgetMultipleChoice
	WidgetFreeText       = store.WidgetFreeText
	WidgetCodeEditor     = store.WidgetCodeEditor
	WidgetButton         = store.WidgetButton
	WidgetTextDisplay    = store.WidgetTextDisplay
	WidgetImageDisplay   = store.WidgetImageDisplay
	WidgetVideo          = store.WidgetVideo
	WidgetChart          = store.WidgetChart
	WidgetDataTable      = store.WidgetDataTable
	WidgetDocumentViewer = store.WidgetDocumentViewer
	WidgetStickyNote     = store.WidgetStickyNote
	WidgetGraphTopology  = store.WidgetGraphTopology
)

// Template is the ConversationTemplate aggregate (§3).
type Template struct {
	id                          string
	version                     int
	Items                       []Item
	AgentStartsFirst            bool
	AllowNavigation             bool
	EnableChatInputInitially    bool
	DisplayProgressIndicator    bool
	IncludeFeedback             bool
	DisplayFinalScoreReport     bool
	ContinueAfterCompletion     bool
	PassingScorePercent         float64
	HasPassingScore             bool
	IntroductionMessage         string
	CompletionMessage           string
	Deleted                     bool
}

var _ eventstore.Aggregate = (*Template)(nil)

// NewTemplate constructs an empty Template ready for event replay.
func NewTemplate(id string) eventstore.Aggregate { return &Template{id: id} }

func (t *Template) AggregateType() string { return TemplateAggregateType }

// ItemCount returns the number of items, used to validate Conversation
// invariant (3): current_item_index ≤ item_count.
func (t *Template) ItemCount() int { return len(t.Items) }

func (t *Template) ApplyEvent(evt eventstore.Event) error {
	switch evt.Type {
	case TemplateEventCreated, TemplateEventUpdated:
		var p templatePayload
		if err := eventstore.Unmarshal(evt.Payload, &p); err != nil {
			return err
		}
		t.Items = p.Items
		t.AgentStartsFirst = p.AgentStartsFirst
		t.AllowNavigation = p.AllowNavigation
		t.EnableChatInputInitially = p.EnableChatInputInitially
		t.DisplayProgressIndicator = p.DisplayProgressIndicator
		t.IncludeFeedback = p.IncludeFeedback
		t.DisplayFinalScoreReport = p.DisplayFinalScoreReport
		t.ContinueAfterCompletion = p.ContinueAfterCompletion
		t.PassingScorePercent = p.PassingScorePercent
		t.HasPassingScore = p.HasPassingScore
		t.IntroductionMessage = p.IntroductionMessage
		t.CompletionMessage = p.CompletionMessage
	case TemplateEventDeleted:
		t.Deleted = true
	}
	t.version++
	return nil
}

type templatePayload struct {
	Items                    []Item  `json:"items"`
	AgentStartsFirst         bool    `json:"agent_starts_first"`
	AllowNavigation          bool    `json:"allow_navigation"`
	EnableChatInputInitially bool    `json:"enable_chat_input_initially"`
	DisplayProgressIndicator bool    `json:"display_progress_indicator"`
	IncludeFeedback          bool    `json:"include_feedback"`
	DisplayFinalScoreReport  bool    `json:"display_final_score_report"`
	ContinueAfterCompletion  bool    `json:"continue_after_completion"`
	PassingScorePercent      float64 `json:"passing_score_percent,omitempty"`
	HasPassingScore          bool    `json:"has_passing_score,omitempty"`
	IntroductionMessage      string  `json:"introduction_message,omitempty"`
	CompletionMessage        string  `json:"completion_message,omitempty"`
}

// CreateTemplate produces the creation event for a new template.
func CreateTemplate(items []Item, agentStartsFirst, allowNavigation, enableChatInputInitially, displayProgressIndicator, includeFeedback, displayFinalScoreReport, continueAfterCompletion bool, passingScorePercent float64, hasPassingScore bool, introMessage, completionMessage string) (eventstore.NewEvent, error) {
	payload, err := eventstore.Marshal(templatePayload{
		Items: items, AgentStartsFirst: agentStartsFirst, AllowNavigation: allowNavigation,
		EnableChatInputInitially: enableChatInputInitially, DisplayProgressIndicator: displayProgressIndicator,
		IncludeFeedback: includeFeedback, DisplayFinalScoreReport: displayFinalScoreReport,
		ContinueAfterCompletion: continueAfterCompletion, PassingScorePercent: passingScorePercent,
		HasPassingScore: hasPassingScore, IntroductionMessage: introMessage, CompletionMessage: completionMessage,
	})
	if err != nil {
		return eventstore.NewEvent{}, err
	}
	return eventstore.NewEvent{Type: TemplateEventCreated, Payload: payload}, nil
}

// Delete marks the template deleted. Per §3 ownership rules this does not
// cascade to Agent Definitions that reference it.
func (t *Template) Delete() (eventstore.NewEvent, error) {
	return eventstore.NewEvent{Type: TemplateEventDeleted}, nil
}
