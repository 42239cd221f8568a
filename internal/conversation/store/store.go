// Package store defines the Conversation/AgentDefinition/ConversationTemplate
// read model (§4.4 "Read path (projections)"), shaped the same way as
// internal/catalog/store: query-only DTOs, idempotently updated, never
// participating in write validation.
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a read-model lookup misses.
var ErrNotFound = errors.New("conversation store: not found")

type (
	// ConversationDTO is the queryable projection of a Conversation aggregate
	// (§3: "ConversationDto with messages flattened").
	ConversationDTO struct {
		ID                string        `json:"id" bson:"_id"`
		OwnerUserID       string        `json:"owner_user_id" bson:"owner_user_id"`
		Name              string        `json:"name,omitempty" bson:"name,omitempty"`
		AgentDefinitionID string        `json:"agent_definition_id,omitempty" bson:"agent_definition_id,omitempty"`
		TemplateID        string        `json:"template_id,omitempty" bson:"template_id,omitempty"`
		CurrentItemIndex  int           `json:"current_item_index" bson:"current_item_index"`
		Messages          []Message     `json:"messages" bson:"messages"`
		Status            Status        `json:"status" bson:"status"`
		PendingAction     *ClientAction `json:"pending_action,omitempty" bson:"pending_action,omitempty"`
		Summary           string        `json:"summary,omitempty" bson:"summary,omitempty"`
		Deleted           bool          `json:"deleted" bson:"deleted"`
		Version           int           `json:"version" bson:"version"`
		LastAppliedSeq    int           `json:"last_applied_seq" bson:"last_applied_seq"`
	}

	// DefinitionDTO is the queryable projection of an AgentDefinition
	// aggregate.
	DefinitionDTO struct {
		ID               string      `json:"id" bson:"_id"`
		OwnerID          string      `json:"owner_id" bson:"owner_id"`
		DisplayName      string      `json:"display_name" bson:"display_name"`
		Icon             string      `json:"icon,omitempty" bson:"icon,omitempty"`
		Description      string      `json:"description,omitempty" bson:"description,omitempty"`
		SystemPrompt     string      `json:"system_prompt,omitempty" bson:"system_prompt,omitempty"`
		AllowedToolIDs   []string    `json:"allowed_tool_ids,omitempty" bson:"allowed_tool_ids,omitempty"`
		PreferredModelID string      `json:"preferred_model_id,omitempty" bson:"preferred_model_id,omitempty"`
		TemplateID       string      `json:"template_id,omitempty" bson:"template_id,omitempty"`
		Access           AccessRules `json:"access" bson:"access"`
		StopOnError      bool        `json:"stop_on_error,omitempty" bson:"stop_on_error,omitempty"`
		Deleted          bool        `json:"deleted" bson:"deleted"`
		Version          int         `json:"version" bson:"version"`
		LastAppliedSeq   int         `json:"last_applied_seq" bson:"last_applied_seq"`
	}

	// TemplateDTO is the queryable projection of a ConversationTemplate
	// aggregate.
	TemplateDTO struct {
		ID                       string  `json:"id" bson:"_id"`
		Items                    []Item  `json:"items" bson:"items"`
		AgentStartsFirst         bool    `json:"agent_starts_first" bson:"agent_starts_first"`
		AllowNavigation          bool    `json:"allow_navigation" bson:"allow_navigation"`
		EnableChatInputInitially bool    `json:"enable_chat_input_initially" bson:"enable_chat_input_initially"`
		DisplayProgressIndicator bool    `json:"display_progress_indicator" bson:"display_progress_indicator"`
		IncludeFeedback          bool    `json:"include_feedback" bson:"include_feedback"`
		DisplayFinalScoreReport  bool    `json:"display_final_score_report" bson:"display_final_score_report"`
		ContinueAfterCompletion  bool    `json:"continue_after_completion" bson:"continue_after_completion"`
		PassingScorePercent      float64 `json:"passing_score_percent,omitempty" bson:"passing_score_percent,omitempty"`
		HasPassingScore          bool    `json:"has_passing_score,omitempty" bson:"has_passing_score,omitempty"`
		IntroductionMessage      string  `json:"introduction_message,omitempty" bson:"introduction_message,omitempty"`
		CompletionMessage        string  `json:"completion_message,omitempty" bson:"completion_message,omitempty"`
		Deleted                  bool    `json:"deleted" bson:"deleted"`
		Version                  int     `json:"version" bson:"version"`
		LastAppliedSeq           int     `json:"last_applied_seq" bson:"last_applied_seq"`
	}

	// Store is the combined conversation read-model contract.
	// Implementations (memory, mongo) must be safe for concurrent use.
	// Soft-deleted aggregates (§3, §4.4 "Soft delete") are excluded from
	// List*/Get* by implementations once Deleted is set.
	Store interface {
		SaveConversation(ctx context.Context, dto *ConversationDTO) error
		GetConversation(ctx context.Context, id string) (*ConversationDTO, error)
		ListConversations(ctx context.Context, ownerUserID string) ([]*ConversationDTO, error)
		DeleteConversation(ctx context.Context, id string) error

		SaveDefinition(ctx context.Context, dto *DefinitionDTO) error
		GetDefinition(ctx context.Context, id string) (*DefinitionDTO, error)
		ListDefinitions(ctx context.Context) ([]*DefinitionDTO, error)

		SaveTemplate(ctx context.Context, dto *TemplateDTO) error
		GetTemplate(ctx context.Context, id string) (*TemplateDTO, error)
	}
)
