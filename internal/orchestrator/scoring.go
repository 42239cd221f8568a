package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/bvandewe/agent-gateway/internal/conversation"
	"github.com/bvandewe/agent-gateway/internal/llmprovider"
)

// scoreItem implements §4.1.1: each interactive content with a non-empty
// correct_answer contributes max_score (default 1) to the possible total,
// and earns it when the submitted answer is judged correct. Grading prefers
// an LLM judgment when the template requests feedback and a model is
// configured; it falls back to a case-insensitive string match otherwise.
// correct_answer is never sent to the client: only the boolean outcome and,
// when feedback is enabled, LLM-composed feedback text are.
func (o *Orchestrator) scoreItem(ctx context.Context, sess *Session, includeFeedback bool, item conversation.Item) (earned, possible float64, feedback []string) {
	for _, content := range item.Contents {
		if !content.WidgetType.RequiresResponse() || content.CorrectAnswer == "" {
			continue
		}
		max := content.MaxScore
		if max == 0 {
			max = 1
		}
		possible += max

		answer := sess.item.answered[content.ID]
		correct, note := o.gradeAnswer(ctx, includeFeedback, content, answer)
		if correct {
			earned += max
		}
		if includeFeedback && note != "" {
			feedback = append(feedback, note)
		}
	}
	return earned, possible, feedback
}

// gradeAnswer judges a single submitted answer against its item content's
// correct_answer (§4.1.1).
func (o *Orchestrator) gradeAnswer(ctx context.Context, includeFeedback bool, content conversation.ItemContent, answer string) (correct bool, feedback string) {
	fallback := strings.EqualFold(strings.TrimSpace(answer), strings.TrimSpace(content.CorrectAnswer))
	if !includeFeedback || o.llm == nil {
		return fallback, ""
	}

	prompt := fmt.Sprintf(
		"Question: %s\nExpected answer: %s\nLearner answer: %s\n\nIs the learner answer correct? Reply with a JSON object: {\"correct\": true|false, \"feedback\": \"one sentence of feedback for the learner, never repeating the expected answer verbatim\"}.",
		content.Stem, content.CorrectAnswer, answer,
	)
	resp, err := o.llm.Complete(ctx, &llmprovider.Request{
		Messages: []llmprovider.Message{{Role: llmprovider.RoleUser, Parts: []llmprovider.Part{llmprovider.TextPart{Text: prompt}}}},
		MaxTokens: 256,
	})
	if err != nil {
		o.logger.Warn(ctx, "llm grading failed, using string-match fallback", "item_content_id", content.ID, "error", err.Error())
		return fallback, ""
	}

	var verdict struct {
		Correct  bool   `json:"correct"`
		Feedback string `json:"feedback"`
	}
	text := textOf(resp.Message)
	if err := parseJSONLoose(text, &verdict); err != nil {
		o.logger.Warn(ctx, "llm grading response unparseable, using string-match fallback", "item_content_id", content.ID)
		return fallback, ""
	}
	return verdict.Correct, verdict.Feedback
}

func textOf(m llmprovider.Message) string {
	var sb strings.Builder
	for _, p := range m.Parts {
		if tp, ok := p.(llmprovider.TextPart); ok {
			sb.WriteString(tp.Text)
		}
	}
	return sb.String()
}
