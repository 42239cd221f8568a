package orchestrator

import (
	"encoding/json"
	"strings"

	"github.com/bvandewe/agent-gateway/internal/errkind"
)

// parseJSONLoose unmarshals the first {...} object found in text into v,
// tolerating a model that wraps its JSON in prose or a code fence.
func parseJSONLoose(text string, v any) error {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end <= start {
		return errkind.New(errkind.Internal, "no JSON object found in model output")
	}
	return json.Unmarshal([]byte(text[start:end+1]), v)
}
