package classifier

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
)

// TopicDecision is the LLM's proposed topic resolution for a bundle.
type TopicDecision struct {
	ID     string `json:"id,omitempty" jsonschema_description:"Existing topic id to reuse, or empty."`
	Name   string `json:"name" jsonschema_description:"Short, human topic name (used when creating)."`
	Create bool   `json:"create" jsonschema_description:"True if a new topic should be created instead of reusing id."`
}

// TaskDecision is the LLM's proposed task resolution, or omitted entirely.
type TaskDecision struct {
	ID     string `json:"id,omitempty"`
	Title  string `json:"title,omitempty"`
	Create bool   `json:"create,omitempty"`
}

// LogSummary is a per-log summary produced for one bundle member.
type LogSummary struct {
	ID      string `json:"id"`
	Summary string `json:"summary" jsonschema_description:"Plain-language summary, at most 56 characters."`
}

// ClassifyDecision is the strict shape the classifier's LLM call must
// produce, validated by hand after schema-guided generation (§4.8 step 3).
type ClassifyDecision struct {
	Topic     TopicDecision `json:"topic"`
	Task      *TaskDecision `json:"task,omitempty"`
	Summaries []LogSummary  `json:"summaries,omitempty"`
}

var classifyDecisionSchema = jsonschema.Reflect(&ClassifyDecision{})

// classifyParameters renders the ClassifyDecision schema as the "parameters"
// object of a tool-call function definition, forcing the LLM's response
// through structured output rather than free-text JSON embedded in content.
func classifyParameters() map[string]any {
	raw, err := classifyDecisionSchema.MarshalJSON()
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var out map[string]any
	if json.Unmarshal(raw, &out) != nil {
		return map[string]any{"type": "object"}
	}
	return out
}
