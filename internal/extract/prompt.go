package extract

import (
	"fmt"
	"strings"

	"github.com/adesege/factbeat/internal/ollama"
)

const systemPromptTemplate = `You are an atomic fact extraction engine for a tax assistant. Read one chat message from a business owner and extract every discrete factual claim about the user or their business. Your output must be ONLY a single valid JSON object that conforms to the provided schema. Do not include any other text, prose, or markdown.

Extract claims such as:
- tax identifiers (TIN, VAT registration number, CAC registration number)
- business identity (business name, business type)
- location (state, LGA, business address)
- scale (employee count, annual revenue)

Rules:
- One entry per discrete claim; a message may assert several facts or none.
- entity_name must be a short snake_case attribute name (e.g. "tin", "employee_count", "location").
- layer is one of "project", "area", "resource", "archive"; use "resource" when unsure.
- value carries the claimed value: a string, a number, or a small object.
- confidence is your certainty in [0,1] that the user actually asserted this; corrections ("actually, my TIN is...") are assertions, hedges ("maybe around 5 staff?") lower confidence.
- Do not extract questions, greetings, or claims about third parties.`

// BuildPrompt constructs the chat messages for one extraction call.
// knownFacts, when non-empty, tells the model what is already on record so
// restatements and corrections come back with honest confidence.
func BuildPrompt(messageText, knownFacts string) []ollama.Message {
	var sb strings.Builder
	sb.WriteString(systemPromptTemplate)

	if knownFacts != "" {
		fmt.Fprintf(&sb, "\n\n[Known facts on record]\n%s", knownFacts)
	}

	return []ollama.Message{
		{Role: "system", Content: sb.String()},
		{Role: "user", Content: messageText},
	}
}

// extractionSchema returns the JSON schema for structured extraction output.
func extractionSchema() *ollama.Schema {
	return &ollama.Schema{
		Type: "object",
		Properties: map[string]ollama.SchemaProperty{
			"facts": {Type: "array", Description: "Discrete factual claims asserted in the message, each with entity_name, layer, value, confidence"},
		},
		Required: []string{"facts"},
	}
}
