package extraction

import (
	"strings"
)

// MaxTextLength bounds how much chunk text is sent to the LLM per call.
const MaxTextLength = 8000

// SystemPrompt instructs the LLM to return structured JSON only.
const SystemPrompt = `You are a proposition extraction assistant for a memory system.
Read the given text and extract discrete factual statements ("propositions") along with
the entities each statement mentions.
Return ONLY a valid JSON object: {"propositions": [...]}. No markdown, no explanation.
Start with { and end with }.`

// BuildUserPrompt constructs the extraction prompt for one chunk, optionally
// priming the model with names already known in the context.
func BuildUserPrompt(text string, knownEntities []string) string {
	truncated := text
	if len(truncated) > MaxTextLength {
		truncated = truncated[:MaxTextLength]
	}

	var sb strings.Builder
	sb.WriteString("Extract propositions from this text. ")
	sb.WriteString("Return a JSON object: {\"propositions\": [...]}\n\n")

	if len(knownEntities) > 0 {
		sb.WriteString("KNOWN ENTITIES (reuse these names when a mention refers to them):\n")
		sb.WriteString(strings.Join(knownEntities, ", "))
		sb.WriteString("\n\n")
	}

	sb.WriteString("Each proposition object:\n")
	sb.WriteString("- \"text\": a single self-contained factual statement (string)\n")
	sb.WriteString("- \"mentions\": array of {\"role\": \"SUBJECT\"|\"OBJECT\"|\"OTHER\", \"name\": string, \"labels\": string[]}\n")
	sb.WriteString("- \"confidence\": 0.0-1.0 (number)\n")
	sb.WriteString("- \"reasoning\": optional short justification (string)\n\n")

	sb.WriteString("RULES:\n")
	sb.WriteString("1. One proposition per discrete fact, not per sentence\n")
	sb.WriteString("2. Every mention needs a role, a surface name, and candidate type labels\n")
	sb.WriteString("3. Skip generic pronoun-only mentions that cannot be named\n")
	sb.WriteString("4. confidence >= 0.8 for explicit statements, 0.5-0.8 for implied\n\n")

	sb.WriteString("TEXT:\n")
	sb.WriteString(truncated)

	return sb.String()
}
