// Package llm defines the structured-LLM collaborator DICE's core consumes
// (§6: LlmClient.generateStructured) and a concrete adapter onto a real
// provider SDK.
package llm

import "context"

// Message is one turn in a chat-style prompt.
type Message struct {
	Role    string // "system", "user", "assistant"
	Content string
}

// Schema is an opaque JSON-schema-shaped description of the structured
// response the caller expects. The core never inspects free-form LLM text
// except through documented textOnly variants (extractor prompts).
type Schema map[string]interface{}

// Client is the LlmClient collaborator from §6. GenerateStructured decodes the
// model's response into out according to schema; GenerateText is the
// textOnly variant used by extractor prompts.
type Client interface {
	GenerateStructured(ctx context.Context, messages []Message, schema Schema, out interface{}) error
	GenerateText(ctx context.Context, messages []Message) (string, error)
}
