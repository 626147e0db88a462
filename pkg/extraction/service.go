package extraction

import (
	"context"

	"github.com/kittclouds/dice/internal/dicelog"
	"github.com/kittclouds/dice/internal/dicerr"
	"github.com/kittclouds/dice/pkg/llm"
)

// LLMExtractor is the concrete C4 extractor: one textOnly LLM call per
// chunk, parsed with the markdown-fence/regex-repair ladder in parser.go.
// It knows nothing about the repository, satisfying §6's purity
// requirement.
type LLMExtractor struct {
	client llm.Client
	log    dicelog.Logger
}

// NewLLMExtractor builds an extractor backed by client.
func NewLLMExtractor(client llm.Client, log dicelog.Logger) *LLMExtractor {
	if log == nil {
		log = dicelog.NewNop()
	}
	return &LLMExtractor{client: client, log: log}
}

// Extract implements Extractor. knownEntities, when the caller has them
// cheaply available (e.g. from the in-memory resolver's session cache), can
// be threaded in via ExtractPrimed; without it the extractor still
// works, just without the priming hint.
func (e *LLMExtractor) Extract(ctx context.Context, chunk Chunk, contextID string) ([]SuggestedProposition, error) {
	return e.extract(ctx, chunk, nil)
}

// ExtractPrimed is Extract with a priming list of names already known in
// the context, improving mention-to-entity name agreement.
func (e *LLMExtractor) ExtractPrimed(ctx context.Context, chunk Chunk, knownEntities []string) ([]SuggestedProposition, error) {
	return e.extract(ctx, chunk, knownEntities)
}

func (e *LLMExtractor) extract(ctx context.Context, chunk Chunk, knownEntities []string) ([]SuggestedProposition, error) {
	text := chunk.Text
	if text == "" {
		return nil, nil
	}

	messages := []llm.Message{
		{Role: "system", Content: SystemPrompt},
		{Role: "user", Content: BuildUserPrompt(text, knownEntities)},
	}

	raw, err := e.client.GenerateText(ctx, messages)
	if err != nil {
		return nil, dicerr.Extraction("extraction.generate", err)
	}

	result, err := ParseResponse(raw)
	if err != nil {
		return nil, dicerr.Extraction("extraction.parse", err)
	}

	e.log.Debug("extraction.chunk", dicelog.F("source_id", chunk.SourceID), dicelog.F("proposition_count", len(result.Propositions)))
	return result.Propositions, nil
}
