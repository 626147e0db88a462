// Package embed defines the EmbeddingService collaborator from §6 and a
// concrete adapter onto an OpenAI-compatible embeddings endpoint.
package embed

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/kittclouds/dice/internal/dicelog"
)

// Service is the EmbeddingService collaborator: deterministic enough to be
// cacheable, per §6.
type Service interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Config configures an OpenAIService.
type Config struct {
	APIKey  string
	BaseURL string // optional: point at an OpenAI-compatible endpoint
	Model   string
}

// OpenAIService embeds text via an OpenAI-compatible /embeddings endpoint,
// matching the pattern the corpus uses for LLM-adjacent HTTP services: a
// thin wrapper around the provider SDK with logging at the suspension
// point boundary.
type OpenAIService struct {
	client *openai.Client
	model  string
	log    dicelog.Logger
}

// NewOpenAIService builds an OpenAIService from cfg. BaseURL may be left
// empty to use the default OpenAI endpoint, or pointed at a compatible
// embeddings provider.
func NewOpenAIService(cfg Config, log dicelog.Logger) (*OpenAIService, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("embed: api key required")
	}
	occfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		occfg.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = string(openai.AdaEmbeddingV2)
	}
	if log == nil {
		log = dicelog.NewNop()
	}
	return &OpenAIService{
		client: openai.NewClientWithConfig(occfg),
		model:  model,
		log:    log,
	}, nil
}

// Embed is a suspension point (§5): it performs network I/O and must be
// logged at Debug on entry, Info/Warn on completion/failure.
func (s *OpenAIService) Embed(ctx context.Context, text string) ([]float32, error) {
	s.log.Debug("embed.request", dicelog.F("chars", len(text)))
	resp, err := s.client.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
		Input: []string{text},
		Model: openai.EmbeddingModel(s.model),
	})
	if err != nil {
		s.log.Warn("embed.failed", dicelog.Err(err))
		return nil, fmt.Errorf("embed: %w", err)
	}
	if len(resp.Data) == 0 {
		s.log.Warn("embed.empty_response")
		return nil, fmt.Errorf("embed: empty response")
	}
	s.log.Info("embed.ok", dicelog.F("dims", len(resp.Data[0].Embedding)))
	return resp.Data[0].Embedding, nil
}

// NopService returns a zero vector of dim for every input. Useful for tests
// and for hosts that have not wired a real embedding provider yet.
type NopService struct{ Dim int }

func (n NopService) Embed(context.Context, string) ([]float32, error) {
	return make([]float32, n.Dim), nil
}
