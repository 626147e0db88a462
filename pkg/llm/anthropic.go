package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/kittclouds/dice/internal/dicelog"
)

// AnthropicConfig configures an AnthropicClient.
type AnthropicConfig struct {
	APIKey         string
	Model          string
	MaxTokens      int64
	Timeout        time.Duration // per-call timeout, §5
	MaxRetries     int
	InitialBackoff time.Duration
}

func (c AnthropicConfig) withDefaults() AnthropicConfig {
	if c.Model == "" {
		c.Model = "claude-3-5-haiku-20241022"
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = 2048
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.InitialBackoff == 0 {
		c.InitialBackoff = time.Second
	}
	return c
}

// AnthropicClient is the concrete Client adapter onto anthropic-sdk-go,
// giving the core a real structured-output collaborator instead of the
// teacher's WASM-fetch-based batch services.
type AnthropicClient struct {
	client anthropic.Client
	cfg    AnthropicConfig
	log    dicelog.Logger
}

// NewAnthropicClient builds an AnthropicClient. cfg.APIKey is required.
func NewAnthropicClient(cfg AnthropicConfig, log dicelog.Logger) (*AnthropicClient, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("llm: api key required")
	}
	if log == nil {
		log = dicelog.NewNop()
	}
	return &AnthropicClient{
		client: anthropic.NewClient(option.WithAPIKey(cfg.APIKey)),
		cfg:    cfg.withDefaults(),
		log:    log,
	}, nil
}

// GenerateText is the textOnly variant §6 documents for extractor prompts:
// the core never inspects free-form LLM text except here.
func (c *AnthropicClient) GenerateText(ctx context.Context, messages []Message) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	return c.callWithRetry(ctx, toAnthropicParams(c.cfg, messages, ""))
}

// GenerateStructured asks the model to return JSON matching schema and
// decodes it into out. The structured-output instruction is appended to the
// prompt rather than relying on a provider-specific tool-call mode, matching
// the teacher's plain single-text-block response handling.
func (c *AnthropicClient) GenerateStructured(ctx context.Context, messages []Message, schema Schema, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	schemaJSON, err := json.Marshal(schema)
	if err != nil {
		return fmt.Errorf("llm: marshal schema: %w", err)
	}
	instruction := fmt.Sprintf("Respond with ONLY valid JSON matching this shape, no markdown fences: %s", schemaJSON)

	text, err := c.callWithRetry(ctx, toAnthropicParams(c.cfg, messages, instruction))
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(stripFences(text)), out); err != nil {
		return fmt.Errorf("llm: decode structured response: %w", err)
	}
	return nil
}

func toAnthropicParams(cfg AnthropicConfig, messages []Message, trailingInstruction string) anthropic.MessageNewParams {
	var system string
	blocks := make([]anthropic.MessageParam, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case "system":
			if system != "" {
				system += "\n"
			}
			system += m.Content
		case "assistant":
			blocks = append(blocks, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			blocks = append(blocks, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	if trailingInstruction != "" {
		blocks = append(blocks, anthropic.NewUserMessage(anthropic.NewTextBlock(trailingInstruction)))
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(cfg.Model),
		MaxTokens: cfg.MaxTokens,
		Messages:  blocks,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	return params
}

// callWithRetry mirrors the corpus's exponential-backoff retry loop around a
// single suspension point, distinguishing retryable transport/5xx/429
// failures from permanent ones.
func (c *AnthropicClient) callWithRetry(ctx context.Context, params anthropic.MessageNewParams) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(float64(c.cfg.InitialBackoff) * math.Pow(2, float64(attempt-1)))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		c.log.Debug("llm.request", dicelog.F("attempt", attempt), dicelog.F("model", string(params.Model)))
		message, err := c.client.Messages.New(ctx, params)
		if err == nil {
			c.log.Info("llm.ok", dicelog.F("input_tokens", message.Usage.InputTokens), dicelog.F("output_tokens", message.Usage.OutputTokens))
			if len(message.Content) == 0 {
				return "", errors.New("llm: empty response")
			}
			block := message.Content[0]
			if block.Type != "text" {
				return "", fmt.Errorf("llm: unexpected block type %q", block.Type)
			}
			return block.Text, nil
		}

		lastErr = err
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if !isRetryable(err) {
			c.log.Warn("llm.non_retryable", dicelog.Err(err))
			return "", fmt.Errorf("llm: %w", err)
		}
		c.log.Warn("llm.retrying", dicelog.Err(err), dicelog.F("attempt", attempt))
	}
	return "", fmt.Errorf("llm: failed after %d attempts: %w", c.cfg.MaxRetries+1, lastErr)
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}
	return false
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		if i := strings.IndexByte(s, '\n'); i >= 0 {
			s = s[i+1:]
		}
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
	}
	return strings.TrimSpace(s)
}
