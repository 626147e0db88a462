package resolver

import (
	"context"
	"fmt"
	"strings"

	"github.com/kittclouds/dice/internal/dicelog"
	"github.com/kittclouds/dice/pkg/compressor"
	"github.com/kittclouds/dice/pkg/entity"
	"github.com/kittclouds/dice/pkg/llm"
)

// LLMArbiter is the candidate bakeoff arbiter (§4.3): an LLM call over the
// accumulated, label-filtered candidates for one suggestion, asking it to
// pick the correct existing entity or declare no match. Candidates are
// renumbered to local integer indices before the call and mapped back
// afterward, the same id-hallucination defense the reviser's classifier
// uses (§4.4 step 4).
type LLMArbiter struct {
	client     llm.Client
	compressor *compressor.Compressor
	log        dicelog.Logger
}

// NewLLMArbiter builds an arbiter. compressor may be nil to skip context
// compression (candidates are described by name/summary alone).
func NewLLMArbiter(client llm.Client, c *compressor.Compressor, log dicelog.Logger) *LLMArbiter {
	if log == nil {
		log = dicelog.NewNop()
	}
	return &LLMArbiter{client: client, compressor: c, log: log}
}

type arbiterChoice struct {
	Index *int `json:"index"`
}

// Choose implements Arbiter.
func (a *LLMArbiter) Choose(ctx context.Context, dict entity.DataDictionary, suggestion entity.SuggestedEntity, candidates []entity.Candidate) (*entity.Entity, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Mention: %q (labels: %s)\n", suggestion.Name, strings.Join(suggestion.Labels, ", "))
	if suggestion.Summary != "" {
		snippet := suggestion.Summary
		if a.compressor != nil {
			snippet = a.compressor.Compress(suggestion.Summary, suggestion.Name)
		}
		fmt.Fprintf(&sb, "Context: %s\n", snippet)
	}
	sb.WriteString("Candidates:\n")
	for i, c := range candidates {
		fmt.Fprintf(&sb, "%d. %s — %s (labels: %s)\n", i, c.Entity.Name, c.Entity.Description, strings.Join(c.Entity.Labels, ", "))
	}
	sb.WriteString("\nPick the candidate index that the mention refers to, or null if none match.")

	messages := []llm.Message{
		{Role: "system", Content: "You resolve entity mentions to a fixed candidate list. Respond with only the requested JSON."},
		{Role: "user", Content: sb.String()},
	}
	schema := llm.Schema{"type": "object", "properties": map[string]any{"index": map[string]any{"type": []string{"integer", "null"}}}}

	var choice arbiterChoice
	if err := a.client.GenerateStructured(ctx, messages, schema, &choice); err != nil {
		a.log.Warn("arbiter.failed", dicelog.Err(err))
		return nil, nil // arbiter failure degrades to "no match", never blocks the batch
	}
	if choice.Index == nil {
		return nil, nil
	}
	idx := *choice.Index
	if idx < 0 || idx >= len(candidates) {
		a.log.Warn("arbiter.hallucinated_index", dicelog.F("index", idx), dicelog.F("candidate_count", len(candidates)))
		return nil, nil
	}
	e := candidates[idx].Entity
	return &e, nil
}

// AgenticConfig configures an AgenticSearcher: the step-7, LLM-driven
// searcher that may craft its own queries against the repository.
type AgenticConfig struct {
	MaxQueries int // default 2
}

// AgenticSearcher is the optional §4.3 step-7 searcher: it asks the LLM for
// one or more search queries, runs them against the repository's text
// search, and returns the union of results as candidates. It never returns
// a confident match itself; picking among its candidates is left to the
// chain's Arbiter, when one is configured. It implements entity.Searcher so
// it slots directly into the chain.
type AgenticSearcher struct {
	client llm.Client
	cfg    AgenticConfig
	log    dicelog.Logger
}

// NewAgenticSearcher builds the optional searcher. A nil client disables it
// (Search always returns no result).
func NewAgenticSearcher(client llm.Client, cfg AgenticConfig, log dicelog.Logger) *AgenticSearcher {
	if cfg.MaxQueries <= 0 {
		cfg.MaxQueries = 2
	}
	if log == nil {
		log = dicelog.NewNop()
	}
	return &AgenticSearcher{client: client, cfg: cfg, log: log}
}

func (a *AgenticSearcher) Name() string { return "agentic" }

type agenticQueries struct {
	Queries []string `json:"queries"`
}

func (a *AgenticSearcher) Search(ctx context.Context, repo entity.Repository, dict entity.DataDictionary, s entity.SuggestedEntity) (entity.SearcherResult, error) {
	if a.client == nil {
		return entity.SearcherResult{}, nil
	}

	messages := []llm.Message{
		{Role: "system", Content: "You propose short search queries to find an existing entity matching a mention."},
		{Role: "user", Content: fmt.Sprintf("Mention: %q (labels: %s). Summary: %s\nPropose up to %d search queries.", s.Name, strings.Join(s.Labels, ", "), s.Summary, a.cfg.MaxQueries)},
	}
	schema := llm.Schema{"type": "object", "properties": map[string]any{"queries": map[string]any{"type": "array", "items": map[string]any{"type": "string"}}}}

	var qs agenticQueries
	if err := a.client.GenerateStructured(ctx, messages, schema, &qs); err != nil {
		a.log.Warn("agentic.query_generation_failed", dicelog.Err(err))
		return entity.SearcherResult{}, nil
	}

	seen := make(map[string]bool)
	var candidates []entity.Candidate
	for i, q := range qs.Queries {
		if i >= a.cfg.MaxQueries {
			break
		}
		found, err := repo.TextSearch(ctx, q, s.Labels)
		if err != nil {
			return entity.SearcherResult{}, err
		}
		for _, e := range found {
			if seen[e.ID] {
				continue
			}
			seen[e.ID] = true
			candidates = append(candidates, entity.Candidate{Entity: e, Score: 1.0})
		}
	}
	return entity.SearcherResult{Candidates: candidates}, nil
}
