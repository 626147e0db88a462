package entity

import (
	"context"
	"strings"

	"github.com/kittclouds/dice/internal/dicerr"
	"github.com/kittclouds/dice/pkg/fuzzyname"
)

// SearcherResult is what one escalation step produces: either a single
// confident match, or a set of accumulated candidates to carry forward.
type SearcherResult struct {
	Confident  *Entity
	Candidates []Candidate
}

// Searcher is one cheapest-first strategy in the escalation chain (§4.3).
type Searcher interface {
	Name() string
	Search(ctx context.Context, repo Repository, dict DataDictionary, s SuggestedEntity) (SearcherResult, error)
}

func labelFiltered(dict DataDictionary, want []string, candidates []Entity) []Entity {
	out := make([]Entity, 0, len(candidates))
	for _, c := range candidates {
		if LabelsCompatible(dict, want, c.Labels) {
			out = append(out, c)
		}
	}
	return out
}

func candidatesFrom(entities []Entity) []Candidate {
	out := make([]Candidate, len(entities))
	for i, e := range entities {
		out[i] = Candidate{Entity: e, Score: 1.0}
	}
	return out
}

// ByIDSearcher resolves a suggestion that already carries a target id
// (§4.3 step 1).
type ByIDSearcher struct{}

func (ByIDSearcher) Name() string { return "byId" }

func (ByIDSearcher) Search(ctx context.Context, repo Repository, dict DataDictionary, s SuggestedEntity) (SearcherResult, error) {
	if s.ID == "" {
		return SearcherResult{}, nil
	}
	e, err := repo.FindByID(ctx, s.ID)
	if err != nil {
		return SearcherResult{}, err
	}
	if e == nil {
		return SearcherResult{}, nil
	}
	return SearcherResult{Confident: e}, nil
}

// ExactNameSearcher matches case-insensitive equality on the raw name
// (§4.3 step 2): confident only if exactly one survives label filtering.
type ExactNameSearcher struct{}

func (ExactNameSearcher) Name() string { return "exactName" }

func (ExactNameSearcher) Search(ctx context.Context, repo Repository, dict DataDictionary, s SuggestedEntity) (SearcherResult, error) {
	found, err := repo.TextSearch(ctx, s.Name, s.Labels)
	if err != nil {
		return SearcherResult{}, err
	}
	var exact []Entity
	for _, e := range found {
		if strings.EqualFold(e.Name, s.Name) {
			exact = append(exact, e)
		}
	}
	exact = labelFiltered(dict, s.Labels, exact)
	if len(exact) == 1 {
		return SearcherResult{Confident: &exact[0]}, nil
	}
	return SearcherResult{Candidates: candidatesFrom(exact)}, nil
}

// NormalizedNameSearcher strips titles/suffixes before comparing (§4.3 step 3).
type NormalizedNameSearcher struct{}

func (NormalizedNameSearcher) Name() string { return "normalizedName" }

func (NormalizedNameSearcher) Search(ctx context.Context, repo Repository, dict DataDictionary, s SuggestedEntity) (SearcherResult, error) {
	found, err := repo.TextSearch(ctx, s.Name, s.Labels)
	if err != nil {
		return SearcherResult{}, err
	}
	target := NormalizeName(s.Name)
	var matches []Entity
	for _, e := range found {
		if NormalizeName(e.Name) == target {
			matches = append(matches, e)
		}
	}
	matches = labelFiltered(dict, s.Labels, matches)
	if len(matches) == 1 {
		return SearcherResult{Confident: &matches[0]}, nil
	}
	return SearcherResult{Candidates: candidatesFrom(matches)}, nil
}

// PartialNameConfig configures PartialNameSearcher's minimum token length.
type PartialNameConfig struct {
	MinPartLength int // default 4
}

// PartialNameSearcher matches a single-token mention against a multi-token
// candidate name, or vice versa (§4.3 step 4).
type PartialNameSearcher struct {
	Config PartialNameConfig
}

// NewPartialNameSearcher validates config at construction time per §7.
func NewPartialNameSearcher(cfg PartialNameConfig) (*PartialNameSearcher, error) {
	if cfg.MinPartLength <= 0 {
		cfg.MinPartLength = 4
	}
	return &PartialNameSearcher{Config: cfg}, nil
}

func (s *PartialNameSearcher) Name() string { return "partialName" }

func (s *PartialNameSearcher) Search(ctx context.Context, repo Repository, dict DataDictionary, suggestion SuggestedEntity) (SearcherResult, error) {
	found, err := repo.TextSearch(ctx, suggestion.Name, suggestion.Labels)
	if err != nil {
		return SearcherResult{}, err
	}
	minLen := s.Config.MinPartLength
	suggTokens := Tokens(NormalizeName(suggestion.Name))

	var matches []Entity
	for _, e := range found {
		candTokens := Tokens(NormalizeName(e.Name))
		if partialMatch(suggTokens, candTokens, minLen) {
			matches = append(matches, e)
		}
	}
	matches = labelFiltered(dict, suggestion.Labels, matches)
	if len(matches) == 1 {
		return SearcherResult{Confident: &matches[0]}, nil
	}
	return SearcherResult{Candidates: candidatesFrom(matches)}, nil
}

// partialMatch implements the single-token-vs-multi-token rule: the smaller
// side must be exactly one token, it must appear in the larger side, and
// both the single token and the matched token in the larger name must meet
// minLen.
func partialMatch(a, b []string, minLen int) bool {
	single, multi := a, b
	if len(a) > len(b) {
		single, multi = b, a
	}
	if len(single) != 1 || len(multi) <= 1 {
		return false
	}
	token := single[0]
	if len(token) < minLen {
		return false
	}
	for _, t := range multi {
		if t == token && len(t) >= minLen {
			return true
		}
	}
	return false
}

// FuzzyNameConfig configures FuzzyNameSearcher's distance tolerance.
type FuzzyNameConfig struct {
	MaxDistanceRatio  float64 // default 0.2
	MinLengthForFuzzy int     // default 4
}

// FuzzyNameSearcher matches via bounded Levenshtein distance (§4.3 step 5).
type FuzzyNameSearcher struct {
	Config FuzzyNameConfig
}

// NewFuzzyNameSearcher validates config at construction time per §7.
func NewFuzzyNameSearcher(cfg FuzzyNameConfig) (*FuzzyNameSearcher, error) {
	if cfg.MaxDistanceRatio == 0 {
		cfg.MaxDistanceRatio = fuzzyname.DefaultMaxDistanceRatio
	}
	if cfg.MaxDistanceRatio < 0 || cfg.MaxDistanceRatio > 1 {
		return nil, dicerr.Config("entity.NewFuzzyNameSearcher", "maxDistanceRatio must be in [0,1]")
	}
	if cfg.MinLengthForFuzzy == 0 {
		cfg.MinLengthForFuzzy = fuzzyname.DefaultMinLengthForFuzzy
	}
	if cfg.MinLengthForFuzzy <= 0 {
		return nil, dicerr.Config("entity.NewFuzzyNameSearcher", "minLengthForFuzzy must be > 0")
	}
	return &FuzzyNameSearcher{Config: cfg}, nil
}

func (s *FuzzyNameSearcher) Name() string { return "fuzzyName" }

func (s *FuzzyNameSearcher) Search(ctx context.Context, repo Repository, dict DataDictionary, suggestion SuggestedEntity) (SearcherResult, error) {
	found, err := repo.TextSearch(ctx, suggestion.Name, suggestion.Labels)
	if err != nil {
		return SearcherResult{}, err
	}
	target := NormalizeName(suggestion.Name)

	var matches []Entity
	for _, e := range found {
		if fuzzyname.Matches(target, NormalizeName(e.Name), s.Config.MaxDistanceRatio, s.Config.MinLengthForFuzzy) {
			matches = append(matches, e)
		}
	}
	matches = labelFiltered(dict, suggestion.Labels, matches)
	if len(matches) == 1 {
		return SearcherResult{Confident: &matches[0]}, nil
	}
	return SearcherResult{Candidates: candidatesFrom(matches)}, nil
}

// VectorConfig configures VectorSearcher's auto-accept behavior.
type VectorConfig struct {
	AutoAcceptThreshold float64 // default 0.95
	TopK                int     // default 5
}

// VectorSearcher matches via embedding similarity (§4.3 step 6).
type VectorSearcher struct {
	Config VectorConfig
}

// NewVectorSearcher validates config at construction time per §7.
func NewVectorSearcher(cfg VectorConfig) (*VectorSearcher, error) {
	if cfg.AutoAcceptThreshold == 0 {
		cfg.AutoAcceptThreshold = 0.95
	}
	if cfg.AutoAcceptThreshold < 0 || cfg.AutoAcceptThreshold > 1 {
		return nil, dicerr.Config("entity.NewVectorSearcher", "autoAcceptThreshold must be in [0,1]")
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	return &VectorSearcher{Config: cfg}, nil
}

func (s *VectorSearcher) Name() string { return "vector" }

func (s *VectorSearcher) Search(ctx context.Context, repo Repository, dict DataDictionary, suggestion SuggestedEntity) (SearcherResult, error) {
	text := suggestion.Name
	if suggestion.Summary != "" {
		text = suggestion.Name + " " + suggestion.Summary
	}
	found, err := repo.VectorSearch(ctx, text, suggestion.Labels, s.Config.TopK)
	if err != nil {
		return SearcherResult{}, err
	}
	var candidates []Candidate
	for _, c := range found {
		if LabelsCompatible(dict, suggestion.Labels, c.Entity.Labels) {
			candidates = append(candidates, c)
		}
	}
	if len(candidates) > 0 && candidates[0].Score >= s.Config.AutoAcceptThreshold {
		return SearcherResult{Confident: &candidates[0].Entity}, nil
	}
	return SearcherResult{Candidates: candidates}, nil
}
