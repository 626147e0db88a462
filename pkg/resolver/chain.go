// Package resolver assembles the escalating searcher chain and the
// decorators described in §4.3 into concrete entity.Resolver
// implementations: the cheapest-first chain itself, a known-entity pin
// decorator, a chained composition, and a per-session in-memory variant.
package resolver

import (
	"context"

	"github.com/kittclouds/dice/internal/dicelog"
	"github.com/kittclouds/dice/pkg/entity"
)

// Arbiter is the candidate-bakeoff LLM collaborator (§4.3): given
// accumulated, label-filtered candidates, it either picks one or returns
// none.
type Arbiter interface {
	Choose(ctx context.Context, dict entity.DataDictionary, suggestion entity.SuggestedEntity, candidates []entity.Candidate) (*entity.Entity, error)
}

// ChainConfig configures an EscalatingResolver.
type ChainConfig struct {
	Searchers []entity.Searcher // ordered, cheapest first; steps 1-6 by convention
	Agentic   entity.Searcher   // optional step 7
	Arbiter   Arbiter           // optional; nil means "no match" whenever deterministic searchers fail
}

// EscalatingResolver implements §4.3's escalation chain: try each searcher
// in order, first confident result wins, otherwise candidates accumulate
// across every searcher tried. If nothing is confident, accumulated
// candidates are label-filtered and handed to the bakeoff arbiter; failing
// that, creationPermitted decides NewEntity vs VetoedEntity.
type EscalatingResolver struct {
	repo   entity.Repository
	cfg    ChainConfig
	log    dicelog.Logger
}

// NewEscalatingResolver builds the chain against repo.
func NewEscalatingResolver(repo entity.Repository, cfg ChainConfig, log dicelog.Logger) *EscalatingResolver {
	if log == nil {
		log = dicelog.NewNop()
	}
	return &EscalatingResolver{repo: repo, cfg: cfg, log: log}
}

// Resolve implements entity.Resolver, preserving input order.
func (r *EscalatingResolver) Resolve(ctx context.Context, dict entity.DataDictionary, suggestions []entity.SuggestedEntity) ([]entity.Resolution, error) {
	out := make([]entity.Resolution, len(suggestions))
	for i, s := range suggestions {
		res, err := r.resolveOne(ctx, dict, s)
		if err != nil {
			return nil, err
		}
		out[i] = res
	}
	return out, nil
}

func (r *EscalatingResolver) resolveOne(ctx context.Context, dict entity.DataDictionary, s entity.SuggestedEntity) (entity.Resolution, error) {
	var candidates []entity.Candidate
	searchers := r.cfg.Searchers
	if r.cfg.Agentic != nil {
		searchers = append(append([]entity.Searcher{}, searchers...), r.cfg.Agentic)
	}

	for _, searcher := range searchers {
		result, err := searcher.Search(ctx, r.repo, dict, s)
		if err != nil {
			return entity.Resolution{}, err
		}
		if result.Confident != nil {
			r.log.Debug("resolver.confident", dicelog.F("searcher", searcher.Name()), dicelog.F("name", s.Name), dicelog.F("entity_id", result.Confident.ID))
			return entity.Resolution{Kind: entity.KindExisting, Suggested: s, Matched: result.Confident}, nil
		}
		candidates = mergeCandidates(candidates, result.Candidates)
	}

	candidates = filterCompatible(dict, s.Labels, candidates)

	if len(candidates) > 0 && r.cfg.Arbiter != nil {
		chosen, err := r.cfg.Arbiter.Choose(ctx, dict, s, candidates)
		if err != nil {
			return entity.Resolution{}, err
		}
		if chosen != nil {
			r.log.Debug("resolver.arbiter_match", dicelog.F("name", s.Name), dicelog.F("entity_id", chosen.ID))
			return entity.Resolution{Kind: entity.KindExisting, Suggested: s, Matched: chosen}, nil
		}
	}

	if dict.CreationPermitted(s.Labels) {
		return entity.Resolution{Kind: entity.KindNew, Suggested: s}, nil
	}
	r.log.Warn("resolver.vetoed", dicelog.F("name", s.Name), dicelog.F("labels", s.Labels))
	return entity.Resolution{Kind: entity.KindVetoed, Suggested: s}, nil
}

func mergeCandidates(acc []entity.Candidate, fresh []entity.Candidate) []entity.Candidate {
	byID := make(map[string]int, len(acc))
	for i, c := range acc {
		byID[c.Entity.ID] = i
	}
	for _, c := range fresh {
		if idx, ok := byID[c.Entity.ID]; ok {
			if c.Score > acc[idx].Score {
				acc[idx].Score = c.Score
			}
			continue
		}
		byID[c.Entity.ID] = len(acc)
		acc = append(acc, c)
	}
	return acc
}

func filterCompatible(dict entity.DataDictionary, labels []string, candidates []entity.Candidate) []entity.Candidate {
	out := candidates[:0]
	for _, c := range candidates {
		if entity.LabelsCompatible(dict, labels, c.Entity.Labels) {
			out = append(out, c)
		}
	}
	return out
}

// DefaultSearchers builds the steps-1-through-6 chain with default
// thresholds, starting with ById (which needs no config).
func DefaultSearchers() ([]entity.Searcher, error) {
	partial, err := entity.NewPartialNameSearcher(entity.PartialNameConfig{})
	if err != nil {
		return nil, err
	}
	fuzzy, err := entity.NewFuzzyNameSearcher(entity.FuzzyNameConfig{})
	if err != nil {
		return nil, err
	}
	vector, err := entity.NewVectorSearcher(entity.VectorConfig{})
	if err != nil {
		return nil, err
	}
	return []entity.Searcher{
		entity.ByIDSearcher{},
		entity.ExactNameSearcher{},
		entity.NormalizedNameSearcher{},
		partial,
		fuzzy,
		vector,
	}, nil
}
