package resolver

import (
	"context"
	"strings"
	"sync"

	"github.com/kittclouds/dice/pkg/entity"
	"github.com/kittclouds/dice/pkg/fuzzyname"
)

// InMemoryResolver is the simpler in-memory resolver variant (§4.3): it
// caches previously resolved entities by id and reuses them within a
// session, applying the same name/label strategies as the escalating chain
// but against the cache alone. Used primarily for intra-conversation
// deduplication, where hitting the repository for every mention in a long
// chat would be wasteful.
type InMemoryResolver struct {
	mu    sync.RWMutex
	byID  map[string]entity.Entity
	fuzzy entity.FuzzyNameConfig
}

// NewInMemoryResolver builds an empty session cache.
func NewInMemoryResolver() *InMemoryResolver {
	return &InMemoryResolver{
		byID:  make(map[string]entity.Entity),
		fuzzy: entity.FuzzyNameConfig{MaxDistanceRatio: fuzzyname.DefaultMaxDistanceRatio, MinLengthForFuzzy: fuzzyname.DefaultMinLengthForFuzzy},
	}
}

// Remember adds or overwrites a resolved entity in the session cache. Call
// this after an EscalatingResolver resolution so later mentions in the same
// conversation short-circuit against it.
func (r *InMemoryResolver) Remember(e entity.Entity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[e.ID] = e
}

// Resolve implements entity.Resolver against the cache alone: id match,
// then exact name, then normalized name, then fuzzy name, each label-
// filtered. Unmatched suggestions come back with a zero-value Kind so a
// ChainedResolver knows to continue past this resolver.
func (r *InMemoryResolver) Resolve(_ context.Context, dict entity.DataDictionary, suggestions []entity.SuggestedEntity) ([]entity.Resolution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]entity.Resolution, len(suggestions))
	for i, s := range suggestions {
		if s.ID != "" {
			if e, ok := r.byID[s.ID]; ok {
				out[i] = entity.Resolution{Kind: entity.KindExisting, Suggested: s, Matched: &e}
				continue
			}
		}

		target := entity.NormalizeName(s.Name)
		var best *entity.Entity
		for id := range r.byID {
			e := r.byID[id]
			if !entity.LabelsCompatible(dict, s.Labels, e.Labels) {
				continue
			}
			if strings.EqualFold(e.Name, s.Name) || entity.NormalizeName(e.Name) == target {
				cp := e
				best = &cp
				break
			}
			if fuzzyname.Matches(target, entity.NormalizeName(e.Name), r.fuzzy.MaxDistanceRatio, r.fuzzy.MinLengthForFuzzy) {
				cp := e
				best = &cp
			}
		}
		if best != nil {
			out[i] = entity.Resolution{Kind: entity.KindExisting, Suggested: s, Matched: best}
		}
	}
	return out, nil
}
