package resolver

import (
	"context"

	"github.com/kittclouds/dice/pkg/entity"
)

// ChainedResolver composes multiple entity.Resolver implementations
// (§4.3's "chained decorator"). Each resolver in turn runs only on the
// still-unresolved subset of the input. ExistingEntity and ReferenceOnly
// are terminal and stop further attempts for that input; Vetoed and New are
// provisional and may be overridden by a later ExistingEntity/
// ReferenceOnly. The final result preserves input order.
type ChainedResolver struct {
	resolvers []entity.Resolver
}

// NewChainedResolver composes resolvers in the given order, typically
// [KnownEntityResolver, EscalatingResolver] so pinned entities take
// priority over the general chain.
func NewChainedResolver(resolvers ...entity.Resolver) *ChainedResolver {
	return &ChainedResolver{resolvers: resolvers}
}

func isTerminal(r entity.Resolution) bool {
	return r.Kind == entity.KindExisting || r.Kind == entity.KindReferenceOnly
}

// Resolve implements entity.Resolver.
func (c *ChainedResolver) Resolve(ctx context.Context, dict entity.DataDictionary, suggestions []entity.SuggestedEntity) ([]entity.Resolution, error) {
	final := make([]entity.Resolution, len(suggestions))
	pending := make([]int, len(suggestions))
	for i := range suggestions {
		pending[i] = i
	}

	for _, r := range c.resolvers {
		if len(pending) == 0 {
			break
		}
		batch := make([]entity.SuggestedEntity, len(pending))
		for i, idx := range pending {
			batch[i] = suggestions[idx]
		}
		results, err := r.Resolve(ctx, dict, batch)
		if err != nil {
			return nil, err
		}

		var next []int
		for i, idx := range pending {
			res := results[i]
			if res.Kind == "" {
				next = append(next, idx)
				continue
			}
			if isTerminal(res) {
				final[idx] = res
				continue
			}
			// Provisional New/Vetoed: record it but keep trying later
			// resolvers in case one of them finds an ExistingEntity.
			final[idx] = res
			next = append(next, idx)
		}
		pending = next
	}

	for _, idx := range pending {
		if final[idx].Kind == "" {
			// No resolver in the chain produced even a provisional
			// result; treat as an unresolved New suggestion so callers
			// never see a zero-value Kind.
			final[idx] = entity.Resolution{Kind: entity.KindNew, Suggested: suggestions[idx]}
		}
	}
	return final, nil
}
