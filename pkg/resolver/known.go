package resolver

import (
	"context"

	"github.com/kittclouds/dice/pkg/entity"
)

// KnownEntityResolver is the known-entity decorator (§4.3): a caller-pinned
// list of entities (e.g. the current user) matched first by normalized name
// plus label compatibility. Hits become ReferenceOnlyEntity and must not be
// mutated downstream.
type KnownEntityResolver struct {
	known []entity.Entity
}

// NewKnownEntityResolver wraps a plain list of pinned entities. This is the
// "known entities convenience constructor" ergonomics layer: the core spec
// describes the decorator's behavior but not a builder surface for it.
func NewKnownEntityResolver(known []entity.Entity) *KnownEntityResolver {
	return &KnownEntityResolver{known: known}
}

// Resolve implements entity.Resolver. Suggestions with no matching known
// entity come back with Kind unset (zero value); ChainedResolver treats an
// unset Kind as "still unresolved" and continues to the next resolver.
func (r *KnownEntityResolver) Resolve(_ context.Context, dict entity.DataDictionary, suggestions []entity.SuggestedEntity) ([]entity.Resolution, error) {
	out := make([]entity.Resolution, len(suggestions))
	for i, s := range suggestions {
		target := entity.NormalizeName(s.Name)
		for j := range r.known {
			k := r.known[j]
			if entity.NormalizeName(k.Name) != target {
				continue
			}
			if !entity.LabelsCompatible(dict, s.Labels, k.Labels) {
				continue
			}
			out[i] = entity.Resolution{Kind: entity.KindReferenceOnly, Suggested: s, Matched: &k}
			break
		}
	}
	return out, nil
}
