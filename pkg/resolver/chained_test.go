package resolver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kittclouds/dice/pkg/entity"
)

func TestChainedResolver_KnownEntityTakesPriority(t *testing.T) {
	known := NewKnownEntityResolver([]entity.Entity{{ID: "e1", Name: "Alice"}})
	escalating := NewEscalatingResolver(&fakeRepo{entities: []entity.Entity{{ID: "e2", Name: "Alice"}}},
		ChainConfig{Searchers: []entity.Searcher{entity.ExactNameSearcher{}}}, nil)
	chain := NewChainedResolver(known, escalating)

	out, err := chain.Resolve(context.Background(), entity.DataDictionary{}, []entity.SuggestedEntity{{Name: "Alice"}})
	require.NoError(t, err)
	assert.Equal(t, entity.KindReferenceOnly, out[0].Kind)
	assert.Equal(t, "e1", out[0].EntityID())
}

func TestChainedResolver_FallsThroughWhenFirstUnresolved(t *testing.T) {
	known := NewKnownEntityResolver(nil)
	escalating := NewEscalatingResolver(&fakeRepo{entities: []entity.Entity{{ID: "e2", Name: "Bob"}}},
		ChainConfig{Searchers: []entity.Searcher{entity.ExactNameSearcher{}}}, nil)
	chain := NewChainedResolver(known, escalating)

	out, err := chain.Resolve(context.Background(), entity.DataDictionary{}, []entity.SuggestedEntity{{Name: "Bob"}})
	require.NoError(t, err)
	assert.Equal(t, entity.KindExisting, out[0].Kind)
	assert.Equal(t, "e2", out[0].EntityID())
}

func TestChainedResolver_ProvisionalResultOverriddenByLaterExisting(t *testing.T) {
	vetoingDict := entity.DataDictionary{}
	first := NewEscalatingResolver(&fakeRepo{}, ChainConfig{Searchers: []entity.Searcher{entity.ExactNameSearcher{}}}, nil)
	second := NewEscalatingResolver(&fakeRepo{entities: []entity.Entity{{ID: "e1", Name: "Ghost"}}},
		ChainConfig{Searchers: []entity.Searcher{entity.ExactNameSearcher{}}}, nil)
	chain := NewChainedResolver(first, second)

	out, err := chain.Resolve(context.Background(), vetoingDict, []entity.SuggestedEntity{{Name: "Ghost"}})
	require.NoError(t, err)
	assert.Equal(t, entity.KindExisting, out[0].Kind)
	assert.Equal(t, "e1", out[0].EntityID())
}

func TestChainedResolver_DefaultsToNewWhenNoResolverProducesResult(t *testing.T) {
	chain := NewChainedResolver(NewKnownEntityResolver(nil))

	out, err := chain.Resolve(context.Background(), entity.DataDictionary{}, []entity.SuggestedEntity{{Name: "Nobody"}})
	require.NoError(t, err)
	assert.Equal(t, entity.KindNew, out[0].Kind)
}
