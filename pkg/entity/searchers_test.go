package entity

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRepo struct {
	entities []Entity
	vector   []Candidate
	// textAll makes TextSearch return every entity, leaving all name
	// matching to the searcher under test.
	textAll bool
}

func (f *fakeRepo) FindByID(_ context.Context, id string) (*Entity, error) {
	for _, e := range f.entities {
		if e.ID == id {
			cp := e
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeRepo) TextSearch(_ context.Context, query string, _ []string) ([]Entity, error) {
	if f.textAll {
		return f.entities, nil
	}
	var out []Entity
	q := strings.ToLower(query)
	for _, e := range f.entities {
		if strings.Contains(strings.ToLower(e.Name), q) || strings.Contains(q, strings.ToLower(e.Name)) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeRepo) VectorSearch(context.Context, string, []string, int) ([]Candidate, error) {
	return f.vector, nil
}

func TestByIDSearcher_FindsByID(t *testing.T) {
	repo := &fakeRepo{entities: []Entity{{ID: "e1", Name: "Alice"}}}
	result, err := ByIDSearcher{}.Search(context.Background(), repo, DataDictionary{}, SuggestedEntity{ID: "e1"})
	require.NoError(t, err)
	require.NotNil(t, result.Confident)
	assert.Equal(t, "e1", result.Confident.ID)
}

func TestByIDSearcher_NoIDNoResult(t *testing.T) {
	repo := &fakeRepo{}
	result, err := ByIDSearcher{}.Search(context.Background(), repo, DataDictionary{}, SuggestedEntity{Name: "Bob"})
	require.NoError(t, err)
	assert.Nil(t, result.Confident)
	assert.Nil(t, result.Candidates)
}

func TestExactNameSearcher_SingleMatchIsConfident(t *testing.T) {
	repo := &fakeRepo{entities: []Entity{{ID: "e1", Name: "Alice"}}}
	result, err := ExactNameSearcher{}.Search(context.Background(), repo, DataDictionary{}, SuggestedEntity{Name: "alice"})
	require.NoError(t, err)
	require.NotNil(t, result.Confident)
	assert.Equal(t, "e1", result.Confident.ID)
}

func TestExactNameSearcher_MultipleMatchesAreCandidatesOnly(t *testing.T) {
	repo := &fakeRepo{entities: []Entity{{ID: "e1", Name: "Alice"}, {ID: "e2", Name: "Alice"}}}
	result, err := ExactNameSearcher{}.Search(context.Background(), repo, DataDictionary{}, SuggestedEntity{Name: "Alice"})
	require.NoError(t, err)
	assert.Nil(t, result.Confident)
	assert.Len(t, result.Candidates, 2)
}

func TestNormalizedNameSearcher_StripsTitle(t *testing.T) {
	repo := &fakeRepo{entities: []Entity{{ID: "e1", Name: "Dr. Alice Smith"}}}
	result, err := NormalizedNameSearcher{}.Search(context.Background(), repo, DataDictionary{}, SuggestedEntity{Name: "Alice Smith"})
	require.NoError(t, err)
	require.NotNil(t, result.Confident)
	assert.Equal(t, "e1", result.Confident.ID)
}

func TestPartialNameSearcher_MatchesSingleToken(t *testing.T) {
	searcher, err := NewPartialNameSearcher(PartialNameConfig{})
	require.NoError(t, err)
	repo := &fakeRepo{entities: []Entity{{ID: "e1", Name: "Alice Smith"}}}
	result, err := searcher.Search(context.Background(), repo, DataDictionary{}, SuggestedEntity{Name: "Alice"})
	require.NoError(t, err)
	require.NotNil(t, result.Confident)
	assert.Equal(t, "e1", result.Confident.ID)
}

func TestPartialNameSearcher_RejectsShortTokens(t *testing.T) {
	searcher, err := NewPartialNameSearcher(PartialNameConfig{MinPartLength: 4})
	require.NoError(t, err)
	repo := &fakeRepo{entities: []Entity{{ID: "e1", Name: "Al Smith"}}}
	result, err := searcher.Search(context.Background(), repo, DataDictionary{}, SuggestedEntity{Name: "Al"})
	require.NoError(t, err)
	assert.Nil(t, result.Confident)
}

func TestFuzzyNameSearcher_MatchesCloseSpelling(t *testing.T) {
	searcher, err := NewFuzzyNameSearcher(FuzzyNameConfig{})
	require.NoError(t, err)
	repo := &fakeRepo{entities: []Entity{{ID: "e1", Name: "Katherine"}}, textAll: true}
	result, err := searcher.Search(context.Background(), repo, DataDictionary{}, SuggestedEntity{Name: "Catherine"})
	require.NoError(t, err)
	require.NotNil(t, result.Confident)
	assert.Equal(t, "e1", result.Confident.ID)
}

func TestNewFuzzyNameSearcher_RejectsInvalidRatio(t *testing.T) {
	_, err := NewFuzzyNameSearcher(FuzzyNameConfig{MaxDistanceRatio: 1.5})
	assert.Error(t, err)
}

func TestVectorSearcher_AutoAcceptsAboveThreshold(t *testing.T) {
	searcher, err := NewVectorSearcher(VectorConfig{AutoAcceptThreshold: 0.9})
	require.NoError(t, err)
	repo := &fakeRepo{vector: []Candidate{{Entity: Entity{ID: "e1", Name: "Alice"}, Score: 0.95}}}
	result, err := searcher.Search(context.Background(), repo, DataDictionary{}, SuggestedEntity{Name: "Alice"})
	require.NoError(t, err)
	require.NotNil(t, result.Confident)
	assert.Equal(t, "e1", result.Confident.ID)
}

func TestVectorSearcher_BelowThresholdYieldsCandidates(t *testing.T) {
	searcher, err := NewVectorSearcher(VectorConfig{AutoAcceptThreshold: 0.99})
	require.NoError(t, err)
	repo := &fakeRepo{vector: []Candidate{{Entity: Entity{ID: "e1", Name: "Alice"}, Score: 0.5}}}
	result, err := searcher.Search(context.Background(), repo, DataDictionary{}, SuggestedEntity{Name: "Alice"})
	require.NoError(t, err)
	assert.Nil(t, result.Confident)
	assert.Len(t, result.Candidates, 1)
}

func TestNewVectorSearcher_RejectsInvalidThreshold(t *testing.T) {
	_, err := NewVectorSearcher(VectorConfig{AutoAcceptThreshold: -1})
	assert.Error(t, err)
}
