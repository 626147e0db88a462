package reviser

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kittclouds/dice/internal/dicelog"
	"github.com/kittclouds/dice/pkg/llm"
	"github.com/kittclouds/dice/pkg/proposition"
	"github.com/kittclouds/dice/pkg/repository"
)

// fakeRepo is an in-memory repository.Repository for reviser tests.
type fakeRepo struct {
	byID     map[string]*proposition.Proposition
	upserted []*proposition.Proposition
	scores   map[string]float64 // proposition id -> similarity score for FindSimilarWithScores
}

func newFakeRepo(props ...*proposition.Proposition) *fakeRepo {
	r := &fakeRepo{byID: make(map[string]*proposition.Proposition), scores: make(map[string]float64)}
	for _, p := range props {
		r.byID[p.ID] = p
	}
	return r
}

func (r *fakeRepo) Upsert(_ context.Context, p *proposition.Proposition) error {
	r.byID[p.ID] = p
	r.upserted = append(r.upserted, p)
	return nil
}

func (r *fakeRepo) UpsertAll(_ context.Context, ps []*proposition.Proposition) error {
	for _, p := range ps {
		r.byID[p.ID] = p
		r.upserted = append(r.upserted, p)
	}
	return nil
}

func (r *fakeRepo) FindByID(_ context.Context, id string) (*proposition.Proposition, error) {
	return r.byID[id], nil
}

func (r *fakeRepo) FindSources(_ context.Context, p *proposition.Proposition) ([]*proposition.Proposition, error) {
	var out []*proposition.Proposition
	for _, id := range p.SourceIDs {
		if s, ok := r.byID[id]; ok {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r *fakeRepo) Query(_ context.Context, q *proposition.Query) ([]*proposition.Proposition, error) {
	var out []*proposition.Proposition
	for _, p := range r.byID {
		if q.Matches(p, time.Now()) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *fakeRepo) FindSimilarWithScores(_ context.Context, _ string, q *proposition.Query) ([]repository.Scored, error) {
	var out []repository.Scored
	for id, score := range r.scores {
		p, ok := r.byID[id]
		if !ok || p.ContextID != q.ContextID() {
			continue
		}
		out = append(out, repository.Scored{Proposition: p, Score: score})
	}
	return out, nil
}

func (r *fakeRepo) TextSearch(_ context.Context, _ string, q *proposition.Query) ([]*proposition.Proposition, error) {
	var out []*proposition.Proposition
	for _, p := range r.byID {
		if p.ContextID == q.ContextID() {
			out = append(out, p)
		}
	}
	return out, nil
}

// fakeLLM returns a fixed classification response regardless of prompt.
type fakeLLM struct {
	out interface{}
	err error
}

func (f *fakeLLM) GenerateStructured(_ context.Context, _ []llm.Message, _ llm.Schema, out interface{}) error {
	if f.err != nil {
		return f.err
	}
	dst, ok := out.(*classificationResponse)
	if !ok {
		return nil
	}
	src, ok := f.out.(classificationResponse)
	if !ok {
		return nil
	}
	*dst = src
	return nil
}

func (f *fakeLLM) GenerateText(_ context.Context, _ []llm.Message) (string, error) {
	return "", nil
}

func mention(entityID string) proposition.Mention {
	return proposition.Mention{Role: proposition.RoleSubject, EntityID: entityID, Name: entityID, Labels: map[string]struct{}{}}
}

func TestRevise_CanonicalDedup(t *testing.T) {
	existing := &proposition.Proposition{
		ID: "p1", ContextID: "ctx", Text: "Alice works at Google.",
		Confidence: 0.9, Decay: 0.2, Mentions: []proposition.Mention{mention("e1")},
		Grounding: map[string]struct{}{"chunk-a": {}}, Status: proposition.StatusActive,
	}
	repo := newFakeRepo(existing)

	rv, err := New(repo, nil, Config{}, dicelog.NewNop())
	require.NoError(t, err)

	n := &proposition.Proposition{
		ContextID: "ctx", Text: "Alice works at Google",
		Confidence: 0.85, Decay: 0.3, Mentions: []proposition.Mention{mention("e1")},
		Grounding: map[string]struct{}{"chunk-b": {}},
	}

	results, err := rv.Revise(context.Background(), time.Now(), []*proposition.Proposition{n})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, OutcomeIdentical, results[0].Outcome)
	assert.Equal(t, "p1", results[0].MatchedID)

	merged := repo.byID["p1"]
	assert.GreaterOrEqual(t, merged.Confidence, 0.9)
	assert.Equal(t, 1, merged.ReinforceCount)
	assert.Contains(t, merged.Grounding, "chunk-b")
}

func TestRevise_AutoMergeFastPath(t *testing.T) {
	existing := &proposition.Proposition{
		ID: "p1", ContextID: "ctx", Text: "Bob enjoys hiking on weekends",
		Confidence: 0.7, Decay: 0.4, Mentions: []proposition.Mention{mention("e1")},
		Status: proposition.StatusActive,
	}
	repo := newFakeRepo(existing)
	repo.scores["p1"] = 0.97

	rv, err := New(repo, nil, Config{}, dicelog.NewNop())
	require.NoError(t, err)

	n := &proposition.Proposition{
		ContextID: "ctx", Text: "Bob really likes weekend hikes",
		Confidence: 0.8, Mentions: []proposition.Mention{mention("e1")},
	}

	results, err := rv.Revise(context.Background(), time.Now(), []*proposition.Proposition{n})
	require.NoError(t, err)
	assert.Equal(t, OutcomeIdentical, results[0].Outcome)
}

func TestRevise_BelowAutoMergeThresholdGoesToLLM(t *testing.T) {
	existing := &proposition.Proposition{
		ID: "p1", ContextID: "ctx", Text: "Bob enjoys hiking",
		Confidence: 0.7, Decay: 0.4, Mentions: []proposition.Mention{mention("e1")},
		Status: proposition.StatusActive,
	}
	repo := newFakeRepo(existing)
	repo.scores["p1"] = 0.94 // strictly below default 0.95

	client := &fakeLLM{out: classificationResponse{Classifications: []classificationItem{
		{NIndex: 0, Outcome: "UNRELATED"},
	}}}
	rv, err := New(repo, client, Config{}, dicelog.NewNop())
	require.NoError(t, err)

	n := &proposition.Proposition{ContextID: "ctx", Text: "Something else entirely", Mentions: []proposition.Mention{mention("e1")}}
	results, err := rv.Revise(context.Background(), time.Now(), []*proposition.Proposition{n})
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnrelated, results[0].Outcome)
}

func TestRevise_Contradictory(t *testing.T) {
	existing := &proposition.Proposition{
		ID: "p1", ContextID: "ctx", Text: "Alice is 30",
		Confidence: 0.8, Decay: 0.1, Mentions: []proposition.Mention{mention("e1")},
		Status: proposition.StatusActive,
	}
	repo := newFakeRepo(existing)
	repo.scores["p1"] = 0.5

	client := &fakeLLM{out: classificationResponse{Classifications: []classificationItem{
		{NIndex: 0, Outcome: "CONTRADICTORY", CandidateIndices: []int{0}},
	}}}
	rv, err := New(repo, client, Config{}, dicelog.NewNop())
	require.NoError(t, err)

	n := &proposition.Proposition{ContextID: "ctx", Text: "Alice is 35", Mentions: []proposition.Mention{mention("e1")}}
	results, err := rv.Revise(context.Background(), time.Now(), []*proposition.Proposition{n})
	require.NoError(t, err)
	assert.Equal(t, OutcomeContradictory, results[0].Outcome)

	dampened := repo.byID["p1"]
	assert.InDelta(t, 0.4, dampened.Confidence, 1e-9)
	assert.InDelta(t, 0.25, dampened.Decay, 1e-9)
	assert.Contains(t, repo.byID, n.ID)
}

func TestRevise_UnrelatedSurpriseDecay(t *testing.T) {
	existing := &proposition.Proposition{
		ID: "p1", ContextID: "ctx", Text: "Bob likes coffee",
		Confidence: 0.6, Decay: 0.5, Mentions: []proposition.Mention{mention("e1")},
		Status: proposition.StatusActive,
	}
	repo := newFakeRepo(existing)
	repo.scores["p1"] = 0.4

	client := &fakeLLM{out: classificationResponse{Classifications: []classificationItem{
		{NIndex: 0, Outcome: "UNRELATED"},
	}}}
	rv, err := New(repo, client, Config{}, dicelog.NewNop())
	require.NoError(t, err)

	n := &proposition.Proposition{ContextID: "ctx", Text: "Alice just moved to Berlin", Decay: 0.5, Mentions: []proposition.Mention{mention("e1")}}
	results, err := rv.Revise(context.Background(), time.Now(), []*proposition.Proposition{n})
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnrelated, results[0].Outcome)
	assert.InDelta(t, 0.4, n.Decay, 1e-9)
}

func TestRevise_Generalizes(t *testing.T) {
	p1 := &proposition.Proposition{ID: "p1", ContextID: "ctx", Text: "Bob likes tea", Confidence: 0.7, Level: 0, Mentions: []proposition.Mention{mention("e1")}, Status: proposition.StatusActive}
	p2 := &proposition.Proposition{ID: "p2", ContextID: "ctx", Text: "Bob likes order", Confidence: 0.7, Level: 0, Mentions: []proposition.Mention{mention("e1")}, Status: proposition.StatusActive}
	repo := newFakeRepo(p1, p2)
	repo.scores["p1"] = 0.4
	repo.scores["p2"] = 0.4

	client := &fakeLLM{out: classificationResponse{Classifications: []classificationItem{
		{NIndex: 0, Outcome: "GENERALIZES", CandidateIndices: []int{0, 1}},
	}}}
	rv, err := New(repo, client, Config{}, dicelog.NewNop())
	require.NoError(t, err)

	n := &proposition.Proposition{ContextID: "ctx", Text: "Bob values thoroughness", Mentions: []proposition.Mention{mention("e1")}}
	results, err := rv.Revise(context.Background(), time.Now(), []*proposition.Proposition{n})
	require.NoError(t, err)
	require.Equal(t, OutcomeGeneralizes, results[0].Outcome)
	assert.Equal(t, 1, n.Level)
	assert.ElementsMatch(t, []string{"p1", "p2"}, n.SourceIDs)
}

func TestRevise_HallucinatedIndexFallsBackToUnrelated(t *testing.T) {
	existing := &proposition.Proposition{ID: "p1", ContextID: "ctx", Text: "Bob likes coffee", Mentions: []proposition.Mention{mention("e1")}, Status: proposition.StatusActive}
	repo := newFakeRepo(existing)
	repo.scores["p1"] = 0.3

	client := &fakeLLM{out: classificationResponse{Classifications: []classificationItem{
		{NIndex: 0, Outcome: "CONTRADICTORY", CandidateIndices: []int{42}},
	}}}
	rv, err := New(repo, client, Config{}, dicelog.NewNop())
	require.NoError(t, err)

	n := &proposition.Proposition{ContextID: "ctx", Text: "Something new", Mentions: []proposition.Mention{mention("e1")}}
	results, err := rv.Revise(context.Background(), time.Now(), []*proposition.Proposition{n})
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnrelated, results[0].Outcome)
}

func TestRevise_LLMUnavailableFallsBackToUnrelated(t *testing.T) {
	existing := &proposition.Proposition{ID: "p1", ContextID: "ctx", Text: "Bob likes coffee", Mentions: []proposition.Mention{mention("e1")}, Status: proposition.StatusActive}
	repo := newFakeRepo(existing)
	repo.scores["p1"] = 0.3

	rv, err := New(repo, nil, Config{}, dicelog.NewNop())
	require.NoError(t, err)

	n := &proposition.Proposition{ContextID: "ctx", Text: "Something new", Mentions: []proposition.Mention{mention("e1")}}
	results, err := rv.Revise(context.Background(), time.Now(), []*proposition.Proposition{n})
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnrelated, results[0].Outcome)
}

func TestRevise_TwoInputsAgainstSameCandidateCoalesceRatherThanRace(t *testing.T) {
	existing := &proposition.Proposition{
		ID: "p1", ContextID: "ctx", Text: "Alice is 30",
		Confidence: 0.6, Decay: 0.1, Mentions: []proposition.Mention{mention("e1")},
		Status: proposition.StatusActive,
	}
	repo := newFakeRepo(existing)
	repo.scores["p1"] = 0.5

	client := &fakeLLM{out: classificationResponse{Classifications: []classificationItem{
		{NIndex: 0, Outcome: "SIMILAR", CandidateIndices: []int{0}},
		{NIndex: 1, Outcome: "CONTRADICTORY", CandidateIndices: []int{0}},
	}}}
	rv, err := New(repo, client, Config{}, dicelog.NewNop())
	require.NoError(t, err)

	a := &proposition.Proposition{ContextID: "ctx", Text: "Alice is around 30", Mentions: []proposition.Mention{mention("e1")}}
	b := &proposition.Proposition{ContextID: "ctx", Text: "Alice is 40", Mentions: []proposition.Mention{mention("e1")}}

	results, err := rv.Revise(context.Background(), time.Now(), []*proposition.Proposition{a, b})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, OutcomeSimilar, results[0].Outcome)
	assert.Equal(t, OutcomeContradictory, results[1].Outcome)

	// Both outcomes target p1; the SIMILAR reinforcement must not be
	// silently dropped by the later CONTRADICTORY transform clobbering it
	// in UpsertAll. Exactly one row for p1 survives, carrying both effects:
	// reinforced once (by SIMILAR) and then dampened (by CONTRADICTORY).
	var p1Rows int
	for _, u := range repo.upserted {
		if u.ID == "p1" {
			p1Rows++
		}
	}
	assert.Equal(t, 1, p1Rows)

	dampened := repo.byID["p1"]
	assert.Equal(t, 1, dampened.ReinforceCount)
	assert.Contains(t, repo.byID, b.ID)
}

func TestNewConfig_RejectsInvalidThreshold(t *testing.T) {
	_, err := NewConfig(10, 1.5)
	assert.Error(t, err)
}

func TestNewConfig_RejectsNonPositiveTopK(t *testing.T) {
	cfg, err := NewConfig(0, 0.9)
	require.NoError(t, err) // 0 is defaulted, not rejected
	assert.Equal(t, 10, cfg.TopK)
}

func TestRevise_StatsCountFastPathHits(t *testing.T) {
	existing := &proposition.Proposition{
		ID: "p1", ContextID: "ctx", Text: "Alice works at Google.",
		Confidence: 0.9, Decay: 0.2, Mentions: []proposition.Mention{mention("e1")},
		Status: proposition.StatusActive,
	}
	repo := newFakeRepo(existing)

	rv, err := New(repo, nil, Config{}, dicelog.NewNop())
	require.NoError(t, err)

	canonical := &proposition.Proposition{
		ContextID: "ctx", Text: "Alice works at Google",
		Confidence: 0.85, Mentions: []proposition.Mention{mention("e1")},
	}
	novel := &proposition.Proposition{
		ContextID: "ctx", Text: "Something entirely unrelated happened",
		Confidence: 0.8,
	}

	_, err = rv.Revise(context.Background(), time.Now(), []*proposition.Proposition{canonical, novel})
	require.NoError(t, err)

	fastPath, total := rv.Stats()
	assert.Equal(t, int64(2), total)
	assert.Equal(t, int64(1), fastPath)
}
