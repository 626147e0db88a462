// Package reviser implements the core of the spec (§4.4, C5): given newly
// proposed propositions and the repository's existing state, classify each
// against gathered candidates and apply the resulting outcome transform,
// persisting the result as a single atomic batch.
package reviser

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/kittclouds/dice/internal/dicelog"
	"github.com/kittclouds/dice/internal/dicerr"
	"github.com/kittclouds/dice/pkg/llm"
	"github.com/kittclouds/dice/pkg/proposition"
	"github.com/kittclouds/dice/pkg/repository"
)

// Outcome is one of the five classification labels from §4.4 step 4.
type Outcome string

const (
	OutcomeIdentical     Outcome = "IDENTICAL"
	OutcomeSimilar       Outcome = "SIMILAR"
	OutcomeContradictory Outcome = "CONTRADICTORY"
	OutcomeUnrelated     Outcome = "UNRELATED"
	OutcomeGeneralizes   Outcome = "GENERALIZES"
)

// RevisionResult is the per-input outcome the pipeline reports back (§4.5
// step 5).
type RevisionResult struct {
	Input     *proposition.Proposition
	Outcome   Outcome
	MatchedID string   // the candidate the outcome was decided against, if any
	CitedIDs  []string // GENERALIZES: every candidate id cited as a source
	// Written is what this outcome actually persists: the merged/reinforced/
	// dampened candidate, the input itself, or both, depending on outcome.
	// This is what survived to repo.UpsertAll, not necessarily Input itself.
	Written []*proposition.Proposition
}

// Config tunes the reviser's fast paths and candidate budget.
type Config struct {
	TopK               int     // candidates considered per input; default 10
	AutoMergeThreshold float64 // embedding similarity that skips the LLM; default 0.95
}

func (c Config) withDefaults() Config {
	if c.TopK <= 0 {
		c.TopK = 10
	}
	if c.AutoMergeThreshold <= 0 {
		c.AutoMergeThreshold = 0.95
	}
	return c
}

// NewConfig validates thresholds at construction time (§7: InvalidConfig is
// raised at builder time, never at call time).
func NewConfig(topK int, autoMergeThreshold float64) (Config, error) {
	cfg := Config{TopK: topK, AutoMergeThreshold: autoMergeThreshold}.withDefaults()
	if cfg.TopK <= 0 {
		return Config{}, dicerr.Config("reviser.NewConfig", "topK must be > 0")
	}
	if cfg.AutoMergeThreshold <= 0 || cfg.AutoMergeThreshold > 1 {
		return Config{}, dicerr.Config("reviser.NewConfig", "autoMergeThreshold must be in (0,1]")
	}
	return cfg, nil
}

// Reviser is the C5 collaborator.
type Reviser struct {
	repo repository.Repository
	llm  llm.Client
	cfg  Config
	log  dicelog.Logger

	fastPathHits int64 // canonical-match or auto-merge, never reached the LLM
	totalInputs  int64
}

// Stats reports how many inputs this Reviser has classified since
// construction, and how many of those took a fast path (canonical-text
// match or auto-merge threshold) rather than an LLM call. Purely an
// operator convenience surfaced by dicectl stats; the pipeline itself never
// reads it.
func (r *Reviser) Stats() (fastPathHits, totalInputs int64) {
	return atomic.LoadInt64(&r.fastPathHits), atomic.LoadInt64(&r.totalInputs)
}

// New builds a Reviser. llmClient may be nil, degrading every batch that
// doesn't short-circuit on a fast path to UNRELATED (insert-only), matching
// §4.4's failure semantics for an unavailable classifier.
func New(repo repository.Repository, llmClient llm.Client, cfg Config, log dicelog.Logger) (*Reviser, error) {
	if repo == nil {
		return nil, dicerr.Config("reviser.New", "repository is required")
	}
	cfg = cfg.withDefaults()
	if cfg.AutoMergeThreshold <= 0 || cfg.AutoMergeThreshold > 1 {
		return nil, dicerr.Config("reviser.New", "autoMergeThreshold must be in (0,1]")
	}
	if log == nil {
		log = dicelog.NewNop()
	}
	return &Reviser{repo: repo, llm: llmClient, cfg: cfg, log: log}, nil
}

// internalCandidate pairs a gathered existing proposition with the score
// used for the auto-merge fast path and LLM-prompt ordering.
type internalCandidate struct {
	prop  *proposition.Proposition
	score float64
}

// pending tracks one input still awaiting classification, plus the
// candidates gathered for it.
type pending struct {
	index      int
	n          *proposition.Proposition
	candidates []internalCandidate
}

// Revise implements §4.4's per-batch pipeline. now is injected so tests are
// deterministic; callers pass time.Now().
func (r *Reviser) Revise(ctx context.Context, now time.Time, suggestions []*proposition.Proposition) ([]RevisionResult, error) {
	results := make([]RevisionResult, len(suggestions))
	var toWrite []*proposition.Proposition

	// candidateState enforces §4.4's one-shot-per-batch state machine: the
	// first transform against an existing candidate clones it into this map,
	// and every later transform against the same candidate id mutates that
	// same clone instead of cloning the (by-then-stale) original again. That
	// keeps toWrite free of two independent clones of the same candidate
	// racing for UpsertAll's last-write-wins. A nil entry marks a candidate
	// cited as a GENERALIZES source, which touches but does not write it.
	candidateState := make(map[string]*proposition.Proposition)

	var pendings []*pending
	for i, n := range suggestions {
		if n.ID == "" {
			n.ID = uuid.NewString()
		}
		if n.Created.IsZero() {
			n.Created = now
		}
		n.Revised = now
		atomic.AddInt64(&r.totalInputs, 1)

		candidates, err := r.gatherCandidates(ctx, n)
		if err != nil {
			return nil, dicerr.Persistence("reviser.gatherCandidates", err)
		}

		if hit := canonicalMatch(n, candidates); hit != nil {
			applied, merged := r.applyIdentical(hit.prop, n, candidateState)
			toWrite = append(toWrite, applied...)
			results[i] = RevisionResult{Input: n, Outcome: OutcomeIdentical, MatchedID: hit.prop.ID, Written: []*proposition.Proposition{merged}}
			atomic.AddInt64(&r.fastPathHits, 1)
			continue
		}

		if top := topCandidate(candidates); top != nil && top.score >= r.cfg.AutoMergeThreshold {
			applied, merged := r.applyIdentical(top.prop, n, candidateState)
			toWrite = append(toWrite, applied...)
			results[i] = RevisionResult{Input: n, Outcome: OutcomeIdentical, MatchedID: top.prop.ID, Written: []*proposition.Proposition{merged}}
			atomic.AddInt64(&r.fastPathHits, 1)
			continue
		}

		pendings = append(pendings, &pending{index: i, n: n, candidates: candidates})
	}

	if len(pendings) > 0 {
		classifications := r.classifyBatch(ctx, pendings)
		for _, p := range pendings {
			cls, ok := classifications[p.index]
			if !ok {
				cls = classification{outcome: OutcomeUnrelated}
			}
			written, res := r.applyOutcome(p, cls, candidateState, len(p.candidates) > 0)
			toWrite = append(toWrite, written...)
			results[p.index] = res
		}
	}

	if len(toWrite) == 0 {
		return results, nil
	}
	if err := r.repo.UpsertAll(ctx, toWrite); err != nil {
		return nil, dicerr.Persistence("reviser.UpsertAll", err)
	}
	return results, nil
}

// gatherCandidates implements §4.4 step 1: canonical-text and vector
// similarity candidates within the same context, entity-overlap prefiltered.
func (r *Reviser) gatherCandidates(ctx context.Context, n *proposition.Proposition) ([]internalCandidate, error) {
	entityIDs := n.EntityIDs()

	q := proposition.New(n.ContextID).WithLimit(r.cfg.TopK)
	if len(entityIDs) > 0 {
		q = q.WithAnyEntityIDs(entityIDs...)
	}

	byID := make(map[string]*internalCandidate)

	textHits, err := r.repo.TextSearch(ctx, n.Text, q)
	if err != nil {
		return nil, err
	}
	for _, p := range textHits {
		score := 0.0
		if canonicalize(p.Text) == canonicalize(n.Text) {
			score = 1.0
		}
		addCandidate(byID, p, score)
	}

	scored, err := r.repo.FindSimilarWithScores(ctx, n.Text, q)
	if err != nil {
		return nil, err
	}
	for _, s := range scored {
		addCandidate(byID, s.Proposition, s.Score)
	}

	out := make([]internalCandidate, 0, len(byID))
	for _, c := range byID {
		if !shareEntity(c.prop, entityIDs) {
			continue
		}
		out = append(out, *c)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].score > out[j].score })
	if len(out) > r.cfg.TopK {
		out = out[:r.cfg.TopK]
	}
	return out, nil
}

func addCandidate(byID map[string]*internalCandidate, p *proposition.Proposition, score float64) {
	if p == nil {
		return
	}
	if existing, ok := byID[p.ID]; ok {
		if score > existing.score {
			existing.score = score
		}
		return
	}
	byID[p.ID] = &internalCandidate{prop: p, score: score}
}

// shareEntity implements the entity-overlap prefilter: a candidate survives
// only if it shares at least one resolved entity id with n. Propositions
// with no resolved entities on either side never survive the filter.
func shareEntity(candidate *proposition.Proposition, entityIDs []string) bool {
	if len(entityIDs) == 0 {
		return false
	}
	want := make(map[string]struct{}, len(entityIDs))
	for _, id := range entityIDs {
		want[id] = struct{}{}
	}
	for _, id := range candidate.EntityIDs() {
		if _, ok := want[id]; ok {
			return true
		}
	}
	return false
}

// canonicalize normalizes text for the exact-dedup comparison in step 2:
// lowercase, collapsed whitespace, trailing punctuation stripped.
func canonicalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.Join(strings.Fields(s), " ")
	return strings.TrimRight(s, ".!?,;: ")
}

func canonicalMatch(n *proposition.Proposition, candidates []internalCandidate) *internalCandidate {
	target := canonicalize(n.Text)
	for i := range candidates {
		if canonicalize(candidates[i].prop.Text) == target {
			return &candidates[i]
		}
	}
	return nil
}

func topCandidate(candidates []internalCandidate) *internalCandidate {
	if len(candidates) == 0 {
		return nil
	}
	return &candidates[0]
}

// currentOrClone returns the clone already queued for original's id this
// batch, or clones original and registers it if this is the first transform
// to touch that id. isNew reports whether the caller still needs to append
// the clone to toWrite itself.
func currentOrClone(state map[string]*proposition.Proposition, original *proposition.Proposition) (clone *proposition.Proposition, isNew bool) {
	if existing, ok := state[original.ID]; ok && existing != nil {
		return existing, false
	}
	clone = original.Clone()
	state[original.ID] = clone
	return clone, true
}

// applyIdentical implements §4.4's IDENTICAL transform: merge n into
// candidate and discard n. If candidate already has a pending write this
// batch (from an earlier IDENTICAL against the same id), the merge coalesces
// into that same clone instead of creating a second one; the returned slice
// is then empty since the clone is already in toWrite.
func (r *Reviser) applyIdentical(candidate, n *proposition.Proposition, state map[string]*proposition.Proposition) (toWrite []*proposition.Proposition, written *proposition.Proposition) {
	merged, isNew := currentOrClone(state, candidate)
	merged.Confidence = minF(1, maxF(merged.Confidence, n.Confidence)+0.05)
	merged.Decay = merged.Decay * 0.7
	merged.UnionGrounding(n.Grounding)
	merged.ReinforceCount++
	merged.Revised = n.Revised
	if isNew {
		toWrite = []*proposition.Proposition{merged}
	}
	return toWrite, merged
}

type classification struct {
	outcome      Outcome
	candidateIDs []string // resolved from local indices; len 1 for IDENTICAL/SIMILAR/CONTRADICTORY, >=1 for GENERALIZES
}

// classifyBatch implements §4.4 step 4: a single LLM call covering every
// pending input, with per-input local candidate indices to defend against
// id hallucination.
func (r *Reviser) classifyBatch(ctx context.Context, pendings []*pending) map[int]classification {
	out := make(map[int]classification, len(pendings))

	if r.llm == nil {
		for _, p := range pendings {
			out[p.index] = classification{outcome: OutcomeUnrelated}
		}
		return out
	}

	prompt := buildClassificationPrompt(pendings)
	schema := llm.Schema{
		"type": "object",
		"properties": map[string]any{
			"classifications": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"n_index":           map[string]any{"type": "integer"},
						"outcome":           map[string]any{"type": "string"},
						"candidate_indices": map[string]any{"type": "array", "items": map[string]any{"type": "integer"}},
					},
				},
			},
		},
	}

	var resp classificationResponse
	err := r.llm.GenerateStructured(ctx, []llm.Message{
		{Role: "system", Content: classificationSystemPrompt},
		{Role: "user", Content: prompt},
	}, schema, &resp)
	if err != nil {
		r.log.Warn("reviser.classification_failed", dicelog.Err(err))
		for _, p := range pendings {
			out[p.index] = classification{outcome: OutcomeUnrelated}
		}
		return out
	}

	byIndex := make(map[int]*pending, len(pendings))
	for _, p := range pendings {
		byIndex[p.index] = p
	}

	seen := make(map[int]bool, len(pendings))
	for _, item := range resp.Classifications {
		p, ok := byIndex[item.NIndex]
		if !ok {
			continue
		}
		if seen[item.NIndex] {
			continue // duplicate classification for the same n: keep the first
		}

		outcome := Outcome(strings.ToUpper(item.Outcome))
		if !validOutcome(outcome) {
			continue
		}

		candidateIDs := make([]string, 0, len(item.CandidateIndices))
		hallucinated := false
		for _, ci := range item.CandidateIndices {
			if ci < 0 || ci >= len(p.candidates) {
				hallucinated = true
				break
			}
			candidateIDs = append(candidateIDs, p.candidates[ci].prop.ID)
		}
		if hallucinated {
			out[item.NIndex] = classification{outcome: OutcomeUnrelated}
			seen[item.NIndex] = true
			continue
		}

		seen[item.NIndex] = true
		out[item.NIndex] = classification{outcome: outcome, candidateIDs: candidateIDs}
	}

	for _, p := range pendings {
		if _, ok := out[p.index]; !ok {
			out[p.index] = classification{outcome: OutcomeUnrelated}
		}
	}
	return out
}

func validOutcome(o Outcome) bool {
	switch o {
	case OutcomeIdentical, OutcomeSimilar, OutcomeContradictory, OutcomeUnrelated, OutcomeGeneralizes:
		return true
	}
	return false
}

type classificationItem struct {
	NIndex           int    `json:"n_index"`
	Outcome          string `json:"outcome"`
	CandidateIndices []int  `json:"candidate_indices"`
}

type classificationResponse struct {
	Classifications []classificationItem `json:"classifications"`
}

const classificationSystemPrompt = `You classify proposed statements against existing candidate statements.
For each input, respond with exactly one outcome: IDENTICAL, SIMILAR, CONTRADICTORY, UNRELATED, or GENERALIZES.
Reference candidates only by the integer index shown for that input. Respond with only the requested JSON.`

func buildClassificationPrompt(pendings []*pending) string {
	var sb strings.Builder
	for _, p := range pendings {
		fmt.Fprintf(&sb, "Input %d: %q\n", p.index, p.n.Text)
		if len(p.candidates) == 0 {
			sb.WriteString("  Candidates: none\n")
			continue
		}
		sb.WriteString("  Candidates:\n")
		for i, c := range p.candidates {
			fmt.Fprintf(&sb, "    %d. %q (level %d)\n", i, c.prop.Text, c.prop.Level)
		}
	}
	return sb.String()
}

// applyOutcome implements §4.4 step 5 for one pending input once its
// classification is known.
func (r *Reviser) applyOutcome(p *pending, cls classification, state map[string]*proposition.Proposition, hadCandidates bool) ([]*proposition.Proposition, RevisionResult) {
	n := p.n
	switch cls.outcome {
	case OutcomeIdentical:
		candidate := findCandidate(p.candidates, firstOrEmpty(cls.candidateIDs))
		if candidate == nil {
			return r.fallbackUnrelated(p)
		}
		toWrite, merged := r.applyIdentical(candidate.prop, n, state)
		return toWrite, RevisionResult{Input: n, Outcome: OutcomeIdentical, MatchedID: candidate.prop.ID, Written: []*proposition.Proposition{merged}}

	case OutcomeSimilar:
		candidate := findCandidate(p.candidates, firstOrEmpty(cls.candidateIDs))
		if candidate == nil {
			return r.fallbackUnrelated(p)
		}
		reinforced, isNew := currentOrClone(state, candidate.prop)
		reinforced.Confidence = minF(1, reinforced.Confidence*1.05)
		reinforced.Decay = reinforced.Decay * 0.85
		reinforced.ReinforceCount++
		reinforced.Revised = n.Revised
		var toWrite []*proposition.Proposition
		if isNew {
			toWrite = []*proposition.Proposition{reinforced}
		}
		return toWrite, RevisionResult{Input: n, Outcome: OutcomeSimilar, MatchedID: candidate.prop.ID, Written: []*proposition.Proposition{reinforced}}

	case OutcomeContradictory:
		candidate := findCandidate(p.candidates, firstOrEmpty(cls.candidateIDs))
		if candidate == nil {
			return r.fallbackUnrelated(p)
		}
		dampened, isNew := currentOrClone(state, candidate.prop)
		dampened.Confidence = dampened.Confidence * 0.5
		dampened.Decay = minF(1, dampened.Decay+0.15)
		dampened.Revised = n.Revised
		toWrite := []*proposition.Proposition{n}
		if isNew {
			toWrite = append(toWrite, dampened)
		}
		return toWrite, RevisionResult{Input: n, Outcome: OutcomeContradictory, MatchedID: candidate.prop.ID, Written: []*proposition.Proposition{dampened, n}}

	case OutcomeGeneralizes:
		if len(cls.candidateIDs) == 0 {
			return r.fallbackUnrelated(p)
		}
		maxLevel := -1
		for _, id := range cls.candidateIDs {
			c := findCandidate(p.candidates, id)
			if c == nil {
				return r.fallbackUnrelated(p)
			}
			if c.prop.Level > maxLevel {
				maxLevel = c.prop.Level
			}
			if _, touched := state[c.prop.ID]; !touched {
				state[c.prop.ID] = nil // cited only, no write of its own
			}
		}
		n.Level = maxLevel + 1
		n.SourceIDs = append([]string(nil), cls.candidateIDs...)
		return []*proposition.Proposition{n}, RevisionResult{Input: n, Outcome: OutcomeGeneralizes, CitedIDs: cls.candidateIDs, Written: []*proposition.Proposition{n}}

	default: // UNRELATED
		return r.insertUnrelated(p, hadCandidates)
	}
}

func (r *Reviser) fallbackUnrelated(p *pending) ([]*proposition.Proposition, RevisionResult) {
	return r.insertUnrelated(p, len(p.candidates) > 0)
}

// insertUnrelated implements §4.4's UNRELATED outcome, including
// surprise-prioritized retention when the context already held candidates.
func (r *Reviser) insertUnrelated(p *pending, hadCandidates bool) ([]*proposition.Proposition, RevisionResult) {
	n := p.n
	if hadCandidates {
		n.Decay = maxF(0, n.Decay*0.8)
	}
	return []*proposition.Proposition{n}, RevisionResult{Input: n, Outcome: OutcomeUnrelated, Written: []*proposition.Proposition{n}}
}

func findCandidate(candidates []internalCandidate, id string) *internalCandidate {
	if id == "" {
		return nil
	}
	for i := range candidates {
		if candidates[i].prop.ID == id {
			return &candidates[i]
		}
	}
	return nil
}

func firstOrEmpty(ids []string) string {
	if len(ids) == 0 {
		return ""
	}
	return ids[0]
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxF(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
