// Package pipeline implements processChunk (§4.5, C6): the synchronous
// composition of extraction, entity resolution, and revision that turns one
// chunk of text into a written set of propositions.
package pipeline

import (
	"context"
	"time"

	"github.com/kittclouds/dice/internal/dicelog"
	"github.com/kittclouds/dice/internal/dicerr"
	"github.com/kittclouds/dice/internal/telemetry"
	"github.com/kittclouds/dice/pkg/entity"
	"github.com/kittclouds/dice/pkg/extraction"
	"github.com/kittclouds/dice/pkg/proposition"
	"github.com/kittclouds/dice/pkg/reviser"
)

// ChunkResult is processChunk's return value (§4.5 step 5).
type ChunkResult struct {
	Propositions    []*proposition.Proposition
	RevisionResults []reviser.RevisionResult
	Dropped         int // propositions dropped for carrying a vetoed mention
}

// Pipeline composes the C4/C3/C5 collaborators into processChunk.
type Pipeline struct {
	extractor extraction.Extractor
	resolver  entity.Resolver
	reviser   *reviser.Reviser
	dict      entity.DataDictionary
	log       dicelog.Logger
}

// New builds a Pipeline. dict is the schema the resolver consults for label
// compatibility and creation permission.
func New(extractor extraction.Extractor, resolver entity.Resolver, rv *reviser.Reviser, dict entity.DataDictionary, log dicelog.Logger) (*Pipeline, error) {
	if extractor == nil {
		return nil, dicerr.Config("pipeline.New", "extractor is required")
	}
	if resolver == nil {
		return nil, dicerr.Config("pipeline.New", "resolver is required")
	}
	if rv == nil {
		return nil, dicerr.Config("pipeline.New", "reviser is required")
	}
	if log == nil {
		log = dicelog.NewNop()
	}
	return &Pipeline{extractor: extractor, resolver: resolver, reviser: rv, dict: dict, log: log}, nil
}

// ProcessChunk implements §4.5's four-step, causally-ordered chunk pipeline.
// Callers must not invoke ProcessChunk concurrently for the same contextID
// (§5's single-threaded-per-context scheduling model); the Pipeline itself
// does not serialize across calls. Each suspension point (extract, resolve,
// revise) runs inside its own telemetry span so a trace shows where a chunk
// spent its time.
func (p *Pipeline) ProcessChunk(ctx context.Context, chunk extraction.Chunk, contextID string) (ChunkResult, error) {
	var suggested []extraction.SuggestedProposition
	err := telemetry.Suspend(ctx, telemetry.SuspensionLLM, contextID, func(ctx context.Context) error {
		var extractErr error
		suggested, extractErr = p.extractor.Extract(ctx, chunk, contextID)
		return extractErr
	})
	if err != nil {
		return ChunkResult{}, dicerr.Extraction("pipeline.extract", err)
	}
	if len(suggested) == 0 {
		return ChunkResult{}, nil
	}

	order := dedupeMentions(suggested)
	var resolutions []entity.Resolution
	err = telemetry.Suspend(ctx, telemetry.SuspensionLLM, contextID, func(ctx context.Context) error {
		var resolveErr error
		resolutions, resolveErr = p.resolver.Resolve(ctx, p.dict, order)
		return resolveErr
	})
	if err != nil {
		return ChunkResult{}, err
	}

	resByName := make(map[string]entity.Resolution, len(order))
	for i, s := range order {
		resByName[mentionKey(s.Name)] = resolutions[i]
	}

	groundingID := chunk.GroundingID()
	now := time.Now()

	props := make([]*proposition.Proposition, 0, len(suggested))
	var dropped int
	for _, sp := range suggested {
		mentions, vetoed := rewriteMentions(sp.Mentions, resByName)
		if vetoed {
			dropped++
			p.log.Warn("pipeline.dropped_vetoed_proposition", dicelog.F("text", sp.Text))
			continue
		}

		props = append(props, &proposition.Proposition{
			ContextID:  contextID,
			Text:       sp.Text,
			Mentions:   mentions,
			Confidence: sp.Confidence,
			Decay:      0,
			Created:    now,
			Revised:    now,
			Grounding:  map[string]struct{}{groundingID: {}},
			Status:     proposition.StatusActive,
			Reasoning:  sp.Reasoning,
		})
	}

	if len(props) == 0 {
		return ChunkResult{Dropped: dropped}, nil
	}

	var results []reviser.RevisionResult
	err = telemetry.Suspend(ctx, telemetry.SuspensionLLM, contextID, func(ctx context.Context) error {
		var reviseErr error
		results, reviseErr = p.reviser.Revise(ctx, now, props)
		return reviseErr
	})
	if err != nil {
		return ChunkResult{}, err
	}

	// final reports what was actually persisted, not the raw inputs: for
	// IDENTICAL/SIMILAR that's the merged/reinforced candidate (the input is
	// discarded), for CONTRADICTORY it's both the dampened candidate and the
	// input. seen dedupes candidates coalesced across multiple results in
	// this batch (reviser.Revise's one-shot-per-batch state machine).
	final := make([]*proposition.Proposition, 0, len(results))
	seen := make(map[string]bool, len(results))
	for _, r := range results {
		for _, w := range r.Written {
			if seen[w.ID] {
				continue
			}
			seen[w.ID] = true
			final = append(final, w)
		}
	}
	return ChunkResult{Propositions: final, RevisionResults: results, Dropped: dropped}, nil
}

// dedupeMentions implements §4.5 step 2: aggregate mentions across every
// suggested proposition in the chunk, deduplicated by name.
func dedupeMentions(suggested []extraction.SuggestedProposition) []entity.SuggestedEntity {
	seen := make(map[string]bool)
	var order []entity.SuggestedEntity
	for _, sp := range suggested {
		for _, m := range sp.Mentions {
			key := mentionKey(m.Name)
			if seen[key] {
				continue
			}
			seen[key] = true
			order = append(order, entity.SuggestedEntity{Name: m.Name, Labels: m.Labels, Summary: sp.Text})
		}
	}
	return order
}

func mentionKey(name string) string { return name }

// rewriteMentions implements §4.5 step 3: stamp resolved entity ids onto
// mentions, reporting whether any mention in this proposition was vetoed
// (in which case the whole proposition is dropped).
func rewriteMentions(mentions []extraction.SuggestedMention, resByName map[string]entity.Resolution) ([]proposition.Mention, bool) {
	out := make([]proposition.Mention, 0, len(mentions))
	for _, m := range mentions {
		res, ok := resByName[mentionKey(m.Name)]
		if !ok {
			continue
		}
		if res.Kind == entity.KindVetoed {
			return nil, true
		}

		labels := make(map[string]struct{}, len(m.Labels))
		for _, l := range m.Labels {
			labels[l] = struct{}{}
		}
		out = append(out, proposition.Mention{
			Role:     m.Role,
			EntityID: res.EntityID(),
			Name:     m.Name,
			Labels:   labels,
		})
	}
	return out, false
}
