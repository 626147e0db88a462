// Package extraction implements the C4 extractor collaborator (§6:
// Extractor(chunk, context) -> SuggestedPropositions): a single LLM call
// that turns a chunk of narrative or conversational text into candidate
// propositions with their unresolved entity mentions.
package extraction

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strconv"

	"github.com/kittclouds/dice/pkg/proposition"
)

// Chunk is one unit of input text together with the window coordinates that
// make up its identity (§4.6): (sourceId, startIndex, endIndex, contentHash).
type Chunk struct {
	SourceID   string
	Text       string
	StartIndex int
	EndIndex   int
}

// ContentHash hashes the chunk's rendered text, used both for the analyzer's
// dedup check and as the grounding identifier stamped onto propositions
// produced from it.
func (c Chunk) ContentHash() string {
	sum := sha256.Sum256([]byte(c.Text))
	return hex.EncodeToString(sum[:])
}

// GroundingID is the opaque source-chunk identifier recorded in a
// proposition's grounding set.
func (c Chunk) GroundingID() string {
	return c.SourceID + ":" + strconv.Itoa(c.StartIndex) + "-" + strconv.Itoa(c.EndIndex) + ":" + c.ContentHash()[:12]
}

// SuggestedMention is one unresolved entity reference inside a
// SuggestedProposition, the extractor's output before the resolver assigns
// entity ids.
type SuggestedMention struct {
	Role   proposition.Role `json:"role"`
	Name   string           `json:"name"`
	Labels []string         `json:"labels"`
}

// SuggestedProposition is the extractor's unit of output (§4.5 step 1):
// candidate text plus the mentions it needs resolved, not yet persisted.
type SuggestedProposition struct {
	Text       string             `json:"text"`
	Mentions   []SuggestedMention `json:"mentions"`
	Confidence float64            `json:"confidence"`
	Reasoning  string             `json:"reasoning,omitempty"`
}

// ExtractionResult is the raw shape the LLM returns: a flat list of
// candidate propositions for the chunk.
type ExtractionResult struct {
	Propositions []SuggestedProposition `json:"propositions"`
}

// Extractor is the C4 collaborator: pure with respect to the repository,
// producing suggestions from one chunk scoped to one context.
type Extractor interface {
	Extract(ctx context.Context, chunk Chunk, contextID string) ([]SuggestedProposition, error)
}
