// Package repository defines the persistent-proposition-set contract (§4.2)
// that the reviser and query surface consume. DICE never hard-codes a
// concrete store against this interface; internal/store provides the
// SQLite-backed implementation.
package repository

import (
	"context"

	"github.com/kittclouds/dice/pkg/proposition"
)

// Scored pairs a proposition with a similarity score in [0,1], as returned
// by FindSimilarWithScores.
type Scored struct {
	Proposition *proposition.Proposition
	Score       float64
}

// Repository is the NamedEntityDataRepository-shaped collaborator from §6,
// specialized to propositions: a persistent set with similarity and filter
// queries. Every mutating call is atomic with respect to concurrent Query
// calls (readers observe pre- or post-state, never a partial write), and
// ordering is stable under a given snapshot (§4.2).
type Repository interface {
	// Upsert inserts or replaces a single proposition by id.
	Upsert(ctx context.Context, p *proposition.Proposition) error

	// UpsertAll applies a batch of upserts as a single atomic unit: either
	// all commit or none do. The reviser relies on this for §5's "no
	// partial writes permitted for that chunk's batch".
	UpsertAll(ctx context.Context, ps []*proposition.Proposition) error

	// FindByID returns the proposition with id, or nil if it does not exist.
	FindByID(ctx context.Context, id string) (*proposition.Proposition, error)

	// FindSources resolves p.SourceIDs to their propositions, in order.
	FindSources(ctx context.Context, p *proposition.Proposition) ([]*proposition.Proposition, error)

	// Query applies §4.1's filter set and returns a read-only snapshot,
	// ordered and limited per q.
	Query(ctx context.Context, q *proposition.Query) ([]*proposition.Proposition, error)

	// FindSimilarWithScores embeds textRequest, intersects a vector
	// similarity prefilter with q's §4.1 filters, and returns results
	// ordered by score descending.
	FindSimilarWithScores(ctx context.Context, textRequest string, q *proposition.Query) ([]Scored, error)

	// TextSearch performs a lexical search; query syntax is implementation-
	// defined and opaque to callers. filter may be nil to search without
	// additional constraints beyond context scoping implied by the caller.
	TextSearch(ctx context.Context, textRequest string, filter *proposition.Query) ([]*proposition.Proposition, error)
}
