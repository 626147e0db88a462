// Package store implements the C2 repository contract against SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	sqlitevec "github.com/asg017/sqlite-vec-go-bindings"
	_ "github.com/asg017/sqlite-vec-go-bindings/ncruces"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/kittclouds/dice/internal/dicelog"
	"github.com/kittclouds/dice/pkg/embed"
	"github.com/kittclouds/dice/pkg/proposition"
	"github.com/kittclouds/dice/pkg/repository"
)

// schema lays out one row per proposition, a secondary mentions table keyed
// by (context_id, entity_id) per §6's required index, a grounding table
// (never shrinks, so no update path — only insert), and a sqlite-vec virtual
// table for similarity search.
const schema = `
CREATE TABLE IF NOT EXISTS propositions (
    id               TEXT PRIMARY KEY,
    context_id       TEXT NOT NULL,
    text             TEXT NOT NULL,
    confidence       REAL NOT NULL,
    decay            REAL NOT NULL,
    created_at       INTEGER NOT NULL,
    revised_at       INTEGER NOT NULL,
    reinforce_count  INTEGER NOT NULL DEFAULT 0,
    level            INTEGER NOT NULL DEFAULT 0,
    status           TEXT NOT NULL,
    reasoning        TEXT,
    source_ids       TEXT
);

CREATE INDEX IF NOT EXISTS idx_propositions_context ON propositions(context_id);
CREATE INDEX IF NOT EXISTS idx_propositions_context_status ON propositions(context_id, status);

CREATE TABLE IF NOT EXISTS proposition_mentions (
    proposition_id TEXT NOT NULL,
    context_id     TEXT NOT NULL,
    role           TEXT NOT NULL,
    entity_id      TEXT NOT NULL DEFAULT '',
    name           TEXT NOT NULL,
    labels         TEXT
);

CREATE INDEX IF NOT EXISTS idx_mentions_context_entity ON proposition_mentions(context_id, entity_id);
CREATE INDEX IF NOT EXISTS idx_mentions_proposition ON proposition_mentions(proposition_id);

CREATE TABLE IF NOT EXISTS proposition_grounding (
    proposition_id TEXT NOT NULL,
    source_ref     TEXT NOT NULL,
    PRIMARY KEY (proposition_id, source_ref)
);

CREATE TABLE IF NOT EXISTS window_history (
    source_id    TEXT NOT NULL,
    content_hash TEXT NOT NULL,
    recorded_at  INTEGER NOT NULL,
    PRIMARY KEY (source_id, content_hash)
);

CREATE TABLE IF NOT EXISTS revision_stats (
    context_id      TEXT PRIMARY KEY,
    fast_path_hits  INTEGER NOT NULL DEFAULT 0,
    total_inputs    INTEGER NOT NULL DEFAULT 0
);
`

// vecDim is the embedding width sqlite-vec is configured for. DICE's default
// adapter (pkg/embed.OpenAIService) and the ada-002-class models the corpus
// targets both produce 1536-dimensional vectors.
const vecDim = 1536

// SQLiteStore is the C2 repository: a SQLite-backed, vec0-accelerated
// persistent set of propositions. Safe for concurrent use; every mutating
// call takes the write lock so UpsertAll's atomicity guarantee (§4.2) holds
// even though ncruces's SQLite build is single-writer.
type SQLiteStore struct {
	mu        sync.RWMutex
	db        *sql.DB
	embedder  embed.Service
	vecReady  bool
	log       dicelog.Logger
}

// NewSQLiteStore opens (or creates) a SQLite-backed repository at dsn. Use
// ":memory:" for an ephemeral store. embedder may be nil, in which case
// FindSimilarWithScores returns an error rather than silently degrading —
// callers that never call it (e.g. tests driving the reviser's canonical
// fast path only) don't need one.
func NewSQLiteStore(dsn string, embedder embed.Service, log dicelog.Logger) (*SQLiteStore, error) {
	if log == nil {
		log = dicelog.NewNop()
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: schema: %w", err)
	}

	s := &SQLiteStore{db: db, embedder: embedder, log: log}
	if err := s.ensureVecTable(); err != nil {
		log.Warn("store.vec_unavailable", dicelog.Err(err))
	} else {
		s.vecReady = true
	}
	return s, nil
}

func (s *SQLiteStore) ensureVecTable() error {
	stmt := fmt.Sprintf(`CREATE VIRTUAL TABLE IF NOT EXISTS proposition_vectors USING vec0(
		proposition_id TEXT PRIMARY KEY,
		context_id     TEXT PARTITION KEY,
		embedding      FLOAT[%d]
	)`, vecDim)
	_, err := s.db.Exec(stmt)
	return err
}

// Close releases the underlying connection.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// Upsert implements repository.Repository.
func (s *SQLiteStore) Upsert(ctx context.Context, p *proposition.Proposition) error {
	return s.UpsertAll(ctx, []*proposition.Proposition{p})
}

// UpsertAll implements repository.Repository: every proposition's row,
// mention rows, and grounding rows are written inside one transaction, so a
// caller never observes a partial write for the batch (§4.2, §5).
func (s *SQLiteStore) UpsertAll(ctx context.Context, ps []*proposition.Proposition) error {
	if len(ps) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	defer tx.Rollback()

	for _, p := range ps {
		if err := s.upsertOne(ctx, tx, p); err != nil {
			return fmt.Errorf("store: upsert %s: %w", p.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}

	// Vector writes happen outside the row transaction: they are a derived
	// index, not the source of truth, and a vec0 failure must not roll back
	// an otherwise-successful persist.
	if s.vecReady && s.embedder != nil {
		for _, p := range ps {
			if err := s.indexVector(ctx, p); err != nil {
				s.log.Warn("store.vector_index_failed", dicelog.F("proposition_id", p.ID), dicelog.Err(err))
			}
		}
	}
	return nil
}

func (s *SQLiteStore) upsertOne(ctx context.Context, tx *sql.Tx, p *proposition.Proposition) error {
	sourceIDs, err := json.Marshal(p.SourceIDs)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO propositions (id, context_id, text, confidence, decay, created_at, revised_at,
			reinforce_count, level, status, reasoning, source_ids)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			context_id      = excluded.context_id,
			text            = excluded.text,
			confidence      = excluded.confidence,
			decay           = excluded.decay,
			revised_at      = excluded.revised_at,
			reinforce_count = excluded.reinforce_count,
			level           = excluded.level,
			status          = excluded.status,
			reasoning       = excluded.reasoning,
			source_ids      = excluded.source_ids
	`, p.ID, p.ContextID, p.Text, p.Confidence, p.Decay, p.Created.UnixMilli(), p.Revised.UnixMilli(),
		p.ReinforceCount, p.Level, string(p.Status), p.Reasoning, string(sourceIDs))
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM proposition_mentions WHERE proposition_id = ?`, p.ID); err != nil {
		return err
	}
	for _, m := range p.Mentions {
		labels := make([]string, 0, len(m.Labels))
		for l := range m.Labels {
			labels = append(labels, l)
		}
		labelsJSON, err := json.Marshal(labels)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO proposition_mentions (proposition_id, context_id, role, entity_id, name, labels)
			VALUES (?, ?, ?, ?, ?, ?)
		`, p.ID, p.ContextID, string(m.Role), m.EntityID, m.Name, string(labelsJSON)); err != nil {
			return err
		}
	}

	for g := range p.Grounding {
		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO proposition_grounding (proposition_id, source_ref) VALUES (?, ?)
		`, p.ID, g); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) indexVector(ctx context.Context, p *proposition.Proposition) error {
	vec, err := s.embedder.Embed(ctx, p.Text)
	if err != nil {
		return err
	}
	if len(vec) != vecDim {
		return fmt.Errorf("store: embedding dim %d != expected %d", len(vec), vecDim)
	}
	blob, err := sqlitevec.SerializeFloat32(vec)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO proposition_vectors (proposition_id, context_id, embedding)
		VALUES (?, ?, ?)
		ON CONFLICT(proposition_id) DO UPDATE SET embedding = excluded.embedding
	`, p.ID, p.ContextID, blob)
	return err
}

// FindByID implements repository.Repository.
func (s *SQLiteStore) FindByID(ctx context.Context, id string) (*proposition.Proposition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.findByID(ctx, id)
}

func (s *SQLiteStore) findByID(ctx context.Context, id string) (*proposition.Proposition, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, context_id, text, confidence, decay, created_at, revised_at,
			reinforce_count, level, status, reasoning, source_ids
		FROM propositions WHERE id = ?
	`, id)
	p, err := scanProposition(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := s.attachMentionsAndGrounding(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func scanProposition(row *sql.Row) (*proposition.Proposition, error) {
	var p proposition.Proposition
	var status, reasoning, sourceIDsJSON sql.NullString
	var created, revised int64
	if err := row.Scan(&p.ID, &p.ContextID, &p.Text, &p.Confidence, &p.Decay, &created, &revised,
		&p.ReinforceCount, &p.Level, &status, &reasoning, &sourceIDsJSON); err != nil {
		return nil, err
	}
	p.Created = time.UnixMilli(created)
	p.Revised = time.UnixMilli(revised)
	p.Status = proposition.Status(status.String)
	p.Reasoning = reasoning.String
	if sourceIDsJSON.Valid && sourceIDsJSON.String != "" {
		_ = json.Unmarshal([]byte(sourceIDsJSON.String), &p.SourceIDs)
	}
	return &p, nil
}

func (s *SQLiteStore) attachMentionsAndGrounding(ctx context.Context, p *proposition.Proposition) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT role, entity_id, name, labels FROM proposition_mentions WHERE proposition_id = ?
	`, p.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var role, entityID, name string
		var labelsJSON sql.NullString
		if err := rows.Scan(&role, &entityID, &name, &labelsJSON); err != nil {
			return err
		}
		m := proposition.Mention{Role: proposition.Role(role), EntityID: entityID, Name: name}
		var labels []string
		if labelsJSON.Valid && labelsJSON.String != "" {
			_ = json.Unmarshal([]byte(labelsJSON.String), &labels)
		}
		m.Labels = make(map[string]struct{}, len(labels))
		for _, l := range labels {
			m.Labels[l] = struct{}{}
		}
		p.Mentions = append(p.Mentions, m)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	gRows, err := s.db.QueryContext(ctx, `SELECT source_ref FROM proposition_grounding WHERE proposition_id = ?`, p.ID)
	if err != nil {
		return err
	}
	defer gRows.Close()
	p.Grounding = make(map[string]struct{})
	for gRows.Next() {
		var ref string
		if err := gRows.Scan(&ref); err != nil {
			return err
		}
		p.Grounding[ref] = struct{}{}
	}
	return gRows.Err()
}

// FindSources implements repository.Repository.
func (s *SQLiteStore) FindSources(ctx context.Context, p *proposition.Proposition) ([]*proposition.Proposition, error) {
	out := make([]*proposition.Proposition, 0, len(p.SourceIDs))
	for _, id := range p.SourceIDs {
		src, err := s.FindByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if src != nil {
			out = append(out, src)
		}
	}
	return out, nil
}

// Query implements repository.Repository by loading every row scoped to the
// query's context, then applying the full §4.1 filter set (entity filters
// included) and ordering in Go via proposition.Query.Matches/Sort. The
// set of propositions per context is small enough in DICE's target scale
// that a single-context full scan is the right tradeoff against a bespoke
// SQL translation of every filter combination.
func (s *SQLiteStore) Query(ctx context.Context, q *proposition.Query) ([]*proposition.Proposition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids, err := s.candidateIDs(ctx, q)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	var results []*proposition.Proposition
	for _, id := range ids {
		p, err := s.findByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if p == nil || !q.Matches(p, now) {
			continue
		}
		results = append(results, p)
	}
	proposition.Sort(results, q, now)
	if limit := q.Limit(); limit >= 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// candidateIDs returns every proposition id in q's context, ahead of the
// in-memory filter pass. It does not narrow by entity id; entity filters
// are applied by that later pass.
func (s *SQLiteStore) candidateIDs(ctx context.Context, q *proposition.Query) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM propositions WHERE context_id = ?`, q.ContextID())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// TextSearch implements repository.Repository via SQLite's LIKE operator
// over proposition text, scoped to filter's context when filter is non-nil.
func (s *SQLiteStore) TextSearch(ctx context.Context, textRequest string, filter *proposition.Query) ([]*proposition.Proposition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pattern := "%" + textRequest + "%"
	var rows *sql.Rows
	var err error
	if filter != nil {
		rows, err = s.db.QueryContext(ctx, `
			SELECT id FROM propositions WHERE context_id = ? AND text LIKE ? ESCAPE '\'
		`, filter.ContextID(), pattern)
	} else {
		rows, err = s.db.QueryContext(ctx, `SELECT id FROM propositions WHERE text LIKE ? ESCAPE '\'`, pattern)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*proposition.Proposition
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		p, err := s.findByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if p != nil {
			out = append(out, p)
		}
	}
	return out, rows.Err()
}

// FindSimilarWithScores implements repository.Repository using the vec0
// virtual table for an approximate-nearest-neighbor prefilter, intersected
// with q's §4.1 filters in Go. Vectors are stored unnormalized; vec0's MATCH
// operator returns L2 distance, which is converted to a [0,1] cosine-style
// score via 1/(1+distance) so ordering (closer = higher score) matches the
// rest of the repository's score semantics.
func (s *SQLiteStore) FindSimilarWithScores(ctx context.Context, textRequest string, q *proposition.Query) ([]repository.Scored, error) {
	if s.embedder == nil {
		return nil, fmt.Errorf("store: no embedding service configured")
	}
	if !s.vecReady {
		return nil, fmt.Errorf("store: vector index unavailable")
	}
	vec, err := s.embedder.Embed(ctx, textRequest)
	if err != nil {
		return nil, fmt.Errorf("store: embed query: %w", err)
	}
	blob, err := sqlitevec.SerializeFloat32(vec)
	if err != nil {
		return nil, fmt.Errorf("store: serialize query vector: %w", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	k := 50
	if limit := q.Limit(); limit > 0 {
		k = limit * 5
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT proposition_id, distance
		FROM proposition_vectors
		WHERE context_id = ? AND embedding MATCH ? AND k = ?
		ORDER BY distance ASC
	`, q.ContextID(), blob, k)
	if err != nil {
		return nil, fmt.Errorf("store: vector search: %w", err)
	}
	defer rows.Close()

	now := time.Now()
	var out []repository.Scored
	for rows.Next() {
		var id string
		var distance float64
		if err := rows.Scan(&id, &distance); err != nil {
			return nil, err
		}
		p, err := s.findByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if p == nil || !q.Matches(p, now) {
			continue
		}
		out = append(out, repository.Scored{Proposition: p, Score: 1.0 / (1.0 + distance)})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if limit := q.Limit(); limit >= 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Export serializes every proposition, its mentions, and its grounding set
// to portable JSON.
func (s *SQLiteStore) Export(ctx context.Context) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT id FROM propositions`)
	if err != nil {
		return nil, fmt.Errorf("store: export: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	doc := exportDocument{}
	for _, id := range ids {
		p, err := s.findByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if p != nil {
			doc.Propositions = append(doc.Propositions, toExportProposition(p))
		}
	}
	return json.Marshal(doc)
}

// Import replaces the store's contents with the propositions encoded in
// data, clearing existing rows first. Vector indexing of imported rows
// follows the normal UpsertAll path.
func (s *SQLiteStore) Import(ctx context.Context, data []byte) error {
	var doc exportDocument
	if len(data) > 0 {
		if err := json.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("store: import unmarshal: %w", err)
		}
	}

	s.mu.Lock()
	for _, table := range []string{"proposition_grounding", "proposition_mentions", "propositions"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			s.mu.Unlock()
			return fmt.Errorf("store: clear %s: %w", table, err)
		}
	}
	if s.vecReady {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM proposition_vectors`); err != nil {
			s.mu.Unlock()
			return fmt.Errorf("store: clear vectors: %w", err)
		}
	}
	s.mu.Unlock()

	props := make([]*proposition.Proposition, 0, len(doc.Propositions))
	for _, ep := range doc.Propositions {
		p := &proposition.Proposition{
			ID: ep.ID, ContextID: ep.ContextID, Text: ep.Text,
			Confidence: ep.Confidence, Decay: ep.Decay,
			Created: time.UnixMilli(ep.CreatedAt), Revised: time.UnixMilli(ep.RevisedAt),
			ReinforceCount: ep.ReinforceCount, Level: ep.Level,
			SourceIDs: ep.SourceIDs, Status: proposition.Status(ep.Status),
			Reasoning: ep.Reasoning,
			Grounding: make(map[string]struct{}, len(ep.Grounding)),
		}
		for _, g := range ep.Grounding {
			p.Grounding[g] = struct{}{}
		}
		for _, em := range ep.Mentions {
			m := proposition.Mention{Role: proposition.Role(em.Role), EntityID: em.EntityID, Name: em.Name,
				Labels: make(map[string]struct{}, len(em.Labels))}
			for _, l := range em.Labels {
				m.Labels[l] = struct{}{}
			}
			p.Mentions = append(p.Mentions, m)
		}
		props = append(props, p)
	}
	return s.UpsertAll(ctx, props)
}

var _ repository.Repository = (*SQLiteStore)(nil)
