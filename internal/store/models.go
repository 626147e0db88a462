// Package store provides SQLite-backed persistence for the proposition
// repository (C2). It is the sole concrete implementation of
// repository.Repository, with a sqlite-vec virtual table driving similarity
// search and a plain JSON export/import layer for backup and test fixtures.
package store

import "github.com/kittclouds/dice/pkg/proposition"

// exportDocument is the portable JSON shape written by Export and read by
// Import. It denormalizes mentions and grounding back onto each proposition
// so the file round-trips through proposition.Proposition without needing
// the SQL schema.
type exportDocument struct {
	Propositions []exportProposition `json:"propositions"`
}

type exportProposition struct {
	ID             string            `json:"id"`
	ContextID      string            `json:"contextId"`
	Text           string            `json:"text"`
	Mentions       []exportMention   `json:"mentions"`
	Confidence     float64           `json:"confidence"`
	Decay          float64           `json:"decay"`
	CreatedAt      int64             `json:"createdAt"`
	RevisedAt      int64             `json:"revisedAt"`
	Grounding      []string          `json:"grounding"`
	ReinforceCount int               `json:"reinforceCount"`
	Level          int               `json:"level"`
	SourceIDs      []string          `json:"sourceIds"`
	Status         string            `json:"status"`
	Reasoning      string            `json:"reasoning,omitempty"`
}

type exportMention struct {
	Role     string   `json:"role"`
	EntityID string   `json:"entityId"`
	Name     string   `json:"name"`
	Labels   []string `json:"labels"`
}

func toExportProposition(p *proposition.Proposition) exportProposition {
	ex := exportProposition{
		ID: p.ID, ContextID: p.ContextID, Text: p.Text,
		Confidence: p.Confidence, Decay: p.Decay,
		CreatedAt: p.Created.UnixMilli(), RevisedAt: p.Revised.UnixMilli(),
		ReinforceCount: p.ReinforceCount, Level: p.Level,
		SourceIDs: append([]string(nil), p.SourceIDs...),
		Status:    string(p.Status), Reasoning: p.Reasoning,
	}
	for g := range p.Grounding {
		ex.Grounding = append(ex.Grounding, g)
	}
	for _, m := range p.Mentions {
		em := exportMention{Role: string(m.Role), EntityID: m.EntityID, Name: m.Name}
		for l := range m.Labels {
			em.Labels = append(em.Labels, l)
		}
		ex.Mentions = append(ex.Mentions, em)
	}
	return ex
}
