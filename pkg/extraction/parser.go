package extraction

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/kittclouds/dice/pkg/proposition"
)

// ParseResponse parses the raw LLM response into an ExtractionResult.
// Handles markdown code fences and attempts regex repair on malformed JSON,
// the same fallback ladder the teacher's entity/relation parser used.
func ParseResponse(raw string) (*ExtractionResult, error) {
	cleaned := stripCodeFence(strings.TrimSpace(raw))
	if cleaned == "" {
		return &ExtractionResult{}, nil
	}

	var result ExtractionResult
	if err := json.Unmarshal([]byte(cleaned), &result); err == nil {
		return filterResult(&result), nil
	}

	// Backward-compat: a bare array of propositions.
	var arr []SuggestedProposition
	if err := json.Unmarshal([]byte(cleaned), &arr); err == nil {
		return filterResult(&ExtractionResult{Propositions: arr}), nil
	}

	repaired := repairPropositions(cleaned)
	if len(repaired) == 0 {
		return nil, fmt.Errorf("extraction: failed to parse LLM response")
	}
	return filterResult(&ExtractionResult{Propositions: repaired}), nil
}

// stripCodeFence removes a wrapping markdown code block (```json ... ```).
func stripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	lines := strings.Split(s, "\n")
	if len(lines) > 0 {
		lines = lines[1:]
	}
	if len(lines) > 0 && strings.HasPrefix(strings.TrimSpace(lines[len(lines)-1]), "```") {
		lines = lines[:len(lines)-1]
	}
	return strings.Join(lines, "\n")
}

var validRoles = map[proposition.Role]bool{
	proposition.RoleSubject: true,
	proposition.RoleObject:  true,
	proposition.RoleOther:   true,
}

// filterResult validates and cleans parsed propositions, dropping anything
// too malformed to be useful rather than failing the whole batch.
func filterResult(r *ExtractionResult) *ExtractionResult {
	out := &ExtractionResult{Propositions: make([]SuggestedProposition, 0, len(r.Propositions))}

	for _, p := range r.Propositions {
		p.Text = strings.TrimSpace(p.Text)
		if p.Text == "" {
			continue
		}
		if p.Confidence <= 0 {
			p.Confidence = 0.8
		}
		if p.Confidence > 1 {
			p.Confidence = 1
		}

		mentions := make([]SuggestedMention, 0, len(p.Mentions))
		for _, m := range p.Mentions {
			m.Name = strings.TrimSpace(m.Name)
			if m.Name == "" {
				continue
			}
			if !validRoles[m.Role] {
				m.Role = proposition.RoleOther
			}
			mentions = append(mentions, m)
		}
		p.Mentions = mentions
		p.Reasoning = strings.TrimSpace(p.Reasoning)

		out.Propositions = append(out.Propositions, p)
	}
	return out
}

// propositionPattern matches a complete JSON proposition object for regex
// repair when the overall document fails to parse.
var propositionPattern = regexp.MustCompile(
	`\{\s*"text"\s*:\s*"[^"]*"\s*(?:,\s*"[^"]+"\s*:\s*(?:"[^"]*"|[\d.]+|\[[^\]]*\]|true|false|null))*\s*\}`,
)

func repairPropositions(raw string) []SuggestedProposition {
	matches := propositionPattern.FindAllString(raw, -1)
	out := make([]SuggestedProposition, 0, len(matches))
	for _, m := range matches {
		var p SuggestedProposition
		if err := json.Unmarshal([]byte(m), &p); err != nil {
			continue
		}
		out = append(out, p)
	}
	return out
}
