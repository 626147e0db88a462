// Package entityindex provides a multi-pattern, Aho-Corasick-backed index
// over known entity names and aliases, serving as both the dictionary
// lookup and the text scanner behind the exact-name and normalized-name
// searchers of the entity resolver chain (§4.3 steps 2-3). It is the
// schema-driven generalization of the teacher's fantasy-domain
// RuntimeDictionary: entities now carry arbitrary DataDictionary labels
// instead of a fixed EntityKind enum.
package entityindex

import (
	"context"
	"sort"
	"strings"
	"unicode"

	"github.com/coregx/ahocorasick"

	"github.com/kittclouds/dice/pkg/entity"
)

// isJoiner reports punctuation that commonly appears inside names ("Monkey
// D. Luffy", "O'Brien", "Jean-Luc") and must be preserved during
// canonicalization so multiword names stay coherent as single patterns.
func isJoiner(r rune) bool {
	switch r {
	case '\'', '’', '‘', '-', '–', '—', '·', '.', '_', '/', '#', '&':
		return true
	default:
		return false
	}
}

// Canonicalize folds to lowercase, preserves letters/digits/joiners, and
// collapses everything else to single spaces. Both pattern compilation and
// document scanning must run through this so offsets line up.
func Canonicalize(s string) string {
	var out strings.Builder
	out.Grow(len(s))
	lastWasSpace := true
	for _, ch := range s {
		c := unicode.ToLower(ch)
		if c == '’' || c == '‘' {
			c = '\''
		}
		if c == '–' || c == '—' {
			c = '-'
		}
		if unicode.IsLetter(c) || unicode.IsDigit(c) || isJoiner(c) {
			out.WriteRune(c)
			lastWasSpace = false
		} else if !lastWasSpace {
			out.WriteRune(' ')
			lastWasSpace = true
		}
	}
	result := strings.TrimRight(out.String(), " ")
	return result
}

// Match is one detected occurrence of a known entity's surface form in a
// scanned document.
type Match struct {
	Start, End int
	Text       string
	EntityIDs  []string
}

// Index is an in-memory entity.Repository backed by an Aho-Corasick
// automaton over every registered entity's name and aliases. It backs the
// exact-name and normalized-name searchers with O(n) multi-pattern scans
// instead of a per-candidate string comparison loop, and can itself serve
// TextSearch directly when the host has no separate full-text store.
type Index struct {
	ac           *ahocorasick.Automaton
	patternIndex map[string]int
	patternToIDs [][]string
	patterns     []string
	entities     map[string]entity.Entity
}

// New builds an empty Index; call Compile once all entities are registered.
func New() *Index {
	return &Index{
		patternIndex: make(map[string]int),
		entities:     make(map[string]entity.Entity),
	}
}

// Compile (re)builds the automaton from the given entities and their
// aliases. Call again after bulk registration; cheap relative to the LLM
// and embedding suspension points it exists to avoid.
func (ix *Index) Compile(entities []entity.Entity, aliases map[string][]string) error {
	ix.patternIndex = make(map[string]int)
	ix.patternToIDs = nil
	ix.patterns = nil
	ix.entities = make(map[string]entity.Entity, len(entities))

	for _, e := range entities {
		ix.entities[e.ID] = e
		surfaces := append([]string{e.Name}, aliases[e.ID]...)
		for _, surface := range surfaces {
			key := Canonicalize(surface)
			if key == "" {
				continue
			}
			if idx, ok := ix.patternIndex[key]; ok {
				ix.patternToIDs[idx] = appendUnique(ix.patternToIDs[idx], e.ID)
				continue
			}
			idx := len(ix.patterns)
			ix.patterns = append(ix.patterns, key)
			ix.patternIndex[key] = idx
			ix.patternToIDs = append(ix.patternToIDs, []string{e.ID})
		}
	}

	if len(ix.patterns) == 0 {
		ix.ac = nil
		return nil
	}
	automaton, err := ahocorasick.NewBuilder().
		AddStrings(ix.patterns).
		SetMatchKind(ahocorasick.LeftmostLongest).
		SetPrefilter(true).
		Build()
	if err != nil {
		return err
	}
	ix.ac = automaton
	return nil
}

func appendUnique(ids []string, id string) []string {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}

// Lookup returns entities whose canonical form equals surface exactly.
func (ix *Index) Lookup(surface string) []entity.Entity {
	key := Canonicalize(surface)
	idx, ok := ix.patternIndex[key]
	if !ok {
		return nil
	}
	out := make([]entity.Entity, 0, len(ix.patternToIDs[idx]))
	for _, id := range ix.patternToIDs[idx] {
		if e, ok := ix.entities[id]; ok {
			out = append(out, e)
		}
	}
	return out
}

// Scan finds every registered surface form occurring in text via a single
// Aho-Corasick pass, O(len(text)) regardless of registry size.
func (ix *Index) Scan(text string) []Match {
	if ix.ac == nil {
		return nil
	}
	canon := Canonicalize(text)
	matches := ix.ac.FindAllOverlapping([]byte(canon))
	out := make([]Match, 0, len(matches))
	for _, m := range matches {
		if m.Start < 0 || m.End > len(canon) || m.Start >= m.End {
			continue
		}
		out = append(out, Match{
			Start:     m.Start,
			End:       m.End,
			Text:      canon[m.Start:m.End],
			EntityIDs: append([]string(nil), ix.patternToIDs[m.PatternID]...),
		})
	}
	return out
}

// FindByID implements entity.Repository.
func (ix *Index) FindByID(_ context.Context, id string) (*entity.Entity, error) {
	if e, ok := ix.entities[id]; ok {
		cp := e
		return &cp, nil
	}
	return nil, nil
}

// TextSearch implements entity.Repository using the exact-match dictionary
// lookup plus a linear scan for substring containment, label-filtered by
// the caller's searcher (§4.3 steps 2-4 apply their own filtering on top of
// this superset).
func (ix *Index) TextSearch(_ context.Context, query string, labels []string) ([]entity.Entity, error) {
	seen := make(map[string]bool)
	var out []entity.Entity
	for _, e := range ix.Lookup(query) {
		if !seen[e.ID] {
			seen[e.ID] = true
			out = append(out, e)
		}
	}
	needle := Canonicalize(query)
	if needle != "" {
		for _, e := range ix.entities {
			if seen[e.ID] {
				continue
			}
			if strings.Contains(Canonicalize(e.Name), needle) || strings.Contains(needle, Canonicalize(e.Name)) {
				seen[e.ID] = true
				out = append(out, e)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// VectorSearch implements entity.Repository but has no embedding capability
// of its own: an in-memory name index cannot approximate semantic
// similarity. It always returns no candidates, deferring to a real
// embedding-backed repository when the host needs step 6 of the chain.
func (ix *Index) VectorSearch(context.Context, string, []string, int) ([]entity.Candidate, error) {
	return nil, nil
}
