// Package compressor reduces raw source text to entity-neighborhood
// snippets for LLM prompts (§4.3 "Context compression before LLM arbiter").
package compressor

import (
	"strings"
	"unicode"

	"github.com/orsinium-labs/stopwords"

	"github.com/kittclouds/dice/internal/dicerr"
)

// Mode selects the compression strategy.
type Mode string

const (
	ModeWindow   Mode = "WINDOW"
	ModeSentence Mode = "SENTENCE"
	ModeAdaptive Mode = "ADAPTIVE"
)

// Config configures a Compressor. Zero values are replaced with the
// defaults below at construction time; out-of-range values are rejected
// per §7 (InvalidConfig raised at builder time, never at call time).
type Config struct {
	Mode            Mode
	MaxSnippets     int // Window: max occurrences to expand, default 3
	WindowChars     int // Window: ± chars around a hit, default 200
	MaxTotalChars   int // Window: cap on total snippet length, default 1200
	MaxSentences    int // Sentence: max sentences selected, default 3
	PadSentences    bool
	MediumThreshold int // Adaptive: above this, use Window, default 4000
	ShortThreshold  int // Adaptive: above this (and below medium), use Sentence, default 800
	FallbackBudget  int // characters returned when no mention is found, default 500
}

func (c Config) withDefaults() Config {
	if c.MaxSnippets == 0 {
		c.MaxSnippets = 3
	}
	if c.WindowChars == 0 {
		c.WindowChars = 200
	}
	if c.MaxTotalChars == 0 {
		c.MaxTotalChars = 1200
	}
	if c.MaxSentences == 0 {
		c.MaxSentences = 3
	}
	if c.MediumThreshold == 0 {
		c.MediumThreshold = 4000
	}
	if c.ShortThreshold == 0 {
		c.ShortThreshold = 800
	}
	if c.FallbackBudget == 0 {
		c.FallbackBudget = 500
	}
	return c
}

// Compressor produces short snippets of sourceText relevant to entityName,
// for use in LLM arbiter prompts.
type Compressor struct {
	cfg Config
	en  *stopwords.Stopwords
}

// New validates cfg at construction time and returns a Compressor.
func New(cfg Config) (*Compressor, error) {
	cfg = cfg.withDefaults()
	if cfg.MaxSnippets <= 0 || cfg.WindowChars <= 0 || cfg.MaxTotalChars <= 0 ||
		cfg.MaxSentences <= 0 || cfg.MediumThreshold <= 0 || cfg.ShortThreshold <= 0 ||
		cfg.FallbackBudget <= 0 {
		return nil, dicerr.Config("compressor.New", "all size thresholds must be > 0")
	}
	if cfg.MediumThreshold <= cfg.ShortThreshold {
		return nil, dicerr.Config("compressor.New", "mediumThreshold must exceed shortThreshold")
	}
	return &Compressor{cfg: cfg, en: stopwords.MustGet("en")}, nil
}

// Compress reduces sourceText to a snippet relevant to entityName, per the
// configured mode. Never returns empty for non-empty input.
func (c *Compressor) Compress(sourceText, entityName string) string {
	if sourceText == "" {
		return ""
	}
	mode := c.cfg.Mode
	if mode == "" {
		mode = ModeAdaptive
	}
	switch mode {
	case ModeWindow:
		return c.window(sourceText, entityName)
	case ModeSentence:
		return c.sentence(sourceText, entityName)
	default:
		return c.adaptive(sourceText, entityName)
	}
}

func (c *Compressor) adaptive(sourceText, entityName string) string {
	n := len(sourceText)
	switch {
	case n > c.cfg.MediumThreshold:
		return c.window(sourceText, entityName)
	case n > c.cfg.ShortThreshold:
		return c.sentence(sourceText, entityName)
	default:
		return sourceText
	}
}

type span struct{ start, end int }

// window implements §4.3's Window mode: find up to MaxSnippets occurrences,
// expand to ±WindowChars, snap to word boundaries, merge overlapping
// ranges, cap total at MaxTotalChars.
func (c *Compressor) window(sourceText, entityName string) string {
	lower := strings.ToLower(sourceText)
	needle := strings.ToLower(entityName)
	if needle == "" {
		return c.fallback(sourceText)
	}

	var spans []span
	from := 0
	for len(spans) < c.cfg.MaxSnippets {
		idx := strings.Index(lower[from:], needle)
		if idx < 0 {
			break
		}
		start := from + idx
		end := start + len(needle)
		spans = append(spans, expandToWordBoundary(sourceText, start-c.cfg.WindowChars, end+c.cfg.WindowChars))
		from = end
	}
	if len(spans) == 0 {
		return c.fallback(sourceText)
	}

	spans = mergeSpans(spans)
	var sb strings.Builder
	for i, s := range spans {
		if sb.Len() > 0 {
			sb.WriteString(" ... ")
		}
		if sb.Len()+s.end-s.start > c.cfg.MaxTotalChars {
			remaining := c.cfg.MaxTotalChars - sb.Len()
			if remaining <= 0 {
				break
			}
			sb.WriteString(sourceText[s.start : s.start+remaining])
			break
		}
		sb.WriteString(sourceText[s.start:s.end])
		_ = i
	}
	return sb.String()
}

func expandToWordBoundary(text string, start, end int) span {
	if start < 0 {
		start = 0
	}
	if end > len(text) {
		end = len(text)
	}
	for start > 0 && !unicode.IsSpace(rune(text[start-1])) {
		start--
	}
	for end < len(text) && !unicode.IsSpace(rune(text[end])) {
		end++
	}
	return span{start, end}
}

func mergeSpans(spans []span) []span {
	if len(spans) <= 1 {
		return spans
	}
	merged := []span{spans[0]}
	for _, s := range spans[1:] {
		last := &merged[len(merged)-1]
		if s.start <= last.end {
			if s.end > last.end {
				last.end = s.end
			}
			continue
		}
		merged = append(merged, s)
	}
	return merged
}

// sentence implements §4.3's Sentence mode: tokenize into sentences, select
// up to MaxSentences that contain the entity name or any >=3-char name
// token (stopwords excluded from the token set), optionally padding by one
// sentence on each side.
func (c *Compressor) sentence(sourceText, entityName string) string {
	sentences := splitSentences(sourceText)
	if len(sentences) == 0 {
		return c.fallback(sourceText)
	}

	tokens := significantTokens(c.en, entityName)
	lowerName := strings.ToLower(entityName)

	var hits []int
	for i, s := range sentences {
		if len(hits) >= c.cfg.MaxSentences {
			break
		}
		ls := strings.ToLower(s)
		if strings.Contains(ls, lowerName) {
			hits = append(hits, i)
			continue
		}
		for _, t := range tokens {
			if strings.Contains(ls, t) {
				hits = append(hits, i)
				break
			}
		}
	}
	if len(hits) == 0 {
		return c.fallback(sourceText)
	}

	selected := make(map[int]bool)
	for _, h := range hits {
		selected[h] = true
		if c.cfg.PadSentences {
			if h > 0 {
				selected[h-1] = true
			}
			if h < len(sentences)-1 {
				selected[h+1] = true
			}
		}
	}

	var sb strings.Builder
	for i := 0; i < len(sentences); i++ {
		if !selected[i] {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString(" ")
		}
		sb.WriteString(strings.TrimSpace(sentences[i]))
	}
	return sb.String()
}

func splitSentences(text string) []string {
	var out []string
	start := 0
	for i, r := range text {
		if r == '.' || r == '!' || r == '?' {
			out = append(out, text[start:i+1])
			start = i + 1
		}
	}
	if start < len(text) {
		out = append(out, text[start:])
	}
	return out
}

func significantTokens(sw *stopwords.Stopwords, name string) []string {
	fields := strings.FieldsFunc(strings.ToLower(name), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if len(f) < 3 {
			continue
		}
		if sw != nil && sw.Contains(f) {
			continue
		}
		out = append(out, f)
	}
	return out
}

// fallback returns the first FallbackBudget characters, snapped to a word
// boundary, per §4.3: "never null for non-empty input".
func (c *Compressor) fallback(sourceText string) string {
	budget := c.cfg.FallbackBudget
	if budget >= len(sourceText) {
		return sourceText
	}
	s := expandToWordBoundary(sourceText, 0, budget)
	return sourceText[s.start:s.end]
}
