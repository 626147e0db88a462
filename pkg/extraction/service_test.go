package extraction

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kittclouds/dice/internal/dicelog"
	"github.com/kittclouds/dice/pkg/llm"
	"github.com/kittclouds/dice/pkg/proposition"
)

// ---------------------------------------------------------------------------
// ParseResponse tests
// ---------------------------------------------------------------------------

func TestParseResponse_ValidJSON(t *testing.T) {
	raw := `{
		"propositions": [
			{
				"text": "Luffy traveled to Marineford",
				"mentions": [
					{"role": "SUBJECT", "name": "Luffy", "labels": ["CHARACTER"]},
					{"role": "OBJECT", "name": "Marineford", "labels": ["LOCATION"]}
				],
				"confidence": 0.9
			}
		]
	}`

	result, err := ParseResponse(raw)
	require.NoError(t, err)
	require.Len(t, result.Propositions, 1)

	p := result.Propositions[0]
	assert.Equal(t, "Luffy traveled to Marineford", p.Text)
	require.Len(t, p.Mentions, 2)
	assert.Equal(t, proposition.RoleSubject, p.Mentions[0].Role)
	assert.Equal(t, "Luffy", p.Mentions[0].Name)
}

func TestParseResponse_WithCodeFence(t *testing.T) {
	raw := "```json\n" + `{
		"propositions": [
			{"text": "Zoro wields three swords", "mentions": [{"role": "SUBJECT", "name": "Zoro", "labels": ["CHARACTER"]}], "confidence": 0.9}
		]
	}` + "\n```"

	result, err := ParseResponse(raw)
	require.NoError(t, err)
	require.Len(t, result.Propositions, 1)
	assert.Equal(t, "Zoro wields three swords", result.Propositions[0].Text)
}

func TestParseResponse_TruncatedJSONRepairs(t *testing.T) {
	raw := `{"propositions": [{"text": "Nami sailed the Grand Line", "mentions": [], "confidence": 0.8}], "propositions_extra": [{"text": "Nami sailed the Grand Line`

	result, err := ParseResponse(raw)
	require.NoError(t, err)
	assert.NotEmpty(t, result.Propositions)
}

func TestParseResponse_EmptyInput(t *testing.T) {
	result, err := ParseResponse("")
	require.NoError(t, err)
	assert.Empty(t, result.Propositions)
}

func TestParseResponse_SkipsEmptyText(t *testing.T) {
	raw := `{
		"propositions": [
			{"text": "", "mentions": [], "confidence": 0.9},
			{"text": "Brook plays guitar", "mentions": [], "confidence": 0.8}
		]
	}`

	result, err := ParseResponse(raw)
	require.NoError(t, err)
	require.Len(t, result.Propositions, 1)
	assert.Equal(t, "Brook plays guitar", result.Propositions[0].Text)
}

func TestParseResponse_DefaultsBadRole(t *testing.T) {
	raw := `{
		"propositions": [
			{"text": "Something happened", "mentions": [{"role": "WEIRD", "name": "X", "labels": []}], "confidence": 0.9}
		]
	}`

	result, err := ParseResponse(raw)
	require.NoError(t, err)
	require.Len(t, result.Propositions[0].Mentions, 1)
	assert.Equal(t, proposition.RoleOther, result.Propositions[0].Mentions[0].Role)
}

func TestParseResponse_LegacyArray(t *testing.T) {
	raw := `[
		{"text": "Robin reads ancient texts", "mentions": [], "confidence": 0.9},
		{"text": "Ohara was a library island", "mentions": [], "confidence": 0.85}
	]`

	result, err := ParseResponse(raw)
	require.NoError(t, err)
	assert.Len(t, result.Propositions, 2)
}

// ---------------------------------------------------------------------------
// BuildUserPrompt tests
// ---------------------------------------------------------------------------

func TestBuildUserPrompt_WithKnownEntities(t *testing.T) {
	prompt := BuildUserPrompt("Some text about pirates.", []string{"Luffy", "Zoro"})
	assert.Contains(t, prompt, "KNOWN ENTITIES")
	assert.Contains(t, prompt, "Luffy, Zoro")
	assert.Contains(t, prompt, "Some text about pirates.")
}

func TestBuildUserPrompt_NoKnownEntities(t *testing.T) {
	prompt := BuildUserPrompt("Some text.", nil)
	assert.NotContains(t, prompt, "KNOWN ENTITIES")
	assert.Contains(t, prompt, "Some text.")
}

func TestBuildUserPrompt_TruncatesLongText(t *testing.T) {
	longText := strings.Repeat("x", MaxTextLength+500)
	prompt := BuildUserPrompt(longText, nil)
	assert.NotContains(t, prompt, longText)
}

// ---------------------------------------------------------------------------
// LLMExtractor tests
// ---------------------------------------------------------------------------

type stubLLMClient struct {
	text string
	err  error
}

func (s *stubLLMClient) GenerateStructured(ctx context.Context, messages []llm.Message, schema llm.Schema, out interface{}) error {
	return nil
}

func (s *stubLLMClient) GenerateText(ctx context.Context, messages []llm.Message) (string, error) {
	return s.text, s.err
}

func TestLLMExtractor_Extract(t *testing.T) {
	client := &stubLLMClient{text: `{"propositions": [{"text": "Alice works at Google", "mentions": [{"role": "SUBJECT", "name": "Alice", "labels": ["Person"]}], "confidence": 0.9}]}`}
	ex := NewLLMExtractor(client, dicelog.NewNop())

	chunk := Chunk{SourceID: "doc-1", Text: "Alice works at Google.", StartIndex: 0, EndIndex: 23}
	got, err := ex.Extract(context.Background(), chunk, "ctx-1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Alice works at Google", got[0].Text)
}

func TestLLMExtractor_Extract_EmptyChunk(t *testing.T) {
	ex := NewLLMExtractor(&stubLLMClient{}, dicelog.NewNop())
	got, err := ex.Extract(context.Background(), Chunk{SourceID: "doc-1"}, "ctx-1")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestChunk_GroundingID_Stable(t *testing.T) {
	c := Chunk{SourceID: "doc-1", Text: "same text", StartIndex: 0, EndIndex: 9}
	assert.Equal(t, c.GroundingID(), c.GroundingID())
}
