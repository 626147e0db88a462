package store

import (
	"context"
	"testing"

	"github.com/kittclouds/dice/pkg/extraction"
)

func TestWindowHistoryRoundTrips(t *testing.T) {
	s := mustStore(t)
	ctx := context.Background()
	h := s.History()

	chunk := extraction.Chunk{SourceID: "doc-1", Text: "hello world", StartIndex: 0, EndIndex: 10}

	seen, err := h.WasProcessed(ctx, "doc-1", chunk.ContentHash())
	if err != nil {
		t.Fatalf("WasProcessed: %v", err)
	}
	if seen {
		t.Fatal("expected unseen window before Record")
	}

	if err := h.Record(ctx, "doc-1", chunk); err != nil {
		t.Fatalf("Record: %v", err)
	}

	seen, err = h.WasProcessed(ctx, "doc-1", chunk.ContentHash())
	if err != nil {
		t.Fatalf("WasProcessed after record: %v", err)
	}
	if !seen {
		t.Fatal("expected window to be marked processed")
	}
}
