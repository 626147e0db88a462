// Package analyzer implements the incremental windowed analyzer (§4.6, C7):
// it watches a growing sequence of items, slices it into overlapping
// windows, and invokes the pipeline on each new, not-yet-seen window.
package analyzer

import (
	"context"

	"github.com/kittclouds/dice/internal/dicelog"
	"github.com/kittclouds/dice/internal/dicerr"
	"github.com/kittclouds/dice/internal/telemetry"
	"github.com/kittclouds/dice/pkg/extraction"
	"github.com/kittclouds/dice/pkg/pipeline"
)

// HistoryStore is the §6 collaborator that lets the analyzer skip windows it
// has already processed for a given source, and remember windows whose
// processing failed so they are not retried automatically.
type HistoryStore interface {
	WasProcessed(ctx context.Context, sourceID, contentHash string) (bool, error)
	Record(ctx context.Context, sourceID string, chunk extraction.Chunk) error
}

// Formatter renders a window of items to the text the extractor consumes.
type Formatter[T any] func(items []T) string

// Config tunes window size, overlap, and trigger cadence.
type Config struct {
	Size         int // window size in items
	Overlap      int // items shared with the next window; must be < Size
	TriggerEvery int // check for a new window every N appended items; default 1
}

func (c Config) withDefaults() Config {
	if c.TriggerEvery <= 0 {
		c.TriggerEvery = 1
	}
	return c
}

// NewConfig validates size/overlap/trigger at construction time.
func NewConfig(size, overlap, triggerEvery int) (Config, error) {
	cfg := Config{Size: size, Overlap: overlap, TriggerEvery: triggerEvery}.withDefaults()
	if cfg.Size <= 0 {
		return Config{}, dicerr.Config("analyzer.NewConfig", "size must be > 0")
	}
	if cfg.Overlap < 0 || cfg.Overlap >= cfg.Size {
		return Config{}, dicerr.Config("analyzer.NewConfig", "overlap must be in [0, size)")
	}
	if cfg.TriggerEvery < 1 || cfg.TriggerEvery > cfg.Size {
		return Config{}, dicerr.Config("analyzer.NewConfig", "triggerEvery must be in [1, size]")
	}
	return cfg, nil
}

// Analyzer accumulates items of type T and feeds completed windows to a
// Pipeline, scoped to one sourceID/contextID pair.
type Analyzer[T any] struct {
	sourceID  string
	contextID string
	cfg       Config
	format    Formatter[T]
	history   HistoryStore
	pipeline  *pipeline.Pipeline
	log       dicelog.Logger

	items     []T
	nextStart int
	sinceFire int
}

// New builds an Analyzer. sourceID identifies this sequence for history
// dedup; contextID is the DICE context propositions are written into.
func New[T any](sourceID, contextID string, cfg Config, format Formatter[T], history HistoryStore, pl *pipeline.Pipeline, log dicelog.Logger) (*Analyzer[T], error) {
	if format == nil {
		return nil, dicerr.Config("analyzer.New", "formatter is required")
	}
	if history == nil {
		return nil, dicerr.Config("analyzer.New", "history store is required")
	}
	if pl == nil {
		return nil, dicerr.Config("analyzer.New", "pipeline is required")
	}
	cfg = cfg.withDefaults()
	if cfg.Size <= 0 {
		return nil, dicerr.Config("analyzer.New", "size must be > 0")
	}
	if log == nil {
		log = dicelog.NewNop()
	}
	return &Analyzer[T]{
		sourceID: sourceID, contextID: contextID, cfg: cfg, format: format,
		history: history, pipeline: pl, log: log,
	}, nil
}

// Append adds one item to the sequence and, once a trigger fires, processes
// every window that has become ready since the last call, in order. Windows
// already seen for this sourceID (by content hash) are skipped; a window
// whose processing fails is recorded so it is not retried automatically and
// the error is returned immediately, leaving any later window unprocessed
// until the caller retries Append.
func (a *Analyzer[T]) Append(ctx context.Context, item T) ([]pipeline.ChunkResult, error) {
	a.items = append(a.items, item)
	a.sinceFire++
	if a.sinceFire < a.cfg.TriggerEvery {
		return nil, nil
	}
	a.sinceFire = 0

	stride := a.cfg.Size - a.cfg.Overlap
	var results []pipeline.ChunkResult
	for a.nextStart+a.cfg.Size <= len(a.items) {
		end := a.nextStart + a.cfg.Size
		res, processed, err := a.processWindow(ctx, a.nextStart, end)
		a.nextStart += stride
		if err != nil {
			return results, err
		}
		if processed {
			results = append(results, res)
		}
	}
	return results, nil
}

func (a *Analyzer[T]) processWindow(ctx context.Context, start, end int) (pipeline.ChunkResult, bool, error) {
	text := a.format(a.items[start:end])
	chunk := extraction.Chunk{SourceID: a.sourceID, Text: text, StartIndex: start, EndIndex: end}
	hash := chunk.ContentHash()

	var seen bool
	err := telemetry.Suspend(ctx, telemetry.SuspensionRepository, a.contextID, func(ctx context.Context) error {
		var wasProcessedErr error
		seen, wasProcessedErr = a.history.WasProcessed(ctx, a.sourceID, hash)
		return wasProcessedErr
	})
	if err != nil {
		return pipeline.ChunkResult{}, false, err
	}
	if seen {
		a.log.Debug("analyzer.window_skipped", dicelog.F("source_id", a.sourceID), dicelog.F("start", start), dicelog.F("end", end))
		return pipeline.ChunkResult{}, false, nil
	}

	result, err := a.pipeline.ProcessChunk(ctx, chunk, a.contextID)
	if err != nil {
		recErr := telemetry.Suspend(ctx, telemetry.SuspensionRepository, a.contextID, func(ctx context.Context) error {
			return a.history.Record(ctx, a.sourceID, chunk)
		})
		if recErr != nil {
			a.log.Warn("analyzer.record_failed_window_failed", dicelog.Err(recErr))
		}
		return pipeline.ChunkResult{}, false, err
	}
	err = telemetry.Suspend(ctx, telemetry.SuspensionRepository, a.contextID, func(ctx context.Context) error {
		return a.history.Record(ctx, a.sourceID, chunk)
	})
	if err != nil {
		return pipeline.ChunkResult{}, false, err
	}
	return result, true, nil
}
