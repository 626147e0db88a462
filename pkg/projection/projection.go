// Package projection implements the C9 boundary: after a chunk is
// persisted, its final propositions are handed to zero or more downstream
// sinks (graph, Prolog, vector, or any other external projection). The
// sinks themselves are external per §6; this package only defines the
// dispatch contract and a couple of reference sinks.
package projection

import (
	"context"

	"github.com/kittclouds/dice/internal/dicelog"
	"github.com/kittclouds/dice/pkg/proposition"
	"github.com/kittclouds/dice/pkg/reviser"
)

// Sink is a downstream consumer of finalized propositions. Sinks run after
// persistence and must not affect whether a chunk's writes commit — a sink
// failure is reported to the caller but never unwinds the C2 write.
type Sink interface {
	Project(ctx context.Context, contextID string, propositions []*proposition.Proposition, results []reviser.RevisionResult) error
}

// Dispatcher fans a chunk's finalized propositions out to every configured
// sink, continuing past individual sink failures and returning their
// combined error.
type Dispatcher struct {
	sinks []Sink
	log   dicelog.Logger
}

// NewDispatcher builds a dispatcher over the given sinks, in call order.
func NewDispatcher(log dicelog.Logger, sinks ...Sink) *Dispatcher {
	if log == nil {
		log = dicelog.NewNop()
	}
	return &Dispatcher{sinks: sinks, log: log}
}

// Dispatch implements §6's projection boundary: hand the chunk's
// propositions to every sink. A slice of per-sink errors is returned (nil
// entries for sinks that succeeded); callers that only care whether
// everything succeeded can check len(Errors(result)) == 0.
func (d *Dispatcher) Dispatch(ctx context.Context, contextID string, propositions []*proposition.Proposition, results []reviser.RevisionResult) []error {
	if len(propositions) == 0 {
		return nil
	}
	errs := make([]error, len(d.sinks))
	for i, sink := range d.sinks {
		if err := sink.Project(ctx, contextID, propositions, results); err != nil {
			d.log.Warn("projection.sink_failed", dicelog.F("sink_index", i), dicelog.Err(err))
			errs[i] = err
		}
	}
	return errs
}

// Errors filters a Dispatch result down to the non-nil failures.
func Errors(errs []error) []error {
	out := make([]error, 0, len(errs))
	for _, e := range errs {
		if e != nil {
			out = append(out, e)
		}
	}
	return out
}

// LoggingSink projects every proposition and its outcome as a structured
// log line. Useful as a default sink and in tests.
type LoggingSink struct {
	log dicelog.Logger
}

// NewLoggingSink builds a sink that logs at Info per proposition.
func NewLoggingSink(log dicelog.Logger) *LoggingSink {
	if log == nil {
		log = dicelog.NewNop()
	}
	return &LoggingSink{log: log}
}

// Project implements Sink.
func (s *LoggingSink) Project(_ context.Context, contextID string, propositions []*proposition.Proposition, results []reviser.RevisionResult) error {
	outcomeByID := make(map[string]reviser.Outcome, len(results))
	for _, r := range results {
		if r.Input != nil {
			outcomeByID[r.Input.ID] = r.Outcome
		}
	}
	for _, p := range propositions {
		s.log.Info("projection.proposition",
			dicelog.F("context_id", contextID),
			dicelog.F("proposition_id", p.ID),
			dicelog.F("outcome", string(outcomeByID[p.ID])),
			dicelog.F("confidence", p.Confidence),
		)
	}
	return nil
}

// ChannelSink forwards every finalized proposition onto a buffered channel,
// for hosts that want to consume the projection asynchronously (e.g. to
// feed a graph store writer goroutine). Send is non-blocking; a full
// channel drops the proposition and logs a warning rather than stalling
// the pipeline.
type ChannelSink struct {
	ch  chan *proposition.Proposition
	log dicelog.Logger
}

// NewChannelSink builds a sink backed by a channel of the given buffer size.
func NewChannelSink(buffer int, log dicelog.Logger) *ChannelSink {
	if log == nil {
		log = dicelog.NewNop()
	}
	return &ChannelSink{ch: make(chan *proposition.Proposition, buffer), log: log}
}

// Channel exposes the receive side for consumers.
func (s *ChannelSink) Channel() <-chan *proposition.Proposition { return s.ch }

// Project implements Sink.
func (s *ChannelSink) Project(_ context.Context, _ string, propositions []*proposition.Proposition, _ []reviser.RevisionResult) error {
	for _, p := range propositions {
		select {
		case s.ch <- p:
		default:
			s.log.Warn("projection.channel_full_dropped", dicelog.F("proposition_id", p.ID))
		}
	}
	return nil
}
