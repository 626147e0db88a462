// Package workerpool bounds how many DICE contexts run concurrently, per
// §5's "different contexts may run in parallel; a single context processes
// chunks strictly in order" rule. A panjf2000/ants/v2 pool caps the number
// of goroutines in flight; a per-context queue inside the pool enforces
// that a given context's tasks still execute one at a time and in the
// order submitted.
package workerpool

import (
	"fmt"
	"sync"

	"github.com/panjf2000/ants/v2"

	"github.com/kittclouds/dice/internal/dicelog"
)

// Pool drives bounded concurrency across contexts while preserving
// per-context ordering.
type Pool struct {
	ants *ants.Pool
	log  dicelog.Logger

	mu     sync.Mutex
	queues map[string]*contextQueue
}

type contextQueue struct {
	mu      sync.Mutex
	pending []func()
	running bool
}

// New builds a Pool with capacity concurrently-active contexts.
func New(capacity int, log dicelog.Logger) (*Pool, error) {
	if log == nil {
		log = dicelog.NewNop()
	}
	ap, err := ants.NewPool(capacity)
	if err != nil {
		return nil, fmt.Errorf("workerpool: %w", err)
	}
	return &Pool{ants: ap, log: log, queues: make(map[string]*contextQueue)}, nil
}

// Release shuts the pool down. It does not wait for in-flight tasks to
// finish; callers that need that must wait for their own tasks first.
func (p *Pool) Release() {
	p.ants.Release()
}

// Submit enqueues task for contextID. Tasks submitted for the same
// contextID run strictly in submission order, one at a time; tasks for
// different contexts may run concurrently, bounded by the pool's capacity.
func (p *Pool) Submit(contextID string, task func()) error {
	p.mu.Lock()
	q, ok := p.queues[contextID]
	if !ok {
		q = &contextQueue{}
		p.queues[contextID] = q
	}
	p.mu.Unlock()

	q.mu.Lock()
	q.pending = append(q.pending, task)
	shouldStart := !q.running
	if shouldStart {
		q.running = true
	}
	q.mu.Unlock()

	if !shouldStart {
		return nil
	}
	return p.ants.Submit(func() { p.drain(contextID, q) })
}

// drain runs every pending task for q in order, then marks the queue idle.
// If more tasks were appended while draining, it keeps going rather than
// returning and risking two drain goroutines racing for the same context.
func (p *Pool) drain(contextID string, q *contextQueue) {
	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			q.running = false
			q.mu.Unlock()
			return
		}
		task := q.pending[0]
		q.pending = q.pending[1:]
		q.mu.Unlock()

		func() {
			defer func() {
				if r := recover(); r != nil {
					p.log.Error("workerpool.task_panicked", dicelog.F("context_id", contextID), dicelog.F("recovered", r))
				}
			}()
			task()
		}()
	}
}

// Running reports the number of active goroutines in the underlying pool.
func (p *Pool) Running() int { return p.ants.Running() }
