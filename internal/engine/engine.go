package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/openplans/newark2.0/internal/graph"
	"github.com/openplans/newark2.0/internal/journal"
	"github.com/openplans/newark2.0/internal/metrics"
	"github.com/openplans/newark2.0/internal/remote"
)

// Engine owns the entity graph and is its only writer.
//
// Thread-safety model:
//   - Enqueue(), Stop(): safe from any goroutine
//   - everything else: the owner goroutine only (the one calling Run, or
//     the caller of the synchronous API when Run is not used)
//
// INVARIANTS:
//   - pending counts writes and fetches started by the engine whose
//     events have not been processed yet
//   - an attempt id maps to the same *Attempt for the engine's lifetime
type Engine struct {
	graph   *graph.Graph
	facade  *remote.Facade
	clock   *Clock
	queue   *eventQueue
	tokens  TokenGenerator
	journal *journal.Journal
	metrics *metrics.Metrics
	logger  *slog.Logger

	attempts map[string]*Attempt
	pending  int
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the logical clock. Default: NewClock().
func WithClock(c *Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithTokens sets the attempt id generator. Default: UUIDv7Generator.
func WithTokens(g TokenGenerator) Option {
	return func(e *Engine) { e.tokens = g }
}

// WithJournal records attempts, transitions and fetches in j.
func WithJournal(j *journal.Journal) Option {
	return func(e *Engine) { e.journal = j }
}

// WithMetrics counts attempts and fetches in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// New creates an engine over g that talks to the remote store through f.
func New(g *graph.Graph, f *remote.Facade, opts ...Option) *Engine {
	e := &Engine{
		graph:    g,
		facade:   f,
		clock:    NewClock(),
		queue:    newEventQueue(),
		tokens:   UUIDv7Generator{},
		logger:   slog.Default(),
		attempts: make(map[string]*Attempt),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Graph returns the owned graph. Only the owner goroutine may touch it.
func (e *Engine) Graph() *graph.Graph { return e.graph }

// Clock returns the logical clock.
func (e *Engine) Clock() *Clock { return e.clock }

// Controller returns the optimistic mutation controller.
func (e *Engine) Controller() *Controller { return &Controller{e: e} }

// Attempt returns an attempt by id.
func (e *Engine) Attempt(id string) (*Attempt, bool) {
	a, ok := e.attempts[id]
	return a, ok
}

// Pending returns the number of unresolved writes and fetches.
func (e *Engine) Pending() int { return e.pending }

// QueueLen returns the number of queued events.
func (e *Engine) QueueLen() int { return e.queue.Len() }

// Enqueue submits an event to the owner goroutine. Returns false once the
// engine is stopped. Thread-safe.
func (e *Engine) Enqueue(ev Event) bool {
	return e.queue.Enqueue(ev)
}

// Run processes events until ctx is cancelled or Stop is called.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("engine starting")

	for {
		if ev, ok := e.queue.TryDequeue(); ok {
			e.handle(ev)
			continue
		}

		select {
		case <-ctx.Done():
			e.logger.Info("engine stopping: context cancelled")
			e.queue.Close()
			return ctx.Err()

		case <-e.queue.Wait():
			// The signal channel is closed with the queue; stop once the
			// backlog is gone.
			if e.queue.Closed() && e.queue.Len() == 0 {
				e.logger.Info("engine stopping: queue closed")
				return nil
			}
		}
	}
}

// Stop closes the queue. Run returns after processing what was queued.
func (e *Engine) Stop() {
	e.queue.Close()
}

// Drain processes every queued event on the calling goroutine and returns
// how many it handled.
func (e *Engine) Drain() int {
	n := 0
	for {
		ev, ok := e.queue.TryDequeue()
		if !ok {
			return n
		}
		e.handle(ev)
		n++
	}
}

// Settle processes events until every write and fetch started by the
// engine has resolved.
func (e *Engine) Settle(ctx context.Context) error {
	for {
		e.Drain()
		if e.pending == 0 {
			return nil
		}
		if e.queue.Closed() {
			return ErrStopped
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.queue.Wait():
		}
	}
}

// Await processes events until a reaches a terminal state.
func (e *Engine) Await(ctx context.Context, a *Attempt) error {
	for {
		e.Drain()
		select {
		case <-a.Done():
			return nil
		default:
		}
		if e.queue.Closed() {
			return ErrStopped
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.queue.Wait():
		}
	}
}

func (e *Engine) handle(ev Event) {
	if err := e.processEvent(ev); err != nil {
		e.logger.Error("event processing failed",
			"type", ev.Type.String(),
			"error", err,
		)
	}
}

func (e *Engine) processEvent(ev Event) error {
	switch ev.Type {
	case EventTypeCompletion:
		if ev.Completion == nil {
			return errMissing("completion")
		}
		e.complete(ev.Completion)
		return nil

	case EventTypeFetch:
		if ev.Fetch == nil {
			return errMissing("fetch")
		}
		// Fetch failures are reported through the result, not here.
		_ = e.applyFetch(context.Background(), ev.Fetch)
		return nil

	case EventTypeFunc:
		if ev.Func == nil {
			return errMissing("func")
		}
		ev.Func()
		return nil

	default:
		return &RuntimeError{Code: ErrCodeMalformedEvent, Message: fmt.Sprintf("unknown event type %d", ev.Type)}
	}
}

func errMissing(what string) error {
	return &RuntimeError{Code: ErrCodeMalformedEvent, Message: fmt.Sprintf("%s event missing %s data", what, what)}
}
