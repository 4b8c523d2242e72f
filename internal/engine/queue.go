package engine

import (
	"sync"

	"github.com/openplans/newark2.0/internal/remote"
	"github.com/openplans/newark2.0/internal/schema"
	"github.com/openplans/newark2.0/internal/value"
)

// EventType distinguishes between event kinds.
type EventType int

const (
	// EventTypeCompletion resolves a dispatched write.
	EventTypeCompletion EventType = iota + 1
	// EventTypeFetch applies a listing to a collection.
	EventTypeFetch
	// EventTypeFunc runs a function on the owner goroutine.
	EventTypeFunc
)

// String returns the event type name used in logs.
func (t EventType) String() string {
	switch t {
	case EventTypeCompletion:
		return "completion"
	case EventTypeFetch:
		return "fetch"
	case EventTypeFunc:
		return "func"
	default:
		return "unknown"
	}
}

// Completion is the outcome of the write dispatched for one attempt.
type Completion struct {
	AttemptID string
	// Response is nil when the request never reached the server.
	Response *remote.Response
	Err      error
}

// FetchResult is a listing waiting to be applied.
type FetchResult struct {
	Kind schema.Kind
	Rows []value.Object
	Err  error
	// Done, when set, receives the outcome after the listing is applied.
	Done func(n int, err error)

	// pending marks results started by Fetch, which Settle waits for.
	pending bool
}

// Event is one unit of work for the owner goroutine. Exactly one of
// Completion, Fetch or Func is set, matching Type.
type Event struct {
	Type       EventType
	Completion *Completion
	Fetch      *FetchResult
	Func       func()
}

// eventQueue is an unbounded, thread-safe FIFO of events.
//
// Dispatch goroutines and pollers enqueue; the owner dequeues. The signal
// channel (buffered, size 1) lets the owner wait with a select on its
// context instead of blocking.
type eventQueue struct {
	mu     sync.Mutex
	events []Event
	closed bool
	signal chan struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{
		events: make([]Event, 0, 16),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue appends e. Returns false if the queue is closed.
func (q *eventQueue) Enqueue(e Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.events = append(q.events, e)

	// Coalesces: one pending signal covers any number of events.
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue removes the front event without blocking.
func (q *eventQueue) TryDequeue() (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) == 0 {
		return Event{}, false
	}
	e := q.events[0]
	// Clear the slot so the backing array does not pin the payload.
	q.events[0] = Event{}
	if len(q.events) == 1 {
		q.events = q.events[:0]
	} else {
		q.events = q.events[1:]
	}
	return e, true
}

// Wait returns the channel signalled when events may be available. It is
// closed when the queue closes.
func (q *eventQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the number of queued events.
func (q *eventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Closed reports whether Close was called.
func (q *eventQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Close rejects further events and wakes waiters. Queued events stay
// dequeueable.
func (q *eventQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
