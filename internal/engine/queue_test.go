package engine

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func completionEvent(id string) Event {
	return Event{Type: EventTypeCompletion, Completion: &Completion{AttemptID: id}}
}

func TestEventQueueFIFO(t *testing.T) {
	q := newEventQueue()
	for _, id := range []string{"a", "b", "c"} {
		require.True(t, q.Enqueue(completionEvent(id)))
	}
	assert.Equal(t, 3, q.Len())

	for _, want := range []string{"a", "b", "c"} {
		e, ok := q.TryDequeue()
		require.True(t, ok)
		assert.Equal(t, want, e.Completion.AttemptID)
	}
	_, ok := q.TryDequeue()
	assert.False(t, ok)
	assert.Equal(t, 0, q.Len())
}

func TestEventQueueSignalCoalesces(t *testing.T) {
	q := newEventQueue()
	q.Enqueue(completionEvent("a"))
	q.Enqueue(completionEvent("b"))

	select {
	case <-q.Wait():
	case <-time.After(time.Second):
		t.Fatal("expected a pending signal")
	}
	select {
	case <-q.Wait():
		t.Fatal("signals should coalesce into one")
	default:
	}
	assert.Equal(t, 2, q.Len())
}

func TestEventQueueClose(t *testing.T) {
	q := newEventQueue()
	q.Enqueue(completionEvent("a"))

	woke := make(chan struct{})
	go func() {
		// Drain the pending signal, then block until Close.
		<-q.Wait()
		<-q.Wait()
		close(woke)
	}()

	q.Close()
	q.Close()

	select {
	case <-woke:
	case <-time.After(time.Second):
		t.Fatal("Close should wake waiters")
	}
	assert.True(t, q.Closed())
	assert.False(t, q.Enqueue(completionEvent("b")))

	// Events queued before Close are still delivered.
	e, ok := q.TryDequeue()
	require.True(t, ok)
	assert.Equal(t, "a", e.Completion.AttemptID)
}

func TestEventQueueConcurrentEnqueue(t *testing.T) {
	q := newEventQueue()
	const producers, each = 8, 50

	var wg sync.WaitGroup
	for range producers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range each {
				q.Enqueue(Event{Type: EventTypeFunc, Func: func() {}})
			}
		}()
	}
	wg.Wait()

	n := 0
	for {
		if _, ok := q.TryDequeue(); !ok {
			break
		}
		n++
	}
	assert.Equal(t, producers*each, n)
}

func TestEventTypeString(t *testing.T) {
	assert.Equal(t, "completion", EventTypeCompletion.String())
	assert.Equal(t, "fetch", EventTypeFetch.String())
	assert.Equal(t, "func", EventTypeFunc.String())
	assert.Equal(t, "unknown", EventType(0).String())
}
