// Package testutil provides test doubles for the remote store and listing
// fixtures shared by the engine, harness and cli tests.
package testutil

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/openplans/newark2.0/internal/remote"
)

// ErrTransport is the transport failure FailTransport delivers by default.
var ErrTransport = errors.New("connection refused")

type listScript struct {
	status int
	body   []byte
	err    error
}

// ScriptedRemote is a remote.Doer driven by the test.
//
// GET requests are answered from scripted listings. Writes are held
// pending until the test resolves them through NextWrite, unless AutoReply
// is set. Every request is recorded.
//
// Thread-safety: safe for concurrent use.
type ScriptedRemote struct {
	mu       sync.Mutex
	lists    map[string]listScript
	requests []remote.Request
	auto     *listScript

	writes chan *PendingWrite
}

// NewScriptedRemote creates a remote with no listings; unscripted GETs
// answer 404.
func NewScriptedRemote() *ScriptedRemote {
	return &ScriptedRemote{
		lists:  make(map[string]listScript),
		writes: make(chan *PendingWrite, 64),
	}
}

// SetList answers GET endpoint with status and the raw body.
func (s *ScriptedRemote) SetList(endpoint string, status int, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lists[endpoint] = listScript{status: status, body: []byte(body)}
}

// SetRows answers GET endpoint with 200 and rows encoded as a JSON array.
func (s *ScriptedRemote) SetRows(endpoint string, rows ...map[string]any) {
	if rows == nil {
		rows = []map[string]any{}
	}
	body, err := json.Marshal(rows)
	if err != nil {
		panic(fmt.Sprintf("testutil: encode rows for %s: %v", endpoint, err))
	}
	s.SetList(endpoint, http.StatusOK, string(body))
}

// FailList makes GET endpoint fail without a response.
func (s *ScriptedRemote) FailList(endpoint string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lists[endpoint] = listScript{err: err}
}

// AutoReply answers every write immediately with status instead of
// holding it. A status of 0 restores holding.
func (s *ScriptedRemote) AutoReply(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if status == 0 {
		s.auto = nil
		return
	}
	s.auto = &listScript{status: status}
}

// Requests returns every request received so far, in arrival order.
func (s *ScriptedRemote) Requests() []remote.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]remote.Request, len(s.requests))
	copy(out, s.requests)
	return out
}

// Writes returns the non-GET requests received so far.
func (s *ScriptedRemote) Writes() []remote.Request {
	var out []remote.Request
	for _, r := range s.Requests() {
		if r.Method != http.MethodGet {
			out = append(out, r)
		}
	}
	return out
}

// Do implements remote.Doer.
func (s *ScriptedRemote) Do(ctx context.Context, req *remote.Request) (*remote.Response, error) {
	s.mu.Lock()
	s.requests = append(s.requests, *req)
	if req.Method == http.MethodGet {
		script, ok := s.lists[req.Path]
		s.mu.Unlock()
		if !ok {
			return &remote.Response{Status: http.StatusNotFound, Body: []byte(`{"detail":"Not found."}`)}, nil
		}
		if script.err != nil {
			return nil, script.err
		}
		return &remote.Response{Status: script.status, Body: script.body}, nil
	}
	auto := s.auto
	s.mu.Unlock()

	if auto != nil {
		return &remote.Response{Status: auto.status}, nil
	}

	w := &PendingWrite{Request: *req, reply: make(chan listScript, 1)}
	s.writes <- w
	select {
	case r := <-w.reply:
		if r.err != nil {
			return nil, r.err
		}
		return &remote.Response{Status: r.status, Body: r.body}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// NextWrite returns the next held write, waiting up to timeout for one to
// arrive. Returns nil on timeout.
func (s *ScriptedRemote) NextWrite(timeout time.Duration) *PendingWrite {
	select {
	case w := <-s.writes:
		return w
	case <-time.After(timeout):
		return nil
	}
}

// PendingWrite is a write held by ScriptedRemote. Resolve it exactly once.
type PendingWrite struct {
	Request remote.Request
	reply   chan listScript
}

// Succeed answers the write with status.
func (w *PendingWrite) Succeed(status int) {
	w.reply <- listScript{status: status}
}

// Reject answers the write with a non-2xx status and body.
func (w *PendingWrite) Reject(status int, body string) {
	w.reply <- listScript{status: status, body: []byte(body)}
}

// FailTransport fails the write without a response. A nil err delivers
// ErrTransport.
func (w *PendingWrite) FailTransport(err error) {
	if err == nil {
		err = ErrTransport
	}
	w.reply <- listScript{err: err}
}
