// Package remote is the facade over the civic REST API: a generic request
// function, an HTTP implementation of it, and helpers that list endpoints
// and dispatch writes asynchronously with exactly-once callbacks.
//
// Nothing in this package touches the entity graph. Results travel back
// through return values or callbacks; the caller decides which goroutine
// applies them.
package remote

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openplans/newark2.0/internal/value"
)

// IdempotencyKeyHeader carries the content hash of a mutation attempt so the
// server can drop repeated deliveries.
const IdempotencyKeyHeader = "Idempotency-Key"

// ErrMalformedListing is returned when a listing is not a JSON array of
// objects nor a page object with a "results" array.
var ErrMalformedListing = errors.New("malformed listing")

// Request is one call against the remote store.
type Request struct {
	Method string
	Path   string
	// Body is sent as JSON when non-nil.
	Body   value.Value
	Header map[string]string
}

// String returns "METHOD path".
func (r *Request) String() string {
	return r.Method + " " + r.Path
}

// Response is the raw outcome of a request that reached the server.
type Response struct {
	Status int
	Body   []byte
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r.Status >= 200 && r.Status < 300
}

// Doer is the generic request function. Implementations return an error
// only when no response was obtained (transport failure, cancellation);
// every HTTP status, including 4xx and 5xx, is a Response.
type Doer interface {
	Do(ctx context.Context, req *Request) (*Response, error)
}

// DoerFunc adapts a function to Doer.
type DoerFunc func(ctx context.Context, req *Request) (*Response, error)

// Do calls f.
func (f DoerFunc) Do(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}

// StatusError is a response with a non-2xx status.
type StatusError struct {
	Method string
	Path   string
	Status int
	// Body is the response body; the API puts its error message there.
	Body string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	msg := strings.TrimSpace(e.Body)
	if msg == "" {
		return fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.Status)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Status, msg)
}

// StatusCode returns the HTTP status carried by err, if any.
// Uses errors.As to handle wrapped errors.
func StatusCode(err error) (int, bool) {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status, true
	}
	return 0, false
}

func checkStatus(req *Request, resp *Response) error {
	if resp.OK() {
		return nil
	}
	return &StatusError{Method: req.Method, Path: req.Path, Status: resp.Status, Body: string(resp.Body)}
}
