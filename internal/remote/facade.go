package remote

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/openplans/newark2.0/internal/value"
)

// Facade is the capability the data layer holds on the remote store.
type Facade struct {
	doer        Doer
	logger      *slog.Logger
	listTimeout time.Duration

	// lists collapses concurrent listings of the same endpoint.
	lists singleflight.Group
	// inflight tracks Dispatch goroutines for Wait.
	inflight sync.WaitGroup
}

// FacadeOption configures a Facade.
type FacadeOption func(*Facade)

// WithLogger sets the logger. Defaults to a discarding logger.
func WithLogger(l *slog.Logger) FacadeOption {
	return func(f *Facade) { f.logger = l }
}

// WithListTimeout bounds a shared listing. Defaults to DefaultTimeout.
func WithListTimeout(d time.Duration) FacadeOption {
	return func(f *Facade) { f.listTimeout = d }
}

// NewFacade wraps d.
func NewFacade(d Doer, opts ...FacadeOption) *Facade {
	f := &Facade{
		doer:        d,
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		listTimeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// List fetches endpoint and decodes the listing. The body is either a
// JSON array of objects or a page object whose "results" holds one.
// Non-2xx responses return *StatusError.
//
// Concurrent calls for one endpoint share a request. The shared request
// ignores the cancellation of whichever caller started it and is bounded
// by the list timeout instead; each caller stops waiting when its own ctx
// is done.
func (f *Facade) List(ctx context.Context, endpoint string) ([]value.Object, error) {
	ch := f.lists.DoChan(endpoint, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), f.listTimeout)
		defer cancel()
		req := &Request{Method: "GET", Path: endpoint}
		resp, err := f.doer.Do(fctx, req)
		if err != nil {
			return nil, err
		}
		if err := checkStatus(req, resp); err != nil {
			return nil, err
		}
		return decodeListing(endpoint, resp.Body)
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		f.logger.Debug("list abandoned", "endpoint", endpoint, "error", ctx.Err())
		return nil, ctx.Err()
	}
	if res.Err != nil {
		f.logger.Debug("list failed", "endpoint", endpoint, "error", res.Err)
		return nil, res.Err
	}

	rows, ok := res.Val.([]value.Object)
	if !ok {
		return nil, fmt.Errorf("unexpected type from list group: got %T", res.Val)
	}
	f.logger.Debug("listed", "endpoint", endpoint, "rows", len(rows), "shared", res.Shared)
	// Callers own their slice; the rows themselves are treated as immutable.
	return slices.Clone(rows), nil
}

// ListAsync runs List on its own goroutine and reports to cb exactly once.
func (f *Facade) ListAsync(ctx context.Context, endpoint string, cb Callback[[]value.Object]) {
	cb = &once[[]value.Object]{cb: cb}
	f.inflight.Add(1)
	go func() {
		defer f.inflight.Done()
		defer func() {
			if r := recover(); r != nil {
				cb.Result(nil, fmt.Errorf("list %s: panic: %v", endpoint, r))
			}
		}()
		rows, err := f.List(ctx, endpoint)
		cb.Result(rows, err)
	}()
}

// Write performs req synchronously. Non-2xx responses return *StatusError
// together with the response.
func (f *Facade) Write(ctx context.Context, req *Request) (*Response, error) {
	resp, err := f.doer.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	return resp, checkStatus(req, resp)
}

// Dispatch performs req on its own goroutine. cb receives the outcome
// exactly once, including when the Doer panics. There is no way to cancel
// a dispatched write other than through ctx.
func (f *Facade) Dispatch(ctx context.Context, req *Request, cb Callback[*Response]) {
	cb = &once[*Response]{cb: cb}
	f.inflight.Add(1)
	go func() {
		defer f.inflight.Done()
		defer func() {
			if r := recover(); r != nil {
				cb.Result(nil, fmt.Errorf("%s: panic: %v", req, r))
			}
		}()
		resp, err := f.Write(ctx, req)
		if err != nil {
			f.logger.Debug("write failed", "request", req.String(), "error", err)
		}
		cb.Result(resp, err)
	}()
}

// Wait blocks until every dispatched call has delivered its callback.
func (f *Facade) Wait() {
	f.inflight.Wait()
}

func decodeListing(endpoint string, body []byte) ([]value.Object, error) {
	v, err := value.Decode(body)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", endpoint, ErrMalformedListing, err)
	}
	if page, ok := v.(value.Object); ok {
		v, ok = page["results"]
		if !ok {
			return nil, fmt.Errorf("%s: %w: object without results", endpoint, ErrMalformedListing)
		}
	}
	arr, ok := v.(value.Array)
	if !ok {
		return nil, fmt.Errorf("%s: %w: expected array, got %T", endpoint, ErrMalformedListing, v)
	}
	rows := make([]value.Object, len(arr))
	for i, el := range arr {
		obj, ok := el.(value.Object)
		if !ok {
			return nil, fmt.Errorf("%s: %w: item %d is %T", endpoint, ErrMalformedListing, i, el)
		}
		rows[i] = obj
	}
	return rows, nil
}
