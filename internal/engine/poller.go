package engine

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/openplans/newark2.0/internal/schema"
)

// DefaultPollInterval is how often the activity stream is polled.
const DefaultPollInterval = 15 * time.Second

// Poller refreshes one kind on an interval. Listings are fetched on the
// poller's goroutine and applied by the engine's owner, so Run needs the
// engine loop (Run, Drain or Settle) going elsewhere.
type Poller struct {
	engine  *Engine
	kind    schema.KindSpec
	limiter *rate.Limiter
	done    func(n int, err error)
}

// NewPoller polls kind at most once per interval, allowing burst polls in
// a row. done, if set, runs on the owner after each listing is applied.
func NewPoller(e *Engine, kind schema.Kind, interval time.Duration, burst int, done func(n int, err error)) (*Poller, error) {
	spec, ok := e.graph.Schema().Kind(kind)
	if !ok {
		return nil, &RuntimeError{Code: ErrCodeUnknownKind, Message: fmt.Sprintf("kind %q is not declared", kind)}
	}
	if interval <= 0 {
		return nil, fmt.Errorf("poll interval must be positive, got %s", interval)
	}
	if burst < 1 {
		burst = 1
	}
	return &Poller{
		engine:  e,
		kind:    spec,
		limiter: rate.NewLimiter(rate.Every(interval), burst),
		done:    done,
	}, nil
}

// Run polls until ctx is cancelled or the engine stops. A failed listing
// is applied like any other fetch failure and polling continues.
func (p *Poller) Run(ctx context.Context) error {
	log := p.engine.logger.With("kind", string(p.kind.Name))
	log.Debug("poller starting", "endpoint", p.kind.Endpoint)

	for {
		if err := p.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("poll %s: %w", p.kind.Name, err)
		}

		rows, err := p.engine.facade.List(ctx, p.kind.Endpoint)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		ev := Event{Type: EventTypeFetch, Fetch: &FetchResult{
			Kind: p.kind.Name,
			Rows: rows,
			Err:  err,
			Done: p.done,
		}}
		if !p.engine.Enqueue(ev) {
			log.Debug("poller stopping: engine stopped")
			return ErrStopped
		}
	}
}
