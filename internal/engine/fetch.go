package engine

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/openplans/newark2.0/internal/journal"
	"github.com/openplans/newark2.0/internal/remote"
	"github.com/openplans/newark2.0/internal/schema"
	"github.com/openplans/newark2.0/internal/value"
)

// Fetch lists kind's endpoint in the background. The listing is applied
// when its event is processed; done, if set, then receives the number of
// records applied or the error that left the collection unchanged.
func (e *Engine) Fetch(ctx context.Context, kind schema.Kind, done func(n int, err error)) error {
	spec, ok := e.graph.Schema().Kind(kind)
	if !ok {
		return &RuntimeError{Code: ErrCodeUnknownKind, Message: fmt.Sprintf("kind %q is not declared", kind)}
	}

	e.pending++
	e.facade.ListAsync(ctx, spec.Endpoint, remote.NewCallback(func(rows []value.Object, err error) {
		ev := Event{Type: EventTypeFetch, Fetch: &FetchResult{
			Kind:    kind,
			Rows:    rows,
			Err:     err,
			Done:    done,
			pending: true,
		}}
		if !e.Enqueue(ev) {
			e.logger.Warn("fetch result dropped: engine stopped", "kind", string(kind))
		}
	}))
	return nil
}

// FetchAll lists every non-transient kind concurrently and applies the
// listings in declaration order. A failed kind leaves its collection
// unchanged and does not stop the others; the failures are joined.
func (e *Engine) FetchAll(ctx context.Context) error {
	var kinds []schema.KindSpec
	for _, k := range e.graph.Schema().Kinds {
		if !k.Transient {
			kinds = append(kinds, k)
		}
	}

	results := make([]FetchResult, len(kinds))
	g, gctx := errgroup.WithContext(ctx)
	for i, k := range kinds {
		g.Go(func() error {
			rows, err := e.facade.List(gctx, k.Endpoint)
			results[i] = FetchResult{Kind: k.Name, Rows: rows, Err: err}
			// Per-kind failures are reported after the group finishes.
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	var errs []error
	for i := range results {
		if err := e.applyFetch(ctx, &results[i]); err != nil {
			errs = append(errs, fmt.Errorf("fetch %s: %w", results[i].Kind, err))
		}
	}
	return errors.Join(errs...)
}

// Refresh lists kind and applies it before returning.
func (e *Engine) Refresh(ctx context.Context, kind schema.Kind) (int, error) {
	spec, ok := e.graph.Schema().Kind(kind)
	if !ok {
		return 0, &RuntimeError{Code: ErrCodeUnknownKind, Message: fmt.Sprintf("kind %q is not declared", kind)}
	}
	rows, err := e.facade.List(ctx, spec.Endpoint)
	f := &FetchResult{Kind: kind, Rows: rows, Err: err}
	if err := e.applyFetch(ctx, f); err != nil {
		return 0, err
	}
	return len(rows), nil
}

// applyFetch applies a listing, or records why it could not be.
func (e *Engine) applyFetch(ctx context.Context, f *FetchResult) error {
	if f.pending {
		e.pending--
	}

	err := f.Err
	if err == nil {
		err = e.graph.ApplyFetch(f.Kind, f.Rows)
	}
	n := 0
	if err == nil {
		n = len(f.Rows)
	}

	seq := e.clock.Next()
	if e.journal != nil {
		rec := journal.Fetch{Seq: seq, Kind: string(f.Kind), Records: n}
		if err != nil {
			rec.Error = err.Error()
		}
		if jerr := e.journal.RecordFetch(ctx, rec); jerr != nil {
			e.logger.Error("journal write failed", "kind", string(f.Kind), "error", jerr)
		}
	}
	e.metrics.Fetch(string(f.Kind), err)

	if err != nil {
		e.logger.Warn("fetch failed, collection unchanged", "kind", string(f.Kind), "error", err)
	} else {
		e.logger.Info("fetched", "kind", string(f.Kind), "records", n)
	}
	if f.Done != nil {
		f.Done(n, err)
	}
	return err
}
