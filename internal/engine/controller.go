package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/openplans/newark2.0/internal/graph"
	"github.com/openplans/newark2.0/internal/journal"
	"github.com/openplans/newark2.0/internal/metrics"
	"github.com/openplans/newark2.0/internal/remote"
	"github.com/openplans/newark2.0/internal/value"
)

// Action names declared by the default schema.
const (
	ActionSupport   = "support"
	ActionUnsupport = "unsupport"
	ActionShare     = "share"
)

// Controller performs optimistic mutations on the engine's graph.
// It must be used on the engine's owner goroutine.
type Controller struct {
	e *Engine
}

// Support adds user to subject's supporters.
func (c *Controller) Support(ctx context.Context, user, subject *graph.Entity) (*Attempt, error) {
	return c.Perform(ctx, ActionSupport, user, subject)
}

// Unsupport removes user from subject's supporters.
func (c *Controller) Unsupport(ctx context.Context, user, subject *graph.Entity) (*Attempt, error) {
	return c.Perform(ctx, ActionUnsupport, user, subject)
}

// Share adds user to subject's sharers.
func (c *Controller) Share(ctx context.Context, user, subject *graph.Entity) (*Attempt, error) {
	return c.Perform(ctx, ActionShare, user, subject)
}

// Perform runs action for user on subject.
//
// When the registry already holds the state the action would produce, the
// returned attempt is idle: nothing changes and no request is sent.
// Otherwise the mutation is applied before this returns and the write is
// dispatched; its outcome is applied when the completion event is
// processed. A failed write never surfaces here: it rolls the mutation
// back.
//
// The write outlives ctx's cancellation; a dispatched write always
// completes.
func (c *Controller) Perform(ctx context.Context, action string, user, subject *graph.Entity) (*Attempt, error) {
	e := c.e
	act, ok := e.graph.Schema().Action(action)
	if !ok {
		return nil, newUnknownActionError(action)
	}
	if user == nil || !user.IsPersisted() {
		return nil, fmt.Errorf("%s: %w", action, ErrAnonymous)
	}
	if subject == nil {
		return nil, newInvalidSubjectError(action, "", "no subject")
	}
	if subject.Kind() != act.Subject {
		return nil, newInvalidSubjectError(action, subject.String(), "expected a %s", act.Subject)
	}
	if !subject.IsPersisted() {
		return nil, newInvalidSubjectError(action, subject.String(), "subject has no identity")
	}

	a := newAttempt(e.tokens.Generate(), act, user, subject, e.clock.Next())
	log := e.logger.With("attempt", a.ID, "action", action, "user", user.String(), "subject", subject.String())

	if a.Command.Satisfied(e.graph.Registry()) {
		a.finish(StateIdle)
		e.attempts[a.ID] = a
		e.journalAttempt(ctx, a)
		e.metrics.Attempt(action, metrics.OutcomeGuarded)
		log.Debug("attempt guarded", "command", a.Command.String())
		return a, nil
	}

	key, err := value.MutationKey(action, string(user.ID()), string(subject.ID()), a.Seq)
	if err != nil {
		return nil, fmt.Errorf("%s: idempotency key: %w", action, err)
	}
	a.Key = key

	a.Command.Apply(e.graph.Registry())
	a.state = StateApplied
	e.attempts[a.ID] = a
	e.journalAttempt(ctx, a)
	e.journalTransition(ctx, a, StateIdle, StateApplied)
	e.metrics.Attempt(action, metrics.OutcomeApplied)
	log.Info("attempt applied", "command", a.Command.String())

	req := &remote.Request{
		Method: act.Method,
		Path:   act.PathFor(string(subject.ID())),
		Header: map[string]string{remote.IdempotencyKeyHeader: key},
	}
	id := a.ID
	e.pending++
	a.dispatched = time.Now()
	e.metrics.Dispatched()
	e.facade.Dispatch(context.WithoutCancel(ctx), req, remote.NewCallback(func(resp *remote.Response, err error) {
		if !e.Enqueue(Event{Type: EventTypeCompletion, Completion: &Completion{AttemptID: id, Response: resp, Err: err}}) {
			e.logger.Warn("completion dropped: engine stopped", "attempt", id, "request", req.String())
		}
	}))
	return a, nil
}

// complete resolves an applied attempt from its write outcome.
func (e *Engine) complete(c *Completion) {
	ctx := context.Background()
	a, ok := e.attempts[c.AttemptID]
	if !ok {
		e.logger.Warn("completion for unknown attempt", "attempt", c.AttemptID)
		return
	}
	log := e.logger.With("attempt", a.ID, "action", a.Action.Name)
	if a.state.Terminal() {
		e.metrics.Attempt(a.Action.Name, metrics.OutcomeDuplicate)
		log.Warn("duplicate completion ignored", "state", string(a.state))
		return
	}

	e.pending--
	e.metrics.Completed(a.Action.Name, time.Since(a.dispatched))
	if c.Response != nil {
		a.status = c.Response.Status
	}

	if c.Err == nil {
		a.finish(StateConfirmed)
		e.journalTransition(ctx, a, StateApplied, StateConfirmed)
		e.metrics.Attempt(a.Action.Name, metrics.OutcomeConfirmed)
		log.Info("attempt confirmed", "status", a.status)
		return
	}

	// The inverse may find nothing to undo if a newer attempt already
	// changed the relation.
	inverse := a.Command.Inverse()
	changed := inverse.Apply(e.graph.Registry())
	a.err = c.Err
	a.finish(StateRolledBack)
	e.journalTransition(ctx, a, StateApplied, StateRolledBack)
	e.metrics.Attempt(a.Action.Name, metrics.OutcomeRolledBack)
	log.Warn("attempt rolled back",
		"command", inverse.String(),
		"changed", changed,
		"status", a.status,
		"error", c.Err,
	)
}

func (e *Engine) journalAttempt(ctx context.Context, a *Attempt) {
	if e.journal == nil {
		return
	}
	rec := journal.Attempt{
		ID:             a.ID,
		Seq:            a.Seq,
		Action:         a.Action.Name,
		User:           a.User.String(),
		Subject:        a.Subject.String(),
		Relation:       a.Action.Relation,
		Op:             string(a.Action.Op),
		Method:         a.Action.Method,
		Path:           a.Action.PathFor(string(a.Subject.ID())),
		IdempotencyKey: a.Key,
	}
	if err := e.journal.RecordAttempt(ctx, rec); err != nil {
		e.logger.Error("journal write failed", "attempt", a.ID, "error", err)
	}
}

// journalTransition stamps a transition and records it. The clock
// advances whether or not a journal is attached.
func (e *Engine) journalTransition(ctx context.Context, a *Attempt, from, to State) {
	seq := e.clock.Next()
	if e.journal == nil {
		return
	}
	t := journal.Transition{
		AttemptID: a.ID,
		Seq:       seq,
		From:      string(from),
		To:        string(to),
		Status:    a.status,
	}
	if a.err != nil {
		t.Error = a.err.Error()
	}
	if err := e.journal.RecordTransition(ctx, t); err != nil {
		e.logger.Error("journal write failed", "attempt", a.ID, "error", err)
	}
}
