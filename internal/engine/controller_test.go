package engine

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openplans/newark2.0/internal/graph"
	"github.com/openplans/newark2.0/internal/metrics"
	"github.com/openplans/newark2.0/internal/remote"
	"github.com/openplans/newark2.0/internal/schema"
)

func TestSupportAppliesBeforeDispatchAndConfirms(t *testing.T) {
	f := newFixture(t)
	p, u := f.proposal("1"), f.user("7")
	ctx := context.Background()

	a, err := f.engine.Controller().Support(ctx, u, p)
	require.NoError(t, err)
	assert.True(t, f.supports(p, u), "local mutation must be visible immediately")
	assert.Equal(t, StateApplied, a.State())
	assert.True(t, a.Fired())
	assert.Equal(t, "attempt-1", a.ID)
	assert.Len(t, a.Key, 64)
	assert.Equal(t, 1, f.engine.Pending())

	w := f.nextWrite()
	assert.Equal(t, http.MethodPut, w.Request.Method)
	assert.Equal(t, "/api/visions/1/support", w.Request.Path)
	assert.Equal(t, a.Key, w.Request.Header[remote.IdempotencyKeyHeader])

	w.Succeed(http.StatusNoContent)
	f.settle()

	assert.Equal(t, StateConfirmed, a.State())
	assert.Equal(t, http.StatusNoContent, a.Status())
	assert.NoError(t, a.Err())
	assert.True(t, f.supports(p, u))
	assert.Equal(t, "confirmed", f.state(a.ID))
	select {
	case <-a.Done():
	default:
		t.Fatal("Done should be closed")
	}
}

func TestFailedWriteRollsBackExactly(t *testing.T) {
	tests := []struct {
		name    string
		action  string
		seed    bool
		method  string
		path    string
		want    bool
		wantErr string
	}{
		{
			name:    "support rejected",
			action:  ActionSupport,
			method:  http.MethodPut,
			path:    "/api/visions/1/support",
			want:    false,
			wantErr: "PUT /api/visions/1/support: status 500: boom",
		},
		{
			name:    "unsupport rejected",
			action:  ActionUnsupport,
			seed:    true,
			method:  http.MethodDelete,
			path:    "/api/visions/1/support",
			want:    true,
			wantErr: "DELETE /api/visions/1/support: status 500: boom",
		},
		{
			name:    "share rejected",
			action:  ActionShare,
			method:  http.MethodPost,
			path:    "/api/visions/1/share",
			want:    false,
			wantErr: "POST /api/visions/1/share: status 500: boom",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			p, u := f.proposal("1"), f.user("7")
			act, ok := f.graph.Schema().Action(tt.action)
			require.True(t, ok)
			if tt.seed {
				f.graph.Registry().AddMember(p, act.Relation, u)
			}

			a, err := f.engine.Controller().Perform(context.Background(), tt.action, u, p)
			require.NoError(t, err)
			assert.Equal(t, !tt.want, f.graph.Registry().Contains(p, act.Relation, u))

			w := f.nextWrite()
			assert.Equal(t, tt.method, w.Request.Method)
			assert.Equal(t, tt.path, w.Request.Path)
			w.Reject(http.StatusInternalServerError, "boom")
			f.settle()

			assert.Equal(t, tt.want, f.graph.Registry().Contains(p, act.Relation, u))
			assert.Equal(t, StateRolledBack, a.State())
			assert.Equal(t, http.StatusInternalServerError, a.Status())
			assert.EqualError(t, a.Err(), tt.wantErr)
			status, ok := remote.StatusCode(a.Err())
			require.True(t, ok)
			assert.Equal(t, http.StatusInternalServerError, status)
			assert.Empty(t, f.graph.Registry().Check())
		})
	}
}

func TestTransportFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	p, u := f.proposal("1"), f.user("7")

	a, err := f.engine.Controller().Support(context.Background(), u, p)
	require.NoError(t, err)
	f.nextWrite().FailTransport(nil)
	f.settle()

	assert.False(t, f.supports(p, u))
	assert.Equal(t, StateRolledBack, a.State())
	assert.Equal(t, 0, a.Status())
	assert.ErrorContains(t, a.Err(), "connection refused")
	assert.Equal(t, "rolled_back", f.state(a.ID))
}

func TestGuardedAttemptsDoNothing(t *testing.T) {
	tests := []struct {
		name   string
		action string
		seed   string
	}{
		{name: "support when already supporter", action: ActionSupport, seed: "supporters"},
		{name: "unsupport when not supporter", action: ActionUnsupport},
		{name: "share when already sharer", action: ActionShare, seed: "sharers"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			p, u := f.proposal("1"), f.user("7")
			if tt.seed != "" {
				f.graph.Registry().AddMember(p, tt.seed, u)
			}
			changes := 0
			f.graph.Subscribe(func(graph.Change) { changes++ })

			a, err := f.engine.Controller().Perform(context.Background(), tt.action, u, p)
			require.NoError(t, err)

			assert.Equal(t, 0, changes, "guarded attempt must not mutate the graph")
			assert.Equal(t, StateIdle, a.State())
			assert.False(t, a.Fired())
			assert.Empty(t, a.Key)
			assert.Equal(t, 0, f.engine.Pending())
			assert.Empty(t, f.remote.Writes(), "guarded attempt must not reach the network")
			assert.Equal(t, "idle", f.state(a.ID))
			select {
			case <-a.Done():
			default:
				t.Fatal("guarded attempt should be done")
			}
		})
	}
}

func TestPerformRejectsBadRequests(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.engine.Controller()
	p, u := f.proposal("1"), f.user("7")

	_, err := c.Perform(ctx, "endorse", u, p)
	assert.True(t, IsUnknownActionError(err))
	assert.EqualError(t, err, "UNKNOWN_ACTION: action is not declared (action=endorse)")

	_, err = c.Support(ctx, f.graph.NewEntity("user"), p)
	assert.ErrorIs(t, err, ErrAnonymous)
	_, err = c.Support(ctx, nil, p)
	assert.ErrorIs(t, err, ErrAnonymous)

	_, err = c.Support(ctx, u, nil)
	assert.True(t, IsInvalidSubjectError(err))
	_, err = c.Support(ctx, u, f.user("8"))
	assert.True(t, IsInvalidSubjectError(err))
	assert.ErrorContains(t, err, "expected a proposal")
	_, err = c.Support(ctx, u, f.graph.NewEntity("proposal"))
	assert.True(t, IsInvalidSubjectError(err))

	assert.Empty(t, f.graph.Registry().Members(p, "supporters"))
	assert.Empty(t, f.remote.Writes())
	attempts, err := f.journal.Attempts(ctx)
	require.NoError(t, err)
	assert.Empty(t, attempts)
}

// The user supports, then unsupports before the first write resolves.
// The unsupport is rejected and its rollback re-adds the user, so the final
// state is "supporter" even though the last action was unsupport.
func TestConcurrentToggleRollbackRestoresSupporter(t *testing.T) {
	f := newFixture(t)
	p, u := f.proposal("1"), f.user("7")
	ctx := context.Background()
	c := f.engine.Controller()

	support, err := c.Support(ctx, u, p)
	require.NoError(t, err)
	put := f.nextWrite()
	assert.True(t, f.supports(p, u))

	unsupport, err := c.Unsupport(ctx, u, p)
	require.NoError(t, err)
	require.True(t, unsupport.Fired(), "guard sees the optimistic state")
	del := f.nextWrite()
	assert.False(t, f.supports(p, u))
	assert.NotEqual(t, support.Key, unsupport.Key)

	put.Succeed(http.StatusNoContent)
	del.Reject(http.StatusServiceUnavailable, "")
	f.settle()

	assert.Equal(t, StateConfirmed, support.State())
	assert.Equal(t, StateRolledBack, unsupport.State())
	assert.True(t, f.supports(p, u), "rollback re-adds the supporter")
}

// A late failure of an older attempt reverts state a newer attempt set.
func TestStaleRollbackOverridesNewerAction(t *testing.T) {
	f := newFixture(t)
	p, u := f.proposal("1"), f.user("7")
	ctx := context.Background()
	c := f.engine.Controller()

	first, err := c.Support(ctx, u, p)
	require.NoError(t, err)
	w1 := f.nextWrite()
	_, err = c.Unsupport(ctx, u, p)
	require.NoError(t, err)
	w2 := f.nextWrite()
	third, err := c.Support(ctx, u, p)
	require.NoError(t, err)
	w3 := f.nextWrite()
	assert.True(t, f.supports(p, u))

	w2.Succeed(http.StatusNoContent)
	w3.Succeed(http.StatusNoContent)
	w1.Reject(http.StatusBadGateway, "")
	f.settle()

	assert.Equal(t, StateConfirmed, third.State())
	assert.Equal(t, StateRolledBack, first.State())
	assert.False(t, f.supports(p, u), "the older rollback wins")
}

// Rolling back a support after the user already unsupported finds nothing
// to undo.
func TestRollbackOfSupersededAttemptIsNoop(t *testing.T) {
	f := newFixture(t)
	p, u := f.proposal("1"), f.user("7")
	ctx := context.Background()
	c := f.engine.Controller()

	support, err := c.Support(ctx, u, p)
	require.NoError(t, err)
	put := f.nextWrite()
	_, err = c.Unsupport(ctx, u, p)
	require.NoError(t, err)
	del := f.nextWrite()

	put.Reject(http.StatusInternalServerError, "")
	del.Succeed(http.StatusNoContent)
	f.settle()

	assert.Equal(t, StateRolledBack, support.State())
	assert.False(t, f.supports(p, u))
	assert.Empty(t, f.graph.Registry().Check())
}

func TestDuplicateAndUnknownCompletionsIgnored(t *testing.T) {
	f := newFixture(t)
	p, u := f.proposal("1"), f.user("7")

	a, err := f.engine.Controller().Support(context.Background(), u, p)
	require.NoError(t, err)
	f.nextWrite().Succeed(http.StatusOK)
	f.settle()
	require.Equal(t, StateConfirmed, a.State())

	f.engine.Enqueue(Event{Type: EventTypeCompletion, Completion: &Completion{
		AttemptID: a.ID,
		Err:       errors.New("late failure"),
	}})
	f.engine.Enqueue(Event{Type: EventTypeCompletion, Completion: &Completion{AttemptID: "ghost"}})
	assert.Equal(t, 2, f.engine.Drain())

	assert.Equal(t, StateConfirmed, a.State())
	assert.NoError(t, a.Err())
	assert.True(t, f.supports(p, u))
	assert.Equal(t, 0, f.engine.Pending())
}

func TestJournalTraceOfRolledBackAttempt(t *testing.T) {
	f := newFixture(t)
	p, u := f.proposal("1"), f.user("7")
	ctx := context.Background()

	a, err := f.engine.Controller().Support(ctx, u, p)
	require.NoError(t, err)
	f.nextWrite().Reject(http.StatusForbidden, "closed")
	f.settle()

	trace, err := f.journal.Trace(ctx)
	require.NoError(t, err)
	require.Len(t, trace, 3)

	require.NotNil(t, trace[0].Attempt)
	assert.Equal(t, int64(1), trace[0].Seq)
	assert.Equal(t, a.ID, trace[0].Attempt.ID)
	assert.Equal(t, "user:7", trace[0].Attempt.User)
	assert.Equal(t, "proposal:1", trace[0].Attempt.Subject)
	assert.Equal(t, "supporters", trace[0].Attempt.Relation)
	assert.Equal(t, "add", trace[0].Attempt.Op)
	assert.Equal(t, a.Key, trace[0].Attempt.IdempotencyKey)

	require.NotNil(t, trace[1].Transition)
	assert.Equal(t, "applied", trace[1].Transition.To)
	require.NotNil(t, trace[2].Transition)
	assert.Equal(t, "rolled_back", trace[2].Transition.To)
	assert.Equal(t, http.StatusForbidden, trace[2].Transition.Status)
	assert.Equal(t, "PUT /api/visions/1/support: status 403: closed", trace[2].Transition.Error)
}

func TestAttemptMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	f := newFixture(t, WithMetrics(metrics.New(reg)))
	p, u := f.proposal("1"), f.user("7")
	ctx := context.Background()
	c := f.engine.Controller()

	_, err := c.Support(ctx, u, p)
	require.NoError(t, err)
	_, err = c.Support(ctx, u, p)
	require.NoError(t, err)
	f.nextWrite().Succeed(http.StatusNoContent)
	f.settle()

	// applied, guarded and confirmed series for "support".
	n, err := promtest.GatherAndCount(reg, "civic_mutation_attempts_total")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	n, err = promtest.GatherAndCount(reg, "civic_write_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestCommandInverse(t *testing.T) {
	f := newFixture(t)
	r := f.graph.Registry()
	p, u := f.proposal("1"), f.user("7")

	cmd := Command{Op: schema.OpAdd, Owner: p, Key: "supporters", Member: u}
	assert.Equal(t, "add proposal:1.supporters user:7", cmd.String())
	assert.False(t, cmd.Satisfied(r))
	assert.True(t, cmd.Apply(r))
	assert.True(t, cmd.Satisfied(r))
	assert.False(t, cmd.Apply(r))

	inv := cmd.Inverse()
	assert.Equal(t, schema.OpRemove, inv.Op)
	assert.Equal(t, schema.OpAdd, cmd.Op, "Inverse must not modify the receiver")
	assert.True(t, inv.Apply(r))
	assert.False(t, r.Contains(p, "supporters", u))
	assert.Equal(t, cmd, inv.Inverse())
}

func TestStateTerminal(t *testing.T) {
	assert.True(t, StateIdle.Terminal())
	assert.False(t, StateApplied.Terminal())
	assert.True(t, StateConfirmed.Terminal())
	assert.True(t, StateRolledBack.Terminal())
}
