package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"time"

	"github.com/openplans/newark2.0/internal/engine"
	"github.com/openplans/newark2.0/internal/graph"
	"github.com/openplans/newark2.0/internal/journal"
	"github.com/openplans/newark2.0/internal/remote"
	"github.com/openplans/newark2.0/internal/schema"
	"github.com/openplans/newark2.0/internal/testutil"
)

// stepTimeout bounds every wait on the remote or the engine.
const stepTimeout = 5 * time.Second

// errScenarioEnded fails writes still held when a scenario finishes.
var errScenarioEnded = errors.New("scenario ended before the write was resolved")

// Run executes a scenario against the default schema with a fresh graph,
// an in-memory journal and a scripted remote.
//
// Returns an error only when the run cannot be set up. Failed steps and
// assertions are reported in Result.Errors.
func Run(s *Scenario) (*Result, error) {
	sch, err := schema.Default()
	if err != nil {
		return nil, fmt.Errorf("failed to load schema: %w", err)
	}
	return RunSchema(s, sch)
}

// RunSchema is Run with a caller-supplied schema.
func RunSchema(s *Scenario, sch *schema.Schema) (*Result, error) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	g, err := graph.New(sch, graph.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to build graph: %w", err)
	}
	j, err := journal.Open(journal.MemoryPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	defer j.Close()

	rem := testutil.NewScriptedRemote()
	for endpoint, rows := range s.Listings {
		rem.SetRows(endpoint, rows...)
	}
	eng := engine.New(g, remote.NewFacade(rem, remote.WithLogger(logger)),
		engine.WithJournal(j),
		engine.WithTokens(engine.NewSequenceGenerator("attempt")),
		engine.WithLogger(logger),
	)

	r := &runner{
		schema:   sch,
		graph:    g,
		engine:   eng,
		remote:   rem,
		attempts: make(map[string]*engine.Attempt),
		writes:   make(map[string]*testutil.PendingWrite),
	}
	if s.User != "" {
		r.user = g.Resolve("user", graph.ID(s.User))
	}

	ctx := context.Background()
	for i, step := range s.Steps {
		if err := r.step(ctx, step); err != nil {
			r.fail("steps[%d]: %v", i, err)
			break
		}
	}

	for i, a := range s.Assertions {
		if err := guard(func() error { return r.check(a) }); err != nil {
			r.fail("assertions[%d] (%s): %v", i, a.Type, err)
		}
	}
	r.release(ctx)

	trace, err := j.Trace(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read trace: %w", err)
	}

	labels := make(map[string]string, len(r.attempts))
	for label, a := range r.attempts {
		labels[label] = a.ID
	}
	return &Result{
		Pass:     len(r.errors) == 0,
		Trace:    trace,
		State:    r.snapshot(),
		Attempts: labels,
		Writes:   len(rem.Writes()),
		Errors:   r.errors,
	}, nil
}

type runner struct {
	schema *schema.Schema
	graph  *graph.Graph
	engine *engine.Engine
	remote *testutil.ScriptedRemote
	user   *graph.Entity

	attempts map[string]*engine.Attempt
	writes   map[string]*testutil.PendingWrite
	errors   []string
}

func (r *runner) fail(format string, args ...any) {
	r.errors = append(r.errors, fmt.Sprintf(format, args...))
}

func (r *runner) step(ctx context.Context, step Step) error {
	switch {
	case step.Sync:
		// Per-kind failures are recorded in the trace.
		_ = r.engine.FetchAll(ctx)
		return nil
	case step.Fetch != "":
		_, err := r.engine.Refresh(ctx, schema.Kind(step.Fetch))
		var rerr *engine.RuntimeError
		if errors.As(err, &rerr) {
			return err
		}
		return nil
	case step.Listing != nil:
		r.listing(step.Listing)
		return nil
	case step.Perform != nil:
		return r.perform(ctx, step.Perform)
	case step.Resolve != nil:
		return r.resolve(ctx, step.Resolve)
	}
	return fmt.Errorf("empty step")
}

func (r *runner) listing(l *ListingStep) {
	switch {
	case l.Error != "":
		r.remote.FailList(l.Endpoint, errors.New(l.Error))
	case l.Status != 0:
		r.remote.SetList(l.Endpoint, l.Status, l.Body)
	default:
		r.remote.SetRows(l.Endpoint, l.Rows...)
	}
}

func (r *runner) perform(ctx context.Context, p *PerformStep) error {
	subject, err := r.resolveRef(p.Subject)
	if err != nil {
		return err
	}

	a, err := r.engine.Controller().Perform(ctx, p.Action, r.user, subject)
	if err != nil {
		if p.Expect == "error" {
			return nil
		}
		return fmt.Errorf("perform %s %s: %w", p.Action, p.Subject, err)
	}
	if p.Expect == "error" {
		return fmt.Errorf("perform %s %s: expected an error, attempt is %s", p.Action, p.Subject, a.State())
	}
	if p.Expect != "" && string(a.State()) != p.Expect {
		return fmt.Errorf("perform %s %s: expected %s, attempt is %s", p.Action, p.Subject, p.Expect, a.State())
	}

	label := p.As
	if label == "" {
		label = a.ID
	}
	r.attempts[label] = a
	if !a.Fired() {
		return nil
	}
	w := r.remote.NextWrite(stepTimeout)
	if w == nil {
		return fmt.Errorf("perform %s: write never reached the remote", label)
	}
	r.writes[label] = w
	return nil
}

func (r *runner) resolve(ctx context.Context, rs *ResolveStep) error {
	w, ok := r.writes[rs.Write]
	if !ok {
		return fmt.Errorf("resolve %s: no write is held", rs.Write)
	}
	delete(r.writes, rs.Write)

	switch {
	case rs.Error != "":
		w.FailTransport(errors.New(rs.Error))
	case rs.Status >= 200 && rs.Status < 300:
		w.Succeed(rs.Status)
	default:
		w.Reject(rs.Status, rs.Body)
	}

	ctx, cancel := context.WithTimeout(ctx, stepTimeout)
	defer cancel()
	if err := r.engine.Await(ctx, r.attempts[rs.Write]); err != nil {
		return fmt.Errorf("resolve %s: %w", rs.Write, err)
	}
	return nil
}

// release fails every write still held so no dispatch outlives the run.
func (r *runner) release(ctx context.Context) {
	if len(r.writes) == 0 {
		return
	}
	labels := make([]string, 0, len(r.writes))
	for label := range r.writes {
		labels = append(labels, label)
	}
	slices.Sort(labels)
	for _, label := range labels {
		r.fail("write %s was never resolved", label)
		r.writes[label].FailTransport(errScenarioEnded)
	}

	ctx, cancel := context.WithTimeout(ctx, stepTimeout)
	defer cancel()
	if err := r.engine.Settle(ctx); err != nil {
		r.fail("settle: %v", err)
	}
}

// resolveRef returns the entity named by "kind:id", creating a stub when
// it has not been fetched.
func (r *runner) resolveRef(ref string) (*graph.Entity, error) {
	kind, id, err := parseRef(ref)
	if err != nil {
		return nil, err
	}
	if _, ok := r.schema.Kind(schema.Kind(kind)); !ok {
		return nil, fmt.Errorf("unknown kind %q in %q", kind, ref)
	}
	return r.graph.Resolve(schema.Kind(kind), graph.ID(id)), nil
}

// lookupRef returns a known entity without creating one.
func (r *runner) lookupRef(ref string) (*graph.Entity, error) {
	kind, id, err := parseRef(ref)
	if err != nil {
		return nil, err
	}
	return r.graph.Lookup(schema.Kind(kind), graph.ID(id))
}

func (r *runner) snapshot() State {
	st := State{
		Collections: make(map[string][]string),
		Relations:   make(map[string][]string),
	}
	for _, k := range r.schema.Kinds {
		ids := []string{}
		for _, e := range r.graph.Collection(k.Name).Entities() {
			ids = append(ids, string(e.ID()))
		}
		st.Collections[string(k.Name)] = ids
	}

	// Owners are every collected entity plus the subjects of attempts,
	// which may be stubs.
	owners := make(map[schema.Kind][]*graph.Entity)
	seen := make(map[*graph.Entity]bool)
	add := func(e *graph.Entity) {
		if !seen[e] {
			seen[e] = true
			owners[e.Kind()] = append(owners[e.Kind()], e)
		}
	}
	for _, k := range r.schema.Kinds {
		for _, e := range r.graph.Collection(k.Name).Entities() {
			add(e)
		}
	}
	for _, a := range r.attempts {
		add(a.Subject)
	}

	reg := r.graph.Registry()
	for _, rel := range r.schema.Relations {
		for _, owner := range owners[rel.Owner] {
			members := reg.Members(owner, rel.Key)
			if len(members) == 0 {
				continue
			}
			refs := make([]string, len(members))
			for i, m := range members {
				refs[i] = m.String()
			}
			st.Relations[owner.String()+"."+rel.Key] = refs
		}
	}
	return st
}

// guard turns a graph invariant panic into an error.
func guard(fn func() error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%v", rec)
		}
	}()
	return fn()
}
