package harness

import (
	"github.com/openplans/newark2.0/internal/journal"
	"github.com/openplans/newark2.0/internal/value"
)

// Result is the outcome of running one scenario.
type Result struct {
	// Pass is true when every step ran and every assertion held.
	Pass bool

	// Trace is the journal timeline in seq order.
	Trace []journal.Entry

	// State is the final graph: collection order per kind and the
	// non-empty relation slots of every collected owner.
	State State

	// Attempts maps scenario labels to engine attempt ids.
	Attempts map[string]string

	// Writes is the number of write requests the remote received.
	Writes int

	// Errors lists failed steps and assertions, in the order found.
	Errors []string
}

// State is a snapshot of the graph at the end of a scenario.
type State struct {
	// Collections maps kind to identities in collection order.
	Collections map[string][]string
	// Relations maps "kind:id.key" to member references.
	Relations map[string][]string
}

// Snapshot returns the result as the canonical form stored in golden
// files. Idempotency keys are left out; they derive from identities and
// seq numbers already present in the trace.
func (r *Result) Snapshot() value.Object {
	trace := make(value.Array, 0, len(r.Trace))
	for _, e := range r.Trace {
		trace = append(trace, entryObject(e))
	}

	collections := value.Object{}
	for kind, ids := range r.State.Collections {
		collections[kind] = value.Strings(ids...)
	}
	relations := value.Object{}
	for key, members := range r.State.Relations {
		relations[key] = value.Strings(members...)
	}

	return value.Object{
		"trace": trace,
		"state": value.Object{
			"collections": collections,
			"relations":   relations,
		},
	}
}

func entryObject(e journal.Entry) value.Object {
	obj := value.Object{"seq": value.Int(e.Seq)}
	switch {
	case e.Attempt != nil:
		a := e.Attempt
		obj["type"] = value.String("attempt")
		obj["attempt"] = value.String(a.ID)
		obj["action"] = value.String(a.Action)
		obj["user"] = value.String(a.User)
		obj["subject"] = value.String(a.Subject)
		if a.Method != "" {
			obj["request"] = value.String(a.Method + " " + a.Path)
		}
	case e.Transition != nil:
		t := e.Transition
		obj["type"] = value.String("transition")
		obj["attempt"] = value.String(t.AttemptID)
		obj["from"] = value.String(t.From)
		obj["to"] = value.String(t.To)
		if t.Status != 0 {
			obj["status"] = value.Int(t.Status)
		}
		if t.Error != "" {
			obj["error"] = value.String(t.Error)
		}
	case e.Fetch != nil:
		f := e.Fetch
		obj["type"] = value.String("fetch")
		obj["kind"] = value.String(f.Kind)
		obj["records"] = value.Int(f.Records)
		if f.Error != "" {
			obj["error"] = value.String(f.Error)
		}
	}
	return obj
}
