// Package harness runs YAML scenarios against a real engine wired to a
// scripted remote store, and compares the resulting journal traces with
// golden files.
//
// # Scenario Format
//
//	name: concurrent_toggle
//	description: "What this scenario validates"
//	user: "7"                  # acting user; omit for anonymous
//	listings:                  # initial GET responses, by endpoint
//	  /api/visions/:
//	    - { id: 1, created_at: "2013-05-01T10:00:00Z" }
//	steps:
//	  - sync: true             # fetch every non-transient kind
//	  - fetch: activity        # fetch one kind
//	  - listing:               # rescript an endpoint
//	      endpoint: /api/visions/
//	      status: 500
//	  - perform:
//	      action: support
//	      subject: proposal:1
//	      as: t1               # label for the held write
//	  - resolve:
//	      write: t1
//	      status: 204          # or error: "connection reset"
//	assertions:
//	  - type: member
//	    owner: proposal:1
//	    key: supporters
//	    member: user:7
//	    present: true
//	  - type: attempt_state
//	    attempt: t1
//	    state: confirmed
//
// Writes are held by the scripted remote until a resolve step answers
// them, so the order in which completions reach the engine is exactly the
// order of the resolve steps. Every run uses a fresh graph, an in-memory
// journal and deterministic attempt ids (attempt-1, attempt-2, ...).
//
// # Golden Files
//
// RunWithGolden stores the canonical JSON of the trace and the final graph
// state in testdata/golden/{name}.golden. Regenerate with:
//
//	go test ./internal/harness -update
package harness
