// Package engine owns the entity graph and runs the optimistic mutation
// protocol against the remote store.
//
// Single-Writer Event Loop:
// The graph and its relation registry carry no locks. The Engine is their
// only writer. Synchronous calls (Perform, FetchAll, Drain, Settle) must come
// from the goroutine that owns the engine; long-running processes hand that
// role to Run and submit work with Enqueue.
//
// Network results never touch the graph directly. Write completions and
// listing results are enqueued as events and applied in FIFO order by the
// owner, so a rollback always lands strictly after everything issued before
// its failure callback fired.
//
// Attempt lifecycle:
//
//	idle -> applied -> confirmed
//	                -> rolled_back
//
// An attempt whose guard fails (the relation already holds the desired
// state) stays idle: no mutation, no request. An applied attempt is
// confirmed when its write succeeds; otherwise the inverse of its command is
// applied. In-flight attempts are never serialized or cancelled, so a late
// failure may revert a state that a newer attempt has since changed.
//
// Logical Clock:
// Attempts, transitions and fetches are stamped with a monotonic seq from
// Clock.Next(). Journal traces order by seq, never by wall-clock time.
package engine
