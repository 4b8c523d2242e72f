// Package graph holds the in-memory entity graph: entities keyed by
// identity, the relation registry that keeps both sides of every declared
// relation consistent, and the ordered collections that store each kind.
//
// Threading model: the graph carries no locks. Exactly one goroutine (the
// engine's event loop, or a test) may touch a Graph, its Registry, its
// Collections or any Entity it produced. Network callbacks must hand their
// results to that goroutine instead of mutating the graph directly.
//
// Invariant violations (linking the wrong kinds, giving a one_to_many child
// a second parent, reassigning an identity) are programming errors and
// panic with *InvariantError. Malformed remote data is a runtime fault and
// is returned as an error wrapping ErrInvalidRecord.
package graph
