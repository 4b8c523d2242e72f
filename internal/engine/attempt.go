package engine

import (
	"time"

	"github.com/openplans/newark2.0/internal/graph"
	"github.com/openplans/newark2.0/internal/schema"
)

// State is the position of an attempt in its lifecycle.
type State string

const (
	StateIdle       State = "idle"
	StateApplied    State = "applied"
	StateConfirmed  State = "confirmed"
	StateRolledBack State = "rolled_back"
)

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool {
	return s == StateIdle || s == StateConfirmed || s == StateRolledBack
}

// Command is one registry operation. It is the undo token of an attempt:
// rollback applies Inverse() and nothing else.
type Command struct {
	Op     schema.Op
	Owner  *graph.Entity
	Key    string
	Member *graph.Entity
}

// Apply runs the operation and reports whether the registry changed.
func (c Command) Apply(r *graph.Registry) bool {
	if c.Op == schema.OpAdd {
		return r.AddMember(c.Owner, c.Key, c.Member)
	}
	return r.RemoveMember(c.Owner, c.Key, c.Member)
}

// Inverse returns the command that undoes c.
func (c Command) Inverse() Command {
	c.Op = c.Op.Invert()
	return c
}

// Satisfied reports whether the registry already holds the state c would
// produce, in which case applying it is a no-op.
func (c Command) Satisfied(r *graph.Registry) bool {
	return r.Contains(c.Owner, c.Key, c.Member) == (c.Op == schema.OpAdd)
}

// String renders "add proposal:1.supporters user:7".
func (c Command) String() string {
	return string(c.Op) + " " + c.Owner.String() + "." + c.Key + " " + c.Member.String()
}

// Attempt is one invocation of an action. Fields other than Done must be
// read on the engine's owner goroutine.
type Attempt struct {
	ID      string
	Action  schema.Action
	User    *graph.Entity
	Subject *graph.Entity
	// Seq is the logical time the attempt was made.
	Seq int64
	// Key is the idempotency key sent with the write; empty when idle.
	Key     string
	Command Command

	state      State
	status     int
	err        error
	dispatched time.Time
	done       chan struct{}
}

func newAttempt(id string, action schema.Action, user, subject *graph.Entity, seq int64) *Attempt {
	return &Attempt{
		ID:      id,
		Action:  action,
		User:    user,
		Subject: subject,
		Seq:     seq,
		Command: Command{Op: action.Op, Owner: subject, Key: action.Relation, Member: user},
		state:   StateIdle,
		done:    make(chan struct{}),
	}
}

// State returns the current state.
func (a *Attempt) State() State { return a.state }

// Fired reports whether the attempt got past its guard.
func (a *Attempt) Fired() bool { return a.state != StateIdle }

// Status returns the HTTP status of the completing response, 0 if none.
func (a *Attempt) Status() int { return a.status }

// Err returns why the attempt was rolled back.
func (a *Attempt) Err() error { return a.err }

// Done is closed once the attempt reaches a terminal state. Safe to use
// from any goroutine.
func (a *Attempt) Done() <-chan struct{} { return a.done }

func (a *Attempt) finish(s State) {
	a.state = s
	close(a.done)
}
