package graph

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownKind is returned when a kind is not declared in the schema.
	ErrUnknownKind = errors.New("unknown kind")

	// ErrNotFound is returned when no entity has the requested identity.
	ErrNotFound = errors.New("entity not found")

	// ErrAlreadyPersisted is returned by AssignID on an entity that already
	// has a remote identity.
	ErrAlreadyPersisted = errors.New("entity already persisted")

	// ErrIdentityTaken is returned by AssignID when another entity of the
	// same kind already holds the identity.
	ErrIdentityTaken = errors.New("identity already in use")

	// ErrInvalidRecord wraps every validation failure of fetched data.
	ErrInvalidRecord = errors.New("invalid record")
)

// InvariantError reports a violated graph invariant. It is raised with
// panic, never returned: callers that trip it have a bug.
type InvariantError struct {
	Op      string
	Entity  string
	Message string
}

// Error implements the error interface.
func (e *InvariantError) Error() string {
	if e.Entity != "" {
		return fmt.Sprintf("graph invariant violated: %s %s: %s", e.Op, e.Entity, e.Message)
	}
	return fmt.Sprintf("graph invariant violated: %s: %s", e.Op, e.Message)
}

func violate(op string, e *Entity, format string, args ...any) {
	ie := &InvariantError{Op: op, Message: fmt.Sprintf(format, args...)}
	if e != nil {
		ie.Entity = e.String()
	}
	panic(ie)
}

// IsInvariantError reports whether err is an *InvariantError.
// Uses errors.As to handle wrapped errors.
func IsInvariantError(err error) bool {
	var ie *InvariantError
	return errors.As(err, &ie)
}
