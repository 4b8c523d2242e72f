package journal

import "github.com/openplans/newark2.0/internal/value"

// Attempt is the immutable description of one mutation attempt.
type Attempt struct {
	ID             string `json:"id"`
	Seq            int64  `json:"seq"`
	Action         string `json:"action"`
	User           string `json:"user"`
	Subject        string `json:"subject"`
	Relation       string `json:"relation"`
	Op             string `json:"op"`
	Method         string `json:"method"`
	Path           string `json:"path"`
	IdempotencyKey string `json:"idempotency_key"`
}

// Object returns the canonical form hashed into record_hash.
func (a Attempt) Object() value.Object {
	return value.Object{
		"id":              value.String(a.ID),
		"seq":             value.Int(a.Seq),
		"action":          value.String(a.Action),
		"user":            value.String(a.User),
		"subject":         value.String(a.Subject),
		"relation":        value.String(a.Relation),
		"op":              value.String(a.Op),
		"method":          value.String(a.Method),
		"path":            value.String(a.Path),
		"idempotency_key": value.String(a.IdempotencyKey),
	}
}

// Transition moves an attempt from one state to the next.
type Transition struct {
	AttemptID string `json:"attempt_id"`
	Seq       int64  `json:"seq"`
	From      string `json:"from"`
	To        string `json:"to"`
	// Status is the HTTP status of the completing response, 0 if none.
	Status int    `json:"status,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Fetch is one collection refresh.
type Fetch struct {
	Seq     int64  `json:"seq"`
	Kind    string `json:"kind"`
	Records int    `json:"records"`
	Error   string `json:"error,omitempty"`
}

// Entry is one line of a trace: exactly one of Attempt, Transition or
// Fetch is set.
type Entry struct {
	Seq        int64       `json:"seq"`
	Attempt    *Attempt    `json:"attempt,omitempty"`
	Transition *Transition `json:"transition,omitempty"`
	Fetch      *Fetch      `json:"fetch,omitempty"`
}
