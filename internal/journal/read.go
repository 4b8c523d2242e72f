package journal

import (
	"cmp"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
)

// ErrUnknownAttempt is returned when no attempt has the requested id.
var ErrUnknownAttempt = errors.New("unknown attempt")

// Attempts returns every attempt, ORDER BY seq ASC, id ASC.
// Returns an empty slice (not nil) when there are none.
func (j *Journal) Attempts(ctx context.Context) ([]Attempt, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, seq, action, user_ref, subject_ref, relation, op, method, path, idempotency_key
		FROM attempts
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query attempts: %w", err)
	}
	defer rows.Close()

	attempts := []Attempt{}
	for rows.Next() {
		var a Attempt
		if err := rows.Scan(&a.ID, &a.Seq, &a.Action, &a.User, &a.Subject,
			&a.Relation, &a.Op, &a.Method, &a.Path, &a.IdempotencyKey); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		attempts = append(attempts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attempts: %w", err)
	}
	return attempts, nil
}

// Transitions returns the transitions of one attempt in seq order.
func (j *Journal) Transitions(ctx context.Context, attemptID string) ([]Transition, error) {
	return j.queryTransitions(ctx, `
		SELECT attempt_id, seq, from_state, to_state, status, error
		FROM transitions
		WHERE attempt_id = ?
		ORDER BY seq ASC, id ASC
	`, attemptID)
}

func (j *Journal) allTransitions(ctx context.Context) ([]Transition, error) {
	return j.queryTransitions(ctx, `
		SELECT attempt_id, seq, from_state, to_state, status, error
		FROM transitions
		ORDER BY seq ASC, id ASC
	`)
}

func (j *Journal) queryTransitions(ctx context.Context, query string, args ...any) ([]Transition, error) {
	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query transitions: %w", err)
	}
	defer rows.Close()

	transitions := []Transition{}
	for rows.Next() {
		var t Transition
		if err := rows.Scan(&t.AttemptID, &t.Seq, &t.From, &t.To, &t.Status, &t.Error); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		transitions = append(transitions, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transitions: %w", err)
	}
	return transitions, nil
}

// State returns the latest state of an attempt; "idle" when it never
// left its initial state.
func (j *Journal) State(ctx context.Context, attemptID string) (string, error) {
	var exists int
	err := j.db.QueryRowContext(ctx, `SELECT 1 FROM attempts WHERE id = ?`, attemptID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", ErrUnknownAttempt, attemptID)
	}
	if err != nil {
		return "", fmt.Errorf("query attempt %s: %w", attemptID, err)
	}

	var state string
	err = j.db.QueryRowContext(ctx, `
		SELECT to_state FROM transitions
		WHERE attempt_id = ?
		ORDER BY seq DESC, id DESC
		LIMIT 1
	`, attemptID).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return "idle", nil
	}
	if err != nil {
		return "", fmt.Errorf("query state of %s: %w", attemptID, err)
	}
	return state, nil
}

// Fetches returns every recorded refresh in seq order.
func (j *Journal) Fetches(ctx context.Context) ([]Fetch, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT seq, kind, records, error
		FROM fetches
		ORDER BY seq ASC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query fetches: %w", err)
	}
	defer rows.Close()

	fetches := []Fetch{}
	for rows.Next() {
		var f Fetch
		if err := rows.Scan(&f.Seq, &f.Kind, &f.Records, &f.Error); err != nil {
			return nil, fmt.Errorf("scan fetch: %w", err)
		}
		fetches = append(fetches, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate fetches: %w", err)
	}
	return fetches, nil
}

// Trace merges attempts, transitions and fetches into one timeline
// ordered by seq.
func (j *Journal) Trace(ctx context.Context) ([]Entry, error) {
	attempts, err := j.Attempts(ctx)
	if err != nil {
		return nil, err
	}
	transitions, err := j.allTransitions(ctx)
	if err != nil {
		return nil, err
	}
	fetches, err := j.Fetches(ctx)
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(attempts)+len(transitions)+len(fetches))
	for i := range attempts {
		entries = append(entries, Entry{Seq: attempts[i].Seq, Attempt: &attempts[i]})
	}
	for i := range transitions {
		entries = append(entries, Entry{Seq: transitions[i].Seq, Transition: &transitions[i]})
	}
	for i := range fetches {
		entries = append(entries, Entry{Seq: fetches[i].Seq, Fetch: &fetches[i]})
	}
	slices.SortStableFunc(entries, func(a, b Entry) int {
		return cmp.Compare(a.Seq, b.Seq)
	})
	return entries, nil
}

// MaxSeq returns the highest seq recorded in any table, 0 for an empty
// journal. A process sharing a journal file starts its clock here so its
// entries order after those already written.
func (j *Journal) MaxSeq(ctx context.Context) (int64, error) {
	var seq int64
	err := j.db.QueryRowContext(ctx, `
		SELECT MAX(
			(SELECT COALESCE(MAX(seq), 0) FROM attempts),
			(SELECT COALESCE(MAX(seq), 0) FROM transitions),
			(SELECT COALESCE(MAX(seq), 0) FROM fetches)
		)
	`).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("query max seq: %w", err)
	}
	return seq, nil
}
