package journal

import (
	"context"
	"fmt"

	"github.com/openplans/newark2.0/internal/value"
)

// RecordAttempt inserts an attempt. Uses ON CONFLICT(id) DO NOTHING so a
// repeated write of the same attempt is silently ignored.
func (j *Journal) RecordAttempt(ctx context.Context, a Attempt) error {
	hash, err := value.Hash(value.DomainRecord, a.Object())
	if err != nil {
		return fmt.Errorf("record attempt %s: %w", a.ID, err)
	}

	_, err = j.db.ExecContext(ctx, `
		INSERT INTO attempts
		(id, seq, action, user_ref, subject_ref, relation, op, method, path, idempotency_key, record_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		a.ID,
		a.Seq,
		a.Action,
		a.User,
		a.Subject,
		a.Relation,
		a.Op,
		a.Method,
		a.Path,
		a.IdempotencyKey,
		hash,
	)
	if err != nil {
		return fmt.Errorf("record attempt %s: %w", a.ID, err)
	}
	return nil
}

// RecordTransition inserts a transition. An attempt enters each state at
// most once; a second transition into the same state is ignored.
//
// The attempt must already be recorded (foreign key constraint).
func (j *Journal) RecordTransition(ctx context.Context, t Transition) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO transitions
		(attempt_id, seq, from_state, to_state, status, error)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`,
		t.AttemptID,
		t.Seq,
		t.From,
		t.To,
		t.Status,
		t.Error,
	)
	if err != nil {
		return fmt.Errorf("record transition %s -> %s: %w", t.AttemptID, t.To, err)
	}
	return nil
}

// RecordFetch inserts a collection refresh.
func (j *Journal) RecordFetch(ctx context.Context, f Fetch) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO fetches (seq, kind, records, error)
		VALUES (?, ?, ?, ?)
	`, f.Seq, f.Kind, f.Records, f.Error)
	if err != nil {
		return fmt.Errorf("record fetch %s: %w", f.Kind, err)
	}
	return nil
}
