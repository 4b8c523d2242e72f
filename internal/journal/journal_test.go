package journal

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func testAttempt(id string, seq int64) Attempt {
	return Attempt{
		ID:             id,
		Seq:            seq,
		Action:         "support",
		User:           "user:7",
		Subject:        "proposal:1",
		Relation:       "supporters",
		Op:             "add",
		Method:         "PUT",
		Path:           "/api/visions/1/support",
		IdempotencyKey: "key-" + id,
	}
}

func TestOpenFileCreatesDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")

	j, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, j.Close())

	_, err = os.Stat(path)
	require.NoError(t, err)

	// Reopening runs the migrations again without error.
	j, err = Open(path)
	require.NoError(t, err)
	defer j.Close()

	version, err := j.schemaVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, currentSchemaVersion, version)
}

func TestRecordAttemptIdempotent(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	require.NoError(t, j.RecordAttempt(ctx, testAttempt("a1", 1)))
	require.NoError(t, j.RecordAttempt(ctx, testAttempt("a1", 1)))

	attempts, err := j.Attempts(ctx)
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.Equal(t, testAttempt("a1", 1), attempts[0])
}

func TestAttemptsEmpty(t *testing.T) {
	j := openTestJournal(t)

	attempts, err := j.Attempts(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, attempts)
	assert.Empty(t, attempts)
}

func TestTransitionsAndState(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()
	require.NoError(t, j.RecordAttempt(ctx, testAttempt("a1", 1)))

	state, err := j.State(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, "idle", state)

	require.NoError(t, j.RecordTransition(ctx, Transition{AttemptID: "a1", Seq: 2, From: "idle", To: "applied"}))
	require.NoError(t, j.RecordTransition(ctx, Transition{AttemptID: "a1", Seq: 4, From: "applied", To: "rolled_back", Status: 500, Error: "boom"}))
	// A second entry into rolled_back is ignored.
	require.NoError(t, j.RecordTransition(ctx, Transition{AttemptID: "a1", Seq: 5, From: "applied", To: "rolled_back"}))

	state, err = j.State(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, "rolled_back", state)

	transitions, err := j.Transitions(ctx, "a1")
	require.NoError(t, err)
	require.Len(t, transitions, 2)
	assert.Equal(t, 500, transitions[1].Status)
	assert.Equal(t, "boom", transitions[1].Error)
}

func TestTransitionRequiresAttempt(t *testing.T) {
	j := openTestJournal(t)

	err := j.RecordTransition(context.Background(), Transition{AttemptID: "ghost", Seq: 1, From: "idle", To: "applied"})
	assert.Error(t, err)
}

func TestStateUnknownAttempt(t *testing.T) {
	j := openTestJournal(t)

	_, err := j.State(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrUnknownAttempt)
}

func TestTraceOrderedBySeq(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	require.NoError(t, j.RecordFetch(ctx, Fetch{Seq: 1, Kind: "proposal", Records: 2}))
	require.NoError(t, j.RecordAttempt(ctx, testAttempt("a1", 2)))
	require.NoError(t, j.RecordTransition(ctx, Transition{AttemptID: "a1", Seq: 3, From: "idle", To: "applied"}))
	require.NoError(t, j.RecordFetch(ctx, Fetch{Seq: 4, Kind: "user", Error: "status 500"}))
	require.NoError(t, j.RecordTransition(ctx, Transition{AttemptID: "a1", Seq: 5, From: "applied", To: "confirmed", Status: 204}))

	trace, err := j.Trace(ctx)
	require.NoError(t, err)
	require.Len(t, trace, 5)

	var seqs []int64
	for _, e := range trace {
		seqs = append(seqs, e.Seq)
	}
	assert.Equal(t, []int64{1, 2, 3, 4, 5}, seqs)
	require.NotNil(t, trace[0].Fetch)
	require.NotNil(t, trace[1].Attempt)
	require.NotNil(t, trace[4].Transition)
	assert.Equal(t, "confirmed", trace[4].Transition.To)
	assert.Equal(t, "status 500", trace[3].Fetch.Error)
}

func TestRecordHashStored(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()
	require.NoError(t, j.RecordAttempt(ctx, testAttempt("a1", 1)))
	require.NoError(t, j.RecordAttempt(ctx, testAttempt("a2", 2)))

	rows, err := j.db.QueryContext(ctx, `SELECT record_hash FROM attempts ORDER BY seq`)
	require.NoError(t, err)
	defer rows.Close()

	var hashes []string
	for rows.Next() {
		var h string
		require.NoError(t, rows.Scan(&h))
		hashes = append(hashes, h)
	}
	require.Len(t, hashes, 2)
	assert.Len(t, hashes[0], 64)
	assert.NotEqual(t, hashes[0], hashes[1])
}

func TestMaxSeq(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	seq, err := j.MaxSeq(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), seq)

	require.NoError(t, j.RecordFetch(ctx, Fetch{Seq: 3, Kind: "proposal", Records: 1}))
	require.NoError(t, j.RecordAttempt(ctx, testAttempt("a1", 4)))
	require.NoError(t, j.RecordTransition(ctx, Transition{AttemptID: "a1", Seq: 7, From: "idle", To: "applied"}))

	seq, err = j.MaxSeq(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(7), seq)

	require.NoError(t, j.RecordFetch(ctx, Fetch{Seq: 9, Kind: "user"}))
	seq, err = j.MaxSeq(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(9), seq)
}
