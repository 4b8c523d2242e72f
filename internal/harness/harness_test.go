package harness

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScenarioFilesPass(t *testing.T) {
	paths, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		t.Run(filepath.Base(path), func(t *testing.T) {
			s, err := LoadScenario(path)
			require.NoError(t, err)

			result, err := Run(s)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
		})
	}
}

func TestRunRecordsTrace(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/optimistic_rollback.yaml")
	require.NoError(t, err)

	result, err := Run(s)
	require.NoError(t, err)
	require.True(t, result.Pass, "errors: %v", result.Errors)

	// fetch, attempt, idle->applied, applied->rolled_back
	require.Len(t, result.Trace, 4)
	require.NotNil(t, result.Trace[0].Fetch)
	require.NotNil(t, result.Trace[1].Attempt)
	assert.Equal(t, "attempt-1", result.Trace[1].Attempt.ID)
	require.NotNil(t, result.Trace[3].Transition)
	assert.Equal(t, "rolled_back", result.Trace[3].Transition.To)
	assert.Equal(t, 500, result.Trace[3].Transition.Status)
	assert.Equal(t, "PUT /api/visions/1/support: status 500: boom", result.Trace[3].Transition.Error)

	assert.Equal(t, map[string]string{"support": "attempt-1"}, result.Attempts)
	assert.Equal(t, 1, result.Writes)
	assert.Equal(t, []string{"1"}, result.State.Collections["proposal"])
	assert.Empty(t, result.State.Relations)
}

func TestRunFailedAssertion(t *testing.T) {
	s := &Scenario{
		Name:        "wrong_expectation",
		Description: "asserts a supporter that was never added",
		User:        "7",
		Listings: map[string][]map[string]any{
			"/api/visions/": {{"id": 1, "created_at": "2013-05-01T10:00:00Z"}},
		},
		Steps: []Step{{Fetch: "proposal"}},
		Assertions: []Assertion{
			{Type: AssertMember, Owner: "proposal:1", Key: "supporters", Member: "user:7", Present: true},
			{Type: AssertCollectionOrder, Kind: "proposal", IDs: []string{"2"}},
			{Type: AssertCollectionSize, Kind: "proposal", Count: 1},
		},
	}

	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 2)
	assert.Contains(t, result.Errors[0], "user:7 is not in proposal:1.supporters")
	assert.Contains(t, result.Errors[1], "proposal collection is [1], expected [2]")
}

func TestRunUnresolvedWriteFails(t *testing.T) {
	s := &Scenario{
		Name:        "dangling",
		Description: "never resolves its write",
		User:        "7",
		Steps: []Step{
			{Perform: &PerformStep{Action: "support", Subject: "proposal:1", As: "t1"}},
		},
		Assertions: []Assertion{
			{Type: AssertMember, Owner: "proposal:1", Key: "supporters", Member: "user:7", Present: true},
		},
	}

	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	assert.Equal(t, []string{"write t1 was never resolved"}, result.Errors)
	// The released write rolls the optimistic change back.
	assert.Empty(t, result.State.Relations)
}

func TestRunStepFailureStopsScenario(t *testing.T) {
	s := &Scenario{
		Name:        "bad_kind",
		Description: "fetches a kind the schema does not declare",
		Steps: []Step{
			{Fetch: "petition"},
			{Sync: true},
		},
	}

	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "steps[0]")
	assert.Empty(t, result.Trace)
}

func TestRunUnexpectedRefusal(t *testing.T) {
	s := &Scenario{
		Name:        "anonymous_support",
		Description: "expects an attempt but has no user",
		Steps: []Step{
			{Perform: &PerformStep{Action: "support", Subject: "proposal:1", Expect: "applied"}},
		},
	}

	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "user is anonymous")
}

func TestRunUndeclaredRelationAssertion(t *testing.T) {
	s := &Scenario{
		Name:        "bad_key",
		Description: "asserts on a relation the schema does not declare",
		User:        "7",
		Steps: []Step{
			{Perform: &PerformStep{Action: "support", Subject: "proposal:1", As: "t1"}},
			{Resolve: &ResolveStep{Write: "t1", Status: 204}},
		},
		Assertions: []Assertion{
			{Type: AssertMember, Owner: "proposal:1", Key: "followers", Member: "user:7", Present: true},
		},
	}

	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "followers")
}
