package cli

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openplans/newark2.0/internal/testutil"
)

func proposalListing(rem *testutil.ScriptedRemote, supporters ...int) {
	p := testutil.Proposal(1, "2013-05-01T10:00:00Z")
	if supporters != nil {
		p["supporters"] = supporters
	}
	rem.SetRows("/api/visions/", p)
}

func TestSupportConfirmed(t *testing.T) {
	rem := testutil.NewScriptedRemote()
	proposalListing(rem)
	rem.AutoReply(204)

	out, err := execute(t, scripted(rem), "support", "1", "--user", "7", "--format", "json")
	require.NoError(t, err)

	var result ActionResult
	resp := decodeResponse(t, out, &result)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, ActionResult{
		Attempt:  "attempt-1",
		Action:   "support",
		Proposal: "1",
		State:    "confirmed",
		Status:   204,
		Members:  1,
	}, result)

	writes := rem.Writes()
	require.Len(t, writes, 1)
	assert.Equal(t, "PUT", writes[0].Method)
	assert.Equal(t, "/api/visions/1/support", writes[0].Path)
	assert.NotEmpty(t, writes[0].Header["Idempotency-Key"])
}

func TestSupportConfirmedText(t *testing.T) {
	rem := testutil.NewScriptedRemote()
	proposalListing(rem)
	rem.AutoReply(204)

	out, err := execute(t, scripted(rem), "support", "1", "--user", "7")
	require.NoError(t, err)
	assert.Equal(t, "support proposal:1: confirmed (1 supporters)\n", out)
}

func TestShareRolledBack(t *testing.T) {
	rem := testutil.NewScriptedRemote()
	proposalListing(rem)
	rem.AutoReply(500)

	out, err := execute(t, scripted(rem), "share", "1", "--user", "7", "--format", "json")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var result ActionResult
	resp := decodeResponse(t, out, &result)
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "E_ROLLED_BACK", resp.Error.Code)
	assert.Equal(t, "rolled_back", result.State)
	assert.Equal(t, 500, result.Status)
	assert.Equal(t, 0, result.Members)
	assert.Equal(t, "POST /api/visions/1/share: status 500", result.Error)
}

func TestUnsupportWhenNotSupportingSendsNothing(t *testing.T) {
	rem := testutil.NewScriptedRemote()
	proposalListing(rem, 8)

	out, err := execute(t, scripted(rem), "unsupport", "1", "--user", "7")
	require.NoError(t, err)
	assert.Equal(t, "unsupport proposal:1: nothing to do\n", out)
	assert.Empty(t, rem.Writes())
}

func TestUnsupportConfirmed(t *testing.T) {
	rem := testutil.NewScriptedRemote()
	proposalListing(rem, 7, 8)
	rem.AutoReply(204)

	out, err := execute(t, scripted(rem), "unsupport", "1", "--user", "7", "--format", "json")
	require.NoError(t, err)

	var result ActionResult
	decodeResponse(t, out, &result)
	assert.Equal(t, "confirmed", result.State)
	assert.Equal(t, 1, result.Members)
}

func TestActionErrors(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{
			name:    "no user",
			args:    []string{"support", "1"},
			wantErr: "no user",
		},
		{
			name:    "unknown proposal",
			args:    []string{"support", "99", "--user", "7"},
			wantErr: "proposal 99 not found",
		},
		{
			name:    "missing argument",
			args:    []string{"support", "--user", "7"},
			wantErr: "accepts 1 arg",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rem := testutil.NewScriptedRemote()
			proposalListing(rem)

			_, err := execute(t, scripted(rem), tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.Empty(t, rem.Writes())
		})
	}
}

func TestActionFetchFailureIsCommandError(t *testing.T) {
	rem := testutil.NewScriptedRemote()
	rem.SetList("/api/visions/", 503, "maintenance")

	_, err := execute(t, scripted(rem), "support", "1", "--user", "7")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to fetch proposal")
}

func TestActionTimeout(t *testing.T) {
	rem := testutil.NewScriptedRemote()
	proposalListing(rem)

	// Answer the write only after the command has given up on it.
	go func() {
		if w := rem.NextWrite(5 * time.Second); w != nil {
			time.Sleep(500 * time.Millisecond)
			w.Succeed(204)
		}
	}()

	_, err := execute(t, scripted(rem), "support", "1", "--user", "7", "--timeout", "20ms")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "no answer from the server within 20ms")
}
