package cli

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openplans/newark2.0/internal/engine"
	"github.com/openplans/newark2.0/internal/testutil"
)

// execute runs the root command with opts and returns stdout.
func execute(t *testing.T, opts *RootOptions, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand(opts)
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	t.Logf("stderr:\n%s", errOut.String())
	return out.String(), err
}

// scripted returns options wired to a scripted remote with deterministic
// attempt ids.
func scripted(rem *testutil.ScriptedRemote) *RootOptions {
	return &RootOptions{
		Doer:   rem,
		Tokens: engine.NewSequenceGenerator("attempt"),
	}
}

// decodeResponse parses a JSON envelope and decodes its data into data.
func decodeResponse(t *testing.T, out string, data any) CLIResponse {
	t.Helper()
	var raw struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
		Error  *CLIError       `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &raw), out)
	if data != nil && len(raw.Data) > 0 {
		require.NoError(t, json.Unmarshal(raw.Data, data))
	}
	return CLIResponse{Status: raw.Status, Data: data, Error: raw.Error}
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "civic", cmd.Use)
	assert.Contains(t, cmd.Long, "rolled back")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := []string{"sync", "proposals", "support", "unsupport", "share", "stream", "schema", "trace", "test"}

	for _, cmdName := range commands {
		t.Run(cmdName, func(t *testing.T) {
			subCmd, _, err := cmd.Find([]string{cmdName})
			require.NoError(t, err, "Command %s should exist", cmdName)
			require.NotNil(t, subCmd)
			assert.Equal(t, cmdName, subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
	assert.Equal(t, "false", verboseFlag.DefValue)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)

	for _, name := range []string{"config", "base-url", "user", "journal", "schema"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(name), name)
	}
}

func TestActionCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	supportCmd, _, err := cmd.Find([]string{"support"})
	require.NoError(t, err)

	timeoutFlag := supportCmd.Flags().Lookup("timeout")
	require.NotNil(t, timeoutFlag)
	assert.Equal(t, DefaultActionTimeout.String(), timeoutFlag.DefValue)
}

func TestInvalidFormat(t *testing.T) {
	_, err := execute(t, &RootOptions{}, "schema", "--format", "yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `invalid format "yaml"`)
}

func TestConfigFileErrorsAreCommandErrors(t *testing.T) {
	_, err := execute(t, scripted(testutil.NewScriptedRemote()), "sync", "--config", "/nonexistent/civic.yaml")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to load configuration")
}

func TestBadBaseURLOverride(t *testing.T) {
	_, err := execute(t, scripted(testutil.NewScriptedRemote()), "sync", "--base-url", "ftp://example.org")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "scheme must be http or https")
}
