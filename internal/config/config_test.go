package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "civic.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 60*time.Second, cfg.API.Timeout)
	assert.Equal(t, ":memory:", cfg.Journal.Path)
	assert.Empty(t, cfg.Session.UserID)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
api:
  base_url: https://newark.example.org
  timeout: 10s
session:
  user_id: "7"
stream:
  interval: 500ms
log:
  level: debug
  format: json
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://newark.example.org", cfg.API.BaseURL)
	assert.Equal(t, 10*time.Second, cfg.API.Timeout)
	assert.Equal(t, 5*time.Second, cfg.API.ConnectTimeout, "unset fields keep defaults")
	assert.Equal(t, "7", cfg.Session.UserID)
	assert.Equal(t, 500*time.Millisecond, cfg.Stream.Interval)
	assert.Equal(t, 1, cfg.Stream.Burst)
	assert.Equal(t, "json", cfg.Log.Format)

	level, err := cfg.Log.SlogLevel()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)
}

func TestLoadEmptyFileKeepsDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	_, err := Load(writeConfig(t, "api:\n  base_uri: http://x\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "base_uri")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestValidateReportsEveryProblem(t *testing.T) {
	cfg := Default()
	cfg.API.BaseURL = "ftp://newark"
	cfg.API.Timeout = 0
	cfg.Stream.Burst = 0
	cfg.Journal.Path = ""
	cfg.Log.Level = "loud"
	cfg.Log.Format = "xml"

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{
		"scheme must be http or https",
		"api.timeout must be positive",
		"stream.burst must be at least 1",
		"journal.path is required",
		"log.level",
		"log.format",
	} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	_, err := Load(writeConfig(t, "stream:\n  interval: -1s\n"))
	assert.ErrorContains(t, err, "stream.interval must be positive")
}
