package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeYAML(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chatpilot.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, time.Second, cfg.Poll.Interval)
	assert.Equal(t, 2, cfg.Poll.StableSamples)
	assert.Equal(t, "data-message-author-role", cfg.Selectors.RoleAttr)
	assert.NotEmpty(t, cfg.StateDir)
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	path := writeYAML(t, `
state_dir: /tmp/chatpilot-state
browser:
  endpoint: "127.0.0.1:9333"
  allow_cookie_errors: true
poll:
  interval: 250ms
  stable_samples: 3
selectors:
  role_attr: data-role
`)
	cfg, err := LoadFrom(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/chatpilot-state", cfg.StateDir)
	assert.Equal(t, "127.0.0.1:9333", cfg.Browser.Endpoint)
	assert.True(t, cfg.Browser.AllowCookieErrors)
	assert.Equal(t, 250*time.Millisecond, cfg.Poll.Interval)
	assert.Equal(t, 3, cfg.Poll.StableSamples)
	assert.Equal(t, "data-role", cfg.Selectors.RoleAttr)
	assert.Equal(t, "https://chatgpt.com/", cfg.Browser.ChatURL, "unset keys keep defaults")
}

func TestEnvOverridesYAML(t *testing.T) {
	path := writeYAML(t, "poll:\n  stable_samples: 3\nserver:\n  addr: \":9000\"\n")
	t.Setenv("CHATPILOT_POLL_STABLE_SAMPLES", "5")
	t.Setenv("CHATPILOT_SERVER_ADDR", ":7000")
	t.Setenv("CHATPILOT_POLL_TIMEOUT", "90s")
	t.Setenv("CHATPILOT_LOG_JSON", "true")
	t.Setenv("CHATPILOT_MAX_CONCURRENT", "not-a-number")

	cfg, err := LoadFrom(path)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Poll.StableSamples)
	assert.Equal(t, ":7000", cfg.Server.Addr)
	assert.Equal(t, 90*time.Second, cfg.Poll.Timeout)
	assert.True(t, cfg.Logging.JSON)
	assert.Equal(t, int64(4), cfg.Runs.MaxConcurrent, "unparsable values are ignored")
}

func TestValidate(t *testing.T) {
	path := writeYAML(t, "poll:\n  stable_samples: 0\n")
	_, err := LoadFrom(path)
	assert.ErrorContains(t, err, "stable_samples")

	_, err = LoadFrom(writeYAML(t, "poll: [not, a, map]\n"))
	assert.ErrorContains(t, err, "config yaml")
}
