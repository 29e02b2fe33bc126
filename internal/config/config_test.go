package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 8889, cfg.CallbackPort)
	assert.Equal(t, "http://localhost:11434", cfg.LLM.Endpoint)
	assert.Equal(t, 300, cfg.Triage.PollIntervalSec)
	assert.NotEmpty(t, cfg.DataDir)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
data_dir: /tmp/mailtriage-test
callback_port: 9999
llm:
  endpoint: http://llm.local:11434
  model: llama3
triage:
  poll_interval_sec: 60
oauth:
  google:
    client_id: id-123
    client_secret: secret-456
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/mailtriage-test", cfg.DataDir)
	assert.Equal(t, 9999, cfg.CallbackPort)
	assert.Equal(t, "http://llm.local:11434", cfg.LLM.Endpoint)
	assert.Equal(t, "llama3", cfg.LLM.Model)
	assert.Equal(t, 60, cfg.Triage.PollIntervalSec)
	// Unset keys keep defaults
	assert.Equal(t, 50, cfg.Triage.MaxMessages)

	google, ok := cfg.OAuth["google"]
	require.True(t, ok)
	assert.Equal(t, "id-123", google.ClientID)
	assert.Equal(t, "secret-456", google.ClientSecret)
}

func TestLoadMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("data_dir: [unclosed"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}
