package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "powchain.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 5, cfg.Mining.Difficulty)
	assert.Equal(t, 1, cfg.Mining.Workers)
	assert.Zero(t, cfg.Mining.MaxTrials)
	assert.Equal(t, "Hello", cfg.Producer.Payload)
	assert.Zero(t, cfg.Producer.Blocks)
	assert.Equal(t, 10, cfg.Producer.AuditInterval)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Empty(t, cfg.Metrics.Textfile)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
mining:
  difficulty: 3
  workers: 4
  max_trials: 1000000
producer:
  payload: "block data"
  blocks: 25
log:
  format: json
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Mining.Difficulty)
	assert.Equal(t, 4, cfg.Mining.Workers)
	assert.Equal(t, uint64(1000000), cfg.Mining.MaxTrials)
	assert.Equal(t, "block data", cfg.Producer.Payload)
	assert.Equal(t, 25, cfg.Producer.Blocks)
	assert.Equal(t, "json", cfg.Log.Format)

	// Keys absent from the file keep their defaults
	assert.Equal(t, 10, cfg.Producer.AuditInterval)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_MissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "mining: [difficulty")

	_, err := Load(path)
	assert.ErrorContains(t, err, "failed to parse config file")
}

func TestLoad_Env(t *testing.T) {
	path := writeConfig(t, "mining:\n  difficulty: 3\n")

	t.Setenv("POWCHAIN_MINING_DIFFICULTY", "2")
	t.Setenv("POWCHAIN_MINING_MAX_TRIALS", "500")
	t.Setenv("POWCHAIN_PRODUCER_PAYLOAD", "")
	t.Setenv("POWCHAIN_LOG_LEVEL", "debug")
	t.Setenv("POWCHAIN_METRICS_TEXTFILE", "/tmp/powchain.prom")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.Mining.Difficulty, "environment overrides the file")
	assert.Equal(t, uint64(500), cfg.Mining.MaxTrials)
	assert.Equal(t, "", cfg.Producer.Payload, "an empty payload is allowed")
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "/tmp/powchain.prom", cfg.Metrics.Textfile)
}

func TestLoad_InvalidEnv(t *testing.T) {
	t.Setenv("POWCHAIN_MINING_WORKERS", "many")
	t.Setenv("POWCHAIN_MINING_MAX_TRIALS", "-1")

	_, err := Load("")
	require.Error(t, err)
	assert.ErrorContains(t, err, "POWCHAIN_MINING_WORKERS")
	assert.ErrorContains(t, err, "POWCHAIN_MINING_MAX_TRIALS")
}

func TestParse_Precedence(t *testing.T) {
	path := writeConfig(t, `
mining:
  difficulty: 3
  workers: 2
producer:
  blocks: 7
`)
	t.Setenv("POWCHAIN_MINING_WORKERS", "6")
	t.Setenv("POWCHAIN_PRODUCER_BLOCKS", "9")

	cfg, err := Parse("powchain", []string{"-config", path, "-blocks", "4", "-log.format", "json"})
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Mining.Difficulty, "file overrides default")
	assert.Equal(t, 6, cfg.Mining.Workers, "env overrides file")
	assert.Equal(t, 4, cfg.Producer.Blocks, "flag overrides env")
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "Hello", cfg.Producer.Payload)
}

func TestParse_ConfigFromEnv(t *testing.T) {
	path := writeConfig(t, "producer:\n  payload: from file\n")
	t.Setenv("POWCHAIN_CONFIG", path)

	cfg, err := Parse("powchain", nil)
	require.NoError(t, err)
	assert.Equal(t, "from file", cfg.Producer.Payload)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{name: "Unknown flag", args: []string{"-port", "80"}},
		{name: "Malformed value", args: []string{"-difficulty", "high"}},
		{name: "Difficulty too high", args: []string{"-difficulty", "65"}},
		{name: "Negative difficulty", args: []string{"-difficulty", "-1"}},
		{name: "No workers", args: []string{"-workers", "0"}},
		{name: "Negative blocks", args: []string{"-blocks", "-3"}},
		{name: "Zero audit interval", args: []string{"-audit-interval", "0"}},
		{name: "Bad log level", args: []string{"-log.level", "loud"}},
		{name: "Bad log format", args: []string{"-log.format", "xml"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse("powchain", tt.args)
			assert.Error(t, err)
		})
	}
}
