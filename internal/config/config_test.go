package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeTmpConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	p := filepath.Join(dir, "config.yml")
	require.NoError(t, os.WriteFile(p, []byte(content), 0644))
	return p
}

func TestLoadValidConfig(t *testing.T) {
	cfg, err := Load(writeTmpConfig(t, `
hipd:
  node:
    ip: "10.0.0.1"
    hostname: "test-host"
  control:
    socket: "/tmp/test.sock"
    pid_file: "/tmp/test.pid"
  dh:
    group_preference: ["nist-p384", "modp-1536"]
  puzzle:
    difficulty: 12
  esp_prot:
    transform: "CUMULATIVE"
  log:
    level: "debug"
    format: "json"
`))
	require.NoError(t, err)
	require.Equal(t, "10.0.0.1", cfg.Node.IP)
	require.Equal(t, "test-host", cfg.Node.Hostname)
	require.Equal(t, "/tmp/test.sock", cfg.Control.Socket)
	require.Equal(t, 12, cfg.Puzzle.Difficulty)
	require.Equal(t, "CUMULATIVE", cfg.ESPProt.Transform)
	require.Equal(t, []string{"nist-p384", "modp-1536"}, cfg.DH.GroupPreference)
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeTmpConfig(t, `
hipd:
  node:
    ip: "10.0.0.1"
  log:
    level: "info"
    format: "json"
`))
	require.NoError(t, err)
	require.Equal(t, 10, cfg.Puzzle.Difficulty)
	require.Equal(t, "PLAIN", cfg.ESPProt.Transform)
	require.NotEmpty(t, cfg.DH.GroupPreference)
	require.Equal(t, "/var/run/hipd.sock", cfg.Control.Socket)
	require.True(t, cfg.Metrics.Enabled)
}

func TestLoadRejectsInvalidLogLevel(t *testing.T) {
	_, err := Load(writeTmpConfig(t, `
hipd:
  node:
    ip: "10.0.0.1"
  log:
    level: "verbose"
    format: "json"
`))
	require.Error(t, err)
}

func TestLoadRejectsInvalidESPProtTransform(t *testing.T) {
	_, err := Load(writeTmpConfig(t, `
hipd:
  node:
    ip: "10.0.0.1"
  esp_prot:
    transform: "BOGUS"
  log:
    level: "info"
    format: "json"
`))
	require.Error(t, err)
}

func TestLoadAutoDetectsHostname(t *testing.T) {
	cfg, err := Load(writeTmpConfig(t, `
hipd:
  node:
    ip: "10.0.0.1"
  log:
    level: "info"
    format: "json"
`))
	require.NoError(t, err)
	expected, _ := os.Hostname()
	require.Equal(t, expected, cfg.Node.Hostname)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("HIPD_LOG_LEVEL", "debug")

	cfg, err := Load(writeTmpConfig(t, `
hipd:
  node:
    ip: "10.0.0.1"
  log:
    level: "info"
    format: "json"
`))
	require.NoError(t, err)
	require.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yml"))
	require.Error(t, err)
}
