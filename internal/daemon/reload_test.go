package daemon

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDaemonReloadLogLevel(t *testing.T) {
	tmpDir := t.TempDir()
	sockPath := filepath.Join(tmpDir, "hipd.sock")
	pidFile := filepath.Join(tmpDir, "hipd.pid")
	configPath := writeTestConfig(t, tmpDir, "test-reload-001", "info", sockPath)

	d, err := New(configPath, sockPath, pidFile)
	require.NoError(t, err)
	require.NoError(t, d.Start())
	defer d.Stop()

	require.Equal(t, "info", d.config.Log.Level)

	writeTestConfig(t, tmpDir, "test-reload-001", "debug", sockPath)

	require.NoError(t, d.Reload())
	require.Equal(t, "debug", d.config.Log.Level)
}

func TestDaemonReloadPuzzleDifficulty(t *testing.T) {
	tmpDir := t.TempDir()
	sockPath := filepath.Join(tmpDir, "hipd.sock")
	pidFile := filepath.Join(tmpDir, "hipd.pid")
	configPath := writeTestConfig(t, tmpDir, "test-reload-002", "info", sockPath)

	d, err := New(configPath, sockPath, pidFile)
	require.NoError(t, err)
	require.NoError(t, d.Start())
	defer d.Stop()

	require.Equal(t, uint8(4), d.puzzles.Difficulty())

	content := `
hipd:
  node:
    hostname: test-reload-002
  control:
    socket: ` + sockPath + `
  host_identities:
    - name: test
      hostname: test-reload-002
  dh:
    group_preference: ["nist-p256"]
  puzzle:
    difficulty: 12
    lifetime: 1m
  esp_prot:
    transform: PLAIN
  admin_stream:
    enabled: false
  metrics:
    enabled: false
  log:
    level: info
    format: text
`
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0644))

	require.NoError(t, d.Reload())
	require.Equal(t, uint8(12), d.puzzles.Difficulty())
}

func TestDaemonReloadRejectsInvalidConfig(t *testing.T) {
	tmpDir := t.TempDir()
	sockPath := filepath.Join(tmpDir, "hipd.sock")
	pidFile := filepath.Join(tmpDir, "hipd.pid")
	configPath := writeTestConfig(t, tmpDir, "test-reload-003", "info", sockPath)

	d, err := New(configPath, sockPath, pidFile)
	require.NoError(t, err)
	require.NoError(t, d.Start())
	defer d.Stop()

	require.NoError(t, os.WriteFile(configPath, []byte("hipd:\n  log:\n    level: nonsense\n"), 0644))

	require.Error(t, d.Reload())
	require.Equal(t, "info", d.config.Log.Level, "config should be unchanged after a failed reload")
}
