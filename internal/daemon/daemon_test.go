package daemon

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeTestConfig(t *testing.T, dir, hostname, logLevel, sockPath string) string {
	t.Helper()
	content := `
hipd:
  node:
    hostname: ` + hostname + `
  control:
    socket: ` + sockPath + `
  host_identities:
    - name: test
      hostname: ` + hostname + `
  dh:
    group_preference: ["nist-p256"]
  puzzle:
    difficulty: 4
    lifetime: 1m
  esp_prot:
    transform: PLAIN
  admin_stream:
    enabled: false
  metrics:
    enabled: false
  log:
    level: ` + logLevel + `
    format: text
`
	configPath := filepath.Join(dir, "config.yml")
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0644))
	return configPath
}

func TestDaemonStartStopIntegration(t *testing.T) {
	tmpDir := t.TempDir()
	sockPath := filepath.Join(tmpDir, "hipd.sock")
	pidFile := filepath.Join(tmpDir, "hipd.pid")
	configPath := writeTestConfig(t, tmpDir, "test-daemon-001", "debug", sockPath)

	d, err := New(configPath, sockPath, pidFile)
	require.NoError(t, err)

	require.NoError(t, d.Start())

	_, err = os.Stat(pidFile)
	require.NoError(t, err, "PID file should exist after Start")

	time.Sleep(100 * time.Millisecond)
	_, err = os.Stat(sockPath)
	require.NoError(t, err, "control socket should exist after Start")

	require.Equal(t, 1, d.hids.Len())

	runDone := make(chan error, 1)
	go func() { runDone <- d.Run() }()

	time.Sleep(100 * time.Millisecond)
	d.TriggerShutdown()

	select {
	case err := <-runDone:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not stop within timeout")
	}

	_, err = os.Stat(pidFile)
	require.True(t, os.IsNotExist(err), "PID file should be removed after shutdown")
}

func TestDaemonLoadHostIdentitiesGeneratesEphemeralWhenUnconfigured(t *testing.T) {
	tmpDir := t.TempDir()
	sockPath := filepath.Join(tmpDir, "hipd.sock")
	pidFile := filepath.Join(tmpDir, "hipd.pid")

	content := `
hipd:
  node:
    hostname: test-daemon-002
  control:
    socket: ` + sockPath + `
  dh:
    group_preference: ["nist-p256"]
  puzzle:
    difficulty: 4
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
	configPath := filepath.Join(tmpDir, "config.yml")
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0644))

	d, err := New(configPath, sockPath, pidFile)
	require.NoError(t, err)
	require.NoError(t, d.Start())
	defer d.Stop()

	require.Equal(t, 1, d.hids.Len())
}
