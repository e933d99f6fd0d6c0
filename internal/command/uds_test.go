package command

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, socketPath string) *UDSServer {
	t.Helper()
	h, _, _, _ := newTestHandler(t, nil)
	return NewUDSServer(socketPath, h)
}

func TestUDSServerClient_Integration(t *testing.T) {
	tmpDir := t.TempDir()
	socketPath := filepath.Join(tmpDir, "test.sock")
	server := newTestServer(t, socketPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(ctx)
	}()
	time.Sleep(100 * time.Millisecond)

	client := NewUDSClient(socketPath, 5*time.Second)

	t.Run("hid_list", func(t *testing.T) {
		resp, err := client.HIDList(context.Background())
		require.NoError(t, err)
		require.Nil(t, resp.Error)
		result, ok := resp.Result.(map[string]interface{})
		require.True(t, ok)
		_, exists := result["identities"]
		require.True(t, exists)
	})

	t.Run("ping", func(t *testing.T) {
		require.NoError(t, client.Ping(context.Background()))
	})

	t.Run("unknown_method", func(t *testing.T) {
		resp, err := client.Call(context.Background(), "unknown.method", nil)
		require.NoError(t, err)
		require.NotNil(t, resp.Error)
		require.Equal(t, ErrCodeMethodNotFound, resp.Error.Code)
	})

	cancel()
	select {
	case err := <-errCh:
		require.True(t, err == nil || err == context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("server didn't stop in time")
	}

	_, err := os.Stat(socketPath)
	require.True(t, os.IsNotExist(err))
}

func TestUDSClient_ConnectionError(t *testing.T) {
	client := NewUDSClient("/tmp/non-existent-socket.sock", 1*time.Second)
	_, err := client.HIDList(context.Background())
	require.Error(t, err)
}

func TestUDSClient_Timeout(t *testing.T) {
	tmpDir := t.TempDir()
	socketPath := filepath.Join(tmpDir, "test-timeout.sock")
	server := newTestServer(t, socketPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go server.Start(ctx)
	time.Sleep(100 * time.Millisecond)

	client := NewUDSClient(socketPath, 1*time.Nanosecond)
	_, err := client.HIDList(context.Background())
	require.Error(t, err)
}

func TestUDSServer_MultipleConnections(t *testing.T) {
	tmpDir := t.TempDir()
	socketPath := filepath.Join(tmpDir, "test-multi.sock")
	server := newTestServer(t, socketPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go server.Start(ctx)
	time.Sleep(100 * time.Millisecond)

	clients := make([]*UDSClient, 5)
	for i := range clients {
		clients[i] = NewUDSClient(socketPath, 5*time.Second)
	}

	errCh := make(chan error, 5)
	for _, c := range clients {
		go func(client *UDSClient) {
			_, err := client.HIDList(context.Background())
			errCh <- err
		}(c)
	}
	for range clients {
		require.NoError(t, <-errCh)
	}
}

func TestUDSClient_ConvenienceMethods(t *testing.T) {
	tmpDir := t.TempDir()
	socketPath := filepath.Join(tmpDir, "test-convenience.sock")
	server := newTestServer(t, socketPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go server.Start(ctx)
	time.Sleep(100 * time.Millisecond)

	client := NewUDSClient(socketPath, 5*time.Second)

	tests := []struct {
		name string
		fn   func() (*Response, error)
	}{
		{"HIDList", func() (*Response, error) { return client.HIDList(context.Background()) }},
		{"HIDDefault", func() (*Response, error) { return client.HIDDefault(context.Background()) }},
		{"HAList", func() (*Response, error) { return client.HAList(context.Background()) }},
		{"ConfigReload", func() (*Response, error) { return client.ConfigReload(context.Background()) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.fn()
			require.NoError(t, err)
		})
	}
}

func TestNewUDSClient_DefaultTimeout(t *testing.T) {
	client := NewUDSClient("/tmp/test.sock", 0)
	require.Equal(t, 10*time.Second, client.timeout)

	client2 := NewUDSClient("/tmp/test.sock", 5*time.Second)
	require.Equal(t, 5*time.Second, client2.timeout)
}
