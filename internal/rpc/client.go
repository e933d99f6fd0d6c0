// Package rpc adapts internal/command's JSON-RPC-over-UDS transport to
// the lifecycle-oriented ClientInterface the CLI commands depend on,
// and owns starting/stopping the background daemon process that
// transport talks to.
package rpc

import (
	"context"
	"fmt"
	"time"

	"github.com/hiplane/hipd/internal/command"
	"github.com/hiplane/hipd/internal/daemon"
)

const defaultTimeout = 10 * time.Second

// Client implements the CLI's ClientInterface against a real daemon
// reachable over its control socket.
type Client struct {
	configPath string
	socketPath string
	pidFile    string
	uds        *command.UDSClient
}

// NewClient builds a Client bound to the given config/socket/pidfile
// paths. It does not dial anything eagerly; each call connects fresh,
// matching internal/command.UDSClient's per-call dial convention.
func NewClient(configPath, socketPath, pidFile string) (*Client, error) {
	return &Client{
		configPath: configPath,
		socketPath: socketPath,
		pidFile:    pidFile,
		uds:        command.NewUDSClient(socketPath, defaultTimeout),
	}, nil
}

// Start forks the daemon into the background, erroring if it is
// already reachable.
func (c *Client) Start(_ context.Context) error {
	return daemon.StartDaemon(c.configPath, c.socketPath, c.pidFile)
}

// Stop asks the running daemon to shut down gracefully over its
// control socket.
func (c *Client) Stop(ctx context.Context) error {
	resp, err := c.uds.Call(ctx, "daemon_shutdown", nil)
	if err != nil {
		return fmt.Errorf("daemon unreachable: %w", err)
	}
	if resp.Error != nil {
		return fmt.Errorf("daemon_shutdown failed: %s", resp.Error.Message)
	}
	return nil
}

// Reload asks the running daemon to reload its configuration file.
func (c *Client) Reload(ctx context.Context) error {
	resp, err := c.uds.ConfigReload(ctx)
	if err != nil {
		return fmt.Errorf("daemon unreachable: %w", err)
	}
	if resp.Error != nil {
		return fmt.Errorf("config_reload failed: %s", resp.Error.Message)
	}
	return nil
}

// Close releases any resources held by the client. UDSClient dials
// per call, so there is nothing to release today.
func (c *Client) Close() error {
	return nil
}

// UDS exposes the underlying JSON-RPC client for commands that need
// the broader method surface ClientInterface doesn't cover (status,
// stats, host-identity management).
func (c *Client) UDS() *command.UDSClient {
	return c.uds
}
