// Package command implements command channels.
package command

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"
)

// UDSClient is a JSON-RPC client over Unix Domain Socket.
type UDSClient struct {
	socketPath string
	timeout    time.Duration
}

// NewUDSClient creates a new UDS client.
func NewUDSClient(socketPath string, timeout time.Duration) *UDSClient {
	if timeout == 0 {
		timeout = 10 * time.Second // Default timeout
	}
	return &UDSClient{
		socketPath: socketPath,
		timeout:    timeout,
	}
}

// Call sends a command and waits for response.
func (c *UDSClient) Call(ctx context.Context, method string, params interface{}) (*Response, error) {
	// Create connection with timeout
	conn, err := net.DialTimeout("unix", c.socketPath, c.timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to socket %s: %w", c.socketPath, err)
	}
	defer conn.Close()

	// Set deadline
	deadline := time.Now().Add(c.timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	conn.SetDeadline(deadline)

	// Marshal params
	var paramsJSON json.RawMessage
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal params: %w", err)
		}
		paramsJSON = data
	}

	// Create JSON-RPC request
	reqID := fmt.Sprintf("req-%d", time.Now().UnixNano()) // Use string ID
	req := JSONRPCRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  paramsJSON,
		ID:      reqID,
	}

	// Send request
	encoder := json.NewEncoder(conn)
	if err := encoder.Encode(req); err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	// Read response
	scanner := bufio.NewScanner(conn)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("failed to read response: %w", err)
		}
		return nil, fmt.Errorf("connection closed without response")
	}

	// Parse JSON-RPC response
	var jsonrpcResp JSONRPCResponse
	if err := json.Unmarshal(scanner.Bytes(), &jsonrpcResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	// Verify response ID matches (convert both to string for comparison)
	respIDStr := fmt.Sprintf("%v", jsonrpcResp.ID)
	if respIDStr != reqID {
		return nil, fmt.Errorf("response ID mismatch: expected %v, got %v", reqID, respIDStr)
	}

	// Convert to internal Response format
	resp := &Response{
		ID:     fmt.Sprintf("%v", jsonrpcResp.ID),
		Result: jsonrpcResp.Result,
		Error:  jsonrpcResp.Error,
	}

	return resp, nil
}

// TriggerBEX is a convenience method for the trigger_bex command.
func (c *UDSClient) TriggerBEX(ctx context.Context, params TriggerBEXParams) (*Response, error) {
	return c.Call(ctx, "trigger_bex", params)
}

// Close is a convenience method for the close command.
func (c *UDSClient) Close(ctx context.Context, localHIT, peerHIT string) (*Response, error) {
	return c.Call(ctx, "close", CloseParams{LocalHIT: localHIT, PeerHIT: peerHIT})
}

// HAList is a convenience method for the ha_list command.
func (c *UDSClient) HAList(ctx context.Context) (*Response, error) {
	return c.Call(ctx, "ha_list", nil)
}

// HAStatus is a convenience method for the ha_status command.
func (c *UDSClient) HAStatus(ctx context.Context, localHIT, peerHIT string) (*Response, error) {
	return c.Call(ctx, "ha_status", HAStatusParams{LocalHIT: localHIT, PeerHIT: peerHIT})
}

// HIDList is a convenience method for the hid_list command.
func (c *UDSClient) HIDList(ctx context.Context) (*Response, error) {
	return c.Call(ctx, "hid_list", nil)
}

// HIDGenerate is a convenience method for the hid_generate command.
func (c *UDSClient) HIDGenerate(ctx context.Context, params HIDGenerateParams) (*Response, error) {
	return c.Call(ctx, "hid_generate", params)
}

// HIDDefault is a convenience method for the hid_default command.
func (c *UDSClient) HIDDefault(ctx context.Context) (*Response, error) {
	return c.Call(ctx, "hid_default", nil)
}

// ConfigReload is a convenience method for the config_reload command.
func (c *UDSClient) ConfigReload(ctx context.Context) (*Response, error) {
	return c.Call(ctx, "config_reload", nil)
}

// Ping sends a simple ping command to check if the daemon is alive.
// This is a convenience wrapper around daemon_status.
func (c *UDSClient) Ping(ctx context.Context) error {
	_, err := c.Call(ctx, "daemon_status", nil)
	return err
}
