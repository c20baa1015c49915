package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"

	amerrors "github.com/Aman-CERP/amanrag/internal/errors"
)

// Client talks to the daemon over its Unix socket.
type Client struct {
	socketPath string
	timeout    time.Duration
}

// NewClient creates a new daemon client.
func NewClient(cfg Config) *Client {
	return &Client{
		socketPath: cfg.SocketPath,
		timeout:    cfg.Timeout,
	}
}

// Connect establishes a connection to the daemon.
func (c *Client) Connect(ctx context.Context) (net.Conn, error) {
	d := net.Dialer{Timeout: c.timeout}
	conn, err := d.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return nil, amerrors.New(amerrors.ErrCodeDaemonUnavailable, "failed to connect to daemon", err).
			WithDetail("socket", c.socketPath).
			WithSuggestion("Start it with: amanrag daemon start")
	}
	return conn, nil
}

// IsRunning checks if the daemon is accepting connections.
func (c *Client) IsRunning(ctx context.Context) bool {
	conn, err := c.Connect(ctx)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// Ping checks if the daemon is responsive.
func (c *Client) Ping(ctx context.Context) error {
	var pong PingResult
	if err := c.call(ctx, MethodPing, nil, &pong); err != nil {
		return err
	}
	if !pong.Pong {
		return fmt.Errorf("unexpected ping response")
	}
	return nil
}

// Query sends a query to the daemon.
func (c *Client) Query(ctx context.Context, params QueryParams) (*QueryResult, error) {
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	var res QueryResult
	if err := c.call(ctx, MethodQuery, params, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Status retrieves daemon status.
func (c *Client) Status(ctx context.Context) (*StatusResult, error) {
	var st StatusResult
	if err := c.call(ctx, MethodStatus, nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// call performs one request/response exchange on a fresh connection. The
// deadline is the earlier of ctx's and the client timeout.
func (c *Client) call(ctx context.Context, method string, params, out any) error {
	conn, err := c.Connect(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return fmt.Errorf("failed to set deadline: %w", err)
	}

	req := Request{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      uuid.NewString(),
	}
	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}

	var resp struct {
		JSONRPC string          `json:"jsonrpc"`
		Result  json.RawMessage `json:"result"`
		Error   *Error          `json:"error"`
		ID      string          `json:"id"`
	}
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return fmt.Errorf("failed to receive response: %w", err)
	}
	if resp.ID != req.ID {
		return fmt.Errorf("response id %q does not match request %q", resp.ID, req.ID)
	}
	if resp.Error != nil {
		return fmt.Errorf("%s failed: %w", method, resp.Error)
	}
	if err := json.Unmarshal(resp.Result, out); err != nil {
		return fmt.Errorf("failed to decode %s result: %w", method, err)
	}
	return nil
}
