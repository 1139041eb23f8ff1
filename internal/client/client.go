// Package client talks to a running perception-voice server over its unix socket.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/lexiqai/perception-voice/internal/protocol"
	"github.com/lexiqai/perception-voice/internal/resilience"
)

// ErrNoResponse is returned when the server closes the connection without answering
var ErrNoResponse = errors.New("no response from server")

// ServerError is an error response returned by the server
type ServerError struct {
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server error: %s", e.Message)
}

// Options configures a Client
type Options struct {
	Timeout        time.Duration // per-attempt dial + exchange deadline
	MaxMessageSize int
	Retry          *resilience.RetryConfig // dial retries; nil means a single attempt
}

// Client issues one request per connection
type Client struct {
	socketPath string
	opts       Options
}

// New creates a client for the socket at socketPath
func New(socketPath string, opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = protocol.DefaultMaxMessageSize
	}
	return &Client{socketPath: socketPath, opts: opts}
}

// Set moves uid's read marker to now
func (c *Client) Set(ctx context.Context, uid string) error {
	_, err := c.Do(ctx, protocol.SetRequest{UID: uid})
	return err
}

// Get returns the JSONL payload of everything since uid's read marker.
// The result is empty when nothing is pending.
func (c *Client) Get(ctx context.Context, uid string) (string, error) {
	resp, err := c.Do(ctx, protocol.GetRequest{UID: uid})
	if err != nil {
		return "", err
	}
	return resp.TextOrEmpty(), nil
}

// Do sends req and waits for the response. Only connecting is retried: once a request
// has been written it may have taken effect, so it is never resent.
func (c *Client) Do(ctx context.Context, req protocol.Request) (protocol.Response, error) {
	payload, err := protocol.EncodeRequest(req)
	if err != nil {
		return protocol.Response{}, fmt.Errorf("failed to encode request: %w", err)
	}

	var conn net.Conn
	dial := func(ctx context.Context) error {
		dialCtx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
		defer cancel()

		var d net.Dialer
		cn, err := d.DialContext(dialCtx, "unix", c.socketPath)
		if err != nil {
			return err
		}
		conn = cn
		return nil
	}

	retry := c.opts.Retry
	if retry == nil {
		retry = &resilience.RetryConfig{MaxAttempts: 1}
	}
	if err := resilience.Retry(ctx, dial, retry, resilience.IsRetryableNetworkError); err != nil {
		return protocol.Response{}, fmt.Errorf("cannot connect to server at %s: %w", c.socketPath, err)
	}
	defer conn.Close()

	deadline := time.Now().Add(c.opts.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return protocol.Response{}, fmt.Errorf("failed to set deadline: %w", err)
	}

	if err := protocol.WriteFrame(conn, payload, c.opts.MaxMessageSize); err != nil {
		return protocol.Response{}, fmt.Errorf("failed to send request: %w", err)
	}

	raw, err := protocol.ReadFrame(conn, c.opts.MaxMessageSize)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return protocol.Response{}, ErrNoResponse
		}
		return protocol.Response{}, fmt.Errorf("failed to read response: %w", err)
	}

	resp, err := protocol.DecodeResponse(raw)
	if err != nil {
		return protocol.Response{}, err
	}
	if !resp.IsOK() {
		return resp, &ServerError{Message: resp.Message}
	}
	return resp, nil
}
