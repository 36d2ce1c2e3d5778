package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"syscall"
	"time"
)

// DefaultClientTimeout bounds a whole request/reply exchange.
const DefaultClientTimeout = 5 * time.Second

// ErrTimedOut is returned when a server accepted the connection but did not
// reply in time.
var ErrTimedOut = errors.New("timed out")

// ClientOptions configures a Client.
type ClientOptions struct {
	Host       string
	Timeout    time.Duration
	MaxPayload int64
}

// Client sends protocol requests, one connection per request.
type Client struct {
	opts ClientOptions
}

// NewClient creates a client.
func NewClient(opts ClientOptions) *Client {
	if opts.Host == "" {
		opts.Host = DefaultHost
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultClientTimeout
	}
	if opts.MaxPayload <= 0 {
		opts.MaxPayload = DefaultMaxPayload
	}
	return &Client{opts: opts}
}

// Timeout returns the configured exchange timeout.
func (c *Client) Timeout() time.Duration { return c.opts.Timeout }

// Send writes command to the server on port and returns its raw reply. An
// empty reply means the server handled nothing.
func (c *Client) Send(ctx context.Context, port int, command string) (string, error) {
	addr := net.JoinHostPort(c.opts.Host, strconv.Itoa(port))
	if int64(len(command)) > c.opts.MaxPayload {
		return "", fmt.Errorf("%w: request is %d bytes, limit is %d", ErrTooLarge, len(command), c.opts.MaxPayload)
	}

	deadline := time.Now().Add(c.opts.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	dialer := net.Dialer{Deadline: deadline}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		if isTimeout(err) {
			return "", fmt.Errorf("%w: connecting to %s", ErrTimedOut, addr)
		}
		return "", fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	defer conn.Close()

	if err := conn.SetDeadline(deadline); err != nil {
		return "", fmt.Errorf("failed to set deadline: %w", err)
	}
	stop := context.AfterFunc(ctx, func() { conn.SetDeadline(time.Now()) })
	defer stop()

	if _, err := io.WriteString(conn, command); err != nil {
		return "", c.wrap(ctx, addr, "failed to send request", err)
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		if err := tcp.CloseWrite(); err != nil {
			return "", c.wrap(ctx, addr, "failed to finish request", err)
		}
	}

	reply, err := io.ReadAll(io.LimitReader(conn, c.opts.MaxPayload+1))
	if err != nil {
		return "", c.wrap(ctx, addr, "failed to read reply", err)
	}
	if int64(len(reply)) > c.opts.MaxPayload {
		return "", fmt.Errorf("%w: reply from %s is over %d bytes", ErrTooLarge, addr, c.opts.MaxPayload)
	}
	return string(reply), nil
}

func (c *Client) wrap(ctx context.Context, addr, what string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if isTimeout(err) {
		return fmt.Errorf("%w: waiting for %s", ErrTimedOut, addr)
	}
	return fmt.Errorf("%s to %s: %w", what, addr, err)
}

// Communicate sends command and decodes the reply with Decode.
func (c *Client) Communicate(ctx context.Context, port int, command string) (any, error) {
	reply, err := c.Send(ctx, port, command)
	if err != nil {
		return nil, err
	}
	return Decode(reply), nil
}

// Decode parses reply as a JSON literal. Replies that are not JSON, such as
// function source or an environment name, are returned as the raw string.
func Decode(reply string) any {
	var v any
	if err := json.Unmarshal([]byte(reply), &v); err != nil {
		return reply
	}
	return v
}

// IsRefused reports whether err is a refused connection, meaning nothing
// listens on the port.
func IsRefused(err error) bool {
	return errors.Is(err, syscall.ECONNREFUSED)
}
