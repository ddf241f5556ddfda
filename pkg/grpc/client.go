package grpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/pkg/logger"
)

// ErrBroken is returned by every call after a transport failure left the
// connection mid-message. Dial again to recover.
var ErrBroken = errors.New("rpc connection broken")

// Client is a lightweight JSON-over-TCP RPC client.
type Client struct {
	conn    net.Conn
	encoder *json.Encoder
	decoder *json.Decoder
	mu      sync.Mutex
	nextID  atomic.Int64
	broken  error
}

// Dial connects to an RPC server at the given address.
func Dial(ctx context.Context, addr string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", addr, err)
	}
	return &Client{
		conn:    conn,
		encoder: json.NewEncoder(conn),
		decoder: json.NewDecoder(conn),
	}, nil
}

// Call invokes the named RPC method with params and decodes the response
// into result. The ctx deadline bounds the round trip and a request id in
// ctx is forwarded. A failed call returns *Error. Call is safe for
// concurrent use.
func (c *Client) Call(ctx context.Context, method string, params any, result any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.broken != nil {
		return fmt.Errorf("%w: %v", ErrBroken, c.broken)
	}

	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("marshaling params: %w", err)
	}
	req := Request{
		Method:    method,
		ID:        strconv.FormatInt(c.nextID.Add(1), 10),
		RequestID: logger.RequestID(ctx),
		Params:    raw,
	}

	deadline, _ := ctx.Deadline()
	if err := c.conn.SetDeadline(deadline); err != nil {
		return fmt.Errorf("setting deadline: %w", err)
	}
	defer c.conn.SetDeadline(time.Time{})
	stop := context.AfterFunc(ctx, func() { c.conn.SetDeadline(time.Unix(1, 0)) })
	defer stop()

	if err := c.encoder.Encode(req); err != nil {
		return c.transportError(ctx, "sending request", err)
	}
	var resp Response
	if err := c.decoder.Decode(&resp); err != nil {
		return c.transportError(ctx, "reading response", err)
	}
	if resp.ID != req.ID {
		c.broken = fmt.Errorf("response id %s does not match request %s", resp.ID, req.ID)
		return c.broken
	}
	if resp.Error != nil {
		return resp.Error
	}
	if result != nil && len(resp.Data) > 0 {
		if err := json.Unmarshal(resp.Data, result); err != nil {
			return fmt.Errorf("unmarshaling into result: %w", err)
		}
	}
	return nil
}

// transportError marks the client broken: a half-written request or
// half-read response cannot be resynchronised.
func (c *Client) transportError(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		err = ctx.Err()
	}
	c.broken = fmt.Errorf("%s: %w", op, err)
	return c.broken
}

// Close closes the underlying TCP connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
