package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/eigerco/dispersal/pkg/network/protocol"
)

// DefaultCallTimeout applies when the caller's context has no deadline.
const DefaultCallTimeout = 30 * time.Second

// StreamOpener opens a stream of a given kind. *protocol.ProtocolConn satisfies it.
type StreamOpener interface {
	OpenStream(ctx context.Context, kind protocol.StreamKind) (quic.Stream, error)
}

// envelope is the response frame. Exactly one of OK and Error is set.
type envelope struct {
	OK    json.RawMessage `json:"ok,omitempty"`
	Error string          `json:"error,omitempty"`
}

// Client performs request/response calls, one stream per call.
type Client struct {
	conn    StreamOpener
	timeout time.Duration
}

func NewClient(conn StreamOpener) *Client {
	return &Client{conn: conn, timeout: DefaultCallTimeout}
}

// WithTimeout returns a copy of c using timeout for calls without a deadline.
func (c *Client) WithTimeout(timeout time.Duration) *Client {
	cp := *c
	cp.timeout = timeout
	return &cp
}

// Call sends req as JSON on a new stream of the given kind and decodes the
// reply into resp. Errors reported by the peer wrap ErrRemote.
func (c *Client) Call(ctx context.Context, kind protocol.StreamKind, req, resp any) error {
	if _, ok := ctx.Deadline(); !ok && c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", kind, err)
	}

	stream, err := c.conn.OpenStream(ctx, kind)
	if err != nil {
		return fmt.Errorf("open %s stream: %w", kind, err)
	}
	defer stream.CancelRead(0)
	if deadline, ok := ctx.Deadline(); ok {
		_ = stream.SetDeadline(deadline)
	}

	if err := WriteMessage(ctx, stream, payload); err != nil {
		stream.CancelWrite(0)
		return fmt.Errorf("send %s request: %w", kind, err)
	}
	if err := stream.Close(); err != nil {
		return fmt.Errorf("close %s request: %w", kind, err)
	}

	raw, err := ReadMessage(ctx, stream)
	if err != nil {
		return fmt.Errorf("read %s response: %w", kind, err)
	}
	return decodeEnvelope(raw, resp)
}

func decodeEnvelope(raw []byte, resp any) error {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if env.Error != "" {
		return fmt.Errorf("%w: %s", ErrRemote, env.Error)
	}
	if len(env.OK) == 0 {
		return ErrEmptyResponse
	}
	if resp == nil {
		return nil
	}
	if err := json.Unmarshal(env.OK, resp); err != nil {
		return fmt.Errorf("decode response body: %w", err)
	}
	return nil
}
