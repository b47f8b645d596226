package rpc

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"fmt"

	"github.com/quic-go/quic-go"

	"github.com/eigerco/dispersal/pkg/network/protocol"
)

// HandlerFunc serves one decoded request. A returned error is sent to the
// caller as the envelope's error message.
type HandlerFunc func(ctx context.Context, peerKey ed25519.PublicKey, req json.RawMessage) (any, error)

// Handle adapts a typed function into a HandlerFunc.
func Handle[Req, Resp any](fn func(ctx context.Context, req Req) (Resp, error)) HandlerFunc {
	return func(ctx context.Context, _ ed25519.PublicKey, raw json.RawMessage) (any, error) {
		var req Req
		if err := json.Unmarshal(raw, &req); err != nil {
			return nil, fmt.Errorf("decode request: %w", err)
		}
		return fn(ctx, req)
	}
}

// HandleStream implements protocol.StreamHandler.
func (h HandlerFunc) HandleStream(ctx context.Context, stream quic.Stream, peerKey ed25519.PublicKey) error {
	defer stream.Close()

	raw, err := ReadMessage(ctx, stream)
	if err != nil {
		stream.CancelWrite(0)
		return fmt.Errorf("read request: %w", err)
	}

	var env envelope
	result, herr := h(ctx, peerKey, raw)
	if herr != nil {
		env.Error = herr.Error()
	} else {
		body, err := json.Marshal(result)
		if err != nil {
			env.Error = fmt.Sprintf("encode response: %v", err)
		} else {
			env.OK = body
		}
	}

	out, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	if err := WriteMessage(ctx, stream, out); err != nil {
		return fmt.Errorf("write response: %w", err)
	}
	return nil
}

// Server registers handlers by stream kind.
type Server struct {
	registry *protocol.Registry
}

func NewServer(registry *protocol.Registry) *Server {
	return &Server{registry: registry}
}

func (s *Server) Register(kind protocol.StreamKind, h HandlerFunc) {
	s.registry.RegisterHandler(kind, h)
}
