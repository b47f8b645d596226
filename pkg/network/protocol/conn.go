package protocol

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"io"

	"github.com/quic-go/quic-go"

	"github.com/eigerco/dispersal/pkg/log"
	"github.com/eigerco/dispersal/pkg/network/transport"
)

// streamErrorCode is sent when a stream is rejected before reaching a handler.
const streamErrorCode quic.StreamErrorCode = 1

// ProtocolConn adds stream kinds on top of a transport connection.
type ProtocolConn struct {
	tConn    *transport.Conn
	registry *Registry
}

func NewProtocolConn(tConn *transport.Conn, registry *Registry) *ProtocolConn {
	return &ProtocolConn{
		tConn:    tConn,
		registry: registry,
	}
}

// OpenStream opens a stream and announces its kind.
func (pc *ProtocolConn) OpenStream(ctx context.Context, kind StreamKind) (quic.Stream, error) {
	stream, err := pc.tConn.OpenStream(ctx)
	if err != nil {
		return nil, err
	}
	if err := writeWithContext(ctx, stream, []byte{byte(kind)}); err != nil {
		stream.CancelWrite(streamErrorCode)
		stream.CancelRead(streamErrorCode)
		return nil, fmt.Errorf("failed to write stream kind: %w", err)
	}
	return stream, nil
}

// AcceptStream waits for the next stream and dispatches it to its handler in
// a new goroutine. Only connection-level failures are returned; a stream with
// an unknown kind is reset and skipped.
func (pc *ProtocolConn) AcceptStream() error {
	stream, err := pc.tConn.AcceptStream()
	if err != nil {
		return err
	}

	go pc.dispatch(stream)
	return nil
}

func (pc *ProtocolConn) dispatch(stream quic.Stream) {
	kind := make([]byte, 1)
	if _, err := io.ReadFull(stream, kind); err != nil {
		log.Network.Debug().Err(err).Msg("read stream kind")
		stream.CancelRead(streamErrorCode)
		stream.CancelWrite(streamErrorCode)
		return
	}

	handler, err := pc.lookup(kind[0])
	if err != nil {
		log.Network.Debug().Err(err).Msg("reject stream")
		stream.CancelRead(streamErrorCode)
		stream.CancelWrite(streamErrorCode)
		return
	}

	if err := handler.HandleStream(pc.tConn.Context(), stream, pc.tConn.PeerKey()); err != nil {
		log.Network.Warn().Err(err).Stringer("kind", StreamKind(kind[0])).Msg("stream handler")
	}
}

func (pc *ProtocolConn) lookup(b byte) (StreamHandler, error) {
	if err := ValidateKind(b); err != nil {
		return nil, err
	}
	return pc.registry.GetHandler(StreamKind(b))
}

func (pc *ProtocolConn) PeerKey() ed25519.PublicKey {
	return pc.tConn.PeerKey()
}

func (pc *ProtocolConn) Context() context.Context {
	return pc.tConn.Context()
}

func (pc *ProtocolConn) Close() error {
	return pc.tConn.Close()
}

// writeWithContext lets a blocked stream write be abandoned when ctx ends.
func writeWithContext(ctx context.Context, stream io.Writer, p []byte) error {
	done := make(chan error, 1)
	go func() {
		_, err := stream.Write(p)
		done <- err
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
