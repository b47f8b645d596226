package transport

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"sync"

	"github.com/quic-go/quic-go"
)

// Conn is a QUIC connection with a known peer key. Its context is cancelled
// when the connection is closed locally or by the peer.
type Conn struct {
	qConn     quic.Connection
	transport *Transport
	peerKey   ed25519.PublicKey
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	closeErr  error
}

func newConn(qConn quic.Connection, transport *Transport, peerKey ed25519.PublicKey) *Conn {
	ctx, cancel := context.WithCancel(transport.ctx)
	c := &Conn{
		qConn:     qConn,
		transport: transport,
		peerKey:   peerKey,
		ctx:       ctx,
		cancel:    cancel,
	}
	go func() {
		select {
		case <-qConn.Context().Done():
			cancel()
			transport.cleanup(c)
		case <-ctx.Done():
		}
	}()
	return c
}

// OpenStream opens a bidirectional stream, blocking until the peer allows it or ctx ends.
func (c *Conn) OpenStream(ctx context.Context) (quic.Stream, error) {
	stream, err := c.qConn.OpenStreamSync(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open QUIC stream: %w", err)
	}
	return stream, nil
}

// AcceptStream waits for the peer to open a stream.
func (c *Conn) AcceptStream() (quic.Stream, error) {
	stream, err := c.qConn.AcceptStream(c.ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to accept QUIC stream: %w", err)
	}
	return stream, nil
}

func (c *Conn) PeerKey() ed25519.PublicKey {
	return c.peerKey
}

func (c *Conn) RemoteAddr() string {
	return c.qConn.RemoteAddr().String()
}

// Close closes the connection once; later calls return the first result.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()
		c.closeErr = c.qConn.CloseWithError(0, "")
		c.transport.cleanup(c)
	})
	return c.closeErr
}

func (c *Conn) Context() context.Context {
	return c.ctx
}
