package transport

import (
	"context"
	"crypto/ed25519"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/eigerco/dispersal/pkg/log"
)

// MaxIdleTimeout is how long a connection may stay idle before quic-go closes it.
const MaxIdleTimeout = 5 * time.Minute

// KeepAlivePeriod keeps client connections open between dispersals.
const KeepAlivePeriod = 30 * time.Second

// CertValidator validates peer certificates and extracts their identity key.
type CertValidator interface {
	ValidateCertificate(cert *x509.Certificate) error
	ExtractPublicKey(cert *x509.Certificate) (ed25519.PublicKey, error)
}

// ConnectionHandler is notified of new connections and decides which ALPN
// protocols are acceptable.
type ConnectionHandler interface {
	OnConnection(conn *Conn) error
	Protocols() []string
	ValidateConnection(tlsState tls.ConnectionState) error
}

// Config contains the parameters for a Transport.
type Config struct {
	TLSCert       *tls.Certificate
	ListenAddr    string // empty for dial-only transports
	CertValidator CertValidator
	Handler       ConnectionHandler
}

// Transport manages QUIC connections, keyed by the peer's ed25519 key.
type Transport struct {
	config   Config
	listener *quic.Listener
	mu       sync.RWMutex
	conns    map[string]*Conn
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewTransport validates config and returns a transport ready to dial.
// Call Start to also accept inbound connections.
func NewTransport(config Config) (*Transport, error) {
	if config.TLSCert == nil {
		return nil, fmt.Errorf("TLS certificate required")
	}
	if config.CertValidator == nil {
		return nil, fmt.Errorf("certificate validator required")
	}
	if config.Handler == nil {
		return nil, fmt.Errorf("connection handler required")
	}
	if err := config.CertValidator.ValidateCertificate(config.TLSCert.Leaf); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCertificate, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Transport{
		config: config,
		conns:  make(map[string]*Conn),
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

func (t *Transport) quicConfig() *quic.Config {
	return &quic.Config{
		MaxIdleTimeout:  MaxIdleTimeout,
		KeepAlivePeriod: KeepAlivePeriod,
	}
}

// verifyPeer is shared by the listener and the dialer.
func (t *Transport) verifyPeer(cs tls.ConnectionState) error {
	if len(cs.PeerCertificates) == 0 {
		return fmt.Errorf("%w: no peer certificate provided", ErrInvalidCertificate)
	}
	if err := t.config.CertValidator.ValidateCertificate(cs.PeerCertificates[0]); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCertificate, err)
	}
	if err := t.config.Handler.ValidateConnection(cs); err != nil {
		return fmt.Errorf("connection validation failed: %w", err)
	}
	return nil
}

// Start listens on the configured address and accepts connections in the background.
func (t *Transport) Start() error {
	if t.ctx.Err() != nil {
		return ErrStopped
	}
	tlsConfig := &tls.Config{
		Certificates:       []tls.Certificate{*t.config.TLSCert},
		NextProtos:         t.config.Handler.Protocols(),
		ClientAuth:         tls.RequireAnyClientCert,
		MinVersion:         tls.VersionTLS13,
		InsecureSkipVerify: true,
		VerifyConnection:   t.verifyPeer,
	}

	listener, err := quic.ListenAddr(t.config.ListenAddr, tlsConfig, t.quicConfig())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrListenerFailed, err)
	}

	t.listener = listener
	t.done = make(chan struct{})
	go func() {
		defer close(t.done)
		t.acceptLoop()
	}()
	log.Network.Info().Str("addr", listener.Addr().String()).Msg("listening")
	return nil
}

// Addr returns the listener address, or nil for dial-only transports.
func (t *Transport) Addr() net.Addr {
	if t.listener == nil {
		return nil
	}
	return t.listener.Addr()
}

// Stop closes every connection and the listener, then waits for the accept loop.
func (t *Transport) Stop() error {
	t.cancel()

	t.mu.Lock()
	conns := t.conns
	t.conns = make(map[string]*Conn)
	t.mu.Unlock()

	for _, conn := range conns {
		if err := conn.Close(); err != nil {
			log.Network.Debug().Err(err).Msg("close connection")
		}
	}

	if t.listener == nil {
		return nil
	}
	if err := t.listener.Close(); err != nil {
		return fmt.Errorf("failed to close listener: %w", err)
	}
	<-t.done
	return nil
}

// Connect dials addr and returns the established connection.
func (t *Transport) Connect(ctx context.Context, addr string) (*Conn, error) {
	if t.ctx.Err() != nil {
		return nil, ErrStopped
	}
	tlsConf := &tls.Config{
		Certificates:       []tls.Certificate{*t.config.TLSCert},
		NextProtos:         t.config.Handler.Protocols(),
		MinVersion:         tls.VersionTLS13,
		InsecureSkipVerify: true,
		VerifyConnection:   t.verifyPeer,
	}

	qConn, err := quic.DialAddr(ctx, addr, tlsConf, t.quicConfig())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDialFailed, err)
	}

	conn, err := t.handleConnection(qConn)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnFailed, err)
	}
	return conn, nil
}

// Connection returns the active connection for a peer key.
func (t *Transport) Connection(peerKey ed25519.PublicKey) (*Conn, bool) {
	t.mu.RLock()
	conn, ok := t.conns[string(peerKey)]
	t.mu.RUnlock()
	return conn, ok
}

// Connections returns a snapshot of all active connections.
func (t *Transport) Connections() []*Conn {
	t.mu.RLock()
	defer t.mu.RUnlock()

	conns := make([]*Conn, 0, len(t.conns))
	for _, conn := range t.conns {
		conns = append(conns, conn)
	}
	return conns
}

func (t *Transport) acceptLoop() {
	for {
		qConn, err := t.listener.Accept(t.ctx)
		if err != nil {
			if t.ctx.Err() != nil || errors.Is(err, quic.ErrServerClosed) {
				return
			}
			log.Network.Warn().Err(err).Msg("accept connection")
			continue
		}
		go func() {
			if _, err := t.handleConnection(qConn); err != nil {
				log.Network.Warn().Err(err).Str("remote", qConn.RemoteAddr().String()).Msg("reject connection")
			}
		}()
	}
}

func (t *Transport) handleConnection(qConn quic.Connection) (*Conn, error) {
	certs := qConn.ConnectionState().TLS.PeerCertificates
	if len(certs) == 0 {
		_ = qConn.CloseWithError(0, ErrInvalidCertificate.Error())
		return nil, ErrInvalidCertificate
	}
	peerKey, err := t.config.CertValidator.ExtractPublicKey(certs[0])
	if err != nil {
		_ = qConn.CloseWithError(0, fmt.Sprintf("%s: %v", ErrInvalidCertificate, err))
		return nil, fmt.Errorf("%w: %v", ErrInvalidCertificate, err)
	}

	conn := t.manageConnection(peerKey, qConn)
	if err := t.config.Handler.OnConnection(conn); err != nil {
		t.cleanup(conn)
		_ = qConn.CloseWithError(0, err.Error())
		return nil, err
	}
	log.Network.Debug().Str("remote", qConn.RemoteAddr().String()).Msg("connection established")
	return conn, nil
}

// manageConnection stores conn, replacing any previous connection to the same peer.
func (t *Transport) manageConnection(peerKey ed25519.PublicKey, qConn quic.Connection) *Conn {
	conn := newConn(qConn, t, peerKey)

	t.mu.Lock()
	existing, ok := t.conns[string(peerKey)]
	t.conns[string(peerKey)] = conn
	t.mu.Unlock()

	if ok {
		log.Network.Debug().Msg("replacing existing connection")
		if err := existing.Close(); err != nil {
			log.Network.Debug().Err(err).Msg("close replaced connection")
		}
	}
	return conn
}

// cleanup forgets conn unless it was already replaced.
func (t *Transport) cleanup(conn *Conn) {
	t.mu.Lock()
	if current, ok := t.conns[string(conn.peerKey)]; ok && current == conn {
		delete(t.conns, string(conn.peerKey))
	}
	t.mu.Unlock()
}
