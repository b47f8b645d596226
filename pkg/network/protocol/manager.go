package protocol

import (
	"crypto/tls"
	"fmt"
	"slices"
	"sync"

	"github.com/eigerco/dispersal/pkg/log"
	"github.com/eigerco/dispersal/pkg/network/transport"
)

// Config configures a Manager.
type Config struct {
	// Version is the ALPN version to negotiate. Empty means CurrentVersion.
	Version string
}

// Manager implements transport.ConnectionHandler. It wraps every connection
// in a ProtocolConn and serves the streams the peer opens.
type Manager struct {
	Registry *Registry
	protocol ProtocolID

	mu    sync.RWMutex
	conns map[*transport.Conn]*ProtocolConn
}

func NewManager(config Config) (*Manager, error) {
	id := NewProtocolID(config.Version)
	if _, err := ParseProtocolID(id.String()); err != nil {
		return nil, err
	}
	return &Manager{
		Registry: NewRegistry(),
		protocol: id,
		conns:    make(map[*transport.Conn]*ProtocolConn),
	}, nil
}

// OnConnection starts serving inbound streams on conn.
func (m *Manager) OnConnection(conn *transport.Conn) error {
	pc := NewProtocolConn(conn, m.Registry)

	m.mu.Lock()
	m.conns[conn] = pc
	m.mu.Unlock()

	go m.handleStreams(conn, pc)
	return nil
}

// Conn returns the ProtocolConn created for conn by OnConnection.
func (m *Manager) Conn(conn *transport.Conn) (*ProtocolConn, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pc, ok := m.conns[conn]
	return pc, ok
}

func (m *Manager) handleStreams(conn *transport.Conn, pc *ProtocolConn) {
	defer func() {
		m.mu.Lock()
		delete(m.conns, conn)
		m.mu.Unlock()
		_ = pc.Close()
	}()

	for {
		if err := pc.AcceptStream(); err != nil {
			if pc.Context().Err() == nil {
				log.Network.Debug().Err(err).Msg("connection closed")
			}
			return
		}
	}
}

// Protocols returns the ALPN protocols offered during the handshake.
func (m *Manager) Protocols() []string {
	return []string{m.protocol.String()}
}

// ValidateConnection requires the negotiated protocol to be ours.
func (m *Manager) ValidateConnection(tlsState tls.ConnectionState) error {
	if tlsState.NegotiatedProtocol == "" {
		return fmt.Errorf("%w: none negotiated", ErrInvalidProtocol)
	}
	id, err := ParseProtocolID(tlsState.NegotiatedProtocol)
	if err != nil {
		return err
	}
	if !slices.Contains(m.Protocols(), id.String()) {
		return fmt.Errorf("%w: unsupported version %s", ErrInvalidProtocol, id.Version)
	}
	return nil
}
