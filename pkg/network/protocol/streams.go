package protocol

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"sync"

	"github.com/quic-go/quic-go"
)

// StreamKind is the first byte written on every stream and selects its handler.
type StreamKind byte

const (
	StreamKindGetPaymentState              StreamKind = 128
	StreamKindGetPaymentStateForAllQuorums StreamKind = 129
	StreamKindGetBlobCommitment            StreamKind = 130
	StreamKindDisperseBlob                 StreamKind = 131
	StreamKindGetBlobStatus                StreamKind = 132
)

var (
	ErrInvalidStreamKind = errors.New("invalid stream kind")
	ErrNoHandler         = errors.New("no handler for stream kind")
)

func (k StreamKind) String() string {
	switch k {
	case StreamKindGetPaymentState:
		return "get_payment_state"
	case StreamKindGetPaymentStateForAllQuorums:
		return "get_payment_state_for_all_quorums"
	case StreamKindGetBlobCommitment:
		return "get_blob_commitment"
	case StreamKindDisperseBlob:
		return "disperse_blob"
	case StreamKindGetBlobStatus:
		return "get_blob_status"
	default:
		return fmt.Sprintf("unknown(%d)", byte(k))
	}
}

// ValidateKind reports whether b names a known stream kind.
func ValidateKind(b byte) error {
	k := StreamKind(b)
	if k < StreamKindGetPaymentState || k > StreamKindGetBlobStatus {
		return fmt.Errorf("%w: %d", ErrInvalidStreamKind, b)
	}
	return nil
}

// StreamHandler serves a single stream after its kind byte has been consumed.
type StreamHandler interface {
	HandleStream(ctx context.Context, stream quic.Stream, peerKey ed25519.PublicKey) error
}

// Registry maps stream kinds to handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[StreamKind]StreamHandler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[StreamKind]StreamHandler)}
}

// RegisterHandler installs handler for kind, replacing any previous one.
func (r *Registry) RegisterHandler(kind StreamKind, handler StreamHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[kind] = handler
}

func (r *Registry) GetHandler(kind StreamKind) (StreamHandler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	handler, ok := r.handlers[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoHandler, kind)
	}
	return handler, nil
}
