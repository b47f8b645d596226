package disperser

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/eigerco/dispersal/internal/core"
	"github.com/eigerco/dispersal/internal/paymentstate"
	"github.com/eigerco/dispersal/pkg/network/cert"
	"github.com/eigerco/dispersal/pkg/network/protocol"
	"github.com/eigerco/dispersal/pkg/network/rpc"
	"github.com/eigerco/dispersal/pkg/network/transport"
)

// Caller performs one request/response exchange. *rpc.Client satisfies it.
type Caller interface {
	Call(ctx context.Context, kind protocol.StreamKind, req, resp any) error
}

// QUICConfig describes how to reach the disperser.
type QUICConfig struct {
	Address string
	Timeout time.Duration
	// Version is the ALPN protocol version; empty means the current one.
	Version string
	// ServerKey pins the disperser's transport key when set.
	ServerKey ed25519.PublicKey
}

// QUICClient implements RPC over the dispersal QUIC protocol.
type QUICClient struct {
	caller    Caller
	signer    Signer
	clock     func() time.Time
	transport *transport.Transport
}

var _ RPC = (*QUICClient)(nil)

func NewQUICClient(caller Caller, signer Signer) *QUICClient {
	return &QUICClient{caller: caller, signer: signer, clock: time.Now}
}

// DialQUIC connects to the disperser with a throwaway transport identity.
func DialQUIC(ctx context.Context, cfg QUICConfig, signer Signer) (*QUICClient, error) {
	tlsCert, err := cert.NewEphemeral(0)
	if err != nil {
		return nil, err
	}
	manager, err := protocol.NewManager(protocol.Config{Version: cfg.Version})
	if err != nil {
		return nil, err
	}
	var validatorOpts []cert.ValidatorOption
	if cfg.ServerKey != nil {
		validatorOpts = append(validatorOpts, cert.WithPinnedKey(cfg.ServerKey))
	}
	tr, err := transport.NewTransport(transport.Config{
		TLSCert:       tlsCert,
		CertValidator: cert.NewValidator(validatorOpts...),
		Handler:       manager,
	})
	if err != nil {
		return nil, err
	}

	conn, err := tr.Connect(ctx, cfg.Address)
	if err != nil {
		_ = tr.Stop()
		return nil, fmt.Errorf("connect to disperser %s: %w", cfg.Address, err)
	}
	pc, ok := manager.Conn(conn)
	if !ok {
		_ = tr.Stop()
		return nil, fmt.Errorf("connect to disperser %s: %w", cfg.Address, transport.ErrConnFailed)
	}

	client := rpc.NewClient(pc)
	if cfg.Timeout > 0 {
		client = client.WithTimeout(cfg.Timeout)
	}
	c := NewQUICClient(client, signer)
	c.transport = tr
	return c, nil
}

// Close tears down the connection when the client was created by DialQUIC.
func (c *QUICClient) Close() error {
	if c.transport == nil {
		return nil
	}
	return c.transport.Stop()
}

func (c *QUICClient) signedStateRequest(account common.Address) (paymentStateRequest, error) {
	ts := uint64(c.clock().UnixNano())
	sig, err := c.signer.SignPaymentStateRequest(account, ts)
	if err != nil {
		return paymentStateRequest{}, fmt.Errorf("sign payment state request: %w", err)
	}
	return paymentStateRequest{AccountID: account, Timestamp: ts, Signature: sig}, nil
}

func (c *QUICClient) GetPaymentState(ctx context.Context, account common.Address) (*paymentstate.PaymentState, error) {
	req, err := c.signedStateRequest(account)
	if err != nil {
		return nil, err
	}
	var reply paymentStateReply
	if err := c.caller.Call(ctx, protocol.StreamKindGetPaymentState, req, &reply); err != nil {
		return nil, err
	}
	return reply.toState()
}

func (c *QUICClient) GetPaymentStateForAllQuorums(ctx context.Context, account common.Address) (*paymentstate.QuorumPaymentState, error) {
	req, err := c.signedStateRequest(account)
	if err != nil {
		return nil, err
	}
	var reply quorumPaymentStateReply
	if err := c.caller.Call(ctx, protocol.StreamKindGetPaymentStateForAllQuorums, req, &reply); err != nil {
		return nil, err
	}
	return reply.toState()
}

func (c *QUICClient) GetBlobCommitment(ctx context.Context, data []byte) (core.BlobCommitments, error) {
	var reply blobCommitmentReply
	if err := c.caller.Call(ctx, protocol.StreamKindGetBlobCommitment, blobCommitmentRequest{Blob: data}, &reply); err != nil {
		return core.BlobCommitments{}, err
	}
	if len(reply.BlobCommitment.Commitment) == 0 {
		return core.BlobCommitments{}, fmt.Errorf("%w: empty commitment", ErrInvalidReply)
	}
	return core.BlobCommitments(reply.BlobCommitment), nil
}

func (c *QUICClient) DisperseBlob(ctx context.Context, req DisperseRequest) (DisperseReply, error) {
	msg := disperseBlobRequest{
		Blob:       req.Data,
		BlobHeader: headerToWire(req.Header),
		Signature:  req.Signature,
	}
	var reply disperseBlobReply
	if err := c.caller.Call(ctx, protocol.StreamKindDisperseBlob, msg, &reply); err != nil {
		return DisperseReply{}, err
	}
	return DisperseReply{Status: reply.Result, BlobKey: reply.BlobKey}, nil
}

func (c *QUICClient) GetBlobStatus(ctx context.Context, key core.BlobKey) (core.BlobStatus, error) {
	var reply blobStatusReply
	if err := c.caller.Call(ctx, protocol.StreamKindGetBlobStatus, blobStatusRequest{BlobKey: key}, &reply); err != nil {
		return core.BlobStatusUnknown, err
	}
	return reply.Status, nil
}

// IsRemote reports whether err was returned by the disperser rather than the transport.
func IsRemote(err error) bool {
	return errors.Is(err, rpc.ErrRemote)
}
