package disperser

import (
	"context"
	"fmt"

	"github.com/eigerco/dispersal/internal/auth"
	"github.com/eigerco/dispersal/pkg/network/protocol"
	"github.com/eigerco/dispersal/pkg/network/rpc"
)

// Serve registers handlers that answer the dispersal protocol from backend.
// Request signatures are checked before backend is called.
func Serve(server *rpc.Server, backend RPC) {
	server.Register(protocol.StreamKindGetPaymentState, rpc.Handle(func(ctx context.Context, req paymentStateRequest) (paymentStateReply, error) {
		if err := verifyStateRequest(req); err != nil {
			return paymentStateReply{}, err
		}
		state, err := backend.GetPaymentState(ctx, req.AccountID)
		if err != nil {
			return paymentStateReply{}, err
		}
		return paymentStateToWire(state), nil
	}))

	server.Register(protocol.StreamKindGetPaymentStateForAllQuorums, rpc.Handle(func(ctx context.Context, req paymentStateRequest) (quorumPaymentStateReply, error) {
		if err := verifyStateRequest(req); err != nil {
			return quorumPaymentStateReply{}, err
		}
		state, err := backend.GetPaymentStateForAllQuorums(ctx, req.AccountID)
		if err != nil {
			return quorumPaymentStateReply{}, err
		}
		return quorumPaymentStateToWire(state), nil
	}))

	server.Register(protocol.StreamKindGetBlobCommitment, rpc.Handle(func(ctx context.Context, req blobCommitmentRequest) (blobCommitmentReply, error) {
		c, err := backend.GetBlobCommitment(ctx, req.Blob)
		if err != nil {
			return blobCommitmentReply{}, err
		}
		return blobCommitmentReply{BlobCommitment: commitmentsToWire(c)}, nil
	}))

	server.Register(protocol.StreamKindDisperseBlob, rpc.Handle(func(ctx context.Context, req disperseBlobRequest) (disperseBlobReply, error) {
		header, err := req.BlobHeader.toHeader()
		if err != nil {
			return disperseBlobReply{}, err
		}
		digest := auth.BlobRequestDigest(header.BlobKey())
		if err := auth.VerifySignature(header.PaymentMetadata.AccountID, digest, req.Signature); err != nil {
			return disperseBlobReply{}, fmt.Errorf("%w: %w", ErrUnauthorized, err)
		}
		reply, err := backend.DisperseBlob(ctx, DisperseRequest{Data: req.Blob, Header: header, Signature: req.Signature})
		if err != nil {
			return disperseBlobReply{}, err
		}
		return disperseBlobReply{Result: reply.Status, BlobKey: reply.BlobKey}, nil
	}))

	server.Register(protocol.StreamKindGetBlobStatus, rpc.Handle(func(ctx context.Context, req blobStatusRequest) (blobStatusReply, error) {
		status, err := backend.GetBlobStatus(ctx, req.BlobKey)
		if err != nil {
			return blobStatusReply{}, err
		}
		return blobStatusReply{Status: status}, nil
	}))
}

func verifyStateRequest(req paymentStateRequest) error {
	digest := auth.PaymentStateDigest(req.AccountID, req.Timestamp)
	if err := auth.VerifySignature(req.AccountID, digest, req.Signature); err != nil {
		return fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	return nil
}
