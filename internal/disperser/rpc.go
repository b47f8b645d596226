package disperser

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"github.com/eigerco/dispersal/internal/core"
	"github.com/eigerco/dispersal/internal/paymentstate"
)

// DisperseRequest is a signed blob submission.
type DisperseRequest struct {
	Data      []byte
	Header    core.BlobHeader
	Signature []byte
}

type DisperseReply struct {
	Status  core.BlobStatus
	BlobKey core.BlobKey
}

// RPC is the disperser service as seen by the client.
type RPC interface {
	paymentstate.Source
	GetBlobCommitment(ctx context.Context, data []byte) (core.BlobCommitments, error)
	DisperseBlob(ctx context.Context, req DisperseRequest) (DisperseReply, error)
	GetBlobStatus(ctx context.Context, key core.BlobKey) (core.BlobStatus, error)
}

// Signer authenticates requests on behalf of an account.
type Signer interface {
	AccountID() common.Address
	SignBlobRequest(header core.BlobHeader) ([]byte, error)
	SignPaymentStateRequest(account common.Address, timestampNs uint64) ([]byte, error)
}
