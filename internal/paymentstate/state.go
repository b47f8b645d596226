package paymentstate

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/eigerco/dispersal/internal/core"
)

// GlobalParams are the account-independent payment vault parameters.
type GlobalParams struct {
	MinNumSymbols     uint64
	PricePerSymbol    uint64
	ReservationWindow uint64
	OnDemandQuorums   []core.QuorumID
}

// PaymentState is the single-reservation view of an account. Optional fields are nil when
// the disperser did not report them.
type PaymentState struct {
	Reservation              *core.ReservedPayment
	CumulativePayment        *uint256.Int
	OnchainCumulativePayment *uint256.Int
	GlobalParams             *GlobalParams
}

// QuorumPaymentState is the per-quorum view of an account.
type QuorumPaymentState struct {
	Reservations             map[core.QuorumID]core.ReservedPayment
	ProtocolConfigs          map[core.QuorumID]core.PaymentQuorumProtocolConfig
	PaymentConfigs           map[core.QuorumID]core.PaymentQuorumConfig
	OnDemandQuorums          []core.QuorumID
	CumulativePayment        *uint256.Int
	OnchainCumulativePayment *uint256.Int
}

// Source fetches payment state from the disperser.
type Source interface {
	GetPaymentState(ctx context.Context, account common.Address) (*PaymentState, error)
	GetPaymentStateForAllQuorums(ctx context.Context, account common.Address) (*QuorumPaymentState, error)
}

func hasDeposit(onchain *uint256.Int) bool {
	return onchain != nil && !onchain.IsZero()
}
