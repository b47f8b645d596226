package core

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/eigerco/dispersal/internal/crypto"
)

type PaymentType uint8

const (
	PaymentTypeReservation PaymentType = iota + 1
	PaymentTypeOnDemand
)

func (p PaymentType) String() string {
	switch p {
	case PaymentTypeReservation:
		return "reservation"
	case PaymentTypeOnDemand:
		return "on_demand"
	default:
		return "unknown"
	}
}

// PaymentMetadata is attached to every blob header.
// CumulativePayment is big-endian and empty when the blob is paid by reservation.
type PaymentMetadata struct {
	AccountID         common.Address
	Timestamp         int64
	CumulativePayment []byte
}

// Hash commits to the account, the nanosecond timestamp and the cumulative payment padded to 32 bytes.
func (p PaymentMetadata) Hash() crypto.Hash {
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(p.Timestamp))

	payment := new(uint256.Int).SetBytes(p.CumulativePayment).Bytes32()

	return crypto.Keccak(p.AccountID.Bytes(), ts[:], payment[:])
}
