package disperser

import (
	"bytes"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eigerco/dispersal/internal/core"
)

func TestReservationFromWire(t *testing.T) {
	r, err := reservationFromWire(nil)
	require.NoError(t, err)
	assert.Nil(t, r)

	r, err = reservationFromWire(&reservationMsg{SymbolsPerSecond: 10})
	require.NoError(t, err)
	assert.Nil(t, r, "zero timestamps mean no reservation")

	_, err = reservationFromWire(&reservationMsg{StartTimestamp: 10, EndTimestamp: 5})
	assert.ErrorIs(t, err, ErrInvalidReply)

	_, err = reservationFromWire(&reservationMsg{StartTimestamp: 1, EndTimestamp: 5, QuorumNumbers: []uint32{256}})
	assert.ErrorIs(t, err, ErrInvalidReply)

	r, err = reservationFromWire(&reservationMsg{StartTimestamp: 1, EndTimestamp: 5, QuorumNumbers: []uint32{0, 255}})
	require.NoError(t, err)
	assert.Equal(t, []core.QuorumID{0, 255}, r.QuorumNumbers)
}

func TestAmountFromWire(t *testing.T) {
	v, err := amountFromWire(nil)
	require.NoError(t, err)
	assert.Nil(t, v)

	v, err = amountFromWire([]byte{0x01, 0x00})
	require.NoError(t, err)
	assert.Equal(t, uint256.NewInt(256), v)

	_, err = amountFromWire(bytes.Repeat([]byte{1}, 33))
	assert.ErrorIs(t, err, ErrInvalidReply)

	assert.Nil(t, amountToWire(new(uint256.Int)))
	assert.Equal(t, []byte{0x01, 0x00}, amountToWire(uint256.NewInt(256)))
}

func TestHeaderWirePreservesBlobKey(t *testing.T) {
	header := core.BlobHeader{
		Version:       1,
		Commitments:   testCommitments,
		QuorumNumbers: []core.QuorumID{0, 2},
		PaymentMetadata: core.PaymentMetadata{
			Timestamp:         42,
			CumulativePayment: []byte{},
		},
	}
	back, err := headerToWire(header).toHeader()
	require.NoError(t, err)
	assert.Equal(t, header, back)
	assert.Equal(t, header.BlobKey(), back.BlobKey())

	header.PaymentMetadata.CumulativePayment = []byte{0x05}
	back, err = headerToWire(header).toHeader()
	require.NoError(t, err)
	assert.Equal(t, header.BlobKey(), back.BlobKey())
}
