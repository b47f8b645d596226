package core

import (
	"encoding/json"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReservedPaymentIsActive(t *testing.T) {
	r := ReservedPayment{StartTimestamp: 100, EndTimestamp: 200}

	assert.False(t, r.IsActive(99))
	assert.True(t, r.IsActive(100))
	assert.True(t, r.IsActive(150))
	assert.True(t, r.IsActive(200))
	assert.False(t, r.IsActive(201))
}

func TestReservedPaymentValidate(t *testing.T) {
	require.NoError(t, ReservedPayment{StartTimestamp: 5, EndTimestamp: 5}.Validate())

	err := ReservedPayment{StartTimestamp: 6, EndTimestamp: 5}.Validate()
	assert.ErrorIs(t, err, ErrInvalidReservation)
}

func TestQuorumPeriodRecordsClone(t *testing.T) {
	orig := QuorumPeriodRecords{
		0: {{Index: 1, Usage: 10}},
		1: {{Index: 2, Usage: 20}, {Index: 3, Usage: 30}},
	}
	clone := orig.Clone()
	assert.Equal(t, orig, clone)

	clone[0][0].Usage = 99
	clone[1] = append(clone[1], PeriodRecord{Index: 4})
	delete(clone, 0)

	assert.Equal(t, uint64(10), orig[0][0].Usage)
	assert.Len(t, orig[1], 2)

	var empty QuorumPeriodRecords
	assert.Nil(t, empty.Clone())
}

func TestBlobKeyHex(t *testing.T) {
	var key BlobKey
	for i := range key {
		key[i] = byte(i)
	}

	parsed, err := BlobKeyFromHex("0x" + key.Hex())
	require.NoError(t, err)
	assert.Equal(t, key, parsed)

	parsed, err = BlobKeyFromHex(key.Hex())
	require.NoError(t, err)
	assert.Equal(t, key, parsed)

	_, err = BlobKeyFromHex("0x0102")
	assert.ErrorIs(t, err, ErrInvalidBlobKey)

	_, err = BlobKeyFromHex("not hex")
	assert.ErrorIs(t, err, ErrInvalidBlobKey)
}

func TestBlobHeaderKey(t *testing.T) {
	header := BlobHeader{
		Version: 0,
		Commitments: BlobCommitments{
			Commitment:       []byte{1, 2, 3},
			LengthCommitment: []byte{4, 5},
			LengthProof:      []byte{6},
			Length:           16,
		},
		QuorumNumbers: []QuorumID{0, 1},
		PaymentMetadata: PaymentMetadata{
			AccountID:         common.HexToAddress("0x1234567890abcdef1234567890abcdef12345678"),
			Timestamp:         1_700_000_000_000_000_000,
			CumulativePayment: []byte{0x01, 0x00},
		},
	}

	key := header.BlobKey()
	assert.Equal(t, key, header.BlobKey(), "key is deterministic")

	changed := header
	changed.PaymentMetadata.Timestamp++
	assert.NotEqual(t, key, changed.BlobKey())

	changed = header
	changed.QuorumNumbers = []QuorumID{0}
	assert.NotEqual(t, key, changed.BlobKey())

	// leading zero bytes do not change the padded payment value
	changed = header
	changed.PaymentMetadata.CumulativePayment = []byte{0x00, 0x01, 0x00}
	assert.Equal(t, key, changed.BlobKey())
}

func TestBlobStatus(t *testing.T) {
	assert.Equal(t, "complete", BlobStatusComplete.String())
	assert.Equal(t, "unknown", BlobStatus(42).String())
	assert.True(t, BlobStatusFailed.IsTerminal())
	assert.False(t, BlobStatusQueued.IsTerminal())
}

func TestPaymentTypeString(t *testing.T) {
	assert.Equal(t, "reservation", PaymentTypeReservation.String())
	assert.Equal(t, "on_demand", PaymentTypeOnDemand.String())
	assert.Equal(t, "unknown", PaymentType(0).String())
}

func TestBlobKeyJSON(t *testing.T) {
	var key BlobKey
	key[0], key[31] = 0xab, 0x01

	raw, err := json.Marshal(struct {
		Key BlobKey `json:"key"`
	}{key})
	require.NoError(t, err)
	assert.JSONEq(t, `{"key":"`+key.Hex()+`"}`, string(raw))

	var decoded struct {
		Key BlobKey `json:"key"`
	}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, key, decoded.Key)

	assert.ErrorIs(t, json.Unmarshal([]byte(`{"key":"0x1234"}`), &decoded), ErrInvalidBlobKey)
}

func TestQuorumIDsJSON(t *testing.T) {
	raw, err := json.Marshal([]QuorumID{0, 2})
	require.NoError(t, err)
	assert.Equal(t, `[0,2]`, string(raw))

	var decoded []QuorumID
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, []QuorumID{0, 2}, decoded)
}
