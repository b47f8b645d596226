package core

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/eigerco/dispersal/internal/crypto"
)

const BlobKeySize = crypto.HashSize

// BlobKey uniquely identifies a dispersed blob.
type BlobKey [BlobKeySize]byte

func (k BlobKey) Hex() string {
	return hex.EncodeToString(k[:])
}

func (k BlobKey) String() string {
	return k.Hex()
}

func (k BlobKey) MarshalText() ([]byte, error) {
	return []byte(k.Hex()), nil
}

func (k *BlobKey) UnmarshalText(text []byte) error {
	parsed, err := BlobKeyFromHex(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// BlobKeyFromHex parses a hex blob key, with or without 0x prefix.
func BlobKeyFromHex(s string) (BlobKey, error) {
	b, err := crypto.DecodeHex(s)
	if err != nil {
		return BlobKey{}, fmt.Errorf("%w: %w", ErrInvalidBlobKey, err)
	}
	if len(b) != BlobKeySize {
		return BlobKey{}, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidBlobKey, len(b), BlobKeySize)
	}
	return BlobKey(b), nil
}

// BlobCommitments are produced by the disperser and treated as opaque bytes.
type BlobCommitments struct {
	Commitment       []byte
	LengthCommitment []byte
	LengthProof      []byte
	Length           uint32
}

type BlobHeader struct {
	Version         uint16
	Commitments     BlobCommitments
	QuorumNumbers   []QuorumID
	PaymentMetadata PaymentMetadata
}

// BlobKey derives the key of the header. Any change to the header changes the key.
func (h BlobHeader) BlobKey() BlobKey {
	var version [2]byte
	binary.BigEndian.PutUint16(version[:], h.Version)

	quorums := make([]byte, len(h.QuorumNumbers))
	for i, q := range h.QuorumNumbers {
		quorums[i] = byte(q)
	}

	var length [4]byte
	binary.BigEndian.PutUint32(length[:], h.Commitments.Length)

	payment := h.PaymentMetadata.Hash()

	return BlobKey(crypto.Keccak(
		version[:],
		quorums,
		h.Commitments.Commitment,
		h.Commitments.LengthCommitment,
		h.Commitments.LengthProof,
		length[:],
		payment[:],
	))
}

type BlobStatus uint8

const (
	BlobStatusUnknown BlobStatus = iota
	BlobStatusQueued
	BlobStatusEncoded
	BlobStatusGatheringSignatures
	BlobStatusComplete
	BlobStatusFailed
)

func (s BlobStatus) String() string {
	switch s {
	case BlobStatusQueued:
		return "queued"
	case BlobStatusEncoded:
		return "encoded"
	case BlobStatusGatheringSignatures:
		return "gathering_signatures"
	case BlobStatusComplete:
		return "complete"
	case BlobStatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether the disperser will not move the blob to another status.
func (s BlobStatus) IsTerminal() bool {
	return s == BlobStatusComplete || s == BlobStatusFailed
}
