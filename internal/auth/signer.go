package auth

import (
	"crypto/ecdsa"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/eigerco/dispersal/internal/core"
	"github.com/eigerco/dispersal/internal/crypto"
)

var (
	ErrInvalidPrivateKey = errors.New("invalid private key")
	ErrInvalidSignature  = errors.New("invalid signature")
)

// LocalSigner signs dispersal requests with an in-memory secp256k1 key.
type LocalSigner struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewLocalSigner parses a hex private key, with or without 0x prefix.
func NewLocalSigner(hexKey string) (*LocalSigner, error) {
	key, err := gethcrypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPrivateKey, err)
	}
	return &LocalSigner{key: key, address: gethcrypto.PubkeyToAddress(key.PublicKey)}, nil
}

func (s *LocalSigner) AccountID() common.Address {
	return s.address
}

// SignBlobRequest signs the keccak hash of the blob key of header.
func (s *LocalSigner) SignBlobRequest(header core.BlobHeader) ([]byte, error) {
	key := header.BlobKey()
	return s.sign(BlobRequestDigest(key))
}

// SignPaymentStateRequest signs a request for the payment state of account at timestampNs.
func (s *LocalSigner) SignPaymentStateRequest(account common.Address, timestampNs uint64) ([]byte, error) {
	return s.sign(PaymentStateDigest(account, timestampNs))
}

func (s *LocalSigner) sign(digest crypto.Hash) ([]byte, error) {
	sig, err := gethcrypto.Sign(digest[:], s.key)
	if err != nil {
		return nil, fmt.Errorf("sign digest: %w", err)
	}
	return sig, nil
}

func BlobRequestDigest(key core.BlobKey) crypto.Hash {
	return crypto.KeccakData(key[:])
}

func PaymentStateDigest(account common.Address, timestampNs uint64) crypto.Hash {
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], timestampNs)
	return crypto.Keccak(account.Bytes(), ts[:])
}

// VerifySignature checks that sig over digest was produced by account.
func VerifySignature(account common.Address, digest crypto.Hash, sig []byte) error {
	pub, err := gethcrypto.SigToPub(digest[:], sig)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}
	recovered := gethcrypto.PubkeyToAddress(*pub)
	if recovered != account {
		return fmt.Errorf("%w: signed by %s, expected %s", ErrInvalidSignature, recovered.Hex(), account.Hex())
	}
	return nil
}
