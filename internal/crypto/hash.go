package crypto

import (
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/sha3"
)

type Hash [HashSize]byte

// Hex returns the 0x-prefixed hex form of the hash
func (h Hash) Hex() string {
	return "0x" + hex.EncodeToString(h[:])
}

// KeccakData hashes the input data using Keccak-256
func KeccakData(data []byte) Hash {
	return Keccak(data)
}

// Keccak hashes the concatenation of all parts using Keccak-256
func Keccak(parts ...[]byte) Hash {
	hash := sha3.NewLegacyKeccak256()
	for _, p := range parts {
		hash.Write(p)
	}
	hashed := hash.Sum(nil)

	var result Hash
	copy(result[:], hashed)
	return result
}

// DecodeHex converts a hex string, with or without the 0x prefix, to a byte slice
func DecodeHex(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")

	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode hex string %q: %w", s, err)
	}
	return b, nil
}
