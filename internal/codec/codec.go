package codec

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
)

const (
	BytesPerSymbol       = 32
	BytesPerFieldElement = 31
)

var (
	ErrInvalidLength       = errors.New("encoded blob length is not a multiple of the symbol size")
	ErrInvalidFieldElement = errors.New("symbol is not a valid field element")
)

// EncodeBlobData prefixes every 31 byte chunk of data with a zero byte so that each 32 byte
// symbol is a valid bn254 field element. The last chunk is zero padded to a full symbol.
func EncodeBlobData(data []byte) []byte {
	if len(data) == 0 {
		return []byte{}
	}

	chunks := (len(data) + BytesPerFieldElement - 1) / BytesPerFieldElement
	encoded := make([]byte, chunks*BytesPerSymbol)
	for i := 0; i < chunks; i++ {
		start := i * BytesPerFieldElement
		end := min(start+BytesPerFieldElement, len(data))
		copy(encoded[i*BytesPerSymbol+1:], data[start:end])
	}
	return encoded
}

// DecodeBlobData drops the first byte of every symbol. Padding added to the last chunk by
// EncodeBlobData is kept.
func DecodeBlobData(encoded []byte) []byte {
	decoded := make([]byte, 0, len(encoded)/BytesPerSymbol*BytesPerFieldElement+BytesPerFieldElement)
	for i := 0; i < len(encoded); i += BytesPerSymbol {
		end := min(i+BytesPerSymbol, len(encoded))
		if i+1 < end {
			decoded = append(decoded, encoded[i+1:end]...)
		}
	}
	return decoded
}

// ValidateFieldElement reports whether symbol is a 32 byte big-endian value below the bn254
// scalar field modulus.
func ValidateFieldElement(symbol []byte) bool {
	if len(symbol) != BytesPerSymbol {
		return false
	}
	return new(big.Int).SetBytes(symbol).Cmp(fr.Modulus()) < 0
}

// ValidateBlobData checks that encoded consists of whole, valid field elements.
func ValidateBlobData(encoded []byte) error {
	if len(encoded)%BytesPerSymbol != 0 {
		return fmt.Errorf("%w: %d bytes", ErrInvalidLength, len(encoded))
	}
	for i := 0; i < len(encoded); i += BytesPerSymbol {
		if !ValidateFieldElement(encoded[i : i+BytesPerSymbol]) {
			return fmt.Errorf("%w: symbol %d", ErrInvalidFieldElement, i/BytesPerSymbol)
		}
	}
	return nil
}
