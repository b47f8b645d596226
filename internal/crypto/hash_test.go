package crypto

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeccakData(t *testing.T) {
	// keccak256("") is a well known constant
	h := KeccakData(nil)
	assert.Equal(t, "c5d2460186f7233c927e7db2dcc703c0e500b653ca82273b7bfad8045d85a470", hex.EncodeToString(h[:]))
}

func TestKeccakParts(t *testing.T) {
	assert.Equal(t, KeccakData([]byte("helloworld")), Keccak([]byte("hello"), []byte("world")))
	assert.NotEqual(t, KeccakData([]byte("hello")), Keccak([]byte("world")))
}

func TestDecodeHex(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []byte
		wantErr bool
	}{
		{name: "prefixed", input: "0x0102", want: []byte{1, 2}},
		{name: "plain", input: "ff", want: []byte{0xff}},
		{name: "empty", input: "0x", want: []byte{}},
		{name: "invalid", input: "0xzz", wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			b, err := DecodeHex(tc.input)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, b)
		})
	}
}
