package wsframe

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"math/bits"
)

// Mask applies the WebSocket masking algorithm to b
// with the given key.
// See https://tools.ietf.org/html/rfc6455#section-5.3
//
// The key is the little endian reading of the four mask bytes as they
// appear on the wire so byte i of b is XORed with byte i%4 of the key.
//
// The returned value is the correctly rotated key to
// to continue to mask/unmask the message.
//
// Masking is its own inverse.
func Mask(key uint32, b []byte) uint32 {
	if len(b) >= 8 {
		key64 := uint64(key)<<32 | uint64(key)

		for len(b) >= 32 {
			v := binary.LittleEndian.Uint64(b)
			binary.LittleEndian.PutUint64(b, v^key64)
			v = binary.LittleEndian.Uint64(b[8:16])
			binary.LittleEndian.PutUint64(b[8:16], v^key64)
			v = binary.LittleEndian.Uint64(b[16:24])
			binary.LittleEndian.PutUint64(b[16:24], v^key64)
			v = binary.LittleEndian.Uint64(b[24:32])
			binary.LittleEndian.PutUint64(b[24:32], v^key64)
			b = b[32:]
		}

		for len(b) >= 8 {
			v := binary.LittleEndian.Uint64(b)
			binary.LittleEndian.PutUint64(b, v^key64)
			b = b[8:]
		}
	}

	for len(b) >= 4 {
		v := binary.LittleEndian.Uint32(b)
		binary.LittleEndian.PutUint32(b, v^key)
		b = b[4:]
	}

	// xor remaining bytes.
	for i := range b {
		b[i] ^= byte(key)
		key = bits.RotateLeft32(key, -8)
	}

	return key
}

// NewMaskKey returns a fresh random mask key.
func NewMaskKey() (uint32, error) {
	var key uint32
	err := binary.Read(rand.Reader, binary.LittleEndian, &key)
	if err != nil {
		return 0, fmt.Errorf("failed to generate masking key: %w", err)
	}
	return key, nil
}
