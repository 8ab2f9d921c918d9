// Package expand implements the deterministic, architecture-independent
// seed-to-bitstring expander used to turn a 64-bit preprocessing seed into
// the pseudorandom offset vector consumed by query construction (spec §4.1).
//
// ChaCha20 is used instead of any host-dependent PRNG specifically so that a
// seed produces the same bitstring on every platform this package runs on,
// which preprocessed queries depend on for correctness across client/server
// pairs that may not share an architecture.
package expand

import (
	"encoding/binary"

	"golang.org/x/crypto/chacha20"
)

// Bytes returns the first n bytes of the ChaCha20 keystream keyed on seed.
//
// seed is zero-extended, little-endian, to the cipher's 32-byte key; the
// nonce and initial block counter are both zero, so the mapping from seed to
// keystream is total and has no other inputs. Bytes panics if n is negative.
func Bytes(seed uint64, n int) []byte {
	if n < 0 {
		panic("expand: negative length")
	}
	out := make([]byte, n)
	BytesInto(out, seed)
	return out
}

// BytesInto fills dst with the ChaCha20 keystream keyed on seed, the same
// construction as Bytes but writing into a caller-supplied buffer instead
// of allocating one. Callers that expand many seeds back-to-back (the
// preprocessing loop, query construction) can reuse a single scratch
// buffer — typically drawn from a bitops.Pool — across calls instead of
// allocating one per seed.
func BytesInto(dst []byte, seed uint64) {
	var key [32]byte
	binary.LittleEndian.PutUint64(key[:8], seed)

	var nonce [chacha20.NonceSize]byte

	cipher, err := chacha20.NewUnauthenticatedCipher(key[:], nonce[:])
	if err != nil {
		panic(err)
	}

	for i := range dst {
		dst[i] = 0
	}
	cipher.XORKeyStream(dst, dst)
}

// Bits returns the first bitLen bits of the seed's keystream, packed
// LSB-first into bytes exactly as spec §4.1 requires: bit i of the returned
// bitstring is bit (i mod 8) of byte (i / 8) of the keystream. The returned
// slice is ceil(bitLen/8) bytes; any bits beyond bitLen in the final byte are
// zeroed so two different bitLen values that share a byte boundary never
// observe garbage from each other.
func Bits(seed uint64, bitLen int) []byte {
	if bitLen < 0 {
		panic("expand: negative bit length")
	}

	nBytes := (bitLen + 7) / 8
	out := Bytes(seed, nBytes)

	if rem := bitLen % 8; rem != 0 {
		mask := byte(1<<uint(rem)) - 1
		out[nBytes-1] &= mask
	}
	return out
}

// BitsInto is Bits's BytesInto-style counterpart: it fills dst (which
// must be exactly (bitLen+7)/8 bytes long) with the first bitLen bits of
// seed's keystream, zeroing any trailing bits in the final byte beyond
// bitLen, without allocating.
func BitsInto(dst []byte, seed uint64, bitLen int) {
	if bitLen < 0 {
		panic("expand: negative bit length")
	}
	nBytes := (bitLen + 7) / 8
	if len(dst) != nBytes {
		panic("expand: BitsInto buffer has wrong length")
	}

	BytesInto(dst, seed)
	if rem := bitLen % 8; rem != 0 {
		mask := byte(1<<uint(rem)) - 1
		dst[nBytes-1] &= mask
	}
}

// Bit reports bit i (0-indexed, LSB-first) of a bitstring packed the way
// Bits returns it.
func Bit(data []byte, i int) bool {
	return data[i/8]&(1<<uint(i%8)) != 0
}
