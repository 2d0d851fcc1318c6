package sortition

import (
	"encoding/binary"

	"github.com/holiman/uint256"
	"golang.org/x/crypto/sha3"
)

// DeriveSeed returns keccak256(seed ‖ index) with both operands as 32-byte big-endian words.
func DeriveSeed(seed *uint256.Int, index uint64) *uint256.Int {
	var word [32]byte
	binary.BigEndian.PutUint64(word[24:], index)
	return hashWords(seed, word[:])
}

// DeriveLabeledSeed returns keccak256(seed ‖ label). Distinct labels give independent
// values from the same round seed.
func DeriveLabeledSeed(seed *uint256.Int, label string) *uint256.Int {
	return hashWords(seed, []byte(label))
}

func hashWords(seed *uint256.Int, tail []byte) *uint256.Int {
	var head [32]byte
	if seed != nil {
		head = seed.Bytes32()
	}
	h := sha3.NewLegacyKeccak256()
	h.Write(head[:])
	h.Write(tail)
	return new(uint256.Int).SetBytes(h.Sum(nil))
}
