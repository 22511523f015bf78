// Package chainhash computes the one hash that consensus actually depends
// on: double-SHA256 over a header or transaction's canonical byte encoding.
// It exists separately from pkg/crypto because pkg/crypto's BLAKE3 primitive
// is a node-local choice (cache keys, UTXO commitments) while this hash must
// reproduce bit-exact across every implementation that validates the same
// chain.
package chainhash

import (
	"crypto/sha256"

	"github.com/klingon-tech/chainstate/pkg/types"
)

// Sum returns SHA-256(SHA-256(data)).
func Sum(data []byte) types.Hash {
	first := sha256.Sum256(data)
	second := sha256.Sum256(first[:])
	return types.Hash(second)
}

// Concat hashes the concatenation of two hashes, used when building merkle trees.
func Concat(a, b types.Hash) types.Hash {
	var buf [64]byte
	copy(buf[:32], a[:])
	copy(buf[32:], b[:])
	return Sum(buf[:])
}
