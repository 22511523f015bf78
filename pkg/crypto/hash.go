// Package crypto provides non-consensus-critical cryptographic primitives:
// address derivation, UTXO-set commitment hashing, and signing. Header and
// transaction hashes that feed consensus use pkg/chainhash instead, since
// those must reproduce bit-exact across implementations.
package crypto

import (
	"github.com/klingon-tech/chainstate/pkg/types"
	"github.com/zeebo/blake3"
)

// Hash computes a BLAKE3-256 hash of data.
func Hash(data []byte) types.Hash {
	return blake3.Sum256(data)
}

// AddressFromPubKey derives the address of a compressed public key: the
// first 20 bytes of its BLAKE3 hash.
func AddressFromPubKey(pubKey []byte) types.Address {
	h := Hash(pubKey)
	var addr types.Address
	copy(addr[:], h[:types.AddressSize])
	return addr
}
