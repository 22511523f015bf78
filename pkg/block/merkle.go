package block

import (
	"github.com/klingon-tech/chainstate/pkg/chainhash"
	"github.com/klingon-tech/chainstate/pkg/types"
)

// ComputeMerkleRoot reduces a list of transaction hashes to the merkle
// root a header commits to. Empty input yields the zero hash, a single
// hash is its own root; otherwise layers are hashed pairwise (odd layers
// duplicate their last element) until one hash remains. Pair hashing uses
// the consensus double-SHA256, not the node-local BLAKE3.
func ComputeMerkleRoot(txHashes []types.Hash) types.Hash {
	if len(txHashes) == 0 {
		return types.Hash{}
	}
	if len(txHashes) == 1 {
		return txHashes[0]
	}

	level := make([]types.Hash, len(txHashes))
	copy(level, txHashes)

	for len(level) > 1 {
		if len(level)%2 != 0 {
			level = append(level, level[len(level)-1])
		}

		next := make([]types.Hash, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			next[i/2] = chainhash.Concat(level[i], level[i+1])
		}
		level = next
	}

	return level[0]
}
