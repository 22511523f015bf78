package utxo

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/klingon-tech/chainstate/pkg/block"
	"github.com/klingon-tech/chainstate/pkg/crypto"
	"github.com/klingon-tech/chainstate/pkg/tx"
	"github.com/klingon-tech/chainstate/pkg/types"
)

// Commitment computes a merkle root over every UnspentOutput currently in
// the store. This is not a consensus primitive (consensus hashes are all
// double-SHA256 via pkg/chainhash); it is a convenience digest for
// light-client style "does my UTXO view match yours" checks, so BLAKE3 is
// fine here.
func (s *Store) Commitment() (types.Hash, error) {
	var hashes []types.Hash

	err := s.db.ForEach(prefixUnspentOutput, func(key, value []byte) error {
		op, err := decodeUnspentOutputKey(key)
		if err != nil {
			return err
		}
		var out tx.Output
		if err := json.Unmarshal(value, &out); err != nil {
			return fmt.Errorf("utxo: unmarshal unspent output for commitment: %w", err)
		}
		hashes = append(hashes, hashOutput(op, &out))
		return nil
	})
	if err != nil {
		return types.Hash{}, fmt.Errorf("utxo: commitment: %w", err)
	}

	if len(hashes) == 0 {
		return types.Hash{}, nil
	}

	sort.Slice(hashes, func(i, j int) bool {
		return hashLess(hashes[i], hashes[j])
	})

	return block.ComputeMerkleRoot(hashes), nil
}

func decodeUnspentOutputKey(key []byte) (types.Outpoint, error) {
	body := key[len(prefixUnspentOutput):]
	if len(body) != types.HashSize+4 {
		return types.Outpoint{}, fmt.Errorf("utxo: malformed unspent output key")
	}
	var op types.Outpoint
	copy(op.TxID[:], body[:types.HashSize])
	op.Index = binary.BigEndian.Uint32(body[types.HashSize:])
	return op, nil
}

// hashOutput produces a deterministic BLAKE3 hash of an unspent output.
// Format: txid(32) | index(4) | value(8) | script_pubkey
func hashOutput(op types.Outpoint, out *tx.Output) types.Hash {
	var buf []byte
	buf = append(buf, op.TxID[:]...)
	buf = binary.LittleEndian.AppendUint32(buf, op.Index)
	buf = binary.LittleEndian.AppendUint64(buf, out.Value)
	buf = append(buf, out.ScriptPubKey...)
	return crypto.Hash(buf)
}

func hashLess(a, b types.Hash) bool {
	for i := 0; i < types.HashSize; i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}
