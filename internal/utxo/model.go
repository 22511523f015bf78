// Package utxo implements the transactional unspent-output store: the
// UnspentTx/UnspentOutput pair plus per-height rollback indices that the
// engine mutates through an exclusive cursor.
package utxo

import (
	"github.com/klingon-tech/chainstate/pkg/tx"
	"github.com/klingon-tech/chainstate/pkg/types"
)

// UnspentTx records a transaction that still has at least one unspent
// output. OutputStates tracks which of its original outputs remain
// unspent; the record is removed once every bit is set.
type UnspentTx struct {
	TxHash       types.Hash `json:"tx_hash"`
	BlockHeight  uint64     `json:"block_height"`
	TxIndex      uint32     `json:"tx_index"`
	Version      uint32     `json:"version"`
	IsCoinbase   bool       `json:"is_coinbase"`
	OutputStates Bitset     `json:"output_states"`
}

// SpentTx summarizes a transaction whose UnspentTx record was deleted
// because its last output was spent. BlockHeight and TxIndex describe where
// it was originally minted, not where it was spent, so a rollback can
// recreate the deleted UnspentTx exactly.
type SpentTx struct {
	TxHash      types.Hash `json:"tx_hash"`
	BlockHeight uint64     `json:"block_height"`
	TxIndex     uint32     `json:"tx_index"`
	Version     uint32     `json:"version"`
	OutputCount int        `json:"output_count"`
	IsCoinbase  bool       `json:"is_coinbase"`
}

// UnmintedTx is emitted on rollback for wallet rewinding: the transaction
// that was unminted, with the prior outputs its inputs had consumed.
type UnmintedTx struct {
	TxHash      types.Hash     `json:"tx_hash"`
	PrevOutputs []PrevTxOutput `json:"prev_outputs"`
}

// PrevTxOutput pairs a spent output with a snapshot of the UnspentTx it was
// consumed from: the rollback record kept in UnmintedTx. BlockReplayer hands
// downstream sinks only the plain tx.Output.
type PrevTxOutput struct {
	Output            tx.Output `json:"output"`
	UnspentTxSnapshot UnspentTx `json:"unspent_tx_snapshot"`

	// ReclaimedOutputs holds every output record of the owning tx, in index
	// order, captured when this spend fully spent the tx and deleted them.
	// Unspend re-creates them. Empty for spends that left the tx partially
	// spent, which never delete output records.
	ReclaimedOutputs []tx.Output `json:"reclaimed_outputs,omitempty"`
}
