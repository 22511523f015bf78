// Package replay produces an ordered sequence of decoded transactions for
// one block, with each non-coinbase input's prior output resolved, in
// either replay direction. Forward resolution reads the live UTXO
// snapshot; reverse resolution reads the undo data recorded when the
// block was originally connected.
package replay

import (
	"context"
	"fmt"

	"github.com/klingon-tech/chainstate/internal/chainwalker"
	"github.com/klingon-tech/chainstate/internal/log"
	"github.com/klingon-tech/chainstate/internal/utxo"
	"github.com/klingon-tech/chainstate/pkg/tx"
	"github.com/klingon-tech/chainstate/pkg/types"
)

// LoadedTx is one decoded, prev-output-resolved transaction from a block
// being replayed.
type LoadedTx struct {
	Tx          *tx.Transaction
	TxIndex     int
	IsCoinbase  bool
	PrevOutputs []tx.Output
}

// Replayer reads block transactions and resolves their inputs' prior
// outputs, without itself mutating any UTXO state.
type Replayer struct {
	blocks *BlockTxesStore
	undo   *UndoStore
	store  *utxo.Store
}

// NewReplayer builds a Replayer over the given block-transaction and undo
// stores and a UTXO store for live snapshot reads.
func NewReplayer(blocks *BlockTxesStore, undo *UndoStore, store *utxo.Store) *Replayer {
	return &Replayer{blocks: blocks, undo: undo, store: store}
}

// ReplayBlock produces the LoadedTx sequence for hash at height, in the
// given direction. Connect resolves prev outputs from the current UTXO
// snapshot; Disconnect reads them back from the undo data recorded for
// hash. Fails with MissingDataError if a needed transaction was pruned or
// no undo record exists.
func (r *Replayer) ReplayBlock(ctx context.Context, hash types.Hash, height uint64, direction chainwalker.Direction) ([]LoadedTx, error) {
	entries, ok, err := r.blocks.TryReadBlockTransactions(hash)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, NewMissingDataError(hash)
	}

	switch direction {
	case chainwalker.Connect:
		return r.replayForward(ctx, hash, entries)
	case chainwalker.Disconnect:
		return r.replayReverse(ctx, hash, entries)
	default:
		return nil, fmt.Errorf("replay: unknown direction %d", direction)
	}
}

func (r *Replayer) replayForward(ctx context.Context, hash types.Hash, entries []BlockTx) ([]LoadedTx, error) {
	loaded := make([]LoadedTx, 0, len(entries))
	for i, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if entry.Pruned {
			return nil, NewMissingDataError(hash)
		}
		transaction := entry.Tx
		isCoinbase := transaction.IsCoinbase()

		var prevOutputs []tx.Output
		if !isCoinbase {
			prevOutputs = make([]tx.Output, len(transaction.Inputs))
			for j, in := range transaction.Inputs {
				out, ok, err := r.store.GetUnspentOutput(in.PrevOut)
				if err != nil {
					return nil, err
				}
				if !ok {
					return nil, NewMissingDataError(hash)
				}
				prevOutputs[j] = *out
			}
		}

		loaded = append(loaded, LoadedTx{
			Tx:          transaction,
			TxIndex:     i,
			IsCoinbase:  isCoinbase,
			PrevOutputs: prevOutputs,
		})
	}

	log.Replay.Debug().Str("block", hash.String()).Int("tx_count", len(loaded)).Msg("replayed block forward")
	return loaded, nil
}

func (r *Replayer) replayReverse(ctx context.Context, hash types.Hash, entries []BlockTx) ([]LoadedTx, error) {
	results, ok, err := r.undo.Get(hash)
	if err != nil {
		return nil, err
	}
	if !ok || len(results) != len(entries) {
		return nil, NewMissingDataError(hash)
	}

	loaded := make([]LoadedTx, 0, len(entries))
	for i, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if entry.Pruned {
			return nil, NewMissingDataError(hash)
		}
		transaction := entry.Tx
		isCoinbase := transaction.IsCoinbase()

		var prevOutputs []tx.Output
		if !isCoinbase {
			prevOutputs = make([]tx.Output, len(results[i].PrevOutputs))
			for j, p := range results[i].PrevOutputs {
				prevOutputs[j] = p.Output
			}
		}

		loaded = append(loaded, LoadedTx{
			Tx:          transaction,
			TxIndex:     i,
			IsCoinbase:  isCoinbase,
			PrevOutputs: prevOutputs,
		})
	}

	log.Replay.Debug().Str("block", hash.String()).Int("tx_count", len(loaded)).Msg("replayed block in reverse")
	return loaded, nil
}
