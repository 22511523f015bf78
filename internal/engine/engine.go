// Package engine implements the UTXO state machine: applying a block's
// transactions to a utxo.Cursor (mint/spend) and reversing that effect
// during a reorg (unmint/unspend). It never touches a header graph or any
// network transport; callers decide which block to apply or roll back and
// supply its transactions and, for rollback, the undo data ApplyBlock
// produced for that same block.
package engine

import (
	"fmt"

	"github.com/klingon-tech/chainstate/internal/log"
	"github.com/klingon-tech/chainstate/internal/utxo"
	"github.com/klingon-tech/chainstate/pkg/tx"
	"github.com/klingon-tech/chainstate/pkg/types"
)

// TxResult is the per-transaction undo data ApplyBlock produces: the prior
// output and UnspentTx snapshot consumed by each non-coinbase input, in
// input order. RollbackBlock needs exactly this to restore the block's
// effects; callers should persist it alongside the block.
type TxResult struct {
	TxHash      types.Hash
	PrevOutputs []utxo.PrevTxOutput
}

// ApplyBlock connects one block: for every transaction, non-coinbase
// inputs are spent against the existing UTXO set and its outputs are
// minted, unless the transaction is one of the two known duplicate
// coinbases or the block is the genesis block (height 0), in which case
// minting is skipped. Mutations go through cursor and are not visible
// until the caller commits it. On any validation failure cursor is left
// with partial, uncommitted writes; callers must roll it back.
func ApplyBlock(cursor *utxo.Cursor, blockHash types.Hash, height uint64, transactions []*tx.Transaction) ([]TxResult, error) {
	uoCount, err := cursor.UnspentOutputCount()
	if err != nil {
		return nil, err
	}
	utCount, err := cursor.UnspentTxCount()
	if err != nil {
		return nil, err
	}
	ttCount, err := cursor.TotalTxCount()
	if err != nil {
		return nil, err
	}
	tiCount, err := cursor.TotalInputCount()
	if err != nil {
		return nil, err
	}
	toCount, err := cursor.TotalOutputCount()
	if err != nil {
		return nil, err
	}

	results := make([]TxResult, 0, len(transactions))
	var spent []utxo.SpentTx

	for i, transaction := range transactions {
		txHash := transaction.Hash()
		var prevOutputs []utxo.PrevTxOutput

		if !transaction.IsCoinbase() {
			for _, in := range transaction.Inputs {
				out, summary, err := spendOutput(cursor, blockHash, in.PrevOut)
				if err != nil {
					return nil, err
				}
				prevOutputs = append(prevOutputs, *out)
				uoCount--
				tiCount++
				if summary != nil {
					spent = append(spent, *summary)
					utCount--
				}
			}
		}

		if height > 0 && !isDuplicateCoinbase(height, txHash) {
			n := len(transaction.Outputs)
			u := &utxo.UnspentTx{
				TxHash:       txHash,
				BlockHeight:  height,
				TxIndex:      uint32(i),
				Version:      transaction.Version,
				IsCoinbase:   transaction.IsCoinbase(),
				OutputStates: utxo.NewBitset(n),
			}
			ok, err := cursor.TryAddUnspentTx(u)
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, NewValidationError(blockHash, fmt.Sprintf("duplicate mint of tx %s", txHash))
			}
			for idx := range transaction.Outputs {
				op := types.Outpoint{TxID: txHash, Index: uint32(idx)}
				ok, err := cursor.TryAddUnspentOutput(op, &transaction.Outputs[idx])
				if err != nil {
					return nil, err
				}
				if !ok {
					return nil, ErrCorruption
				}
			}
			uoCount += uint64(n)
			toCount += uint64(n)
			utCount++
		}

		// Genesis transactions never enter the UTXO model, so they do not
		// count toward any counter either.
		if height > 0 {
			ttCount++
		}
		results = append(results, TxResult{TxHash: txHash, PrevOutputs: prevOutputs})
	}

	if len(spent) > 0 {
		if err := cursor.TryAddBlockSpentTxs(height, spent); err != nil {
			return nil, err
		}
	}

	if err := writeCounters(cursor, uoCount, utCount, ttCount, tiCount, toCount); err != nil {
		return nil, err
	}

	log.Engine.Debug().
		Uint64("height", height).
		Int("tx_count", len(transactions)).
		Msg("applied block")

	return results, nil
}

// spendOutput consumes the output at op: it sets the matching bit of the
// owning UnspentTx. Output records survive individual spends; only once
// every output the tx minted has been spent are they all deleted, along
// with the UnspentTx record itself (returning a SpentTx summary and the
// reclaimed outputs so a rollback can recreate them).
func spendOutput(cursor *utxo.Cursor, blockHash types.Hash, op types.Outpoint) (*utxo.PrevTxOutput, *utxo.SpentTx, error) {
	owner, err := cursor.TryGetUnspentTx(op.TxID)
	if err != nil {
		return nil, nil, err
	}
	if owner == nil {
		return nil, nil, NewValidationError(blockHash, fmt.Sprintf("spend of unknown or fully-spent tx %s", op.TxID))
	}
	if int(op.Index) >= owner.OutputStates.N {
		return nil, nil, NewValidationError(blockHash, fmt.Sprintf("output index out of range for %s", op))
	}
	if owner.OutputStates.Get(int(op.Index)) {
		return nil, nil, NewValidationError(blockHash, fmt.Sprintf("double spend of %s", op))
	}

	out, err := cursor.TryGetUnspentOutput(op)
	if err != nil {
		return nil, nil, err
	}
	if out == nil {
		return nil, nil, ErrCorruption
	}

	snapshot := *owner
	snapshot.OutputStates = owner.OutputStates.Clone()

	owner.OutputStates.Set(int(op.Index), true)

	var summary *utxo.SpentTx
	var reclaimed []tx.Output
	if owner.OutputStates.AllSpent() {
		summary = &utxo.SpentTx{
			TxHash:      owner.TxHash,
			BlockHeight: owner.BlockHeight,
			TxIndex:     owner.TxIndex,
			Version:     owner.Version,
			OutputCount: owner.OutputStates.N,
			IsCoinbase:  owner.IsCoinbase,
		}
		if ok, err := cursor.TryRemoveUnspentTx(op.TxID); err != nil {
			return nil, nil, err
		} else if !ok {
			return nil, nil, ErrCorruption
		}
		reclaimed = make([]tx.Output, owner.OutputStates.N)
		for idx := 0; idx < owner.OutputStates.N; idx++ {
			each := types.Outpoint{TxID: op.TxID, Index: uint32(idx)}
			rec, err := cursor.TryGetUnspentOutput(each)
			if err != nil {
				return nil, nil, err
			}
			if rec == nil {
				return nil, nil, ErrCorruption
			}
			reclaimed[idx] = *rec
			if ok, err := cursor.TryRemoveUnspentOutput(each); err != nil {
				return nil, nil, err
			} else if !ok {
				return nil, nil, ErrCorruption
			}
		}
	} else if ok, err := cursor.TryUpdateUnspentTx(owner); err != nil {
		return nil, nil, err
	} else if !ok {
		return nil, nil, ErrCorruption
	}

	return &utxo.PrevTxOutput{Output: *out, UnspentTxSnapshot: snapshot, ReclaimedOutputs: reclaimed}, summary, nil
}

// RollbackBlock disconnects one block: it reverses ApplyBlock's effects in
// exact opposite order, restoring each spent output and its owning
// UnspentTx record from undo (ApplyBlock's own return value for this
// block) and deleting the UnspentTx records minted by it. It returns the
// UnmintedTx entries wallet scanners use to unwind their own view; the
// same entries are also persisted under the block's height.
func RollbackBlock(cursor *utxo.Cursor, height uint64, transactions []*tx.Transaction, undo []TxResult) ([]utxo.UnmintedTx, error) {
	if len(undo) != len(transactions) {
		return nil, fmt.Errorf("engine: rollback block: undo length %d does not match %d transactions", len(undo), len(transactions))
	}

	uoCount, err := cursor.UnspentOutputCount()
	if err != nil {
		return nil, err
	}
	utCount, err := cursor.UnspentTxCount()
	if err != nil {
		return nil, err
	}
	ttCount, err := cursor.TotalTxCount()
	if err != nil {
		return nil, err
	}
	tiCount, err := cursor.TotalInputCount()
	if err != nil {
		return nil, err
	}
	toCount, err := cursor.TotalOutputCount()
	if err != nil {
		return nil, err
	}

	unminted := make([]utxo.UnmintedTx, len(transactions))

	for i := len(transactions) - 1; i >= 0; i-- {
		transaction := transactions[i]
		txHash := transaction.Hash()
		unminted[i] = utxo.UnmintedTx{TxHash: txHash, PrevOutputs: undo[i].PrevOutputs}

		if height > 0 && !isDuplicateCoinbase(height, txHash) {
			n := len(transaction.Outputs)
			owner, err := cursor.TryGetUnspentTx(txHash)
			if err != nil {
				return nil, err
			}
			if owner == nil {
				return nil, ErrCannotRollback
			}
			if owner.OutputStates.SpentCount() != 0 {
				return nil, ErrCorruption
			}
			if ok, err := cursor.TryRemoveUnspentTx(txHash); err != nil {
				return nil, err
			} else if !ok {
				return nil, ErrCorruption
			}
			for idx := 0; idx < n; idx++ {
				op := types.Outpoint{TxID: txHash, Index: uint32(idx)}
				if ok, err := cursor.TryRemoveUnspentOutput(op); err != nil {
					return nil, err
				} else if !ok {
					return nil, ErrCorruption
				}
			}
			utCount--
			uoCount -= uint64(n)
			toCount -= uint64(n)
		}

		if !transaction.IsCoinbase() {
			inputs := transaction.Inputs
			prevOutputs := undo[i].PrevOutputs
			if len(prevOutputs) != len(inputs) {
				return nil, fmt.Errorf("engine: rollback block: undo has %d prev outputs, want %d", len(prevOutputs), len(inputs))
			}
			for j := len(inputs) - 1; j >= 0; j-- {
				op := inputs[j].PrevOut
				entry := prevOutputs[j]

				snapshot := entry.UnspentTxSnapshot
				current, err := cursor.TryGetUnspentTx(op.TxID)
				if err != nil {
					return nil, err
				}
				if current == nil {
					// This spend fully spent the tx: recreate the record and
					// every output record it reclaimed.
					if ok, err := cursor.TryAddUnspentTx(&snapshot); err != nil {
						return nil, err
					} else if !ok {
						return nil, ErrCorruption
					}
					if len(entry.ReclaimedOutputs) != snapshot.OutputStates.N {
						return nil, ErrCorruption
					}
					for idx := range entry.ReclaimedOutputs {
						each := types.Outpoint{TxID: op.TxID, Index: uint32(idx)}
						if ok, err := cursor.TryAddUnspentOutput(each, &entry.ReclaimedOutputs[idx]); err != nil {
							return nil, err
						} else if !ok {
							return nil, ErrCorruption
						}
					}
					utCount++
				} else {
					if !current.OutputStates.Get(int(op.Index)) {
						return nil, ErrCorruption
					}
					if ok, err := cursor.TryUpdateUnspentTx(&snapshot); err != nil {
						return nil, err
					} else if !ok {
						return nil, ErrCorruption
					}
				}
				uoCount++
				tiCount--
			}
		}

		if height > 0 {
			ttCount--
		}
	}

	if err := cursor.TryAddBlockUnmintedTxs(height, unminted); err != nil {
		return nil, err
	}
	if err := cursor.TryRemoveBlockSpentTxs(height); err != nil {
		return nil, err
	}

	if err := writeCounters(cursor, uoCount, utCount, ttCount, tiCount, toCount); err != nil {
		return nil, err
	}

	log.Engine.Debug().
		Uint64("height", height).
		Int("tx_count", len(transactions)).
		Msg("rolled back block")

	return unminted, nil
}

func writeCounters(cursor *utxo.Cursor, uoCount, utCount, ttCount, tiCount, toCount uint64) error {
	if err := cursor.SetUnspentOutputCount(uoCount); err != nil {
		return err
	}
	if err := cursor.SetUnspentTxCount(utCount); err != nil {
		return err
	}
	if err := cursor.SetTotalTxCount(ttCount); err != nil {
		return err
	}
	if err := cursor.SetTotalInputCount(tiCount); err != nil {
		return err
	}
	if err := cursor.SetTotalOutputCount(toCount); err != nil {
		return err
	}
	return nil
}
