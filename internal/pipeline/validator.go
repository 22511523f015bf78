package pipeline

import (
	"context"
	"fmt"

	"github.com/klingon-tech/chainstate/internal/chainwalker"
	"github.com/klingon-tech/chainstate/internal/engine"
	"github.com/klingon-tech/chainstate/internal/headergraph"
	"github.com/klingon-tech/chainstate/internal/replay"
	"github.com/klingon-tech/chainstate/internal/rules"
	"github.com/klingon-tech/chainstate/pkg/block"
	"github.com/klingon-tech/chainstate/pkg/tx"
	"github.com/klingon-tech/chainstate/pkg/types"
)

// Validator is the script/structure sink of the fan-out: as a block's
// transactions replay through the pipeline it consults the Rules oracle
// for proof-of-work and block structure (once, on the block's first
// transaction) and for every input's spending conditions against its
// resolved prior output. A failure surfaces as a validation error, which
// aborts the step, rolls back its cursor, and marks the header invalid.
//
// Disconnect replays pass through unchecked: a block being rolled back
// was fully validated when it first connected.
type Validator struct {
	rules  rules.Rules
	graph  *headergraph.HeaderGraph
	blocks *replay.BlockTxesStore
}

// NewValidator builds the validation sink over a Rules oracle, the header
// graph the replayed hashes chain into, and the block-transaction store
// the structural check reads whole blocks from.
func NewValidator(r rules.Rules, graph *headergraph.HeaderGraph, blocks *replay.BlockTxesStore) *Validator {
	return &Validator{rules: r, graph: graph, blocks: blocks}
}

// Process implements Sink.
func (v *Validator) Process(ctx context.Context, item ValidatableTx) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if item.Direction != chainwalker.Connect {
		return nil
	}

	if item.Tx.TxIndex == 0 {
		if err := v.validateBlock(item.BlockHash); err != nil {
			return err
		}
	}

	if !item.Tx.IsCoinbase {
		inputs := item.Tx.Tx.Inputs
		if len(item.Tx.PrevOutputs) != len(inputs) {
			return engine.NewValidationError(item.BlockHash,
				fmt.Sprintf("tx %s resolved %d prev outputs for %d inputs", item.Tx.Tx.Hash(), len(item.Tx.PrevOutputs), len(inputs)))
		}
		for i := range inputs {
			if !v.rules.VerifyInput(item.Tx.Tx, i, &item.Tx.PrevOutputs[i]) {
				return engine.NewValidationError(item.BlockHash,
					fmt.Sprintf("input %d of tx %s fails its spending conditions", i, item.Tx.Tx.Hash()))
			}
		}
	}
	return nil
}

// validateBlock runs the per-block half of the oracle: the header's proof
// of work and the assembled block's structure.
func (v *Validator) validateBlock(hash types.Hash) error {
	ch, ok := v.graph.Get(hash)
	if !ok {
		return engine.NewValidationError(hash, "replayed block is not a chained header")
	}
	if !v.rules.CheckProofOfWork(ch.Header) {
		return engine.NewValidationError(hash, "proof of work does not meet the declared target")
	}

	entries, ok, err := v.blocks.TryReadBlockTransactions(hash)
	if err != nil {
		return err
	}
	if !ok {
		return replay.NewMissingDataError(hash)
	}
	transactions := make([]*tx.Transaction, len(entries))
	for i, e := range entries {
		if e.Pruned {
			return replay.NewMissingDataError(hash)
		}
		transactions[i] = e.Tx
	}

	if err := v.rules.ValidateStructure(block.NewBlock(ch.Header, transactions)); err != nil {
		return engine.NewValidationError(hash, err.Error())
	}
	return nil
}
