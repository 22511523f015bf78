// Package pruning implements the PruningEngine: dropping block transaction
// bodies and per-height rollback indices once they fall far enough behind
// the validated tip that a reorg can no longer reach them.
package pruning

import (
	"fmt"

	"github.com/samber/lo"

	"github.com/klingon-tech/chainstate/internal/log"
	"github.com/klingon-tech/chainstate/internal/metrics"
	"github.com/klingon-tech/chainstate/internal/replay"
	"github.com/klingon-tech/chainstate/internal/utxo"
	"github.com/klingon-tech/chainstate/pkg/types"
)

// DefaultSafetyBuffer is the number of blocks below the tip that remain
// eligible for a reorg and are therefore never pruned (approximately one
// week at the reference 144 blocks/day cadence).
const DefaultSafetyBuffer = 1008

// Mode selects how much of a pruned block's transaction data is dropped.
type Mode int

const (
	// PreserveUnspent drops only the transactions a block's SpentTx index
	// names as fully spent by later blocks; still-unspent transaction
	// bodies remain queryable.
	PreserveUnspent Mode = iota
	// Full drops every transaction body for the height; only the UTXO set
	// remains, and reorgs behind the buffer become impossible by policy.
	Full
)

// HeightHasher resolves the block hash stored at a height, so the engine
// can locate the per-height indices without depending on a header graph
// directly.
type HeightHasher interface {
	HashAtHeight(height uint64) (types.Hash, bool, error)
}

// Engine prunes block data that has fallen outside the safety buffer.
type Engine struct {
	blocks *replay.BlockTxesStore
	utxo   *utxo.Store
	mode   Mode
	buffer uint64
}

// New builds a pruning Engine operating in mode with the default safety
// buffer.
func New(blocks *replay.BlockTxesStore, store *utxo.Store, mode Mode) *Engine {
	return &Engine{blocks: blocks, utxo: store, mode: mode, buffer: DefaultSafetyBuffer}
}

// WithSafetyBuffer overrides the default safety buffer.
func (e *Engine) WithSafetyBuffer(buffer uint64) *Engine {
	e.buffer = buffer
	return e
}

// PruneUpTo drops data for every height up to and including
// tipHeight-buffer, resolving each eligible height's block hash via hashes.
// Idempotent: re-pruning an already-pruned height changes nothing, though
// it is counted again in the returned total; heights with no recorded hash
// are skipped. Safe to call after every successful tip advancement.
func (e *Engine) PruneUpTo(tipHeight uint64, hashes HeightHasher) (int, error) {
	if tipHeight < e.buffer {
		return 0, nil
	}
	eligible := tipHeight - e.buffer

	pruned := 0
	for height := uint64(0); height <= eligible; height++ {
		hash, ok, err := hashes.HashAtHeight(height)
		if err != nil {
			return pruned, err
		}
		if !ok {
			continue
		}
		if err := e.pruneHeight(hash, height); err != nil {
			return pruned, fmt.Errorf("pruning: height %d: %w", height, err)
		}
		pruned++
	}
	return pruned, nil
}

func (e *Engine) pruneHeight(hash types.Hash, height uint64) error {
	spent, err := e.utxo.GetBlockSpentTxs(height)
	if err != nil {
		return err
	}

	switch e.mode {
	case Full:
		if err := e.blocks.PruneFull(hash); err != nil {
			return err
		}
	case PreserveUnspent:
		indices := lo.Map(spent, func(s utxo.SpentTx, _ int) uint32 { return s.TxIndex })
		if err := e.blocks.PrunePreserveUnspent(hash, indices); err != nil {
			return err
		}
	default:
		return fmt.Errorf("pruning: unknown mode %d", e.mode)
	}
	metrics.BlocksPruned.WithLabelValues(modeName(e.mode)).Inc()

	cursor, err := e.utxo.Begin()
	if err != nil {
		return err
	}
	if err := cursor.TryRemoveBlockSpentTxs(height); err != nil {
		cursor.Rollback()
		return err
	}
	if err := cursor.TryRemoveBlockUnmintedTxs(height); err != nil {
		cursor.Rollback()
		return err
	}
	if err := cursor.Commit(); err != nil {
		return err
	}

	log.Pruning.Debug().Uint64("height", height).Str("mode", modeName(e.mode)).Msg("pruned block")
	return nil
}

func modeName(m Mode) string {
	if m == Full {
		return "full"
	}
	return "preserve_unspent"
}
