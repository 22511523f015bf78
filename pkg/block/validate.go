package block

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/klingon-tech/chainstate/config"
	"github.com/klingon-tech/chainstate/pkg/tx"
	"github.com/klingon-tech/chainstate/pkg/types"
)

// Validation errors.
var (
	ErrNilHeader           = errors.New("block has nil header")
	ErrNoTransactions      = errors.New("block has no transactions")
	ErrBadMerkleRoot       = errors.New("merkle root mismatch")
	ErrBadVersion          = errors.New("unsupported block version")
	ErrZeroTimestamp       = errors.New("block timestamp is zero")
	ErrBadTxOrder          = errors.New("transactions not in canonical order")
	ErrNoCoinbase          = errors.New("first transaction must be coinbase")
	ErrTooManyTxs          = errors.New("too many transactions in block")
	ErrBlockTooLarge       = errors.New("block too large")
	ErrDuplicateBlockInput = errors.New("duplicate input across transactions in block")
	ErrMultipleCoinbase    = errors.New("multiple coinbase transactions in block")
)

// Block version constants.
const (
	CurrentVersion = 1 // The current block version produced by this software.
	MaxVersion     = 1 // Bump when a fork introduces a new block version.
)

// Validate checks a block's internal structure: header sanity, size limits,
// coinbase placement, canonical transaction ordering, the merkle root, and
// intra-block double spends. It deliberately knows nothing about the UTXO
// set; spend validity against chain state is the engine's and the Rules
// oracle's job.
func (b *Block) Validate() error {
	if err := b.validateHeader(); err != nil {
		return err
	}
	if err := b.validateLimits(); err != nil {
		return err
	}
	return b.validateTransactions()
}

func (b *Block) validateHeader() error {
	if b.Header == nil {
		return ErrNilHeader
	}
	if b.Header.Version < 1 || b.Header.Version > MaxVersion {
		return fmt.Errorf("%w: got %d, want 1..%d", ErrBadVersion, b.Header.Version, MaxVersion)
	}
	if b.Header.Timestamp == 0 {
		return ErrZeroTimestamp
	}
	return nil
}

func (b *Block) validateLimits() error {
	if len(b.Transactions) == 0 {
		return ErrNoTransactions
	}
	if len(b.Transactions) > config.MaxBlockTxs {
		return fmt.Errorf("%w: %d txs, max %d", ErrTooManyTxs, len(b.Transactions), config.MaxBlockTxs)
	}

	size := len(b.Header.SigningBytes())
	for _, t := range b.Transactions {
		size += len(t.SigningBytes())
	}
	if size > config.MaxBlockSize {
		return fmt.Errorf("%w: %d bytes, max %d", ErrBlockTooLarge, size, config.MaxBlockSize)
	}
	return nil
}

func (b *Block) validateTransactions() error {
	if !isCoinbase(b.Transactions[0]) {
		return ErrNoCoinbase
	}

	txHashes := make([]types.Hash, len(b.Transactions))
	seenInputs := make(map[types.Outpoint]int)

	for i, t := range b.Transactions {
		txHashes[i] = t.Hash()

		if err := t.Validate(); err != nil {
			return fmt.Errorf("tx %d: %w", i, err)
		}

		for _, in := range t.Inputs {
			if in.PrevOut.IsZero() {
				if i > 0 {
					return fmt.Errorf("tx %d: %w", i, ErrMultipleCoinbase)
				}
				continue
			}
			// Per-tx duplicates are caught by t.Validate; this catches an
			// outpoint spent by two different transactions in one block.
			if prev, spent := seenInputs[in.PrevOut]; spent {
				return fmt.Errorf("tx %d: %w: outpoint %s also spent in tx %d",
					i, ErrDuplicateBlockInput, in.PrevOut, prev)
			}
			seenInputs[in.PrevOut] = i
		}
	}

	// Canonical order: coinbase first, the rest sorted by hash ascending.
	for i := 2; i < len(txHashes); i++ {
		if bytes.Compare(txHashes[i-1][:], txHashes[i][:]) >= 0 {
			return fmt.Errorf("%w: tx %d hash >= tx %d hash", ErrBadTxOrder, i-1, i)
		}
	}

	if root := ComputeMerkleRoot(txHashes); b.Header.MerkleRoot != root {
		return fmt.Errorf("%w: header=%s computed=%s", ErrBadMerkleRoot, b.Header.MerkleRoot, root)
	}
	return nil
}

// isCoinbase mirrors tx.Transaction.IsCoinbase for the first-tx check.
func isCoinbase(t *tx.Transaction) bool {
	return len(t.Inputs) == 1 && t.Inputs[0].PrevOut.IsZero()
}

// Hash returns the block header hash.
func (b *Block) Hash() types.Hash {
	if b.Header == nil {
		return types.Hash{}
	}
	return b.Header.Hash()
}
