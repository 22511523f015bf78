package utxo

import (
	"fmt"

	"github.com/klingon-tech/chainstate/internal/storage"
	"github.com/klingon-tech/chainstate/pkg/tx"
	"github.com/klingon-tech/chainstate/pkg/types"
)

// Cursor is an owned, exclusive transaction over a Store. All UTXO
// mutations go through a cursor; its Commit makes them visible atomically,
// its Rollback discards them. A cursor dropped without either call rolls
// back: Store.Begin arms a finalizer that discards the underlying
// storage.Txn when an unterminated cursor is collected.
type Cursor struct {
	txn storage.Txn
}

// TryGetUnspentTx returns the UnspentTx for hash, or nil if absent.
func (c *Cursor) TryGetUnspentTx(hash types.Hash) (*UnspentTx, error) {
	u, _, err := getUnspentTx(c.txn, hash)
	return u, err
}

// TryAddUnspentTx inserts u. Returns false if a record already exists for
// its hash (a consensus-level duplicate-mint failure).
func (c *Cursor) TryAddUnspentTx(u *UnspentTx) (bool, error) {
	if _, ok, err := getUnspentTx(c.txn, u.TxHash); err != nil {
		return false, err
	} else if ok {
		return false, nil
	}
	if err := putUnspentTx(c.txn, u); err != nil {
		return false, err
	}
	return true, nil
}

// TryUpdateUnspentTx overwrites an existing record. Returns false if no
// record exists for its hash.
func (c *Cursor) TryUpdateUnspentTx(u *UnspentTx) (bool, error) {
	if _, ok, err := getUnspentTx(c.txn, u.TxHash); err != nil {
		return false, err
	} else if !ok {
		return false, nil
	}
	if err := putUnspentTx(c.txn, u); err != nil {
		return false, err
	}
	return true, nil
}

// TryRemoveUnspentTx deletes the record for hash. Returns false if absent.
func (c *Cursor) TryRemoveUnspentTx(hash types.Hash) (bool, error) {
	if _, ok, err := getUnspentTx(c.txn, hash); err != nil {
		return false, err
	} else if !ok {
		return false, nil
	}
	return true, deleteUnspentTx(c.txn, hash)
}

// TryGetUnspentOutput returns the output stored at op, or nil if absent.
func (c *Cursor) TryGetUnspentOutput(op types.Outpoint) (*tx.Output, error) {
	out, _, err := getUnspentOutput(c.txn, op)
	return out, err
}

// TryAddUnspentOutput inserts out under op. Returns false if already present.
func (c *Cursor) TryAddUnspentOutput(op types.Outpoint, out *tx.Output) (bool, error) {
	if _, ok, err := getUnspentOutput(c.txn, op); err != nil {
		return false, err
	} else if ok {
		return false, nil
	}
	if err := putUnspentOutput(c.txn, op, out); err != nil {
		return false, err
	}
	return true, nil
}

// TryUpdateUnspentOutput overwrites the record at op. Returns false if
// absent.
func (c *Cursor) TryUpdateUnspentOutput(op types.Outpoint, out *tx.Output) (bool, error) {
	if _, ok, err := getUnspentOutput(c.txn, op); err != nil {
		return false, err
	} else if !ok {
		return false, nil
	}
	if err := putUnspentOutput(c.txn, op, out); err != nil {
		return false, err
	}
	return true, nil
}

// TryRemoveUnspentOutput deletes the record at op. Returns false if absent.
func (c *Cursor) TryRemoveUnspentOutput(op types.Outpoint) (bool, error) {
	if _, ok, err := getUnspentOutput(c.txn, op); err != nil {
		return false, err
	} else if !ok {
		return false, nil
	}
	return true, deleteUnspentOutput(c.txn, op)
}

// TryAddBlockSpentTxs records the SpentTx summaries produced while
// connecting the block at height.
func (c *Cursor) TryAddBlockSpentTxs(height uint64, list []SpentTx) error {
	return putSpentTxs(c.txn, height, list)
}

// TryGetBlockSpentTxs returns the SpentTx summaries recorded for height, or
// nil if none are stored.
func (c *Cursor) TryGetBlockSpentTxs(height uint64) ([]SpentTx, error) {
	list, _, err := getSpentTxs(c.txn, height)
	return list, err
}

// TryRemoveBlockSpentTxs deletes the SpentTx index for height.
func (c *Cursor) TryRemoveBlockSpentTxs(height uint64) error {
	return deleteSpentTxs(c.txn, height)
}

// TryAddBlockUnmintedTxs records the UnmintedTx entries produced while
// disconnecting the block at height.
func (c *Cursor) TryAddBlockUnmintedTxs(height uint64, list []UnmintedTx) error {
	return putUnmintedTxs(c.txn, height, list)
}

// TryGetBlockUnmintedTxs returns the UnmintedTx entries recorded for
// height, or nil if none are stored.
func (c *Cursor) TryGetBlockUnmintedTxs(height uint64) ([]UnmintedTx, error) {
	list, _, err := getUnmintedTxs(c.txn, height)
	return list, err
}

// TryRemoveBlockUnmintedTxs deletes the UnmintedTx index for height.
func (c *Cursor) TryRemoveBlockUnmintedTxs(height uint64) error {
	return deleteUnmintedTxs(c.txn, height)
}

// UnspentOutputCount returns the unspent_output_count counter.
func (c *Cursor) UnspentOutputCount() (uint64, error) {
	return getCounter(c.txn, CounterUnspentOutputCount)
}

// SetUnspentOutputCount writes the unspent_output_count counter.
func (c *Cursor) SetUnspentOutputCount(v uint64) error {
	return putCounter(c.txn, CounterUnspentOutputCount, v)
}

// UnspentTxCount returns the unspent_tx_count counter.
func (c *Cursor) UnspentTxCount() (uint64, error) {
	return getCounter(c.txn, CounterUnspentTxCount)
}

// SetUnspentTxCount writes the unspent_tx_count counter.
func (c *Cursor) SetUnspentTxCount(v uint64) error {
	return putCounter(c.txn, CounterUnspentTxCount, v)
}

// TotalTxCount returns the total_tx_count counter.
func (c *Cursor) TotalTxCount() (uint64, error) {
	return getCounter(c.txn, CounterTotalTxCount)
}

// SetTotalTxCount writes the total_tx_count counter.
func (c *Cursor) SetTotalTxCount(v uint64) error {
	return putCounter(c.txn, CounterTotalTxCount, v)
}

// TotalInputCount returns the total_input_count counter.
func (c *Cursor) TotalInputCount() (uint64, error) {
	return getCounter(c.txn, CounterTotalInputCount)
}

// SetTotalInputCount writes the total_input_count counter.
func (c *Cursor) SetTotalInputCount(v uint64) error {
	return putCounter(c.txn, CounterTotalInputCount, v)
}

// TotalOutputCount returns the total_output_count counter.
func (c *Cursor) TotalOutputCount() (uint64, error) {
	return getCounter(c.txn, CounterTotalOutputCount)
}

// SetTotalOutputCount writes the total_output_count counter.
func (c *Cursor) SetTotalOutputCount(v uint64) error {
	return putCounter(c.txn, CounterTotalOutputCount, v)
}

// Commit makes every mutation performed through this cursor visible
// atomically. Terminal: the cursor may not be reused afterward.
func (c *Cursor) Commit() error {
	if err := c.txn.Commit(); err != nil {
		return fmt.Errorf("utxo: commit cursor: %w", err)
	}
	return nil
}

// Rollback discards every mutation performed through this cursor. Terminal.
func (c *Cursor) Rollback() error {
	if err := c.txn.Rollback(); err != nil {
		return fmt.Errorf("utxo: rollback cursor: %w", err)
	}
	return nil
}
