package utxo

import (
	"encoding/binary"
	"fmt"
	"runtime"

	"github.com/klingon-tech/chainstate/internal/log"
	"github.com/klingon-tech/chainstate/internal/storage"
	"github.com/klingon-tech/chainstate/pkg/tx"
	"github.com/klingon-tech/chainstate/pkg/types"
)

// Key prefixes for the UTXO store.
var (
	prefixUnspentTx     = []byte("ut/") // ut/<txhash(32)> -> UnspentTx JSON
	prefixUnspentOutput = []byte("uo/") // uo/<txhash(32)><index(4)> -> tx.Output JSON
	prefixSpentTxs      = []byte("st/") // st/<height(8)> -> []SpentTx JSON
	prefixUnmintedTxs   = []byte("mt/") // mt/<height(8)> -> []UnmintedTx JSON
	prefixCounter       = []byte("c/")  // c/<name> -> uint64 BE
)

// Counter names, read and written only through a cursor.
const (
	CounterUnspentOutputCount = "unspent_output_count"
	CounterUnspentTxCount     = "unspent_tx_count"
	CounterTotalTxCount       = "total_tx_count"
	CounterTotalInputCount    = "total_input_count"
	CounterTotalOutputCount   = "total_output_count"
)

func unspentTxKey(hash types.Hash) []byte {
	key := make([]byte, len(prefixUnspentTx)+types.HashSize)
	copy(key, prefixUnspentTx)
	copy(key[len(prefixUnspentTx):], hash[:])
	return key
}

func unspentOutputKey(op types.Outpoint) []byte {
	key := make([]byte, len(prefixUnspentOutput)+types.HashSize+4)
	copy(key, prefixUnspentOutput)
	copy(key[len(prefixUnspentOutput):], op.TxID[:])
	binary.BigEndian.PutUint32(key[len(prefixUnspentOutput)+types.HashSize:], op.Index)
	return key
}

func spentTxsKey(height uint64) []byte {
	key := make([]byte, len(prefixSpentTxs)+8)
	copy(key, prefixSpentTxs)
	binary.BigEndian.PutUint64(key[len(prefixSpentTxs):], height)
	return key
}

func unmintedTxsKey(height uint64) []byte {
	key := make([]byte, len(prefixUnmintedTxs)+8)
	copy(key, prefixUnmintedTxs)
	binary.BigEndian.PutUint64(key[len(prefixUnmintedTxs):], height)
	return key
}

func counterKey(name string) []byte {
	return append(append([]byte{}, prefixCounter...), []byte(name)...)
}

// Store is the transactional key-value abstraction over the UTXO maps. It
// never mutates state directly; every mutation goes through a Cursor handed
// out by Begin.
type Store struct {
	db storage.DB
}

// NewStore wraps a storage backend as a UTXO store. db must also implement
// storage.Transactor; Begin returns an error otherwise.
func NewStore(db storage.DB) *Store {
	return &Store{db: db}
}

// Begin opens an exclusive cursor: a single in-flight transaction that owns
// every UTXO mutation until Commit or Rollback. A cursor that is dropped
// without either call is rolled back by its finalizer once the collector
// reaches it; callers should still terminate cursors explicitly so the
// rollback happens promptly.
func (s *Store) Begin() (*Cursor, error) {
	txn, err := s.beginTxn()
	if err != nil {
		return nil, err
	}
	c := &Cursor{txn: txn}
	// The finalizer reads c.txn at collection time, so it also covers
	// transactions installed later by Reset. Commit and Rollback terminate
	// the transaction, turning the finalizer's rollback into a no-op.
	runtime.SetFinalizer(c, finalizeCursor)
	return c, nil
}

func finalizeCursor(c *Cursor) {
	if err := c.txn.Rollback(); err == nil {
		log.Utxo.Error().Msg("utxo: cursor dropped without commit or rollback; rolled back by finalizer")
	}
}

// Reset discards c's already-terminated transaction and begins a fresh one
// in its place, so the same *Cursor value can be handed back to a
// pool.Pool instead of discarded. It is the prepare hook a cursor pool
// calls on return; it must only run after c.Commit or c.Rollback has
// already terminated the transaction c was holding.
func (s *Store) Reset(c *Cursor) error {
	txn, err := s.beginTxn()
	if err != nil {
		return err
	}
	c.txn = txn
	return nil
}

func (s *Store) beginTxn() (storage.Txn, error) {
	transactor, ok := s.db.(storage.Transactor)
	if !ok {
		return nil, fmt.Errorf("utxo: store backend does not support transactions")
	}
	txn, err := transactor.Begin()
	if err != nil {
		return nil, fmt.Errorf("utxo: begin cursor: %w", err)
	}
	return txn, nil
}

// GetUnspentTx reads an UnspentTx record outside of any cursor, for
// non-transactional snapshot reads (e.g. forward replay's prev-output
// resolution).
func (s *Store) GetUnspentTx(hash types.Hash) (*UnspentTx, bool, error) {
	return getUnspentTx(s.db, hash)
}

// GetUnspentOutput reads an UnspentOutput record outside of any cursor.
func (s *Store) GetUnspentOutput(op types.Outpoint) (*tx.Output, bool, error) {
	return getUnspentOutput(s.db, op)
}

// GetBlockUnmintedTxs reads the unminted_txs index for height outside of
// any cursor. Reverse replay does not use it; the replayer reads the undo
// data in replay.UndoStore instead.
func (s *Store) GetBlockUnmintedTxs(height uint64) ([]UnmintedTx, error) {
	list, _, err := getUnmintedTxs(s.db, height)
	return list, err
}

// GetBlockSpentTxs reads the spent_txs index for height outside of any
// cursor.
func (s *Store) GetBlockSpentTxs(height uint64) ([]SpentTx, error) {
	list, _, err := getSpentTxs(s.db, height)
	return list, err
}
