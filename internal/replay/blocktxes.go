package replay

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/klingon-tech/chainstate/internal/storage"
	"github.com/klingon-tech/chainstate/pkg/tx"
	"github.com/klingon-tech/chainstate/pkg/types"
)

// BlockTx carries either a full transaction or a marker that it has been
// pruned. Readers that need the transaction body on a pruned entry fail
// with MissingDataError.
type BlockTx struct {
	Pruned bool           `json:"pruned"`
	Tx     *tx.Transaction `json:"tx,omitempty"`
}

// FullBlockTx wraps a transaction still held in full.
func FullBlockTx(t *tx.Transaction) BlockTx { return BlockTx{Tx: t} }

// PrunedBlockTx marks a transaction slot whose body has been dropped.
func PrunedBlockTx() BlockTx { return BlockTx{Pruned: true} }

var (
	prefixBlockTxs   = []byte("bt/") // bt/<hash(32)> -> []BlockTx JSON
	keyBlockTxsCount = []byte("s/block_count")
)

func blockTxsKey(hash types.Hash) []byte {
	key := make([]byte, len(prefixBlockTxs)+types.HashSize)
	copy(key, prefixBlockTxs)
	copy(key[len(prefixBlockTxs):], hash[:])
	return key
}

// BlockTxesStore persists the transaction bodies of connected blocks,
// keyed by block hash, so BlockReplayer can read them back in either
// direction independent of the header graph. A sharded in-memory presence
// cache answers "is this block stored at all" without touching storage on
// repeat probes.
type BlockTxesStore struct {
	db       storage.DB
	presence *presenceCache
}

// NewBlockTxesStore wraps db as a block-transaction store.
func NewBlockTxesStore(db storage.DB) *BlockTxesStore {
	return &BlockTxesStore{db: db, presence: newPresenceCache()}
}

// TryAddBlockTransactions stores the full transaction list for hash.
// Fails if a record already exists for that hash.
func (s *BlockTxesStore) TryAddBlockTransactions(hash types.Hash, transactions []*tx.Transaction) (bool, error) {
	if ok, err := s.containsBlock(hash); err != nil {
		return false, err
	} else if ok {
		return false, nil
	}

	entries := make([]BlockTx, len(transactions))
	for i, t := range transactions {
		entries[i] = FullBlockTx(t)
	}
	if err := s.putEntries(hash, entries); err != nil {
		return false, err
	}
	s.presence.put(hash, true)

	count, err := s.blockCount()
	if err != nil {
		return false, err
	}
	if err := s.setBlockCount(count + 1); err != nil {
		return false, err
	}
	return true, nil
}

// TryReadBlockTransactions returns the stored entries for hash, or false
// if none are stored.
func (s *BlockTxesStore) TryReadBlockTransactions(hash types.Hash) ([]BlockTx, bool, error) {
	if present, known := s.presence.get(hash); known && !present {
		return nil, false, nil
	}
	data, err := s.db.Get(blockTxsKey(hash))
	if err != nil {
		s.presence.put(hash, false)
		return nil, false, nil
	}
	var entries []BlockTx
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, false, fmt.Errorf("replay: unmarshal block transactions: %w", err)
	}
	s.presence.put(hash, true)
	return entries, true, nil
}

// ContainsBlock reports whether hash has a stored entry, pruned or not. The
// presence cache answers repeat probes without a storage round trip.
func (s *BlockTxesStore) ContainsBlock(hash types.Hash) (bool, error) {
	return s.containsBlock(hash)
}

func (s *BlockTxesStore) containsBlock(hash types.Hash) (bool, error) {
	if present, known := s.presence.get(hash); known {
		return present, nil
	}
	ok, err := s.db.Has(blockTxsKey(hash))
	if err != nil {
		return false, err
	}
	s.presence.put(hash, ok)
	return ok, nil
}

// TryGetTransaction returns the transaction at index within hash's block.
// Fails with MissingDataError if the block is unknown, the index is out of
// range, or the slot has been pruned.
func (s *BlockTxesStore) TryGetTransaction(hash types.Hash, index int) (*tx.Transaction, error) {
	entries, ok, err := s.TryReadBlockTransactions(hash)
	if err != nil {
		return nil, err
	}
	if !ok || index < 0 || index >= len(entries) {
		return nil, NewMissingDataError(hash)
	}
	if entries[index].Pruned {
		return nil, NewMissingDataError(hash)
	}
	return entries[index].Tx, nil
}

// BlockCount returns the number of blocks with a stored transaction entry,
// pruned or not.
func (s *BlockTxesStore) BlockCount() (uint64, error) {
	return s.blockCount()
}

// PruneFull replaces every entry for hash with a pruned marker: the
// transaction bodies are no longer retrievable, only their count.
func (s *BlockTxesStore) PruneFull(hash types.Hash) error {
	entries, ok, err := s.TryReadBlockTransactions(hash)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	for i := range entries {
		entries[i] = PrunedBlockTx()
	}
	return s.putEntries(hash, entries)
}

// PrunePreserveUnspent replaces only the entries at the given indices
// (fully-spent transactions, per the block's recorded SpentTx list) with
// pruned markers, leaving the rest retrievable.
func (s *BlockTxesStore) PrunePreserveUnspent(hash types.Hash, indices []uint32) error {
	entries, ok, err := s.TryReadBlockTransactions(hash)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	for _, idx := range indices {
		if int(idx) < len(entries) {
			entries[idx] = PrunedBlockTx()
		}
	}
	return s.putEntries(hash, entries)
}

// DeleteBlockTransactions removes every entry for hash.
func (s *BlockTxesStore) DeleteBlockTransactions(hash types.Hash) error {
	if ok, err := s.containsBlock(hash); err != nil {
		return err
	} else if !ok {
		return nil
	}
	if err := s.db.Delete(blockTxsKey(hash)); err != nil {
		return err
	}
	s.presence.put(hash, false)
	count, err := s.blockCount()
	if err != nil {
		return err
	}
	if count > 0 {
		count--
	}
	return s.setBlockCount(count)
}

func (s *BlockTxesStore) putEntries(hash types.Hash, entries []BlockTx) error {
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("replay: marshal block transactions: %w", err)
	}
	return s.db.Put(blockTxsKey(hash), data)
}

func (s *BlockTxesStore) blockCount() (uint64, error) {
	data, err := s.db.Get(keyBlockTxsCount)
	if err != nil {
		return 0, nil
	}
	if len(data) != 8 {
		return 0, fmt.Errorf("replay: malformed block count")
	}
	return binary.BigEndian.Uint64(data), nil
}

func (s *BlockTxesStore) setBlockCount(v uint64) error {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return s.db.Put(keyBlockTxsCount, buf)
}
