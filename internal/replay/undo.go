package replay

import (
	"encoding/json"
	"fmt"

	"github.com/klingon-tech/chainstate/internal/engine"
	"github.com/klingon-tech/chainstate/internal/storage"
	"github.com/klingon-tech/chainstate/pkg/types"
)

var prefixUndo = []byte("ud/") // ud/<hash(32)> -> []engine.TxResult JSON

func undoKey(hash types.Hash) []byte {
	key := make([]byte, len(prefixUndo)+types.HashSize)
	copy(key, prefixUndo)
	copy(key[len(prefixUndo):], hash[:])
	return key
}

// UndoStore persists the per-transaction undo data ApplyBlock returns for
// a connected block, so a later reorg can roll it back without
// re-resolving every spent output. A record is removed only when its block
// is disconnected; the pruning engine does not remove records from this
// store.
type UndoStore struct {
	db storage.DB
}

// NewUndoStore wraps db as an undo-data store.
func NewUndoStore(db storage.DB) *UndoStore {
	return &UndoStore{db: db}
}

// Put stores the undo data produced by connecting hash.
func (s *UndoStore) Put(hash types.Hash, results []engine.TxResult) error {
	data, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("replay: marshal undo data: %w", err)
	}
	return s.db.Put(undoKey(hash), data)
}

// Get returns the undo data for hash, or false if none is stored.
func (s *UndoStore) Get(hash types.Hash) ([]engine.TxResult, bool, error) {
	data, err := s.db.Get(undoKey(hash))
	if err != nil {
		return nil, false, nil
	}
	var results []engine.TxResult
	if err := json.Unmarshal(data, &results); err != nil {
		return nil, false, fmt.Errorf("replay: unmarshal undo data: %w", err)
	}
	return results, true, nil
}

// Delete removes the undo data for hash; the pipeline calls it once the
// block has been disconnected.
func (s *UndoStore) Delete(hash types.Hash) error {
	return s.db.Delete(undoKey(hash))
}
