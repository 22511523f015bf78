package utxo

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/klingon-tech/chainstate/internal/storage"
	"github.com/klingon-tech/chainstate/pkg/tx"
	"github.com/klingon-tech/chainstate/pkg/types"
)

// reader is the read subset both storage.DB and storage.Txn satisfy; the
// codec helpers below work against either so Store's non-transactional
// reads and Cursor's transactional ones share one implementation.
type reader interface {
	Get(key []byte) ([]byte, error)
	Has(key []byte) (bool, error)
	ForEach(prefix []byte, fn func(key, value []byte) error) error
}

func getUnspentTx(r reader, hash types.Hash) (*UnspentTx, bool, error) {
	data, err := r.Get(unspentTxKey(hash))
	if err != nil {
		return nil, false, nil
	}
	var u UnspentTx
	if err := json.Unmarshal(data, &u); err != nil {
		return nil, false, fmt.Errorf("utxo: unmarshal unspent tx: %w", err)
	}
	return &u, true, nil
}

func putUnspentTx(w storage.DB, u *UnspentTx) error {
	data, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("utxo: marshal unspent tx: %w", err)
	}
	return w.Put(unspentTxKey(u.TxHash), data)
}

func deleteUnspentTx(w storage.DB, hash types.Hash) error {
	return w.Delete(unspentTxKey(hash))
}

func getUnspentOutput(r reader, op types.Outpoint) (*tx.Output, bool, error) {
	data, err := r.Get(unspentOutputKey(op))
	if err != nil {
		return nil, false, nil
	}
	var out tx.Output
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, false, fmt.Errorf("utxo: unmarshal unspent output: %w", err)
	}
	return &out, true, nil
}

func putUnspentOutput(w storage.DB, op types.Outpoint, out *tx.Output) error {
	data, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("utxo: marshal unspent output: %w", err)
	}
	return w.Put(unspentOutputKey(op), data)
}

func deleteUnspentOutput(w storage.DB, op types.Outpoint) error {
	return w.Delete(unspentOutputKey(op))
}

func getSpentTxs(r reader, height uint64) ([]SpentTx, bool, error) {
	data, err := r.Get(spentTxsKey(height))
	if err != nil {
		return nil, false, nil
	}
	var list []SpentTx
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, false, fmt.Errorf("utxo: unmarshal spent txs: %w", err)
	}
	return list, true, nil
}

func putSpentTxs(w storage.DB, height uint64, list []SpentTx) error {
	data, err := json.Marshal(list)
	if err != nil {
		return fmt.Errorf("utxo: marshal spent txs: %w", err)
	}
	return w.Put(spentTxsKey(height), data)
}

func deleteSpentTxs(w storage.DB, height uint64) error {
	return w.Delete(spentTxsKey(height))
}

func getUnmintedTxs(r reader, height uint64) ([]UnmintedTx, bool, error) {
	data, err := r.Get(unmintedTxsKey(height))
	if err != nil {
		return nil, false, nil
	}
	var list []UnmintedTx
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, false, fmt.Errorf("utxo: unmarshal unminted txs: %w", err)
	}
	return list, true, nil
}

func putUnmintedTxs(w storage.DB, height uint64, list []UnmintedTx) error {
	data, err := json.Marshal(list)
	if err != nil {
		return fmt.Errorf("utxo: marshal unminted txs: %w", err)
	}
	return w.Put(unmintedTxsKey(height), data)
}

func deleteUnmintedTxs(w storage.DB, height uint64) error {
	return w.Delete(unmintedTxsKey(height))
}

func getCounter(r reader, name string) (uint64, error) {
	data, err := r.Get(counterKey(name))
	if err != nil {
		return 0, nil
	}
	if len(data) != 8 {
		return 0, fmt.Errorf("utxo: malformed counter %q", name)
	}
	return binary.BigEndian.Uint64(data), nil
}

func putCounter(w storage.DB, name string, value uint64) error {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, value)
	return w.Put(counterKey(name), buf)
}
