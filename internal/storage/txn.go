package storage

import (
	"errors"

	"github.com/dgraph-io/badger/v4"
)

// ErrTxnDone is returned when Commit or Rollback is called twice, or when an
// operation is attempted on a transaction that already finished.
var ErrTxnDone = errors.New("transaction already committed or rolled back")

// Txn is an exclusive, atomic read-write transaction over a DB. It exposes
// the same read/write surface as DB so callers can use a Txn anywhere a DB
// is expected, plus Commit/Rollback to end it. A Txn that is dropped without
// either call must be rolled back by its owner; this package never relies
// on finalizers.
type Txn interface {
	DB
	// Commit makes all writes performed through this Txn visible atomically
	// to subsequent readers. Terminal: the Txn may not be reused afterward.
	Commit() error
	// Rollback discards all writes performed through this Txn. Terminal.
	Rollback() error
}

// Transactor is implemented by DB backends that support atomic transactions.
type Transactor interface {
	Begin() (Txn, error)
}

// badgerTxn adapts a native badger.Txn to the Txn interface.
type badgerTxn struct {
	txn  *badger.Txn
	done bool
}

// Begin starts a new read-write Badger transaction.
func (b *BadgerDB) Begin() (Txn, error) {
	return &badgerTxn{txn: b.db.NewTransaction(true)}, nil
}

func (t *badgerTxn) Get(key []byte) ([]byte, error) {
	item, err := t.txn.Get(key)
	if err == badger.ErrKeyNotFound {
		return nil, errors.New("key not found")
	}
	if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}

func (t *badgerTxn) Put(key, value []byte) error {
	return t.txn.Set(key, value)
}

func (t *badgerTxn) Delete(key []byte) error {
	return t.txn.Delete(key)
}

func (t *badgerTxn) Has(key []byte) (bool, error) {
	_, err := t.txn.Get(key)
	if err == badger.ErrKeyNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (t *badgerTxn) ForEach(prefix []byte, fn func(key, value []byte) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := t.txn.NewIterator(opts)
	defer it.Close()

	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		key := item.KeyCopy(nil)
		if err := item.Value(func(val []byte) error {
			return fn(key, val)
		}); err != nil {
			return err
		}
	}
	return nil
}

func (t *badgerTxn) Close() error { return nil }

func (t *badgerTxn) Commit() error {
	if t.done {
		return ErrTxnDone
	}
	t.done = true
	return t.txn.Commit()
}

func (t *badgerTxn) Rollback() error {
	if t.done {
		return ErrTxnDone
	}
	t.done = true
	t.txn.Discard()
	return nil
}

// memoryTxn is a copy-on-write overlay over MemoryDB. Reads fall through to
// the underlying map for keys not yet touched by this transaction; writes
// and deletes are buffered until Commit, which takes the store's mutex once
// to apply them atomically.
type memoryTxn struct {
	db      *MemoryDB
	overlay map[string][]byte // pending writes; deletes are tracked in deleted
	deleted map[string]bool
	done    bool
}

// Begin starts a copy-on-write transaction over the in-memory store.
func (m *MemoryDB) Begin() (Txn, error) {
	return &memoryTxn{
		db:      m,
		overlay: make(map[string][]byte),
		deleted: make(map[string]bool),
	}, nil
}

func (t *memoryTxn) Get(key []byte) ([]byte, error) {
	k := string(key)
	if t.deleted[k] {
		return nil, errors.New("key not found")
	}
	if v, ok := t.overlay[k]; ok {
		return v, nil
	}
	t.db.mu.RLock()
	defer t.db.mu.RUnlock()
	v, ok := t.db.data[k]
	if !ok {
		return nil, errors.New("key not found")
	}
	return v, nil
}

func (t *memoryTxn) Put(key, value []byte) error {
	k := string(key)
	t.overlay[k] = value
	delete(t.deleted, k)
	return nil
}

func (t *memoryTxn) Delete(key []byte) error {
	k := string(key)
	delete(t.overlay, k)
	t.deleted[k] = true
	return nil
}

func (t *memoryTxn) Has(key []byte) (bool, error) {
	_, err := t.Get(key)
	return err == nil, nil
}

func (t *memoryTxn) ForEach(prefix []byte, fn func(key, value []byte) error) error {
	p := string(prefix)
	seen := make(map[string]bool)

	for k, v := range t.overlay {
		if len(k) >= len(p) && k[:len(p)] == p {
			seen[k] = true
			if err := fn([]byte(k), v); err != nil {
				return err
			}
		}
	}

	t.db.mu.RLock()
	defer t.db.mu.RUnlock()
	for k, v := range t.db.data {
		if seen[k] || t.deleted[k] {
			continue
		}
		if len(k) >= len(p) && k[:len(p)] == p {
			if err := fn([]byte(k), v); err != nil {
				return err
			}
		}
	}
	return nil
}

func (t *memoryTxn) Close() error { return nil }

func (t *memoryTxn) Commit() error {
	if t.done {
		return ErrTxnDone
	}
	t.done = true
	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	for k := range t.deleted {
		delete(t.db.data, k)
	}
	for k, v := range t.overlay {
		t.db.data[k] = v
	}
	return nil
}

func (t *memoryTxn) Rollback() error {
	if t.done {
		return ErrTxnDone
	}
	t.done = true
	t.overlay = nil
	t.deleted = nil
	return nil
}

// prefixTxn wraps an inner Txn, prepending a fixed prefix to every key.
type prefixTxn struct {
	inner  Txn
	prefix []byte
}

// Begin starts a transaction over the PrefixDB's namespace, delegating to
// the inner DB's Transactor.
func (p *PrefixDB) Begin() (Txn, error) {
	transactor, ok := p.inner.(Transactor)
	if !ok {
		return nil, errors.New("inner db does not support transactions")
	}
	inner, err := transactor.Begin()
	if err != nil {
		return nil, err
	}
	return &prefixTxn{inner: inner, prefix: p.prefix}, nil
}

func (t *prefixTxn) prefixed(key []byte) []byte {
	out := make([]byte, len(t.prefix)+len(key))
	copy(out, t.prefix)
	copy(out[len(t.prefix):], key)
	return out
}

func (t *prefixTxn) Get(key []byte) ([]byte, error) { return t.inner.Get(t.prefixed(key)) }
func (t *prefixTxn) Put(key, value []byte) error    { return t.inner.Put(t.prefixed(key), value) }
func (t *prefixTxn) Delete(key []byte) error        { return t.inner.Delete(t.prefixed(key)) }
func (t *prefixTxn) Has(key []byte) (bool, error)   { return t.inner.Has(t.prefixed(key)) }
func (t *prefixTxn) Close() error                   { return nil }
func (t *prefixTxn) Commit() error                  { return t.inner.Commit() }
func (t *prefixTxn) Rollback() error                { return t.inner.Rollback() }

func (t *prefixTxn) ForEach(prefix []byte, fn func(key, value []byte) error) error {
	full := t.prefixed(prefix)
	return t.inner.ForEach(full, func(key, value []byte) error {
		return fn(key[len(t.prefix):], value)
	})
}
