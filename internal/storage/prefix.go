package storage

// PrefixDB wraps a DB and prepends a fixed prefix to every key, so several
// components (UTXO maps, block transactions, undo records, header records)
// can share one underlying database without keyspace collisions. It also
// implements Transactor when the inner DB does, prefixing inside the
// transaction the same way.
type PrefixDB struct {
	inner  DB
	prefix []byte
}

// NewPrefixDB wraps inner under the given key prefix.
func NewPrefixDB(inner DB, prefix []byte) *PrefixDB {
	p := make([]byte, len(prefix))
	copy(p, prefix)
	return &PrefixDB{inner: inner, prefix: p}
}

func (p *PrefixDB) prefixed(key []byte) []byte {
	out := make([]byte, len(p.prefix)+len(key))
	copy(out, p.prefix)
	copy(out[len(p.prefix):], key)
	return out
}

// Get implements DB.
func (p *PrefixDB) Get(key []byte) ([]byte, error) {
	return p.inner.Get(p.prefixed(key))
}

// Put implements DB.
func (p *PrefixDB) Put(key, value []byte) error {
	return p.inner.Put(p.prefixed(key), value)
}

// Delete implements DB.
func (p *PrefixDB) Delete(key []byte) error {
	return p.inner.Delete(p.prefixed(key))
}

// Has implements DB.
func (p *PrefixDB) Has(key []byte) (bool, error) {
	return p.inner.Has(p.prefixed(key))
}

// ForEach implements DB. Keys reach fn with the namespace prefix stripped,
// so callers only ever see their logical keyspace.
func (p *PrefixDB) ForEach(prefix []byte, fn func(key, value []byte) error) error {
	return p.inner.ForEach(p.prefixed(prefix), func(key, value []byte) error {
		return fn(key[len(p.prefix):], value)
	})
}

// DeleteAll removes every key under this PrefixDB's namespace.
func (p *PrefixDB) DeleteAll() error {
	// Collect first; deleting while iterating is backend-dependent.
	var keys [][]byte
	err := p.inner.ForEach(p.prefix, func(key, _ []byte) error {
		k := make([]byte, len(key))
		copy(k, key)
		keys = append(keys, k)
		return nil
	})
	if err != nil {
		return err
	}
	for _, key := range keys {
		if err := p.inner.Delete(key); err != nil {
			return err
		}
	}
	return nil
}

// Close is a no-op; the inner DB owns its own lifecycle.
func (p *PrefixDB) Close() error {
	return nil
}
