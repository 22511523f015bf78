// Package storage defines the pluggable key-value layer every persistent
// component of the chain-state engine sits on: the UTXO store, the block
// transaction and undo stores, and the header-graph records. Backends are
// Badger for real deployments and an in-memory map for tests; both also
// implement Transactor so utxo.Store can hand out atomic cursors.
package storage

// DB is the read/write surface a storage backend exposes.
type DB interface {
	Get(key []byte) ([]byte, error)
	Put(key, value []byte) error
	Delete(key []byte) error
	Has(key []byte) (bool, error)
	// ForEach visits every key with the given prefix. fn receives a copy
	// of the key; the value slice is not copied and is guaranteed valid only
	// for the duration of the call. Returning a non-nil error stops the walk and is
	// passed through.
	ForEach(prefix []byte, fn func(key, value []byte) error) error
	Close() error
}
