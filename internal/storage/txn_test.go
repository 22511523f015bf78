package storage

import (
	"bytes"
	"testing"
)

// testTransactor runs the shared Txn/Transactor contract against any
// backend that implements Transactor.
func testTransactor(t *testing.T, db DB) {
	t.Helper()
	transactor, ok := db.(Transactor)
	if !ok {
		t.Fatalf("%T does not implement Transactor", db)
	}

	t.Run("CommitMakesWritesVisible", func(t *testing.T) {
		txn, err := transactor.Begin()
		if err != nil {
			t.Fatalf("Begin() error: %v", err)
		}
		if err := txn.Put([]byte("k1"), []byte("v1")); err != nil {
			t.Fatalf("Put() error: %v", err)
		}
		if _, err := db.Get([]byte("k1")); err == nil {
			t.Error("write should not be visible before commit")
		}
		if err := txn.Commit(); err != nil {
			t.Fatalf("Commit() error: %v", err)
		}
		val, err := db.Get([]byte("k1"))
		if err != nil {
			t.Fatalf("Get() after commit error: %v", err)
		}
		if !bytes.Equal(val, []byte("v1")) {
			t.Errorf("Get() after commit = %q, want %q", val, "v1")
		}
	})

	t.Run("RollbackDiscardsWrites", func(t *testing.T) {
		txn, err := transactor.Begin()
		if err != nil {
			t.Fatalf("Begin() error: %v", err)
		}
		txn.Put([]byte("k2"), []byte("v2"))
		if err := txn.Rollback(); err != nil {
			t.Fatalf("Rollback() error: %v", err)
		}
		if _, err := db.Get([]byte("k2")); err == nil {
			t.Error("rolled-back write should not be visible")
		}
	})

	t.Run("CommitTwiceErrors", func(t *testing.T) {
		txn, _ := transactor.Begin()
		txn.Put([]byte("k3"), []byte("v3"))
		if err := txn.Commit(); err != nil {
			t.Fatalf("first Commit() error: %v", err)
		}
		if err := txn.Commit(); err != ErrTxnDone {
			t.Errorf("second Commit() = %v, want ErrTxnDone", err)
		}
	})

	t.Run("DeleteWithinTxn", func(t *testing.T) {
		db.Put([]byte("k4"), []byte("v4"))
		txn, _ := transactor.Begin()
		if err := txn.Delete([]byte("k4")); err != nil {
			t.Fatalf("Delete() error: %v", err)
		}
		if ok, _ := txn.Has([]byte("k4")); ok {
			t.Error("deleted key should be absent within the txn")
		}
		txn.Commit()
		if ok, _ := db.Has([]byte("k4")); ok {
			t.Error("delete should be visible after commit")
		}
	})

	t.Run("ForEachSeesTxnLocalWrites", func(t *testing.T) {
		txn, _ := transactor.Begin()
		defer txn.Rollback()
		txn.Put([]byte("scan/a"), []byte("1"))
		txn.Put([]byte("scan/b"), []byte("2"))

		var count int
		err := txn.ForEach([]byte("scan/"), func(key, value []byte) error {
			count++
			return nil
		})
		if err != nil {
			t.Fatalf("ForEach() error: %v", err)
		}
		if count != 2 {
			t.Errorf("ForEach() count = %d, want 2", count)
		}
	})
}

func TestMemoryDB_Transactor(t *testing.T) {
	db := NewMemory()
	defer db.Close()
	testTransactor(t, db)
}

func TestBadgerDB_Transactor(t *testing.T) {
	dir := t.TempDir()
	db, err := NewBadger(dir)
	if err != nil {
		t.Fatalf("NewBadger() error: %v", err)
	}
	defer db.Close()
	testTransactor(t, db)
}

func TestPrefixDB_Transactor(t *testing.T) {
	db := NewPrefixDB(NewMemory(), []byte("p/"))
	testTransactor(t, db)
}

func TestPrefixDB_Begin_NonTransactorInner(t *testing.T) {
	inner := &nonTransactorDB{db: NewMemory()}
	db := NewPrefixDB(inner, []byte("p/"))
	if _, err := db.Begin(); err == nil {
		t.Error("Begin() over a non-transactor inner DB should error")
	}
}

// nonTransactorDB delegates to a DB by interface, not by embedding the
// concrete backend, so it does not promote Begin and thus does not satisfy
// Transactor, used to exercise PrefixDB.Begin()'s error path.
type nonTransactorDB struct {
	db DB
}

func (n *nonTransactorDB) Get(key []byte) ([]byte, error) { return n.db.Get(key) }
func (n *nonTransactorDB) Put(key, value []byte) error    { return n.db.Put(key, value) }
func (n *nonTransactorDB) Delete(key []byte) error        { return n.db.Delete(key) }
func (n *nonTransactorDB) Has(key []byte) (bool, error)   { return n.db.Has(key) }
func (n *nonTransactorDB) Close() error                   { return n.db.Close() }
func (n *nonTransactorDB) ForEach(prefix []byte, fn func(key, value []byte) error) error {
	return n.db.ForEach(prefix, fn)
}
