package utxo

import (
	"testing"

	"github.com/klingon-tech/chainstate/internal/storage"
	"github.com/klingon-tech/chainstate/pkg/tx"
	"github.com/klingon-tech/chainstate/pkg/types"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(storage.NewMemory())
}

func hashFor(b byte) types.Hash {
	var h types.Hash
	h[0] = b
	return h
}

func TestCursor_MintThenCommitIsVisible(t *testing.T) {
	s := testStore(t)

	c, err := s.Begin()
	if err != nil {
		t.Fatalf("Begin() error: %v", err)
	}

	txHash := hashFor(1)
	u := &UnspentTx{TxHash: txHash, BlockHeight: 1, OutputStates: NewBitset(2)}
	ok, err := c.TryAddUnspentTx(u)
	if err != nil || !ok {
		t.Fatalf("TryAddUnspentTx() = %v, %v", ok, err)
	}

	op := types.Outpoint{TxID: txHash, Index: 0}
	ok, err = c.TryAddUnspentOutput(op, &tx.Output{Value: 1000})
	if err != nil || !ok {
		t.Fatalf("TryAddUnspentOutput() = %v, %v", ok, err)
	}

	if err := c.Commit(); err != nil {
		t.Fatalf("Commit() error: %v", err)
	}

	got, ok, err := s.GetUnspentTx(txHash)
	if err != nil || !ok {
		t.Fatalf("GetUnspentTx() after commit = %v, %v, %v", got, ok, err)
	}

	out, ok, err := s.GetUnspentOutput(op)
	if err != nil || !ok || out.Value != 1000 {
		t.Fatalf("GetUnspentOutput() after commit = %v, %v, %v", out, ok, err)
	}
}

func TestCursor_RollbackDiscardsMutations(t *testing.T) {
	s := testStore(t)

	c, err := s.Begin()
	if err != nil {
		t.Fatalf("Begin() error: %v", err)
	}

	txHash := hashFor(2)
	c.TryAddUnspentTx(&UnspentTx{TxHash: txHash, OutputStates: NewBitset(1)})

	if err := c.Rollback(); err != nil {
		t.Fatalf("Rollback() error: %v", err)
	}

	_, ok, err := s.GetUnspentTx(txHash)
	if err != nil {
		t.Fatalf("GetUnspentTx() error: %v", err)
	}
	if ok {
		t.Error("rolled-back mint should not be visible")
	}
}

func TestCursor_DuplicateMintRejected(t *testing.T) {
	s := testStore(t)
	c, _ := s.Begin()
	defer c.Rollback()

	txHash := hashFor(3)
	u := &UnspentTx{TxHash: txHash, OutputStates: NewBitset(1)}

	ok, err := c.TryAddUnspentTx(u)
	if err != nil || !ok {
		t.Fatalf("first TryAddUnspentTx() = %v, %v", ok, err)
	}

	ok, err = c.TryAddUnspentTx(u)
	if err != nil {
		t.Fatalf("second TryAddUnspentTx() error: %v", err)
	}
	if ok {
		t.Error("duplicate mint should be rejected")
	}
}

func TestCursor_SpendAndFullSpendRemovesRecord(t *testing.T) {
	s := testStore(t)
	c, _ := s.Begin()

	txHash := hashFor(4)
	u := &UnspentTx{TxHash: txHash, OutputStates: NewBitset(2)}
	c.TryAddUnspentTx(u)
	c.TryAddUnspentOutput(types.Outpoint{TxID: txHash, Index: 0}, &tx.Output{Value: 10})
	c.TryAddUnspentOutput(types.Outpoint{TxID: txHash, Index: 1}, &tx.Output{Value: 5})

	// Spend output 0.
	got, _ := c.TryGetUnspentTx(txHash)
	got.OutputStates.Set(0, true)
	ok, err := c.TryUpdateUnspentTx(got)
	if err != nil || !ok {
		t.Fatalf("TryUpdateUnspentTx() = %v, %v", ok, err)
	}
	if got.OutputStates.AllSpent() {
		t.Fatal("tx should not be fully spent yet")
	}

	// Spend output 1: now fully spent, remove the record.
	got.OutputStates.Set(1, true)
	if !got.OutputStates.AllSpent() {
		t.Fatal("tx should now be fully spent")
	}
	ok, err = c.TryRemoveUnspentTx(txHash)
	if err != nil || !ok {
		t.Fatalf("TryRemoveUnspentTx() = %v, %v", ok, err)
	}

	if err := c.Commit(); err != nil {
		t.Fatalf("Commit() error: %v", err)
	}

	_, ok, err = s.GetUnspentTx(txHash)
	if err != nil {
		t.Fatalf("GetUnspentTx() error: %v", err)
	}
	if ok {
		t.Error("fully spent tx should no longer be present")
	}
}

func TestCursor_Counters(t *testing.T) {
	s := testStore(t)
	c, _ := s.Begin()

	if v, err := c.UnspentOutputCount(); err != nil || v != 0 {
		t.Fatalf("UnspentOutputCount() = %d, %v, want 0", v, err)
	}

	if err := c.SetUnspentOutputCount(2); err != nil {
		t.Fatalf("SetUnspentOutputCount() error: %v", err)
	}
	if err := c.SetUnspentTxCount(1); err != nil {
		t.Fatalf("SetUnspentTxCount() error: %v", err)
	}

	if err := c.Commit(); err != nil {
		t.Fatalf("Commit() error: %v", err)
	}

	c2, _ := s.Begin()
	defer c2.Rollback()
	if v, err := c2.UnspentOutputCount(); err != nil || v != 2 {
		t.Fatalf("UnspentOutputCount() after commit = %d, %v, want 2", v, err)
	}
	if v, err := c2.UnspentTxCount(); err != nil || v != 1 {
		t.Fatalf("UnspentTxCount() after commit = %d, %v, want 1", v, err)
	}
}

func TestCursor_BlockSpentTxsRoundTrip(t *testing.T) {
	s := testStore(t)
	c, _ := s.Begin()

	list := []SpentTx{{TxHash: hashFor(5), BlockHeight: 10, OutputCount: 2}}
	if err := c.TryAddBlockSpentTxs(10, list); err != nil {
		t.Fatalf("TryAddBlockSpentTxs() error: %v", err)
	}

	got, err := c.TryGetBlockSpentTxs(10)
	if err != nil || len(got) != 1 || got[0].TxHash != list[0].TxHash {
		t.Fatalf("TryGetBlockSpentTxs() = %v, %v", got, err)
	}

	if err := c.TryRemoveBlockSpentTxs(10); err != nil {
		t.Fatalf("TryRemoveBlockSpentTxs() error: %v", err)
	}
	got, err = c.TryGetBlockSpentTxs(10)
	if err != nil || len(got) != 0 {
		t.Fatalf("TryGetBlockSpentTxs() after remove = %v, %v, want empty", got, err)
	}
	c.Commit()
}

func TestCursor_BlockUnmintedTxsRoundTrip(t *testing.T) {
	s := testStore(t)
	c, _ := s.Begin()

	list := []UnmintedTx{{TxHash: hashFor(6)}}
	if err := c.TryAddBlockUnmintedTxs(20, list); err != nil {
		t.Fatalf("TryAddBlockUnmintedTxs() error: %v", err)
	}

	got, err := c.TryGetBlockUnmintedTxs(20)
	if err != nil || len(got) != 1 {
		t.Fatalf("TryGetBlockUnmintedTxs() = %v, %v", got, err)
	}
	c.Commit()
}

func TestStore_BeginRequiresTransactor(t *testing.T) {
	// PrefixDB over a MemoryDB implements Transactor transitively.
	prefixed := storage.NewPrefixDB(storage.NewMemory(), []byte("x/"))
	s := NewStore(prefixed)
	if _, err := s.Begin(); err != nil {
		t.Fatalf("Begin() over PrefixDB error: %v", err)
	}
}

func TestCursor_FinalizerDiscardsUnterminated(t *testing.T) {
	s := testStore(t)
	c, _ := s.Begin()
	c.TryAddUnspentTx(&UnspentTx{TxHash: hashFor(9), OutputStates: NewBitset(1)})

	// Stand-in for the collector reaching a cursor nobody terminated.
	finalizeCursor(c)

	if err := c.Commit(); err == nil {
		t.Fatal("Commit() after finalizer rollback should fail")
	}
	if _, ok, err := s.GetUnspentTx(hashFor(9)); err != nil || ok {
		t.Errorf("GetUnspentTx() = %v, %v; writes of a finalized cursor should not be visible", ok, err)
	}

	// On a properly terminated cursor the finalizer is a no-op.
	c2, _ := s.Begin()
	if err := c2.Commit(); err != nil {
		t.Fatalf("Commit() error: %v", err)
	}
	finalizeCursor(c2)
}
