package block

import (
	"errors"
	"testing"

	"github.com/klingon-tech/chainstate/pkg/tx"
	"github.com/klingon-tech/chainstate/pkg/types"
)

func testCoinbase() *tx.Transaction {
	return &tx.Transaction{
		Version: 1,
		Inputs:  []tx.Input{{PrevOut: types.Outpoint{}}},
		Outputs: []tx.Output{{Value: 1000, ScriptPubKey: make([]byte, 20)}},
	}
}

func validBlock(t *testing.T) *Block {
	t.Helper()

	coinbase := testCoinbase()
	txHashes := []types.Hash{coinbase.Hash()}
	merkleRoot := ComputeMerkleRoot(txHashes)

	header := &Header{
		Version:    CurrentVersion,
		PrevHash:   types.Hash{0xaa},
		MerkleRoot: merkleRoot,
		Timestamp:  1700000000,
		Bits:       0x207fffff,
	}

	return NewBlock(header, []*tx.Transaction{coinbase})
}

func TestBlock_Validate_Valid(t *testing.T) {
	blk := validBlock(t)
	if err := blk.Validate(); err != nil {
		t.Errorf("valid block should pass: %v", err)
	}
}

func TestBlock_Validate_NilHeader(t *testing.T) {
	blk := &Block{Header: nil}
	if err := blk.Validate(); !errors.Is(err, ErrNilHeader) {
		t.Errorf("expected ErrNilHeader, got: %v", err)
	}
}

func TestBlock_Validate_ZeroTimestamp(t *testing.T) {
	blk := validBlock(t)
	blk.Header.Timestamp = 0
	if err := blk.Validate(); !errors.Is(err, ErrZeroTimestamp) {
		t.Errorf("expected ErrZeroTimestamp, got: %v", err)
	}
}

func TestBlock_Validate_NoTransactions(t *testing.T) {
	blk := validBlock(t)
	blk.Transactions = nil
	if err := blk.Validate(); !errors.Is(err, ErrNoTransactions) {
		t.Errorf("expected ErrNoTransactions, got: %v", err)
	}
}

func TestBlock_Validate_MissingCoinbase(t *testing.T) {
	blk := validBlock(t)
	blk.Transactions[0].Inputs[0].PrevOut.TxID = types.Hash{0x01}
	// Recompute merkle root to isolate the coinbase check.
	blk.Header.MerkleRoot = ComputeMerkleRoot([]types.Hash{blk.Transactions[0].Hash()})
	if err := blk.Validate(); !errors.Is(err, ErrNoCoinbase) {
		t.Errorf("expected ErrNoCoinbase, got: %v", err)
	}
}

func TestBlock_Validate_BadMerkleRoot(t *testing.T) {
	blk := validBlock(t)
	blk.Header.MerkleRoot = types.Hash{0xff}
	if err := blk.Validate(); !errors.Is(err, ErrBadMerkleRoot) {
		t.Errorf("expected ErrBadMerkleRoot, got: %v", err)
	}
}

func TestBlock_Validate_MultipleCoinbase(t *testing.T) {
	blk := validBlock(t)
	second := testCoinbase()
	blk.Transactions = append(blk.Transactions, second)
	blk.Header.MerkleRoot = ComputeMerkleRoot([]types.Hash{
		blk.Transactions[0].Hash(), second.Hash(),
	})
	if err := blk.Validate(); !errors.Is(err, ErrMultipleCoinbase) {
		t.Errorf("expected ErrMultipleCoinbase, got: %v", err)
	}
}

func TestBlock_Hash_NilHeader(t *testing.T) {
	blk := &Block{}
	if !blk.Hash().IsZero() {
		t.Errorf("nil-header block should hash to zero")
	}
}
