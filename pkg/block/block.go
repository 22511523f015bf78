// Package block defines the block and header types, their structural
// validation, merkle root computation, and the compact-bits proof-of-work
// target math the header graph accumulates chain work with.
package block

import "github.com/klingon-tech/chainstate/pkg/tx"

// Block pairs a header with its full transaction list.
type Block struct {
	Header       *Header           `json:"header"`
	Transactions []*tx.Transaction `json:"transactions"`
}

// NewBlock assembles a block from a header and its transactions.
func NewBlock(header *Header, txs []*tx.Transaction) *Block {
	return &Block{
		Header:       header,
		Transactions: txs,
	}
}
