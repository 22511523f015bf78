package tx

import (
	"fmt"

	"github.com/klingon-tech/chainstate/pkg/crypto"
	"github.com/klingon-tech/chainstate/pkg/types"
)

// Builder assembles a transaction incrementally: inputs, outputs, lock
// time, then a signing pass. Test fixtures and wallet tooling use it to
// produce transactions the Rules oracle will accept; the chain-state
// engine itself only ever consumes already-built transactions.
type Builder struct {
	tx *Transaction
}

// NewBuilder starts an empty version-1 transaction.
func NewBuilder() *Builder {
	return &Builder{
		tx: &Transaction{Version: 1},
	}
}

// AddInput appends an input spending prevOut.
func (b *Builder) AddInput(prevOut types.Outpoint) *Builder {
	b.tx.Inputs = append(b.tx.Inputs, Input{PrevOut: prevOut})
	return b
}

// AddOutput appends an output of value locked by scriptPubKey.
func (b *Builder) AddOutput(value uint64, scriptPubKey []byte) *Builder {
	b.tx.Outputs = append(b.tx.Outputs, Output{Value: value, ScriptPubKey: scriptPubKey})
	return b
}

// SetLockTime sets the transaction lock time.
func (b *Builder) SetLockTime(lockTime uint64) *Builder {
	b.tx.LockTime = lockTime
	return b
}

// Sign signs every input with key. Single-key spending: each input gets
// the same signature over the transaction hash.
func (b *Builder) Sign(key *crypto.PrivateKey) error {
	hash := b.tx.Hash()
	sig, err := key.Sign(hash[:])
	if err != nil {
		return fmt.Errorf("sign tx: %w", err)
	}
	pubKey := key.PublicKey()
	for i := range b.tx.Inputs {
		b.tx.Inputs[i].Signature = sig
		b.tx.Inputs[i].PubKey = pubKey
	}
	return nil
}

// Build returns the assembled transaction. It does not validate; callers
// run Validate or the Rules oracle separately.
func (b *Builder) Build() *Transaction {
	return b.tx
}
