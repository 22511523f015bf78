// Package rules defines the Rules oracle: the consensus collaborator the
// engine consults for header hashing, proof-of-work validity, and block
// structural validation. It never inspects script semantics directly;
// that stays behind the same oracle boundary as difficulty math and
// Merkle-tree hashing.
package rules

import (
	"bytes"
	"math/big"

	"github.com/klingon-tech/chainstate/pkg/block"
	"github.com/klingon-tech/chainstate/pkg/crypto"
	"github.com/klingon-tech/chainstate/pkg/tx"
	"github.com/klingon-tech/chainstate/pkg/types"
)

// Rules is the oracle the engine and its sinks consult instead of
// hard-coding consensus math or script semantics.
type Rules interface {
	// HashHeader returns the consensus hash of a header.
	HashHeader(h *block.Header) types.Hash
	// CheckProofOfWork reports whether a header's hash satisfies its own
	// declared difficulty target.
	CheckProofOfWork(h *block.Header) bool
	// Target converts bits to the difficulty target it encodes.
	Target(bits uint32) *big.Int
	// Work returns the work a header with the given bits contributes to
	// cumulative chain work.
	Work(bits uint32) *big.Int
	// ValidateStructure checks a block's internal structure (coinbase
	// placement, canonical ordering, Merkle root, intra-block double
	// spends) independent of UTXO state.
	ValidateStructure(b *block.Block) error
	// VerifyInput checks that a transaction's input at index satisfies the
	// spending conditions of the output it references.
	VerifyInput(t *tx.Transaction, index int, prevOut *tx.Output) bool
}

// BitcoinRules is the reference Rules implementation: double-SHA256
// header hashing, compact-bits difficulty, and Schnorr signature
// verification over secp256k1.
type BitcoinRules struct {
	verifier crypto.Verifier
}

// NewBitcoinRules builds the reference Rules implementation with
// verifier used for input signature checks.
func NewBitcoinRules(verifier crypto.Verifier) *BitcoinRules {
	return &BitcoinRules{verifier: verifier}
}

// HashHeader implements Rules.
func (r *BitcoinRules) HashHeader(h *block.Header) types.Hash { return h.Hash() }

// CheckProofOfWork implements Rules.
func (r *BitcoinRules) CheckProofOfWork(h *block.Header) bool {
	target := block.Target(h.Bits)
	hash := h.Hash()
	value := new(big.Int).SetBytes(hash[:])
	return value.Cmp(target) <= 0
}

// Target implements Rules.
func (r *BitcoinRules) Target(bits uint32) *big.Int { return block.Target(bits) }

// Work implements Rules.
func (r *BitcoinRules) Work(bits uint32) *big.Int { return block.Work(bits) }

// ValidateStructure implements Rules.
func (r *BitcoinRules) ValidateStructure(b *block.Block) error { return b.Validate() }

// VerifyInput implements Rules. The reference script model recognizes
// three locking shapes, standing in for the out-of-scope script engine:
// an empty script is anyone-can-spend; a 20-byte script is an address the
// input must satisfy by supplying the preimage public key alongside its
// signature (pay-to-pubkey-hash); any other script is taken as a
// compressed public key the signature must verify against directly
// (pay-to-pubkey).
func (r *BitcoinRules) VerifyInput(t *tx.Transaction, index int, prevOut *tx.Output) bool {
	if index < 0 || index >= len(t.Inputs) {
		return false
	}
	in := t.Inputs[index]
	hash := t.Hash()

	switch len(prevOut.ScriptPubKey) {
	case 0:
		return true
	case types.AddressSize:
		if len(in.PubKey) == 0 {
			return false
		}
		addr := crypto.AddressFromPubKey(in.PubKey)
		if !bytes.Equal(addr[:], prevOut.ScriptPubKey) {
			return false
		}
		return r.verifier.Verify(hash[:], in.Signature, in.PubKey)
	default:
		return r.verifier.Verify(hash[:], in.Signature, prevOut.ScriptPubKey)
	}
}
