// Package tx defines transaction types and validation.
package tx

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"

	"github.com/klingon-tech/chainstate/pkg/chainhash"
	"github.com/klingon-tech/chainstate/pkg/types"
)

// Transaction represents a blockchain transaction.
type Transaction struct {
	Version  uint32   `json:"version"`
	Inputs   []Input  `json:"inputs"`
	Outputs  []Output `json:"outputs"`
	LockTime uint64   `json:"locktime"`
}

// Input references a UTXO being spent.
type Input struct {
	PrevOut   types.Outpoint `json:"prevout"`
	Signature []byte         `json:"signature"`
	PubKey    []byte         `json:"pubkey"`
}

// inputJSON is the JSON representation of Input with hex-encoded byte fields.
type inputJSON struct {
	PrevOut   types.Outpoint `json:"prevout"`
	Signature *string        `json:"signature"`
	PubKey    *string        `json:"pubkey"`
}

// MarshalJSON encodes the input with hex-encoded signature and pubkey.
func (in Input) MarshalJSON() ([]byte, error) {
	j := inputJSON{PrevOut: in.PrevOut}
	if in.Signature != nil {
		s := hex.EncodeToString(in.Signature)
		j.Signature = &s
	}
	if in.PubKey != nil {
		p := hex.EncodeToString(in.PubKey)
		j.PubKey = &p
	}
	return json.Marshal(j)
}

// UnmarshalJSON decodes an input with hex-encoded signature and pubkey.
func (in *Input) UnmarshalJSON(data []byte) error {
	var j inputJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	in.PrevOut = j.PrevOut
	if j.Signature != nil {
		b, err := hex.DecodeString(*j.Signature)
		if err != nil {
			return err
		}
		in.Signature = b
	}
	if j.PubKey != nil {
		b, err := hex.DecodeString(*j.PubKey)
		if err != nil {
			return err
		}
		in.PubKey = b
	}
	return nil
}

// Output defines a new UTXO. ScriptPubKey is opaque to this package; the
// Rules oracle owns script/signature semantics; the chain-state engine only
// ever moves these bytes around.
type Output struct {
	Value        uint64 `json:"value"`
	ScriptPubKey []byte `json:"script_pubkey"`
}

// outputJSON hex-encodes ScriptPubKey.
type outputJSON struct {
	Value        uint64 `json:"value"`
	ScriptPubKey string `json:"script_pubkey"`
}

// MarshalJSON hex-encodes the script.
func (o Output) MarshalJSON() ([]byte, error) {
	return json.Marshal(outputJSON{
		Value:        o.Value,
		ScriptPubKey: hex.EncodeToString(o.ScriptPubKey),
	})
}

// UnmarshalJSON decodes a hex-encoded script.
func (o *Output) UnmarshalJSON(data []byte) error {
	var j outputJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	b, err := hex.DecodeString(j.ScriptPubKey)
	if err != nil {
		return err
	}
	o.Value = j.Value
	o.ScriptPubKey = b
	return nil
}

// Hash computes the transaction ID: double-SHA256 of the canonical signing bytes.
func (t *Transaction) Hash() types.Hash {
	return chainhash.Sum(t.SigningBytes())
}

// IsCoinbase reports whether this is a coinbase transaction: exactly one
// input with a zero (null) outpoint.
func (t *Transaction) IsCoinbase() bool {
	return len(t.Inputs) == 1 && t.Inputs[0].PrevOut.IsZero()
}

// SigningBytes returns the canonical byte representation used for hashing
// and signing.
// Format: version(4) | input_count(4) | [prevout(36) + coinbase_data]... | output_count(4) | [value(8) + script_len(4) + script]... | locktime(8)
func (t *Transaction) SigningBytes() []byte {
	var buf []byte

	buf = binary.LittleEndian.AppendUint32(buf, t.Version)

	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(t.Inputs)))
	for _, in := range t.Inputs {
		buf = append(buf, in.PrevOut.TxID[:]...)
		buf = binary.LittleEndian.AppendUint32(buf, in.PrevOut.Index)
		// Coinbase inputs carry free-form data (height, extra nonce) in the
		// signature field; include it so every coinbase tx hash is unique.
		if in.PrevOut.IsZero() && len(in.Signature) > 0 {
			buf = binary.LittleEndian.AppendUint32(buf, uint32(len(in.Signature)))
			buf = append(buf, in.Signature...)
		}
	}

	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(t.Outputs)))
	for _, out := range t.Outputs {
		buf = binary.LittleEndian.AppendUint64(buf, out.Value)
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(out.ScriptPubKey)))
		buf = append(buf, out.ScriptPubKey...)
	}

	buf = binary.LittleEndian.AppendUint64(buf, t.LockTime)

	return buf
}

// TotalOutputValue returns the sum of all output values.
// Returns an error if the sum overflows uint64.
func (t *Transaction) TotalOutputValue() (uint64, error) {
	var total uint64
	for _, out := range t.Outputs {
		if total > math.MaxUint64-out.Value {
			return 0, fmt.Errorf("output value overflow")
		}
		total += out.Value
	}
	return total, nil
}
