package types

import "fmt"

// Outpoint names one output of one transaction: the key the UTXO set is
// addressed by and the reference every non-coinbase input carries.
type Outpoint struct {
	TxID  Hash   `json:"txid"`
	Index uint32 `json:"index"`
}

// IsZero reports whether both fields are zero: the null outpoint a
// coinbase input carries.
func (o Outpoint) IsZero() bool {
	return o.TxID.IsZero() && o.Index == 0
}

// String renders the outpoint as "txid:index".
func (o Outpoint) String() string {
	return fmt.Sprintf("%s:%d", o.TxID.String(), o.Index)
}
