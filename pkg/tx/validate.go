package tx

import (
	"errors"
	"fmt"
	"math"

	"github.com/klingon-tech/chainstate/config"
	"github.com/klingon-tech/chainstate/pkg/types"
)

// Structural validation errors. Signature and script semantics are a Rules
// oracle concern (internal/rules); this package only checks shape.
var (
	ErrNoInputs           = errors.New("transaction has no inputs")
	ErrNoOutputs          = errors.New("transaction has no outputs")
	ErrDuplicateInput     = errors.New("duplicate input")
	ErrOutputOverflow     = errors.New("output values overflow")
	ErrZeroValueOutput    = errors.New("output value is zero")
	ErrTooManyInputs      = errors.New("too many inputs")
	ErrTooManyOutputs     = errors.New("too many outputs")
	ErrScriptDataTooLarge = errors.New("script data too large")
)

// Validate checks transaction structure: input/output presence, duplicate
// inputs, size limits, and output value overflow. It does not check UTXO
// existence or signatures, which require the UTXO set and the Rules oracle
// respectively.
func (t *Transaction) Validate() error {
	if len(t.Inputs) == 0 {
		return ErrNoInputs
	}
	if len(t.Outputs) == 0 {
		return ErrNoOutputs
	}
	if len(t.Inputs) > config.MaxTxInputs {
		return fmt.Errorf("%w: %d inputs, max %d", ErrTooManyInputs, len(t.Inputs), config.MaxTxInputs)
	}
	if len(t.Outputs) > config.MaxTxOutputs {
		return fmt.Errorf("%w: %d outputs, max %d", ErrTooManyOutputs, len(t.Outputs), config.MaxTxOutputs)
	}

	seen := make(map[types.Outpoint]bool, len(t.Inputs))
	for i, in := range t.Inputs {
		if seen[in.PrevOut] {
			return fmt.Errorf("input %d: %w", i, ErrDuplicateInput)
		}
		seen[in.PrevOut] = true
	}

	var totalOutput uint64
	for i, out := range t.Outputs {
		if out.Value == 0 {
			return fmt.Errorf("output %d: %w", i, ErrZeroValueOutput)
		}
		if len(out.ScriptPubKey) > config.MaxScriptData {
			return fmt.Errorf("output %d: %w: %d bytes, max %d", i, ErrScriptDataTooLarge, len(out.ScriptPubKey), config.MaxScriptData)
		}
		if totalOutput > math.MaxUint64-out.Value {
			return fmt.Errorf("output %d: %w", i, ErrOutputOverflow)
		}
		totalOutput += out.Value
	}

	return nil
}
