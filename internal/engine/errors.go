package engine

import (
	"errors"
	"fmt"

	"github.com/klingon-tech/chainstate/pkg/types"
)

// ValidationError is a consensus failure: the offending header must be
// marked invalid and excluded from future tip selection.
type ValidationError struct {
	BlockHash types.Hash
	Reason    string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("engine: validation failed for block %s: %s", e.BlockHash, e.Reason)
}

// NewValidationError builds a ValidationError for blockHash.
func NewValidationError(blockHash types.Hash, reason string) *ValidationError {
	return &ValidationError{BlockHash: blockHash, Reason: reason}
}

// ErrCannotRollback is returned when a reverse replay needs an UnspentTx
// record that has already been pruned. Fatal to the walker driving the
// rollback; an operator must intervene.
var ErrCannotRollback = errors.New("engine: cannot roll back past pruned data")

// ErrCorruption signals an invariant violated inside trusted storage (a
// negative output index, a malformed bitset). Fatal; callers should halt
// and log rather than attempt to continue.
var ErrCorruption = errors.New("engine: storage invariant violated")
