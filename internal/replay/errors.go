package replay

import (
	"fmt"

	"github.com/klingon-tech/chainstate/pkg/types"
)

// MissingDataError is returned when storage lacks data a replay step
// needs: a pruned transaction, or a block with no undo record on reverse.
type MissingDataError struct {
	Hash types.Hash
}

func (e *MissingDataError) Error() string {
	return fmt.Sprintf("replay: missing data for block %s", e.Hash)
}

// NewMissingDataError builds a MissingDataError for hash.
func NewMissingDataError(hash types.Hash) *MissingDataError {
	return &MissingDataError{Hash: hash}
}
