// Package chainwalker computes the reorganization path between two tips of
// a headergraph.HeaderGraph: the ordered sequence of disconnect/connect
// steps that transforms one chain into the other via their lowest common
// ancestor.
package chainwalker

import (
	"errors"
	"fmt"

	"github.com/klingon-tech/chainstate/internal/headergraph"
)

// Direction indicates whether a step disconnects a block from the current
// chain or connects one from the target chain.
type Direction int

const (
	// Disconnect removes a block from the current chain, walking toward the
	// common ancestor.
	Disconnect Direction = -1
	// Connect adds a block from the target chain, walking away from the
	// common ancestor.
	Connect Direction = 1
)

// Step is one instruction in the reorg path: disconnect or connect header.
type Step struct {
	Direction Direction
	Header    *headergraph.ChainedHeader
}

// ErrNoCommonAncestor is returned only when the two chains share no root,
// a programmer error for anything but independent forks of one genesis.
var ErrNoCommonAncestor = errors.New("chainwalker: no common ancestor")

// Navigate finds the lowest common ancestor of current and target by
// walking whichever is higher down to the other's height, then walking
// both down together, and yields disconnects from current down to the
// ancestor (exclusive) followed by connects from the ancestor (exclusive)
// up to target. The ancestor itself is never yielded.
func Navigate(graph *headergraph.HeaderGraph, current, target *headergraph.ChainedHeader) ([]Step, error) {
	if current == nil || target == nil {
		return nil, fmt.Errorf("chainwalker: navigate requires non-nil current and target")
	}

	var disconnects []*headergraph.ChainedHeader
	var connects []*headergraph.ChainedHeader

	a, b := current, target

	for a.Height > b.Height {
		disconnects = append(disconnects, a)
		parent, ok := graph.Get(a.Header.PrevHash)
		if !ok {
			return nil, ErrNoCommonAncestor
		}
		a = parent
	}
	for b.Height > a.Height {
		connects = append(connects, b)
		parent, ok := graph.Get(b.Header.PrevHash)
		if !ok {
			return nil, ErrNoCommonAncestor
		}
		b = parent
	}

	for a.Hash() != b.Hash() {
		disconnects = append(disconnects, a)
		connects = append(connects, b)

		aParent, aok := graph.Get(a.Header.PrevHash)
		bParent, bok := graph.Get(b.Header.PrevHash)
		if !aok || !bok {
			return nil, ErrNoCommonAncestor
		}
		a, b = aParent, bParent
	}

	steps := make([]Step, 0, len(disconnects)+len(connects))
	for _, h := range disconnects {
		steps = append(steps, Step{Direction: Disconnect, Header: h})
	}
	for i := len(connects) - 1; i >= 0; i-- {
		steps = append(steps, Step{Direction: Connect, Header: connects[i]})
	}
	return steps, nil
}
