// Package walletmonitor defines the WalletMonitor collaborator contract: a
// Scanner that watches every transaction a ReplayPipeline replays and
// records balance-affecting events for addresses it owns. Only the
// interface is specified; HDScanner is one reference implementation,
// illustrating how a consumer adapts it to a real keystore.
package walletmonitor

import (
	"context"
	"fmt"
	"sync"

	"github.com/klingon-tech/chainstate/internal/chainwalker"
	"github.com/klingon-tech/chainstate/internal/log"
	"github.com/klingon-tech/chainstate/internal/pipeline"
	"github.com/klingon-tech/chainstate/internal/wallet"
	"github.com/klingon-tech/chainstate/pkg/types"
)

// Event records a balance-affecting change to an address owned by the
// monitor: a new output paying it (Received > 0) or a prior output it
// owned being consumed (Spent > 0), in either replay direction.
type Event struct {
	Address   types.Address
	TxHash    types.Hash
	Height    uint64
	Direction chainwalker.Direction
	Received  uint64
	Spent     uint64
}

// Scanner is the WalletMonitor consumer contract: a pipeline.Sink that
// also exposes the balance state it has accumulated.
type Scanner interface {
	pipeline.Sink
	Balance(addr types.Address) wallet.Balance
}

// HDScanner watches a fixed set of addresses derived from an HD keystore
// and tracks their confirmed balances as the pipeline replays blocks
// forward and backward across reorgs.
type HDScanner struct {
	mu        sync.Mutex
	addresses map[types.Address]struct{}
	balances  map[types.Address]wallet.Balance
	events    []Event
}

// NewHDScanner builds a scanner watching the given addresses.
func NewHDScanner(addresses ...types.Address) *HDScanner {
	set := make(map[types.Address]struct{}, len(addresses))
	for _, a := range addresses {
		set[a] = struct{}{}
	}
	return &HDScanner{
		addresses: set,
		balances:  make(map[types.Address]wallet.Balance),
	}
}

// NewHDScannerFromKeystore builds a scanner watching every address derived
// from name's accounts in ks, decrypting the wallet with password to
// re-derive them from its HD master key rather than trusting the
// keystore's stored bech32 addresses alone.
func NewHDScannerFromKeystore(ks *wallet.Keystore, name string, password []byte) (*HDScanner, error) {
	addrs, err := wallet.WatchAddresses(ks, name, password)
	if err != nil {
		return nil, fmt.Errorf("walletmonitor: derive watch addresses for %q: %w", name, err)
	}
	return NewHDScanner(addrs...), nil
}

// Watch adds addr to the set of addresses this scanner tracks.
func (s *HDScanner) Watch(addr types.Address) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addresses[addr] = struct{}{}
}

// Process implements pipeline.Sink. A Connect step credits outputs paying
// a watched address and debits its previously-owned inputs being spent; a
// Disconnect step reverses both.
func (s *HDScanner) Process(ctx context.Context, item pipeline.ValidatableTx) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sign := int64(1)
	if item.Direction < 0 {
		sign = -1
	}

	for i, out := range item.Tx.Tx.Outputs {
		addr, ok := addressFromScript(out.ScriptPubKey)
		if !ok {
			continue
		}
		if _, watched := s.addresses[addr]; !watched {
			continue
		}
		s.credit(addr, out.Value, sign)
		s.events = append(s.events, Event{
			Address:   addr,
			TxHash:    item.Tx.Tx.Hash(),
			Height:    item.Height,
			Direction: item.Direction,
			Received:  out.Value,
		})
		log.WalletMonitor.Debug().Str("address", addr.String()).Int("output_index", i).Uint64("value", out.Value).Msg("watched output observed")
	}

	for _, prev := range item.Tx.PrevOutputs {
		addr, ok := addressFromScript(prev.ScriptPubKey)
		if !ok {
			continue
		}
		if _, watched := s.addresses[addr]; !watched {
			continue
		}
		s.credit(addr, prev.Value, -sign)
		s.events = append(s.events, Event{
			Address:   addr,
			TxHash:    item.Tx.Tx.Hash(),
			Height:    item.Height,
			Direction: item.Direction,
			Spent:     prev.Value,
		})
	}

	return nil
}

func (s *HDScanner) credit(addr types.Address, value uint64, sign int64) {
	b := s.balances[addr]
	if sign > 0 {
		b.Confirmed += value
	} else if b.Confirmed >= value {
		b.Confirmed -= value
	}
	s.balances[addr] = b
}

// Balance implements Scanner.
func (s *HDScanner) Balance(addr types.Address) wallet.Balance {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances[addr]
}

// Events returns every balance-affecting event observed so far, in the
// order Process saw them.
func (s *HDScanner) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// addressFromScript reads a pay-to-address script, which this reference
// scanner treats as exactly the 20-byte address with no further encoding.
func addressFromScript(script []byte) (types.Address, bool) {
	if len(script) != types.AddressSize {
		return types.Address{}, false
	}
	var addr types.Address
	copy(addr[:], script)
	return addr, true
}
