package wallet

// Balance is the confirmed on-chain balance the wallet monitor tracks for
// one address. Confirmed moves only when the replay pipeline connects or
// disconnects a block; there is no unconfirmed notion here; that would
// need a mempool, which lives outside the chain-state engine.
type Balance struct {
	Confirmed uint64
}
