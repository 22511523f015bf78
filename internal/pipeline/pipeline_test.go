package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/klingon-tech/chainstate/internal/chainwalker"
	"github.com/klingon-tech/chainstate/internal/headergraph"
	"github.com/klingon-tech/chainstate/internal/replay"
	"github.com/klingon-tech/chainstate/internal/rules"
	"github.com/klingon-tech/chainstate/internal/storage"
	"github.com/klingon-tech/chainstate/internal/utxo"
	"github.com/klingon-tech/chainstate/pkg/block"
	"github.com/klingon-tech/chainstate/pkg/crypto"
	"github.com/klingon-tech/chainstate/pkg/tx"
	"github.com/klingon-tech/chainstate/pkg/types"
)

func testHeader(prev types.Hash, nonce uint64) *block.Header {
	return &block.Header{
		Version:    1,
		PrevHash:   prev,
		MerkleRoot: types.Hash{0x01},
		Timestamp:  1700000000 + nonce,
		Bits:       0x207fffff,
		Nonce:      nonce,
	}
}

func coinbaseTx(value uint64) *tx.Transaction {
	return &tx.Transaction{
		Version: 1,
		Inputs:  []tx.Input{{PrevOut: types.Outpoint{}}},
		Outputs: []tx.Output{{Value: value}},
	}
}

type recordingSink struct {
	mu      sync.Mutex
	heights []uint64
	failAt  int64 // fail on items at this height; -1 never fails
}

func (s *recordingSink) Process(ctx context.Context, item ValidatableTx) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAt >= 0 && item.Height == uint64(s.failAt) {
		return errors.New("recordingSink: forced failure")
	}
	s.heights = append(s.heights, item.Height)
	return nil
}

func newFixture(t *testing.T) (*Pipeline, *headergraph.HeaderGraph, *headergraph.ChainedHeader) {
	t.Helper()
	g := headergraph.New()
	gen, err := g.AddGenesis(testHeader(types.Hash{}, 0))
	if err != nil {
		t.Fatalf("AddGenesis() error: %v", err)
	}
	child, err := g.TryChain(testHeader(gen.Hash(), 1))
	if err != nil {
		t.Fatalf("TryChain() error: %v", err)
	}

	utxoStore := utxo.NewStore(storage.NewMemory())
	blocks := replay.NewBlockTxesStore(storage.NewMemory())
	undo := replay.NewUndoStore(storage.NewMemory())
	replayer := replay.NewReplayer(blocks, undo, utxoStore)

	if _, err := blocks.TryAddBlockTransactions(gen.Hash(), []*tx.Transaction{coinbaseTx(10)}); err != nil {
		t.Fatalf("TryAddBlockTransactions(gen) error: %v", err)
	}
	if _, err := blocks.TryAddBlockTransactions(child.Hash(), []*tx.Transaction{coinbaseTx(20)}); err != nil {
		t.Fatalf("TryAddBlockTransactions(child) error: %v", err)
	}

	return New(replayer, undo, blocks, utxoStore), g, child
}

func TestPipeline_RunConnectsInOrder(t *testing.T) {
	p, g, child := newFixture(t)
	gen, _ := g.Get(child.Header.PrevHash)
	sink := &recordingSink{failAt: -1}
	p.sinks = []Sink{sink}

	steps := []chainwalker.Step{
		{Direction: chainwalker.Connect, Header: gen},
		{Direction: chainwalker.Connect, Header: child},
	}

	n, err := p.Run(context.Background(), steps)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if n != 2 {
		t.Fatalf("Run() processed = %d, want 2", n)
	}
	if len(sink.heights) != 2 || sink.heights[0] != uint64(gen.Height) || sink.heights[1] != uint64(child.Height) {
		t.Fatalf("sink saw heights %v, want [%d %d]", sink.heights, gen.Height, child.Height)
	}
}

func TestPipeline_SinkFailureRollsBackCursor(t *testing.T) {
	p, g, child := newFixture(t)
	gen, _ := g.Get(child.Header.PrevHash)
	sink := &recordingSink{failAt: 1}
	p.sinks = []Sink{sink}

	// height 0's coinbase never mints (genesis is excluded), so drive the
	// failure through child at height 1, whose coinbase does.
	steps := []chainwalker.Step{
		{Direction: chainwalker.Connect, Header: gen},
		{Direction: chainwalker.Connect, Header: child},
	}

	n, err := p.Run(context.Background(), steps)
	if err == nil {
		t.Fatal("Run() with failing sink should return an error")
	}
	if n != 1 {
		t.Fatalf("Run() processed = %d, want 1 (genesis succeeds, child aborts)", n)
	}

	if _, ok, err := p.store.GetUnspentTx(coinbaseTx(20).Hash()); err != nil || ok {
		t.Fatalf("GetUnspentTx() after rollback = ok=%v err=%v, want not found", ok, err)
	}
}

func TestPipeline_ConnectThenDisconnectRestoresUtxo(t *testing.T) {
	p, g, child := newFixture(t)
	gen, _ := g.Get(child.Header.PrevHash)

	steps := []chainwalker.Step{
		{Direction: chainwalker.Connect, Header: gen},
		{Direction: chainwalker.Connect, Header: child},
	}
	if _, err := p.Run(context.Background(), steps); err != nil {
		t.Fatalf("Run(connect) error: %v", err)
	}

	childCoinbaseHash := coinbaseTx(20).Hash()
	if _, ok, err := p.store.GetUnspentTx(childCoinbaseHash); err != nil || !ok {
		t.Fatalf("GetUnspentTx() after connect = ok=%v err=%v, want found", ok, err)
	}

	reverse := []chainwalker.Step{{Direction: chainwalker.Disconnect, Header: child}}
	if _, err := p.Run(context.Background(), reverse); err != nil {
		t.Fatalf("Run(disconnect) error: %v", err)
	}
	if _, ok, err := p.store.GetUnspentTx(childCoinbaseHash); err != nil || ok {
		t.Fatalf("GetUnspentTx() after disconnect = ok=%v err=%v, want not found", ok, err)
	}
}

// TestPipeline_ReorgMatchesFreshApply: reorging from tip Y of [G,X,Y] onto
// tip W of [G,X,Z,W] must leave the UTXO set and counters identical to a
// store that only ever applied [G,X,Z,W].
func TestPipeline_ReorgMatchesFreshApply(t *testing.T) {
	g := headergraph.New()
	gen, err := g.AddGenesis(testHeader(types.Hash{}, 0))
	if err != nil {
		t.Fatalf("AddGenesis() error: %v", err)
	}
	x, _ := g.TryChain(testHeader(gen.Hash(), 1))
	y, _ := g.TryChain(testHeader(x.Hash(), 2))
	z, _ := g.TryChain(testHeader(x.Hash(), 3))
	w, _ := g.TryChain(testHeader(z.Hash(), 4))

	blocks := replay.NewBlockTxesStore(storage.NewMemory())
	blockTxs := map[types.Hash][]*tx.Transaction{
		gen.Hash(): {coinbaseTx(5)},
		x.Hash():   {coinbaseTx(10)},
		y.Hash():   {coinbaseTx(20)},
		z.Hash():   {coinbaseTx(30)},
		w.Hash():   {coinbaseTx(40)},
	}
	for hash, txs := range blockTxs {
		if _, err := blocks.TryAddBlockTransactions(hash, txs); err != nil {
			t.Fatalf("TryAddBlockTransactions(%s) error: %v", hash, err)
		}
	}

	newPipeline := func() (*Pipeline, *utxo.Store) {
		store := utxo.NewStore(storage.NewMemory())
		undo := replay.NewUndoStore(storage.NewMemory())
		return New(replay.NewReplayer(blocks, undo, store), undo, blocks, store), store
	}

	run := func(p *Pipeline, current, target *headergraph.ChainedHeader) {
		t.Helper()
		steps, err := chainwalker.Navigate(g, current, target)
		if err != nil {
			t.Fatalf("Navigate() error: %v", err)
		}
		if _, err := p.Run(context.Background(), steps); err != nil {
			t.Fatalf("Run() error: %v", err)
		}
	}

	// Reorged store: out to Y, then across the fork to W.
	reorged, reorgedStore := newPipeline()
	run(reorged, gen, y)
	run(reorged, y, w)

	// Fresh store: straight to W, never seeing Y.
	fresh, freshStore := newPipeline()
	run(fresh, gen, w)

	gotC, err := reorgedStore.Commitment()
	if err != nil {
		t.Fatalf("Commitment() (reorged) error: %v", err)
	}
	wantC, err := freshStore.Commitment()
	if err != nil {
		t.Fatalf("Commitment() (fresh) error: %v", err)
	}
	if gotC != wantC {
		t.Errorf("reorged UTXO commitment = %s, fresh apply = %s; states diverge", gotC, wantC)
	}

	counters := func(s *utxo.Store) [5]uint64 {
		t.Helper()
		c, err := s.Begin()
		if err != nil {
			t.Fatalf("Begin() error: %v", err)
		}
		defer c.Rollback()
		uo, _ := c.UnspentOutputCount()
		ut, _ := c.UnspentTxCount()
		total, _ := c.TotalTxCount()
		ti, _ := c.TotalInputCount()
		to, _ := c.TotalOutputCount()
		return [5]uint64{uo, ut, total, ti, to}
	}
	if got, want := counters(reorgedStore), counters(freshStore); got != want {
		t.Errorf("reorged counters = %v, fresh apply = %v", got, want)
	}
}

// TestPipeline_ValidationFailureMarksHeaderInvalid: a block spending an
// outpoint that does not exist is a consensus failure, so the pipeline must
// report its header to the graph and the graph must exclude that fork from
// tip selection.
func TestPipeline_ValidationFailureMarksHeaderInvalid(t *testing.T) {
	g := headergraph.New()
	gen, err := g.AddGenesis(testHeader(types.Hash{}, 0))
	if err != nil {
		t.Fatalf("AddGenesis() error: %v", err)
	}
	bad, err := g.TryChain(testHeader(gen.Hash(), 1))
	if err != nil {
		t.Fatalf("TryChain() error: %v", err)
	}

	blocks := replay.NewBlockTxesStore(storage.NewMemory())
	badBlock := []*tx.Transaction{
		coinbaseTx(20),
		{
			Version: 1,
			Inputs:  []tx.Input{{PrevOut: types.Outpoint{TxID: types.Hash{0xee}, Index: 0}}},
			Outputs: []tx.Output{{Value: 1}},
		},
	}
	if _, err := blocks.TryAddBlockTransactions(gen.Hash(), []*tx.Transaction{coinbaseTx(10)}); err != nil {
		t.Fatalf("TryAddBlockTransactions(gen) error: %v", err)
	}
	if _, err := blocks.TryAddBlockTransactions(bad.Hash(), badBlock); err != nil {
		t.Fatalf("TryAddBlockTransactions(bad) error: %v", err)
	}

	store := utxo.NewStore(storage.NewMemory())
	undo := replay.NewUndoStore(storage.NewMemory())
	p := New(replay.NewReplayer(blocks, undo, store), undo, blocks, store).WithHeaderGraph(g)

	steps := []chainwalker.Step{
		{Direction: chainwalker.Connect, Header: gen},
		{Direction: chainwalker.Connect, Header: bad},
	}
	n, err := p.Run(context.Background(), steps)
	if err == nil {
		t.Fatal("Run() with an invalid spend should fail")
	}
	if n != 1 {
		t.Fatalf("Run() processed = %d, want 1", n)
	}

	if !g.IsInvalid(bad.Hash()) {
		t.Error("failing header should be marked invalid")
	}
	tip, ok := g.MaxTotalWorkTip()
	if !ok || tip.Hash() != gen.Hash() {
		t.Errorf("tip after invalidation = %v, want genesis", tip)
	}
}

// minedHeader builds a header committing to txs and grinds its nonce until
// the proof of work satisfies its own declared target.
func minedHeader(t *testing.T, oracle rules.Rules, prev types.Hash, nonce uint64, txs []*tx.Transaction) *block.Header {
	t.Helper()
	hashes := make([]types.Hash, len(txs))
	for i, txn := range txs {
		hashes[i] = txn.Hash()
	}
	h := &block.Header{
		Version:    1,
		PrevHash:   prev,
		MerkleRoot: block.ComputeMerkleRoot(hashes),
		Timestamp:  1700000000 + nonce,
		Bits:       0x207fffff,
		Nonce:      nonce,
	}
	for !oracle.CheckProofOfWork(h) {
		h.Nonce++
	}
	return h
}

// TestPipeline_ValidatorSinkEnforcesRules runs the Rules-backed validator
// alongside an ordinary sink: a chain whose spends satisfy their locking
// scripts replays cleanly, while a block spending a pay-to-pubkey output
// with the wrong key is rejected and its header marked invalid.
func TestPipeline_ValidatorSinkEnforcesRules(t *testing.T) {
	oracle := rules.NewBitcoinRules(crypto.SchnorrVerifier{})
	owner, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error: %v", err)
	}

	g := headergraph.New()
	blocks := replay.NewBlockTxesStore(storage.NewMemory())

	genTxs := []*tx.Transaction{coinbaseTx(10)}
	gen, err := g.AddGenesis(minedHeader(t, oracle, types.Hash{}, 0, genTxs))
	if err != nil {
		t.Fatalf("AddGenesis() error: %v", err)
	}

	// Height 1 mints a coinbase locked to owner's public key.
	cb1 := &tx.Transaction{
		Version: 1,
		Inputs:  []tx.Input{{PrevOut: types.Outpoint{}, Signature: []byte{0x01}}},
		Outputs: []tx.Output{{Value: 50, ScriptPubKey: owner.PublicKey()}},
	}
	b1Txs := []*tx.Transaction{cb1}
	b1, err := g.TryChain(minedHeader(t, oracle, gen.Hash(), 1, b1Txs))
	if err != nil {
		t.Fatalf("TryChain(b1) error: %v", err)
	}

	spendWith := func(key *crypto.PrivateKey) *tx.Transaction {
		t.Helper()
		b := tx.NewBuilder().
			AddInput(types.Outpoint{TxID: cb1.Hash(), Index: 0}).
			AddOutput(50, nil)
		if err := b.Sign(key); err != nil {
			t.Fatalf("Sign() error: %v", err)
		}
		return b.Build()
	}

	b2Txs := []*tx.Transaction{coinbaseTx(20), spendWith(owner)}
	b2, err := g.TryChain(minedHeader(t, oracle, b1.Hash(), 2, b2Txs))
	if err != nil {
		t.Fatalf("TryChain(b2) error: %v", err)
	}

	thief, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error: %v", err)
	}
	badTxs := []*tx.Transaction{coinbaseTx(30), spendWith(thief)}
	bad, err := g.TryChain(minedHeader(t, oracle, b1.Hash(), 100, badTxs))
	if err != nil {
		t.Fatalf("TryChain(bad) error: %v", err)
	}

	for hash, txs := range map[types.Hash][]*tx.Transaction{
		gen.Hash(): genTxs, b1.Hash(): b1Txs, b2.Hash(): b2Txs, bad.Hash(): badTxs,
	} {
		if _, err := blocks.TryAddBlockTransactions(hash, txs); err != nil {
			t.Fatalf("TryAddBlockTransactions(%s) error: %v", hash, err)
		}
	}

	newPipeline := func(sink Sink) *Pipeline {
		store := utxo.NewStore(storage.NewMemory())
		undo := replay.NewUndoStore(storage.NewMemory())
		validator := NewValidator(oracle, g, blocks)
		return New(replay.NewReplayer(blocks, undo, store), undo, blocks, store, validator, sink).WithHeaderGraph(g)
	}

	t.Run("valid chain replays cleanly", func(t *testing.T) {
		sink := &recordingSink{failAt: -1}
		p := newPipeline(sink)
		steps := []chainwalker.Step{
			{Direction: chainwalker.Connect, Header: gen},
			{Direction: chainwalker.Connect, Header: b1},
			{Direction: chainwalker.Connect, Header: b2},
		}
		n, err := p.Run(context.Background(), steps)
		if err != nil {
			t.Fatalf("Run() error: %v", err)
		}
		if n != 3 {
			t.Fatalf("Run() processed = %d, want 3", n)
		}
		if len(sink.heights) != 4 {
			t.Errorf("peer sink saw %d transactions, want 4", len(sink.heights))
		}
	})

	t.Run("wrong-key spend is rejected", func(t *testing.T) {
		p := newPipeline(&recordingSink{failAt: -1})
		steps := []chainwalker.Step{
			{Direction: chainwalker.Connect, Header: gen},
			{Direction: chainwalker.Connect, Header: b1},
			{Direction: chainwalker.Connect, Header: bad},
		}
		n, err := p.Run(context.Background(), steps)
		if err == nil {
			t.Fatal("Run() should fail on a spend signed with the wrong key")
		}
		if n != 2 {
			t.Fatalf("Run() processed = %d, want 2", n)
		}
		if !g.IsInvalid(bad.Hash()) {
			t.Error("the rejected block's header should be marked invalid")
		}
	})
}
