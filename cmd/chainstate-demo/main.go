// Command chainstate-demo wires HeaderGraph, ChainWalker, ReplayPipeline,
// and PruningEngine together over in-memory storage to exercise a small
// reorg end to end: it connects a two-block chain, reorgs onto a longer
// competing fork, and logs the resulting UTXO counters. It is not part of
// the chain-state engine itself; a real node supplies its own storage,
// networking, and RPC around these same components.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/klingon-tech/chainstate/config"
	"github.com/klingon-tech/chainstate/internal/chainwalker"
	"github.com/klingon-tech/chainstate/internal/headergraph"
	"github.com/klingon-tech/chainstate/internal/log"
	"github.com/klingon-tech/chainstate/internal/pipeline"
	"github.com/klingon-tech/chainstate/internal/pool"
	"github.com/klingon-tech/chainstate/internal/pruning"
	"github.com/klingon-tech/chainstate/internal/replay"
	"github.com/klingon-tech/chainstate/internal/rules"
	"github.com/klingon-tech/chainstate/internal/storage"
	"github.com/klingon-tech/chainstate/internal/utxo"
	"github.com/klingon-tech/chainstate/internal/wallet"
	"github.com/klingon-tech/chainstate/internal/walletmonitor"
	"github.com/klingon-tech/chainstate/pkg/block"
	"github.com/klingon-tech/chainstate/pkg/crypto"
	"github.com/klingon-tech/chainstate/pkg/tx"
	"github.com/klingon-tech/chainstate/pkg/types"
)

// heightIndex is the tiny HashAtHeight adapter PruningEngine needs; a real
// node backs this with its own header storage rather than a flat map.
type heightIndex struct {
	hashes map[uint64]types.Hash
}

func (h *heightIndex) record(height uint64, hash types.Hash) { h.hashes[height] = hash }

func (h *heightIndex) HashAtHeight(height uint64) (types.Hash, bool, error) {
	hash, ok := h.hashes[height]
	return hash, ok, nil
}

func pruningMode(m config.PruningMode) pruning.Mode {
	if m == config.PruneFull {
		return pruning.Full
	}
	return pruning.PreserveUnspent
}

func coinbase(value uint64, nonce uint64) *tx.Transaction {
	return &tx.Transaction{
		Version: 1,
		Inputs:  []tx.Input{{PrevOut: types.Outpoint{}, Signature: []byte{byte(nonce)}}},
		Outputs: []tx.Output{{Value: value}},
	}
}

func merkleOf(txs []*tx.Transaction) types.Hash {
	hashes := make([]types.Hash, len(txs))
	for i, t := range txs {
		hashes[i] = t.Hash()
	}
	return block.ComputeMerkleRoot(hashes)
}

// minedHeader commits to txs and grinds the nonce until the header meets
// its own declared target, so the pipeline's validator sink accepts it.
func minedHeader(oracle rules.Rules, prev types.Hash, nonce uint64, txs []*tx.Transaction) *block.Header {
	g := config.DefaultGenesis()
	h := &block.Header{
		Version:    g.Version,
		PrevHash:   prev,
		MerkleRoot: merkleOf(txs),
		Timestamp:  g.Timestamp + nonce,
		Bits:       g.Bits,
		Nonce:      nonce,
	}
	for !oracle.CheckProofOfWork(h) {
		h.Nonce++
	}
	return h
}

func genesisHeaderFrom(g config.Genesis, txs []*tx.Transaction) (*block.Header, error) {
	h := &block.Header{
		Version:   g.Version,
		Timestamp: g.Timestamp,
		Bits:      g.Bits,
		Nonce:     g.Nonce,
	}
	if g.MerkleRoot == "" {
		h.MerkleRoot = merkleOf(txs)
		return h, nil
	}
	root, err := types.HexToHash(g.MerkleRoot)
	if err != nil {
		return nil, fmt.Errorf("genesis merkle root: %w", err)
	}
	h.MerkleRoot = root
	return h, nil
}

func mustChain(g *headergraph.HeaderGraph, oracle rules.Rules, idx *heightIndex, prev *headergraph.ChainedHeader, nonce uint64, txs []*tx.Transaction, blocks *replay.BlockTxesStore) *headergraph.ChainedHeader {
	h := minedHeader(oracle, prev.Hash(), nonce, txs)
	ch, err := g.TryChain(h)
	if err != nil {
		log.Logger.Fatal().Err(err).Msg("chain header")
	}
	idx.record(uint64(ch.Height), ch.Hash())
	if _, err := blocks.TryAddBlockTransactions(ch.Hash(), txs); err != nil {
		log.Logger.Fatal().Err(err).Msg("store block transactions")
	}
	return ch
}

func main() {
	if err := log.Init("info", false, ""); err != nil {
		fmt.Fprintln(os.Stderr, "init log:", err)
		os.Exit(1)
	}

	cfg := config.DefaultEngineConfig()

	graph := headergraph.New().WithNegativeCacheSize(cfg.NegativeCacheSize)
	idx := &heightIndex{hashes: make(map[uint64]types.Hash)}

	utxoStore := utxo.NewStore(storage.NewMemory())
	blockTxes := replay.NewBlockTxesStore(storage.NewMemory())
	undo := replay.NewUndoStore(storage.NewMemory())
	replayer := replay.NewReplayer(blockTxes, undo, utxoStore)

	keystoreDir, err := os.MkdirTemp("", "chainstate-demo-wallet")
	if err != nil {
		log.Logger.Fatal().Err(err).Msg("create demo keystore dir")
	}
	defer os.RemoveAll(keystoreDir)

	ks, err := wallet.NewKeystore(keystoreDir)
	if err != nil {
		log.Logger.Fatal().Err(err).Msg("open demo keystore")
	}
	walletPassword := []byte("chainstate-demo")
	if _, err := wallet.Setup(ks, "demo", walletPassword, 1, wallet.DefaultParams()); err != nil {
		log.Logger.Fatal().Err(err).Msg("set up demo wallet")
	}
	watchedAddrs, err := wallet.WatchAddresses(ks, "demo", walletPassword)
	if err != nil {
		log.Logger.Fatal().Err(err).Msg("derive demo watch addresses")
	}
	watched := watchedAddrs[0]

	scanner, err := walletmonitor.NewHDScannerFromKeystore(ks, "demo", walletPassword)
	if err != nil {
		log.Logger.Fatal().Err(err).Msg("build wallet scanner")
	}
	scriptFor := func(addr types.Address) []byte { b := make([]byte, types.AddressSize); copy(b, addr[:]); return b }

	oracle := rules.NewBitcoinRules(crypto.SchnorrVerifier{})
	validator := pipeline.NewValidator(oracle, graph, blockTxes)

	pl := pipeline.New(replayer, undo, blockTxes, utxoStore, validator, scanner).
		WithHeaderGraph(graph).
		WithSnapshotBudget(cfg.SnapshotBudget).
		WithSinkBuffer(cfg.PipelineBufferSize).
		WithCursorPool(cfg.PoolCapacity, cfg.PoolAcquireTimeout)
	defer pl.Close()
	// The demo's toy chain never reaches config.DefaultEngineConfig's 1008-block
	// safety buffer, so it overrides it down to 1 to show pruning run at all.
	pruner := pruning.New(blockTxes, utxoStore, pruningMode(cfg.PruningMode)).WithSafetyBuffer(1)

	// A second, standalone DisposableItemPool over the same store, sized for
	// one-off read cursors like the final tally below rather than the
	// pipeline's per-step replay cursors.
	readCursors := pool.New(2, utxoStore.Begin, utxoStore.Reset, func(c *utxo.Cursor) { c.Rollback() })
	defer readCursors.Close()

	genesisTxs := []*tx.Transaction{coinbase(50, 0)}
	genesisHeader, err := genesisHeaderFrom(config.DefaultGenesis(), genesisTxs)
	if err != nil {
		log.Logger.Fatal().Err(err).Msg("build genesis header")
	}
	genesis, err := graph.AddGenesis(genesisHeader)
	if err != nil {
		log.Logger.Fatal().Err(err).Msg("add genesis")
	}
	idx.record(0, genesis.Hash())
	if _, err := blockTxes.TryAddBlockTransactions(genesis.Hash(), genesisTxs); err != nil {
		log.Logger.Fatal().Err(err).Msg("store genesis transactions")
	}

	// The coinbase output carries no locking script, so the follow-up spend
	// satisfies the oracle's anyone-can-spend shape without a signature.
	a1CoinbaseTx := coinbase(50, 1)
	a1 := mustChain(graph, oracle, idx, genesis, 1, []*tx.Transaction{a1CoinbaseTx}, blockTxes)
	a2 := mustChain(graph, oracle, idx, a1, 2, []*tx.Transaction{
		coinbase(25, 2),
		{
			Version: 1,
			Inputs:  []tx.Input{{PrevOut: types.Outpoint{TxID: a1CoinbaseTx.Hash(), Index: 0}}},
			Outputs: []tx.Output{{Value: 10, ScriptPubKey: scriptFor(watched)}, {Value: 40}},
		},
	}, blockTxes)

	ctx := context.Background()
	steps, err := chainwalker.Navigate(graph, genesis, a2)
	if err != nil {
		log.Logger.Fatal().Err(err).Msg("navigate to chain A tip")
	}
	if _, err := pl.Run(ctx, steps); err != nil {
		log.Logger.Fatal().Err(err).Msg("connect chain A")
	}

	b1 := mustChain(graph, oracle, idx, genesis, 101, []*tx.Transaction{coinbase(50, 101)}, blockTxes)
	b2 := mustChain(graph, oracle, idx, b1, 102, []*tx.Transaction{coinbase(20, 102)}, blockTxes)
	b3 := mustChain(graph, oracle, idx, b2, 103, []*tx.Transaction{coinbase(30, 103)}, blockTxes)

	tip, _ := graph.MaxTotalWorkTip()
	log.Logger.Info().Str("tip", tip.Hash().String()).Int64("height", tip.Height).Msg("best tip after longer fork arrives")

	reorgSteps, err := chainwalker.Navigate(graph, a2, b3)
	if err != nil {
		log.Logger.Fatal().Err(err).Msg("navigate reorg to chain B tip")
	}
	if _, err := pl.Run(ctx, reorgSteps); err != nil {
		log.Logger.Fatal().Err(err).Msg("reorg onto chain B")
	}

	if _, err := pruner.PruneUpTo(uint64(b3.Height), idx); err != nil {
		log.Logger.Fatal().Err(err).Msg("prune")
	}

	handle, err := readCursors.Take(ctx)
	if err != nil {
		log.Logger.Fatal().Err(err).Msg("acquire read cursor")
	}
	cursor := handle.Item()
	defer func() {
		cursor.Rollback()
		handle.Drop()
	}()

	unspentTxCount, _ := cursor.UnspentTxCount()
	unspentOutputCount, _ := cursor.UnspentOutputCount()
	log.Logger.Info().
		Uint64("unspent_tx_count", unspentTxCount).
		Uint64("unspent_output_count", unspentOutputCount).
		Uint64("watched_confirmed_balance", scanner.Balance(watched).Confirmed).
		Msg("final state after reorg")
}
