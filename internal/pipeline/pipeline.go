// Package pipeline drives a chainwalker reorg path through the replay and
// engine packages onto a utxo.Store, fanning each resulting transaction out
// to validation and wallet-scanning sinks with back-pressure and ordered
// delivery, per sink. A sink error cancels its peers for the current block
// and rolls back that block's cursor; completed blocks are unaffected.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/klingon-tech/chainstate/internal/chainwalker"
	"github.com/klingon-tech/chainstate/internal/engine"
	"github.com/klingon-tech/chainstate/internal/headergraph"
	"github.com/klingon-tech/chainstate/internal/log"
	"github.com/klingon-tech/chainstate/internal/metrics"
	"github.com/klingon-tech/chainstate/internal/pool"
	"github.com/klingon-tech/chainstate/internal/replay"
	"github.com/klingon-tech/chainstate/internal/utxo"
	"github.com/klingon-tech/chainstate/pkg/tx"
	"github.com/klingon-tech/chainstate/pkg/types"
)

// DefaultSnapshotBudget is how long a Pipeline holds a chain-state snapshot
// across a run of steps before yielding so the caller can re-enter the
// walker with a fresh one.
const DefaultSnapshotBudget = 15 * time.Second

// DefaultCursorPoolCapacity bounds how many utxo.Cursors a Pipeline's
// DisposableItemPool caches between steps.
const DefaultCursorPoolCapacity = 32

// DefaultCursorAcquireTimeout bounds how long runStep blocks acquiring a
// cursor from the pool before failing with pool.ErrTimeout.
const DefaultCursorAcquireTimeout = 5 * time.Second

// DefaultSinkBuffer is the per-sink channel depth between the fan-out
// producer and each sink.
const DefaultSinkBuffer = 64

// ValidatableTx is one transaction from a replayed block, paired with the
// resolved prior outputs its inputs reference, ready for a sink to judge.
type ValidatableTx struct {
	BlockHash types.Hash
	Height    uint64
	Direction chainwalker.Direction
	Tx        replay.LoadedTx
}

// Sink consumes a ValidatableTx. Returning an error aborts the whole block
// currently being processed: sibling sinks are cancelled and the cursor is
// rolled back.
type Sink interface {
	Process(ctx context.Context, item ValidatableTx) error
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(ctx context.Context, item ValidatableTx) error

// Process implements Sink.
func (f SinkFunc) Process(ctx context.Context, item ValidatableTx) error { return f(ctx, item) }

// Pipeline composes a Replayer and the UTXO engine over a utxo.Store,
// fanning each block's transactions out to a fixed set of sinks. The cursor
// each step applies its effects through is borrowed from a bounded
// pool.Pool rather than begun and discarded fresh every time: the pool's
// factory begins a new storage-backed transaction and its prepare hook
// (utxo.Store.Reset) resets a returned cursor onto a fresh one so it can be
// recycled.
type Pipeline struct {
	replayer *replay.Replayer
	undo     *replay.UndoStore
	blocks   *replay.BlockTxesStore
	store    *utxo.Store
	cursors  *pool.Pool[*utxo.Cursor]
	sinks    []Sink
	graph    *headergraph.HeaderGraph
	budget   time.Duration
	acquire  time.Duration
	sinkBuf  int
}

// New builds a Pipeline. sinks run for every transaction of every step, in
// the order given; each sink sees its transactions strictly in block order.
func New(replayer *replay.Replayer, undo *replay.UndoStore, blocks *replay.BlockTxesStore, store *utxo.Store, sinks ...Sink) *Pipeline {
	p := &Pipeline{replayer: replayer, undo: undo, blocks: blocks, store: store, sinks: sinks, budget: DefaultSnapshotBudget, acquire: DefaultCursorAcquireTimeout, sinkBuf: DefaultSinkBuffer}
	p.cursors = newCursorPool(store, DefaultCursorPoolCapacity)
	return p
}

func newCursorPool(store *utxo.Store, capacity int) *pool.Pool[*utxo.Cursor] {
	return pool.New(capacity, store.Begin, store.Reset, func(c *utxo.Cursor) {
		if err := c.Rollback(); err != nil {
			log.Pipeline.Debug().Err(err).Msg("disposing pooled cursor: rollback of its fresh txn failed")
		}
	})
}

// WithHeaderGraph wires the graph consensus failures are reported to: a
// step failing with a validation error marks its header (and thereby its
// descendants) invalid there, excluding the fork from future tip selection.
func (p *Pipeline) WithHeaderGraph(g *headergraph.HeaderGraph) *Pipeline {
	p.graph = g
	return p
}

// WithSnapshotBudget overrides the default per-run snapshot time budget.
func (p *Pipeline) WithSnapshotBudget(d time.Duration) *Pipeline {
	p.budget = d
	return p
}

// WithSinkBuffer overrides the default per-sink channel depth.
func (p *Pipeline) WithSinkBuffer(n int) *Pipeline {
	if n > 0 {
		p.sinkBuf = n
	}
	return p
}

// WithCursorPool replaces the default-capacity cursor pool with one of
// capacity, and sets how long a step blocks acquiring a cursor from it
// before failing with pool.ErrTimeout.
func (p *Pipeline) WithCursorPool(capacity int, acquireTimeout time.Duration) *Pipeline {
	p.cursors.Close()
	p.cursors = newCursorPool(p.store, capacity)
	p.acquire = acquireTimeout
	return p
}

// Close releases every cursor currently cached by the pipeline's cursor
// pool and rejects further acquisitions. Outstanding steps in flight must
// finish first.
func (p *Pipeline) Close() {
	p.cursors.Close()
}

// Run processes steps in order, committing each block's cursor mutation
// independently. It stops, returning the count of fully-processed steps,
// once the snapshot budget elapses, so the caller can re-enter the walker
// for a fresh set of steps; it also stops, with an error, on the first step
// that fails, after that step's cursor has been rolled back.
func (p *Pipeline) Run(ctx context.Context, steps []chainwalker.Step) (int, error) {
	runID := uuid.NewString()
	deadline := time.Now().Add(p.budget)
	disconnected := 0

	for i, step := range steps {
		if time.Now().After(deadline) {
			log.Pipeline.Debug().Str("run_id", runID).Int("processed", i).Msg("snapshot budget expired, yielding")
			return i, nil
		}
		if err := ctx.Err(); err != nil {
			return i, err
		}
		if err := p.runStep(ctx, step); err != nil {
			metrics.StepFailures.Inc()
			var verr *engine.ValidationError
			if errors.As(err, &verr) && p.graph != nil {
				p.graph.MarkInvalid(verr.BlockHash)
			}
			return i, fmt.Errorf("pipeline: run %s: step %d (%s): %w", runID, i, step.Header.Hash(), err)
		}
		switch step.Direction {
		case chainwalker.Connect:
			metrics.BlocksConnected.Inc()
		case chainwalker.Disconnect:
			metrics.BlocksDisconnected.Inc()
			disconnected++
		}
	}
	if disconnected > 0 {
		metrics.ReorgDepth.Observe(float64(disconnected))
	}
	return len(steps), nil
}

func (p *Pipeline) runStep(ctx context.Context, step chainwalker.Step) error {
	hash := step.Header.Hash()
	height := uint64(step.Header.Height)

	entries, ok, err := p.blocks.TryReadBlockTransactions(hash)
	if err != nil {
		return err
	}
	if !ok {
		return replay.NewMissingDataError(hash)
	}
	transactions := make([]*tx.Transaction, len(entries))
	for i, e := range entries {
		if e.Pruned {
			return replay.NewMissingDataError(hash)
		}
		transactions[i] = e.Tx
	}

	acquireCtx := ctx
	if p.acquire > 0 {
		var cancel context.CancelFunc
		acquireCtx, cancel = context.WithTimeout(ctx, p.acquire)
		defer cancel()
	}
	handle, err := p.cursors.Take(acquireCtx)
	if err != nil {
		return fmt.Errorf("pipeline: acquire cursor: %w", err)
	}
	cursor := handle.Item()
	defer func() {
		if derr := handle.Drop(); derr != nil {
			log.Pipeline.Error().Err(derr).Msg("returning cursor to pool failed")
		}
	}()

	switch step.Direction {
	case chainwalker.Connect:
		err = p.runConnect(ctx, cursor, hash, height, transactions)
	case chainwalker.Disconnect:
		err = p.runDisconnect(ctx, cursor, hash, height, transactions)
	default:
		err = fmt.Errorf("pipeline: unknown direction %d", step.Direction)
	}

	if err != nil {
		if rerr := cursor.Rollback(); rerr != nil {
			log.Pipeline.Error().Err(rerr).Msg("rollback after failed step also failed")
		}
		return err
	}
	return cursor.Commit()
}

// runConnect applies transactions forward on cursor, persists their undo
// data and bodies, and fans the resulting transactions out to every sink in
// block order before the cursor commits.
func (p *Pipeline) runConnect(ctx context.Context, cursor *utxo.Cursor, hash types.Hash, height uint64, transactions []*tx.Transaction) error {
	results, err := engine.ApplyBlock(cursor, hash, height, transactions)
	if err != nil {
		return err
	}

	loaded, err := p.replayer.ReplayBlock(ctx, hash, height, chainwalker.Connect)
	if err != nil {
		return err
	}

	if err := p.fanOut(ctx, hash, height, chainwalker.Connect, loaded); err != nil {
		return err
	}

	return p.undo.Put(hash, results)
}

// runDisconnect rolls transactions back on cursor using the undo data
// recorded when the block was connected, fanning the pre-rollback
// transaction view out to every sink before the cursor commits.
func (p *Pipeline) runDisconnect(ctx context.Context, cursor *utxo.Cursor, hash types.Hash, height uint64, transactions []*tx.Transaction) error {
	undo, ok, err := p.undo.Get(hash)
	if err != nil {
		return err
	}
	if !ok {
		return replay.NewMissingDataError(hash)
	}

	loaded, err := p.replayer.ReplayBlock(ctx, hash, height, chainwalker.Disconnect)
	if err != nil {
		return err
	}

	if _, err := engine.RollbackBlock(cursor, height, transactions, undo); err != nil {
		return err
	}

	if err := p.fanOut(ctx, hash, height, chainwalker.Disconnect, loaded); err != nil {
		return err
	}

	return p.undo.Delete(hash)
}

// fanOut delivers items to every sink concurrently, each through its own
// bounded channel so a slow sink back-pressures the producer without
// stalling its peers. Every sink receives items strictly in the order
// given. If any sink returns an error, ctx is cancelled for the group and
// the first error is returned.
func (p *Pipeline) fanOut(ctx context.Context, hash types.Hash, height uint64, direction chainwalker.Direction, loaded []replay.LoadedTx) error {
	if len(p.sinks) == 0 {
		return nil
	}

	group, gctx := errgroup.WithContext(ctx)
	channels := make([]chan ValidatableTx, len(p.sinks))

	for i, sink := range p.sinks {
		ch := make(chan ValidatableTx, p.sinkBuf)
		channels[i] = ch
		sink := sink
		group.Go(func() error {
			for item := range ch {
				if err := sink.Process(gctx, item); err != nil {
					return err
				}
			}
			return nil
		})
	}

	group.Go(func() error {
		defer func() {
			for _, ch := range channels {
				close(ch)
			}
		}()
		for _, lt := range loaded {
			item := ValidatableTx{BlockHash: hash, Height: height, Direction: direction, Tx: lt}
			for _, ch := range channels {
				select {
				case ch <- item:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
		}
		return nil
	})

	log.Pipeline.Debug().Str("block", hash.String()).Int("tx_count", len(loaded)).Int("sinks", len(p.sinks)).Msg("fanned out block")
	return group.Wait()
}
