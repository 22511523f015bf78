// Package metrics exposes the Prometheus collectors the engine's
// components update as they run: block connect/disconnect counts, reorg
// depth, and cursor-pool occupancy. A consumer registers Registry with its
// own Prometheus registry (or leaves it unregistered, in which case the
// collectors still update in memory but nothing scrapes them).
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry holds every collector this module updates. Callers register it
// once, typically with prometheus.DefaultRegisterer or a dedicated registry
// per node.
var Registry = prometheus.NewRegistry()

var (
	// BlocksConnected counts blocks ReplayPipeline has successfully
	// connected (forward steps).
	BlocksConnected = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chainstate_blocks_connected_total",
		Help: "Total number of blocks connected by the replay pipeline.",
	})
	// BlocksDisconnected counts blocks ReplayPipeline has successfully
	// disconnected (reverse steps). A failed step is counted in StepFailures
	// instead.
	BlocksDisconnected = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chainstate_blocks_disconnected_total",
		Help: "Total number of blocks disconnected by the replay pipeline.",
	})
	// StepFailures counts replay steps that aborted with an error after
	// their cursor was rolled back.
	StepFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chainstate_pipeline_step_failures_total",
		Help: "Total number of replay steps that failed and were rolled back.",
	})
	// ReorgDepth observes, for every Run invocation that completes all of
	// its steps and disconnected at least one block, how many blocks it
	// disconnected. A Run that fails or yields early records nothing.
	ReorgDepth = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "chainstate_reorg_depth_blocks",
		Help:    "Number of blocks disconnected per reorg.",
		Buckets: []float64{1, 2, 4, 8, 16, 32, 64, 128, 256, 1008},
	})
	// PoolCursorsCreated counts cursor instances DisposableItemPool has
	// created; reuse of cached cursors shows up as PoolCachedItems dips
	// without a corresponding creation.
	PoolCursorsCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chainstate_pool_cursors_created_total",
		Help: "Total number of pool items created by the factory.",
	})
	// PoolCachedItems reports the pool's current cached item count.
	PoolCachedItems = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chainstate_pool_cached_items",
		Help: "Number of items currently cached in the disposable item pool.",
	})
	// BlocksPruned counts blocks whose transaction data PruningEngine has
	// dropped, labeled by mode.
	BlocksPruned = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chainstate_blocks_pruned_total",
		Help: "Total number of blocks pruned, by mode.",
	}, []string{"mode"})
)

func init() {
	Registry.MustRegister(
		BlocksConnected,
		BlocksDisconnected,
		StepFailures,
		ReorgDepth,
		PoolCursorsCreated,
		PoolCachedItems,
		BlocksPruned,
	)
}
