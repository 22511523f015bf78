// Package config holds the runtime tunables for the chain-state engine,
// the genesis parameters, and the structural limits pkg/block and pkg/tx
// enforce.
//
// EngineConfig is node-local operational configuration: a node can change
// its pruning mode or pool capacity without breaking agreement with its
// peers. The safety buffer's default is also defined next to the code that
// enforces it (internal/pruning); the duplicate-coinbase carve-out lives only
// in internal/engine and has no setting here.
package config

import "time"

// PruningMode selects how PruningEngine reclaims space behind the safety buffer.
type PruningMode string

const (
	// PruneNone keeps every block transaction and rollback index forever.
	PruneNone PruningMode = "none"
	// PrunePreserveUnspent drops only transactions fully spent by later blocks.
	PrunePreserveUnspent PruningMode = "preserve-unspent"
	// PruneFull drops every transaction at eligible heights; reorgs past the
	// safety buffer become impossible.
	PruneFull PruningMode = "full"
)

// EngineConfig holds the tunables shared by HeaderGraph, ReplayPipeline, and
// PruningEngine.
type EngineConfig struct {
	// SafetyBuffer is the number of blocks behind the validated tip that stay
	// reorg-safe; consensus-mandated default is 1008 (7*144).
	SafetyBuffer uint64 `conf:"engine.safety_buffer"`

	// PruningMode selects PruningEngine's behavior.
	PruningMode PruningMode `conf:"engine.pruning_mode"`

	// PoolCapacity bounds the number of cursors DisposableItemPool caches.
	PoolCapacity int `conf:"engine.pool_capacity"`

	// PoolAcquireTimeout bounds how long a pool Take() blocks before failing
	// with ErrTimeout.
	PoolAcquireTimeout time.Duration `conf:"engine.pool_acquire_timeout"`

	// SnapshotBudget is how long ReplayPipeline holds a chain-state snapshot
	// before yielding, committing progress, and re-entering the walker.
	SnapshotBudget time.Duration `conf:"engine.snapshot_budget"`

	// PipelineBufferSize bounds the channel depth between pipeline stages.
	PipelineBufferSize int `conf:"engine.pipeline_buffer"`

	// NegativeCacheSize bounds the HeaderGraph's unknown-hash LRU cache.
	NegativeCacheSize int `conf:"engine.negative_cache_size"`
}

// Genesis describes the height-0 header a node bootstraps its HeaderGraph
// from. Fields are plain scalars (hex strings for hashes) so this package
// stays import-free of pkg/block, which depends on it for structural limits;
// the consumer assembles the actual header.
type Genesis struct {
	Version    uint32 `conf:"genesis.version"`
	MerkleRoot string `conf:"genesis.merkle_root"`
	Timestamp  uint64 `conf:"genesis.timestamp"`
	Bits       uint32 `conf:"genesis.bits"`
	Nonce      uint64 `conf:"genesis.nonce"`
}

// DefaultGenesis returns the development-network genesis parameters used by
// tests and the demo command. A production deployment supplies its own.
func DefaultGenesis() Genesis {
	return Genesis{
		Version:   1,
		Timestamp: 1_700_000_000,
		Bits:      0x207fffff,
		Nonce:     0,
	}
}

// Transaction/block structural limits. The chain-state engine enforces
// these structurally but leaves script semantics to the Rules oracle.
const (
	MaxTxInputs   = 10_000
	MaxTxOutputs  = 10_000
	MaxScriptData = 10_240
	MaxBlockTxs   = 100_000
	MaxBlockSize  = 4_000_000
)

// DefaultEngineConfig returns the engine's consensus-recommended defaults.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		SafetyBuffer:       1008,
		PruningMode:        PrunePreserveUnspent,
		PoolCapacity:       32,
		PoolAcquireTimeout: 5 * time.Second,
		SnapshotBudget:     15 * time.Second,
		PipelineBufferSize: 64,
		NegativeCacheSize:  4096,
	}
}
