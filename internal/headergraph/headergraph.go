// Package headergraph maintains the append-only graph of chained headers
// and exposes best-chain ("max-work tip") selection.
package headergraph

import (
	"fmt"
	"math/big"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/klingon-tech/chainstate/internal/log"
	"github.com/klingon-tech/chainstate/pkg/block"
	"github.com/klingon-tech/chainstate/pkg/types"
)

// DefaultNegativeCacheSize bounds the "known unknown hash" cache; it exists
// so repeated lookups of headers we've never seen don't repeatedly hit
// whatever storage backs the graph.
const DefaultNegativeCacheSize = 4096

// ChainedHeader is a header that has been successfully linked into the
// graph: its height and cumulative work are derived from its parent and
// never recomputed afterward.
type ChainedHeader struct {
	Header    *block.Header
	Height    int64
	TotalWork *big.Int
}

// Hash returns the header's consensus hash.
func (c *ChainedHeader) Hash() types.Hash {
	return c.Header.Hash()
}

// HeaderGraph is safe for many concurrent readers; writers serialize on a
// single mutation lock while readers only share-lock it.
type HeaderGraph struct {
	mu sync.RWMutex

	genesis  types.Hash
	headers  map[types.Hash]*ChainedHeader
	invalid  map[types.Hash]bool
	children map[types.Hash][]types.Hash

	negCache *lru.Cache[types.Hash, struct{}]

	store Storage

	onAdded       []func(*ChainedHeader)
	onInvalidated []func(types.Hash)
}

// New creates an empty, purely in-memory header graph with no persistence.
func New() *HeaderGraph {
	return newGraph(nil)
}

// NewWithStorage creates a header graph backed by store: every chained
// header and invalidity mark is persisted through it, and the graph is
// rehydrated from whatever store already holds before returning.
func NewWithStorage(store Storage) (*HeaderGraph, error) {
	g := newGraph(store)

	headers, err := store.ReadChainedHeaders()
	if err != nil {
		return nil, fmt.Errorf("headergraph: rehydrate headers: %w", err)
	}
	for _, ch := range headers {
		hash := ch.Hash()
		g.headers[hash] = ch
		g.children[ch.Header.PrevHash] = append(g.children[ch.Header.PrevHash], hash)
		if ch.Height == 0 {
			g.genesis = hash
		}
		invalid, err := store.IsBlockInvalid(hash)
		if err != nil {
			return nil, fmt.Errorf("headergraph: rehydrate invalidity mark for %s: %w", hash, err)
		}
		if invalid {
			g.invalid[hash] = true
		}
	}
	return g, nil
}

func newGraph(store Storage) *HeaderGraph {
	cache, err := lru.New[types.Hash, struct{}](DefaultNegativeCacheSize)
	if err != nil {
		// Only returns an error for a non-positive size, which never happens
		// with the constant above.
		panic(fmt.Sprintf("headergraph: negative cache init: %v", err))
	}
	return &HeaderGraph{
		headers:  make(map[types.Hash]*ChainedHeader),
		invalid:  make(map[types.Hash]bool),
		children: make(map[types.Hash][]types.Hash),
		negCache: cache,
		store:    store,
	}
}

// WithNegativeCacheSize resizes the unknown-hash cache, evicting oldest
// entries if n is smaller than the current size.
func (g *HeaderGraph) WithNegativeCacheSize(n int) *HeaderGraph {
	if n > 0 {
		g.negCache.Resize(n)
	}
	return g
}

// OnChainedHeaderAdded registers a handler invoked after a header is
// successfully chained. Handler panics are recovered so a faulty handler
// never leaves the graph inconsistent.
func (g *HeaderGraph) OnChainedHeaderAdded(fn func(*ChainedHeader)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onAdded = append(g.onAdded, fn)
}

// OnInvalidated registers a handler invoked after a header is marked
// invalid.
func (g *HeaderGraph) OnInvalidated(fn func(types.Hash)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onInvalidated = append(g.onInvalidated, fn)
}

// AddGenesis inserts a header at height 0. Fails if a distinct genesis is
// already present.
func (g *HeaderGraph) AddGenesis(header *block.Header) (*ChainedHeader, error) {
	g.mu.Lock()

	hash := header.Hash()
	if !g.genesis.IsZero() {
		existing := g.genesis
		ch := g.headers[hash]
		g.mu.Unlock()
		if existing == hash {
			return ch, nil
		}
		return nil, fmt.Errorf("headergraph: distinct genesis already present: have %s, got %s", existing, hash)
	}

	ch := &ChainedHeader{Header: header, Height: 0, TotalWork: block.Work(header.Bits)}
	if g.store != nil {
		if _, err := g.store.TryAddChainedHeader(ch); err != nil {
			g.mu.Unlock()
			return nil, fmt.Errorf("headergraph: persist genesis: %w", err)
		}
	}
	g.headers[hash] = ch
	g.genesis = hash
	g.negCache.Remove(hash)
	g.mu.Unlock()

	g.fireAdded(ch)
	return ch, nil
}

// TryChain succeeds only if header.PrevHash names a known ChainedHeader.
// Re-submitting an already-present header returns the existing entry
// without firing a duplicate event.
func (g *HeaderGraph) TryChain(header *block.Header) (*ChainedHeader, error) {
	g.mu.Lock()

	hash := header.Hash()
	if existing, ok := g.headers[hash]; ok {
		g.mu.Unlock()
		return existing, nil
	}

	parent, ok := g.headers[header.PrevHash]
	if !ok {
		g.negCache.Add(hash, struct{}{})
		g.mu.Unlock()
		return nil, fmt.Errorf("headergraph: unknown parent %s for header %s", header.PrevHash, hash)
	}

	work := block.Work(header.Bits)
	ch := &ChainedHeader{
		Header:    header,
		Height:    parent.Height + 1,
		TotalWork: new(big.Int).Add(parent.TotalWork, work),
	}
	if g.store != nil {
		if _, err := g.store.TryAddChainedHeader(ch); err != nil {
			g.mu.Unlock()
			return nil, fmt.Errorf("headergraph: persist header %s: %w", hash, err)
		}
	}
	g.headers[hash] = ch
	g.children[header.PrevHash] = append(g.children[header.PrevHash], hash)
	g.negCache.Remove(hash)
	inheritedInvalid := g.invalid[header.PrevHash]
	if inheritedInvalid {
		g.invalid[hash] = true
		if g.store != nil {
			if err := g.store.MarkBlockInvalid(hash); err != nil {
				log.HeaderGraph.Error().Err(err).Str("hash", hash.String()).Msg("headergraph: persist inherited invalidity mark failed")
			}
		}
	}
	g.mu.Unlock()

	g.fireAdded(ch)
	if inheritedInvalid {
		g.fireInvalidated(hash)
	}
	return ch, nil
}

// Get returns the ChainedHeader for hash, if known.
func (g *HeaderGraph) Get(hash types.Hash) (*ChainedHeader, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	ch, ok := g.headers[hash]
	return ch, ok
}

// Contains reports whether hash is a known chained header. It consults the
// negative-result cache before touching the main map.
func (g *HeaderGraph) Contains(hash types.Hash) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if _, known := g.negCache.Get(hash); known {
		return false
	}
	_, ok := g.headers[hash]
	if !ok {
		g.negCache.Add(hash, struct{}{})
	}
	return ok
}

// MaxTotalWorkTip returns the ChainedHeader with the greatest total work
// among headers not marked invalid, breaking ties by lowest hash.
func (g *HeaderGraph) MaxTotalWorkTip() (*ChainedHeader, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var best *ChainedHeader
	var bestHash types.Hash
	for hash, ch := range g.headers {
		if g.invalid[hash] {
			continue
		}
		if best == nil {
			best, bestHash = ch, hash
			continue
		}
		cmp := ch.TotalWork.Cmp(best.TotalWork)
		if cmp > 0 || (cmp == 0 && lowerHash(hash, bestHash)) {
			best, bestHash = ch, hash
		}
	}
	return best, best != nil
}

// MarkInvalid marks a header, and every known descendant of it, consensus-
// invalid. All of them are excluded from MaxTotalWorkTip from then on.
// Idempotent per hash: re-marking an already-invalid header (or a
// descendant reached through more than one cascade) fires no duplicate
// event for it.
func (g *HeaderGraph) MarkInvalid(hash types.Hash) {
	g.mu.Lock()
	var newlyInvalid []types.Hash
	queue := []types.Hash{hash}
	for len(queue) > 0 {
		h := queue[0]
		queue = queue[1:]
		if g.invalid[h] {
			continue
		}
		g.invalid[h] = true
		newlyInvalid = append(newlyInvalid, h)
		queue = append(queue, g.children[h]...)
	}
	g.mu.Unlock()

	for _, h := range newlyInvalid {
		if g.store != nil {
			if err := g.store.MarkBlockInvalid(h); err != nil {
				log.HeaderGraph.Error().Err(err).Str("hash", h.String()).Msg("headergraph: persist invalidity mark failed")
			}
		}
		g.fireInvalidated(h)
	}
}

// IsInvalid reports whether hash has been marked invalid.
func (g *HeaderGraph) IsInvalid(hash types.Hash) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.invalid[hash]
}

func (g *HeaderGraph) fireAdded(ch *ChainedHeader) {
	g.mu.RLock()
	handlers := append([]func(*ChainedHeader){}, g.onAdded...)
	g.mu.RUnlock()
	for _, fn := range handlers {
		safeCall(func() { fn(ch) })
	}
}

func (g *HeaderGraph) fireInvalidated(hash types.Hash) {
	g.mu.RLock()
	handlers := append([]func(types.Hash){}, g.onInvalidated...)
	g.mu.RUnlock()
	for _, fn := range handlers {
		safeCall(func() { fn(hash) })
	}
}

func safeCall(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.HeaderGraph.Error().Interface("panic", r).Msg("headergraph: event handler panicked")
		}
	}()
	fn()
}

func lowerHash(a, b types.Hash) bool {
	for i := 0; i < types.HashSize; i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}
