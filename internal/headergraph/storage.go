package headergraph

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/klingon-tech/chainstate/internal/storage"
	"github.com/klingon-tech/chainstate/pkg/block"
	"github.com/klingon-tech/chainstate/pkg/types"
)

// Storage is the injected block-storage collaborator: the service a real
// node backs with its own database so chained headers and invalidity marks
// outlive the process. HeaderGraph works without one (pure in-memory) or
// with one supplied via NewWithStorage, in which case every mutation is
// persisted and the graph is rehydrated from it at construction time.
type Storage interface {
	// TryAddChainedHeader persists ch. Returns false if a record already
	// exists for its hash.
	TryAddChainedHeader(ch *ChainedHeader) (bool, error)
	// TryGetChainedHeader returns the persisted record for hash, if any.
	TryGetChainedHeader(hash types.Hash) (*ChainedHeader, bool, error)
	// ReadChainedHeaders returns every persisted header, in no particular
	// order, for rehydrating a HeaderGraph at startup.
	ReadChainedHeaders() ([]*ChainedHeader, error)
	// FindMaxTotalWork returns the persisted header with the greatest total
	// work among those not marked invalid, breaking ties by lowest hash:
	// the same selection MaxTotalWorkTip makes in memory, for callers that
	// need a best tip before any graph has been rehydrated.
	FindMaxTotalWork() (*ChainedHeader, bool, error)
	// MarkBlockInvalid persists hash's invalidity mark.
	MarkBlockInvalid(hash types.Hash) error
	// IsBlockInvalid reports whether hash's invalidity mark is persisted.
	IsBlockInvalid(hash types.Hash) (bool, error)
}

var (
	prefixHeader  = []byte("hg/h/") // hg/h/<hash(32)> -> persistedHeader JSON
	prefixInvalid = []byte("hg/i/") // hg/i/<hash(32)> -> "1"
)

func headerKey(hash types.Hash) []byte {
	key := make([]byte, len(prefixHeader)+types.HashSize)
	copy(key, prefixHeader)
	copy(key[len(prefixHeader):], hash[:])
	return key
}

func invalidKey(hash types.Hash) []byte {
	key := make([]byte, len(prefixInvalid)+types.HashSize)
	copy(key, prefixInvalid)
	copy(key[len(prefixInvalid):], hash[:])
	return key
}

// persistedHeader is ChainedHeader's on-disk shape: big.Int already
// implements json.Marshaler/Unmarshaler, so this is a direct field mirror.
type persistedHeader struct {
	Header    *block.Header `json:"header"`
	Height    int64         `json:"height"`
	TotalWork *big.Int      `json:"total_work"`
}

// KVStorage implements Storage over a storage.DB, following the same
// prefix-keyed JSON-record pattern internal/utxo and internal/replay use.
type KVStorage struct {
	db storage.DB
}

// NewKVStorage wraps db as header-graph storage.
func NewKVStorage(db storage.DB) *KVStorage {
	return &KVStorage{db: db}
}

// TryAddChainedHeader implements Storage.
func (s *KVStorage) TryAddChainedHeader(ch *ChainedHeader) (bool, error) {
	hash := ch.Hash()
	if ok, err := s.db.Has(headerKey(hash)); err != nil {
		return false, err
	} else if ok {
		return false, nil
	}
	data, err := json.Marshal(persistedHeader{Header: ch.Header, Height: ch.Height, TotalWork: ch.TotalWork})
	if err != nil {
		return false, fmt.Errorf("headergraph: marshal chained header: %w", err)
	}
	if err := s.db.Put(headerKey(hash), data); err != nil {
		return false, err
	}
	return true, nil
}

// TryGetChainedHeader implements Storage.
func (s *KVStorage) TryGetChainedHeader(hash types.Hash) (*ChainedHeader, bool, error) {
	data, err := s.db.Get(headerKey(hash))
	if err != nil {
		return nil, false, nil
	}
	var p persistedHeader
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, false, fmt.Errorf("headergraph: unmarshal chained header: %w", err)
	}
	return &ChainedHeader{Header: p.Header, Height: p.Height, TotalWork: p.TotalWork}, true, nil
}

// ReadChainedHeaders implements Storage.
func (s *KVStorage) ReadChainedHeaders() ([]*ChainedHeader, error) {
	var out []*ChainedHeader
	err := s.db.ForEach(prefixHeader, func(_, value []byte) error {
		var p persistedHeader
		if err := json.Unmarshal(value, &p); err != nil {
			return fmt.Errorf("headergraph: unmarshal chained header: %w", err)
		}
		out = append(out, &ChainedHeader{Header: p.Header, Height: p.Height, TotalWork: p.TotalWork})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// FindMaxTotalWork implements Storage.
func (s *KVStorage) FindMaxTotalWork() (*ChainedHeader, bool, error) {
	headers, err := s.ReadChainedHeaders()
	if err != nil {
		return nil, false, err
	}

	var best *ChainedHeader
	var bestHash types.Hash
	for _, ch := range headers {
		hash := ch.Hash()
		invalid, err := s.IsBlockInvalid(hash)
		if err != nil {
			return nil, false, err
		}
		if invalid {
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
	return best, best != nil, nil
}

// MarkBlockInvalid implements Storage.
func (s *KVStorage) MarkBlockInvalid(hash types.Hash) error {
	return s.db.Put(invalidKey(hash), []byte{1})
}

// IsBlockInvalid implements Storage.
func (s *KVStorage) IsBlockInvalid(hash types.Hash) (bool, error) {
	return s.db.Has(invalidKey(hash))
}
