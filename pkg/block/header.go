package block

import (
	"encoding/binary"
	"math/big"

	"github.com/klingon-tech/chainstate/pkg/chainhash"
	"github.com/klingon-tech/chainstate/pkg/types"
)

// Header contains block metadata. Height is deliberately absent: it is a
// property of a ChainedHeader (parent height + 1), not of the header itself,
// since the same header bytes could in principle be proposed at more than
// one place before a parent is known.
type Header struct {
	Version    uint32     `json:"version"`
	PrevHash   types.Hash `json:"prev_hash"`
	MerkleRoot types.Hash `json:"merkle_root"`
	Timestamp  uint64     `json:"timestamp"`
	Bits       uint32     `json:"bits"`
	Nonce      uint64     `json:"nonce"`
}

// Hash computes the block header hash: double-SHA256 of SigningBytes.
func (h *Header) Hash() types.Hash {
	return chainhash.Sum(h.SigningBytes())
}

// SigningBytes returns the canonical bytes hashed for consensus.
// Format: version(4) | prev_hash(32) | merkle_root(32) | timestamp(8) | bits(4) | nonce(8)
func (h *Header) SigningBytes() []byte {
	buf := make([]byte, 0, 88)
	buf = binary.LittleEndian.AppendUint32(buf, h.Version)
	buf = append(buf, h.PrevHash[:]...)
	buf = append(buf, h.MerkleRoot[:]...)
	buf = binary.LittleEndian.AppendUint64(buf, h.Timestamp)
	buf = binary.LittleEndian.AppendUint32(buf, h.Bits)
	buf = binary.LittleEndian.AppendUint64(buf, h.Nonce)
	return buf
}

// maxTarget is the maximum representable proof-of-work target (minimum
// difficulty), 2^256 - 1.
var maxTarget = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// Target expands a header's compact "bits" field into a full 256-bit target.
// Mirrors Bitcoin's compact representation: the high byte is an exponent,
// the low three bytes a mantissa. A zero bits value yields a zero target
// (unsatisfiable: every hash exceeds it).
func Target(bits uint32) *big.Int {
	exponent := bits >> 24
	mantissa := new(big.Int).SetUint64(uint64(bits & 0x007fffff))
	if bits&0x00800000 != 0 {
		return new(big.Int)
	}
	if exponent <= 3 {
		mantissa.Rsh(mantissa, uint(8*(3-exponent)))
		return mantissa
	}
	mantissa.Lsh(mantissa, uint(8*(exponent-3)))
	return mantissa
}

// Work returns the proof-of-work contributed by a header with the given
// compact target: floor((2^256 - 1) / (target + 1)). Returns zero for an
// unsatisfiable (zero) target.
func Work(bits uint32) *big.Int {
	target := Target(bits)
	if target.Sign() <= 0 {
		return new(big.Int)
	}
	denom := new(big.Int).Add(target, big.NewInt(1))
	work := new(big.Int).Div(maxTarget, denom)
	return work
}
