package engine

import "github.com/klingon-tech/chainstate/pkg/types"

// Two mainnet-era coinbase transactions were mined with identical txids to
// earlier coinbases whose outputs were still unspent (BIP30 predates this
// carve-out). Minting
// them again at their real heights would collide with a live UnspentTx
// record, so both the forward mint and the reverse unmint are skipped for
// exactly these (height, hash) pairs.
const (
	duplicateCoinbaseHeight1 = 91722
	duplicateCoinbaseHeight2 = 91812
)

var (
	duplicateCoinbaseHash1 = mustHexToHash("e3bf3d07d4b0375638d5f1db5255fe07ba2c4cb067cd81b84ee974b6585fb468")
	duplicateCoinbaseHash2 = mustHexToHash("d5d279872a3dfc724e359870c6644f9ac374876f2c101f8a8618f7662ad88599")
)

func mustHexToHash(s string) types.Hash {
	h, err := types.HexToHash(s)
	if err != nil {
		panic(err)
	}
	return h
}

// isDuplicateCoinbase reports whether txHash at height is one of the two
// known duplicate-coinbase transactions, in which case Mint and Unmint must
// both be skipped for it.
func isDuplicateCoinbase(height uint64, txHash types.Hash) bool {
	switch height {
	case duplicateCoinbaseHeight1:
		return txHash == duplicateCoinbaseHash1
	case duplicateCoinbaseHeight2:
		return txHash == duplicateCoinbaseHash2
	default:
		return false
	}
}
