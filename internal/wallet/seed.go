package wallet

import (
	"fmt"

	"github.com/tyler-smith/go-bip39"
)

// SeedSize is the length of a derived wallet seed in bytes.
const SeedSize = 64

// SeedFromMnemonic stretches a mnemonic and optional passphrase into the
// 512-bit seed HD derivation starts from (PBKDF2-SHA512 per BIP-39). The
// mnemonic is validated first so a typo fails loudly instead of deriving a
// different wallet.
func SeedFromMnemonic(mnemonic, passphrase string) ([]byte, error) {
	if !ValidateMnemonic(mnemonic) {
		return nil, fmt.Errorf("invalid mnemonic")
	}
	seed, err := bip39.NewSeedWithErrorChecking(mnemonic, passphrase)
	if err != nil {
		return nil, fmt.Errorf("derive seed: %w", err)
	}
	return seed, nil
}
