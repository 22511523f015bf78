// Package wallet holds the key material side of the wallet monitor: BIP-39
// mnemonics and seeds, BIP-32 HD derivation, and an encrypted on-disk
// keystore. The chain-state engine never imports it; internal/walletmonitor
// uses it to obtain the addresses it watches.
package wallet

import (
	"fmt"

	"github.com/tyler-smith/go-bip39"
)

// MnemonicEntropyBits is the entropy behind a generated mnemonic; 256 bits
// yields 24 words.
const MnemonicEntropyBits = 256

// GenerateMnemonic draws fresh entropy and renders it as a 24-word BIP-39
// mnemonic.
func GenerateMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(MnemonicEntropyBits)
	if err != nil {
		return "", fmt.Errorf("generate entropy: %w", err)
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", fmt.Errorf("generate mnemonic: %w", err)
	}
	return mnemonic, nil
}

// ValidateMnemonic reports whether mnemonic is well-formed per BIP-39:
// word count, wordlist membership, and checksum.
func ValidateMnemonic(mnemonic string) bool {
	return bip39.IsMnemonicValid(mnemonic)
}
