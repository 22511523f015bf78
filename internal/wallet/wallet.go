package wallet

import (
	"fmt"

	"github.com/klingon-tech/chainstate/pkg/types"
)

// Setup generates a fresh mnemonic, derives a 512-bit seed from it, and
// writes name as a new encrypted wallet in ks, recording accountCount
// external receiving accounts derived from the wallet's HD master key. It
// returns the generated mnemonic so the caller can back it up; ks never
// stores the mnemonic itself, only the seed it derives.
func Setup(ks *Keystore, name string, password []byte, accountCount uint32, params EncryptionParams) (mnemonic string, err error) {
	mnemonic, err = GenerateMnemonic()
	if err != nil {
		return "", fmt.Errorf("generate mnemonic: %w", err)
	}
	seed, err := SeedFromMnemonic(mnemonic, "")
	if err != nil {
		return "", err
	}
	if err := ks.Create(name, seed, password, params); err != nil {
		return "", err
	}

	master, err := NewMasterKey(seed)
	if err != nil {
		return "", err
	}
	for i := uint32(0); i < accountCount; i++ {
		child, err := master.DeriveAddress(0, ChangeExternal, i)
		if err != nil {
			return "", fmt.Errorf("derive account %d: %w", i, err)
		}
		entry := AccountEntry{
			Index:   i,
			Change:  ChangeExternal,
			Name:    fmt.Sprintf("account-%d", i),
			Address: child.Address().String(),
		}
		if err := ks.AddAccount(name, entry); err != nil {
			return "", fmt.Errorf("record account %d: %w", i, err)
		}
	}
	return mnemonic, nil
}

// WatchAddresses decrypts wallet name with password and re-derives the
// types.Address for every account entry recorded in its keystore from the
// wallet's HD master key, rather than trusting each entry's stored bech32
// address alone.
func WatchAddresses(ks *Keystore, name string, password []byte) ([]types.Address, error) {
	seed, err := ks.Load(name, password)
	if err != nil {
		return nil, fmt.Errorf("load wallet: %w", err)
	}
	master, err := NewMasterKey(seed)
	if err != nil {
		return nil, err
	}

	entries, err := ks.ListAccounts(name)
	if err != nil {
		return nil, err
	}

	addrs := make([]types.Address, 0, len(entries))
	for _, e := range entries {
		change, index := e.Derivation()
		child, err := master.DeriveAddress(0, change, index)
		if err != nil {
			return nil, fmt.Errorf("derive account change=%d index=%d: %w", change, index, err)
		}
		addrs = append(addrs, child.Address())
	}
	return addrs, nil
}
