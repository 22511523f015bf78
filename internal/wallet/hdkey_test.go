package wallet

import (
	"bytes"
	"testing"

	"github.com/klingon-tech/chainstate/pkg/crypto"
)

func testMaster(t *testing.T) *HDKey {
	t.Helper()
	seed, err := SeedFromMnemonic(testVectorMnemonic, "TREZOR")
	if err != nil {
		t.Fatalf("SeedFromMnemonic() error: %v", err)
	}
	master, err := NewMasterKey(seed)
	if err != nil {
		t.Fatalf("NewMasterKey() error: %v", err)
	}
	return master
}

func TestNewMasterKey(t *testing.T) {
	master := testMaster(t)
	if !master.IsPrivate() {
		t.Error("master key should hold a private half")
	}
	if master.Depth() != 0 {
		t.Errorf("master depth = %d, want 0", master.Depth())
	}
	if got := len(master.PrivateKeyBytes()); got != 32 {
		t.Errorf("private key length = %d, want 32", got)
	}
	if got := len(master.PublicKeyBytes()); got != 33 {
		t.Errorf("public key length = %d, want 33", got)
	}

	for _, n := range []int{0, 32, 128} {
		if _, err := NewMasterKey(make([]byte, n)); err == nil {
			t.Errorf("NewMasterKey with a %d-byte seed should fail", n)
		}
	}
}

func TestDeriveChild(t *testing.T) {
	master := testMaster(t)

	c0, err := master.DeriveChild(0)
	if err != nil {
		t.Fatalf("DeriveChild(0) error: %v", err)
	}
	if c0.Depth() != 1 || !c0.IsPrivate() {
		t.Errorf("child depth/privacy = %d/%v, want 1/true", c0.Depth(), c0.IsPrivate())
	}

	c1, err := master.DeriveChild(1)
	if err != nil {
		t.Fatalf("DeriveChild(1) error: %v", err)
	}
	if bytes.Equal(c0.PrivateKeyBytes(), c1.PrivateKeyBytes()) {
		t.Error("sibling indices must not derive the same key")
	}

	again, _ := testMaster(t).DeriveChild(0)
	if !bytes.Equal(c0.PrivateKeyBytes(), again.PrivateKeyBytes()) {
		t.Error("derivation must be deterministic across masters from one seed")
	}
}

func TestDerivePath_MatchesStepwise(t *testing.T) {
	master := testMaster(t)

	step1, _ := master.DeriveChild(PurposeBIP44)
	step2, _ := step1.DeriveChild(CoinTypeChainstate)

	combined, err := master.DerivePath(PurposeBIP44, CoinTypeChainstate)
	if err != nil {
		t.Fatalf("DerivePath() error: %v", err)
	}
	if !bytes.Equal(step2.PrivateKeyBytes(), combined.PrivateKeyBytes()) {
		t.Error("DerivePath must equal sequential DeriveChild calls")
	}
}

func TestDeriveAddress(t *testing.T) {
	master := testMaster(t)

	key, err := master.DeriveAddress(0, ChangeExternal, 0)
	if err != nil {
		t.Fatalf("DeriveAddress() error: %v", err)
	}
	// m / purpose' / coin' / account' / change / index.
	if key.Depth() != 5 {
		t.Errorf("derived key depth = %d, want 5", key.Depth())
	}
	if key.Address().IsZero() {
		t.Error("derived address should not be zero")
	}

	otherAccount, _ := master.DeriveAddress(1, ChangeExternal, 0)
	internalChain, _ := master.DeriveAddress(0, ChangeInternal, 0)
	for name, other := range map[string]*HDKey{"account": otherAccount, "change chain": internalChain} {
		if bytes.Equal(key.PrivateKeyBytes(), other.PrivateKeyBytes()) {
			t.Errorf("varying the %s must derive a different key", name)
		}
	}
}

func TestNeuter(t *testing.T) {
	master := testMaster(t)
	pub := master.Neuter()

	if pub.IsPrivate() {
		t.Error("neutered key should not be private")
	}
	if pub.PrivateKeyBytes() != nil {
		t.Error("neutered key must not expose private bytes")
	}
	if !bytes.Equal(master.PublicKeyBytes(), pub.PublicKeyBytes()) {
		t.Error("neutering must not change the public key")
	}
	if _, err := pub.Signer(); err == nil {
		t.Error("Signer() on a neutered key should fail")
	}

	// BIP-32: public derivation from a neutered parent matches neutering a
	// privately derived child.
	privChild, _ := master.DeriveChild(0)
	pubChild, err := pub.DeriveChild(0)
	if err != nil {
		t.Fatalf("DeriveChild from neutered parent error: %v", err)
	}
	if !bytes.Equal(privChild.Neuter().PublicKeyBytes(), pubChild.PublicKeyBytes()) {
		t.Error("public derivation diverged from private derivation")
	}
}

// TestMnemonicToSignature walks the whole key path the wallet monitor's
// keystore relies on: mnemonic to seed to HD address key, then a signature
// that verifies under pkg/crypto.
func TestMnemonicToSignature(t *testing.T) {
	mnemonic, err := GenerateMnemonic()
	if err != nil {
		t.Fatalf("GenerateMnemonic() error: %v", err)
	}
	seed, err := SeedFromMnemonic(mnemonic, "")
	if err != nil {
		t.Fatalf("SeedFromMnemonic() error: %v", err)
	}
	master, err := NewMasterKey(seed)
	if err != nil {
		t.Fatalf("NewMasterKey() error: %v", err)
	}
	key, err := master.DeriveAddress(0, ChangeExternal, 0)
	if err != nil {
		t.Fatalf("DeriveAddress() error: %v", err)
	}
	if key.Address().IsZero() {
		t.Error("derived address should not be zero")
	}

	signer, err := key.Signer()
	if err != nil {
		t.Fatalf("Signer() error: %v", err)
	}
	hash := crypto.Hash([]byte("transaction data"))
	sig, err := signer.Sign(hash[:])
	if err != nil {
		t.Fatalf("Sign() error: %v", err)
	}
	if !crypto.VerifySignature(hash[:], sig, signer.PublicKey()) {
		t.Error("signature from an HD-derived key should verify")
	}
}
