package wallet

import (
	"strings"
	"testing"
)

func TestGenerateMnemonic(t *testing.T) {
	first, err := GenerateMnemonic()
	if err != nil {
		t.Fatalf("GenerateMnemonic() error: %v", err)
	}
	if got := len(strings.Fields(first)); got != 24 {
		t.Errorf("word count = %d, want 24", got)
	}
	if !ValidateMnemonic(first) {
		t.Error("a generated mnemonic should validate")
	}

	second, err := GenerateMnemonic()
	if err != nil {
		t.Fatalf("GenerateMnemonic() error: %v", err)
	}
	if first == second {
		t.Error("two generated mnemonics should not collide")
	}
}

func TestValidateMnemonic(t *testing.T) {
	tests := []struct {
		name     string
		mnemonic string
		valid    bool
	}{
		{"24 words", "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon art", true},
		{"12 words", "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about", true},
		{"empty", "", false},
		{"off-wordlist words", "not a valid mnemonic phrase at all", false},
		{"bad checksum", "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon", false},
		{"single word", "abandon", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidateMnemonic(tt.mnemonic); got != tt.valid {
				t.Errorf("ValidateMnemonic() = %v, want %v", got, tt.valid)
			}
		})
	}
}
