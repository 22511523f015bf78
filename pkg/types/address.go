package types

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// AddressSize is the length of an address in bytes: a 160-bit public key
// hash, the payload a pay-to-address script carries.
const AddressSize = 20

// Address HRP (human-readable part) constants for bech32 display.
const (
	MainnetHRP = "cst"
	TestnetHRP = "tcst"
)

// activeHRP is the HRP String and MarshalJSON use. Set once at startup via
// SetAddressHRP; default is mainnet.
var activeHRP = MainnetHRP

// SetAddressHRP selects the HRP addresses render with. Call once at
// startup, before any address is displayed or persisted.
func SetAddressHRP(hrp string) {
	activeHRP = hrp
}

// GetAddressHRP returns the HRP addresses currently render with.
func GetAddressHRP() string {
	return activeHRP
}

// Address is a 160-bit public key hash.
type Address [AddressSize]byte

// IsZero reports whether the address is all zeros.
func (a Address) IsZero() bool {
	return a == Address{}
}

// String returns the bech32 form of the address under the active HRP.
func (a Address) String() string {
	s, err := bech32Encode(activeHRP, a[:])
	if err != nil {
		// Unreachable for a fixed-size payload and a sane HRP; fall back to
		// something still unambiguous rather than panic in a String method.
		return activeHRP + ":" + hex.EncodeToString(a[:])
	}
	return s
}

// Hex returns the raw hex form of the address, no HRP.
func (a Address) Hex() string {
	return hex.EncodeToString(a[:])
}

// Bytes returns a copy of the address bytes.
func (a Address) Bytes() []byte {
	b := make([]byte, AddressSize)
	copy(b, a[:])
	return b
}

// MarshalJSON renders the address in bech32.
func (a Address) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON accepts bech32 or raw hex.
func (a *Address) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*a = Address{}
		return nil
	}
	parsed, err := ParseAddress(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// ParseAddress parses a bech32 address string under any HRP, or a raw
// 40-character hex string.
func ParseAddress(s string) (Address, error) {
	if s == "" {
		return Address{}, fmt.Errorf("empty address")
	}

	if strings.Contains(s, "1") && !isRawHex(s) {
		_, data, err := bech32Decode(s)
		if err != nil {
			return Address{}, fmt.Errorf("invalid bech32 address: %w", err)
		}
		if len(data) != AddressSize {
			return Address{}, fmt.Errorf("address must be %d bytes, got %d", AddressSize, len(data))
		}
		var a Address
		copy(a[:], data)
		return a, nil
	}

	return HexToAddress(s)
}

// HexToAddress converts a raw hex string to an Address. The string must be
// exactly 2*AddressSize hex characters; for user-facing input that may be
// bech32, use ParseAddress.
func HexToAddress(s string) (Address, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Address{}, fmt.Errorf("invalid hex: %w", err)
	}
	if len(b) != AddressSize {
		return Address{}, fmt.Errorf("address must be %d bytes, got %d", AddressSize, len(b))
	}
	var a Address
	copy(a[:], b)
	return a, nil
}

func isRawHex(s string) bool {
	if len(s) != 2*AddressSize {
		return false
	}
	for _, c := range s {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')) {
			return false
		}
	}
	return true
}
