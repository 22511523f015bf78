package types

import (
	"fmt"
	"strings"
)

// BIP-173 data character set. Index is the 5-bit value.
const bech32Charset = "qpzry9x8gf2tvdw0s3jn54khce6mua7l"

var bech32Values [128]int8

func init() {
	for i := range bech32Values {
		bech32Values[i] = -1
	}
	for i, c := range bech32Charset {
		bech32Values[c] = int8(i)
	}
}

// bech32Encode renders hrp and an arbitrary byte payload as a bech32
// string: hrp, the "1" separator, the payload regrouped into 5-bit
// characters, and a 6-character checksum.
func bech32Encode(hrp string, payload []byte) (string, error) {
	if hrp == "" {
		return "", fmt.Errorf("bech32: empty HRP")
	}
	for _, c := range hrp {
		if c < 33 || c > 126 {
			return "", fmt.Errorf("bech32: invalid HRP character %q", c)
		}
	}

	grouped, err := regroupBits(payload, 8, 5, true)
	if err != nil {
		return "", fmt.Errorf("bech32: regroup bits: %w", err)
	}

	var sb strings.Builder
	sb.Grow(len(hrp) + 1 + len(grouped) + 6)
	sb.WriteString(hrp)
	sb.WriteByte('1')
	for _, v := range grouped {
		sb.WriteByte(bech32Charset[v])
	}
	for _, v := range bech32Checksum(hrp, grouped) {
		sb.WriteByte(bech32Charset[v])
	}
	return sb.String(), nil
}

// bech32Decode parses a bech32 string back into its HRP and byte payload,
// verifying the checksum. Mixed-case input is rejected per BIP-173.
func bech32Decode(s string) (string, []byte, error) {
	if s == "" {
		return "", nil, fmt.Errorf("bech32: empty string")
	}

	if strings.ToLower(s) != s && strings.ToUpper(s) != s {
		return "", nil, fmt.Errorf("bech32: mixed case")
	}
	s = strings.ToLower(s)

	sep := strings.LastIndex(s, "1")
	if sep < 1 {
		return "", nil, fmt.Errorf("bech32: missing separator")
	}
	if sep+7 > len(s) {
		return "", nil, fmt.Errorf("bech32: too short")
	}
	hrp, body := s[:sep], s[sep+1:]

	grouped := make([]byte, len(body))
	for i, c := range body {
		if c > 127 || bech32Values[c] < 0 {
			return "", nil, fmt.Errorf("bech32: invalid character %q", c)
		}
		grouped[i] = byte(bech32Values[c])
	}

	if bech32Polymod(append(bech32ExpandHRP(hrp), grouped...)) != 1 {
		return "", nil, fmt.Errorf("bech32: invalid checksum")
	}

	payload, err := regroupBits(grouped[:len(grouped)-6], 5, 8, false)
	if err != nil {
		return "", nil, fmt.Errorf("bech32: regroup bits: %w", err)
	}
	return hrp, payload, nil
}

func bech32Polymod(values []byte) uint32 {
	gen := [5]uint32{0x3b6a57b2, 0x26508e6d, 0x1ea119fa, 0x3d4233dd, 0x2a1462b3}
	chk := uint32(1)
	for _, v := range values {
		top := chk >> 25
		chk = (chk&0x1ffffff)<<5 ^ uint32(v)
		for i := 0; i < 5; i++ {
			if (top>>uint(i))&1 == 1 {
				chk ^= gen[i]
			}
		}
	}
	return chk
}

func bech32ExpandHRP(hrp string) []byte {
	out := make([]byte, 0, len(hrp)*2+1)
	for _, c := range hrp {
		out = append(out, byte(c>>5))
	}
	out = append(out, 0)
	for _, c := range hrp {
		out = append(out, byte(c&31))
	}
	return out
}

func bech32Checksum(hrp string, grouped []byte) []byte {
	values := append(bech32ExpandHRP(hrp), grouped...)
	values = append(values, 0, 0, 0, 0, 0, 0)
	polymod := bech32Polymod(values) ^ 1
	chk := make([]byte, 6)
	for i := range chk {
		chk[i] = byte((polymod >> uint(5*(5-i))) & 31)
	}
	return chk
}

// regroupBits repacks a byte slice from fromBits-sized groups into
// toBits-sized ones. pad allows a zero-filled partial final group on
// encode; decode rejects non-zero padding.
func regroupBits(data []byte, fromBits, toBits uint, pad bool) ([]byte, error) {
	acc := uint32(0)
	bits := uint(0)
	maxv := uint32((1 << toBits) - 1)
	var out []byte

	for _, b := range data {
		if uint32(b)>>fromBits != 0 {
			return nil, fmt.Errorf("invalid data byte: %d", b)
		}
		acc = acc<<fromBits | uint32(b)
		bits += fromBits
		for bits >= toBits {
			bits -= toBits
			out = append(out, byte((acc>>bits)&maxv))
		}
	}

	if pad {
		if bits > 0 {
			out = append(out, byte((acc<<(toBits-bits))&maxv))
		}
		return out, nil
	}
	if bits >= fromBits || (acc<<(toBits-bits))&maxv != 0 {
		return nil, fmt.Errorf("non-zero padding")
	}
	return out, nil
}
