package types

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestHash_IsZero(t *testing.T) {
	var zero Hash
	if !zero.IsZero() {
		t.Error("zero hash should report IsZero")
	}
	if (Hash{0x01}).IsZero() {
		t.Error("non-zero hash should not report IsZero")
	}
}

func TestHash_StringAndBytes(t *testing.T) {
	h := Hash{0xab}
	h[HashSize-1] = 0xcd

	s := h.String()
	if len(s) != 2*HashSize {
		t.Fatalf("String() length = %d, want %d", len(s), 2*HashSize)
	}
	if !strings.HasPrefix(s, "ab") || !strings.HasSuffix(s, "cd") {
		t.Errorf("String() = %s, want ab...cd", s)
	}

	b := h.Bytes()
	if len(b) != HashSize {
		t.Fatalf("Bytes() length = %d, want %d", len(b), HashSize)
	}
	b[0] = 0xff
	if h[0] != 0xab {
		t.Error("Bytes() must return a copy, not alias the hash")
	}
}

func TestHexToHash(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"valid", "af1349b9f5f9a1a6a0404dea36dcc9499bcb25c9adc112b7cc9a93cae41f3262", false},
		{"all zeros", strings.Repeat("0", 64), false},
		{"too short", "abcd", true},
		{"too long", strings.Repeat("a", 66), true},
		{"not hex", strings.Repeat("g", 64), true},
		{"empty", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := HexToHash(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Errorf("HexToHash(%q) should fail", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("HexToHash(%q) error: %v", tt.input, err)
			}
			if h.String() != tt.input {
				t.Errorf("round trip = %s, want %s", h.String(), tt.input)
			}
		})
	}
}

func TestHash_JSON_RoundTrip(t *testing.T) {
	h := Hash{0x12, 0x34}
	data, err := json.Marshal(h)
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}
	var back Hash
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}
	if back != h {
		t.Errorf("JSON round trip mismatch: got %s, want %s", back, h)
	}

	var fromEmpty Hash
	if err := json.Unmarshal([]byte(`""`), &fromEmpty); err != nil {
		t.Fatalf("Unmarshal empty string error: %v", err)
	}
	if !fromEmpty.IsZero() {
		t.Error("empty JSON string should decode to the zero hash")
	}
}
