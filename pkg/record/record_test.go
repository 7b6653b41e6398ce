package record

import (
	"bytes"
	"errors"
	"testing"

	"github.com/logwayss/logwayss/pkg/crypto"
)

func testKey(t *testing.T) []byte {
	t.Helper()
	key, err := crypto.RandomBytes(crypto.KeyLength)
	if err != nil {
		t.Fatalf("RandomBytes() error = %v", err)
	}
	return key
}

func TestSealOpenRoundTrip(t *testing.T) {
	p := crypto.Default{}
	key := testKey(t)
	aad := EntryAAD(1, "01J0000000000000000000000A", "text")

	for _, plaintext := range [][]byte{nil, []byte(`{"text":"hello"}`), bytes.Repeat([]byte("x"), 10000)} {
		sealed, err := Seal(p, key, aad, plaintext)
		if err != nil {
			t.Fatalf("Seal() error = %v", err)
		}
		got, err := Open(p, key, aad, sealed)
		if err != nil {
			t.Fatalf("Open() error = %v", err)
		}
		if !bytes.Equal(got, plaintext) {
			t.Errorf("Open() = %q, want %q", got, plaintext)
		}
	}
}

func TestSealUsesFreshIV(t *testing.T) {
	p := crypto.Default{}
	key := testKey(t)

	a, _ := Seal(p, key, "ctx", []byte("same"))
	b, _ := Seal(p, key, "ctx", []byte("same"))
	if bytes.Equal(a.IV, b.IV) {
		t.Error("Seal() reused an IV")
	}
	if bytes.Equal(a.Ciphertext, b.Ciphertext) {
		t.Error("Seal() produced identical ciphertext for identical input")
	}
}

func TestOpenDetectsTampering(t *testing.T) {
	p := crypto.Default{}
	key := testKey(t)
	aad := EntryAAD(1, "01J0000000000000000000000A", "text")
	sealed, err := Seal(p, key, aad, []byte(`{"text":"hello"}`))
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}

	flip := func(b []byte) []byte {
		c := bytes.Clone(b)
		c[len(c)/2] ^= 0x80
		return c
	}

	tests := []struct {
		name   string
		key    []byte
		aad    string
		sealed Sealed
	}{
		{"wrong key", testKey(t), aad, sealed},
		{"changed id", key, EntryAAD(1, "01J0000000000000000000000B", "text"), sealed},
		{"changed type", key, EntryAAD(1, "01J0000000000000000000000A", "log"), sealed},
		{"changed schema", key, EntryAAD(2, "01J0000000000000000000000A", "text"), sealed},
		{"corrupt ciphertext", key, aad, Sealed{IV: sealed.IV, Tag: sealed.Tag, Ciphertext: flip(sealed.Ciphertext)}},
		{"corrupt tag", key, aad, Sealed{IV: sealed.IV, Tag: flip(sealed.Tag), Ciphertext: sealed.Ciphertext}},
		{"corrupt iv", key, aad, Sealed{IV: flip(sealed.IV), Tag: sealed.Tag, Ciphertext: sealed.Ciphertext}},
		{"truncated tag", key, aad, Sealed{IV: sealed.IV, Tag: sealed.Tag[:8], Ciphertext: sealed.Ciphertext}},
		{"missing iv", key, aad, Sealed{Tag: sealed.Tag, Ciphertext: sealed.Ciphertext}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Open(p, tt.key, tt.aad, tt.sealed)
			if !errors.Is(err, ErrIntegrity) {
				t.Errorf("Open() error = %v, want %v", err, ErrIntegrity)
			}
		})
	}
}

func TestAADFormat(t *testing.T) {
	if got := EntryAAD(1, "abc", "text"); got != "schema=1|id=abc|type=text" {
		t.Errorf("EntryAAD() = %q", got)
	}
	if got := ProfileAAD(1); got != "schema=1|type=profile" {
		t.Errorf("ProfileAAD() = %q", got)
	}
}
