package crypto

import (
	"errors"
	"strings"
	"testing"
)

func testKey(fill byte) []byte {
	key := make([]byte, KeyBytes)
	for i := range key {
		key[i] = fill
	}
	return key
}

func TestSealOpenRoundTrip(t *testing.T) {
	b, err := newBoxer(testKey(7), 1)
	if err != nil {
		t.Fatalf("newBoxer: %v", err)
	}

	for _, plaintext := range []string{
		"",
		"hello",
		"binance-api-key-abc123XYZ",
		strings.Repeat("long secret ", 40),
		"非ASCII 🔐",
	} {
		sealed, err := b.seal(plaintext)
		if err != nil {
			t.Fatalf("seal(%q): %v", plaintext, err)
		}
		if !strings.HasPrefix(sealed, "v1:") {
			t.Fatalf("sealed = %q, want v1: envelope", sealed)
		}
		got, err := b.open(sealed)
		if err != nil {
			t.Fatalf("open(%q): %v", plaintext, err)
		}
		if got != plaintext {
			t.Fatalf("round trip = %q, want %q", got, plaintext)
		}
	}
}

func TestSealIsNonDeterministic(t *testing.T) {
	b, _ := newBoxer(testKey(7), 1)
	c1, _ := b.seal("same-secret")
	c2, _ := b.seal("same-secret")
	if c1 == c2 {
		t.Fatal("random nonce must make repeated seals differ")
	}
}

func TestOpenRejectsGarbage(t *testing.T) {
	b, _ := newBoxer(testKey(7), 1)
	for _, bad := range []string{
		"",
		"plaintext",
		"v1:",
		"v1:!!!not-base64",
		"v0:AAAA",
		"vx:AAAA",
	} {
		if _, err := b.open(bad); err == nil {
			t.Fatalf("open(%q) should fail", bad)
		}
	}
}

func TestOpenRejectsWrongKey(t *testing.T) {
	a, _ := newBoxer(testKey(1), 1)
	z, _ := newBoxer(testKey(2), 1)
	sealed, _ := a.seal("secret")
	if _, err := z.open(sealed); !errors.Is(err, ErrOpenFailed) {
		t.Fatalf("err = %v, want ErrOpenFailed", err)
	}
}

func TestBadKeyLength(t *testing.T) {
	if _, err := newBoxer([]byte("short"), 1); !errors.Is(err, ErrBadKeyLength) {
		t.Fatalf("err = %v, want ErrBadKeyLength", err)
	}
}

func TestVersionParsing(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"v1:data", 1},
		{"v2:data", 2},
		{"v10:data", 10},
		{"v0:data", 0},
		{"v-1:data", 0},
		{"vX:data", 0},
		{"plaintext", 0},
		{"", 0},
	}
	for _, tt := range tests {
		if got := Version(tt.in); got != tt.want {
			t.Errorf("Version(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
