package crypto

import (
	"bytes"
	"strings"
	"testing"
)

func TestAddressEncodeDecodeRoundTrip(t *testing.T) {
	key, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	addr := key.PubKey().Address()

	encoded := addr.String()
	if !strings.HasPrefix(encoded, string(LendPrefix)) {
		t.Fatalf("expected %q prefix, got %q", LendPrefix, encoded)
	}

	decoded, err := DecodeAddress(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !decoded.Equal(addr) {
		t.Fatalf("round trip mismatch: %q vs %q", decoded, addr)
	}
	if decoded.Prefix() != LendPrefix {
		t.Fatalf("expected prefix %q, got %q", LendPrefix, decoded.Prefix())
	}
}

func TestDecodeAddressRejectsGarbage(t *testing.T) {
	if _, err := DecodeAddress("not-a-bech32-address"); err == nil {
		t.Fatal("expected decode error")
	}
	// Valid bech32 but wrong payload length.
	short := Address{prefix: LendPrefix, bytes: []byte{0x01, 0x02}}.String()
	if _, err := DecodeAddress(short); err == nil {
		t.Fatal("expected length error")
	}
}

func TestAddressIsZero(t *testing.T) {
	if !(Address{}).IsZero() {
		t.Fatal("empty address must be zero")
	}
	if !NewAddress(LendPrefix, make([]byte, AddressLength)).IsZero() {
		t.Fatal("all-zero address must be zero")
	}
	raw := make([]byte, AddressLength)
	raw[19] = 0x01
	if NewAddress(LendPrefix, raw).IsZero() {
		t.Fatal("non-zero address must not be zero")
	}
}

func TestPrivateKeySerialization(t *testing.T) {
	key, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	restored, err := PrivateKeyFromBytes(key.Bytes())
	if err != nil {
		t.Fatalf("restore key: %v", err)
	}
	if !bytes.Equal(restored.Bytes(), key.Bytes()) {
		t.Fatal("restored key differs from original")
	}
	if !restored.PubKey().Address().Equal(key.PubKey().Address()) {
		t.Fatal("restored key must yield the same address")
	}
}
