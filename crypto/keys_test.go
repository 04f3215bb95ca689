package crypto

import (
	"bytes"
	"errors"
	"testing"
)

func TestAddressBech32RoundTrip(t *testing.T) {
	key, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	addr := key.PubKey().Address()
	encoded := addr.String()
	if encoded[:3] != "ys1" {
		t.Fatalf("unexpected prefix in %s", encoded)
	}
	decoded, err := DecodeOwner(encoded)
	if err != nil {
		t.Fatalf("decode owner: %v", err)
	}
	if !bytes.Equal(decoded.Bytes(), addr.Bytes()) {
		t.Fatalf("bytes mismatch after round trip")
	}
	if decoded.Array() != addr.Array() {
		t.Fatalf("array mismatch after round trip")
	}
}

func TestDecodeOwnerRejectsVaultPrefix(t *testing.T) {
	vault := VaultAddress("reward")
	if _, err := DecodeOwner(vault.String()); !errors.Is(err, ErrInvalidAddress) {
		t.Fatalf("expected ErrInvalidAddress, got %v", err)
	}
}

func TestVaultAddressDeterministic(t *testing.T) {
	a := VaultAddress("stake")
	b := VaultAddress("stake")
	c := VaultAddress("reward")
	if a.Array() != b.Array() {
		t.Fatalf("vault address not deterministic")
	}
	if a.Array() == c.Array() {
		t.Fatalf("distinct vaults share an address")
	}
}

func TestPrivateKeyBytesRoundTrip(t *testing.T) {
	key, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	restored, err := PrivateKeyFromBytes(key.Bytes())
	if err != nil {
		t.Fatalf("restore key: %v", err)
	}
	if restored.PubKey().Address().Array() != key.PubKey().Address().Array() {
		t.Fatalf("restored key derives a different address")
	}
}
