package crypto

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestAddressBech32RoundTrip(t *testing.T) {
	key, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	addr := key.PubKey().Address()
	encoded := addr.String()
	if !strings.HasPrefix(encoded, "tkt1") {
		t.Fatalf("expected tkt1 prefix, got %s", encoded)
	}
	raw, err := ParseAccount(encoded)
	if err != nil {
		t.Fatalf("parse account: %v", err)
	}
	if raw != addr.Raw() {
		t.Fatalf("decoded address mismatch")
	}
}

func TestParseAccountHex(t *testing.T) {
	raw, err := ParseAccount("0x00000000000000000000000000000000000000ff")
	if err != nil {
		t.Fatalf("parse hex: %v", err)
	}
	if raw[19] != 0xff {
		t.Fatalf("unexpected last byte %x", raw[19])
	}
	if _, err := ParseAccount("0x1234"); err == nil {
		t.Fatalf("expected short hex address to fail")
	}
	if _, err := ParseAccount(""); err == nil {
		t.Fatalf("expected empty address to fail")
	}
}

func TestParseAccountRejectsForeignPrefix(t *testing.T) {
	foreign := NewAddress(AddressPrefix("btc"), make([]byte, AddressLength)).String()
	if _, err := ParseAccount(foreign); err == nil {
		t.Fatalf("expected foreign prefix to be rejected")
	}
}

func TestKeystoreRoundTrip(t *testing.T) {
	key, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	path := filepath.Join(t.TempDir(), "owner.keystore")
	if err := SaveToKeystore(path, key, "secret"); err != nil {
		t.Fatalf("save keystore: %v", err)
	}
	loaded, err := LoadFromKeystore(path, "secret")
	if err != nil {
		t.Fatalf("load keystore: %v", err)
	}
	if loaded.PubKey().Address().String() != key.PubKey().Address().String() {
		t.Fatalf("loaded key does not match")
	}
	if _, err := LoadFromKeystore(path, "wrong"); err == nil {
		t.Fatalf("expected wrong passphrase to fail")
	}
}
