package crypto

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
)

func TestAddressRoundTrip(t *testing.T) {
	raw := bytes.Repeat([]byte{0x42}, 20)
	addr := MustNewAddress(JobPrefix, raw)
	encoded := addr.String()
	if !strings.HasPrefix(encoded, "job1") {
		t.Fatalf("unexpected encoding %s", encoded)
	}
	decoded, err := DecodeAddress(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !bytes.Equal(decoded.Bytes(), raw) {
		t.Fatalf("bytes mismatch: %x", decoded.Bytes())
	}
	if decoded.Raw() != addr.Raw() {
		t.Fatalf("raw mismatch")
	}
}

func TestNewAddressRejectsWrongLength(t *testing.T) {
	if _, err := NewAddress(JobPrefix, []byte{1, 2, 3}); err == nil {
		t.Fatalf("expected length error")
	}
}

func TestKeystoreRoundTrip(t *testing.T) {
	key, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	path := filepath.Join(t.TempDir(), "keys", "employer.json")
	if err := SaveToKeystoreWithParams(path, key, "secret", LightScrypt); err != nil {
		t.Fatalf("save: %v", err)
	}

	addr, err := KeystoreAddress(path)
	if err != nil {
		t.Fatalf("address: %v", err)
	}
	if addr.Raw() != key.PubKey().Address().Raw() {
		t.Fatalf("keystore address mismatch")
	}

	loaded, err := LoadFromKeystore(path, "secret")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !bytes.Equal(loaded.Bytes(), key.Bytes()) {
		t.Fatalf("loaded key differs")
	}
	if _, err := LoadFromKeystore(path, "wrong"); err == nil {
		t.Fatalf("expected wrong passphrase to fail")
	}
}
