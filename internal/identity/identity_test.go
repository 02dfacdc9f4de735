package identity

import (
	"path/filepath"
	"testing"
)

func TestGenerateMnemonicIsValidAndDerivesAKey(t *testing.T) {
	mnemonic, err := GenerateMnemonic()
	if err != nil {
		t.Fatalf("GenerateMnemonic: %v", err)
	}
	priv, err := KeyFromMnemonic(mnemonic, "")
	if err != nil {
		t.Fatalf("KeyFromMnemonic: %v", err)
	}
	if priv.PublicKey().Base58Check() == "" {
		t.Fatal("derived key has an empty public key encoding")
	}
}

func TestKeyFromMnemonicIsDeterministic(t *testing.T) {
	mnemonic, err := GenerateMnemonic()
	if err != nil {
		t.Fatalf("GenerateMnemonic: %v", err)
	}

	a, err := KeyFromMnemonic(mnemonic, "passphrase")
	if err != nil {
		t.Fatalf("KeyFromMnemonic: %v", err)
	}
	b, err := KeyFromMnemonic(mnemonic, "passphrase")
	if err != nil {
		t.Fatalf("KeyFromMnemonic: %v", err)
	}
	if a.Base58Check() != b.Base58Check() {
		t.Fatal("deriving twice from the same mnemonic/passphrase produced different keys")
	}

	c, err := KeyFromMnemonic(mnemonic, "different passphrase")
	if err != nil {
		t.Fatalf("KeyFromMnemonic: %v", err)
	}
	if a.Base58Check() == c.Base58Check() {
		t.Fatal("different passphrases produced the same key")
	}
}

func TestKeyFromMnemonicRejectsInvalidMnemonic(t *testing.T) {
	if _, err := KeyFromMnemonic("not a valid mnemonic phrase at all", ""); err == nil {
		t.Fatal("expected an error for an invalid mnemonic")
	}
}

func TestLoadOrCreateKeyFileCreatesThenReloadsSameKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.key")

	first, err := LoadOrCreateKeyFile(path)
	if err != nil {
		t.Fatalf("LoadOrCreateKeyFile (create): %v", err)
	}

	second, err := LoadOrCreateKeyFile(path)
	if err != nil {
		t.Fatalf("LoadOrCreateKeyFile (reload): %v", err)
	}

	if first.Base58Check() != second.Base58Check() {
		t.Fatal("reloading the key file produced a different key")
	}
}

func TestLoadOrCreateUUIDFileCreatesThenReloadsSameUUID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.uuid")

	first, err := LoadOrCreateUUIDFile(path)
	if err != nil {
		t.Fatalf("LoadOrCreateUUIDFile (create): %v", err)
	}
	if first == "" {
		t.Fatal("expected a non-empty UUID")
	}

	second, err := LoadOrCreateUUIDFile(path)
	if err != nil {
		t.Fatalf("LoadOrCreateUUIDFile (reload): %v", err)
	}
	if first != second {
		t.Fatalf("reloading the uuid file produced a different value: %q vs %q", second, first)
	}
}
