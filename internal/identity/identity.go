// Package identity manages the key material a node needs to sign
// blocks and identify itself on the gossip mesh: a BIP-39
// mnemonic-backed Ed25519 signing key, and a persisted gossip UUID.
package identity

import (
	"crypto/ed25519"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/tyler-smith/go-bip39"

	"github.com/sqlchain/sqlchaind/internal/crypto"
)

// GenerateMnemonic returns a fresh 24-word BIP-39 mnemonic phrase.
func GenerateMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(256)
	if err != nil {
		return "", fmt.Errorf("identity: generate entropy: %w", err)
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", fmt.Errorf("identity: generate mnemonic: %w", err)
	}
	return mnemonic, nil
}

// KeyFromMnemonic deterministically derives a node's Ed25519 signing
// key from a BIP-39 mnemonic and optional passphrase.
func KeyFromMnemonic(mnemonic, passphrase string) (crypto.PrivateKey, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return crypto.PrivateKey{}, fmt.Errorf("identity: invalid mnemonic")
	}
	seed := bip39.NewSeed(mnemonic, passphrase)
	raw := ed25519.NewKeyFromSeed(seed[:ed25519.SeedSize])
	return crypto.NewPrivateKeyFromBytes(raw)
}

// LoadOrCreateKeyFile reads a Base58Check-encoded private key from
// path, or generates one from a fresh mnemonic and writes both the
// key and the mnemonic (at path+".mnemonic") if path does not exist
// yet. The mnemonic file is the only copy of the recovery phrase;
// losing it does not lose the key itself, which is also on disk.
func LoadOrCreateKeyFile(path string) (crypto.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		return crypto.ParsePrivateKey(strings.TrimSpace(string(data)))
	}
	if !os.IsNotExist(err) {
		return crypto.PrivateKey{}, fmt.Errorf("identity: read key file: %w", err)
	}

	mnemonic, err := GenerateMnemonic()
	if err != nil {
		return crypto.PrivateKey{}, err
	}
	priv, err := KeyFromMnemonic(mnemonic, "")
	if err != nil {
		return crypto.PrivateKey{}, err
	}
	if err := os.WriteFile(path, []byte(priv.Base58Check()+"\n"), 0600); err != nil {
		return crypto.PrivateKey{}, fmt.Errorf("identity: write key file: %w", err)
	}
	if err := os.WriteFile(path+".mnemonic", []byte(mnemonic+"\n"), 0600); err != nil {
		return crypto.PrivateKey{}, fmt.Errorf("identity: write mnemonic file: %w", err)
	}
	return priv, nil
}

// LoadOrCreateUUIDFile reads a node's gossip UUID from path, or
// generates and persists a fresh random one if path does not exist.
func LoadOrCreateUUIDFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		return strings.TrimSpace(string(data)), nil
	}
	if !os.IsNotExist(err) {
		return "", fmt.Errorf("identity: read uuid file: %w", err)
	}

	id := uuid.NewString()
	if err := os.WriteFile(path, []byte(id+"\n"), 0600); err != nil {
		return "", fmt.Errorf("identity: write uuid file: %w", err)
	}
	return id, nil
}
