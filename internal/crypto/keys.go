package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"

	edwards "filippo.io/edwards25519"
	"github.com/btcsuite/btcd/btcutil/base58"
)

// Base58Check version bytes for the two key kinds.
const (
	versionPublicKey  byte = 88
	versionPrivateKey byte = 11
)

// SignatureSize is the length in bytes of an Ed25519 signature.
const SignatureSize = ed25519.SignatureSize

// Signature is a raw Ed25519 signature.
type Signature []byte

// PublicKey wraps an Ed25519 public key.
type PublicKey struct {
	raw ed25519.PublicKey
}

// PrivateKey wraps an Ed25519 private key.
type PrivateKey struct {
	raw ed25519.PrivateKey
}

// GenerateKeyPair creates a fresh Ed25519 keypair using rnd (crypto/rand.Reader
// in production, a deterministic reader in tests).
func GenerateKeyPair(rnd io.Reader) (PublicKey, PrivateKey, error) {
	if rnd == nil {
		rnd = rand.Reader
	}
	pub, priv, err := ed25519.GenerateKey(rnd)
	if err != nil {
		return PublicKey{}, PrivateKey{}, fmt.Errorf("crypto: generate keypair: %w", err)
	}
	return PublicKey{raw: pub}, PrivateKey{raw: priv}, nil
}

// NewPublicKeyFromBytes wraps a raw 32-byte Ed25519 public key, validating
// that it decodes to a point on the curve.
func NewPublicKeyFromBytes(raw []byte) (PublicKey, error) {
	if len(raw) != ed25519.PublicKeySize {
		return PublicKey{}, fmt.Errorf("crypto: invalid public key length %d", len(raw))
	}
	if _, err := new(edwards.Point).SetBytes(raw); err != nil {
		return PublicKey{}, fmt.Errorf("crypto: invalid public key point: %w", err)
	}
	out := make(ed25519.PublicKey, ed25519.PublicKeySize)
	copy(out, raw)
	return PublicKey{raw: out}, nil
}

// NewPrivateKeyFromBytes wraps a raw 64-byte Ed25519 private key.
func NewPrivateKeyFromBytes(raw []byte) (PrivateKey, error) {
	if len(raw) != ed25519.PrivateKeySize {
		return PrivateKey{}, fmt.Errorf("crypto: invalid private key length %d", len(raw))
	}
	out := make(ed25519.PrivateKey, ed25519.PrivateKeySize)
	copy(out, raw)
	return PrivateKey{raw: out}, nil
}

// Raw returns a copy of the public key's raw 32 bytes.
func (p PublicKey) Raw() []byte {
	out := make([]byte, len(p.raw))
	copy(out, p.raw)
	return out
}

// IsZero reports whether this is the unset zero value.
func (p PublicKey) IsZero() bool {
	return len(p.raw) == 0
}

// IdentityHash returns SHA256 of the public key's raw bytes.
func (p PublicKey) IdentityHash() Hash {
	return SHA256(p.raw)
}

// Verify checks sig over msg under this public key.
func (p PublicKey) Verify(msg []byte, sig Signature) bool {
	if p.IsZero() || len(sig) != SignatureSize {
		return false
	}
	return ed25519.Verify(p.raw, msg, []byte(sig))
}

// Base58Check encodes the public key with version byte 88.
func (p PublicKey) Base58Check() string {
	return base58.CheckEncode(p.raw, versionPublicKey)
}

// ParsePublicKey decodes a Base58Check-encoded public key.
func ParsePublicKey(s string) (PublicKey, error) {
	raw, version, err := base58.CheckDecode(s)
	if err != nil {
		return PublicKey{}, fmt.Errorf("crypto: decode public key: %w", err)
	}
	if version != versionPublicKey {
		return PublicKey{}, fmt.Errorf("crypto: unexpected public key version byte %d", version)
	}
	return NewPublicKeyFromBytes(raw)
}

// MarshalJSON renders the public key as its Base58Check string, the
// form spec.md §6 uses for a transaction's invoker field on the wire.
func (p PublicKey) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.Base58Check())
}

// UnmarshalJSON parses a Base58Check string produced by MarshalJSON.
func (p *PublicKey) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("crypto: unmarshal public key: %w", err)
	}
	parsed, err := ParsePublicKey(s)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Equal reports whether two public keys are byte-identical.
func (p PublicKey) Equal(other PublicKey) bool {
	if len(p.raw) != len(other.raw) {
		return false
	}
	for i := range p.raw {
		if p.raw[i] != other.raw[i] {
			return false
		}
	}
	return true
}

// Raw returns a copy of the private key's raw 64 bytes.
func (k PrivateKey) Raw() []byte {
	out := make([]byte, len(k.raw))
	copy(out, k.raw)
	return out
}

// PublicKey derives the corresponding public key.
func (k PrivateKey) PublicKey() PublicKey {
	pub := k.raw.Public().(ed25519.PublicKey)
	return PublicKey{raw: pub}
}

// Sign produces an Ed25519 signature over msg.
func (k PrivateKey) Sign(msg []byte) Signature {
	return Signature(ed25519.Sign(k.raw, msg))
}

// Base58Check encodes the private key with version byte 11.
func (k PrivateKey) Base58Check() string {
	return base58.CheckEncode(k.raw, versionPrivateKey)
}

// ParsePrivateKey decodes a Base58Check-encoded private key.
func ParsePrivateKey(s string) (PrivateKey, error) {
	raw, version, err := base58.CheckDecode(s)
	if err != nil {
		return PrivateKey{}, fmt.Errorf("crypto: decode private key: %w", err)
	}
	if version != versionPrivateKey {
		return PrivateKey{}, fmt.Errorf("crypto: unexpected private key version byte %d", version)
	}
	return NewPrivateKeyFromBytes(raw)
}
