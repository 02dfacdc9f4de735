// Package crypto provides the hashing and signing primitives shared by
// the chain, ledger and gossip layers: SHA-256 digests with a
// leading-zero-bit difficulty metric, Ed25519 keypairs, and Base58Check
// key encoding.
package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// HashSize is the length in bytes of a Hash.
const HashSize = 32

// Hash is a 32-byte digest. The zero value is the all-zero hash used as
// the genesis block's previous pointer.
type Hash [HashSize]byte

// ZeroHash is the all-zero hash, used as genesis.previous.
var ZeroHash = Hash{}

// SHA256 hashes the concatenation of all arguments.
func SHA256(parts ...[]byte) Hash {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
	}
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

// IsZero reports whether h is the all-zero hash.
func (h Hash) IsZero() bool {
	return h == ZeroHash
}

// Bytes returns a copy of the hash's raw bytes.
func (h Hash) Bytes() []byte {
	out := make([]byte, HashSize)
	copy(out, h[:])
	return out
}

// Hex renders the hash as 64 lowercase hex nibbles.
func (h Hash) Hex() string {
	return hex.EncodeToString(h[:])
}

// String implements fmt.Stringer.
func (h Hash) String() string {
	return h.Hex()
}

// MarshalJSON renders the hash as its hex string, the form spec.md §6
// uses on the wire for block hashes.
func (h Hash) MarshalJSON() ([]byte, error) {
	return json.Marshal(h.Hex())
}

// UnmarshalJSON parses a hex string produced by MarshalJSON.
func (h *Hash) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("crypto: unmarshal hash: %w", err)
	}
	parsed, err := ParseHash(s)
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// ParseHash decodes 64 lowercase hex nibbles into a Hash.
func ParseHash(s string) (Hash, error) {
	var h Hash
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("crypto: invalid hash hex: %w", err)
	}
	if len(b) != HashSize {
		return h, fmt.Errorf("crypto: invalid hash length %d, want %d", len(b), HashSize)
	}
	copy(h[:], b)
	return h, nil
}

// LeadingZeroBits counts the number of leading zero bits of the hash
// interpreted as a big-endian bit string. This is the "work" of a block
// whose signature this hash is.
func (h Hash) LeadingZeroBits() int {
	count := 0
	for _, b := range h {
		if b == 0 {
			count += 8
			continue
		}
		for mask := byte(0x80); mask != 0; mask >>= 1 {
			if b&mask != 0 {
				return count
			}
			count++
		}
	}
	return count
}

// Less provides a total order over hashes, used for stable tie-breaks.
func (h Hash) Less(other Hash) bool {
	for i := range h {
		if h[i] != other[i] {
			return h[i] < other[i]
		}
	}
	return false
}
