package crypto

import (
	"bytes"
	"testing"
)

func TestHashLeadingZeroBits(t *testing.T) {
	cases := []struct {
		name string
		h    Hash
		want int
	}{
		{"all zero", Hash{}, 256},
		{"first bit set", Hash{0x80}, 0},
		{"one leading zero byte", Hash{0x00, 0x40}, 9},
		{"single bit in last byte", func() Hash {
			var h Hash
			h[HashSize-1] = 0x01
			return h
		}(), 255},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := c.h.LeadingZeroBits(); got != c.want {
				t.Errorf("LeadingZeroBits() = %d, want %d", got, c.want)
			}
		})
	}
}

func TestHashHexRoundTrip(t *testing.T) {
	h := SHA256([]byte("hello world"))
	parsed, err := ParseHash(h.Hex())
	if err != nil {
		t.Fatalf("ParseHash: %v", err)
	}
	if parsed != h {
		t.Errorf("round trip mismatch: got %s, want %s", parsed.Hex(), h.Hex())
	}
}

func TestParseHashInvalidLength(t *testing.T) {
	if _, err := ParseHash("abcd"); err == nil {
		t.Error("expected error for short hash hex")
	}
}

func TestKeyPairSignVerify(t *testing.T) {
	pub, priv, err := GenerateKeyPair(nil)
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	if !priv.PublicKey().Equal(pub) {
		t.Fatal("PrivateKey.PublicKey() does not match generated public key")
	}

	msg := []byte("transaction payload")
	sig := priv.Sign(msg)
	if !pub.Verify(msg, sig) {
		t.Error("Verify() = false for a valid signature")
	}
	if pub.Verify([]byte("tampered"), sig) {
		t.Error("Verify() = true for a tampered message")
	}

	other, _, err := GenerateKeyPair(nil)
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	if other.Verify(msg, sig) {
		t.Error("Verify() = true under the wrong public key")
	}
}

func TestPublicKeyBase58CheckRoundTrip(t *testing.T) {
	pub, _, err := GenerateKeyPair(nil)
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	encoded := pub.Base58Check()
	decoded, err := ParsePublicKey(encoded)
	if err != nil {
		t.Fatalf("ParsePublicKey: %v", err)
	}
	if !decoded.Equal(pub) {
		t.Error("Base58Check round trip mismatch")
	}
}

func TestPrivateKeyBase58CheckRoundTrip(t *testing.T) {
	_, priv, err := GenerateKeyPair(nil)
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	encoded := priv.Base58Check()
	decoded, err := ParsePrivateKey(encoded)
	if err != nil {
		t.Fatalf("ParsePrivateKey: %v", err)
	}
	if !bytes.Equal(decoded.Raw(), priv.Raw()) {
		t.Error("Base58Check round trip mismatch")
	}
}

func TestParsePublicKeyWrongVersion(t *testing.T) {
	_, priv, err := GenerateKeyPair(nil)
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	// A private key's encoding carries version 11, not 88.
	if _, err := ParsePublicKey(priv.Base58Check()); err == nil {
		t.Error("expected version mismatch error")
	}
}

func TestIdentityHashStable(t *testing.T) {
	pub, _, err := GenerateKeyPair(nil)
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	if pub.IdentityHash() != SHA256(pub.Raw()) {
		t.Error("IdentityHash must equal SHA256(raw bytes)")
	}
}
