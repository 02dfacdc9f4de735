// Package chaintx implements the signed-statement transaction model:
// an invoker's SQL statement, scoped to a database name and ordered by
// a per-invoker monotonic counter.
package chaintx

import (
	"encoding/binary"
	"strings"

	"github.com/sqlchain/sqlchaind/internal/chainerr"
	"github.com/sqlchain/sqlchaind/internal/crypto"
	"github.com/sqlchain/sqlchaind/internal/sqlast"
)

const maxCanonicalSize = 10 * 1024

// alwaysReplayedTables names the metadata-visible tables whose
// transactions must be applied even when the node is only validating,
// not enforcing grants yet — currently just grants itself.
var alwaysReplayedTables = map[string]bool{
	"grants": true,
}

// Transaction is a signed SQL statement submitted by an invoker.
type Transaction struct {
	Invoker   crypto.PublicKey
	Database  string
	Counter   uint64
	Statement sqlast.Statement
	Signature crypto.Signature // nil until signed
}

// SigningBytes renders the canonical bytes a signature is computed
// over: invoker raw bytes, UTF-8 database name, little-endian counter,
// UTF-8 of the statement's canonical rendering.
func (t *Transaction) SigningBytes() []byte {
	var buf []byte
	buf = append(buf, t.Invoker.Raw()...)
	buf = append(buf, []byte(t.Database)...)
	var counterLE [8]byte
	binary.LittleEndian.PutUint64(counterLE[:], t.Counter)
	buf = append(buf, counterLE[:]...)
	buf = append(buf, []byte(sqlast.CanonicalSQL(t.Statement))...)
	return buf
}

// Sign signs t in place with priv and returns t for chaining.
func (t *Transaction) Sign(priv crypto.PrivateKey) *Transaction {
	t.Invoker = priv.PublicKey()
	t.Signature = priv.Sign(t.SigningBytes())
	return t
}

// SignatureValid reports whether t carries a valid Ed25519 signature
// over its canonical signing bytes and stays within the 10 KiB size
// bound spec.md §3 places on canonical transaction bytes.
func (t *Transaction) SignatureValid() bool {
	signing := t.SigningBytes()
	if len(signing) > maxCanonicalSize {
		return false
	}
	return t.Invoker.Verify(signing, t.Signature)
}

// Verify returns a typed error instead of a bool, for callers (like
// chainstore's block application) that need to report *why* a
// transaction was rejected.
func (t *Transaction) Verify() error {
	if len(t.SigningBytes()) > maxCanonicalSize {
		return chainerr.New(chainerr.FormatError, "transaction exceeds 10 KiB canonical size")
	}
	if !t.Invoker.Verify(t.SigningBytes(), t.Signature) {
		return chainerr.New(chainerr.SignatureInvalid, "transaction signature does not verify")
	}
	return nil
}

// RequiredPrivileges forwards to the parsed statement.
func (t *Transaction) RequiredPrivileges() []sqlast.Privilege {
	return t.Statement.RequiredPrivileges()
}

// ShouldAlwaysBeReplayed reports whether t touches a metadata-visible
// table (currently just grants) and must therefore be applied even
// while the node is validate-only and not yet enforcing grants.
func (t *Transaction) ShouldAlwaysBeReplayed() bool {
	for _, p := range t.RequiredPrivileges() {
		if alwaysReplayedTables[strings.ToLower(p.Table)] {
			return true
		}
	}
	return false
}

// IdentityHash is the invoker's identity hash, the key _users.counter
// and grants.user rows are addressed by.
func (t *Transaction) IdentityHash() crypto.Hash {
	return t.Invoker.IdentityHash()
}
