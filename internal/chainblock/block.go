// Package chainblock implements the block header, genesis/transaction
// payload variants, proof-of-work signing and mining.
package chainblock

import (
	"encoding/binary"

	"github.com/sqlchain/sqlchaind/internal/chainerr"
	"github.com/sqlchain/sqlchaind/internal/chaintx"
	"github.com/sqlchain/sqlchaind/internal/crypto"
)

const (
	maxTransactions   = 100
	maxPayloadBytes   = 1 << 20 // 1 MiB
	currentVersion    = 1
)

// Payload is either a genesis Seed or an ordered Transactions list,
// never both.
type Payload struct {
	Seed         string // set only for the genesis block (Header.Previous == ZeroHash)
	Transactions []*chaintx.Transaction
}

// IsGenesis reports whether p is a genesis seed payload.
func (p *Payload) IsGenesis() bool { return p.Transactions == nil }

// SigningBytes is the payload's contribution to a block's canonical
// signing bytes: the seed's UTF-8 bytes for genesis, or the
// concatenated raw signatures of its transactions in payload order.
func (p *Payload) SigningBytes() []byte {
	if p.IsGenesis() {
		return []byte(p.Seed)
	}
	var buf []byte
	for _, tx := range p.Transactions {
		buf = append(buf, []byte(tx.Signature)...)
	}
	return buf
}

// Header is a block's proof-of-work envelope.
type Header struct {
	Version   uint8
	Index     uint64
	Previous  crypto.Hash
	Miner     crypto.Hash // identity hash of the mining key, H(minerPubKey)
	Timestamp uint64
	Nonce     uint64
	Signature crypto.Hash // zero until mined
}

// Block is a Header plus its Payload.
type Block struct {
	Header
	Payload Payload
}

// SigningBytes renders the canonical bytes block.Signature is the
// SHA-256 of: le64(index) || le64(nonce) || previous[32] || u8(version)
// || miner[32] || le64(timestamp) || payloadSigningBytes.
func (b *Block) SigningBytes() []byte {
	var buf []byte
	buf = appendLE64(buf, b.Index)
	buf = appendLE64(buf, b.Nonce)
	buf = append(buf, b.Previous.Bytes()...)
	buf = append(buf, byte(b.Version))
	buf = append(buf, b.Miner.Bytes()...)
	buf = appendLE64(buf, b.Timestamp)
	buf = append(buf, b.Payload.SigningBytes()...)
	return buf
}

func appendLE64(buf []byte, v uint64) []byte {
	var le [8]byte
	binary.LittleEndian.PutUint64(le[:], v)
	return append(buf, le[:]...)
}

// Hash recomputes the block's signature hash from its current fields
// without mutating Signature.
func (b *Block) Hash() crypto.Hash {
	return crypto.SHA256(b.SigningBytes())
}

// Work is the number of leading zero bits of the block's signature.
func (b *Block) Work() int {
	return b.Signature.LeadingZeroBits()
}

// IsGenesis reports whether b is the chain's root block.
func (b *Block) IsGenesis() bool {
	return b.Previous.IsZero()
}

// Append adds tx to b's payload if and only if the block holds fewer
// than 100 transactions before the append, the resulting payload
// signing bytes stay within 1 MiB, and no existing transaction shares
// tx's signature (in which case Append is idempotent and returns
// false, not an error).
func (b *Block) Append(tx *chaintx.Transaction) (bool, error) {
	if b.Payload.IsGenesis() {
		return false, chainerr.New(chainerr.PayloadInvalid, "cannot append a transaction to a genesis block")
	}
	for _, existing := range b.Payload.Transactions {
		if string(existing.Signature) == string(tx.Signature) {
			return false, nil
		}
	}
	if len(b.Payload.Transactions) >= maxTransactions {
		return false, chainerr.New(chainerr.TooManyTransactions, "block already holds the maximum of 100 transactions")
	}
	candidateSize := len(b.Payload.SigningBytes()) + len(tx.Signature)
	if candidateSize > maxPayloadBytes {
		return false, chainerr.New(chainerr.PayloadInvalid, "appending transaction would exceed the 1 MiB payload limit")
	}
	b.Payload.Transactions = append(b.Payload.Transactions, tx)
	return true, nil
}

// Validate checks the structural invariants spec.md §3 places on a
// block independent of chain context: payload shape and limits, every
// transaction's signature, and that Signature equals the canonical
// hash. Whether the work meets the required difficulty is checked
// separately by the caller.
func (b *Block) Validate() error {
	if b.Payload.IsGenesis() {
		if len(b.Payload.Transactions) != 0 {
			return chainerr.New(chainerr.PayloadInvalid, "genesis block must have no transactions")
		}
	} else if len(b.Payload.Transactions) == 0 {
		return chainerr.New(chainerr.PayloadInvalid, "non-genesis block must have at least one transaction")
	}
	if len(b.Payload.Transactions) > maxTransactions {
		return chainerr.New(chainerr.TooManyTransactions, "block exceeds the maximum of 100 transactions")
	}
	if len(b.Payload.SigningBytes()) > maxPayloadBytes {
		return chainerr.New(chainerr.PayloadInvalid, "block payload exceeds 1 MiB")
	}
	seen := make(map[string]bool, len(b.Payload.Transactions))
	for _, tx := range b.Payload.Transactions {
		sig := string(tx.Signature)
		if seen[sig] {
			return chainerr.New(chainerr.PayloadInvalid, "block contains a duplicate transaction signature")
		}
		seen[sig] = true
		if err := tx.Verify(); err != nil {
			return err
		}
	}
	if b.Signature != b.Hash() {
		return chainerr.New(chainerr.SignatureInvalid, "block signature does not match its canonical hash")
	}
	return nil
}

// Mine searches for a nonce that makes the block's hash satisfy
// difficulty, starting from startNonce and incrementing until found or
// shouldStop (checked before every attempt, may be nil) reports true.
// It sets Timestamp once at entry. Returns false if shouldStop ended
// the search before a solution was found.
func (b *Block) Mine(timestamp uint64, startNonce uint64, difficulty int, shouldStop func() bool) bool {
	b.Timestamp = timestamp
	b.Nonce = startNonce
	for {
		if shouldStop != nil && shouldStop() {
			return false
		}
		hash := b.Hash()
		if hash.LeadingZeroBits() >= difficulty {
			b.Signature = hash
			return true
		}
		b.Nonce++
	}
}

// NewGenesis builds the unsigned root block for seed, to be mined by
// the caller (spec.md §8 scenario 1).
func NewGenesis(seed string, miner crypto.Hash) *Block {
	return &Block{
		Header: Header{
			Version:  currentVersion,
			Index:    0,
			Previous: crypto.ZeroHash,
			Miner:    miner,
		},
		Payload: Payload{Seed: seed},
	}
}

// NewCandidate builds the unsigned successor of previous, ready to
// accumulate transactions and be mined.
func NewCandidate(previous *Block, miner crypto.Hash) *Block {
	return &Block{
		Header: Header{
			Version:  currentVersion,
			Index:    previous.Index + 1,
			Previous: previous.Signature,
			Miner:    miner,
		},
		Payload: Payload{Transactions: []*chaintx.Transaction{}},
	}
}
