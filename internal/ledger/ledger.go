// Package ledger holds the orphan cache and the splice/fork-resolution
// state machine that decides how a newly received block folds into
// (or waits on) the canonical chain held by internal/chainstore.
package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/sqlchain/sqlchaind/internal/chainblock"
	"github.com/sqlchain/sqlchaind/internal/chainstore"
	"github.com/sqlchain/sqlchaind/internal/chaintx"
	"github.com/sqlchain/sqlchaind/internal/crypto"
	"github.com/sqlchain/sqlchaind/pkg/logging"
)

// maxOrphans bounds the orphan cache so an adversarial peer feeding
// unconnectable blocks can't grow it without limit; the oldest entry
// is evicted to make room for a new one past the cap.
const maxOrphans = 256

// Ledger owns the orphan cache on top of one chainstore.Blockchain and
// arbitrates how newly received blocks splice into its canonical tip.
type Ledger struct {
	mu sync.Mutex

	chain *chainstore.Blockchain
	log   *logging.Logger

	orphansByHash     map[crypto.Hash]*chainblock.Block
	orphansByPrevious map[crypto.Hash]*chainblock.Block
	orphanOrder       []crypto.Hash // insertion order, oldest first, for eviction
}

// New returns a Ledger arbitrating blocks for chain.
func New(chain *chainstore.Blockchain) *Ledger {
	return &Ledger{
		chain:             chain,
		log:               logging.GetDefault().Component("ledger"),
		orphansByHash:     make(map[crypto.Hash]*chainblock.Block),
		orphansByPrevious: make(map[crypto.Hash]*chainblock.Block),
	}
}

// Chain returns the underlying canonical chain store.
func (l *Ledger) Chain() *chainstore.Blockchain { return l.chain }

// Receive implements spec.md §4.8's splice/fork-resolution machine. It
// reports true exactly when block becomes (part of) the new chain
// head, false if it is rejected or held as an orphan.
func (l *Ledger) Receive(ctx context.Context, block *chainblock.Block) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := block.Validate(); err != nil {
		l.log.Debug("rejecting invalid block", "signature", block.Signature.Hex(), "error", err)
		return false, nil
	}

	splice := l.collectSpliceLocked(block)

	if err := l.chain.Append(ctx, splice[0]); err == nil {
		applied := l.appendRemainderLocked(ctx, splice)
		l.removeFromOrphansLocked(applied)
		for _, leftover := range splice[len(applied):] {
			l.storeOrphanLocked(leftover)
		}
		return true, nil
	}

	highest := l.chain.Highest()
	if block.Index <= highest.Index {
		l.storeOrphanLocked(block)
		return false, nil
	}

	ancestor, collected, found, err := l.walkBackToKnownAncestorLocked(block)
	if err != nil {
		return false, err
	}
	if !found {
		l.storeOrphanLocked(block)
		return false, nil
	}

	toApply := append(collected, splice[1:]...)
	if ancestor.Signature != highest.Signature {
		if err := l.chain.Unwind(ctx, ancestor); err != nil {
			return false, err
		}
	}
	var applied []*chainblock.Block
	for _, b := range toApply {
		if err := l.chain.Append(ctx, b); err != nil {
			panic(fmt.Sprintf("ledger: invariant violated during fast-forward: %v", err))
		}
		applied = append(applied, b)
	}
	l.removeFromOrphansLocked(applied)
	l.log.Info("spliced fork into chain", "ancestor", ancestor.Signature.Hex(), "new_head", block.Signature.Hex())
	return true, nil
}

// collectSpliceLocked returns block followed by the chain of orphans
// already known to extend it, without removing them from the cache —
// the caller decides, after learning whether block itself applies,
// which of them actually get consumed.
func (l *Ledger) collectSpliceLocked(block *chainblock.Block) []*chainblock.Block {
	splice := []*chainblock.Block{block}
	cur := block
	for {
		next, ok := l.orphansByPrevious[cur.Signature]
		if !ok {
			return splice
		}
		splice = append(splice, next)
		cur = next
	}
}

// appendRemainderLocked appends splice[1:] one at a time, stopping at
// the first failure, and returns the prefix of splice (including
// splice[0], already appended by the caller) that is now part of the
// chain.
func (l *Ledger) appendRemainderLocked(ctx context.Context, splice []*chainblock.Block) []*chainblock.Block {
	applied := splice[:1]
	for _, next := range splice[1:] {
		if err := l.chain.Append(ctx, next); err != nil {
			break
		}
		applied = append(applied, next)
	}
	return applied
}

// walkBackToKnownAncestorLocked walks block's Previous chain through
// the orphan cache until it reaches a block the chain already knows
// about, returning that ancestor and the walked blocks oldest-first
// (ancestor excluded, block included).
func (l *Ledger) walkBackToKnownAncestorLocked(block *chainblock.Block) (*chainblock.Block, []*chainblock.Block, bool, error) {
	cur := block
	var collected []*chainblock.Block
	for {
		collected = append(collected, cur)
		known, err := l.chain.GetByHash(cur.Previous)
		if err != nil {
			return nil, nil, false, err
		}
		if known != nil {
			for i, j := 0, len(collected)-1; i < j; i, j = i+1, j-1 {
				collected[i], collected[j] = collected[j], collected[i]
			}
			return known, collected, true, nil
		}
		orphan, ok := l.orphansByHash[cur.Previous]
		if !ok {
			return nil, nil, false, nil
		}
		cur = orphan
	}
}

func (l *Ledger) removeFromOrphansLocked(blocks []*chainblock.Block) {
	for _, b := range blocks {
		delete(l.orphansByHash, b.Signature)
		delete(l.orphansByPrevious, b.Previous)
	}
}

func (l *Ledger) storeOrphanLocked(b *chainblock.Block) {
	if _, exists := l.orphansByHash[b.Signature]; exists {
		return
	}
	if len(l.orphanOrder) >= maxOrphans {
		oldest := l.orphanOrder[0]
		l.orphanOrder = l.orphanOrder[1:]
		if victim, ok := l.orphansByHash[oldest]; ok {
			delete(l.orphansByHash, oldest)
			delete(l.orphansByPrevious, victim.Previous)
		}
	}
	l.orphansByHash[b.Signature] = b
	l.orphansByPrevious[b.Previous] = b
	l.orphanOrder = append(l.orphanOrder, b.Signature)
}

// Eligibility is canAccept's verdict on whether a transaction may be
// admitted to a candidate block now, later, or never.
type Eligibility int

const (
	Never Eligibility = iota
	Now
	Future
)

func (e Eligibility) String() string {
	switch e {
	case Never:
		return "never"
	case Now:
		return "now"
	case Future:
		return "future"
	default:
		return "unknown"
	}
}

// CanAccept implements spec.md §4.8's eligibility check: never if the
// signature is invalid or the counter doesn't strictly exceed the
// invoker's last accepted one; now if the counter is exactly one past
// last-accepted or directly follows a transaction already in pool;
// future otherwise.
func (l *Ledger) CanAccept(ctx context.Context, t *chaintx.Transaction, pool []*chaintx.Transaction) (Eligibility, error) {
	if err := t.Verify(); err != nil {
		return Never, nil
	}

	id := t.IdentityHash()
	stored, ok, err := l.chain.InvokerCounter(ctx, id)
	if err != nil {
		return Never, err
	}
	var last uint64
	if ok {
		last = stored
	}

	if t.Counter <= last {
		return Never, nil
	}
	if t.Counter == last+1 {
		return Now, nil
	}
	for _, p := range pool {
		if p.IdentityHash() == id && p.Counter+1 == t.Counter {
			return Now, nil
		}
	}
	return Future, nil
}
