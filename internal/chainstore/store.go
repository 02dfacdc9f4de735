// Package chainstore holds the permanent on-disk SQL state for one
// node's chain plus the bounded in-memory queue of recently accepted
// blocks not yet folded into that permanent state, and computes the
// proof-of-work difficulty retarget.
package chainstore

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/sqlchain/sqlchaind/internal/chainblock"
	"github.com/sqlchain/sqlchaind/internal/chainerr"
	"github.com/sqlchain/sqlchaind/internal/chainmeta"
	"github.com/sqlchain/sqlchaind/internal/crypto"
	"github.com/sqlchain/sqlchaind/internal/sqlbackend"
)

const (
	// queueSize is Q: the number of most-recently accepted blocks kept
	// only in memory before being folded into permanent storage.
	queueSize = 7

	// retargetPeriod is R: how often a new difficulty target is computed.
	retargetPeriod = 10

	minWork = 10
	maxWork = 200
)

// Blockchain owns the permanent database file for one chain plus the
// queue of blocks accepted but not yet applied to it.
type Blockchain struct {
	mu sync.Mutex

	path    string
	backend *sqlbackend.Backend

	info    *chainmeta.Info
	users   *chainmeta.Users
	archive *chainmeta.BlockArchive
	grants  *chainmeta.Grants

	genesis *chainblock.Block
	queue   []*chainblock.Block
	highest *chainblock.Block

	desiredTimeBetweenBlocks int64
}

// Open opens (or creates) the permanent database at path and seeds it
// with genesis if empty. desiredTimeBetweenBlocks is in seconds and
// feeds the difficulty retarget formula.
func Open(path string, genesis *chainblock.Block, desiredTimeBetweenBlocks int64) (*Blockchain, error) {
	if err := genesis.Validate(); err != nil {
		return nil, fmt.Errorf("chainstore: invalid genesis: %w", err)
	}
	backend, err := sqlbackend.Open(path)
	if err != nil {
		return nil, err
	}
	if err := chainmeta.EnsureSchema(backend.DB()); err != nil {
		backend.Close()
		return nil, err
	}

	c := &Blockchain{
		path:                     path,
		backend:                  backend,
		info:                     chainmeta.NewInfo(backend.DB()),
		users:                    chainmeta.NewUsers(backend.DB()),
		archive:                  chainmeta.NewBlockArchive(backend.DB()),
		grants:                   chainmeta.NewGrants(backend.DB()),
		genesis:                  genesis,
		desiredTimeBetweenBlocks: desiredTimeBetweenBlocks,
	}

	headIndex, ok, err := c.info.HeadIndex()
	if err != nil {
		backend.Close()
		return nil, err
	}
	if !ok {
		if err := c.apply(context.Background(), genesis); err != nil {
			backend.Close()
			return nil, fmt.Errorf("chainstore: seed genesis: %w", err)
		}
		c.highest = genesis
		return c, nil
	}

	highest, err := c.archive.GetByIndex(headIndex)
	if err != nil {
		backend.Close()
		return nil, err
	}
	if highest == nil {
		backend.Close()
		return nil, chainerr.New(chainerr.MetadataError, "head index has no archived block")
	}
	c.highest = highest
	return c, nil
}

// Close releases the underlying database handle.
func (c *Blockchain) Close() error { return c.backend.Close() }

// DB returns the underlying database handle, for callers that need to
// store their own tables alongside the chain's metadata (the gossip
// layer's peer table, for instance).
func (c *Blockchain) DB() *sql.DB { return c.backend.DB() }

// Highest returns the chain's current tip (archived or still queued).
func (c *Blockchain) Highest() *chainblock.Block {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.highest
}

// Genesis returns the chain's fixed genesis block.
func (c *Blockchain) Genesis() *chainblock.Block { return c.genesis }

// Get returns the block at the given height, searching the in-memory
// queue before falling back to permanent storage, or nil if absent.
func (c *Blockchain) Get(index uint64) (*chainblock.Block, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.getLocked(index)
}

func (c *Blockchain) getLocked(index uint64) (*chainblock.Block, error) {
	if index == c.genesis.Index {
		return c.genesis, nil
	}
	for _, b := range c.queue {
		if b.Index == index {
			return b, nil
		}
	}
	return c.archive.GetByIndex(index)
}

// GetByHash returns the block with the given signature, searching the
// queue before permanent storage.
func (c *Blockchain) GetByHash(hash crypto.Hash) (*chainblock.Block, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.getByHashLocked(hash)
}

func (c *Blockchain) getByHashLocked(hash crypto.Hash) (*chainblock.Block, error) {
	if hash == c.genesis.Signature {
		return c.genesis, nil
	}
	for _, b := range c.queue {
		if b.Signature == hash {
			return b, nil
		}
	}
	return c.archive.Get(hash)
}

// canAppend reports whether block may extend the current tip.
func (c *Blockchain) canAppend(block *chainblock.Block) error {
	if block.Index != c.highest.Index+1 {
		return chainerr.New(chainerr.InconsecutiveBlock, "block index does not follow the current tip")
	}
	if block.Previous != c.highest.Signature {
		return chainerr.New(chainerr.InconsecutiveBlock, "block does not reference the current tip's signature")
	}
	if err := block.Validate(); err != nil {
		return err
	}
	required, err := c.requiredDifficulty(block.Index)
	if err != nil {
		return err
	}
	if block.Work() < required {
		return chainerr.New(chainerr.PayloadInvalid, "block does not meet the required difficulty")
	}
	if !c.highest.IsGenesis() && block.Timestamp <= c.highest.Timestamp {
		return chainerr.New(chainerr.PayloadInvalid, "block timestamp does not advance past its predecessor")
	}
	return nil
}

// Append validates block against the current tip, pushes it onto the
// queue, and folds the oldest queued block into permanent storage once
// the queue exceeds Q.
func (c *Blockchain) Append(ctx context.Context, block *chainblock.Block) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.canAppend(block); err != nil {
		return err
	}
	c.queue = append(c.queue, block)
	c.highest = block

	if len(c.queue) > queueSize {
		popped := c.queue[0]
		c.queue = c.queue[1:]

		headIndex, ok, err := c.info.HeadIndex()
		if err != nil {
			return err
		}
		if !ok || headIndex+1 != popped.Index {
			predecessor, err := c.getLocked(popped.Index - 1)
			if err != nil {
				return err
			}
			if predecessor == nil {
				return chainerr.New(chainerr.MetadataError, "cannot locate predecessor of block being folded into permanent storage")
			}
			if err := c.replayPermanentStorageLocked(ctx, predecessor); err != nil {
				return err
			}
		}
		if err := c.apply(ctx, popped); err != nil {
			return err
		}
	}
	return nil
}

// RequiredDifficulty returns the PoW target the block following the
// current tip must meet.
func (c *Blockchain) RequiredDifficulty() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requiredDifficulty(c.highest.Index + 1)
}

// requiredDifficulty implements the §4.6 retarget formula for the
// block at targetIndex. Blocks up to and including the first retarget
// boundary (index ≤ R) inherit the genesis block's own work; every
// retargetPeriod blocks thereafter a fresh target is computed from the
// preceding window's total work and elapsed time.
func (c *Blockchain) requiredDifficulty(targetIndex uint64) (int, error) {
	if targetIndex <= retargetPeriod {
		return c.genesis.Work(), nil
	}
	boundary := retargetPeriod * ((targetIndex - 1) / retargetPeriod)
	lo := boundary - retargetPeriod + 1
	hi := boundary

	totalWork, err := c.totalWorkLocked(lo, hi)
	if err != nil {
		return 0, err
	}
	avg := int64(totalWork) / retargetPeriod

	loBlock, err := c.getLocked(lo)
	if err != nil {
		return 0, err
	}
	hiBlock, err := c.getLocked(hi)
	if err != nil {
		return 0, err
	}
	if loBlock == nil || hiBlock == nil {
		return 0, chainerr.New(chainerr.MetadataError, "retarget window references an unknown block")
	}

	actualTime := int64(hiBlock.Timestamp) - int64(loBlock.Timestamp)
	desiredTime := c.desiredTimeBetweenBlocks * retargetPeriod

	var target int64
	if actualTime > desiredTime {
		target = avg - 1
		if target < minWork {
			target = minWork
		}
	} else {
		target = avg + 1
		if target > maxWork {
			target = maxWork
		}
	}
	if target < minWork {
		target = minWork
	}
	if target > maxWork {
		target = maxWork
	}
	return int(target), nil
}

// totalWorkLocked sums work over [lo, hi], combining the archived
// prefix with any still-queued suffix of the range; the two never
// overlap because the queue only ever holds blocks past the archive's
// head index.
func (c *Blockchain) totalWorkLocked(lo, hi uint64) (uint64, error) {
	headIndex, ok, err := c.info.HeadIndex()
	if err != nil {
		return 0, err
	}
	var total uint64
	if ok && lo <= headIndex {
		archiveHi := hi
		if archiveHi > headIndex {
			archiveHi = headIndex
		}
		work, err := c.archive.TotalWork(lo, archiveHi)
		if err != nil {
			return 0, err
		}
		total += work
	}
	for _, b := range c.queue {
		if b.Index >= lo && b.Index <= hi && (!ok || b.Index > headIndex) {
			total += uint64(b.Work())
		}
	}
	return total, nil
}

// WithUnverifiedTransactions opens a savepoint, replays the queued
// (not-yet-permanent) blocks within it, invokes fn with the resulting
// hypothetical view, then always rolls back. Used by read paths and
// admission control that must see the effect of queued blocks without
// ever persisting it.
func (c *Blockchain) WithUnverifiedTransactions(ctx context.Context, fn func(exec *sql.Tx) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	tx, err := c.backend.DB().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("chainstore: begin hypothetical transaction: %w", err)
	}
	defer tx.Rollback()

	const savepoint = "hypothetical"
	if _, err := tx.ExecContext(ctx, `SAVEPOINT `+savepoint); err != nil {
		return fmt.Errorf("chainstore: open hypothetical savepoint: %w", err)
	}

	for _, b := range c.queue {
		if err := applyBlockWithin(ctx, tx, b, false); err != nil {
			return err
		}
	}
	return fn(tx)
}

// InvokerCounter reports id's last-applied transaction counter,
// including the effect of blocks still only in the queue — the view
// admission control needs, since a queued block's transactions are
// already part of the accepted chain even before they fold into
// permanent storage.
func (c *Blockchain) InvokerCounter(ctx context.Context, id crypto.Hash) (uint64, bool, error) {
	var counter uint64
	var ok bool
	err := c.WithUnverifiedTransactions(ctx, func(exec *sql.Tx) error {
		users := chainmeta.NewUsers(exec)
		var err error
		counter, ok, err = users.Counter(id)
		return err
	})
	return counter, ok, err
}
