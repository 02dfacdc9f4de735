package chainstore

import (
	"context"
	"fmt"
	"os"

	"github.com/sqlchain/sqlchaind/internal/chainblock"
	"github.com/sqlchain/sqlchaind/internal/chainerr"
	"github.com/sqlchain/sqlchaind/internal/chainmeta"
	"github.com/sqlchain/sqlchaind/internal/sqlbackend"
)

// Unwind retreats the chain to the block to. If to is at or past the
// permanent head, this is a cheap in-memory trim of the queue.
// Otherwise the permanent database is discarded and rebuilt from
// genesis up to and including to.
func (c *Blockchain) Unwind(ctx context.Context, to *chainblock.Block) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	permanentHeadIndex, ok, err := c.info.HeadIndex()
	if err != nil {
		return err
	}

	if ok && to.Index >= permanentHeadIndex {
		trimmed := c.queue[:0:0]
		for _, b := range c.queue {
			if b.Index <= to.Index {
				trimmed = append(trimmed, b)
			}
		}
		c.queue = trimmed
		c.highest = to
		return nil
	}

	if err := c.replayPermanentStorageLocked(ctx, to); err != nil {
		return err
	}
	c.highest = to
	return nil
}

// collectChainUpToLocked walks backward from to via each block's
// Previous hash until it reaches genesis, returning the chain
// oldest-first.
func (c *Blockchain) collectChainUpToLocked(to *chainblock.Block) ([]*chainblock.Block, error) {
	chain := []*chainblock.Block{to}
	cur := to
	for !cur.IsGenesis() {
		prev, err := c.getByHashLocked(cur.Previous)
		if err != nil {
			return nil, err
		}
		if prev == nil {
			return nil, chainerr.New(chainerr.MetadataError, "missing ancestor while collecting replay chain")
		}
		chain = append(chain, prev)
		cur = prev
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}

// replayPermanentStorageLocked collects the canonical chain from
// genesis up to to, discards the permanent database file, reopens an
// empty one, and reapplies every collected block oldest-first inside a
// single transaction.
func (c *Blockchain) replayPermanentStorageLocked(ctx context.Context, to *chainblock.Block) error {
	chain, err := c.collectChainUpToLocked(to)
	if err != nil {
		return err
	}

	if err := c.backend.Close(); err != nil {
		return fmt.Errorf("chainstore: close database before replay: %w", err)
	}
	for _, suffix := range []string{"", "-wal", "-shm"} {
		os.Remove(c.path + suffix)
	}

	backend, err := sqlbackend.Open(c.path)
	if err != nil {
		return fmt.Errorf("chainstore: reopen database for replay: %w", err)
	}
	if err := chainmeta.EnsureSchema(backend.DB()); err != nil {
		backend.Close()
		return err
	}
	c.backend = backend
	c.info = chainmeta.NewInfo(backend.DB())
	c.users = chainmeta.NewUsers(backend.DB())
	c.archive = chainmeta.NewBlockArchive(backend.DB())
	c.grants = chainmeta.NewGrants(backend.DB())
	c.queue = nil

	if err := c.info.SetReplaying(true); err != nil {
		return err
	}

	tx, err := backend.DB().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("chainstore: begin replay transaction: %w", err)
	}
	for _, b := range chain {
		if err := applyBlockWithin(ctx, tx, b, false); err != nil {
			tx.Rollback()
			return fmt.Errorf("chainstore: replay block %s: %w", b.Signature.Hex(), err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("chainstore: commit replay: %w", err)
	}
	return c.info.SetReplaying(false)
}
