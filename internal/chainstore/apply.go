package chainstore

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/sqlchain/sqlchaind/internal/chainblock"
	"github.com/sqlchain/sqlchaind/internal/chainerr"
	"github.com/sqlchain/sqlchaind/internal/chainmeta"
	"github.com/sqlchain/sqlchaind/internal/chaintx"
	"github.com/sqlchain/sqlchaind/internal/crypto"
	"github.com/sqlchain/sqlchaind/internal/sqlast"
	"github.com/sqlchain/sqlchaind/internal/sqlbackend"
)

// apply folds block into permanent storage inside its own top-level
// transaction, following it with a savepoint named "block_<sig>" so
// that a failure partway through rolls back cleanly without disturbing
// any surrounding transaction (there is none here, but applyBlockWithin
// is reused by WithUnverifiedTransactions/replayPermanentStorage,
// where there is).
func (c *Blockchain) apply(ctx context.Context, block *chainblock.Block) error {
	tx, err := c.backend.DB().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("chainstore: begin apply transaction: %w", err)
	}
	if err := applyBlockWithin(ctx, tx, block, false); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("chainstore: commit applied block: %w", err)
	}
	return nil
}

// applyBlockWithin implements §4.7 block application against an
// already-open transaction or savepoint scope. When replay is true, a
// transaction's counter is always accepted as surviving rather than
// checked against the running per-invoker map. Every caller in this
// package passes false, so a rebuild or a hypothetical view drops the
// same transactions first-time application dropped.
func applyBlockWithin(ctx context.Context, tx *sql.Tx, block *chainblock.Block, replay bool) error {
	info := chainmeta.NewInfo(tx)
	users := chainmeta.NewUsers(tx)
	archive := chainmeta.NewBlockArchive(tx)
	grants := chainmeta.NewGrants(tx)

	savepoint := `"block_` + block.Signature.Hex() + `"`
	if _, err := tx.ExecContext(ctx, `SAVEPOINT `+savepoint); err != nil {
		return fmt.Errorf("chainstore: open block savepoint: %w", err)
	}
	rollback := func(cause error) error {
		tx.ExecContext(ctx, `ROLLBACK TO SAVEPOINT `+savepoint)
		tx.ExecContext(ctx, `RELEASE SAVEPOINT `+savepoint)
		return cause
	}

	headHash, haveHead, err := info.Head()
	if err != nil {
		return rollback(err)
	}
	if haveHead {
		headIndex, _, err := info.HeadIndex()
		if err != nil {
			return rollback(err)
		}
		if block.Index != headIndex+1 || block.Previous != headHash {
			return rollback(chainerr.New(chainerr.InconsecutiveBlock, "block does not extend the permanent chain head"))
		}
	}
	if err := block.Validate(); err != nil {
		return rollback(err)
	}

	enforcing, err := info.EnforcingGrants()
	if err != nil {
		return rollback(err)
	}
	armEnforcement := enforcing

	if !block.Payload.IsGenesis() {
		surviving, err := filterSurviving(users, block.Payload.Transactions, replay)
		if err != nil {
			return rollback(err)
		}

		blockCtx := sqlbackend.Context{
			BlockMiner:             block.Miner,
			BlockTimestamp:         int64(block.Timestamp),
			BlockSignature:         crypto.Signature(block.Signature.Bytes()),
			PreviousBlockSignature: block.Previous,
			BlockHeight:            block.Index,
		}

		for _, tx2 := range surviving {
			if requiresGrantsInsert(tx2) {
				armEnforcement = true
			}
			if err := applyTransaction(ctx, tx, grants, tx2, enforcing, blockCtx); err != nil {
				return rollback(err)
			}
		}
	}

	if err := archive.Insert(block); err != nil {
		return rollback(err)
	}
	if err := info.SetHead(block.Signature, block.Index); err != nil {
		return rollback(err)
	}
	if armEnforcement && !enforcing {
		if err := info.SetEnforcingGrants(true); err != nil {
			return rollback(err)
		}
	}

	if _, err := tx.ExecContext(ctx, `RELEASE SAVEPOINT `+savepoint); err != nil {
		return fmt.Errorf("chainstore: release block savepoint: %w", err)
	}
	return nil
}

// filterSurviving sorts block.Payload.Transactions by counter
// (stable, ties broken by signature) and drops any whose counter does
// not exactly continue the invoker's running counter, starting from
// whatever is already recorded in _users. With replay set, every
// transaction is taken as surviving unconditionally.
func filterSurviving(users *chainmeta.Users, txs []*chaintx.Transaction, replay bool) ([]*chaintx.Transaction, error) {
	ordered := make([]*chaintx.Transaction, len(txs))
	copy(ordered, txs)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Counter != ordered[j].Counter {
			return ordered[i].Counter < ordered[j].Counter
		}
		return string(ordered[i].Signature) < string(ordered[j].Signature)
	})

	running := make(map[crypto.Hash]uint64)
	var surviving []*chaintx.Transaction
	for _, t := range ordered {
		id := t.Invoker.IdentityHash()
		prev, known := running[id]
		if !known {
			stored, ok, err := users.Counter(id)
			if err != nil {
				return nil, err
			}
			if ok {
				prev = stored
			}
		}
		if replay || t.Counter == prev+1 {
			surviving = append(surviving, t)
			running[id] = t.Counter
		}
	}
	return surviving, nil
}

// requiresGrantsInsert reports whether t needs an insert privilege on
// the grants table, the trigger that arms grant enforcement for the
// rest of the chain's lifetime.
func requiresGrantsInsert(t *chaintx.Transaction) bool {
	for _, p := range t.RequiredPrivileges() {
		if p.Kind == sqlast.PrivilegeInsert && strings.EqualFold(p.Table, "grants") {
			return true
		}
	}
	return false
}

// applyTransaction executes one surviving transaction's statement
// inside its own sub-savepoint. A template-hash grant covering the
// transaction's whole statement shape authorizes every sub-statement
// without further per-statement privilege checks (used by IF-trees);
// otherwise each sub-statement is checked against grants individually.
// Execution errors are swallowed: the sub-savepoint is released (not
// rolled back past) and the block continues, but the invoker's counter
// in _users is still advanced to this transaction's counter.
func applyTransaction(ctx context.Context, tx *sql.Tx, grants *chainmeta.Grants, t *chaintx.Transaction, enforcing bool, blockCtx sqlbackend.Context) error {
	users := chainmeta.NewUsers(tx)
	id := t.Invoker.IdentityHash()

	savepoint := `"tr_` + t.IdentityHash().Hex() + fmt.Sprintf("_%d", t.Counter) + `"`
	if _, err := tx.ExecContext(ctx, `SAVEPOINT `+savepoint); err != nil {
		return fmt.Errorf("chainstore: open transaction savepoint: %w", err)
	}

	regime := sqlbackend.AllowAll
	if enforcing {
		templateHash := sqlast.TemplateHash(t.Statement)
		templateOK, err := grants.Check([]sqlast.Privilege{{Kind: sqlast.PrivilegeTemplate, TemplateHash: templateHash}}, id, t.Database)
		if err != nil {
			return err
		}
		if !templateOK {
			regime = func(required []sqlast.Privilege) bool {
				ok, _ := grants.Check(required, id, t.Database)
				return ok
			}
		}
	}

	execCtx := blockCtx
	execCtx.Database = t.Database
	execCtx.Invoker = t.Invoker
	execErr := sqlbackend.Execute(ctx, tx, t.Statement, execCtx, regime)
	if execErr != nil {
		tx.ExecContext(ctx, `ROLLBACK TO SAVEPOINT `+savepoint)
	}
	if _, err := tx.ExecContext(ctx, `RELEASE SAVEPOINT `+savepoint); err != nil {
		return fmt.Errorf("chainstore: release transaction savepoint: %w", err)
	}

	return users.SetCounter(id, t.Counter)
}
