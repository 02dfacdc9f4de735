// Package miner implements the cooperative proof-of-work search that
// turns a node's pending transactions into a mined block, per
// spec.md §4.9.
package miner

import (
	"math/rand/v2"
	"sync"
	"time"

	"github.com/sqlchain/sqlchaind/internal/chainblock"
	"github.com/sqlchain/sqlchaind/internal/chainstore"
	"github.com/sqlchain/sqlchaind/internal/chaintx"
	"github.com/sqlchain/sqlchaind/internal/crypto"
	"github.com/sqlchain/sqlchaind/pkg/logging"
)

// Miner holds a single candidate block and a background nonce-search
// task that mines it against the chain's current tip.
type Miner struct {
	mu sync.Mutex

	chain   *chainstore.Blockchain
	minerID crypto.Hash
	mined   func(*chainblock.Block)
	log     *logging.Logger

	candidate *chainblock.Block
	enabled   bool
	running   bool
}

// New returns a Miner that mines blocks credited to minerID on top of
// chain, invoking mined whenever a block is found. Mining starts
// disabled; call SetEnabled(true) to turn it on.
func New(chain *chainstore.Blockchain, minerID crypto.Hash, mined func(*chainblock.Block)) *Miner {
	return &Miner{
		chain:   chain,
		minerID: minerID,
		mined:   mined,
		log:     logging.GetDefault().Component("miner"),
	}
}

// SetEnabled turns mining on or off. Disabling stops the running
// search task at its next nonce-attempt check; re-enabling with a
// pending candidate restarts it.
func (m *Miner) SetEnabled(enabled bool) {
	m.mu.Lock()
	was := m.enabled
	m.enabled = enabled
	shouldStart := enabled && !was && m.candidate != nil && !m.running
	if shouldStart {
		m.running = true
	}
	m.mu.Unlock()
	if shouldStart {
		go m.run()
	}
}

// Append adds tx to the current candidate block, creating one atop
// the chain's current tip if none is pending, then starts the mining
// task if it is not already running and mining is enabled.
func (m *Miner) Append(tx *chaintx.Transaction) (bool, error) {
	m.mu.Lock()
	if m.candidate == nil {
		m.candidate = chainblock.NewCandidate(m.chain.Highest(), m.minerID)
	}
	ok, err := m.candidate.Append(tx)
	shouldStart := ok && m.enabled && !m.running
	if shouldStart {
		m.running = true
	}
	m.mu.Unlock()

	if shouldStart {
		go m.run()
	}
	return ok, err
}

// Candidate returns the pending candidate block itself (not a copy),
// or nil.
func (m *Miner) Candidate() *chainblock.Block {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.candidate
}

// run is the nonce-search task. It repeatedly snapshots the current
// candidate and chain tip, then searches for a nonce meeting the
// required difficulty, restarting whenever the tip moves out from
// under it or the candidate is cleared/disabled.
func (m *Miner) run() {
	for {
		version, txs, tip, required, ok := m.snapshotAttempt()
		if !ok {
			return
		}

		shouldStop := func() bool {
			m.mu.Lock()
			defer m.mu.Unlock()
			if !m.enabled || m.candidate == nil {
				return true
			}
			return m.chain.Highest().Signature != tip.Signature
		}

		attempt := &chainblock.Block{
			Header: chainblock.Header{
				Version:  version,
				Index:    tip.Index + 1,
				Previous: tip.Signature,
				Miner:    m.minerID,
			},
			Payload: chainblock.Payload{Transactions: txs},
		}

		startNonce := rand.Uint64()
		if attempt.Mine(uint64(time.Now().Unix()), startNonce, required, shouldStop) {
			m.mu.Lock()
			m.candidate = nil
			m.running = false
			m.mu.Unlock()

			m.log.Info("mined block", "index", attempt.Index, "signature", attempt.Signature.Hex())
			m.mined(attempt)
			return
		}
		// shouldStop fired: either disabled, candidate cleared, or the
		// tip moved. Loop to re-snapshot and try again.
	}
}

// snapshotAttempt reads the fields run needs for one mining attempt
// under lock, copying out the candidate's transaction list so the
// search loop never reads it concurrently with a racing Append,
// reporting ok=false if mining should not proceed (task should exit,
// leaving m.running false).
func (m *Miner) snapshotAttempt() (version uint8, txs []*chaintx.Transaction, tip *chainblock.Block, required int, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.enabled || m.candidate == nil {
		m.running = false
		return 0, nil, nil, 0, false
	}
	required, err := m.chain.RequiredDifficulty()
	if err != nil {
		m.log.Error("reading required difficulty", "error", err)
		m.running = false
		return 0, nil, nil, 0, false
	}
	txs = append([]*chaintx.Transaction(nil), m.candidate.Payload.Transactions...)
	return m.candidate.Version, txs, m.chain.Highest(), required, true
}
