package gossip

import (
	"sync"

	"github.com/sqlchain/sqlchaind/internal/crypto"
)

// State is a node in spec.md §4.10's peer lifecycle:
//
//	new -> connecting -> connected -> querying -> queried (steady)
//
// with edges to passive, ignored(reason) and failed(error);
// disconnected returns to new.
type State string

const (
	StateNew          State = "new"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateQuerying     State = "querying"
	StateQueried      State = "queried"
	StatePassive      State = "passive"
	StateIgnored      State = "ignored"
	StateFailed       State = "failed"
	StateDisconnected State = "disconnected"
)

// Peer tracks one remote node's gossip session and lifecycle state.
// Its mutex is independent of Session's — callers read/write Peer
// fields only while holding Peer.mu, and never while holding a
// Session's write lock, per the Node > Peer > PeerConnection lock
// order (spec.md §5).
type Peer struct {
	mu sync.Mutex

	URL         string
	UUID        string
	IsBootstrap bool

	state  State
	reason string // set for ignored/failed

	session *Session // nil unless state is connected/querying/queried

	Genesis crypto.Hash
	Highest crypto.Hash
	Height  uint64
}

// NewPeer returns a freshly discovered peer in state "new".
func NewPeer(url string) *Peer {
	return &Peer{URL: url, state: StateNew}
}

// State returns the peer's current lifecycle state.
func (p *Peer) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Session returns the peer's active session, or nil if not connected.
func (p *Peer) Session() *Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.session
}

// transition moves the peer to state, recording reason for the
// ignored/failed terminal states.
func (p *Peer) transition(state State, reason string) {
	p.mu.Lock()
	p.state = state
	p.reason = reason
	p.mu.Unlock()
}

// attachSession installs a live session and moves to "connected",
// the entry point both outbound dial and inbound accept share.
func (p *Peer) attachSession(s *Session) {
	p.mu.Lock()
	p.session = s
	p.state = StateConnected
	p.reason = ""
	p.mu.Unlock()
}

// detach clears the session and moves to "disconnected", from which
// the peer is eligible to be dialed again as if new.
func (p *Peer) detach() {
	p.mu.Lock()
	p.session = nil
	p.state = StateDisconnected
	p.mu.Unlock()
}

// recordIndex stores a successful query reply and moves to "queried".
func (p *Peer) recordIndex(genesis, highest crypto.Hash, height uint64) {
	p.mu.Lock()
	p.Genesis = genesis
	p.Highest = highest
	p.Height = height
	p.state = StateQueried
	p.mu.Unlock()
}

// Connectable reports whether the node should attempt to dial or query
// this peer on the current tick: anything other than an in-flight or
// already-steady session.
func (p *Peer) Connectable() bool {
	switch p.State() {
	case StateConnecting, StateConnected, StateQuerying, StateQueried:
		return false
	default:
		return true
	}
}
