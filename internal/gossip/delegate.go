package gossip

import (
	"github.com/sqlchain/sqlchaind/internal/chainblock"
	"github.com/sqlchain/sqlchaind/internal/chaintx"
	"github.com/sqlchain/sqlchaind/internal/crypto"
)

// Delegate is implemented by internal/node to answer incoming gossip
// requests and react to unsolicited messages. Every method is called
// from a session's read loop without any core lock held, per spec.md
// §5's "no network I/O while holding locks" rule read in reverse: the
// delegate is free to take Node/Ledger/Blockchain locks internally.
type Delegate interface {
	// Index answers a query: the node's own genesis, current tip and
	// height, and a sample of peer URLs to gossip onward.
	Index() (genesis, highest crypto.Hash, height uint64, peers []string)

	// Fetch answers a fetch(hash) request, or returns an error if the
	// block is not locally available.
	Fetch(hash crypto.Hash) (*chainblock.Block, error)

	// ReceiveBlock handles a block arriving from p, either as the
	// reply to a fetch this side issued (requested=true) or as an
	// unsolicited broadcast (requested=false).
	ReceiveBlock(p *Peer, b *chainblock.Block, requested bool)

	// ReceiveTransaction handles an unsolicited transaction from p.
	ReceiveTransaction(p *Peer, t *chaintx.Transaction)

	// PeerDiscovered is called for every peer URL learned from an
	// index reply's peers list, so the node can add it to its query
	// rotation.
	PeerDiscovered(url string)
}
