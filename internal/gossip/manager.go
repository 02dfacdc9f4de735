package gossip

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sqlchain/sqlchaind/internal/chainblock"
	"github.com/sqlchain/sqlchaind/internal/chainmeta"
	"github.com/sqlchain/sqlchaind/internal/chaintx"
	"github.com/sqlchain/sqlchaind/internal/crypto"
	"github.com/sqlchain/sqlchaind/pkg/logging"
)

// Subprotocol is the WebSocket subprotocol spec.md §4.10 names for the
// gossip wire format.
const Subprotocol = "catena-v1"

// Manager owns every known Peer and the live Sessions attached to
// them. It is the Node > Peer level of the lock order spec.md §5
// describes: Manager's own mutex only ever guards its peer map, never
// wraps a blocking network call.
type Manager struct {
	mu    sync.Mutex
	peers map[string]*Peer // keyed by URL

	selfUUID string
	delegate Delegate
	store    *chainmeta.Peers // nil if no persistence configured
	log      *logging.Logger

	dialer *websocket.Dialer
}

// NewManager returns a Manager for a node identified by selfUUID,
// dispatching incoming requests to delegate. store may be nil, in
// which case peers are not persisted across restarts.
func NewManager(selfUUID string, delegate Delegate, store *chainmeta.Peers) *Manager {
	return &Manager{
		peers:    make(map[string]*Peer),
		selfUUID: selfUUID,
		delegate: delegate,
		store:    store,
		log:      logging.GetDefault().Component("gossip"),
		dialer:   &websocket.Dialer{HandshakeTimeout: gossipRequestTimeout, Subprotocols: []string{Subprotocol}},
	}
}

// SetDelegate installs the delegate that answers incoming requests.
// Callers that need a Manager before their Delegate implementation
// exists (internal/node's Node needs a Manager reference to build
// itself) construct the Manager with a nil delegate and call this
// once the Delegate is ready, before any session can be dialed or
// accepted.
func (m *Manager) SetDelegate(delegate Delegate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delegate = delegate
}

// LoadPersisted repopulates the peer table from the database, for a
// node resuming with peers it already knew about.
func (m *Manager) LoadPersisted() error {
	if m.store == nil {
		return nil
	}
	records, err := m.store.List()
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range records {
		if _, ok := m.peers[rec.URL]; ok {
			continue
		}
		p := NewPeer(rec.URL)
		p.UUID = rec.UUID
		p.IsBootstrap = rec.IsBootstrap
		m.peers[rec.URL] = p
	}
	return nil
}

// Learn adds url to the peer table if not already known, as either a
// freshly discovered peer (from an index reply) or a configured
// bootstrap peer.
func (m *Manager) Learn(rawURL string, isBootstrap bool) *Peer {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.peers[rawURL]; ok {
		if isBootstrap {
			p.IsBootstrap = true
		}
		return p
	}
	p := NewPeer(rawURL)
	p.IsBootstrap = isBootstrap
	m.peers[rawURL] = p
	return p
}

// Peers returns a snapshot of every known peer.
func (m *Manager) Peers() []*Peer {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Peer, 0, len(m.peers))
	for _, p := range m.peers {
		out = append(out, p)
	}
	return out
}

// Connected returns every peer currently holding a live session.
func (m *Manager) Connected() []*Peer {
	var out []*Peer
	for _, p := range m.Peers() {
		if p.Session() != nil {
			out = append(out, p)
		}
	}
	return out
}

// NextConnectable returns one peer eligible to be dialed or queried on
// this tick, round-robin over the known set, or nil if none qualify.
func (m *Manager) NextConnectable() *Peer {
	for _, p := range m.Peers() {
		if p.Connectable() {
			return p
		}
	}
	return nil
}

// Dial opens an outbound session to p, identifying this node by
// selfUUID and listenPort in the connect URL per spec.md §4.10.
func (m *Manager) Dial(ctx context.Context, p *Peer, listenPort int) error {
	p.transition(StateConnecting, "")

	u, err := url.Parse(p.URL)
	if err != nil {
		p.transition(StateFailed, err.Error())
		return fmt.Errorf("gossip: parse peer url: %w", err)
	}
	q := u.Query()
	q.Set("uuid", m.selfUUID)
	q.Set("port", fmt.Sprintf("%d", listenPort))
	u.RawQuery = q.Encode()

	conn, resp, err := m.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		p.transition(StateFailed, err.Error())
		return fmt.Errorf("gossip: dial %s: %w", p.URL, err)
	}
	if resp != nil && resp.Header.Get("Sec-WebSocket-Protocol") != Subprotocol {
		conn.Close()
		p.transition(StateFailed, "subprotocol mismatch")
		return fmt.Errorf("gossip: peer %s did not accept subprotocol %s", p.URL, Subprotocol)
	}

	remoteUUID := u.User.Username()
	if remoteUUID == m.selfUUID {
		conn.Close()
		p.transition(StateIgnored, "self connection")
		return fmt.Errorf("gossip: refusing to connect to self")
	}

	session := newSession(conn, p, m.delegate, true)
	p.UUID = remoteUUID
	p.attachSession(session)
	go session.Run()
	m.persist(p)
	return nil
}

// Accept completes the server side of the handshake for an inbound
// WebSocket connection already upgraded by internal/gossip's HTTP
// server. It checks only the uuid query parameter (the port is not
// checked here), rejecting a missing uuid, this node's own uuid, and a
// peer that is already connected.
func (m *Manager) Accept(conn *websocket.Conn, remoteUUID string, remoteURL string) (*Peer, error) {
	if remoteUUID == "" {
		conn.Close()
		return nil, fmt.Errorf("gossip: inbound connection missing uuid")
	}
	if remoteUUID == m.selfUUID {
		conn.Close()
		return nil, fmt.Errorf("gossip: refusing inbound connection from self")
	}

	p := m.Learn(remoteURL, false)
	if existing := p.Session(); existing != nil {
		conn.Close()
		return nil, fmt.Errorf("gossip: peer %s already connected", remoteURL)
	}

	session := newSession(conn, p, m.delegate, false)
	p.UUID = remoteUUID
	p.attachSession(session)
	go session.Run()
	m.persist(p)
	return p, nil
}

// Query asks p for its index and records the reply on the peer.
func (m *Manager) Query(p *Peer) error {
	session := p.Session()
	if session == nil {
		return fmt.Errorf("gossip: peer %s not connected", p.URL)
	}
	p.transition(StateQuerying, "")

	index, passive, err := session.Query()
	if err != nil {
		p.transition(StateFailed, err.Error())
		return err
	}
	if passive {
		p.transition(StatePassive, "")
		return nil
	}

	genesis, err := crypto.ParseHash(index.Genesis)
	if err != nil {
		p.transition(StateFailed, err.Error())
		return err
	}
	highest, err := crypto.ParseHash(index.Highest)
	if err != nil {
		p.transition(StateFailed, err.Error())
		return err
	}
	p.recordIndex(genesis, highest, index.Height)
	for _, url := range index.Peers {
		m.delegate.PeerDiscovered(url)
	}
	m.persist(p)
	return nil
}

// FetchBlock requests the block with hash from p and decodes it.
func (m *Manager) FetchBlock(p *Peer, hash crypto.Hash) (*chainblock.Block, error) {
	session := p.Session()
	if session == nil {
		return nil, fmt.Errorf("gossip: peer %s not connected", p.URL)
	}
	wire, err := session.Fetch(hash)
	if err != nil {
		return nil, err
	}
	return decodeBlock(wire)
}

// BroadcastBlock sends b unsolicited to every connected peer except
// skip (nil to broadcast to all).
func (m *Manager) BroadcastBlock(b *chainblock.Block, skip *Peer) {
	wire, err := encodeBlock(b)
	if err != nil {
		m.log.Warn("encode block for broadcast", "error", err)
		return
	}
	m.broadcast(func(s *Session) error { return s.NotifyBlock(wire) }, skip)
}

// BroadcastTransaction sends t unsolicited to every connected peer
// except skip (nil to broadcast to all).
func (m *Manager) BroadcastTransaction(t *chaintx.Transaction, skip *Peer) {
	wire := encodeTransaction(t)
	m.broadcast(func(s *Session) error { return s.NotifyTransaction(wire) }, skip)
}

func (m *Manager) broadcast(notify func(*Session) error, skip *Peer) {
	for _, p := range m.Connected() {
		if p == skip {
			continue
		}
		session := p.Session()
		if session == nil {
			continue
		}
		if err := notify(session); err != nil {
			m.log.Debug("broadcast to peer failed", "peer", p.URL, "error", err)
		}
	}
}

// Forget tells p to forget this node, closes its session and removes
// it from persisted storage.
func (m *Manager) Forget(p *Peer) {
	if session := p.Session(); session != nil {
		session.NotifyForget()
		session.close()
	}
	m.mu.Lock()
	delete(m.peers, p.URL)
	m.mu.Unlock()
	if m.store != nil {
		if err := m.store.Forget(p.URL); err != nil {
			m.log.Warn("forget peer in storage", "peer", p.URL, "error", err)
		}
	}
}

func (m *Manager) persist(p *Peer) {
	if m.store == nil {
		return
	}
	err := m.store.Upsert(chainmeta.PeerRecord{
		URL:         p.URL,
		UUID:        p.UUID,
		LastSeen:    time.Now().Unix(),
		IsBootstrap: p.IsBootstrap,
	})
	if err != nil {
		m.log.Warn("persist peer", "peer", p.URL, "error", err)
	}
}
