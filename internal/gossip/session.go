package gossip

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sqlchain/sqlchaind/internal/crypto"
	"github.com/sqlchain/sqlchaind/pkg/logging"
)

// gossipRequestTimeout bounds how long a request waits for its reply
// before the caller gives up and the pending entry is garbage
// collected. spec.md §5 leaves the exact value unspecified, only
// requiring "implementations should add one >= 10s"; 15s gives slow
// peers headroom without holding a caller past one node tick by much.
const gossipRequestTimeout = 15 * time.Second

// pendingReply is what a waiting Request call blocks on.
type pendingReply struct {
	tag  Tag
	body json.RawMessage
	err  error
}

// Session is one symmetric WebSocket connection to a peer. The side
// that dialed out uses even request counters starting at 2; the side
// that accepted the connection uses odd counters starting at 1 — this
// is the only state that needs to differ between the two ends of an
// otherwise identical protocol (spec.md §4.10).
type Session struct {
	conn     *websocket.Conn
	peer     *Peer
	delegate Delegate
	log      *logging.Logger

	writeMu sync.Mutex

	mu          sync.Mutex
	nextCounter uint64
	pending     map[uint64]chan pendingReply
	closed      bool
}

// newSession wraps conn for peer, with initiator selecting this side's
// counter parity (even if true, odd if false).
func newSession(conn *websocket.Conn, peer *Peer, delegate Delegate, initiator bool) *Session {
	start := uint64(1)
	if initiator {
		start = 2
	}
	return &Session{
		conn:        conn,
		peer:        peer,
		delegate:    delegate,
		log:         logging.GetDefault().Component("gossip"),
		nextCounter: start,
		pending:     make(map[uint64]chan pendingReply),
	}
}

// Peer returns the peer this session belongs to.
func (s *Session) Peer() *Peer { return s.peer }

// Run drives the session's read loop until the connection closes or
// ctx-independent I/O fails; it always returns once the socket is
// gone. Callers run it in its own goroutine.
func (s *Session) Run() {
	defer s.close()
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.log.Debug("session read failed", "peer", s.peer.URL, "error", err)
			return
		}
		if err := s.handleMessage(data); err != nil {
			s.log.Debug("session malformed message", "peer", s.peer.URL, "error", err)
		}
	}
}

func (s *Session) handleMessage(data []byte) error {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	tag, err := peekTag(env.Body)
	if err != nil {
		return err
	}

	if env.Counter != 0 {
		if ch, ok := s.takePending(env.Counter); ok {
			ch <- pendingReply{tag: tag, body: env.Body}
			return nil
		}
		return s.handleRequest(env.Counter, tag, env.Body)
	}
	return s.handleUnsolicited(tag, env.Body)
}

// handleRequest answers an incoming query/fetch request with the same
// counter the peer issued.
func (s *Session) handleRequest(counter uint64, tag Tag, body json.RawMessage) error {
	switch tag {
	case TagQuery:
		genesis, highest, height, peers := s.delegate.Index()
		return s.writeEnvelope(counter, NewIndexBody(genesis.Hex(), highest.Hex(), height, peers))
	case TagFetch:
		var fb FetchBody
		if err := json.Unmarshal(body, &fb); err != nil {
			return err
		}
		hash, err := crypto.ParseHash(fb.Hash)
		if err != nil {
			return s.writeEnvelope(counter, NewErrorBody("malformed hash"))
		}
		block, err := s.delegate.Fetch(hash)
		if err != nil {
			return s.writeEnvelope(counter, NewErrorBody(err.Error()))
		}
		wire, err := encodeBlock(block)
		if err != nil {
			return s.writeEnvelope(counter, NewErrorBody("encode block: "+err.Error()))
		}
		return s.writeEnvelope(counter, NewBlockBody(wire))
	default:
		return s.writeEnvelope(counter, NewErrorBody(fmt.Sprintf("unexpected request tag %q", tag)))
	}
}

// handleUnsolicited dispatches a counter-0 message: block, transaction
// or forget.
func (s *Session) handleUnsolicited(tag Tag, body json.RawMessage) error {
	switch tag {
	case TagBlock:
		var bb BlockBody
		if err := json.Unmarshal(body, &bb); err != nil {
			return err
		}
		block, err := decodeBlock(bb.Block)
		if err != nil {
			return err
		}
		s.delegate.ReceiveBlock(s.peer, block, false)
		return nil
	case TagTransaction:
		var tb TransactionBody
		if err := json.Unmarshal(body, &tb); err != nil {
			return err
		}
		tx, err := decodeTransaction(tb.Tx)
		if err != nil {
			return err
		}
		s.delegate.ReceiveTransaction(s.peer, tx)
		return nil
	case TagForget:
		s.close()
		return nil
	default:
		return fmt.Errorf("unexpected unsolicited tag %q", tag)
	}
}

func (s *Session) takePending(counter uint64) (chan pendingReply, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.pending[counter]
	if ok {
		delete(s.pending, counter)
	}
	return ch, ok
}

// request sends body tagged with a freshly allocated counter and
// blocks for its reply, up to gossipRequestTimeout.
func (s *Session) request(body interface{}) (Tag, json.RawMessage, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", nil, fmt.Errorf("gossip: session closed")
	}
	counter := s.nextCounter
	s.nextCounter += 2
	ch := make(chan pendingReply, 1)
	s.pending[counter] = ch
	s.mu.Unlock()

	if err := s.writeEnvelope(counter, body); err != nil {
		s.takePending(counter)
		return "", nil, err
	}

	select {
	case reply := <-ch:
		return reply.tag, reply.body, reply.err
	case <-time.After(gossipRequestTimeout):
		s.takePending(counter)
		return "", nil, fmt.Errorf("gossip: request timed out after %s", gossipRequestTimeout)
	}
}

// Query requests the peer's index, or learns it is passive.
func (s *Session) Query() (index IndexBody, passive bool, err error) {
	tag, body, err := s.request(NewQueryBody())
	if err != nil {
		return IndexBody{}, false, err
	}
	switch tag {
	case TagIndex:
		if err := json.Unmarshal(body, &index); err != nil {
			return IndexBody{}, false, err
		}
		return index, false, nil
	case TagPassive:
		return IndexBody{}, true, nil
	default:
		return IndexBody{}, false, fmt.Errorf("gossip: unexpected reply tag %q to query", tag)
	}
}

// Fetch requests the block with the given hash from the peer.
func (s *Session) Fetch(hash crypto.Hash) (wireBlock, error) {
	tag, body, err := s.request(NewFetchBody(hash.Hex()))
	if err != nil {
		return wireBlock{}, err
	}
	switch tag {
	case TagBlock:
		var bb BlockBody
		if err := json.Unmarshal(body, &bb); err != nil {
			return wireBlock{}, err
		}
		return bb.Block, nil
	case TagError:
		var eb ErrorBody
		if err := json.Unmarshal(body, &eb); err != nil {
			return wireBlock{}, err
		}
		return wireBlock{}, fmt.Errorf("gossip: peer reported: %s", eb.Message)
	default:
		return wireBlock{}, fmt.Errorf("gossip: unexpected reply tag %q to fetch", tag)
	}
}

// NotifyBlock broadcasts b unsolicited (counter 0).
func (s *Session) NotifyBlock(wire wireBlock) error {
	return s.writeEnvelope(0, NewBlockBody(wire))
}

// NotifyTransaction broadcasts tx unsolicited (counter 0).
func (s *Session) NotifyTransaction(wire wireTransaction) error {
	return s.writeEnvelope(0, NewTransactionBody(wire))
}

// NotifyForget tells the peer to forget this session.
func (s *Session) NotifyForget() error {
	return s.writeEnvelope(0, NewForgetBody())
}

func (s *Session) writeEnvelope(counter uint64, body interface{}) error {
	data, err := encode(counter, body)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(gossipRequestTimeout))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// close tears down the session, failing every still-pending request
// and releasing its callbacks (spec.md §5's "implementations should GC
// callbacks at connection teardown"). Safe to call more than once.
func (s *Session) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()

	for _, ch := range pending {
		ch <- pendingReply{err: fmt.Errorf("gossip: session closed")}
	}
	s.conn.Close()
	s.peer.detach()
}
