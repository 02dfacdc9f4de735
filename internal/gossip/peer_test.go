package gossip

import (
	"testing"

	"github.com/sqlchain/sqlchaind/internal/crypto"
)

func TestNewPeerStartsNewAndConnectable(t *testing.T) {
	p := NewPeer("ws://example/")
	if p.State() != StateNew {
		t.Fatalf("state = %q, want %q", p.State(), StateNew)
	}
	if !p.Connectable() {
		t.Fatal("freshly discovered peer should be connectable")
	}
	if p.Session() != nil {
		t.Fatal("freshly discovered peer should have no session")
	}
}

func TestPeerAttachSessionTransitionsToConnected(t *testing.T) {
	p := NewPeer("ws://example/")
	p.transition(StateConnecting, "")
	if p.Connectable() {
		t.Fatal("connecting peer should not be connectable")
	}

	p.attachSession(&Session{})
	if p.State() != StateConnected {
		t.Fatalf("state = %q, want %q", p.State(), StateConnected)
	}
	if p.Session() == nil {
		t.Fatal("expected a session after attachSession")
	}
	if p.Connectable() {
		t.Fatal("connected peer should not be connectable")
	}
}

func TestPeerDetachReturnsToDisconnectedAndConnectable(t *testing.T) {
	p := NewPeer("ws://example/")
	p.attachSession(&Session{})
	p.detach()

	if p.State() != StateDisconnected {
		t.Fatalf("state = %q, want %q", p.State(), StateDisconnected)
	}
	if p.Session() != nil {
		t.Fatal("expected nil session after detach")
	}
	if !p.Connectable() {
		t.Fatal("disconnected peer should be connectable again")
	}
}

func TestPeerRecordIndexStoresFieldsAndTransitionsToQueried(t *testing.T) {
	p := NewPeer("ws://example/")
	p.attachSession(&Session{})
	p.transition(StateQuerying, "")

	genesis := crypto.SHA256([]byte("genesis"))
	highest := crypto.SHA256([]byte("highest"))
	p.recordIndex(genesis, highest, 42)

	if p.State() != StateQueried {
		t.Fatalf("state = %q, want %q", p.State(), StateQueried)
	}
	if p.Genesis != genesis || p.Highest != highest || p.Height != 42 {
		t.Fatalf("unexpected recorded index: genesis=%s highest=%s height=%d", p.Genesis.Hex(), p.Highest.Hex(), p.Height)
	}
	if p.Connectable() {
		t.Fatal("queried peer should not be connectable until it disconnects")
	}
}

func TestPeerTransitionToFailedRecordsReasonAndIsConnectable(t *testing.T) {
	p := NewPeer("ws://example/")
	p.transition(StateFailed, "dial timeout")

	if p.State() != StateFailed {
		t.Fatalf("state = %q, want %q", p.State(), StateFailed)
	}
	if p.reason != "dial timeout" {
		t.Fatalf("reason = %q, want %q", p.reason, "dial timeout")
	}
	if !p.Connectable() {
		t.Fatal("failed peer should be retryable on a later tick")
	}
}

func TestPeerTransitionToIgnoredRemainsConnectable(t *testing.T) {
	p := NewPeer("ws://example/")
	p.transition(StateIgnored, "self connection")

	if p.State() != StateIgnored {
		t.Fatalf("state = %q, want %q", p.State(), StateIgnored)
	}
	// ignored peers are still retried by NextConnectable's rotation —
	// nothing persists a permanent ban today — so they remain
	// connectable, matching Connectable's switch statement.
	if !p.Connectable() {
		t.Fatal("ignored peer should remain connectable")
	}
}
