package gossip

import (
	"fmt"
	"net"
	"net/http"

	"github.com/gorilla/websocket"
)

// Upgrader enforces the catena-v1 subprotocol on inbound connections
// at the "/" path spec.md §4.10 names for the gossip listener.
var upgrader = websocket.Upgrader{
	Subprotocols:    []string{Subprotocol},
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Handler returns an http.Handler that accepts inbound gossip
// connections and hands them to m.Accept. peerURL builds the URL this
// node will remember the caller by, typically derived from the
// request's remote address and advertised port query parameter.
func (m *Manager) Handler(peerURL func(r *http.Request) string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}

		remoteUUID := r.URL.Query().Get("uuid")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			m.log.Debug("gossip upgrade failed", "remote", r.RemoteAddr, "error", err)
			return
		}
		if conn.Subprotocol() != Subprotocol {
			conn.Close()
			m.log.Debug("gossip subprotocol mismatch", "remote", r.RemoteAddr)
			return
		}

		url := peerURL(r)
		if _, err := m.Accept(conn, remoteUUID, url); err != nil {
			m.log.Debug("gossip accept rejected", "remote", r.RemoteAddr, "error", err)
		}
	})
}

// DefaultPeerURL builds a peer URL from the request's remote host and
// its advertised listen port, the scheme it will be dialed back on.
func DefaultPeerURL(r *http.Request, scheme string) string {
	host := r.URL.Query().Get("host")
	if host == "" {
		host, _, _ = net.SplitHostPort(r.RemoteAddr)
	}
	port := r.URL.Query().Get("port")
	return fmt.Sprintf("%s://%s:%s/", scheme, host, port)
}
