// Package adminhttp exposes the small local HTTP surface a runnable
// sqlchaind needs but spec.md §1 places outside the consensus core:
// transaction submission, a hypothetical read query, and a status
// probe. Grounded on the teacher's internal/rpc/server.go JSON-RPC-2.0
// envelope, narrowed to the handful of endpoints a block explorer or
// wallet needs rather than its full wallet/swap/order API.
package adminhttp

import (
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/sqlchain/sqlchaind/internal/chainstore"
	"github.com/sqlchain/sqlchaind/internal/chaintx"
	"github.com/sqlchain/sqlchaind/internal/crypto"
	"github.com/sqlchain/sqlchaind/internal/gossip"
	"github.com/sqlchain/sqlchaind/internal/node"
	"github.com/sqlchain/sqlchaind/internal/sqlast"
	"github.com/sqlchain/sqlchaind/pkg/logging"
)

// Server is the admin HTTP surface bound to one running node.
type Server struct {
	node      *node.Node
	chain     *chainstore.Blockchain
	mesh      *gossip.Manager
	tokenHash []byte // bcrypt hash; nil means the surface is unauthenticated
	log       *logging.Logger

	httpServer *http.Server
}

// New returns a Server wired to n and chain. mesh may be nil if the
// node runs with no gossip connectivity, in which case /status always
// reports zero peers. tokenHash is a bcrypt hash produced by
// HashAdminToken; when empty every request is accepted unauthenticated,
// suitable only for an admin address bound to loopback.
func New(n *node.Node, chain *chainstore.Blockchain, mesh *gossip.Manager, tokenHash string) *Server {
	return &Server{
		node:      n,
		chain:     chain,
		mesh:      mesh,
		tokenHash: []byte(tokenHash),
		log:       logging.GetDefault().Component("adminhttp"),
	}
}

// HashAdminToken bcrypt-hashes a plaintext admin token for storage in
// Config.Admin.TokenHash, so the plaintext itself never needs to be
// written to disk alongside the node's other state.
func HashAdminToken(token string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("adminhttp: hash admin token: %w", err)
	}
	return string(hash), nil
}

// authenticate reports whether r carries a Bearer token matching the
// server's configured hash. Always true when no hash is configured.
func (s *Server) authenticate(r *http.Request) bool {
	if len(s.tokenHash) == 0 {
		return true
	}
	const prefix = "Bearer "
	header := r.Header.Get("Authorization")
	if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
		return false
	}
	token := header[len(prefix):]
	return bcrypt.CompareHashAndPassword(s.tokenHash, []byte(token)) == nil
}

func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.authenticate(r) {
			writeError(w, http.StatusUnauthorized, fmt.Errorf("missing or invalid admin token"))
			return
		}
		next(w, r)
	}
}

// Start begins serving on addr.
func (s *Server) Start(addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /submit", s.requireAuth(s.handleSubmit))
	mux.HandleFunc("POST /query", s.requireAuth(s.handleQuery))
	mux.HandleFunc("GET /status", s.handleStatus)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error("admin http server error", "error", err)
		}
	}()
	s.log.Info("admin http server started", "addr", addr)
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

// submitRequest is the wire shape of a POST /submit body, matching
// the transaction fields spec.md §6 uses on the gossip wire.
type submitRequest struct {
	SQL       string `json:"sql"`
	Database  string `json:"database"`
	Counter   uint64 `json:"counter"`
	Invoker   string `json:"invoker"`
	Signature string `json:"signature"`
}

type submitResponse struct {
	Eligibility string `json:"eligibility"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}

	stmt, err := sqlast.Parse(req.SQL)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	invoker, err := crypto.ParsePublicKey(req.Invoker)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	sig, err := base64.StdEncoding.DecodeString(req.Signature)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode signature: %w", err))
		return
	}
	tx := &chaintx.Transaction{
		Invoker:   invoker,
		Database:  req.Database,
		Counter:   req.Counter,
		Statement: stmt,
		Signature: crypto.Signature(sig),
	}
	if err := tx.Verify(); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	eligibility, err := s.node.SubmitTransaction(tx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, submitResponse{Eligibility: eligibility.String()})
}

type queryRequest struct {
	SQL string `json:"sql"`
}

type queryResponse struct {
	Columns []string         `json:"columns"`
	Rows    [][]interface{} `json:"rows"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}

	var resp queryResponse
	err := s.chain.WithUnverifiedTransactions(r.Context(), func(exec *sql.Tx) error {
		rows, err := exec.QueryContext(r.Context(), req.SQL)
		if err != nil {
			return err
		}
		defer rows.Close()

		cols, err := rows.Columns()
		if err != nil {
			return err
		}
		resp.Columns = cols

		for rows.Next() {
			values := make([]interface{}, len(cols))
			ptrs := make([]interface{}, len(cols))
			for i := range values {
				ptrs[i] = &values[i]
			}
			if err := rows.Scan(ptrs...); err != nil {
				return err
			}
			resp.Rows = append(resp.Rows, values)
		}
		return rows.Err()
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type statusResponse struct {
	Genesis string `json:"genesis"`
	Head    string `json:"head"`
	Height  uint64 `json:"height"`
	Peers   int    `json:"peers"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	genesis := s.chain.Genesis()
	head := s.chain.Highest()
	peers := 0
	if s.mesh != nil {
		peers = len(s.mesh.Connected())
	}
	writeJSON(w, http.StatusOK, statusResponse{
		Genesis: genesis.Signature.Hex(),
		Head:    head.Signature.Hex(),
		Height:  head.Index,
		Peers:   peers,
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
