// Package rpc exposes the ledger's submit, query, health, and consensus
// endpoints over stdlib net/http.
package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/haschain/miniroha/internal/consensus"
	klog "github.com/haschain/miniroha/internal/log"
	"github.com/haschain/miniroha/internal/mempool"
	"github.com/haschain/miniroha/internal/state"
	"github.com/haschain/miniroha/internal/tx"
	"github.com/haschain/miniroha/internal/txvalidate"
)

// maxBodySize caps a request body (1 MB).
const maxBodySize = 1 << 20

// Broadcaster relays a freshly admitted transaction to peers. A nil
// Broadcaster disables relay (single-node mode).
type Broadcaster interface {
	BroadcastTx(tx.Transaction) error
}

// Server is the ledger's HTTP API server.
type Server struct {
	addr    string
	store   *state.Store
	pool    *mempool.Pool
	engine  *consensus.Engine // nil when USE_BFT=false
	relay   Broadcaster       // nil in single-node mode
	server  *http.Server
	ln      net.Listener
	logger  zerolog.Logger
	started time.Time
}

// New constructs a Server. engine and relay may be nil.
func New(addr string, store *state.Store, pool *mempool.Pool, engine *consensus.Engine, relay Broadcaster) *Server {
	s := &Server{
		addr:    addr,
		store:   store,
		pool:    pool,
		engine:  engine,
		relay:   relay,
		logger:  klog.RPC,
		started: time.Now(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /tx", s.handleSubmitTx)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /info", s.handleInfo)
	mux.HandleFunc("GET /mempool", s.handleMempool)
	mux.HandleFunc("GET /query/domain/{id}", s.handleQueryDomain)
	mux.HandleFunc("GET /query/account/{id}", s.handleQueryAccount)
	mux.HandleFunc("GET /query/asset/{id}", s.handleQueryAsset)
	mux.HandleFunc("GET /query/balance/{asset_id}/{account_id}", s.handleQueryBalance)
	mux.HandleFunc("GET /query/block/{height}", s.handleQueryBlock)
	mux.HandleFunc("POST /consensus", s.handleConsensus)

	s.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("rpc listen: %w", err)
	}
	s.ln = ln

	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("rpc server error")
		}
	}()
	return nil
}

// Addr returns the bound listener address.
func (s *Server) Addr() string {
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return s.addr
}

// Stop gracefully shuts the server down.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func writeSuccess(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(success{Success: true, Data: data})
}

func writeTxAccepted(w http.ResponseWriter, hash string) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(success{Success: true, TxHash: hash})
}

func writeNotFound(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusNotFound)
	json.NewEncoder(w).Encode(failure{Error: "Not found"})
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(failure{Error: "Bad request", Message: message})
}

func writeValidationError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	if ve, ok := err.(*txvalidate.ValidationError); ok {
		json.NewEncoder(w).Encode(failure{Error: ve.Kind(), Message: ve.Error()})
		return
	}
	json.NewEncoder(w).Encode(failure{Error: "ValidationError", Message: err.Error()})
}

func readBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	return dec.Decode(v)
}
