package rpc

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/haschain/miniroha/internal/consensus"
	"github.com/haschain/miniroha/internal/tx"
	"github.com/haschain/miniroha/internal/txvalidate"
)

// handleSubmitTx validates and admits a client-submitted transaction to the
// mempool, relaying it to peers on success.
func (s *Server) handleSubmitTx(w http.ResponseWriter, r *http.Request) {
	var req submitTxRequest
	if err := readBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var t tx.Transaction
	if err := json.Unmarshal(req.Tx, &t); err != nil {
		writeError(w, http.StatusBadRequest, "invalid transaction encoding")
		return
	}

	if err := txvalidate.Validate(s.store, t); err != nil {
		writeValidationError(w, err)
		return
	}

	hash, err := t.Hash()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to hash transaction")
		return
	}

	if err := s.pool.Add(hash.String(), t, time.Now()); err != nil {
		writeValidationError(w, err)
		return
	}

	if s.relay != nil {
		if err := s.relay.BroadcastTx(t); err != nil {
			s.logger.Warn().Err(err).Msg("failed to relay submitted transaction")
		}
	}

	writeTxAccepted(w, hash.String())
}

// handleHealth reports process liveness.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, map[string]interface{}{
		"status": "ok",
		"uptime": time.Since(s.started).String(),
	})
}

// handleInfo reports chain identity and current height.
func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	chainID, err := s.store.GetChainID()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	height, err := s.store.GetLastHeight()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeSuccess(w, map[string]interface{}{
		"chain_id":    chainID,
		"last_height": height,
		"bft":         s.engine != nil,
	})
}

// handleMempool reports pending transaction count and hashes.
func (s *Server) handleMempool(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, map[string]interface{}{
		"count":  s.pool.Count(),
		"hashes": s.pool.Hashes(),
	})
}

func (s *Server) handleQueryDomain(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	d, err := s.store.GetDomain(id)
	if err != nil {
		writeNotFound(w)
		return
	}
	writeSuccess(w, d)
}

func (s *Server) handleQueryAccount(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	a, err := s.store.GetAccount(id)
	if err != nil {
		writeNotFound(w)
		return
	}
	roles, err := s.store.GetAccountRoles(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeSuccess(w, map[string]interface{}{
		"id":         a.ID,
		"public_key": a.PublicKey,
		"created_at": a.CreatedAt,
		"roles":      roles,
	})
}

func (s *Server) handleQueryAsset(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	a, err := s.store.GetAsset(id)
	if err != nil {
		writeNotFound(w)
		return
	}
	writeSuccess(w, a)
}

func (s *Server) handleQueryBalance(w http.ResponseWriter, r *http.Request) {
	assetID := r.PathValue("asset_id")
	accountID := r.PathValue("account_id")

	hasAsset, err := s.store.HasAsset(assetID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	hasAccount, err := s.store.HasAccount(accountID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !hasAsset || !hasAccount {
		writeNotFound(w)
		return
	}
	amount, err := s.store.GetBalance(assetID, accountID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeSuccess(w, map[string]interface{}{
		"asset_id":   assetID,
		"account_id": accountID,
		"amount":     amount.String(),
	})
}

func (s *Server) handleQueryBlock(w http.ResponseWriter, r *http.Request) {
	heightStr := r.PathValue("height")
	height, err := strconv.ParseUint(heightStr, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "height must be a non-negative integer")
		return
	}
	b, err := s.store.GetBlock(height)
	if err != nil {
		writeNotFound(w)
		return
	}
	writeSuccess(w, b)
}

// handleConsensus dispatches a proposal, prevote, or precommit to the
// engine. When BFT consensus is disabled there is no engine to receive the
// message, and it responds 503 Service Unavailable.
func (s *Server) handleConsensus(w http.ResponseWriter, r *http.Request) {
	if s.engine == nil {
		writeError(w, http.StatusServiceUnavailable, "consensus engine not running (USE_BFT=false)")
		return
	}

	var env consensusEnvelope
	if err := readBody(w, r, &env); err != nil {
		writeError(w, http.StatusBadRequest, "invalid consensus message body")
		return
	}

	var err error
	switch env.Type {
	case consensus.MessageProposal:
		if env.Proposal == nil {
			writeError(w, http.StatusBadRequest, "missing proposal payload")
			return
		}
		err = s.engine.HandleProposal(*env.Proposal)
	case consensus.MessagePreVote:
		if env.PreVote == nil {
			writeError(w, http.StatusBadRequest, "missing prevote payload")
			return
		}
		err = s.engine.HandlePreVote(*env.PreVote)
	case consensus.MessagePreCommit:
		if env.PreCommit == nil {
			writeError(w, http.StatusBadRequest, "missing precommit payload")
			return
		}
		err = s.engine.HandlePreCommit(*env.PreCommit)
	default:
		writeError(w, http.StatusBadRequest, "unknown consensus message type")
		return
	}

	if err != nil {
		// Consensus message-level errors are logged and the message
		// dropped; the caller still gets a 200 so a retry storm from a
		// gossip layer doesn't treat this as a delivery failure.
		s.logger.Debug().Err(err).Str("type", string(env.Type)).Msg("dropped consensus message")
	}
	writeSuccess(w, map[string]bool{"accepted": err == nil})
}
