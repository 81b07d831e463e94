package rpc

import (
	"encoding/json"

	"github.com/haschain/miniroha/internal/consensus"
)

// success wraps a successful query/submit response: {success:true, data} or
// {success:true, tx_hash}.
type success struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	TxHash  string      `json:"tx_hash,omitempty"`
}

// failure wraps an error response: {error, message|details}.
type failure struct {
	Error   string      `json:"error"`
	Message string      `json:"message,omitempty"`
	Details interface{} `json:"details,omitempty"`
}

// submitTxRequest is the body of POST /tx.
type submitTxRequest struct {
	Tx json.RawMessage `json:"tx"`
}

// consensusEnvelope tags the three consensus message payloads POST
// /consensus accepts, since Proposal/PreVote/PreCommit carry no self
// identifying field of their own (their "type" only exists inside the
// bytes each one signs).
type consensusEnvelope struct {
	Type      consensus.MessageType `json:"type"`
	Proposal  *consensus.Proposal   `json:"proposal,omitempty"`
	PreVote   *consensus.PreVote    `json:"prevote,omitempty"`
	PreCommit *consensus.PreCommit  `json:"precommit,omitempty"`
}
