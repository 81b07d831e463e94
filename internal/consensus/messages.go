package consensus

import (
	"github.com/mr-tron/base58"

	"github.com/haschain/miniroha/internal/block"
	"github.com/haschain/miniroha/pkg/crypto"
)

// MessageType tags the three consensus message kinds.
type MessageType string

const (
	MessageProposal  MessageType = "proposal"
	MessagePreVote   MessageType = "prevote"
	MessagePreCommit MessageType = "precommit"
)

// signedPayload is the canonical {type, height, round, block_hash} shape
// every consensus message signs over. An empty BlockHash denotes a nil
// vote.
type signedPayload struct {
	Type      MessageType `json:"type"`
	Height    uint64      `json:"height"`
	Round     uint64      `json:"round"`
	BlockHash string      `json:"block_hash"`
}

func signPayload(key *crypto.PrivateKey, t MessageType, height, round uint64, blockHash string) (string, error) {
	b, err := crypto.CanonicalJSON(signedPayload{Type: t, Height: height, Round: round, BlockHash: blockHash})
	if err != nil {
		return "", err
	}
	sig, err := key.Sign(b)
	if err != nil {
		return "", err
	}
	return base58.Encode(sig), nil
}

func verifyPayload(pub []byte, t MessageType, height, round uint64, blockHash, signature string) bool {
	b, err := crypto.CanonicalJSON(signedPayload{Type: t, Height: height, Round: round, BlockHash: blockHash})
	if err != nil {
		return false
	}
	sig, err := base58.Decode(signature)
	if err != nil {
		return false
	}
	return crypto.VerifySignature(b, sig, pub)
}

// Proposal carries a proposer's block for a height/round.
type Proposal struct {
	Height      uint64      `json:"height"`
	Round       uint64      `json:"round"`
	ValidatorID string      `json:"validator_id"`
	BlockHash   string      `json:"block_hash"`
	Block       block.Block `json:"block"`
	Signature   string      `json:"signature"`
}

func (p *Proposal) sign(key *crypto.PrivateKey) error {
	sig, err := signPayload(key, MessageProposal, p.Height, p.Round, p.BlockHash)
	if err != nil {
		return err
	}
	p.Signature = sig
	return nil
}

func (p Proposal) verify(pub []byte) bool {
	return verifyPayload(pub, MessageProposal, p.Height, p.Round, p.BlockHash, p.Signature)
}

// PreVote is a validator's vote in the prevote step. An empty BlockHash is
// a nil vote.
type PreVote struct {
	Height      uint64 `json:"height"`
	Round       uint64 `json:"round"`
	ValidatorID string `json:"validator_id"`
	BlockHash   string `json:"block_hash,omitempty"`
	Signature   string `json:"signature"`
}

func (v *PreVote) sign(key *crypto.PrivateKey) error {
	sig, err := signPayload(key, MessagePreVote, v.Height, v.Round, v.BlockHash)
	if err != nil {
		return err
	}
	v.Signature = sig
	return nil
}

func (v PreVote) verify(pub []byte) bool {
	return verifyPayload(pub, MessagePreVote, v.Height, v.Round, v.BlockHash, v.Signature)
}

func (v PreVote) isNil() bool { return v.BlockHash == "" }

// PreCommit is a validator's vote in the precommit step. An empty
// BlockHash is a nil vote.
type PreCommit struct {
	Height      uint64 `json:"height"`
	Round       uint64 `json:"round"`
	ValidatorID string `json:"validator_id"`
	BlockHash   string `json:"block_hash,omitempty"`
	Signature   string `json:"signature"`
}

func (c *PreCommit) sign(key *crypto.PrivateKey) error {
	sig, err := signPayload(key, MessagePreCommit, c.Height, c.Round, c.BlockHash)
	if err != nil {
		return err
	}
	c.Signature = sig
	return nil
}

func (c PreCommit) verify(pub []byte) bool {
	return verifyPayload(pub, MessagePreCommit, c.Height, c.Round, c.BlockHash, c.Signature)
}

func (c PreCommit) isNil() bool { return c.BlockHash == "" }

// Transport abstracts consensus message delivery between validators. The
// engine depends only on this interface; internal/p2p provides the one
// shipped implementation over libp2p GossipSub.
type Transport interface {
	BroadcastProposal(Proposal) error
	BroadcastPreVote(PreVote) error
	BroadcastPreCommit(PreCommit) error
}
