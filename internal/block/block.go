// Package block defines the content-addressed, signed block structure that
// chains to its predecessor by header hash.
package block

import (
	"fmt"

	"github.com/mr-tron/base58"

	"github.com/haschain/miniroha/internal/tx"
	"github.com/haschain/miniroha/pkg/crypto"
)

// Header carries the fields required to chain and order blocks. TxRoot and
// StateRoot are reserved for a future Merkleized-state design and are not
// populated or checked by v1 consensus.
type Header struct {
	Height    uint64 `json:"height"`
	PrevHash  string `json:"prev_hash"`
	Timestamp int64  `json:"timestamp"`
	TxRoot    string `json:"tx_root,omitempty"`
	StateRoot string `json:"state_root,omitempty"`
}

// Hash returns the content hash of the header: hash(canonical(header)).
func (h Header) Hash() (crypto.Hash, error) {
	b, err := crypto.CanonicalJSON(h)
	if err != nil {
		return crypto.Hash{}, fmt.Errorf("canonicalize header: %w", err)
	}
	return crypto.ComputeHash(b), nil
}

// Block is a signed, ordered list of transactions chained to its
// predecessor by the hash of the predecessor's header.
type Block struct {
	Header       Header           `json:"header"`
	Transactions []tx.Transaction `json:"transactions"`
	ProposerID   string           `json:"proposer_id"`
	Signature    string           `json:"signature"`
}

// signingPayload is the exact shape signed over: {header, transactions,
// proposer_id}, matching spec's "signing a block signs
// canonical({header, transactions, proposer_id})" rule. Signature is
// deliberately excluded (you cannot sign over your own signature).
type signingPayload struct {
	Header       Header           `json:"header"`
	Transactions []tx.Transaction `json:"transactions"`
	ProposerID   string           `json:"proposer_id"`
}

func (b Block) signingBytes() ([]byte, error) {
	return crypto.CanonicalJSON(signingPayload{
		Header:       b.Header,
		Transactions: b.Transactions,
		ProposerID:   b.ProposerID,
	})
}

// Sign populates Signature by signing the block's canonical payload with
// the proposer's private key.
func (b *Block) Sign(key *crypto.PrivateKey) error {
	payload, err := b.signingBytes()
	if err != nil {
		return err
	}
	sig, err := key.Sign(payload)
	if err != nil {
		return fmt.Errorf("sign block: %w", err)
	}
	b.Signature = base58.Encode(sig)
	return nil
}

// VerifySignature checks the block's signature against a validator's
// public key. It never errors; malformed input simply fails verification.
func (b Block) VerifySignature(proposerPublicKey []byte) bool {
	payload, err := b.signingBytes()
	if err != nil {
		return false
	}
	sig, err := base58.Decode(b.Signature)
	if err != nil {
		return false
	}
	return crypto.VerifySignature(payload, sig, proposerPublicKey)
}

// Hash returns the content hash of the block's header.
func (b Block) Hash() (crypto.Hash, error) {
	return b.Header.Hash()
}
