// Package tx defines the signed transaction envelope: a nonced,
// chain-scoped list of instructions from one signer.
package tx

import (
	"fmt"

	"github.com/mr-tron/base58"

	"github.com/haschain/miniroha/internal/instruction"
	"github.com/haschain/miniroha/pkg/crypto"
)

// Body is the signed portion of a transaction.
type Body struct {
	ChainID      string           `json:"chain_id"`
	SignerID     string           `json:"signer_id"`
	Nonce        uint64           `json:"nonce"`
	CreatedAt    int64            `json:"created_at"`
	Instructions instruction.List `json:"instructions"`
}

// Signature carries the detached signature over a transaction body,
// alongside the public key it was produced with.
type Signature struct {
	PublicKey string `json:"public_key"`
	Signature string `json:"signature"`
}

// Transaction is a signed envelope carrying one signer's instructions.
type Transaction struct {
	Body      Body      `json:"body"`
	Signature Signature `json:"signature"`
}

// SigningBytes returns the canonical byte encoding of the transaction body,
// the exact payload both Sign and Verify operate over.
func (t Transaction) SigningBytes() ([]byte, error) {
	return crypto.CanonicalJSON(t.Body)
}

// Hash returns the content hash of the transaction, keyed in the state
// store under txs/<hash>. It is the hash of the same canonical bytes that
// were signed, so a transaction's identity is fixed the moment it is
// signed and independent of any later re-encoding.
func (t Transaction) Hash() (crypto.Hash, error) {
	b, err := t.SigningBytes()
	if err != nil {
		return crypto.Hash{}, err
	}
	return crypto.ComputeHash(b), nil
}

// Sign produces a Transaction with Signature populated from the given key.
func Sign(body Body, key *crypto.PrivateKey) (Transaction, error) {
	canonical, err := crypto.CanonicalJSON(body)
	if err != nil {
		return Transaction{}, fmt.Errorf("canonicalize body: %w", err)
	}
	sig, err := key.Sign(canonical)
	if err != nil {
		return Transaction{}, fmt.Errorf("sign body: %w", err)
	}
	return Transaction{
		Body: body,
		Signature: Signature{
			PublicKey: crypto.EncodePublicKey(key.PublicKey()),
			Signature: base58.Encode(sig),
		},
	}, nil
}

// VerifySignature checks that the transaction's signature was produced by
// the private key matching its declared public key, over the canonical
// encoding of its body. It returns false (never an error) on any malformed
// input, per the crypto component's verify contract.
func (t Transaction) VerifySignature() bool {
	pub, err := crypto.DecodePublicKey(t.Signature.PublicKey)
	if err != nil {
		return false
	}
	sig, err := base58.Decode(t.Signature.Signature)
	if err != nil {
		return false
	}
	body, err := t.SigningBytes()
	if err != nil {
		return false
	}
	return crypto.VerifySignature(body, sig, pub)
}
