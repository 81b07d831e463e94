package block

import "errors"

// Structural validation errors. An empty transaction list is valid — the
// simple producer and consensus engine both may commit an empty block to
// advance last_height.
var (
	ErrZeroHeight       = errors.New("block height must be >= 1")
	ErrZeroTimestamp    = errors.New("block timestamp is zero")
	ErrMissingProposer  = errors.New("block has no proposer_id")
	ErrMissingSignature = errors.New("block has no signature")
)

// Validate checks block structure in isolation: it does not verify the
// signature (callers resolve the proposer's registered key first) or
// consensus-level rules like prev_hash chaining.
func (b *Block) Validate() error {
	if b.Header.Height < 1 {
		return ErrZeroHeight
	}
	if b.Header.Timestamp <= 0 {
		return ErrZeroTimestamp
	}
	if b.ProposerID == "" {
		return ErrMissingProposer
	}
	if b.Signature == "" {
		return ErrMissingSignature
	}
	return nil
}
