// Package applier verifies and atomically applies blocks to the ledger
// state, the only way state advances beyond genesis.
package applier

import (
	"errors"
	"fmt"

	"github.com/haschain/miniroha/internal/block"
	"github.com/haschain/miniroha/internal/instruction"
	"github.com/haschain/miniroha/internal/state"
	"github.com/haschain/miniroha/pkg/crypto"
)

// Errors returned by VerifyBlock.
var (
	ErrUnknownProposer  = errors.New("proposer is not a registered validator")
	ErrBadSignature     = errors.New("block signature does not verify")
	ErrBadPrevHash      = errors.New("prev_hash does not match stored previous block")
	ErrUnexpectedHeight = errors.New("block height does not follow the current tip")
)

// VerifyBlock checks a block at height last_height+1: signature against the
// stated proposer's registered validator key, prev_hash continuity, and
// structural fields. Transactions are not re-validated here — they were
// validated on admission to the mempool — but are re-executed on Apply.
func VerifyBlock(s *state.Store, b block.Block) error {
	if err := b.Validate(); err != nil {
		return err
	}

	lastHeight, err := s.GetLastHeight()
	if err != nil {
		return err
	}
	if b.Header.Height != lastHeight+1 {
		return fmt.Errorf("%w: got %d, want %d", ErrUnexpectedHeight, b.Header.Height, lastHeight+1)
	}

	if lastHeight > 0 {
		prev, err := s.GetBlock(lastHeight)
		if err != nil {
			return fmt.Errorf("load previous block: %w", err)
		}
		prevHash, err := prev.Hash()
		if err != nil {
			return err
		}
		if b.Header.PrevHash != prevHash.String() {
			return ErrBadPrevHash
		}
	}

	validator, err := s.GetValidator(b.ProposerID)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrUnknownProposer, b.ProposerID)
	}
	pub, err := crypto.DecodePublicKey(validator.PublicKey)
	if err != nil {
		return fmt.Errorf("decode proposer key: %w", err)
	}
	if !b.VerifySignature(pub) {
		return ErrBadSignature
	}
	return nil
}

// Apply atomically executes every transaction in the block against working
// state. A transaction whose instructions include a failure is dropped in
// its entirety (its scope is never merged) while the rest of the block
// still applies. The whole result — committed transactions, updated
// nonces, the block record, and the new tip — is written as one atomic
// batch. It returns the hashes of transactions that were actually
// committed, for the caller to remove from the mempool.
func Apply(s *state.Store, b block.Block, now int64) ([]string, error) {
	txn := s.NewTxn()

	var committed []string
	for _, t := range b.Transactions {
		hash, err := t.Hash()
		if err != nil {
			continue
		}
		scope := txn.Begin()

		ok := true
		for _, inst := range t.Body.Instructions {
			if err := instruction.Apply(scope, inst, now); err != nil {
				ok = false
				break
			}
		}
		if !ok {
			continue // scope discarded; transaction's writes never merge
		}

		if err := scope.PutTx(hash.String(), t); err != nil {
			continue
		}
		scope.SetNonce(t.Body.SignerID, t.Body.Nonce)
		scope.Merge()
		committed = append(committed, hash.String())
	}

	if err := txn.PutBlock(b); err != nil {
		return nil, fmt.Errorf("stage block record: %w", err)
	}
	txn.SetLastHeight(b.Header.Height)

	if err := txn.Commit(); err != nil {
		return nil, fmt.Errorf("commit block: %w", err)
	}
	return committed, nil
}
