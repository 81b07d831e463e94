package applier

import (
	"errors"
	"fmt"

	"github.com/haschain/miniroha/internal/block"
	"github.com/haschain/miniroha/internal/mempool"
	"github.com/haschain/miniroha/internal/state"
	"github.com/haschain/miniroha/pkg/crypto"
)

// ErrEmptyMempool is returned when there is nothing to propose; a proposer
// that cannot produce votes nil at the prevote step instead.
var ErrEmptyMempool = errors.New("mempool is empty, refusing to produce a block")

// Produce builds, signs, and returns the next block: it reads last_height,
// fetches the last block's header hash for prev_hash, takes up to maxTx
// mempool entries (subject to maxBytes) without removing them from the
// pool, and signs
// canonical({header, transactions, proposer_id}) with the proposer's key.
func Produce(s *state.Store, pool *mempool.Pool, proposerID string, key *crypto.PrivateKey, maxTx, maxBytes int, now int64) (*block.Block, error) {
	if pool.Count() == 0 {
		return nil, ErrEmptyMempool
	}

	lastHeight, err := s.GetLastHeight()
	if err != nil {
		return nil, err
	}

	prevHash := ""
	if lastHeight > 0 {
		prev, err := s.GetBlock(lastHeight)
		if err != nil {
			return nil, fmt.Errorf("load previous block: %w", err)
		}
		h, err := prev.Hash()
		if err != nil {
			return nil, err
		}
		prevHash = h.String()
	}

	txs := pool.TakeForBlock(maxTx, maxBytes)

	b := &block.Block{
		Header: block.Header{
			Height:    lastHeight + 1,
			PrevHash:  prevHash,
			Timestamp: now,
		},
		Transactions: txs,
		ProposerID:   proposerID,
	}
	if err := b.Sign(key); err != nil {
		return nil, fmt.Errorf("sign produced block: %w", err)
	}
	return b, nil
}
