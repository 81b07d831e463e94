package consensus

import (
	"fmt"
	"time"

	"github.com/haschain/miniroha/internal/applier"
	"github.com/haschain/miniroha/internal/block"
	"github.com/haschain/miniroha/internal/log"
)

// onProposeTimeout fires when no valid proposal arrived before the propose
// timeout elapsed. Caller (armTimerLocked) already holds e.mu.
func (e *Engine) onProposeTimeout(height, round uint64) {
	if height != e.height || round != e.round || e.step != StepPropose {
		return // stale timer, round already moved on
	}
	log.Consensus.Debug().Uint64("height", height).Uint64("round", round).Msg("propose timeout, voting nil")
	e.enterPrevoteLocked(round, "")
}

// onPrevoteTimeout fires when prevote quorum was not reached before the
// prevote timeout elapsed. Caller already holds e.mu.
func (e *Engine) onPrevoteTimeout(height, round uint64) {
	if height != e.height || round != e.round || e.step != StepPrevote {
		return
	}
	log.Consensus.Debug().Uint64("height", height).Uint64("round", round).Msg("prevote timeout, precommitting nil")
	e.enterPrecommitLocked(round, "")
}

// onPrecommitTimeout fires when precommit quorum was not reached before the
// precommit timeout elapsed: the round failed to converge, advance and retry.
func (e *Engine) onPrecommitTimeout(height, round uint64) {
	if height != e.height || round != e.round || e.step != StepPrecommit {
		return
	}
	log.Consensus.Debug().Uint64("height", height).Uint64("round", round).Msg("precommit timeout, advancing round")
	e.advanceRoundLocked()
}

// advanceRoundLocked moves to round+1 of the current height immediately.
func (e *Engine) advanceRoundLocked() {
	e.startRoundLocked(e.round + 1)
}

// HandleProposal processes an incoming Proposal. Messages for another
// height or round, or arriving outside the propose step, are stale and
// return ErrStaleMessage. A proposal that does not come from the expected
// proposer, does not verify, or whose block fails verification casts a nil
// prevote and also returns the error; callers log such message-level
// errors and drop the message.
func (e *Engine) HandleProposal(p Proposal) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if p.Height != e.height {
		return fmt.Errorf("%w: proposal height %d, current %d", ErrStaleMessage, p.Height, e.height)
	}
	if p.Round != e.round || e.step != StepPropose {
		return fmt.Errorf("%w: proposal round %d, current %d/%v", ErrStaleMessage, p.Round, e.round, e.step)
	}

	expected := e.proposerFor(p.Height, p.Round)
	if p.ValidatorID != expected {
		log.Consensus.Warn().Str("got", p.ValidatorID).Str("want", expected).Msg("proposal from unexpected proposer, voting nil")
		e.enterPrevoteLocked(p.Round, "")
		return fmt.Errorf("%w: %s", ErrInvalidProposer, p.ValidatorID)
	}

	pub, ok := e.pubKeys[p.ValidatorID]
	if !ok {
		e.enterPrevoteLocked(p.Round, "")
		return fmt.Errorf("%w: %s", ErrUnknownValidator, p.ValidatorID)
	}
	if !p.verify(pub) {
		e.enterPrevoteLocked(p.Round, "")
		return fmt.Errorf("%w: proposal", ErrInvalidSignature)
	}

	if err := applier.VerifyBlock(e.store, p.Block); err != nil {
		log.Consensus.Warn().Err(err).Msg("proposed block failed verification, voting nil")
		e.enterPrevoteLocked(p.Round, "")
		return fmt.Errorf("%w: %v", ErrBlockVerificationFailed, err)
	}

	hash, err := p.Block.Hash()
	if err != nil || hash.String() != p.BlockHash {
		log.Consensus.Warn().Msg("proposal block hash mismatch, voting nil")
		e.enterPrevoteLocked(p.Round, "")
		return ErrBlockVerificationFailed
	}

	blockCopy := p.Block
	e.validBlock = &blockCopy
	e.validRound = int64(p.Round)
	e.enterPrevoteLocked(p.Round, hash.String())
	return nil
}

// HandlePreVote records a prevote and advances the round's tally.
func (e *Engine) HandlePreVote(v PreVote) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if v.Height != e.height {
		return fmt.Errorf("%w: prevote height %d, current %d", ErrStaleMessage, v.Height, e.height)
	}
	pub, ok := e.pubKeys[v.ValidatorID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownValidator, v.ValidatorID)
	}
	if !v.verify(pub) {
		return fmt.Errorf("%w: prevote", ErrInvalidSignature)
	}

	e.recordPrevoteLocked(v)
	if v.Round == e.round && e.step == StepPrevote {
		e.tallyPrevotesLocked(v.Round)
	}
	return nil
}

func (e *Engine) recordPrevoteLocked(v PreVote) {
	if e.prevotes[v.Round] == nil {
		e.prevotes[v.Round] = make(map[string]PreVote)
	}
	e.prevotes[v.Round][v.ValidatorID] = v
}

// tallyPrevotesLocked checks whether the round's prevotes have reached
// quorum for some hash (nil or a block hash) and if so advances to
// precommit. Only evaluated while still in the prevote step of this round.
func (e *Engine) tallyPrevotesLocked(round uint64) {
	counts := make(map[string]int)
	nilCount := 0
	for _, v := range e.prevotes[round] {
		if v.isNil() {
			nilCount++
			continue
		}
		counts[v.BlockHash]++
	}
	if nilCount >= e.quorum {
		e.enterPrecommitLocked(round, "")
		return
	}

	for hash, count := range counts {
		if count < e.quorum {
			continue
		}
		if e.validBlock != nil {
			if h, err := e.validBlock.Hash(); err == nil && h.String() == hash {
				locked := *e.validBlock
				e.lockedBlock = &locked
				e.lockedRound = int64(round)
				e.enterPrecommitLocked(round, hash)
				return
			}
		}
		// Quorum for a hash this node never saw a matching proposal for:
		// v1 does not implement re-adoption of another round's valid
		// block, so it does not lock. Liveness depends on a later round
		// timing out and retrying with a fresh proposal.
	}
}

// enterPrecommitLocked transitions to the precommit step and casts this
// node's own precommit for blockHash ("" for nil).
func (e *Engine) enterPrecommitLocked(round uint64, blockHash string) {
	e.step = StepPrecommit
	e.armTimerLocked(e.timeouts.Precommit, func() { e.onPrecommitTimeout(e.height, round) })

	c := PreCommit{Height: e.height, Round: round, ValidatorID: e.selfID, BlockHash: blockHash}
	if err := c.sign(e.key); err != nil {
		log.Consensus.Error().Err(err).Msg("failed to sign precommit")
		return
	}
	e.recordPrecommitLocked(c)
	if err := e.transport.BroadcastPreCommit(c); err != nil {
		log.Consensus.Warn().Err(err).Msg("failed to broadcast precommit")
	}
	if round == e.round {
		e.tallyPrecommitsLocked(round)
	}
}

// HandlePreCommit records a precommit and advances the round's tally.
func (e *Engine) HandlePreCommit(c PreCommit) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if c.Height != e.height {
		return fmt.Errorf("%w: precommit height %d, current %d", ErrStaleMessage, c.Height, e.height)
	}
	pub, ok := e.pubKeys[c.ValidatorID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownValidator, c.ValidatorID)
	}
	if !c.verify(pub) {
		return fmt.Errorf("%w: precommit", ErrInvalidSignature)
	}

	e.recordPrecommitLocked(c)
	if c.Round == e.round {
		e.tallyPrecommitsLocked(c.Round)
	}
	return nil
}

func (e *Engine) recordPrecommitLocked(c PreCommit) {
	if e.precommits[c.Round] == nil {
		e.precommits[c.Round] = make(map[string]PreCommit)
	}
	e.precommits[c.Round][c.ValidatorID] = c
}

// tallyPrecommitsLocked checks whether the round's precommits have reached
// quorum for the exact locked block hash, committing if so, or quorum for
// nil, advancing the round immediately rather than waiting out the timeout.
func (e *Engine) tallyPrecommitsLocked(round uint64) {
	counts := make(map[string]int)
	nilCount := 0
	for _, c := range e.precommits[round] {
		if c.isNil() {
			nilCount++
			continue
		}
		counts[c.BlockHash]++
	}
	if nilCount >= e.quorum {
		e.advanceRoundLocked()
		return
	}

	for hash, count := range counts {
		if count < e.quorum {
			continue
		}
		if e.lockedBlock != nil {
			if h, err := e.lockedBlock.Hash(); err == nil && h.String() == hash {
				e.commitLocked(*e.lockedBlock)
				return
			}
		}
	}
}

// commitLocked applies the agreed block, removes its committed transactions
// from the mempool, and starts the next height's round 0 after
// block_interval. No two honest validators commit different blocks at the
// same height: a precommit quorum exists for exactly one hash per height.
func (e *Engine) commitLocked(b block.Block) {
	now := time.Now().Unix()
	committed, err := applier.Apply(e.store, b, now)
	if err != nil {
		log.Consensus.Error().Err(err).Uint64("height", b.Header.Height).Msg("failed to apply committed block")
		return
	}
	e.pool.RemoveConfirmed(committed)

	height := b.Header.Height
	log.Consensus.Info().Uint64("height", height).Int("txs", len(committed)).Msg("committed block")

	e.height = height + 1
	e.round = 0
	e.lockedBlock = nil
	e.lockedRound = -1
	e.validBlock = nil
	e.validRound = -1
	e.prevotes = make(map[uint64]map[string]PreVote)
	e.precommits = make(map[uint64]map[string]PreCommit)

	if e.onCommit != nil {
		e.onCommit(height)
	}

	e.armTimerLocked(e.timeouts.BlockInterval, func() { e.startRoundLocked(0) })
}
