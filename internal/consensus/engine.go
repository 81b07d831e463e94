// Package consensus implements the round-based, quorum-driven three-phase
// BFT agreement protocol: propose, prevote, precommit over a static
// validator set with round-robin proposer rotation.
package consensus

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/haschain/miniroha/internal/applier"
	"github.com/haschain/miniroha/internal/block"
	"github.com/haschain/miniroha/internal/log"
	"github.com/haschain/miniroha/internal/mempool"
	"github.com/haschain/miniroha/internal/state"
	"github.com/haschain/miniroha/pkg/crypto"
)

// Step names the phase within a round.
type Step int

const (
	StepPropose Step = iota
	StepPrevote
	StepPrecommit
)

// Timeouts bundles the engine's configurable round timers.
type Timeouts struct {
	Propose       time.Duration
	Prevote       time.Duration
	Precommit     time.Duration
	BlockInterval time.Duration
}

// DefaultTimeouts returns the engine's documented defaults: 3s propose
// timeout, 2s prevote/precommit timeouts, 10s minimum block interval.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Propose:       3 * time.Second,
		Prevote:       2 * time.Second,
		Precommit:     2 * time.Second,
		BlockInterval: 10 * time.Second,
	}
}

// Engine is one validator's local consensus state machine. All
// state-mutating handlers are serialized through a single mutex; there is
// no fine-grained locking, matching the single-logical-event-loop model.
type Engine struct {
	mu sync.Mutex

	store     *state.Store
	pool      *mempool.Pool
	transport Transport

	selfID string
	key    *crypto.PrivateKey

	validatorIDs []string
	pubKeys      map[string][]byte
	n            int
	f            int
	quorum       int

	height uint64
	round  uint64
	step   Step

	lockedBlock *block.Block
	lockedRound int64 // -1 if unset
	validBlock  *block.Block
	validRound  int64

	prevotes   map[uint64]map[string]PreVote
	precommits map[uint64]map[string]PreCommit

	timeouts Timeouts
	timer    *time.Timer
	stopped  bool

	maxTxPerBlock    int
	maxBytesPerBlock int

	onCommit func(height uint64)
}

// Config bundles Engine construction parameters.
type Config struct {
	Store            *state.Store
	Pool             *mempool.Pool
	Transport        Transport
	SelfID           string
	Key              *crypto.PrivateKey
	Timeouts         Timeouts
	MaxTxPerBlock    int
	MaxBytesPerBlock int
	OnCommit         func(height uint64)
}

// New constructs an Engine with the validator set discovered by iterating
// the store's validators/ prefix (unbounded cluster size, not a fixed
// node1..nodeN probe).
func New(cfg Config) (*Engine, error) {
	validators, err := cfg.Store.ListValidators()
	if err != nil {
		return nil, fmt.Errorf("list validators: %w", err)
	}
	if len(validators) == 0 {
		return nil, fmt.Errorf("no validators found; is genesis bootstrapped?")
	}

	ids := make([]string, 0, len(validators))
	pubKeys := make(map[string][]byte, len(validators))
	for _, v := range validators {
		pub, err := crypto.DecodePublicKey(v.PublicKey)
		if err != nil {
			return nil, fmt.Errorf("decode validator %s public key: %w", v.ID, err)
		}
		ids = append(ids, v.ID)
		pubKeys[v.ID] = pub
	}
	sort.Strings(ids)

	n := len(ids)
	f := (n - 1) / 3
	quorum := 2*f + 1

	maxTx := cfg.MaxTxPerBlock
	if maxTx <= 0 {
		maxTx = 500
	}
	maxBytes := cfg.MaxBytesPerBlock
	if maxBytes <= 0 {
		maxBytes = 1 << 20
	}
	timeouts := cfg.Timeouts
	if timeouts == (Timeouts{}) {
		timeouts = DefaultTimeouts()
	}

	return &Engine{
		store:            cfg.Store,
		pool:             cfg.Pool,
		transport:        cfg.Transport,
		selfID:           cfg.SelfID,
		key:              cfg.Key,
		validatorIDs:     ids,
		pubKeys:          pubKeys,
		n:                n,
		f:                f,
		quorum:           quorum,
		lockedRound:      -1,
		validRound:       -1,
		timeouts:         timeouts,
		maxTxPerBlock:    maxTx,
		maxBytesPerBlock: maxBytes,
		onCommit:         cfg.OnCommit,
	}, nil
}

// Start begins agreement from the store's persisted tip.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	lastHeight, err := e.store.GetLastHeight()
	if err != nil {
		return err
	}
	e.height = lastHeight + 1
	e.stopped = false
	e.startRoundLocked(0)
	return nil
}

// Stop cancels any pending timer and prevents further round starts. A
// currently running handler is allowed to complete; a block apply in
// progress is atomic at the store level so shutdown cannot leave
// half-applied state.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopped = true
	if e.timer != nil {
		e.timer.Stop()
	}
}

// proposerFor returns the deterministic proposer for a height/round, the
// round-robin rule sorted_validator_ids[(h+r) mod n].
func (e *Engine) proposerFor(height, round uint64) string {
	idx := (height + round) % uint64(e.n)
	return e.validatorIDs[idx]
}

// startRoundLocked begins round `round`: clears its vote maps and enters
// the propose step. Caller must hold e.mu.
func (e *Engine) startRoundLocked(round uint64) {
	if e.stopped {
		return
	}
	e.round = round
	e.step = StepPropose
	if e.prevotes == nil {
		e.prevotes = make(map[uint64]map[string]PreVote)
	}
	if e.precommits == nil {
		e.precommits = make(map[uint64]map[string]PreCommit)
	}
	e.prevotes[round] = make(map[string]PreVote)
	e.precommits[round] = make(map[string]PreCommit)

	proposer := e.proposerFor(e.height, round)
	log.Consensus.Debug().Uint64("height", e.height).Uint64("round", round).Str("proposer", proposer).Msg("starting round")

	if proposer == e.selfID {
		e.proposeLocked(round)
		return
	}
	e.armTimerLocked(e.timeouts.Propose, func() { e.onProposeTimeout(e.height, round) })
}

// proposeLocked runs the proposer's half of the propose step.
func (e *Engine) proposeLocked(round uint64) {
	now := time.Now().Unix()
	b, err := applier.Produce(e.store, e.pool, e.selfID, e.key, e.maxTxPerBlock, e.maxBytesPerBlock, now)
	if err != nil {
		log.Consensus.Warn().Err(err).Msg("failed to produce block, voting nil")
		e.enterPrevoteLocked(round, "")
		return
	}
	hash, err := b.Hash()
	if err != nil {
		log.Consensus.Error().Err(err).Msg("failed to hash produced block")
		e.enterPrevoteLocked(round, "")
		return
	}
	e.validBlock = b
	e.validRound = int64(round)

	prop := Proposal{Height: e.height, Round: round, ValidatorID: e.selfID, BlockHash: hash.String(), Block: *b}
	if err := prop.sign(e.key); err != nil {
		log.Consensus.Error().Err(err).Msg("failed to sign proposal")
		e.enterPrevoteLocked(round, "")
		return
	}
	if err := e.transport.BroadcastProposal(prop); err != nil {
		log.Consensus.Warn().Err(err).Msg("failed to broadcast proposal")
	}
	e.enterPrevoteLocked(round, hash.String())
}

// enterPrevoteLocked transitions to the prevote step and casts this
// node's own prevote for blockHash ("" for nil).
func (e *Engine) enterPrevoteLocked(round uint64, blockHash string) {
	e.step = StepPrevote
	e.armTimerLocked(e.timeouts.Prevote, func() { e.onPrevoteTimeout(e.height, round) })

	v := PreVote{Height: e.height, Round: round, ValidatorID: e.selfID, BlockHash: blockHash}
	if err := v.sign(e.key); err != nil {
		log.Consensus.Error().Err(err).Msg("failed to sign prevote")
		return
	}
	e.recordPrevoteLocked(v)
	if err := e.transport.BroadcastPreVote(v); err != nil {
		log.Consensus.Warn().Err(err).Msg("failed to broadcast prevote")
	}
	if round == e.round {
		e.tallyPrevotesLocked(round)
	}
}

// armTimerLocked replaces the pending timer with one that invokes fn after
// d, unless the engine has been stopped in the meantime.
func (e *Engine) armTimerLocked(d time.Duration, fn func()) {
	if e.timer != nil {
		e.timer.Stop()
	}
	e.timer = time.AfterFunc(d, func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.stopped {
			return
		}
		fn()
	})
}
