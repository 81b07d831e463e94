// Package node runs the non-consensus block production path: a single
// timer-driven producer that both produces and applies its own blocks.
// This is only safe for a single-node test deployment and is mutually
// exclusive with internal/consensus.Engine — the two must never run
// against the same store at once.
package node

import (
	"sync"
	"time"

	"github.com/haschain/miniroha/internal/applier"
	"github.com/haschain/miniroha/internal/log"
	"github.com/haschain/miniroha/internal/mempool"
	"github.com/haschain/miniroha/internal/state"
	"github.com/haschain/miniroha/pkg/crypto"
)

// SimpleProducer commits a block every interval when the mempool holds at
// least one pending transaction. It never gossips or seeks agreement with
// other nodes — single-node test mode only.
type SimpleProducer struct {
	store    *state.Store
	pool     *mempool.Pool
	key      *crypto.PrivateKey
	selfID   string
	interval time.Duration
	maxTx    int
	maxBytes int

	mu      sync.Mutex
	stop    chan struct{}
	stopped bool
}

// NewSimpleProducer constructs a producer that signs blocks as selfID.
func NewSimpleProducer(s *state.Store, pool *mempool.Pool, selfID string, key *crypto.PrivateKey, interval time.Duration, maxTx, maxBytes int) *SimpleProducer {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if maxTx <= 0 {
		maxTx = 500
	}
	if maxBytes <= 0 {
		maxBytes = 1 << 20
	}
	return &SimpleProducer{
		store:    s,
		pool:     pool,
		key:      key,
		selfID:   selfID,
		interval: interval,
		maxTx:    maxTx,
		maxBytes: maxBytes,
		stop:     make(chan struct{}),
	}
}

// Start runs the producer loop in a new goroutine; it returns immediately.
func (p *SimpleProducer) Start() {
	go p.loop()
}

// Stop halts the loop; a commit already in progress is allowed to finish.
func (p *SimpleProducer) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}
	p.stopped = true
	close(p.stop)
}

func (p *SimpleProducer) loop() {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			p.tick()
		}
	}
}

func (p *SimpleProducer) tick() {
	if p.pool.Count() == 0 {
		return
	}

	now := time.Now().Unix()
	b, err := applier.Produce(p.store, p.pool, p.selfID, p.key, p.maxTx, p.maxBytes, now)
	if err != nil {
		log.Block.Warn().Err(err).Msg("simple producer: failed to produce block")
		return
	}

	committed, err := applier.Apply(p.store, *b, now)
	if err != nil {
		log.Block.Error().Err(err).Uint64("height", b.Header.Height).Msg("simple producer: failed to apply block")
		return
	}
	p.pool.RemoveConfirmed(committed)
	log.Block.Info().Uint64("height", b.Header.Height).Int("txs", len(committed)).Msg("simple producer: committed block")
}
