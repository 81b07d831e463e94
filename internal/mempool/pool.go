// Package mempool holds validated transactions pending block inclusion,
// ordered by ascending per-entry nonce rather than the fee-rate ordering a
// UTXO mempool would use.
package mempool

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/haschain/miniroha/internal/tx"
)

// Errors returned by Add.
var (
	ErrDuplicateTx = errors.New("transaction already in mempool")
	ErrConflict    = errors.New("conflicting (signer_id, nonce) already pending")
)

// DefaultMaxSize is the pool's default capacity.
const DefaultMaxSize = 10000

type entry struct {
	hash      string
	tx        tx.Transaction
	createdAt time.Time
	seq       uint64 // insertion sequence, breaks nonce ties
}

// Pool is an in-memory pool of validated transactions keyed by hash. It is
// not a source of truth for nonces — internal/state's persisted
// last_seen_nonce is — so a transaction admitted here may still fail at
// apply time if state changed meanwhile.
type Pool struct {
	mu       sync.RWMutex
	maxSize  int
	byHash   map[string]*entry
	bySigner map[string]map[uint64]string // signer_id -> nonce -> hash
	order    []*entry                     // kept sorted by (nonce, seq)
	nextSeq  uint64
}

// New creates an empty pool with the given capacity (DefaultMaxSize if 0).
func New(maxSize int) *Pool {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &Pool{
		maxSize:  maxSize,
		byHash:   make(map[string]*entry),
		bySigner: make(map[string]map[uint64]string),
	}
}

// Add inserts a validated transaction. It rejects an identical hash already
// present and any (signer_id, nonce) conflict with a pending entry. At
// capacity, the oldest entry by nonce order is evicted to make room.
func (p *Pool) Add(hash string, t tx.Transaction, now time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.byHash[hash]; ok {
		return ErrDuplicateTx
	}
	if nonces, ok := p.bySigner[t.Body.SignerID]; ok {
		if _, conflict := nonces[t.Body.Nonce]; conflict {
			return ErrConflict
		}
	}

	if len(p.order) >= p.maxSize {
		p.evictFront()
	}

	e := &entry{hash: hash, tx: t, createdAt: now, seq: p.nextSeq}
	p.nextSeq++

	p.byHash[hash] = e
	if p.bySigner[t.Body.SignerID] == nil {
		p.bySigner[t.Body.SignerID] = make(map[uint64]string)
	}
	p.bySigner[t.Body.SignerID][t.Body.Nonce] = hash

	idx := sort.Search(len(p.order), func(i int) bool { return less(e, p.order[i]) })
	p.order = append(p.order, nil)
	copy(p.order[idx+1:], p.order[idx:])
	p.order[idx] = e

	return nil
}

func less(a, b *entry) bool {
	if a.tx.Body.Nonce != b.tx.Body.Nonce {
		return a.tx.Body.Nonce < b.tx.Body.Nonce
	}
	return a.seq < b.seq
}

// evictFront removes the single oldest entry by nonce order. Caller must
// hold p.mu.
func (p *Pool) evictFront() {
	if len(p.order) == 0 {
		return
	}
	e := p.order[0]
	p.order = p.order[1:]
	delete(p.byHash, e.hash)
	if nonces, ok := p.bySigner[e.tx.Body.SignerID]; ok {
		delete(nonces, e.tx.Body.Nonce)
		if len(nonces) == 0 {
			delete(p.bySigner, e.tx.Body.SignerID)
		}
	}
}

// Remove deletes a single entry by hash, a no-op if absent.
func (p *Pool) Remove(hash string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.removeLocked(hash)
}

func (p *Pool) removeLocked(hash string) {
	e, ok := p.byHash[hash]
	if !ok {
		return
	}
	delete(p.byHash, hash)
	if nonces, ok := p.bySigner[e.tx.Body.SignerID]; ok {
		delete(nonces, e.tx.Body.Nonce)
		if len(nonces) == 0 {
			delete(p.bySigner, e.tx.Body.SignerID)
		}
	}
	for i, o := range p.order {
		if o == e {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
}

// RemoveConfirmed removes every listed hash after a block applies them.
func (p *Pool) RemoveConfirmed(hashes []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, h := range hashes {
		p.removeLocked(h)
	}
}

// Has reports whether hash is pending.
func (p *Pool) Has(hash string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.byHash[hash]
	return ok
}

// Get returns the pending transaction for hash, if any.
func (p *Pool) Get(hash string) (tx.Transaction, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	e, ok := p.byHash[hash]
	if !ok {
		return tx.Transaction{}, false
	}
	return e.tx, true
}

// Count returns the number of pending transactions.
func (p *Pool) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.order)
}

// Hashes returns every pending hash, in nonce order.
func (p *Pool) Hashes() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, len(p.order))
	for i, e := range p.order {
		out[i] = e.hash
	}
	return out
}

// TakeForBlock returns a prefix of the nonce-ordered sequence subject to
// both maxCount and maxBytes (measured over each transaction's signing
// bytes). It does not remove anything; removal happens only through
// RemoveConfirmed once a block including these entries is durably applied.
func (p *Pool) TakeForBlock(maxCount, maxBytes int) []tx.Transaction {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]tx.Transaction, 0, maxCount)
	size := 0
	for _, e := range p.order {
		if len(out) >= maxCount {
			break
		}
		b, err := e.tx.SigningBytes()
		if err != nil {
			continue
		}
		if maxBytes > 0 && size+len(b) > maxBytes {
			break
		}
		out = append(out, e.tx)
		size += len(b)
	}
	return out
}

// HashesForBlock mirrors TakeForBlock but returns hashes, for callers that
// need to pass them straight to RemoveConfirmed after a successful apply.
func (p *Pool) HashesForBlock(maxCount, maxBytes int) []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]string, 0, maxCount)
	size := 0
	for _, e := range p.order {
		if len(out) >= maxCount {
			break
		}
		b, err := e.tx.SigningBytes()
		if err != nil {
			continue
		}
		if maxBytes > 0 && size+len(b) > maxBytes {
			break
		}
		out = append(out, e.hash)
		size += len(b)
	}
	return out
}

// EvictOlderThan removes entries created before now-age, returning the
// count removed.
func (p *Pool) EvictOlderThan(age time.Duration, now time.Time) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	cutoff := now.Add(-age)
	var stale []string
	for _, e := range p.order {
		if e.createdAt.Before(cutoff) {
			stale = append(stale, e.hash)
		}
	}
	for _, h := range stale {
		p.removeLocked(h)
	}
	return len(stale)
}
