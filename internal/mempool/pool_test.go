package mempool

import (
	"testing"
	"time"

	"github.com/haschain/miniroha/internal/tx"
)

func stubTx(signer string, nonce uint64) tx.Transaction {
	return tx.Transaction{Body: tx.Body{SignerID: signer, Nonce: nonce}}
}

func TestPool_AddAndGet(t *testing.T) {
	p := New(0)
	if err := p.Add("h1", stubTx("alice@root", 1), time.Now()); err != nil {
		t.Fatalf("Add() error: %v", err)
	}
	if !p.Has("h1") {
		t.Error("Has(h1) = false after Add()")
	}
	got, ok := p.Get("h1")
	if !ok || got.Body.SignerID != "alice@root" {
		t.Errorf("Get(h1) = (%v, %v), want alice@root tx", got, ok)
	}
}

func TestPool_Add_DuplicateHash(t *testing.T) {
	p := New(0)
	p.Add("h1", stubTx("alice@root", 1), time.Now())
	err := p.Add("h1", stubTx("alice@root", 1), time.Now())
	if err != ErrDuplicateTx {
		t.Errorf("Add() duplicate error = %v, want ErrDuplicateTx", err)
	}
}

func TestPool_Add_NonceConflict(t *testing.T) {
	p := New(0)
	p.Add("h1", stubTx("alice@root", 1), time.Now())
	err := p.Add("h2", stubTx("alice@root", 1), time.Now())
	if err != ErrConflict {
		t.Errorf("Add() conflicting nonce error = %v, want ErrConflict", err)
	}
}

func TestPool_Hashes_NonceOrder(t *testing.T) {
	p := New(0)
	p.Add("h3", stubTx("alice@root", 3), time.Now())
	p.Add("h1", stubTx("alice@root", 1), time.Now())
	p.Add("h2", stubTx("alice@root", 2), time.Now())

	got := p.Hashes()
	want := []string{"h1", "h2", "h3"}
	for i, h := range want {
		if got[i] != h {
			t.Errorf("Hashes()[%d] = %s, want %s (nonce order)", i, got[i], h)
		}
	}
}

func TestPool_EvictionAtCapacity(t *testing.T) {
	p := New(2)
	p.Add("h1", stubTx("alice@root", 1), time.Now())
	p.Add("h2", stubTx("alice@root", 2), time.Now())
	p.Add("h3", stubTx("alice@root", 3), time.Now())

	if p.Count() != 2 {
		t.Errorf("Count() = %d, want 2 (capacity enforced)", p.Count())
	}
	if p.Has("h1") {
		t.Error("oldest-by-nonce entry should have been evicted")
	}
	if !p.Has("h3") {
		t.Error("newest entry should survive eviction")
	}
}

func TestPool_RemoveConfirmed(t *testing.T) {
	p := New(0)
	p.Add("h1", stubTx("alice@root", 1), time.Now())
	p.Add("h2", stubTx("alice@root", 2), time.Now())

	p.RemoveConfirmed([]string{"h1"})

	if p.Has("h1") {
		t.Error("h1 should be removed after RemoveConfirmed")
	}
	if !p.Has("h2") {
		t.Error("h2 should remain after RemoveConfirmed([h1])")
	}
}

func TestPool_Remove_AllowsReAdditionOfNonce(t *testing.T) {
	p := New(0)
	p.Add("h1", stubTx("alice@root", 1), time.Now())
	p.Remove("h1")

	if err := p.Add("h2", stubTx("alice@root", 1), time.Now()); err != nil {
		t.Errorf("Add() after Remove() of the conflicting entry error: %v", err)
	}
}

func TestPool_TakeForBlock_RespectsMaxCount(t *testing.T) {
	p := New(0)
	p.Add("h1", stubTx("alice@root", 1), time.Now())
	p.Add("h2", stubTx("alice@root", 2), time.Now())
	p.Add("h3", stubTx("alice@root", 3), time.Now())

	got := p.TakeForBlock(2, 0)
	if len(got) != 2 {
		t.Errorf("TakeForBlock(2, 0) returned %d txs, want 2", len(got))
	}
}

func TestPool_TakeForBlock_DoesNotRemove(t *testing.T) {
	p := New(0)
	p.Add("h1", stubTx("alice@root", 1), time.Now())

	p.TakeForBlock(10, 0)

	if !p.Has("h1") {
		t.Error("TakeForBlock should not remove entries from the pool")
	}
}

func TestPool_EvictOlderThan(t *testing.T) {
	p := New(0)
	old := time.Now().Add(-time.Hour)
	fresh := time.Now()

	p.Add("old", stubTx("alice@root", 1), old)
	p.Add("fresh", stubTx("alice@root", 2), fresh)

	removed := p.EvictOlderThan(time.Minute, time.Now())
	if removed != 1 {
		t.Errorf("EvictOlderThan() removed %d, want 1", removed)
	}
	if p.Has("old") {
		t.Error("stale entry should have been evicted")
	}
	if !p.Has("fresh") {
		t.Error("fresh entry should not have been evicted")
	}
}
