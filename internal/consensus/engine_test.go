package consensus

import (
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/haschain/miniroha/internal/block"
	"github.com/haschain/miniroha/internal/mempool"
	"github.com/haschain/miniroha/internal/state"
	"github.com/haschain/miniroha/internal/storage"
	"github.com/haschain/miniroha/pkg/crypto"
	"github.com/haschain/miniroha/pkg/model"
)

// longTimeouts keeps the engine's real timers from ever firing during a
// test run; tests drive the state machine directly by calling handlers.
func longTimeouts() Timeouts {
	return Timeouts{Propose: time.Hour, Prevote: time.Hour, Precommit: time.Hour, BlockInterval: time.Hour}
}

type fakeTransport struct {
	proposals  []Proposal
	prevotes   []PreVote
	precommits []PreCommit
}

func (f *fakeTransport) BroadcastProposal(p Proposal) error {
	f.proposals = append(f.proposals, p)
	return nil
}
func (f *fakeTransport) BroadcastPreVote(v PreVote) error {
	f.prevotes = append(f.prevotes, v)
	return nil
}
func (f *fakeTransport) BroadcastPreCommit(c PreCommit) error {
	f.precommits = append(f.precommits, c)
	return nil
}

// validatorSet registers n validators (node0..node{n-1}) plus a funded
// account and asset, so commit tests can exercise a real block apply.
func validatorSet(t *testing.T, n int) (*state.Store, map[string]*crypto.PrivateKey) {
	t.Helper()
	s := state.New(storage.NewMemory())
	keys := make(map[string]*crypto.PrivateKey, n)

	txn := s.NewTxn()
	txn.PutDomain(model.Domain{ID: "root", CreatedAt: 1})
	txn.PutAccount(model.Account{ID: "alice@root", CreatedAt: 1})
	txn.PutAsset(model.Asset{ID: "usd#root", Precision: 2, CreatedAt: 1})
	amount := new(big.Int)
	amount.SetString("1000", 10)
	txn.SetBalance("usd#root", "alice@root", amount)
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("node%d", i)
		key, err := crypto.GenerateKey()
		if err != nil {
			t.Fatalf("GenerateKey() error: %v", err)
		}
		keys[id] = key
		if err := txn.PutValidator(model.Validator{ID: id, PublicKey: crypto.EncodePublicKey(key.PublicKey())}); err != nil {
			t.Fatalf("PutValidator() error: %v", err)
		}
	}
	if err := txn.Commit(); err != nil {
		t.Fatalf("Commit() error: %v", err)
	}
	return s, keys
}

// newTestEngine builds an Engine for selfID over a pre-populated validator
// set, with vote maps initialized the way startRoundLocked would, so
// handlers can be driven without calling Start.
func newTestEngine(t *testing.T, s *state.Store, keys map[string]*crypto.PrivateKey, selfID string) (*Engine, *fakeTransport) {
	t.Helper()
	transport := &fakeTransport{}
	e, err := New(Config{
		Store:     s,
		Pool:      mempool.New(0),
		Transport: transport,
		SelfID:    selfID,
		Key:       keys[selfID],
		Timeouts:  longTimeouts(),
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	e.prevotes = make(map[uint64]map[string]PreVote)
	e.precommits = make(map[uint64]map[string]PreCommit)
	return e, transport
}

func TestNew_QuorumMath(t *testing.T) {
	cases := []struct {
		n          int
		wantF      int
		wantQuorum int
	}{
		{1, 0, 1},
		{4, 1, 3},
		{7, 2, 5},
		{10, 3, 7},
	}
	for _, c := range cases {
		s, keys := validatorSet(t, c.n)
		e, _ := newTestEngine(t, s, keys, "node0")
		if e.f != c.wantF {
			t.Errorf("n=%d: f = %d, want %d", c.n, e.f, c.wantF)
		}
		if e.quorum != c.wantQuorum {
			t.Errorf("n=%d: quorum = %d, want %d", c.n, e.quorum, c.wantQuorum)
		}
	}
}

func TestProposerFor_RoundRobin(t *testing.T) {
	s, keys := validatorSet(t, 4)
	e, _ := newTestEngine(t, s, keys, "node0")

	// ids are sorted lexically: node0, node1, node2, node3.
	cases := []struct {
		height, round uint64
		want          string
	}{
		{1, 0, "node1"},
		{1, 1, "node2"},
		{1, 3, "node0"},
		{4, 0, "node0"},
	}
	for _, c := range cases {
		got := e.proposerFor(c.height, c.round)
		if got != c.want {
			t.Errorf("proposerFor(%d, %d) = %s, want %s", c.height, c.round, got, c.want)
		}
	}
}

// signedBlockAt builds a minimal, signed block for the given height, used as the
// payload of a proposal from proposerID.
func signedBlockAt(t *testing.T, key *crypto.PrivateKey, proposerID string, height uint64) block.Block {
	t.Helper()
	b := block.Block{
		Header:     block.Header{Height: height, Timestamp: 1700000000},
		ProposerID: proposerID,
	}
	if err := b.Sign(key); err != nil {
		t.Fatalf("Sign() error: %v", err)
	}
	return b
}

func TestHandleProposal_StaleHeight(t *testing.T) {
	s, keys := validatorSet(t, 4)
	e, _ := newTestEngine(t, s, keys, "node0")
	e.height, e.round, e.step = 2, 0, StepPropose

	b := signedBlockAt(t, keys["node2"], "node2", 1)
	hash, _ := b.Hash()
	prop := Proposal{Height: 1, Round: 0, ValidatorID: "node2", BlockHash: hash.String(), Block: b}
	prop.sign(keys["node2"])

	if err := e.HandleProposal(prop); err == nil {
		t.Error("HandleProposal() for a stale height should return an error")
	}
}

func TestHandleProposal_WrongProposer(t *testing.T) {
	s, keys := validatorSet(t, 4)
	e, transport := newTestEngine(t, s, keys, "node0")
	e.height, e.round, e.step = 1, 0, StepPropose

	// node1 is the expected proposer for (height=1, round=0); node2 is not.
	b := signedBlockAt(t, keys["node2"], "node2", 1)
	hash, _ := b.Hash()
	prop := Proposal{Height: 1, Round: 0, ValidatorID: "node2", BlockHash: hash.String(), Block: b}
	prop.sign(keys["node2"])

	if err := e.HandleProposal(prop); err == nil {
		t.Error("HandleProposal() from an unexpected proposer should return an error")
	}
	if len(transport.prevotes) != 1 || transport.prevotes[0].BlockHash != "" {
		t.Error("HandleProposal() from the wrong proposer should still cast a nil prevote")
	}
}

func TestHandleProposal_Success(t *testing.T) {
	s, keys := validatorSet(t, 4)
	e, transport := newTestEngine(t, s, keys, "node0")
	e.height, e.round, e.step = 1, 0, StepPropose

	b := signedBlockAt(t, keys["node1"], "node1", 1) // node1 is the expected proposer
	hash, _ := b.Hash()
	prop := Proposal{Height: 1, Round: 0, ValidatorID: "node1", BlockHash: hash.String(), Block: b}
	if err := prop.sign(keys["node1"]); err != nil {
		t.Fatalf("sign() error: %v", err)
	}

	if err := e.HandleProposal(prop); err != nil {
		t.Fatalf("HandleProposal() error: %v", err)
	}
	if e.step != StepPrevote {
		t.Errorf("step after a valid proposal = %v, want StepPrevote", e.step)
	}
	if e.validBlock == nil {
		t.Fatal("validBlock not set after a valid proposal")
	}
	if len(transport.prevotes) != 1 || transport.prevotes[0].BlockHash != hash.String() {
		t.Error("expected a prevote for the proposed block's hash")
	}
}

func TestHandleProposal_BadSignatureVotesNil(t *testing.T) {
	s, keys := validatorSet(t, 4)
	e, transport := newTestEngine(t, s, keys, "node0")
	e.height, e.round, e.step = 1, 0, StepPropose

	b := signedBlockAt(t, keys["node1"], "node1", 1)
	hash, _ := b.Hash()
	prop := Proposal{Height: 1, Round: 0, ValidatorID: "node1", BlockHash: hash.String(), Block: b}
	if err := prop.sign(keys["node2"]); err != nil { // signed by the wrong key
		t.Fatalf("sign() error: %v", err)
	}

	if err := e.HandleProposal(prop); err == nil {
		t.Error("HandleProposal() with an invalid signature should return an error")
	}
	if len(transport.prevotes) != 1 || transport.prevotes[0].BlockHash != "" {
		t.Error("an unverifiable proposal should still result in a nil prevote")
	}
}

func TestHandlePreVote_QuorumAdvancesToPrecommit(t *testing.T) {
	s, keys := validatorSet(t, 4)
	e, transport := newTestEngine(t, s, keys, "node0")
	e.height, e.round, e.step = 1, 0, StepPrevote

	b := signedBlockAt(t, keys["node1"], "node1", 1)
	hash, _ := b.Hash()
	blockCopy := b
	e.validBlock = &blockCopy
	e.validRound = 0

	for _, id := range []string{"node0", "node1", "node2"} { // 3 of 4 reaches quorum
		v := PreVote{Height: 1, Round: 0, ValidatorID: id, BlockHash: hash.String()}
		if err := v.sign(keys[id]); err != nil {
			t.Fatalf("sign() error: %v", err)
		}
		if err := e.HandlePreVote(v); err != nil {
			t.Fatalf("HandlePreVote() error: %v", err)
		}
	}

	if e.step != StepPrecommit {
		t.Errorf("step after prevote quorum = %v, want StepPrecommit", e.step)
	}
	if e.lockedBlock == nil {
		t.Error("lockedBlock not set after prevote quorum for a known block")
	}
	if len(transport.precommits) != 1 || transport.precommits[0].BlockHash != hash.String() {
		t.Error("expected a precommit for the locked block's hash")
	}
}

// TestHandleProposal_OwnPrevoteThenRemainingPeersReachQuorum exercises the
// real enterPrevoteLocked path: node0 enters prevote by handling a valid
// proposal (casting its own prevote itself, not via a manually fed
// HandlePreVote call), then only the remaining Q-1 peer prevotes arrive.
func TestHandleProposal_OwnPrevoteThenRemainingPeersReachQuorum(t *testing.T) {
	s, keys := validatorSet(t, 4)
	e, transport := newTestEngine(t, s, keys, "node0")
	e.height, e.round, e.step = 1, 0, StepPropose

	b := signedBlockAt(t, keys["node1"], "node1", 1) // node1 is the expected proposer
	hash, _ := b.Hash()
	prop := Proposal{Height: 1, Round: 0, ValidatorID: "node1", BlockHash: hash.String(), Block: b}
	if err := prop.sign(keys["node1"]); err != nil {
		t.Fatalf("sign() error: %v", err)
	}
	if err := e.HandleProposal(prop); err != nil {
		t.Fatalf("HandleProposal() error: %v", err)
	}
	if len(transport.prevotes) != 1 {
		t.Fatalf("HandleProposal() should have cast node0's own prevote, got %d broadcasts", len(transport.prevotes))
	}

	for _, id := range []string{"node1", "node2"} { // the remaining 2 of 4 needed for quorum 3
		v := PreVote{Height: 1, Round: 0, ValidatorID: id, BlockHash: hash.String()}
		if err := v.sign(keys[id]); err != nil {
			t.Fatalf("sign() error: %v", err)
		}
		if err := e.HandlePreVote(v); err != nil {
			t.Fatalf("HandlePreVote() error: %v", err)
		}
	}

	if e.step != StepPrecommit {
		t.Errorf("step after own prevote plus remaining peer prevotes = %v, want StepPrecommit", e.step)
	}
	if e.lockedBlock == nil {
		t.Error("lockedBlock not set after prevote quorum for a known block")
	}
	if len(transport.precommits) != 1 || transport.precommits[0].BlockHash != hash.String() {
		t.Error("expected a precommit for the locked block's hash")
	}
}

// TestHandleProposal_BufferedPeerPrevotesTallyOnEnteringPrevote simulates
// gossip reordering: a full quorum of peer prevotes for the proposal's
// block arrives while node0 is still in the propose step, where they are
// recorded but cannot be tallied yet. Entering prevote on the proposal's
// arrival must immediately re-evaluate that buffered quorum rather than
// wait for a vote that never comes.
func TestHandleProposal_BufferedPeerPrevotesTallyOnEnteringPrevote(t *testing.T) {
	s, keys := validatorSet(t, 4)
	e, transport := newTestEngine(t, s, keys, "node0")
	e.height, e.round, e.step = 1, 0, StepPropose

	b := signedBlockAt(t, keys["node1"], "node1", 1) // node1 is the expected proposer
	hash, _ := b.Hash()

	for _, id := range []string{"node1", "node2", "node3"} { // a full quorum of 3, buffered early
		v := PreVote{Height: 1, Round: 0, ValidatorID: id, BlockHash: hash.String()}
		if err := v.sign(keys[id]); err != nil {
			t.Fatalf("sign() error: %v", err)
		}
		if err := e.HandlePreVote(v); err != nil {
			t.Fatalf("HandlePreVote() error: %v", err)
		}
	}
	if e.step != StepPropose {
		t.Fatalf("buffered prevotes arriving during propose should not change step, got %v", e.step)
	}

	prop := Proposal{Height: 1, Round: 0, ValidatorID: "node1", BlockHash: hash.String(), Block: b}
	if err := prop.sign(keys["node1"]); err != nil {
		t.Fatalf("sign() error: %v", err)
	}
	if err := e.HandleProposal(prop); err != nil {
		t.Fatalf("HandleProposal() error: %v", err)
	}

	if e.step != StepPrecommit {
		t.Errorf("step after entering prevote with a buffered quorum already in hand = %v, want StepPrecommit", e.step)
	}
	if e.lockedBlock == nil {
		t.Error("lockedBlock not set after the buffered prevote quorum is tallied on entry")
	}
	if len(transport.precommits) != 1 || transport.precommits[0].BlockHash != hash.String() {
		t.Error("expected a precommit for the locked block's hash")
	}
}

func TestHandlePreVote_NilQuorumPrecommitsNil(t *testing.T) {
	s, keys := validatorSet(t, 4)
	e, transport := newTestEngine(t, s, keys, "node0")
	e.height, e.round, e.step = 1, 0, StepPrevote

	for _, id := range []string{"node0", "node1", "node2"} {
		v := PreVote{Height: 1, Round: 0, ValidatorID: id, BlockHash: ""}
		v.sign(keys[id])
		if err := e.HandlePreVote(v); err != nil {
			t.Fatalf("HandlePreVote() error: %v", err)
		}
	}

	if e.step != StepPrecommit {
		t.Errorf("step after nil prevote quorum = %v, want StepPrecommit", e.step)
	}
	if len(transport.precommits) != 1 || transport.precommits[0].BlockHash != "" {
		t.Error("expected a nil precommit after a nil prevote quorum")
	}
}

func TestHandlePreVote_UnknownValidator(t *testing.T) {
	s, keys := validatorSet(t, 4)
	e, _ := newTestEngine(t, s, keys, "node0")
	e.height, e.round, e.step = 1, 0, StepPrevote

	other, _ := crypto.GenerateKey()
	v := PreVote{Height: 1, Round: 0, ValidatorID: "ghost", BlockHash: ""}
	v.sign(other)

	if err := e.HandlePreVote(v); err == nil {
		t.Error("HandlePreVote() from an unregistered validator should return an error")
	}
}

func TestHandlePreCommit_QuorumCommitsBlock(t *testing.T) {
	s, keys := validatorSet(t, 4)
	e, _ := newTestEngine(t, s, keys, "node0")
	e.height, e.round, e.step = 1, 0, StepPrecommit

	b := signedBlockAt(t, keys["node1"], "node1", 1)
	hash, _ := b.Hash()
	lockedCopy := b
	e.lockedBlock = &lockedCopy
	e.lockedRound = 0

	var committedHeight uint64
	e.onCommit = func(h uint64) { committedHeight = h }

	// Own precommit first, matching what enterPrecommitLocked would record.
	own := PreCommit{Height: 1, Round: 0, ValidatorID: "node0", BlockHash: hash.String()}
	own.sign(keys["node0"])
	e.recordPrecommitLocked(own)

	for _, id := range []string{"node1", "node2"} { // brings the tally to 3 of 4
		c := PreCommit{Height: 1, Round: 0, ValidatorID: id, BlockHash: hash.String()}
		c.sign(keys[id])
		if err := e.HandlePreCommit(c); err != nil {
			t.Fatalf("HandlePreCommit() error: %v", err)
		}
	}

	height, err := s.GetLastHeight()
	if err != nil {
		t.Fatalf("GetLastHeight() error: %v", err)
	}
	if height != 1 {
		t.Errorf("GetLastHeight() after commit = %d, want 1", height)
	}
	if committedHeight != 1 {
		t.Errorf("onCommit called with height %d, want 1", committedHeight)
	}
	if e.height != 2 {
		t.Errorf("engine height after commit = %d, want 2", e.height)
	}
	if e.lockedBlock != nil {
		t.Error("lockedBlock should be cleared after commit")
	}
}

func TestHandlePreCommit_NilQuorumAdvancesRound(t *testing.T) {
	s, keys := validatorSet(t, 4)
	e, _ := newTestEngine(t, s, keys, "node0")
	e.height, e.round, e.step = 1, 0, StepPrecommit

	for _, id := range []string{"node0", "node1", "node2"} {
		c := PreCommit{Height: 1, Round: 0, ValidatorID: id, BlockHash: ""}
		c.sign(keys[id])
		if err := e.HandlePreCommit(c); err != nil {
			t.Fatalf("HandlePreCommit() error: %v", err)
		}
	}

	if e.round != 1 {
		t.Errorf("round after nil precommit quorum = %d, want 1 (advanced)", e.round)
	}
}

func TestOnProposeTimeout_VotesNil(t *testing.T) {
	s, keys := validatorSet(t, 4)
	e, transport := newTestEngine(t, s, keys, "node0")
	e.height, e.round, e.step = 1, 0, StepPropose

	e.onProposeTimeout(1, 0)

	if e.step != StepPrevote {
		t.Errorf("step after propose timeout = %v, want StepPrevote", e.step)
	}
	if len(transport.prevotes) != 1 || transport.prevotes[0].BlockHash != "" {
		t.Error("propose timeout should cast a nil prevote")
	}
}

func TestOnProposeTimeout_IgnoresStaleRound(t *testing.T) {
	s, keys := validatorSet(t, 4)
	e, transport := newTestEngine(t, s, keys, "node0")
	e.height, e.round, e.step = 1, 1, StepPropose // round has already moved to 1

	e.onProposeTimeout(1, 0) // timer for the old round 0

	if e.step != StepPropose {
		t.Errorf("stale propose timeout should not change step, got %v", e.step)
	}
	if len(transport.prevotes) != 0 {
		t.Error("stale propose timeout should not cast a vote")
	}
}

func TestOnPrevoteTimeout_PrecommitsNil(t *testing.T) {
	s, keys := validatorSet(t, 4)
	e, transport := newTestEngine(t, s, keys, "node0")
	e.height, e.round, e.step = 1, 0, StepPrevote

	e.onPrevoteTimeout(1, 0)

	if e.step != StepPrecommit {
		t.Errorf("step after prevote timeout = %v, want StepPrecommit", e.step)
	}
	if len(transport.precommits) != 1 || transport.precommits[0].BlockHash != "" {
		t.Error("prevote timeout should cast a nil precommit")
	}
}

func TestOnPrecommitTimeout_AdvancesRound(t *testing.T) {
	s, keys := validatorSet(t, 4)
	e, _ := newTestEngine(t, s, keys, "node0")
	e.height, e.round, e.step = 1, 0, StepPrecommit

	e.onPrecommitTimeout(1, 0)

	if e.round != 1 {
		t.Errorf("round after precommit timeout = %d, want 1", e.round)
	}
	if e.step != StepPropose {
		t.Errorf("step after advancing to a new round = %v, want StepPropose", e.step)
	}
}
