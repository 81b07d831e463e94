package state

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"

	"github.com/haschain/miniroha/internal/block"
	"github.com/haschain/miniroha/internal/storage"
	"github.com/haschain/miniroha/pkg/model"
)

// Txn accumulates the writes of an entire block (or the genesis bootstrap)
// into one atomic batch. Individual transactions within the block are
// applied through a child Scope (see scope.go); only a Scope whose
// transaction succeeds has its writes merged into the Txn, so a failing
// transaction's effects never reach the underlying batch.
type Txn struct {
	store   *Store
	batch   storage.Batch
	overlay map[string]*[]byte // nil value == deleted
}

// NewTxn begins a new atomic unit of work against the store.
func (s *Store) NewTxn() *Txn {
	return &Txn{
		store:   s,
		batch:   s.db.NewBatch(),
		overlay: make(map[string]*[]byte),
	}
}

// Commit flushes every merged write as one atomic batch.
func (t *Txn) Commit() error {
	return t.batch.Commit()
}

// get reads key from the overlay first, then falls through to the
// underlying committed store.
func (t *Txn) get(key []byte) ([]byte, error) {
	if v, ok := t.overlay[string(key)]; ok {
		if v == nil {
			return nil, storage.ErrKeyNotFound
		}
		return *v, nil
	}
	return t.store.db.Get(key)
}

func (t *Txn) has(key []byte) (bool, error) {
	if v, ok := t.overlay[string(key)]; ok {
		return v != nil, nil
	}
	return t.store.db.Has(key)
}

// put and del apply directly to the Txn's own overlay/batch. They are used
// for writes that are not scoped to a single transaction's rollback unit:
// genesis bootstrap (the whole batch is one unit), and the block-level
// bookkeeping (blocks/<h>, blocks_by_hash/<hash>, last_height) that the
// applier writes once per block regardless of which transactions in it
// succeeded.
func (t *Txn) put(key, value []byte) {
	v := value
	t.overlay[string(key)] = &v
	t.batch.Put(key, value)
}

func (t *Txn) del(key []byte) {
	t.overlay[string(key)] = nil
	t.batch.Delete(key)
}

// --- block- and chain-level writes, applied once per Txn regardless of
// which individual transactions within the block succeeded ---

// PutBlock writes blocks/<height> and its blocks_by_hash/<hash> index.
func (t *Txn) PutBlock(b block.Block) error {
	hash, err := b.Hash()
	if err != nil {
		return fmt.Errorf("hash block: %w", err)
	}
	v, err := json.Marshal(b)
	if err != nil {
		return err
	}
	t.put(blockKey(b.Header.Height), v)
	t.put(blockByHashKey(hash.String()), []byte(strconv.FormatUint(b.Header.Height, 10)))
	return nil
}

// SetLastHeight writes the chain tip height.
func (t *Txn) SetLastHeight(height uint64) {
	t.put([]byte(lastHeightKey), []byte(strconv.FormatUint(height, 10)))
}

// SetChainID writes the chain identifier, set once at genesis.
func (t *Txn) SetChainID(chainID string) {
	t.put([]byte(chainIDKey), []byte(chainID))
}

// PutValidator writes a validators/<id> entry, used only by genesis.
func (t *Txn) PutValidator(v model.Validator) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	t.put(validatorKey(v.ID), b)
	return nil
}

// PutDomain, PutAccount, PutAsset, PutRole mirror the Scope versions but
// operate directly on the Txn; genesis bootstrap writes these once, with
// no need for per-transaction rollback since the whole genesis batch is
// either fully valid or rejected before any write is staged.
func (t *Txn) PutDomain(d model.Domain) error   { return t.putJSON(domainKey(d.ID), d) }
func (t *Txn) PutAccount(a model.Account) error { return t.putJSON(accountKey(a.ID), a) }
func (t *Txn) PutAccountRoles(accID string, roles []string) error {
	v, err := json.Marshal(roles)
	if err != nil {
		return err
	}
	t.put(accountRoleKey(accID), v)
	return nil
}
func (t *Txn) PutAsset(a model.Asset) error { return t.putJSON(assetKey(a.ID), a) }
func (t *Txn) PutRole(r model.Role) error   { return t.putJSON(roleKey(r.ID), r) }

func (t *Txn) SetBalance(assetID, accountID string, amount *big.Int) error {
	key := balanceKey(assetID, accountID)
	if amount.Sign() == 0 {
		t.del(key)
		return nil
	}
	v, err := amount.MarshalJSON()
	if err != nil {
		return err
	}
	t.put(key, v)
	return nil
}

func (t *Txn) SetNonce(signerID string, nonce uint64) {
	t.put(nonceKey(signerID), []byte(strconv.FormatUint(nonce, 10)))
}

func (t *Txn) putJSON(key []byte, in any) error {
	v, err := json.Marshal(in)
	if err != nil {
		return err
	}
	t.put(key, v)
	return nil
}
