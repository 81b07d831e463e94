package state

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/haschain/miniroha/internal/storage"
	"github.com/haschain/miniroha/internal/tx"
	"github.com/haschain/miniroha/pkg/model"
)

// Scope is the rollback unit for one transaction's worth of writes. Its
// local overlay shadows the parent Txn (and, beneath that, the committed
// store); Merge must be called explicitly to fold those writes into the
// parent once the transaction's every instruction has succeeded. If Merge
// is never called the Scope's writes simply vanish, the "rolled back
// in-memory" behavior the block applier relies on.
type Scope struct {
	parent *Txn
	local  map[string]*[]byte
}

// Begin opens a new transaction-scoped overlay on top of a Txn.
func (t *Txn) Begin() *Scope {
	return &Scope{parent: t, local: make(map[string]*[]byte)}
}

// Merge folds this scope's writes into its parent Txn's overlay and batch.
func (sc *Scope) Merge() {
	for k, v := range sc.local {
		if v == nil {
			sc.parent.del([]byte(k))
		} else {
			sc.parent.put([]byte(k), *v)
		}
	}
}

func (sc *Scope) get(key []byte) ([]byte, error) {
	if v, ok := sc.local[string(key)]; ok {
		if v == nil {
			return nil, storage.ErrKeyNotFound
		}
		return *v, nil
	}
	return sc.parent.get(key)
}

func (sc *Scope) has(key []byte) (bool, error) {
	if v, ok := sc.local[string(key)]; ok {
		return v != nil, nil
	}
	return sc.parent.has(key)
}

func (sc *Scope) put(key, value []byte) {
	v := value
	sc.local[string(key)] = &v
}

func (sc *Scope) del(key []byte) {
	sc.local[string(key)] = nil
}

func (sc *Scope) getJSON(key []byte, out any) error {
	v, err := sc.get(key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(v, out); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

func (sc *Scope) putJSON(key []byte, in any) error {
	v, err := json.Marshal(in)
	if err != nil {
		return err
	}
	sc.put(key, v)
	return nil
}

// --- typed accessors used by the instruction engine ---

func (sc *Scope) HasDomain(id string) (bool, error) { return sc.has(domainKey(id)) }

func (sc *Scope) PutDomain(d model.Domain) error { return sc.putJSON(domainKey(d.ID), d) }

func (sc *Scope) HasAccount(id string) (bool, error) { return sc.has(accountKey(id)) }

func (sc *Scope) GetAccount(accID string) (*model.Account, error) {
	var a model.Account
	if err := sc.getJSON(accountKey(accID), &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (sc *Scope) PutAccount(a model.Account) error {
	return sc.putJSON(accountKey(a.ID), a)
}

func (sc *Scope) GetAccountRoles(accID string) ([]string, error) {
	v, err := sc.get(accountRoleKey(accID))
	if err == storage.ErrKeyNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var roles []string
	if err := json.Unmarshal(v, &roles); err != nil {
		return nil, fmt.Errorf("decode account roles: %w", err)
	}
	return roles, nil
}

func (sc *Scope) PutAccountRoles(accID string, roles []string) error {
	v, err := json.Marshal(roles)
	if err != nil {
		return err
	}
	sc.put(accountRoleKey(accID), v)
	return nil
}

func (sc *Scope) HasAsset(id string) (bool, error) { return sc.has(assetKey(id)) }

func (sc *Scope) GetAsset(assetID string) (*model.Asset, error) {
	var a model.Asset
	if err := sc.getJSON(assetKey(assetID), &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (sc *Scope) PutAsset(a model.Asset) error { return sc.putJSON(assetKey(a.ID), a) }

func (sc *Scope) GetBalance(assetID, accountID string) (*big.Int, error) {
	v, err := sc.get(balanceKey(assetID, accountID))
	if err == storage.ErrKeyNotFound {
		return big.NewInt(0), nil
	}
	if err != nil {
		return nil, err
	}
	amount := new(big.Int)
	if err := amount.UnmarshalJSON(v); err != nil {
		return nil, fmt.Errorf("decode balance: %w", err)
	}
	return amount, nil
}

// SetBalance writes a balance, deleting the key instead when amount is
// zero, per the data model's "absent key ≡ zero balance" rule.
func (sc *Scope) SetBalance(assetID, accountID string, amount *big.Int) error {
	key := balanceKey(assetID, accountID)
	if amount.Sign() == 0 {
		sc.del(key)
		return nil
	}
	v, err := amount.MarshalJSON()
	if err != nil {
		return err
	}
	sc.put(key, v)
	return nil
}

func (sc *Scope) HasRole(id string) (bool, error) { return sc.has(roleKey(id)) }

func (sc *Scope) GetRole(roleID string) (*model.Role, error) {
	var r model.Role
	if err := sc.getJSON(roleKey(roleID), &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (sc *Scope) PutRole(r model.Role) error { return sc.putJSON(roleKey(r.ID), r) }

func (sc *Scope) GetNonce(signerID string) (uint64, error) {
	v, err := sc.get(nonceKey(signerID))
	if err == storage.ErrKeyNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var n uint64
	if _, err := fmt.Sscanf(string(v), "%d", &n); err != nil {
		return 0, fmt.Errorf("decode nonce: %w", err)
	}
	return n, nil
}

func (sc *Scope) SetNonce(signerID string, nonce uint64) {
	sc.put(nonceKey(signerID), []byte(fmt.Sprintf("%d", nonce)))
}

// PutTx records a successfully executed transaction under txs/<hash>. It is
// part of the per-transaction scope: if the transaction fails, the scope is
// dropped and this record never reaches the block's batch.
func (sc *Scope) PutTx(hash string, t tx.Transaction) error {
	return sc.putJSON(txKey(hash), t)
}
