package state

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"

	"github.com/haschain/miniroha/internal/block"
	"github.com/haschain/miniroha/internal/storage"
	"github.com/haschain/miniroha/internal/tx"
	"github.com/haschain/miniroha/pkg/model"
)

// Store is the typed façade over the embedded key-value store.
type Store struct {
	db storage.DB
}

// New wraps a storage.DB with the typed accessors every component uses.
func New(db storage.DB) *Store {
	return &Store{db: db}
}

// IsBootstrapped reports whether genesis has already been applied, defined
// as last_height > 0.
func (s *Store) IsBootstrapped() (bool, error) {
	h, err := s.GetLastHeight()
	if err != nil {
		return false, err
	}
	return h > 0, nil
}

func (s *Store) GetChainID() (string, error) {
	v, err := s.db.Get([]byte(chainIDKey))
	if err == storage.ErrKeyNotFound {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(v), nil
}

func (s *Store) GetLastHeight() (uint64, error) {
	v, err := s.db.Get([]byte(lastHeightKey))
	if err == storage.ErrKeyNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	h, err := strconv.ParseUint(string(v), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("decode last_height: %w", err)
	}
	return h, nil
}

func (s *Store) GetDomain(id string) (*model.Domain, error) {
	var d model.Domain
	if err := s.getJSON(domainKey(id), &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *Store) HasDomain(id string) (bool, error) {
	return s.db.Has(domainKey(id))
}

func (s *Store) GetAccount(id string) (*model.Account, error) {
	var a model.Account
	if err := s.getJSON(accountKey(id), &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *Store) HasAccount(id string) (bool, error) {
	return s.db.Has(accountKey(id))
}

// GetAccountRoles returns the account's roles in insertion order. Absence
// of the key is treated as an empty role set, not an error.
func (s *Store) GetAccountRoles(id string) ([]string, error) {
	v, err := s.db.Get(accountRoleKey(id))
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

func (s *Store) GetAsset(id string) (*model.Asset, error) {
	var a model.Asset
	if err := s.getJSON(assetKey(id), &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *Store) HasAsset(id string) (bool, error) {
	return s.db.Has(assetKey(id))
}

// GetBalance returns the account's balance of an asset. An absent key is
// zero, per the data model's "absent key ≡ zero balance" rule.
func (s *Store) GetBalance(assetID, accountID string) (*big.Int, error) {
	v, err := s.db.Get(balanceKey(assetID, accountID))
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

func (s *Store) GetRole(id string) (*model.Role, error) {
	var r model.Role
	if err := s.getJSON(roleKey(id), &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Store) HasRole(id string) (bool, error) {
	return s.db.Has(roleKey(id))
}

func (s *Store) GetValidator(id string) (*model.Validator, error) {
	var v model.Validator
	if err := s.getJSON(validatorKey(id), &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// ListValidators iterates the validators/ key prefix, so cluster size is
// never hard-capped by a fixed probe list.
func (s *Store) ListValidators() ([]model.Validator, error) {
	var out []model.Validator
	err := s.db.ForEach([]byte(validatorPrefix), func(_, value []byte) error {
		var v model.Validator
		if err := json.Unmarshal(value, &v); err != nil {
			return fmt.Errorf("decode validator: %w", err)
		}
		out = append(out, v)
		return nil
	})
	return out, err
}

func (s *Store) GetBlock(height uint64) (*block.Block, error) {
	var b block.Block
	if err := s.getJSON(blockKey(height), &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// GetHeightByHash resolves a block header hash to its height.
func (s *Store) GetHeightByHash(hash string) (uint64, error) {
	v, err := s.db.Get(blockByHashKey(hash))
	if err != nil {
		return 0, err
	}
	h, err := strconv.ParseUint(string(v), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("decode height: %w", err)
	}
	return h, nil
}

func (s *Store) GetTx(hash string) (*tx.Transaction, error) {
	var t tx.Transaction
	if err := s.getJSON(txKey(hash), &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// GetNonce returns the last accepted nonce for a signer, 0 if none.
func (s *Store) GetNonce(signerID string) (uint64, error) {
	v, err := s.db.Get(nonceKey(signerID))
	if err == storage.ErrKeyNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseUint(string(v), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("decode nonce: %w", err)
	}
	return n, nil
}

func (s *Store) getJSON(key []byte, out any) error {
	v, err := s.db.Get(key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(v, out); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

// RebuildNoncesIfMissing scans txs/ for the highest nonce recorded per
// signer and writes nonces/<signer> for any signer lacking a persisted
// value. This runs once at cold start on a pre-existing store that
// predates nonce persistence, scanning txs/ once to reconstruct the
// per-signer high-water mark.
func (s *Store) RebuildNoncesIfMissing() error {
	highest := make(map[string]uint64)
	err := s.db.ForEach([]byte(txPrefix), func(_, value []byte) error {
		var t tx.Transaction
		if err := json.Unmarshal(value, &t); err != nil {
			return fmt.Errorf("decode tx during nonce rebuild: %w", err)
		}
		if t.Body.Nonce > highest[t.Body.SignerID] {
			highest[t.Body.SignerID] = t.Body.Nonce
		}
		return nil
	})
	if err != nil {
		return err
	}

	batch := s.db.NewBatch()
	wrote := false
	for signer, nonce := range highest {
		has, err := s.db.Has(nonceKey(signer))
		if err != nil {
			return err
		}
		if has {
			continue
		}
		batch.Put(nonceKey(signer), []byte(strconv.FormatUint(nonce, 10)))
		wrote = true
	}
	if !wrote {
		return nil
	}
	return batch.Commit()
}
