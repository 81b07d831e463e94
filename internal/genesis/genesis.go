// Package genesis idempotently installs block 1 from a genesis
// configuration: the chain's domains, accounts, assets, balances, roles,
// and validators.
package genesis

import (
	"fmt"

	"github.com/haschain/miniroha/internal/block"
	"github.com/haschain/miniroha/internal/state"
	"github.com/haschain/miniroha/internal/tx"
	"github.com/haschain/miniroha/pkg/model"
)

// Account is a genesis account entry: a public key plus the roles it
// starts with (applied directly, bypassing GrantRole permission checks
// that do not yet have anyone to authorize them).
type Account struct {
	ID        string   `json:"id"`
	PublicKey string   `json:"public_key"`
	Roles     []string `json:"roles"`
}

// Balance is a genesis balance entry. Amount is a human-scale decimal
// string (e.g. "100.00"), parsed against the referenced asset's precision
// the same way an instruction amount is, not a smallest-unit integer.
type Balance struct {
	AssetID   string `json:"asset_id"`
	AccountID string `json:"account_id"`
	Amount    string `json:"amount"`
}

// Config is the full genesis configuration.
type Config struct {
	ChainID    string            `json:"chain_id"`
	Domains    []model.Domain    `json:"domains"`
	Accounts   []Account         `json:"accounts"`
	Assets     []model.Asset     `json:"assets"`
	Balances   []Balance         `json:"balances"`
	Roles      []model.Role      `json:"roles"`
	Validators []model.Validator `json:"validators"`
}

// Validate checks referential integrity within the config: every
// account's domain and every balance's asset/account must be declared in
// the same config; at least one validator; at least one role named
// "admin" containing "*"; at least one account holding the admin role.
func (c Config) Validate() error {
	domains := make(map[string]bool, len(c.Domains))
	for _, d := range c.Domains {
		domains[d.ID] = true
	}
	accounts := make(map[string]bool, len(c.Accounts))
	for _, a := range c.Accounts {
		_, domain, err := model.SplitAccountID(a.ID)
		if err != nil {
			return fmt.Errorf("account %q: %w", a.ID, err)
		}
		if !domains[domain] {
			return fmt.Errorf("account %q: domain %q not declared", a.ID, domain)
		}
		accounts[a.ID] = true
	}
	assets := make(map[string]int, len(c.Assets))
	for _, as := range c.Assets {
		_, domain, err := model.SplitAssetID(as.ID)
		if err != nil {
			return fmt.Errorf("asset %q: %w", as.ID, err)
		}
		if !domains[domain] {
			return fmt.Errorf("asset %q: domain %q not declared", as.ID, domain)
		}
		if err := model.ValidatePrecision(as.Precision); err != nil {
			return fmt.Errorf("asset %q: %w", as.ID, err)
		}
		assets[as.ID] = as.Precision
	}
	for _, b := range c.Balances {
		if _, ok := assets[b.AssetID]; !ok {
			return fmt.Errorf("balance references undeclared asset %q", b.AssetID)
		}
		if !accounts[b.AccountID] {
			return fmt.Errorf("balance references undeclared account %q", b.AccountID)
		}
	}
	if len(c.Validators) == 0 {
		return fmt.Errorf("at least one validator is required")
	}

	hasAdminRole := false
	for _, r := range c.Roles {
		if r.ID == "admin" && r.HasPermission("*") {
			hasAdminRole = true
			break
		}
	}
	if !hasAdminRole {
		return fmt.Errorf(`genesis must define a role named "admin" containing "*"`)
	}

	hasAdminHolder := false
	for _, a := range c.Accounts {
		for _, r := range a.Roles {
			if r == "admin" {
				hasAdminHolder = true
			}
		}
	}
	if !hasAdminHolder {
		return fmt.Errorf("at least one account must hold the admin role")
	}

	return nil
}

// Bootstrap writes every entity plus block 1 as a single atomic batch after
// validating the config. It is idempotent: on an already-bootstrapped store
// it returns nil at once, without validating the config.
func Bootstrap(s *state.Store, cfg Config, now int64) error {
	bootstrapped, err := s.IsBootstrapped()
	if err != nil {
		return err
	}
	if bootstrapped {
		return nil
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid genesis config: %w", err)
	}

	txn := s.NewTxn()

	for _, d := range cfg.Domains {
		if d.CreatedAt == 0 {
			d.CreatedAt = now
		}
		if err := txn.PutDomain(d); err != nil {
			return err
		}
	}
	for _, a := range cfg.Accounts {
		acc := model.Account{ID: a.ID, PublicKey: a.PublicKey, CreatedAt: now}
		if err := txn.PutAccount(acc); err != nil {
			return err
		}
		roles := a.Roles
		if roles == nil {
			roles = []string{}
		}
		if err := txn.PutAccountRoles(a.ID, roles); err != nil {
			return err
		}
	}
	for _, as := range cfg.Assets {
		if as.CreatedAt == 0 {
			as.CreatedAt = now
		}
		if err := txn.PutAsset(as); err != nil {
			return err
		}
	}
	for _, bal := range cfg.Balances {
		precision := 0
		for _, as := range cfg.Assets {
			if as.ID == bal.AssetID {
				precision = as.Precision
			}
		}
		amount, err := model.ParseAmount(bal.Amount, precision)
		if err != nil {
			return fmt.Errorf("genesis balance %s/%s: %w", bal.AssetID, bal.AccountID, err)
		}
		if err := txn.SetBalance(bal.AssetID, bal.AccountID, amount); err != nil {
			return err
		}
	}
	for _, r := range cfg.Roles {
		if err := txn.PutRole(r); err != nil {
			return err
		}
	}
	for _, v := range cfg.Validators {
		if err := txn.PutValidator(v); err != nil {
			return err
		}
	}

	genesisBlock := block.Block{
		Header: block.Header{
			Height:    1,
			PrevHash:  "",
			Timestamp: now,
		},
		Transactions: []tx.Transaction{},
		ProposerID:   "genesis",
		Signature:    "",
	}
	if err := txn.PutBlock(genesisBlock); err != nil {
		return err
	}
	txn.SetChainID(cfg.ChainID)
	txn.SetLastHeight(1)

	return txn.Commit()
}
