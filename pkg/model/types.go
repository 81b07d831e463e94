// Package model defines the ledger's entity types and the identifier and
// amount parsing rules shared by every component that reads or writes them.
package model

import "math/big"

// Domain is a top-level namespace containing accounts and assets.
type Domain struct {
	ID        string `json:"id"`
	CreatedAt int64  `json:"created_at"`
}

// Account is a named identity within a domain, bound to a public key.
// Its roles are stored separately under the account_roles/<id> key so that
// role mutation does not require rewriting the account record.
type Account struct {
	ID        string `json:"id"`
	PublicKey string `json:"public_key"`
	CreatedAt int64  `json:"created_at"`
}

// Asset is a fungible token class scoped to a domain.
type Asset struct {
	ID        string `json:"id"`
	Precision int    `json:"precision"`
	CreatedAt int64  `json:"created_at"`
}

// Balance is a per-account holding of a specific asset, in the asset's
// smallest unit. A Balance is never stored with a zero Amount; the state
// façade deletes the key instead.
type Balance struct {
	AssetID   string   `json:"asset_id"`
	AccountID string   `json:"account_id"`
	Amount    *big.Int `json:"amount"`
}

// Role is a named set of permission tokens. A permission token is either
// the wildcard "*" or the exact name of an instruction variant.
type Role struct {
	ID          string   `json:"id"`
	Permissions []string `json:"permissions"`
}

// HasPermission reports whether the role authorizes the named instruction
// kind, either directly or via the wildcard.
func (r Role) HasPermission(instructionName string) bool {
	for _, p := range r.Permissions {
		if p == "*" || p == instructionName {
			return true
		}
	}
	return false
}

// Validator identifies one participant in the consensus protocol.
type Validator struct {
	ID        string `json:"id"`
	PublicKey string `json:"public_key"`
}
