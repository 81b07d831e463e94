// Package instruction defines the eight tagged state-change operations a
// transaction may carry and the engine that executes one of them against
// working ledger state.
package instruction

import (
	"encoding/json"
	"fmt"
)

// Kind names an instruction variant; it is also the exact permission token
// required to authorize that variant (besides the "*" wildcard).
type Kind string

const (
	KindRegisterDomain  Kind = "RegisterDomain"
	KindRegisterAccount Kind = "RegisterAccount"
	KindRegisterAsset   Kind = "RegisterAsset"
	KindMintAsset       Kind = "MintAsset"
	KindBurnAsset       Kind = "BurnAsset"
	KindTransferAsset   Kind = "TransferAsset"
	KindGrantRole       Kind = "GrantRole"
	KindRevokeRole      Kind = "RevokeRole"
)

// Instruction is a tagged sum of the eight state-change operations. The
// unexported marker method confines implementations to this package, so
// the compiler rejects any type that tries to masquerade as an Instruction
// from outside the package, and Apply in engine.go type-switches over the
// eight concrete variants.
type Instruction interface {
	Kind() Kind
	isInstruction()
}

// RegisterDomain creates a new, empty domain namespace.
type RegisterDomain struct {
	Type Kind   `json:"type"`
	ID   string `json:"id"`
}

func NewRegisterDomain(id string) RegisterDomain {
	return RegisterDomain{Type: KindRegisterDomain, ID: id}
}
func (RegisterDomain) Kind() Kind     { return KindRegisterDomain }
func (RegisterDomain) isInstruction() {}

// RegisterAccount creates a new account bound to a public key within an
// existing domain.
type RegisterAccount struct {
	Type      Kind   `json:"type"`
	ID        string `json:"id"`
	PublicKey string `json:"public_key"`
}

func NewRegisterAccount(id, publicKey string) RegisterAccount {
	return RegisterAccount{Type: KindRegisterAccount, ID: id, PublicKey: publicKey}
}
func (RegisterAccount) Kind() Kind     { return KindRegisterAccount }
func (RegisterAccount) isInstruction() {}

// RegisterAsset creates a new fungible asset type within an existing domain.
type RegisterAsset struct {
	Type      Kind   `json:"type"`
	ID        string `json:"id"`
	Precision int    `json:"precision"`
}

func NewRegisterAsset(id string, precision int) RegisterAsset {
	return RegisterAsset{Type: KindRegisterAsset, ID: id, Precision: precision}
}
func (RegisterAsset) Kind() Kind     { return KindRegisterAsset }
func (RegisterAsset) isInstruction() {}

// MintAsset increases an account's balance of an asset.
type MintAsset struct {
	Type      Kind   `json:"type"`
	AssetID   string `json:"asset_id"`
	AccountID string `json:"account_id"`
	Amount    string `json:"amount"`
}

func NewMintAsset(assetID, accountID, amount string) MintAsset {
	return MintAsset{Type: KindMintAsset, AssetID: assetID, AccountID: accountID, Amount: amount}
}
func (MintAsset) Kind() Kind     { return KindMintAsset }
func (MintAsset) isInstruction() {}

// BurnAsset decreases an account's balance of an asset.
type BurnAsset struct {
	Type      Kind   `json:"type"`
	AssetID   string `json:"asset_id"`
	AccountID string `json:"account_id"`
	Amount    string `json:"amount"`
}

func NewBurnAsset(assetID, accountID, amount string) BurnAsset {
	return BurnAsset{Type: KindBurnAsset, AssetID: assetID, AccountID: accountID, Amount: amount}
}
func (BurnAsset) Kind() Kind     { return KindBurnAsset }
func (BurnAsset) isInstruction() {}

// TransferAsset moves a balance from one account to another within the same
// asset.
type TransferAsset struct {
	Type    Kind   `json:"type"`
	AssetID string `json:"asset_id"`
	SrcID   string `json:"src_account_id"`
	DstID   string `json:"dst_account_id"`
	Amount  string `json:"amount"`
}

func NewTransferAsset(assetID, src, dst, amount string) TransferAsset {
	return TransferAsset{Type: KindTransferAsset, AssetID: assetID, SrcID: src, DstID: dst, Amount: amount}
}
func (TransferAsset) Kind() Kind     { return KindTransferAsset }
func (TransferAsset) isInstruction() {}

// GrantRole adds a role to an account's role set, preserving insertion
// order and set semantics (no duplicate entries).
type GrantRole struct {
	Type      Kind   `json:"type"`
	RoleID    string `json:"role_id"`
	AccountID string `json:"account_id"`
}

func NewGrantRole(roleID, accountID string) GrantRole {
	return GrantRole{Type: KindGrantRole, RoleID: roleID, AccountID: accountID}
}
func (GrantRole) Kind() Kind     { return KindGrantRole }
func (GrantRole) isInstruction() {}

// RevokeRole removes a role from an account's role set, if present.
type RevokeRole struct {
	Type      Kind   `json:"type"`
	RoleID    string `json:"role_id"`
	AccountID string `json:"account_id"`
}

func NewRevokeRole(roleID, accountID string) RevokeRole {
	return RevokeRole{Type: KindRevokeRole, RoleID: roleID, AccountID: accountID}
}
func (RevokeRole) Kind() Kind     { return KindRevokeRole }
func (RevokeRole) isInstruction() {}

// List is a JSON-decodable sequence of Instructions. Marshaling uses the
// default encoding/json behavior (each element already carries its own
// "type" field); unmarshaling requires the explicit dispatch below since
// the target element type is an interface.
type List []Instruction

// UnmarshalJSON decodes each element by peeking its "type" tag and
// dispatching to the matching concrete struct. An unrecognized tag
// produces ErrUnknownInstruction rather than silently dropping the entry.
func (l *List) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	out := make(List, 0, len(raw))
	for _, item := range raw {
		var tag struct {
			Type Kind `json:"type"`
		}
		if err := json.Unmarshal(item, &tag); err != nil {
			return fmt.Errorf("decode instruction tag: %w", err)
		}

		inst, err := unmarshalByKind(tag.Type, item)
		if err != nil {
			return err
		}
		out = append(out, inst)
	}
	*l = out
	return nil
}

func unmarshalByKind(kind Kind, data []byte) (Instruction, error) {
	switch kind {
	case KindRegisterDomain:
		var v RegisterDomain
		err := json.Unmarshal(data, &v)
		return v, err
	case KindRegisterAccount:
		var v RegisterAccount
		err := json.Unmarshal(data, &v)
		return v, err
	case KindRegisterAsset:
		var v RegisterAsset
		err := json.Unmarshal(data, &v)
		return v, err
	case KindMintAsset:
		var v MintAsset
		err := json.Unmarshal(data, &v)
		return v, err
	case KindBurnAsset:
		var v BurnAsset
		err := json.Unmarshal(data, &v)
		return v, err
	case KindTransferAsset:
		var v TransferAsset
		err := json.Unmarshal(data, &v)
		return v, err
	case KindGrantRole:
		var v GrantRole
		err := json.Unmarshal(data, &v)
		return v, err
	case KindRevokeRole:
		var v RevokeRole
		err := json.Unmarshal(data, &v)
		return v, err
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownInstruction, kind)
	}
}
