package instruction

import (
	"math/big"

	"github.com/haschain/miniroha/pkg/model"
)

// Ledger is the working-set contract the engine executes instructions
// against. internal/state.Scope satisfies this interface structurally;
// the instruction package does not import internal/state directly to avoid
// a dependency cycle (state depends on tx, which depends on instruction).
type Ledger interface {
	HasDomain(id string) (bool, error)
	PutDomain(d model.Domain) error

	HasAccount(id string) (bool, error)
	GetAccount(id string) (*model.Account, error)
	PutAccount(a model.Account) error
	GetAccountRoles(id string) ([]string, error)
	PutAccountRoles(id string, roles []string) error

	HasAsset(id string) (bool, error)
	GetAsset(id string) (*model.Asset, error)
	PutAsset(a model.Asset) error

	GetBalance(assetID, accountID string) (*big.Int, error)
	SetBalance(assetID, accountID string, amount *big.Int) error

	HasRole(id string) (bool, error)
	GetRole(id string) (*model.Role, error)
}

// Apply executes exactly one instruction against the ledger. It is total
// and deterministic given ledger state and the instruction: it either
// stages writes through the Ledger or returns a *StateError. Apply never
// commits; its caller assembles all writes for a transaction (and, beneath
// that, a block) into a single atomic batch.
func Apply(l Ledger, inst Instruction, now int64) error {
	switch v := inst.(type) {
	case RegisterDomain:
		return applyRegisterDomain(l, v, now)
	case RegisterAccount:
		return applyRegisterAccount(l, v, now)
	case RegisterAsset:
		return applyRegisterAsset(l, v, now)
	case MintAsset:
		return applyMintAsset(l, v)
	case BurnAsset:
		return applyBurnAsset(l, v)
	case TransferAsset:
		return applyTransferAsset(l, v)
	case GrantRole:
		return applyGrantRole(l, v)
	case RevokeRole:
		return applyRevokeRole(l, v)
	default:
		return errNotFound("instruction", string(inst.Kind()))
	}
}

func applyRegisterDomain(l Ledger, v RegisterDomain, now int64) error {
	if err := model.ValidateDomainID(v.ID); err != nil {
		return errMalformedID("domain", v.ID)
	}
	exists, err := l.HasDomain(v.ID)
	if err != nil {
		return err
	}
	if exists {
		return errAlreadyExists("domain", v.ID)
	}
	return l.PutDomain(model.Domain{ID: v.ID, CreatedAt: now})
}

func applyRegisterAccount(l Ledger, v RegisterAccount, now int64) error {
	_, domain, err := model.SplitAccountID(v.ID)
	if err != nil {
		return errMalformedID("account", v.ID)
	}
	domainExists, err := l.HasDomain(domain)
	if err != nil {
		return err
	}
	if !domainExists {
		return errDomainNotFound(domain)
	}
	exists, err := l.HasAccount(v.ID)
	if err != nil {
		return err
	}
	if exists {
		return errAlreadyExists("account", v.ID)
	}
	if err := l.PutAccount(model.Account{ID: v.ID, PublicKey: v.PublicKey, CreatedAt: now}); err != nil {
		return err
	}
	return l.PutAccountRoles(v.ID, []string{})
}

func applyRegisterAsset(l Ledger, v RegisterAsset, now int64) error {
	_, domain, err := model.SplitAssetID(v.ID)
	if err != nil {
		return errMalformedID("asset", v.ID)
	}
	if err := model.ValidatePrecision(v.Precision); err != nil {
		return errInvalidPrecision(v.Precision)
	}
	domainExists, err := l.HasDomain(domain)
	if err != nil {
		return err
	}
	if !domainExists {
		return errDomainNotFound(domain)
	}
	exists, err := l.HasAsset(v.ID)
	if err != nil {
		return err
	}
	if exists {
		return errAlreadyExists("asset", v.ID)
	}
	return l.PutAsset(model.Asset{ID: v.ID, Precision: v.Precision, CreatedAt: now})
}

func applyMintAsset(l Ledger, v MintAsset) error {
	asset, err := requireAsset(l, v.AssetID)
	if err != nil {
		return err
	}
	if _, err := requireAccount(l, v.AccountID); err != nil {
		return err
	}
	amount, err := parseAmount(v.Amount, asset.Precision)
	if err != nil {
		return err
	}
	balance, err := l.GetBalance(v.AssetID, v.AccountID)
	if err != nil {
		return err
	}
	return l.SetBalance(v.AssetID, v.AccountID, new(big.Int).Add(balance, amount))
}

func applyBurnAsset(l Ledger, v BurnAsset) error {
	asset, err := requireAsset(l, v.AssetID)
	if err != nil {
		return err
	}
	if _, err := requireAccount(l, v.AccountID); err != nil {
		return err
	}
	amount, err := parseAmount(v.Amount, asset.Precision)
	if err != nil {
		return err
	}
	balance, err := l.GetBalance(v.AssetID, v.AccountID)
	if err != nil {
		return err
	}
	if balance.Cmp(amount) < 0 {
		return errInsufficientBalance(v.AccountID, v.AssetID)
	}
	return l.SetBalance(v.AssetID, v.AccountID, new(big.Int).Sub(balance, amount))
}

func applyTransferAsset(l Ledger, v TransferAsset) error {
	asset, err := requireAsset(l, v.AssetID)
	if err != nil {
		return err
	}
	if _, err := requireAccount(l, v.SrcID); err != nil {
		return err
	}
	if _, err := requireAccount(l, v.DstID); err != nil {
		return err
	}
	amount, err := parseAmount(v.Amount, asset.Precision)
	if err != nil {
		return err
	}
	srcBalance, err := l.GetBalance(v.AssetID, v.SrcID)
	if err != nil {
		return err
	}
	if srcBalance.Cmp(amount) < 0 {
		return errInsufficientBalance(v.SrcID, v.AssetID)
	}
	if v.SrcID == v.DstID {
		return nil
	}
	dstBalance, err := l.GetBalance(v.AssetID, v.DstID)
	if err != nil {
		return err
	}
	if err := l.SetBalance(v.AssetID, v.SrcID, new(big.Int).Sub(srcBalance, amount)); err != nil {
		return err
	}
	return l.SetBalance(v.AssetID, v.DstID, new(big.Int).Add(dstBalance, amount))
}

func applyGrantRole(l Ledger, v GrantRole) error {
	if _, err := requireRole(l, v.RoleID); err != nil {
		return err
	}
	if _, err := requireAccount(l, v.AccountID); err != nil {
		return err
	}
	roles, err := l.GetAccountRoles(v.AccountID)
	if err != nil {
		return err
	}
	for _, r := range roles {
		if r == v.RoleID {
			return nil // already granted, set semantics
		}
	}
	return l.PutAccountRoles(v.AccountID, append(roles, v.RoleID))
}

func applyRevokeRole(l Ledger, v RevokeRole) error {
	if _, err := requireAccount(l, v.AccountID); err != nil {
		return err
	}
	roles, err := l.GetAccountRoles(v.AccountID)
	if err != nil {
		return err
	}
	out := roles[:0:0]
	for _, r := range roles {
		if r != v.RoleID {
			out = append(out, r)
		}
	}
	return l.PutAccountRoles(v.AccountID, out)
}

func requireAsset(l Ledger, assetID string) (*model.Asset, error) {
	exists, err := l.HasAsset(assetID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, errNotFound("asset", assetID)
	}
	return l.GetAsset(assetID)
}

func requireAccount(l Ledger, accountID string) (*model.Account, error) {
	exists, err := l.HasAccount(accountID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, errNotFound("account", accountID)
	}
	return l.GetAccount(accountID)
}

func requireRole(l Ledger, roleID string) (*model.Role, error) {
	exists, err := l.HasRole(roleID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, errNotFound("role", roleID)
	}
	return l.GetRole(roleID)
}

func parseAmount(amount string, precision int) (*big.Int, error) {
	v, err := model.ParseAmount(amount, precision)
	if err != nil {
		return nil, errInvalidAmount(amount, err.Error())
	}
	return v, nil
}
