package txvalidate

import (
	"github.com/haschain/miniroha/internal/instruction"
	"github.com/haschain/miniroha/internal/tx"
	"github.com/haschain/miniroha/pkg/model"
)

// Reader is the read-only state access the validator needs. internal/state.Store
// satisfies this interface structurally.
type Reader interface {
	HasAccount(id string) (bool, error)
	GetAccount(id string) (*model.Account, error)
	GetAccountRoles(id string) ([]string, error)
	GetRole(id string) (*model.Role, error)
	GetNonce(signerID string) (uint64, error)
}

// Validate runs the five ordered checks from the transaction pipeline,
// stopping and reporting on the first failure. It never mutates state.
func Validate(r Reader, t tx.Transaction) error {
	if err := checkSignature(r, t); err != nil {
		return err
	}
	if err := checkStructure(t); err != nil {
		return err
	}
	if err := checkNonce(r, t); err != nil {
		return err
	}
	if err := checkPermissions(r, t); err != nil {
		return err
	}
	return checkInstructionStructure(t)
}

// checkSignature verifies the detached signature, requires the signer
// account to be registered, and requires the signing key to match the
// account's registered key.
func checkSignature(r Reader, t tx.Transaction) error {
	if !t.VerifySignature() {
		return newErr(KindInvalidSignature, "signature verification failed")
	}
	exists, err := r.HasAccount(t.Body.SignerID)
	if err != nil {
		return newErr(KindInvalidSignature, "looking up signer: "+err.Error())
	}
	if !exists {
		return newErr(KindInvalidSignature, "signer account does not exist")
	}
	account, err := r.GetAccount(t.Body.SignerID)
	if err != nil {
		return newErr(KindInvalidSignature, "looking up signer: "+err.Error())
	}
	if account.PublicKey != t.Signature.PublicKey {
		return newErr(KindInvalidSignature, "signature key does not match registered account key")
	}
	return nil
}

func checkStructure(t tx.Transaction) error {
	if t.Body.ChainID == "" {
		return newErr(KindMissingChainID, "chain_id is required")
	}
	if t.Body.SignerID == "" {
		return newErr(KindMissingSignerID, "signer_id is required")
	}
	if err := model.ValidateAccountID(t.Body.SignerID); err != nil {
		return newErr(KindInvalidSignerFormat, "signer_id must be name@domain")
	}
	if len(t.Body.Instructions) == 0 {
		return newErr(KindInvalidInstructions, "instructions must be non-empty")
	}
	if t.Body.CreatedAt <= 0 {
		return newErr(KindInvalidCreatedAt, "created_at must be positive")
	}
	return nil
}

// checkNonce enforces strict per-signer monotonicity against the
// persisted last-seen nonce.
func checkNonce(r Reader, t tx.Transaction) error {
	last, err := r.GetNonce(t.Body.SignerID)
	if err != nil {
		return newErr(KindInvalidNonce, "looking up nonce: "+err.Error())
	}
	if t.Body.Nonce <= last {
		return newErr(KindInvalidNonce, "nonce must be strictly greater than last accepted nonce")
	}
	return nil
}

// checkPermissions computes the union of permissions across the signer's
// roles and requires every instruction's exact variant name (or "*") to be
// present in that union.
func checkPermissions(r Reader, t tx.Transaction) error {
	roleIDs, err := r.GetAccountRoles(t.Body.SignerID)
	if err != nil {
		return newErr(KindPermissionDenied, "looking up roles: "+err.Error())
	}

	perms := make(map[string]struct{})
	for _, roleID := range roleIDs {
		role, err := r.GetRole(roleID)
		if err != nil {
			continue
		}
		for _, p := range role.Permissions {
			perms[p] = struct{}{}
		}
	}

	if _, wildcard := perms["*"]; wildcard {
		return nil
	}
	for _, inst := range t.Body.Instructions {
		if _, ok := perms[string(inst.Kind())]; !ok {
			return newErr(KindPermissionDenied, "signer lacks permission for "+string(inst.Kind()))
		}
	}
	return nil
}

// checkInstructionStructure validates identifier shapes, precision, and
// amount syntax for every instruction, without touching state (existence
// checks happen later, inside the instruction engine during apply).
func checkInstructionStructure(t tx.Transaction) error {
	for _, inst := range t.Body.Instructions {
		if err := validateOne(inst); err != nil {
			return err
		}
	}
	return nil
}

func validateOne(inst instruction.Instruction) error {
	switch v := inst.(type) {
	case instruction.RegisterDomain:
		if err := model.ValidateDomainID(v.ID); err != nil {
			return newErr(KindInvalidDomainID, err.Error())
		}
		if len(v.ID) > model.MaxDomainLength {
			return newErr(KindInvalidDomainLength, "domain id too long")
		}
	case instruction.RegisterAccount:
		if err := model.ValidateAccountID(v.ID); err != nil {
			return newErr(KindInvalidAccountFmt, err.Error())
		}
		if v.PublicKey == "" {
			return newErr(KindInvalidPublicKey, "public_key is required")
		}
	case instruction.RegisterAsset:
		if err := model.ValidateAssetID(v.ID); err != nil {
			return newErr(KindInvalidAssetFmt, err.Error())
		}
		if err := model.ValidatePrecision(v.Precision); err != nil {
			return newErr(KindInvalidPrecision, err.Error())
		}
	case instruction.MintAsset:
		if err := model.ValidateAssetID(v.AssetID); err != nil {
			return newErr(KindInvalidAssetID, err.Error())
		}
		if err := model.ValidateAccountID(v.AccountID); err != nil {
			return newErr(KindInvalidAccountID, err.Error())
		}
		if err := validateAmountSyntax(v.Amount); err != nil {
			return err
		}
	case instruction.BurnAsset:
		if err := model.ValidateAssetID(v.AssetID); err != nil {
			return newErr(KindInvalidAssetID, err.Error())
		}
		if err := model.ValidateAccountID(v.AccountID); err != nil {
			return newErr(KindInvalidAccountID, err.Error())
		}
		if err := validateAmountSyntax(v.Amount); err != nil {
			return err
		}
	case instruction.TransferAsset:
		if err := model.ValidateAssetID(v.AssetID); err != nil {
			return newErr(KindInvalidAssetID, err.Error())
		}
		if err := model.ValidateAccountID(v.SrcID); err != nil {
			return newErr(KindInvalidSrcAccount, err.Error())
		}
		if err := model.ValidateAccountID(v.DstID); err != nil {
			return newErr(KindInvalidDestAccount, err.Error())
		}
		if err := validateAmountSyntax(v.Amount); err != nil {
			return err
		}
	case instruction.GrantRole:
		if v.RoleID == "" {
			return newErr(KindInvalidRoleID, "role_id is required")
		}
		if err := model.ValidateAccountID(v.AccountID); err != nil {
			return newErr(KindInvalidAccountID, err.Error())
		}
	case instruction.RevokeRole:
		if v.RoleID == "" {
			return newErr(KindInvalidRoleID, "role_id is required")
		}
		if err := model.ValidateAccountID(v.AccountID); err != nil {
			return newErr(KindInvalidAccountID, err.Error())
		}
	default:
		return newErr(KindUnknownInstruction, "unrecognized instruction kind")
	}
	return nil
}

func validateAmountSyntax(amount string) error {
	// Precision-aware parsing happens at apply time, when the asset's
	// declared precision is known; here we only confirm the amount is a
	// syntactically well-formed non-negative decimal.
	if _, err := model.ParseAmount(amount, model.MaxPrecision); err != nil {
		return newErr(KindInvalidAmountFormat, err.Error())
	}
	return nil
}
