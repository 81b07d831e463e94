// Package txvalidate performs the ordered signature/structure/nonce/
// permission checks a transaction must pass before it is admitted to the
// mempool.
package txvalidate

// ValidationError is the flat error taxonomy surfaced at the submit
// endpoint. Validation stops and reports on the first failing check.
type ValidationError struct {
	kind string
	msg  string
}

func (e *ValidationError) Error() string { return e.msg }
func (e *ValidationError) Kind() string  { return e.kind }

func newErr(kind, msg string) *ValidationError {
	return &ValidationError{kind: kind, msg: msg}
}

// Kind constants, the exact taxonomy named in the error handling design.
const (
	KindInvalidSignature    = "INVALID_SIGNATURE"
	KindMissingChainID      = "MISSING_CHAIN_ID"
	KindMissingSignerID     = "MISSING_SIGNER_ID"
	KindInvalidNonce        = "INVALID_NONCE"
	KindInvalidCreatedAt    = "INVALID_CREATED_AT"
	KindInvalidInstructions = "INVALID_INSTRUCTIONS"
	KindInvalidSignerFormat = "INVALID_SIGNER_FORMAT"
	KindInvalidDomainID     = "INVALID_DOMAIN_ID"
	KindInvalidDomainLength = "INVALID_DOMAIN_LENGTH"
	KindInvalidAccountID    = "INVALID_ACCOUNT_ID"
	KindInvalidAccountFmt   = "INVALID_ACCOUNT_FORMAT"
	KindInvalidPublicKey    = "INVALID_PUBLIC_KEY"
	KindInvalidAssetID      = "INVALID_ASSET_ID"
	KindInvalidAssetFmt     = "INVALID_ASSET_FORMAT"
	KindInvalidPrecision    = "INVALID_PRECISION"
	KindInvalidAmount       = "INVALID_AMOUNT"
	KindInvalidAmountFormat = "INVALID_AMOUNT_FORMAT"
	KindInvalidSrcAccount   = "INVALID_SRC_ACCOUNT"
	KindInvalidDestAccount  = "INVALID_DEST_ACCOUNT"
	KindInvalidRoleID       = "INVALID_ROLE_ID"
	KindPermissionDenied    = "PERMISSION_DENIED"
	KindUnknownInstruction  = "UNKNOWN_INSTRUCTION"
)
