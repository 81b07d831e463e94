package consensus

import "errors"

// ConsensusError kinds. Per the error handling design, consensus
// message-level errors are logged and the message dropped; the engine
// never propagates these across its event loop.
var (
	ErrUnknownValidator        = errors.New("unknown validator")
	ErrInvalidProposer         = errors.New("validator is not the expected proposer")
	ErrInvalidSignature        = errors.New("message signature does not verify")
	ErrStaleMessage            = errors.New("message is for a past or future height")
	ErrBlockVerificationFailed = errors.New("proposed block failed verification")
)
