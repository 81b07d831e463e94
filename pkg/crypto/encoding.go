package crypto

import (
	"fmt"

	"github.com/mr-tron/base58"
)

// PublicKeyPrefix is prepended to the base58 encoding of an Ed25519 public
// key so that encoded identifiers are self-describing.
const PublicKeyPrefix = "ed25519:"

// EncodePublicKey renders a 32-byte Ed25519 public key as "ed25519:<base58>".
func EncodePublicKey(pub []byte) string {
	return PublicKeyPrefix + base58.Encode(pub)
}

// DecodePublicKey parses a "ed25519:<base58>" string back into raw key bytes.
func DecodePublicKey(s string) ([]byte, error) {
	if len(s) <= len(PublicKeyPrefix) || s[:len(PublicKeyPrefix)] != PublicKeyPrefix {
		return nil, fmt.Errorf("public key missing %q prefix", PublicKeyPrefix)
	}
	b, err := base58.Decode(s[len(PublicKeyPrefix):])
	if err != nil {
		return nil, fmt.Errorf("decode public key: %w", err)
	}
	if len(b) != 32 {
		return nil, fmt.Errorf("public key must be 32 bytes, got %d", len(b))
	}
	return b, nil
}

func errInvalidHashLength(n int) error {
	return fmt.Errorf("hash must be %d bytes, got %d", HashSize, n)
}

// marshalQuotedString wraps already-encoded text (base58, ...) in JSON
// quotes without re-encoding it.
func marshalQuotedString(text []byte) ([]byte, error) {
	out := make([]byte, 0, len(text)+2)
	out = append(out, '"')
	out = append(out, text...)
	out = append(out, '"')
	return out, nil
}
