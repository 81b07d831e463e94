package crypto

import (
	"crypto/sha512"
	"fmt"

	"github.com/mr-tron/base58"
)

// HashSize is the length in bytes of a content hash.
const HashSize = sha512.Size

// Hash is a SHA-512 content digest.
type Hash [HashSize]byte

// ComputeHash returns the SHA-512 digest of data.
func ComputeHash(data []byte) Hash {
	return Hash(sha512.Sum512(data))
}

// String renders the hash base58-encoded, the wire and display form used
// throughout the ledger.
func (h Hash) String() string {
	return base58.Encode(h[:])
}

// Bytes returns the raw digest bytes.
func (h Hash) Bytes() []byte {
	return h[:]
}

// IsZero reports whether the hash is the zero value, used to mark the
// absence of a previous block (the genesis block's parent).
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// MarshalJSON encodes the hash as a base58 string.
func (h Hash) MarshalJSON() ([]byte, error) {
	return marshalQuotedString([]byte(h.String()))
}

// UnmarshalJSON decodes the hash from a base58 string.
func (h *Hash) UnmarshalJSON(data []byte) error {
	if len(data) < 2 || data[0] != '"' || data[len(data)-1] != '"' {
		return fmt.Errorf("expected JSON string")
	}
	parsed, err := HashFromBase58(string(data[1 : len(data)-1]))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// HashFromBase58 parses a base58-encoded hash.
func HashFromBase58(s string) (Hash, error) {
	var h Hash
	if s == "" {
		return h, nil
	}
	b, err := base58.Decode(s)
	if err != nil {
		return h, err
	}
	if len(b) != HashSize {
		return h, errInvalidHashLength(len(b))
	}
	copy(h[:], b)
	return h, nil
}
