package keystore

import (
	"fmt"
	"os"
	"syscall"

	"golang.org/x/term"

	"github.com/haschain/miniroha/pkg/crypto"
)

// Save encrypts priv under password with DefaultParams and writes it to
// path with 0600 permissions.
func Save(path string, priv *crypto.PrivateKey, password []byte) error {
	enc, err := Encrypt(priv.Serialize(), password, DefaultParams())
	if err != nil {
		return fmt.Errorf("encrypt validator key: %w", err)
	}
	if err := os.WriteFile(path, enc, 0o600); err != nil {
		return fmt.Errorf("write validator key file %s: %w", path, err)
	}
	return nil
}

// Load reads and decrypts the validator key file at path using password.
func Load(path string, password []byte) (*crypto.PrivateKey, error) {
	enc, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read validator key file %s: %w", path, err)
	}
	raw, err := Decrypt(enc, password)
	if err != nil {
		return nil, err
	}
	return crypto.PrivateKeyFromBytes(raw)
}

// ReadPassword prompts on stderr and reads a password from the controlling
// terminal without echoing it.
func ReadPassword(prompt string) ([]byte, error) {
	fmt.Fprint(os.Stderr, prompt)
	password, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, err
	}
	return password, nil
}
