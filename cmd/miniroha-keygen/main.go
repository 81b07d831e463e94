// miniroha-keygen generates a new validator identity: a BIP-39 mnemonic,
// an Ed25519 key derived from it, and an encrypted key file on disk.
//
// Usage:
//
//	miniroha-keygen -out validator.key
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/tyler-smith/go-bip39"

	"github.com/haschain/miniroha/internal/keystore"
	"github.com/haschain/miniroha/pkg/crypto"
)

// mnemonicEntropyBits selects a 24-word mnemonic.
const mnemonicEntropyBits = 256

func main() {
	outPath := flag.String("out", "validator.key", "path to write the encrypted key file")
	flag.Parse()

	if _, err := os.Stat(*outPath); err == nil {
		fmt.Fprintf(os.Stderr, "Error: %s already exists, refusing to overwrite\n", *outPath)
		os.Exit(1)
	}

	mnemonic, seed, err := generateIdentity()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error generating identity: %v\n", err)
		os.Exit(1)
	}

	key, err := crypto.PrivateKeyFromSeed(seed)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error deriving key: %v\n", err)
		os.Exit(1)
	}
	defer key.Zero()

	password, err := keystore.ReadPassword("New validator key password: ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading password: %v\n", err)
		os.Exit(1)
	}
	confirm, err := keystore.ReadPassword("Confirm password: ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading password: %v\n", err)
		os.Exit(1)
	}
	if string(password) != string(confirm) {
		fmt.Fprintln(os.Stderr, "Error: passwords do not match")
		os.Exit(1)
	}

	if err := keystore.Save(*outPath, key, password); err != nil {
		fmt.Fprintf(os.Stderr, "Error saving key: %v\n", err)
		os.Exit(1)
	}
	for i := range password {
		password[i] = 0
	}
	for i := range confirm {
		confirm[i] = 0
	}

	fmt.Printf("Validator key written to %s\n", *outPath)
	fmt.Printf("Public key:             %s\n", crypto.EncodePublicKey(key.PublicKey()))
	fmt.Println()
	fmt.Println("Mnemonic (write this down, it will not be shown again):")
	fmt.Println()
	fmt.Println("  " + mnemonic)
	fmt.Println()
}

// generateIdentity produces a mnemonic and the 32-byte Ed25519 seed derived
// from it. The BIP-39 seed is 64 bytes; only the first 32 are used since
// Ed25519 keys are not HD-derived the way the mnemonic's original purpose
// (BIP-32 secp256k1 wallets) assumes.
func generateIdentity() (mnemonic string, seed []byte, err error) {
	entropy, err := bip39.NewEntropy(mnemonicEntropyBits)
	if err != nil {
		return "", nil, fmt.Errorf("generate entropy: %w", err)
	}
	mnemonic, err = bip39.NewMnemonic(entropy)
	if err != nil {
		return "", nil, fmt.Errorf("generate mnemonic: %w", err)
	}
	full, err := bip39.NewSeedWithErrorChecking(mnemonic, "")
	if err != nil {
		return "", nil, fmt.Errorf("derive seed: %w", err)
	}
	return mnemonic, full[:32], nil
}
