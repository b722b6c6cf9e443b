package crypto

import (
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/tyler-smith/go-bip39"
)

// Derivation paths. The EVM sub-account lives on its own account level so
// it never collides with the primary chain key.
const (
	PrimaryPath = "m/44'/539'/0'/0/0"
	EVMPath     = "m/44'/60'/1'/0/0"
)

// MnemonicEntropyBits is the entropy used for fresh mnemonics (12 words).
const MnemonicEntropyBits = 128

// NewMnemonic generates a fresh BIP-39 mnemonic.
func NewMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(MnemonicEntropyBits)
	if err != nil {
		return "", fmt.Errorf("failed to generate entropy: %w", err)
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", fmt.Errorf("failed to encode mnemonic: %w", err)
	}
	return mnemonic, nil
}

// NormalizeMnemonic collapses whitespace and lowercases the words.
func NormalizeMnemonic(mnemonic string) string {
	return strings.ToLower(strings.Join(strings.Fields(mnemonic), " "))
}

// ValidateMnemonic checks word list membership and checksum.
func ValidateMnemonic(mnemonic string) error {
	if !bip39.IsMnemonicValid(NormalizeMnemonic(mnemonic)) {
		return fmt.Errorf("invalid mnemonic")
	}
	return nil
}

// DeriveKey derives the secp256k1 private key at path from a mnemonic.
func DeriveKey(mnemonic, passphrase, path string) (*btcec.PrivateKey, error) {
	seed, err := bip39.NewSeedWithErrorChecking(NormalizeMnemonic(mnemonic), passphrase)
	if err != nil {
		return nil, fmt.Errorf("invalid mnemonic: %w", err)
	}
	defer zero(seed)

	return DeriveKeyFromSeed(seed, path)
}

// DeriveKeyFromSeed walks path from the BIP-32 master key of seed.
func DeriveKeyFromSeed(seed []byte, path string) (*btcec.PrivateKey, error) {
	indexes, err := accounts.ParseDerivationPath(path)
	if err != nil {
		return nil, fmt.Errorf("invalid derivation path %q: %w", path, err)
	}

	master, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return nil, fmt.Errorf("failed to create master key: %w", err)
	}

	key := master
	for _, idx := range indexes {
		key, err = key.Derive(idx)
		if err != nil {
			return nil, fmt.Errorf("failed to derive child %d: %w", idx, err)
		}
	}

	priv, err := key.ECPrivKey()
	if err != nil {
		return nil, fmt.Errorf("failed to extract private key: %w", err)
	}
	return priv, nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
