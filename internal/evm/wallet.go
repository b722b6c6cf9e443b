package evm

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/better-wallet/multikey/internal/crypto"
	apperrors "github.com/better-wallet/multikey/pkg/errors"
)

// Wallet is the seed-derived EVM sub-account key
type Wallet struct {
	key     *btcec.PrivateKey
	address string
}

// NewWallet derives the EVM key of mnemonic
func NewWallet(mnemonic string) (*Wallet, error) {
	key, err := crypto.DeriveKey(mnemonic, "", crypto.EVMPath)
	if err != nil {
		return nil, apperrors.CryptoFailure("derive evm key", err)
	}
	return &Wallet{key: key, address: crypto.EVMAddress(key)}, nil
}

// Address returns the lowercase 0x address
func (w *Wallet) Address() string {
	return w.address
}

// PublicKey returns the 64-byte X||Y public key
func (w *Wallet) PublicKey() []byte {
	return crypto.PublicKeySecp256k1(w.key)
}

// SignData signs keccak256(data) and returns r||s||v with v = recovery id + 27
func (w *Wallet) SignData(data []byte) ([]byte, error) {
	return w.SignDigest(ethcrypto.Keccak256(data))
}

// SignDigest signs a 32-byte digest and applies the recovery offset
func (w *Wallet) SignDigest(digest []byte) ([]byte, error) {
	raw, err := crypto.SignSecp256k1Recoverable(w.key, digest)
	if err != nil {
		return nil, apperrors.CryptoFailure("evm sign", fmt.Errorf("address %s: %w", w.address, err))
	}
	return crypto.AddRecoveryOffset(raw), nil
}
