package crypto

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// PublicKeySecp256k1 returns the 64-byte X||Y encoding of the public key.
func PublicKeySecp256k1(priv *btcec.PrivateKey) []byte {
	return priv.PubKey().SerializeUncompressed()[1:]
}

// GenerateP256Key generates a new NIST P-256 private key
func GenerateP256Key() (*ecdsa.PrivateKey, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate private key: %w", err)
	}
	return key, nil
}

// MarshalP256Key encodes a P-256 private key as SEC 1 DER.
func MarshalP256Key(priv *ecdsa.PrivateKey) ([]byte, error) {
	return x509.MarshalECPrivateKey(priv)
}

// ParseP256Key decodes a SEC 1 DER P-256 private key.
func ParseP256Key(der []byte) (*ecdsa.PrivateKey, error) {
	priv, err := x509.ParseECPrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	if priv.Curve != elliptic.P256() {
		return nil, fmt.Errorf("unexpected curve %s", priv.Curve.Params().Name)
	}
	return priv, nil
}

// PublicKeyP256 returns the 64-byte X||Y encoding of the public key.
func PublicKeyP256(pub *ecdsa.PublicKey) ([]byte, error) {
	ecdhKey, err := pub.ECDH()
	if err != nil {
		return nil, fmt.Errorf("invalid public key: %w", err)
	}
	return ecdhKey.Bytes()[1:], nil
}

// EVMAddress derives the canonical lowercase address of a secp256k1 key.
func EVMAddress(priv *btcec.PrivateKey) string {
	addr := ethcrypto.PubkeyToAddress(priv.ToECDSA().PublicKey)
	return strings.ToLower(addr.Hex())
}

// NormalizeEVMAddress returns "0x" followed by 40 lowercase hex characters.
// The prefix is optional on input.
func NormalizeEVMAddress(s string) (string, error) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return "", fmt.Errorf("invalid EVM address %q", s)
	}
	return strings.ToLower(common.HexToAddress(s).Hex()), nil
}

// HexKey lowercases and strips an optional 0x prefix from a hex public key.
func HexKey(s string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X"))
}

// DecodeHexKey decodes a hex public key with or without 0x prefix.
func DecodeHexKey(s string) ([]byte, error) {
	b, err := hex.DecodeString(HexKey(s))
	if err != nil {
		return nil, fmt.Errorf("invalid hex key: %w", err)
	}
	return b, nil
}
