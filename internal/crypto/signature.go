package crypto

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/btcsuite/btcd/btcec/v2"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// RawSignatureLength is the size of an r||s signature.
const RawSignatureLength = 64

// RecoveryOffset is added to the recovery id of EVM signatures.
const RecoveryOffset = 27

// SignSecp256k1 signs a 32-byte digest and returns r||s.
func SignSecp256k1(priv *btcec.PrivateKey, digest []byte) ([]byte, error) {
	sig, err := SignSecp256k1Recoverable(priv, digest)
	if err != nil {
		return nil, err
	}
	return sig[:RawSignatureLength], nil
}

// SignSecp256k1Recoverable signs a 32-byte digest and returns r||s||v with
// v the raw recovery id (0 or 1).
func SignSecp256k1Recoverable(priv *btcec.PrivateKey, digest []byte) ([]byte, error) {
	if len(digest) != 32 {
		return nil, fmt.Errorf("digest must be 32 bytes, got %d", len(digest))
	}
	sig, err := ethcrypto.Sign(digest, priv.ToECDSA())
	if err != nil {
		return nil, fmt.Errorf("secp256k1 sign failed: %w", err)
	}
	return sig, nil
}

// SignP256 signs a digest with a P-256 key and returns r||s.
func SignP256(priv *ecdsa.PrivateKey, digest []byte) ([]byte, error) {
	r, s, err := ecdsa.Sign(rand.Reader, priv, digest)
	if err != nil {
		return nil, fmt.Errorf("p256 sign failed: %w", err)
	}
	out := make([]byte, RawSignatureLength)
	r.FillBytes(out[:32])
	s.FillBytes(out[32:])
	return out, nil
}

// VerifyP256 checks an r||s signature against a 64-byte X||Y public key.
func VerifyP256(pub, digest, sig []byte) bool {
	if len(sig) != RawSignatureLength || len(pub) != 64 {
		return false
	}
	key := &ecdsa.PublicKey{
		Curve: elliptic.P256(),
		X:     new(big.Int).SetBytes(pub[:32]),
		Y:     new(big.Int).SetBytes(pub[32:]),
	}
	r := new(big.Int).SetBytes(sig[:32])
	s := new(big.Int).SetBytes(sig[32:])
	return ecdsa.Verify(key, digest, r, s)
}

// VerifySecp256k1 checks an r||s signature against a 64-byte X||Y public key.
func VerifySecp256k1(pub, digest, sig []byte) bool {
	if len(sig) != RawSignatureLength || len(pub) != 64 {
		return false
	}
	return ethcrypto.VerifySignature(append([]byte{0x04}, pub...), digest, sig)
}

// AddRecoveryOffset returns a copy of sig with RecoveryOffset added to its
// last byte. The addition is byte arithmetic and wraps modulo 256.
func AddRecoveryOffset(sig []byte) []byte {
	out := make([]byte, len(sig))
	copy(out, sig)
	if len(out) > 0 {
		out[len(out)-1] += RecoveryOffset
	}
	return out
}
