package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/better-wallet/multikey/internal/crypto"
	apperrors "github.com/better-wallet/multikey/pkg/errors"
	"github.com/better-wallet/multikey/pkg/types"
)

// SecureStorage delegates signing to the secure key store. Only the opaque
// prefix and the public key are held here.
type SecureStorage struct {
	baseKey
	prefix string
	keys   KeySigner
}

func newSecureStorage(ctx context.Context, spec Spec) (*SecureStorage, error) {
	if strings.TrimSpace(spec.Prefix) == "" {
		return nil, fmt.Errorf("secure storage provider requires a prefix")
	}
	if spec.Keys == nil {
		return nil, fmt.Errorf("secure storage provider requires a key store")
	}

	pub, err := spec.Keys.PublicKey(ctx, spec.Prefix)
	if err != nil {
		return nil, apperrors.CryptoFailure("load key", err)
	}

	return &SecureStorage{
		baseKey: baseKey{pub: pub, weight: weightOr(spec.Weight, types.FullWeight)},
		prefix:  spec.Prefix,
		keys:    spec.Keys,
	}, nil
}

func (p *SecureStorage) Kind() Kind { return KindSecureStorage }

// Prefix returns the key store reference
func (p *SecureStorage) Prefix() string { return p.prefix }

func (p *SecureStorage) SignatureAlgorithm() types.SignatureAlgorithm {
	return types.SignatureAlgorithmECDSAP256
}

func (p *SecureStorage) HashAlgorithm() types.HashAlgorithm {
	return types.HashAlgorithmSHA2256
}

func (p *SecureStorage) Sign(ctx context.Context, message []byte) ([]byte, error) {
	digest, err := crypto.Hash(p.HashAlgorithm(), message)
	if err != nil {
		return nil, apperrors.CryptoFailure("hash", err)
	}
	sig, err := p.keys.Sign(ctx, p.prefix, digest)
	if err != nil {
		return nil, apperrors.CryptoFailure("sign", fmt.Errorf("secure storage %s: %w", p.prefix, err))
	}
	return sig, nil
}
