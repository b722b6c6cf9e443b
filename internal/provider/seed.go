package provider

import (
	"context"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"

	"github.com/better-wallet/multikey/internal/crypto"
	apperrors "github.com/better-wallet/multikey/pkg/errors"
	"github.com/better-wallet/multikey/pkg/types"
)

// SeedDerived signs with a secp256k1 key derived from a mnemonic
type SeedDerived struct {
	baseKey
	key *btcec.PrivateKey
}

func newSeedDerived(spec Spec) (*SeedDerived, error) {
	path := spec.Path
	if path == "" {
		path = crypto.PrimaryPath
	}

	key, err := crypto.DeriveKey(spec.Mnemonic, spec.Passphrase, path)
	if err != nil {
		return nil, apperrors.CryptoFailure("derive key", err)
	}

	return &SeedDerived{
		baseKey: baseKey{
			pub:    crypto.PublicKeySecp256k1(key),
			weight: weightOr(spec.Weight, types.PartialWeight),
		},
		key: key,
	}, nil
}

// NewSeedDerived derives the primary chain key of mnemonic
func NewSeedDerived(mnemonic string) (*SeedDerived, error) {
	return newSeedDerived(Spec{Kind: KindSeedDerived, Mnemonic: mnemonic})
}

func (p *SeedDerived) Kind() Kind { return KindSeedDerived }

func (p *SeedDerived) SignatureAlgorithm() types.SignatureAlgorithm {
	return types.SignatureAlgorithmSecp256k1
}

func (p *SeedDerived) HashAlgorithm() types.HashAlgorithm {
	return types.HashAlgorithmSHA2256
}

func (p *SeedDerived) Sign(_ context.Context, message []byte) ([]byte, error) {
	digest, err := crypto.Hash(p.HashAlgorithm(), message)
	if err != nil {
		return nil, apperrors.CryptoFailure("hash", err)
	}
	sig, err := crypto.SignSecp256k1(p.key, digest)
	if err != nil {
		return nil, apperrors.CryptoFailure("sign", fmt.Errorf("seed derived: %w", err))
	}
	return sig, nil
}
