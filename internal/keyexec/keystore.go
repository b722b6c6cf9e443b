package keyexec

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/better-wallet/multikey/internal/crypto"
	"github.com/better-wallet/multikey/internal/storage"
)

// ErrKeyNotFound is returned for a prefix with no stored key
var ErrKeyNotFound = errors.New("key not found")

// KeyStore is the platform secure key store. Keys are P-256 and never leave
// it: the private key is split into two shamir shares, the second sealed
// by the configured Sealer, and only recombined for the duration of one
// signature.
type KeyStore struct {
	records storage.KeyStore
	sealer  Sealer
	log     *slog.Logger
}

// NewKeyStore creates a key store over records sealed by sealer
func NewKeyStore(records storage.KeyStore, sealer Sealer) *KeyStore {
	return &KeyStore{
		records: records,
		sealer:  sealer,
		log:     slog.Default().With("component", "keystore", "sealer", sealer.Backend()),
	}
}

// NewPrefix returns a fresh opaque key reference for username
func NewPrefix(username string) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	name := strings.ToLower(strings.TrimSpace(username))
	if name == "" {
		return id[:16]
	}
	return name + "-" + id[:16]
}

// Generate creates and stores a new key under prefix, returning its 64-byte
// public key.
func (s *KeyStore) Generate(ctx context.Context, prefix string) ([]byte, error) {
	if strings.TrimSpace(prefix) == "" {
		return nil, fmt.Errorf("prefix is required")
	}

	priv, err := crypto.GenerateP256Key()
	if err != nil {
		return nil, err
	}
	pub, err := crypto.PublicKeyP256(&priv.PublicKey)
	if err != nil {
		return nil, err
	}

	der, err := crypto.MarshalP256Key(priv)
	if err != nil {
		return nil, fmt.Errorf("failed to encode key: %w", err)
	}
	zeroKey(priv)

	shares, err := crypto.SplitSecret(der)
	crypto.Zero(der)
	if err != nil {
		return nil, err
	}

	sealed, err := s.sealer.Seal(ctx, PurposeKeyShare, shares.SealedShare)
	crypto.Zero(shares.SealedShare)
	if err != nil {
		return nil, fmt.Errorf("failed to seal key share: %w", err)
	}

	entry := &storage.KeyEntry{
		Prefix:      prefix,
		PublicKey:   pub,
		LocalShare:  shares.LocalShare,
		SealedShare: sealed,
	}
	if err := s.records.PutKey(ctx, entry); err != nil {
		return nil, err
	}

	s.log.Debug("generated key", "prefix", prefix)
	return pub, nil
}

// PublicKey returns the 64-byte public key stored under prefix
func (s *KeyStore) PublicKey(ctx context.Context, prefix string) ([]byte, error) {
	entry, err := s.load(ctx, prefix)
	if err != nil {
		return nil, err
	}
	return entry.PublicKey, nil
}

// Sign signs digest with the key stored under prefix and returns r||s
func (s *KeyStore) Sign(ctx context.Context, prefix string, digest []byte) ([]byte, error) {
	entry, err := s.load(ctx, prefix)
	if err != nil {
		return nil, err
	}

	sealedShare, err := s.sealer.Unseal(ctx, PurposeKeyShare, entry.SealedShare)
	if err != nil {
		return nil, fmt.Errorf("failed to unseal key share: %w", err)
	}
	defer crypto.Zero(sealedShare)

	der, err := crypto.CombineShares(entry.LocalShare, sealedShare)
	if err != nil {
		return nil, err
	}
	defer crypto.Zero(der)

	priv, err := crypto.ParseP256Key(der)
	if err != nil {
		return nil, err
	}
	defer zeroKey(priv)

	return crypto.SignP256(priv, digest)
}

// Delete removes the key stored under prefix
func (s *KeyStore) Delete(ctx context.Context, prefix string) error {
	return s.records.DeleteKey(ctx, prefix)
}

func (s *KeyStore) load(ctx context.Context, prefix string) (*storage.KeyEntry, error) {
	entry, err := s.records.GetKey(ctx, prefix)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, prefix)
	}
	return entry, nil
}

func zeroKey(priv *ecdsa.PrivateKey) {
	if priv != nil && priv.D != nil {
		priv.D.SetInt64(0)
	}
}
