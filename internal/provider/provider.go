// Package provider implements the signing capability shared by every key
// backend and the wallet-scoped cache of the current account's provider.
package provider

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/better-wallet/multikey/internal/crypto"
	"github.com/better-wallet/multikey/pkg/types"
)

// Kind tags a CryptoProvider variant
type Kind int

const (
	KindSeedDerived Kind = iota + 1
	KindSecureStorage
)

func (k Kind) String() string {
	switch k {
	case KindSeedDerived:
		return "seed_derived"
	case KindSecureStorage:
		return "secure_storage"
	default:
		return "unknown"
	}
}

// CryptoProvider signs on behalf of one account key. Implementations are
// immutable once constructed and never expose private material.
type CryptoProvider interface {
	Kind() Kind
	// PublicKey returns the 64-byte X||Y public key
	PublicKey() []byte
	// PublicKeyHex returns PublicKey as lowercase hex without prefix
	PublicKeyHex() string
	SignatureAlgorithm() types.SignatureAlgorithm
	HashAlgorithm() types.HashAlgorithm
	KeyWeight() int
	// Sign hashes message with HashAlgorithm and returns a raw r||s
	// signature. Callers prepend the domain tag.
	Sign(ctx context.Context, message []byte) ([]byte, error)
}

// Spec describes a provider to construct
type Spec struct {
	Kind Kind

	// SeedDerived
	Mnemonic   string
	Passphrase string
	Path       string // defaults to crypto.PrimaryPath

	// SecureStorage
	Prefix string
	Keys   KeySigner

	// Weight overrides the variant's default key weight when non-zero
	Weight int
}

// KeySigner is the secure key store as seen by a SecureStorage provider
type KeySigner interface {
	PublicKey(ctx context.Context, prefix string) ([]byte, error)
	Sign(ctx context.Context, prefix string, digest []byte) ([]byte, error)
}

// New constructs the provider variant named by spec.Kind
func New(ctx context.Context, spec Spec) (CryptoProvider, error) {
	switch spec.Kind {
	case KindSeedDerived:
		return newSeedDerived(spec)
	case KindSecureStorage:
		return newSecureStorage(ctx, spec)
	default:
		return nil, fmt.Errorf("unknown provider kind %d", spec.Kind)
	}
}

// SignUserMessage signs message under the user domain tag
func SignUserMessage(ctx context.Context, p CryptoProvider, message []byte) ([]byte, error) {
	return p.Sign(ctx, crypto.WithTag(crypto.UserDomainTag, message))
}

// AccountKey describes p as an account service key entry
func AccountKey(p CryptoProvider) types.AccountKey {
	return types.AccountKey{
		PublicKey: p.PublicKeyHex(),
		SignAlgo:  int(p.SignatureAlgorithm()),
		HashAlgo:  int(p.HashAlgorithm()),
		Weight:    p.KeyWeight(),
	}
}

// SamePublicKey compares a provider's key with a hex key of any case or
// prefix.
func SamePublicKey(p CryptoProvider, hexKey string) bool {
	return p.PublicKeyHex() == crypto.HexKey(strings.TrimSpace(hexKey))
}

func weightOr(w, def int) int {
	if w > 0 {
		return w
	}
	return def
}

type baseKey struct {
	pub    []byte
	weight int
}

func (b baseKey) PublicKey() []byte {
	out := make([]byte, len(b.pub))
	copy(out, b.pub)
	return out
}

func (b baseKey) PublicKeyHex() string { return hex.EncodeToString(b.pub) }

func (b baseKey) KeyWeight() int { return b.weight }
