package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/better-wallet/multikey/internal/crypto"
	"github.com/better-wallet/multikey/internal/keyexec"
	"github.com/better-wallet/multikey/internal/storage"
	apperrors "github.com/better-wallet/multikey/pkg/errors"
)

// ErrWalletNotFound is returned when a wallet-store entry is missing
var ErrWalletNotFound = errors.New("wallet not found")

// Wallet is a seed-derived wallet held in memory
type Wallet struct {
	ID       uuid.UUID
	mnemonic string
}

// NewWallet wraps an existing mnemonic that has not been persisted
func NewWallet(mnemonic string) (*Wallet, error) {
	if err := crypto.ValidateMnemonic(mnemonic); err != nil {
		return nil, apperrors.CryptoFailure("validate mnemonic", err)
	}
	return &Wallet{ID: uuid.New(), mnemonic: crypto.NormalizeMnemonic(mnemonic)}, nil
}

// Mnemonic returns the wallet's seed phrase
func (w *Wallet) Mnemonic() string { return w.mnemonic }

// Provider derives the primary chain provider of the wallet
func (w *Wallet) Provider(weight int) (CryptoProvider, error) {
	return newSeedDerived(Spec{Kind: KindSeedDerived, Mnemonic: w.mnemonic, Weight: weight})
}

// Wallets is the wallet store: mnemonics are sealed before persistence
type Wallets struct {
	store  storage.WalletStore
	sealer keyexec.Sealer
}

// NewWallets creates a wallet store
func NewWallets(store storage.WalletStore, sealer keyexec.Sealer) *Wallets {
	return &Wallets{store: store, sealer: sealer}
}

// Create generates and persists a fresh wallet
func (ws *Wallets) Create(ctx context.Context) (*Wallet, error) {
	mnemonic, err := crypto.NewMnemonic()
	if err != nil {
		return nil, apperrors.CryptoFailure("generate mnemonic", err)
	}
	w := &Wallet{ID: uuid.New(), mnemonic: mnemonic}
	if err := ws.Save(ctx, w); err != nil {
		return nil, err
	}
	return w, nil
}

// Save persists w
func (ws *Wallets) Save(ctx context.Context, w *Wallet) error {
	p, err := w.Provider(0)
	if err != nil {
		return err
	}

	sealed, err := ws.sealer.Seal(ctx, keyexec.PurposeMnemonic, []byte(w.mnemonic))
	if err != nil {
		return fmt.Errorf("failed to seal mnemonic: %w", err)
	}

	return ws.store.CreateWallet(ctx, &storage.WalletEntry{
		ID:             w.ID,
		PublicKey:      p.PublicKeyHex(),
		SealedMnemonic: sealed,
	})
}

// Load reconstructs a persisted wallet
func (ws *Wallets) Load(ctx context.Context, id uuid.UUID) (*Wallet, error) {
	entry, err := ws.store.GetWallet(ctx, id)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, fmt.Errorf("%w: %s", ErrWalletNotFound, id)
	}

	mnemonic, err := ws.sealer.Unseal(ctx, keyexec.PurposeMnemonic, entry.SealedMnemonic)
	if err != nil {
		return nil, fmt.Errorf("failed to unseal mnemonic: %w", err)
	}
	defer crypto.Zero(mnemonic)

	return &Wallet{ID: entry.ID, mnemonic: string(mnemonic)}, nil
}
