package storage

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/better-wallet/multikey/pkg/types"
)

// WalletEntry is a persisted seed-derived wallet. The mnemonic is sealed
// before it reaches storage.
type WalletEntry struct {
	ID             uuid.UUID
	PublicKey      string
	SealedMnemonic []byte
	CreatedAt      time.Time
}

// KeyEntry is one secure key store record. The private key exists only as
// two shamir shares, one of them sealed.
type KeyEntry struct {
	Prefix      string
	PublicKey   []byte
	LocalShare  []byte
	SealedShare []byte
	CreatedAt   time.Time
}

// Lookups return (nil, nil) when the record does not exist.

// WalletStore persists seed-derived wallets
type WalletStore interface {
	CreateWallet(ctx context.Context, w *WalletEntry) error
	GetWallet(ctx context.Context, id uuid.UUID) (*WalletEntry, error)
}

// KeyStore persists secure key store records
type KeyStore interface {
	PutKey(ctx context.Context, k *KeyEntry) error
	GetKey(ctx context.Context, prefix string) (*KeyEntry, error)
	DeleteKey(ctx context.Context, prefix string) error
}

// AccountStore persists the accounts known on this device
type AccountStore interface {
	UpsertAccount(ctx context.Context, a *types.Account) error
	GetAccount(ctx context.Context, address string) (*types.Account, error)
	ListAccounts(ctx context.Context) ([]*types.Account, error)
	// SetActiveAccount marks address active and every other account inactive
	SetActiveAccount(ctx context.Context, address string) error
}

// TransactionStore persists the transaction ledger
type TransactionStore interface {
	AppendTransaction(ctx context.Context, rec *types.TransactionRecord) error
	UpdateTransaction(ctx context.Context, rec *types.TransactionRecord) error
	ListTransactions(ctx context.Context) ([]*types.TransactionRecord, error)
}

// Repositories bundles one implementation of every store
type Repositories struct {
	Wallets      WalletStore
	Keys         KeyStore
	Accounts     AccountStore
	Transactions TransactionStore
}
