package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/lightningnetwork/lnd/fn/v2"

	"github.com/better-wallet/multikey/internal/storage"
	"github.com/better-wallet/multikey/pkg/types"
)

var (
	// ErrNoAccount is returned when no account is active
	ErrNoAccount = errors.New("no active account")

	// ErrNoWallet is returned for a seed-derived account with no wallet
	ErrNoWallet = errors.New("account has no wallet")
)

type resolved struct {
	provider CryptoProvider
}

// Manager owns the current account's provider. It replaces a process-wide
// singleton: the cached provider is scoped to this value and swapped with
// single atomic writes, so readers never block.
type Manager struct {
	wallets  *Wallets
	keys     KeySigner
	accounts storage.AccountStore

	active  atomic.Pointer[Wallet]
	current atomic.Pointer[resolved]
	// gen counts clears so a resolution racing a switch is discarded
	gen atomic.Uint64

	// mu serializes account switches; reads go through the atomics
	mu      sync.Mutex
	onClear []func()

	log *slog.Logger
}

// NewManager creates a provider manager
func NewManager(wallets *Wallets, keys KeySigner, accounts storage.AccountStore) *Manager {
	return &Manager{
		wallets:  wallets,
		keys:     keys,
		accounts: accounts,
		log:      slog.Default().With("component", "provider"),
	}
}

// OnClear registers a hook run whenever the cached provider is cleared.
// Caches derived from the current identity (the EVM address registry)
// register here.
func (m *Manager) OnClear(f func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onClear = append(m.onClear, f)
}

// Cached returns the cached provider without resolving
func (m *Manager) Cached() fn.Option[CryptoProvider] {
	if r := m.current.Load(); r != nil {
		return fn.Some(r.provider)
	}
	return fn.None[CryptoProvider]()
}

// Current returns the provider of the active account, resolving and
// caching it on first use.
func (m *Manager) Current(ctx context.Context) (CryptoProvider, error) {
	if r := m.current.Load(); r != nil {
		return r.provider, nil
	}

	gen := m.gen.Load()
	acct, err := m.ActiveAccount(ctx)
	if err != nil {
		return nil, err
	}

	p, err := m.Resolve(ctx, acct)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if r := m.current.Load(); r != nil {
		return r.provider, nil
	}
	if m.gen.Load() != gen {
		return nil, fmt.Errorf("account changed during resolution")
	}
	m.current.Store(&resolved{provider: p})
	return p, nil
}

// Resolve applies the selection policy to acct without touching the cache
func (m *Manager) Resolve(ctx context.Context, acct *types.Account) (CryptoProvider, error) {
	if acct == nil {
		return nil, ErrNoAccount
	}

	if acct.HasStoredKey() {
		return New(ctx, Spec{Kind: KindSecureStorage, Prefix: acct.Prefix, Keys: m.keys})
	}

	var w *Wallet
	if acct.IsActive {
		w = m.active.Load()
	}
	if w == nil {
		loaded, err := m.loadWallet(ctx, acct)
		if err != nil {
			return nil, err
		}
		w = loaded
		if acct.IsActive {
			m.active.CompareAndSwap(nil, w)
		}
	}

	return w.Provider(types.FullWeight)
}

// IsSeedDerived reports whether the cached provider is seed-derived
func (m *Manager) IsSeedDerived() bool {
	r := m.current.Load()
	return r != nil && r.provider.Kind() == KindSeedDerived
}

// Clear drops the cached provider and every registered derived cache
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clearLocked()
}

// ActiveWallet returns the in-memory wallet of the active account
func (m *Manager) ActiveWallet() fn.Option[*Wallet] {
	if w := m.active.Load(); w != nil {
		return fn.Some(w)
	}
	return fn.None[*Wallet]()
}

// ActiveAccount returns the account marked active
func (m *Manager) ActiveAccount(ctx context.Context) (*types.Account, error) {
	accounts, err := m.accounts.ListAccounts(ctx)
	if err != nil {
		return nil, err
	}
	for _, a := range accounts {
		if a.IsActive {
			return a, nil
		}
	}
	return nil, ErrNoAccount
}

// Accounts lists every account known on this device
func (m *Manager) Accounts(ctx context.Context) ([]*types.Account, error) {
	return m.accounts.ListAccounts(ctx)
}

// FindAccount looks an account up by address. It returns nil when unknown.
func (m *Manager) FindAccount(ctx context.Context, address string) (*types.Account, error) {
	return m.accounts.GetAccount(ctx, address)
}

// AddAccount stores acct, makes it active with w as its in-memory wallet
// and clears the cached provider.
func (m *Manager) AddAccount(ctx context.Context, acct *types.Account, w *Wallet) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	acct.IsActive = true
	if w != nil {
		acct.WalletID = w.ID.String()
	}
	if err := m.accounts.UpsertAccount(ctx, acct); err != nil {
		return err
	}
	if err := m.accounts.SetActiveAccount(ctx, acct.Address); err != nil {
		return err
	}

	m.active.Store(w)
	m.clearLocked()
	m.log.Info("account added", "address", acct.Address, "stored_key", acct.HasStoredKey())
	return nil
}

// Switch makes the account at address active
func (m *Manager) Switch(ctx context.Context, address string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	acct, err := m.accounts.GetAccount(ctx, address)
	if err != nil {
		return err
	}
	if acct == nil {
		return fmt.Errorf("%w: %s", ErrNoAccount, address)
	}

	var w *Wallet
	if !acct.HasStoredKey() {
		if w, err = m.loadWallet(ctx, acct); err != nil {
			return err
		}
	}

	if err := m.accounts.SetActiveAccount(ctx, address); err != nil {
		return err
	}

	m.active.Store(w)
	m.clearLocked()
	m.log.Info("switched account", "address", address)
	return nil
}

// Logout deactivates the active account and clears every cache
func (m *Manager) Logout(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	acct, err := m.ActiveAccount(ctx)
	if err != nil && !errors.Is(err, ErrNoAccount) {
		return err
	}
	if acct != nil {
		acct.IsActive = false
		if err := m.accounts.UpsertAccount(ctx, acct); err != nil {
			return err
		}
	}

	m.active.Store(nil)
	m.clearLocked()
	return nil
}

func (m *Manager) clearLocked() {
	m.gen.Add(1)
	m.current.Store(nil)
	for _, f := range m.onClear {
		f()
	}
}

func (m *Manager) loadWallet(ctx context.Context, acct *types.Account) (*Wallet, error) {
	if acct.WalletID == "" {
		return nil, fmt.Errorf("%w: %s", ErrNoWallet, acct.Address)
	}
	id, err := uuid.Parse(acct.WalletID)
	if err != nil {
		return nil, fmt.Errorf("invalid wallet id %q: %w", acct.WalletID, err)
	}
	return m.wallets.Load(ctx, id)
}
