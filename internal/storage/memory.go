package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/better-wallet/multikey/pkg/types"
)

// Memory implements every store in process memory. It is used when no
// database is configured and in tests.
type Memory struct {
	mu           sync.RWMutex
	wallets      map[uuid.UUID]WalletEntry
	keys         map[string]KeyEntry
	accounts     map[string]types.Account
	accountOrder []string
	transactions map[string]types.TransactionRecord
	txOrder      []string
}

// NewMemory creates an empty in-memory store
func NewMemory() *Memory {
	return &Memory{
		wallets:      make(map[uuid.UUID]WalletEntry),
		keys:         make(map[string]KeyEntry),
		accounts:     make(map[string]types.Account),
		transactions: make(map[string]types.TransactionRecord),
	}
}

// Repositories exposes m through the store interfaces
func (m *Memory) Repositories() *Repositories {
	return &Repositories{Wallets: m, Keys: m, Accounts: m, Transactions: m}
}

func (m *Memory) CreateWallet(_ context.Context, w *WalletEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.wallets[w.ID]; ok {
		return fmt.Errorf("failed to create wallet: duplicate id %s", w.ID)
	}
	w.CreatedAt = time.Now()
	entry := *w
	entry.SealedMnemonic = append([]byte(nil), w.SealedMnemonic...)
	m.wallets[w.ID] = entry
	return nil
}

func (m *Memory) GetWallet(_ context.Context, id uuid.UUID) (*WalletEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	w, ok := m.wallets[id]
	if !ok {
		return nil, nil
	}
	w.SealedMnemonic = append([]byte(nil), w.SealedMnemonic...)
	return &w, nil
}

func (m *Memory) PutKey(_ context.Context, k *KeyEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.keys[k.Prefix]; ok {
		return fmt.Errorf("failed to store key %s: prefix exists", k.Prefix)
	}
	k.CreatedAt = time.Now()
	m.keys[k.Prefix] = *k
	return nil
}

func (m *Memory) GetKey(_ context.Context, prefix string) (*KeyEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	k, ok := m.keys[prefix]
	if !ok {
		return nil, nil
	}
	return &k, nil
}

func (m *Memory) DeleteKey(_ context.Context, prefix string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.keys, prefix)
	return nil
}

func (m *Memory) UpsertAccount(_ context.Context, a *types.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.accounts[a.Address]; !ok {
		m.accountOrder = append(m.accountOrder, a.Address)
	}
	m.accounts[a.Address] = *a
	return nil
}

func (m *Memory) GetAccount(_ context.Context, address string) (*types.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.accounts[address]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (m *Memory) ListAccounts(_ context.Context) ([]*types.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*types.Account, 0, len(m.accountOrder))
	for _, addr := range m.accountOrder {
		a := m.accounts[addr]
		out = append(out, &a)
	}
	return out, nil
}

func (m *Memory) SetActiveAccount(_ context.Context, address string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.accounts) == 0 {
		return fmt.Errorf("no accounts stored")
	}
	for addr, a := range m.accounts {
		a.IsActive = addr == address
		m.accounts[addr] = a
	}
	return nil
}

func (m *Memory) AppendTransaction(_ context.Context, rec *types.TransactionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.transactions[rec.ID]; ok {
		return nil
	}
	m.transactions[rec.ID] = *rec
	m.txOrder = append(m.txOrder, rec.ID)
	return nil
}

func (m *Memory) UpdateTransaction(_ context.Context, rec *types.TransactionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.transactions[rec.ID]
	if !ok {
		return nil
	}
	cur.Status = rec.Status
	cur.ErrorMessage = rec.ErrorMessage
	m.transactions[rec.ID] = cur
	return nil
}

func (m *Memory) ListTransactions(_ context.Context) ([]*types.TransactionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*types.TransactionRecord, 0, len(m.txOrder))
	for _, id := range m.txOrder {
		rec := m.transactions[id]
		out = append(out, &rec)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out, nil
}

var (
	_ WalletStore      = (*Memory)(nil)
	_ KeyStore         = (*Memory)(nil)
	_ AccountStore     = (*Memory)(nil)
	_ TransactionStore = (*Memory)(nil)

	_ WalletStore      = (*WalletRepository)(nil)
	_ KeyStore         = (*KeyRepository)(nil)
	_ AccountStore     = (*AccountRepository)(nil)
	_ TransactionStore = (*TransactionRepository)(nil)
)
