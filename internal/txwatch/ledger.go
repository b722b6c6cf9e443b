// Package txwatch tracks submitted transactions until they reach a
// terminal chain status.
package txwatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/better-wallet/multikey/internal/storage"
	"github.com/better-wallet/multikey/pkg/types"
)

// Ledger is the process-wide append-only record of submitted transactions.
// Records are never removed and their status only moves up the lattice.
type Ledger struct {
	mu      sync.RWMutex
	records map[string]*types.TransactionRecord
	order   []string

	// store is optional
	store storage.TransactionStore
	log   *slog.Logger
}

// NewLedger creates a ledger persisting through store, which may be nil
func NewLedger(store storage.TransactionStore) *Ledger {
	return &Ledger{
		records: make(map[string]*types.TransactionRecord),
		store:   store,
		log:     slog.Default().With("component", "ledger"),
	}
}

// Load replays persisted records into memory
func (l *Ledger) Load(ctx context.Context) error {
	if l.store == nil {
		return nil
	}
	recs, err := l.store.ListTransactions(ctx)
	if err != nil {
		return fmt.Errorf("failed to load ledger: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for _, r := range recs {
		if _, ok := l.records[r.ID]; ok {
			continue
		}
		cp := *r
		l.records[r.ID] = &cp
		l.order = append(l.order, r.ID)
	}
	return nil
}

// Append adds rec. Appending an id that already exists is a no-op.
func (l *Ledger) Append(ctx context.Context, rec types.TransactionRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("transaction record requires an id")
	}

	l.mu.Lock()
	if _, ok := l.records[rec.ID]; ok {
		l.mu.Unlock()
		return nil
	}
	if rec.Status == types.TxStatusUnknown {
		rec.Status = types.TxStatusPending
	}
	if rec.Time.IsZero() {
		rec.Time = time.Now().UTC()
	}
	cp := rec
	l.records[rec.ID] = &cp
	l.order = append(l.order, rec.ID)
	l.mu.Unlock()

	if l.store != nil {
		if err := l.store.AppendTransaction(ctx, &rec); err != nil {
			return err
		}
	}
	l.log.Debug("transaction appended", "tx_id", rec.ID, "type", rec.Type)
	return nil
}

// Update raises the status of id. A status that does not rank above the
// current one is ignored and reported as unchanged.
func (l *Ledger) Update(ctx context.Context, id string, status types.TxStatus, errorMessage string) (bool, error) {
	l.mu.Lock()
	rec, ok := l.records[id]
	if !ok {
		l.mu.Unlock()
		return false, fmt.Errorf("transaction %s not in ledger", id)
	}
	if status.Rank() <= rec.Status.Rank() {
		l.mu.Unlock()
		return false, nil
	}
	rec.Status = status
	if errorMessage != "" {
		rec.ErrorMessage = errorMessage
	}
	cp := *rec
	l.mu.Unlock()

	if l.store != nil {
		if err := l.store.UpdateTransaction(ctx, &cp); err != nil {
			return true, err
		}
	}
	return true, nil
}

// Get returns a copy of the record for id
func (l *Ledger) Get(id string) (types.TransactionRecord, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	rec, ok := l.records[id]
	if !ok {
		return types.TransactionRecord{}, false
	}
	return *rec, true
}

// List returns every record in append order
func (l *Ledger) List() []types.TransactionRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]types.TransactionRecord, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, *l.records[id])
	}
	return out
}

// LastOfType returns the most recently appended record of type t
func (l *Ledger) LastOfType(t types.TxType) (types.TransactionRecord, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for i := len(l.order) - 1; i >= 0; i-- {
		if rec := l.records[l.order[i]]; rec.Type == t {
			return *rec, true
		}
	}
	return types.TransactionRecord{}, false
}
