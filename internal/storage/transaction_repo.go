package storage

import (
	"context"
	"fmt"

	"github.com/better-wallet/multikey/pkg/types"
)

// TransactionRepository persists the transaction ledger
type TransactionRepository struct {
	db DBTX
}

// NewTransactionRepository creates a new transaction repository
func NewTransactionRepository(store *Store) *TransactionRepository {
	return &TransactionRepository{db: store.pool}
}

// AppendTransaction inserts a ledger entry. Appending an existing id is a
// no-op.
func (r *TransactionRepository) AppendTransaction(ctx context.Context, rec *types.TransactionRecord) error {
	query := `
		INSERT INTO transactions (id, submitted_at, status, tx_type, data, error_message)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING
	`

	_, err := r.db.Exec(ctx, query,
		rec.ID,
		rec.Time,
		rec.Status.String(),
		string(rec.Type),
		rec.Data,
		rec.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("failed to append transaction: %w", err)
	}
	return nil
}

// UpdateTransaction stores a new status and error message for an entry
func (r *TransactionRepository) UpdateTransaction(ctx context.Context, rec *types.TransactionRecord) error {
	query := `
		UPDATE transactions
		SET status = $2, error_message = $3, updated_at = NOW()
		WHERE id = $1
	`

	if _, err := r.db.Exec(ctx, query, rec.ID, rec.Status.String(), rec.ErrorMessage); err != nil {
		return fmt.Errorf("failed to update transaction: %w", err)
	}
	return nil
}

// ListTransactions returns all ledger entries in submission order
func (r *TransactionRepository) ListTransactions(ctx context.Context) ([]*types.TransactionRecord, error) {
	query := `
		SELECT id, submitted_at, status, tx_type, data, error_message
		FROM transactions
		ORDER BY submitted_at, id
	`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var records []*types.TransactionRecord
	for rows.Next() {
		var (
			rec    types.TransactionRecord
			status string
			txType string
		)
		if err := rows.Scan(&rec.ID, &rec.Time, &status, &txType, &rec.Data, &rec.ErrorMessage); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		rec.Status = types.ParseTxStatus(status)
		rec.Type = types.TxType(txType)
		records = append(records, &rec)
	}
	return records, rows.Err()
}
