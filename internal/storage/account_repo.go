package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/better-wallet/multikey/pkg/types"
)

// AccountRepository stores the accounts known on this device
type AccountRepository struct {
	db DBTX
}

// NewAccountRepository creates a new AccountRepository
func NewAccountRepository(store *Store) *AccountRepository {
	return &AccountRepository{db: store.pool}
}

const accountColumns = `address, user_id, username, prefix, wallet_id, is_active, registered, multi_backup_created`

// UpsertAccount inserts or replaces an account keyed by address
func (r *AccountRepository) UpsertAccount(ctx context.Context, a *types.Account) error {
	query := `
		INSERT INTO accounts (` + accountColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (address) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			username = EXCLUDED.username,
			prefix = EXCLUDED.prefix,
			wallet_id = EXCLUDED.wallet_id,
			is_active = EXCLUDED.is_active,
			registered = EXCLUDED.registered,
			multi_backup_created = EXCLUDED.multi_backup_created,
			updated_at = NOW()
	`

	_, err := r.db.Exec(ctx, query,
		a.Address,
		a.UserID,
		a.Username,
		a.Prefix,
		a.WalletID,
		a.IsActive,
		a.Registered,
		a.MultiBackupCreated,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert account: %w", err)
	}
	return nil
}

// GetAccount retrieves an account by address
func (r *AccountRepository) GetAccount(ctx context.Context, address string) (*types.Account, error) {
	row := r.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE address = $1`, address)

	a, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return a, nil
}

// ListAccounts returns every account, oldest first
func (r *AccountRepository) ListAccounts(ctx context.Context) ([]*types.Account, error) {
	rows, err := r.db.Query(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*types.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// SetActiveAccount flips is_active in one statement
func (r *AccountRepository) SetActiveAccount(ctx context.Context, address string) error {
	tag, err := r.db.Exec(ctx, `UPDATE accounts SET is_active = (address = $1), updated_at = NOW()`, address)
	if err != nil {
		return fmt.Errorf("failed to set active account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("no accounts stored")
	}
	return nil
}

func scanAccount(row pgx.Row) (*types.Account, error) {
	var a types.Account
	err := row.Scan(
		&a.Address,
		&a.UserID,
		&a.Username,
		&a.Prefix,
		&a.WalletID,
		&a.IsActive,
		&a.Registered,
		&a.MultiBackupCreated,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}
