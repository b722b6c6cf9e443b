package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// WalletRepository handles wallet data operations
type WalletRepository struct {
	db DBTX
}

// NewWalletRepository creates a new WalletRepository
func NewWalletRepository(store *Store) *WalletRepository {
	return &WalletRepository{db: store.pool}
}

// CreateWallet inserts a new wallet entry
func (r *WalletRepository) CreateWallet(ctx context.Context, w *WalletEntry) error {
	query := `
		INSERT INTO wallets (id, public_key, sealed_mnemonic)
		VALUES ($1, $2, $3)
		RETURNING created_at
	`

	err := r.db.QueryRow(ctx, query, w.ID, w.PublicKey, w.SealedMnemonic).Scan(&w.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create wallet: %w", err)
	}
	return nil
}

// GetWallet retrieves a wallet by ID
func (r *WalletRepository) GetWallet(ctx context.Context, id uuid.UUID) (*WalletEntry, error) {
	query := `
		SELECT id, public_key, sealed_mnemonic, created_at
		FROM wallets
		WHERE id = $1
	`

	var w WalletEntry
	err := r.db.QueryRow(ctx, query, id).Scan(&w.ID, &w.PublicKey, &w.SealedMnemonic, &w.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get wallet by ID: %w", err)
	}
	return &w, nil
}
