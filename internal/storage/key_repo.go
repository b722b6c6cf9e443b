package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// KeyRepository stores secure key store records
type KeyRepository struct {
	db DBTX
}

// NewKeyRepository creates a new KeyRepository
func NewKeyRepository(store *Store) *KeyRepository {
	return &KeyRepository{db: store.pool}
}

// PutKey inserts a key record. Prefixes are never reused.
func (r *KeyRepository) PutKey(ctx context.Context, k *KeyEntry) error {
	query := `
		INSERT INTO secure_keys (prefix, public_key, local_share, sealed_share)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`

	err := r.db.QueryRow(ctx, query, k.Prefix, k.PublicKey, k.LocalShare, k.SealedShare).Scan(&k.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to store key %s: %w", k.Prefix, err)
	}
	return nil
}

// GetKey retrieves a key record by prefix
func (r *KeyRepository) GetKey(ctx context.Context, prefix string) (*KeyEntry, error) {
	query := `
		SELECT prefix, public_key, local_share, sealed_share, created_at
		FROM secure_keys
		WHERE prefix = $1
	`

	var k KeyEntry
	err := r.db.QueryRow(ctx, query, prefix).Scan(
		&k.Prefix,
		&k.PublicKey,
		&k.LocalShare,
		&k.SealedShare,
		&k.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get key %s: %w", prefix, err)
	}
	return &k, nil
}

// DeleteKey removes a key record
func (r *KeyRepository) DeleteKey(ctx context.Context, prefix string) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM secure_keys WHERE prefix = $1`, prefix); err != nil {
		return fmt.Errorf("failed to delete key %s: %w", prefix, err)
	}
	return nil
}
