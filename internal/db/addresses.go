package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/vdavid/mailsync/internal/models"
	"github.com/vdavid/mailsync/internal/store"
)

// SaveAddress creates or updates an address. The (account, address) pair is
// unique, so an existing row keeps its id and the passed struct receives it.
func SaveAddress(ctx context.Context, q Querier, address *models.Address) error {
	if address.ID == "" {
		address.ID = uuid.NewString()
	}

	var id string
	err := q.QueryRow(ctx, `
		INSERT INTO addresses (id, account_id, address, name, raw)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (account_id, address) DO UPDATE SET
			name = CASE WHEN EXCLUDED.name <> '' THEN EXCLUDED.name ELSE addresses.name END,
			raw = CASE WHEN EXCLUDED.raw <> '' THEN EXCLUDED.raw ELSE addresses.raw END
		RETURNING id
	`, address.ID, address.AccountID, address.Address, address.Name, address.Raw).Scan(&id)
	if err != nil {
		return fmt.Errorf("failed to save address: %w", err)
	}

	address.ID = id
	return nil
}

// GetAddress returns the address row of an account.
func GetAddress(ctx context.Context, q Querier, accountID, address string) (*models.Address, error) {
	var result models.Address
	err := q.QueryRow(ctx, `
		SELECT id, account_id, address, name, raw
		FROM addresses
		WHERE account_id = $1 AND address = $2
	`, accountID, address).Scan(
		&result.ID,
		&result.AccountID,
		&result.Address,
		&result.Name,
		&result.Raw,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrAddressNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get address: %w", err)
	}
	return &result, nil
}
