// Package reconcile persists normalized messages: it registers addresses,
// resolves threads and upserts emails inside one transaction per message.
package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/vdavid/mailsync/internal/models"
	"github.com/vdavid/mailsync/internal/normalize"
	"github.com/vdavid/mailsync/internal/store"
)

// AddressRegistry maps participants to stable per-account address rows.
// Rows are never deleted.
type AddressRegistry struct{}

// Upsert returns the row for the address, creating it or refreshing its
// display name and raw form.
func (AddressRegistry) Upsert(ctx context.Context, tx store.Tx, accountID string, address normalize.Address) (*models.Address, error) {
	if address.Address == "" {
		return nil, fmt.Errorf("empty address")
	}

	existing, err := tx.GetAddress(ctx, accountID, address.Address)
	switch {
	case errors.Is(err, store.ErrAddressNotFound):
		row := &models.Address{
			ID:        uuid.NewString(),
			AccountID: accountID,
			Address:   address.Address,
			Name:      address.Name,
			Raw:       address.Raw,
		}
		if err := tx.SaveAddress(ctx, row); err != nil {
			return nil, err
		}
		return row, nil
	case err != nil:
		return nil, err
	}

	changed := false
	if address.Name != "" && address.Name != existing.Name {
		existing.Name = address.Name
		changed = true
	}
	if address.Raw != "" && address.Raw != existing.Raw {
		existing.Raw = address.Raw
		changed = true
	}
	if changed {
		if err := tx.SaveAddress(ctx, existing); err != nil {
			return nil, err
		}
	}
	return existing, nil
}

// UpsertAll registers a list and returns the ids in input order, without duplicates.
func (r AddressRegistry) UpsertAll(ctx context.Context, tx store.Tx, accountID string, addresses []normalize.Address) ([]string, error) {
	ids := make([]string, 0, len(addresses))
	seen := make(map[string]bool, len(addresses))
	for _, address := range addresses {
		row, err := r.Upsert(ctx, tx, accountID, address)
		if err != nil {
			return nil, err
		}
		if !seen[row.ID] {
			seen[row.ID] = true
			ids = append(ids, row.ID)
		}
	}
	return ids, nil
}
