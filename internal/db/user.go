package db

import (
	"context"
	"fmt"
)

// GetOrCreateUser returns the user's id for the given email.
// If no user exists with that email, it creates a new one.
func GetOrCreateUser(ctx context.Context, q Querier, email string) (string, error) {
	var userID string

	err := q.QueryRow(ctx, `
		INSERT INTO users (email)
		VALUES ($1)
		ON CONFLICT (email) DO UPDATE SET email = EXCLUDED.email
		RETURNING id
	`, email).Scan(&userID)

	if err != nil {
		return "", fmt.Errorf("failed to get or create user: %w", err)
	}

	return userID, nil
}
