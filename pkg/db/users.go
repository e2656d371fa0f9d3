package db

import (
	"context"
	"database/sql"
	"errors"
	"strings"
)

// CreateUser inserts a new user row.
func (d *Database) CreateUser(ctx context.Context, u User) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO users (id, email, password_hash)
		VALUES (?, ?, ?)
	`, u.ID, strings.ToLower(u.Email), u.PasswordHash)
	return mapErr(err)
}

// GetUserByEmail returns a user by email or nil if not found.
func (d *Database) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	row := d.DB.QueryRowContext(ctx, `
		SELECT id, email, password_hash, created_at, updated_at
		FROM users WHERE email = ?
	`, strings.ToLower(email))
	var u User
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}

// CreateCredential stores encrypted exchange keys for a user.
func (d *Database) CreateCredential(ctx context.Context, c Credential) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO credentials (
			id, user_id, exchange_type, api_key_encrypted, api_secret_encrypted, key_version, is_active
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`, c.ID, c.UserID, c.ExchangeType, c.APIKeyEncrypted, c.APISecretEncrypted, c.KeyVersion, c.IsActive)
	return mapErr(err)
}

// GetCredential returns an active credential by id with user ownership validation.
func (d *Database) GetCredential(ctx context.Context, id, userID string) (*Credential, error) {
	row := d.DB.QueryRowContext(ctx, `
		SELECT id, user_id, exchange_type, api_key_encrypted, api_secret_encrypted, key_version, is_active, created_at
		FROM credentials
		WHERE id = ? AND user_id = ? AND is_active = 1
	`, id, userID)
	var c Credential
	if err := row.Scan(&c.ID, &c.UserID, &c.ExchangeType, &c.APIKeyEncrypted, &c.APISecretEncrypted, &c.KeyVersion, &c.IsActive, &c.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}
