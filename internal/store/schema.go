/**
 * @description
 * Schema bootstrap for the service's PostgreSQL tables. InitSchema is called
 * once at startup and is idempotent, so a fresh database and an already
 * provisioned one boot identically.
 */

package store

import (
	"context"
	"fmt"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id UUID PRIMARY KEY,
		username TEXT NOT NULL UNIQUE,
		full_name TEXT NOT NULL,
		password_hash TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS accounts (
		account_number TEXT PRIMARY KEY,
		user_id UUID NOT NULL REFERENCES users(id),
		owner_name TEXT NOT NULL,
		account_type TEXT NOT NULL DEFAULT 'checking',
		balance BIGINT NOT NULL DEFAULT 0 CHECK (balance >= 0),
		currency TEXT NOT NULL DEFAULT 'EUR',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS transfers (
		id UUID PRIMARY KEY,
		account_from TEXT NOT NULL,
		account_to TEXT NOT NULL,
		amount BIGINT NOT NULL,
		currency TEXT NOT NULL DEFAULT 'EUR',
		explanation TEXT NOT NULL DEFAULT '',
		sender_name TEXT NOT NULL DEFAULT '',
		receiver_name TEXT,
		status TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_transfers_account_from ON transfers(account_from)`,
	`CREATE INDEX IF NOT EXISTS idx_transfers_account_to ON transfers(account_to)`,
	`CREATE TABLE IF NOT EXISTS signing_keys (
		kid UUID PRIMARY KEY,
		public_key_pem TEXT NOT NULL,
		private_key_pem TEXT NOT NULL,
		active BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_signing_keys_single_active ON signing_keys(active) WHERE active`,
}

// InitSchema creates the service's tables and indexes if they do not exist.
func (r *PostgresRepository) InitSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := r.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema statement: %w", err)
		}
	}
	return nil
}
