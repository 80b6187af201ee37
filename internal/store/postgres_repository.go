/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository`
 * interface. It contains all the SQL needed for users, accounts, transfer
 * records, and signing keys, including the row-locked balance mutations that
 * keep concurrent transfers from double-spending an account.
 *
 * @dependencies
 * - context, errors: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JoonasMagi/jmbpank/internal/domain"
	"github.com/JoonasMagi/jmbpank/internal/keystore"
)

var (
	ErrUserNotFound      = errors.New("user not found")
	ErrUsernameTaken     = errors.New("username already taken")
	ErrAccountNotFound   = errors.New("account not found")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrTransferNotFound  = errors.New("transfer not found")
)

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// CreateUser inserts a new user row.
func (r *PostgresRepository) CreateUser(ctx context.Context, user *domain.User) error {
	query := `INSERT INTO users (id, username, full_name, password_hash, created_at) VALUES ($1, $2, $3, $4, NOW())`
	_, err := r.db.Exec(ctx, query, user.ID, user.Username, user.FullName, user.PasswordHash)
	if err != nil {
		if pgErr, ok := err.(*pgconn.PgError); ok && pgErr.Code == "23505" {
			return ErrUsernameTaken
		}
		return err
	}
	return nil
}

func (r *PostgresRepository) FindUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	var user domain.User
	query := `SELECT id, username, full_name, password_hash, created_at FROM users WHERE username = $1`
	err := r.db.QueryRow(ctx, query, username).Scan(&user.ID, &user.Username, &user.FullName, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

func (r *PostgresRepository) FindUserByID(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	var user domain.User
	query := `SELECT id, username, full_name, password_hash, created_at FROM users WHERE id = $1`
	err := r.db.QueryRow(ctx, query, userID).Scan(&user.ID, &user.Username, &user.FullName, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

// CreateAccount inserts a new account row.
func (r *PostgresRepository) CreateAccount(ctx context.Context, account *domain.Account) error {
	query := `INSERT INTO accounts (account_number, user_id, owner_name, account_type, balance, currency, created_at)
	          VALUES ($1, $2, $3, $4, $5, $6, NOW())`
	_, err := r.db.Exec(ctx, query,
		account.AccountNumber, account.UserID, account.OwnerName, account.AccountType, account.Balance, account.Currency)
	return err
}

func (r *PostgresRepository) FindAccountByNumber(ctx context.Context, accountNumber string) (*domain.Account, error) {
	var account domain.Account
	query := `SELECT account_number, user_id, owner_name, account_type, balance, currency, created_at
	          FROM accounts WHERE account_number = $1`
	err := r.db.QueryRow(ctx, query, accountNumber).Scan(
		&account.AccountNumber, &account.UserID, &account.OwnerName, &account.AccountType,
		&account.Balance, &account.Currency, &account.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

func (r *PostgresRepository) FindAccountsByUserID(ctx context.Context, userID uuid.UUID) ([]domain.Account, error) {
	query := `SELECT account_number, user_id, owner_name, account_type, balance, currency, created_at
	          FROM accounts WHERE user_id = $1 ORDER BY created_at`
	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAccounts(rows)
}

func (r *PostgresRepository) ListAccounts(ctx context.Context) ([]domain.Account, error) {
	query := `SELECT account_number, user_id, owner_name, account_type, balance, currency, created_at
	          FROM accounts ORDER BY created_at`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAccounts(rows)
}

func scanAccounts(rows pgx.Rows) ([]domain.Account, error) {
	var accounts []domain.Account
	for rows.Next() {
		var account domain.Account
		if err := rows.Scan(
			&account.AccountNumber, &account.UserID, &account.OwnerName, &account.AccountType,
			&account.Balance, &account.Currency, &account.CreatedAt); err != nil {
			return nil, err
		}
		accounts = append(accounts, account)
	}
	return accounts, rows.Err()
}

// UpdateBalance applies delta to the account balance. The row is locked with
// FOR UPDATE so two concurrent debits can never both pass the funds check
// against a stale balance.
func (r *PostgresRepository) UpdateBalance(ctx context.Context, accountNumber string, delta int64) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := applyBalanceDelta(ctx, tx, accountNumber, delta); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func applyBalanceDelta(ctx context.Context, tx pgx.Tx, accountNumber string, delta int64) error {
	var balance int64
	err := tx.QueryRow(ctx, `SELECT balance FROM accounts WHERE account_number = $1 FOR UPDATE`, accountNumber).Scan(&balance)
	if err != nil {
		if err == pgx.ErrNoRows {
			return ErrAccountNotFound
		}
		return err
	}
	if balance+delta < 0 {
		return ErrInsufficientFunds
	}
	_, err = tx.Exec(ctx, `UPDATE accounts SET balance = balance + $1 WHERE account_number = $2`, delta, accountNumber)
	return err
}

// ExecuteLocalTransfer debits the sender, credits the receiver, and marks the
// transfer record completed in one database transaction. Rows are locked in
// lexical account-number order so two opposing transfers cannot deadlock.
func (r *PostgresRepository) ExecuteLocalTransfer(ctx context.Context, transferID uuid.UUID, accountFrom, accountTo string, amount int64, receiverName string) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	first, second := accountFrom, accountTo
	if second < first {
		first, second = second, first
	}
	for _, number := range []string{first, second} {
		var locked int64
		if err := tx.QueryRow(ctx, `SELECT balance FROM accounts WHERE account_number = $1 FOR UPDATE`, number).Scan(&locked); err != nil {
			if err == pgx.ErrNoRows {
				return ErrAccountNotFound
			}
			return err
		}
	}

	if err := applyBalanceDelta(ctx, tx, accountFrom, -amount); err != nil {
		return err
	}
	if err := applyBalanceDelta(ctx, tx, accountTo, amount); err != nil {
		return err
	}

	tag, err := tx.Exec(ctx,
		`UPDATE transfers SET status = $1, receiver_name = $2, updated_at = NOW() WHERE id = $3`,
		domain.TransferStatusCompleted, receiverName, transferID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTransferNotFound
	}

	return tx.Commit(ctx)
}

// CreateTransfer inserts a new transfer record.
func (r *PostgresRepository) CreateTransfer(ctx context.Context, transfer *domain.Transfer) error {
	query := `INSERT INTO transfers (id, account_from, account_to, amount, currency, explanation, sender_name, receiver_name, status, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())`
	_, err := r.db.Exec(ctx, query,
		transfer.ID, transfer.AccountFrom, transfer.AccountTo, transfer.Amount, transfer.Currency,
		transfer.Explanation, transfer.SenderName, transfer.ReceiverName, transfer.Status)
	return err
}

// UpdateTransferStatus sets the status and optionally the receiver name.
func (r *PostgresRepository) UpdateTransferStatus(ctx context.Context, transferID uuid.UUID, status string, receiverName *string) error {
	query := `UPDATE transfers SET status = $1, receiver_name = COALESCE($2, receiver_name), updated_at = NOW() WHERE id = $3`
	tag, err := r.db.Exec(ctx, query, status, receiverName, transferID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTransferNotFound
	}
	return nil
}

func (r *PostgresRepository) FindTransferByID(ctx context.Context, transferID uuid.UUID) (*domain.Transfer, error) {
	var t domain.Transfer
	query := `SELECT id, account_from, account_to, amount, currency, explanation, sender_name, receiver_name, status, created_at, updated_at
	          FROM transfers WHERE id = $1`
	err := r.db.QueryRow(ctx, query, transferID).Scan(
		&t.ID, &t.AccountFrom, &t.AccountTo, &t.Amount, &t.Currency,
		&t.Explanation, &t.SenderName, &t.ReceiverName, &t.Status, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrTransferNotFound
		}
		return nil, err
	}
	return &t, nil
}

func (r *PostgresRepository) FindTransfersByAccount(ctx context.Context, accountNumber string) ([]domain.Transfer, error) {
	query := `SELECT id, account_from, account_to, amount, currency, explanation, sender_name, receiver_name, status, created_at, updated_at
	          FROM transfers WHERE account_from = $1 OR account_to = $1 ORDER BY created_at DESC`
	rows, err := r.db.Query(ctx, query, accountNumber)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transfers []domain.Transfer
	for rows.Next() {
		var t domain.Transfer
		if err := rows.Scan(
			&t.ID, &t.AccountFrom, &t.AccountTo, &t.Amount, &t.Currency,
			&t.Explanation, &t.SenderName, &t.ReceiverName, &t.Status, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		transfers = append(transfers, t)
	}
	return transfers, rows.Err()
}

// InsertKeyPair stores a new signing key. When the new pair is active, any
// previously active key is deactivated in the same transaction so the
// single-active-key invariant holds.
func (r *PostgresRepository) InsertKeyPair(ctx context.Context, pair *domain.KeyPair) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if pair.Active {
		if _, err := tx.Exec(ctx, `UPDATE signing_keys SET active = false WHERE active`); err != nil {
			return err
		}
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO signing_keys (kid, public_key_pem, private_key_pem, active, created_at) VALUES ($1, $2, $3, $4, $5)`,
		pair.KID, pair.PublicKeyPEM, pair.PrivateKeyPEM, pair.Active, pair.CreatedAt)
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *PostgresRepository) FindActiveKeyPair(ctx context.Context) (*domain.KeyPair, error) {
	var pair domain.KeyPair
	query := `SELECT kid, public_key_pem, private_key_pem, active, created_at FROM signing_keys WHERE active LIMIT 1`
	err := r.db.QueryRow(ctx, query).Scan(&pair.KID, &pair.PublicKeyPEM, &pair.PrivateKeyPEM, &pair.Active, &pair.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, keystore.ErrNoActiveKey
		}
		return nil, err
	}
	return &pair, nil
}

func (r *PostgresRepository) ListKeyPairs(ctx context.Context) ([]domain.KeyPair, error) {
	query := `SELECT kid, public_key_pem, private_key_pem, active, created_at FROM signing_keys ORDER BY created_at`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pairs []domain.KeyPair
	for rows.Next() {
		var pair domain.KeyPair
		if err := rows.Scan(&pair.KID, &pair.PublicKeyPEM, &pair.PrivateKeyPEM, &pair.Active, &pair.CreatedAt); err != nil {
			return nil, err
		}
		pairs = append(pairs, pair)
	}
	return pairs, rows.Err()
}
