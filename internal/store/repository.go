/**
 * @description
 * This file defines the `Repository` interface, which specifies the contract
 * for all data access operations the service needs. Defining an interface
 * decouples the business logic from the PostgreSQL implementation and lets
 * tests substitute hand-written stubs.
 *
 * @dependencies
 * - context: Standard Go library.
 * - github.com/google/uuid: For UUID handling.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/JoonasMagi/jmbpank/internal/domain"
)

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// User methods
	CreateUser(ctx context.Context, user *domain.User) error
	FindUserByUsername(ctx context.Context, username string) (*domain.User, error)
	FindUserByID(ctx context.Context, userID uuid.UUID) (*domain.User, error)

	// Account methods
	CreateAccount(ctx context.Context, account *domain.Account) error
	FindAccountByNumber(ctx context.Context, accountNumber string) (*domain.Account, error)
	FindAccountsByUserID(ctx context.Context, userID uuid.UUID) ([]domain.Account, error)
	ListAccounts(ctx context.Context) ([]domain.Account, error)

	// UpdateBalance atomically adds delta (which may be negative) to an
	// account balance. The mutation is rejected with ErrInsufficientFunds if
	// it would drive the balance negative; concurrent mutations of the same
	// account serialize on the row lock.
	UpdateBalance(ctx context.Context, accountNumber string, delta int64) error

	// ExecuteLocalTransfer performs the paired debit/credit of an intra-bank
	// transfer and marks the transfer record completed, all inside a single
	// database transaction.
	ExecuteLocalTransfer(ctx context.Context, transferID uuid.UUID, accountFrom, accountTo string, amount int64, receiverName string) error

	// Transfer record methods
	CreateTransfer(ctx context.Context, transfer *domain.Transfer) error
	UpdateTransferStatus(ctx context.Context, transferID uuid.UUID, status string, receiverName *string) error
	FindTransferByID(ctx context.Context, transferID uuid.UUID) (*domain.Transfer, error)
	FindTransfersByAccount(ctx context.Context, accountNumber string) ([]domain.Transfer, error)

	// Signing key methods (the keystore's persistence contract)
	InsertKeyPair(ctx context.Context, pair *domain.KeyPair) error
	FindActiveKeyPair(ctx context.Context) (*domain.KeyPair, error)
	ListKeyPairs(ctx context.Context) ([]domain.KeyPair, error)
}
