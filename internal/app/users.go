/**
 * @description
 * User registration, credential checks, and account management for the
 * bank's own customers. Passwords are stored as bcrypt hashes; account
 * numbers are minted with this bank's routing prefix so counterpart banks
 * can route transfers back to us.
 *
 * @dependencies
 * - golang.org/x/crypto/bcrypt: Password hashing.
 * - github.com/google/uuid: User identifiers.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/JoonasMagi/jmbpank/internal/domain"
	"github.com/JoonasMagi/jmbpank/internal/store"
)

var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrWeakPassword       = errors.New("password must be at least 8 characters")
	ErrMissingField       = errors.New("required field is missing")
)

// OpeningBalance is credited to every newly opened account, in cents.
// Matches the settlement network's convention of seeding test accounts.
const OpeningBalance int64 = 100000

// RegisterUser creates a user with a bcrypt-hashed password and opens their
// first account.
func (s *Service) RegisterUser(ctx context.Context, req domain.RegisterRequest) (*domain.User, *domain.Account, error) {
	username := strings.TrimSpace(req.Username)
	fullName := strings.TrimSpace(req.FullName)
	if username == "" || fullName == "" {
		return nil, nil, ErrMissingField
	}
	if len(req.Password) < 8 {
		return nil, nil, ErrWeakPassword
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &domain.User{
		ID:           uuid.New(),
		Username:     username,
		FullName:     fullName,
		PasswordHash: string(hash),
	}
	if err := s.repo.CreateUser(ctx, user); err != nil {
		return nil, nil, err
	}

	account, err := s.OpenAccount(ctx, user.ID, domain.CreateAccountRequest{})
	if err != nil {
		return nil, nil, fmt.Errorf("user created but account opening failed: %w", err)
	}
	return user, account, nil
}

// Authenticate checks credentials and returns the user on success.
func (s *Service) Authenticate(ctx context.Context, req domain.LoginRequest) (*domain.User, error) {
	user, err := s.repo.FindUserByUsername(ctx, req.Username)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			// Burn a comparison so lookup misses and password misses take
			// comparable time.
			_ = bcrypt.CompareHashAndPassword([]byte("$2a$10$0000000000000000000000000000000000000000000000000000"), []byte(req.Password))
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

// GetUser returns a user by id.
func (s *Service) GetUser(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	return s.repo.FindUserByID(ctx, userID)
}

// OpenAccount creates a new account for the user. The owner name on the
// account is the user's registered full name; counterpart banks see it as
// the receiver name on inbound transfers.
func (s *Service) OpenAccount(ctx context.Context, userID uuid.UUID, req domain.CreateAccountRequest) (*domain.Account, error) {
	user, err := s.repo.FindUserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load account owner: %w", err)
	}

	accountType := strings.TrimSpace(req.AccountType)
	if accountType == "" {
		accountType = "checking"
	}
	currency := req.Currency
	if currency == "" {
		currency = DefaultCurrency
	}
	balance := OpeningBalance
	if req.InitialBalance > 0 {
		balance = req.InitialBalance
	}

	account := &domain.Account{
		AccountNumber: domain.NewAccountNumber(s.bankPrefix),
		UserID:        userID,
		OwnerName:     user.FullName,
		AccountType:   accountType,
		Balance:       balance,
		Currency:      currency,
	}
	if err := s.repo.CreateAccount(ctx, account); err != nil {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}
	return account, nil
}

// GetAccount returns an account by its number.
func (s *Service) GetAccount(ctx context.Context, accountNumber string) (*domain.Account, error) {
	return s.repo.FindAccountByNumber(ctx, accountNumber)
}

// ListUserAccounts returns all accounts belonging to the user.
func (s *Service) ListUserAccounts(ctx context.Context, userID uuid.UUID) ([]domain.Account, error) {
	return s.repo.FindAccountsByUserID(ctx, userID)
}
