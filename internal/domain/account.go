/**
 * @description
 * Account and user models. Account numbers are globally routable: the first
 * three characters are the owning bank's prefix, assigned by the central
 * bank registry.
 */

package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// BankPrefixLength is the number of leading characters of an account number
// that identify the owning bank.
const BankPrefixLength = 3

// Account represents a customer deposit account in this bank's ledger.
type Account struct {
	AccountNumber string    `json:"account_number"`
	UserID        uuid.UUID `json:"user_id"`
	OwnerName     string    `json:"owner_name"`
	AccountType   string    `json:"account_type"`
	Balance       int64     `json:"balance"` // in cents
	Currency      string    `json:"currency"`
	CreatedAt     time.Time `json:"created_at"`
}

// NewAccountNumber builds an account number from the bank prefix and a fresh
// UUID with the dashes stripped, keeping 20 hex characters.
func NewAccountNumber(bankPrefix string) string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return bankPrefix + raw[:20]
}

// BankPrefix returns the 3-character routing prefix of an account number, or
// "" if the number is too short to carry one.
func BankPrefix(accountNumber string) string {
	if len(accountNumber) < BankPrefixLength {
		return ""
	}
	return accountNumber[:BankPrefixLength]
}

// CreateAccountRequest is the DTO for opening a new account.
type CreateAccountRequest struct {
	AccountType    string `json:"account_type"`
	Currency       string `json:"currency"`
	InitialBalance int64  `json:"initial_balance"` // in cents
}

// User represents a registered customer who can own accounts and sessions.
type User struct {
	ID           uuid.UUID `json:"id"`
	Username     string    `json:"username"`
	FullName     string    `json:"full_name"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// RegisterRequest is the DTO for user registration.
type RegisterRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
}

// LoginRequest is the DTO for session creation.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}
