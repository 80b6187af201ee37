package app

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/JoonasMagi/jmbpank/internal/domain"
	"github.com/JoonasMagi/jmbpank/internal/store"
)

func TestRegisterUserOpensFirstAccount(t *testing.T) {
	repo := newStubRepo()
	service := newTestService(t, repo, nil)

	user, account, err := service.RegisterUser(context.Background(), domain.RegisterRequest{
		Username: "mari",
		FullName: "Mari Maasikas",
		Password: "correct horse battery",
	})
	if err != nil {
		t.Fatalf("RegisterUser returned error: %v", err)
	}
	if user.PasswordHash == "correct horse battery" {
		t.Fatal("password must not be stored in plaintext")
	}
	if !strings.HasPrefix(account.AccountNumber, "EST") {
		t.Fatalf("account number %q must carry the bank prefix", account.AccountNumber)
	}
	if len(account.AccountNumber) != domain.BankPrefixLength+20 {
		t.Fatalf("account number %q has unexpected length %d", account.AccountNumber, len(account.AccountNumber))
	}
	if account.Balance != OpeningBalance {
		t.Fatalf("account balance = %d, want opening balance %d", account.Balance, OpeningBalance)
	}
	if account.OwnerName != "Mari Maasikas" {
		t.Fatalf("account owner = %q, want full name", account.OwnerName)
	}
}

func TestRegisterUserValidation(t *testing.T) {
	repo := newStubRepo()
	service := newTestService(t, repo, nil)

	tests := []struct {
		name    string
		req     domain.RegisterRequest
		wantErr error
	}{
		{
			name:    "missing username",
			req:     domain.RegisterRequest{FullName: "Mari Maasikas", Password: "longenough"},
			wantErr: ErrMissingField,
		},
		{
			name:    "missing full name",
			req:     domain.RegisterRequest{Username: "mari", Password: "longenough"},
			wantErr: ErrMissingField,
		},
		{
			name:    "short password",
			req:     domain.RegisterRequest{Username: "mari", FullName: "Mari Maasikas", Password: "short"},
			wantErr: ErrWeakPassword,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := service.RegisterUser(context.Background(), tt.req)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestRegisterUserDuplicateUsername(t *testing.T) {
	repo := newStubRepo()
	service := newTestService(t, repo, nil)

	req := domain.RegisterRequest{Username: "mari", FullName: "Mari Maasikas", Password: "longenough"}
	if _, _, err := service.RegisterUser(context.Background(), req); err != nil {
		t.Fatalf("first RegisterUser returned error: %v", err)
	}
	if _, _, err := service.RegisterUser(context.Background(), req); !errors.Is(err, store.ErrUsernameTaken) {
		t.Fatalf("expected ErrUsernameTaken, got %v", err)
	}
}

func TestAuthenticate(t *testing.T) {
	repo := newStubRepo()
	service := newTestService(t, repo, nil)

	if _, _, err := service.RegisterUser(context.Background(), domain.RegisterRequest{
		Username: "mari",
		FullName: "Mari Maasikas",
		Password: "longenough",
	}); err != nil {
		t.Fatalf("RegisterUser returned error: %v", err)
	}

	user, err := service.Authenticate(context.Background(), domain.LoginRequest{Username: "mari", Password: "longenough"})
	if err != nil {
		t.Fatalf("Authenticate returned error: %v", err)
	}
	if user.Username != "mari" {
		t.Fatalf("authenticated wrong user %q", user.Username)
	}

	if _, err := service.Authenticate(context.Background(), domain.LoginRequest{Username: "mari", Password: "wrong-password"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for wrong password, got %v", err)
	}
	if _, err := service.Authenticate(context.Background(), domain.LoginRequest{Username: "nobody", Password: "longenough"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for unknown user, got %v", err)
	}
}
