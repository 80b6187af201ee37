/**
 * @description
 * This file contains the core business logic for money movement. The
 * `Service` struct is the transfer state machine: it decides whether a
 * transfer stays inside this bank or crosses to another settlement-network
 * participant, drives the outgoing signing/delivery flow and the incoming
 * verification flow, and performs the paired ledger mutations with status
 * tracking.
 *
 * Key features:
 * - Local transfers debit and credit inside one database transaction; a
 *   successful debit with a lost credit cannot occur.
 * - Remote transfers never debit the sender until the counterpart bank has
 *   acknowledged the transfer with the receiver's name.
 * - Inbound tokens are credited only after the sender bank is trust-checked
 *   against the central registry and the signature verifies against the
 *   sender's published key set.
 * - Terminal transfer states are published to RabbitMQ for notification
 *   tooling.
 *
 * @dependencies
 * - context, errors, fmt, log: Standard Go libraries.
 * - github.com/google/uuid: For transfer identifiers.
 * - internal/domain, internal/store, internal/keystore, internal/token: Domain
 *   models, data access, key lifecycle, and the transfer token codec.
 * - pkg/rabbitmq: Event publishing.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/JoonasMagi/jmbpank/internal/domain"
	"github.com/JoonasMagi/jmbpank/internal/keystore"
	"github.com/JoonasMagi/jmbpank/internal/store"
	"github.com/JoonasMagi/jmbpank/internal/token"
	"github.com/JoonasMagi/jmbpank/pkg/rabbitmq"
)

var (
	ErrInvalidAmount     = errors.New("amount must be positive")
	ErrSenderNotFound    = errors.New("sender account not found")
	ErrReceiverNotFound  = errors.New("receiver account not found")
	ErrUntrustedBank     = errors.New("sender bank is not a trusted participant")
	ErrUnknownSigningKey = errors.New("no matching key in sender bank's key set")
)

// DefaultCurrency is applied when a transfer request omits the currency.
const DefaultCurrency = "EUR"

// Directory resolves and trust-checks counterpart banks and carries signed
// tokens to them. pkg/centralbank provides the production implementation.
type Directory interface {
	GetBankInfo(ctx context.Context, bankPrefix string) (*domain.BankInfo, error)
	VerifyBank(ctx context.Context, bankPrefix string) bool
	GetJWKS(ctx context.Context, bankPrefix string) (domain.JWKS, error)
	SubmitTransaction(ctx context.Context, transactionURL, signedToken string) (string, error)
}

// Service provides the core business logic for transfers.
type Service struct {
	repo      store.Repository
	keys      *keystore.Store
	directory Directory
	producer  rabbitmq.Publisher
	sessions  *SessionManager

	bankPrefix string

	b2bLimiter        *RedisRateLimiter
	b2bLimitPerMinute int
}

// NewService creates a new transfer service instance.
func NewService(repo store.Repository, keys *keystore.Store, directory Directory, producer rabbitmq.Publisher, sessions *SessionManager, bankPrefix string) *Service {
	return &Service{
		repo:       repo,
		keys:       keys,
		directory:  directory,
		producer:   producer,
		sessions:   sessions,
		bankPrefix: bankPrefix,
	}
}

// Sessions exposes the session manager for the API layer.
func (s *Service) Sessions() *SessionManager {
	return s.sessions
}

// BankPrefix returns this bank's routing prefix.
func (s *Service) BankPrefix() string {
	return s.bankPrefix
}

// SubmitTransfer runs the outgoing flow: validate, record, route local or
// remote, and move funds.
func (s *Service) SubmitTransfer(ctx context.Context, req domain.TransferRequest) (*domain.Transfer, error) {
	if req.Amount <= 0 {
		return nil, ErrInvalidAmount
	}

	sender, err := s.repo.FindAccountByNumber(ctx, req.AccountFrom)
	if err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			return nil, ErrSenderNotFound
		}
		return nil, fmt.Errorf("failed to load sender account: %w", err)
	}
	if sender.Balance < req.Amount {
		return nil, store.ErrInsufficientFunds
	}

	senderName := req.SenderName
	if senderName == "" {
		senderName = sender.OwnerName
	}
	currency := req.Currency
	if currency == "" {
		currency = DefaultCurrency
	}

	transfer := &domain.Transfer{
		ID:          uuid.New(),
		AccountFrom: req.AccountFrom,
		AccountTo:   req.AccountTo,
		Amount:      req.Amount,
		Currency:    currency,
		Explanation: req.Explanation,
		SenderName:  senderName,
		Status:      domain.TransferStatusPending,
	}
	if err := s.repo.CreateTransfer(ctx, transfer); err != nil {
		return nil, fmt.Errorf("failed to create transfer record: %w", err)
	}

	// The destination bank prefix decides the route. When both sides carry
	// our own prefix the transfer is always handled locally, even if a side
	// turns out not to resolve; it is never forwarded externally.
	if domain.BankPrefix(req.AccountTo) == s.bankPrefix {
		return s.completeLocalTransfer(ctx, transfer)
	}
	return s.completeRemoteTransfer(ctx, transfer)
}

func (s *Service) completeLocalTransfer(ctx context.Context, transfer *domain.Transfer) (*domain.Transfer, error) {
	if err := s.repo.UpdateTransferStatus(ctx, transfer.ID, domain.TransferStatusProcessing, nil); err != nil {
		return nil, fmt.Errorf("failed to mark transfer processing: %w", err)
	}
	transfer.Status = domain.TransferStatusProcessing

	receiver, err := s.repo.FindAccountByNumber(ctx, transfer.AccountTo)
	if err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			s.markFailed(ctx, transfer, "receiver account not found")
			return nil, ErrReceiverNotFound
		}
		s.markFailed(ctx, transfer, "receiver lookup failed")
		return nil, fmt.Errorf("failed to load receiver account: %w", err)
	}

	if err := s.repo.ExecuteLocalTransfer(ctx, transfer.ID, transfer.AccountFrom, transfer.AccountTo, transfer.Amount, receiver.OwnerName); err != nil {
		s.markFailed(ctx, transfer, "ledger mutation failed")
		if errors.Is(err, store.ErrInsufficientFunds) {
			return nil, store.ErrInsufficientFunds
		}
		return nil, fmt.Errorf("failed to execute local transfer: %w", err)
	}

	transfer.Status = domain.TransferStatusCompleted
	transfer.ReceiverName = &receiver.OwnerName
	s.publishStatus(ctx, transfer, "")
	log.Printf("level=info component=transfers route=local outcome=completed transfer_id=%s amount=%d", transfer.ID, transfer.Amount)
	return transfer, nil
}

func (s *Service) completeRemoteTransfer(ctx context.Context, transfer *domain.Transfer) (*domain.Transfer, error) {
	if err := s.repo.UpdateTransferStatus(ctx, transfer.ID, domain.TransferStatusProcessing, nil); err != nil {
		return nil, fmt.Errorf("failed to mark transfer processing: %w", err)
	}
	transfer.Status = domain.TransferStatusProcessing

	signer, err := s.keys.ActiveKeyPair(ctx)
	if err != nil {
		s.markFailed(ctx, transfer, "signing key unavailable")
		return nil, fmt.Errorf("failed to obtain signing key: %w", err)
	}

	signed, err := token.Sign(domain.TransferPayload{
		AccountFrom: transfer.AccountFrom,
		AccountTo:   transfer.AccountTo,
		Amount:      transfer.Amount,
		Currency:    transfer.Currency,
		Explanation: transfer.Explanation,
		SenderName:  transfer.SenderName,
	}, signer.KID, signer.PrivateKey)
	if err != nil {
		s.markFailed(ctx, transfer, "token signing failed")
		return nil, fmt.Errorf("failed to sign transfer: %w", err)
	}

	destPrefix := domain.BankPrefix(transfer.AccountTo)
	info, err := s.directory.GetBankInfo(ctx, destPrefix)
	if err != nil {
		s.markFailed(ctx, transfer, "destination bank not registered")
		return nil, err
	}

	receiverName, err := s.directory.SubmitTransaction(ctx, info.TransactionURL, signed)
	if err != nil {
		// The counterpart did not acknowledge; the sender keeps their money.
		s.markFailed(ctx, transfer, "delivery failed")
		return nil, err
	}

	// The remote bank has credited its customer; only now does the sender
	// lose the funds.
	if err := s.repo.UpdateBalance(ctx, transfer.AccountFrom, -transfer.Amount); err != nil {
		log.Printf("level=error component=transfers msg=\"debit failed after counterpart acknowledgment; manual reconciliation required\" transfer_id=%s err=%v", transfer.ID, err)
		s.markFailed(ctx, transfer, "debit failed after acknowledgment")
		return nil, fmt.Errorf("failed to debit sender after acknowledgment: %w", err)
	}

	if err := s.repo.UpdateTransferStatus(ctx, transfer.ID, domain.TransferStatusCompleted, &receiverName); err != nil {
		log.Printf("level=error component=transfers msg=\"status update failed for completed transfer\" transfer_id=%s err=%v", transfer.ID, err)
	}
	transfer.Status = domain.TransferStatusCompleted
	transfer.ReceiverName = &receiverName
	s.publishStatus(ctx, transfer, "")
	log.Printf("level=info component=transfers route=remote outcome=completed transfer_id=%s dest_prefix=%s amount=%d", transfer.ID, destPrefix, transfer.Amount)
	return transfer, nil
}

// AcceptTransfer runs the incoming flow: parse the claimed routing fields,
// trust-check the sender bank, verify the signature against its published
// key set, and credit the receiver.
func (s *Service) AcceptTransfer(ctx context.Context, signedToken string) (*domain.IncomingTransferResult, error) {
	kid, claimed, err := token.DecodeUnverified(signedToken)
	if err != nil {
		return nil, err
	}

	receiver, err := s.repo.FindAccountByNumber(ctx, claimed.AccountTo)
	if err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			return nil, ErrReceiverNotFound
		}
		return nil, fmt.Errorf("failed to load receiver account: %w", err)
	}

	senderPrefix := domain.BankPrefix(claimed.AccountFrom)
	if !s.directory.VerifyBank(ctx, senderPrefix) {
		return nil, ErrUntrustedBank
	}

	jwks, err := s.directory.GetJWKS(ctx, senderPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch sender bank key set: %w", err)
	}

	var match *domain.JWK
	for i := range jwks.Keys {
		if jwks.Keys[i].Kid == kid {
			match = &jwks.Keys[i]
			break
		}
	}
	if match == nil {
		return nil, ErrUnknownSigningKey
	}

	publicKey, err := token.JWKToPublicKey(*match)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnknownSigningKey, err)
	}

	verified, err := token.Verify(signedToken, publicKey)
	if err != nil {
		return nil, err
	}
	if verified.Amount <= 0 {
		return nil, ErrInvalidAmount
	}

	currency := verified.Currency
	if currency == "" {
		currency = DefaultCurrency
	}

	transfer := &domain.Transfer{
		ID:           uuid.New(),
		AccountFrom:  verified.AccountFrom,
		AccountTo:    verified.AccountTo,
		Amount:       verified.Amount,
		Currency:     currency,
		Explanation:  verified.Explanation,
		SenderName:   verified.SenderName,
		ReceiverName: &receiver.OwnerName,
		Status:       domain.TransferStatusProcessing,
	}
	if err := s.repo.CreateTransfer(ctx, transfer); err != nil {
		return nil, fmt.Errorf("failed to create transfer record: %w", err)
	}

	if err := s.repo.UpdateBalance(ctx, verified.AccountTo, verified.Amount); err != nil {
		s.markFailed(ctx, transfer, "credit failed")
		return nil, fmt.Errorf("failed to credit receiver: %w", err)
	}

	if err := s.repo.UpdateTransferStatus(ctx, transfer.ID, domain.TransferStatusCompleted, &receiver.OwnerName); err != nil {
		log.Printf("level=error component=transfers msg=\"status update failed for credited inbound transfer\" transfer_id=%s err=%v", transfer.ID, err)
	}
	transfer.Status = domain.TransferStatusCompleted
	s.publishStatus(ctx, transfer, "")
	log.Printf("level=info component=transfers route=inbound outcome=completed transfer_id=%s sender_prefix=%s amount=%d", transfer.ID, senderPrefix, transfer.Amount)

	return &domain.IncomingTransferResult{
		ReceiverName: receiver.OwnerName,
		Status:       domain.TransferStatusCompleted,
	}, nil
}

// PublicKeySet returns the JWKS document counterpart banks use to verify
// tokens this bank signed.
func (s *Service) PublicKeySet(ctx context.Context) (domain.JWKS, error) {
	return s.keys.PublicKeySet(ctx)
}

// GetTransfer returns a single transfer record.
func (s *Service) GetTransfer(ctx context.Context, transferID uuid.UUID) (*domain.Transfer, error) {
	return s.repo.FindTransferByID(ctx, transferID)
}

// ListAccountTransfers returns the transfer history of an account, newest first.
func (s *Service) ListAccountTransfers(ctx context.Context, accountNumber string) ([]domain.Transfer, error) {
	return s.repo.FindTransfersByAccount(ctx, accountNumber)
}

func (s *Service) markFailed(ctx context.Context, transfer *domain.Transfer, reason string) {
	if err := s.repo.UpdateTransferStatus(ctx, transfer.ID, domain.TransferStatusFailed, nil); err != nil {
		log.Printf("level=error component=transfers msg=\"failed to mark transfer failed\" transfer_id=%s err=%v", transfer.ID, err)
	}
	transfer.Status = domain.TransferStatusFailed
	s.publishStatus(ctx, transfer, reason)
	log.Printf("level=warn component=transfers outcome=failed transfer_id=%s reason=%q", transfer.ID, reason)
}

func (s *Service) publishStatus(ctx context.Context, transfer *domain.Transfer, reason string) {
	if s.producer == nil {
		return
	}
	event := domain.TransferStatusEvent{
		TransferID:  transfer.ID,
		AccountFrom: transfer.AccountFrom,
		AccountTo:   transfer.AccountTo,
		Amount:      transfer.Amount,
		Currency:    transfer.Currency,
		Status:      transfer.Status,
		Reason:      reason,
		OccurredAt:  time.Now().UTC(),
	}
	if err := s.producer.PublishTransferStatus(ctx, event); err != nil {
		log.Printf("level=warn component=transfers msg=\"transfer status publish failed\" transfer_id=%s err=%v", transfer.ID, err)
	}
}
