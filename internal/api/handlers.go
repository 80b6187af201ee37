/**
 * @description
 * This file contains the HTTP handlers for the transfer endpoints. Handlers
 * are responsible for parsing incoming requests, calling the appropriate
 * methods on the application service, and writing the HTTP response. They act
 * as the bridge between the web layer and the business logic layer.
 *
 * Every transfer failure maps to a stable error code (TX_001..TX_011) so
 * counterpart banks and clients can branch on the code rather than the
 * message text.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - github.com/go-chi/chi/v5: URL parameter extraction.
 * - internal/app, internal/domain, internal/store, internal/token,
 *   pkg/centralbank: Service logic, models, and custom errors.
 */

package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/JoonasMagi/jmbpank/internal/app"
	"github.com/JoonasMagi/jmbpank/internal/domain"
	"github.com/JoonasMagi/jmbpank/internal/store"
	"github.com/JoonasMagi/jmbpank/internal/token"
	"github.com/JoonasMagi/jmbpank/pkg/centralbank"
)

// Stable error codes for the transfer API.
const (
	CodeInvalidAmount     = "TX_001"
	CodeSenderNotFound    = "TX_002"
	CodeReceiverNotFound  = "TX_003"
	CodeInsufficientFunds = "TX_004"
	CodeUnknownBank       = "TX_005"
	CodeUntrustedBank     = "TX_006"
	CodeUnknownSigningKey = "TX_007"
	CodeInvalidSignature  = "TX_008"
	CodeTokenExpired      = "TX_009"
	CodeTokenMalformed    = "TX_010"
	CodeDeliveryFailure   = "TX_011"

	CodeAuthRequired       = "AUTH_001"
	CodeInvalidCredentials = "AUTH_002"
	CodeForbidden          = "AUTH_003"
)

// BankHandlers holds the application service that handlers will use.
type BankHandlers struct {
	service *app.Service

	trustProxyHeader bool
}

// NewBankHandlers creates a new instance of BankHandlers.
func NewBankHandlers(service *app.Service) *BankHandlers {
	return &BankHandlers{service: service}
}

// SetTrustProxyHeader controls whether X-Forwarded-For is honored when
// resolving the caller's address. Only enable this behind a proxy that
// overwrites the header; a direct caller can set it to anything.
func (h *BankHandlers) SetTrustProxyHeader(trust bool) {
	h.trustProxyHeader = trust
}

// JWKSHandler publishes this bank's public key set for counterpart banks.
func (h *BankHandlers) JWKSHandler(w http.ResponseWriter, r *http.Request) {
	jwks, err := h.service.PublicKeySet(r.Context())
	if err != nil {
		log.Printf("level=error component=api endpoint=jwks err=%v", err)
		h.writeError(w, http.StatusInternalServerError, "", "Unable to load key set")
		return
	}
	h.writeJSON(w, http.StatusOK, jwks)
}

type incomingTransferRequest struct {
	JWT string `json:"jwt"`
}

// IncomingTransferHandler accepts a signed transfer token from a counterpart
// bank, verifies it, and credits the receiver.
func (h *BankHandlers) IncomingTransferHandler(w http.ResponseWriter, r *http.Request) {
	if allowed, retryAfter := h.service.ConsumeB2BRateLimit(r.Context(), h.clientIP(r)); !allowed {
		w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfter))
		h.writeError(w, http.StatusTooManyRequests, "", "Too many requests")
		return
	}

	var req incomingTransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.JWT) == "" {
		h.writeError(w, http.StatusBadRequest, CodeTokenMalformed, "Request body must contain a jwt field")
		return
	}

	result, err := h.service.AcceptTransfer(r.Context(), req.JWT)
	if err != nil {
		switch {
		case errors.Is(err, token.ErrTokenMalformed):
			h.writeError(w, http.StatusBadRequest, CodeTokenMalformed, "Transfer token is malformed")
		case errors.Is(err, token.ErrTokenExpired):
			h.writeError(w, http.StatusBadRequest, CodeTokenExpired, "Transfer token has expired")
		case errors.Is(err, token.ErrInvalidSignature):
			h.writeError(w, http.StatusBadRequest, CodeInvalidSignature, "Transfer token signature is invalid")
		case errors.Is(err, app.ErrReceiverNotFound):
			h.writeError(w, http.StatusNotFound, CodeReceiverNotFound, "Receiver account does not exist in this bank")
		case errors.Is(err, app.ErrUntrustedBank):
			h.writeError(w, http.StatusForbidden, CodeUntrustedBank, "Sender bank is not a trusted participant")
		case errors.Is(err, app.ErrUnknownSigningKey):
			h.writeError(w, http.StatusBadRequest, CodeUnknownSigningKey, "No matching key in sender bank's key set")
		case errors.Is(err, app.ErrInvalidAmount):
			h.writeError(w, http.StatusBadRequest, CodeInvalidAmount, "Transfer amount must be positive")
		default:
			log.Printf("level=error component=api endpoint=b2b_transfer err=%v", err)
			h.writeError(w, http.StatusInternalServerError, "", "Unable to process transfer")
		}
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"receiverName": result.ReceiverName})
}

type submitTransferRequest struct {
	AccountFrom string `json:"accountFrom"`
	AccountTo   string `json:"accountTo"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency,omitempty"`
	Explanation string `json:"explanation"`
}

// SubmitTransferHandler handles requests from this bank's own customers to
// send money, locally or to another bank.
func (h *BankHandlers) SubmitTransferHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetSessionUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, CodeAuthRequired, "Authentication required")
		return
	}

	var req submitTransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "", "Invalid request body")
		return
	}

	if !h.authorizeAccountAccess(w, r, userID, req.AccountFrom) {
		return
	}

	transfer, err := h.service.SubmitTransfer(r.Context(), domain.TransferRequest{
		AccountFrom: req.AccountFrom,
		AccountTo:   req.AccountTo,
		Amount:      req.Amount,
		Currency:    req.Currency,
		Explanation: req.Explanation,
	})
	if err != nil {
		switch {
		case errors.Is(err, app.ErrInvalidAmount):
			h.writeError(w, http.StatusBadRequest, CodeInvalidAmount, "Transfer amount must be positive")
		case errors.Is(err, app.ErrSenderNotFound):
			h.writeError(w, http.StatusNotFound, CodeSenderNotFound, "Sender account does not exist")
		case errors.Is(err, app.ErrReceiverNotFound):
			h.writeError(w, http.StatusNotFound, CodeReceiverNotFound, "Receiver account does not exist")
		case errors.Is(err, store.ErrInsufficientFunds):
			h.writeError(w, http.StatusConflict, CodeInsufficientFunds, "Insufficient funds on sender account")
		case errors.Is(err, centralbank.ErrUnknownBank):
			h.writeError(w, http.StatusBadRequest, CodeUnknownBank, "Destination bank is not registered with the central bank")
		case errors.Is(err, centralbank.ErrDeliveryFailure):
			h.writeError(w, http.StatusBadGateway, CodeDeliveryFailure, "Destination bank did not accept the transfer")
		default:
			log.Printf("level=error component=api endpoint=submit_transfer err=%v", err)
			h.writeError(w, http.StatusInternalServerError, "", "Unable to process transfer")
		}
		return
	}

	h.writeJSON(w, http.StatusCreated, transfer)
}

// GetTransferHandler returns a single transfer by id. The authenticated user
// must own one of the involved accounts.
func (h *BankHandlers) GetTransferHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetSessionUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, CodeAuthRequired, "Authentication required")
		return
	}

	transferID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "", "Invalid transfer id")
		return
	}

	transfer, err := h.service.GetTransfer(r.Context(), transferID)
	if err != nil {
		if errors.Is(err, store.ErrTransferNotFound) {
			h.writeError(w, http.StatusNotFound, "", "Transfer not found")
			return
		}
		log.Printf("level=error component=api endpoint=get_transfer transfer_id=%s err=%v", transferID, err)
		h.writeError(w, http.StatusInternalServerError, "", "Unable to load transfer")
		return
	}
	if !h.userOwnsTransferSide(r.Context(), userID, transfer) {
		h.writeError(w, http.StatusForbidden, CodeForbidden, "Transfer does not involve the authenticated user's accounts")
		return
	}
	h.writeJSON(w, http.StatusOK, transfer)
}

// userOwnsTransferSide reports whether either side of the transfer is a local
// account owned by the user. A side held at another bank simply has no local
// account record and never matches.
func (h *BankHandlers) userOwnsTransferSide(ctx context.Context, userID uuid.UUID, transfer *domain.Transfer) bool {
	for _, number := range []string{transfer.AccountFrom, transfer.AccountTo} {
		account, err := h.service.GetAccount(ctx, number)
		if err != nil {
			continue
		}
		if account.UserID == userID {
			return true
		}
	}
	return false
}

// ListAccountTransfersHandler returns an account's transfer history, newest
// first. The account must belong to the authenticated user.
func (h *BankHandlers) ListAccountTransfersHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetSessionUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, CodeAuthRequired, "Authentication required")
		return
	}

	accountNumber := chi.URLParam(r, "accountNumber")
	if !h.authorizeAccountAccess(w, r, userID, accountNumber) {
		return
	}

	transfers, err := h.service.ListAccountTransfers(r.Context(), accountNumber)
	if err != nil {
		log.Printf("level=error component=api endpoint=account_transfers account=%s err=%v", accountNumber, err)
		h.writeError(w, http.StatusInternalServerError, "", "Unable to load transfers")
		return
	}
	h.writeJSON(w, http.StatusOK, transfers)
}

// authorizeAccountAccess verifies the account exists and belongs to the user.
func (h *BankHandlers) authorizeAccountAccess(w http.ResponseWriter, r *http.Request, userID uuid.UUID, accountNumber string) bool {
	account, err := h.service.GetAccount(r.Context(), accountNumber)
	if err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			h.writeError(w, http.StatusNotFound, CodeSenderNotFound, "Account does not exist")
			return false
		}
		log.Printf("level=error component=api msg=\"account lookup failed\" account=%s err=%v", accountNumber, err)
		h.writeError(w, http.StatusInternalServerError, "", "Unable to load account")
		return false
	}
	if account.UserID != userID {
		h.writeError(w, http.StatusForbidden, CodeForbidden, "Account does not belong to the authenticated user")
		return false
	}
	return true
}

// clientIP extracts the caller's address for rate limiting. The first
// X-Forwarded-For hop is honored only when the deployment declares a trusted
// proxy in front of the service; otherwise the socket address wins.
func (h *BankHandlers) clientIP(r *http.Request) string {
	if h.trustProxyHeader {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			parts := strings.Split(fwd, ",")
			if ip := strings.TrimSpace(parts[0]); ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// writeJSON is a helper for writing JSON responses.
func (h *BankHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func (h *BankHandlers) writeError(w http.ResponseWriter, status int, code, message string) {
	body := map[string]string{"error": message}
	if code != "" {
		body["code"] = code
	}
	h.writeJSON(w, status, body)
}
