/**
 * @description
 * This file defines the core domain models for money movement. These structs
 * represent the ledger entities and data transfer objects (DTOs) used across
 * the business logic, database, and API layers.
 *
 * @notes
 * - Amounts are stored as `int64` in euro cents (the smallest currency unit),
 *   which avoids floating-point inaccuracies with financial data.
 * - A transfer moves through pending -> processing -> {completed | failed}.
 *   `failed` and `completed` are terminal.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Transfer statuses. No transition skips `processing`; a failed transfer is
// never retried into `completed`.
const (
	TransferStatusPending    = "pending"
	TransferStatusProcessing = "processing"
	TransferStatusCompleted  = "completed"
	TransferStatusFailed     = "failed"
)

// Transfer is the central ledger record for any money movement, local or
// inter-bank. It maps directly to the `transfers` table.
type Transfer struct {
	ID           uuid.UUID `json:"id"`
	AccountFrom  string    `json:"account_from"`
	AccountTo    string    `json:"account_to"`
	Amount       int64     `json:"amount"` // in cents
	Currency     string    `json:"currency"`
	Explanation  string    `json:"explanation"`
	SenderName   string    `json:"sender_name"`
	ReceiverName *string   `json:"receiver_name,omitempty"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// TransferRequest is the DTO for an outgoing transfer submission.
type TransferRequest struct {
	AccountFrom string `json:"accountFrom"`
	AccountTo   string `json:"accountTo"`
	Amount      int64  `json:"amount"` // in cents
	Currency    string `json:"currency"`
	Explanation string `json:"explanation"`
	SenderName  string `json:"senderName"`
}

// TransferPayload carries the economic fields of a transfer on the wire
// between banks. These fields are signed into the inter-bank token and must
// never change after signing.
type TransferPayload struct {
	AccountFrom string `json:"accountFrom"`
	AccountTo   string `json:"accountTo"`
	Amount      int64  `json:"amount"` // in cents
	Currency    string `json:"currency"`
	Explanation string `json:"explanation"`
	SenderName  string `json:"senderName"`
}

// IncomingTransferResult is the acknowledgment returned to the sending bank
// after an inbound transfer has been verified and credited.
type IncomingTransferResult struct {
	ReceiverName string `json:"receiverName"`
	Status       string `json:"status"`
}
