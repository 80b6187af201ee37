package domain

import (
	"time"

	"github.com/google/uuid"
)

// TransferStatusEvent is the message published when a transfer reaches a
// terminal state, for consumption by downstream notification tooling.
type TransferStatusEvent struct {
	TransferID  uuid.UUID `json:"transfer_id"`
	AccountFrom string    `json:"account_from"`
	AccountTo   string    `json:"account_to"`
	Amount      int64     `json:"amount"`
	Currency    string    `json:"currency"`
	Status      string    `json:"status"`
	Reason      string    `json:"reason,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}
