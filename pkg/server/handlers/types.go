package handlers

import (
	"leadlove-hq/meter/pkg/limits"
	"leadlove-hq/meter/pkg/limits/storage"
)

// AuthorizeRequest is the body of POST /v1/authorize.
type AuthorizeRequest struct {
	Principal string `json:"principal"`
	Endpoint  string `json:"endpoint"`

	// Cost in credits. When zero, Operation and Params are priced.
	Cost      int64             `json:"cost,omitempty"`
	Operation string            `json:"operation,omitempty"`
	Params    map[string]string `json:"params,omitempty"`

	// ReferenceID is the caller's correlation id, kept as usage metadata.
	// Settle takes the reference id returned in the decision.
	ReferenceID string            `json:"reference_id,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// AuthorizeResponse is the decision plus a retry hint in whole seconds.
type AuthorizeResponse struct {
	*limits.AuthDecision
	RetryAfter int64 `json:"retry_after,omitempty"`
}

// SettleRequest is the body of POST /v1/settle.
type SettleRequest struct {
	ReferenceID string         `json:"reference_id"`
	Principal   string         `json:"principal"`
	Cost        int64          `json:"cost"`
	Outcome     limits.Outcome `json:"outcome"`
}

// SettleResponse reports the final state of the operation.
type SettleResponse struct {
	ReferenceID string       `json:"reference_id"`
	State       limits.State `json:"state"`
}

// CreditEvent is a billing webhook delivery: credits purchased, refilled
// or granted as a bonus. ReferenceID identifies the billing event and makes
// redelivery a no-op.
type CreditEvent struct {
	Principal   string                  `json:"principal"`
	Amount      int64                   `json:"amount"`
	Type        storage.TransactionType `json:"type"`
	ReferenceID string                  `json:"reference_id"`
	Description string                  `json:"description,omitempty"`
}

// CreditEventResponse is the balance after the event was applied.
type CreditEventResponse struct {
	Balance   *storage.Balance `json:"balance"`
	Duplicate bool             `json:"duplicate"`
}

// TransactionsResponse lists ledger entries, newest first.
type TransactionsResponse struct {
	Principal    string                `json:"principal"`
	Transactions []storage.Transaction `json:"transactions"`
}
