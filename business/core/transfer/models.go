package transfer

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Status represents the settlement state of a transfer. The constant names
// are the wire encoding shared by the store and the cache.
type Status string

// Set of statuses a transfer can be in.
const (
	StatusPending    Status = "PENDING"
	StatusSuccessful Status = "SUCCESSFUL"
	StatusFailed     Status = "FAILED"
)

// ParseStatus converts a wire value into a Status.
func ParseStatus(value string) (Status, error) {
	switch Status(value) {
	case StatusPending, StatusSuccessful, StatusFailed:
		return Status(value), nil
	}

	return "", fmt.Errorf("invalid status %q", value)
}

// Terminal reports whether the status will never change again.
func (s Status) Terminal() bool {
	return s == StatusSuccessful || s == StatusFailed
}

// =============================================================================

// Account represents an internal customer account. The available balance is
// debited the moment a transfer is submitted; the current balance only moves
// once the chain reports the transfer final.
type Account struct {
	ID               uuid.UUID
	AvailableBalance decimal.Decimal
	CurrentBalance   decimal.Decimal
}

// Transfer represents a single value transfer submitted to the chain. The
// hash is predicted from the signed payload before broadcast. A transfer is
// never deleted; the only mutation after creation is the single transition
// out of PENDING.
type Transfer struct {
	ID          uuid.UUID
	AccountID   uuid.UUID
	Hash        string
	FromAddress string
	ToAddress   string
	Amount      decimal.Decimal
	FeeTotal    decimal.Decimal
	FeeLedger   decimal.Decimal
	Status      Status
}

// NewTransfer contains the information needed to submit a transfer.
type NewTransfer struct {
	AccountID uuid.UUID
	ToAddress string
	Amount    decimal.Decimal
}
