package repositories

import (
	"context"
	"time"

	"EscrowEngine/internal/models"
)

// PartyRole narrows a listing to one side of the booking.
type PartyRole string

const (
	PartyAny      PartyRole = ""
	PartyBuyer    PartyRole = "buyer"
	PartyProvider PartyRole = "provider"
)

type TransactionFilter struct {
	UserID string
	Role   PartyRole
	Status models.TransactionStatus
	Limit  int
	Offset int
}

// Summary aggregates a user's transactions. Amounts are minor units.
type Summary struct {
	Total           int64 `json:"total"`
	InEscrowCount   int64 `json:"in_escrow_count"`
	InEscrowAmount  int64 `json:"in_escrow_amount"`
	CompletedAmount int64 `json:"completed_amount"`
	RefundedAmount  int64 `json:"refunded_amount"`
}

type TransactionRepository interface {
	Create(ctx context.Context, t *models.Transaction) error
	FindByID(ctx context.Context, id string) (*models.Transaction, error)
	// FindForUpdate re-reads the row under a row lock where the database supports one.
	FindForUpdate(ctx context.Context, id string) (*models.Transaction, error)
	// CompareAndSwap persists t only if the stored version still equals
	// expectedVersion, and bumps t.Version on success.
	CompareAndSwap(ctx context.Context, t *models.Transaction, expectedVersion int64) (bool, error)
	// PaymentReferenceUsed reports whether another transaction already
	// holds funds against reference.
	PaymentReferenceUsed(ctx context.Context, reference, exceptID string) (bool, error)
	List(ctx context.Context, filter TransactionFilter) ([]models.Transaction, error)
	ListExpired(ctx context.Context, now time.Time, limit int) ([]models.Transaction, error)
	ListSettleable(ctx context.Context, confirmedBefore time.Time, limit int) ([]models.Transaction, error)
	AppendEvent(ctx context.Context, e *models.TransactionEvent) error
	Events(ctx context.Context, transactionID string) ([]models.TransactionEvent, error)
	Summary(ctx context.Context, userID string, role PartyRole) (*Summary, error)
}
