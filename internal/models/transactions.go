package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type TransactionStatus string
type PaymentMethod string

const (
	TransactionPending   TransactionStatus = "pending"
	TransactionInEscrow  TransactionStatus = "in_escrow"
	TransactionConfirmed TransactionStatus = "confirmed"
	TransactionCompleted TransactionStatus = "completed"
	TransactionRefunded  TransactionStatus = "refunded"
	TransactionDisputed  TransactionStatus = "disputed"
)

// StatusNone is the "from" side of the creation event.
const StatusNone TransactionStatus = ""

const (
	PaymentMpesa  PaymentMethod = "mpesa"
	PaymentEmis   PaymentMethod = "emis"
	PaymentUnitel PaymentMethod = "unitel"
)

// transitions lists every legal edge of the escrow lifecycle.
var transitions = map[TransactionStatus][]TransactionStatus{
	StatusNone:           {TransactionPending},
	TransactionPending:   {TransactionInEscrow},
	TransactionInEscrow:  {TransactionConfirmed, TransactionRefunded, TransactionDisputed},
	TransactionConfirmed: {TransactionCompleted, TransactionDisputed},
	TransactionDisputed:  {TransactionConfirmed, TransactionRefunded},
}

// CanTransition reports whether from -> to is an edge of the lifecycle.
func CanTransition(from, to TransactionStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no transition leaves the status.
func (s TransactionStatus) IsTerminal() bool {
	return s == TransactionCompleted || s == TransactionRefunded
}

func (s TransactionStatus) IsValid() bool {
	switch s {
	case TransactionPending, TransactionInEscrow, TransactionConfirmed,
		TransactionCompleted, TransactionRefunded, TransactionDisputed:
		return true
	}
	return false
}

func (m PaymentMethod) IsValid() bool {
	switch m {
	case PaymentMpesa, PaymentEmis, PaymentUnitel:
		return true
	}
	return false
}

// Transaction is a booking and its escrow hold. Amount is in minor currency units.
type Transaction struct {
	ID               string            `gorm:"type:varchar(36);primaryKey" json:"id"`
	BuyerID          string            `gorm:"type:varchar(36);not null;index" json:"buyer_id"`
	ProviderID       string            `gorm:"type:varchar(36);not null;index" json:"provider_id"`
	Amount           int64             `gorm:"not null" json:"amount"`
	PaymentMethod    PaymentMethod     `gorm:"type:varchar(20);not null" json:"payment_method"`
	PaymentReference string            `gorm:"type:varchar(100);uniqueIndex:idx_transactions_payment_reference,where:payment_reference <> ''" json:"payment_reference,omitempty"`
	Status           TransactionStatus `gorm:"type:varchar(20);not null;default:'pending';index:idx_transactions_status_expiry,priority:1" json:"status"`
	Version          int64             `gorm:"not null;default:1" json:"version"`
	ScheduledAt      *time.Time        `json:"scheduled_at,omitempty"`
	EscrowExpiresAt  *time.Time        `gorm:"index:idx_transactions_status_expiry,priority:2" json:"escrow_expires_at,omitempty"`
	ConfirmedAt      *time.Time        `json:"confirmed_at,omitempty"`
	RefundedAt       *time.Time        `json:"refunded_at,omitempty"`
	CompletedAt      *time.Time        `json:"completed_at,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

func (Transaction) TableName() string {
	return "transactions"
}

// BeforeCreate hook to assign the id
func (t *Transaction) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Version == 0 {
		t.Version = 1
	}
	return nil
}

// IsParty reports whether userID is the buyer or the provider.
func (t *Transaction) IsParty(userID string) bool {
	return userID != "" && (t.BuyerID == userID || t.ProviderID == userID)
}

// HasConsistentTimestamps checks that confirmation and refund are mutually exclusive.
func (t *Transaction) HasConsistentTimestamps() bool {
	return t.ConfirmedAt == nil || t.RefundedAt == nil
}

// TransactionEvent is one recorded state transition.
type TransactionEvent struct {
	ID            string            `gorm:"type:varchar(36);primaryKey" json:"id"`
	TransactionID string            `gorm:"type:varchar(36);not null;index" json:"transaction_id"`
	FromStatus    TransactionStatus `gorm:"type:varchar(20)" json:"from_status"`
	ToStatus      TransactionStatus `gorm:"type:varchar(20);not null" json:"to_status"`
	Version       int64             `gorm:"not null" json:"version"`
	ActorID       string            `gorm:"type:varchar(36)" json:"actor_id,omitempty"`
	ActorRole     string            `gorm:"type:varchar(20);not null" json:"actor_role"`
	Trigger       string            `gorm:"type:varchar(50);not null" json:"trigger"`
	CreatedAt     time.Time         `json:"created_at"`
}

func (TransactionEvent) TableName() string {
	return "transaction_events"
}

func (e *TransactionEvent) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	return nil
}
