package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type RefundStatus string

const (
	RefundRequested RefundStatus = "requested"
	RefundProcessed RefundStatus = "processed"
	RefundRejected  RefundStatus = "rejected"
)

// Refund rows are append-only under their transaction; only status and
// processed_at ever change.
type Refund struct {
	ID            string       `gorm:"type:varchar(36);primaryKey" json:"id"`
	TransactionID string       `gorm:"type:varchar(36);not null;index" json:"transaction_id"`
	Reason        string       `gorm:"type:text;not null" json:"reason"`
	Status        RefundStatus `gorm:"type:varchar(20);not null;default:'requested'" json:"status"`
	RequestedBy   string       `gorm:"type:varchar(36)" json:"requested_by,omitempty"`
	ProcessedAt   *time.Time   `json:"processed_at,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
}

func (Refund) TableName() string {
	return "refunds"
}

func (r *Refund) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return nil
}
