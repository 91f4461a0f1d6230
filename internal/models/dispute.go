package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type DisputeStatus string

const (
	DisputeOpen     DisputeStatus = "open"
	DisputeResolved DisputeStatus = "resolved"
)

type Dispute struct {
	ID               string            `gorm:"type:varchar(36);primaryKey" json:"id"`
	TransactionID    string            `gorm:"type:varchar(36);not null;index" json:"transaction_id"`
	RaisedBy         string            `gorm:"type:varchar(36);not null;index" json:"raised_by"`
	Reason           string            `gorm:"type:varchar(50);not null" json:"reason"`
	Description      string            `gorm:"type:text" json:"description,omitempty"`
	EvidenceURL      string            `gorm:"type:text" json:"evidence_url,omitempty"`
	EvidencePublicID string            `gorm:"type:text" json:"evidence_public_id,omitempty"`
	EvidenceFileName string            `gorm:"type:varchar(255)" json:"evidence_file_name,omitempty"`
	Status           DisputeStatus     `gorm:"type:varchar(20);not null;default:'open';index" json:"status"`
	Outcome          TransactionStatus `gorm:"type:varchar(20)" json:"outcome,omitempty"`
	Resolution       string            `gorm:"type:text" json:"resolution,omitempty"`
	ResolvedBy       string            `gorm:"type:varchar(36)" json:"resolved_by,omitempty"`
	ResolvedAt       *time.Time        `json:"resolved_at,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

func (Dispute) TableName() string {
	return "disputes"
}

func (d *Dispute) BeforeCreate(tx *gorm.DB) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	return nil
}
