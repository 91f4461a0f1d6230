package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type NotificationType string

const (
	NotificationBookingCreated   NotificationType = "booking_created"
	NotificationEscrowHeld       NotificationType = "escrow_held"
	NotificationMeetingConfirmed NotificationType = "meeting_confirmed"
	NotificationFundsReleased    NotificationType = "funds_released"
	NotificationRefunded         NotificationType = "refunded"
	NotificationDisputeRaised    NotificationType = "dispute_raised"
	NotificationDisputeResolved  NotificationType = "dispute_resolved"
)

type Notification struct {
	ID        string           `json:"id" gorm:"type:varchar(36);primaryKey"`
	UserID    string           `json:"user_id" gorm:"type:varchar(36);not null;index"`
	Type      NotificationType `json:"type" gorm:"type:varchar(50);not null"`
	Title     string           `json:"title" gorm:"type:varchar(255);not null"`
	Message   string           `json:"message" gorm:"type:text;not null"`
	IsRead    bool             `json:"is_read" gorm:"default:false;index"`
	Data      string           `json:"data" gorm:"type:text"`
	CreatedAt time.Time        `json:"created_at"`
	ReadAt    *time.Time       `json:"read_at"`
}

func (Notification) TableName() string {
	return "notifications"
}

// BeforeCreate hook
func (n *Notification) BeforeCreate(tx *gorm.DB) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	return nil
}
