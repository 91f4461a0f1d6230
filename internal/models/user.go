package models

import "time"

// The account tables are owned by the onboarding side of the marketplace;
// the escrow engine only reads them.

type AppRole string

const (
	RoleAdmin     AppRole = "admin"
	RoleModerator AppRole = "moderator"
	RoleUser      AppRole = "user"
)

type UserRole struct {
	ID        string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	UserID    string    `gorm:"type:varchar(36);not null;index" json:"user_id"`
	Role      AppRole   `gorm:"type:varchar(20);not null;default:'user'" json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

func (UserRole) TableName() string {
	return "user_roles"
}

type Profile struct {
	ID        string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	UserID    string    `gorm:"type:varchar(36);uniqueIndex;not null" json:"user_id"`
	FullName  string    `gorm:"not null" json:"full_name"`
	Email     string    `json:"email,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Profile) TableName() string {
	return "profiles"
}

type ProviderProfile struct {
	ID           string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	UserID       string    `gorm:"type:varchar(36);uniqueIndex;not null" json:"user_id"`
	PricePerHour int64     `json:"price_per_hour"`
	IsApproved   bool      `gorm:"default:false" json:"is_approved"`
	IsVisible    bool      `gorm:"default:false" json:"is_visible"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (ProviderProfile) TableName() string {
	return "provider_profiles"
}

// IsBookable checks if the provider can receive new bookings
func (p *ProviderProfile) IsBookable() bool {
	return p.IsApproved && p.IsVisible
}
