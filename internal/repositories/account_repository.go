package repositories

import (
	"context"

	"gorm.io/gorm"

	"EscrowEngine/internal/models"
)

// AccountRepository reads the account directory. The escrow engine never writes it.
type AccountRepository interface {
	Roles(ctx context.Context, userID string) ([]models.AppRole, error)
	ProviderProfile(ctx context.Context, userID string) (*models.ProviderProfile, error)
	Profile(ctx context.Context, userID string) (*models.Profile, error)
}

type accountRepository struct {
	db *gorm.DB
}

func (r *accountRepository) Roles(ctx context.Context, userID string) ([]models.AppRole, error) {
	var roles []models.AppRole
	err := r.db.WithContext(ctx).
		Model(&models.UserRole{}).
		Where("user_id = ?", userID).
		Pluck("role", &roles).Error
	return roles, err
}

func (r *accountRepository) ProviderProfile(ctx context.Context, userID string) (*models.ProviderProfile, error) {
	var p models.ProviderProfile
	if err := r.db.WithContext(ctx).First(&p, "user_id = ?", userID).Error; err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func (r *accountRepository) Profile(ctx context.Context, userID string) (*models.Profile, error) {
	var p models.Profile
	if err := r.db.WithContext(ctx).First(&p, "user_id = ?", userID).Error; err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}
