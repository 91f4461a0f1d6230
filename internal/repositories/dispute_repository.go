package repositories

import (
	"context"

	"gorm.io/gorm"

	"EscrowEngine/internal/models"
)

type DisputeRepository interface {
	Create(ctx context.Context, d *models.Dispute) error
	FindByID(ctx context.Context, id string) (*models.Dispute, error)
	FindOpenByTransaction(ctx context.Context, transactionID string) (*models.Dispute, error)
	Save(ctx context.Context, d *models.Dispute) error
	List(ctx context.Context, status models.DisputeStatus, limit, offset int) ([]models.Dispute, error)
}

type disputeRepository struct {
	db *gorm.DB
}

func (r *disputeRepository) Create(ctx context.Context, d *models.Dispute) error {
	return r.db.WithContext(ctx).Create(d).Error
}

func (r *disputeRepository) FindByID(ctx context.Context, id string) (*models.Dispute, error) {
	var d models.Dispute
	if err := r.db.WithContext(ctx).First(&d, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &d, nil
}

func (r *disputeRepository) FindOpenByTransaction(ctx context.Context, transactionID string) (*models.Dispute, error) {
	var d models.Dispute
	err := r.db.WithContext(ctx).
		Where("transaction_id = ? AND status = ?", transactionID, models.DisputeOpen).
		Order("created_at DESC").
		First(&d).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &d, nil
}

func (r *disputeRepository) Save(ctx context.Context, d *models.Dispute) error {
	return r.db.WithContext(ctx).Save(d).Error
}

func (r *disputeRepository) List(ctx context.Context, status models.DisputeStatus, limit, offset int) ([]models.Dispute, error) {
	query := r.db.WithContext(ctx).Model(&models.Dispute{})
	if status != "" {
		query = query.Where("status = ?", status)
	}

	var disputes []models.Dispute
	err := page(query, limit, offset).Order("created_at DESC").Find(&disputes).Error
	return disputes, err
}
