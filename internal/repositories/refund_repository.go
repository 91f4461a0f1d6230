package repositories

import (
	"context"
	"time"

	"gorm.io/gorm"

	"EscrowEngine/internal/models"
)

type RefundRepository interface {
	Create(ctx context.Context, r *models.Refund) error
	FindByID(ctx context.Context, id string) (*models.Refund, error)
	// FindRequested returns the oldest refund still awaiting a decision.
	FindRequested(ctx context.Context, transactionID string) (*models.Refund, error)
	ListByTransaction(ctx context.Context, transactionID string) ([]models.Refund, error)
	// Settle moves a requested refund to status. It reports false when the
	// refund was no longer requested.
	Settle(ctx context.Context, id string, status models.RefundStatus, at time.Time) (bool, error)
	RejectRequested(ctx context.Context, transactionID, exceptID string, at time.Time) (int64, error)
}

type refundRepository struct {
	db *gorm.DB
}

func (r *refundRepository) Create(ctx context.Context, refund *models.Refund) error {
	return r.db.WithContext(ctx).Create(refund).Error
}

func (r *refundRepository) FindByID(ctx context.Context, id string) (*models.Refund, error) {
	var refund models.Refund
	if err := r.db.WithContext(ctx).First(&refund, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &refund, nil
}

func (r *refundRepository) FindRequested(ctx context.Context, transactionID string) (*models.Refund, error) {
	var refund models.Refund
	err := r.db.WithContext(ctx).
		Where("transaction_id = ? AND status = ?", transactionID, models.RefundRequested).
		Order("created_at ASC").
		First(&refund).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &refund, nil
}

func (r *refundRepository) ListByTransaction(ctx context.Context, transactionID string) ([]models.Refund, error) {
	var refunds []models.Refund
	err := r.db.WithContext(ctx).
		Where("transaction_id = ?", transactionID).
		Order("created_at ASC").
		Find(&refunds).Error
	return refunds, err
}

func (r *refundRepository) Settle(ctx context.Context, id string, status models.RefundStatus, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Refund{}).
		Where("id = ? AND status = ?", id, models.RefundRequested).
		Updates(map[string]interface{}{
			"status":       status,
			"processed_at": at,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *refundRepository) RejectRequested(ctx context.Context, transactionID, exceptID string, at time.Time) (int64, error) {
	query := r.db.WithContext(ctx).
		Model(&models.Refund{}).
		Where("transaction_id = ? AND status = ?", transactionID, models.RefundRequested)
	if exceptID != "" {
		query = query.Where("id <> ?", exceptID)
	}
	res := query.Updates(map[string]interface{}{
		"status":       models.RefundRejected,
		"processed_at": at,
	})
	return res.RowsAffected, res.Error
}
