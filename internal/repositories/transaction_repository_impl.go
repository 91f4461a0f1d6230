package repositories

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"EscrowEngine/internal/models"
)

type transactionRepository struct {
	db *gorm.DB
}

func (r *transactionRepository) Create(ctx context.Context, t *models.Transaction) error {
	return r.db.WithContext(ctx).Create(t).Error
}

func (r *transactionRepository) FindByID(ctx context.Context, id string) (*models.Transaction, error) {
	var t models.Transaction
	if err := r.db.WithContext(ctx).First(&t, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &t, nil
}

func (r *transactionRepository) FindForUpdate(ctx context.Context, id string) (*models.Transaction, error) {
	var t models.Transaction
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&t, "id = ?", id).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &t, nil
}

func (r *transactionRepository) CompareAndSwap(ctx context.Context, t *models.Transaction, expectedVersion int64) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Transaction{}).
		Where("id = ? AND version = ?", t.ID, expectedVersion).
		Updates(map[string]interface{}{
			"status":            t.Status,
			"version":           expectedVersion + 1,
			"payment_reference": t.PaymentReference,
			"escrow_expires_at": t.EscrowExpiresAt,
			"confirmed_at":      t.ConfirmedAt,
			"refunded_at":       t.RefundedAt,
			"completed_at":      t.CompletedAt,
			"updated_at":        t.UpdatedAt,
		})
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	t.Version = expectedVersion + 1
	return true, nil
}

func (r *transactionRepository) PaymentReferenceUsed(ctx context.Context, reference, exceptID string) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).
		Model(&models.Transaction{}).
		Where("payment_reference = ? AND id <> ?", reference, exceptID).
		Count(&n).Error
	return n > 0, err
}

func (r *transactionRepository) List(ctx context.Context, filter TransactionFilter) ([]models.Transaction, error) {
	query := r.db.WithContext(ctx).Model(&models.Transaction{})
	if filter.UserID != "" {
		query = scopeParty(query, filter.UserID, filter.Role)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}

	var txs []models.Transaction
	err := page(query, filter.Limit, filter.Offset).
		Order("created_at DESC").
		Find(&txs).Error
	return txs, err
}

func (r *transactionRepository) ListExpired(ctx context.Context, now time.Time, limit int) ([]models.Transaction, error) {
	var txs []models.Transaction
	err := r.db.WithContext(ctx).
		Where("status = ? AND escrow_expires_at <= ?", models.TransactionInEscrow, now).
		Order("escrow_expires_at ASC").
		Limit(limit).
		Find(&txs).Error
	return txs, err
}

func (r *transactionRepository) ListSettleable(ctx context.Context, confirmedBefore time.Time, limit int) ([]models.Transaction, error) {
	var txs []models.Transaction
	err := r.db.WithContext(ctx).
		Where("status = ? AND confirmed_at <= ?", models.TransactionConfirmed, confirmedBefore).
		Order("confirmed_at ASC").
		Limit(limit).
		Find(&txs).Error
	return txs, err
}

func (r *transactionRepository) AppendEvent(ctx context.Context, e *models.TransactionEvent) error {
	return r.db.WithContext(ctx).Create(e).Error
}

func (r *transactionRepository) Events(ctx context.Context, transactionID string) ([]models.TransactionEvent, error) {
	var events []models.TransactionEvent
	err := r.db.WithContext(ctx).
		Where("transaction_id = ?", transactionID).
		Order("version ASC").
		Find(&events).Error
	return events, err
}

func (r *transactionRepository) Summary(ctx context.Context, userID string, role PartyRole) (*Summary, error) {
	base := func() *gorm.DB {
		return scopeParty(r.db.WithContext(ctx).Model(&models.Transaction{}), userID, role)
	}

	var s Summary
	if err := base().Count(&s.Total).Error; err != nil {
		return nil, err
	}
	if err := base().Where("status = ?", models.TransactionInEscrow).Count(&s.InEscrowCount).Error; err != nil {
		return nil, err
	}

	sums := []struct {
		status models.TransactionStatus
		dest   *int64
	}{
		{models.TransactionInEscrow, &s.InEscrowAmount},
		{models.TransactionCompleted, &s.CompletedAmount},
		{models.TransactionRefunded, &s.RefundedAmount},
	}
	for _, sum := range sums {
		err := base().
			Where("status = ?", sum.status).
			Select("COALESCE(SUM(amount), 0)").
			Scan(sum.dest).Error
		if err != nil {
			return nil, err
		}
	}
	return &s, nil
}

func scopeParty(db *gorm.DB, userID string, role PartyRole) *gorm.DB {
	switch role {
	case PartyBuyer:
		return db.Where("buyer_id = ?", userID)
	case PartyProvider:
		return db.Where("provider_id = ?", userID)
	default:
		return db.Where("(buyer_id = ? OR provider_id = ?)", userID, userID)
	}
}
