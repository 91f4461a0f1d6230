package repositories

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("record not found")

// Store groups the repositories that must commit together.
type Store interface {
	Transactions() TransactionRepository
	Refunds() RefundRepository
	Disputes() DisputeRepository
	Accounts() AccountRepository
	Notifications() NotificationRepository

	// WithinTx runs fn against a Store bound to one database transaction.
	// fn must only use the Store it is given.
	WithinTx(ctx context.Context, fn func(Store) error) error
}

type gormStore struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) Transactions() TransactionRepository {
	return &transactionRepository{db: s.db}
}

func (s *gormStore) Refunds() RefundRepository {
	return &refundRepository{db: s.db}
}

func (s *gormStore) Disputes() DisputeRepository {
	return &disputeRepository{db: s.db}
}

func (s *gormStore) Accounts() AccountRepository {
	return &accountRepository{db: s.db}
}

func (s *gormStore) Notifications() NotificationRepository {
	return &notificationRepository{db: s.db}
}

func (s *gormStore) WithinTx(ctx context.Context, fn func(Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormStore{db: tx})
	})
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

func page(db *gorm.DB, limit, offset int) *gorm.DB {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return db.Limit(limit).Offset(offset)
}
