package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"EscrowEngine/internal/apperrors"
	"EscrowEngine/internal/models"
	"EscrowEngine/internal/repositories"
)

// RequestRefund records a refund request. What happens next depends on where
// the transaction is:
//   - in_escrow: refunded at once with a single processed refund
//   - confirmed: an administrator reopens it as a dispute with a pending refund
//   - disputed: the request joins the dispute for the resolver to decide
func (s *EscrowService) RequestRefund(ctx context.Context, actor Actor, id, reason string) (*models.Transaction, error) {
	const op = "refund_requested"
	t, err := s.load(ctx, actor, id, CapRequestRefund)
	if err != nil {
		return t, err
	}

	reason = strings.TrimSpace(reason)
	if reason == "" {
		return s.fail(op, t, apperrors.Validation("reason is required"))
	}

	switch t.Status {
	case models.TransactionInEscrow:
		return s.apply(ctx, actor, t, transition{
			to:      models.TransactionRefunded,
			trigger: op,
			effects: func(ctx context.Context, tx repositories.Store, next *models.Transaction, now time.Time) error {
				return recordProcessedRefund(ctx, tx, next.ID, reason, actor.UserID, now)
			},
		})

	case models.TransactionConfirmed:
		return s.apply(ctx, actor, t, transition{
			to:      models.TransactionDisputed,
			trigger: op,
			effects: func(ctx context.Context, tx repositories.Store, next *models.Transaction, now time.Time) error {
				if err := tx.Refunds().Create(ctx, &models.Refund{
					TransactionID: next.ID,
					Reason:        reason,
					Status:        models.RefundRequested,
					RequestedBy:   actor.UserID,
					CreatedAt:     now,
				}); err != nil {
					return err
				}
				return tx.Disputes().Create(ctx, &models.Dispute{
					TransactionID: next.ID,
					RaisedBy:      actor.UserID,
					Reason:        "refund_requested",
					Description:   reason,
					Status:        models.DisputeOpen,
					CreatedAt:     now,
					UpdatedAt:     now,
				})
			},
		})

	case models.TransactionDisputed:
		return s.appendRefundRequest(ctx, actor, t, reason)

	default:
		return s.fail(op, t, apperrors.InvalidTransition(fmt.Sprintf("cannot request a refund for a %s transaction", t.Status)))
	}
}

// appendRefundRequest adds a requested refund to a disputed transaction
// without changing its state.
func (s *EscrowService) appendRefundRequest(ctx context.Context, actor Actor, snapshot *models.Transaction, reason string) (*models.Transaction, error) {
	const op = "refund_requested"
	now := s.now()
	current := snapshot

	err := s.store.WithinTx(ctx, func(tx repositories.Store) error {
		latest, err := tx.Transactions().FindForUpdate(ctx, snapshot.ID)
		if err != nil {
			return err
		}
		current = latest
		if latest.Version != snapshot.Version {
			return apperrors.StaleState(fmt.Sprintf("transaction changed concurrently and is now %s", latest.Status))
		}
		return tx.Refunds().Create(ctx, &models.Refund{
			TransactionID: latest.ID,
			Reason:        reason,
			Status:        models.RefundRequested,
			RequestedBy:   actor.UserID,
			CreatedAt:     now,
		})
	})
	if err != nil {
		return s.fail(op, current, err)
	}

	s.log.WithField("transaction_id", current.ID).Info("Refund requested on disputed transaction")
	return current, nil
}

// ProcessRefund decides a requested refund. A processed refund drives the
// transaction to refunded; a rejected one leaves it where it is.
func (s *EscrowService) ProcessRefund(ctx context.Context, actor Actor, refundID string, outcome models.RefundStatus) (*models.Transaction, error) {
	const op = "refund_processed"
	refund, err := s.store.Refunds().FindByID(ctx, refundID)
	if err != nil {
		return s.fail(op, nil, err)
	}
	t, err := s.store.Transactions().FindByID(ctx, refund.TransactionID)
	if err != nil {
		return s.fail(op, nil, err)
	}
	if err := s.gate.Authorize(actor, CapProcessRefund, t); err != nil {
		if apperrors.CodeOf(err) == apperrors.CodeNotFound {
			return s.fail(op, nil, err)
		}
		return s.fail(op, t, err)
	}

	if outcome != models.RefundProcessed && outcome != models.RefundRejected {
		return s.fail(op, t, apperrors.Validation("outcome must be processed or rejected"))
	}
	if refund.Status != models.RefundRequested {
		return s.fail(op, t, apperrors.InvalidTransition(fmt.Sprintf("refund is already %s", refund.Status)))
	}

	if outcome == models.RefundRejected {
		return s.rejectRefund(ctx, t, refund)
	}

	return s.apply(ctx, actor, t, transition{
		to:      models.TransactionRefunded,
		trigger: op,
		effects: func(ctx context.Context, tx repositories.Store, next *models.Transaction, now time.Time) error {
			settled, err := tx.Refunds().Settle(ctx, refund.ID, models.RefundProcessed, now)
			if err != nil {
				return err
			}
			if !settled {
				return apperrors.StaleState("refund was decided concurrently")
			}
			if _, err := tx.Refunds().RejectRequested(ctx, next.ID, refund.ID, now); err != nil {
				return err
			}
			return closeOpenDispute(ctx, tx, next.ID, models.TransactionRefunded, "refund processed", actor.UserID, now)
		},
	})
}

func (s *EscrowService) rejectRefund(ctx context.Context, t *models.Transaction, refund *models.Refund) (*models.Transaction, error) {
	const op = "refund_rejected"
	settled, err := s.store.Refunds().Settle(ctx, refund.ID, models.RefundRejected, s.now())
	if err != nil {
		return s.fail(op, t, err)
	}
	if !settled {
		return s.fail(op, t, apperrors.StaleState("refund was decided concurrently"))
	}

	s.log.WithFields(logrus.Fields{
		"transaction_id": t.ID,
		"refund_id":      refund.ID,
	}).Info("Refund rejected")
	return t, nil
}

// Refunds lists the refund ledger of a transaction.
func (s *EscrowService) Refunds(ctx context.Context, actor Actor, id string) ([]models.Refund, error) {
	if _, err := s.load(ctx, actor, id, CapView); err != nil {
		return nil, err
	}
	refunds, err := s.store.Refunds().ListByTransaction(ctx, id)
	if err != nil {
		_, appErr := s.fail("list_refunds", nil, err)
		return nil, appErr
	}
	return refunds, nil
}

// closeOpenDispute resolves the open dispute, if any, with outcome.
func closeOpenDispute(ctx context.Context, tx repositories.Store, transactionID string, outcome models.TransactionStatus, resolution, resolvedBy string, now time.Time) error {
	d, err := tx.Disputes().FindOpenByTransaction(ctx, transactionID)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	at := now
	d.Status = models.DisputeResolved
	d.Outcome = outcome
	d.Resolution = resolution
	d.ResolvedBy = resolvedBy
	d.ResolvedAt = &at
	d.UpdatedAt = now
	return tx.Disputes().Save(ctx, d)
}
