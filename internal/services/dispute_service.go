package services

import (
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"EscrowEngine/internal/apperrors"
	"EscrowEngine/internal/models"
	"EscrowEngine/internal/repositories"
)

const maxEvidenceSize = 5 * 1024 * 1024

var evidenceExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".pdf":  true,
}

type RaiseDisputeInput struct {
	Reason      string
	Description string
}

// RaiseDispute takes an in_escrow or confirmed transaction out of the
// automatic expiry and settlement paths until an administrator resolves it.
func (s *EscrowService) RaiseDispute(ctx context.Context, actor Actor, id string, in RaiseDisputeInput) (*models.Transaction, error) {
	const op = "dispute_raised"
	t, err := s.load(ctx, actor, id, CapDispute)
	if err != nil {
		return t, err
	}

	reason := strings.TrimSpace(in.Reason)
	if reason == "" {
		return s.fail(op, t, apperrors.Validation("reason is required"))
	}

	return s.apply(ctx, actor, t, transition{
		to:      models.TransactionDisputed,
		trigger: op,
		effects: func(ctx context.Context, tx repositories.Store, next *models.Transaction, now time.Time) error {
			return tx.Disputes().Create(ctx, &models.Dispute{
				TransactionID: next.ID,
				RaisedBy:      actor.UserID,
				Reason:        reason,
				Description:   strings.TrimSpace(in.Description),
				Status:        models.DisputeOpen,
				CreatedAt:     now,
				UpdatedAt:     now,
			})
		},
	})
}

// AttachDisputeEvidence uploads a file to the open dispute of a transaction,
// replacing any earlier evidence.
func (s *EscrowService) AttachDisputeEvidence(ctx context.Context, actor Actor, id string, file *multipart.FileHeader) (*models.Dispute, error) {
	const op = "dispute_evidence"
	t, err := s.load(ctx, actor, id, CapDispute)
	if err != nil {
		return nil, err
	}
	if s.evidence == nil {
		_, appErr := s.fail(op, t, apperrors.New(apperrors.CodeUnavailable, "evidence storage is not configured"))
		return nil, appErr
	}
	if err := validateEvidence(file); err != nil {
		_, appErr := s.fail(op, t, err)
		return nil, appErr
	}

	d, err := s.store.Disputes().FindOpenByTransaction(ctx, t.ID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			err = apperrors.InvalidTransition("transaction has no open dispute")
		}
		_, appErr := s.fail(op, t, err)
		return nil, appErr
	}

	uploaded, err := s.evidence.Upload(ctx, file, "escrow/disputes")
	if err != nil {
		_, appErr := s.fail(op, t, apperrors.Wrap(apperrors.CodeUnavailable, "failed to upload evidence", err))
		return nil, appErr
	}

	previous := d.EvidencePublicID
	d.EvidenceURL = uploaded.SecureURL
	d.EvidencePublicID = uploaded.PublicID
	d.EvidenceFileName = file.Filename
	d.UpdatedAt = s.now()
	if err := s.store.Disputes().Save(ctx, d); err != nil {
		_, appErr := s.fail(op, t, err)
		return nil, appErr
	}

	if previous != "" {
		if err := s.evidence.Delete(ctx, previous); err != nil {
			s.log.WithField("public_id", previous).WithError(err).Warn("Failed to delete replaced evidence")
		}
	}
	return d, nil
}

func validateEvidence(file *multipart.FileHeader) error {
	if file == nil {
		return apperrors.Validation("evidence file is required")
	}
	if file.Size > maxEvidenceSize {
		return apperrors.Validation("file size exceeds 5MB limit")
	}
	if !evidenceExtensions[strings.ToLower(filepath.Ext(file.Filename))] {
		return apperrors.Validation("only jpg, jpeg, png and pdf files are allowed")
	}
	return nil
}

type ResolveDisputeInput struct {
	Outcome    models.TransactionStatus
	Resolution string
}

// ResolveDispute closes an open dispute by driving its transaction to
// confirmed or refunded.
func (s *EscrowService) ResolveDispute(ctx context.Context, actor Actor, disputeID string, in ResolveDisputeInput) (*models.Transaction, error) {
	const op = "dispute_resolved"
	d, err := s.store.Disputes().FindByID(ctx, disputeID)
	if err != nil {
		return s.fail(op, nil, err)
	}
	t, err := s.store.Transactions().FindByID(ctx, d.TransactionID)
	if err != nil {
		return s.fail(op, nil, err)
	}
	if err := s.gate.Authorize(actor, CapResolveDispute, t); err != nil {
		if apperrors.CodeOf(err) == apperrors.CodeNotFound {
			return s.fail(op, nil, err)
		}
		return s.fail(op, t, err)
	}

	if in.Outcome != models.TransactionConfirmed && in.Outcome != models.TransactionRefunded {
		return s.fail(op, t, apperrors.Validation("outcome must be confirmed or refunded"))
	}
	if d.Status != models.DisputeOpen {
		return s.fail(op, t, apperrors.InvalidTransition("dispute is already resolved"))
	}

	resolution := strings.TrimSpace(in.Resolution)
	if resolution == "" {
		resolution = fmt.Sprintf("resolved as %s", in.Outcome)
	}

	resolved, err := s.apply(ctx, actor, t, transition{
		to:      in.Outcome,
		trigger: op,
		guard: func(cur *models.Transaction, _ time.Time) error {
			if cur.Status != models.TransactionDisputed {
				return apperrors.InvalidTransition(fmt.Sprintf("cannot resolve a dispute on a %s transaction", cur.Status))
			}
			return nil
		},
		effects: func(ctx context.Context, tx repositories.Store, next *models.Transaction, now time.Time) error {
			if err := closeOpenDispute(ctx, tx, next.ID, in.Outcome, resolution, actor.UserID, now); err != nil {
				return err
			}
			if in.Outcome == models.TransactionConfirmed {
				_, err := tx.Refunds().RejectRequested(ctx, next.ID, "", now)
				return err
			}
			return settleRequestedRefund(ctx, tx, next.ID, resolution, actor.UserID, now)
		},
	})
	if err != nil {
		return resolved, err
	}

	s.log.WithFields(logrus.Fields{
		"dispute_id":     d.ID,
		"transaction_id": resolved.ID,
		"outcome":        in.Outcome,
	}).Info("Dispute resolved")

	if in.Outcome == models.TransactionConfirmed && s.settlementDelay == 0 {
		return s.settleNow(ctx, resolved), nil
	}
	return resolved, nil
}

// settleRequestedRefund processes the oldest requested refund, or records a
// new processed one when none was requested.
func settleRequestedRefund(ctx context.Context, tx repositories.Store, transactionID, reason, resolvedBy string, now time.Time) error {
	requested, err := tx.Refunds().FindRequested(ctx, transactionID)
	if errors.Is(err, repositories.ErrNotFound) {
		return recordProcessedRefund(ctx, tx, transactionID, reason, resolvedBy, now)
	}
	if err != nil {
		return err
	}
	if _, err := tx.Refunds().Settle(ctx, requested.ID, models.RefundProcessed, now); err != nil {
		return err
	}
	_, err = tx.Refunds().RejectRequested(ctx, transactionID, requested.ID, now)
	return err
}

// ListDisputes is the moderation queue.
func (s *EscrowService) ListDisputes(ctx context.Context, actor Actor, status models.DisputeStatus, limit, offset int) ([]models.Dispute, error) {
	if !actor.IsStaff() {
		_, err := s.fail("list_disputes", nil, apperrors.Unauthorized("only an administrator may do this"))
		return nil, err
	}
	disputes, err := s.store.Disputes().List(ctx, status, limit, offset)
	if err != nil {
		_, appErr := s.fail("list_disputes", nil, err)
		return nil, appErr
	}
	return disputes, nil
}
