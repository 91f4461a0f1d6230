package services

import (
	"context"
	"mime/multipart"
	"testing"
	"time"

	"EscrowEngine/internal/apperrors"
	"EscrowEngine/internal/models"
)

func TestBuyerRefundBeforeConfirmation(t *testing.T) {
	f := newFixture(t, EscrowConfig{})
	ctx := context.Background()
	tx := f.bookInEscrow(t)

	_, err := f.svc.RequestRefund(ctx, buyer, tx.ID, "  ")
	expectCode(t, err, apperrors.CodeValidation)

	got, err := f.svc.RequestRefund(ctx, buyer, tx.ID, "provider cancelled")
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if got.Status != models.TransactionRefunded || got.RefundedAt == nil || got.ConfirmedAt != nil {
		t.Fatalf("unexpected transaction %+v", got)
	}

	refunds := f.refunds(t, tx.ID)
	if len(refunds) != 1 || refunds[0].Status != models.RefundProcessed || refunds[0].RequestedBy != buyer.UserID {
		t.Fatalf("unexpected refunds %+v", refunds)
	}
}

func TestRefundOnPendingIsInvalid(t *testing.T) {
	f := newFixture(t, EscrowConfig{})
	tx := f.book(t)

	got, err := f.svc.RequestRefund(context.Background(), buyer, tx.ID, "too early")
	expectCode(t, err, apperrors.CodeInvalidTransition)
	if got.Status != models.TransactionPending {
		t.Fatalf("expected pending, got %s", got.Status)
	}
	if refunds := f.refunds(t, tx.ID); len(refunds) != 0 {
		t.Fatalf("expected no refund rows, got %d", len(refunds))
	}
}

func TestRefundAfterConfirmationGoesThroughDispute(t *testing.T) {
	f := newFixture(t, EscrowConfig{SettlementDelay: time.Hour})
	ctx := context.Background()

	tx := f.bookInEscrow(t)
	if _, err := f.svc.Confirm(ctx, provider, tx.ID); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	_, err := f.svc.RequestRefund(ctx, buyer, tx.ID, "meeting never happened")
	expectCode(t, err, apperrors.CodeUnauthorized)

	got, err := f.svc.RequestRefund(ctx, admin, tx.ID, "meeting never happened")
	if err != nil {
		t.Fatalf("admin refund: %v", err)
	}
	if got.Status != models.TransactionDisputed {
		t.Fatalf("expected disputed, got %s", got.Status)
	}

	refunds := f.refunds(t, tx.ID)
	if len(refunds) != 1 || refunds[0].Status != models.RefundRequested {
		t.Fatalf("expected one requested refund, got %+v", refunds)
	}
	dispute, err := f.store.Disputes().FindOpenByTransaction(ctx, tx.ID)
	if err != nil || dispute.Reason != "refund_requested" {
		t.Fatalf("expected open refund dispute, got %+v err=%v", dispute, err)
	}

	_, err = f.svc.ProcessRefund(ctx, buyer, refunds[0].ID, models.RefundProcessed)
	expectCode(t, err, apperrors.CodeUnauthorized)

	got, err = f.svc.ProcessRefund(ctx, admin, refunds[0].ID, models.RefundProcessed)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if got.Status != models.TransactionRefunded || got.ConfirmedAt != nil || got.RefundedAt == nil {
		t.Fatalf("unexpected transaction %+v", got)
	}

	refunds = f.refunds(t, tx.ID)
	if refunds[0].Status != models.RefundProcessed || refunds[0].ProcessedAt == nil {
		t.Fatalf("expected refund processed, got %+v", refunds[0])
	}
	resolved, err := f.store.Disputes().FindByID(ctx, dispute.ID)
	if err != nil || resolved.Status != models.DisputeResolved || resolved.Outcome != models.TransactionRefunded {
		t.Fatalf("expected dispute closed as refunded, got %+v", resolved)
	}

	_, err = f.svc.ProcessRefund(ctx, admin, refunds[0].ID, models.RefundProcessed)
	expectCode(t, err, apperrors.CodeInvalidTransition)
	f.assertConsistent(t)
}

func TestRejectRefundLeavesTransactionDisputed(t *testing.T) {
	f := newFixture(t, EscrowConfig{})
	ctx := context.Background()

	tx := f.bookInEscrow(t)
	if _, err := f.svc.RaiseDispute(ctx, buyer, tx.ID, RaiseDisputeInput{Reason: "late"}); err != nil {
		t.Fatalf("dispute: %v", err)
	}
	if _, err := f.svc.RequestRefund(ctx, buyer, tx.ID, "provider was late"); err != nil {
		t.Fatalf("refund request: %v", err)
	}
	refunds := f.refunds(t, tx.ID)
	if len(refunds) != 1 {
		t.Fatalf("expected one refund request, got %d", len(refunds))
	}

	_, err := f.svc.ProcessRefund(ctx, admin, refunds[0].ID, "maybe")
	expectCode(t, err, apperrors.CodeValidation)

	got, err := f.svc.ProcessRefund(ctx, admin, refunds[0].ID, models.RefundRejected)
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if got.Status != models.TransactionDisputed {
		t.Fatalf("expected still disputed, got %s", got.Status)
	}
	if r := f.refunds(t, tx.ID)[0]; r.Status != models.RefundRejected {
		t.Fatalf("expected rejected refund, got %s", r.Status)
	}
}

func TestResolveDisputeInBuyersFavour(t *testing.T) {
	f := newFixture(t, EscrowConfig{})
	ctx := context.Background()

	tx := f.bookInEscrow(t)
	if _, err := f.svc.RaiseDispute(ctx, buyer, tx.ID, RaiseDisputeInput{Reason: "no_show", Description: "nobody came"}); err != nil {
		t.Fatalf("dispute: %v", err)
	}
	for _, reason := range []string{"first", "second"} {
		if _, err := f.svc.RequestRefund(ctx, buyer, tx.ID, reason); err != nil {
			t.Fatalf("refund request: %v", err)
		}
	}
	dispute, err := f.store.Disputes().FindOpenByTransaction(ctx, tx.ID)
	if err != nil {
		t.Fatalf("find dispute: %v", err)
	}

	_, err = f.svc.ResolveDispute(ctx, buyer, dispute.ID, ResolveDisputeInput{Outcome: models.TransactionRefunded})
	expectCode(t, err, apperrors.CodeUnauthorized)
	_, err = f.svc.ResolveDispute(ctx, intruder, dispute.ID, ResolveDisputeInput{Outcome: models.TransactionRefunded})
	expectCode(t, err, apperrors.CodeNotFound)
	_, err = f.svc.ResolveDispute(ctx, admin, dispute.ID, ResolveDisputeInput{Outcome: models.TransactionCompleted})
	expectCode(t, err, apperrors.CodeValidation)

	got, err := f.svc.ResolveDispute(ctx, admin, dispute.ID, ResolveDisputeInput{Outcome: models.TransactionRefunded, Resolution: "provider absent"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got.Status != models.TransactionRefunded {
		t.Fatalf("expected refunded, got %s", got.Status)
	}

	processed := 0
	for _, r := range f.refunds(t, tx.ID) {
		switch r.Status {
		case models.RefundProcessed:
			processed++
		case models.RefundRequested:
			t.Fatalf("expected no refund left requested, got %+v", r)
		}
	}
	if processed != 1 {
		t.Fatalf("expected exactly one processed refund, got %d", processed)
	}

	_, err = f.svc.ResolveDispute(ctx, admin, dispute.ID, ResolveDisputeInput{Outcome: models.TransactionConfirmed})
	expectCode(t, err, apperrors.CodeInvalidTransition)
}

func TestResolveDisputeInProvidersFavourSettles(t *testing.T) {
	f := newFixture(t, EscrowConfig{})
	ctx := context.Background()

	tx := f.bookInEscrow(t)
	if _, err := f.svc.RaiseDispute(ctx, buyer, tx.ID, RaiseDisputeInput{Reason: "quality"}); err != nil {
		t.Fatalf("dispute: %v", err)
	}
	if _, err := f.svc.RequestRefund(ctx, buyer, tx.ID, "bad session"); err != nil {
		t.Fatalf("refund request: %v", err)
	}
	dispute, err := f.store.Disputes().FindOpenByTransaction(ctx, tx.ID)
	if err != nil {
		t.Fatalf("find dispute: %v", err)
	}

	got, err := f.svc.ResolveDispute(ctx, admin, dispute.ID, ResolveDisputeInput{Outcome: models.TransactionConfirmed})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got.Status != models.TransactionCompleted || got.ConfirmedAt == nil {
		t.Fatalf("expected completed, got %+v", got)
	}
	if r := f.refunds(t, tx.ID)[0]; r.Status != models.RefundRejected {
		t.Fatalf("expected refund rejected, got %s", r.Status)
	}
	f.assertConsistent(t)
}

func TestRaiseDisputeRules(t *testing.T) {
	f := newFixture(t, EscrowConfig{})
	ctx := context.Background()

	pending := f.book(t)
	_, err := f.svc.RaiseDispute(ctx, buyer, pending.ID, RaiseDisputeInput{Reason: "early"})
	expectCode(t, err, apperrors.CodeInvalidTransition)

	tx := f.bookInEscrow(t)
	_, err = f.svc.RaiseDispute(ctx, buyer, tx.ID, RaiseDisputeInput{})
	expectCode(t, err, apperrors.CodeValidation)
	_, err = f.svc.RaiseDispute(ctx, intruder, tx.ID, RaiseDisputeInput{Reason: "nosy"})
	expectCode(t, err, apperrors.CodeNotFound)

	if _, err := f.svc.RaiseDispute(ctx, provider, tx.ID, RaiseDisputeInput{Reason: "client_absent"}); err != nil {
		t.Fatalf("dispute: %v", err)
	}
	_, err = f.svc.RaiseDispute(ctx, buyer, tx.ID, RaiseDisputeInput{Reason: "again"})
	expectCode(t, err, apperrors.CodeInvalidTransition)

	// a disputed transaction cannot be confirmed by the provider
	_, err = f.svc.Confirm(ctx, provider, tx.ID)
	expectCode(t, err, apperrors.CodeInvalidTransition)

	disputes, err := f.svc.ListDisputes(ctx, admin, models.DisputeOpen, 0, 0)
	if err != nil || len(disputes) != 1 {
		t.Fatalf("expected one open dispute, got %d err=%v", len(disputes), err)
	}
	_, err = f.svc.ListDisputes(ctx, buyer, "", 0, 0)
	expectCode(t, err, apperrors.CodeUnauthorized)
}

type stubEvidence struct {
	uploads []string
	deleted []string
}

func (s *stubEvidence) Upload(_ context.Context, file *multipart.FileHeader, _ string) (*UploadResult, error) {
	id := "evidence/" + file.Filename
	s.uploads = append(s.uploads, id)
	return &UploadResult{SecureURL: "https://cdn.example/" + id, PublicID: id}, nil
}

func (s *stubEvidence) Delete(_ context.Context, publicID string) error {
	s.deleted = append(s.deleted, publicID)
	return nil
}

func TestAttachDisputeEvidence(t *testing.T) {
	ctx := context.Background()
	photo := &multipart.FileHeader{Filename: "receipt.png", Size: 1024}

	t.Run("storage not configured", func(t *testing.T) {
		f := newFixture(t, EscrowConfig{})
		tx := f.bookInEscrow(t)
		_, err := f.svc.AttachDisputeEvidence(ctx, buyer, tx.ID, photo)
		expectCode(t, err, apperrors.CodeUnavailable)
	})

	t.Run("replaces earlier evidence", func(t *testing.T) {
		storage := &stubEvidence{}
		f := newFixture(t, EscrowConfig{}, WithEvidenceStore(storage))
		tx := f.bookInEscrow(t)

		_, err := f.svc.AttachDisputeEvidence(ctx, buyer, tx.ID, photo)
		expectCode(t, err, apperrors.CodeInvalidTransition)

		if _, err := f.svc.RaiseDispute(ctx, buyer, tx.ID, RaiseDisputeInput{Reason: "no_show"}); err != nil {
			t.Fatalf("dispute: %v", err)
		}

		_, err = f.svc.AttachDisputeEvidence(ctx, buyer, tx.ID, &multipart.FileHeader{Filename: "script.exe", Size: 10})
		expectCode(t, err, apperrors.CodeValidation)
		_, err = f.svc.AttachDisputeEvidence(ctx, buyer, tx.ID, &multipart.FileHeader{Filename: "huge.pdf", Size: 6 * 1024 * 1024})
		expectCode(t, err, apperrors.CodeValidation)

		if _, err := f.svc.AttachDisputeEvidence(ctx, buyer, tx.ID, photo); err != nil {
			t.Fatalf("attach: %v", err)
		}
		d, err := f.svc.AttachDisputeEvidence(ctx, provider, tx.ID, &multipart.FileHeader{Filename: "chat.pdf", Size: 2048})
		if err != nil {
			t.Fatalf("attach: %v", err)
		}
		if d.EvidencePublicID != "evidence/chat.pdf" || d.EvidenceFileName != "chat.pdf" {
			t.Fatalf("unexpected dispute evidence %+v", d)
		}
		if len(storage.deleted) != 1 || storage.deleted[0] != "evidence/receipt.png" {
			t.Fatalf("expected replaced upload deleted, got %v", storage.deleted)
		}
	})
}
