package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"EscrowEngine/internal/apperrors"
	"EscrowEngine/internal/database/dbtest"
	"EscrowEngine/internal/logging"
	"EscrowEngine/internal/models"
)

type sentEmail struct {
	to, subject, body string
}

type fakeEmail struct {
	sent []sentEmail
	err  error
}

func (e *fakeEmail) Send(_ context.Context, to, subject, body string) error {
	if e.err != nil {
		return e.err
	}
	e.sent = append(e.sent, sentEmail{to, subject, body})
	return nil
}

func TestFormatAmount(t *testing.T) {
	cases := map[int64]string{
		0:      "Kz 0.00",
		5:      "Kz 0.05",
		1500:   "Kz 15.00",
		123456: "Kz 1234.56",
	}
	for minor, want := range cases {
		if got := FormatAmount(minor); got != want {
			t.Errorf("FormatAmount(%d) = %q, want %q", minor, got, want)
		}
	}
}

func TestNotificationsFollowLifecycle(t *testing.T) {
	email := &fakeEmail{}
	var notifier *NotificationService
	f := newFixture(t, EscrowConfig{}, WithNotifier(notifierFunc(func(ctx context.Context, tx *models.Transaction, from models.TransactionStatus) {
		notifier.TransactionChanged(ctx, tx, from)
	})))
	notifier = NewNotificationService(f.store, email, logging.Discard())

	dbtest.SeedProfile(t, f.db, buyer.UserID, "Ana <Buyer>", "ana@example.com")
	dbtest.SeedProfile(t, f.db, provider.UserID, "Bruno", "")

	ctx := context.Background()
	tx := f.bookInEscrow(t)
	if _, err := f.svc.Confirm(ctx, provider, tx.ID); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	providerInbox, unread, err := notifier.List(ctx, provider.UserID, false, 0, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	kinds := map[models.NotificationType]bool{}
	for _, n := range providerInbox {
		kinds[n.Type] = true
	}
	for _, want := range []models.NotificationType{models.NotificationBookingCreated, models.NotificationEscrowHeld, models.NotificationFundsReleased} {
		if !kinds[want] {
			t.Errorf("provider missing %s notification, got %v", want, kinds)
		}
	}
	if unread != int64(len(providerInbox)) {
		t.Fatalf("expected all unread, got %d of %d", unread, len(providerInbox))
	}

	buyerInbox, _, err := notifier.List(ctx, buyer.UserID, false, 0, 0)
	if err != nil || len(buyerInbox) != 1 || buyerInbox[0].Type != models.NotificationMeetingConfirmed {
		t.Fatalf("expected one confirmation for the buyer, got %+v err=%v", buyerInbox, err)
	}
	if !strings.Contains(buyerInbox[0].Message, "Bruno") {
		t.Fatalf("expected provider name in message, got %q", buyerInbox[0].Message)
	}

	// only the buyer has an address on file
	if len(email.sent) != 1 || email.sent[0].to != "ana@example.com" {
		t.Fatalf("expected one e-mail to the buyer, got %+v", email.sent)
	}
}

func TestNotificationFailuresDoNotBreakTransitions(t *testing.T) {
	email := &fakeEmail{err: errors.New("smtp down")}
	var notifier *NotificationService
	f := newFixture(t, EscrowConfig{}, WithNotifier(notifierFunc(func(ctx context.Context, tx *models.Transaction, from models.TransactionStatus) {
		notifier.TransactionChanged(ctx, tx, from)
	})))
	notifier = NewNotificationService(f.store, email, logging.Discard())
	dbtest.SeedProfile(t, f.db, provider.UserID, "Bruno", "bruno@example.com")

	tx := f.bookInEscrow(t)
	if tx.Status != models.TransactionInEscrow {
		t.Fatalf("expected in_escrow, got %s", tx.Status)
	}
}

// stalledEmail never answers; it only returns once the caller gives up.
type stalledEmail struct{}

func (stalledEmail) Send(ctx context.Context, _, _, _ string) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestSlowMailProviderDoesNotStallNotifications(t *testing.T) {
	f := newFixture(t, EscrowConfig{})
	svc := NewNotificationService(f.store, stalledEmail{}, logging.Discard())
	svc.emailTimeout = 20 * time.Millisecond
	dbtest.SeedProfile(t, f.db, buyer.UserID, "Ana", "ana@example.com")

	start := time.Now()
	err := svc.CreateNotification(context.WithoutCancel(context.Background()), buyer.UserID, models.NotificationRefunded, "Refunded", "body", nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected the send to time out, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("send was not bounded, took %s", elapsed)
	}

	list, _, err := svc.List(context.Background(), buyer.UserID, false, 0, 0)
	if err != nil || len(list) != 1 {
		t.Fatalf("expected the notification to be stored, got %d err=%v", len(list), err)
	}
}

func TestMarkNotificationsRead(t *testing.T) {
	f := newFixture(t, EscrowConfig{})
	svc := NewNotificationService(f.store, nil, logging.Discard())
	ctx := context.Background()

	for _, title := range []string{"one", "two"} {
		if err := svc.CreateNotification(ctx, buyer.UserID, models.NotificationRefunded, title, "body", nil); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	list, unread, err := svc.List(ctx, buyer.UserID, true, 0, 0)
	if err != nil || len(list) != 2 || unread != 2 {
		t.Fatalf("expected two unread, got %d/%d err=%v", len(list), unread, err)
	}

	expectCode(t, svc.MarkRead(ctx, intruder.UserID, list[0].ID), apperrors.CodeNotFound)
	if err := svc.MarkRead(ctx, buyer.UserID, list[0].ID); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	n, err := svc.MarkAllRead(ctx, buyer.UserID)
	if err != nil || n != 1 {
		t.Fatalf("expected one more marked, got %d err=%v", n, err)
	}
	if _, unread, _ := svc.List(ctx, buyer.UserID, false, 0, 0); unread != 0 {
		t.Fatalf("expected nothing unread, got %d", unread)
	}
}

type notifierFunc func(ctx context.Context, t *models.Transaction, from models.TransactionStatus)

func (f notifierFunc) TransactionChanged(ctx context.Context, t *models.Transaction, from models.TransactionStatus) {
	f(ctx, t, from)
}

func TestNotificationEmailEscapesContent(t *testing.T) {
	body := renderNotificationEmail("Dispute <Raised>", `Ana & "Bruno"`)
	if strings.Contains(body, "<Raised>") || !strings.Contains(body, "Dispute &lt;Raised&gt;") {
		t.Fatalf("expected escaped title, got %s", body)
	}
	if !strings.Contains(body, "Ana &amp; &#34;Bruno&#34;") {
		t.Fatalf("expected escaped message, got %s", body)
	}

	svc := NewEmailService("re_test", "", logging.Discard())
	if svc.From != "onboarding@resend.dev" {
		t.Fatalf("expected default sender, got %q", svc.From)
	}
}
