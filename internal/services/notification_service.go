package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"EscrowEngine/internal/apperrors"
	"EscrowEngine/internal/models"
	"EscrowEngine/internal/repositories"
)

// emailTimeout bounds the mirror e-mail, which is sent on the caller's path.
const emailTimeout = 10 * time.Second

type NotificationService struct {
	store        repositories.Store
	email        EmailSender
	emailTimeout time.Duration
	now          func() time.Time
	log          *logrus.Entry
}

// NewNotificationService builds the service. email may be nil.
func NewNotificationService(store repositories.Store, email EmailSender, log *logrus.Entry) *NotificationService {
	return &NotificationService{
		store:        store,
		email:        email,
		emailTimeout: emailTimeout,
		now:          func() time.Time { return time.Now().UTC() },
		log:          log,
	}
}

// CreateNotification creates a new notification and mirrors it by e-mail
// when the recipient has an address on file.
func (s *NotificationService) CreateNotification(ctx context.Context, userID string, notifType models.NotificationType, title, message string, data map[string]interface{}) error {
	var dataJSON string
	if data != nil {
		jsonBytes, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("failed to marshal notification data: %w", err)
		}
		dataJSON = string(jsonBytes)
	}

	notification := models.Notification{
		UserID:    userID,
		Type:      notifType,
		Title:     title,
		Message:   message,
		Data:      dataJSON,
		CreatedAt: s.now(),
	}
	if err := s.store.Notifications().Create(ctx, &notification); err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}

	if s.email != nil {
		profile, err := s.store.Accounts().Profile(ctx, userID)
		switch {
		case errors.Is(err, repositories.ErrNotFound):
		case err != nil:
			return fmt.Errorf("failed to load profile: %w", err)
		case profile.Email != "":
			sendCtx, cancel := context.WithTimeout(ctx, s.emailTimeout)
			defer cancel()
			if err := s.email.Send(sendCtx, profile.Email, title, renderNotificationEmail(title, message)); err != nil {
				return err
			}
		}
	}
	return nil
}

// TransactionChanged tells the affected parties about a committed
// transition. Failures are logged and never reach the caller.
func (s *NotificationService) TransactionChanged(ctx context.Context, t *models.Transaction, from models.TransactionStatus) {
	for _, n := range s.messagesFor(ctx, t, from) {
		err := s.CreateNotification(ctx, n.userID, n.kind, n.title, n.message, map[string]interface{}{
			"transaction_id": t.ID,
			"status":         t.Status,
			"amount":         t.Amount,
		})
		if err != nil {
			s.log.WithFields(logrus.Fields{
				"transaction_id": t.ID,
				"user_id":        n.userID,
				"type":           n.kind,
			}).WithError(err).Warn("Failed to deliver notification")
		}
	}
}

type pendingNotification struct {
	userID  string
	kind    models.NotificationType
	title   string
	message string
}

func (s *NotificationService) messagesFor(ctx context.Context, t *models.Transaction, from models.TransactionStatus) []pendingNotification {
	amount := FormatAmount(t.Amount)

	if from == models.TransactionDisputed {
		msg := fmt.Sprintf("The dispute on your %s booking was resolved as %s.", amount, t.Status)
		return []pendingNotification{
			{t.BuyerID, models.NotificationDisputeResolved, "Dispute Resolved", msg},
			{t.ProviderID, models.NotificationDisputeResolved, "Dispute Resolved", msg},
		}
	}

	switch t.Status {
	case models.TransactionPending:
		return []pendingNotification{{
			t.ProviderID, models.NotificationBookingCreated, "New Booking Request",
			fmt.Sprintf("%s wants to book you for %s", s.displayName(ctx, t.BuyerID, "A client"), amount),
		}}
	case models.TransactionInEscrow:
		return []pendingNotification{{
			t.ProviderID, models.NotificationEscrowHeld, "Payment Held in Escrow",
			fmt.Sprintf("%s is held in escrow. Confirm the meeting before %s to receive it.", amount, t.EscrowExpiresAt.Format(time.RFC1123)),
		}}
	case models.TransactionConfirmed:
		return []pendingNotification{{
			t.BuyerID, models.NotificationMeetingConfirmed, "Meeting Confirmed",
			fmt.Sprintf("%s confirmed your meeting. %s will be released to them.", s.displayName(ctx, t.ProviderID, "Your provider"), amount),
		}}
	case models.TransactionCompleted:
		return []pendingNotification{{
			t.ProviderID, models.NotificationFundsReleased, "Funds Released",
			fmt.Sprintf("%s has been released to your account", amount),
		}}
	case models.TransactionRefunded:
		return []pendingNotification{
			{t.BuyerID, models.NotificationRefunded, "Refund Processed", fmt.Sprintf("%s has been refunded to you", amount)},
			{t.ProviderID, models.NotificationRefunded, "Booking Refunded", fmt.Sprintf("The %s booking was refunded to the client", amount)},
		}
	case models.TransactionDisputed:
		msg := fmt.Sprintf("A dispute was raised on the %s booking. An administrator will review it.", amount)
		return []pendingNotification{
			{t.BuyerID, models.NotificationDisputeRaised, "Dispute Raised", msg},
			{t.ProviderID, models.NotificationDisputeRaised, "Dispute Raised", msg},
		}
	}
	return nil
}

func (s *NotificationService) displayName(ctx context.Context, userID, fallback string) string {
	profile, err := s.store.Accounts().Profile(ctx, userID)
	if err != nil || profile.FullName == "" {
		return fallback
	}
	return profile.FullName
}

// FormatAmount renders minor units as kwanza, e.g. 1500 -> "Kz 15.00".
func FormatAmount(minor int64) string {
	return "Kz " + decimal.New(minor, -2).StringFixed(2)
}

// List returns a page of the user's notifications and their unread count.
func (s *NotificationService) List(ctx context.Context, userID string, unreadOnly bool, limit, offset int) ([]models.Notification, int64, error) {
	notifications, err := s.store.Notifications().ListByUser(ctx, userID, unreadOnly, limit, offset)
	if err != nil {
		return nil, 0, apperrors.Internal("failed to fetch notifications", err)
	}
	unread, err := s.store.Notifications().UnreadCount(ctx, userID)
	if err != nil {
		return nil, 0, apperrors.Internal("failed to count notifications", err)
	}
	return notifications, unread, nil
}

func (s *NotificationService) MarkRead(ctx context.Context, userID, id string) error {
	err := s.store.Notifications().MarkRead(ctx, id, userID, s.now())
	if errors.Is(err, repositories.ErrNotFound) {
		return apperrors.NotFound()
	}
	if err != nil {
		return apperrors.Internal("failed to mark notification as read", err)
	}
	return nil
}

func (s *NotificationService) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	n, err := s.store.Notifications().MarkAllRead(ctx, userID, s.now())
	if err != nil {
		return 0, apperrors.Internal("failed to mark notifications as read", err)
	}
	return n, nil
}
