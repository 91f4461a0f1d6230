package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"EscrowEngine/internal/apperrors"
	"EscrowEngine/internal/metrics"
	"EscrowEngine/internal/models"
	"EscrowEngine/internal/repositories"
)

const (
	DefaultHoldWindow = 2 * time.Hour
	MaxBookingHours   = 4
)

// PaymentVerifier confirms that an external payment covers a transaction.
type PaymentVerifier interface {
	VerifyPayment(ctx context.Context, reference string, amount int64) error
}

// Notifier is told about every committed transition.
type Notifier interface {
	TransactionChanged(ctx context.Context, t *models.Transaction, from models.TransactionStatus)
}

type EscrowConfig struct {
	HoldWindow      time.Duration
	SettlementDelay time.Duration
}

type Option func(*EscrowService)

func WithClock(now func() time.Time) Option {
	return func(s *EscrowService) { s.now = now }
}

func WithPaymentVerifier(v PaymentVerifier) Option {
	return func(s *EscrowService) { s.payments = v }
}

func WithNotifier(n Notifier) Option {
	return func(s *EscrowService) { s.notifier = n }
}

func WithEvidenceStore(e EvidenceStore) Option {
	return func(s *EscrowService) { s.evidence = e }
}

// EscrowService is the only writer of transaction status and lifecycle
// timestamps. Every transition goes through apply.
type EscrowService struct {
	store           repositories.Store
	gate            Gate
	payments        PaymentVerifier
	notifier        Notifier
	evidence        EvidenceStore
	holdWindow      time.Duration
	settlementDelay time.Duration
	now             func() time.Time
	log             *logrus.Entry
}

func NewEscrowService(store repositories.Store, cfg EscrowConfig, log *logrus.Entry, opts ...Option) *EscrowService {
	if cfg.HoldWindow <= 0 {
		cfg.HoldWindow = DefaultHoldWindow
	}
	s := &EscrowService{
		store:           store,
		holdWindow:      cfg.HoldWindow,
		settlementDelay: cfg.SettlementDelay,
		now:             func() time.Time { return time.Now().UTC() },
		log:             log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// transition describes one guarded edge. guard and effects see the row as
// re-read inside the database transaction.
type transition struct {
	to      models.TransactionStatus
	trigger string
	guard   func(t *models.Transaction, now time.Time) error
	// check runs under the row lock, before the write.
	check   func(ctx context.Context, tx repositories.Store, t *models.Transaction) error
	mutate  func(t *models.Transaction, now time.Time)
	effects func(ctx context.Context, tx repositories.Store, t *models.Transaction, now time.Time) error
}

// apply runs tr against the persisted row, provided it still has the
// version the caller authorized against. The write is a compare-and-swap
// on version, so of two racing callers exactly one commits and the other
// gets StaleState along with the row as it now stands.
func (s *EscrowService) apply(ctx context.Context, actor Actor, snapshot *models.Transaction, tr transition) (*models.Transaction, error) {
	now := s.now()
	var (
		result *models.Transaction
		from   models.TransactionStatus
	)

	err := s.store.WithinTx(ctx, func(tx repositories.Store) error {
		current, err := tx.Transactions().FindForUpdate(ctx, snapshot.ID)
		if err != nil {
			return err
		}
		result = current
		from = current.Status

		if current.Version != snapshot.Version {
			return apperrors.StaleState(fmt.Sprintf("transaction changed concurrently and is now %s", current.Status))
		}
		if !models.CanTransition(current.Status, tr.to) {
			return apperrors.InvalidTransition(fmt.Sprintf("cannot move transaction from %s to %s", current.Status, tr.to))
		}
		if tr.guard != nil {
			if err := tr.guard(current, now); err != nil {
				return err
			}
		}
		if tr.check != nil {
			if err := tr.check(ctx, tx, current); err != nil {
				return err
			}
		}

		next := *current
		next.Status = tr.to
		next.UpdatedAt = now
		stampLifecycle(&next, now)
		if tr.mutate != nil {
			tr.mutate(&next, now)
		}
		if !next.HasConsistentTimestamps() {
			return apperrors.Internal("transition would set both confirmed_at and refunded_at", nil)
		}

		swapped, err := tx.Transactions().CompareAndSwap(ctx, &next, current.Version)
		if err != nil {
			return err
		}
		if !swapped {
			if latest, ferr := tx.Transactions().FindByID(ctx, current.ID); ferr == nil {
				result = latest
			}
			return apperrors.StaleState(fmt.Sprintf("transaction changed concurrently and is now %s", result.Status))
		}

		event := &models.TransactionEvent{
			TransactionID: next.ID,
			FromStatus:    from,
			ToStatus:      next.Status,
			Version:       next.Version,
			ActorID:       actor.UserID,
			ActorRole:     actor.RoleOn(current),
			Trigger:       tr.trigger,
			CreatedAt:     now,
		}
		if err := tx.Transactions().AppendEvent(ctx, event); err != nil {
			return err
		}

		if tr.effects != nil {
			if err := tr.effects(ctx, tx, &next, now); err != nil {
				return err
			}
		}
		result = &next
		return nil
	})
	if err != nil {
		return s.fail(tr.trigger, result, err)
	}

	metrics.TransitionsTotal.WithLabelValues(statusLabel(from), string(result.Status)).Inc()
	s.log.WithFields(logrus.Fields{
		"transaction_id": result.ID,
		"from":           statusLabel(from),
		"to":             result.Status,
		"version":        result.Version,
		"trigger":        tr.trigger,
		"actor":          actor.RoleOn(result),
	}).Info("Transaction transitioned")

	s.notify(ctx, result, from)
	return result, nil
}

// stampLifecycle sets the timestamps implied by entering t.Status.
func stampLifecycle(t *models.Transaction, now time.Time) {
	at := now
	switch t.Status {
	case models.TransactionConfirmed:
		if t.ConfirmedAt == nil {
			t.ConfirmedAt = &at
		}
	case models.TransactionCompleted:
		t.CompletedAt = &at
	case models.TransactionRefunded:
		t.RefundedAt = &at
		t.ConfirmedAt = nil
	}
}

// load fetches a snapshot and authorizes the actor against it. The
// transaction is returned alongside an authorization error only when the
// actor is allowed to see it.
func (s *EscrowService) load(ctx context.Context, actor Actor, id string, capability Capability) (*models.Transaction, error) {
	t, err := s.store.Transactions().FindByID(ctx, id)
	if err != nil {
		return s.fail(string(capability), nil, err)
	}
	if actor.IsSystem() {
		return t, nil
	}
	if err := s.gate.Authorize(actor, capability, t); err != nil {
		if apperrors.CodeOf(err) == apperrors.CodeNotFound {
			return s.fail(string(capability), nil, err)
		}
		return s.fail(string(capability), t, err)
	}
	return t, nil
}

// fail normalizes err into a domain error and records it.
func (s *EscrowService) fail(op string, t *models.Transaction, err error) (*models.Transaction, error) {
	appErr := toAppError(err)
	metrics.TransitionFailures.WithLabelValues(string(appErr.Code)).Inc()

	fields := logrus.Fields{"op": op, "code": appErr.Code}
	if t != nil {
		fields["transaction_id"] = t.ID
		fields["status"] = t.Status
	}
	if appErr.Code == apperrors.CodeInternal {
		s.log.WithFields(fields).WithError(err).Error("Escrow operation failed")
	} else {
		s.log.WithFields(fields).Debug(appErr.Message)
	}
	return t, appErr
}

func toAppError(err error) *apperrors.Error {
	var appErr *apperrors.Error
	switch {
	case errors.As(err, &appErr):
		return appErr
	case errors.Is(err, repositories.ErrNotFound):
		return apperrors.NotFound()
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return apperrors.Wrap(apperrors.CodeUnavailable, "request cancelled before commit", err)
	default:
		return apperrors.Internal("escrow operation failed", err)
	}
}

func (s *EscrowService) notify(ctx context.Context, t *models.Transaction, from models.TransactionStatus) {
	if s.notifier == nil {
		return
	}
	s.notifier.TransactionChanged(context.WithoutCancel(ctx), t, from)
}

func statusLabel(s models.TransactionStatus) string {
	if s == models.StatusNone {
		return "none"
	}
	return string(s)
}

type CreateBookingInput struct {
	ProviderID    string
	Amount        int64
	Hours         int
	PaymentMethod models.PaymentMethod
	ScheduledAt   *time.Time
}

// CreateBooking opens a pending transaction for the actor as buyer. When
// Amount is zero it is priced from the provider's hourly rate.
func (s *EscrowService) CreateBooking(ctx context.Context, actor Actor, in CreateBookingInput) (*models.Transaction, error) {
	const op = "booking_created"
	if err := s.gate.Authorize(actor, CapCreateBooking, nil); err != nil {
		return s.fail(op, nil, err)
	}

	in.ProviderID = strings.TrimSpace(in.ProviderID)
	switch {
	case in.ProviderID == "":
		return s.fail(op, nil, apperrors.Validation("provider_id is required"))
	case in.ProviderID == actor.UserID:
		return s.fail(op, nil, apperrors.Validation("you cannot book yourself"))
	case !in.PaymentMethod.IsValid():
		return s.fail(op, nil, apperrors.Validation("payment_method must be one of mpesa, emis, unitel"))
	case in.Amount < 0:
		return s.fail(op, nil, apperrors.Validation("amount must be greater than zero"))
	case in.Hours < 0 || in.Hours > MaxBookingHours:
		return s.fail(op, nil, apperrors.Validation(fmt.Sprintf("hours must be between 1 and %d", MaxBookingHours)))
	}

	now := s.now()
	if in.ScheduledAt != nil && in.ScheduledAt.Before(now) {
		return s.fail(op, nil, apperrors.Validation("scheduled_at must be in the future"))
	}

	provider, err := s.store.Accounts().ProviderProfile(ctx, in.ProviderID)
	if errors.Is(err, repositories.ErrNotFound) || (err == nil && !provider.IsBookable()) {
		return s.fail(op, nil, apperrors.Validation("provider is not available for booking"))
	}
	if err != nil {
		return s.fail(op, nil, err)
	}

	amount := in.Amount
	if amount == 0 && in.Hours > 0 {
		amount = provider.PricePerHour * int64(in.Hours)
	}
	if amount <= 0 {
		return s.fail(op, nil, apperrors.Validation("amount must be greater than zero"))
	}

	t := &models.Transaction{
		BuyerID:       actor.UserID,
		ProviderID:    in.ProviderID,
		Amount:        amount,
		PaymentMethod: in.PaymentMethod,
		Status:        models.TransactionPending,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if in.ScheduledAt != nil {
		at := in.ScheduledAt.UTC()
		t.ScheduledAt = &at
	}

	err = s.store.WithinTx(ctx, func(tx repositories.Store) error {
		if err := tx.Transactions().Create(ctx, t); err != nil {
			return err
		}
		return tx.Transactions().AppendEvent(ctx, &models.TransactionEvent{
			TransactionID: t.ID,
			FromStatus:    models.StatusNone,
			ToStatus:      models.TransactionPending,
			Version:       t.Version,
			ActorID:       actor.UserID,
			ActorRole:     actor.RoleOn(t),
			Trigger:       op,
			CreatedAt:     now,
		})
	})
	if err != nil {
		return s.fail(op, nil, err)
	}

	metrics.TransitionsTotal.WithLabelValues("none", string(models.TransactionPending)).Inc()
	s.log.WithFields(logrus.Fields{
		"transaction_id": t.ID,
		"provider_id":    t.ProviderID,
		"amount":         t.Amount,
	}).Info("Booking created")

	s.notify(ctx, t, models.StatusNone)
	return t, nil
}

// AuthorizeEscrow records that payment was taken and starts the hold window.
func (s *EscrowService) AuthorizeEscrow(ctx context.Context, actor Actor, id, reference string) (*models.Transaction, error) {
	t, err := s.load(ctx, actor, id, CapAuthorizePayment)
	if err != nil {
		return t, err
	}
	if !models.CanTransition(t.Status, models.TransactionInEscrow) {
		return s.fail("payment_authorized", t, apperrors.InvalidTransition(fmt.Sprintf("cannot authorize payment for a %s transaction", t.Status)))
	}

	reference = strings.TrimSpace(reference)
	if s.payments != nil {
		if reference == "" {
			return s.fail("payment_authorized", t, apperrors.Validation("payment reference is required"))
		}
		if err := s.payments.VerifyPayment(ctx, reference, t.Amount); err != nil {
			return s.fail("payment_authorized", t, err)
		}
	}

	return s.apply(ctx, actor, t, transition{
		to:      models.TransactionInEscrow,
		trigger: "payment_authorized",
		check: func(ctx context.Context, tx repositories.Store, cur *models.Transaction) error {
			if reference == "" {
				return nil
			}
			used, err := tx.Transactions().PaymentReferenceUsed(ctx, reference, cur.ID)
			if err != nil {
				return err
			}
			if used {
				return apperrors.Validation("payment reference has already been used")
			}
			return nil
		},
		mutate: func(next *models.Transaction, now time.Time) {
			expires := now.Add(s.holdWindow)
			next.EscrowExpiresAt = &expires
			next.PaymentReference = reference
		},
	})
}

// Confirm records the provider's confirmation that the meeting happened.
// With no settlement delay the funds are released right away.
func (s *EscrowService) Confirm(ctx context.Context, actor Actor, id string) (*models.Transaction, error) {
	t, err := s.load(ctx, actor, id, CapConfirm)
	if err != nil {
		return t, err
	}

	confirmed, err := s.apply(ctx, actor, t, s.confirmTransition())
	if err != nil || s.settlementDelay > 0 {
		return confirmed, err
	}
	return s.settleNow(ctx, confirmed), nil
}

func (s *EscrowService) confirmTransition() transition {
	return transition{
		to:      models.TransactionConfirmed,
		trigger: "meeting_confirmed",
		guard: func(cur *models.Transaction, now time.Time) error {
			if cur.Status != models.TransactionInEscrow {
				return apperrors.InvalidTransition(fmt.Sprintf("cannot confirm a %s transaction", cur.Status))
			}
			if cur.EscrowExpiresAt == nil || !now.Before(*cur.EscrowExpiresAt) {
				return apperrors.InvalidTransition("escrow hold has expired")
			}
			return nil
		},
	}
}

// settleNow releases funds right after a confirmation. A failure leaves the
// transaction confirmed for the sweeper to settle.
func (s *EscrowService) settleNow(ctx context.Context, confirmed *models.Transaction) *models.Transaction {
	completed, err := s.apply(ctx, SystemActor, confirmed, s.settleTransition())
	if err != nil {
		s.log.WithField("transaction_id", confirmed.ID).WithError(err).Warn("Immediate settlement failed, leaving for sweeper")
		if completed != nil {
			return completed
		}
		return confirmed
	}
	return completed
}

func (s *EscrowService) settleTransition() transition {
	return transition{
		to:      models.TransactionCompleted,
		trigger: "funds_released",
		guard: func(cur *models.Transaction, now time.Time) error {
			if cur.ConfirmedAt == nil || now.Before(cur.ConfirmedAt.Add(s.settlementDelay)) {
				return apperrors.InvalidTransition("settlement delay has not elapsed")
			}
			return nil
		},
	}
}

// Settle releases funds for a confirmed transaction once the settlement delay has passed.
func (s *EscrowService) Settle(ctx context.Context, id string) (*models.Transaction, error) {
	t, err := s.load(ctx, SystemActor, id, CapView)
	if err != nil {
		return t, err
	}
	return s.apply(ctx, SystemActor, t, s.settleTransition())
}

// ExpireHold refunds an escrow hold whose window closed without confirmation.
func (s *EscrowService) ExpireHold(ctx context.Context, id string) (*models.Transaction, error) {
	t, err := s.load(ctx, SystemActor, id, CapView)
	if err != nil {
		return t, err
	}
	return s.expire(ctx, t)
}

func (s *EscrowService) expire(ctx context.Context, t *models.Transaction) (*models.Transaction, error) {
	return s.apply(ctx, SystemActor, t, transition{
		to:      models.TransactionRefunded,
		trigger: "escrow_expired",
		guard: func(cur *models.Transaction, now time.Time) error {
			if cur.Status != models.TransactionInEscrow {
				return apperrors.InvalidTransition(fmt.Sprintf("cannot expire a %s transaction", cur.Status))
			}
			if cur.EscrowExpiresAt == nil || now.Before(*cur.EscrowExpiresAt) {
				return apperrors.InvalidTransition("escrow hold has not expired yet")
			}
			return nil
		},
		effects: func(ctx context.Context, tx repositories.Store, next *models.Transaction, now time.Time) error {
			return recordProcessedRefund(ctx, tx, next.ID, "escrow hold expired without confirmation", "", now)
		},
	})
}

// recordProcessedRefund writes the single processed refund for a
// transaction entering refunded and rejects anything still requested.
func recordProcessedRefund(ctx context.Context, tx repositories.Store, transactionID, reason, requestedBy string, now time.Time) error {
	at := now
	refund := &models.Refund{
		TransactionID: transactionID,
		Reason:        reason,
		Status:        models.RefundProcessed,
		RequestedBy:   requestedBy,
		ProcessedAt:   &at,
		CreatedAt:     now,
	}
	if err := tx.Refunds().Create(ctx, refund); err != nil {
		return err
	}
	_, err := tx.Refunds().RejectRequested(ctx, transactionID, refund.ID, now)
	return err
}
