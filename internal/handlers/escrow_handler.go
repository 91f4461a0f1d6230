package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"EscrowEngine/internal/apperrors"
	"EscrowEngine/internal/models"
	"EscrowEngine/internal/repositories"
	"EscrowEngine/internal/services"
)

type CreateTransactionRequest struct {
	ProviderID    string     `json:"provider_id" validate:"required"`
	Amount        int64      `json:"amount" validate:"gte=0"`
	Hours         int        `json:"hours" validate:"gte=0,lte=4"`
	PaymentMethod string     `json:"payment_method" validate:"required,oneof=mpesa emis unitel"`
	ScheduledAt   *time.Time `json:"scheduled_at"`
}

type AuthorizeEscrowRequest struct {
	Reference string `json:"reference"`
}

type RefundRequest struct {
	Reason string `json:"reason" validate:"required"`
}

type RaiseDisputeRequest struct {
	Reason      string `json:"reason" validate:"required,max=50"`
	Description string `json:"description"`
}

// EscrowHandler serves the party-facing transaction endpoints.
type EscrowHandler struct {
	escrow *services.EscrowService
	log    *logrus.Entry
}

func NewEscrowHandler(escrow *services.EscrowService, log *logrus.Entry) *EscrowHandler {
	return &EscrowHandler{escrow: escrow, log: log}
}

// reply writes the outcome of an engine call. Failures still carry the
// current transaction when it is known.
func (h *EscrowHandler) reply(c *fiber.Ctx, status int, tx *models.Transaction, err error) error {
	if err != nil {
		return respondError(c, h.log, err, tx)
	}
	return c.Status(status).JSON(fiber.Map{
		"transaction": tx,
	})
}

// CreateTransaction books a provider for the caller
func (h *EscrowHandler) CreateTransaction(c *fiber.Ctx) error {
	req := new(CreateTransactionRequest)
	if err := parseBody(c, req); err != nil {
		return respondError(c, h.log, err, nil)
	}

	tx, err := h.escrow.CreateBooking(c.UserContext(), actorFrom(c), services.CreateBookingInput{
		ProviderID:    req.ProviderID,
		Amount:        req.Amount,
		Hours:         req.Hours,
		PaymentMethod: models.PaymentMethod(req.PaymentMethod),
		ScheduledAt:   req.ScheduledAt,
	})
	return h.reply(c, fiber.StatusCreated, tx, err)
}

// AuthorizeEscrow moves a pending booking into escrow
func (h *EscrowHandler) AuthorizeEscrow(c *fiber.Ctx) error {
	req := new(AuthorizeEscrowRequest)
	if err := parseOptionalBody(c, req); err != nil {
		return respondError(c, h.log, err, nil)
	}
	tx, err := h.escrow.AuthorizeEscrow(c.UserContext(), actorFrom(c), c.Params("id"), req.Reference)
	return h.reply(c, fiber.StatusOK, tx, err)
}

// ConfirmMeeting is the provider's confirmation
func (h *EscrowHandler) ConfirmMeeting(c *fiber.Ctx) error {
	tx, err := h.escrow.Confirm(c.UserContext(), actorFrom(c), c.Params("id"))
	return h.reply(c, fiber.StatusOK, tx, err)
}

func (h *EscrowHandler) RequestRefund(c *fiber.Ctx) error {
	req := new(RefundRequest)
	if err := parseBody(c, req); err != nil {
		return respondError(c, h.log, err, nil)
	}
	tx, err := h.escrow.RequestRefund(c.UserContext(), actorFrom(c), c.Params("id"), req.Reason)
	return h.reply(c, fiber.StatusOK, tx, err)
}

func (h *EscrowHandler) RaiseDispute(c *fiber.Ctx) error {
	req := new(RaiseDisputeRequest)
	if err := parseBody(c, req); err != nil {
		return respondError(c, h.log, err, nil)
	}
	tx, err := h.escrow.RaiseDispute(c.UserContext(), actorFrom(c), c.Params("id"), services.RaiseDisputeInput{
		Reason:      req.Reason,
		Description: req.Description,
	})
	return h.reply(c, fiber.StatusOK, tx, err)
}

// UploadDisputeEvidence attaches the multipart "evidence" file to the open dispute
func (h *EscrowHandler) UploadDisputeEvidence(c *fiber.Ctx) error {
	file, err := c.FormFile("evidence")
	if err != nil {
		return respondError(c, h.log, apperrors.Validation("No file uploaded"), nil)
	}

	dispute, err := h.escrow.AttachDisputeEvidence(c.UserContext(), actorFrom(c), c.Params("id"), file)
	if err != nil {
		return respondError(c, h.log, err, nil)
	}
	return c.JSON(fiber.Map{
		"message": "Evidence uploaded successfully",
		"dispute": dispute,
	})
}

func (h *EscrowHandler) GetTransaction(c *fiber.Ctx) error {
	tx, err := h.escrow.Get(c.UserContext(), actorFrom(c), c.Params("id"))
	return h.reply(c, fiber.StatusOK, tx, err)
}

// ListTransactions returns the caller's transactions, ?role=buyer|provider&status=
func (h *EscrowHandler) ListTransactions(c *fiber.Ctx) error {
	limit, offset := pagination(c)
	txs, err := h.escrow.List(c.UserContext(), actorFrom(c), services.ListInput{
		Role:   repositories.PartyRole(c.Query("role")),
		Status: models.TransactionStatus(c.Query("status")),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		return respondError(c, h.log, err, nil)
	}
	return c.JSON(fiber.Map{
		"transactions": txs,
		"count":        len(txs),
	})
}

func (h *EscrowHandler) Summary(c *fiber.Ctx) error {
	summary, err := h.escrow.Summary(c.UserContext(), actorFrom(c), repositories.PartyRole(c.Query("role")))
	if err != nil {
		return respondError(c, h.log, err, nil)
	}
	return c.JSON(fiber.Map{
		"summary": summary,
	})
}

func (h *EscrowHandler) ListEvents(c *fiber.Ctx) error {
	events, err := h.escrow.Events(c.UserContext(), actorFrom(c), c.Params("id"))
	if err != nil {
		return respondError(c, h.log, err, nil)
	}
	return c.JSON(fiber.Map{
		"events": events,
	})
}

func (h *EscrowHandler) ListRefunds(c *fiber.Ctx) error {
	refunds, err := h.escrow.Refunds(c.UserContext(), actorFrom(c), c.Params("id"))
	if err != nil {
		return respondError(c, h.log, err, nil)
	}
	return c.JSON(fiber.Map{
		"refunds": refunds,
	})
}
