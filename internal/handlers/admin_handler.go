package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"EscrowEngine/internal/models"
	"EscrowEngine/internal/services"
)

type ResolveDisputeRequest struct {
	Outcome    string `json:"outcome" validate:"required,oneof=confirmed refunded"`
	Resolution string `json:"resolution"`
}

type ProcessRefundRequest struct {
	Outcome string `json:"outcome" validate:"required,oneof=processed rejected"`
}

// AdminHandler serves the moderation endpoints under /admin.
type AdminHandler struct {
	escrow  *services.EscrowService
	sweeper *services.ExpirySweeper
	log     *logrus.Entry
}

func NewAdminHandler(escrow *services.EscrowService, sweeper *services.ExpirySweeper, log *logrus.Entry) *AdminHandler {
	return &AdminHandler{
		escrow:  escrow,
		sweeper: sweeper,
		log:     log,
	}
}

// ResolveDispute drives a disputed transaction to confirmed or refunded
func (h *AdminHandler) ResolveDispute(c *fiber.Ctx) error {
	req := new(ResolveDisputeRequest)
	if err := parseBody(c, req); err != nil {
		return respondError(c, h.log, err, nil)
	}

	tx, err := h.escrow.ResolveDispute(c.UserContext(), actorFrom(c), c.Params("id"), services.ResolveDisputeInput{
		Outcome:    models.TransactionStatus(req.Outcome),
		Resolution: req.Resolution,
	})
	if err != nil {
		return respondError(c, h.log, err, tx)
	}
	return c.JSON(fiber.Map{
		"message":     "Dispute resolved successfully",
		"transaction": tx,
	})
}

func (h *AdminHandler) ProcessRefund(c *fiber.Ctx) error {
	req := new(ProcessRefundRequest)
	if err := parseBody(c, req); err != nil {
		return respondError(c, h.log, err, nil)
	}

	tx, err := h.escrow.ProcessRefund(c.UserContext(), actorFrom(c), c.Params("id"), models.RefundStatus(req.Outcome))
	if err != nil {
		return respondError(c, h.log, err, tx)
	}
	return c.JSON(fiber.Map{
		"transaction": tx,
	})
}

// GetAllTransactions lists every transaction, ?status=
func (h *AdminHandler) GetAllTransactions(c *fiber.Ctx) error {
	limit, offset := pagination(c)
	txs, err := h.escrow.ListAll(c.UserContext(), actorFrom(c), services.ListInput{
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

// GetAllDisputes is the moderation queue, ?status=open|resolved
func (h *AdminHandler) GetAllDisputes(c *fiber.Ctx) error {
	limit, offset := pagination(c)
	disputes, err := h.escrow.ListDisputes(c.UserContext(), actorFrom(c), models.DisputeStatus(c.Query("status")), limit, offset)
	if err != nil {
		return respondError(c, h.log, err, nil)
	}
	return c.JSON(fiber.Map{
		"disputes": disputes,
		"count":    len(disputes),
	})
}

// RunSweep runs one expiry pass on demand.
func (h *AdminHandler) RunSweep(c *fiber.Ctx) error {
	result, err := h.sweeper.Sweep(c.UserContext())
	if err != nil {
		return respondError(c, h.log, err, nil)
	}
	return c.JSON(fiber.Map{
		"result": result,
	})
}
