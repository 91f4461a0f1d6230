package services

import (
	"EscrowEngine/internal/apperrors"
	"EscrowEngine/internal/models"
)

// Actor is the authenticated caller. Roles are resolved once per request.
type Actor struct {
	UserID string
	Roles  []models.AppRole
}

// SystemActor drives automatic transitions such as expiry and settlement.
var SystemActor = Actor{}

func (a Actor) IsSystem() bool {
	return a.UserID == ""
}

func (a Actor) HasRole(role models.AppRole) bool {
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// IsStaff reports admin or moderator privileges.
func (a Actor) IsStaff() bool {
	return a.HasRole(models.RoleAdmin) || a.HasRole(models.RoleModerator)
}

// RoleOn names the actor's relationship to t, for the event log.
func (a Actor) RoleOn(t *models.Transaction) string {
	switch {
	case a.IsSystem():
		return "system"
	case a.IsStaff():
		return "admin"
	case t != nil && t.BuyerID == a.UserID:
		return "buyer"
	case t != nil && t.ProviderID == a.UserID:
		return "provider"
	default:
		return "user"
	}
}

type Capability string

const (
	CapCreateBooking    Capability = "create_booking"
	CapAuthorizePayment Capability = "authorize_payment"
	CapConfirm          Capability = "confirm"
	CapRequestRefund    Capability = "request_refund"
	CapDispute          Capability = "dispute"
	CapResolveDispute   Capability = "resolve_dispute"
	CapProcessRefund    Capability = "process_refund"
	CapView             Capability = "view"
)

// Gate decides whether an actor may exercise a capability on a transaction.
type Gate struct{}

// Authorize returns nil when allowed. Non-parties always get NotFound so
// they learn nothing about the transaction.
func (Gate) Authorize(actor Actor, capability Capability, t *models.Transaction) error {
	if actor.IsStaff() {
		return nil
	}

	switch capability {
	case CapCreateBooking:
		if actor.UserID == "" {
			return apperrors.Unauthorized("authentication required")
		}
		return nil
	case CapResolveDispute, CapProcessRefund:
		if t != nil && !t.IsParty(actor.UserID) {
			return apperrors.NotFound()
		}
		return apperrors.Unauthorized("only an administrator may do this")
	}

	if t == nil || !t.IsParty(actor.UserID) {
		return apperrors.NotFound()
	}

	switch capability {
	case CapView, CapDispute:
		return nil
	case CapAuthorizePayment:
		if t.BuyerID != actor.UserID {
			return apperrors.Unauthorized("only the buyer may authorize payment")
		}
		return nil
	case CapConfirm:
		if t.ProviderID != actor.UserID {
			return apperrors.Unauthorized("only the provider may confirm the meeting")
		}
		return nil
	case CapRequestRefund:
		if t.BuyerID != actor.UserID {
			return apperrors.Unauthorized("only the buyer may request a refund")
		}
		if t.Status == models.TransactionConfirmed {
			return apperrors.Unauthorized("refund after confirmation requires an administrator")
		}
		return nil
	}
	return apperrors.Unauthorized("operation not permitted")
}
