package services

import (
	"testing"

	"EscrowEngine/internal/apperrors"
	"EscrowEngine/internal/models"
)

func TestGateAuthorize(t *testing.T) {
	inEscrow := &models.Transaction{BuyerID: buyer.UserID, ProviderID: provider.UserID, Status: models.TransactionInEscrow}
	confirmed := &models.Transaction{BuyerID: buyer.UserID, ProviderID: provider.UserID, Status: models.TransactionConfirmed}
	moderator := Actor{UserID: "mod-1", Roles: []models.AppRole{models.RoleModerator}}

	tests := []struct {
		name       string
		actor      Actor
		capability Capability
		tx         *models.Transaction
		want       apperrors.Code
	}{
		{"buyer views", buyer, CapView, inEscrow, ""},
		{"provider views", provider, CapView, inEscrow, ""},
		{"stranger views", intruder, CapView, inEscrow, apperrors.CodeNotFound},
		{"admin views", admin, CapView, inEscrow, ""},
		{"anonymous books", Actor{}, CapCreateBooking, nil, apperrors.CodeUnauthorized},
		{"user books", buyer, CapCreateBooking, nil, ""},
		{"buyer authorizes", buyer, CapAuthorizePayment, inEscrow, ""},
		{"provider authorizes", provider, CapAuthorizePayment, inEscrow, apperrors.CodeUnauthorized},
		{"provider confirms", provider, CapConfirm, inEscrow, ""},
		{"buyer confirms", buyer, CapConfirm, inEscrow, apperrors.CodeUnauthorized},
		{"stranger confirms", intruder, CapConfirm, inEscrow, apperrors.CodeNotFound},
		{"buyer refunds hold", buyer, CapRequestRefund, inEscrow, ""},
		{"provider refunds", provider, CapRequestRefund, inEscrow, apperrors.CodeUnauthorized},
		{"buyer refunds confirmed", buyer, CapRequestRefund, confirmed, apperrors.CodeUnauthorized},
		{"admin refunds confirmed", admin, CapRequestRefund, confirmed, ""},
		{"provider disputes", provider, CapDispute, inEscrow, ""},
		{"buyer resolves", buyer, CapResolveDispute, inEscrow, apperrors.CodeUnauthorized},
		{"stranger resolves", intruder, CapResolveDispute, inEscrow, apperrors.CodeNotFound},
		{"moderator resolves", moderator, CapResolveDispute, inEscrow, ""},
		{"provider processes refund", provider, CapProcessRefund, inEscrow, apperrors.CodeUnauthorized},
		{"missing transaction", buyer, CapView, nil, apperrors.CodeNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Gate{}.Authorize(tt.actor, tt.capability, tt.tx)
			if tt.want == "" {
				if err != nil {
					t.Fatalf("expected allowed, got %v", err)
				}
				return
			}
			expectCode(t, err, tt.want)
		})
	}
}

func TestActorRoleOn(t *testing.T) {
	tx := &models.Transaction{BuyerID: buyer.UserID, ProviderID: provider.UserID}
	cases := map[string]Actor{
		"system":   SystemActor,
		"admin":    admin,
		"buyer":    buyer,
		"provider": provider,
		"user":     intruder,
	}
	for want, actor := range cases {
		if got := actor.RoleOn(tx); got != want {
			t.Errorf("RoleOn for %q = %q, want %q", actor.UserID, got, want)
		}
	}
}
