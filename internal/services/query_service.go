package services

import (
	"context"

	"EscrowEngine/internal/apperrors"
	"EscrowEngine/internal/models"
	"EscrowEngine/internal/repositories"
)

// Get returns a transaction the actor may view.
func (s *EscrowService) Get(ctx context.Context, actor Actor, id string) (*models.Transaction, error) {
	return s.load(ctx, actor, id, CapView)
}

type ListInput struct {
	Role   repositories.PartyRole
	Status models.TransactionStatus
	Limit  int
	Offset int
}

// List returns the actor's own transactions, optionally narrowed to one side.
func (s *EscrowService) List(ctx context.Context, actor Actor, in ListInput) ([]models.Transaction, error) {
	if err := validateListInput(in); err != nil {
		_, appErr := s.fail("list_transactions", nil, err)
		return nil, appErr
	}
	txs, err := s.store.Transactions().List(ctx, repositories.TransactionFilter{
		UserID: actor.UserID,
		Role:   in.Role,
		Status: in.Status,
		Limit:  in.Limit,
		Offset: in.Offset,
	})
	if err != nil {
		_, appErr := s.fail("list_transactions", nil, err)
		return nil, appErr
	}
	return txs, nil
}

// ListAll returns every transaction. Staff only.
func (s *EscrowService) ListAll(ctx context.Context, actor Actor, in ListInput) ([]models.Transaction, error) {
	if !actor.IsStaff() {
		_, err := s.fail("list_all_transactions", nil, apperrors.Unauthorized("only an administrator may do this"))
		return nil, err
	}
	in.Role = repositories.PartyAny
	if err := validateListInput(in); err != nil {
		_, appErr := s.fail("list_all_transactions", nil, err)
		return nil, appErr
	}
	txs, err := s.store.Transactions().List(ctx, repositories.TransactionFilter{
		Status: in.Status,
		Limit:  in.Limit,
		Offset: in.Offset,
	})
	if err != nil {
		_, appErr := s.fail("list_all_transactions", nil, err)
		return nil, appErr
	}
	return txs, nil
}

func validateListInput(in ListInput) error {
	switch in.Role {
	case repositories.PartyAny, repositories.PartyBuyer, repositories.PartyProvider:
	default:
		return apperrors.Validation("role must be buyer or provider")
	}
	if in.Status != "" && !in.Status.IsValid() {
		return apperrors.Validation("unknown status filter")
	}
	return nil
}

// Events returns the ordered transition history.
func (s *EscrowService) Events(ctx context.Context, actor Actor, id string) ([]models.TransactionEvent, error) {
	if _, err := s.load(ctx, actor, id, CapView); err != nil {
		return nil, err
	}
	events, err := s.store.Transactions().Events(ctx, id)
	if err != nil {
		_, appErr := s.fail("list_events", nil, err)
		return nil, appErr
	}
	return events, nil
}

func (s *EscrowService) Summary(ctx context.Context, actor Actor, role repositories.PartyRole) (*repositories.Summary, error) {
	if err := validateListInput(ListInput{Role: role}); err != nil {
		_, appErr := s.fail("summary", nil, err)
		return nil, appErr
	}
	summary, err := s.store.Transactions().Summary(ctx, actor.UserID, role)
	if err != nil {
		_, appErr := s.fail("summary", nil, err)
		return nil, appErr
	}
	return summary, nil
}
