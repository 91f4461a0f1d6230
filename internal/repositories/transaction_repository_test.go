package repositories_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"EscrowEngine/internal/database/dbtest"
	"EscrowEngine/internal/models"
	"EscrowEngine/internal/repositories"
)

func newTransaction(buyer, provider string, status models.TransactionStatus) *models.Transaction {
	return &models.Transaction{
		BuyerID:       buyer,
		ProviderID:    provider,
		Amount:        1500,
		PaymentMethod: models.PaymentMpesa,
		Status:        status,
	}
}

func TestCreateAssignsIDAndVersion(t *testing.T) {
	store := repositories.NewStore(dbtest.New(t))
	ctx := context.Background()

	tx := newTransaction("buyer-1", "provider-1", models.TransactionPending)
	if err := store.Transactions().Create(ctx, tx); err != nil {
		t.Fatalf("create: %v", err)
	}
	if tx.ID == "" || tx.Version != 1 {
		t.Fatalf("expected id and version 1, got %q/%d", tx.ID, tx.Version)
	}

	got, err := store.Transactions().FindByID(ctx, tx.ID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got.Status != models.TransactionPending || got.Amount != 1500 {
		t.Fatalf("unexpected row %+v", got)
	}
}

func TestFindByIDNotFound(t *testing.T) {
	store := repositories.NewStore(dbtest.New(t))

	_, err := store.Transactions().FindByID(context.Background(), "missing")
	if !errors.Is(err, repositories.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCompareAndSwapRejectsStaleVersion(t *testing.T) {
	store := repositories.NewStore(dbtest.New(t))
	ctx := context.Background()

	tx := newTransaction("buyer-1", "provider-1", models.TransactionPending)
	if err := store.Transactions().Create(ctx, tx); err != nil {
		t.Fatalf("create: %v", err)
	}

	first := *tx
	first.Status = models.TransactionInEscrow
	ok, err := store.Transactions().CompareAndSwap(ctx, &first, 1)
	if err != nil || !ok {
		t.Fatalf("expected first swap to win, ok=%v err=%v", ok, err)
	}
	if first.Version != 2 {
		t.Fatalf("expected version 2, got %d", first.Version)
	}

	second := *tx
	second.Status = models.TransactionInEscrow
	ok, err = store.Transactions().CompareAndSwap(ctx, &second, 1)
	if err != nil {
		t.Fatalf("swap: %v", err)
	}
	if ok {
		t.Fatal("expected stale swap to lose")
	}

	got, _ := store.Transactions().FindByID(ctx, tx.ID)
	if got.Version != 2 || got.Status != models.TransactionInEscrow {
		t.Fatalf("unexpected persisted state %s/v%d", got.Status, got.Version)
	}
}

func TestListExpiredOnlyReturnsDueHolds(t *testing.T) {
	store := repositories.NewStore(dbtest.New(t))
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)

	due := newTransaction("b", "p", models.TransactionInEscrow)
	due.EscrowExpiresAt = &past
	notDue := newTransaction("b", "p", models.TransactionInEscrow)
	notDue.EscrowExpiresAt = &future
	confirmed := newTransaction("b", "p", models.TransactionConfirmed)
	confirmed.EscrowExpiresAt = &past

	for _, tx := range []*models.Transaction{due, notDue, confirmed} {
		if err := store.Transactions().Create(ctx, tx); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	expired, err := store.Transactions().ListExpired(ctx, now, 10)
	if err != nil {
		t.Fatalf("list expired: %v", err)
	}
	if len(expired) != 1 || expired[0].ID != due.ID {
		t.Fatalf("expected only %s, got %+v", due.ID, expired)
	}
}

func TestListFiltersByRoleAndStatus(t *testing.T) {
	store := repositories.NewStore(dbtest.New(t))
	ctx := context.Background()

	seed := []*models.Transaction{
		newTransaction("alice", "bob", models.TransactionPending),
		newTransaction("alice", "carol", models.TransactionInEscrow),
		newTransaction("bob", "alice", models.TransactionPending),
		newTransaction("dave", "carol", models.TransactionPending),
	}
	for _, tx := range seed {
		if err := store.Transactions().Create(ctx, tx); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	tests := []struct {
		name   string
		filter repositories.TransactionFilter
		want   int
	}{
		{"any role", repositories.TransactionFilter{UserID: "alice"}, 3},
		{"buyer", repositories.TransactionFilter{UserID: "alice", Role: repositories.PartyBuyer}, 2},
		{"provider", repositories.TransactionFilter{UserID: "alice", Role: repositories.PartyProvider}, 1},
		{"any role with status", repositories.TransactionFilter{UserID: "alice", Status: models.TransactionPending}, 2},
		{"everyone", repositories.TransactionFilter{}, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			txs, err := store.Transactions().List(ctx, tt.filter)
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if len(txs) != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, len(txs))
			}
		})
	}
}

func TestSummary(t *testing.T) {
	store := repositories.NewStore(dbtest.New(t))
	ctx := context.Background()

	seed := []*models.Transaction{
		newTransaction("buyer", "prov", models.TransactionInEscrow),
		newTransaction("buyer", "prov", models.TransactionCompleted),
		newTransaction("buyer", "prov", models.TransactionCompleted),
		newTransaction("buyer", "other", models.TransactionRefunded),
	}
	for _, tx := range seed {
		if err := store.Transactions().Create(ctx, tx); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	s, err := store.Transactions().Summary(ctx, "prov", repositories.PartyProvider)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if s.Total != 3 || s.InEscrowCount != 1 || s.InEscrowAmount != 1500 || s.CompletedAmount != 3000 || s.RefundedAmount != 0 {
		t.Fatalf("unexpected provider summary %+v", s)
	}

	s, err = store.Transactions().Summary(ctx, "buyer", repositories.PartyBuyer)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if s.Total != 4 || s.RefundedAmount != 1500 {
		t.Fatalf("unexpected buyer summary %+v", s)
	}
}

func TestWithinTxRollsBackOnError(t *testing.T) {
	store := repositories.NewStore(dbtest.New(t))
	ctx := context.Background()
	boom := errors.New("boom")

	var createdID string
	err := store.WithinTx(ctx, func(s repositories.Store) error {
		tx := newTransaction("b", "p", models.TransactionPending)
		if err := s.Transactions().Create(ctx, tx); err != nil {
			return err
		}
		createdID = tx.ID
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	if _, err := store.Transactions().FindByID(ctx, createdID); !errors.Is(err, repositories.ErrNotFound) {
		t.Fatalf("expected rollback, got %v", err)
	}
}

func TestEventsOrderedByVersion(t *testing.T) {
	store := repositories.NewStore(dbtest.New(t))
	ctx := context.Background()

	for _, v := range []int64{2, 1, 3} {
		e := &models.TransactionEvent{TransactionID: "tx-1", ToStatus: models.TransactionPending, Version: v, ActorRole: "system", Trigger: "test"}
		if err := store.Transactions().AppendEvent(ctx, e); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	events, err := store.Transactions().Events(ctx, "tx-1")
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	for i, e := range events {
		if e.Version != int64(i+1) {
			t.Fatalf("expected version %d at %d, got %d", i+1, i, e.Version)
		}
	}
}

func TestPaymentReferenceIsSingleUse(t *testing.T) {
	store := repositories.NewStore(dbtest.New(t))
	ctx := context.Background()

	held := newTransaction("buyer-1", "provider-1", models.TransactionInEscrow)
	held.PaymentReference = "ref-1"
	other := newTransaction("buyer-1", "provider-1", models.TransactionPending)
	for _, tx := range []*models.Transaction{held, other} {
		if err := store.Transactions().Create(ctx, tx); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	used, err := store.Transactions().PaymentReferenceUsed(ctx, "ref-1", other.ID)
	if err != nil || !used {
		t.Fatalf("expected ref-1 to be in use, used=%v err=%v", used, err)
	}
	if used, _ := store.Transactions().PaymentReferenceUsed(ctx, "ref-1", held.ID); used {
		t.Fatal("a transaction must not conflict with its own reference")
	}

	dup := *other
	dup.Status = models.TransactionInEscrow
	dup.PaymentReference = "ref-1"
	if ok, err := store.Transactions().CompareAndSwap(ctx, &dup, other.Version); err == nil && ok {
		t.Fatal("expected the unique index to reject a second hold on ref-1")
	}

	// unverified holds carry no reference and never collide
	blank := newTransaction("buyer-1", "provider-1", models.TransactionInEscrow)
	if err := store.Transactions().Create(ctx, blank); err != nil {
		t.Fatalf("create second blank reference: %v", err)
	}
}
