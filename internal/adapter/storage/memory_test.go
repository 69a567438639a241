package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/MziziM/ChurpayPlatform-sub002/internal/core/domain"
	"github.com/MziziM/ChurpayPlatform-sub002/internal/core/ledger"
)

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func seedAccount(t *testing.T, s *MemoryStore) domain.Account {
	t.Helper()
	acc := domain.Account{
		ID: uuid.New(), OwnerType: domain.OwnerMember, OwnerName: "Thandi",
		Currency: domain.ZAR, Active: true, CreatedAt: t0, UpdatedAt: t0,
	}
	err := s.WithTx(context.Background(), func(tx ledger.Tx) error {
		return tx.InsertAccount(context.Background(), acc)
	})
	if err != nil {
		t.Fatalf("insert account: %v", err)
	}
	return acc
}

func row(acc domain.Account, ref string, amount int64, at time.Time) domain.Transaction {
	return domain.Transaction{
		ID: uuid.New(), AccountID: acc.ID, Type: domain.TxDeposit,
		Amount: domain.NewMoney(amount, acc.Currency), Status: domain.StatusCompleted,
		Reference: ref, CreatedAt: at,
	}
}

func TestMemoryRollbackLeavesNoTrace(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	acc := seedAccount(t, s)

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(tx ledger.Tx) error {
		if err := tx.InsertTransaction(ctx, row(acc, "dep-1", 5000, t0)); err != nil {
			return err
		}
		acc.Available = 5000
		if err := tx.UpdateAccount(ctx, acc); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	got, err := s.Account(ctx, acc.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Available != 0 {
		t.Errorf("available = %d after rollback, want 0", got.Available)
	}
	if rows, _ := s.TransactionsByReference(ctx, "dep-1"); len(rows) != 0 {
		t.Errorf("found %d rows after rollback", len(rows))
	}
}

func TestMemoryReferenceUniqueness(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	acc := seedAccount(t, s)

	insert := func(tr domain.Transaction) error {
		return s.WithTx(ctx, func(tx ledger.Tx) error { return tx.InsertTransaction(ctx, tr) })
	}

	failed := row(acc, "dep-1", 5000, t0)
	failed.Status = domain.StatusFailed
	if err := insert(failed); err != nil {
		t.Fatalf("failed row: %v", err)
	}
	retry := failed
	retry.ID = uuid.New()
	if err := insert(retry); err != nil {
		t.Fatalf("second failed row should be allowed: %v", err)
	}
	if err := insert(row(acc, "dep-1", 5000, t0)); err != nil {
		t.Fatalf("completed after failed: %v", err)
	}
	err := insert(row(acc, "dep-1", 5000, t0))
	if !errors.Is(err, domain.ErrDuplicateReference) {
		t.Fatalf("expected ErrDuplicateReference, got %v", err)
	}

	second := row(acc, "dep-1", -100, t0)
	second.Leg = 1
	if err := insert(second); err != nil {
		t.Fatalf("another leg under the same reference: %v", err)
	}
}

func TestMemoryListDerivesReversedStatus(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	acc := seedAccount(t, s)

	orig := row(acc, "dep-1", 5000, t0)
	rev := row(acc, "reversal:"+orig.ID.String(), -5000, t0.Add(time.Minute))
	rev.ReversalOf = &orig.ID
	err := s.WithTx(ctx, func(tx ledger.Tx) error {
		if err := tx.InsertTransaction(ctx, orig); err != nil {
			return err
		}
		return tx.InsertTransaction(ctx, rev)
	})
	if err != nil {
		t.Fatal(err)
	}

	rows, total, err := s.ListTransactions(ctx, ledger.TransactionFilter{AccountID: acc.ID})
	if err != nil {
		t.Fatal(err)
	}
	if total != 2 || len(rows) != 2 {
		t.Fatalf("got %d rows (total %d), want 2", len(rows), total)
	}
	if rows[0].ID != rev.ID {
		t.Errorf("newest row should come first")
	}
	if rows[1].Status != domain.StatusReversed {
		t.Errorf("original status = %s, want reversed", rows[1].Status)
	}

	stored, _ := s.Transaction(ctx, orig.ID)
	if stored.Status != domain.StatusCompleted {
		t.Errorf("stored original was mutated to %s", stored.Status)
	}

	sum, _ := s.SumCompleted(ctx, acc.ID, t0.Add(time.Hour))
	if sum != 0 {
		t.Errorf("sum = %d, want 0", sum)
	}
	sum, _ = s.SumCompleted(ctx, acc.ID, t0)
	if sum != 5000 {
		t.Errorf("sum as of t0 = %d, want 5000", sum)
	}
}

func TestMemoryListPaginates(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	acc := seedAccount(t, s)

	err := s.WithTx(ctx, func(tx ledger.Tx) error {
		for i := 0; i < 5; i++ {
			ref := "dep-" + string(rune('a'+i))
			if err := tx.InsertTransaction(ctx, row(acc, ref, int64(100*(i+1)), t0.Add(time.Duration(i)*time.Minute))); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	page, total, err := s.ListTransactions(ctx, ledger.TransactionFilter{AccountID: acc.ID, Limit: 2, Offset: 2})
	if err != nil {
		t.Fatal(err)
	}
	if total != 5 {
		t.Errorf("total = %d, want 5", total)
	}
	if len(page) != 2 || page[0].Amount.Amount != 300 || page[1].Amount.Amount != 200 {
		t.Errorf("unexpected page: %+v", page)
	}
}

func TestMemorySumAmountsWindow(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	acc := seedAccount(t, s)

	fee := func(ref string, amount int64, at time.Time) domain.Transaction {
		tr := row(acc, ref, amount, at)
		tr.Type = domain.TxFee
		return tr
	}
	err := s.WithTx(ctx, func(tx ledger.Tx) error {
		for _, tr := range []domain.Transaction{
			fee("f-2024", -900, time.Date(2024, 12, 31, 23, 59, 59, 0, time.UTC)),
			fee("f-jan", -1000, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)),
			fee("f-dec", -2500, time.Date(2025, 12, 31, 23, 59, 59, 0, time.UTC)),
			fee("f-2026", -700, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)),
			row(acc, "dep", 99999, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)),
		} {
			if err := tx.InsertTransaction(ctx, tr); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	sum, err := s.SumAmounts(ctx, ledger.SumFilter{
		AccountID: acc.ID,
		Types:     []domain.TransactionType{domain.TxFee},
		From:      time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		To:        time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatal(err)
	}
	if sum != -3500 {
		t.Errorf("sum = %d, want -3500", sum)
	}
}

func TestMemoryPayoutKeyIsUnique(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	acc := seedAccount(t, s)

	p := domain.PayoutRequest{
		ID: uuid.New(), ChurchID: acc.ID, IdempotencyKey: "k1",
		Amount: domain.NewMoney(10000, domain.ZAR), Status: domain.PayoutRequested, RequestedAt: t0,
	}
	insert := func(p domain.PayoutRequest) error {
		return s.WithTx(ctx, func(tx ledger.Tx) error { return tx.InsertPayout(ctx, p) })
	}
	if err := insert(p); err != nil {
		t.Fatal(err)
	}
	dup := p
	dup.ID = uuid.New()
	if err := insert(dup); !errors.Is(err, domain.ErrDuplicateOperation) {
		t.Fatalf("expected ErrDuplicateOperation, got %v", err)
	}

	got, ok, err := s.PayoutByIdempotencyKey(ctx, "k1")
	if err != nil || !ok || got.ID != p.ID {
		t.Fatalf("lookup by key: %v %v %v", got.ID, ok, err)
	}
}
