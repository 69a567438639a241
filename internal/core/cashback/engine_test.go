package cashback

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/MziziM/ChurpayPlatform-sub002/internal/adapter/storage"
	"github.com/MziziM/ChurpayPlatform-sub002/internal/core/domain"
	"github.com/MziziM/ChurpayPlatform-sub002/internal/core/ledger"
)

// clock is a settable time source for the ledger.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type fixture struct {
	clock  *clock
	ledger *ledger.Ledger
	engine *Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	c := &clock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	l := ledger.New(storage.NewMemoryStore(),
		ledger.WithClock(c.Now),
		ledger.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		ledger.WithRetry(3, time.Millisecond))
	return &fixture{clock: c, ledger: l, engine: NewEngine(l, DefaultRate, 3, nil)}
}

func (f *fixture) church(t *testing.T) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	now := f.clock.Now()
	acc := domain.Account{
		ID: uuid.New(), OwnerType: domain.OwnerChurch, OwnerName: "St. Mark's",
		Currency: domain.ZAR, Active: true, CreatedAt: now, UpdatedAt: now,
	}
	if err := f.ledger.Store().WithTx(ctx, func(tx ledger.Tx) error { return tx.InsertAccount(ctx, acc) }); err != nil {
		t.Fatal(err)
	}
	// Enough to cover any fee the tests charge.
	if _, err := f.ledger.Record(ctx, "seed:"+acc.ID.String(), ledger.Draft{
		AccountID: acc.ID, Type: domain.TxDeposit, Amount: domain.NewMoney(10_000_000, domain.ZAR),
	}); err != nil {
		t.Fatal(err)
	}
	return acc.ID
}

// chargeFee posts a fee debit at the given instant.
func (f *fixture) chargeFee(t *testing.T, church uuid.UUID, amount int64, at time.Time) domain.Transaction {
	t.Helper()
	f.clock.Set(at)
	tx, err := f.ledger.Record(context.Background(), "fee:"+uuid.NewString(), ledger.Draft{
		AccountID: church, Type: domain.TxFee, Amount: domain.NewMoney(-amount, domain.ZAR),
	})
	if err != nil {
		t.Fatal(err)
	}
	return tx
}

func TestCashbackAmountRoundsHalfUp(t *testing.T) {
	e := &Engine{rate: DefaultRate}
	tests := []struct {
		fees int64
		want int64
	}{
		{0, 0},
		{2500, 250},
		{1005, 101}, // 100.5 rounds up
		{1004, 100},
		{14, 1},
		{15, 2},
	}
	for _, tt := range tests {
		if got := e.Amount(domain.NewMoney(tt.fees, domain.ZAR)); got.Amount != tt.want {
			t.Errorf("Amount(%d) = %d, want %d", tt.fees, got.Amount, tt.want)
		}
	}
}

func TestCalculateSumsFeesInCalendarYear(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	church := f.church(t)

	f.chargeFee(t, church, 900, time.Date(2024, 12, 31, 23, 59, 59, 0, time.UTC))
	f.chargeFee(t, church, 2500, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	f.chargeFee(t, church, 7550, time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC))
	reversed := f.chargeFee(t, church, 5000, time.Date(2025, 4, 2, 10, 0, 0, 0, time.UTC))
	if _, err := f.ledger.Reverse(ctx, reversed.ID); err != nil {
		t.Fatal(err)
	}
	f.clock.Set(time.Date(2025, 12, 31, 12, 0, 0, 0, time.UTC))

	r, err := f.engine.Calculate(ctx, church, 2025, "finance-admin")
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	if r.TotalFees.Amount != 10050 {
		t.Errorf("total fees = %d, want 10050", r.TotalFees.Amount)
	}
	if r.Amount.Amount != 1005 {
		t.Errorf("cashback = %d, want 1005", r.Amount.Amount)
	}
	if r.Status != domain.CashbackCalculated {
		t.Errorf("status = %s", r.Status)
	}

	// More fees later do not change an existing record.
	f.chargeFee(t, church, 10000, time.Date(2025, 12, 31, 13, 0, 0, 0, time.UTC))
	again, err := f.engine.Calculate(ctx, church, 2025, "someone-else")
	if err != nil {
		t.Fatal(err)
	}
	if again.ID != r.ID || again.Amount != r.Amount || again.CalculatedBy != "finance-admin" {
		t.Errorf("re-run changed the record: %+v", again)
	}
	records, _ := f.engine.List(ctx, church, 2025)
	if len(records) != 1 {
		t.Errorf("got %d records, want 1", len(records))
	}
}

func TestCalculateRejectsFutureYear(t *testing.T) {
	f := newFixture(t)
	church := f.church(t)
	if _, err := f.engine.Calculate(context.Background(), church, 2026, "admin"); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestApproveThenPay(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	church := f.church(t)
	f.chargeFee(t, church, 40000, time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC))

	r, err := f.engine.Calculate(ctx, church, 2025, "admin")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.engine.Pay(ctx, r.ID, "admin"); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("Pay before approval: %v", err)
	}

	before, _ := f.ledger.Store().Account(ctx, church)
	if _, err := f.engine.Approve(ctx, r.ID, "approver"); err != nil {
		t.Fatal(err)
	}
	afterApprove, _ := f.ledger.Store().Account(ctx, church)
	if afterApprove.Available != before.Available {
		t.Errorf("Approve moved money")
	}

	paid, err := f.engine.Pay(ctx, r.ID, "payer")
	if err != nil {
		t.Fatalf("Pay: %v", err)
	}
	if paid.Status != domain.CashbackPaid || paid.TransactionID == nil || paid.PaidBy != "payer" {
		t.Fatalf("after pay: %+v", paid)
	}
	acc, _ := f.ledger.Store().Account(ctx, church)
	if acc.Available != before.Available+4000 {
		t.Errorf("available = %d, want %d", acc.Available, before.Available+4000)
	}

	// Pay is idempotent.
	if _, err := f.engine.Pay(ctx, r.ID, "payer"); err != nil {
		t.Fatalf("replayed Pay: %v", err)
	}
	acc, _ = f.ledger.Store().Account(ctx, church)
	if acc.Available != before.Available+4000 {
		t.Errorf("replayed Pay credited twice: %d", acc.Available)
	}
	if _, err := f.engine.Approve(ctx, r.ID, "approver"); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("Approve after pay: %v", err)
	}

	rows, _, _ := f.ledger.Store().ListTransactions(ctx, ledger.TransactionFilter{
		AccountID: church, Types: []domain.TransactionType{domain.TxCashback},
	})
	if len(rows) != 1 || rows[0].Reference != r.Reference() {
		t.Errorf("cashback rows = %+v", rows)
	}
}

func TestPayZeroCashbackWritesNoTransaction(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	church := f.church(t)

	r, err := f.engine.Calculate(ctx, church, 2025, "admin")
	if err != nil {
		t.Fatal(err)
	}
	f.engine.Approve(ctx, r.ID, "admin")
	paid, err := f.engine.Pay(ctx, r.ID, "admin")
	if err != nil {
		t.Fatal(err)
	}
	if paid.Status != domain.CashbackPaid || paid.TransactionID != nil {
		t.Errorf("zero cashback: %+v", paid)
	}
}

func TestCalculateYearCoversEveryChurch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	e := NewEngine(f.ledger, decimal.RequireFromString("0.10"), 2, nil)

	churches := make([]uuid.UUID, 5)
	for i := range churches {
		churches[i] = f.church(t)
		f.chargeFee(t, churches[i], int64(1000*(i+1)), time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC))
	}
	f.clock.Set(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))

	// One church already calculated: the batch returns it unchanged.
	existing, err := e.Calculate(ctx, churches[0], 2025, "early")
	if err != nil {
		t.Fatal(err)
	}

	res, err := e.CalculateYear(ctx, 2025, "batch")
	if err != nil {
		t.Fatalf("CalculateYear: %v", err)
	}
	if len(res.Records) != 5 || len(res.Failed) != 0 {
		t.Fatalf("records %d failed %v", len(res.Records), res.Failed)
	}
	for _, r := range res.Records {
		if r.ChurchID == churches[0] && r.ID != existing.ID {
			t.Errorf("batch replaced an existing record")
		}
	}

	// Running the batch twice creates nothing new.
	if _, err := e.CalculateYear(ctx, 2025, "batch"); err != nil {
		t.Fatal(err)
	}
	all, _ := e.List(ctx, uuid.Nil, 2025)
	if len(all) != 5 {
		t.Errorf("got %d records after two batches, want 5", len(all))
	}
}
