package ledger_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/MziziM/ChurpayPlatform-sub002/internal/adapter/storage"
	"github.com/MziziM/ChurpayPlatform-sub002/internal/core/domain"
	"github.com/MziziM/ChurpayPlatform-sub002/internal/core/ledger"
)

func newLedger(t *testing.T) *ledger.Ledger {
	t.Helper()
	return ledger.New(storage.NewMemoryStore(),
		ledger.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		ledger.WithLocker(ledger.NewLocker(time.Second)),
		ledger.WithRetry(3, time.Millisecond))
}

func openAccount(t *testing.T, l *ledger.Ledger, balance int64) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	acc := domain.Account{
		ID: uuid.New(), OwnerType: domain.OwnerMember, OwnerName: "Ayanda",
		Currency: domain.ZAR, Active: true, CreatedAt: l.Now(), UpdatedAt: l.Now(),
	}
	if err := l.Store().WithTx(ctx, func(tx ledger.Tx) error { return tx.InsertAccount(ctx, acc) }); err != nil {
		t.Fatal(err)
	}
	if balance > 0 {
		if _, err := l.Record(ctx, "seed:"+acc.ID.String(), ledger.Draft{
			AccountID: acc.ID, Type: domain.TxDeposit, Amount: domain.NewMoney(balance, domain.ZAR),
		}); err != nil {
			t.Fatal(err)
		}
	}
	return acc.ID
}

func account(t *testing.T, l *ledger.Ledger, id uuid.UUID) domain.Account {
	t.Helper()
	acc, err := l.Store().Account(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	return acc
}

func TestPostReplayAndConflict(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t)
	a := openAccount(t, l, 0)

	d := ledger.Draft{AccountID: a, Type: domain.TxDeposit, Amount: domain.NewMoney(700, domain.ZAR)}
	first, err := l.Record(ctx, "ref-1", d)
	if err != nil {
		t.Fatal(err)
	}
	again, err := l.Record(ctx, "ref-1", d)
	if err != nil || again.ID != first.ID {
		t.Fatalf("replay: %v %v", again.ID, err)
	}
	d.Amount = domain.NewMoney(701, domain.ZAR)
	if _, err := l.Record(ctx, "ref-1", d); !errors.Is(err, domain.ErrDuplicateReference) {
		t.Errorf("expected ErrDuplicateReference, got %v", err)
	}
	if got := account(t, l, a).Available; got != 700 {
		t.Errorf("available = %d, want 700", got)
	}
}

func TestPostRejectsOverdraft(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t)
	a := openAccount(t, l, 500)
	b := openAccount(t, l, 0)

	_, err := l.Post(ctx, "move", ledger.Draft{
		AccountID: a, Type: domain.TxTransferSent, Amount: domain.NewMoney(-501, domain.ZAR), CounterpartyID: &b,
	}, ledger.Draft{
		AccountID: b, Type: domain.TxTransferReceived, Amount: domain.NewMoney(501, domain.ZAR), CounterpartyID: &a,
	})
	if !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if account(t, l, a).Available != 500 || account(t, l, b).Available != 0 {
		t.Error("a rejected posting changed balances")
	}
}

func TestReverseRestoresBalanceOnce(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t)
	a := openAccount(t, l, 1000)

	fee, err := l.Record(ctx, "fee-1", ledger.Draft{AccountID: a, Type: domain.TxFee, Amount: domain.NewMoney(-300, domain.ZAR)})
	if err != nil {
		t.Fatal(err)
	}
	rev, err := l.Reverse(ctx, fee.ID)
	if err != nil {
		t.Fatal(err)
	}
	if rev.Amount.Amount != 300 || rev.ReversalOf == nil || *rev.ReversalOf != fee.ID {
		t.Errorf("reversal row %+v", rev)
	}
	if got := account(t, l, a).Available; got != 1000 {
		t.Errorf("available = %d, want 1000", got)
	}
	if _, err := l.Reverse(ctx, fee.ID); !errors.Is(err, domain.ErrNotReversible) {
		t.Errorf("second reverse: %v", err)
	}
	if _, err := l.Reverse(ctx, rev.ID); !errors.Is(err, domain.ErrNotReversible) {
		t.Errorf("reversing a reversal: %v", err)
	}
}

func TestHoldAndRelease(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t)
	a := openAccount(t, l, 1000)

	err := l.Update(ctx, []uuid.UUID{a}, func(w *ledger.Writer) error {
		_, err := w.Hold(a, domain.NewMoney(600, domain.ZAR))
		return err
	})
	if err != nil {
		t.Fatal(err)
	}
	acc := account(t, l, a)
	if acc.Available != 400 || acc.Pending != 600 {
		t.Fatalf("after hold %d/%d", acc.Available, acc.Pending)
	}

	err = l.Update(ctx, []uuid.UUID{a}, func(w *ledger.Writer) error {
		_, err := w.Hold(a, domain.NewMoney(401, domain.ZAR))
		return err
	})
	if !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Errorf("over-hold: %v", err)
	}

	// A debit drawn from the hold leaves available alone.
	if _, err := l.Record(ctx, "payout", ledger.Draft{
		AccountID: a, Type: domain.TxWithdrawal, Amount: domain.NewMoney(-600, domain.ZAR), FromHold: true,
	}); err != nil {
		t.Fatal(err)
	}
	acc = account(t, l, a)
	if acc.Available != 400 || acc.Pending != 0 {
		t.Errorf("after withdrawal %d/%d", acc.Available, acc.Pending)
	}

	r, err := l.Reconcile(ctx, a)
	if err != nil {
		t.Fatal(err)
	}
	if !r.Balanced || r.Settled.Amount != 400 {
		t.Errorf("reconcile %+v", r)
	}
}

func TestFailedRowsMoveNoMoney(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t)
	a := openAccount(t, l, 0)
	d := ledger.Draft{AccountID: a, Type: domain.TxDeposit, Amount: domain.NewMoney(900, domain.ZAR)}

	if _, err := l.RecordFailed(ctx, "topup-1", d); err != nil {
		t.Fatal(err)
	}
	if got := account(t, l, a).Available; got != 0 {
		t.Errorf("failed row moved money: %d", got)
	}
	// The reference stays usable.
	if _, err := l.Record(ctx, "topup-1", d); err != nil {
		t.Fatalf("retry after failure: %v", err)
	}
	if bal, _ := l.BalanceAsOf(ctx, a, l.Now()); bal.Amount != 900 {
		t.Errorf("balance = %d, want 900", bal.Amount)
	}
}

func TestConcurrentTransfersKeepTotals(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t)
	a := openAccount(t, l, 10_000)
	b := openAccount(t, l, 10_000)

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			from, to := a, b
			if i%2 == 1 {
				from, to = b, a
			}
			l.Post(ctx, uuid.NewString(), ledger.Draft{
				AccountID: from, Type: domain.TxTransferSent, Amount: domain.NewMoney(-100, domain.ZAR), CounterpartyID: &to,
			}, ledger.Draft{
				AccountID: to, Type: domain.TxTransferReceived, Amount: domain.NewMoney(100, domain.ZAR), CounterpartyID: &from,
			})
		}(i)
	}
	wg.Wait()

	total := account(t, l, a).Available + account(t, l, b).Available
	if total != 20_000 {
		t.Errorf("total = %d, want 20000", total)
	}
	for _, id := range []uuid.UUID{a, b} {
		if r, _ := l.Reconcile(ctx, id); !r.Balanced {
			t.Errorf("account %s out of balance", id)
		}
	}
}

func TestLockerTimesOutWithBusy(t *testing.T) {
	locks := ledger.NewLocker(20 * time.Millisecond)
	id := uuid.New()

	unlock, err := locks.Lock(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := locks.Lock(context.Background(), uuid.New(), id); !errors.Is(err, domain.ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
	unlock()

	// Nothing stays held after a failed attempt.
	unlock, err = locks.Lock(context.Background(), id)
	if err != nil {
		t.Fatalf("relock: %v", err)
	}
	unlock()
}

func TestSortIDsDedupes(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	got := ledger.SortIDs([]uuid.UUID{b, a, b})
	if len(got) != 2 {
		t.Fatalf("got %v", got)
	}
	if ledger.SortIDs([]uuid.UUID{a, b})[0] != ledger.SortIDs([]uuid.UUID{b, a})[0] {
		t.Error("order depends on input")
	}
}

func TestReconcileWhileWriting(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t)
	a := openAccount(t, l, 0)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 500; i++ {
			l.Record(ctx, fmt.Sprintf("cent-%d", i), ledger.Draft{
				AccountID: a, Type: domain.TxDeposit, Amount: domain.NewMoney(1, domain.ZAR),
			})
		}
	}()

	for running := true; running; {
		select {
		case <-done:
			running = false
		default:
		}
		r, err := l.Reconcile(ctx, a)
		if err != nil {
			t.Fatal(err)
		}
		if !r.Balanced {
			t.Fatalf("reported drift mid-write: %+v", r)
		}
	}
	if got := account(t, l, a).Available; got != 500 {
		t.Errorf("available = %d, want 500", got)
	}
}
