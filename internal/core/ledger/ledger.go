// Package ledger owns every balance-affecting write. Transactions are only
// ever appended; account snapshots are updated in the same store transaction
// and checked against the appended amounts before commit.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/MziziM/ChurpayPlatform-sub002/internal/core/domain"
)

// Draft describes one leg to append. Amount is signed.
type Draft struct {
	AccountID         uuid.UUID
	Type              domain.TransactionType
	Amount            domain.Money
	CounterpartyID    *uuid.UUID
	ExternalReference string
	Description       string
	// FromHold draws a debit from the pending balance instead of available.
	FromHold bool
}

type Ledger struct {
	store   Store
	locks   *Locker
	now     func() time.Time
	retries int
	backoff time.Duration
	log     *slog.Logger
}

type Option func(*Ledger)

func WithClock(now func() time.Time) Option { return func(l *Ledger) { l.now = now } }
func WithLogger(log *slog.Logger) Option { return func(l *Ledger) { l.log = log } }
func WithLocker(locks *Locker) Option { return func(l *Ledger) { l.locks = locks } }

// WithRetry sets how often a Busy failure is retried and the base backoff.
func WithRetry(attempts int, backoff time.Duration) Option {
	return func(l *Ledger) {
		l.retries = attempts
		l.backoff = backoff
	}
}

func New(store Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:   store,
		locks:   NewLocker(2 * time.Second),
		now:     time.Now,
		retries: 3,
		backoff: 25 * time.Millisecond,
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Ledger) Store() Store { return l.store }
func (l *Ledger) Now() time.Time { return l.now().UTC() }
func (l *Ledger) Logger() *slog.Logger { return l.log }

// Update runs fn in one store transaction while holding the locks of
// accountIDs. Busy failures are retried with linear backoff; fn may run more
// than once and must not have effects outside the Writer.
func (l *Ledger) Update(ctx context.Context, accountIDs []uuid.UUID, fn func(w *Writer) error) error {
	var err error
	for attempt := 0; attempt <= l.retries; attempt++ {
		if attempt > 0 {
			wait := time.Duration(attempt) * l.backoff
			l.log.Debug("ledger busy, retrying", "attempt", attempt, "wait", wait, "accounts", accountIDs)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		err = l.update(ctx, accountIDs, fn)
		if !domain.Retryable(err) {
			return err
		}
	}
	return err
}

func (l *Ledger) update(ctx context.Context, accountIDs []uuid.UUID, fn func(w *Writer) error) error {
	unlock, err := l.locks.Lock(ctx, accountIDs...)
	if err != nil {
		return err
	}
	defer unlock()

	return l.store.WithTx(ctx, func(tx Tx) error {
		return fn(&Writer{ctx: ctx, tx: tx, now: l.Now(), log: l.log})
	})
}

// Record appends a single leg under d's reference.
func (l *Ledger) Record(ctx context.Context, reference string, d Draft) (domain.Transaction, error) {
	txs, err := l.Post(ctx, reference, d)
	if err != nil {
		return domain.Transaction{}, err
	}
	return txs[0], nil
}

// Post appends all legs atomically under one reference code. Replaying an
// identical posting returns the original rows.
func (l *Ledger) Post(ctx context.Context, reference string, drafts ...Draft) ([]domain.Transaction, error) {
	ids := make([]uuid.UUID, 0, len(drafts))
	for _, d := range drafts {
		ids = append(ids, d.AccountID)
	}
	var out []domain.Transaction
	err := l.Update(ctx, ids, func(w *Writer) error {
		var err error
		out, err = w.Post(reference, drafts...)
		return err
	})
	if err != nil {
		return nil, domain.Wrap("ledger.post", reference, err)
	}
	return out, nil
}

// RecordFailed appends an attempt that moved no money, for audit.
func (l *Ledger) RecordFailed(ctx context.Context, reference string, d Draft) (domain.Transaction, error) {
	var out domain.Transaction
	err := l.store.WithTx(ctx, func(tx Tx) error {
		w := &Writer{ctx: ctx, tx: tx, now: l.Now(), log: l.log}
		var err error
		out, err = w.RecordFailed(reference, d)
		return err
	})
	return out, domain.Wrap("ledger.record_failed", reference, err)
}

// Reverse appends the inverse of a completed transaction.
func (l *Ledger) Reverse(ctx context.Context, transactionID uuid.UUID) (domain.Transaction, error) {
	orig, err := l.store.Transaction(ctx, transactionID)
	if err != nil {
		return domain.Transaction{}, domain.Wrap("ledger.reverse", transactionID.String(), err)
	}
	var out domain.Transaction
	err = l.Update(ctx, []uuid.UUID{orig.AccountID}, func(w *Writer) error {
		var err error
		out, err = w.Reverse(transactionID)
		return err
	})
	return out, domain.Wrap("ledger.reverse", transactionID.String(), err)
}

// BalanceAsOf replays the completed transactions up to and including at.
func (l *Ledger) BalanceAsOf(ctx context.Context, accountID uuid.UUID, at time.Time) (domain.Money, error) {
	acc, err := l.store.Account(ctx, accountID)
	if err != nil {
		return domain.Money{}, domain.Wrap("ledger.balance_as_of", accountID.String(), err)
	}
	sum, err := l.store.SumCompleted(ctx, accountID, at.UTC())
	if err != nil {
		return domain.Money{}, domain.Wrap("ledger.balance_as_of", accountID.String(), err)
	}
	return domain.NewMoney(sum, acc.Currency), nil
}

type Reconciliation struct {
	AccountID uuid.UUID    `json:"account_id"`
	Available domain.Money `json:"available"`
	Pending   domain.Money `json:"pending"`
	Settled   domain.Money `json:"settled"`
	Balanced  bool         `json:"balanced"`
}

// Reconcile compares the snapshot with a full replay of the account. Both
// come from one read, so writers in flight never show up as drift.
func (l *Ledger) Reconcile(ctx context.Context, accountID uuid.UUID) (Reconciliation, error) {
	acc, sum, err := l.store.AccountSettled(ctx, accountID)
	if err != nil {
		return Reconciliation{}, domain.Wrap("ledger.reconcile", accountID.String(), err)
	}
	r := Reconciliation{
		AccountID: accountID,
		Available: acc.AvailableMoney(),
		Pending:   acc.PendingMoney(),
		Settled:   domain.NewMoney(sum, acc.Currency),
		Balanced:  acc.Available+acc.Pending == sum,
	}
	if !r.Balanced {
		l.log.Error("ledger out of balance", "account_id", accountID,
			"available", acc.Available, "pending", acc.Pending, "settled", sum)
	}
	return r, nil
}

// Writer is the handle passed to Update callbacks.
type Writer struct {
	ctx context.Context
	tx  Tx
	now time.Time
	log *slog.Logger
}

func (w *Writer) Tx() Tx { return w.tx }
func (w *Writer) Now() time.Time { return w.now }
func (w *Writer) Context() context.Context { return w.ctx }

func (w *Writer) account(id uuid.UUID) (domain.Account, error) {
	accs, err := w.tx.LockAccounts(w.ctx, id)
	if err != nil {
		return domain.Account{}, err
	}
	acc, ok := accs[id]
	if !ok {
		return domain.Account{}, fmt.Errorf("account %s: %w", id, domain.ErrNotFound)
	}
	return acc, nil
}

// Post appends the legs and adjusts the snapshots. See Ledger.Post.
func (w *Writer) Post(reference string, drafts ...Draft) ([]domain.Transaction, error) {
	if reference == "" {
		return nil, fmt.Errorf("%w: reference code is required", domain.ErrValidation)
	}
	if len(drafts) == 0 {
		return nil, fmt.Errorf("%w: posting has no legs", domain.ErrValidation)
	}

	existing, err := w.settledByReference(reference)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		if samePosting(existing, drafts) {
			w.log.Debug("ledger replay", "reference", reference)
			return existing, nil
		}
		return nil, fmt.Errorf("reference %q: %w", reference, domain.ErrDuplicateReference)
	}

	ids := make([]uuid.UUID, 0, len(drafts))
	for _, d := range drafts {
		ids = append(ids, d.AccountID)
	}
	ids = SortIDs(ids)
	accounts, err := w.tx.LockAccounts(w.ctx, ids...)
	if err != nil {
		return nil, err
	}
	before := make(map[uuid.UUID]domain.Account, len(accounts))
	delta := make(map[uuid.UUID]int64, len(accounts))

	out := make([]domain.Transaction, 0, len(drafts))
	for i, d := range drafts {
		acc, ok := accounts[d.AccountID]
		if !ok {
			return nil, fmt.Errorf("account %s: %w", d.AccountID, domain.ErrNotFound)
		}
		if _, seen := before[acc.ID]; !seen {
			before[acc.ID] = acc
		}
		if err := validateDraft(acc, d); err != nil {
			return nil, err
		}
		acc, err = apply(acc, d.Amount.Amount, d.FromHold)
		if err != nil {
			return nil, fmt.Errorf("account %s: %w", acc.ID, err)
		}
		acc.UpdatedAt = w.now
		accounts[acc.ID] = acc
		delta[acc.ID] += d.Amount.Amount

		out = append(out, domain.Transaction{
			ID:                uuid.New(),
			AccountID:         d.AccountID,
			Type:              d.Type,
			Amount:            d.Amount,
			Status:            domain.StatusCompleted,
			Reference:         reference,
			Leg:               i,
			CounterpartyID:    d.CounterpartyID,
			ExternalReference: d.ExternalReference,
			Description:       d.Description,
			CreatedAt:         w.now,
		})
	}

	if err := checkSnapshots(before, accounts, delta); err != nil {
		w.log.Error("ledger post-condition failed", "reference", reference, "error", err)
		return nil, err
	}
	for _, t := range out {
		if err := w.tx.InsertTransaction(w.ctx, t); err != nil {
			return nil, err
		}
	}
	for _, id := range ids {
		if err := w.tx.UpdateAccount(w.ctx, accounts[id]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// RecordFailed appends a failed row. It never touches balances and is exempt
// from reference uniqueness so a failed attempt can be retried.
func (w *Writer) RecordFailed(reference string, d Draft) (domain.Transaction, error) {
	if !d.Type.Valid() {
		return domain.Transaction{}, fmt.Errorf("%w: unknown transaction type %q", domain.ErrValidation, d.Type)
	}
	t := domain.Transaction{
		ID:                uuid.New(),
		AccountID:         d.AccountID,
		Type:              d.Type,
		Amount:            d.Amount,
		Status:            domain.StatusFailed,
		Reference:         reference,
		CounterpartyID:    d.CounterpartyID,
		ExternalReference: d.ExternalReference,
		Description:       d.Description,
		CreatedAt:         w.now,
	}
	return t, w.tx.InsertTransaction(w.ctx, t)
}

// Reverse appends a completed entry with the inverse amount. The original row
// is left untouched. Credits from a reversal always land in available.
func (w *Writer) Reverse(transactionID uuid.UUID) (domain.Transaction, error) {
	orig, err := w.tx.Transaction(w.ctx, transactionID)
	if err != nil {
		return domain.Transaction{}, err
	}
	if orig.Status != domain.StatusCompleted || orig.ReversalOf != nil {
		return domain.Transaction{}, fmt.Errorf("transaction %s in status %s: %w", orig.ID, orig.Status, domain.ErrNotReversible)
	}
	if _, found, err := w.tx.ReversalOf(w.ctx, orig.ID); err != nil {
		return domain.Transaction{}, err
	} else if found {
		return domain.Transaction{}, fmt.Errorf("transaction %s already reversed: %w", orig.ID, domain.ErrNotReversible)
	}

	acc, err := w.account(orig.AccountID)
	if err != nil {
		return domain.Transaction{}, err
	}
	before := acc
	amount := orig.Amount.Neg()
	acc, err = apply(acc, amount.Amount, false)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("account %s: %w", acc.ID, err)
	}
	acc.UpdatedAt = w.now
	if err := checkSnapshots(
		map[uuid.UUID]domain.Account{acc.ID: before},
		map[uuid.UUID]domain.Account{acc.ID: acc},
		map[uuid.UUID]int64{acc.ID: amount.Amount},
	); err != nil {
		return domain.Transaction{}, err
	}

	origID := orig.ID
	rev := domain.Transaction{
		ID:             uuid.New(),
		AccountID:      orig.AccountID,
		Type:           orig.Type,
		Amount:         amount,
		Status:         domain.StatusCompleted,
		Reference:      "reversal:" + orig.ID.String(),
		CounterpartyID: orig.CounterpartyID,
		ReversalOf:     &origID,
		Description:    "reversal of " + orig.Reference,
		CreatedAt:      w.now,
	}
	if err := w.tx.InsertTransaction(w.ctx, rev); err != nil {
		return domain.Transaction{}, err
	}
	if err := w.tx.UpdateAccount(w.ctx, acc); err != nil {
		return domain.Transaction{}, err
	}
	return rev, nil
}

// Hold reserves amount: available -> pending. No transaction is written.
func (w *Writer) Hold(accountID uuid.UUID, amount domain.Money) (domain.Account, error) {
	acc, err := w.account(accountID)
	if err != nil {
		return domain.Account{}, err
	}
	if !acc.Active {
		return domain.Account{}, fmt.Errorf("account %s: %w", acc.ID, domain.ErrAccountInactive)
	}
	if amount.Currency != acc.Currency {
		return domain.Account{}, fmt.Errorf("%w: account is %s, hold is %s", domain.ErrCurrencyMismatch, acc.Currency, amount.Currency)
	}
	if !amount.IsPositive() {
		return domain.Account{}, fmt.Errorf("%w: hold amount must be positive", domain.ErrValidation)
	}
	if acc.Available < amount.Amount {
		return domain.Account{}, fmt.Errorf("account %s: available %d, hold %d: %w", acc.ID, acc.Available, amount.Amount, domain.ErrInsufficientFunds)
	}
	acc.Available -= amount.Amount
	acc.Pending += amount.Amount
	acc.UpdatedAt = w.now
	return acc, w.tx.UpdateAccount(w.ctx, acc)
}

// Release returns a hold: pending -> available.
func (w *Writer) Release(accountID uuid.UUID, amount domain.Money) (domain.Account, error) {
	acc, err := w.account(accountID)
	if err != nil {
		return domain.Account{}, err
	}
	if acc.Pending < amount.Amount || amount.Amount < 0 {
		return domain.Account{}, fmt.Errorf("account %s: pending %d, release %d: %w", acc.ID, acc.Pending, amount.Amount, domain.ErrInvariant)
	}
	acc.Pending -= amount.Amount
	acc.Available += amount.Amount
	acc.UpdatedAt = w.now
	return acc, w.tx.UpdateAccount(w.ctx, acc)
}

func (w *Writer) settledByReference(reference string) ([]domain.Transaction, error) {
	rows, err := w.tx.TransactionsByReference(w.ctx, reference)
	if err != nil {
		return nil, err
	}
	out := rows[:0:0]
	for _, t := range rows {
		if t.Status != domain.StatusFailed {
			out = append(out, t)
		}
	}
	slices.SortFunc(out, func(a, b domain.Transaction) int { return a.Leg - b.Leg })
	return out, nil
}

func validateDraft(acc domain.Account, d Draft) error {
	if !d.Type.Valid() {
		return fmt.Errorf("%w: unknown transaction type %q", domain.ErrValidation, d.Type)
	}
	if d.Amount.IsZero() {
		return fmt.Errorf("%w: amount must be non-zero", domain.ErrValidation)
	}
	if d.Amount.Currency != acc.Currency {
		return fmt.Errorf("%w: account is %s, leg is %s", domain.ErrCurrencyMismatch, acc.Currency, d.Amount.Currency)
	}
	if d.FromHold && !d.Amount.IsNegative() {
		return fmt.Errorf("%w: only debits can draw from a hold", domain.ErrValidation)
	}
	if !acc.Active {
		return fmt.Errorf("account %s: %w", acc.ID, domain.ErrAccountInactive)
	}
	return nil
}

// apply adds a signed amount to the right side of the snapshot.
func apply(acc domain.Account, amount int64, fromHold bool) (domain.Account, error) {
	switch {
	case amount >= 0:
		acc.Available += amount
	case fromHold:
		if acc.Pending < -amount {
			return acc, fmt.Errorf("pending %d, debit %d: %w", acc.Pending, -amount, domain.ErrInsufficientFunds)
		}
		acc.Pending += amount
	default:
		if acc.Available < -amount {
			return acc, fmt.Errorf("available %d, debit %d: %w", acc.Available, -amount, domain.ErrInsufficientFunds)
		}
		acc.Available += amount
	}
	return acc, nil
}

// checkSnapshots verifies after == before + applied amounts for every touched
// account, and that neither side went negative.
func checkSnapshots(before, after map[uuid.UUID]domain.Account, delta map[uuid.UUID]int64) error {
	var errs []error
	for id, b := range before {
		a := after[id]
		if a.Available+a.Pending != b.Available+b.Pending+delta[id] {
			errs = append(errs, fmt.Errorf("account %s: snapshot %d, expected %d: %w",
				id, a.Available+a.Pending, b.Available+b.Pending+delta[id], domain.ErrInvariant))
		}
		if a.Available < 0 || a.Pending < 0 {
			errs = append(errs, fmt.Errorf("account %s: negative balance: %w", id, domain.ErrInvariant))
		}
	}
	return errors.Join(errs...)
}

func samePosting(existing []domain.Transaction, drafts []Draft) bool {
	if len(existing) != len(drafts) {
		return false
	}
	for i, d := range drafts {
		t := existing[i]
		if t.AccountID != d.AccountID || t.Type != d.Type || t.Amount != d.Amount {
			return false
		}
		if (t.CounterpartyID == nil) != (d.CounterpartyID == nil) {
			return false
		}
		if t.CounterpartyID != nil && *t.CounterpartyID != *d.CounterpartyID {
			return false
		}
	}
	return true
}
