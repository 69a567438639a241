// Package cashback computes and pays the yearly revenue share owed to each
// church out of the processing fees it paid.
package cashback

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/MziziM/ChurpayPlatform-sub002/internal/core/domain"
	"github.com/MziziM/ChurpayPlatform-sub002/internal/core/ledger"
	"github.com/MziziM/ChurpayPlatform-sub002/internal/core/notifications"
)

// DefaultRate is the share of fees returned, 10%.
var DefaultRate = decimal.RequireFromString("0.10")

type Engine struct {
	ledger   *ledger.Ledger
	rate     decimal.Decimal
	workers  int
	notifier notifications.Notifier
	log      *slog.Logger
}

func NewEngine(l *ledger.Ledger, rate decimal.Decimal, workers int, n notifications.Notifier) *Engine {
	if workers < 1 {
		workers = 1
	}
	if n == nil {
		n = notifications.Nop{}
	}
	return &Engine{ledger: l, rate: rate, workers: workers, notifier: n, log: l.Logger()}
}

// Amount is round-half-up(totalFees x rate) in minor units.
func (e *Engine) Amount(totalFees domain.Money) domain.Money {
	v := decimal.NewFromInt(totalFees.Amount).Mul(e.rate).Round(0).IntPart()
	return domain.NewMoney(v, totalFees.Currency)
}

// yearBounds is the fiscal year as a UTC calendar year, [start, end).
func yearBounds(year int) (time.Time, time.Time) {
	start := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(1, 0, 0)
}

func (e *Engine) validYear(year int) error {
	if year < 2000 || year > e.ledger.Now().Year() {
		return fmt.Errorf("%w: fiscal year %d out of range", domain.ErrValidation, year)
	}
	return nil
}

// Calculate creates the record for (church, year). Running it again returns
// the existing record unchanged.
func (e *Engine) Calculate(ctx context.Context, churchID uuid.UUID, year int, actor string) (domain.CashbackRecord, error) {
	if err := e.validYear(year); err != nil {
		return domain.CashbackRecord{}, domain.Wrap("cashback.calculate", churchID.String(), err)
	}

	var (
		out     domain.CashbackRecord
		created bool
	)
	err := e.ledger.Update(ctx, []uuid.UUID{churchID}, func(w *ledger.Writer) error {
		created = false
		tx := w.Tx()
		existing, found, err := tx.CashbackByChurchYear(w.Context(), churchID, year)
		if err != nil {
			return err
		}
		if found {
			out = existing
			return nil
		}

		acc, err := tx.Account(w.Context(), churchID)
		if err != nil {
			return err
		}
		if acc.OwnerType != domain.OwnerChurch {
			return fmt.Errorf("%w: cashback applies to church accounts only", domain.ErrValidation)
		}

		from, to := yearBounds(year)
		sum, err := tx.SumAmounts(w.Context(), ledger.SumFilter{
			AccountID: churchID,
			Types:     []domain.TransactionType{domain.TxFee},
			From:      from,
			To:        to,
		})
		if err != nil {
			return err
		}
		// Fees are debits; reversed fees net out.
		total := domain.NewMoney(max(-sum, 0), acc.Currency)

		r := domain.CashbackRecord{
			ID:           uuid.New(),
			ChurchID:     churchID,
			Year:         year,
			TotalFees:    total,
			Amount:       e.Amount(total),
			Status:       domain.CashbackCalculated,
			CalculatedAt: w.Now(),
			CalculatedBy: actor,
		}
		if err := tx.InsertCashback(w.Context(), r); err != nil {
			return err
		}
		out, created = r, true
		return nil
	})
	if err != nil {
		return domain.CashbackRecord{}, domain.Wrap("cashback.calculate", churchID.String(), err)
	}
	if created {
		e.log.Info("cashback calculated", "church_id", churchID, "year", year,
			"total_fees", out.TotalFees.String(), "amount", out.Amount.String())
	}
	return out, nil
}

type BatchResult struct {
	Year    int                     `json:"year"`
	Records []domain.CashbackRecord `json:"records"`
	Failed  map[uuid.UUID]string    `json:"failed,omitempty"`
}

// CalculateYear runs Calculate for every church account. Churches run
// concurrently, at most e.workers at a time; a failure for one church does
// not stop the others.
func (e *Engine) CalculateYear(ctx context.Context, year int, actor string) (BatchResult, error) {
	if err := e.validYear(year); err != nil {
		return BatchResult{}, domain.Wrap("cashback.calculate_year", fmt.Sprint(year), err)
	}
	churches, err := e.ledger.Store().AccountsByOwnerType(ctx, domain.OwnerChurch)
	if err != nil {
		return BatchResult{}, domain.Wrap("cashback.calculate_year", fmt.Sprint(year), err)
	}

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, e.workers)
		res = BatchResult{Year: year, Failed: make(map[uuid.UUID]string)}
	)
	for _, church := range churches {
		wg.Add(1)
		go func(id uuid.UUID) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				mu.Lock()
				res.Failed[id] = ctx.Err().Error()
				mu.Unlock()
				return
			}
			defer func() { <-sem }()

			r, err := e.Calculate(ctx, id, year, actor)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				e.log.Error("cashback calculation failed", "church_id", id, "year", year, "error", err)
				res.Failed[id] = err.Error()
				return
			}
			res.Records = append(res.Records, r)
		}(church.ID)
	}
	wg.Wait()

	e.log.Info("cashback batch finished", "year", year, "records", len(res.Records), "failed", len(res.Failed))
	return res, nil
}

// Approve moves a calculated record to approved. No money moves.
func (e *Engine) Approve(ctx context.Context, id uuid.UUID, approverID string) (domain.CashbackRecord, error) {
	r, _, err := e.transition(ctx, "cashback.approve", id, domain.CashbackApproved,
		func(w *ledger.Writer, r *domain.CashbackRecord) error {
			now := w.Now()
			r.ApprovedAt = &now
			r.ApprovedBy = approverID
			return nil
		})
	return r, err
}

// Pay credits the cashback to the church as one cashback deposit. A zero
// amount is marked paid without a transaction.
func (e *Engine) Pay(ctx context.Context, id uuid.UUID, payerID string) (domain.CashbackRecord, error) {
	r, changed, err := e.transition(ctx, "cashback.pay", id, domain.CashbackPaid,
		func(w *ledger.Writer, r *domain.CashbackRecord) error {
			if r.Amount.IsPositive() {
				txs, err := w.Post(r.Reference(), ledger.Draft{
					AccountID:   r.ChurchID,
					Type:        domain.TxCashback,
					Amount:      r.Amount,
					Description: fmt.Sprintf("%d platform fee cashback", r.Year),
				})
				if err != nil {
					return err
				}
				r.TransactionID = &txs[0].ID
			}
			now := w.Now()
			r.PaidAt = &now
			r.PaidBy = payerID
			return nil
		})
	if err == nil && changed {
		e.notifier.Notify(ctx, notifications.NewEvent(notifications.EventCashbackPaid, r.ID, r.ChurchID, *r.PaidAt, r))
	}
	return r, err
}

func (e *Engine) Get(ctx context.Context, id uuid.UUID) (domain.CashbackRecord, error) {
	r, err := e.ledger.Store().Cashback(ctx, id)
	return r, domain.Wrap("cashback.get", id.String(), err)
}

// Find returns the record of a church for a year.
func (e *Engine) Find(ctx context.Context, churchID uuid.UUID, year int) (domain.CashbackRecord, error) {
	r, found, err := e.ledger.Store().CashbackByChurchYear(ctx, churchID, year)
	if err == nil && !found {
		err = fmt.Errorf("cashback for %d: %w", year, domain.ErrNotFound)
	}
	return r, domain.Wrap("cashback.find", churchID.String(), err)
}

// List filters by church and year; zero values match everything.
func (e *Engine) List(ctx context.Context, churchID uuid.UUID, year int) ([]domain.CashbackRecord, error) {
	out, err := e.ledger.Store().ListCashback(ctx, ledger.CashbackFilter{ChurchID: churchID, Year: year})
	return out, domain.Wrap("cashback.list", churchID.String(), err)
}

func (e *Engine) transition(
	ctx context.Context,
	op string,
	id uuid.UUID,
	target domain.CashbackStatus,
	fn func(w *ledger.Writer, r *domain.CashbackRecord) error,
) (domain.CashbackRecord, bool, error) {
	current, err := e.ledger.Store().Cashback(ctx, id)
	if err != nil {
		return domain.CashbackRecord{}, false, domain.Wrap(op, id.String(), err)
	}

	var (
		out     domain.CashbackRecord
		changed bool
	)
	err = e.ledger.Update(ctx, []uuid.UUID{current.ChurchID}, func(w *ledger.Writer) error {
		changed = false
		r, err := w.Tx().Cashback(w.Context(), id)
		if err != nil {
			return err
		}
		if r.Status == target {
			out = r
			return nil
		}
		if !r.Status.CanTransitionTo(target) {
			return fmt.Errorf("%w: cashback %s -> %s", domain.ErrInvalidTransition, r.Status, target)
		}
		if err := fn(w, &r); err != nil {
			return err
		}
		r.Status = target
		if err := w.Tx().UpdateCashback(w.Context(), r); err != nil {
			return err
		}
		out, changed = r, true
		return nil
	})
	if err != nil {
		return current, false, domain.Wrap(op, id.String(), err)
	}
	if changed {
		e.log.Info("cashback transition", "cashback_id", out.ID, "church_id", out.ChurchID, "status", out.Status)
	}
	return out, changed, nil
}
