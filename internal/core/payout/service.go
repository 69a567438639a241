// Package payout drives church payout requests through review, approval,
// processing and settlement. Every transition runs under the church account's
// lock; gateway calls happen after the lock is released.
package payout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/google/uuid"

	"github.com/MziziM/ChurpayPlatform-sub002/internal/core/domain"
	"github.com/MziziM/ChurpayPlatform-sub002/internal/core/fee"
	"github.com/MziziM/ChurpayPlatform-sub002/internal/core/gateway"
	"github.com/MziziM/ChurpayPlatform-sub002/internal/core/ledger"
	"github.com/MziziM/ChurpayPlatform-sub002/internal/core/notifications"
)

type Service struct {
	ledger   *ledger.Ledger
	fees     *fee.Policy
	gateway  gateway.Gateway
	notifier notifications.Notifier
	minimum  map[domain.Currency]int64
	log      *slog.Logger
}

func NewService(l *ledger.Ledger, fees *fee.Policy, gw gateway.Gateway, n notifications.Notifier, minimum map[domain.Currency]int64) *Service {
	if n == nil {
		n = notifications.Nop{}
	}
	return &Service{ledger: l, fees: fees, gateway: gw, notifier: n, minimum: minimum, log: l.Logger()}
}

type SubmitRequest struct {
	ChurchID       uuid.UUID
	Amount         domain.Money
	Class          domain.PayoutClass
	UrgencyReason  string
	RequestedBy    string
	IdempotencyKey string
}

func (r SubmitRequest) validate(minimum map[domain.Currency]int64) error {
	if r.IdempotencyKey == "" {
		return fmt.Errorf("%w: idempotency key is required", domain.ErrValidation)
	}
	if r.ChurchID == uuid.Nil {
		return fmt.Errorf("%w: church id is required", domain.ErrValidation)
	}
	if !r.Class.Valid() {
		return fmt.Errorf("%w: unknown payout class %q", domain.ErrValidation, r.Class)
	}
	if r.Class == domain.ClassEmergency && r.UrgencyReason == "" {
		return domain.ErrMissingUrgencyReason
	}
	if !r.Amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", domain.ErrValidation)
	}
	floor, ok := minimum[r.Amount.Currency]
	if !ok {
		return fmt.Errorf("%w: payouts in %s are not supported", domain.ErrValidation, r.Amount.Currency)
	}
	if r.Amount.Amount < floor {
		return fmt.Errorf("%w: minimum payout is %s", domain.ErrBelowMinimum, domain.NewMoney(floor, r.Amount.Currency))
	}
	return nil
}

func (r SubmitRequest) matches(p domain.PayoutRequest) bool {
	return p.ChurchID == r.ChurchID && p.Amount == r.Amount && p.Class == r.Class && p.UrgencyReason == r.UrgencyReason
}

// Submit places a hold on the requested amount and opens the request. A
// repeated idempotency key returns the original request.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (domain.PayoutRequest, error) {
	if err := req.validate(s.minimum); err != nil {
		return domain.PayoutRequest{}, domain.Wrap("payout.submit", req.ChurchID.String(), err)
	}

	var (
		out     domain.PayoutRequest
		created bool
	)
	err := s.ledger.Update(ctx, []uuid.UUID{req.ChurchID}, func(w *ledger.Writer) error {
		created = false
		tx := w.Tx()
		existing, found, err := tx.PayoutByIdempotencyKey(w.Context(), req.IdempotencyKey)
		if err != nil {
			return err
		}
		if found {
			if !req.matches(existing) {
				return fmt.Errorf("payout key %q: %w", req.IdempotencyKey, domain.ErrDuplicateOperation)
			}
			out = existing
			return nil
		}

		acc, err := tx.Account(w.Context(), req.ChurchID)
		if err != nil {
			return err
		}
		if acc.OwnerType != domain.OwnerChurch {
			return fmt.Errorf("%w: payouts are only available to church accounts", domain.ErrValidation)
		}
		if _, err := w.Hold(req.ChurchID, req.Amount); err != nil {
			return err
		}

		now := w.Now()
		p := domain.PayoutRequest{
			ID:             uuid.New(),
			ChurchID:       req.ChurchID,
			IdempotencyKey: req.IdempotencyKey,
			Amount:         req.Amount,
			Class:          req.Class,
			Fee:            domain.NewMoney(0, req.Amount.Currency),
			Net:            domain.NewMoney(0, req.Amount.Currency),
			UrgencyReason:  req.UrgencyReason,
			RequestedBy:    req.RequestedBy,
		}
		p.Stamp(domain.PayoutRequested, now)
		if err := tx.InsertPayout(w.Context(), p); err != nil {
			return err
		}
		out, created = p, true
		return nil
	})
	if err != nil {
		return domain.PayoutRequest{}, domain.Wrap("payout.submit", req.ChurchID.String(), err)
	}

	if created {
		s.log.Info("payout requested", "payout_id", out.ID, "church_id", out.ChurchID,
			"amount", out.Amount.String(), "class", out.Class)
		s.notify(ctx, notifications.EventPayoutRequested, out)
	}
	return out, nil
}

// StartReview moves a fresh request into manual review.
func (s *Service) StartReview(ctx context.Context, id uuid.UUID, reviewerID string) (domain.PayoutRequest, error) {
	return s.transition(ctx, "payout.start_review", id, domain.PayoutUnderReview,
		[]domain.PayoutStatus{domain.PayoutRequested},
		func(_ *ledger.Writer, p *domain.PayoutRequest) error {
			p.ReviewerID = reviewerID
			return nil
		})
}

// Approve freezes the fee and net amount.
func (s *Service) Approve(ctx context.Context, id uuid.UUID, approverID string) (domain.PayoutRequest, error) {
	return s.transition(ctx, "payout.approve", id, domain.PayoutApproved,
		[]domain.PayoutStatus{domain.PayoutRequested, domain.PayoutUnderReview},
		func(_ *ledger.Writer, p *domain.PayoutRequest) error {
			fee, net, err := s.fees.Quote(p.Amount, p.Class)
			if err != nil {
				return err
			}
			p.Fee, p.Net = fee, net
			p.ApproverID = approverID
			return nil
		})
}

// Reject releases the hold.
func (s *Service) Reject(ctx context.Context, id uuid.UUID, reviewerID, reason string) (domain.PayoutRequest, error) {
	return s.transition(ctx, "payout.reject", id, domain.PayoutRejected,
		[]domain.PayoutStatus{domain.PayoutRequested, domain.PayoutUnderReview},
		func(w *ledger.Writer, p *domain.PayoutRequest) error {
			if _, err := w.Release(p.ChurchID, p.Amount); err != nil {
				return err
			}
			if reviewerID != "" {
				p.ReviewerID = reviewerID
			}
			p.Reason = reason
			return nil
		})
}

// Cancel releases the hold. Not allowed once processing has started.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (domain.PayoutRequest, error) {
	return s.transition(ctx, "payout.cancel", id, domain.PayoutCancelled,
		[]domain.PayoutStatus{domain.PayoutRequested, domain.PayoutApproved},
		func(w *ledger.Writer, p *domain.PayoutRequest) error {
			_, err := w.Release(p.ChurchID, p.Amount)
			return err
		})
}

// MarkProcessing converts the hold into a withdrawal of the full requested
// amount and charges the fee separately from available balance, then hands
// the requested amount to the rail. Without enough available to cover the fee
// it fails with ErrInsufficientFunds and the request stays approved. A rail
// failure fails the payout and reports ErrDependencyFailure. Re-invoking it on
// a processing payout that the rail never accepted retries the disbursement only.
func (s *Service) MarkProcessing(ctx context.Context, id uuid.UUID) (domain.PayoutRequest, error) {
	p, err := s.transition(ctx, "payout.mark_processing", id, domain.PayoutProcessing,
		[]domain.PayoutStatus{domain.PayoutApproved},
		func(w *ledger.Writer, p *domain.PayoutRequest) error {
			drafts := []ledger.Draft{{
				AccountID:   p.ChurchID,
				Type:        domain.TxWithdrawal,
				Amount:      p.Amount.Neg(),
				Description: fmt.Sprintf("%s payout", p.Class),
				FromHold:    true,
			}}
			if p.Fee.IsPositive() {
				drafts = append(drafts, ledger.Draft{
					AccountID:   p.ChurchID,
					Type:        domain.TxFee,
					Amount:      p.Fee.Neg(),
					Description: fmt.Sprintf("%s payout processing fee", p.Class),
				})
			}
			_, err := w.Post(p.Reference(), drafts...)
			return err
		})
	if err != nil {
		return p, err
	}
	if p.Status != domain.PayoutProcessing || p.GatewayReference != "" {
		return p, nil
	}

	receipt, err := s.gateway.Disburse(ctx, gateway.DisburseRequest{
		PayoutID:  p.ID,
		ChurchID:  p.ChurchID,
		Amount:    p.Amount,
		Reference: p.Reference(),
	})
	if err != nil {
		s.log.Error("payout disbursement failed", "payout_id", p.ID, "error", err)
		if _, failErr := s.Fail(ctx, p.ID, "disbursement failed: "+err.Error()); failErr != nil {
			return p, domain.Wrap("payout.mark_processing", p.ID.String(), errors.Join(failErr, err))
		}
		return p, domain.Wrap("payout.mark_processing", p.ID.String(), fmt.Errorf("%w: %v", domain.ErrDependencyFailure, err))
	}

	return s.annotate(ctx, "payout.mark_processing", p.ID, func(p *domain.PayoutRequest) {
		p.GatewayReference = receipt.Reference
	})
}

// Complete confirms settlement with the rail and records the external
// reference. When the rail cannot confirm, the payout is failed.
func (s *Service) Complete(ctx context.Context, id uuid.UUID, externalReference string) (domain.PayoutRequest, error) {
	p, err := s.Get(ctx, id)
	if err != nil {
		return p, err
	}
	if p.Status == domain.PayoutCompleted {
		return p, nil
	}
	if p.Status != domain.PayoutProcessing {
		return p, domain.Wrap("payout.complete", id.String(),
			fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, p.Status, domain.PayoutCompleted))
	}

	receipt, err := s.confirm(ctx, p)
	if err != nil {
		s.log.Error("payout confirmation failed", "payout_id", p.ID, "error", err)
		if _, failErr := s.Fail(ctx, p.ID, "confirmation failed: "+err.Error()); failErr != nil {
			return p, domain.Wrap("payout.complete", id.String(), errors.Join(failErr, err))
		}
		return p, domain.Wrap("payout.complete", id.String(), fmt.Errorf("%w: %v", domain.ErrDependencyFailure, err))
	}
	if externalReference == "" {
		externalReference = receipt.Reference
	}

	return s.transition(ctx, "payout.complete", id, domain.PayoutCompleted,
		[]domain.PayoutStatus{domain.PayoutProcessing},
		func(_ *ledger.Writer, p *domain.PayoutRequest) error {
			p.ExternalReference = externalReference
			return nil
		})
}

func (s *Service) confirm(ctx context.Context, p domain.PayoutRequest) (gateway.Receipt, error) {
	if p.GatewayReference == "" {
		return gateway.Receipt{}, errors.New("rail never accepted the disbursement")
	}
	return s.gateway.Confirm(ctx, p.GatewayReference)
}

// Fail reverses every ledger entry of a processing payout, which returns the
// full requested amount to available, and closes it as rejected.
func (s *Service) Fail(ctx context.Context, id uuid.UUID, reason string) (domain.PayoutRequest, error) {
	return s.transition(ctx, "payout.fail", id, domain.PayoutRejected,
		[]domain.PayoutStatus{domain.PayoutProcessing},
		func(w *ledger.Writer, p *domain.PayoutRequest) error {
			rows, err := w.Tx().TransactionsByReference(w.Context(), p.Reference())
			if err != nil {
				return err
			}
			for _, t := range rows {
				if t.Status != domain.StatusCompleted || t.ReversalOf != nil {
					continue
				}
				if _, err := w.Reverse(t.ID); err != nil {
					return err
				}
			}
			p.Reason = reason
			return nil
		})
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (domain.PayoutRequest, error) {
	p, err := s.ledger.Store().Payout(ctx, id)
	return p, domain.Wrap("payout.get", id.String(), err)
}

// List returns a church's requests, newest first. A zero church id lists all.
func (s *Service) List(ctx context.Context, churchID uuid.UUID, statuses ...domain.PayoutStatus) ([]domain.PayoutRequest, error) {
	out, err := s.ledger.Store().ListPayouts(ctx, ledger.PayoutFilter{ChurchID: churchID, Statuses: statuses})
	return out, domain.Wrap("payout.list", churchID.String(), err)
}

// transition applies fn and moves the request to target under the church's
// lock. If the request already sits in target nothing happens and the current
// request is returned.
func (s *Service) transition(
	ctx context.Context,
	op string,
	id uuid.UUID,
	target domain.PayoutStatus,
	from []domain.PayoutStatus,
	fn func(w *ledger.Writer, p *domain.PayoutRequest) error,
) (domain.PayoutRequest, error) {
	current, err := s.ledger.Store().Payout(ctx, id)
	if err != nil {
		return domain.PayoutRequest{}, domain.Wrap(op, id.String(), err)
	}

	var (
		out     domain.PayoutRequest
		changed bool
	)
	err = s.ledger.Update(ctx, []uuid.UUID{current.ChurchID}, func(w *ledger.Writer) error {
		changed = false
		p, err := w.Tx().Payout(w.Context(), id)
		if err != nil {
			return err
		}
		if p.Status == target {
			out = p
			return nil
		}
		if !slices.Contains(from, p.Status) || !p.Status.CanTransitionTo(target) {
			return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, p.Status, target)
		}
		if err := fn(w, &p); err != nil {
			return err
		}
		p.Stamp(target, w.Now())
		if err := w.Tx().UpdatePayout(w.Context(), p); err != nil {
			return err
		}
		out, changed = p, true
		return nil
	})
	if err != nil {
		return current, domain.Wrap(op, id.String(), err)
	}

	if changed {
		s.log.Info("payout transition", "payout_id", out.ID, "church_id", out.ChurchID, "status", out.Status)
		s.notify(ctx, eventFor(out.Status, op), out)
	}
	return out, nil
}

// annotate updates bookkeeping fields without a status change.
func (s *Service) annotate(ctx context.Context, op string, id uuid.UUID, fn func(p *domain.PayoutRequest)) (domain.PayoutRequest, error) {
	current, err := s.ledger.Store().Payout(ctx, id)
	if err != nil {
		return domain.PayoutRequest{}, domain.Wrap(op, id.String(), err)
	}
	var out domain.PayoutRequest
	err = s.ledger.Update(ctx, []uuid.UUID{current.ChurchID}, func(w *ledger.Writer) error {
		p, err := w.Tx().Payout(w.Context(), id)
		if err != nil {
			return err
		}
		fn(&p)
		p.UpdatedAt = w.Now()
		out = p
		return w.Tx().UpdatePayout(w.Context(), p)
	})
	if err != nil {
		return current, domain.Wrap(op, id.String(), err)
	}
	return out, nil
}

func eventFor(status domain.PayoutStatus, op string) string {
	switch status {
	case domain.PayoutRequested:
		return notifications.EventPayoutRequested
	case domain.PayoutUnderReview:
		return notifications.EventPayoutUnderReview
	case domain.PayoutApproved:
		return notifications.EventPayoutApproved
	case domain.PayoutProcessing:
		return notifications.EventPayoutProcessing
	case domain.PayoutCompleted:
		return notifications.EventPayoutCompleted
	case domain.PayoutRejected:
		if op == "payout.fail" {
			return notifications.EventPayoutFailed
		}
		return notifications.EventPayoutRejected
	case domain.PayoutCancelled:
		return notifications.EventPayoutCancelled
	}
	return "payout." + string(status)
}

func (s *Service) notify(ctx context.Context, typ string, p domain.PayoutRequest) {
	s.notifier.Notify(ctx, notifications.NewEvent(typ, p.ID, p.ChurchID, p.UpdatedAt, p))
}
