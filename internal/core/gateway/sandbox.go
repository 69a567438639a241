package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Op string

const (
	OpCharge   Op = "charge"
	OpDisburse Op = "disburse"
	OpConfirm  Op = "confirm"
)

// Sandbox simulates a mobile-money style rail. It is deterministic: calls
// succeed unless a failure has been armed with FailNext or Decline.
type Sandbox struct {
	mu        sync.Mutex
	delay     time.Duration
	failNext  map[Op]int
	declineAt int64 // charges above this many minor units are declined; 0 disables
	settled   map[string]Receipt
	seen      map[string]Receipt
	log       *slog.Logger
}

func NewSandbox(log *slog.Logger, delay time.Duration) *Sandbox {
	return &Sandbox{
		delay:    delay,
		failNext: make(map[Op]int),
		settled:  make(map[string]Receipt),
		seen:     make(map[string]Receipt),
		log:      log,
	}
}

// FailNext makes the next n calls of op fail.
func (s *Sandbox) FailNext(op Op, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext[op] += n
}

// Decline rejects every charge larger than limit.
func (s *Sandbox) Decline(limit int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.declineAt = limit
}

func (s *Sandbox) wait(ctx context.Context) error {
	if s.delay <= 0 {
		return nil
	}
	select {
	case <-time.After(s.delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Sandbox) armed(op Op) bool {
	if s.failNext[op] > 0 {
		s.failNext[op]--
		return true
	}
	return false
}

func (s *Sandbox) Charge(ctx context.Context, req ChargeRequest) (Receipt, error) {
	if err := s.wait(ctx); err != nil {
		return Receipt{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if r, ok := s.seen[req.Reference]; ok {
		return r, nil
	}
	if s.armed(OpCharge) || (s.declineAt > 0 && req.Amount.Amount > s.declineAt) {
		s.log.Warn("[SANDBOX] charge declined", "account_id", req.AccountID, "amount", req.Amount.String())
		return Receipt{}, fmt.Errorf("charge %s: %w", req.Reference, ErrDeclined)
	}
	r := Receipt{Reference: "chg_" + uuid.NewString(), Status: "succeeded"}
	s.seen[req.Reference] = r
	s.log.Info("[SANDBOX] charge succeeded", "account_id", req.AccountID, "amount", req.Amount.String(), "gateway_reference", r.Reference)
	return r, nil
}

func (s *Sandbox) Disburse(ctx context.Context, req DisburseRequest) (Receipt, error) {
	if err := s.wait(ctx); err != nil {
		return Receipt{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if r, ok := s.seen[req.Reference]; ok {
		return r, nil
	}
	if s.armed(OpDisburse) {
		s.log.Warn("[SANDBOX] disbursement rejected by rail", "payout_id", req.PayoutID)
		return Receipt{}, fmt.Errorf("disburse %s: %w", req.Reference, ErrDeclined)
	}
	r := Receipt{Reference: "dsb_" + uuid.NewString(), Status: "accepted"}
	s.seen[req.Reference] = r
	s.settled[r.Reference] = Receipt{Reference: r.Reference, Status: "settled"}
	s.log.Info("[SANDBOX] disbursement accepted", "payout_id", req.PayoutID, "amount", req.Amount.String(), "gateway_reference", r.Reference)
	return r, nil
}

func (s *Sandbox) Confirm(ctx context.Context, reference string) (Receipt, error) {
	if err := s.wait(ctx); err != nil {
		return Receipt{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.armed(OpConfirm) {
		return Receipt{}, fmt.Errorf("confirm %s: %w", reference, ErrDeclined)
	}
	r, ok := s.settled[reference]
	if !ok {
		return Receipt{}, fmt.Errorf("confirm %s: unknown disbursement: %w", reference, ErrDeclined)
	}
	return r, nil
}

var _ Gateway = (*Sandbox)(nil)
