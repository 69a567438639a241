// Package wallet is the single entry point the HTTP layer talks to. It owns
// account onboarding, top-ups and transfers, and delegates payouts and
// cashback to their engines. Every mutating call takes an idempotency key.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MziziM/ChurpayPlatform-sub002/internal/core/cashback"
	"github.com/MziziM/ChurpayPlatform-sub002/internal/core/domain"
	"github.com/MziziM/ChurpayPlatform-sub002/internal/core/gateway"
	"github.com/MziziM/ChurpayPlatform-sub002/internal/core/ledger"
	"github.com/MziziM/ChurpayPlatform-sub002/internal/core/payout"
)

// accountNamespace derives account ids from onboarding keys, so replaying a
// CreateAccount lands on the same id.
var accountNamespace = uuid.MustParse("5f1d3c2a-8f4e-4b7a-9d61-2c0e7a9b4f10")

type Service struct {
	ledger   *ledger.Ledger
	payouts  *payout.Service
	cashback *cashback.Engine
	gateway  gateway.Gateway
	currency domain.Currency
	log      *slog.Logger
}

func NewService(l *ledger.Ledger, p *payout.Service, c *cashback.Engine, gw gateway.Gateway, defaultCurrency domain.Currency) *Service {
	return &Service{ledger: l, payouts: p, cashback: c, gateway: gw, currency: defaultCurrency, log: l.Logger()}
}

func requireKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("%w: idempotency key is required", domain.ErrValidation)
	}
	return nil
}

// keyConflict reports a reused key as a duplicate operation. The ledger only
// sees the reference derived from it.
func keyConflict(key string, err error) error {
	if errors.Is(err, domain.ErrDuplicateReference) {
		return fmt.Errorf("idempotency key %q: %w", key, domain.ErrDuplicateOperation)
	}
	return err
}

// --- accounts ---

type CreateAccountRequest struct {
	OwnerType    domain.OwnerType
	OwnerName    string
	Currency     domain.Currency
	DailyLimit   int64
	MonthlyLimit int64
}

func (s *Service) CreateAccount(ctx context.Context, key string, req CreateAccountRequest) (domain.Account, error) {
	if err := requireKey(key); err != nil {
		return domain.Account{}, err
	}
	if !req.OwnerType.Valid() {
		return domain.Account{}, fmt.Errorf("%w: owner type must be member or church", domain.ErrValidation)
	}
	if strings.TrimSpace(req.OwnerName) == "" {
		return domain.Account{}, fmt.Errorf("%w: owner name is required", domain.ErrValidation)
	}
	if req.DailyLimit < 0 || req.MonthlyLimit < 0 {
		return domain.Account{}, fmt.Errorf("%w: limits cannot be negative", domain.ErrValidation)
	}
	if req.Currency == "" {
		req.Currency = s.currency
	}
	cur, err := domain.ParseCurrency(string(req.Currency))
	if err != nil {
		return domain.Account{}, err
	}

	now := s.ledger.Now()
	acc := domain.Account{
		ID:           uuid.NewSHA1(accountNamespace, []byte(key)),
		OwnerType:    req.OwnerType,
		OwnerName:    strings.TrimSpace(req.OwnerName),
		Currency:     cur,
		DailyLimit:   req.DailyLimit,
		MonthlyLimit: req.MonthlyLimit,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	err = s.ledger.Store().WithTx(ctx, func(tx ledger.Tx) error {
		existing, err := tx.Account(ctx, acc.ID)
		if err == nil {
			if existing.OwnerType != acc.OwnerType || existing.OwnerName != acc.OwnerName || existing.Currency != acc.Currency {
				return fmt.Errorf("account key %q: %w", key, domain.ErrDuplicateOperation)
			}
			acc = existing
			return nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		return tx.InsertAccount(ctx, acc)
	})
	if err != nil {
		return domain.Account{}, domain.Wrap("wallet.create_account", acc.ID.String(), err)
	}
	s.log.Info("account ready", "account_id", acc.ID, "owner_type", acc.OwnerType)
	return acc, nil
}

func (s *Service) GetAccount(ctx context.Context, id uuid.UUID) (domain.Account, error) {
	acc, err := s.ledger.Store().Account(ctx, id)
	return acc, domain.Wrap("wallet.get_account", id.String(), err)
}

// Deactivate blocks new money movement. Accounts are never deleted.
func (s *Service) Deactivate(ctx context.Context, key string, id uuid.UUID) (domain.Account, error) {
	return s.updateAccount(ctx, "wallet.deactivate", key, id, func(acc *domain.Account) error {
		acc.Active = false
		return nil
	})
}

// SetGivingGoal stores the member's giving target on the account.
func (s *Service) SetGivingGoal(ctx context.Context, key string, id uuid.UUID, goal domain.Money) (domain.Account, error) {
	return s.updateAccount(ctx, "wallet.set_giving_goal", key, id, func(acc *domain.Account) error {
		if goal.Amount < 0 {
			return fmt.Errorf("%w: giving goal cannot be negative", domain.ErrValidation)
		}
		if goal.Currency != "" && goal.Currency != acc.Currency {
			return fmt.Errorf("%w: account is %s, goal is %s", domain.ErrCurrencyMismatch, acc.Currency, goal.Currency)
		}
		acc.GivingGoal = goal.Amount
		return nil
	})
}

func (s *Service) updateAccount(ctx context.Context, op, key string, id uuid.UUID, fn func(acc *domain.Account) error) (domain.Account, error) {
	if err := requireKey(key); err != nil {
		return domain.Account{}, err
	}
	var out domain.Account
	err := s.ledger.Update(ctx, []uuid.UUID{id}, func(w *ledger.Writer) error {
		accs, err := w.Tx().LockAccounts(w.Context(), id)
		if err != nil {
			return err
		}
		acc, ok := accs[id]
		if !ok {
			return fmt.Errorf("account %s: %w", id, domain.ErrNotFound)
		}
		if err := fn(&acc); err != nil {
			return err
		}
		acc.UpdatedAt = w.Now()
		out = acc
		return w.Tx().UpdateAccount(w.Context(), acc)
	})
	return out, domain.Wrap(op, id.String(), err)
}

// --- balances ---

type Balance struct {
	AccountID  uuid.UUID    `json:"account_id"`
	Available  domain.Money `json:"available"`
	Pending    domain.Money `json:"pending"`
	Total      domain.Money `json:"total"`
	GivingGoal domain.Money `json:"giving_goal"`
	AsOf       time.Time    `json:"as_of"`
}

func (s *Service) GetBalance(ctx context.Context, id uuid.UUID) (Balance, error) {
	acc, err := s.ledger.Store().Account(ctx, id)
	if err != nil {
		return Balance{}, domain.Wrap("wallet.get_balance", id.String(), err)
	}
	return Balance{
		AccountID:  acc.ID,
		Available:  acc.AvailableMoney(),
		Pending:    acc.PendingMoney(),
		Total:      acc.Total(),
		GivingGoal: domain.NewMoney(acc.GivingGoal, acc.Currency),
		AsOf:       s.ledger.Now(),
	}, nil
}

// BalanceAsOf replays the ledger up to at.
func (s *Service) BalanceAsOf(ctx context.Context, id uuid.UUID, at time.Time) (domain.Money, error) {
	return s.ledger.BalanceAsOf(ctx, id, at)
}

func (s *Service) Reconcile(ctx context.Context, id uuid.UUID) (ledger.Reconciliation, error) {
	return s.ledger.Reconcile(ctx, id)
}

// --- deposits ---

type DepositRequest struct {
	AccountID   uuid.UUID
	Amount      domain.Money
	Description string
}

// Deposit charges the gateway and credits the account once the charge
// succeeds. A declined charge leaves a failed row and ErrDependencyFailure;
// the same key may be retried afterwards.
func (s *Service) Deposit(ctx context.Context, key string, req DepositRequest) (domain.Transaction, error) {
	if err := requireKey(key); err != nil {
		return domain.Transaction{}, err
	}
	reference := "deposit:" + key
	op := "wallet.deposit"

	acc, err := s.ledger.Store().Account(ctx, req.AccountID)
	if err != nil {
		return domain.Transaction{}, domain.Wrap(op, req.AccountID.String(), err)
	}
	if req.Amount.Currency == "" {
		req.Amount.Currency = acc.Currency
	}
	if !req.Amount.IsPositive() {
		return domain.Transaction{}, domain.Wrap(op, reference, fmt.Errorf("%w: deposit amount must be positive", domain.ErrValidation))
	}
	if req.Amount.Currency != acc.Currency {
		return domain.Transaction{}, domain.Wrap(op, reference,
			fmt.Errorf("%w: account is %s, deposit is %s", domain.ErrCurrencyMismatch, acc.Currency, req.Amount.Currency))
	}
	if !acc.Active {
		return domain.Transaction{}, domain.Wrap(op, reference, fmt.Errorf("account %s: %w", acc.ID, domain.ErrAccountInactive))
	}

	draft := ledger.Draft{
		AccountID:   req.AccountID,
		Type:        domain.TxDeposit,
		Amount:      req.Amount,
		Description: req.Description,
	}

	// A settled deposit under this key is replayed without charging again.
	if settled, err := s.settled(ctx, reference); err != nil {
		return domain.Transaction{}, domain.Wrap(op, reference, err)
	} else if settled {
		t, err := s.ledger.Record(ctx, reference, draft)
		return t, domain.Wrap(op, reference, keyConflict(key, err))
	}

	receipt, err := s.gateway.Charge(ctx, gateway.ChargeRequest{AccountID: req.AccountID, Amount: req.Amount, Reference: reference})
	if err != nil {
		s.log.Warn("deposit charge declined", "account_id", req.AccountID, "reference", reference, "error", err)
		if _, ferr := s.ledger.RecordFailed(ctx, reference, draft); ferr != nil {
			s.log.Error("failed to record declined deposit", "reference", reference, "error", ferr)
		}
		return domain.Transaction{}, domain.Wrap(op, reference, fmt.Errorf("%w: %v", domain.ErrDependencyFailure, err))
	}

	draft.ExternalReference = receipt.Reference
	t, err := s.ledger.Record(ctx, reference, draft)
	if err != nil {
		// The rail took the money but the ledger did not. Unless another
		// request settled the same reference, keep a failed row carrying the
		// gateway reference so reconciliation can refund it.
		s.log.Error("charged deposit not recorded", "account_id", req.AccountID, "reference", reference,
			"gateway_reference", receipt.Reference, "error", err)
		if !errors.Is(err, domain.ErrDuplicateReference) {
			if _, ferr := s.ledger.RecordFailed(ctx, reference, draft); ferr != nil {
				s.log.Error("failed to record uncredited charge", "reference", reference,
					"gateway_reference", receipt.Reference, "error", ferr)
			}
		}
		return domain.Transaction{}, domain.Wrap(op, reference, keyConflict(key, err))
	}
	s.log.Info("deposit recorded", "account_id", req.AccountID, "amount", req.Amount.String(), "reference", reference)
	return t, nil
}

func (s *Service) settled(ctx context.Context, reference string) (bool, error) {
	rows, err := s.ledger.Store().TransactionsByReference(ctx, reference)
	if err != nil {
		return false, err
	}
	for _, t := range rows {
		if t.Status != domain.StatusFailed {
			return true, nil
		}
	}
	return false, nil
}

// --- transfers ---

type TransferKind string

const (
	KindTransfer            TransferKind = "transfer"
	KindDonation            TransferKind = "donation"
	KindTithe               TransferKind = "tithe"
	KindProjectContribution TransferKind = "project-contribution"
)

// legTypes returns the sender and receiver transaction types.
func (k TransferKind) legTypes() (sent, received domain.TransactionType, ok bool) {
	switch k {
	case KindTransfer:
		return domain.TxTransferSent, domain.TxTransferReceived, true
	case KindDonation:
		return domain.TxDonation, domain.TxDonation, true
	case KindTithe:
		return domain.TxTithe, domain.TxTithe, true
	case KindProjectContribution:
		return domain.TxProjectContribution, domain.TxProjectContribution, true
	}
	return "", "", false
}

// outgoingTypes are the debits that count towards transfer limits.
var outgoingTypes = []domain.TransactionType{
	domain.TxTransferSent, domain.TxDonation, domain.TxTithe, domain.TxProjectContribution,
}

type TransferRequest struct {
	FromID uuid.UUID
	ToID   uuid.UUID
	Amount domain.Money
	Kind   TransferKind
	Note   string
}

// Transfer debits FromID and credits ToID under one reference: both legs
// commit or neither does.
func (s *Service) Transfer(ctx context.Context, key string, req TransferRequest) ([]domain.Transaction, error) {
	if err := requireKey(key); err != nil {
		return nil, err
	}
	reference := "transfer:" + key
	op := "wallet.transfer"

	if req.Kind == "" {
		req.Kind = KindTransfer
	}
	sent, received, ok := req.Kind.legTypes()
	if !ok {
		return nil, domain.Wrap(op, reference, fmt.Errorf("%w: unknown transfer kind %q", domain.ErrValidation, req.Kind))
	}
	if req.FromID == req.ToID {
		return nil, domain.Wrap(op, reference, fmt.Errorf("%w: cannot transfer to the same account", domain.ErrValidation))
	}
	if !req.Amount.IsPositive() {
		return nil, domain.Wrap(op, reference, fmt.Errorf("%w: transfer amount must be positive", domain.ErrValidation))
	}

	from, to := req.FromID, req.ToID
	drafts := []ledger.Draft{
		{AccountID: from, Type: sent, Amount: req.Amount.Neg(), CounterpartyID: &to, Description: req.Note},
		{AccountID: to, Type: received, Amount: req.Amount, CounterpartyID: &from, Description: req.Note},
	}

	var out []domain.Transaction
	err := s.ledger.Update(ctx, []uuid.UUID{from, to}, func(w *ledger.Writer) error {
		prior, err := w.Tx().TransactionsByReference(w.Context(), reference)
		if err != nil {
			return err
		}
		replay := false
		for _, t := range prior {
			replay = replay || t.Status != domain.StatusFailed
		}
		if !replay {
			if err := s.checkTransfer(w, req); err != nil {
				return err
			}
		}
		out, err = w.Post(reference, drafts...)
		return keyConflict(key, err)
	})
	if err != nil {
		return nil, domain.Wrap(op, reference, err)
	}
	s.log.Info("transfer posted", "from", from, "to", to, "amount", req.Amount.String(), "kind", req.Kind, "reference", reference)
	return out, nil
}

// checkTransfer enforces the recipient rules and the sender's limits.
func (s *Service) checkTransfer(w *ledger.Writer, req TransferRequest) error {
	ctx := w.Context()
	sender, err := w.Tx().Account(ctx, req.FromID)
	if err != nil {
		return err
	}
	recipient, err := w.Tx().Account(ctx, req.ToID)
	if err != nil {
		return err
	}
	if req.Kind != KindTransfer && recipient.OwnerType != domain.OwnerChurch {
		return fmt.Errorf("%w: %s must go to a church account", domain.ErrValidation, req.Kind)
	}

	now := w.Now()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	for _, lim := range []struct {
		name  string
		limit int64
		since time.Time
	}{
		{"daily", sender.DailyLimit, dayStart},
		{"monthly", sender.MonthlyLimit, monthStart},
	} {
		if lim.limit <= 0 {
			continue
		}
		spent, err := w.Tx().SumAmounts(ctx, ledger.SumFilter{
			AccountID:  sender.ID,
			Types:      outgoingTypes,
			From:       lim.since,
			DebitsOnly: true,
		})
		if err != nil {
			return err
		}
		sent := domain.NewMoney(spent, sender.Currency).Abs()
		if sent.Amount+req.Amount.Amount > lim.limit {
			return fmt.Errorf("%w: %s limit %s, already sent %s", domain.ErrLimitExceeded, lim.name,
				domain.NewMoney(lim.limit, sender.Currency), sent)
		}
	}
	return nil
}

// --- history ---

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

type TransactionQuery struct {
	AccountID uuid.UUID
	Types     []domain.TransactionType
	Statuses  []domain.TransactionStatus
	From      time.Time
	To        time.Time
	Page      int
	PageSize  int
}

type TransactionPage struct {
	Items    []domain.Transaction `json:"items"`
	Total    int                  `json:"total"`
	Page     int                  `json:"page"`
	PageSize int                  `json:"page_size"`
}

func (s *Service) ListTransactions(ctx context.Context, q TransactionQuery) (TransactionPage, error) {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PageSize < 1 {
		q.PageSize = DefaultPageSize
	}
	if q.PageSize > MaxPageSize {
		q.PageSize = MaxPageSize
	}
	for _, t := range q.Types {
		if !t.Valid() {
			return TransactionPage{}, fmt.Errorf("%w: unknown transaction type %q", domain.ErrValidation, t)
		}
	}
	for _, st := range q.Statuses {
		if !st.Valid() {
			return TransactionPage{}, fmt.Errorf("%w: unknown transaction status %q", domain.ErrValidation, st)
		}
	}
	if _, err := s.ledger.Store().Account(ctx, q.AccountID); err != nil {
		return TransactionPage{}, domain.Wrap("wallet.list_transactions", q.AccountID.String(), err)
	}

	items, total, err := s.ledger.Store().ListTransactions(ctx, ledger.TransactionFilter{
		AccountID: q.AccountID,
		Types:     q.Types,
		Statuses:  q.Statuses,
		From:      q.From,
		To:        q.To,
		Limit:     q.PageSize,
		Offset:    (q.Page - 1) * q.PageSize,
	})
	if err != nil {
		return TransactionPage{}, domain.Wrap("wallet.list_transactions", q.AccountID.String(), err)
	}
	if items == nil {
		items = []domain.Transaction{}
	}
	return TransactionPage{Items: items, Total: total, Page: q.Page, PageSize: q.PageSize}, nil
}

// --- payouts ---

func (s *Service) RequestPayout(ctx context.Context, key string, req payout.SubmitRequest) (domain.PayoutRequest, error) {
	if err := requireKey(key); err != nil {
		return domain.PayoutRequest{}, err
	}
	req.IdempotencyKey = key
	return s.payouts.Submit(ctx, req)
}

func (s *Service) ReviewPayout(ctx context.Context, key string, id uuid.UUID, reviewerID string) (domain.PayoutRequest, error) {
	if err := requireKey(key); err != nil {
		return domain.PayoutRequest{}, err
	}
	return s.payouts.StartReview(ctx, id, reviewerID)
}

func (s *Service) ApprovePayout(ctx context.Context, key string, id uuid.UUID, approverID string) (domain.PayoutRequest, error) {
	if err := requireKey(key); err != nil {
		return domain.PayoutRequest{}, err
	}
	return s.payouts.Approve(ctx, id, approverID)
}

func (s *Service) RejectPayout(ctx context.Context, key string, id uuid.UUID, reviewerID, reason string) (domain.PayoutRequest, error) {
	if err := requireKey(key); err != nil {
		return domain.PayoutRequest{}, err
	}
	return s.payouts.Reject(ctx, id, reviewerID, reason)
}

func (s *Service) CancelPayout(ctx context.Context, key string, id uuid.UUID) (domain.PayoutRequest, error) {
	if err := requireKey(key); err != nil {
		return domain.PayoutRequest{}, err
	}
	return s.payouts.Cancel(ctx, id)
}

func (s *Service) ProcessPayout(ctx context.Context, key string, id uuid.UUID) (domain.PayoutRequest, error) {
	if err := requireKey(key); err != nil {
		return domain.PayoutRequest{}, err
	}
	return s.payouts.MarkProcessing(ctx, id)
}

func (s *Service) CompletePayout(ctx context.Context, key string, id uuid.UUID, externalReference string) (domain.PayoutRequest, error) {
	if err := requireKey(key); err != nil {
		return domain.PayoutRequest{}, err
	}
	return s.payouts.Complete(ctx, id, externalReference)
}

func (s *Service) FailPayout(ctx context.Context, key string, id uuid.UUID, reason string) (domain.PayoutRequest, error) {
	if err := requireKey(key); err != nil {
		return domain.PayoutRequest{}, err
	}
	return s.payouts.Fail(ctx, id, reason)
}

func (s *Service) GetPayout(ctx context.Context, id uuid.UUID) (domain.PayoutRequest, error) {
	return s.payouts.Get(ctx, id)
}

func (s *Service) ListPayouts(ctx context.Context, churchID uuid.UUID, statuses ...domain.PayoutStatus) ([]domain.PayoutRequest, error) {
	for _, st := range statuses {
		if !st.Valid() {
			return nil, fmt.Errorf("%w: unknown payout status %q", domain.ErrValidation, st)
		}
	}
	return s.payouts.List(ctx, churchID, statuses...)
}

// --- cashback ---

func (s *Service) CalculateCashback(ctx context.Context, key string, churchID uuid.UUID, year int, actor string) (domain.CashbackRecord, error) {
	if err := requireKey(key); err != nil {
		return domain.CashbackRecord{}, err
	}
	return s.cashback.Calculate(ctx, churchID, year, actor)
}

func (s *Service) CalculateCashbackYear(ctx context.Context, key string, year int, actor string) (cashback.BatchResult, error) {
	if err := requireKey(key); err != nil {
		return cashback.BatchResult{}, err
	}
	return s.cashback.CalculateYear(ctx, year, actor)
}

func (s *Service) ApproveCashback(ctx context.Context, key string, id uuid.UUID, approverID string) (domain.CashbackRecord, error) {
	if err := requireKey(key); err != nil {
		return domain.CashbackRecord{}, err
	}
	return s.cashback.Approve(ctx, id, approverID)
}

func (s *Service) PayCashback(ctx context.Context, key string, id uuid.UUID, payerID string) (domain.CashbackRecord, error) {
	if err := requireKey(key); err != nil {
		return domain.CashbackRecord{}, err
	}
	return s.cashback.Pay(ctx, id, payerID)
}

func (s *Service) FindCashback(ctx context.Context, churchID uuid.UUID, year int) (domain.CashbackRecord, error) {
	return s.cashback.Find(ctx, churchID, year)
}

func (s *Service) GetCashbackRecords(ctx context.Context, churchID uuid.UUID, year int) ([]domain.CashbackRecord, error) {
	return s.cashback.List(ctx, churchID, year)
}
