package storage

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MziziM/ChurpayPlatform-sub002/internal/core/domain"
	"github.com/MziziM/ChurpayPlatform-sub002/internal/core/ledger"
)

// MemoryStore is a process-local ledger.Store. A transaction holds the write
// lock for its whole callback and keeps an undo log, so a failed callback
// leaves no trace. Used by tests and by STORAGE=memory.
type MemoryStore struct {
	mu sync.RWMutex
	memState
}

type memState struct {
	accounts     map[uuid.UUID]domain.Account
	transactions []domain.Transaction
	txByID       map[uuid.UUID]int
	txByRef      map[string][]int
	reversals    map[uuid.UUID]uuid.UUID
	payouts      map[uuid.UUID]domain.PayoutRequest
	payoutByKey  map[string]uuid.UUID
	cashback     map[uuid.UUID]domain.CashbackRecord
	cashbackKey  map[string]uuid.UUID
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{memState: memState{
		accounts:    make(map[uuid.UUID]domain.Account),
		txByID:      make(map[uuid.UUID]int),
		txByRef:     make(map[string][]int),
		reversals:   make(map[uuid.UUID]uuid.UUID),
		payouts:     make(map[uuid.UUID]domain.PayoutRequest),
		payoutByKey: make(map[string]uuid.UUID),
		cashback:    make(map[uuid.UUID]domain.CashbackRecord),
		cashbackKey: make(map[string]uuid.UUID),
	}}
}

var _ ledger.Store = (*MemoryStore)(nil)

func (s *MemoryStore) WithTx(ctx context.Context, fn func(tx ledger.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{memState: &s.memState}
	if err := fn(tx); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

// Reads outside a transaction take the read lock.

func (s *MemoryStore) Account(ctx context.Context, id uuid.UUID) (domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.memState.account(id)
}

func (s *MemoryStore) AccountsByOwnerType(ctx context.Context, owner domain.OwnerType) ([]domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.memState.accountsByOwnerType(owner), nil
}

func (s *MemoryStore) Transaction(ctx context.Context, id uuid.UUID) (domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.memState.transaction(id)
}

func (s *MemoryStore) TransactionsByReference(ctx context.Context, reference string) ([]domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.memState.byReference(reference), nil
}

func (s *MemoryStore) ReversalOf(ctx context.Context, originalID uuid.UUID) (domain.Transaction, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.memState.reversalOf(originalID)
	return t, ok, nil
}

func (s *MemoryStore) ListTransactions(ctx context.Context, f ledger.TransactionFilter) ([]domain.Transaction, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, total := s.memState.list(f)
	return rows, total, nil
}

func (s *MemoryStore) SumCompleted(ctx context.Context, accountID uuid.UUID, asOf time.Time) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.memState.sumCompleted(accountID, asOf), nil
}

func (s *MemoryStore) SumAmounts(ctx context.Context, f ledger.SumFilter) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.memState.sum(f), nil
}

func (s *MemoryStore) AccountSettled(ctx context.Context, id uuid.UUID) (domain.Account, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.memState.accountSettled(id)
}

func (s *MemoryStore) Payout(ctx context.Context, id uuid.UUID) (domain.PayoutRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.memState.payout(id)
}

func (s *MemoryStore) PayoutByIdempotencyKey(ctx context.Context, key string) (domain.PayoutRequest, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.memState.payoutByIdempotencyKey(key)
	return p, ok, nil
}

func (s *MemoryStore) ListPayouts(ctx context.Context, f ledger.PayoutFilter) ([]domain.PayoutRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.memState.listPayouts(f), nil
}

func (s *MemoryStore) Cashback(ctx context.Context, id uuid.UUID) (domain.CashbackRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.memState.cashbackRecord(id)
}

func (s *MemoryStore) CashbackByChurchYear(ctx context.Context, churchID uuid.UUID, year int) (domain.CashbackRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.memState.cashbackByChurchYear(churchID, year)
	return r, ok, nil
}

func (s *MemoryStore) ListCashback(ctx context.Context, f ledger.CashbackFilter) ([]domain.CashbackRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.memState.listCashback(f), nil
}

// memState methods assume the caller holds the store lock.

func (m *memState) account(id uuid.UUID) (domain.Account, error) {
	a, ok := m.accounts[id]
	if !ok {
		return domain.Account{}, fmt.Errorf("account %s: %w", id, domain.ErrNotFound)
	}
	return a, nil
}

func (m *memState) accountsByOwnerType(owner domain.OwnerType) []domain.Account {
	var out []domain.Account
	for _, a := range m.accounts {
		if a.OwnerType == owner {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (m *memState) transaction(id uuid.UUID) (domain.Transaction, error) {
	i, ok := m.txByID[id]
	if !ok {
		return domain.Transaction{}, fmt.Errorf("transaction %s: %w", id, domain.ErrNotFound)
	}
	return m.transactions[i], nil
}

func (m *memState) byReference(reference string) []domain.Transaction {
	idx := m.txByRef[reference]
	out := make([]domain.Transaction, 0, len(idx))
	for _, i := range idx {
		out = append(out, m.transactions[i])
	}
	return out
}

func (m *memState) reversalOf(originalID uuid.UUID) (domain.Transaction, bool) {
	id, ok := m.reversals[originalID]
	if !ok {
		return domain.Transaction{}, false
	}
	return m.transactions[m.txByID[id]], true
}

func (m *memState) list(f ledger.TransactionFilter) ([]domain.Transaction, int) {
	var matched []domain.Transaction
	for i := len(m.transactions) - 1; i >= 0; i-- {
		t := m.transactions[i]
		if t.AccountID != f.AccountID {
			continue
		}
		if len(f.Types) > 0 && !slices.Contains(f.Types, t.Type) {
			continue
		}
		if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, effectiveStatus(m, t)) {
			continue
		}
		if !f.From.IsZero() && t.CreatedAt.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && !t.CreatedAt.Before(f.To) {
			continue
		}
		matched = append(matched, withEffectiveStatus(m, t))
	}
	total := len(matched)
	if f.Offset >= total {
		return []domain.Transaction{}, total
	}
	matched = matched[f.Offset:]
	if f.Limit > 0 && len(matched) > f.Limit {
		matched = matched[:f.Limit]
	}
	return matched, total
}

// effectiveStatus reports a completed original that has a reversing entry as
// reversed. The stored row is never rewritten.
func effectiveStatus(m *memState, t domain.Transaction) domain.TransactionStatus {
	if t.Status == domain.StatusCompleted {
		if _, ok := m.reversals[t.ID]; ok {
			return domain.StatusReversed
		}
	}
	return t.Status
}

func withEffectiveStatus(m *memState, t domain.Transaction) domain.Transaction {
	t.Status = effectiveStatus(m, t)
	return t
}

func (m *memState) accountSettled(id uuid.UUID) (domain.Account, int64, error) {
	acc, err := m.account(id)
	if err != nil {
		return domain.Account{}, 0, err
	}
	var sum int64
	for _, t := range m.transactions {
		if t.AccountID == id && t.Status == domain.StatusCompleted {
			sum += t.Amount.Amount
		}
	}
	return acc, sum, nil
}

func (m *memState) sumCompleted(accountID uuid.UUID, asOf time.Time) int64 {
	var sum int64
	for _, t := range m.transactions {
		if t.AccountID == accountID && t.Status == domain.StatusCompleted && !t.CreatedAt.After(asOf) {
			sum += t.Amount.Amount
		}
	}
	return sum
}

func (m *memState) sum(f ledger.SumFilter) int64 {
	var sum int64
	for _, t := range m.transactions {
		if t.AccountID != f.AccountID || t.Status != domain.StatusCompleted {
			continue
		}
		if len(f.Types) > 0 && !slices.Contains(f.Types, t.Type) {
			continue
		}
		if !f.From.IsZero() && t.CreatedAt.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && !t.CreatedAt.Before(f.To) {
			continue
		}
		if f.DebitsOnly && t.Amount.Amount >= 0 {
			continue
		}
		sum += t.Amount.Amount
	}
	return sum
}

func (m *memState) payout(id uuid.UUID) (domain.PayoutRequest, error) {
	p, ok := m.payouts[id]
	if !ok {
		return domain.PayoutRequest{}, fmt.Errorf("payout %s: %w", id, domain.ErrNotFound)
	}
	return p, nil
}

func (m *memState) payoutByIdempotencyKey(key string) (domain.PayoutRequest, bool) {
	id, ok := m.payoutByKey[key]
	if !ok {
		return domain.PayoutRequest{}, false
	}
	return m.payouts[id], true
}

func (m *memState) listPayouts(f ledger.PayoutFilter) []domain.PayoutRequest {
	var out []domain.PayoutRequest
	for _, p := range m.payouts {
		if f.ChurchID != uuid.Nil && p.ChurchID != f.ChurchID {
			continue
		}
		if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, p.Status) {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequestedAt.After(out[j].RequestedAt) })
	return out
}

func (m *memState) cashbackRecord(id uuid.UUID) (domain.CashbackRecord, error) {
	r, ok := m.cashback[id]
	if !ok {
		return domain.CashbackRecord{}, fmt.Errorf("cashback record %s: %w", id, domain.ErrNotFound)
	}
	return r, nil
}

func cashbackKey(churchID uuid.UUID, year int) string {
	return fmt.Sprintf("%s/%d", churchID, year)
}

func (m *memState) cashbackByChurchYear(churchID uuid.UUID, year int) (domain.CashbackRecord, bool) {
	id, ok := m.cashbackKey[cashbackKey(churchID, year)]
	if !ok {
		return domain.CashbackRecord{}, false
	}
	return m.cashback[id], true
}

func (m *memState) listCashback(f ledger.CashbackFilter) []domain.CashbackRecord {
	var out []domain.CashbackRecord
	for _, r := range m.cashback {
		if f.ChurchID != uuid.Nil && r.ChurchID != f.ChurchID {
			continue
		}
		if f.Year != 0 && r.Year != f.Year {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Year != out[j].Year {
			return out[i].Year > out[j].Year
		}
		return out[i].ChurchID.String() < out[j].ChurchID.String()
	})
	return out
}

// memTx applies writes in place and records how to undo each one.
type memTx struct {
	*memState
	undo []func()
}

var _ ledger.Tx = (*memTx)(nil)

func (tx *memTx) rollback() {
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
	tx.undo = nil
}

func (tx *memTx) Account(ctx context.Context, id uuid.UUID) (domain.Account, error) {
	return tx.account(id)
}

func (tx *memTx) AccountsByOwnerType(ctx context.Context, owner domain.OwnerType) ([]domain.Account, error) {
	return tx.accountsByOwnerType(owner), nil
}

func (tx *memTx) Transaction(ctx context.Context, id uuid.UUID) (domain.Transaction, error) {
	return tx.transaction(id)
}

func (tx *memTx) TransactionsByReference(ctx context.Context, reference string) ([]domain.Transaction, error) {
	return tx.byReference(reference), nil
}

func (tx *memTx) ReversalOf(ctx context.Context, originalID uuid.UUID) (domain.Transaction, bool, error) {
	t, ok := tx.reversalOf(originalID)
	return t, ok, nil
}

func (tx *memTx) ListTransactions(ctx context.Context, f ledger.TransactionFilter) ([]domain.Transaction, int, error) {
	rows, total := tx.list(f)
	return rows, total, nil
}

func (tx *memTx) SumCompleted(ctx context.Context, accountID uuid.UUID, asOf time.Time) (int64, error) {
	return tx.sumCompleted(accountID, asOf), nil
}

func (tx *memTx) SumAmounts(ctx context.Context, f ledger.SumFilter) (int64, error) {
	return tx.sum(f), nil
}

func (tx *memTx) AccountSettled(ctx context.Context, id uuid.UUID) (domain.Account, int64, error) {
	return tx.accountSettled(id)
}

func (tx *memTx) Payout(ctx context.Context, id uuid.UUID) (domain.PayoutRequest, error) {
	return tx.payout(id)
}

func (tx *memTx) PayoutByIdempotencyKey(ctx context.Context, key string) (domain.PayoutRequest, bool, error) {
	p, ok := tx.payoutByIdempotencyKey(key)
	return p, ok, nil
}

func (tx *memTx) ListPayouts(ctx context.Context, f ledger.PayoutFilter) ([]domain.PayoutRequest, error) {
	return tx.listPayouts(f), nil
}

func (tx *memTx) Cashback(ctx context.Context, id uuid.UUID) (domain.CashbackRecord, error) {
	return tx.cashbackRecord(id)
}

func (tx *memTx) CashbackByChurchYear(ctx context.Context, churchID uuid.UUID, year int) (domain.CashbackRecord, bool, error) {
	r, ok := tx.cashbackByChurchYear(churchID, year)
	return r, ok, nil
}

func (tx *memTx) ListCashback(ctx context.Context, f ledger.CashbackFilter) ([]domain.CashbackRecord, error) {
	return tx.listCashback(f), nil
}

func (tx *memTx) LockAccounts(ctx context.Context, ids ...uuid.UUID) (map[uuid.UUID]domain.Account, error) {
	out := make(map[uuid.UUID]domain.Account, len(ids))
	for _, id := range ids {
		a, err := tx.account(id)
		if err != nil {
			return nil, err
		}
		out[id] = a
	}
	return out, nil
}

func (tx *memTx) InsertAccount(ctx context.Context, a domain.Account) error {
	if _, exists := tx.accounts[a.ID]; exists {
		return fmt.Errorf("account %s already exists: %w", a.ID, domain.ErrDuplicateOperation)
	}
	tx.accounts[a.ID] = a
	tx.undo = append(tx.undo, func() { delete(tx.accounts, a.ID) })
	return nil
}

func (tx *memTx) UpdateAccount(ctx context.Context, a domain.Account) error {
	prev, ok := tx.accounts[a.ID]
	if !ok {
		return fmt.Errorf("account %s: %w", a.ID, domain.ErrNotFound)
	}
	tx.accounts[a.ID] = a
	tx.undo = append(tx.undo, func() { tx.accounts[a.ID] = prev })
	return nil
}

func (tx *memTx) InsertTransaction(ctx context.Context, t domain.Transaction) error {
	if t.Status != domain.StatusFailed {
		for _, i := range tx.txByRef[t.Reference] {
			other := tx.transactions[i]
			if other.Status != domain.StatusFailed && other.Leg == t.Leg {
				return fmt.Errorf("reference %q leg %d: %w", t.Reference, t.Leg, domain.ErrDuplicateReference)
			}
		}
	}
	i := len(tx.transactions)
	tx.transactions = append(tx.transactions, t)
	tx.txByID[t.ID] = i
	tx.txByRef[t.Reference] = append(tx.txByRef[t.Reference], i)
	if t.ReversalOf != nil {
		tx.reversals[*t.ReversalOf] = t.ID
	}
	tx.undo = append(tx.undo, func() {
		tx.transactions = tx.transactions[:i]
		delete(tx.txByID, t.ID)
		refs := tx.txByRef[t.Reference]
		if len(refs) <= 1 {
			delete(tx.txByRef, t.Reference)
		} else {
			tx.txByRef[t.Reference] = refs[:len(refs)-1]
		}
		if t.ReversalOf != nil {
			delete(tx.reversals, *t.ReversalOf)
		}
	})
	return nil
}

func (tx *memTx) InsertPayout(ctx context.Context, p domain.PayoutRequest) error {
	if _, exists := tx.payouts[p.ID]; exists {
		return fmt.Errorf("payout %s already exists: %w", p.ID, domain.ErrDuplicateOperation)
	}
	if p.IdempotencyKey != "" {
		if _, exists := tx.payoutByKey[p.IdempotencyKey]; exists {
			return fmt.Errorf("payout idempotency key: %w", domain.ErrDuplicateOperation)
		}
		tx.payoutByKey[p.IdempotencyKey] = p.ID
	}
	tx.payouts[p.ID] = p
	tx.undo = append(tx.undo, func() {
		delete(tx.payouts, p.ID)
		if p.IdempotencyKey != "" {
			delete(tx.payoutByKey, p.IdempotencyKey)
		}
	})
	return nil
}

func (tx *memTx) UpdatePayout(ctx context.Context, p domain.PayoutRequest) error {
	prev, ok := tx.payouts[p.ID]
	if !ok {
		return fmt.Errorf("payout %s: %w", p.ID, domain.ErrNotFound)
	}
	tx.payouts[p.ID] = p
	tx.undo = append(tx.undo, func() { tx.payouts[p.ID] = prev })
	return nil
}

func (tx *memTx) InsertCashback(ctx context.Context, r domain.CashbackRecord) error {
	key := cashbackKey(r.ChurchID, r.Year)
	if _, exists := tx.cashbackKey[key]; exists {
		return fmt.Errorf("cashback for %s: %w", key, domain.ErrDuplicateOperation)
	}
	tx.cashback[r.ID] = r
	tx.cashbackKey[key] = r.ID
	tx.undo = append(tx.undo, func() {
		delete(tx.cashback, r.ID)
		delete(tx.cashbackKey, key)
	})
	return nil
}

func (tx *memTx) UpdateCashback(ctx context.Context, r domain.CashbackRecord) error {
	prev, ok := tx.cashback[r.ID]
	if !ok {
		return fmt.Errorf("cashback record %s: %w", r.ID, domain.ErrNotFound)
	}
	tx.cashback[r.ID] = r
	tx.undo = append(tx.undo, func() { tx.cashback[r.ID] = prev })
	return nil
}
