package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/MziziM/ChurpayPlatform-sub002/internal/core/domain"
)

// TransactionFilter selects ledger rows for one account. Zero values mean
// "no constraint"; Limit 0 means no limit.
type TransactionFilter struct {
	AccountID uuid.UUID
	Types     []domain.TransactionType
	Statuses  []domain.TransactionStatus
	From      time.Time // inclusive
	To        time.Time // exclusive
	Limit     int
	Offset    int
}

// SumFilter selects the completed rows whose signed amounts are summed.
type SumFilter struct {
	AccountID  uuid.UUID
	Types      []domain.TransactionType
	From       time.Time // inclusive, zero = beginning of time
	To         time.Time // exclusive, zero = no upper bound
	DebitsOnly bool
}

type PayoutFilter struct {
	ChurchID uuid.UUID
	Statuses []domain.PayoutStatus
}

type CashbackFilter struct {
	ChurchID uuid.UUID
	Year     int
}

// Reader is the read side of the store. Implementations return
// domain.ErrNotFound (wrapped) for missing entities.
type Reader interface {
	Account(ctx context.Context, id uuid.UUID) (domain.Account, error)
	AccountsByOwnerType(ctx context.Context, owner domain.OwnerType) ([]domain.Account, error)

	Transaction(ctx context.Context, id uuid.UUID) (domain.Transaction, error)
	TransactionsByReference(ctx context.Context, reference string) ([]domain.Transaction, error)
	ReversalOf(ctx context.Context, originalID uuid.UUID) (domain.Transaction, bool, error)
	ListTransactions(ctx context.Context, f TransactionFilter) ([]domain.Transaction, int, error)
	// SumCompleted adds the signed amounts of completed rows created at or before asOf.
	SumCompleted(ctx context.Context, accountID uuid.UUID, asOf time.Time) (int64, error)
	SumAmounts(ctx context.Context, f SumFilter) (int64, error)
	// AccountSettled returns the snapshot together with the sum of all its
	// completed rows, read from one consistent view.
	AccountSettled(ctx context.Context, id uuid.UUID) (domain.Account, int64, error)

	Payout(ctx context.Context, id uuid.UUID) (domain.PayoutRequest, error)
	PayoutByIdempotencyKey(ctx context.Context, key string) (domain.PayoutRequest, bool, error)
	ListPayouts(ctx context.Context, f PayoutFilter) ([]domain.PayoutRequest, error)

	Cashback(ctx context.Context, id uuid.UUID) (domain.CashbackRecord, error)
	CashbackByChurchYear(ctx context.Context, churchID uuid.UUID, year int) (domain.CashbackRecord, bool, error)
	ListCashback(ctx context.Context, f CashbackFilter) ([]domain.CashbackRecord, error)
}

// Tx is one atomic unit of work. Reads through a Tx observe its own writes.
type Tx interface {
	Reader

	// LockAccounts loads the accounts for update. Implementations lock in the
	// order given; the ledger always passes ids sorted.
	LockAccounts(ctx context.Context, ids ...uuid.UUID) (map[uuid.UUID]domain.Account, error)
	InsertAccount(ctx context.Context, a domain.Account) error
	UpdateAccount(ctx context.Context, a domain.Account) error
	InsertTransaction(ctx context.Context, t domain.Transaction) error

	InsertPayout(ctx context.Context, p domain.PayoutRequest) error
	UpdatePayout(ctx context.Context, p domain.PayoutRequest) error

	InsertCashback(ctx context.Context, r domain.CashbackRecord) error
	UpdateCashback(ctx context.Context, r domain.CashbackRecord) error
}

// Store is the persistence port. WithTx commits when fn returns nil and rolls
// back otherwise.
type Store interface {
	Reader
	WithTx(ctx context.Context, fn func(tx Tx) error) error
}
