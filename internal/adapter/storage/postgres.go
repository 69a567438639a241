package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MziziM/ChurpayPlatform-sub002/internal/core/domain"
	"github.com/MziziM/ChurpayPlatform-sub002/internal/core/ledger"
)

// querier is what both the pool and an open transaction can do.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// queries implements ledger.Reader over any querier.
type queries struct {
	db querier
}

// PostgresStore is the pgx-backed ledger.Store.
type PostgresStore struct {
	queries
	pool        *pgxpool.Pool
	lockTimeout time.Duration
}

func NewPostgresStore(pool *pgxpool.Pool, lockTimeout time.Duration) *PostgresStore {
	if lockTimeout <= 0 {
		lockTimeout = 2 * time.Second
	}
	return &PostgresStore{queries: queries{db: pool}, pool: pool, lockTimeout: lockTimeout}
}

// WithTx runs fn inside a READ COMMITTED transaction. Row locks taken by
// LockAccounts give way after lockTimeout with domain.ErrBusy.
func (s *PostgresStore) WithTx(ctx context.Context, fn func(tx ledger.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return mapErr(err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())); err != nil {
		return mapErr(err)
	}
	if err := fn(&pgTx{queries{db: tx}}); err != nil {
		return err
	}
	return mapErr(tx.Commit(ctx))
}

type pgTx struct {
	queries
}

var (
	_ ledger.Store = (*PostgresStore)(nil)
	_ ledger.Tx    = (*pgTx)(nil)
)

// mapErr translates driver errors into domain errors.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "55P03", "40001", "40P01": // lock_not_available, serialization_failure, deadlock_detected
			return fmt.Errorf("%w: %s", domain.ErrBusy, pgErr.Message)
		case "23505":
			switch pgErr.ConstraintName {
			case "transactions_reference_leg_key", "transactions_reversal_of_key":
				return fmt.Errorf("%w: %s", domain.ErrDuplicateReference, pgErr.ConstraintName)
			default:
				return fmt.Errorf("%w: %s", domain.ErrDuplicateOperation, pgErr.ConstraintName)
			}
		case "23514":
			return fmt.Errorf("%w: %s", domain.ErrInvariant, pgErr.ConstraintName)
		}
	}
	return err
}

func notFound(kind string, id any, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s %v: %w", kind, id, domain.ErrNotFound)
	}
	return mapErr(err)
}
