package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/MziziM/ChurpayPlatform-sub002/internal/core/domain"
)

const accountColumns = `id, owner_type, owner_name, currency, available, pending,
	daily_limit, monthly_limit, giving_goal, active, created_at, updated_at`

func scanAccount(row pgx.Row) (domain.Account, error) {
	var acc domain.Account
	err := row.Scan(
		&acc.ID, &acc.OwnerType, &acc.OwnerName, &acc.Currency, &acc.Available, &acc.Pending,
		&acc.DailyLimit, &acc.MonthlyLimit, &acc.GivingGoal, &acc.Active, &acc.CreatedAt, &acc.UpdatedAt,
	)
	return acc, err
}

func (q queries) Account(ctx context.Context, id uuid.UUID) (domain.Account, error) {
	acc, err := scanAccount(q.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id))
	if err != nil {
		return domain.Account{}, notFound("account", id, err)
	}
	return acc, nil
}

// AccountSettled reads the row and its completed sum in a single statement,
// so both come from the same snapshot even under READ COMMITTED.
func (q queries) AccountSettled(ctx context.Context, id uuid.UUID) (domain.Account, int64, error) {
	var (
		acc domain.Account
		sum int64
	)
	err := q.db.QueryRow(ctx, `
		SELECT `+accountColumns+`,
			(SELECT COALESCE(SUM(t.amount), 0)::BIGINT FROM transactions t
			 WHERE t.account_id = accounts.id AND t.status = 'completed')
		FROM accounts WHERE id = $1`, id,
	).Scan(
		&acc.ID, &acc.OwnerType, &acc.OwnerName, &acc.Currency, &acc.Available, &acc.Pending,
		&acc.DailyLimit, &acc.MonthlyLimit, &acc.GivingGoal, &acc.Active, &acc.CreatedAt, &acc.UpdatedAt,
		&sum,
	)
	if err != nil {
		return domain.Account{}, 0, notFound("account", id, err)
	}
	return acc, sum, nil
}

func (q queries) AccountsByOwnerType(ctx context.Context, owner domain.OwnerType) ([]domain.Account, error) {
	rows, err := q.db.Query(ctx, `SELECT `+accountColumns+` FROM accounts WHERE owner_type = $1 ORDER BY created_at, id`, owner)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []domain.Account
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, acc)
	}
	return out, rows.Err()
}

// LockAccounts takes row locks in the order given. Callers pass sorted ids,
// so the ORDER BY matches and concurrent lockers queue rather than deadlock.
func (t *pgTx) LockAccounts(ctx context.Context, ids ...uuid.UUID) (map[uuid.UUID]domain.Account, error) {
	rows, err := t.db.Query(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ANY($1) ORDER BY id FOR UPDATE`, ids)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	out := make(map[uuid.UUID]domain.Account, len(ids))
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, mapErr(err)
		}
		out[acc.ID] = acc
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr(err)
	}
	return out, nil
}

func (t *pgTx) InsertAccount(ctx context.Context, a domain.Account) error {
	_, err := t.db.Exec(ctx, `
		INSERT INTO accounts (`+accountColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		a.ID, a.OwnerType, a.OwnerName, a.Currency, a.Available, a.Pending,
		a.DailyLimit, a.MonthlyLimit, a.GivingGoal, a.Active, a.CreatedAt, a.UpdatedAt,
	)
	return mapErr(err)
}

func (t *pgTx) UpdateAccount(ctx context.Context, a domain.Account) error {
	tag, err := t.db.Exec(ctx, `
		UPDATE accounts
		SET available = $2, pending = $3, daily_limit = $4, monthly_limit = $5,
			giving_goal = $6, active = $7, owner_name = $8, updated_at = $9
		WHERE id = $1`,
		a.ID, a.Available, a.Pending, a.DailyLimit, a.MonthlyLimit,
		a.GivingGoal, a.Active, a.OwnerName, a.UpdatedAt,
	)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("account %s: %w", a.ID, domain.ErrNotFound)
	}
	return nil
}
