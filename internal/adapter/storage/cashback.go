package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/MziziM/ChurpayPlatform-sub002/internal/core/domain"
	"github.com/MziziM/ChurpayPlatform-sub002/internal/core/ledger"
)

const cashbackColumns = `id, church_id, year, total_fees, amount, currency, status,
	calculated_at, calculated_by, approved_at, approved_by, paid_at, paid_by, transaction_id`

func scanCashback(row pgx.Row) (domain.CashbackRecord, error) {
	var r domain.CashbackRecord
	err := row.Scan(
		&r.ID, &r.ChurchID, &r.Year, &r.TotalFees.Amount, &r.Amount.Amount, &r.Amount.Currency, &r.Status,
		&r.CalculatedAt, &r.CalculatedBy, &r.ApprovedAt, &r.ApprovedBy, &r.PaidAt, &r.PaidBy, &r.TransactionID,
	)
	r.TotalFees.Currency = r.Amount.Currency
	return r, err
}

func (q queries) Cashback(ctx context.Context, id uuid.UUID) (domain.CashbackRecord, error) {
	r, err := scanCashback(q.db.QueryRow(ctx, `SELECT `+cashbackColumns+` FROM cashback_records WHERE id = $1`, id))
	if err != nil {
		return domain.CashbackRecord{}, notFound("cashback record", id, err)
	}
	return r, nil
}

func (q queries) CashbackByChurchYear(ctx context.Context, churchID uuid.UUID, year int) (domain.CashbackRecord, bool, error) {
	r, err := scanCashback(q.db.QueryRow(ctx,
		`SELECT `+cashbackColumns+` FROM cashback_records WHERE church_id = $1 AND year = $2`, churchID, year))
	if err == pgx.ErrNoRows {
		return domain.CashbackRecord{}, false, nil
	}
	if err != nil {
		return domain.CashbackRecord{}, false, mapErr(err)
	}
	return r, true, nil
}

func (q queries) ListCashback(ctx context.Context, f ledger.CashbackFilter) ([]domain.CashbackRecord, error) {
	where := []string{"TRUE"}
	var args []any
	if f.ChurchID != uuid.Nil {
		args = append(args, f.ChurchID)
		where = append(where, fmt.Sprintf("church_id = $%d", len(args)))
	}
	if f.Year != 0 {
		args = append(args, f.Year)
		where = append(where, fmt.Sprintf("year = $%d", len(args)))
	}

	rows, err := q.db.Query(ctx, `SELECT `+cashbackColumns+` FROM cashback_records WHERE `+strings.Join(where, " AND ")+` ORDER BY year DESC, church_id`, args...)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []domain.CashbackRecord
	for rows.Next() {
		r, err := scanCashback(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (t *pgTx) InsertCashback(ctx context.Context, r domain.CashbackRecord) error {
	_, err := t.db.Exec(ctx, `
		INSERT INTO cashback_records (`+cashbackColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		r.ID, r.ChurchID, r.Year, r.TotalFees.Amount, r.Amount.Amount, r.Amount.Currency, r.Status,
		r.CalculatedAt, r.CalculatedBy, r.ApprovedAt, r.ApprovedBy, r.PaidAt, r.PaidBy, r.TransactionID,
	)
	return mapErr(err)
}

func (t *pgTx) UpdateCashback(ctx context.Context, r domain.CashbackRecord) error {
	tag, err := t.db.Exec(ctx, `
		UPDATE cashback_records
		SET total_fees = $2, amount = $3, status = $4, calculated_at = $5, calculated_by = $6,
			approved_at = $7, approved_by = $8, paid_at = $9, paid_by = $10, transaction_id = $11
		WHERE id = $1`,
		r.ID, r.TotalFees.Amount, r.Amount.Amount, r.Status, r.CalculatedAt, r.CalculatedBy,
		r.ApprovedAt, r.ApprovedBy, r.PaidAt, r.PaidBy, r.TransactionID,
	)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("cashback record %s: %w", r.ID, domain.ErrNotFound)
	}
	return nil
}
