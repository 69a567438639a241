package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/MziziM/ChurpayPlatform-sub002/internal/core/domain"
	"github.com/MziziM/ChurpayPlatform-sub002/internal/core/ledger"
)

const transactionColumns = `id, account_id, type, amount, currency, status, reference, leg,
	counterparty_id, reversal_of, external_reference, description, created_at`

// effectiveStatusSQL reports a reversed original as "reversed" without
// touching the stored row.
const effectiveStatusSQL = `CASE WHEN t.status = 'completed' AND EXISTS (
		SELECT 1 FROM transactions r WHERE r.reversal_of = t.id
	) THEN 'reversed' ELSE t.status END`

func scanTransaction(row pgx.Row) (domain.Transaction, error) {
	var t domain.Transaction
	err := row.Scan(
		&t.ID, &t.AccountID, &t.Type, &t.Amount.Amount, &t.Amount.Currency, &t.Status, &t.Reference, &t.Leg,
		&t.CounterpartyID, &t.ReversalOf, &t.ExternalReference, &t.Description, &t.CreatedAt,
	)
	return t, err
}

func (q queries) collectTransactions(rows pgx.Rows, err error) ([]domain.Transaction, error) {
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []domain.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (q queries) Transaction(ctx context.Context, id uuid.UUID) (domain.Transaction, error) {
	t, err := scanTransaction(q.db.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id))
	if err != nil {
		return domain.Transaction{}, notFound("transaction", id, err)
	}
	return t, nil
}

func (q queries) TransactionsByReference(ctx context.Context, reference string) ([]domain.Transaction, error) {
	rows, err := q.db.Query(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE reference = $1 ORDER BY leg, created_at`, reference)
	return q.collectTransactions(rows, err)
}

func (q queries) ReversalOf(ctx context.Context, originalID uuid.UUID) (domain.Transaction, bool, error) {
	t, err := scanTransaction(q.db.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE reversal_of = $1`, originalID))
	if err == pgx.ErrNoRows {
		return domain.Transaction{}, false, nil
	}
	if err != nil {
		return domain.Transaction{}, false, mapErr(err)
	}
	return t, true, nil
}

// ListTransactions returns one page, newest first, plus the unpaged total.
func (q queries) ListTransactions(ctx context.Context, f ledger.TransactionFilter) ([]domain.Transaction, int, error) {
	where := []string{"account_id = $1"}
	args := []any{f.AccountID}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if len(f.Types) > 0 {
		where = append(where, "type = ANY("+arg(typeStrings(f.Types))+")")
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			statuses[i] = string(s)
		}
		where = append(where, "status = ANY("+arg(statuses)+")")
	}
	if !f.From.IsZero() {
		where = append(where, "created_at >= "+arg(f.From))
	}
	if !f.To.IsZero() {
		where = append(where, "created_at < "+arg(f.To))
	}

	// status in the outer query is the effective one.
	base := `SELECT id, account_id, type, amount, currency, ` + effectiveStatusSQL + ` AS status, reference, leg,
			counterparty_id, reversal_of, external_reference, description, created_at
		FROM transactions t`
	filtered := `FROM (` + base + `) v WHERE ` + strings.Join(where, " AND ")

	var total int
	if err := q.db.QueryRow(ctx, `SELECT COUNT(*) `+filtered, args...).Scan(&total); err != nil {
		return nil, 0, mapErr(err)
	}

	page := `SELECT ` + transactionColumns + ` ` + filtered + ` ORDER BY created_at DESC, leg DESC, id`
	if f.Limit > 0 {
		page += " LIMIT " + arg(f.Limit)
	}
	if f.Offset > 0 {
		page += " OFFSET " + arg(f.Offset)
	}
	rows, err := q.db.Query(ctx, page, args...)
	out, err := q.collectTransactions(rows, err)
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func (q queries) SumCompleted(ctx context.Context, accountID uuid.UUID, asOf time.Time) (int64, error) {
	var sum int64
	err := q.db.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0)::BIGINT FROM transactions
		WHERE account_id = $1 AND status = 'completed' AND created_at <= $2`,
		accountID, asOf,
	).Scan(&sum)
	return sum, mapErr(err)
}

func (q queries) SumAmounts(ctx context.Context, f ledger.SumFilter) (int64, error) {
	where := []string{"account_id = $1", "status = 'completed'"}
	args := []any{f.AccountID}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if len(f.Types) > 0 {
		where = append(where, "type = ANY("+arg(typeStrings(f.Types))+")")
	}
	if !f.From.IsZero() {
		where = append(where, "created_at >= "+arg(f.From))
	}
	if !f.To.IsZero() {
		where = append(where, "created_at < "+arg(f.To))
	}
	if f.DebitsOnly {
		where = append(where, "amount < 0")
	}

	var sum int64
	err := q.db.QueryRow(ctx, `SELECT COALESCE(SUM(amount), 0)::BIGINT FROM transactions WHERE `+strings.Join(where, " AND "), args...).Scan(&sum)
	return sum, mapErr(err)
}

func (t *pgTx) InsertTransaction(ctx context.Context, tx domain.Transaction) error {
	_, err := t.db.Exec(ctx, `
		INSERT INTO transactions (`+transactionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		tx.ID, tx.AccountID, tx.Type, tx.Amount.Amount, tx.Amount.Currency, tx.Status, tx.Reference, tx.Leg,
		tx.CounterpartyID, tx.ReversalOf, tx.ExternalReference, tx.Description, tx.CreatedAt,
	)
	return mapErr(err)
}

func typeStrings(types []domain.TransactionType) []string {
	out := make([]string, len(types))
	for i, t := range types {
		out[i] = string(t)
	}
	return out
}
