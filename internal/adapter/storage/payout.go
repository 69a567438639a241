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

const payoutColumns = `id, church_id, idempotency_key, amount, currency, class, fee, net, status,
	urgency_reason, requested_by, reviewer_id, approver_id, reason, gateway_reference, external_reference,
	requested_at, reviewed_at, approved_at, processing_at, completed_at, rejected_at, cancelled_at, updated_at`

func scanPayout(row pgx.Row) (domain.PayoutRequest, error) {
	var p domain.PayoutRequest
	err := row.Scan(
		&p.ID, &p.ChurchID, &p.IdempotencyKey, &p.Amount.Amount, &p.Amount.Currency, &p.Class,
		&p.Fee.Amount, &p.Net.Amount, &p.Status,
		&p.UrgencyReason, &p.RequestedBy, &p.ReviewerID, &p.ApproverID, &p.Reason, &p.GatewayReference, &p.ExternalReference,
		&p.RequestedAt, &p.ReviewedAt, &p.ApprovedAt, &p.ProcessingAt, &p.CompletedAt, &p.RejectedAt, &p.CancelledAt, &p.UpdatedAt,
	)
	p.Fee.Currency = p.Amount.Currency
	p.Net.Currency = p.Amount.Currency
	return p, err
}

func (q queries) Payout(ctx context.Context, id uuid.UUID) (domain.PayoutRequest, error) {
	p, err := scanPayout(q.db.QueryRow(ctx, `SELECT `+payoutColumns+` FROM payout_requests WHERE id = $1`, id))
	if err != nil {
		return domain.PayoutRequest{}, notFound("payout", id, err)
	}
	return p, nil
}

func (q queries) PayoutByIdempotencyKey(ctx context.Context, key string) (domain.PayoutRequest, bool, error) {
	p, err := scanPayout(q.db.QueryRow(ctx, `SELECT `+payoutColumns+` FROM payout_requests WHERE idempotency_key = $1`, key))
	if err == pgx.ErrNoRows {
		return domain.PayoutRequest{}, false, nil
	}
	if err != nil {
		return domain.PayoutRequest{}, false, mapErr(err)
	}
	return p, true, nil
}

func (q queries) ListPayouts(ctx context.Context, f ledger.PayoutFilter) ([]domain.PayoutRequest, error) {
	where := []string{"TRUE"}
	var args []any
	if f.ChurchID != uuid.Nil {
		args = append(args, f.ChurchID)
		where = append(where, fmt.Sprintf("church_id = $%d", len(args)))
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			statuses[i] = string(s)
		}
		args = append(args, statuses)
		where = append(where, fmt.Sprintf("status = ANY($%d)", len(args)))
	}

	rows, err := q.db.Query(ctx, `SELECT `+payoutColumns+` FROM payout_requests WHERE `+strings.Join(where, " AND ")+` ORDER BY requested_at DESC, id`, args...)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []domain.PayoutRequest
	for rows.Next() {
		p, err := scanPayout(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (t *pgTx) InsertPayout(ctx context.Context, p domain.PayoutRequest) error {
	_, err := t.db.Exec(ctx, `
		INSERT INTO payout_requests (`+payoutColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16,
			$17, $18, $19, $20, $21, $22, $23, $24)`,
		p.ID, p.ChurchID, p.IdempotencyKey, p.Amount.Amount, p.Amount.Currency, p.Class, p.Fee.Amount, p.Net.Amount, p.Status,
		p.UrgencyReason, p.RequestedBy, p.ReviewerID, p.ApproverID, p.Reason, p.GatewayReference, p.ExternalReference,
		p.RequestedAt, p.ReviewedAt, p.ApprovedAt, p.ProcessingAt, p.CompletedAt, p.RejectedAt, p.CancelledAt, p.UpdatedAt,
	)
	return mapErr(err)
}

func (t *pgTx) UpdatePayout(ctx context.Context, p domain.PayoutRequest) error {
	tag, err := t.db.Exec(ctx, `
		UPDATE payout_requests
		SET fee = $2, net = $3, status = $4, reviewer_id = $5, approver_id = $6, reason = $7,
			gateway_reference = $8, external_reference = $9, reviewed_at = $10, approved_at = $11,
			processing_at = $12, completed_at = $13, rejected_at = $14, cancelled_at = $15, updated_at = $16
		WHERE id = $1`,
		p.ID, p.Fee.Amount, p.Net.Amount, p.Status, p.ReviewerID, p.ApproverID, p.Reason,
		p.GatewayReference, p.ExternalReference, p.ReviewedAt, p.ApprovedAt,
		p.ProcessingAt, p.CompletedAt, p.RejectedAt, p.CancelledAt, p.UpdatedAt,
	)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("payout %s: %w", p.ID, domain.ErrNotFound)
	}
	return nil
}
