package domain

import (
	"time"

	"github.com/google/uuid"
)

type CashbackStatus string

const (
	CashbackCalculated CashbackStatus = "calculated"
	CashbackApproved   CashbackStatus = "approved"
	CashbackPaid       CashbackStatus = "paid"
)

func (s CashbackStatus) CanTransitionTo(next CashbackStatus) bool {
	switch s {
	case CashbackCalculated:
		return next == CashbackApproved
	case CashbackApproved:
		return next == CashbackPaid
	case CashbackPaid:
		return false
	}
	return false
}

// CashbackRecord is the yearly revenue-share owed to a church. Amount is
// always derived from TotalFees; there is no setter for it.
type CashbackRecord struct {
	ID            uuid.UUID      `json:"id"`
	ChurchID      uuid.UUID      `json:"church_id"`
	Year          int            `json:"year"`
	TotalFees     Money          `json:"total_fees"`
	Amount        Money          `json:"amount"`
	Status        CashbackStatus `json:"status"`
	CalculatedAt  time.Time      `json:"calculated_at"`
	CalculatedBy  string         `json:"calculated_by,omitempty"`
	ApprovedAt    *time.Time     `json:"approved_at,omitempty"`
	ApprovedBy    string         `json:"approved_by,omitempty"`
	PaidAt        *time.Time     `json:"paid_at,omitempty"`
	PaidBy        string         `json:"paid_by,omitempty"`
	TransactionID *uuid.UUID     `json:"transaction_id,omitempty"`
}

func (r CashbackRecord) Reference() string {
	return "cashback:" + r.ID.String()
}
