package domain

import (
	"time"

	"github.com/google/uuid"
)

type PayoutClass string

const (
	ClassStandard  PayoutClass = "standard"
	ClassExpress   PayoutClass = "express"
	ClassEmergency PayoutClass = "emergency"
)

func (c PayoutClass) Valid() bool {
	switch c {
	case ClassStandard, ClassExpress, ClassEmergency:
		return true
	}
	return false
}

type PayoutStatus string

const (
	PayoutRequested   PayoutStatus = "requested"
	PayoutUnderReview PayoutStatus = "under_review"
	PayoutApproved    PayoutStatus = "approved"
	PayoutProcessing  PayoutStatus = "processing"
	PayoutCompleted   PayoutStatus = "completed"
	PayoutRejected    PayoutStatus = "rejected"
	PayoutCancelled   PayoutStatus = "cancelled"
)

func (s PayoutStatus) Valid() bool {
	switch s {
	case PayoutRequested, PayoutUnderReview, PayoutApproved, PayoutProcessing,
		PayoutCompleted, PayoutRejected, PayoutCancelled:
		return true
	}
	return false
}

// Terminal reports whether no transition leaves this state.
func (s PayoutStatus) Terminal() bool {
	switch s {
	case PayoutCompleted, PayoutRejected, PayoutCancelled:
		return true
	case PayoutRequested, PayoutUnderReview, PayoutApproved, PayoutProcessing:
		return false
	}
	return false
}

// HoldsFunds reports whether a request in this state still has its amount
// reserved in the church's pending balance.
func (s PayoutStatus) HoldsFunds() bool {
	switch s {
	case PayoutRequested, PayoutUnderReview, PayoutApproved:
		return true
	case PayoutProcessing, PayoutCompleted, PayoutRejected, PayoutCancelled:
		return false
	}
	return false
}

// CanTransitionTo encodes the payout lifecycle graph.
func (s PayoutStatus) CanTransitionTo(next PayoutStatus) bool {
	switch s {
	case PayoutRequested:
		return next == PayoutUnderReview || next == PayoutApproved ||
			next == PayoutRejected || next == PayoutCancelled
	case PayoutUnderReview:
		return next == PayoutApproved || next == PayoutRejected
	case PayoutApproved:
		return next == PayoutProcessing || next == PayoutCancelled
	case PayoutProcessing:
		return next == PayoutCompleted || next == PayoutRejected
	case PayoutCompleted, PayoutRejected, PayoutCancelled:
		return false
	}
	return false
}

type PayoutRequest struct {
	ID                uuid.UUID    `json:"id"`
	ChurchID          uuid.UUID    `json:"church_id"`
	IdempotencyKey    string       `json:"-"`
	Amount            Money        `json:"amount"`
	Class             PayoutClass  `json:"class"`
	Fee               Money        `json:"fee"`
	Net               Money        `json:"net"`
	Status            PayoutStatus `json:"status"`
	UrgencyReason     string       `json:"urgency_reason,omitempty"`
	RequestedBy       string       `json:"requested_by,omitempty"`
	ReviewerID        string       `json:"reviewer_id,omitempty"`
	ApproverID        string       `json:"approver_id,omitempty"`
	Reason            string       `json:"reason,omitempty"`
	GatewayReference  string       `json:"gateway_reference,omitempty"`
	ExternalReference string       `json:"external_reference,omitempty"`
	RequestedAt       time.Time    `json:"requested_at"`
	ReviewedAt        *time.Time   `json:"reviewed_at,omitempty"`
	ApprovedAt        *time.Time   `json:"approved_at,omitempty"`
	ProcessingAt      *time.Time   `json:"processing_at,omitempty"`
	CompletedAt       *time.Time   `json:"completed_at,omitempty"`
	RejectedAt        *time.Time   `json:"rejected_at,omitempty"`
	CancelledAt       *time.Time   `json:"cancelled_at,omitempty"`
	UpdatedAt         time.Time    `json:"updated_at"`
}

// Reference is the ledger reference code shared by every transaction the
// payout produces.
func (p PayoutRequest) Reference() string {
	return "payout:" + p.ID.String()
}

// Stamp records the transition time for status s.
func (p *PayoutRequest) Stamp(s PayoutStatus, at time.Time) {
	t := at
	switch s {
	case PayoutRequested:
		p.RequestedAt = at
	case PayoutUnderReview:
		p.ReviewedAt = &t
	case PayoutApproved:
		p.ApprovedAt = &t
	case PayoutProcessing:
		p.ProcessingAt = &t
	case PayoutCompleted:
		p.CompletedAt = &t
	case PayoutRejected:
		p.RejectedAt = &t
	case PayoutCancelled:
		p.CancelledAt = &t
	}
	p.Status = s
	p.UpdatedAt = at
}
