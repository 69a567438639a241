package domain

import (
	"time"

	"github.com/google/uuid"
)

type OwnerType string

const (
	OwnerMember OwnerType = "member"
	OwnerChurch OwnerType = "church"
)

func (o OwnerType) Valid() bool {
	switch o {
	case OwnerMember, OwnerChurch:
		return true
	}
	return false
}

// Account represents a member's wallet or a church's vault
type Account struct {
	ID           uuid.UUID `json:"id"`
	OwnerType    OwnerType `json:"owner_type"`
	OwnerName    string    `json:"owner_name"`
	Currency     Currency  `json:"currency"`
	Available    int64     `json:"available"` // minor units
	Pending      int64     `json:"pending"`   // held for payouts
	DailyLimit   int64     `json:"daily_limit"`
	MonthlyLimit int64     `json:"monthly_limit"`
	GivingGoal   int64     `json:"giving_goal"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (a Account) AvailableMoney() Money { return NewMoney(a.Available, a.Currency) }
func (a Account) PendingMoney() Money { return NewMoney(a.Pending, a.Currency) }

// Total is the settled balance: what the completed transactions add up to.
func (a Account) Total() Money { return NewMoney(a.Available+a.Pending, a.Currency) }

type TransactionType string

const (
	TxDeposit             TransactionType = "deposit"
	TxWithdrawal          TransactionType = "withdrawal"
	TxTransferSent        TransactionType = "transfer-sent"
	TxTransferReceived    TransactionType = "transfer-received"
	TxDonation            TransactionType = "donation"
	TxTithe               TransactionType = "tithe"
	TxProjectContribution TransactionType = "project-contribution"
	TxFee                 TransactionType = "fee"
	TxCashback            TransactionType = "cashback"
)

var TransactionTypes = []TransactionType{
	TxDeposit, TxWithdrawal, TxTransferSent, TxTransferReceived,
	TxDonation, TxTithe, TxProjectContribution, TxFee, TxCashback,
}

func (t TransactionType) Valid() bool {
	switch t {
	case TxDeposit, TxWithdrawal, TxTransferSent, TxTransferReceived,
		TxDonation, TxTithe, TxProjectContribution, TxFee, TxCashback:
		return true
	}
	return false
}

type TransactionStatus string

const (
	StatusPending   TransactionStatus = "pending"
	StatusCompleted TransactionStatus = "completed"
	StatusFailed    TransactionStatus = "failed"
	StatusReversed  TransactionStatus = "reversed"
)

func (s TransactionStatus) Valid() bool {
	switch s {
	case StatusPending, StatusCompleted, StatusFailed, StatusReversed:
		return true
	}
	return false
}

// Settled reports whether rows in this status count towards the balance.
// Reversed originals still count; their reversing entry cancels them out.
func (s TransactionStatus) Settled() bool {
	switch s {
	case StatusCompleted, StatusReversed:
		return true
	case StatusPending, StatusFailed:
		return false
	}
	return false
}

// Transaction is an immutable ledger row. Amount is signed: credits are
// positive, debits negative.
type Transaction struct {
	ID                uuid.UUID         `json:"id"`
	AccountID         uuid.UUID         `json:"account_id"`
	Type              TransactionType   `json:"type"`
	Amount            Money             `json:"amount"`
	Status            TransactionStatus `json:"status"`
	Reference         string            `json:"reference"`
	Leg               int               `json:"leg"`
	CounterpartyID    *uuid.UUID        `json:"counterparty_id,omitempty"`
	ReversalOf        *uuid.UUID        `json:"reversal_of,omitempty"`
	ExternalReference string            `json:"external_reference,omitempty"`
	Description       string            `json:"description,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
}

func (t Transaction) IsDebit() bool { return t.Amount.Amount < 0 }
