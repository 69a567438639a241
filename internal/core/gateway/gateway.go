// Package gateway is the payment-rail capability the ledger consumes: card or
// mobile-money top-ups in, bank disbursements out.
package gateway

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/MziziM/ChurpayPlatform-sub002/internal/core/domain"
)

var ErrDeclined = errors.New("payment declined")

type ChargeRequest struct {
	AccountID uuid.UUID
	Amount    domain.Money
	// Reference is the ledger reference the charge will settle under; rails
	// use it to dedupe retries.
	Reference string
}

type DisburseRequest struct {
	PayoutID  uuid.UUID
	ChurchID  uuid.UUID
	Amount    domain.Money
	Reference string
}

type Receipt struct {
	Reference string `json:"reference"`
	Status    string `json:"status"`
}

type Gateway interface {
	Charge(ctx context.Context, req ChargeRequest) (Receipt, error)
	Disburse(ctx context.Context, req DisburseRequest) (Receipt, error)
	// Confirm asks the rail whether a disbursement has settled.
	Confirm(ctx context.Context, reference string) (Receipt, error)
}
