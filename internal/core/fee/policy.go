// Package fee maps a payout amount and processing class to the platform's
// processing fee. It is the only place fee percentages and minima live.
package fee

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/MziziM/ChurpayPlatform-sub002/internal/core/domain"
)

// Minima holds the per-class floor, in minor units, for one currency.
type Minima struct {
	Standard  int64 `mapstructure:"standard"`
	Express   int64 `mapstructure:"express"`
	Emergency int64 `mapstructure:"emergency"`
}

func (m Minima) of(class domain.PayoutClass) int64 {
	switch class {
	case domain.ClassStandard:
		return m.Standard
	case domain.ClassExpress:
		return m.Express
	case domain.ClassEmergency:
		return m.Emergency
	}
	return 0
}

// Rates holds the percentage of the amount charged per class, as fractions
// (0.005 is 0.5%).
type Rates struct {
	Standard  decimal.Decimal
	Express   decimal.Decimal
	Emergency decimal.Decimal
}

func (r Rates) of(class domain.PayoutClass) decimal.Decimal {
	switch class {
	case domain.ClassStandard:
		return r.Standard
	case domain.ClassExpress:
		return r.Express
	case domain.ClassEmergency:
		return r.Emergency
	}
	return decimal.Zero
}

func DefaultRates() Rates {
	return Rates{
		Standard:  decimal.RequireFromString("0.005"),
		Express:   decimal.RequireFromString("0.015"),
		Emergency: decimal.RequireFromString("0.025"),
	}
}

// DefaultMinima is R10 / R25 / R50.
func DefaultMinima() map[domain.Currency]Minima {
	return map[domain.Currency]Minima{
		domain.ZAR: {Standard: 1000, Express: 2500, Emergency: 5000},
	}
}

type Policy struct {
	rates  Rates
	minima map[domain.Currency]Minima
}

// NewPolicy validates the schedule. Rates and minima must both be
// non-decreasing from standard to emergency, otherwise a faster class could be
// cheaper than a slower one for some amount.
func NewPolicy(rates Rates, minima map[domain.Currency]Minima) (*Policy, error) {
	if rates.Standard.IsNegative() || rates.Standard.GreaterThan(rates.Express) || rates.Express.GreaterThan(rates.Emergency) {
		return nil, fmt.Errorf("%w: fee rates must satisfy 0 <= standard <= express <= emergency", domain.ErrValidation)
	}
	if rates.Emergency.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("%w: fee rate must be below 100%%", domain.ErrValidation)
	}
	copied := make(map[domain.Currency]Minima, len(minima))
	for cur, m := range minima {
		if m.Standard < 0 || m.Standard > m.Express || m.Express > m.Emergency {
			return nil, fmt.Errorf("%w: fee minima for %s must satisfy 0 <= standard <= express <= emergency", domain.ErrValidation, cur)
		}
		copied[cur] = m
	}
	return &Policy{rates: rates, minima: copied}, nil
}

// MustDefault panics on an invalid default schedule; used by tests and wiring.
func MustDefault() *Policy {
	p, err := NewPolicy(DefaultRates(), DefaultMinima())
	if err != nil {
		panic(err)
	}
	return p
}

// Compute returns max(amount x rate, minimum) for the class. The product is
// rounded half-up to the minor unit.
func (p *Policy) Compute(amount domain.Money, class domain.PayoutClass) (domain.Money, error) {
	if !class.Valid() {
		return domain.Money{}, fmt.Errorf("%w: unknown payout class %q", domain.ErrValidation, class)
	}
	if !amount.IsPositive() {
		return domain.Money{}, fmt.Errorf("%w: amount must be positive", domain.ErrValidation)
	}
	minima, ok := p.minima[amount.Currency]
	if !ok {
		return domain.Money{}, fmt.Errorf("%w: no fee schedule for %s", domain.ErrValidation, amount.Currency)
	}

	pct := decimal.NewFromInt(amount.Amount).Mul(p.rates.of(class)).Round(0).IntPart()
	fee := max(pct, minima.of(class))
	if fee > amount.Amount {
		fee = amount.Amount
	}
	return domain.NewMoney(fee, amount.Currency), nil
}

// Quote returns the fee and the net amount. fee + net always equals amount.
func (p *Policy) Quote(amount domain.Money, class domain.PayoutClass) (fee, net domain.Money, err error) {
	fee, err = p.Compute(amount, class)
	if err != nil {
		return domain.Money{}, domain.Money{}, err
	}
	net, err = amount.Sub(fee)
	return fee, net, err
}
