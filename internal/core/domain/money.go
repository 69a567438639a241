package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

type Currency string

const (
	ZAR Currency = "ZAR"
	USD Currency = "USD"
	TZS Currency = "TZS"
)

// minorDigits is the number of minor-unit digits per currency.
var minorDigits = map[Currency]int32{
	ZAR: 2,
	USD: 2,
	TZS: 2,
}

// ParseCurrency normalises an ISO code and rejects currencies the ledger does not carry.
func ParseCurrency(code string) (Currency, error) {
	c := Currency(strings.ToUpper(strings.TrimSpace(code)))
	if _, ok := minorDigits[c]; !ok {
		return "", fmt.Errorf("%w: unsupported currency %q", ErrValidation, code)
	}
	return c, nil
}

// Exponent returns the number of minor-unit digits for the currency.
func (c Currency) Exponent() int32 {
	if d, ok := minorDigits[c]; ok {
		return d
	}
	return 2
}

// Money struct holds amount in "minor units" (cents)
// Example: R1000.00 is stored as 100000. $10.50 is stored as 1050.
type Money struct {
	Amount   int64    `json:"amount"`
	Currency Currency `json:"currency"`
}

// NewMoney creates a new Money instance
func NewMoney(amount int64, currency Currency) Money {
	return Money{
		Amount:   amount,
		Currency: currency,
	}
}

// Add adds two Money instances safely
func (m Money) Add(other Money) (Money, error) {
	if m.Currency != other.Currency {
		return Money{}, fmt.Errorf("%w: cannot add %s to %s", ErrCurrencyMismatch, other.Currency, m.Currency)
	}
	return Money{
		Amount:   m.Amount + other.Amount,
		Currency: m.Currency,
	}, nil
}

// Sub subtracts other from m. Unlike a balance debit it may go negative;
// callers that guard balances check the result themselves.
func (m Money) Sub(other Money) (Money, error) {
	if m.Currency != other.Currency {
		return Money{}, fmt.Errorf("%w: cannot subtract %s from %s", ErrCurrencyMismatch, other.Currency, m.Currency)
	}
	return Money{
		Amount:   m.Amount - other.Amount,
		Currency: m.Currency,
	}, nil
}

func (m Money) Neg() Money {
	return Money{Amount: -m.Amount, Currency: m.Currency}
}

func (m Money) Abs() Money {
	if m.Amount < 0 {
		return m.Neg()
	}
	return m
}

func (m Money) IsZero() bool { return m.Amount == 0 }
func (m Money) IsPositive() bool { return m.Amount > 0 }
func (m Money) IsNegative() bool { return m.Amount < 0 }

// Decimal returns the amount in major units, e.g. 1050 USD -> 10.50.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(m.Amount, -m.Currency.Exponent())
}

func (m Money) String() string {
	return m.Decimal().StringFixed(m.Currency.Exponent()) + " " + string(m.Currency)
}
