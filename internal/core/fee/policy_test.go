package fee

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/MziziM/ChurpayPlatform-sub002/internal/core/domain"
)

func zar(amount int64) domain.Money { return domain.NewMoney(amount, domain.ZAR) }

func TestComputeFee(t *testing.T) {
	p := MustDefault()

	cases := []struct {
		name   string
		amount int64
		class  domain.PayoutClass
		want   int64
	}{
		{"standard above minimum", 500000, domain.ClassStandard, 2500},     // R5000 x 0.5% = R25
		{"standard at minimum", 10000, domain.ClassStandard, 1000},         // R100 x 0.5% = R0.50 -> R10
		{"express above minimum", 500000, domain.ClassExpress, 7500},       // R75
		{"express at minimum", 100000, domain.ClassExpress, 2500},          // R15 -> R25
		{"emergency above minimum", 1000000, domain.ClassEmergency, 25000}, // R250
		{"emergency at minimum", 100000, domain.ClassEmergency, 5000},      // R25 -> R50
		{"half rounds up", 210100, domain.ClassStandard, 1051},             // 1050.5 -> 1051
		{"below half rounds down", 210099, domain.ClassStandard, 1050},     // 1050.495 -> 1050
	}

	for _, tc := range cases {
		got, err := p.Compute(zar(tc.amount), tc.class)
		if err != nil {
			t.Fatalf("%s: Compute: %v", tc.name, err)
		}
		if got.Amount != tc.want {
			t.Errorf("%s: fee got %d, want %d", tc.name, got.Amount, tc.want)
		}
	}
}

func TestQuoteNetPlusFeeEqualsAmount(t *testing.T) {
	p := MustDefault()
	for _, amount := range []int64{10000, 12345, 99999, 500000, 1234567} {
		for _, class := range []domain.PayoutClass{domain.ClassStandard, domain.ClassExpress, domain.ClassEmergency} {
			fee, net, err := p.Quote(zar(amount), class)
			if err != nil {
				t.Fatalf("Quote(%d, %s): %v", amount, class, err)
			}
			if fee.Amount+net.Amount != amount {
				t.Errorf("Quote(%d, %s): fee %d + net %d != amount", amount, class, fee.Amount, net.Amount)
			}
		}
	}
}

func TestFeeMonotonicAcrossClasses(t *testing.T) {
	p := MustDefault()
	for amount := int64(1); amount <= 5_000_000; amount = amount*3 + 7 {
		std, _ := p.Compute(zar(amount), domain.ClassStandard)
		exp, _ := p.Compute(zar(amount), domain.ClassExpress)
		emg, _ := p.Compute(zar(amount), domain.ClassEmergency)
		if !(emg.Amount >= exp.Amount && exp.Amount >= std.Amount) {
			t.Fatalf("amount %d: emergency %d, express %d, standard %d not monotone", amount, emg.Amount, exp.Amount, std.Amount)
		}
	}
}

func TestFeeNeverExceedsAmount(t *testing.T) {
	p := MustDefault()
	fee, err := p.Compute(zar(300), domain.ClassEmergency)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if fee.Amount != 300 {
		t.Errorf("fee got %d, want 300", fee.Amount)
	}
}

func TestComputeRejectsBadInput(t *testing.T) {
	p := MustDefault()

	if _, err := p.Compute(zar(1000), "overnight"); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("unknown class: got %v, want ErrValidation", err)
	}
	if _, err := p.Compute(zar(0), domain.ClassStandard); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("zero amount: got %v, want ErrValidation", err)
	}
	if _, err := p.Compute(domain.NewMoney(1000, domain.USD), domain.ClassStandard); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("currency without schedule: got %v, want ErrValidation", err)
	}
}

func TestNewPolicyRejectsNonMonotoneSchedule(t *testing.T) {
	rates := DefaultRates()
	rates.Express = decimal.RequireFromString("0.001")
	if _, err := NewPolicy(rates, DefaultMinima()); err == nil {
		t.Error("NewPolicy with express rate below standard: got nil error")
	}

	minima := map[domain.Currency]Minima{domain.ZAR: {Standard: 5000, Express: 2500, Emergency: 5000}}
	if _, err := NewPolicy(DefaultRates(), minima); err == nil {
		t.Error("NewPolicy with express minimum below standard: got nil error")
	}
}
