package domain

import "github.com/shopspring/decimal"

// Money arithmetic stays in decimals end to end; amounts round to the
// smallest currency unit (two places) with banker's rounding.

// RoundMoney normalizes an amount to the smallest currency unit.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.RoundBank(2)
}

// ExpectedCharge is what the buyer must have paid for a tier: the price, plus
// the service fee when the event passes the fee on to the buyer.
func ExpectedCharge(price decimal.Decimal, buyerPaysFee bool, feePercent decimal.Decimal) decimal.Decimal {
	if buyerPaysFee {
		fee := price.Mul(feePercent).Div(decimal.NewFromInt(100))
		return RoundMoney(price.Add(fee))
	}
	return RoundMoney(price)
}

// OrganizerNet is the amount credited to the organizer's pending balance for
// one sale: the full price when the buyer covered the fee, otherwise the
// price less the platform's cut.
func OrganizerNet(price decimal.Decimal, buyerPaysFee bool, feePercent decimal.Decimal) decimal.Decimal {
	if buyerPaysFee {
		return RoundMoney(price)
	}
	fee := price.Mul(feePercent).Div(decimal.NewFromInt(100))
	return RoundMoney(price.Sub(fee))
}

// WithinTolerance reports whether paid differs from expected by at most one
// smallest currency unit. Gateways round independently; a single-unit drift
// is accepted rather than failing the payment.
func WithinTolerance(paid, expected decimal.Decimal) bool {
	tolerance := decimal.New(1, -2)
	return paid.Sub(expected).Abs().LessThanOrEqual(tolerance)
}
