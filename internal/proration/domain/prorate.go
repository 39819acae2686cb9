package domain

import "github.com/shopspring/decimal"

// Prorate splits a plan change over the unused part of the cycle.
// Amounts are rounded half-up to cents. With no days left the whole
// difference between the plans is due.
func Prorate(from, to decimal.Decimal, daysRemaining, daysInCycle int) Amounts {
	if daysRemaining > daysInCycle {
		daysRemaining = daysInCycle
	}
	out := Amounts{
		DaysRemaining: daysRemaining,
		DaysInCycle:   daysInCycle,
		Credit:        decimal.Zero,
		Charge:        decimal.Zero,
	}
	if daysRemaining <= 0 || daysInCycle <= 0 {
		out.Net = to.Sub(from).Round(2)
		return out
	}

	remaining := decimal.NewFromInt(int64(daysRemaining))
	cycle := decimal.NewFromInt(int64(daysInCycle))
	out.Credit = from.Mul(remaining).Div(cycle).Round(2)
	out.Charge = to.Mul(remaining).Div(cycle).Round(2)
	out.Net = out.Charge.Sub(out.Credit)
	return out
}
