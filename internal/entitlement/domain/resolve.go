package domain

import "time"

// Pick returns the highest-precedence row effective at t. Ties go to the
// most recently effective row.
func Pick(rows []TenantEntitlement, t time.Time) (TenantEntitlement, bool) {
	var (
		best  TenantEntitlement
		found bool
	)
	for _, row := range rows {
		if !row.EffectiveAt(t) {
			continue
		}
		if !found {
			best, found = row, true
			continue
		}
		bp, rp := best.Source.Precedence(), row.Source.Precedence()
		if rp > bp || (rp == bp && row.EffectiveFrom.After(best.EffectiveFrom)) {
			best = row
		}
	}
	return best, found
}

// Evaluate gates value against an optional requested quantity.
func Evaluate(value Value, requested *int64) (bool, string) {
	if !value.Enabled {
		return false, ReasonDisabled
	}
	if requested == nil {
		return true, ReasonEnabled
	}
	if value.Limit == nil || *value.Limit == Unlimited {
		return true, ReasonUnlimited
	}
	if *requested <= *value.Limit {
		return true, ReasonWithinLimit
	}
	return false, ReasonLimitExceeded
}
