package domain

import (
	"fmt"

	"github.com/smallbiznis/partnerbilling/internal/config"
	tenantdomain "github.com/smallbiznis/partnerbilling/internal/tenant/domain"
)

const (
	LevelNone     = 0
	LevelWarning  = 1
	LevelReadOnly = 2
	LevelPartial  = 3
	LevelBlocked  = 4
)

// Policy holds the days-overdue thresholds at which each level starts.
type Policy struct {
	GraceDays         int `json:"grace_days"`
	ReadOnlyAfterDays int `json:"read_only_after_days"`
	SuspendAfterDays  int `json:"suspend_after_days"`
	BlockAfterDays    int `json:"block_after_days"`
}

func PolicyFromThresholds(t config.DunningThresholds) Policy {
	return Policy{
		GraceDays:         t.GraceDays,
		ReadOnlyAfterDays: t.ReadOnlyAfterDays,
		SuspendAfterDays:  t.SuspendAfterDays,
		BlockAfterDays:    t.BlockAfterDays,
	}
}

func PolicyFromPartner(p *tenantdomain.DunningPolicy) Policy {
	return Policy{
		GraceDays:         p.GraceDays,
		ReadOnlyAfterDays: p.ReadOnlyAfterDays,
		SuspendAfterDays:  p.SuspendAfterDays,
		BlockAfterDays:    p.BlockAfterDays,
	}
}

func (p Policy) ToPartner() *tenantdomain.DunningPolicy {
	return &tenantdomain.DunningPolicy{
		GraceDays:         p.GraceDays,
		ReadOnlyAfterDays: p.ReadOnlyAfterDays,
		SuspendAfterDays:  p.SuspendAfterDays,
		BlockAfterDays:    p.BlockAfterDays,
	}
}

// Validate requires positive, strictly ascending thresholds.
func (p Policy) Validate() error {
	thresholds := config.DunningThresholds{
		GraceDays:         p.GraceDays,
		ReadOnlyAfterDays: p.ReadOnlyAfterDays,
		SuspendAfterDays:  p.SuspendAfterDays,
		BlockAfterDays:    p.BlockAfterDays,
	}
	if err := thresholds.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPolicy, err)
	}
	return nil
}

// LevelFor maps the oldest overdue age to a dunning level. It is monotonic
// in daysOverdue.
func (p Policy) LevelFor(daysOverdue int) int {
	switch {
	case daysOverdue >= p.BlockAfterDays:
		return LevelBlocked
	case daysOverdue >= p.SuspendAfterDays:
		return LevelPartial
	case daysOverdue >= p.ReadOnlyAfterDays:
		return LevelReadOnly
	case daysOverdue >= p.GraceDays:
		return LevelWarning
	default:
		return LevelNone
	}
}

var levelMessages = map[int]string{
	LevelNone:     "",
	LevelWarning:  "Your account has overdue invoices. Please settle them to avoid restrictions.",
	LevelReadOnly: "Your account is read-only until overdue invoices are paid.",
	LevelPartial:  "Access is limited to the dashboard and billing until overdue invoices are paid.",
	LevelBlocked:  "Access is blocked. Only billing is available until overdue invoices are paid.",
}

func MessageFor(level int) string {
	return levelMessages[level]
}
