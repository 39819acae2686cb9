// Package guard holds pure subscription state checks shared by billing services.
package guard

import (
	"time"

	subscriptiondomain "github.com/smallbiznis/partnerbilling/internal/subscription/domain"
)

// EnsureBillable rejects subscriptions that must not receive new invoices.
func EnsureBillable(status subscriptiondomain.SubscriptionStatus) error {
	switch status {
	case subscriptiondomain.SubscriptionStatusActive, subscriptiondomain.SubscriptionStatusTrial:
		return nil
	default:
		return subscriptiondomain.ErrSubscriptionNotBillable
	}
}

func EnsureChangeable(status subscriptiondomain.SubscriptionStatus) error {
	switch status {
	case subscriptiondomain.SubscriptionStatusCanceled, subscriptiondomain.SubscriptionStatusExpired:
		return subscriptiondomain.ErrSubscriptionNotChangeable
	default:
		return nil
	}
}

// TrialOutcome decides the status a trial moves to once it has ended.
func TrialOutcome(sub subscriptiondomain.TenantSubscription) subscriptiondomain.SubscriptionStatus {
	if sub.PlanID != nil || sub.PaymentMethodAttached {
		return subscriptiondomain.SubscriptionStatusActive
	}
	return subscriptiondomain.SubscriptionStatusExpired
}

// TrialEnded reports whether the trial is over on targetDate.
func TrialEnded(sub subscriptiondomain.TenantSubscription, targetDate time.Time) bool {
	if sub.Status != subscriptiondomain.SubscriptionStatusTrial || sub.TrialEndsAt == nil {
		return false
	}
	return !sub.TrialEndsAt.After(targetDate)
}
