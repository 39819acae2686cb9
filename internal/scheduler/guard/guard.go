package guard

import (
	"errors"
	"fmt"
	"time"
)

const maxCatchUpDays = 31

var (
	ErrInvalidRunInterval = errors.New("scheduler_invalid_run_interval")
	ErrInvalidCatchUpDays = errors.New("scheduler_invalid_catch_up_days")
	ErrInvalidLockTTL     = errors.New("scheduler_invalid_lock_ttl")
	ErrTargetInFuture     = errors.New("scheduler_target_date_in_future")
)

// EnsureValidSchedule rejects loop settings that would spin, overlap forever,
// or replay more history than the orchestrator markers are meant to cover.
func EnsureValidSchedule(runInterval time.Duration, catchUpDays int, lockTTL time.Duration) error {
	if runInterval <= 0 {
		return ErrInvalidRunInterval
	}
	if catchUpDays < 0 || catchUpDays > maxCatchUpDays {
		return fmt.Errorf("%w: %d not in [0, %d]", ErrInvalidCatchUpDays, catchUpDays, maxCatchUpDays)
	}
	if lockTTL <= 0 {
		return ErrInvalidLockTTL
	}
	return nil
}

// EnsureTargetNotInFuture refuses to run phases for a day that has not started.
func EnsureTargetNotInFuture(target, today time.Time) error {
	if target.After(today) {
		return ErrTargetInFuture
	}
	return nil
}
