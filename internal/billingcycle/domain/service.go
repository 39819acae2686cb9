package domain

import (
	"context"
	"errors"
	"time"
)

type RunRequest struct {
	TargetDate *time.Time `json:"target_date,omitempty"`
}

type PhaseResult struct {
	Phase   string `json:"phase"`
	Skipped bool   `json:"skipped"`
	Error   string `json:"error,omitempty"`
	PhaseCounts
	DurationMs int64 `json:"duration_ms"`
}

type RunResult struct {
	Success       bool          `json:"success"`
	CorrelationID string        `json:"correlation_id"`
	TargetDate    time.Time     `json:"target_date"`
	Phases        []PhaseResult `json:"phases"`
}

type Service interface {
	Run(ctx context.Context, req RunRequest) (RunResult, error)
	Markers(ctx context.Context, targetDate time.Time) ([]PhaseRun, error)
}

var (
	ErrPreflightFailed   = errors.New("billing_cycle_preflight_failed")
	ErrMissingDependency = errors.New("billing_cycle_missing_dependency")
	ErrInvalidTargetDate = errors.New("invalid_target_date")
)
