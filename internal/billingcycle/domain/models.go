package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

const (
	PhaseInvoiceGen  = "invoice_gen"
	PhaseDunning     = "dunning"
	PhaseTrials      = "trials"
	PhaseDelinquency = "delinquency"
)

// Phases is the fixed execution order of a run.
var Phases = []string{PhaseInvoiceGen, PhaseDunning, PhaseTrials, PhaseDelinquency}

// PhaseCounts holds the work counters a phase reports. Unused counters stay zero.
type PhaseCounts struct {
	InvoicesCreated       int   `json:"invoices_created"`
	InvoicesIdempotent    int   `json:"invoices_idempotent"`
	PeriodsAdvanced       int   `json:"periods_advanced"`
	InvoicesMarkedOverdue int64 `json:"invoices_marked_overdue"`
	DunningApplied        int   `json:"dunning_applied"`
	TrialsActivated       int   `json:"trials_activated"`
	TrialsExpired         int   `json:"trials_expired"`
	PartnersReactivated   int   `json:"partners_reactivated"`
}

// PhaseRun marks a phase as completed for a target date.
type PhaseRun struct {
	ID            snowflake.ID                    `gorm:"primaryKey" json:"id"`
	Phase         string                          `gorm:"type:text;not null;uniqueIndex:ux_billing_cycle_phase_runs_phase_date,priority:1" json:"phase"`
	TargetDate    time.Time                       `gorm:"not null;uniqueIndex:ux_billing_cycle_phase_runs_phase_date,priority:2" json:"target_date"`
	CorrelationID string                          `gorm:"type:text;not null" json:"correlation_id"`
	Counts        datatypes.JSONType[PhaseCounts] `gorm:"not null" json:"counts"`
	DurationMs    int64                           `gorm:"not null" json:"duration_ms"`
	CompletedAt   time.Time                       `gorm:"not null" json:"completed_at"`
}

func (PhaseRun) TableName() string { return "billing_cycle_phase_runs" }
