package metrics

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
)

const (
	PhaseOutcomeCompleted = "completed"
	PhaseOutcomeSkipped   = "skipped"
	PhaseOutcomeFailed    = "failed"
)

const (
	ErrorReasonDeadlineExceeded     = "deadline_exceeded"
	ErrorReasonDBLockTimeout        = "db_lock_timeout"
	ErrorReasonSerializationFailure = "serialization_failure"
	ErrorReasonUniqueViolation      = "unique_violation"
	ErrorReasonDB                   = "db"
	ErrorReasonBusinessRule         = "business_rule"
)

const (
	InvoiceResultCreated    = "created"
	InvoiceResultIdempotent = "idempotent"
)

const (
	PaymentEventApplied        = "applied"
	PaymentEventNoop           = "noop"
	PaymentEventStale          = "stale"
	PaymentEventUnknownPayment = "unknown_payment"
)

// BillingMetrics captures billing cycle, reconciler and dunning health signals.
type BillingMetrics struct {
	phaseRuns           *prometheus.CounterVec
	phaseDuration       *prometheus.HistogramVec
	phaseTimeouts       *prometheus.CounterVec
	phaseErrors         *prometheus.CounterVec
	runLoopLag          prometheus.Observer
	invoicesGenerated   *prometheus.CounterVec
	paymentEvents       *prometheus.CounterVec
	accessStateLookups  *prometheus.CounterVec
	dunningApplied      *prometheus.CounterVec
	partnersReactivated prometheus.Counter
}

var (
	billingMetricsOnce sync.Once
	billingMetrics     *BillingMetrics
)

// Billing returns the singleton billing metrics registry.
func Billing() *BillingMetrics {
	return BillingWithConfig(Config{})
}

// BillingWithConfig returns the singleton billing metrics registry using config labels.
func BillingWithConfig(cfg Config) *BillingMetrics {
	billingMetricsOnce.Do(func() {
		billingMetrics = newBillingMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return billingMetrics
}

// ResetBillingMetricsForTest resets the singleton and registers into registerer.
func ResetBillingMetricsForTest(registerer prometheus.Registerer) *BillingMetrics {
	billingMetricsOnce = sync.Once{}
	billingMetrics = nil
	billingMetricsOnce.Do(func() {
		billingMetrics = newBillingMetrics(registerer, Config{ServiceName: "partnerbilling", Environment: "test"})
	})
	return billingMetrics
}

func newBillingMetrics(registerer prometheus.Registerer, cfg Config) *BillingMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "partnerbilling"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	phaseRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "partnerbilling_billing_cycle_phase_runs_total",
		Help:        "Billing cycle phase executions by outcome.",
		ConstLabels: constLabels,
	}, []string{"phase", "outcome"})
	phaseDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "partnerbilling_billing_cycle_phase_duration_seconds",
		Help:        "Billing cycle phase latency.",
		Buckets:     []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		ConstLabels: constLabels,
	}, []string{"phase"})
	phaseTimeouts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "partnerbilling_billing_cycle_phase_timeouts_total",
		Help:        "Billing cycle phases that hit their deadline.",
		ConstLabels: constLabels,
	}, []string{"phase"})
	phaseErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "partnerbilling_billing_cycle_phase_errors_total",
		Help:        "Billing cycle phase errors by low-cardinality reason.",
		ConstLabels: constLabels,
	}, []string{"phase", "reason"})
	runLoopLag := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:        "partnerbilling_scheduler_runloop_lag_seconds",
		Help:        "Scheduler run loop lag beyond the configured interval.",
		Buckets:     []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		ConstLabels: constLabels,
	})
	invoicesGenerated := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "partnerbilling_invoices_generated_total",
		Help:        "Invoice generation attempts by result.",
		ConstLabels: constLabels,
	}, []string{"result"})
	paymentEvents := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "partnerbilling_payment_events_total",
		Help:        "Payment provider events reconciled by type and result.",
		ConstLabels: constLabels,
	}, []string{"event_type", "result"})
	accessStateLookups := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "partnerbilling_access_state_lookups_total",
		Help:        "Partner access state lookups by cache result.",
		ConstLabels: constLabels,
	}, []string{"cache"})
	dunningApplied := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "partnerbilling_dunning_applied_total",
		Help:        "Tenant dunning applications by resulting level.",
		ConstLabels: constLabels,
	}, []string{"level"})
	partnersReactivated := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "partnerbilling_partners_reactivated_total",
		Help:        "Partners whose suspension was cleared.",
		ConstLabels: constLabels,
	})

	registerer.MustRegister(
		phaseRuns,
		phaseDuration,
		phaseTimeouts,
		phaseErrors,
		runLoopLag,
		invoicesGenerated,
		paymentEvents,
		accessStateLookups,
		dunningApplied,
		partnersReactivated,
	)

	return &BillingMetrics{
		phaseRuns:           phaseRuns,
		phaseDuration:       phaseDuration,
		phaseTimeouts:       phaseTimeouts,
		phaseErrors:         phaseErrors,
		runLoopLag:          runLoopLag,
		invoicesGenerated:   invoicesGenerated,
		paymentEvents:       paymentEvents,
		accessStateLookups:  accessStateLookups,
		dunningApplied:      dunningApplied,
		partnersReactivated: partnersReactivated,
	}
}

// IncPhaseRun counts a phase execution with its outcome.
func (m *BillingMetrics) IncPhaseRun(phase, outcome string) {
	if m == nil {
		return
	}
	m.phaseRuns.WithLabelValues(phase, outcome).Inc()
}

func (m *BillingMetrics) ObservePhaseDuration(phase string, duration time.Duration) {
	if m == nil {
		return
	}
	m.phaseDuration.WithLabelValues(phase).Observe(duration.Seconds())
}

func (m *BillingMetrics) IncPhaseTimeout(phase string) {
	if m == nil {
		return
	}
	m.phaseTimeouts.WithLabelValues(phase).Inc()
}

// IncPhaseError increments the phase error counter with classification.
func (m *BillingMetrics) IncPhaseError(phase string, err error) {
	if m == nil || err == nil {
		return
	}
	m.phaseErrors.WithLabelValues(phase, ClassifyErrorReason(err)).Inc()
}

// ObserveRunLoopLag records lag between the scheduled tick and actual run start.
func (m *BillingMetrics) ObserveRunLoopLag(duration time.Duration) {
	if m == nil {
		return
	}
	if duration < 0 {
		duration = 0
	}
	m.runLoopLag.Observe(duration.Seconds())
}

func (m *BillingMetrics) IncInvoiceGenerated(result string) {
	if m == nil {
		return
	}
	m.invoicesGenerated.WithLabelValues(result).Inc()
}

func (m *BillingMetrics) IncPaymentEvent(eventType, result string) {
	if m == nil {
		return
	}
	m.paymentEvents.WithLabelValues(eventType, result).Inc()
}

func (m *BillingMetrics) IncAccessStateLookup(cacheHit bool) {
	if m == nil {
		return
	}
	label := "miss"
	if cacheHit {
		label = "hit"
	}
	m.accessStateLookups.WithLabelValues(label).Inc()
}

func (m *BillingMetrics) IncDunningApplied(level int) {
	if m == nil {
		return
	}
	m.dunningApplied.WithLabelValues(strconv.Itoa(level)).Inc()
}

func (m *BillingMetrics) AddPartnersReactivated(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.partnersReactivated.Add(float64(count))
}

// ClassifyErrorReason maps billing errors to low-cardinality reasons.
func ClassifyErrorReason(err error) string {
	if err == nil {
		return ErrorReasonBusinessRule
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ErrorReasonDeadlineExceeded
	}
	if hasPGCode(err, "55P03") {
		return ErrorReasonDBLockTimeout
	}
	if hasPGCode(err, "40001") {
		return ErrorReasonSerializationFailure
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) || hasPGCode(err, "23505") {
		return ErrorReasonUniqueViolation
	}
	if isDBError(err) {
		return ErrorReasonDB
	}
	return ErrorReasonBusinessRule
}

// IsRetryable reports whether a phase error is transient.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	return isDBError(err)
}

func hasPGCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == code
	}
	return false
}

func isDBError(err error) bool {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false
	}
	if errors.Is(err, gorm.ErrInvalidDB) ||
		errors.Is(err, gorm.ErrInvalidTransaction) ||
		errors.Is(err, gorm.ErrInvalidField) ||
		errors.Is(err, gorm.ErrInvalidData) ||
		errors.Is(err, gorm.ErrMissingWhereClause) ||
		errors.Is(err, gorm.ErrUnsupportedDriver) ||
		errors.Is(err, gorm.ErrInvalidValue) ||
		errors.Is(err, gorm.ErrNotImplemented) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr)
}
