package metrics

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
)

const (
	StoreReasonDeadlineExceeded     = "deadline_exceeded"
	StoreReasonLockTimeout          = "db_lock_timeout"
	StoreReasonSerializationFailure = "serialization_failure"
	StoreReasonUniqueViolation      = "unique_violation"
	StoreReasonConnection           = "connection"
	StoreReasonUnknown              = "unknown"
)

// LicenseMetrics captures license lifecycle signals scraped from /metrics.
type LicenseMetrics struct {
	transitions  *prometheus.CounterVec
	casConflicts *prometheus.CounterVec
	storeErrors  *prometheus.CounterVec
}

var (
	licenseMetricsOnce sync.Once
	licenseMetrics     *LicenseMetrics
)

// License returns the singleton license metrics registry.
func License() *LicenseMetrics {
	return LicenseWithConfig(Config{})
}

// LicenseWithConfig returns the singleton license metrics registry using config labels.
func LicenseWithConfig(cfg Config) *LicenseMetrics {
	licenseMetricsOnce.Do(func() {
		licenseMetrics = newLicenseMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return licenseMetrics
}

// ResetLicenseMetricsForTest resets the license metrics singleton for tests.
func ResetLicenseMetricsForTest() {
	licenseMetricsOnce = sync.Once{}
	licenseMetrics = nil
}

func newLicenseMetrics(registerer prometheus.Registerer, cfg Config) *LicenseMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	constLabels := constLabelsFor(cfg)

	transitions := registerCounterVec(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "hwlicense_license_transition_total",
		Help:        "License state transitions acknowledged by the store.",
		ConstLabels: constLabels,
	}, []string{"from", "to"}))
	casConflicts := registerCounterVec(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "hwlicense_license_cas_conflict_total",
		Help:        "Compare-and-swap attempts that lost a race and were retried.",
		ConstLabels: constLabels,
	}, []string{"op"}))
	storeErrors := registerCounterVec(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "hwlicense_license_store_error_total",
		Help:        "License store failures by low-cardinality reason.",
		ConstLabels: constLabels,
	}, []string{"op", "reason"}))

	return &LicenseMetrics{
		transitions:  transitions,
		casConflicts: casConflicts,
		storeErrors:  storeErrors,
	}
}

func (m *LicenseMetrics) RecordTransition(from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(normalizeLabel(from), normalizeLabel(to)).Inc()
}

func (m *LicenseMetrics) RecordCASConflict(op string) {
	if m == nil {
		return
	}
	m.casConflicts.WithLabelValues(normalizeLabel(op)).Inc()
}

func (m *LicenseMetrics) RecordStoreError(op string, err error) {
	if m == nil || err == nil {
		return
	}
	m.storeErrors.WithLabelValues(normalizeLabel(op), ClassifyStoreReason(err)).Inc()
}

// ClassifyStoreReason maps persistence errors to a bounded label set.
func ClassifyStoreReason(err error) string {
	if err == nil {
		return StoreReasonUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return StoreReasonDeadlineExceeded
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return StoreReasonUniqueViolation
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "55P03":
			return StoreReasonLockTimeout
		case "40001", "40P01":
			return StoreReasonSerializationFailure
		case "23505":
			return StoreReasonUniqueViolation
		case "08000", "08003", "08006":
			return StoreReasonConnection
		}
	}
	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return StoreReasonConnection
	}
	return StoreReasonUnknown
}

func constLabelsFor(cfg Config) prometheus.Labels {
	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "hwlicense"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	return prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}
}

func registerCounterVec(registerer prometheus.Registerer, vec *prometheus.CounterVec) *prometheus.CounterVec {
	if err := registerer.Register(vec); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing
			}
		}
	}
	return vec
}

func registerHistogramVec(registerer prometheus.Registerer, vec *prometheus.HistogramVec) *prometheus.HistogramVec {
	if err := registerer.Register(vec); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing
			}
		}
	}
	return vec
}

func normalizeLabel(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return "unknown"
	}
	return value
}
