package metrics

import (
	"math/big"
	"sync"

	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
)

// AmountFloat converts a 256-bit amount to float64 for gauge export. Precision
// loss is acceptable for monitoring.
func AmountFloat(value *uint256.Int) float64 {
	if value == nil {
		return 0
	}
	converted, _ := new(big.Float).SetInt(value.ToBig()).Float64()
	return converted
}

type LendingMetrics struct {
	operations       *prometheus.CounterVec
	operationErrors  *prometheus.CounterVec
	totalBorrowed    prometheus.Gauge
	pendingFees      prometheus.Gauge
	utilization      prometheus.Gauge
	borrowRate       prometheus.Gauge
	exchangeRate     prometheus.Gauge
	accrualsTotal    prometheus.Counter
	interestAccrued  prometheus.Counter
	requestDurations *prometheus.HistogramVec
}

var (
	lendingOnce     sync.Once
	lendingRegistry *LendingMetrics
)

func Lending() *LendingMetrics {
	lendingOnce.Do(func() {
		lendingRegistry = &LendingMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "lending_operations_total",
				Help: "Count of pool operations processed by kind.",
			}, []string{"op"}),
			operationErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "lending_operation_errors_total",
				Help: "Count of failed pool operations by kind.",
			}, []string{"op"}),
			totalBorrowed: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "lending_total_borrowed",
				Help: "Principal currently lent out, in base units.",
			}),
			pendingFees: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "lending_pending_fees",
				Help: "Accrued fees awaiting collection, in base units.",
			}),
			utilization: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "lending_utilization_ratio",
				Help: "Current pool utilization as a fraction of 1.",
			}),
			borrowRate: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "lending_borrow_rate_per_second",
				Help: "Current per-second borrow rate as a fraction of 1.",
			}),
			exchangeRate: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "lending_share_exchange_rate",
				Help: "Assets redeemable per share as a fraction of 1.",
			}),
			accrualsTotal: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "lending_accruals_total",
				Help: "Count of interest accrual checkpoints written.",
			}),
			interestAccrued: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "lending_interest_accrued_total",
				Help: "Cumulative interest charged to borrowers, in base units.",
			}),
			requestDurations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "lending_request_duration_seconds",
				Help:    "Latency of HTTP requests by route.",
				Buckets: prometheus.DefBuckets,
			}, []string{"route", "status"}),
		}
		prometheus.MustRegister(
			lendingRegistry.operations,
			lendingRegistry.operationErrors,
			lendingRegistry.totalBorrowed,
			lendingRegistry.pendingFees,
			lendingRegistry.utilization,
			lendingRegistry.borrowRate,
			lendingRegistry.exchangeRate,
			lendingRegistry.accrualsTotal,
			lendingRegistry.interestAccrued,
			lendingRegistry.requestDurations,
		)
	})
	return lendingRegistry
}

func (m *LendingMetrics) ObserveOperation(op string, err error) {
	if m == nil {
		return
	}
	if op == "" {
		op = "unknown"
	}
	m.operations.WithLabelValues(op).Inc()
	if err != nil {
		m.operationErrors.WithLabelValues(op).Inc()
	}
}

func (m *LendingMetrics) SetTotalBorrowed(amount float64) {
	if m == nil {
		return
	}
	m.totalBorrowed.Set(amount)
}

func (m *LendingMetrics) SetPendingFees(amount float64) {
	if m == nil {
		return
	}
	m.pendingFees.Set(amount)
}

func (m *LendingMetrics) SetUtilization(ratio float64) {
	if m == nil {
		return
	}
	m.utilization.Set(ratio)
}

func (m *LendingMetrics) SetBorrowRate(rate float64) {
	if m == nil {
		return
	}
	m.borrowRate.Set(rate)
}

func (m *LendingMetrics) SetExchangeRate(rate float64) {
	if m == nil {
		return
	}
	m.exchangeRate.Set(rate)
}

func (m *LendingMetrics) ObserveAccrual(interest float64) {
	if m == nil {
		return
	}
	m.accrualsTotal.Inc()
	m.interestAccrued.Add(interest)
}

func (m *LendingMetrics) ObserveRequest(route, status string, seconds float64) {
	if m == nil {
		return
	}
	m.requestDurations.WithLabelValues(route, status).Observe(seconds)
}
