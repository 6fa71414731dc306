// Package metrics provides Prometheus metrics for the billing engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics
type Metrics struct {
	BillsOpened        prometheus.Counter
	PaymentsRecorded   *prometheus.CounterVec
	PaymentsDuplicate  prometheus.Counter
	PaymentsRejected   *prometheus.CounterVec
	PaymentDuration    prometheus.Histogram
	StaysActive        prometheus.Gauge
	RoomTransfers      prometheus.Counter
	Discharges         prometheus.Counter
	HospitalizationFee prometheus.Histogram

	KafkaMessagesProduced prometheus.Counter
	KafkaMessagesConsumed prometheus.Counter
	OutboxPending         prometheus.Gauge
	CircuitBreakerState   *prometheus.GaugeVec
}

// New creates and registers all metrics
func New() *Metrics {
	m := &Metrics{
		BillsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bills_opened_total",
			Help: "Total bill records opened",
		}),
		PaymentsRecorded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payments_recorded_total",
			Help: "Total completed payments, by method and bill type",
		}, []string{"method", "bill_type"}),
		PaymentsDuplicate: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "payments_duplicate_total",
			Help: "Gateway callbacks absorbed as replays of a completed transaction",
		}),
		PaymentsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payments_rejected_total",
			Help: "Payments rejected before reaching the ledger, by reason",
		}, []string{"reason"}),
		PaymentDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "payment_apply_duration_seconds",
			Help:    "Time to apply a payment end to end",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		}),
		StaysActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hospitalization_stays_active",
			Help: "Currently active hospitalization stays",
		}),
		RoomTransfers: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "room_transfers_total",
			Help: "Total room transfers",
		}),
		Discharges: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "discharges_total",
			Help: "Total discharges",
		}),
		HospitalizationFee: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "hospitalization_fee_minor_units",
			Help:    "Final hospitalization fee at discharge, in minor currency units",
			Buckets: prometheus.ExponentialBuckets(10_000, 4, 8),
		}),
		KafkaMessagesProduced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kafka_messages_produced_total",
			Help: "Total Kafka messages produced",
		}),
		KafkaMessagesConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kafka_messages_consumed_total",
			Help: "Total Kafka messages consumed",
		}),
		OutboxPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "outbox_pending_entries",
			Help: "Pending outbox entries",
		}),
		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		}, []string{"name"}),
	}

	prometheus.MustRegister(
		m.BillsOpened,
		m.PaymentsRecorded,
		m.PaymentsDuplicate,
		m.PaymentsRejected,
		m.PaymentDuration,
		m.StaysActive,
		m.RoomTransfers,
		m.Discharges,
		m.HospitalizationFee,
		m.KafkaMessagesProduced,
		m.KafkaMessagesConsumed,
		m.OutboxPending,
		m.CircuitBreakerState,
	)

	return m
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
