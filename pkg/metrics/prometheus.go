package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	barsProcessed *prometheus.CounterVec
	signalsTotal  *prometheus.CounterVec
	denialsTotal  *prometheus.CounterVec
	advisoryTotal *prometheus.CounterVec
	errorsTotal   *prometheus.CounterVec
	lastPrice     *prometheus.GaugeVec
	dailyPnL      prometheus.Gauge
	latency       *prometheus.HistogramVec
}

// New creates a new Prometheus metrics recorder.
func New() *Recorder {
	return &Recorder{
		barsProcessed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orb_bars_processed_total",
				Help: "Total number of bars applied to the engine",
			},
			[]string{"symbol"},
		),
		signalsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orb_signals_total",
				Help: "Total number of breakout candidates generated",
			},
			[]string{"direction"},
		),
		denialsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orb_denials_total",
				Help: "Total number of candidates denied by risk or advisory",
			},
			[]string{"reason"},
		),
		advisoryTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orb_advisory_decisions_total",
				Help: "Total advisory decisions by outcome",
			},
			[]string{"decision"},
		),
		errorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orb_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		lastPrice: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "orb_last_price",
				Help: "Last bar close for a symbol",
			},
			[]string{"symbol"},
		),
		dailyPnL: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "orb_daily_pnl",
				Help: "Cumulative realized PnL for the current session day",
			},
		),
		latency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "orb_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

// RecordBarProcessed records a bar applied to the engine.
func (r *Recorder) RecordBarProcessed(symbol string) {
	r.barsProcessed.WithLabelValues(symbol).Inc()
}

// RecordSignal records a generated breakout candidate.
func (r *Recorder) RecordSignal(direction string) {
	r.signalsTotal.WithLabelValues(direction).Inc()
}

// RecordDenial records a risk-gate or advisory denial.
func (r *Recorder) RecordDenial(reason string) {
	r.denialsTotal.WithLabelValues(reason).Inc()
}

// RecordAdvisoryDecision records the advisory outcome.
func (r *Recorder) RecordAdvisoryDecision(decision string) {
	r.advisoryTotal.WithLabelValues(decision).Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLastPrice records the last close for a symbol.
func (r *Recorder) RecordLastPrice(symbol string, price float64) {
	r.lastPrice.WithLabelValues(symbol).Set(price)
}

// RecordDailyPnL records the cumulative realized PnL for the day.
func (r *Recorder) RecordDailyPnL(pnl float64) {
	r.dailyPnL.Set(pnl)
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}
