// Package metrics exposes engine and price feed activity as Prometheus
// metrics on a private registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alanyoungcy/updownbot/internal/engine"
	"github.com/alanyoungcy/updownbot/internal/pricing"
)

const namespace = "updown"

// Metrics holds every collector. It implements engine.Recorder and
// pricing.Observer.
type Metrics struct {
	registry *prometheus.Registry

	RoundsOpened   *prometheus.CounterVec // labels: symbol
	RoundsSettled  *prometheus.CounterVec // labels: symbol
	SettleFailures *prometheus.CounterVec // labels: symbol
	SettlementLag  prometheus.Histogram
	Winners        prometheus.Histogram
	BetsPlaced     *prometheus.CounterVec // labels: symbol
	BetsRejected   *prometheus.CounterVec // labels: reason
	Pruned         prometheus.Counter
	Active         prometheus.Gauge

	Quotes         *prometheus.CounterVec // labels: source
	SourceFailures *prometheus.CounterVec // labels: source
	Fallbacks      prometheus.Counter

	EventsDropped  *prometheus.CounterVec // labels: subscriber, type
	PayoutFailures *prometheus.CounterVec // labels: distributor
}

// New registers all collectors, plus the Go and process collectors, on a
// fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		RoundsOpened: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rounds_opened_total",
			Help:      "Rounds opened, by instrument",
		}, []string{"symbol"}),
		RoundsSettled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rounds_settled_total",
			Help:      "Rounds settled, by instrument",
		}, []string{"symbol"}),
		SettleFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settle_failures_total",
			Help:      "Settlement attempts that found no usable end price",
		}, []string{"symbol"}),
		SettlementLag: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "settlement_lag_seconds",
			Help:      "Delay between a round's end time and its settlement",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 30, 60},
		}),
		Winners: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "round_winners",
			Help:      "Winning bets per settled round",
			Buckets:   []float64{0, 1, 2, 5, 10, 25, 50, 100},
		}),
		BetsPlaced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bets_placed_total",
			Help:      "Accepted bets, by instrument",
		}, []string{"symbol"}),
		BetsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bets_rejected_total",
			Help:      "Rejected bets, by reason code",
		}, []string{"reason"}),
		Pruned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rounds_pruned_total",
			Help:      "Ended rounds discarded by retention pruning",
		}),
		Active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_rounds",
			Help:      "Rounds currently accepting or awaiting settlement",
		}),

		Quotes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quotes_fetched_total",
			Help:      "Quotes produced per price source",
		}, []string{"source"}),
		SourceFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "price_source_failures_total",
			Help:      "Refresh cycles in which a price source failed",
		}, []string{"source"}),
		Fallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "synthetic_fallback_quotes_total",
			Help:      "Quotes served by the synthetic fallback",
		}),

		EventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Events lost to full subscriber mailboxes",
		}, []string{"subscriber", "type"}),
		PayoutFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payout_failures_total",
			Help:      "Failed payout deliveries, by distributor",
		}, []string{"distributor"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.RoundsOpened, m.RoundsSettled, m.SettleFailures, m.SettlementLag, m.Winners,
		m.BetsPlaced, m.BetsRejected, m.Pruned, m.Active,
		m.Quotes, m.SourceFailures, m.Fallbacks,
		m.EventsDropped, m.PayoutFailures,
	)
	return m
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) RoundOpened(symbol string) { m.RoundsOpened.WithLabelValues(symbol).Inc() }

func (m *Metrics) RoundSettled(symbol string, winners int, lag time.Duration) {
	m.RoundsSettled.WithLabelValues(symbol).Inc()
	m.Winners.Observe(float64(winners))
	m.SettlementLag.Observe(lag.Seconds())
}

func (m *Metrics) SettleFailed(symbol string) { m.SettleFailures.WithLabelValues(symbol).Inc() }
func (m *Metrics) BetPlaced(symbol string)    { m.BetsPlaced.WithLabelValues(symbol).Inc() }
func (m *Metrics) BetRejected(reason string)  { m.BetsRejected.WithLabelValues(reason).Inc() }
func (m *Metrics) RoundsPruned(n int)         { m.Pruned.Add(float64(n)) }
func (m *Metrics) ActiveRounds(n int)         { m.Active.Set(float64(n)) }

func (m *Metrics) EventDropped(subscriber string, typ engine.EventType) {
	m.EventsDropped.WithLabelValues(subscriber, string(typ)).Inc()
}

// QuotesFetched counts quotes per source; synthetic quotes also count as
// fallbacks.
func (m *Metrics) QuotesFetched(source string, n int) {
	m.Quotes.WithLabelValues(source).Add(float64(n))
	if source == pricing.SyntheticName {
		m.Fallbacks.Add(float64(n))
	}
}

func (m *Metrics) SourceFailed(source string) { m.SourceFailures.WithLabelValues(source).Inc() }

// PayoutFailed counts a failed delivery by distributor name.
func (m *Metrics) PayoutFailed(distributor string) {
	m.PayoutFailures.WithLabelValues(distributor).Inc()
}

var (
	_ engine.Recorder  = (*Metrics)(nil)
	_ pricing.Observer = (*Metrics)(nil)
)
