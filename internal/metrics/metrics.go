package metrics

import (
	"context"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hakimelghazi/confidential-book/internal/engine"
)

var (
	// HTTP
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "http_request_duration_seconds",
			Help: "Duration of HTTP requests in seconds",
		},
		[]string{"method", "path"},
	)
	HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "Current number of HTTP requests in flight",
		},
	)

	// Book
	OrdersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "book_orders_total",
			Help: "Order submissions by pair, side and outcome",
		},
		[]string{"pair", "side", "result"},
	)
	CancelsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "book_cancels_total",
			Help: "Cancellation requests by pair and outcome",
		},
		[]string{"pair", "result"},
	)
	MatchRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "book_match_runs_total",
			Help: "Explicit matching rounds by pair",
		},
		[]string{"pair"},
	)
	TradesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "book_trades_total",
			Help: "Trades produced by pair",
		},
		[]string{"pair"},
	)
	TradedQuantity = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "book_traded_quantity_total",
			Help: "Base quantity traded by pair",
		},
		[]string{"pair"},
	)

	// Outbox / publishing
	EventsPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbox_events_published_total",
			Help: "Outbox events handed to the broker by outcome",
		},
		[]string{"result"},
	)
	OutboxPending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "outbox_pending_events",
			Help: "Events waiting in the outbox after the last publish pass",
		},
	)
)

func InitMetrics() {
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(HTTPRequestsInFlight)

	prometheus.MustRegister(OrdersTotal)
	prometheus.MustRegister(CancelsTotal)
	prometheus.MustRegister(MatchRunsTotal)
	prometheus.MustRegister(TradesTotal)
	prometheus.MustRegister(TradedQuantity)

	prometheus.MustRegister(EventsPublishedTotal)
	prometheus.MustRegister(OutboxPending)
}

// TradeRecorder counts trades as an engine sink.
type TradeRecorder struct{}

func (TradeRecorder) PersistTrades(_ context.Context, pairID uint64, trades []engine.Trade) error {
	label := strconv.FormatUint(pairID, 10)
	TradesTotal.WithLabelValues(label).Add(float64(len(trades)))
	for _, t := range trades {
		TradedQuantity.WithLabelValues(label).Add(float64(t.Quantity))
	}
	return nil
}
