package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hakimelghazi/confidential-book/internal/engine"
	"github.com/hakimelghazi/confidential-book/internal/market"
	"github.com/hakimelghazi/confidential-book/internal/store"
	"github.com/hakimelghazi/confidential-book/pricefeed"
)

// Market is the registry surface the handlers need.
type Market interface {
	Pairs() []market.Pair
	Pair(id uint64) (market.Pair, error)
	Submit(ctx context.Context, pairID uint64, side engine.Side, price, quantity uint64, trader engine.TraderID) (engine.OrderID, error)
	Cancel(ctx context.Context, pairID uint64, id engine.OrderID, trader engine.TraderID) (bool, error)
	Match(ctx context.Context, pairID uint64) (*engine.MatchResult, error)
	Orders(ctx context.Context, pairID uint64, trader engine.TraderID) ([]engine.Order, error)
}

type TickSource interface {
	Get(pairID uint64) (pricefeed.Tick, bool)
}

type TradeLister interface {
	ListTrades(ctx context.Context, pairID uint64, trader engine.TraderID, limit int) ([]store.TradeRecord, error)
}

type Config struct {
	JWTSecret   string
	CORSOrigins []string
	Timeout     time.Duration // per request, default 3s
	Trades      TradeLister   // nil when no database is configured
}

type Handler struct {
	market Market
	ticks  TickSource
	trades TradeLister
}

func NewRouter(m Market, ticks TickSource, cfg Config) http.Handler {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}
	h := &Handler{market: m, ticks: ticks, trades: cfg.Trades}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)
	r.Use(middleware.Timeout(cfg.Timeout))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Location", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/pairs", h.ListPairs)
	r.Get("/pairs/{pairID}/ticker", h.Ticker)

	r.Group(func(pr chi.Router) {
		pr.Use(JWTAuth(cfg.JWTSecret))

		pr.Post("/pairs/{pairID}/orders", h.PlaceOrder)
		pr.Get("/pairs/{pairID}/orders", h.ListOrders)
		pr.Delete("/pairs/{pairID}/orders/{orderID}", h.CancelOrder)
		pr.Post("/pairs/{pairID}/match", h.Match)
		pr.Get("/pairs/{pairID}/trades", h.ListTrades)
	})

	return r
}
