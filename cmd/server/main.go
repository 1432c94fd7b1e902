package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	exdb "github.com/hakimelghazi/confidential-book/db"
	"github.com/hakimelghazi/confidential-book/internal/api"
	"github.com/hakimelghazi/confidential-book/internal/broadcaster"
	"github.com/hakimelghazi/confidential-book/internal/config"
	"github.com/hakimelghazi/confidential-book/internal/engine"
	"github.com/hakimelghazi/confidential-book/internal/market"
	"github.com/hakimelghazi/confidential-book/internal/metrics"
	"github.com/hakimelghazi/confidential-book/internal/outbox"
	"github.com/hakimelghazi/confidential-book/internal/store"
	"github.com/hakimelghazi/confidential-book/pricefeed"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to YAML config")
	flag.Parse()

	if err := run(*configPath); err != nil {
		log.Fatal(err)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	metrics.InitMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 1) durable outbox: book snapshots + events
	box, err := outbox.Open(cfg.OutboxDir)
	if err != nil {
		return err
	}
	defer box.Close()

	ticks := pricefeed.NewPriceCache()
	// the outbox commits trades with the book as the engine's saver, so it
	// is not listed as a sink
	sinks := []engine.TradeSink{metrics.TradeRecorder{}, ticks}

	// 2) optional trade journal
	var journal api.TradeLister
	pool, err := exdb.NewPool(ctx, cfg.DatabaseURL)
	switch {
	case errors.Is(err, exdb.ErrNoDatabaseURL):
		log.Println("[server] no database configured, trade journal disabled")
	case err != nil:
		return err
	default:
		defer pool.Close()
		st := store.New(pool)
		if err := st.Migrate(ctx); err != nil {
			return err
		}
		sinks = append(sinks, st)
		journal = st
	}

	// 3) gRPC health, one service per pair
	healthSrv := health.NewServer()
	setStatus := func(p market.Pair) {
		status := healthpb.HealthCheckResponse_NOT_SERVING
		if p.Active {
			status = healthpb.HealthCheckResponse_SERVING
		}
		healthSrv.SetServingStatus(fmt.Sprintf("book.pair.%d", p.ID), status)
	}

	// 4) engines; they outlive the listeners so in-flight requests finish
	engineCtx, stopEngines := context.WithCancel(context.Background())
	defer stopEngines()

	reg := market.NewRegistry(cfg.EngineConfig(),
		market.WithLoader(box),
		market.WithEvents(box),
		market.WithStatusHook(setStatus),
		market.WithEngineOptions(
			engine.WithTradeSinks(sinks...),
			engine.WithBookSaver(box),
		),
	)
	for _, p := range cfg.MarketPairs() {
		if _, err := reg.Add(engineCtx, p); err != nil {
			return err
		}
	}

	// 5) listeners and background jobs
	router := api.NewRouter(reg, ticks, api.Config{
		JWTSecret:   cfg.JWTSecret,
		CORSOrigins: cfg.CORSOrigins,
		Trades:      journal,
	})
	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	grpcSrv := grpc.NewServer()
	healthpb.RegisterHealthServer(grpcSrv, healthSrv)
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Printf("[server] http listening on %s", cfg.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		log.Printf("[server] grpc health listening on %s", cfg.GRPCAddr)
		return grpcSrv.Serve(lis)
	})

	if len(cfg.Kafka.Brokers) > 0 {
		pub := broadcaster.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer pub.Close()
		bc := broadcaster.New(box, pub, cfg.PublishInterval)
		g.Go(func() error { return bc.Run(gctx) })
	} else {
		log.Println("[server] no kafka brokers configured, events stay in the outbox")
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Println("[server] shutting down")
		healthSrv.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := httpSrv.Shutdown(shutdownCtx)
		grpcSrv.GracefulStop()
		return err
	})

	err = g.Wait()
	stopEngines()
	reg.Wait()
	log.Println("[server] stopped")
	return err
}
