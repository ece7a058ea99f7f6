package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"orderflow/internal/config"
	"orderflow/internal/fulfillment"
	"orderflow/internal/httpx"
	"orderflow/internal/inventory"
	kafkax "orderflow/internal/kafka"
	"orderflow/internal/logging"
	"orderflow/internal/notify"
	"orderflow/internal/orders"
	"orderflow/internal/payment"
	"orderflow/internal/postgres"
	"orderflow/internal/redisx"
	"orderflow/internal/worker"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log := logging.New(cfg.ServiceName)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	pool, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Error("db connect failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()
	if err := postgres.EnsureSchema(ctx, pool); err != nil {
		log.Error("schema bootstrap failed", "err", err)
		os.Exit(1)
	}

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Kafka producer for finalized-order notifications
	prod := kafkax.NewProducer(log, cfg.KafkaBrokers, orders.TopicOrderFinalized, 1024)
	prod.Start(ctx)

	// Gateway: real client when configured, in-memory fake for local runs
	var gateway payment.Gateway
	if cfg.GatewayBaseURL != "" {
		gateway = payment.NewClient(cfg.GatewayBaseURL, cfg.GatewayAPIKey)
	} else {
		log.Warn("GATEWAY_BASE_URL not set, using in-memory fake gateway")
		gateway = payment.NewFake()
	}

	store := &orders.Store{DB: pool}
	coord := fulfillment.New(
		&postgres.DB{Pool: pool},
		store,
		&inventory.Adjuster{},
		gateway,
		&notify.Kafka{Producer: prod, Service: cfg.ServiceName},
		log,
		cfg.ProcessMaxRetries,
	)

	// Background repair of orders stuck in PENDING
	rec := &worker.Reconciler{
		Store:     store,
		Gateway:   gateway,
		Processor: coord,
		Log:       log,
		Every:     cfg.ReconcileEvery,
		Cutoff:    cfg.PendingCutoff,
	}
	go rec.Run(ctx)

	router := httpx.NewRouter()
	oh := &httpx.OrdersHandler{Service: coord, Reader: store, Redis: rdb, Log: log}
	oh.Register(router)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	go func() {
		log.Info("http listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("listen failed", "err", err)
			cancel()
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
	log.Info("shutting down")

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutCancel()
	_ = srv.Shutdown(shutCtx)
	cancel()
	prod.WaitClosed() // flush pending notifications
}
