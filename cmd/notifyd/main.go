package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	amqp "github.com/rabbitmq/amqp091-go"
	"golang.org/x/sync/errgroup"

	"github.com/notifyd/notifyd/internal/audit"
	"github.com/notifyd/notifyd/internal/breaker"
	"github.com/notifyd/notifyd/internal/config"
	"github.com/notifyd/notifyd/internal/handler"
	"github.com/notifyd/notifyd/internal/logger"
	"github.com/notifyd/notifyd/internal/metrics"
	"github.com/notifyd/notifyd/internal/observability"
	"github.com/notifyd/notifyd/internal/profile"
	"github.com/notifyd/notifyd/internal/queue"
	"github.com/notifyd/notifyd/internal/router"
	"github.com/notifyd/notifyd/internal/service"
	"github.com/notifyd/notifyd/internal/storage"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file loaded: %v", err)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	l := logger.NewLogger(cfg.App.LogLevel)
	slog.SetDefault(l)

	metrics.Init()

	ctx := context.Background()

	tracerShutdown, err := observability.NewTracerProvider(
		ctx,
		cfg.Tracing.ServiceName,
		cfg.Tracing.Endpoint,
		l)
	if err != nil {
		l.Error("Failed to initialize OpenTelemetry TracerProvider", slog.Any("error", err))
		os.Exit(1)
	}
	defer tracerShutdown()

	dbPool, err := storage.NewPostgresPool(ctx, cfg.DB.URL)
	if err != nil {
		l.Error("Failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbPool.Close()
	store := storage.NewAuditPostgres(dbPool)

	conn, err := amqp.Dial(cfg.Broker.URL)
	if err != nil {
		l.Error("Failed to connect to broker", slog.Any("error", err))
		os.Exit(1)
	}
	defer conn.Close()

	pubCh, err := conn.Channel()
	if err != nil {
		l.Error("Failed to open publish channel", slog.Any("error", err))
		os.Exit(1)
	}
	defer pubCh.Close()

	if err := queue.DeclareTopology(pubCh, cfg.Broker.Exchange); err != nil {
		l.Error("Failed to declare broker topology", slog.Any("error", err))
		os.Exit(1)
	}

	conCh, err := conn.Channel()
	if err != nil {
		l.Error("Failed to open consume channel", slog.Any("error", err))
		os.Exit(1)
	}
	defer conCh.Close()

	// Initialize layers
	ledger := audit.NewLedger(store, l)
	profClient := profile.NewClient(cfg.Profile.BaseURL, &http.Client{}, cfg.Profile.Timeout, l)
	cb := breaker.New(breaker.Config{
		Name:         "profile",
		Window:       cfg.Breaker.Window,
		MinSamples:   cfg.Breaker.MinSamples,
		FailureRatio: cfg.Breaker.FailureRatio,
		Cooldown:     cfg.Breaker.Cooldown,
		IsFailure:    profile.IsBreakerFailure,
	}, l)
	resolver := profile.NewResolver(profClient, cb, l)
	publisher := queue.NewPublisher(pubCh, cfg.Broker.Exchange, l)

	dispatchSvc := service.NewDispatchService(ledger, resolver, publisher, l)
	statusSvc := service.NewStatusService(ledger, l)
	healthSvc := service.NewHealthService(store, conn)

	consumer := queue.NewConsumer(conCh, queue.QueueReport, statusSvc, l)

	notifHandler := handler.NewNotificationHandler(dispatchSvc, statusSvc, l)
	healthHandler := handler.NewHealthHandler(healthSvc)

	r := router.NewRouter(notifHandler, healthHandler)
	server := &http.Server{
		Addr:    ":" + cfg.App.Port,
		Handler: r,
	}

	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		l.Info("Server started", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		if err := consumer.Start(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("report consumer: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		l.Info("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		l.Error("Shutdown failed", slog.Any("error", err))
		os.Exit(1)
	}
	l.Info("Service shut down gracefully")
}
