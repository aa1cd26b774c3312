package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/plantkeep/cmms/libs/delivery"
	"github.com/plantkeep/cmms/libs/health"
	"github.com/plantkeep/cmms/libs/httpmiddleware"
	"github.com/plantkeep/cmms/libs/kafka"
	"github.com/plantkeep/cmms/libs/logging"
	"github.com/plantkeep/cmms/libs/metrics"
	"github.com/plantkeep/cmms/libs/trace"
	"github.com/plantkeep/cmms/services/notifier/internal/config"
	"github.com/plantkeep/cmms/services/notifier/internal/consumer"
	"github.com/plantkeep/cmms/services/notifier/internal/dedupe"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg.App.LogLevel, cfg.App.ServiceName, cfg.App.Env)
	shutdownTracer, err := trace.InitTracer(context.Background(), cfg.App.ServiceName, cfg.App.Env)
	if err != nil {
		logger.Error("tracer init failed", "error", err)
	} else {
		defer func() {
			_ = shutdownTracer(context.Background())
		}()
	}

	if cfg.App.Env == "dev" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	registry := metrics.NewRegistry()
	notifierMetrics := consumer.NewMetrics(registry)
	kafkaMetrics := kafka.NewProducerMetrics(registry)

	ready := health.NewManager(false)

	claims, closeClaims := buildClaimer(cfg, ready, logger)
	defer closeClaims()

	dispatcher := &delivery.Dispatcher{}
	if cfg.SMS.APIKey != "" {
		dispatcher.SMS = delivery.NewSMSClient(cfg.SMS.APIKey, cfg.SMS.BaseURL, cfg.SMS.Sender)
	}
	if cfg.SMTP.Addr != "" {
		dispatcher.Email = delivery.NewSMTPClient(cfg.SMTP.Addr, cfg.SMTP.User, cfg.SMTP.Password, cfg.SMTP.From)
	}

	producer, err := kafka.NewSyncProducer(cfg.Kafka.Brokers, logger, kafkaMetrics)
	if err != nil {
		logger.Error("kafka producer init failed", "error", err)
		os.Exit(1)
	}
	defer producer.Close()

	consumerGroup, err := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.ConsumerGroup, logger,
		kafka.WithDLQ(producer, cfg.Kafka.DLQTopic),
		kafka.WithRedactor(delivery.RedactSecrets),
		kafka.WithRetry(cfg.Kafka.MaxAttempts, cfg.Kafka.RetryBackoff),
	)
	if err != nil {
		logger.Error("kafka consumer init failed", "error", err)
		os.Exit(1)
	}
	defer consumerGroup.Close()

	notificationConsumer := consumer.NewNotificationConsumer(dispatcher, claims, cfg.MaxEventAge, notifierMetrics, logger)

	httpServer := buildHTTPServer(cfg, ready, registry, logger)
	ready.SetReady(true)

	consumerCtx, consumerCancel := context.WithCancel(context.Background())
	defer consumerCancel()

	go func() {
		logger.Info("notifier http starting", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "error", err)
		}
	}()

	go func() {
		logger.Info("notifier consumer starting", "topic", cfg.Kafka.Topic)
		if err := consumerGroup.Consume(consumerCtx, []string{cfg.Kafka.Topic}, notificationConsumer); err != nil {
			logger.Error("kafka consumer error", "error", err)
		}
	}()

	waitForShutdown(httpServer, ready, consumerCancel, logger)
}

func buildClaimer(cfg *config.Config, ready *health.Manager, logger *slog.Logger) (dedupe.Claimer, func()) {
	if cfg.Dedupe.RedisAddr == "" {
		logger.Warn("no redis configured, deduplicating in memory")
		return dedupe.NewMemoryClaimer(cfg.Dedupe.TTL), func() {}
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Dedupe.RedisAddr,
		Password: cfg.Dedupe.Password,
		DB:       cfg.Dedupe.DB,
	})
	claimer := dedupe.NewRedisClaimer(client, cfg.Dedupe.TTL)
	ready.AddCheck("redis", claimer.Ping)
	return claimer, func() { _ = client.Close() }
}

func buildHTTPServer(cfg *config.Config, ready *health.Manager, registry *prometheus.Registry, logger *slog.Logger) *http.Server {
	router := gin.New()
	router.Use(httpmiddleware.RequestID())
	router.Use(httpmiddleware.Logger(logger))
	router.Use(httpmiddleware.Recovery(logger))

	router.GET("/healthz", health.LivenessHandler)
	router.GET("/readyz", health.ReadinessHandler(ready))
	router.GET(cfg.App.MetricsPath, gin.WrapH(metrics.Handler(registry)))

	return &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.App.HTTP.Host, cfg.App.HTTP.Port),
		Handler:      router,
		ReadTimeout:  cfg.App.HTTP.ReadTimeout,
		WriteTimeout: cfg.App.HTTP.WriteTimeout,
		IdleTimeout:  cfg.App.HTTP.IdleTimeout,
	}
}

func waitForShutdown(server *http.Server, ready *health.Manager, cancelConsumer context.CancelFunc, logger *slog.Logger) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ready.SetReady(false)
	cancelConsumer()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutdown started")
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", "error", err)
		return
	}
	logger.Info("shutdown complete")
}
