package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/plantkeep/cmms/libs/delivery"
	"github.com/plantkeep/cmms/libs/httpmiddleware"
	"github.com/plantkeep/cmms/libs/kafka"
	"github.com/plantkeep/cmms/services/auth/internal/config"
	"github.com/plantkeep/cmms/services/auth/internal/notify"
	"github.com/plantkeep/cmms/services/auth/internal/rate"
	"github.com/plantkeep/cmms/services/auth/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

func noopClose() error { return nil }

func buildLimiter(cfg *config.Config, logger *slog.Logger) (rate.Limiter, func() error, error) {
	policy := rate.Policy{Limit: cfg.RateLimit.Limit, Window: cfg.RateLimit.Window}

	if cfg.RateLimit.Redis.Addr == "" {
		if !cfg.App.IsLocal() {
			return nil, nil, fmt.Errorf("rate limiter redis not configured")
		}
		return rate.NewMemory(policy), noopClose, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RateLimit.Redis.Addr,
		Password: cfg.RateLimit.Redis.Password,
		DB:       cfg.RateLimit.Redis.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		if !cfg.App.IsLocal() {
			return nil, nil, err
		}
		logger.Warn("redis rate limiter unavailable, falling back to memory", "error", err)
		return rate.NewMemory(policy), noopClose, nil
	}

	limiter, err := rate.NewRedis(client, policy, cfg.RateLimit.Redis.Prefix)
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	return limiter, client.Close, nil
}

// buildSender picks the delivery route: demo logging, the Kafka queue
// consumed by the notifier, or in-process SMS and SMTP clients.
func buildSender(cfg *config.Config, logger *slog.Logger, registry *prometheus.Registry, m *telemetry.Metrics) (notify.Sender, func() error, error) {
	if cfg.DemoMode {
		logger.Warn("demo mode enabled, codes are logged instead of delivered")
		return notify.Instrumented(notify.LogSender{Logger: logger}, m), noopClose, nil
	}

	if len(cfg.Kafka.Brokers) > 0 {
		producer, err := kafka.NewSyncProducer(cfg.Kafka.Brokers, logger, kafka.NewProducerMetrics(registry))
		if err != nil {
			return nil, nil, err
		}
		publisher := kafka.NewDLQPublisher(producer, producer, cfg.Kafka.DLQTopic, logger).WithRedactor(delivery.RedactSecrets)
		sender := notify.QueueSender{
			Publisher:     publisher,
			Topic:         cfg.Kafka.NotifyTopic,
			CorrelationID: httpmiddleware.RequestIDFromContext,
		}
		return notify.Instrumented(sender, m), publisher.Close, nil
	}

	dispatcher := &delivery.Dispatcher{}
	if cfg.SMS.APIKey != "" {
		dispatcher.SMS = delivery.NewSMSClient(cfg.SMS.APIKey, cfg.SMS.BaseURL, cfg.SMS.Sender)
	}
	if cfg.SMTP.Addr != "" {
		dispatcher.Email = delivery.NewSMTPClient(cfg.SMTP.Addr, cfg.SMTP.User, cfg.SMTP.Password, cfg.SMTP.From)
	}
	if dispatcher.SMS == nil && dispatcher.Email == nil && !cfg.App.IsLocal() {
		return nil, nil, fmt.Errorf("no delivery route configured: set CMMS_KAFKA_BROKERS or SMS/SMTP settings")
	}
	return notify.Instrumented(notify.DirectSender{Dispatcher: dispatcher}, m), noopClose, nil
}
