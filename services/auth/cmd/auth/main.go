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
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/plantkeep/cmms/libs/health"
	"github.com/plantkeep/cmms/libs/httpmiddleware"
	"github.com/plantkeep/cmms/libs/logging"
	"github.com/plantkeep/cmms/libs/metrics"
	"github.com/plantkeep/cmms/libs/trace"
	"github.com/plantkeep/cmms/services/auth/internal/config"
	"github.com/plantkeep/cmms/services/auth/internal/handlers"
	"github.com/plantkeep/cmms/services/auth/internal/otp"
	"github.com/plantkeep/cmms/services/auth/internal/reset"
	"github.com/plantkeep/cmms/services/auth/internal/security"
	"github.com/plantkeep/cmms/services/auth/internal/storage"
	"github.com/plantkeep/cmms/services/auth/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		os.Exit(runMigrate(cfg, os.Args[2:]))
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
	authMetrics := telemetry.NewMetrics(registry)

	pool, err := connectDB(cfg)
	if err != nil {
		logger.Error("db connection failed", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	limiter, limiterClose, err := buildLimiter(cfg, logger)
	if err != nil {
		logger.Error("rate limiter init failed", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = limiterClose()
	}()

	sender, senderClose, err := buildSender(cfg, logger, registry, authMetrics)
	if err != nil {
		logger.Error("notification sender init failed", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = senderClose()
	}()

	store := storage.New(pool)
	ready := health.NewManager(true)
	ready.AddCheck("postgres", store.Ping)

	otpIssuer := otp.NewIssuer(store, sender, logger, otp.Options{
		TTL:         cfg.OTP.TTL,
		MaxAttempts: cfg.OTP.MaxAttempts,
		Metrics:     authMetrics,
	})
	resetIssuer := reset.NewIssuer(store, sender, logger, reset.Options{
		TTL:         cfg.Reset.TTL,
		LinkBaseURL: cfg.Reset.LinkBaseURL,
		Metrics:     authMetrics,
	})
	tokens := security.NewTokenService([]byte(cfg.JWTSecret), cfg.JWTIssuer, cfg.AccessTokenTTL, cfg.RefreshTokenTTL)
	hasher := security.NewHasher(cfg.PBKDF2Iterations)

	authHandler := handlers.NewAuthHandler(store, otpIssuer, resetIssuer, hasher, tokens, limiter, logger, authMetrics)

	router, err := httpmiddleware.NewEngine(cfg.App.HTTP.TrustedProxies)
	if err != nil {
		logger.Error("router init failed", "error", err)
		os.Exit(1)
	}
	router.Use(httpmiddleware.RequestID())
	router.Use(httpmiddleware.Logger(logger))
	router.Use(httpmiddleware.Recovery(logger))
	router.Use(trace.Middleware(cfg.App.ServiceName))

	router.GET("/healthz", health.LivenessHandler)
	router.GET("/readyz", health.ReadinessHandler(ready))
	router.GET(cfg.App.MetricsPath, gin.WrapH(metrics.Handler(registry)))

	authHandler.RegisterRoutes(router)

	addr := fmt.Sprintf("%s:%d", cfg.App.HTTP.Host, cfg.App.HTTP.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.App.HTTP.ReadTimeout,
		WriteTimeout: cfg.App.HTTP.WriteTimeout,
		IdleTimeout:  cfg.App.HTTP.IdleTimeout,
	}

	go func() {
		logger.Info("auth service starting", "addr", addr, "demo_mode", cfg.DemoMode)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
		}
	}()

	waitForShutdown(server, ready, logger)
}

func runMigrate(cfg *config.Config, args []string) int {
	direction := "up"
	if len(args) > 0 {
		direction = args[0]
	}
	if err := storage.Migrate(cfg.DB.DSN(), direction); err != nil {
		fmt.Fprintf(os.Stderr, "migrate %s: %v\n", direction, err)
		return 1
	}
	fmt.Printf("migrate %s: ok\n", direction)
	return 0
}

func connectDB(cfg *config.Config) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DB.DSN())
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return pool, nil
}

func waitForShutdown(server *http.Server, ready *health.Manager, logger *slog.Logger) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ready.SetReady(false)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutdown started")
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", "error", err)
		return
	}
	logger.Info("shutdown complete")
}
