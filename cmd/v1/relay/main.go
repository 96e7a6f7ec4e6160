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

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/gamewire/relay/internal/v1/config"
	"github.com/gamewire/relay/internal/v1/health"
	"github.com/gamewire/relay/internal/v1/logging"
	"github.com/gamewire/relay/internal/v1/middleware"
	"github.com/gamewire/relay/internal/v1/ratelimit"
	"github.com/gamewire/relay/internal/v1/relay"
	"github.com/gamewire/relay/internal/v1/tracing"
	"github.com/gamewire/relay/internal/v1/transport"
)

func main() {
	// Load .env for local development; fall back to the environment.
	if err := godotenv.Load(); err == nil {
		slog.Info("Loaded environment from .env")
	}

	cfg, err := config.ValidateEnv()
	if err != nil {
		slog.Error("Environment validation failed", "error", err)
		os.Exit(1)
	}

	if err := logging.Initialize(cfg.DevelopmentMode); err != nil {
		slog.Error("Failed to initialize logger", "error", err)
		os.Exit(1)
	}

	if cfg.DevelopmentMode {
		slog.Info("Running in DEVELOPMENT MODE")
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	// --- Optional tracing ---
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(context.Background(), "relay", cfg.OTLPEndpoint)
		if err != nil {
			slog.Error("Failed to initialize tracing", "error", err)
			os.Exit(1)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = tp.Shutdown(ctx)
		}()
		slog.Info("Tracing enabled", "endpoint", cfg.OTLPEndpoint)
	}

	// --- Relay core ---
	directory := relay.NewDirectory(relay.Settings{
		MaxClientsPerGame: cfg.MaxClientsPerGame,
		HubQueueSize:      cfg.HubQueueSize,
		ClientQueueSize:   cfg.ClientQueueSize,
		ReplayCapacity:    cfg.ReplayCapacity,
	})

	limiter, err := ratelimit.New(cfg.RateLimitUpgrades)
	if err != nil {
		slog.Error("Failed to create rate limiter", "error", err)
		os.Exit(1)
	}

	// --- Server ---
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CorrelationID())
	if cfg.TracingEnabled {
		router.Use(otelgin.Middleware("relay"))
	}

	corsConfig := cors.DefaultConfig()
	origins := cfg.Origins([]string{"http://localhost:3000"})
	corsConfig.AllowOrigins = origins
	router.Use(cors.New(corsConfig))

	handler := transport.NewHandler(directory, limiter, origins)
	handler.Register(router)

	// Proof of running
	router.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, "Hello, there")
	})

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	healthHandler := health.NewHandler(directory)
	router.GET("/health/live", healthHandler.Liveness)
	router.GET("/health/ready", healthHandler.Readiness)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Port),
		Handler: router,
	}

	go func() {
		slog.Info("Relay server starting", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Failed to run server", "error", err)
			syscall.Kill(os.Getpid(), syscall.SIGTERM)
		}
	}()

	// --- Graceful shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := directory.Shutdown(ctx); err != nil {
		slog.Error("Error during directory shutdown", "error", err)
	}

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	slog.Info("Server exiting")
}
