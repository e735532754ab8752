package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/anmar534/desktop-management-system/internal/api"
	"github.com/anmar534/desktop-management-system/internal/api/handlers"
	"github.com/anmar534/desktop-management-system/internal/config"
	"github.com/anmar534/desktop-management-system/internal/errorlog"
	"github.com/anmar534/desktop-management-system/internal/errorreporting"
	"github.com/anmar534/desktop-management-system/internal/logger"
	"github.com/anmar534/desktop-management-system/internal/middleware"
	"github.com/anmar534/desktop-management-system/internal/optimizer"
	"github.com/anmar534/desktop-management-system/internal/secrets"
	"github.com/anmar534/desktop-management-system/internal/storage"
	"github.com/anmar534/desktop-management-system/internal/tracing"
)

const serviceName = "performance-engine"

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found (falling back to system env)")
	}

	cfg := config.Load()

	logger.Init(cfg.LogLevel)
	logger.Info("Initializing server", "version", cfg.SentryRelease, "log_level", cfg.LogLevel)

	if err := errorreporting.Init(errorreporting.Options{
		DSN:         cfg.SentryDSN,
		Environment: cfg.SentryEnvironment,
		Release:     cfg.SentryRelease,
	}); err != nil {
		logger.Warn("Failed to initialize error reporting", "error", err)
	} else if errorreporting.IsSentryEnabled() {
		logger.Info("Error reporting initialized",
			"environment", cfg.SentryEnvironment,
			"dsn", secrets.MaskURL(cfg.SentryDSN))
		defer func() {
			logger.Info("Flushing error reports...")
			errorreporting.Flush(2 * time.Second)
		}()
	}

	shutdownTracing, err := tracing.Init(serviceName, tracing.Options{
		Enabled:    cfg.OTELEnabled,
		Endpoint:   cfg.OTELEndpoint,
		SampleRate: cfg.OTELSampleRate,
	})
	if err != nil {
		logger.Warn("Failed to initialize tracing", "error", err)
	} else if cfg.OTELEnabled {
		logger.Info("Tracing initialized", "endpoint", cfg.OTELEndpoint, "sample_rate", cfg.OTELSampleRate)
		defer func() {
			logger.Info("Shutting down tracer...")
			if err := shutdownTracing(context.Background()); err != nil {
				logger.Error("Failed to shutdown tracer", "error", err)
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logger.Error("Server exited with error", "error", err)
		errorreporting.CaptureError(err)
		errorreporting.Flush(2 * time.Second)
		os.Exit(1)
	}
	logger.Info("Server stopped")
}

func run(ctx context.Context, cfg *config.Config) error {
	kv, err := storage.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer kv.Close()

	errs := errorlog.New(kv)
	if err := errs.Load(ctx); err != nil {
		// Storage may come back later; the log keeps working in memory.
		logger.Warn("Failed to load persisted error records", "error", err)
	}

	engine, err := optimizer.New(cfg.Optimization, optimizer.WithErrorLog(errs))
	if err != nil {
		return err
	}
	logger.Info("Optimization engine ready", "session_id", engine.SessionID())

	monitor := optimizer.NewMonitor(engine, kv)
	if err := monitor.LoadLast(ctx); err != nil {
		logger.Warn("Failed to load last health snapshot", "error", err)
	}

	hub := handlers.NewHealthHub(monitor, engine.CheckSystemHealth)
	go hub.Run(ctx)
	monitor.Start(ctx)
	defer monitor.Stop()

	var limiter *middleware.RateLimiter
	if cfg.EnableRateLimit {
		limiter = middleware.NewRateLimiter(middleware.RateLimitConfig{
			GlobalRate:  cfg.RateLimitGlobal,
			GlobalBurst: cfg.RateLimitGlobalBurst,
			PerIPRate:   cfg.RateLimitPerIP,
			PerIPBurst:  cfg.RateLimitPerIPBurst,
		})
		defer limiter.Stop()
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.NewRouter(api.Deps{Engine: engine, Hub: hub, RateLimiter: limiter}),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Server listening", "addr", cfg.HTTPAddr, "rate_limit", cfg.EnableRateLimit)
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
