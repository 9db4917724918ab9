package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/radiusdt/bid-optimizer/internal/app"
	"github.com/radiusdt/bid-optimizer/internal/config"
	"github.com/radiusdt/bid-optimizer/internal/database"
	"github.com/radiusdt/bid-optimizer/internal/httpserver"
	"github.com/radiusdt/bid-optimizer/internal/metrics"
	"github.com/radiusdt/bid-optimizer/internal/middleware"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Can't use logger yet
		panic("failed to load config: " + err.Error())
	}

	logger, err := middleware.NewLogger(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer logger.Sync()

	logger.Info("starting bid optimizer",
		zap.String("env", cfg.Server.Env),
		zap.String("addr", cfg.Server.Addr),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.NewMetrics(cfg.Metrics.Namespace, prometheus.DefaultRegisterer)
	}

	deps := &app.Dependencies{Config: cfg, Logger: logger, Metrics: m}
	health := make(map[string]httpserver.HealthCheck)

	if cfg.Database.Enabled {
		db, err := database.NewPostgresDB(ctx, cfg.Database, logger)
		if err != nil {
			logger.Fatal("failed to connect to PostgreSQL", zap.Error(err))
		}
		defer db.Close()
		if err := db.Migrate(ctx); err != nil {
			logger.Fatal("failed to migrate PostgreSQL", zap.Error(err))
		}
		deps.DB = db
		health["postgres"] = db.Health
	}

	if cfg.Redis.Enabled {
		rdb, err := database.NewRedisDB(ctx, cfg.Redis, logger)
		if err != nil {
			// the weight cache and job lock degrade to in-process versions
			logger.Warn("Redis unavailable, continuing without it", zap.Error(err))
		} else {
			defer rdb.Close()
			deps.Redis = rdb
			health["redis"] = rdb.Health
		}
	}

	if cfg.ClickHouse.Enabled {
		ch, err := database.NewClickHouseDB(ctx, cfg.ClickHouse, logger)
		if err != nil {
			logger.Fatal("failed to connect to ClickHouse", zap.Error(err))
		}
		defer ch.Close()
		deps.ClickHouse = ch
		health["clickhouse"] = ch.Health
	}

	svc, err := app.NewServices(ctx, deps)
	if err != nil {
		logger.Fatal("failed to build services", zap.Error(err))
	}

	if cfg.Seed.Path != "" {
		seed, err := config.LoadSeed(cfg.Seed.Path)
		if err != nil {
			logger.Fatal("failed to load seed", zap.Error(err))
		}
		if err := svc.ApplySeed(ctx, seed); err != nil {
			logger.Fatal("failed to apply seed", zap.Error(err))
		}
	}

	if cfg.Detection.Enabled {
		if err := svc.ScheduleDetection(cfg.Detection.CronSpec); err != nil {
			logger.Fatal("failed to schedule change detection", zap.Error(err))
		}
		if err := svc.Scheduler.Start(); err != nil {
			logger.Fatal("failed to start scheduler", zap.Error(err))
		}
		defer svc.Scheduler.Stop()

		if cfg.Detection.RunOnStart {
			go func() {
				if _, err := svc.RunDetection(ctx); err != nil {
					logger.Warn("startup change detection failed", zap.Error(err))
				}
			}()
		}
	}

	handler := httpserver.NewServer(&httpserver.Dependencies{
		Services: svc,
		Config:   cfg,
		Logger:   logger,
		Metrics:  m,
		Health:   health,
	})

	// Recovery -> Logging -> RateLimit -> Auth -> Handler
	recoveryMW := middleware.NewRecoveryMiddleware(logger)
	loggingMW := middleware.NewLoggingMiddleware(logger)
	rateLimitMW := middleware.NewRateLimitMiddleware(cfg.RateLimit, m, logger)
	authMW := middleware.NewAuthMiddleware(cfg.Auth, logger)

	finalHandler := recoveryMW.Handler(
		loggingMW.Handler(
			rateLimitMW.Handler(
				authMW.Handler(
					http.TimeoutHandler(handler, cfg.Server.RequestTimeout, `{"error":"request timed out"}`),
				),
			),
		),
	)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           finalHandler,
		ReadHeaderTimeout: 2 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      cfg.Server.RequestTimeout + 5*time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	go func() {
		logger.Info("HTTP server starting", zap.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// housekeeping: idle rate limiters and pool stats
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				rateLimitMW.CleanupIdle(time.Hour)
				if deps.DB != nil {
					m.UpdateDBStats(deps.DB.Stats())
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}

	cancel()

	logger.Info("server stopped")
}
