package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/SigNoz/storefront-api/internal/api"
	"github.com/SigNoz/storefront-api/internal/db"
	"github.com/SigNoz/storefront-api/internal/events"
	"github.com/SigNoz/storefront-api/internal/metrics"
	"github.com/SigNoz/storefront-api/internal/services"
	"github.com/SigNoz/storefront-api/internal/store"
	"github.com/SigNoz/storefront-api/internal/store/memory"
	"github.com/SigNoz/storefront-api/pkg/config"
	"github.com/SigNoz/storefront-api/pkg/logger"
	"github.com/SigNoz/storefront-api/pkg/shutdown"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration
	cfg := config.LoadConfig()
	log := logger.New(logger.Options{
		Service: cfg.OTELServiceName,
		Env:     cfg.AppEnv,
		Level:   cfg.LogLevel,
	})

	ctx, stop := shutdown.WithSignals(context.Background())
	defer stop()

	// Initialize OpenTelemetry metrics
	appMetrics, meterProvider, err := metrics.InitMetrics(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to initialize metrics: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := meterProvider.Shutdown(shutdownCtx); err != nil {
			log.Warn("error shutting down meter provider", "error", err)
		}
	}()

	st, err := openStore(ctx, cfg, appMetrics, log)
	if err != nil {
		return err
	}
	defer st.Close()

	publisher, err := newPublisher(cfg, log)
	if err != nil {
		return err
	}
	defer publisher.Close()

	// Initialize services
	products := services.NewProductService(st, appMetrics, cfg.ProductCacheTTL, log)
	svc := api.Services{
		Products: products,
		Carts:    services.NewCartService(st, appMetrics, log),
		Orders:   services.NewOrderService(st, appMetrics, publisher, products.Cache(), log),
		Users:    services.NewUserService(st, log),
	}

	var prom *metrics.ServerMetrics
	if cfg.PrometheusEnabled {
		prom = metrics.NewServerMetrics("storefront")
	}

	app := api.NewApp(st, appMetrics, prom, svc, []byte(cfg.JWTSecret), log)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.GetAppPortInt()),
		Handler:      app.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("server starting",
			"port", cfg.GetAppPortInt(),
			"db_driver", cfg.DBDriver,
			"otlp_endpoint", cfg.OTELExporterOTLPEndpoint,
			"prometheus", cfg.PrometheusEnabled,
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return svc.Carts.MonitorActiveCarts(gctx, cfg.CartMonitorInterval)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down server")

		// Graceful shutdown
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("server exited")
	return nil
}

// openStore connects the configured backend. SQL backends are migrated on
// start when DB_AUTO_MIGRATE is set.
func openStore(ctx context.Context, cfg *config.Config, m *metrics.AppMetrics, log *slog.Logger) (store.Store, error) {
	if cfg.DBDriver == config.DriverMemory {
		log.Warn("using in-memory store, data is lost on exit")
		return memory.New(), nil
	}

	dialect, err := db.DialectFor(cfg.DBDriver)
	if err != nil {
		return nil, err
	}
	database, err := db.NewDB(ctx, dialect, cfg.GetDSN(), m, cfg.OTELServiceName, log)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if cfg.DBAutoMigrate {
		if err := database.Migrate(ctx); err != nil {
			database.Close()
			return nil, fmt.Errorf("failed to migrate schema: %w", err)
		}
	}
	return database, nil
}

func newPublisher(cfg *config.Config, log *slog.Logger) (events.Publisher, error) {
	if cfg.KafkaBrokers == "" {
		return events.NopPublisher{}, nil
	}
	pub, err := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaOrderTopic)
	if err != nil {
		return nil, fmt.Errorf("failed to create event publisher: %w", err)
	}
	log.Info("publishing order events", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaOrderTopic)
	return pub, nil
}
