package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/i474232898/air-quality-fusion/internal/airquality"
	"github.com/i474232898/air-quality-fusion/internal/airquality/providers"
	httpapi "github.com/i474232898/air-quality-fusion/internal/api/http"
	"github.com/i474232898/air-quality-fusion/internal/config"
	"github.com/i474232898/air-quality-fusion/internal/geocode"
	"github.com/i474232898/air-quality-fusion/internal/logging"
	"github.com/i474232898/air-quality-fusion/internal/metrics"
	"github.com/i474232898/air-quality-fusion/internal/publish"
	"github.com/i474232898/air-quality-fusion/internal/scheduler"
	"github.com/i474232898/air-quality-fusion/internal/store"
)

func main() {
	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	log := logging.New(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(log)

	m := metrics.New()

	// Shared HTTP client for outbound provider calls.
	httpClient := &http.Client{
		Timeout: cfg.HTTPTimeout,
	}

	snapshots, closeStore, err := openStore(cfg)
	if err != nil {
		log.Error("failed to open store", "backend", cfg.StoreBackend, "error", err)
		os.Exit(1)
	}
	defer closeStore()

	deps := airquality.Dependencies{
		Store:     snapshots,
		Satellite: providers.NewOpenMeteoProvider(httpClient, cfg.SatelliteCacheTTL, m, log),
		Observer:  m,
		Logger:    log,
	}
	if cfg.WAQIToken != "" {
		deps.Stations = providers.NewWAQIProvider(httpClient, cfg.WAQIToken, log)
	} else {
		log.Warn("WAQI_TOKEN not set; station source disabled")
	}
	if cfg.CameraInferenceURL != "" {
		deps.Camera = providers.NewCameraInferenceClient(httpClient, cfg.CameraInferenceURL, log)
	}

	closers := attachPublishers(cfg, &deps, log)
	defer func() {
		for _, c := range closers {
			if err := c.Close(); err != nil {
				log.Warn("closing publisher", "error", err)
			}
		}
	}()

	// Core service orchestrating sources, fusion and the store.
	service := airquality.NewService(deps, cfg.Settings())

	resolver := geocode.NewResolver(cfg.GeocoderAPIKey, log)
	locations := resolver.ResolveAll(context.Background(), cfg.Locations)

	// Scheduler that periodically estimates and stores tracked locations.
	sched := scheduler.New(locations, cfg.FetchInterval, service, log)
	if err := sched.Start(); err != nil {
		log.Error("failed to start scheduler", "error", err)
		os.Exit(1)
	}
	defer sched.Stop()

	// Basic app configuration
	app := fiber.New(fiber.Config{
		AppName:               "air-quality-fusion",
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          30 * time.Second,
		BodyLimit:             10 << 20,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			// Centralized error response
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error":   true,
				"message": err.Error(),
			})
		},
	})

	// Global middleware
	app.Use(logger.New())
	app.Use(recover.New())
	app.Use(m.Middleware())

	// Basic health endpoint
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":    "ok",
			"service":   "air-quality-fusion",
			"locations": len(locations),
		})
	})
	app.Get("/metrics", adaptor.HTTPHandler(m.Handler()))

	// API routes.
	httpapi.RegisterRoutes(app, service)

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Error("fiber server stopped", "error", err)
		}
	}()
	log.Info("listening", "port", cfg.Port, "store", cfg.StoreBackend, "locations", len(locations))

	// Wait for termination signal
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Error("error during shutdown", "error", err)
	}
}

func openStore(cfg *config.AppConfig) (airquality.Store, func(), error) {
	if cfg.StoreBackend == config.StoreSQLite {
		s, err := store.OpenSQLite(cfg.SQLitePath, cfg.StoreMaxHistory, cfg.StoreMaxAge)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	}
	return store.NewMemoryStore(cfg.StoreMaxHistory, cfg.StoreMaxAge), func() {}, nil
}

// attachPublishers adds the optional MQTT and Kafka sinks to deps.
func attachPublishers(cfg *config.AppConfig, deps *airquality.Dependencies, log *slog.Logger) []io.Closer {
	var closers []io.Closer

	if cfg.MQTTBroker != "" {
		client, err := publish.Connect(publish.MQTTConfig{
			Broker:   cfg.MQTTBroker,
			ClientID: cfg.MQTTClientID,
			Username: cfg.MQTTUsername,
			Password: cfg.MQTTPassword,
		}, log)
		if err != nil {
			log.Warn("mqtt publishing disabled", "error", err)
		} else {
			p := publish.NewMQTTPublisher(client, cfg.MQTTTopicPrefix)
			deps.Publishers = append(deps.Publishers, p)
			closers = append(closers, p)
		}
	}

	if len(cfg.KafkaBrokers) > 0 {
		p := publish.NewKafkaPublisher(publish.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaTopic))
		deps.Publishers = append(deps.Publishers, p)
		closers = append(closers, p)
	}
	return closers
}
