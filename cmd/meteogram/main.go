package main

import (
	"context"
	"errors"
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
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	httpapi "github.com/i474232898/meteogram-sources/internal/api/http"
	"github.com/i474232898/meteogram-sources/internal/config"
	"github.com/i474232898/meteogram-sources/internal/geocode"
	"github.com/i474232898/meteogram-sources/internal/observability"
	"github.com/i474232898/meteogram-sources/internal/scheduler"
	"github.com/i474232898/meteogram-sources/internal/store"
	"github.com/i474232898/meteogram-sources/internal/weather"
	"github.com/i474232898/meteogram-sources/internal/weather/providers"
)

const serviceName = "meteogram"

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	log := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(log)
	metrics := observability.NewMetrics()
	clock := clockwork.NewRealClock()

	metno := providers.NewMetNoClient(
		&http.Client{Timeout: cfg.HTTPTimeout},
		cfg.MetNoBaseURL,
		cfg.MetNoUserAgent,
		log,
	)
	thredds := providers.NewThreddsClient(providers.ThreddsConfig{
		BaseURL:      cfg.ThreddsBaseURL,
		DataPath:     cfg.ThreddsDataPath,
		FileTemplate: cfg.ThreddsFileTemplate,
		RunHour:      &cfg.ThreddsRunHour,
		RunPolicy:    cfg.ThreddsRunPolicy,
		Retries:      cfg.ThreddsRetries,
		HTTPClient:   &http.Client{Timeout: cfg.ThreddsTimeout},
		Logger:       log,
		Clock:        clock,
	})
	unified := weather.NewFallbackClient("metno", metno, thredds,
		weather.WithRecentWindow(cfg.RecentWindow),
		weather.WithClock(clock),
		weather.WithLogger(log),
		weather.WithMetrics(metrics),
	)

	// The combined client goes first; the single sources stay addressable
	// by name through ?source=.
	registry := weather.NewRegistry()
	registry.Register(unified.Name(), unified, 100)
	registry.Register(metno.Name(), metno, 50)
	registry.Register(thredds.Name(), thredds, 10)

	memStore := store.NewMemoryStore(cfg.StoreMaxHistory, cfg.StoreMaxAge)
	service := weather.NewService(registry, memStore, metrics, log, clock)

	locations := geocode.NewResolver(geocode.GoogleLookup(cfg.GeocoderAPIKey), log).Resolve(cfg.Locations)

	sched := scheduler.New(locations, cfg.RefreshInterval, cfg.RefreshHorizon, service, log)
	if err := sched.Start(); err != nil {
		log.Error("failed to start scheduler", "error", err)
		os.Exit(1)
	}
	defer sched.Stop()

	app := fiber.New(fiber.Config{
		AppName:               serviceName,
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		// Archive reads can take most of a minute.
		WriteTimeout: cfg.ThreddsTimeout + cfg.HTTPTimeout,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			var e *fiber.Error
			if errors.As(err, &e) {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error":   true,
				"message": err.Error(),
			})
		},
	})

	app.Use(logger.New())
	app.Use(recover.New())

	app.Get("/health", func(c *fiber.Ctx) error {
		last := sched.LastReport()
		return c.JSON(fiber.Map{
			"status":  "ok",
			"service": serviceName,
			"refresh": last,
		})
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	httpapi.RegisterRoutes(app, service)

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Error("fiber server stopped", "error", err)
		}
	}()
	log.Info("service started", "port", cfg.Port, "locations", len(locations), "sources", registry.Names())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Error("error during shutdown", "error", err)
	}
}
