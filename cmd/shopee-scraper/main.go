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

	"github.com/maltedev/shopee-scraper/internal/api"
	"github.com/maltedev/shopee-scraper/internal/browser"
	"github.com/maltedev/shopee-scraper/internal/cache"
	"github.com/maltedev/shopee-scraper/internal/cloudflare"
	"github.com/maltedev/shopee-scraper/internal/config"
	"github.com/maltedev/shopee-scraper/internal/database"
	"github.com/maltedev/shopee-scraper/internal/events"
	"github.com/maltedev/shopee-scraper/internal/logging"
	"github.com/maltedev/shopee-scraper/internal/metrics"
	"github.com/maltedev/shopee-scraper/internal/ratelimit"
	"github.com/maltedev/shopee-scraper/internal/scraper"
	"github.com/redis/go-redis/v9"
)

const writeTimeoutMargin = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	driver, err := browser.NewDriver(&browser.Options{
		Headless:          cfg.Browser.Headless,
		UserAgent:         cfg.Browser.UserAgent,
		ViewportWidth:     cfg.Browser.ViewportWidth,
		ViewportHeight:    cfg.Browser.ViewportHeight,
		Locale:            cfg.Browser.Locale,
		TimezoneID:        cfg.Browser.TimezoneID,
		SelectorTimeout:   cfg.Scraper.SelectorTimeout,
		NavigationTimeout: cfg.Scraper.PageTimeout,
		ProxyServer:       cfg.Browser.Proxy,
	}, logger)
	if err != nil {
		logger.Error("failed to start browser driver", "error", err)
		os.Exit(1)
	}
	defer driver.Close()

	m := metrics.New()
	opts := []scraper.Option{
		scraper.WithMetrics(m),
		scraper.WithThrottle(ratelimit.New(cfg.Scraper.MinDelay, cfg.Scraper.MaxDelay)),
	}

	var redisClient *redis.Client
	if cfg.Cache.Enabled || cfg.Database.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Cache.Addr,
			Password: cfg.Cache.Password,
			DB:       cfg.Cache.DB,
		})
		defer redisClient.Close()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Error("failed to connect to Redis", "error", err)
			os.Exit(1)
		}
	}

	if cfg.Cache.Enabled {
		opts = append(opts, scraper.WithCache(cache.NewProductCache(redisClient, cfg.Cache.TTL, logger)))
		logger.Info("result cache enabled", "ttl", cfg.Cache.TTL)
	}

	var (
		history api.History
		outbox  api.OutboxMonitor
	)
	if cfg.Database.Enabled {
		db, err := database.New(ctx, database.Config{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			Database: cfg.Database.Name,
			MaxConns: cfg.Database.MaxConns,
		})
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer db.Close()

		if err := db.Migrate(ctx); err != nil {
			logger.Error("failed to migrate database", "error", err)
			os.Exit(1)
		}

		opts = append(opts, scraper.WithRecorder(events.NewPublisher(db, cfg.Events.Stream, logger)))
		history = database.NewScrapeRepository(db)

		relay := database.NewRelay(db, redisClient, logger, database.RelayConfig{
			PollInterval: cfg.Events.PollInterval,
			BatchSize:    cfg.Events.BatchSize,
		})
		outbox = relay
		go func() {
			if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("relay stopped with error", "error", err)
			}
		}()
	}

	scraperCfg := scraper.Config{
		MaxRetries:   cfg.Scraper.MaxRetries,
		PageTimeout:  cfg.Scraper.PageTimeout,
		Backoff:      cfg.Scraper.Backoff,
		PollInterval: cfg.Scraper.PollInterval,
		CookiesFile:  cfg.Scraper.CookiesFile,
		HomeURL:      cfg.Scraper.HomeURL,
		Selectors:    scraper.DefaultSelectors(),
	}
	service := scraper.NewService(scraperCfg,
		scraper.BrowserLauncher(driver),
		cloudflare.NewBypasser(cfg.Scraper.ChallengeRetries, cfg.Scraper.ChallengeInterval, logger),
		logger,
		opts...,
	)

	// A scrape must be able to answer with its final error before the
	// connection is cut.
	writeTimeout := cfg.Server.WriteTimeout
	if need := scraperCfg.MaxDuration() + writeTimeoutMargin; writeTimeout < need {
		logger.Warn("raising server write timeout to fit the scrape budget",
			"configured", writeTimeout, "effective", need)
		writeTimeout = need
	}

	handlers := api.NewHandlers(service, history, outbox, logger)

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      api.NewRouter(handlers, m.Handler(), cfg.Server.AllowedOrigins),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down server...")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown failed", "error", err)
		}
	}()

	logger.Info("server starting", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}
