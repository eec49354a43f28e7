package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/maltedev/shopee-scraper/internal/browser"
	"github.com/maltedev/shopee-scraper/internal/cloudflare"
	"github.com/maltedev/shopee-scraper/internal/config"
	"github.com/maltedev/shopee-scraper/internal/logging"
	"github.com/maltedev/shopee-scraper/internal/models"
	"github.com/maltedev/shopee-scraper/internal/scraper"
)

func main() {
	var (
		url      = flag.String("url", "", "product URL to scrape")
		htmlFile = flag.String("html", "", "extract from a saved product page instead of opening a browser")
		headful  = flag.Bool("headful", false, "show the browser window")
	)
	flag.Parse()

	if *url == "" && *htmlFile == "" {
		fmt.Fprintln(os.Stderr, "usage: scrape -url <product url> | -html <saved page>")
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Logs go to stderr so stdout carries only the product JSON.
	logger := logging.NewWithWriter(os.Stderr, cfg.Logging.Level, "text")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var product *models.Product
	if *htmlFile != "" {
		product, err = extractFile(ctx, *htmlFile)
	} else {
		product, err = scrape(ctx, cfg, *url, !*headful, logger)
	}
	if err != nil {
		logger.Error("scrape failed", "error", err)
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(product); err != nil {
		logger.Error("failed to write result", "error", err)
		os.Exit(1)
	}
}

func scrape(ctx context.Context, cfg *config.Config, url string, headless bool, logger *slog.Logger) (*models.Product, error) {
	driver, err := browser.NewDriver(&browser.Options{
		Headless:          headless && cfg.Browser.Headless,
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
		return nil, err
	}
	defer driver.Close()

	service := scraper.NewService(scraper.Config{
		MaxRetries:   cfg.Scraper.MaxRetries,
		PageTimeout:  cfg.Scraper.PageTimeout,
		Backoff:      cfg.Scraper.Backoff,
		PollInterval: cfg.Scraper.PollInterval,
		CookiesFile:  cfg.Scraper.CookiesFile,
		HomeURL:      cfg.Scraper.HomeURL,
		Selectors:    scraper.DefaultSelectors(),
	},
		scraper.BrowserLauncher(driver),
		cloudflare.NewBypasser(cfg.Scraper.ChallengeRetries, cfg.Scraper.ChallengeInterval, logger),
		logger,
	)

	return service.Scrape(ctx, url)
}

func extractFile(ctx context.Context, path string) (*models.Product, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	page, err := scraper.NewDocumentPage(f)
	if err != nil {
		return nil, err
	}
	return scraper.NewExtractor(scraper.DefaultSelectors()).Extract(ctx, page)
}
