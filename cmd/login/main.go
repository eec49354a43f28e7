package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/maltedev/shopee-scraper/internal/browser"
	"github.com/maltedev/shopee-scraper/internal/config"
	"github.com/maltedev/shopee-scraper/internal/logging"
)

// login opens a visible browser on the home page, waits for the user to sign
// in by hand and saves the session cookies for later scrapes.
func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	output := flag.String("o", cfg.Scraper.CookiesFile, "cookie file to write")
	flag.Parse()

	logger := logging.New(cfg.Logging.Level, "text")

	if err := run(context.Background(), cfg, *output, logger); err != nil {
		logger.Error("login failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, output string, logger *slog.Logger) error {
	opts := browser.DefaultOptions()
	opts.Headless = false
	opts.UserAgent = cfg.Browser.UserAgent
	opts.Locale = cfg.Browser.Locale
	opts.TimezoneID = cfg.Browser.TimezoneID
	opts.ProxyServer = cfg.Browser.Proxy

	driver, err := browser.NewDriver(opts, logger)
	if err != nil {
		return err
	}
	defer driver.Close()

	session, err := driver.Launch(ctx)
	if err != nil {
		return err
	}
	defer session.Close()

	if err := session.Goto(ctx, cfg.Scraper.HomeURL); err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "Log in at %s in the browser window, then press ENTER here.\n", cfg.Scraper.HomeURL)
	if _, err := bufio.NewReader(os.Stdin).ReadString('\n'); err != nil {
		return fmt.Errorf("failed to read confirmation: %w", err)
	}

	cookies, err := session.Cookies(ctx)
	if err != nil {
		return err
	}
	if err := browser.SaveCookies(output, cookies); err != nil {
		return err
	}

	logger.Info("cookies saved", "path", output, "count", len(cookies))
	return nil
}
