package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/playwright-community/playwright-go"
)

var (
	// ErrElementNotFound is returned when no element matches a selector
	// before the wait times out.
	ErrElementNotFound = errors.New("element not found")
	ErrSessionClosed   = errors.New("browser session closed")
)

type Options struct {
	Headless          bool
	UserAgent         string
	ViewportWidth     int
	ViewportHeight    int
	Locale            string
	TimezoneID        string
	SelectorTimeout   time.Duration
	NavigationTimeout time.Duration
	ProxyServer       string
}

func DefaultOptions() *Options {
	return &Options{
		Headless: true,
		UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) " +
			"AppleWebKit/537.36 (KHTML, like Gecko) Chrome/134.0.0.0 Safari/537.36",
		ViewportWidth:     1920,
		ViewportHeight:    1080,
		Locale:            "pt-BR",
		TimezoneID:        "America/Sao_Paulo",
		SelectorTimeout:   6 * time.Second,
		NavigationTimeout: 30 * time.Second,
	}
}

// stealthScript hides the most common automation fingerprints before any
// page script runs.
const stealthScript = `
	Object.defineProperty(navigator, 'webdriver', { get: () => undefined });
	Object.defineProperty(navigator, 'languages', { get: () => ['pt-BR', 'pt', 'en-US', 'en'] });
	window.chrome = window.chrome || { runtime: {} };
`

// Driver owns the playwright runtime. Browsers are launched per session so
// that every scrape attempt starts from a clean process.
type Driver struct {
	pw     *playwright.Playwright
	opts   *Options
	logger *slog.Logger
}

func NewDriver(opts *Options, logger *slog.Logger) (*Driver, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	if logger == nil {
		logger = slog.Default()
	}

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}

	return &Driver{
		pw:     pw,
		opts:   opts,
		logger: logger.With("component", "browser"),
	}, nil
}

func (d *Driver) launchArgs() []string {
	return []string{
		"--start-maximized",
		"--disable-blink-features=AutomationControlled",
		"--disable-infobars",
		"--disable-dev-shm-usage",
		"--no-sandbox",
		fmt.Sprintf("--window-size=%d,%d", d.opts.ViewportWidth, d.opts.ViewportHeight),
		"--user-agent=" + d.opts.UserAgent,
	}
}

// Launch starts a new browser with a single page. The caller owns the
// returned session and must Close it.
func (d *Driver) Launch(ctx context.Context) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	launchOpts := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(d.opts.Headless),
		Args:     d.launchArgs(),
	}
	if d.opts.ProxyServer != "" {
		launchOpts.Proxy = &playwright.Proxy{
			Server: d.opts.ProxyServer,
		}
	}

	browser, err := d.pw.Chromium.Launch(launchOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	bctx, err := browser.NewContext(playwright.BrowserNewContextOptions{
		UserAgent:         playwright.String(d.opts.UserAgent),
		Locale:            playwright.String(d.opts.Locale),
		TimezoneId:        playwright.String(d.opts.TimezoneID),
		JavaScriptEnabled: playwright.Bool(true),
		AcceptDownloads:   playwright.Bool(false),
		Viewport: &playwright.Size{
			Width:  d.opts.ViewportWidth,
			Height: d.opts.ViewportHeight,
		},
	})
	if err != nil {
		browser.Close()
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}

	if err := bctx.AddInitScript(playwright.Script{Content: playwright.String(stealthScript)}); err != nil {
		d.logger.Warn("failed to install stealth script", "error", err)
	}

	page, err := bctx.NewPage()
	if err != nil {
		bctx.Close()
		browser.Close()
		return nil, fmt.Errorf("failed to create new page: %w", err)
	}
	page.SetDefaultNavigationTimeout(float64(d.opts.NavigationTimeout.Milliseconds()))

	d.logger.Debug("browser session started", "headless", d.opts.Headless)

	return &Session{
		browser:         browser,
		context:         bctx,
		page:            page,
		selectorTimeout: d.opts.SelectorTimeout,
		navTimeout:      d.opts.NavigationTimeout,
		logger:          d.logger,
	}, nil
}

func (d *Driver) Close() error {
	if d.pw == nil {
		return nil
	}
	if err := d.pw.Stop(); err != nil {
		return fmt.Errorf("failed to stop playwright: %w", err)
	}
	return nil
}
