package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/maltedev/shopee-scraper/internal/browser"
	"github.com/maltedev/shopee-scraper/internal/cache"
	"github.com/maltedev/shopee-scraper/internal/cloudflare"
	"github.com/maltedev/shopee-scraper/internal/metrics"
	"github.com/maltedev/shopee-scraper/internal/models"
)

// Session is one browser tab opened for a single scrape attempt.
type Session interface {
	Page
	cloudflare.Page
	Goto(ctx context.Context, url string) error
	Reload(ctx context.Context) error
	AddCookies(ctx context.Context, cookies []browser.Cookie) error
	Close() error
}

type Launcher interface {
	Launch(ctx context.Context) (Session, error)
}

// LauncherFunc adapts a function to the Launcher interface.
type LauncherFunc func(ctx context.Context) (Session, error)

func (f LauncherFunc) Launch(ctx context.Context) (Session, error) {
	return f(ctx)
}

// BrowserLauncher opens sessions on a Playwright driver.
func BrowserLauncher(driver *browser.Driver) Launcher {
	return LauncherFunc(func(ctx context.Context) (Session, error) {
		session, err := driver.Launch(ctx)
		if err != nil {
			return nil, err
		}
		return session, nil
	})
}

type ChallengeSolver interface {
	Bypass(ctx context.Context, page cloudflare.Page) error
}

type ResultCache interface {
	Get(ctx context.Context, url string) (*models.Product, error)
	Set(ctx context.Context, url string, product *models.Product) error
}

type Recorder interface {
	RecordScrape(ctx context.Context, record *models.ScrapeRecord) error
}

// Throttle delays browser launches, for example *ratelimit.Limiter.
type Throttle interface {
	Wait(ctx context.Context) error
}

type Config struct {
	MaxRetries   int
	PageTimeout  time.Duration
	Backoff      time.Duration
	PollInterval time.Duration
	CookiesFile  string
	HomeURL      string
	Selectors    Selectors
}

// MaxDuration is the longest a Scrape can run without a cache hit: every
// attempt spends at most one PageTimeout warming up the cookie session and one
// on the product page, with a backoff between attempts.
func (c Config) MaxDuration() time.Duration {
	c = c.withDefaults()
	attempts := max(c.MaxRetries, 1)
	return time.Duration(attempts)*2*c.PageTimeout + time.Duration(attempts-1)*c.Backoff
}

func (c Config) withDefaults() Config {
	if c.PageTimeout <= 0 {
		c.PageTimeout = DefaultPageTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.Backoff < 0 {
		c.Backoff = 0
	}
	return c
}

type Option func(*Service)

func WithCache(c ResultCache) Option {
	return func(s *Service) { s.cache = c }
}

func WithRecorder(r Recorder) Option {
	return func(s *Service) { s.recorder = r }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithThrottle(t Throttle) Option {
	return func(s *Service) { s.throttle = t }
}

// Service scrapes product pages. Each attempt gets a fresh browser session
// which is always closed before the attempt returns.
type Service struct {
	cfg      Config
	launcher Launcher
	solver   ChallengeSolver
	poller   *Poller
	retrier  *Retrier
	cache    ResultCache
	recorder Recorder
	throttle Throttle
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

func NewService(cfg Config, launcher Launcher, solver ChallengeSolver, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}

	cfg = cfg.withDefaults()
	s := &Service{
		cfg:      cfg,
		launcher: launcher,
		solver:   solver,
		logger:   logger.With("component", "scraper"),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.poller = NewPoller(NewExtractor(cfg.Selectors), cfg.PageTimeout, cfg.PollInterval, s.metrics, logger)
	s.retrier = NewRetrier(cfg.MaxRetries, cfg.Backoff, logger)
	return s
}

// Scrape returns the product at url. Up to MaxRetries attempts are made; the
// returned error carries the last attempt's failure.
func (s *Service) Scrape(ctx context.Context, url string) (*models.Product, error) {
	start := time.Now()
	logger := s.logger.With("url", url)

	if product, ok := s.cached(ctx, url); ok {
		logger.Info("served from cache")
		s.metrics.ObserveRequest(metrics.OutcomeCached, time.Since(start))
		return product, nil
	}

	var (
		product  *models.Product
		attempts int
	)
	err := s.retrier.Do(ctx, func(ctx context.Context, attempt int) error {
		attempts = attempt
		logger.Info("starting attempt", "attempt", attempt)

		p, err := s.scrapeOnce(ctx, url)
		if err != nil {
			s.metrics.ObserveAttempt(metrics.OutcomeFailure)
			return err
		}
		s.metrics.ObserveAttempt(metrics.OutcomeSuccess)
		product = p
		return nil
	})
	elapsed := time.Since(start)

	s.record(ctx, models.NewScrapeRecord(url, attempts, product, err, elapsed))

	if err != nil {
		logger.Error("scrape failed", "attempts", attempts, "elapsed", elapsed, "error", err)
		s.metrics.ObserveRequest(metrics.OutcomeFailure, elapsed)
		return nil, err
	}

	logger.Info("scrape succeeded", "attempts", attempts, "elapsed", elapsed, "images", len(product.Images))
	s.metrics.ObserveRequest(metrics.OutcomeSuccess, elapsed)
	s.store(ctx, url, product)
	return product, nil
}

func (s *Service) scrapeOnce(ctx context.Context, url string) (*models.Product, error) {
	if s.throttle != nil {
		if err := s.throttle.Wait(ctx); err != nil {
			return nil, err
		}
	}

	session, err := s.launcher.Launch(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}
	defer func() {
		if err := session.Close(); err != nil {
			s.logger.Warn("failed to close browser session", "error", err)
		}
	}()

	if err := s.warmUp(ctx, session); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.PageTimeout)
	defer cancel()

	if err := session.Goto(ctx, url); err != nil {
		return nil, err
	}

	if s.solver != nil {
		if err := s.solver.Bypass(ctx, session); err != nil {
			s.logger.Warn("challenge bypass failed, waiting for page anyway", "url", url, "error", err)
		}
	}

	return s.poller.Wait(ctx, session)
}

func (s *Service) warmUp(ctx context.Context, session Session) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.PageTimeout)
	defer cancel()
	return s.applyCookies(ctx, session)
}

// applyCookies loads the saved session cookies onto the home page and reloads
// it. A missing cookie file is not an error.
func (s *Service) applyCookies(ctx context.Context, session Session) error {
	if s.cfg.CookiesFile == "" {
		return nil
	}

	cookies, err := browser.LoadCookies(s.cfg.CookiesFile)
	if errors.Is(err, browser.ErrNoCookieFile) {
		s.logger.Debug("no cookie file, continuing without session", "path", s.cfg.CookiesFile)
		return nil
	}
	if err != nil {
		return err
	}

	if err := session.Goto(ctx, s.cfg.HomeURL); err != nil {
		return fmt.Errorf("failed to open home page: %w", err)
	}
	if err := session.AddCookies(ctx, cookies); err != nil {
		return err
	}
	if err := session.Reload(ctx); err != nil {
		return fmt.Errorf("failed to reload after setting cookies: %w", err)
	}

	s.logger.Debug("session cookies applied", "count", len(cookies))
	return nil
}

func (s *Service) cached(ctx context.Context, url string) (*models.Product, bool) {
	if s.cache == nil {
		return nil, false
	}

	product, err := s.cache.Get(ctx, url)
	if err != nil {
		if !errors.Is(err, cache.ErrMiss) {
			s.logger.Warn("cache lookup failed", "url", url, "error", err)
		}
		return nil, false
	}
	return product, true
}

func (s *Service) store(ctx context.Context, url string, product *models.Product) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, url, product); err != nil {
		s.logger.Warn("failed to cache product", "url", url, "error", err)
	}
}

func (s *Service) record(ctx context.Context, record *models.ScrapeRecord) {
	if s.recorder == nil {
		return
	}
	// The request context may already be cancelled; history is still wanted.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := s.recorder.RecordScrape(ctx, record); err != nil {
		s.logger.Warn("failed to record scrape", "url", record.URL, "error", err)
	}
}
