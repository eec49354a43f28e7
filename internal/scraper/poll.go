package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/maltedev/shopee-scraper/internal/metrics"
	"github.com/maltedev/shopee-scraper/internal/models"
)

var ErrPollTimeout = errors.New("timed out waiting for product data")

const (
	DefaultPageTimeout  = 60 * time.Second
	DefaultPollInterval = time.Second
)

// Poller re-extracts the page at a fixed interval until the required fields
// show up.
type Poller struct {
	extractor *Extractor
	timeout   time.Duration
	interval  time.Duration
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

func NewPoller(extractor *Extractor, timeout, interval time.Duration, m *metrics.Metrics, logger *slog.Logger) *Poller {
	if timeout <= 0 {
		timeout = DefaultPageTimeout
	}
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		extractor: extractor,
		timeout:   timeout,
		interval:  interval,
		metrics:   m,
		logger:    logger.With("component", "poller"),
	}
}

// Wait returns the first extraction that has a name and at least one image.
// The deadline is the context's, or the poller timeout when the context has
// none. Reaching it yields an error wrapping ErrPollTimeout, never a partial
// product.
func (p *Poller) Wait(ctx context.Context, page Page) (*models.Product, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	start := time.Now()
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for iteration := 1; ; iteration++ {
		if ctx.Err() != nil {
			return nil, p.deadlineError(ctx, start)
		}
		p.metrics.ObservePollIteration()

		product, err := p.extractor.Extract(ctx, page)
		if err != nil {
			if ctx.Err() != nil {
				return nil, p.deadlineError(ctx, start)
			}
			return nil, fmt.Errorf("extraction failed: %w", err)
		}

		if product.Complete() {
			p.logger.Debug("product ready", "iterations", iteration, "elapsed", time.Since(start))
			return product, nil
		}

		p.logger.Debug("product not ready", "iteration", iteration, "missing", product.Missing())

		select {
		case <-ctx.Done():
			return nil, p.deadlineError(ctx, start)
		case <-ticker.C:
		}
	}
}

func (p *Poller) deadlineError(ctx context.Context, start time.Time) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s", ErrPollTimeout, time.Since(start).Round(time.Millisecond))
	}
	return ctx.Err()
}
