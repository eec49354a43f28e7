// Package cloudflare detects the Cloudflare interstitial and tries to get
// past it by clicking the Turnstile widget.
package cloudflare

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

var ErrChallengeNotPassed = errors.New("cloudflare challenge not passed")

// Page is what the bypasser needs from a live browser page.
type Page interface {
	Title(ctx context.Context) (string, error)
	Has(ctx context.Context, selector string) (bool, error)
	ClickChallenge(ctx context.Context) error
}

// challengeTitles are lowercase fragments of interstitial page titles.
var challengeTitles = []string{
	"just a moment",
	"checking your browser",
	"attention required",
	"please wait",
	"um momento",
}

var challengeSelectors = []string{
	"#challenge-running",
	"#challenge-stage",
	"#cf-challenge-running",
	"#turnstile-wrapper",
	`iframe[src*="challenges.cloudflare.com"]`,
}

type Bypasser struct {
	maxRetries int
	interval   time.Duration
	logger     *slog.Logger
}

func NewBypasser(maxRetries int, interval time.Duration, logger *slog.Logger) *Bypasser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bypasser{
		maxRetries: maxRetries,
		interval:   interval,
		logger:     logger.With("component", "cloudflare"),
	}
}

// Challenged reports whether the page currently shows the interstitial.
func (b *Bypasser) Challenged(ctx context.Context, page Page) (bool, error) {
	title, err := page.Title(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to get page title: %w", err)
	}

	lower := strings.ToLower(title)
	for _, t := range challengeTitles {
		if strings.Contains(lower, t) {
			return true, nil
		}
	}

	for _, selector := range challengeSelectors {
		has, err := page.Has(ctx, selector)
		if err != nil {
			return false, err
		}
		if has {
			return true, nil
		}
	}

	return false, nil
}

// Bypass clicks the challenge until it clears or the retries run out, in
// which case ErrChallengeNotPassed is returned.
func (b *Bypasser) Bypass(ctx context.Context, page Page) error {
	for attempt := 0; attempt <= b.maxRetries; attempt++ {
		challenged, err := b.Challenged(ctx, page)
		if err != nil {
			return err
		}
		if !challenged {
			if attempt > 0 {
				b.logger.Info("challenge passed", "clicks", attempt)
			}
			return nil
		}

		if attempt == b.maxRetries {
			break
		}

		b.logger.Debug("challenge detected, clicking", "attempt", attempt+1, "max_retries", b.maxRetries)
		if err := page.ClickChallenge(ctx); err != nil {
			b.logger.Debug("challenge click failed", "error", err)
		}

		if !sleepWithContext(ctx, b.interval) {
			return ctx.Err()
		}
	}

	return fmt.Errorf("%w after %d retries", ErrChallengeNotPassed, b.maxRetries)
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
