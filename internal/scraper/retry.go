package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

var ErrRetriesExhausted = errors.New("all scrape attempts failed")

// SleepFunc waits for d or until ctx is done, returning ctx.Err() in the
// latter case.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Retrier runs an operation up to a fixed number of times with a fixed pause
// between attempts. Every failure is treated the same.
type Retrier struct {
	maxAttempts int
	backoff     time.Duration
	sleep       SleepFunc
	logger      *slog.Logger
}

func NewRetrier(maxAttempts int, backoff time.Duration, logger *slog.Logger) *Retrier {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Retrier{
		maxAttempts: maxAttempts,
		backoff:     backoff,
		sleep:       sleepContext,
		logger:      logger.With("component", "retrier"),
	}
}

// Do calls fn with attempt numbers starting at 1. After the last failure it
// returns an error wrapping both ErrRetriesExhausted and that failure.
func (r *Retrier) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) error {
	var lastErr error

	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		err := fn(ctx, attempt)
		if err == nil {
			return nil
		}
		lastErr = err

		r.logger.Warn("attempt failed",
			"attempt", attempt,
			"max_attempts", r.maxAttempts,
			"error", err,
		)

		if attempt == r.maxAttempts {
			break
		}

		r.logger.Info("retrying", "backoff", r.backoff, "next_attempt", attempt+1)
		if err := r.sleep(ctx, r.backoff); err != nil {
			return fmt.Errorf("retry aborted after attempt %d: %w", attempt, err)
		}
	}

	return fmt.Errorf("%w (%d attempts): %w", ErrRetriesExhausted, r.maxAttempts, lastErr)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
