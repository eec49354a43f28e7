package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/playwright-community/playwright-go"
)

// turnstileSelectors locate the Cloudflare Turnstile widget, iframe first.
var turnstileSelectors = []string{
	`iframe[src*="challenges.cloudflare.com"]`,
	"#turnstile-wrapper",
	".cf-turnstile",
}

// Session is one browser process with one page.
type Session struct {
	browser         playwright.Browser
	context         playwright.BrowserContext
	page            playwright.Page
	selectorTimeout time.Duration
	navTimeout      time.Duration
	logger          *slog.Logger
	closed          bool
}

func (s *Session) Goto(ctx context.Context, url string) error {
	if s.closed {
		return ErrSessionClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	timeout := clampToDeadline(ctx, s.navTimeout)
	if timeout <= 0 {
		return fmt.Errorf("navigation to %s: %w", url, context.DeadlineExceeded)
	}

	if _, err := s.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(float64(timeout.Milliseconds())),
	}); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	return nil
}

func (s *Session) Reload(ctx context.Context) error {
	if s.closed {
		return ErrSessionClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	timeout := clampToDeadline(ctx, s.navTimeout)
	if timeout <= 0 {
		return fmt.Errorf("reload: %w", context.DeadlineExceeded)
	}

	if _, err := s.page.Reload(playwright.PageReloadOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(float64(timeout.Milliseconds())),
	}); err != nil {
		return fmt.Errorf("failed to reload page: %w", err)
	}
	return nil
}

func (s *Session) Title(ctx context.Context) (string, error) {
	if s.closed {
		return "", ErrSessionClosed
	}
	return s.page.Title()
}

// Has reports whether the selector currently matches, without waiting.
func (s *Session) Has(ctx context.Context, selector string) (bool, error) {
	if s.closed {
		return false, ErrSessionClosed
	}
	count, err := s.page.Locator(selector).Count()
	if err != nil {
		return false, fmt.Errorf("failed to query %q: %w", selector, err)
	}
	return count > 0, nil
}

// ClickChallenge clicks the Turnstile checkbox, which sits at the left edge
// of the widget.
func (s *Session) ClickChallenge(ctx context.Context) error {
	if s.closed {
		return ErrSessionClosed
	}

	for _, selector := range turnstileSelectors {
		widget := s.page.Locator(selector).First()
		if count, err := widget.Count(); err != nil || count == 0 {
			continue
		}

		box, err := widget.BoundingBox()
		if err != nil || box == nil {
			continue
		}

		x := box.X + 30
		y := box.Y + box.Height/2
		s.logger.Debug("clicking challenge widget", "selector", selector, "x", x, "y", y)

		if err := s.page.Mouse().Click(x, y); err != nil {
			return fmt.Errorf("failed to click challenge widget: %w", err)
		}
		return nil
	}

	return fmt.Errorf("challenge widget: %w", ErrElementNotFound)
}

// Text waits for the first element matching selector and returns its
// rendered text.
func (s *Session) Text(ctx context.Context, selector string) (string, error) {
	locator, err := s.waitFor(ctx, selector)
	if err != nil {
		return "", err
	}

	text, err := locator.InnerText()
	if err != nil {
		return "", s.mapError(selector, err)
	}
	return text, nil
}

// Attribute waits for the first element matching selector and returns the
// named attribute, empty when the attribute is missing.
func (s *Session) Attribute(ctx context.Context, selector, name string) (string, error) {
	locator, err := s.waitFor(ctx, selector)
	if err != nil {
		return "", err
	}

	value, err := locator.GetAttribute(name)
	if err != nil {
		return "", s.mapError(selector, err)
	}
	return value, nil
}

func (s *Session) HTML(ctx context.Context) (string, error) {
	if s.closed {
		return "", ErrSessionClosed
	}
	html, err := s.page.Content()
	if err != nil {
		return "", fmt.Errorf("failed to read page content: %w", err)
	}
	return html, nil
}

func (s *Session) waitFor(ctx context.Context, selector string) (playwright.Locator, error) {
	if s.closed {
		return nil, ErrSessionClosed
	}

	timeout := clampToDeadline(ctx, s.selectorTimeout)
	if timeout <= 0 {
		return nil, fmt.Errorf("%q: %w", selector, ErrElementNotFound)
	}

	locator := s.page.Locator(selector).First()
	if err := locator.WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateAttached,
		Timeout: playwright.Float(float64(timeout.Milliseconds())),
	}); err != nil {
		return nil, s.mapError(selector, err)
	}
	return locator, nil
}

// clampToDeadline shortens timeout to what is left of the context deadline.
// A cancelled context leaves nothing.
func clampToDeadline(ctx context.Context, timeout time.Duration) time.Duration {
	if ctx.Err() != nil {
		return 0
	}
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < timeout {
			timeout = left
		}
	}
	return timeout
}

func (s *Session) mapError(selector string, err error) error {
	if errors.Is(err, playwright.ErrTimeout) {
		return fmt.Errorf("%q: %w", selector, ErrElementNotFound)
	}
	return fmt.Errorf("failed to read %q: %w", selector, err)
}

// Close tears down the page, context and browser. It is safe to call more
// than once.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	var errs []error

	if s.context != nil {
		if err := s.context.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close context: %w", err))
		}
	}

	if s.browser != nil {
		if err := s.browser.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close browser: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during close: %w", errors.Join(errs...))
	}

	s.logger.Debug("browser session closed")
	return nil
}
