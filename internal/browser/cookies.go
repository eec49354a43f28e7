package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/playwright-community/playwright-go"
)

var ErrNoCookieFile = errors.New("cookie file not found")

// Cookie is one record of the cookie file. The field names follow the
// DevTools protocol so files exported by other Chromium tooling load as-is.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain,omitempty"`
	Path     string  `json:"path,omitempty"`
	Expires  float64 `json:"expires,omitempty"`
	HTTPOnly bool    `json:"httpOnly,omitempty"`
	Secure   bool    `json:"secure,omitempty"`
	SameSite string  `json:"sameSite,omitempty"`
}

// LoadCookies reads a JSON array of cookies. A missing file yields
// ErrNoCookieFile.
func LoadCookies(path string) ([]Cookie, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s: %w", path, ErrNoCookieFile)
		}
		return nil, fmt.Errorf("failed to read cookie file: %w", err)
	}

	var cookies []Cookie
	if err := json.Unmarshal(data, &cookies); err != nil {
		return nil, fmt.Errorf("failed to parse cookie file %s: %w", path, err)
	}
	return cookies, nil
}

// SaveCookies writes the cookies as indented JSON, replacing the file
// atomically.
func SaveCookies(path string, cookies []Cookie) error {
	if cookies == nil {
		cookies = []Cookie{}
	}

	data, err := json.MarshalIndent(cookies, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal cookies: %w", err)
	}

	tmpFile := path + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0600); err != nil {
		return fmt.Errorf("failed to write cookie file: %w", err)
	}

	if err := os.Rename(tmpFile, path); err != nil {
		os.Remove(tmpFile)
		return fmt.Errorf("failed to replace cookie file: %w", err)
	}
	return nil
}

// AddCookies installs cookies into the session. Cookies without a domain are
// scoped to the page's current URL.
func (s *Session) AddCookies(ctx context.Context, cookies []Cookie) error {
	if s.closed {
		return ErrSessionClosed
	}
	if len(cookies) == 0 {
		return nil
	}

	optional := make([]playwright.OptionalCookie, 0, len(cookies))
	for _, c := range cookies {
		optional = append(optional, c.toOptional(s.page.URL()))
	}

	if err := s.context.AddCookies(optional); err != nil {
		return fmt.Errorf("failed to add cookies: %w", err)
	}
	return nil
}

// Cookies returns every cookie of the session's browser context.
func (s *Session) Cookies(ctx context.Context) ([]Cookie, error) {
	if s.closed {
		return nil, ErrSessionClosed
	}

	raw, err := s.context.Cookies()
	if err != nil {
		return nil, fmt.Errorf("failed to read cookies: %w", err)
	}

	cookies := make([]Cookie, 0, len(raw))
	for _, c := range raw {
		cookies = append(cookies, fromPlaywright(c))
	}
	return cookies, nil
}

func (c Cookie) toOptional(fallbackURL string) playwright.OptionalCookie {
	oc := playwright.OptionalCookie{
		Name:     c.Name,
		Value:    c.Value,
		HttpOnly: playwright.Bool(c.HTTPOnly),
		Secure:   playwright.Bool(c.Secure),
		SameSite: sameSite(c.SameSite),
	}

	if c.Domain != "" {
		path := c.Path
		if path == "" {
			path = "/"
		}
		oc.Domain = playwright.String(c.Domain)
		oc.Path = playwright.String(path)
	} else {
		oc.URL = playwright.String(fallbackURL)
	}

	if c.Expires > 0 {
		oc.Expires = playwright.Float(c.Expires)
	}
	return oc
}

func fromPlaywright(c playwright.Cookie) Cookie {
	cookie := Cookie{
		Name:     c.Name,
		Value:    c.Value,
		Domain:   c.Domain,
		Path:     c.Path,
		HTTPOnly: c.HttpOnly,
		Secure:   c.Secure,
	}
	if c.Expires > 0 {
		cookie.Expires = c.Expires
	}
	if c.SameSite != nil {
		cookie.SameSite = string(*c.SameSite)
	}
	return cookie
}

func sameSite(value string) *playwright.SameSiteAttribute {
	var attr playwright.SameSiteAttribute
	switch strings.ToLower(value) {
	case "strict":
		attr = playwright.SameSiteAttribute("Strict")
	case "lax":
		attr = playwright.SameSiteAttribute("Lax")
	case "none", "no_restriction":
		attr = playwright.SameSiteAttribute("None")
	default:
		return nil
	}
	return &attr
}
