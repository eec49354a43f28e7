package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	Scraper  ScraperConfig
	Browser  BrowserConfig
	Cache    CacheConfig
	Database DatabaseConfig
	Events   EventsConfig
	Logging  LoggingConfig
}

type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
}

type ScraperConfig struct {
	MaxRetries        int
	PageTimeout       time.Duration
	Backoff           time.Duration
	PollInterval      time.Duration
	SelectorTimeout   time.Duration
	ChallengeRetries  int
	ChallengeInterval time.Duration
	CookiesFile       string
	HomeURL           string
	MinDelay          time.Duration
	MaxDelay          time.Duration
}

type BrowserConfig struct {
	Headless       bool
	UserAgent      string
	ViewportWidth  int
	ViewportHeight int
	Locale         string
	TimezoneID     string
	Proxy          string
}

type CacheConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

type DatabaseConfig struct {
	Enabled  bool
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	MaxConns int32
}

type EventsConfig struct {
	Stream       string
	PollInterval time.Duration
	BatchSize    int
}

type LoggingConfig struct {
	Level  string
	Format string
}

const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) " +
	"AppleWebKit/537.36 (KHTML, like Gecko) Chrome/134.0.0.0 Safari/537.36"

// Load reads the configuration from the environment. A .env file in the
// working directory is loaded first when present; variables already set in
// the environment win.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnvOrDefault("SERVER_HOST", "0.0.0.0"),
			Port:            getIntOrDefault("SERVER_PORT", 8051),
			ReadTimeout:     getDurationOrDefault("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getDurationOrDefault("SERVER_WRITE_TIMEOUT", 5*time.Minute),
			ShutdownTimeout: getDurationOrDefault("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
			AllowedOrigins:  getStringSliceOrDefault("SERVER_ALLOWED_ORIGINS", []string{"http://localhost:*", "https://localhost:*"}),
		},
		Scraper: ScraperConfig{
			MaxRetries:        getIntOrDefault("SCRAPER_MAX_RETRIES", 3),
			PageTimeout:       getDurationOrDefault("SCRAPER_PAGE_TIMEOUT", 60*time.Second),
			Backoff:           getDurationOrDefault("SCRAPER_BACKOFF", 30*time.Second),
			PollInterval:      getDurationOrDefault("SCRAPER_POLL_INTERVAL", time.Second),
			SelectorTimeout:   getDurationOrDefault("SCRAPER_SELECTOR_TIMEOUT", 6*time.Second),
			ChallengeRetries:  getIntOrDefault("SCRAPER_CHALLENGE_RETRIES", 5),
			ChallengeInterval: getDurationOrDefault("SCRAPER_CHALLENGE_INTERVAL", 2*time.Second),
			CookiesFile:       getEnvOrDefault("SCRAPER_COOKIES_FILE", "cookies.json"),
			HomeURL:           getEnvOrDefault("SCRAPER_HOME_URL", "https://shopee.com.br"),
			MinDelay:          getDurationOrDefault("SCRAPER_MIN_DELAY", 0),
			MaxDelay:          getDurationOrDefault("SCRAPER_MAX_DELAY", 0),
		},
		Browser: BrowserConfig{
			Headless:       getBoolOrDefault("BROWSER_HEADLESS", true),
			UserAgent:      getEnvOrDefault("BROWSER_USER_AGENT", DefaultUserAgent),
			ViewportWidth:  getIntOrDefault("BROWSER_VIEWPORT_WIDTH", 1920),
			ViewportHeight: getIntOrDefault("BROWSER_VIEWPORT_HEIGHT", 1080),
			Locale:         getEnvOrDefault("BROWSER_LOCALE", "pt-BR"),
			TimezoneID:     getEnvOrDefault("BROWSER_TIMEZONE", "America/Sao_Paulo"),
			Proxy:          getEnvOrDefault("BROWSER_PROXY", ""),
		},
		Cache: CacheConfig{
			Enabled:  getBoolOrDefault("CACHE_ENABLED", false),
			Addr:     getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
			Password: getEnvOrDefault("REDIS_PASSWORD", ""),
			DB:       getIntOrDefault("REDIS_DB", 0),
			TTL:      getDurationOrDefault("CACHE_TTL", 10*time.Minute),
		},
		Database: DatabaseConfig{
			Enabled:  getBoolOrDefault("DB_ENABLED", false),
			Host:     getEnvOrDefault("DB_HOST", "localhost"),
			Port:     getIntOrDefault("DB_PORT", 5432),
			User:     getEnvOrDefault("DB_USER", "postgres"),
			Password: getEnvOrDefault("DB_PASSWORD", ""),
			Name:     getEnvOrDefault("DB_NAME", "shopee_scraper"),
			MaxConns: int32(getIntOrDefault("DB_MAX_CONNS", 10)),
		},
		Events: EventsConfig{
			Stream:       getEnvOrDefault("EVENTS_STREAM", "stream:shopee_products"),
			PollInterval: getDurationOrDefault("EVENTS_POLL_INTERVAL", 5*time.Second),
			BatchSize:    getIntOrDefault("EVENTS_BATCH_SIZE", 100),
		},
		Logging: LoggingConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "info"),
			Format: getEnvOrDefault("LOG_FORMAT", "json"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Scraper.MaxRetries < 1 {
		return fmt.Errorf("SCRAPER_MAX_RETRIES must be at least 1")
	}

	if c.Scraper.PageTimeout <= 0 {
		return fmt.Errorf("SCRAPER_PAGE_TIMEOUT must be positive")
	}

	if c.Scraper.PollInterval <= 0 {
		return fmt.Errorf("SCRAPER_POLL_INTERVAL must be positive")
	}

	if c.Scraper.Backoff < 0 {
		return fmt.Errorf("SCRAPER_BACKOFF cannot be negative")
	}

	if c.Scraper.MinDelay < 0 || c.Scraper.MaxDelay < c.Scraper.MinDelay {
		return fmt.Errorf("SCRAPER_MAX_DELAY must be at least SCRAPER_MIN_DELAY")
	}

	if c.Scraper.ChallengeRetries < 0 {
		return fmt.Errorf("SCRAPER_CHALLENGE_RETRIES cannot be negative")
	}

	if c.Database.Enabled && c.Database.Name == "" {
		return fmt.Errorf("database name is required")
	}

	if c.Events.BatchSize < 1 {
		return fmt.Errorf("EVENTS_BATCH_SIZE must be at least 1")
	}

	return nil
}

// Addr is the listen address of the HTTP server.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// getDurationOrDefault accepts Go durations ("90s", "1m") and, like the old
// script constants, plain numbers of seconds.
func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		if secs, err := strconv.ParseFloat(value, 64); err == nil {
			return time.Duration(secs * float64(time.Second))
		}
	}
	return defaultValue
}

func getStringSliceOrDefault(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	}
	return defaultValue
}
