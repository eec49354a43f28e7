package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/maltedev/shopee-scraper/internal/database"
	"github.com/maltedev/shopee-scraper/internal/models"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 200
)

type Scraper interface {
	Scrape(ctx context.Context, url string) (*models.Product, error)
}

type History interface {
	ListRecent(ctx context.Context, limit int) ([]*models.ScrapeRecord, error)
	LatestByURL(ctx context.Context, url string) (*models.ScrapeRecord, error)
}

type OutboxMonitor interface {
	Stats(ctx context.Context) (database.OutboxStats, error)
}

type Handlers struct {
	scraper Scraper
	history History
	outbox  OutboxMonitor
	logger  *slog.Logger
}

// NewHandlers builds the HTTP handlers. history and outbox may be nil when
// the database is disabled.
func NewHandlers(scraper Scraper, history History, outbox OutboxMonitor, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		scraper: scraper,
		history: history,
		outbox:  outbox,
		logger:  logger.With("component", "api"),
	}
}

// ScrapeRequest is the body of POST /scrape.
type ScrapeRequest struct {
	URL string `json:"url"`
}

// Scrape runs a full scrape, including retries, before responding.
func (h *Handlers) Scrape(w http.ResponseWriter, r *http.Request) {
	var req ScrapeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	req.URL = strings.TrimSpace(req.URL)
	if req.URL == "" {
		h.respondError(w, http.StatusBadRequest, "url is required")
		return
	}

	product, err := h.scraper.Scrape(r.Context(), req.URL)
	if err != nil {
		h.logger.Error("scrape request failed", "url", req.URL, "error", err)
		h.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.respondJSON(w, http.StatusOK, product)
}

// ListScrapes serves the most recent scrape history.
func (h *Handlers) ListScrapes(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		h.respondError(w, http.StatusNotFound, "scrape history is disabled")
		return
	}

	if url := r.URL.Query().Get("url"); url != "" {
		h.latestScrape(w, r, url)
		return
	}

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			h.respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	records, err := h.history.ListRecent(r.Context(), limit)
	if err != nil {
		h.logger.Error("failed to list scrapes", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to list scrapes")
		return
	}

	h.respondJSON(w, http.StatusOK, records)
}

func (h *Handlers) latestScrape(w http.ResponseWriter, r *http.Request, url string) {
	record, err := h.history.LatestByURL(r.Context(), url)
	if errors.Is(err, database.ErrNotFound) {
		h.respondError(w, http.StatusNotFound, "no scrape recorded for url")
		return
	}
	if err != nil {
		h.logger.Error("failed to load scrape", "url", url, "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to load scrape")
		return
	}

	h.respondJSON(w, http.StatusOK, record)
}

// Health reports liveness plus outbox backlog when the relay is running.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{"status": "ok"}
	status := http.StatusOK

	if h.outbox != nil {
		stats, err := h.outbox.Stats(r.Context())
		if err != nil {
			h.logger.Warn("failed to read outbox stats", "error", err)
			health["status"] = "degraded"
			health["message"] = "database unavailable"
		} else {
			health["outbox"] = stats
			if stats.Pending > 1000 {
				health["status"] = "warning"
				health["message"] = "High number of pending outbox events"
			}
			if stats.DeadLetter > 100 {
				health["status"] = "error"
				health["message"] = "High number of dead letter events"
				status = http.StatusServiceUnavailable
			}
		}
	}

	h.respondJSON(w, status, health)
}

func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
