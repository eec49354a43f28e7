package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/maltedev/shopee-scraper/internal/database"
	"github.com/maltedev/shopee-scraper/internal/models"
)

// EventType represents the type of event
type EventType string

const (
	// EventTypeProductScraped is published when a scrape request succeeds
	EventTypeProductScraped EventType = "PRODUCT_SCRAPED"
	// EventTypeProductScrapeFailed is published when every attempt failed
	EventTypeProductScrapeFailed EventType = "PRODUCT_SCRAPE_FAILED"
)

// ScrapePayload is the body of both scrape events.
type ScrapePayload struct {
	EventID    string          `json:"event_id"`
	EventType  string          `json:"event_type"`
	Timestamp  time.Time       `json:"timestamp"`
	ScrapeID   string          `json:"scrape_id"`
	URL        string          `json:"url"`
	Attempts   int             `json:"attempts"`
	DurationMs int64           `json:"duration_ms"`
	Product    *models.Product `json:"product,omitempty"`
	Error      string          `json:"error,omitempty"`
	Source     string          `json:"source"`
}

type transactor interface {
	Transaction(ctx context.Context, fn func(pgx.Tx) error) error
}

type scrapeWriter interface {
	InsertWithTx(ctx context.Context, tx pgx.Tx, record *models.ScrapeRecord) error
}

type eventWriter interface {
	Enqueue(ctx context.Context, tx pgx.Tx, event *database.ScrapeEvent) error
}

// Publisher stores scrape history and queues the matching event: the history
// row and the event commit together or not at all.
type Publisher struct {
	db      transactor
	scrapes scrapeWriter
	events  eventWriter
	stream  string
	logger  *slog.Logger
}

func NewPublisher(db *database.DB, stream string, logger *slog.Logger) *Publisher {
	if stream == "" {
		stream = database.DefaultStream
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		db:      db,
		scrapes: database.NewScrapeRepository(db),
		events:  database.NewEventQueue(db),
		stream:  stream,
		logger:  logger.With("component", "event_publisher"),
	}
}

// RecordScrape persists record and queues the matching event.
func (p *Publisher) RecordScrape(ctx context.Context, record *models.ScrapeRecord) error {
	payload := NewScrapePayload(record)

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	event := &database.ScrapeEvent{
		ScrapeID: record.ID,
		URL:      record.URL,
		Type:     payload.EventType,
		Payload:  data,
		Stream:   p.stream,
	}

	err = p.db.Transaction(ctx, func(tx pgx.Tx) error {
		if err := p.scrapes.InsertWithTx(ctx, tx, record); err != nil {
			return err
		}
		return p.events.Enqueue(ctx, tx, event)
	})
	if err != nil {
		return fmt.Errorf("failed to record scrape: %w", err)
	}

	p.logger.Info("scrape recorded",
		"type", payload.EventType,
		"event_id", payload.EventID,
		"url", record.URL,
		"queued_event", event.ID,
	)

	return nil
}

func NewScrapePayload(record *models.ScrapeRecord) *ScrapePayload {
	eventType := EventTypeProductScraped
	if record.Status == models.ScrapeFailed {
		eventType = EventTypeProductScrapeFailed
	}

	return &ScrapePayload{
		EventID:    uuid.New().String(),
		EventType:  string(eventType),
		Timestamp:  time.Now(),
		ScrapeID:   record.ID.String(),
		URL:        record.URL,
		Attempts:   record.Attempts,
		DurationMs: record.Duration,
		Product:    record.Product,
		Error:      record.Error,
		Source:     database.EventSource,
	}
}
