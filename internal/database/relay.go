package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// EventSource tags every message the relay publishes.
const EventSource = "shopee-scraper"

var errInvalidPayload = errors.New("stored payload is not valid JSON")

// StreamClient is the part of the Redis client the relay needs.
type StreamClient interface {
	XAdd(ctx context.Context, args *redis.XAddArgs) *redis.StringCmd
}

type eventQueue interface {
	Due(ctx context.Context, limit int) ([]*ScrapeEvent, error)
	MarkPublished(ctx context.Context, id uuid.UUID) error
	MarkRetry(ctx context.Context, id uuid.UUID, cause error) (string, error)
	Backlog(ctx context.Context) (OutboxStats, error)
}

// StreamMessage is the JSON document in the "data" field of a stream entry.
// Scrape holds the event payload as it was recorded.
type StreamMessage struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Source    string          `json:"source"`
	ScrapeID  string          `json:"scrape_id"`
	URL       string          `json:"url"`
	CreatedAt time.Time       `json:"created_at"`
	Delivery  int             `json:"delivery"`
	Scrape    json.RawMessage `json:"scrape"`
}

// Relay publishes queued scrape events to their Redis streams.
type Relay struct {
	queue     eventQueue
	streams   StreamClient
	logger    *slog.Logger
	interval  time.Duration
	batchSize int
}

type RelayConfig struct {
	PollInterval time.Duration
	BatchSize    int
}

func NewRelay(db *DB, streams StreamClient, logger *slog.Logger, config RelayConfig) *Relay {
	if config.PollInterval <= 0 {
		config.PollInterval = 5 * time.Second
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Relay{
		queue:     NewEventQueue(db),
		streams:   streams,
		logger:    logger.With("component", "relay"),
		interval:  config.PollInterval,
		batchSize: config.BatchSize,
	}
}

// Run drains the queue on every tick until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	r.logger.Info("relay started", "interval", r.interval, "batch_size", r.batchSize)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		r.drain(ctx)

		select {
		case <-ctx.Done():
			r.logger.Info("relay stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// drain publishes batch after batch while every event of the previous batch
// went out. A short or partly failed batch ends the pass.
func (r *Relay) drain(ctx context.Context) {
	for ctx.Err() == nil {
		published, err := r.publishDue(ctx)
		if err != nil {
			r.logger.Error("failed to read due events", "error", err)
			return
		}
		if published < r.batchSize {
			return
		}
	}
}

// publishDue sends one batch and returns how many events reached a stream.
func (r *Relay) publishDue(ctx context.Context) (int, error) {
	events, err := r.queue.Due(ctx, r.batchSize)
	if err != nil {
		return 0, err
	}

	published := 0
	for _, event := range events {
		if err := r.deliver(ctx, event); err != nil {
			r.logger.Warn("scrape event not delivered",
				"event_id", event.ID,
				"url", event.URL,
				"delivery", event.Deliveries+1,
				"error", err)
			continue
		}
		published++
	}

	if len(events) > 0 {
		r.logger.Debug("published scrape events", "due", len(events), "published", published)
	}
	return published, nil
}

func (r *Relay) deliver(ctx context.Context, event *ScrapeEvent) error {
	if err := r.publish(ctx, event); err != nil {
		status, markErr := r.queue.MarkRetry(ctx, event.ID, err)
		if markErr != nil {
			return errors.Join(err, markErr)
		}
		if status == EventDead {
			r.logger.Error("scrape event is dead after repeated failures",
				"event_id", event.ID,
				"url", event.URL,
				"deliveries", MaxDeliveries)
		}
		return err
	}

	return r.queue.MarkPublished(ctx, event.ID)
}

// publish appends event to its stream. The flat fields let consumers filter
// without decoding data.
func (r *Relay) publish(ctx context.Context, event *ScrapeEvent) error {
	if !json.Valid(event.Payload) {
		return errInvalidPayload
	}

	data, err := json.Marshal(StreamMessage{
		ID:        event.ID.String(),
		Type:      event.Type,
		Source:    EventSource,
		ScrapeID:  event.ScrapeID.String(),
		URL:       event.URL,
		CreatedAt: event.CreatedAt.UTC(),
		Delivery:  event.Deliveries + 1,
		Scrape:    event.Payload,
	})
	if err != nil {
		return fmt.Errorf("failed to encode stream message: %w", err)
	}

	err = r.streams.XAdd(ctx, &redis.XAddArgs{
		Stream: event.Stream,
		Values: map[string]interface{}{
			"data":         string(data),
			"event_type":   event.Type,
			"aggregate_id": event.URL,
			"scrape_id":    event.ScrapeID.String(),
			"timestamp":    strconv.FormatInt(event.CreatedAt.UnixMilli(), 10),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to append to %s: %w", event.Stream, err)
	}
	return nil
}

// Stats reports the event backlog for health checks.
func (r *Relay) Stats(ctx context.Context) (OutboxStats, error) {
	return r.queue.Backlog(ctx)
}
