package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Delivery states of a scrape event.
const (
	EventQueued    = "queued"
	EventRetrying  = "retrying"
	EventPublished = "published"
	EventDead      = "dead"
)

const (
	// MaxDeliveries is the number of failed publishes after which an event
	// is parked as dead.
	MaxDeliveries = 5

	// DefaultStream receives scrape events when no stream is set.
	DefaultStream = "stream:shopee_products"

	maxRedeliveryDelay = 5 * time.Minute
)

var (
	errEventIncomplete = errors.New("scrape event needs a scrape id and url")
	errEventNoPayload  = errors.New("scrape event has no payload")
)

// ScrapeEvent is the outcome of one scrape request, waiting in Postgres to be
// published to a Redis stream. It is written in the same transaction as the
// scrapes row it belongs to.
type ScrapeEvent struct {
	ID            uuid.UUID
	ScrapeID      uuid.UUID
	URL           string
	Type          string
	Payload       json.RawMessage
	Stream        string
	Status        string
	Deliveries    int
	LastError     *string
	CreatedAt     time.Time
	PublishedAt   *time.Time
	NextAttemptAt time.Time
}

// OutboxStats counts events that have not reached a stream yet.
type OutboxStats struct {
	Pending    int64 `json:"pending"`
	DeadLetter int64 `json:"dead_letter"`
}

const eventColumns = `id, scrape_id, url, event_type, payload, stream, status,
	deliveries, last_error, created_at, published_at, next_attempt_at`

// EventQueue is the scrape_events table seen as a delivery queue.
type EventQueue struct {
	db *DB
}

func NewEventQueue(db *DB) *EventQueue {
	return &EventQueue{db: db}
}

// Enqueue stores event inside tx. Status, delivery count and timestamps are
// set by the database and copied back into event.
func (q *EventQueue) Enqueue(ctx context.Context, tx pgx.Tx, event *ScrapeEvent) error {
	if event.ScrapeID == uuid.Nil || event.URL == "" {
		return errEventIncomplete
	}
	if len(event.Payload) == 0 {
		return errEventNoPayload
	}
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.Stream == "" {
		event.Stream = DefaultStream
	}

	query := `
		INSERT INTO scrape_events (id, scrape_id, url, event_type, payload, stream)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING status, deliveries, created_at, next_attempt_at`

	err := tx.QueryRow(ctx, query,
		event.ID, event.ScrapeID, event.URL, event.Type, event.Payload, event.Stream,
	).Scan(&event.Status, &event.Deliveries, &event.CreatedAt, &event.NextAttemptAt)
	if err != nil {
		return fmt.Errorf("failed to enqueue %s event for %s: %w", event.Type, event.URL, err)
	}
	return nil
}

// Due returns up to limit events whose next delivery is not in the future,
// oldest first.
func (q *EventQueue) Due(ctx context.Context, limit int) ([]*ScrapeEvent, error) {
	query := `SELECT ` + eventColumns + `
		FROM scrape_events
		WHERE status IN ($1, $2) AND next_attempt_at <= NOW()
		ORDER BY created_at
		LIMIT $3`

	rows, err := q.db.Query(ctx, query, EventQueued, EventRetrying, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load due events: %w", err)
	}
	defer rows.Close()

	var events []*ScrapeEvent
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return events, nil
}

func (q *EventQueue) MarkPublished(ctx context.Context, id uuid.UUID) error {
	tag, err := q.db.Exec(ctx, `
		UPDATE scrape_events
		SET status = $2, published_at = NOW(), last_error = NULL
		WHERE id = $1`,
		id, EventPublished)
	if err != nil {
		return fmt.Errorf("failed to mark event published: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("event %s: %w", id, ErrNotFound)
	}
	return nil
}

// MarkRetry records a failed publish and returns the event's new status.
// Redelivery waits 2^n seconds after the nth failure, capped at five minutes;
// the MaxDeliveries-th failure makes the event dead.
func (q *EventQueue) MarkRetry(ctx context.Context, id uuid.UUID, cause error) (string, error) {
	var status string
	err := q.db.QueryRow(ctx, `
		UPDATE scrape_events
		SET deliveries = deliveries + 1,
			last_error = $2,
			status = CASE WHEN deliveries + 1 >= $3 THEN $4 ELSE $5 END,
			next_attempt_at = NOW() + LEAST($6, power(2, deliveries + 1)) * INTERVAL '1 second'
		WHERE id = $1
		RETURNING status`,
		id, cause.Error(), MaxDeliveries, EventDead, EventRetrying, maxRedeliveryDelay.Seconds(),
	).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("event %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to reschedule event: %w", err)
	}
	return status, nil
}

// Backlog counts undelivered and dead events.
func (q *EventQueue) Backlog(ctx context.Context) (OutboxStats, error) {
	var stats OutboxStats
	err := q.db.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status IN ($1, $2)),
			COUNT(*) FILTER (WHERE status = $3)
		FROM scrape_events`,
		EventQueued, EventRetrying, EventDead,
	).Scan(&stats.Pending, &stats.DeadLetter)
	if err != nil {
		return stats, fmt.Errorf("failed to count scrape events: %w", err)
	}
	return stats, nil
}

func scanEvent(row pgx.Row) (*ScrapeEvent, error) {
	var event ScrapeEvent
	err := row.Scan(&event.ID, &event.ScrapeID, &event.URL, &event.Type, &event.Payload,
		&event.Stream, &event.Status, &event.Deliveries, &event.LastError,
		&event.CreatedAt, &event.PublishedAt, &event.NextAttemptAt)
	if err != nil {
		return nil, fmt.Errorf("failed to scan scrape event: %w", err)
	}
	return &event, nil
}
