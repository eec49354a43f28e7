package database

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockStreamClient records XAdd calls; a configured error fails the append.
type MockStreamClient struct {
	mock.Mock
}

func (m *MockStreamClient) XAdd(ctx context.Context, args *redis.XAddArgs) *redis.StringCmd {
	cmd := redis.NewStringCmd(ctx)
	if err := m.Called(ctx, args).Error(0); err != nil {
		cmd.SetErr(err)
	} else {
		cmd.SetVal("1718000000000-0")
	}
	return cmd
}

// memoryQueue keeps events in memory and applies the delivery rules of
// EventQueue.
type memoryQueue struct {
	mu        sync.Mutex
	events    []*ScrapeEvent
	published []uuid.UUID
	dueErr    error
	markErr   error
}

func (q *memoryQueue) Due(ctx context.Context, limit int) ([]*ScrapeEvent, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.dueErr != nil {
		return nil, q.dueErr
	}
	var due []*ScrapeEvent
	for _, e := range q.events {
		if len(due) == limit {
			break
		}
		if (e.Status == EventQueued || e.Status == EventRetrying) && !e.NextAttemptAt.After(time.Now()) {
			due = append(due, e)
		}
	}
	return due, nil
}

func (q *memoryQueue) MarkPublished(ctx context.Context, id uuid.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, e := range q.events {
		if e.ID == id {
			e.Status = EventPublished
			q.published = append(q.published, id)
			return nil
		}
	}
	return ErrNotFound
}

func (q *memoryQueue) MarkRetry(ctx context.Context, id uuid.UUID, cause error) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.markErr != nil {
		return "", q.markErr
	}
	for _, e := range q.events {
		if e.ID != id {
			continue
		}
		e.Deliveries++
		msg := cause.Error()
		e.LastError = &msg
		e.Status = EventRetrying
		if e.Deliveries >= MaxDeliveries {
			e.Status = EventDead
		}
		e.NextAttemptAt = time.Now().Add(time.Hour)
		return e.Status, nil
	}
	return "", ErrNotFound
}

func (q *memoryQueue) Backlog(ctx context.Context) (OutboxStats, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var stats OutboxStats
	for _, e := range q.events {
		switch e.Status {
		case EventQueued, EventRetrying:
			stats.Pending++
		case EventDead:
			stats.DeadLetter++
		}
	}
	return stats, nil
}

func queuedEvent(url, eventType string) *ScrapeEvent {
	return &ScrapeEvent{
		ID:            uuid.New(),
		ScrapeID:      uuid.New(),
		URL:           url,
		Type:          eventType,
		Payload:       json.RawMessage(`{"url":"` + url + `","attempts":2,"product":{"nome":"Fone"}}`),
		Stream:        DefaultStream,
		Status:        EventQueued,
		CreatedAt:     time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC),
		NextAttemptAt: time.Now().Add(-time.Second),
	}
}

func newTestRelay(queue *memoryQueue, streams *MockStreamClient, batchSize int) *Relay {
	return &Relay{
		queue:     queue,
		streams:   streams,
		logger:    slog.Default(),
		interval:  20 * time.Millisecond,
		batchSize: batchSize,
	}
}

func decodeMessage(t *testing.T, args *redis.XAddArgs) StreamMessage {
	t.Helper()
	raw, ok := args.Values.(map[string]interface{})["data"].(string)
	require.True(t, ok, "data field missing")

	var msg StreamMessage
	require.NoError(t, json.Unmarshal([]byte(raw), &msg))
	return msg
}

func TestRelay_Publish(t *testing.T) {
	ctx := context.Background()

	t.Run("stream entry describes the scrape", func(t *testing.T) {
		streams := new(MockStreamClient)
		relay := newTestRelay(&memoryQueue{}, streams, 10)
		event := queuedEvent("https://shopee.com.br/Fone-i.1.2", "PRODUCT_SCRAPED")
		event.Deliveries = 2

		var sent *redis.XAddArgs
		streams.On("XAdd", ctx, mock.Anything).Run(func(args mock.Arguments) {
			sent = args.Get(1).(*redis.XAddArgs)
		}).Return(nil)

		require.NoError(t, relay.publish(ctx, event))
		require.NotNil(t, sent)

		assert.Equal(t, DefaultStream, sent.Stream)
		assert.Equal(t, "PRODUCT_SCRAPED", sent.Values.(map[string]interface{})["event_type"])
		assert.Equal(t, event.URL, sent.Values.(map[string]interface{})["aggregate_id"])
		assert.Equal(t, event.ScrapeID.String(), sent.Values.(map[string]interface{})["scrape_id"])
		assert.Equal(t, strconv.FormatInt(event.CreatedAt.UnixMilli(), 10), sent.Values.(map[string]interface{})["timestamp"])

		msg := decodeMessage(t, sent)
		assert.Equal(t, event.ID.String(), msg.ID)
		assert.Equal(t, "PRODUCT_SCRAPED", msg.Type)
		assert.Equal(t, EventSource, msg.Source)
		assert.Equal(t, event.URL, msg.URL)
		assert.Equal(t, 3, msg.Delivery)
		assert.True(t, event.CreatedAt.Equal(msg.CreatedAt))
		assert.JSONEq(t, string(event.Payload), string(msg.Scrape))
	})

	t.Run("custom stream", func(t *testing.T) {
		streams := new(MockStreamClient)
		relay := newTestRelay(&memoryQueue{}, streams, 10)
		event := queuedEvent("https://shopee.com.br/a", "PRODUCT_SCRAPE_FAILED")
		event.Stream = "stream:shopee_failures"

		streams.On("XAdd", ctx, mock.MatchedBy(func(args *redis.XAddArgs) bool {
			return args.Stream == "stream:shopee_failures"
		})).Return(nil)

		require.NoError(t, relay.publish(ctx, event))
		streams.AssertExpectations(t)
	})

	t.Run("corrupt payload never reaches redis", func(t *testing.T) {
		streams := new(MockStreamClient)
		relay := newTestRelay(&memoryQueue{}, streams, 10)
		event := queuedEvent("https://shopee.com.br/a", "PRODUCT_SCRAPED")
		event.Payload = json.RawMessage(`{"url":`)

		err := relay.publish(ctx, event)
		assert.ErrorIs(t, err, errInvalidPayload)
		streams.AssertNotCalled(t, "XAdd", mock.Anything, mock.Anything)
	})
}

func TestRelay_PublishDue(t *testing.T) {
	ctx := context.Background()

	t.Run("success and failure in one batch", func(t *testing.T) {
		ok := queuedEvent("https://shopee.com.br/a", "PRODUCT_SCRAPED")
		broken := queuedEvent("https://shopee.com.br/b", "PRODUCT_SCRAPE_FAILED")
		queue := &memoryQueue{events: []*ScrapeEvent{ok, broken}}
		streams := new(MockStreamClient)

		streams.On("XAdd", ctx, mock.MatchedBy(func(args *redis.XAddArgs) bool {
			return args.Values.(map[string]interface{})["aggregate_id"] == ok.URL
		})).Return(nil)
		streams.On("XAdd", ctx, mock.MatchedBy(func(args *redis.XAddArgs) bool {
			return args.Values.(map[string]interface{})["aggregate_id"] == broken.URL
		})).Return(errors.New("READONLY You can't write against a read only replica"))

		published, err := newTestRelay(queue, streams, 10).publishDue(ctx)
		require.NoError(t, err)

		assert.Equal(t, 1, published)
		assert.Equal(t, []uuid.UUID{ok.ID}, queue.published)
		assert.Equal(t, EventRetrying, broken.Status)
		assert.Equal(t, 1, broken.Deliveries)
		require.NotNil(t, broken.LastError)
		assert.Contains(t, *broken.LastError, "READONLY")
	})

	t.Run("last failed delivery makes the event dead", func(t *testing.T) {
		event := queuedEvent("https://shopee.com.br/a", "PRODUCT_SCRAPED")
		event.Status = EventRetrying
		event.Deliveries = MaxDeliveries - 1
		queue := &memoryQueue{events: []*ScrapeEvent{event}}
		streams := new(MockStreamClient)
		streams.On("XAdd", ctx, mock.Anything).Return(redis.ErrClosed)

		published, err := newTestRelay(queue, streams, 10).publishDue(ctx)
		require.NoError(t, err)

		assert.Zero(t, published)
		assert.Equal(t, EventDead, event.Status)

		stats, err := queue.Backlog(ctx)
		require.NoError(t, err)
		assert.Equal(t, OutboxStats{Pending: 0, DeadLetter: 1}, stats)
	})

	t.Run("queue failure is returned", func(t *testing.T) {
		queue := &memoryQueue{dueErr: errors.New("conn closed")}

		_, err := newTestRelay(queue, new(MockStreamClient), 10).publishDue(ctx)
		assert.EqualError(t, err, "conn closed")
	})
}

func TestRelay_Drain(t *testing.T) {
	ctx := context.Background()

	t.Run("keeps going while batches are full", func(t *testing.T) {
		queue := &memoryQueue{}
		for i := 0; i < 5; i++ {
			queue.events = append(queue.events, queuedEvent("https://shopee.com.br/p/"+strconv.Itoa(i), "PRODUCT_SCRAPED"))
		}
		streams := new(MockStreamClient)
		streams.On("XAdd", ctx, mock.Anything).Return(nil)

		newTestRelay(queue, streams, 2).drain(ctx)

		assert.Len(t, queue.published, 5)
		streams.AssertNumberOfCalls(t, "XAdd", 5)
	})

	t.Run("stops when redis keeps failing and the retry is not recorded", func(t *testing.T) {
		queue := &memoryQueue{
			events:  []*ScrapeEvent{queuedEvent("https://shopee.com.br/a", "PRODUCT_SCRAPED")},
			markErr: errors.New("conn closed"),
		}
		streams := new(MockStreamClient)
		streams.On("XAdd", ctx, mock.Anything).Return(redis.ErrClosed)

		newTestRelay(queue, streams, 1).drain(ctx)

		streams.AssertNumberOfCalls(t, "XAdd", 1)
	})
}

func TestRelay_Run(t *testing.T) {
	queue := &memoryQueue{events: []*ScrapeEvent{queuedEvent("https://shopee.com.br/a", "PRODUCT_SCRAPED")}}
	streams := new(MockStreamClient)
	streams.On("XAdd", mock.Anything, mock.Anything).Return(nil)
	relay := newTestRelay(queue, streams, 10)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx) }()

	require.Eventually(t, func() bool {
		stats, _ := relay.Stats(context.Background())
		return stats.Pending == 0
	}, time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("relay did not stop after cancellation")
	}
}
