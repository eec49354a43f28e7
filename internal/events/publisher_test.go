package events

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/maltedev/shopee-scraper/internal/database"
	"github.com/maltedev/shopee-scraper/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockTransactor runs the function with a nil transaction and reports
// whether it would have committed.
type MockTransactor struct {
	committed bool
}

func (m *MockTransactor) Transaction(ctx context.Context, fn func(pgx.Tx) error) error {
	if err := fn(nil); err != nil {
		return err
	}
	m.committed = true
	return nil
}

type MockScrapeWriter struct {
	mock.Mock
}

func (m *MockScrapeWriter) InsertWithTx(ctx context.Context, tx pgx.Tx, record *models.ScrapeRecord) error {
	args := m.Called(ctx, tx, record)
	return args.Error(0)
}

type MockEventWriter struct {
	mock.Mock
}

func (m *MockEventWriter) Enqueue(ctx context.Context, tx pgx.Tx, event *database.ScrapeEvent) error {
	args := m.Called(ctx, tx, event)
	return args.Error(0)
}

func newTestPublisher() (*Publisher, *MockTransactor, *MockScrapeWriter, *MockEventWriter) {
	tx := &MockTransactor{}
	scrapes := new(MockScrapeWriter)
	queue := new(MockEventWriter)
	return &Publisher{
		db:      tx,
		scrapes: scrapes,
		events:  queue,
		stream:  database.DefaultStream,
		logger:  slog.Default(),
	}, tx, scrapes, queue
}

func successRecord() *models.ScrapeRecord {
	product := models.NewProduct()
	product.Name = models.Text("Fone Bluetooth")
	product.Images = []string{"https://down-br.img.susercontent.com/file/abc.webp"}
	return models.NewScrapeRecord("https://shopee.com.br/product/1/2", 2, product, nil, 3*time.Second)
}

func TestPublisher_RecordScrape(t *testing.T) {
	ctx := context.Background()

	t.Run("success writes row and PRODUCT_SCRAPED event", func(t *testing.T) {
		publisher, tx, scrapes, queue := newTestPublisher()
		record := successRecord()

		scrapes.On("InsertWithTx", ctx, nil, record).Return(nil)
		queue.On("Enqueue", ctx, nil, mock.MatchedBy(func(e *database.ScrapeEvent) bool {
			var payload ScrapePayload
			if err := json.Unmarshal(e.Payload, &payload); err != nil {
				return false
			}
			return e.Type == "PRODUCT_SCRAPED" &&
				e.ScrapeID == record.ID &&
				e.URL == record.URL &&
				e.Stream == database.DefaultStream &&
				payload.ScrapeID == record.ID.String() &&
				payload.Attempts == 2 &&
				payload.DurationMs == 3000 &&
				payload.Product != nil &&
				models.Value(payload.Product.Name) == "Fone Bluetooth"
		})).Return(nil)

		require.NoError(t, publisher.RecordScrape(ctx, record))
		assert.True(t, tx.committed)
		scrapes.AssertExpectations(t)
		queue.AssertExpectations(t)
	})

	t.Run("failure publishes PRODUCT_SCRAPE_FAILED with error", func(t *testing.T) {
		publisher, _, scrapes, queue := newTestPublisher()
		record := models.NewScrapeRecord("https://shopee.com.br/x", 3, nil, errors.New("timed out waiting for product data"), time.Minute)

		scrapes.On("InsertWithTx", ctx, nil, record).Return(nil)
		queue.On("Enqueue", ctx, nil, mock.MatchedBy(func(e *database.ScrapeEvent) bool {
			var payload ScrapePayload
			if err := json.Unmarshal(e.Payload, &payload); err != nil {
				return false
			}
			return e.Type == "PRODUCT_SCRAPE_FAILED" &&
				payload.Product == nil &&
				payload.Error == "timed out waiting for product data"
		})).Return(nil)

		require.NoError(t, publisher.RecordScrape(ctx, record))
		queue.AssertExpectations(t)
	})

	t.Run("history insert failure skips the event", func(t *testing.T) {
		publisher, tx, scrapes, queue := newTestPublisher()
		record := successRecord()

		scrapes.On("InsertWithTx", ctx, nil, record).Return(errors.New("duplicate key"))

		err := publisher.RecordScrape(ctx, record)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "duplicate key")
		assert.False(t, tx.committed)
		queue.AssertNotCalled(t, "Enqueue", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("queue failure rolls back", func(t *testing.T) {
		publisher, tx, scrapes, queue := newTestPublisher()
		record := successRecord()

		scrapes.On("InsertWithTx", ctx, nil, record).Return(nil)
		queue.On("Enqueue", ctx, nil, mock.Anything).Return(errors.New("connection reset"))

		err := publisher.RecordScrape(ctx, record)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "connection reset")
		assert.False(t, tx.committed)
	})
}

func TestNewPublisherDefaults(t *testing.T) {
	publisher := NewPublisher(nil, "", nil)

	require.NotNil(t, publisher.logger)
	assert.Equal(t, database.DefaultStream, publisher.stream)

	custom := NewPublisher(nil, "stream:shopee_custom", slog.Default())
	assert.Equal(t, "stream:shopee_custom", custom.stream)
}

func TestNewScrapePayload(t *testing.T) {
	record := successRecord()
	payload := NewScrapePayload(record)

	assert.NotEmpty(t, payload.EventID)
	assert.Equal(t, string(EventTypeProductScraped), payload.EventType)
	assert.Equal(t, database.EventSource, payload.Source)
	assert.Equal(t, record.URL, payload.URL)
	assert.False(t, payload.Timestamp.IsZero())
}
