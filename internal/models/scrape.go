package models

import (
	"time"

	"github.com/google/uuid"
)

type ScrapeStatus string

const (
	ScrapeSucceeded ScrapeStatus = "succeeded"
	ScrapeFailed    ScrapeStatus = "failed"
)

// ScrapeRecord is the outcome of one scrape request, including its retries.
// Duration is in milliseconds.
type ScrapeRecord struct {
	ID        uuid.UUID    `json:"id"`
	URL       string       `json:"url"`
	Status    ScrapeStatus `json:"status"`
	Attempts  int          `json:"attempts"`
	Product   *Product     `json:"product,omitempty"`
	Error     string       `json:"error,omitempty"`
	Duration  int64        `json:"duration_ms"`
	CreatedAt time.Time    `json:"created_at"`
}

// NewScrapeRecord builds the record for a finished request. err is the final
// error, nil on success.
func NewScrapeRecord(url string, attempts int, product *Product, err error, elapsed time.Duration) *ScrapeRecord {
	record := &ScrapeRecord{
		ID:        uuid.New(),
		URL:       url,
		Status:    ScrapeSucceeded,
		Attempts:  attempts,
		Product:   product,
		Duration:  elapsed.Milliseconds(),
		CreatedAt: time.Now(),
	}
	if err != nil {
		record.Status = ScrapeFailed
		record.Error = err.Error()
		record.Product = nil
	}
	return record
}
