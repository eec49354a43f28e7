package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/maltedev/shopee-scraper/internal/models"
)

const scrapeColumns = `id, url, status, attempts, product, error, duration_ms, created_at`

// ScrapeRepository stores the history of scrape requests.
type ScrapeRepository struct {
	db *DB
}

func NewScrapeRepository(db *DB) *ScrapeRepository {
	return &ScrapeRepository{db: db}
}

func (r *ScrapeRepository) Insert(ctx context.Context, record *models.ScrapeRecord) error {
	return r.db.Transaction(ctx, func(tx pgx.Tx) error {
		return r.InsertWithTx(ctx, tx, record)
	})
}

func (r *ScrapeRepository) InsertWithTx(ctx context.Context, tx pgx.Tx, record *models.ScrapeRecord) error {
	var product []byte
	if record.Product != nil {
		data, err := json.Marshal(record.Product)
		if err != nil {
			return fmt.Errorf("failed to marshal product: %w", err)
		}
		product = data
	}

	var errMsg *string
	if record.Error != "" {
		errMsg = &record.Error
	}

	query := `
		INSERT INTO scrapes (` + scrapeColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := tx.Exec(ctx, query,
		record.ID, record.URL, string(record.Status), record.Attempts,
		product, errMsg, record.Duration, record.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert scrape: %w", err)
	}
	return nil
}

// ListRecent returns the newest records first.
func (r *ScrapeRepository) ListRecent(ctx context.Context, limit int) ([]*models.ScrapeRecord, error) {
	query := `SELECT ` + scrapeColumns + ` FROM scrapes ORDER BY created_at DESC LIMIT $1`

	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list scrapes: %w", err)
	}
	defer rows.Close()

	records := make([]*models.ScrapeRecord, 0, limit)
	for rows.Next() {
		record, err := scanScrape(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return records, nil
}

// LatestByURL returns ErrNotFound when url was never scraped.
func (r *ScrapeRepository) LatestByURL(ctx context.Context, url string) (*models.ScrapeRecord, error) {
	query := `SELECT ` + scrapeColumns + ` FROM scrapes WHERE url = $1 ORDER BY created_at DESC LIMIT 1`

	record, err := scanScrape(r.db.QueryRow(ctx, query, url))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("scrape for %s: %w", url, ErrNotFound)
	}
	return record, err
}

func scanScrape(row pgx.Row) (*models.ScrapeRecord, error) {
	var (
		record  models.ScrapeRecord
		status  string
		product []byte
		errMsg  *string
	)

	err := row.Scan(&record.ID, &record.URL, &status, &record.Attempts,
		&product, &errMsg, &record.Duration, &record.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan scrape: %w", err)
	}

	record.Status = models.ScrapeStatus(status)
	if errMsg != nil {
		record.Error = *errMsg
	}
	if len(product) > 0 {
		record.Product = &models.Product{}
		if err := json.Unmarshal(product, record.Product); err != nil {
			return nil, fmt.Errorf("failed to unmarshal product: %w", err)
		}
	}
	return &record, nil
}
