package storage

import (
	"context"

	"classifieds-scraper/models"
)

// ListingStore is the interface any storage backend must satisfy.
type ListingStore interface {
	Save(ctx context.Context, records []models.ListingRecord) (*models.SaveResult, error)
	PurgeOlderThan(ctx context.Context, days int) (int64, error)
	Stats(ctx context.Context, topN int) (*models.Statistics, error)
	Close() error
}

// NotificationQueue is consumed by the downstream notifier and exporter.
type NotificationQueue interface {
	FetchAll(ctx context.Context) ([]models.ListingRecord, error)
	FetchUnnotified(ctx context.Context) ([]models.ListingRecord, error)
	MarkAllNotified(ctx context.Context) (int64, error)
}

var (
	_ ListingStore      = (*PostgresStore)(nil)
	_ NotificationQueue = (*PostgresStore)(nil)
)
