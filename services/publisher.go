package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"classifieds-scraper/models"
	"classifieds-scraper/utils"
)

// Publisher announces newly stored listings to downstream consumers.
type Publisher interface {
	// Publish appends one stream entry per record and returns how many were sent.
	Publish(ctx context.Context, records []models.ListingRecord) (int, error)

	// Close closes the publisher connection
	Close() error
}

// streamAdder is the subset of the Redis client used by RedisPublisher.
type streamAdder interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
	Close() error
}

// RedisPublisher implements Publisher on top of a capped Redis stream.
type RedisPublisher struct {
	client    streamAdder
	stream    string
	maxLength int64
	logger    *utils.Logger
}

// NewRedisPublisher creates a publisher writing to stream on the Redis server at addr.
func NewRedisPublisher(addr string, db int, stream string, maxLength int, logger *utils.Logger) *RedisPublisher {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})
	return newRedisPublisher(client, stream, maxLength, logger)
}

func newRedisPublisher(client streamAdder, stream string, maxLength int, logger *utils.Logger) *RedisPublisher {
	return &RedisPublisher{
		client:    client,
		stream:    stream,
		maxLength: int64(maxLength),
		logger:    logger,
	}
}

// Publish writes each record as a JSON payload under the "listing" field. The
// stream is trimmed approximately to its configured length on every append.
func (p *RedisPublisher) Publish(ctx context.Context, records []models.ListingRecord) (int, error) {
	sent := 0
	for _, r := range records {
		payload, err := json.Marshal(r)
		if err != nil {
			return sent, fmt.Errorf("publisher: marshal %s: %w", r.ExternalID, err)
		}

		err = p.client.XAdd(ctx, &redis.XAddArgs{
			Stream: p.stream,
			MaxLen: p.maxLength,
			Approx: true,
			Values: map[string]interface{}{
				"external_id": r.ExternalID,
				"listing":     string(payload),
			},
		}).Err()
		if err != nil {
			return sent, fmt.Errorf("publisher: xadd %s: %w", p.stream, err)
		}
		sent++
	}

	if sent > 0 {
		p.logger.Debug("[publisher] Announced %d new listings on %s", sent, p.stream)
	}
	return sent, nil
}

// Close closes the Redis connection
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}

// PendingQueue is the part of the store the Announcer drains.
type PendingQueue interface {
	FetchUnnotified(ctx context.Context) ([]models.ListingRecord, error)
	MarkAllNotified(ctx context.Context) (int64, error)
}

// Announcer publishes every listing not yet announced and flags them once the
// whole batch has gone out. A partial publish leaves the flags untouched, so
// the next run sends the batch again.
type Announcer struct {
	queue     PendingQueue
	publisher Publisher
	logger    *utils.Logger
}

// NewAnnouncer creates an Announcer.
func NewAnnouncer(queue PendingQueue, publisher Publisher, logger *utils.Logger) *Announcer {
	return &Announcer{queue: queue, publisher: publisher, logger: logger}
}

// Announce returns the number of listings published.
func (a *Announcer) Announce(ctx context.Context) (int, error) {
	pending, err := a.queue.FetchUnnotified(ctx)
	if err != nil {
		return 0, err
	}
	if len(pending) == 0 {
		return 0, nil
	}

	sent, err := a.publisher.Publish(ctx, pending)
	if err != nil {
		return sent, err
	}

	marked, err := a.queue.MarkAllNotified(ctx)
	if err != nil {
		return sent, err
	}
	a.logger.Info("[announcer] Published %d listings, %d marked as notified", sent, marked)
	return sent, nil
}
