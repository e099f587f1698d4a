package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"classifieds-scraper/models"
	"classifieds-scraper/utils"
)

const listingColumns = `external_id, title, price_text, location, rooms, floor, description,
	image_url, detail_link, contact_info, message_sent, first_seen_at, last_updated_at`

// PostgresStore persists listing records to PostgreSQL, keyed by external id.
type PostgresStore struct {
	db     *sql.DB
	logger *utils.Logger
	now    func() time.Time
}

// NewPostgresStore opens a connection to PostgreSQL, retrying the initial ping
// with back-off, runs schema migrations, and returns a ready-to-use store.
func NewPostgresStore(ctx context.Context, dsn string, retry *utils.RetryConfig, logger *utils.Logger) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	// One connection per run; the batch transaction is the unit of isolation.
	db.SetMaxOpenConns(1)

	err = retry.Do(ctx, "postgres-ping", func() error {
		return db.PingContext(ctx)
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	ps := newPostgresStore(db, logger)
	if err := ps.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}

	return ps, nil
}

func newPostgresStore(db *sql.DB, logger *utils.Logger) *PostgresStore {
	return &PostgresStore{db: db, logger: logger, now: time.Now}
}

func (ps *PostgresStore) migrate(ctx context.Context) error {
	_, err := ps.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS listings (
			external_id     TEXT        PRIMARY KEY,
			title           TEXT        NOT NULL DEFAULT '',
			price_text      TEXT        NOT NULL DEFAULT '',
			location        TEXT        NOT NULL DEFAULT '',
			rooms           TEXT        NOT NULL DEFAULT '',
			floor           TEXT        NOT NULL DEFAULT '',
			description     TEXT        NOT NULL DEFAULT '',
			image_url       TEXT        NOT NULL DEFAULT '',
			detail_link     TEXT        NOT NULL DEFAULT '',
			contact_info    TEXT        NOT NULL DEFAULT '',
			message_sent    BOOLEAN     NOT NULL DEFAULT FALSE,
			first_seen_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			last_updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_listings_location      ON listings(location);
		CREATE INDEX IF NOT EXISTS idx_listings_price_text    ON listings(price_text);
		CREATE INDEX IF NOT EXISTS idx_listings_rooms         ON listings(rooms);
		CREATE INDEX IF NOT EXISTS idx_listings_first_seen_at ON listings(first_seen_at);
		CREATE INDEX IF NOT EXISTS idx_listings_detail_link   ON listings(detail_link);
		CREATE INDEX IF NOT EXISTS idx_listings_message_sent  ON listings(message_sent);
	`)
	return err
}

// Save upserts every eligible record in a single transaction. Records without
// a detail link or without a price are counted and never reach the database.
// Any write failure rolls back the whole batch and is returned as a
// persistence error.
func (ps *PostgresStore) Save(ctx context.Context, records []models.ListingRecord) (*models.SaveResult, error) {
	res := &models.SaveResult{}
	valid := make([]models.ListingRecord, 0, len(records))

	for _, r := range records {
		switch r.SkipReason() {
		case models.SkipNoLink:
			res.SkippedNoLink++
		case models.SkipNoPrice:
			res.SkippedNoPrice++
		default:
			valid = append(valid, r)
		}
	}
	res.Skipped = res.SkippedNoLink + res.SkippedNoPrice

	if len(valid) == 0 {
		ps.logger.Info("[postgres] Nothing to save (%d skipped)", res.Skipped)
		return res, nil
	}

	tx, err := ps.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, models.NewPersistenceError("begin transaction", err)
	}
	// No-op once committed.
	defer tx.Rollback()

	now := ps.now()
	for _, r := range valid {
		var exists bool
		err := tx.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM listings WHERE external_id = $1)`, r.ExternalID).Scan(&exists)
		if err != nil {
			return nil, models.NewPersistenceError("existence check "+r.ExternalID, err)
		}

		args := []any{
			r.ExternalID, r.Title, r.PriceText, r.LocationText, r.RoomsText, r.FloorText,
			r.Description, r.ImageURL, r.DetailLink, r.ContactInfo, now,
		}

		if exists {
			_, err = tx.ExecContext(ctx, `
				UPDATE listings
				SET title = $2, price_text = $3, location = $4, rooms = $5, floor = $6,
				    description = $7, image_url = $8, detail_link = $9, contact_info = $10,
				    last_updated_at = $11
				WHERE external_id = $1
			`, args...)
			if err != nil {
				return nil, models.NewPersistenceError("update "+r.ExternalID, err)
			}
			res.Updated++
			continue
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO listings (external_id, title, price_text, location, rooms, floor,
			                      description, image_url, detail_link, contact_info,
			                      first_seen_at, last_updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
		`, args...)
		if err != nil {
			return nil, models.NewPersistenceError("insert "+r.ExternalID, err)
		}
		res.Inserted++
		res.InsertedIDs = append(res.InsertedIDs, r.ExternalID)
	}

	if err := tx.Commit(); err != nil {
		return nil, models.NewPersistenceError("commit", err)
	}

	ps.logger.Info("[postgres] Saved batch: %d inserted, %d updated, %d skipped (no link: %d, no price: %d)",
		res.Inserted, res.Updated, res.Skipped, res.SkippedNoLink, res.SkippedNoPrice)
	return res, nil
}

// PurgeOlderThan deletes listings first seen more than days ago and returns
// how many rows were removed.
func (ps *PostgresStore) PurgeOlderThan(ctx context.Context, days int) (int64, error) {
	cutoff := ps.now().AddDate(0, 0, -days)

	result, err := ps.db.ExecContext(ctx, `DELETE FROM listings WHERE first_seen_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("postgres: purge: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("postgres: purge rows affected: %w", err)
	}
	if n > 0 {
		ps.logger.Info("[postgres] Purged %d listings first seen before %s", n, cutoff.Format(time.DateOnly))
	}
	return n, nil
}

// Stats computes aggregate figures over all stored listings. The average price
// strips every non-digit from price_text and only covers rows holding a digit.
func (ps *PostgresStore) Stats(ctx context.Context, topN int) (*models.Statistics, error) {
	st := &models.Statistics{}

	if err := ps.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM listings`).Scan(&st.Total); err != nil {
		return nil, fmt.Errorf("postgres: stats total: %w", err)
	}

	now := ps.now()
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	err := ps.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM listings WHERE first_seen_at >= $1`, startOfDay).Scan(&st.NewToday)
	if err != nil {
		return nil, fmt.Errorf("postgres: stats new today: %w", err)
	}

	var avg sql.NullFloat64
	err = ps.db.QueryRowContext(ctx, `
		SELECT AVG(CAST(regexp_replace(price_text, '[^0-9]', '', 'g') AS NUMERIC))
		FROM listings
		WHERE price_text ~ '[0-9]'
	`).Scan(&avg)
	if err != nil {
		return nil, fmt.Errorf("postgres: stats avg price: %w", err)
	}
	st.AvgPrice, st.HasAvgPrice = avg.Float64, avg.Valid

	rows, err := ps.db.QueryContext(ctx, `
		SELECT location, COUNT(*) AS n
		FROM listings
		WHERE location <> '' AND location <> $1
		GROUP BY location
		ORDER BY n DESC, location ASC
		LIMIT $2
	`, models.LocationNotFound, topN)
	if err != nil {
		return nil, fmt.Errorf("postgres: stats top locations: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var lc models.LocationCount
		if err := rows.Scan(&lc.Location, &lc.Count); err != nil {
			return nil, fmt.Errorf("postgres: scan location row: %w", err)
		}
		st.TopLocations = append(st.TopLocations, lc)
	}
	return st, rows.Err()
}

// FetchAll retrieves all stored listings, newest first.
func (ps *PostgresStore) FetchAll(ctx context.Context) ([]models.ListingRecord, error) {
	return ps.query(ctx, "fetch all", `
		SELECT `+listingColumns+`
		FROM listings
		ORDER BY first_seen_at DESC, external_id
	`)
}

// FetchUnnotified retrieves listings the notifier has not yet announced, oldest first.
func (ps *PostgresStore) FetchUnnotified(ctx context.Context) ([]models.ListingRecord, error) {
	return ps.query(ctx, "fetch unnotified", `
		SELECT `+listingColumns+`
		FROM listings
		WHERE message_sent = FALSE
		ORDER BY first_seen_at, external_id
	`)
}

// MarkAllNotified flags every pending listing as announced and returns how many changed.
func (ps *PostgresStore) MarkAllNotified(ctx context.Context) (int64, error) {
	result, err := ps.db.ExecContext(ctx, `UPDATE listings SET message_sent = TRUE WHERE message_sent = FALSE`)
	if err != nil {
		return 0, fmt.Errorf("postgres: mark notified: %w", err)
	}
	return result.RowsAffected()
}

func (ps *PostgresStore) query(ctx context.Context, op, q string, args ...any) ([]models.ListingRecord, error) {
	rows, err := ps.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: %s: %w", op, err)
	}
	defer rows.Close()

	var records []models.ListingRecord
	for rows.Next() {
		var r models.ListingRecord
		if err := rows.Scan(
			&r.ExternalID, &r.Title, &r.PriceText, &r.LocationText, &r.RoomsText, &r.FloorText,
			&r.Description, &r.ImageURL, &r.DetailLink, &r.ContactInfo, &r.MessageSent,
			&r.FirstSeenAt, &r.LastUpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan row: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func (ps *PostgresStore) Close() error {
	return ps.db.Close()
}
