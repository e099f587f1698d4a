package storage

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"classifieds-scraper/models"
	"classifieds-scraper/utils"
)

// openIntegrationStore connects to the database named by POSTGRES_TEST_DSN and
// empties the listings table. The test is skipped when the variable is unset.
func openIntegrationStore(t *testing.T) *PostgresStore {
	t.Helper()
	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set")
	}

	ctx := context.Background()
	retry := &utils.RetryConfig{MaxAttempts: 2, BaseDelay: 100 * time.Millisecond}
	ps, err := NewPostgresStore(ctx, dsn, retry, utils.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { ps.Close() })

	_, err = ps.db.ExecContext(ctx, `TRUNCATE listings`)
	require.NoError(t, err)
	return ps
}

func TestIntegrationUpsertKeepsFirstSeen(t *testing.T) {
	ps := openIntegrationStore(t)
	ctx := context.Background()

	t0 := time.Now().Add(-time.Hour).Truncate(time.Microsecond)
	ps.now = func() time.Time { return t0 }
	_, err := ps.Save(ctx, []models.ListingRecord{rec("a", "https://x/1", "5,000₪")})
	require.NoError(t, err)

	t1 := t0.Add(30 * time.Minute)
	ps.now = func() time.Time { return t1 }
	res, err := ps.Save(ctx, []models.ListingRecord{rec("a", "https://x/1", "5,200₪")})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Inserted)
	assert.Equal(t, 1, res.Updated)

	all, err := ps.FetchAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "5,200₪", all[0].PriceText)
	assert.True(t, all[0].FirstSeenAt.Equal(t0))
	assert.True(t, all[0].LastUpdatedAt.Equal(t1))
}

func TestIntegrationPurgeAndStats(t *testing.T) {
	ps := openIntegrationStore(t)
	ctx := context.Background()
	now := time.Now()

	ps.now = func() time.Time { return now.AddDate(0, 0, -40) }
	_, err := ps.Save(ctx, []models.ListingRecord{rec("old", "https://x/old", "9,000₪")})
	require.NoError(t, err)

	ps.now = func() time.Time { return now }
	_, err = ps.Save(ctx, []models.ListingRecord{
		rec("a", "https://x/1", "5,000₪"),
		rec("b", "https://x/2", "7,000₪"),
	})
	require.NoError(t, err)

	n, err := ps.PurgeOlderThan(ctx, 30)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	st, err := ps.Stats(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, 2, st.Total)
	assert.Equal(t, 2, st.NewToday)
	assert.True(t, st.HasAvgPrice)
	assert.InDelta(t, 6000, st.AvgPrice, 0.001)

	pending, err := ps.FetchUnnotified(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	marked, err := ps.MarkAllNotified(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), marked)

	pending, err = ps.FetchUnnotified(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}
