package yad2_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"classifieds-scraper/config"
	"classifieds-scraper/models"
	"classifieds-scraper/scraper/scrapertest"
	"classifieds-scraper/scraper/yad2"
	"classifieds-scraper/utils"
)

const startURL = "https://www.yad2.co.il/realestate/rent?topArea=2"

type fakeCooldown struct {
	until   time.Time
	lookErr error
	marked  []string
	cleared []string
}

func (f *fakeCooldown) BlockedUntil(string) (time.Time, error) { return f.until, f.lookErr }
func (f *fakeCooldown) Mark(host string) error                 { f.marked = append(f.marked, host); return nil }
func (f *fakeCooldown) Clear(host string) error                { f.cleared = append(f.cleared, host); return nil }

func pageURL(t *testing.T, n int) string {
	t.Helper()
	u, err := yad2.PageURL(startURL, n)
	require.NoError(t, err)
	return u
}

// resultsPage renders n listings for page p. extra is appended to the body.
func resultsPage(p, n int, extra string) scrapertest.Response {
	var b strings.Builder
	b.WriteString(`<html><body><div data-testid="feed-list">`)
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, `<div data-testid="item-basic"><a href="/realestate/item/p%di%d">`+
			`<span data-testid="item-title">דירה %d</span><span data-testid="price">%d,000 ₪</span></a></div>`,
			p, i, i, 4+i)
	}
	b.WriteString(`</div>`)
	b.WriteString(extra)
	b.WriteString(`</body></html>`)
	return scrapertest.Response{Title: "יד2", DOM: b.String()}
}

func nextLink(p int) string {
	return fmt.Sprintf(`<a href="/realestate/rent?page=%d">הבא</a>`, p+1)
}

func newScraper(t *testing.T, r *scrapertest.Renderer, cd yad2.Cooldown, maxPages int) *yad2.Scraper {
	t.Helper()
	cfg := &config.Config{
		BaseURL:     "https://www.yad2.co.il",
		MaxPages:    maxPages,
		EvasionWait: config.Range{Min: time.Second, Max: 2 * time.Second},
	}
	opts := yad2.Options{
		Renderer: r,
		Sleeper:  utils.NoSleep,
		NewRunID: func() string { return "run-1" },
	}
	if cd != nil {
		opts.Cooldown = cd
	}
	s, err := yad2.New(cfg, utils.NewNopLogger(), opts)
	require.NoError(t, err)
	return s
}

func TestRunStopsOnEmptyPage(t *testing.T) {
	r := scrapertest.NewRenderer().
		On(pageURL(t, 1), resultsPage(1, 3, "")).
		On(pageURL(t, 2), resultsPage(2, 2, nextLink(2))).
		On(pageURL(t, 3), resultsPage(3, 0, ""))
	cd := &fakeCooldown{}

	res := newScraper(t, r, cd, 5).Run(context.Background(), startURL)

	assert.True(t, res.Success)
	assert.Empty(t, res.ErrorReason)
	assert.Equal(t, "run-1", res.RunID)
	assert.Equal(t, models.StopEmpty, res.StopReason)
	assert.Equal(t, 3, res.PagesVisited)
	assert.Equal(t, 5, res.TotalCount)
	assert.Len(t, res.Records, res.TotalCount)
	assert.Equal(t, "p1i0", res.Records[0].ExternalID)
	assert.Equal(t, "p2i1", res.Records[4].ExternalID)
	assert.Equal(t, []string{"www.yad2.co.il"}, cd.cleared)

	// page 2 is rendered twice: once for records, once for the pagination probe.
	assert.Equal(t, []string{pageURL(t, 1), pageURL(t, 2), pageURL(t, 2), pageURL(t, 3)}, r.Calls)
}

func TestRunPageCap(t *testing.T) {
	r := scrapertest.NewRenderer()
	for p := 1; p <= 6; p++ {
		r.On(pageURL(t, p), resultsPage(p, 2, nextLink(p)))
	}

	res := newScraper(t, r, nil, 5).Run(context.Background(), startURL)

	assert.True(t, res.Success)
	assert.Equal(t, models.StopPageCap, res.StopReason)
	assert.Equal(t, 5, res.PagesVisited)
	assert.Equal(t, 10, res.TotalCount)
	assert.NotContains(t, r.Calls, pageURL(t, 6))
}

func TestRunLastPageByCount(t *testing.T) {
	r := scrapertest.NewRenderer().
		On(pageURL(t, 1), resultsPage(1, 2, "")).
		On(pageURL(t, 2), resultsPage(2, 2, `<span>עמוד 2 מתוך 2</span>`+nextLink(2)))

	res := newScraper(t, r, nil, 5).Run(context.Background(), startURL)

	assert.True(t, res.Success)
	assert.Equal(t, models.StopLastPage, res.StopReason)
	assert.Equal(t, 4, res.TotalCount)
	assert.NotContains(t, r.Calls, pageURL(t, 3))
}

func TestRunAlwaysTriesSecondPage(t *testing.T) {
	// Page 1 shows no pagination at all.
	r := scrapertest.NewRenderer().
		On(pageURL(t, 1), resultsPage(1, 1, "")).
		On(pageURL(t, 2), resultsPage(2, 1, ""))

	res := newScraper(t, r, nil, 5).Run(context.Background(), startURL)

	assert.True(t, res.Success)
	assert.Equal(t, models.StopLastPage, res.StopReason)
	assert.Equal(t, 2, res.PagesVisited)
	assert.Equal(t, 2, res.TotalCount)
}

func TestRunBlockedKeepsEarlierPages(t *testing.T) {
	r := scrapertest.NewRenderer().
		On(pageURL(t, 1), resultsPage(1, 3, "")).
		On(pageURL(t, 2), resultsPage(2, 3, nextLink(2))).
		On(pageURL(t, 3), scrapertest.Response{Title: "ShieldSquare Captcha", DOM: "<html><body></body></html>"})
	cd := &fakeCooldown{}

	res := newScraper(t, r, cd, 5).Run(context.Background(), startURL)

	assert.False(t, res.Success)
	assert.Equal(t, models.StopBlocked, res.StopReason)
	assert.Contains(t, res.ErrorReason, "blocked")
	assert.Equal(t, 6, res.TotalCount)
	assert.Len(t, res.Records, 6)
	assert.Equal(t, 2, res.PagesVisited)
	assert.Equal(t, 1, r.Evasions)
	assert.Equal(t, []string{"www.yad2.co.il"}, cd.marked)
	assert.Empty(t, cd.cleared)
}

func TestRunNetworkFailure(t *testing.T) {
	r := scrapertest.NewRenderer().
		On(pageURL(t, 1), resultsPage(1, 2, "")).
		On(pageURL(t, 2), scrapertest.Response{Err: errors.New("net::ERR_CONNECTION_RESET")})
	cd := &fakeCooldown{}

	res := newScraper(t, r, cd, 5).Run(context.Background(), startURL)

	assert.False(t, res.Success)
	assert.Equal(t, models.StopNetwork, res.StopReason)
	assert.Contains(t, res.ErrorReason, "ERR_CONNECTION_RESET")
	assert.Equal(t, 2, res.TotalCount)
	assert.Empty(t, cd.marked)
}

func TestRunCooldownActive(t *testing.T) {
	r := scrapertest.NewRenderer().On(pageURL(t, 1), resultsPage(1, 2, ""))
	cd := &fakeCooldown{until: time.Now().Add(20 * time.Minute)}

	res := newScraper(t, r, cd, 5).Run(context.Background(), startURL)

	assert.False(t, res.Success)
	assert.Equal(t, models.StopCooldown, res.StopReason)
	assert.Contains(t, res.ErrorReason, "cooling down")
	assert.Zero(t, res.TotalCount)
	assert.Empty(t, r.Calls)
}

func TestRunCooldownLookupErrorIsIgnored(t *testing.T) {
	r := scrapertest.NewRenderer().On(pageURL(t, 1), resultsPage(1, 0, ""))
	cd := &fakeCooldown{lookErr: errors.New("memcache: connection refused")}

	res := newScraper(t, r, cd, 5).Run(context.Background(), startURL)

	assert.True(t, res.Success)
	assert.Equal(t, models.StopEmpty, res.StopReason)
	assert.Equal(t, 0, res.TotalCount)
}

func TestRunInvalidURL(t *testing.T) {
	r := scrapertest.NewRenderer()

	res := newScraper(t, r, nil, 5).Run(context.Background(), "not a url")

	assert.False(t, res.Success)
	assert.Equal(t, models.StopInvalid, res.StopReason)
	assert.Empty(t, r.Calls)
}

func TestRunCancelledContext(t *testing.T) {
	r := scrapertest.NewRenderer().On(pageURL(t, 1), resultsPage(1, 2, ""))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := newScraper(t, r, nil, 5).Run(ctx, startURL)

	assert.False(t, res.Success)
	assert.Equal(t, models.StopNetwork, res.StopReason)
	assert.Zero(t, res.TotalCount)
}

func TestCloseReleasesRenderer(t *testing.T) {
	r := scrapertest.NewRenderer()
	newScraper(t, r, nil, 5).Close()
	assert.Equal(t, 1, r.Closed)
}

func TestRunReleasesRendererOnEveryExit(t *testing.T) {
	t.Run("normal stop", func(t *testing.T) {
		r := scrapertest.NewRenderer().On(pageURL(t, 1), resultsPage(1, 0, ""))

		res := newScraper(t, r, nil, 5).Run(context.Background(), startURL)

		assert.True(t, res.Success)
		assert.Equal(t, 1, r.Closed)
	})

	t.Run("blocked", func(t *testing.T) {
		r := scrapertest.NewRenderer().
			On(pageURL(t, 1), scrapertest.Response{Title: "ShieldSquare Captcha", DOM: "<html><body></body></html>"})

		res := newScraper(t, r, nil, 5).Run(context.Background(), startURL)

		assert.Equal(t, models.StopBlocked, res.StopReason)
		assert.Equal(t, 1, r.Closed)
	})

	t.Run("cooldown", func(t *testing.T) {
		r := scrapertest.NewRenderer()
		cd := &fakeCooldown{until: time.Now().Add(time.Hour)}

		newScraper(t, r, cd, 5).Run(context.Background(), startURL)

		assert.Equal(t, 1, r.Closed)
	})
}

func TestRunInterPageDelay(t *testing.T) {
	r := scrapertest.NewRenderer().
		On(pageURL(t, 1), resultsPage(1, 1, "")).
		On(pageURL(t, 2), resultsPage(2, 1, ""))
	var slept []time.Duration
	cfg := &config.Config{
		BaseURL:        "https://www.yad2.co.il",
		MaxPages:       5,
		InterPageDelay: config.Range{Min: 5 * time.Second, Max: 8 * time.Second},
	}
	s, err := yad2.New(cfg, utils.NewNopLogger(), yad2.Options{
		Renderer: r,
		Sleeper: func(ctx context.Context, d time.Duration) error {
			slept = append(slept, d)
			return ctx.Err()
		},
	})
	require.NoError(t, err)

	res := s.Run(context.Background(), startURL)

	require.True(t, res.Success)
	// page 2 and its pagination re-render each wait out a full gap.
	require.Len(t, slept, 2)
	for _, d := range slept {
		assert.GreaterOrEqual(t, d, 5*time.Second)
		assert.LessOrEqual(t, d, 8*time.Second)
	}
}
