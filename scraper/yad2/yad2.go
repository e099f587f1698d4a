package yad2

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net/url"
	"time"

	"github.com/google/uuid"

	"classifieds-scraper/config"
	"classifieds-scraper/models"
	"classifieds-scraper/scraper"
	"classifieds-scraper/utils"
)

// Cooldown remembers hosts that recently blocked a run.
type Cooldown interface {
	BlockedUntil(host string) (time.Time, error)
	Mark(host string) error
	Clear(host string) error
}

// Options carries the collaborators a Scraper can be given. Zero values are
// replaced with production defaults by New.
type Options struct {
	Renderer scraper.Renderer
	Sleeper  utils.Sleeper
	Rand     *rand.Rand
	Cooldown Cooldown
	NewRunID func() string
}

// Scraper walks the paginated results of one search URL.
type Scraper struct {
	cfg       *config.Config
	logger    *utils.Logger
	renderer  scraper.Renderer
	fetcher   *scraper.Fetcher
	extractor *Extractor
	pacer     *utils.Pacer
	cooldown  Cooldown
	newRunID  func() string
}

// New creates a ready-to-use Scraper. When opts.Renderer is nil a chromedp
// Session is created; either way the Scraper owns it. The Session starts
// lazily, so a Run after a previous Run launches a fresh browser.
func New(cfg *config.Config, logger *utils.Logger, opts Options) (*Scraper, error) {
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), rand.Uint64()))
	}
	if opts.Sleeper == nil {
		opts.Sleeper = utils.ContextSleep
	}
	if opts.NewRunID == nil {
		opts.NewRunID = uuid.NewString
	}
	if opts.Renderer == nil {
		opts.Renderer = scraper.NewSession(scraper.SessionConfigFrom(cfg), logger.With("component", "session"), opts.Rand, opts.Sleeper)
	}

	extractor, err := NewExtractor(cfg.BaseURL, logger.With("component", "extractor"))
	if err != nil {
		return nil, err
	}

	return &Scraper{
		cfg:       cfg,
		logger:    logger.With("component", "paginator"),
		renderer:  opts.Renderer,
		fetcher:   scraper.NewFetcher(opts.Renderer, scraper.NewGuard(), cfg.EvasionWait, opts.Rand, opts.Sleeper, logger.With("component", "fetch")),
		extractor: extractor,
		pacer:     utils.NewPacer(cfg.InterPageDelay.Min, cfg.InterPageDelay.Max, opts.Rand, opts.Sleeper),
		cooldown:  opts.Cooldown,
		newRunID:  opts.NewRunID,
	}, nil
}

// Close releases the browser session. Run already does this on return, so
// Close is only needed when a Scraper is discarded without running.
func (s *Scraper) Close() {
	s.renderer.Close()
}

// Run crawls startURL page by page until a page comes back empty, the
// pagination probe finds no next page, or the page cap is reached. A page
// that cannot be rendered or stays challenged ends the run early with
// Success=false; records gathered before it are still returned. The browser
// session is released before Run returns.
func (s *Scraper) Run(ctx context.Context, startURL string) *models.RunResult {
	defer s.renderer.Close()

	res := &models.RunResult{RunID: s.newRunID(), Success: true}
	log := s.logger.With("run_id", res.RunID)

	u, err := url.Parse(startURL)
	if err != nil || u.Host == "" {
		s.fail(res, models.NewConfigurationError(fmt.Sprintf("invalid start url %q", startURL)), "")
		return res
	}
	host := u.Host

	if s.cooldown != nil {
		until, err := s.cooldown.BlockedUntil(host)
		if err != nil {
			log.Warn("[yad2] Cooldown lookup failed, continuing: %v", err)
		} else if !until.IsZero() {
			res.Success = false
			res.StopReason = models.StopCooldown
			res.ErrorReason = fmt.Sprintf("%s blocked a previous run; cooling down until %s", host, until.Format(time.RFC3339))
			log.Warn("[yad2] %s", res.ErrorReason)
			return res
		}
	}

	log.Info("[yad2] Starting scrape: %s (max %d pages)", startURL, s.cfg.MaxPages)

	for pageIndex := 1; ; pageIndex++ {
		pageURL, err := PageURL(startURL, pageIndex)
		if err != nil {
			s.fail(res, models.NewConfigurationError(err.Error()), host)
			break
		}

		log.Info("[yad2] Scraping page %d: %s", pageIndex, pageURL)
		page, err := s.scrapePage(ctx, pageURL, pageIndex)
		if err != nil {
			s.fail(res, err, host)
			break
		}
		res.PagesVisited = pageIndex

		if len(page.Records) == 0 {
			log.Info("[yad2] Page %d returned 0 listings, stopping", pageIndex)
			res.StopReason = models.StopEmpty
			break
		}

		res.Records = append(res.Records, page.Records...)
		log.Info("[yad2] Page %d done: %d listings, %d so far", pageIndex, len(page.Records), len(res.Records))

		if pageIndex >= s.cfg.MaxPages {
			log.Info("[yad2] Reached page cap (%d), stopping", s.cfg.MaxPages)
			res.StopReason = models.StopPageCap
			break
		}

		// Page 1 pagination affordances are unreliable, so page 2 is always tried.
		if pageIndex == 1 {
			continue
		}

		next, rule, err := s.probeNext(ctx, pageURL, pageIndex)
		if err != nil {
			s.fail(res, err, host)
			break
		}
		if !next {
			log.Info("[yad2] No page after %d (decided by %s), stopping", pageIndex, rule)
			res.StopReason = models.StopLastPage
			break
		}
		log.Debug("[yad2] Page %d has a successor (decided by %s)", pageIndex, rule)
	}

	res.TotalCount = len(res.Records)
	if res.Success && s.cooldown != nil {
		if err := s.cooldown.Clear(host); err != nil {
			log.Debug("[yad2] Cooldown clear failed: %v", err)
		}
	}

	log.Info("[yad2] Scrape complete: %d listings over %d pages (stop: %s, success: %v)",
		res.TotalCount, res.PagesVisited, res.StopReason, res.Success)
	return res
}

// scrapePage waits out the inter-page gap, fetches the page through the
// guard and extracts its records.
func (s *Scraper) scrapePage(ctx context.Context, pageURL string, pageIndex int) (models.PageResult, error) {
	snap, err := s.fetch(ctx, pageURL, pageIndex)
	if err != nil {
		return models.PageResult{ErrorReason: err.Error()}, err
	}
	return models.PageResult{Records: s.extractor.Extract(snap.DOM), OK: true}, nil
}

// probeNext re-renders the current page and reads its pagination hints.
func (s *Scraper) probeNext(ctx context.Context, pageURL string, pageIndex int) (bool, string, error) {
	snap, err := s.fetch(ctx, pageURL, pageIndex)
	if err != nil {
		return false, "", err
	}
	next, rule := HasNextPage(Hints(snap.DOM, pageIndex), pageIndex)
	return next, rule, nil
}

func (s *Scraper) fetch(ctx context.Context, pageURL string, pageIndex int) (*scraper.Snapshot, error) {
	if waited, err := s.pacer.Wait(ctx); err != nil {
		return nil, models.CategorizeError(err, "inter-page delay")
	} else if waited > 0 {
		s.logger.Debug("[yad2] Waited %v before page %d", waited.Round(time.Millisecond), pageIndex)
	}

	out, err := s.fetcher.Fetch(ctx, pageURL, pageIndex)
	if err != nil {
		return nil, err
	}
	return out.Snapshot, nil
}

// fail records a failure on the run result, keeping the records gathered so
// far. Blocked runs start a cooldown for the host.
func (s *Scraper) fail(res *models.RunResult, err error, host string) {
	res.Success = false
	res.ErrorReason = err.Error()

	switch {
	case models.IsKind(err, models.KindBlocked):
		res.StopReason = models.StopBlocked
		if s.cooldown != nil && host != "" {
			if cerr := s.cooldown.Mark(host); cerr != nil {
				s.logger.Warn("[yad2] Could not record cooldown for %s: %v", host, cerr)
			}
		}
	case models.IsKind(err, models.KindConfiguration):
		res.StopReason = models.StopInvalid
	default:
		res.StopReason = models.StopNetwork
	}
	s.logger.Error("[yad2] Stopping early, keeping %d listings: %s", len(res.Records), res.ErrorReason)
}
