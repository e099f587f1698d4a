package scraper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"os/exec"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"github.com/go-rod/stealth"

	"classifieds-scraper/config"
	"classifieds-scraper/models"
	"classifieds-scraper/utils"
)

// Snapshot is a rendered page as the browser saw it.
type Snapshot struct {
	URL   string
	Title string
	DOM   string
}

// Renderer loads pages in a browser-like session.
type Renderer interface {
	// Render opens url in a fresh tab and returns the rendered DOM and title.
	Render(ctx context.Context, url string, pageIndex int) (*Snapshot, error)
	// Evade plays a short human-like interaction on the last rendered tab.
	Evade(ctx context.Context) error
	// Close releases the browser. Safe to call more than once.
	Close()
}

// Identity is one plausible browser fingerprint.
type Identity struct {
	UserAgent string
	Platform  string
	Languages []string
	Width     int64
	Height    int64
}

// AcceptLanguage renders Languages as an Accept-Language header value.
func (id Identity) AcceptLanguage() string {
	out := ""
	for i, l := range id.Languages {
		if i == 0 {
			out = l
			continue
		}
		q := 1.0 - float64(i)/10
		out += fmt.Sprintf(",%s;q=%.1f", l, q)
	}
	return out
}

var identities = []Identity{
	{
		UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36",
		Platform:  "Win32",
		Languages: []string{"he-IL", "he", "en-US", "en"},
		Width:     1920, Height: 1080,
	},
	{
		UserAgent: "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36",
		Platform:  "MacIntel",
		Languages: []string{"he-IL", "he", "en"},
		Width:     1440, Height: 900,
	},
	{
		UserAgent: "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		Platform:  "Linux x86_64",
		Languages: []string{"en-US", "en", "he"},
		Width:     1366, Height: 768,
	},
	{
		UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36 Edg/122.0.0.0",
		Platform:  "Win32",
		Languages: []string{"he", "en-US", "en"},
		Width:     1536, Height: 864,
	},
}

// navigatorOverrides hides the automation flag and fills the plugin and
// language lists headless Chrome leaves empty.
const navigatorOverrides = `(() => {
	Object.defineProperty(navigator, 'webdriver', { get: () => undefined });
	Object.defineProperty(navigator, 'languages', { get: () => %s });
	Object.defineProperty(navigator, 'plugins', { get: () => [1, 2, 3, 4, 5] });
	window.chrome = window.chrome || { runtime: {} };
})();`

// SessionConfig holds the browser session settings.
type SessionConfig struct {
	Headless          bool
	ChromeBin         string
	Referer           string
	NavigationTimeout time.Duration
	PreNavDelay       config.Range
}

// SessionConfigFrom builds a SessionConfig from the application config.
func SessionConfigFrom(cfg *config.Config) SessionConfig {
	return SessionConfig{
		Headless:          cfg.Headless,
		ChromeBin:         cfg.ChromeBin,
		Referer:           cfg.BaseURL + "/",
		NavigationTimeout: cfg.NavigationTimeout,
		PreNavDelay:       cfg.PreNavDelay,
	}
}

// Session owns one Chrome process for the lifetime of a run. The browser is
// started by the first Render and every page gets its own tab.
type Session struct {
	cfg    SessionConfig
	logger *utils.Logger
	rng    *rand.Rand
	sleep  utils.Sleeper

	browserCtx    context.Context
	cancelAlloc   context.CancelFunc
	cancelBrowser context.CancelFunc

	tabCtx    context.Context
	cancelTab context.CancelFunc
	identity  Identity
}

// NewSession creates a Session. Nothing is launched until the first Render.
func NewSession(cfg SessionConfig, logger *utils.Logger, rng *rand.Rand, sleep utils.Sleeper) *Session {
	if sleep == nil {
		sleep = utils.ContextSleep
	}
	return &Session{cfg: cfg, logger: logger, rng: rng, sleep: sleep}
}

func (s *Session) start() error {
	if s.browserCtx != nil {
		return nil
	}

	chromeBin := s.cfg.ChromeBin
	if chromeBin == "" {
		chromeBin = findChromeBinary()
	}
	s.logger.Info("[session] Launching browser (headless=%v) binary: %s", s.cfg.Headless, chromeBin)

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", s.cfg.Headless),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.Flag("lang", "he-IL"),
	)
	if chromeBin != "" {
		opts = append(opts, chromedp.ExecPath(chromeBin))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), opts...)

	// Suppress chromedp log noise
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(string, ...interface{}) {}))
	if err := chromedp.Run(browserCtx); err != nil {
		cancelBrowser()
		cancelAlloc()
		return models.NewNetworkError("launch browser", err)
	}

	s.browserCtx = browserCtx
	s.cancelAlloc = cancelAlloc
	s.cancelBrowser = cancelBrowser
	return nil
}

func (s *Session) newTab() error {
	if s.cancelTab != nil {
		s.cancelTab()
	}
	tabCtx, cancelTab := chromedp.NewContext(s.browserCtx)
	// Allocate the tab on its own context so later timeouts don't close it.
	if err := chromedp.Run(tabCtx); err != nil {
		cancelTab()
		s.tabCtx, s.cancelTab = nil, nil
		return models.NewNetworkError("open tab", err)
	}
	s.tabCtx, s.cancelTab = tabCtx, cancelTab
	return nil
}

// bound derives a context from the current tab that also ends when ctx does.
func (s *Session) bound(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	opCtx, cancel := context.WithTimeout(s.tabCtx, timeout)
	stop := context.AfterFunc(ctx, cancel)
	return opCtx, func() {
		stop()
		cancel()
	}
}

// Render navigates a fresh tab to url with a new identity, lingers like a
// person would, and captures the page.
func (s *Session) Render(ctx context.Context, url string, pageIndex int) (*Snapshot, error) {
	if err := s.start(); err != nil {
		return nil, err
	}
	if err := s.newTab(); err != nil {
		return nil, err
	}

	s.identity = identities[s.rng.IntN(len(identities))]
	delay := utils.Between(s.rng, s.cfg.PreNavDelay.Min, s.cfg.PreNavDelay.Max)
	s.logger.Debug("[session] Page %d: waiting %v before navigation (%s, %dx%d)",
		pageIndex, delay.Round(time.Millisecond), s.identity.Platform, s.identity.Width, s.identity.Height)
	if err := s.sleep(ctx, delay); err != nil {
		return nil, err
	}

	navCtx, cancel := s.bound(ctx, s.cfg.NavigationTimeout)
	defer cancel()

	langs, _ := json.Marshal(s.identity.Languages)
	headers := network.Headers{
		"Accept-Language":           s.identity.AcceptLanguage(),
		"Upgrade-Insecure-Requests": "1",
	}
	if s.cfg.Referer != "" {
		headers["Referer"] = s.cfg.Referer
	}

	err := chromedp.Run(navCtx,
		network.Enable(),
		emulation.SetDeviceMetricsOverride(s.identity.Width, s.identity.Height, 1, false),
		emulation.SetUserAgentOverride(s.identity.UserAgent).
			WithAcceptLanguage(s.identity.AcceptLanguage()).
			WithPlatform(s.identity.Platform),
		network.SetExtraHTTPHeaders(headers),
		chromedp.ActionFunc(func(ctx context.Context) error {
			if _, err := page.AddScriptToEvaluateOnNewDocument(stealth.JS).Do(ctx); err != nil {
				return err
			}
			_, err := page.AddScriptToEvaluateOnNewDocument(fmt.Sprintf(navigatorOverrides, langs)).Do(ctx)
			return err
		}),
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err != nil {
		return nil, models.CategorizeError(err, fmt.Sprintf("navigate page %d", pageIndex))
	}

	if err := s.interact(navCtx); err != nil {
		s.logger.Debug("[session] Page %d: interaction interrupted: %v", pageIndex, err)
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			return nil, models.CategorizeError(err, fmt.Sprintf("interact page %d", pageIndex))
		}
	}

	snap := &Snapshot{}
	err = chromedp.Run(navCtx,
		chromedp.Location(&snap.URL),
		chromedp.Title(&snap.Title),
		chromedp.OuterHTML("html", &snap.DOM, chromedp.ByQuery),
	)
	if err != nil {
		return nil, models.CategorizeError(err, fmt.Sprintf("capture page %d", pageIndex))
	}

	s.logger.Debug("[session] Page %d rendered: %q (%d bytes)", pageIndex, snap.Title, len(snap.DOM))
	return snap, nil
}

// interact moves the mouse a few times, scrolls part of the way down and
// clicks an empty margin.
func (s *Session) interact(ctx context.Context) error {
	moves := 2 + s.rng.IntN(3)
	for i := 0; i < moves; i++ {
		x := float64(50 + s.rng.Int64N(s.identity.Width-100))
		y := float64(50 + s.rng.Int64N(s.identity.Height-100))
		if err := chromedp.Run(ctx, chromedp.MouseEvent(input.MouseMoved, x, y)); err != nil {
			return err
		}
		if err := s.pause(ctx, 150*time.Millisecond, 600*time.Millisecond); err != nil {
			return err
		}
	}

	scrolls := 1 + s.rng.IntN(3)
	for i := 0; i < scrolls; i++ {
		dy := 200 + s.rng.IntN(500)
		if err := chromedp.Run(ctx, chromedp.Evaluate(fmt.Sprintf(`window.scrollBy(0, %d)`, dy), nil)); err != nil {
			return err
		}
		if err := s.pause(ctx, 400*time.Millisecond, 1200*time.Millisecond); err != nil {
			return err
		}
	}

	return s.inertClick(ctx)
}

// inertClick clicks the far left margin, where the layout has no controls.
func (s *Session) inertClick(ctx context.Context) error {
	x := float64(5 + s.rng.IntN(10))
	y := float64(s.identity.Height/2) + float64(s.rng.IntN(100))
	return chromedp.Run(ctx, chromedp.MouseClickXY(x, y))
}

// Evade scrolls the challenge page both ways, clicks and presses a key. The
// caller owns the long wait that follows.
func (s *Session) Evade(ctx context.Context) error {
	if s.tabCtx == nil {
		return errors.New("session: evade before render")
	}
	opCtx, cancel := s.bound(ctx, s.cfg.NavigationTimeout)
	defer cancel()

	err := chromedp.Run(opCtx,
		chromedp.Evaluate(`window.scrollBy(0, Math.floor(window.innerHeight * 0.6))`, nil),
	)
	if err == nil {
		err = s.pause(opCtx, 500*time.Millisecond, 1500*time.Millisecond)
	}
	if err == nil {
		err = chromedp.Run(opCtx, chromedp.Evaluate(`window.scrollBy(0, -Math.floor(window.innerHeight * 0.3))`, nil))
	}
	if err == nil {
		err = s.inertClick(opCtx)
	}
	if err == nil {
		err = chromedp.Run(opCtx, chromedp.KeyEvent(kb.PageDown))
	}
	if err != nil {
		return models.CategorizeError(err, "evasion interaction")
	}
	return nil
}

func (s *Session) pause(ctx context.Context, min, max time.Duration) error {
	return s.sleep(ctx, utils.Between(s.rng, min, max))
}

// Close releases the tab, the browser and the allocator.
func (s *Session) Close() {
	if s.cancelTab != nil {
		s.cancelTab()
		s.cancelTab = nil
	}
	if s.cancelBrowser != nil {
		s.cancelBrowser()
		s.cancelBrowser = nil
	}
	if s.cancelAlloc != nil {
		s.cancelAlloc()
		s.cancelAlloc = nil
	}
	if s.browserCtx != nil {
		s.logger.Info("[session] Browser closed")
		s.browserCtx = nil
	}
}

// findChromeBinary locates Chrome/Chromium binary.
func findChromeBinary() string {
	if bin := os.Getenv("CHROME_BIN"); bin != "" {
		return bin
	}

	names := []string{"google-chrome-stable", "google-chrome", "chromium", "chromium-browser"}
	for _, name := range names {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}

	paths := []string{
		"/usr/bin/google-chrome-stable",
		"/usr/bin/google-chrome",
		"/usr/bin/chromium-browser",
		"/usr/bin/chromium",
		"/snap/bin/chromium",
		"/opt/google/chrome/google-chrome",
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	return ""
}
