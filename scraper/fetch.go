package scraper

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"classifieds-scraper/config"
	"classifieds-scraper/models"
	"classifieds-scraper/utils"
)

// FetchState is a step of the per-page fetch state machine.
type FetchState string

const (
	StateIdle           FetchState = "idle"
	StateNavigating     FetchState = "navigating"
	StateRendered       FetchState = "rendered"
	StateClean          FetchState = "clean"
	StateChallenged     FetchState = "challenged"
	StateEvasionAttempt FetchState = "evasion_attempt"
	StateBlocked        FetchState = "blocked"
	StateFailed         FetchState = "failed"
)

// FetchResult is the terminal outcome of one page fetch.
type FetchResult struct {
	Snapshot *Snapshot
	Verdict  Verdict
	Evaded   bool
	Trace    []FetchState
}

// Fetcher renders a page and runs the guard over it, allowing exactly one
// evasion attempt before the page is declared blocked.
type Fetcher struct {
	renderer    Renderer
	guard       *Guard
	evasionWait config.Range
	rng         *rand.Rand
	sleep       utils.Sleeper
	logger      *utils.Logger
}

// NewFetcher wires a Fetcher.
func NewFetcher(r Renderer, g *Guard, evasionWait config.Range, rng *rand.Rand, sleep utils.Sleeper, logger *utils.Logger) *Fetcher {
	if sleep == nil {
		sleep = utils.ContextSleep
	}
	return &Fetcher{renderer: r, guard: g, evasionWait: evasionWait, rng: rng, sleep: sleep, logger: logger}
}

// Fetch drives Idle → Navigating → Rendered → {Clean, Challenged}. A challenge
// leads to EvasionAttempt and one more Navigating pass; a second challenge ends
// in Blocked. Navigation failures end in Failed with a network error.
func (f *Fetcher) Fetch(ctx context.Context, url string, pageIndex int) (*FetchResult, error) {
	res := &FetchResult{}
	state := StateIdle

	for {
		res.Trace = append(res.Trace, state)

		switch state {
		case StateIdle:
			state = StateNavigating

		case StateNavigating:
			snap, err := f.renderer.Render(ctx, url, pageIndex)
			if err != nil {
				res.Trace = append(res.Trace, StateFailed)
				return res, models.CategorizeError(err, fmt.Sprintf("render page %d", pageIndex))
			}
			res.Snapshot = snap
			state = StateRendered

		case StateRendered:
			res.Verdict = f.guard.Check(res.Snapshot.Title, res.Snapshot.DOM)
			switch {
			case res.Verdict.Clean():
				state = StateClean
			case res.Evaded:
				state = StateBlocked
			default:
				state = StateChallenged
			}

		case StateChallenged:
			f.logger.Warn("[fetch] Page %d challenged: %s", pageIndex, res.Verdict)
			state = StateEvasionAttempt

		case StateEvasionAttempt:
			res.Evaded = true
			if err := f.renderer.Evade(ctx); err != nil {
				f.logger.Warn("[fetch] Page %d evasion interaction failed: %v", pageIndex, err)
			}
			wait := utils.Between(f.rng, f.evasionWait.Min, f.evasionWait.Max)
			f.logger.Info("[fetch] Page %d: waiting %v before retrying", pageIndex, wait.Round(time.Second))
			if err := f.sleep(ctx, wait); err != nil {
				res.Trace = append(res.Trace, StateFailed)
				return res, models.CategorizeError(err, "evasion wait")
			}
			state = StateNavigating

		case StateClean:
			if res.Evaded {
				f.logger.Info("[fetch] Page %d passed after evasion", pageIndex)
			}
			return res, nil

		case StateBlocked:
			return res, models.NewBlockedError(fmt.Sprintf("page %d still challenged after evasion: %s", pageIndex, res.Verdict))
		}
	}
}
