package utils

import (
	"context"
	"math/rand/v2"
	"time"
)

// Sleeper blocks for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// ContextSleep is the real wall-clock Sleeper.
func ContextSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// NoSleep returns immediately. Used by tests.
func NoSleep(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}

// Between returns a uniformly random duration in [min, max].
func Between(rng *rand.Rand, min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(rng.Int64N(int64(max-min)+1))
}

// Pacer sleeps a random gap in [min, max] before every page fetch except the
// first. The gap is added on top of whatever the fetch itself spent waiting.
type Pacer struct {
	min, max time.Duration
	rng      *rand.Rand
	sleep    Sleeper
	started  bool
}

// NewPacer creates a Pacer drawing gaps from [min, max].
func NewPacer(min, max time.Duration, rng *rand.Rand, sleep Sleeper) *Pacer {
	if sleep == nil {
		sleep = ContextSleep
	}
	return &Pacer{min: min, max: max, rng: rng, sleep: sleep}
}

// Wait sleeps the drawn gap and returns it.
func (p *Pacer) Wait(ctx context.Context) (time.Duration, error) {
	if !p.started {
		p.started = true
		return 0, nil
	}

	gap := Between(p.rng, p.min, p.max)
	if err := p.sleep(ctx, gap); err != nil {
		return 0, err
	}
	return gap, nil
}

// SeenSet tracks keys already observed during one run.
type SeenSet struct {
	seen map[string]struct{}
}

// NewSeenSet creates an empty SeenSet.
func NewSeenSet() *SeenSet {
	return &SeenSet{seen: make(map[string]struct{})}
}

// Add returns true if key was newly added, false if already present.
func (s *SeenSet) Add(key string) bool {
	if _, exists := s.seen[key]; exists {
		return false
	}
	s.seen[key] = struct{}{}
	return true
}

// Size returns the number of unique keys tracked.
func (s *SeenSet) Size() int {
	return len(s.seen)
}
