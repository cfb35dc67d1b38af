package clock

import (
	"sync"
	"time"
)

// Fake is a manually-advanced Clock for deterministic tests.
type Fake struct {
	mu      sync.Mutex
	now     time.Time
	loc     *time.Location
	tickers []*fakeTicker
}

// NewFake returns a Fake clock starting at t (converted into loc, or UTC).
func NewFake(t time.Time, loc *time.Location) *Fake {
	if loc == nil {
		loc = time.UTC
	}
	return &Fake{now: t.In(loc), loc: loc}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) BucketKey(t time.Time, hourly bool) string {
	t = t.In(f.loc)
	if hourly {
		return t.Format("2006-01-02T15")
	}
	return t.Format("2006-01-02")
}

// Advance moves the fake clock forward and offers one tick to every ticker
// (dropped if the ticker's buffered tick is still unread). Ticker intervals
// are not tracked, so a tick is sent whatever the size of d.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	tickers := append([]*fakeTicker(nil), f.tickers...)
	f.mu.Unlock()

	for _, t := range tickers {
		select {
		case t.ch <- f.Now():
		default:
		}
	}
}

func (f *Fake) NewTicker(d time.Duration) Ticker {
	t := &fakeTicker{ch: make(chan time.Time, 1)}
	f.mu.Lock()
	f.tickers = append(f.tickers, t)
	f.mu.Unlock()
	return t
}

type fakeTicker struct {
	ch chan time.Time
}

func (t *fakeTicker) C() <-chan time.Time { return t.ch }
func (t *fakeTicker) Stop()                {}
