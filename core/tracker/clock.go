package tracker

import "time"

// Clock abstracts wall-clock time so tests can drive the periodic
// flush deterministically.
type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) Ticker
}

type Ticker interface {
	Chan() <-chan time.Time
	Stop()
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now().UTC() }

func (wallClock) NewTicker(d time.Duration) Ticker {
	return &wallTicker{time.NewTicker(d)}
}

type wallTicker struct {
	t *time.Ticker
}

func (w *wallTicker) Chan() <-chan time.Time { return w.t.C }

func (w *wallTicker) Stop() { w.t.Stop() }
