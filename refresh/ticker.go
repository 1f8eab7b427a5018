// Package refresh triggers revalidation of cached data: on a schedule (Ticker) or when
// the consuming surface regains attention (Focus).
package refresh

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

/*
Ticker calls a function every interval until stopped.

The function runs on the ticker's goroutine, so a slow run delays the next one instead
of overlapping with it.
*/
type Ticker struct {
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewTicker starts calling fn every interval on clock. interval must be positive.
func NewTicker(clock clockwork.Clock, interval time.Duration, fn func()) *Ticker {
	t := &Ticker{
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go t.run(clock.NewTicker(interval), fn)
	return t
}

func (t *Ticker) run(ticker clockwork.Ticker, fn func()) {
	defer close(t.done)
	defer ticker.Stop()

	for {
		select {
		case <-t.stop:
			return
		case <-ticker.Chan():
			fn()
		}
	}
}

// Stop halts the ticker and waits for a running fn to return. Safe to call twice.
func (t *Ticker) Stop() {
	t.stopOnce.Do(func() { close(t.stop) })
	<-t.done
}
