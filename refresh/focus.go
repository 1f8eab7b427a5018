package refresh

import (
	"sync"

	"go.uber.org/atomic"
)

/*
Focus broadcasts "the user is looking again" to subscribers.

The embedding application calls Notify when its window, tab or screen regains
attention; every subscribed accessor then revalidates. A disabled Focus swallows
notifications.
*/
type Focus struct {
	enabled atomic.Bool

	mu     sync.Mutex
	nextID int
	subs   map[int]func()
}

// NewFocus returns an enabled Focus with no subscribers.
func NewFocus() *Focus {
	f := &Focus{subs: make(map[int]func())}
	f.enabled.Store(true)
	return f
}

// SetEnabled turns delivery on or off.
func (f *Focus) SetEnabled(on bool) {
	f.enabled.Store(on)
}

// Enabled reports whether notifications are delivered.
func (f *Focus) Enabled() bool {
	return f.enabled.Load()
}

// Subscribe registers fn and returns a function that removes it.
func (f *Focus) Subscribe(fn func()) (unsubscribe func()) {
	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.subs[id] = fn
	f.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.subs, id)
			f.mu.Unlock()
		})
	}
}

// Len returns the number of subscribers.
func (f *Focus) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

// Notify calls every subscriber once, outside the lock, and returns how many ran.
func (f *Focus) Notify() int {
	if !f.enabled.Load() {
		return 0
	}
	f.mu.Lock()
	fns := make([]func(), 0, len(f.subs))
	for _, fn := range f.subs {
		fns = append(fns, fn)
	}
	f.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
	return len(fns)
}
