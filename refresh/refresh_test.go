package refresh

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

func TestTickerRunsEveryInterval(t *testing.T) {
	clock := clockwork.NewFakeClock()
	var runs atomic.Int32

	tk := NewTicker(clock, 30*time.Second, func() { runs.Inc() })
	defer tk.Stop()

	clock.BlockUntil(1)
	for i := 1; i <= 3; i++ {
		clock.Advance(30 * time.Second)
		want := int32(i)
		require.Eventually(t, func() bool { return runs.Load() == want }, time.Second, time.Millisecond)
	}
}

func TestTickerStop(t *testing.T) {
	clock := clockwork.NewFakeClock()
	var runs atomic.Int32

	tk := NewTicker(clock, time.Second, func() { runs.Inc() })
	clock.BlockUntil(1)
	tk.Stop()
	tk.Stop()

	clock.Advance(5 * time.Second)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, int32(0), runs.Load())
}

func TestFocusNotify(t *testing.T) {
	f := NewFocus()
	var a, b atomic.Int32

	unsubA := f.Subscribe(func() { a.Inc() })
	f.Subscribe(func() { b.Inc() })
	assert.Equal(t, 2, f.Notify())

	unsubA()
	unsubA()
	assert.Equal(t, 1, f.Len())
	assert.Equal(t, 1, f.Notify())

	assert.Equal(t, int32(1), a.Load())
	assert.Equal(t, int32(2), b.Load())
}

func TestFocusDisabled(t *testing.T) {
	f := NewFocus()
	var runs atomic.Int32
	f.Subscribe(func() { runs.Inc() })

	f.SetEnabled(false)
	assert.False(t, f.Enabled())
	assert.Equal(t, 0, f.Notify())

	f.SetEnabled(true)
	assert.Equal(t, 1, f.Notify())
	assert.Equal(t, int32(1), runs.Load())
}

func TestFocusSubscriberMayUnsubscribeDuringNotify(t *testing.T) {
	f := NewFocus()
	var unsub func()
	unsub = f.Subscribe(func() { unsub() })

	assert.Equal(t, 1, f.Notify())
	assert.Equal(t, 0, f.Len())
}
