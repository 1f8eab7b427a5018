package offline

import "go.uber.org/atomic"

// Connectivity tells the repository whether to try the remote at all.
type Connectivity interface {
	Online() bool
}

// Switch is a Connectivity flipped by the host application, for example from an OS
// network-change callback.
type Switch struct {
	online atomic.Bool
}

// NewSwitch returns a Switch in the given state.
func NewSwitch(online bool) *Switch {
	s := &Switch{}
	s.online.Store(online)
	return s
}

// Set changes the state.
func (s *Switch) Set(online bool) {
	s.online.Store(online)
}

// Online reports the current state.
func (s *Switch) Online() bool {
	return s.online.Load()
}

type alwaysOnline struct{}

func (alwaysOnline) Online() bool { return true }
