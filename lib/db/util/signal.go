package util

import "sync"

// ----------------------------------------------------------------------------
// Signal
// ----------------------------------------------------------------------------

// Signal is a broadcast wake-up primitive. Waiters obtain the current channel
// with Wait and block on it; Notify closes that channel, waking every waiter,
// and installs a fresh one for later waiters.
//
// A waiter must call Wait before checking the condition it waits for,
// otherwise a Notify between the check and the call is lost.
//
// Thread-safety: All methods are safe for concurrent use.
type Signal struct {
	mu sync.Mutex
	ch chan struct{}
}

// NewSignal creates a new signal.
func NewSignal() *Signal {
	return &Signal{ch: make(chan struct{})}
}

// Wait returns a channel that is closed on the next Notify.
func (s *Signal) Wait() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ch
}

// Notify wakes all current waiters.
func (s *Signal) Notify() {
	s.mu.Lock()
	defer s.mu.Unlock()
	close(s.ch)
	s.ch = make(chan struct{})
}
