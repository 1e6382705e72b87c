package session

import "sync/atomic"

// Latch is a single-fire guard. The first Fire returns true, every later one
// false. Used to debounce the one-shot watchdog notifications (challenge,
// manual closure) instead of scattering guarded booleans across the gate.
type Latch struct {
	fired atomic.Bool
}

// Fire closes the latch. Returns true only for the caller that closed it.
func (l *Latch) Fire() bool {
	return l.fired.CompareAndSwap(false, true)
}

// Fired reports whether the latch has been closed.
func (l *Latch) Fired() bool {
	return l.fired.Load()
}
