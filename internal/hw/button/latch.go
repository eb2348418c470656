package button

import "sync"

// Latch hands a press from the button poller (the only writer) to the
// session state machine (the only reader). A press is kept until it is
// received, and at most one press is ever pending. While disarmed, presses
// are dropped rather than queued.
type Latch struct {
	mu    sync.Mutex
	armed bool
	ch    chan struct{}
}

// NewLatch returns a disarmed latch.
func NewLatch() *Latch {
	return &Latch{ch: make(chan struct{}, 1)}
}

// Arm discards any stale press and starts accepting new ones.
func (l *Latch) Arm() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.drain()
	l.armed = true
}

// Disarm stops accepting presses and discards a pending one.
func (l *Latch) Disarm() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.armed = false
	l.drain()
}

// Armed reports whether presses are currently accepted.
func (l *Latch) Armed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.armed
}

// Set records a press. It returns false if the latch is disarmed or a press
// is already pending.
func (l *Latch) Set() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.armed {
		return false
	}
	select {
	case l.ch <- struct{}{}:
		return true
	default:
		return false
	}
}

// Pressed returns the channel a pending press is delivered on.
func (l *Latch) Pressed() <-chan struct{} {
	return l.ch
}

func (l *Latch) drain() {
	select {
	case <-l.ch:
	default:
	}
}
