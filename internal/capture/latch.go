package capture

import "sync"

// Latch is a write-once slot: the first Set wins and every later write is
// ignored. Request-observer callbacks may fire from concurrent browser event
// goroutines, so acceptance cannot depend on their arrival order.
type Latch struct {
	mu  sync.Mutex
	val string
	set bool
}

// Set stores v if the latch is still empty and reports whether it won.
func (l *Latch) Set(v string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.set {
		return false
	}
	l.val, l.set = v, true
	return true
}

// Get returns the stored value and whether one was set.
func (l *Latch) Get() (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.val, l.set
}
