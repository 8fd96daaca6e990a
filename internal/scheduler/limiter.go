package scheduler

import "sync"

// Limiter bounds how many batch jobs run at once. There is no blocking
// acquire: callers either reject or stay queued.
type Limiter struct {
	mu       sync.Mutex
	max      int
	inFlight int
}

func NewLimiter(max int) *Limiter {
	if max < 1 {
		max = 1
	}
	return &Limiter{max: max}
}

// TryAcquire takes a slot if one is free.
func (l *Limiter) TryAcquire() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.inFlight >= l.max {
		return false
	}
	l.inFlight++
	return true
}

// Release frees a slot. Extra releases are ignored.
func (l *Limiter) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.inFlight > 0 {
		l.inFlight--
	}
}

func (l *Limiter) InFlight() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inFlight
}

func (l *Limiter) Max() int { return l.max }
