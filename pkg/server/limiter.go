package server

import "time"

// Limiter bounds the number of concurrently executing send tasks. Two
// independent instances exist: one for room broadcasts, one for direct
// replies. Acquire blocks when the pool is saturated, which is the
// deliberate backpressure point for chatty rooms.
type Limiter struct {
	name    string
	slots   chan struct{}
	metrics *Metrics
}

// NewLimiter creates a pool with capacity slots.
func NewLimiter(name string, capacity int, metrics *Metrics) *Limiter {
	if capacity < 1 {
		capacity = 1
	}
	return &Limiter{
		name:    name,
		slots:   make(chan struct{}, capacity),
		metrics: metrics,
	}
}

// Acquire blocks until a slot is free.
func (l *Limiter) Acquire() {
	select {
	case l.slots <- struct{}{}:
	default:
		start := time.Now()
		l.slots <- struct{}{}
		l.metrics.RecordPoolWait(l.name, time.Since(start).Seconds())
	}
}

// Release frees a slot.
func (l *Limiter) Release() {
	<-l.slots
}

// InFlight returns the number of occupied slots.
func (l *Limiter) InFlight() int {
	return len(l.slots)
}
