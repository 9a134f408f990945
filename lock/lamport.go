package lock

import (
	"sync"

	"github.com/jathurchan/ridecore/types"
)

// LamportClock implements LogicalClock with a mutex-guarded counter.
type LamportClock struct {
	mu   sync.Mutex
	time types.Timestamp
}

// NewLamportClock returns a clock starting at zero.
func NewLamportClock() *LamportClock {
	return &LamportClock{}
}

// Tick increments and returns the clock.
func (c *LamportClock) Tick() types.Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.time++
	return c.time
}

// Update sets time = max(time, received) + 1 and returns it.
func (c *LamportClock) Update(received types.Timestamp) types.Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.time = max(c.time, received) + 1
	return c.time
}

// Peek returns the current time.
func (c *LamportClock) Peek() types.Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.time
}
