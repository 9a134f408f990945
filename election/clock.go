package election

import "time"

// Clock abstracts wall time so that election timeouts and the periodic loops
// built on top of it (fault monitor, backups) can be driven by tests.
type Clock interface {
	// Now returns the current local time.
	Now() time.Time

	// Since returns the time elapsed since t.
	Since(t time.Time) time.Duration

	// After returns a channel that receives the current time once d has elapsed.
	After(d time.Duration) <-chan time.Time

	// NewTicker returns a Ticker firing every d. d must be positive.
	NewTicker(d time.Duration) Ticker

	// Sleep pauses the calling goroutine for at least d.
	Sleep(d time.Duration)
}

// Ticker wraps time.Ticker for mocking.
type Ticker interface {
	// Chan returns the channel on which ticks are delivered.
	Chan() <-chan time.Time

	// Stop turns off the ticker. The channel is not closed.
	Stop()
}

type standardClock struct{}

// NewStandardClock returns a Clock backed by the time package.
func NewStandardClock() Clock {
	return &standardClock{}
}

func (sc *standardClock) Now() time.Time                         { return time.Now() }
func (sc *standardClock) Since(t time.Time) time.Duration        { return time.Since(t) }
func (sc *standardClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
func (sc *standardClock) Sleep(d time.Duration)                  { time.Sleep(d) }

func (sc *standardClock) NewTicker(d time.Duration) Ticker {
	return &standardTicker{ticker: time.NewTicker(d)}
}

type standardTicker struct {
	ticker *time.Ticker
}

func (st *standardTicker) Chan() <-chan time.Time { return st.ticker.C }
func (st *standardTicker) Stop()                  { st.ticker.Stop() }
