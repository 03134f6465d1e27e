package schedule

import (
	"log"
	"time"
)

// Ticker is the subset of *time.Ticker the controller needs.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// TickerFactory starts a ticker with the given period.
type TickerFactory func(d time.Duration) Ticker

type stdTicker struct{ t *time.Ticker }

func (s stdTicker) C() <-chan time.Time { return s.t.C }
func (s stdTicker) Stop()               { s.t.Stop() }

// NewStdTicker wraps time.NewTicker.
func NewStdTicker(d time.Duration) Ticker {
	return stdTicker{t: time.NewTicker(d)}
}

// Controller owns the shared timer and the scheduler state. It holds at most
// one live ticker at a time. It is not safe for concurrent use; the engine's
// event loop is its only caller.
type Controller struct {
	state     State
	period    time.Duration
	ticker    Ticker
	newTicker TickerFactory
	verbose   bool
}

// NewController validates r and returns a stopped controller. A nil factory
// selects real tickers.
func NewController(r Rates, factory TickerFactory, verbose bool) (*Controller, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	if factory == nil {
		factory = NewStdTicker
	}
	return &Controller{
		state:     NewState(r),
		period:    CombinedPeriod(r),
		newTicker: factory,
		verbose:   verbose,
	}, nil
}

// Start installs the ticker if none is running.
func (c *Controller) Start() {
	if c.ticker != nil {
		return
	}
	c.ticker = c.newTicker(c.period)
	if c.verbose {
		log.Printf("🔧 Shared timer every %s (trace %.3g Hz, hist %.3g Hz)",
			c.period, c.state.Rates.Trace, c.state.Rates.Hist)
	}
}

// Stop cancels the ticker.
func (c *Controller) Stop() {
	if c.ticker != nil {
		c.ticker.Stop()
		c.ticker = nil
	}
}

// C is the channel of the current ticker, or nil when stopped. Callers must
// re-read it after Reconfigure.
func (c *Controller) C() <-chan time.Time {
	if c.ticker == nil {
		return nil
	}
	return c.ticker.C()
}

// Running reports whether a ticker is installed.
func (c *Controller) Running() bool {
	return c.ticker != nil
}

// Reconfigure applies new rates. The old ticker is stopped before the new
// one is created; service history is kept so neither class fires early or
// twice because of the swap. A stopped controller stays stopped.
func (c *Controller) Reconfigure(r Rates) error {
	if err := r.Validate(); err != nil {
		return err
	}

	running := c.ticker != nil
	c.Stop()

	c.state = c.state.WithRates(r)
	c.period = CombinedPeriod(r)
	log.Printf("🔧 Rates now trace %.3g Hz, hist %.3g Hz (timer %s)", r.Trace, r.Hist, c.period)

	if running {
		c.Start()
	}
	return nil
}

// Due reports which classes are due at now without recording service.
func (c *Controller) Due(now time.Time) Due {
	return c.state.Due(now)
}

// Serviced records that the classes in d ran at now.
func (c *Controller) Serviced(now time.Time, d Due) {
	c.state = c.state.Serviced(now, d)
}

// Tick returns the due classes and records them as serviced.
func (c *Controller) Tick(now time.Time) Due {
	d := c.state.Due(now)
	c.state = c.state.Serviced(now, d)
	return d
}

// State returns a copy of the scheduler state.
func (c *Controller) State() State {
	return c.state
}

// Rates returns the configured rates.
func (c *Controller) Rates() Rates {
	return c.state.Rates
}

// Period returns the shared timer period.
func (c *Controller) Period() time.Duration {
	return c.period
}
