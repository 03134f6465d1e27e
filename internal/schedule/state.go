// Package schedule multiplexes the two refresh classes of the dashboard onto
// one shared timer.
//
// The trace class (time-series and waveform plots) and the histogram class
// each have their own rate in updates per second. The shared timer fires at a
// cadence fine enough for both; on every tick each class checks its own
// last-service time and only runs once a full period has passed.
package schedule

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// MinPeriod is the floor of the shared timer period.
const MinPeriod = 10 * time.Millisecond

// ErrInvalidRate is returned for a rate that is not a positive finite number.
var ErrInvalidRate = errors.New("rate must be a positive number of updates per second")

// Rates are the per-class refresh rates in updates per second.
type Rates struct {
	Trace float64 `json:"trace_hz"`
	Hist  float64 `json:"hist_hz"`
}

// DefaultRates: trace plots once a second, histograms ten times a second.
var DefaultRates = Rates{Trace: 1, Hist: 10}

// Validate checks both rates.
func (r Rates) Validate() error {
	if !validRate(r.Trace) {
		return fmt.Errorf("trace rate %v: %w", r.Trace, ErrInvalidRate)
	}
	if !validRate(r.Hist) {
		return fmt.Errorf("hist rate %v: %w", r.Hist, ErrInvalidRate)
	}
	return nil
}

func validRate(hz float64) bool {
	return hz > 0 && !math.IsNaN(hz) && !math.IsInf(hz, 0)
}

// Period converts a rate to a whole number of milliseconds, never less than
// one millisecond.
func Period(hz float64) time.Duration {
	ms := math.Round(1000 / hz)
	if ms < 1 {
		ms = 1
	}
	return time.Duration(ms) * time.Millisecond
}

// CombinedPeriod returns the shared timer period for r: the greatest common
// divisor of both class periods, which is the reciprocal of the least common
// multiple of the rates. Every class period is then a whole number of ticks.
// The result is floored at MinPeriod.
func CombinedPeriod(r Rates) time.Duration {
	a := Period(r.Trace).Milliseconds()
	b := Period(r.Hist).Milliseconds()
	for b != 0 {
		a, b = b, a%b
	}
	return max(time.Duration(a)*time.Millisecond, MinPeriod)
}

// Due reports which classes should be serviced.
type Due struct {
	Trace bool
	Hist  bool
}

// Any reports whether at least one class is due.
func (d Due) Any() bool {
	return d.Trace || d.Hist
}

// Mask keeps only the classes that are also set in other.
func (d Due) Mask(other Due) Due {
	return Due{Trace: d.Trace && other.Trace, Hist: d.Hist && other.Hist}
}

// State is the scheduler's bookkeeping. It is a plain value: methods return an
// updated copy and never mutate the receiver.
type State struct {
	Rates     Rates
	LastTrace time.Time
	LastHist  time.Time
}

// NewState returns a state where both classes are immediately due.
func NewState(r Rates) State {
	return State{Rates: r}
}

// Due reports which classes have gone at least one period without service.
// A class never serviced is due.
func (s State) Due(now time.Time) Due {
	return Due{
		Trace: elapsed(s.LastTrace, now, Period(s.Rates.Trace)),
		Hist:  elapsed(s.LastHist, now, Period(s.Rates.Hist)),
	}
}

func elapsed(last, now time.Time, period time.Duration) bool {
	if last.IsZero() {
		return true
	}
	return now.Sub(last) >= period
}

// Serviced records that the classes set in d ran at now.
func (s State) Serviced(now time.Time, d Due) State {
	if d.Trace {
		s.LastTrace = now
	}
	if d.Hist {
		s.LastHist = now
	}
	return s
}

// WithRates swaps the rates and keeps the service history.
func (s State) WithRates(r Rates) State {
	s.Rates = r
	return s
}
