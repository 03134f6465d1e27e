package schedule

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTicker struct {
	period  time.Duration
	ch      chan time.Time
	stopped bool
}

func (f *fakeTicker) C() <-chan time.Time { return f.ch }
func (f *fakeTicker) Stop()               { f.stopped = true }

type fakeFactory struct {
	tickers []*fakeTicker
}

func (ff *fakeFactory) New(d time.Duration) Ticker {
	t := &fakeTicker{period: d, ch: make(chan time.Time, 1)}
	ff.tickers = append(ff.tickers, t)
	return t
}

func (ff *fakeFactory) live() int {
	n := 0
	for _, t := range ff.tickers {
		if !t.stopped {
			n++
		}
	}
	return n
}

func TestCombinedPeriod(t *testing.T) {
	tests := []struct {
		name  string
		rates Rates
		want  time.Duration
	}{
		{"defaults", Rates{Trace: 1, Hist: 10}, 100 * time.Millisecond},
		{"equal", Rates{Trace: 2, Hist: 2}, 500 * time.Millisecond},
		{"coprime periods", Rates{Trace: 1.0 / 3, Hist: 0.5}, time.Second},
		{"gcd of 250 and 400", Rates{Trace: 4, Hist: 2.5}, 50 * time.Millisecond},
		{"floored", Rates{Trace: 1000, Hist: 333}, MinPeriod},
		{"rounded to whole ms", Rates{Trace: 3, Hist: 3}, 333 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CombinedPeriod(tt.rates))
		})
	}
}

func TestCombinedPeriodDividesClassPeriods(t *testing.T) {
	for _, r := range []Rates{{1, 10}, {4, 2.5}, {0.2, 7}, {3, 5}} {
		p := CombinedPeriod(r)
		if p == MinPeriod {
			continue
		}
		assert.Zero(t, Period(r.Trace)%p, "%+v", r)
		assert.Zero(t, Period(r.Hist)%p, "%+v", r)
	}
}

func TestRatesValidate(t *testing.T) {
	assert.NoError(t, DefaultRates.Validate())
	for _, r := range []Rates{{0, 1}, {1, -2}, {math.NaN(), 1}, {1, math.Inf(1)}} {
		assert.ErrorIs(t, r.Validate(), ErrInvalidRate, "%+v", r)
	}
}

func TestStateIsAValue(t *testing.T) {
	t0 := time.Unix(1000, 0)
	s := NewState(DefaultRates)

	d := s.Due(t0)
	assert.Equal(t, Due{Trace: true, Hist: true}, d, "never-serviced classes are due")

	next := s.Serviced(t0, d)
	assert.True(t, s.LastTrace.IsZero(), "receiver is not mutated")
	assert.Equal(t, t0, next.LastTrace)
	assert.Equal(t, t0, next.LastHist)
}

func TestStateSelfGating(t *testing.T) {
	t0 := time.Unix(1000, 0)
	s := NewState(Rates{Trace: 1, Hist: 10}).Serviced(t0, Due{Trace: true, Hist: true})

	assert.Equal(t, Due{}, s.Due(t0.Add(50*time.Millisecond)))
	assert.Equal(t, Due{Hist: true}, s.Due(t0.Add(100*time.Millisecond)))
	assert.Equal(t, Due{Hist: true}, s.Due(t0.Add(998*time.Millisecond)))
	assert.Equal(t, Due{Hist: true}, s.Due(t0.Add(999*time.Millisecond)))
	assert.Equal(t, Due{Hist: true}, s.Due(t0.Add(time.Second-time.Microsecond)), "never early")
	assert.Equal(t, Due{Trace: true, Hist: true}, s.Due(t0.Add(time.Second)))
}

func TestStateWithRatesKeepsHistory(t *testing.T) {
	t0 := time.Unix(1000, 0)
	s := NewState(DefaultRates).Serviced(t0, Due{Trace: true})

	s2 := s.WithRates(Rates{Trace: 5, Hist: 5})
	assert.Equal(t, t0, s2.LastTrace)
	assert.Equal(t, Rates{Trace: 5, Hist: 5}, s2.Rates)
	assert.False(t, s2.Due(t0.Add(100*time.Millisecond)).Trace)
	assert.True(t, s2.Due(t0.Add(200*time.Millisecond)).Trace)
}

func TestDueMask(t *testing.T) {
	d := Due{Trace: true, Hist: true}
	assert.Equal(t, Due{Hist: true}, d.Mask(Due{Hist: true}))
	assert.False(t, Due{}.Any())
}

func TestControllerStartStop(t *testing.T) {
	ff := &fakeFactory{}
	c, err := NewController(DefaultRates, ff.New, false)
	require.NoError(t, err)

	assert.Nil(t, c.C())
	assert.False(t, c.Running())

	c.Start()
	c.Start()
	require.Len(t, ff.tickers, 1, "Start is idempotent")
	assert.Equal(t, 100*time.Millisecond, ff.tickers[0].period)
	assert.NotNil(t, c.C())

	c.Stop()
	assert.Equal(t, 0, ff.live())
	assert.Nil(t, c.C())
}

func TestControllerReconfigureNeverLeavesTwoTickers(t *testing.T) {
	ff := &fakeFactory{}
	c, err := NewController(DefaultRates, ff.New, false)
	require.NoError(t, err)
	c.Start()

	for _, r := range []Rates{{2, 4}, {1, 1}, {0.5, 20}} {
		require.NoError(t, c.Reconfigure(r))
		assert.Equal(t, 1, ff.live())
		assert.Equal(t, CombinedPeriod(r), c.Period())
		assert.Equal(t, CombinedPeriod(r), ff.tickers[len(ff.tickers)-1].period)
	}
	assert.Len(t, ff.tickers, 4)
	for _, tk := range ff.tickers[:3] {
		assert.True(t, tk.stopped)
	}
}

func TestControllerReconfigureRejectsBadRates(t *testing.T) {
	ff := &fakeFactory{}
	c, err := NewController(DefaultRates, ff.New, false)
	require.NoError(t, err)
	c.Start()

	assert.Error(t, c.Reconfigure(Rates{Trace: 0, Hist: 1}))
	assert.Equal(t, DefaultRates, c.Rates(), "rejected rates leave the old schedule")
	assert.Equal(t, 1, ff.live())
	assert.Len(t, ff.tickers, 1)
}

func TestControllerReconfigureWhileStopped(t *testing.T) {
	ff := &fakeFactory{}
	c, err := NewController(DefaultRates, ff.New, false)
	require.NoError(t, err)

	require.NoError(t, c.Reconfigure(Rates{Trace: 2, Hist: 2}))
	assert.Empty(t, ff.tickers)
	assert.False(t, c.Running())
}

func TestControllerTick(t *testing.T) {
	c, err := NewController(Rates{Trace: 1, Hist: 10}, (&fakeFactory{}).New, false)
	require.NoError(t, err)

	t0 := time.Unix(2000, 0)
	assert.Equal(t, Due{Trace: true, Hist: true}, c.Tick(t0))

	var traces, hists int
	for i := 1; i <= 20; i++ {
		d := c.Tick(t0.Add(time.Duration(i) * 100 * time.Millisecond))
		if d.Trace {
			traces++
		}
		if d.Hist {
			hists++
		}
	}
	assert.Equal(t, 2, traces)
	assert.Equal(t, 20, hists)
}

func TestControllerDueDoesNotRecord(t *testing.T) {
	c, err := NewController(DefaultRates, (&fakeFactory{}).New, false)
	require.NoError(t, err)

	t0 := time.Unix(3000, 0)
	assert.True(t, c.Due(t0).Trace)
	assert.True(t, c.Due(t0).Trace)

	c.Serviced(t0, Due{Hist: true})
	assert.Equal(t, Due{Trace: true}, c.Due(t0))
	assert.Equal(t, t0, c.State().LastHist)
}

func TestNewControllerRejectsBadRates(t *testing.T) {
	_, err := NewController(Rates{}, nil, false)
	assert.ErrorIs(t, err, ErrInvalidRate)
}
