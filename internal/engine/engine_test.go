package engine

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tobert/livedash/internal/render"
	"github.com/tobert/livedash/internal/schedule"
	"github.com/tobert/livedash/internal/snapshot"
)

var t0 = time.Date(2024, 4, 5, 12, 0, 0, 0, time.UTC)

// snapJSON builds a backend response with one channel per name.
func snapJSON(t *testing.T, contents map[string]string) []byte {
	t.Helper()
	out := map[string]map[string]any{}
	for name, content := range contents {
		out["('tcp://127.0.0.1:5555', '"+name+"')"] = map[string]any{
			"channel_name":    name,
			"latest_content":  content,
			"total_publishes": 1,
		}
	}
	b, err := json.Marshal(out)
	require.NoError(t, err)
	return b
}

type fakeFetcher struct {
	mu        sync.Mutex
	responses [][]byte
	errs      []error
	calls     int
}

// Fetch replays responses in order and repeats the last one.
func (f *fakeFetcher) Fetch(ctx context.Context) (*snapshot.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	if len(f.responses) == 0 {
		return nil, errors.New("no response configured")
	}
	if i >= len(f.responses) {
		i = len(f.responses) - 1
	}
	return snapshot.Decode(f.responses[i])
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

type testTicker struct {
	ch chan time.Time
}

func (t *testTicker) C() <-chan time.Time { return t.ch }
func (t *testTicker) Stop()               {}

type tickerBox struct {
	mu      sync.Mutex
	current *testTicker
	created int
}

func (b *tickerBox) factory(time.Duration) schedule.Ticker {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.current = &testTicker{ch: make(chan time.Time)}
	b.created++
	return b.current
}

func (b *tickerBox) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.created
}

func (b *tickerBox) get() *testTicker {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

type harness struct {
	t      *testing.T
	eng    *Engine
	sink   *render.MemorySink
	fetch  *fakeFetcher
	clock  *fakeClock
	ticks  *tickerBox
	ctx    context.Context
	cancel context.CancelFunc
	done   chan error
}

func newHarness(t *testing.T, cfg Config, fetch *fakeFetcher) *harness {
	t.Helper()

	h := &harness{
		t:     t,
		sink:  render.NewMemorySink(),
		fetch: fetch,
		clock: &fakeClock{now: t0},
		ticks: &tickerBox{},
		done:  make(chan error, 1),
	}
	cfg.Now = h.clock.Now
	cfg.TickerFactory = h.ticks.factory

	var fetcher Fetcher
	if fetch != nil {
		fetcher = fetch
	}
	eng, err := New(cfg, fetcher, h.sink, nil)
	require.NoError(t, err)
	h.eng = eng

	h.ctx, h.cancel = context.WithCancel(context.Background())
	go func() { h.done <- eng.Run(h.ctx) }()

	t.Cleanup(func() {
		h.cancel()
		select {
		case err := <-h.done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("engine did not stop")
		}
	})
	return h
}

// tick advances the clock and delivers one timer tick; it returns once the
// loop has taken the tick.
func (h *harness) tick(d time.Duration) {
	h.t.Helper()
	now := h.clock.advance(d)

	var tk *testTicker
	require.Eventually(h.t, func() bool {
		tk = h.ticks.get()
		return tk != nil
	}, 2*time.Second, 5*time.Millisecond)

	select {
	case tk.ch <- now:
	case <-time.After(2 * time.Second):
		h.t.Fatal("loop did not take tick")
	}
}

func (h *harness) status() Status {
	h.t.Helper()
	s, err := h.eng.Status(h.ctx)
	require.NoError(h.t, err)
	return s
}

func (h *harness) waitStats(cond func(Stats) bool) {
	h.t.Helper()
	require.Eventually(h.t, func() bool {
		return cond(h.status().Stats)
	}, 2*time.Second, 5*time.Millisecond)
}

func (h *harness) frame(key string) render.Frame {
	h.t.Helper()
	f, err := h.eng.Frame(h.ctx, key)
	require.NoError(h.t, err)
	return f
}

func TestNewRejectsNilSinkAndBadRates(t *testing.T) {
	_, err := New(Config{}, nil, nil, nil)
	assert.Error(t, err)

	_, err = New(Config{Rates: schedule.Rates{Trace: -1, Hist: 1}}, nil, render.NewMemorySink(), nil)
	assert.ErrorIs(t, err, schedule.ErrInvalidRate)
}

func TestIdenticalFetchesRenderOnce(t *testing.T) {
	body := snapJSON(t, map[string]string{
		"PERF": `{"a":100,"b":130,"c":175}`,
	})
	h := newHarness(t, Config{Stages: []string{"a", "b", "c"}}, &fakeFetcher{responses: [][]byte{body, body}})

	h.waitStats(func(s Stats) bool { return s.Accepted == 1 })
	rendersAfterFirst := h.sink.Renders()
	assert.Equal(t, 4, rendersAfterFirst, "two time series and two sample histograms")

	h.tick(100 * time.Millisecond)
	h.waitStats(func(s Stats) bool { return s.Unchanged == 1 })

	st := h.status().Stats
	assert.Equal(t, uint64(1), st.RenderPasses)
	assert.Equal(t, uint64(2), st.Fetches)
	assert.Equal(t, rendersAfterFirst, h.sink.Renders(), "identical snapshot must not render")
}

func TestBackfillScenarioEndToEnd(t *testing.T) {
	body := snapJSON(t, map[string]string{
		"PERF": `{"a":0,"b":0,"c":100,"d":0,"e":250}`,
	})
	h := newHarness(t, Config{Stages: []string{"a", "b", "c", "d", "e"}}, &fakeFetcher{responses: [][]byte{body}})
	h.waitStats(func(s Stats) bool { return s.Accepted == 1 })

	ents, err := h.eng.Entities(h.ctx, "")
	require.NoError(t, err)
	keys := make([]string, len(ents))
	for i, e := range ents {
		keys[i] = e.Key
	}
	assert.ElementsMatch(t, []string{"plot-diff-ec", "hist-diff-ec"}, keys)

	f := h.frame("plot-diff-ec")
	assert.Equal(t, "e - c", f.Title)
	require.Len(t, f.Points, 1)
	assert.Equal(t, 150.0, f.Points[0].Y)
	assert.Equal(t, float64(t0.Unix()), f.Points[0].X)

	tv, err := h.eng.Timing(h.ctx)
	require.NoError(t, err)
	require.Len(t, tv.Differences, 4)
	assert.Equal(t, "e - c", tv.Differences[3].Label)
	assert.False(t, tv.Differences[0].Valid)
}

func TestClassesSelfGate(t *testing.T) {
	a := snapJSON(t, map[string]string{"PERF": `{"a":100,"b":130,"c":175}`})
	b := snapJSON(t, map[string]string{"PERF": `{"a":200,"b":250,"c":260}`})
	h := newHarness(t, Config{Stages: []string{"a", "b", "c"}}, &fakeFetcher{responses: [][]byte{a, b}})
	h.waitStats(func(s Stats) bool { return s.Accepted == 1 })

	// B arrives 100ms later: histograms are due, trace plots are not.
	h.tick(100 * time.Millisecond)
	h.waitStats(func(s Stats) bool { return s.Accepted == 2 })

	assert.Equal(t, []float64{30, 50}, h.frame("hist-diff-ba").Values())
	assert.Equal(t, []float64{30}, h.frame("plot-diff-ba").Values(), "trace class waits for its own period")

	// A second later the trace class catches up with the pending snapshot.
	h.tick(900 * time.Millisecond)
	h.waitStats(func(s Stats) bool { return s.Unchanged == 1 })

	assert.Equal(t, []float64{30, 50}, h.frame("plot-diff-ba").Values())
	assert.Equal(t, []float64{30, 50}, h.frame("hist-diff-ba").Values(), "no new data for histograms")
	assert.Equal(t, uint64(3), h.status().Stats.RenderPasses)
}

func TestTimeSeriesWindowThroughEngine(t *testing.T) {
	var bodies [][]byte
	for i := 0; i < 40; i++ {
		bodies = append(bodies, snapJSON(t, map[string]string{
			"PERF": `{"a":1,"b":` + strconv.Itoa(2+i) + `}`,
		}))
	}
	h := newHarness(t, Config{Stages: []string{"a", "b"}, Rates: schedule.Rates{Trace: 1, Hist: 1}},
		&fakeFetcher{responses: bodies})
	h.waitStats(func(s Stats) bool { return s.Accepted == 1 })

	for i := 1; i < 40; i++ {
		h.tick(time.Second)
		want := uint64(i + 1)
		h.waitStats(func(s Stats) bool { return s.Accepted == want })
	}

	f := h.frame("plot-diff-ba")
	require.Len(t, f.Points, render.DefaultWindow)
	assert.Equal(t, 11.0, f.Points[0].Y, "oldest ten evicted")
	assert.Equal(t, 40.0, f.Points[len(f.Points)-1].Y)
	assert.Len(t, h.frame("hist-diff-ba").Points, 40, "sample histograms keep accumulating")
}

func TestWaveformsAndBarHistograms(t *testing.T) {
	body := snapJSON(t, map[string]string{
		"DATA": `{"run":1,"subRun":0,"event":5,"waveforms":[]},` +
			`{"run":7,"subRun":2,"event":99,"waveforms":[` +
			`{"amcSlotNum":4,"channel":2,"channel_id":"c2","channel_type":"calo","crateNum":1,"trace":[1,2,3]}]}`,
		"HIST": `{"energy":{"_typename":"TH1D","fName":"energy","fArray":[9,1,2,3,8],"fBarOffset":10,"fBarWidth":5}}`,
	})
	h := newHarness(t, Config{}, &fakeFetcher{responses: [][]byte{body}})
	h.waitStats(func(s Stats) bool { return s.Accepted == 1 })

	wave := h.frame("plot-AMCSlot4Channel2ChannelIDc2ChannelTypecaloCrateNum1")
	assert.Equal(t, render.KindWaveform, wave.Kind)
	assert.Equal(t, []render.Point{{X: 0, Y: 1}, {X: 1, Y: 2}, {X: 2, Y: 3}}, wave.Points)

	bar := h.frame("hist-bar-energy")
	assert.Equal(t, []render.Point{{X: 10, Y: 1}, {X: 15, Y: 2}, {X: 20, Y: 3}}, bar.Points)

	st := h.status()
	assert.Equal(t, EventHeader{Run: 7, SubRun: 2, Event: 99, Waveforms: 1}, st.Event)
	assert.False(t, st.HistogramMode)

	_, err := h.eng.Frame(h.ctx, "hist-AMCSlot4Channel2ChannelIDc2ChannelTypecaloCrateNum1SumHistogram")
	assert.Error(t, err, "sum histograms only exist in histogram mode")
}

func TestBarHistogramsIgnoreOtherTypes(t *testing.T) {
	body := snapJSON(t, map[string]string{
		"HIST": `{"energy":{"_typename":"TH1D","fName":"energy","fArray":[0,1,2,0],"fBarOffset":0,"fBarWidth":1},` +
			`"xy":{"_typename":"TH2D","fName":"xy","fArray":[0,5,0],"fBarOffset":0,"fBarWidth":1},` +
			`"meta":{"run":7}}`,
	})
	h := newHarness(t, Config{}, &fakeFetcher{responses: [][]byte{body}})
	h.waitStats(func(s Stats) bool { return s.Accepted == 1 })

	ents, err := h.eng.Entities(h.ctx, "hist-bar-")
	require.NoError(t, err)
	require.Len(t, ents, 1)
	assert.Equal(t, "hist-bar-energy", ents[0].Key)

	opts, err := h.eng.Options(h.ctx)
	require.NoError(t, err)
	assert.Len(t, opts, 1, "no selector option for skipped entries")

	for _, key := range []string{"hist-bar-xy", "hist-bar-meta"} {
		_, err := h.eng.Frame(h.ctx, key)
		assert.Error(t, err, key)
	}
}

func TestSnapshotWithBadDescriptorKeepsOtherChannels(t *testing.T) {
	body := []byte(`{
		"perf": {"channel_name": "PERF", "latest_content": "{\"a\":100,\"b\":130}"},
		"data": {"channel_name": "DATA", "total_publishes": "12", "latest_content": "{}"}
	}`)
	h := newHarness(t, Config{Stages: []string{"a", "b"}}, &fakeFetcher{responses: [][]byte{body}})
	h.waitStats(func(s Stats) bool { return s.Accepted == 1 })

	f := h.frame("plot-diff-ba")
	require.Len(t, f.Points, 1)
	assert.Equal(t, 30.0, f.Points[0].Y)
}

func TestHistogramModeBuildsSumHistograms(t *testing.T) {
	wave := func(trace string) string {
		return `{"run":7,"subRun":2,"event":99,"waveforms":[` +
			`{"amcSlotNum":4,"channel":2,"channel_id":"c2","channel_type":"calo","crateNum":1,"trace":` + trace + `}]}`
	}
	hist := `{"energy":{"_typename":"TH1D","fName":"energy","fArray":[0,1,0],"fBarOffset":0,"fBarWidth":1}}`
	a := snapJSON(t, map[string]string{"DATA": wave("[1,2,3]"), "HIST": hist})
	b := snapJSON(t, map[string]string{"DATA": wave("[4,4]"), "HIST": hist})

	h := newHarness(t, Config{HistogramMode: true}, &fakeFetcher{responses: [][]byte{a, b}})
	h.waitStats(func(s Stats) bool { return s.Accepted == 1 })

	h.tick(100 * time.Millisecond)
	h.waitStats(func(s Stats) bool { return s.Accepted == 2 })

	key := "hist-AMCSlot4Channel2ChannelIDc2ChannelTypecaloCrateNum1SumHistogram"
	assert.Equal(t, []float64{6, 8}, h.frame(key).Values(), "sums accumulate")

	_, err := h.eng.Frame(h.ctx, "hist-bar-energy")
	assert.Error(t, err, "HIST channel is ignored in histogram mode")

	require.NoError(t, h.eng.SetHistogramMode(h.ctx, false))
	h.tick(100 * time.Millisecond)
	h.waitStats(func(s Stats) bool { return s.Unchanged == 1 })

	assert.Equal(t, []render.Point{{X: 0, Y: 1}}, h.frame("hist-bar-energy").Points,
		"switching mode re-derives the histogram class")
}

func TestPushSharesUpdatePath(t *testing.T) {
	h := newHarness(t, Config{Stages: []string{"a", "b"}}, nil)

	snap, err := snapshot.Decode(snapJSON(t, map[string]string{"PERF": `{"a":1,"b":4}`}))
	require.NoError(t, err)
	require.NoError(t, h.eng.Submit(h.ctx, snap))

	dup, err := snapshot.Decode(snapJSON(t, map[string]string{"PERF": `{"a":1,"b":4}`}))
	require.NoError(t, err)
	require.NoError(t, h.eng.Submit(h.ctx, dup))

	st := h.status().Stats
	assert.Equal(t, uint64(2), st.Pushes)
	assert.Equal(t, uint64(1), st.Accepted)
	assert.Equal(t, uint64(1), st.Unchanged)
	assert.Equal(t, uint64(0), st.Fetches, "push-only engine never fetches")
	assert.Equal(t, []float64{3}, h.frame("plot-diff-ba").Values())
}

func TestEmptySnapshotIsNotAccepted(t *testing.T) {
	h := newHarness(t, Config{}, nil)

	empty, err := snapshot.Decode([]byte(`{}`))
	require.NoError(t, err)
	require.NoError(t, h.eng.Submit(h.ctx, empty))

	st := h.status()
	assert.Equal(t, uint64(0), st.Stats.Accepted)
	assert.Equal(t, uint64(0), st.Generation)
}

func TestMalformedChannelSkipsOnlyThatChannel(t *testing.T) {
	body := snapJSON(t, map[string]string{
		"PERF": `{"a":1,"b":`,
		"DATA": `{"run":1,"subRun":1,"event":1,"waveforms":[{"amcSlotNum":1,"channel":1,"channel_id":"x","channel_type":"t","crateNum":1,"trace":[5]}]}`,
	})
	h := newHarness(t, Config{Stages: []string{"a", "b"}}, &fakeFetcher{responses: [][]byte{body}})
	h.waitStats(func(s Stats) bool { return s.Accepted == 1 })

	ents, err := h.eng.Entities(h.ctx, render.PrefixPlot)
	require.NoError(t, err)
	require.Len(t, ents, 1)
	assert.Equal(t, render.KindWaveform, ents[0].Kind)

	diffs, err := h.eng.Entities(h.ctx, render.PrefixDiffPlot)
	require.NoError(t, err)
	assert.Empty(t, diffs)
}

func TestFetchErrorsAreRecovered(t *testing.T) {
	body := snapJSON(t, map[string]string{"PERF": `{"a":1,"b":2}`})
	h := newHarness(t, Config{Stages: []string{"a", "b"}}, &fakeFetcher{
		responses: [][]byte{body, body},
		errs:      []error{errors.New("connection refused")},
	})
	h.waitStats(func(s Stats) bool { return s.FetchErrors == 1 })

	h.tick(100 * time.Millisecond)
	h.waitStats(func(s Stats) bool { return s.Accepted == 1 })
	assert.Equal(t, uint64(2), h.status().Stats.Fetches)
}

func TestCommandsAfterStop(t *testing.T) {
	eng, err := New(Config{}, nil, render.NewMemorySink(), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- eng.Run(ctx) }()
	_, err = eng.Status(context.Background())
	require.NoError(t, err)

	cancel()
	require.NoError(t, <-done)

	_, err = eng.Status(context.Background())
	assert.ErrorIs(t, err, ErrStopped)
	assert.ErrorIs(t, eng.Submit(context.Background(), nil), ErrStopped)
	assert.Error(t, eng.Run(context.Background()), "Run is single-use")
}
