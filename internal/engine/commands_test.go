package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tobert/livedash/internal/render"
	"github.com/tobert/livedash/internal/schedule"
	"github.com/tobert/livedash/internal/visibility"
)

func perfHarness(t *testing.T) *harness {
	t.Helper()
	body := snapJSON(t, map[string]string{
		"PERF": `{"a":100,"b":130,"c":175}`,
		"DATA": `{"run":1,"subRun":0,"event":3,"waveforms":[{"amcSlotNum":1,"channel":0,"channel_id":"x","channel_type":"t","crateNum":2,"trace":[1,1]}]}`,
	})
	h := newHarness(t, Config{Stages: []string{"a", "b", "c"}}, &fakeFetcher{responses: [][]byte{body}})
	h.waitStats(func(s Stats) bool { return s.Accepted == 1 })
	return h
}

func TestToggleCommands(t *testing.T) {
	h := perfHarness(t)

	visible, err := h.eng.Toggle(h.ctx, "plot-diff-ba")
	require.NoError(t, err)
	assert.False(t, visible)
	assert.False(t, h.frame("plot-diff-ba").Visible)

	_, err = h.eng.Toggle(h.ctx, "nope")
	assert.ErrorIs(t, err, visibility.ErrUnknownKey)

	// One of two diff plots is visible, so the group hides.
	visible, err = h.eng.ToggleAllByPrefix(h.ctx, render.PrefixDiffPlot)
	require.NoError(t, err)
	assert.False(t, visible)
	assert.False(t, h.frame("plot-diff-cb").Visible)
	assert.True(t, h.frame("hist-diff-cb").Visible, "other prefixes untouched")

	visible, err = h.eng.ToggleAll(h.ctx)
	require.NoError(t, err)
	assert.False(t, visible)
	assert.Equal(t, 0, h.status().Visible)

	visible, err = h.eng.ToggleAll(h.ctx)
	require.NoError(t, err)
	assert.True(t, visible)
	assert.Equal(t, 5, h.status().Visible)

	require.NoError(t, h.eng.ShowEntity(h.ctx, "hist-diff-ba", false))
	ents, err := h.eng.Entities(h.ctx, render.PrefixDiffHist)
	require.NoError(t, err)
	require.Len(t, ents, 2)
	assert.False(t, ents[0].Visible)
	assert.Equal(t, "hist", ents[0].Class)
}

func TestSelectorCommands(t *testing.T) {
	h := perfHarness(t)

	opts, err := h.eng.Options(h.ctx)
	require.NoError(t, err)
	assert.Len(t, opts, 5)

	assert.Error(t, h.eng.Select(h.ctx, []string{"plot-diff-ba", "missing"}))
	require.NoError(t, h.eng.Select(h.ctx, []string{"plot-diff-ba", "hist-diff-ba"}))

	keys, err := h.eng.ToggleSelected(h.ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"plot-diff-ba", "hist-diff-ba"}, keys)
	assert.False(t, h.frame("plot-diff-ba").Visible)
	assert.True(t, h.frame("plot-diff-cb").Visible)
}

func TestSetRatesCommand(t *testing.T) {
	h := perfHarness(t)

	require.NoError(t, h.eng.SetRates(h.ctx, schedule.Rates{Trace: 4, Hist: 2.5}))
	st := h.status()
	assert.Equal(t, schedule.Rates{Trace: 4, Hist: 2.5}, st.Rates)
	assert.Equal(t, (50 * time.Millisecond).String(), st.TimerPeriod)
	assert.Equal(t, 2, h.ticks.count())

	err := h.eng.SetRates(h.ctx, schedule.Rates{Trace: 0, Hist: 1})
	assert.ErrorIs(t, err, schedule.ErrInvalidRate)
	assert.Equal(t, schedule.Rates{Trace: 4, Hist: 2.5}, h.status().Rates, "rejected rates leave the timer alone")
}

func TestQueryCommands(t *testing.T) {
	h := perfHarness(t)

	chs, err := h.eng.Channels(h.ctx)
	require.NoError(t, err)
	assert.Len(t, chs, 2)

	tv, err := h.eng.Timing(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, tv.Stages)
	require.Len(t, tv.Differences, 2)
	assert.Equal(t, 45.0, tv.Differences[1].Value)
	assert.Equal(t, t0, tv.UpdatedAt)

	st := h.status()
	assert.Equal(t, EventHeader{Run: 1, Event: 3, Waveforms: 1}, st.Event)
	assert.Equal(t, uint64(1), st.Generation)
	assert.Equal(t, 5, st.Entities)
	assert.Equal(t, "100ms", st.TimerPeriod)

	_, err = h.eng.Frame(h.ctx, "missing")
	assert.ErrorIs(t, err, visibility.ErrUnknownKey)
}
