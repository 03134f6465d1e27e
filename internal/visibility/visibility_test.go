package visibility

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tobert/livedash/internal/render"
)

// setup builds a registry wired to a controller the way the engine does it.
func setup(t *testing.T, keys ...string) (*Controller, *render.Registry) {
	t.Helper()

	var ctrl *Controller
	reg, err := render.NewRegistry(render.NewMemorySink(), render.Options{}, render.Hooks{
		OnCreate: func(e *render.Entity) {
			if ctrl != nil {
				ctrl.Register(e.Key(), e.Title())
			}
		},
	}, false)
	require.NoError(t, err)

	ctrl, err = New(reg)
	require.NoError(t, err)

	for _, k := range keys {
		_, err := reg.CreateOrUpdate(k, k, render.KindWaveform, nil)
		require.NoError(t, err)
	}
	return ctrl, reg
}

func states(reg *render.Registry) []bool {
	out := []bool{}
	for _, k := range reg.Keys() {
		v, _ := reg.IsVisible(k)
		out = append(out, v)
	}
	return out
}

// requireMarksConsistent checks that every selector mark matches its entity.
func requireMarksConsistent(t *testing.T, ctrl *Controller, reg *render.Registry) {
	t.Helper()
	for _, o := range ctrl.Options() {
		v, ok := reg.IsVisible(o.Key)
		require.True(t, ok)
		require.Equal(t, v, o.Marked, "mark of %s", o.Key)
	}
}

func TestNewRejectsNil(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)
}

func TestNewEntitiesStartVisibleMarkedSelected(t *testing.T) {
	ctrl, reg := setup(t, "plot-a", "plot-b")

	assert.Equal(t, []bool{true, true}, states(reg))
	opts := ctrl.Options()
	require.Len(t, opts, 2)
	for _, o := range opts {
		assert.True(t, o.Marked)
		assert.True(t, o.Selected)
		assert.Equal(t, "✓ "+o.Key, o.Text())
	}
}

func TestToggle(t *testing.T) {
	ctrl, reg := setup(t, "plot-a")

	v, err := ctrl.Toggle("plot-a")
	require.NoError(t, err)
	assert.False(t, v)
	assert.Equal(t, []bool{false}, states(reg))
	assert.Equal(t, "plot-a", ctrl.Options()[0].Text())
	requireMarksConsistent(t, ctrl, reg)

	v, err = ctrl.Toggle("plot-a")
	require.NoError(t, err)
	assert.True(t, v)
	requireMarksConsistent(t, ctrl, reg)

	_, err = ctrl.Toggle("plot-missing")
	assert.ErrorIs(t, err, ErrUnknownKey)
}

func TestToggleAllHidesWhenAnyVisible(t *testing.T) {
	ctrl, reg := setup(t, "plot-a", "plot-b", "hist-c")
	_, err := ctrl.Toggle("hist-c")
	require.NoError(t, err)
	require.Equal(t, []bool{true, true, false}, states(reg))

	assert.False(t, ctrl.ToggleAll())
	assert.Equal(t, []bool{false, false, false}, states(reg))
	requireMarksConsistent(t, ctrl, reg)

	assert.True(t, ctrl.ToggleAll())
	assert.Equal(t, []bool{true, true, true}, states(reg))
	requireMarksConsistent(t, ctrl, reg)
}

func TestToggleAllSingleVisibleHidesAll(t *testing.T) {
	ctrl, reg := setup(t, "plot-a", "plot-b", "plot-c")
	require.NoError(t, ctrl.Show("plot-a", false))
	require.NoError(t, ctrl.Show("plot-b", false))

	ctrl.ToggleAll()
	assert.Equal(t, []bool{false, false, false}, states(reg), "never a partial toggle")
}

func TestToggleAllByPrefix(t *testing.T) {
	ctrl, reg := setup(t, "plot-diff-a", "plot-w", "hist-diff-a", "hist-bar-h")

	assert.False(t, ctrl.ToggleAllByPrefix(render.PrefixHist))
	assert.Equal(t, []bool{true, true, false, false}, states(reg))

	assert.True(t, ctrl.ToggleAllByPrefix(render.PrefixHist))
	assert.Equal(t, []bool{true, true, true, true}, states(reg))

	require.NoError(t, ctrl.Show("plot-w", false))
	assert.False(t, ctrl.ToggleAllByPrefix(render.PrefixPlot))
	assert.Equal(t, []bool{false, false, true, true}, states(reg))
	requireMarksConsistent(t, ctrl, reg)
}

func TestToggleSelectedIgnoresMajorityRule(t *testing.T) {
	ctrl, reg := setup(t, "plot-a", "plot-b", "plot-c")
	require.NoError(t, ctrl.Show("plot-b", false))
	require.NoError(t, ctrl.Select([]string{"plot-a", "plot-b"}))

	touched := ctrl.ToggleSelected()
	assert.Equal(t, []string{"plot-a", "plot-b"}, touched)
	assert.Equal(t, []bool{false, true, true}, states(reg), "each selected entity flips on its own")
	requireMarksConsistent(t, ctrl, reg)
}

func TestSelectRejectsUnknownKeys(t *testing.T) {
	ctrl, _ := setup(t, "plot-a", "plot-b")
	require.NoError(t, ctrl.Select([]string{"plot-a"}))

	err := ctrl.Select([]string{"plot-b", "plot-zzz"})
	assert.ErrorIs(t, err, ErrUnknownKey)

	opts := ctrl.Options()
	assert.True(t, opts[0].Selected, "failed Select leaves the selection unchanged")
	assert.False(t, opts[1].Selected)
}

func TestVisibleAndSync(t *testing.T) {
	ctrl, reg := setup(t, "plot-a", "plot-b")

	// Flip behind the controller's back, then resync.
	reg.SetVisible("plot-b", false)
	assert.Equal(t, []string{"plot-a"}, ctrl.Visible())
	ctrl.Sync()
	requireMarksConsistent(t, ctrl, reg)
}

func TestEmptyToggleAll(t *testing.T) {
	ctrl, _ := setup(t)
	assert.True(t, ctrl.ToggleAll(), "nothing visible means show")
	assert.Empty(t, ctrl.ToggleSelected())
}
