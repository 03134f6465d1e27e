package engine

import (
	"context"
	"fmt"
	"log"
	"slices"
	"strings"

	"github.com/samber/lo"

	"github.com/tobert/livedash/internal/render"
	"github.com/tobert/livedash/internal/schedule"
	"github.com/tobert/livedash/internal/snapshot"
	"github.com/tobert/livedash/internal/visibility"
)

// Every exported method below runs on the event loop and is safe to call from
// any goroutine.

// Toggle flips one entity's visibility.
func (e *Engine) Toggle(ctx context.Context, key string) (visible bool, err error) {
	if derr := e.do(ctx, func() { visible, err = e.vis.Toggle(key) }); derr != nil {
		return false, derr
	}
	return visible, err
}

// ShowEntity sets one entity's visibility.
func (e *Engine) ShowEntity(ctx context.Context, key string, visible bool) (err error) {
	if derr := e.do(ctx, func() { err = e.vis.Show(key, visible) }); derr != nil {
		return derr
	}
	return err
}

// ToggleAll applies the all-or-nothing rule to every entity.
func (e *Engine) ToggleAll(ctx context.Context) (visible bool, err error) {
	err = e.do(ctx, func() { visible = e.vis.ToggleAll() })
	return visible, err
}

// ToggleAllByPrefix applies the all-or-nothing rule to keys with prefix.
func (e *Engine) ToggleAllByPrefix(ctx context.Context, prefix string) (visible bool, err error) {
	err = e.do(ctx, func() { visible = e.vis.ToggleAllByPrefix(prefix) })
	return visible, err
}

// ToggleSelected flips the selector's selected entities.
func (e *Engine) ToggleSelected(ctx context.Context) (keys []string, err error) {
	err = e.do(ctx, func() { keys = e.vis.ToggleSelected() })
	return keys, err
}

// Select replaces the selector's selection.
func (e *Engine) Select(ctx context.Context, keys []string) (err error) {
	if derr := e.do(ctx, func() { err = e.vis.Select(keys) }); derr != nil {
		return derr
	}
	return err
}

// Options returns the selector options.
func (e *Engine) Options(ctx context.Context) (opts []visibility.Option, err error) {
	err = e.do(ctx, func() { opts = e.vis.Options() })
	return opts, err
}

// SetRates reconfigures the shared timer.
func (e *Engine) SetRates(ctx context.Context, r schedule.Rates) (err error) {
	if derr := e.do(ctx, func() { err = e.sched.Reconfigure(r) }); derr != nil {
		return derr
	}
	return err
}

// SetHistogramMode switches between sum histograms built from waveforms
// (on) and bar histograms read from the HIST channel (off). The histogram
// class is re-derived at its next service.
func (e *Engine) SetHistogramMode(ctx context.Context, on bool) error {
	return e.do(ctx, func() {
		if e.histMode == on {
			return
		}
		e.histMode = on
		if e.detector.Last() != nil {
			e.dirty.Hist = true
		}
		log.Printf("🔧 Histogram generation mode %s", onOff(on))
	})
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

// Entities lists every entity, optionally restricted to a key prefix.
func (e *Engine) Entities(ctx context.Context, prefix string) (out []EntityInfo, err error) {
	err = e.do(ctx, func() {
		ents := lo.Filter(e.registry.Entities(), func(ent *render.Entity, _ int) bool {
			return strings.HasPrefix(ent.Key(), prefix)
		})
		out = lo.Map(ents, func(ent *render.Entity, _ int) EntityInfo {
			return entityInfo(ent)
		})
	})
	return out, err
}

// Frame returns the current frame of one entity.
func (e *Engine) Frame(ctx context.Context, key string) (f render.Frame, err error) {
	if derr := e.do(ctx, func() {
		ent, ok := e.registry.Get(key)
		if !ok {
			err = fmt.Errorf("%w: %q", visibility.ErrUnknownKey, key)
			return
		}
		f = ent.Frame()
	}); derr != nil {
		return render.Frame{}, derr
	}
	return f, err
}

// Timing returns the latest timing view.
func (e *Engine) Timing(ctx context.Context) (v TimingView, err error) {
	err = e.do(ctx, func() {
		v = e.timing
		v.Stages = slices.Clone(e.timing.Stages)
		v.Differences = slices.Clone(e.timing.Differences)
	})
	return v, err
}

// Channels returns the channel descriptors of the last accepted snapshot.
func (e *Engine) Channels(ctx context.Context) (chs []snapshot.Channel, err error) {
	err = e.do(ctx, func() { chs = slices.Clone(e.channels) })
	return chs, err
}

// Status returns a summary of the engine state.
func (e *Engine) Status(ctx context.Context) (s Status, err error) {
	err = e.do(ctx, func() {
		s = Status{
			Rates:         e.sched.Rates(),
			TimerPeriod:   e.sched.Period().String(),
			HistogramMode: e.histMode,
			Generation:    e.detector.Generation(),
			Entities:      e.registry.Len(),
			Visible:       len(e.vis.Visible()),
			Fetching:      e.fetching,
			Event:         e.event,
			Stats:         e.stats,
		}
	})
	return s, err
}
