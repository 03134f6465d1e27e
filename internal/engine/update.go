package engine

import (
	"errors"
	"log"
	"time"

	"github.com/tobert/livedash/internal/render"
	"github.com/tobert/livedash/internal/schedule"
	"github.com/tobert/livedash/internal/snapshot"
	"github.com/tobert/livedash/internal/timing"
)

// sumHistogramSuffix is appended to a waveform title to name its sum histogram.
const sumHistogramSuffix = " - Sum Histogram"

// pending is one registry mutation computed ahead of time, so every derived
// value exists before the first entity is touched.
type pending struct {
	key    string
	title  string
	kind   render.Kind
	points []render.Point
}

// derive computes the registry mutations for the due classes from snap and
// refreshes the table views. It does not touch the registry.
func (e *Engine) derive(snap *snapshot.Snapshot, due schedule.Due, now time.Time) []pending {
	var batch []pending
	x := float64(now.UnixNano()) / 1e9

	if rec, ok := e.channelRecord(snap, snapshot.ChannelTiming); ok {
		diffs := timing.Differences(rec, e.cfg.Stages)
		e.timing = TimingView{
			Stages:      e.timing.Stages,
			Record:      rec,
			Differences: diffs,
			Matrix:      timing.NewMatrix(rec, e.cfg.Stages),
			UpdatedAt:   now,
		}

		for _, d := range timing.Valid(diffs) {
			if due.Trace {
				batch = append(batch, pending{
					key:    render.Key(render.PrefixDiffPlot, d.Label),
					title:  d.Label,
					kind:   render.KindTimeSeries,
					points: []render.Point{{X: x, Y: d.Value}},
				})
			}
			if due.Hist {
				batch = append(batch, pending{
					key:    render.Key(render.PrefixDiffHist, d.Label),
					title:  d.Label,
					kind:   render.KindSampleHistogram,
					points: []render.Point{{Y: d.Value}},
				})
			}
		}
	}

	if rec, ok := e.channelRecord(snap, snapshot.ChannelWaveform); ok {
		batch = append(batch, e.deriveWaveforms(rec, due)...)
	}

	if due.Hist && !e.histMode {
		if rec, ok := e.channelRecord(snap, snapshot.ChannelHistogram); ok {
			batch = append(batch, e.deriveBarHistograms(rec)...)
		}
	}

	return batch
}

func (e *Engine) deriveWaveforms(rec snapshot.Record, due schedule.Due) []pending {
	var ev snapshot.WaveformEvent
	if err := rec.Decode(&ev); err != nil {
		e.observer.Recovered(FailureMalformed)
		log.Printf("⚠️  Skipping %s channel: %v", snapshot.ChannelWaveform, err)
		return nil
	}
	e.event = EventHeader{Run: ev.Run, SubRun: ev.SubRun, Event: ev.Event, Waveforms: len(ev.Waveforms)}

	var batch []pending
	for _, w := range ev.Waveforms {
		title := w.Title()
		if due.Trace {
			pts := make([]render.Point, len(w.Trace))
			for i, v := range w.Trace {
				pts[i] = render.Point{X: float64(i), Y: v}
			}
			batch = append(batch, pending{
				key:    render.Key(render.PrefixPlot, title),
				title:  title,
				kind:   render.KindWaveform,
				points: pts,
			})
		}
		if due.Hist && e.histMode {
			histTitle := title + sumHistogramSuffix
			batch = append(batch, pending{
				key:    render.Key(render.PrefixHist, histTitle),
				title:  histTitle,
				kind:   render.KindSampleHistogram,
				points: []render.Point{{Y: w.Sum()}},
			})
		}
	}
	return batch
}

func (e *Engine) deriveBarHistograms(rec snapshot.Record) []pending {
	set, ids, err := snapshot.Histograms(rec)
	if err != nil {
		e.observer.Recovered(FailureMalformed)
		log.Printf("⚠️  Skipping %s channel: %v", snapshot.ChannelHistogram, err)
		return nil
	}

	batch := make([]pending, 0, len(ids))
	for _, id := range ids {
		h := set[id]
		name := h.Name
		if name == "" {
			name = id
		}
		edges, contents := h.Edges(), h.Contents()
		pts := make([]render.Point, len(edges))
		for i := range edges {
			pts[i] = render.Point{X: edges[i], Y: contents[i]}
		}
		batch = append(batch, pending{
			key:    render.Key(render.PrefixBarHist, name),
			title:  name,
			kind:   render.KindBarHistogram,
			points: pts,
		})
	}
	return batch
}

// channelRecord extracts the latest record of a channel. Failures are logged
// and counted; the channel is skipped for this cycle.
func (e *Engine) channelRecord(snap *snapshot.Snapshot, name string) (snapshot.Record, bool) {
	rec, err := snap.RecordFor(name)
	switch {
	case err == nil:
		return rec, true
	case errors.Is(err, snapshot.ErrChannelNotFound):
		e.observer.Recovered(FailureMissingChannel)
		if e.cfg.Verbose {
			log.Printf("📡 %v", err)
		}
	default:
		e.observer.Recovered(FailureMalformed)
		log.Printf("⚠️  Skipping %s channel: %v", name, err)
	}
	return snapshot.Record{}, false
}

// apply pushes the batch into the registry; each entity renders as it is updated.
func (e *Engine) apply(batch []pending) {
	for _, p := range batch {
		if _, err := e.registry.CreateOrUpdate(p.key, p.title, p.kind, p.points); err != nil {
			log.Printf("⚠️  Dropping update for %s: %v", p.key, err)
		}
	}
}
