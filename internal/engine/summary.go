package engine

import (
	"context"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/tobert/livedash/internal/render"
	"github.com/tobert/livedash/internal/snapshot"
	"github.com/tobert/livedash/internal/storage"
	"github.com/tobert/livedash/internal/timing"
	"github.com/tobert/livedash/internal/viz"
)

// EntitySummary is an entity with statistics over its buffered values.
type EntitySummary struct {
	EntityInfo
	Stats       storage.SampleStats `json:"stats"`
	Percentiles map[string]float64  `json:"percentiles,omitempty"`
}

// Summaries describes every entity with prefix, including statistics.
func (e *Engine) Summaries(ctx context.Context, prefix string) (out []EntitySummary, err error) {
	err = e.do(ctx, func() {
		for _, key := range e.registry.KeysWithPrefix(prefix) {
			ent, _ := e.registry.Get(key)
			out = append(out, summarize(ent))
		}
	})
	return out, err
}

func summarize(ent *render.Entity) EntitySummary {
	s := EntitySummary{EntityInfo: entityInfo(ent)}
	pts := ent.Points()

	switch ent.Kind() {
	case render.KindBarHistogram:
		edges := lo.Map(pts, func(p render.Point, _ int) float64 { return p.X })
		contents := lo.Map(pts, func(p render.Point, _ int) float64 { return p.Y })
		width := 1.0
		if len(edges) > 1 {
			width = edges[1] - edges[0]
		}
		s.Stats = storage.ComputeSampleStats(contents)
		s.Percentiles = storage.ComputeBinPercentiles(edges, width, contents)
	case render.KindWaveform:
		s.Stats = storage.ComputeSampleStats(ent.Frame().Values())
	default:
		values := ent.Frame().Values()
		s.Stats = storage.ComputeSampleStats(values)
		s.Percentiles = storage.ComputeSamplePercentiles(values)
	}
	return s
}

// TimingFields lays out a timing record for the timing table: identity
// fields first, then stages.
func TimingFields(v TimingView) []viz.TimingField {
	if v.Record.IsZero() {
		return nil
	}
	field := func(name string, stage bool) viz.TimingField {
		val, ok := v.Record.Number(name)
		return viz.TimingField{Name: name, Value: val, Present: ok, Stage: stage}
	}

	out := make([]viz.TimingField, 0, len(timing.IdentityFields)+len(v.Stages))
	for _, name := range timing.IdentityFields {
		out = append(out, field(name, false))
	}
	for _, name := range v.Stages {
		out = append(out, field(name, true))
	}
	return out
}

// MatrixCells converts a difference matrix for rendering.
func MatrixCells(m timing.Matrix) [][]viz.MatrixCell {
	return lo.Map(m.Cells, func(row []timing.Cell, _ int) []viz.MatrixCell {
		return lo.Map(row, func(c timing.Cell, _ int) viz.MatrixCell {
			return viz.MatrixCell{
				Blank: c.State == timing.CellRedundant,
				NA:    c.State == timing.CellUnavailable,
				Value: c.Value,
			}
		})
	})
}

// ChannelRows converts channel descriptors for the channel table.
func ChannelRows(chs []snapshot.Channel) []viz.ChannelRow {
	return lo.Map(chs, func(ch snapshot.Channel, _ int) viz.ChannelRow {
		return viz.ChannelRow{
			Address:         ch.Address,
			Name:            ch.Name,
			TotalPublishes:  ch.TotalPublishes,
			TotalDataSize:   ch.TotalDataSize,
			AverageDataSize: ch.AverageDataSize,
			RatePublishes:   ch.RatePublishes,
			RateData:        ch.RateData,
			StartTime:       ch.StartTime,
			LastReceiveTime: ch.LastReceiveTime,
		}
	})
}

// LoopStats converts a status for the loop overview.
func LoopStats(s Status) viz.LoopStats {
	return viz.LoopStats{
		Fetches:      s.Stats.Fetches,
		FetchErrors:  s.Stats.FetchErrors,
		Pushes:       s.Stats.Pushes,
		Accepted:     s.Stats.Accepted,
		Unchanged:    s.Stats.Unchanged,
		RenderPasses: s.Stats.RenderPasses,
		Entities:     s.Entities,
		Visible:      s.Visible,
		TimerPeriod:  s.TimerPeriod,
	}
}

// EntityStats converts summaries for the entity summary.
func EntityStats(sums []EntitySummary) []viz.EntityStats {
	return lo.Map(sums, func(s EntitySummary, _ int) viz.EntityStats {
		return viz.EntityStats{
			Key:         s.Key,
			Visible:     s.Visible,
			Points:      s.Points,
			Evicted:     s.Evicted,
			Percentiles: s.Percentiles,
		}
	})
}

// Report renders every text table in one block, in the order the dashboard
// shows them.
func (e *Engine) Report(ctx context.Context, loc *time.Location) (string, error) {
	st, err := e.Status(ctx)
	if err != nil {
		return "", err
	}
	tv, err := e.Timing(ctx)
	if err != nil {
		return "", err
	}
	chs, err := e.Channels(ctx)
	if err != nil {
		return "", err
	}
	sums, err := e.Summaries(ctx, "")
	if err != nil {
		return "", err
	}

	parts := []string{
		viz.LoopOverview(LoopStats(st)),
		viz.ChannelTable(ChannelRows(chs), loc),
		viz.TimingTable(TimingFields(tv), loc),
		viz.DifferenceMatrix(tv.Matrix.Stages, MatrixCells(tv.Matrix)),
		viz.EntitySummary(EntityStats(sums), 0),
	}
	return strings.Join(lo.Compact(parts), "\n"), nil
}
