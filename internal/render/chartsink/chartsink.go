// Package chartsink renders entity frames to SVG charts with go-chart and keeps
// the latest image per entity for the web UI.
package chartsink

import (
	"bytes"
	"fmt"
	"html"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"github.com/tobert/livedash/internal/render"
)

const (
	defaultWidth  = 640
	defaultHeight = 320
	defaultBins   = 40
)

// Options sizes the rendered charts.
type Options struct {
	Width  int
	Height int
	Bins   int // bins used to draw sample histograms
}

type target struct {
	key     string
	title   string
	kind    render.Kind
	svg     []byte
	visible bool
	renders uint64
}

// Sink is a render.Sink and render.Attacher. It is safe for concurrent use:
// the engine renders while HTTP handlers read images.
type Sink struct {
	mu      sync.RWMutex
	opts    Options
	targets map[render.Handle]*target
	byKey   map[string]render.Handle
}

// New creates an empty chart sink.
func New(opts Options) *Sink {
	if opts.Width <= 0 {
		opts.Width = defaultWidth
	}
	if opts.Height <= 0 {
		opts.Height = defaultHeight
	}
	if opts.Bins <= 0 {
		opts.Bins = defaultBins
	}
	return &Sink{
		opts:    opts,
		targets: make(map[render.Handle]*target),
		byKey:   make(map[string]render.Handle),
	}
}

// Attach allocates the chart target for a new entity.
func (s *Sink) Attach(h render.Handle, key, title string, kind render.Kind) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.targets[h] = &target{key: key, title: title, kind: kind, visible: true}
	s.byKey[key] = h
	return nil
}

// Detach removes the target for key. Later frames for it fail with
// render.ErrNoTarget.
func (s *Sink) Detach(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.byKey[key]
	if !ok {
		return false
	}
	delete(s.byKey, key)
	delete(s.targets, h)
	return true
}

// Render draws f into its target.
func (s *Sink) Render(f render.Frame) error {
	s.mu.RLock()
	_, ok := s.targets[f.Handle]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%s: %w", f.Key, render.ErrNoTarget)
	}

	svg, err := s.draw(f)
	if err != nil {
		return fmt.Errorf("draw %s: %w", f.Key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.targets[f.Handle]
	if !ok {
		// detached while drawing
		return fmt.Errorf("%s: %w", f.Key, render.ErrNoTarget)
	}
	t.svg = svg
	t.visible = f.Visible
	t.renders++
	return nil
}

// SVG returns the latest image of key.
func (s *Sink) SVG(key string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h, ok := s.byKey[key]
	if !ok {
		return nil, false
	}
	t := s.targets[h]
	if t.svg == nil {
		return nil, false
	}
	return t.svg, true
}

// Keys returns every attached key, sorted.
func (s *Sink) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.byKey))
	for k := range s.byKey {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Renders returns how many times key has been drawn.
func (s *Sink) Renders(key string) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if h, ok := s.byKey[key]; ok {
		return s.targets[h].renders
	}
	return 0
}

func (s *Sink) draw(f render.Frame) ([]byte, error) {
	if len(f.Points) == 0 {
		return placeholder(s.opts.Width, s.opts.Height, f.Title), nil
	}

	var series chart.Series
	xAxis := chart.XAxis{}
	switch f.Kind {
	case render.KindTimeSeries:
		series = timeSeries(f)
		xAxis.ValueFormatter = chart.TimeValueFormatterWithFormat("15:04:05")
	case render.KindWaveform:
		series = lineSeries(f)
		xAxis.Name = "sample"
	case render.KindBarHistogram:
		series = barSeries(f.Points)
	case render.KindSampleHistogram:
		series = barSeries(binSamples(f.Values(), s.opts.Bins))
	default:
		return nil, fmt.Errorf("unsupported kind %s", f.Kind)
	}

	ch := chart.Chart{
		Title:      f.Title,
		Width:      s.opts.Width,
		Height:     s.opts.Height,
		Background: chart.Style{Padding: chart.Box{Top: 40, Left: 16, Right: 16, Bottom: 16}},
		XAxis:      xAxis,
		YAxis:      chart.YAxis{Range: yRange(f.Kind, f.Points)},
		Series:     []chart.Series{series},
	}

	var buf bytes.Buffer
	if err := ch.Render(chart.SVG, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func lineStyle(col drawing.Color) chart.Style {
	return chart.Style{
		StrokeColor: col,
		StrokeWidth: 1.5,
	}
}

// timeSeries plots X as Unix seconds. A single point is widened to a flat
// segment since go-chart rejects a zero-width x range.
func timeSeries(f render.Frame) chart.Series {
	xs := make([]time.Time, len(f.Points))
	ys := make([]float64, len(f.Points))
	for i, p := range f.Points {
		sec, frac := math.Modf(p.X)
		xs[i] = time.Unix(int64(sec), int64(frac*1e9))
		ys[i] = p.Y
	}
	if len(xs) == 1 {
		xs = append(xs, xs[0].Add(time.Second))
		ys = append(ys, ys[0])
	}
	return chart.TimeSeries{Name: f.Title, XValues: xs, YValues: ys, Style: lineStyle(chart.ColorBlue)}
}

func lineSeries(f render.Frame) chart.Series {
	xs := make([]float64, len(f.Points))
	ys := make([]float64, len(f.Points))
	for i, p := range f.Points {
		xs[i], ys[i] = p.X, p.Y
	}
	if len(xs) == 1 {
		xs = append(xs, xs[0]+1)
		ys = append(ys, ys[0])
	}
	return chart.ContinuousSeries{Name: f.Title, XValues: xs, YValues: ys, Style: lineStyle(chart.ColorGreen)}
}

// barSeries draws bins as a filled step outline. bins[i].X is the lower edge
// of bin i; the width comes from the spacing of the first two edges.
func barSeries(bins []render.Point) chart.Series {
	width := 1.0
	if len(bins) > 1 && bins[1].X > bins[0].X {
		width = bins[1].X - bins[0].X
	}

	xs := make([]float64, 0, 2*len(bins)+2)
	ys := make([]float64, 0, 2*len(bins)+2)
	xs = append(xs, bins[0].X)
	ys = append(ys, 0)
	for _, b := range bins {
		xs = append(xs, b.X, b.X+width)
		ys = append(ys, b.Y, b.Y)
	}
	xs = append(xs, bins[len(bins)-1].X+width)
	ys = append(ys, 0)

	return chart.ContinuousSeries{
		XValues: xs,
		YValues: ys,
		Style: chart.Style{
			StrokeColor: chart.ColorBlue,
			StrokeWidth: 1,
			FillColor:   chart.ColorBlue.WithAlpha(64),
		},
	}
}

// binSamples groups raw samples into at most n equal-width bins.
func binSamples(samples []float64, n int) []render.Point {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range samples {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	n = min(n, len(samples))
	width := (hi - lo) / float64(n)
	if width == 0 {
		width = 1
		n = 1
	}

	bins := make([]render.Point, n)
	for i := range bins {
		bins[i].X = lo + float64(i)*width
	}
	for _, v := range samples {
		i := int((v - lo) / width)
		if i >= n {
			i = n - 1
		}
		bins[i].Y++
	}
	return bins
}

// yRange pads flat data so the axis range is never empty. Histograms always
// start at zero.
func yRange(kind render.Kind, pts []render.Point) chart.Range {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, p := range pts {
		lo = math.Min(lo, p.Y)
		hi = math.Max(hi, p.Y)
	}
	if kind.Class() == render.ClassHist {
		lo = math.Min(0, lo)
		if kind == render.KindSampleHistogram {
			// counts, not values
			return nil
		}
	}
	if hi-lo == 0 {
		return &chart.ContinuousRange{Min: lo - 1, Max: hi + 1}
	}
	return &chart.ContinuousRange{Min: lo, Max: hi}
}

func placeholder(w, h int, title string) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, `<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d">`, w, h)
	fmt.Fprintf(&buf, `<text x="%d" y="%d" text-anchor="middle">%s: no data</text></svg>`, w/2, h/2, html.EscapeString(title))
	return buf.Bytes()
}
