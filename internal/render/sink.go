package render

import (
	"errors"
	"sync"
)

// ErrNoTarget is returned by a Sink that has nowhere to draw an entity.
var ErrNoTarget = errors.New("no rendering target")

// Handle identifies an entity to a sink. It is assigned once by the Registry
// when the entity is created and never reused.
type Handle uint64

// Point is one buffered value. Time series use X as Unix seconds, waveforms
// use X as the sample index, bar histograms use X as the lower bin edge and
// sample histograms use X as the arrival sequence number with the sample in Y.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Frame is the full current state of one entity, handed to a sink after every
// mutation.
type Frame struct {
	Handle  Handle  `json:"-"`
	Key     string  `json:"key"`
	Title   string  `json:"title"`
	Kind    Kind    `json:"kind"`
	Visible bool    `json:"visible"`
	Points  []Point `json:"points"`
}

// Values returns the Y component of every point.
func (f Frame) Values() []float64 {
	out := make([]float64, len(f.Points))
	for i, p := range f.Points {
		out[i] = p.Y
	}
	return out
}

// Sink draws frames. Render is called with the complete buffer every time, so
// rendering the same frame twice must leave the same visual state.
type Sink interface {
	Render(f Frame) error
}

// Attacher is implemented by sinks that allocate a target when an entity is
// created. An Attach error leaves the entity without a target; subsequent
// renders are expected to fail with ErrNoTarget.
type Attacher interface {
	Attach(h Handle, key, title string, kind Kind) error
}

// MultiSink fans a frame out to several sinks. Every sink is called; the
// first error is returned.
type MultiSink []Sink

func (m MultiSink) Render(f Frame) error {
	var first error
	for _, s := range m {
		if err := s.Render(f); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m MultiSink) Attach(h Handle, key, title string, kind Kind) error {
	var first error
	for _, s := range m {
		if a, ok := s.(Attacher); ok {
			if err := a.Attach(h, key, title, kind); err != nil && first == nil {
				first = err
			}
		}
	}
	return first
}

// MemorySink keeps the last frame per key and counts renders. Keys can be
// dropped to simulate a missing target.
type MemorySink struct {
	mu      sync.Mutex
	frames  map[string]Frame
	renders int
	dropped map[string]bool
}

// NewMemorySink creates an empty MemorySink.
func NewMemorySink() *MemorySink {
	return &MemorySink{
		frames:  make(map[string]Frame),
		dropped: make(map[string]bool),
	}
}

func (m *MemorySink) Render(f Frame) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.dropped[f.Key] {
		return ErrNoTarget
	}
	f.Points = append([]Point(nil), f.Points...)
	m.frames[f.Key] = f
	m.renders++
	return nil
}

// Drop removes the target for key.
func (m *MemorySink) Drop(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropped[key] = true
	delete(m.frames, key)
}

// Frame returns the last frame rendered for key.
func (m *MemorySink) Frame(key string) (Frame, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.frames[key]
	return f, ok
}

// Renders returns the number of successful renders.
func (m *MemorySink) Renders() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.renders
}
