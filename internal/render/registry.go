// Package render owns the dashboard's render entities: one buffered plot or
// histogram per key, each pushed to a Sink after every mutation.
//
// A Registry is not safe for concurrent use. It is owned by the engine's
// event loop and every call must come from that goroutine.
package render

import (
	"errors"
	"fmt"
	"log"
	"slices"
	"strings"

	"github.com/samber/lo"

	"github.com/tobert/livedash/internal/storage"
)

// DefaultWindow is the number of points a time-series plot keeps.
const DefaultWindow = 30

// DefaultSampleLimit caps how many observations one sample histogram retains.
const DefaultSampleLimit = 50000

var (
	// ErrKindMismatch is returned when a key is updated with a different kind
	// than it was created with.
	ErrKindMismatch = errors.New("entity kind mismatch")
	// ErrEmptyKey is returned for an empty entity key.
	ErrEmptyKey = errors.New("entity key is empty")
)

// Options tunes buffer retention.
type Options struct {
	Window      int // points kept per time series
	SampleLimit int // observations kept per sample histogram
}

func (o Options) withDefaults() Options {
	if o.Window <= 0 {
		o.Window = DefaultWindow
	}
	if o.SampleLimit <= 0 {
		o.SampleLimit = DefaultSampleLimit
	}
	return o
}

// Hooks are optional callbacks fired from inside Registry calls.
type Hooks struct {
	// OnCreate runs once per new entity, before its first render.
	OnCreate func(e *Entity)
	// OnRender runs after every sink call with the sink's result.
	OnRender func(e *Entity, err error)
}

// Entity is one plot or histogram. It is created on first sight of its key,
// mutated in place and never removed.
type Entity struct {
	key     string
	title   string
	kind    Kind
	handle  Handle
	visible bool
	updates uint64

	window *storage.RingBuffer[Point] // appending kinds
	points []Point                    // replacing kinds
}

func (e *Entity) Key() string     { return e.key }
func (e *Entity) Title() string   { return e.title }
func (e *Entity) Kind() Kind      { return e.kind }
func (e *Entity) Handle() Handle  { return e.handle }
func (e *Entity) Visible() bool   { return e.visible }
func (e *Entity) Updates() uint64 { return e.updates }

// Points returns a copy of the current buffer, oldest first.
func (e *Entity) Points() []Point {
	if e.window != nil {
		return e.window.GetAll()
	}
	return slices.Clone(e.points)
}

// Len returns the number of buffered points.
func (e *Entity) Len() int {
	if e.window != nil {
		return e.window.Size()
	}
	return len(e.points)
}

// Evicted returns how many points fell out of the buffer's retention window.
func (e *Entity) Evicted() uint64 {
	if e.window != nil {
		return e.window.Evicted()
	}
	return 0
}

// Frame snapshots the entity for a sink.
func (e *Entity) Frame() Frame {
	return Frame{
		Handle:  e.handle,
		Key:     e.key,
		Title:   e.title,
		Kind:    e.kind,
		Visible: e.visible,
		Points:  e.Points(),
	}
}

func (e *Entity) apply(points []Point) {
	if e.kind.Replaces() {
		e.points = slices.Clone(points)
		return
	}
	if e.kind == KindSampleHistogram {
		// X carries the arrival sequence so samples stay distinguishable
		// after eviction.
		seq := e.window.Total()
		for _, p := range points {
			e.window.Add(Point{X: float64(seq), Y: p.Y})
			seq++
		}
		return
	}
	e.window.AddAll(points)
}

// Registry maps keys to entities and renders them.
type Registry struct {
	sink     Sink
	opts     Options
	hooks    Hooks
	entities map[string]*Entity
	order    []string // creation order
	next     Handle
	verbose  bool
}

// NewRegistry creates a registry rendering into sink.
func NewRegistry(sink Sink, opts Options, hooks Hooks, verbose bool) (*Registry, error) {
	if sink == nil {
		return nil, fmt.Errorf("sink cannot be nil")
	}
	return &Registry{
		sink:     sink,
		opts:     opts.withDefaults(),
		hooks:    hooks,
		entities: make(map[string]*Entity),
		verbose:  verbose,
	}, nil
}

// Options returns the effective retention settings.
func (r *Registry) Options() Options {
	return r.opts
}

// CreateOrUpdate creates the entity for key on first sight, applies points
// according to its kind and renders the full buffer.
//
// A failed render is logged and reported through Hooks.OnRender; the entity
// keeps the new data either way. The returned error only reports invalid
// input.
func (r *Registry) CreateOrUpdate(key, title string, kind Kind, points []Point) (*Entity, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}

	e, ok := r.entities[key]
	if !ok {
		e = r.create(key, title, kind)
	} else if e.kind != kind {
		return e, fmt.Errorf("%w: %q is %s, update is %s", ErrKindMismatch, key, e.kind, kind)
	}

	e.apply(points)
	e.updates++
	r.render(e)
	return e, nil
}

func (r *Registry) create(key, title string, kind Kind) *Entity {
	r.next++
	e := &Entity{
		key:     key,
		title:   title,
		kind:    kind,
		handle:  r.next,
		visible: true,
	}
	switch kind {
	case KindTimeSeries:
		e.window = storage.NewRingBuffer[Point](r.opts.Window)
	case KindSampleHistogram:
		e.window = storage.NewRingBuffer[Point](r.opts.SampleLimit)
	}

	r.entities[key] = e
	r.order = append(r.order, key)

	if a, ok := r.sink.(Attacher); ok {
		if err := a.Attach(e.handle, key, title, kind); err != nil {
			log.Printf("⚠️  No rendering target for %s: %v", key, err)
		}
	}
	if r.hooks.OnCreate != nil {
		r.hooks.OnCreate(e)
	}
	if r.verbose {
		log.Printf("🔧 New %s entity %s (%q)", kind, key, title)
	}
	return e
}

func (r *Registry) render(e *Entity) {
	err := r.sink.Render(e.Frame())
	if err != nil {
		if errors.Is(err, ErrNoTarget) {
			log.Printf("⚠️  Skipping render of %s: %v", e.key, err)
		} else {
			log.Printf("⚠️  Render of %s failed: %v", e.key, err)
		}
	}
	if r.hooks.OnRender != nil {
		r.hooks.OnRender(e, err)
	}
}

// Get returns the entity for key.
func (r *Registry) Get(key string) (*Entity, bool) {
	e, ok := r.entities[key]
	return e, ok
}

// Len returns the number of entities.
func (r *Registry) Len() int {
	return len(r.entities)
}

// Keys returns every key in creation order.
func (r *Registry) Keys() []string {
	return slices.Clone(r.order)
}

// KeysWithPrefix returns the keys starting with prefix, in creation order.
func (r *Registry) KeysWithPrefix(prefix string) []string {
	return lo.Filter(r.order, func(k string, _ int) bool {
		return strings.HasPrefix(k, prefix)
	})
}

// Entities returns every entity in creation order.
func (r *Registry) Entities() []*Entity {
	return lo.Map(r.order, func(k string, _ int) *Entity {
		return r.entities[k]
	})
}

// IsVisible reports the visibility flag of key and whether key exists.
func (r *Registry) IsVisible(key string) (visible, ok bool) {
	e, ok := r.entities[key]
	if !ok {
		return false, false
	}
	return e.visible, true
}

// SetVisible sets the visibility flag of key and re-renders it if the flag
// changed. Unknown keys are ignored and reported false.
func (r *Registry) SetVisible(key string, visible bool) bool {
	e, ok := r.entities[key]
	if !ok {
		return false
	}
	if e.visible != visible {
		e.visible = visible
		r.render(e)
	}
	return true
}
