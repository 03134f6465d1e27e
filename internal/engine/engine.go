// Package engine runs the dashboard's update loop.
//
// One goroutine owns every piece of mutable state: the last accepted
// snapshot, the render registry, visibility and the scheduler. Timer ticks,
// fetch results, pushed snapshots and commands are all multiplexed onto that
// goroutine, so a callback always runs to completion before the next one
// starts and nothing here needs a lock. Fetches run on their own goroutine;
// their result re-enters the loop as an event.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/tobert/livedash/internal/render"
	"github.com/tobert/livedash/internal/schedule"
	"github.com/tobert/livedash/internal/snapshot"
	"github.com/tobert/livedash/internal/timing"
	"github.com/tobert/livedash/internal/visibility"
)

// ErrStopped is returned by commands issued after Run has returned.
var ErrStopped = errors.New("engine stopped")

const defaultFetchTimeout = 5 * time.Second

// Fetcher retrieves the current snapshot from the backend.
type Fetcher interface {
	Fetch(ctx context.Context) (*snapshot.Snapshot, error)
}

// Config holds the engine settings.
type Config struct {
	Stages        []string
	Rates         schedule.Rates
	Window        int
	SampleLimit   int
	HistogramMode bool // derive sum histograms from waveforms instead of reading HIST
	FetchTimeout  time.Duration
	Verbose       bool

	// Test seams. Nil selects the real implementation.
	TickerFactory schedule.TickerFactory
	Now           func() time.Time
}

func (c Config) withDefaults() Config {
	if len(c.Stages) == 0 {
		c.Stages = timing.DefaultStages
	}
	if c.Rates == (schedule.Rates{}) {
		c.Rates = schedule.DefaultRates
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = defaultFetchTimeout
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

type fetchResult struct {
	snap    *snapshot.Snapshot
	err     error
	elapsed time.Duration
}

// Engine is the event loop. Create it with New and start it with Run.
type Engine struct {
	cfg      Config
	fetcher  Fetcher
	observer Observer

	registry *render.Registry
	vis      *visibility.Controller
	sched    *schedule.Controller
	detector snapshot.Detector

	histMode bool
	dirty    schedule.Due
	fetching bool

	timing   TimingView
	event    EventHeader
	channels []snapshot.Channel
	stats    Stats

	fetched chan fetchResult
	pushed  chan *snapshot.Snapshot
	cmds    chan func()
	started chan struct{}
	stopped chan struct{}
}

// New wires the engine. fetcher may be nil for push-only operation.
func New(cfg Config, fetcher Fetcher, sink render.Sink, observer Observer) (*Engine, error) {
	if sink == nil {
		return nil, fmt.Errorf("sink cannot be nil")
	}
	if observer == nil {
		observer = nopObserver{}
	}
	cfg = cfg.withDefaults()

	e := &Engine{
		cfg:      cfg,
		fetcher:  fetcher,
		observer: observer,
		histMode: cfg.HistogramMode,
		fetched:  make(chan fetchResult, 1),
		pushed:   make(chan *snapshot.Snapshot),
		cmds:     make(chan func()),
		started:  make(chan struct{}),
		stopped:  make(chan struct{}),
	}

	reg, err := render.NewRegistry(sink, render.Options{
		Window:      cfg.Window,
		SampleLimit: cfg.SampleLimit,
	}, render.Hooks{
		OnCreate: e.entityCreated,
		OnRender: e.entityRendered,
	}, cfg.Verbose)
	if err != nil {
		return nil, err
	}
	e.registry = reg

	if e.vis, err = visibility.New(reg); err != nil {
		return nil, err
	}
	if e.sched, err = schedule.NewController(cfg.Rates, cfg.TickerFactory, cfg.Verbose); err != nil {
		return nil, fmt.Errorf("invalid rates: %w", err)
	}

	e.timing.Stages = append([]string(nil), cfg.Stages...)
	return e, nil
}

func (e *Engine) entityCreated(ent *render.Entity) {
	// vis is nil only while New is still wiring
	if e.vis != nil {
		e.vis.Register(ent.Key(), ent.Title())
	}
	e.observer.Entities(e.registry.Len())
}

func (e *Engine) entityRendered(ent *render.Entity, err error) {
	switch {
	case err == nil:
	case errors.Is(err, render.ErrNoTarget):
		e.observer.Recovered(FailureNoTarget)
	default:
		e.observer.Recovered(FailureRender)
	}
	e.observer.Rendered(ent.Kind(), err)
}

// Run executes the loop until ctx is cancelled. It starts the shared timer,
// fetches once immediately and returns nil on cancellation.
func (e *Engine) Run(ctx context.Context) error {
	select {
	case <-e.started:
		return fmt.Errorf("engine already running")
	default:
	}
	close(e.started)
	defer close(e.stopped)

	e.sched.Start()
	defer e.sched.Stop()

	if e.cfg.Verbose {
		log.Printf("📡 Engine running: timer %s, stages %v", e.sched.Period(), e.cfg.Stages)
	}

	e.startFetch(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-e.sched.C():
			e.onTick(ctx, now)
		case r := <-e.fetched:
			e.onFetched(r)
		case s := <-e.pushed:
			e.onSnapshot(s, SourcePush)
		case fn := <-e.cmds:
			fn()
		}
	}
}

func (e *Engine) onTick(ctx context.Context, now time.Time) {
	e.startFetch(ctx)
	e.service(now)
}

// startFetch launches one fetch unless one is already in flight.
func (e *Engine) startFetch(ctx context.Context) {
	if e.fetcher == nil || e.fetching {
		return
	}
	e.fetching = true
	e.stats.Fetches++

	go func() {
		fctx, cancel := context.WithTimeout(ctx, e.cfg.FetchTimeout)
		defer cancel()

		start := time.Now()
		snap, err := e.fetcher.Fetch(fctx)
		// fetched has room for exactly one result and only one fetch is in flight
		e.fetched <- fetchResult{snap: snap, err: err, elapsed: time.Since(start)}
	}()
}

func (e *Engine) onFetched(r fetchResult) {
	e.fetching = false
	e.observer.FetchDone(r.elapsed, r.err)

	if r.err != nil {
		e.stats.FetchErrors++
		e.observer.Recovered(FailureTransport)
		log.Printf("⚠️  Fetch failed: %v", r.err)
		return
	}
	e.onSnapshot(r.snap, SourceFetch)
}

// onSnapshot is the single entry point for fetched and pushed data.
func (e *Engine) onSnapshot(s *snapshot.Snapshot, src Source) {
	if src == SourcePush {
		e.stats.Pushes++
	}
	for _, err := range s.Skipped() {
		e.observer.Recovered(FailureMalformed)
		log.Printf("⚠️  Skipping channel in %s snapshot: %v", src, err)
	}
	if s == nil || s.Len() == 0 {
		e.observer.SnapshotSeen(src, false)
		if e.cfg.Verbose {
			log.Printf("📡 No data in %s snapshot", src)
		}
		return
	}

	if !e.detector.Observe(s) {
		e.stats.Unchanged++
		e.observer.SnapshotSeen(src, false)
		return
	}

	e.stats.Accepted++
	e.stats.LastAccepted = e.cfg.Now()
	e.observer.SnapshotSeen(src, true)
	e.channels = s.Channels()

	e.dirty = schedule.Due{Trace: true, Hist: true}
	e.service(e.cfg.Now())
}

// service runs every class that is both due and has unseen data.
func (e *Engine) service(now time.Time) {
	due := e.sched.Due(now).Mask(e.dirty)
	if !due.Any() {
		return
	}

	snap := e.detector.Last()
	start := time.Now()
	batch := e.derive(snap, due, now)
	e.apply(batch)

	e.sched.Serviced(now, due)
	if due.Trace {
		e.dirty.Trace = false
		e.observer.ClassServiced(render.ClassTrace, time.Since(start))
	}
	if due.Hist {
		e.dirty.Hist = false
		e.observer.ClassServiced(render.ClassHist, time.Since(start))
	}
	e.stats.RenderPasses++
}

// Submit hands a pushed snapshot to the loop. It blocks until the loop takes
// it, ctx is done or the engine stops.
func (e *Engine) Submit(ctx context.Context, s *snapshot.Snapshot) error {
	select {
	case e.pushed <- s:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-e.stopped:
		return ErrStopped
	}
}

// do runs fn on the loop and waits for it to finish.
func (e *Engine) do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	wrapped := func() {
		defer close(done)
		fn()
	}

	select {
	case e.cmds <- wrapped:
	case <-ctx.Done():
		return ctx.Err()
	case <-e.stopped:
		return ErrStopped
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
