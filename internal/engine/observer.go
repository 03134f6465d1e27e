package engine

import (
	"time"

	"github.com/tobert/livedash/internal/render"
)

// Source names where a snapshot came from.
type Source string

const (
	SourceFetch Source = "fetch"
	SourcePush  Source = "push"
)

// Failure classifies a recovered error.
type Failure string

const (
	FailureMalformed      Failure = "malformed_payload"
	FailureMissingChannel Failure = "missing_channel"
	FailureTransport      Failure = "transport"
	FailureNoTarget       Failure = "no_target"
	FailureRender         Failure = "render"
)

// Observer receives engine events for instrumentation. All methods are
// called from the event loop and must not block.
type Observer interface {
	FetchDone(d time.Duration, err error)
	SnapshotSeen(src Source, accepted bool)
	ClassServiced(class render.Class, d time.Duration)
	Recovered(f Failure)
	Rendered(kind render.Kind, err error)
	Entities(n int)
}

type nopObserver struct{}

func (nopObserver) FetchDone(time.Duration, error)            {}
func (nopObserver) SnapshotSeen(Source, bool)                 {}
func (nopObserver) ClassServiced(render.Class, time.Duration) {}
func (nopObserver) Recovered(Failure)                         {}
func (nopObserver) Rendered(render.Kind, error)               {}
func (nopObserver) Entities(int)                              {}
