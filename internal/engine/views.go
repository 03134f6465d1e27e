package engine

import (
	"time"

	"github.com/tobert/livedash/internal/render"
	"github.com/tobert/livedash/internal/schedule"
	"github.com/tobert/livedash/internal/snapshot"
	"github.com/tobert/livedash/internal/timing"
)

// TimingView is the latest timing record and everything derived from it.
type TimingView struct {
	Stages      []string
	Record      snapshot.Record
	Differences []timing.Difference
	Matrix      timing.Matrix
	UpdatedAt   time.Time
}

// EventHeader identifies the event the waveform plots currently show.
type EventHeader struct {
	Run       int64 `json:"run"`
	SubRun    int64 `json:"sub_run"`
	Event     int64 `json:"event"`
	Waveforms int   `json:"waveforms"`
}

// Stats are loop counters.
type Stats struct {
	Fetches      uint64    `json:"fetches"`
	FetchErrors  uint64    `json:"fetch_errors"`
	Pushes       uint64    `json:"pushes"`
	Accepted     uint64    `json:"accepted"`
	Unchanged    uint64    `json:"unchanged"`
	RenderPasses uint64    `json:"render_passes"`
	LastAccepted time.Time `json:"last_accepted,omitzero"`
}

// Status summarises the engine for the web UI and MCP tools.
type Status struct {
	Rates         schedule.Rates `json:"rates"`
	TimerPeriod   string         `json:"timer_period"`
	HistogramMode bool           `json:"histogram_mode"`
	Generation    uint64         `json:"generation"`
	Entities      int            `json:"entities"`
	Visible       int            `json:"visible"`
	Fetching      bool           `json:"fetching"`
	Event         EventHeader    `json:"event"`
	Stats         Stats          `json:"stats"`
}

// EntityInfo describes one entity without its buffer.
type EntityInfo struct {
	Key     string      `json:"key"`
	Title   string      `json:"title"`
	Kind    render.Kind `json:"kind"`
	Class   string      `json:"class"`
	Visible bool        `json:"visible"`
	Points  int         `json:"points"`
	Updates uint64      `json:"updates"`
	Evicted uint64      `json:"evicted,omitempty"`
}

func entityInfo(ent *render.Entity) EntityInfo {
	return EntityInfo{
		Key:     ent.Key(),
		Title:   ent.Title(),
		Kind:    ent.Kind(),
		Class:   string(ent.Kind().Class()),
		Visible: ent.Visible(),
		Points:  ent.Len(),
		Updates: ent.Updates(),
		Evicted: ent.Evicted(),
	}
}
