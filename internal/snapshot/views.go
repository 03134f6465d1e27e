package snapshot

import (
	"fmt"
	"sort"

	"github.com/segmentio/encoding/json"
)

// Channel names published by the backend.
const (
	ChannelTiming    = "PERF"
	ChannelWaveform  = "DATA"
	ChannelHistogram = "HIST"
)

// WaveformEvent is the record shape of the waveform channel.
type WaveformEvent struct {
	Run       int64      `json:"run"`
	SubRun    int64      `json:"subRun"`
	Event     int64      `json:"event"`
	Waveforms []Waveform `json:"waveforms"`
}

// Waveform is one digitizer channel capture. The identifying metadata is
// published with inconsistent types, so it is kept loosely typed and only
// ever formatted.
type Waveform struct {
	AMCSlotNum  any       `json:"amcSlotNum"`
	Channel     any       `json:"channel"`
	ChannelID   any       `json:"channel_id"`
	ChannelType any       `json:"channel_type"`
	CrateNum    any       `json:"crateNum"`
	Trace       []float64 `json:"trace"`
}

// Title is the human-readable identity of the waveform's channel.
func (w Waveform) Title() string {
	return fmt.Sprintf("AMC Slot: %v, Channel: %v, Channel ID: %v, Channel Type: %v, Crate Num: %v",
		w.AMCSlotNum, w.Channel, w.ChannelID, w.ChannelType, w.CrateNum)
}

// Sum returns the integral of the trace amplitudes.
func (w Waveform) Sum() float64 {
	var total float64
	for _, v := range w.Trace {
		total += v
	}
	return total
}

// TypeTH1D is the only histogram type the dashboard draws.
const TypeTH1D = "TH1D"

// BarHistogram is a publisher-aggregated 1D histogram. Array holds one
// leading underflow bin and one trailing overflow bin around the contents.
type BarHistogram struct {
	TypeName  string    `json:"_typename"`
	Name      string    `json:"fName"`
	Array     []float64 `json:"fArray"`
	BarOffset float64   `json:"fBarOffset"`
	BarWidth  float64   `json:"fBarWidth"`
}

// NumBins returns the number of displayable bins.
func (h BarHistogram) NumBins() int {
	if len(h.Array) < 2 {
		return 0
	}
	return len(h.Array) - 2
}

// Edges reconstructs the displayed bin positions as BarOffset + i*BarWidth.
func (h BarHistogram) Edges() []float64 {
	n := h.NumBins()
	edges := make([]float64, n)
	for i := 0; i < n; i++ {
		edges[i] = h.BarOffset + float64(i)*h.BarWidth
	}
	return edges
}

// Contents returns the bin contents without underflow and overflow.
func (h BarHistogram) Contents() []float64 {
	n := h.NumBins()
	out := make([]float64, n)
	copy(out, h.Array[1:1+n])
	return out
}

// HistogramSet is the record shape of the histogram channel: histogram id to
// descriptor.
type HistogramSet map[string]BarHistogram

// Histograms decodes a histogram-channel record. Only TH1D entries are
// kept; other histogram types and non-histogram objects are skipped. The ids
// come back sorted.
func Histograms(rec Record) (HistogramSet, []string, error) {
	var entries map[string]json.RawMessage
	if err := rec.Decode(&entries); err != nil {
		return nil, nil, err
	}

	set := make(HistogramSet, len(entries))
	ids := make([]string, 0, len(entries))
	for id, raw := range entries {
		var h BarHistogram
		if err := json.Unmarshal(raw, &h); err != nil || h.TypeName != TypeTH1D {
			continue
		}
		set[id] = h
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return set, ids, nil
}
