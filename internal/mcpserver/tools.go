package mcpserver

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/samber/lo"

	"github.com/tobert/livedash/internal/engine"
	"github.com/tobert/livedash/internal/render"
	"github.com/tobert/livedash/internal/visibility"
	"github.com/tobert/livedash/internal/viz"
)

// ═══════════════════════════════════════════════════════════════════════════
// DASHBOARD TOOLS
//
// 1. get_status - update loop health, rates and the current event
// 2. list_entities - every plot and histogram with summary statistics
// 3. get_entity - the buffered points of one entity
// 4. get_timing - latest timing record, stage differences and the matrix
// 5. toggle_visibility - flip one entity, a prefix group, everything or the selection
// 6. select_entities - replace the selector's selection
// 7. set_rates - retune the trace and histogram refresh rates
// 8. set_histogram_mode - switch between waveform sums and HIST bar histograms
//
// Everything goes through the engine's loop, so tools see the same state the
// web UI does and never race a render pass.
// ═══════════════════════════════════════════════════════════════════════════

// Tool 1: get_status

type GetStatusInput struct{}

type GetStatusOutput struct {
	TraceHz       float64            `json:"trace_hz" jsonschema:"Refresh rate of trace plots (Hz)"`
	HistHz        float64            `json:"hist_hz" jsonschema:"Refresh rate of histograms (Hz)"`
	TimerPeriod   string             `json:"timer_period" jsonschema:"Period of the shared update timer"`
	HistogramMode bool               `json:"histogram_mode" jsonschema:"True when histograms are summed from DATA waveforms"`
	Generation    uint64             `json:"generation" jsonschema:"Number of distinct snapshots accepted"`
	Entities      int                `json:"entities" jsonschema:"Number of plots and histograms"`
	Visible       int                `json:"visible" jsonschema:"Number of visible entities"`
	Fetches       uint64             `json:"fetches" jsonschema:"Backend fetches completed"`
	FetchErrors   uint64             `json:"fetch_errors" jsonschema:"Backend fetches that failed"`
	Pushes        uint64             `json:"pushes" jsonschema:"Snapshots received by push"`
	Accepted      uint64             `json:"accepted" jsonschema:"Snapshots that differed from the previous one"`
	Unchanged     uint64             `json:"unchanged" jsonschema:"Snapshots identical to the previous one"`
	RenderPasses  uint64             `json:"render_passes" jsonschema:"Update passes that rendered entities"`
	LastAccepted  string             `json:"last_accepted,omitempty" jsonschema:"Time of the last accepted snapshot (RFC3339)"`
	Event         engine.EventHeader `json:"event" jsonschema:"Run, sub-run and event the waveforms show"`
	Overview      string             `json:"overview" jsonschema:"Human-readable summary"`
}

func (s *Server) handleGetStatus(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input GetStatusInput,
) (*mcp.CallToolResult, GetStatusOutput, error) {
	st, err := s.engine.Status(ctx)
	if err != nil {
		return nil, GetStatusOutput{}, fmt.Errorf("failed to read status: %w", err)
	}
	return &mcp.CallToolResult{}, statusOutput(st), nil
}

func statusOutput(st engine.Status) GetStatusOutput {
	out := GetStatusOutput{
		TraceHz:       st.Rates.Trace,
		HistHz:        st.Rates.Hist,
		TimerPeriod:   st.TimerPeriod,
		HistogramMode: st.HistogramMode,
		Generation:    st.Generation,
		Entities:      st.Entities,
		Visible:       st.Visible,
		Fetches:       st.Stats.Fetches,
		FetchErrors:   st.Stats.FetchErrors,
		Pushes:        st.Stats.Pushes,
		Accepted:      st.Stats.Accepted,
		Unchanged:     st.Stats.Unchanged,
		RenderPasses:  st.Stats.RenderPasses,
		Event:         st.Event,
		Overview:      viz.LoopOverview(engine.LoopStats(st)),
	}
	if !st.Stats.LastAccepted.IsZero() {
		out.LastAccepted = st.Stats.LastAccepted.Format(time.RFC3339Nano)
	}
	return out
}

// Tool 2: list_entities

type ListEntitiesInput struct {
	Prefix string `json:"prefix,omitempty" jsonschema:"Only entities whose key starts with this (e.g. plot-diff-, hist-bar-)"`
}

type EntitySummary struct {
	Key         string             `json:"key" jsonschema:"Entity key"`
	Title       string             `json:"title" jsonschema:"Display title"`
	Kind        string             `json:"kind" jsonschema:"timeseries, waveform, sample-histogram or bar-histogram"`
	Class       string             `json:"class" jsonschema:"Refresh class (trace or hist)"`
	Visible     bool               `json:"visible" jsonschema:"Whether the entity is shown"`
	Points      int                `json:"points" jsonschema:"Buffered points"`
	Updates     uint64             `json:"updates" jsonschema:"Mutations applied"`
	Evicted     uint64             `json:"evicted,omitempty" jsonschema:"Points dropped by the retention limit"`
	Count       int                `json:"count" jsonschema:"Samples or bins summarised"`
	Min         float64            `json:"min" jsonschema:"Smallest value"`
	Max         float64            `json:"max" jsonschema:"Largest value"`
	Mean        float64            `json:"mean" jsonschema:"Mean value"`
	Percentiles map[string]float64 `json:"percentiles,omitempty" jsonschema:"p50/p95/p99 where meaningful"`
}

type ListEntitiesOutput struct {
	Entities []EntitySummary `json:"entities" jsonschema:"Matching entities in key order"`
	Count    int             `json:"count" jsonschema:"Number of matching entities"`
}

func (s *Server) handleListEntities(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input ListEntitiesInput,
) (*mcp.CallToolResult, ListEntitiesOutput, error) {
	sums, err := s.engine.Summaries(ctx, input.Prefix)
	if err != nil {
		return nil, ListEntitiesOutput{}, fmt.Errorf("failed to list entities: %w", err)
	}

	out := ListEntitiesOutput{
		Entities: lo.Map(sums, func(es engine.EntitySummary, _ int) EntitySummary {
			return EntitySummary{
				Key:         es.Key,
				Title:       es.Title,
				Kind:        es.Kind.String(),
				Class:       es.Class,
				Visible:     es.Visible,
				Points:      es.Points,
				Updates:     es.Updates,
				Evicted:     es.Evicted,
				Count:       es.Stats.Count,
				Min:         es.Stats.Min,
				Max:         es.Stats.Max,
				Mean:        es.Stats.Mean,
				Percentiles: es.Percentiles,
			}
		}),
		Count: len(sums),
	}
	if out.Entities == nil {
		out.Entities = []EntitySummary{}
	}
	return &mcp.CallToolResult{}, out, nil
}

// Tool 3: get_entity

type GetEntityInput struct {
	Key  string `json:"key" jsonschema:"Entity key from list_entities"`
	Last int    `json:"last,omitempty" jsonschema:"Return only the most recent N points (0 = all)"`
}

type GetEntityOutput struct {
	Key     string         `json:"key" jsonschema:"Entity key"`
	Title   string         `json:"title" jsonschema:"Display title"`
	Kind    string         `json:"kind" jsonschema:"Entity kind"`
	Visible bool           `json:"visible" jsonschema:"Whether the entity is shown"`
	Total   int            `json:"total" jsonschema:"Points buffered before truncation"`
	Points  []render.Point `json:"points" jsonschema:"Buffered points, oldest first"`
}

func (s *Server) handleGetEntity(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input GetEntityInput,
) (*mcp.CallToolResult, GetEntityOutput, error) {
	if input.Key == "" {
		return nil, GetEntityOutput{}, fmt.Errorf("key is required")
	}
	if input.Last < 0 {
		return nil, GetEntityOutput{}, fmt.Errorf("last must be >= 0, got %d", input.Last)
	}

	f, err := s.engine.Frame(ctx, input.Key)
	if err != nil {
		return nil, GetEntityOutput{}, err
	}

	pts := f.Points
	if input.Last > 0 && len(pts) > input.Last {
		pts = pts[len(pts)-input.Last:]
	}
	if pts == nil {
		pts = []render.Point{}
	}
	return &mcp.CallToolResult{}, GetEntityOutput{
		Key:     f.Key,
		Title:   f.Title,
		Kind:    f.Kind.String(),
		Visible: f.Visible,
		Total:   len(f.Points),
		Points:  pts,
	}, nil
}

// Tool 4: get_timing

type GetTimingInput struct{}

type TimingValue struct {
	Name    string `json:"name" jsonschema:"Field name"`
	Display string `json:"display" jsonschema:"Formatted value (hex header, local timestamps, N/A)"`
}

type StageDifference struct {
	Label string  `json:"label" jsonschema:"Stage pair, later - earlier"`
	Value float64 `json:"value" jsonschema:"Difference in microseconds"`
	Valid bool    `json:"valid" jsonschema:"False when either stage was not reached"`
}

type GetTimingOutput struct {
	UpdatedAt   string            `json:"updated_at,omitempty" jsonschema:"When the timing record was last refreshed (RFC3339)"`
	Fields      []TimingValue     `json:"fields" jsonschema:"Latest timing record, identity fields then stages"`
	Differences []StageDifference `json:"differences" jsonschema:"Consecutive stage differences"`
	Table       string            `json:"table" jsonschema:"Timing table and difference matrix as text"`
}

func (s *Server) handleGetTiming(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input GetTimingInput,
) (*mcp.CallToolResult, GetTimingOutput, error) {
	tv, err := s.engine.Timing(ctx)
	if err != nil {
		return nil, GetTimingOutput{}, fmt.Errorf("failed to read timing: %w", err)
	}
	return &mcp.CallToolResult{}, s.timingOutput(tv), nil
}

func (s *Server) timingOutput(tv engine.TimingView) GetTimingOutput {
	fields := engine.TimingFields(tv)
	out := GetTimingOutput{
		Fields: lo.Map(fields, func(f viz.TimingField, _ int) TimingValue {
			return TimingValue{Name: f.Name, Display: viz.FormatTimingValue(f, s.loc)}
		}),
		Differences: []StageDifference{},
	}
	if out.Fields == nil {
		out.Fields = []TimingValue{}
	}
	for _, d := range tv.Differences {
		out.Differences = append(out.Differences, StageDifference{Label: d.Label, Value: d.Value, Valid: d.Valid})
	}
	if !tv.UpdatedAt.IsZero() {
		out.UpdatedAt = tv.UpdatedAt.Format(time.RFC3339Nano)
	}

	out.Table = viz.TimingTable(fields, s.loc)
	if m := viz.DifferenceMatrix(tv.Matrix.Stages, engine.MatrixCells(tv.Matrix)); m != "" {
		out.Table += "\n" + m
	}
	if out.Table == "" {
		out.Table = "No timing record yet."
	}
	return out
}

// Tool 5: toggle_visibility

type ToggleVisibilityInput struct {
	Key      string `json:"key,omitempty" jsonschema:"Flip a single entity"`
	Prefix   string `json:"prefix,omitempty" jsonschema:"Apply all-or-nothing to keys with this prefix"`
	All      bool   `json:"all,omitempty" jsonschema:"Apply all-or-nothing to every entity"`
	Selected bool   `json:"selected,omitempty" jsonschema:"Flip the entities chosen with select_entities"`
}

type ToggleVisibilityOutput struct {
	Visible bool     `json:"visible" jsonschema:"Resulting visibility (for key, prefix and all)"`
	Keys    []string `json:"keys,omitempty" jsonschema:"Entities affected (for key and selected)"`
	Message string   `json:"message" jsonschema:"What was done"`
}

func (s *Server) handleToggleVisibility(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input ToggleVisibilityInput,
) (*mcp.CallToolResult, ToggleVisibilityOutput, error) {
	modes := lo.Count([]bool{input.Key != "", input.Prefix != "", input.All, input.Selected}, true)
	if modes != 1 {
		return nil, ToggleVisibilityOutput{}, fmt.Errorf("exactly one of key, prefix, all or selected is required")
	}

	var out ToggleVisibilityOutput
	switch {
	case input.Key != "":
		visible, err := s.engine.Toggle(ctx, input.Key)
		if err != nil {
			return nil, out, err
		}
		out = ToggleVisibilityOutput{Visible: visible, Keys: []string{input.Key},
			Message: fmt.Sprintf("%s is now %s", input.Key, shownHidden(visible))}
	case input.Prefix != "":
		visible, err := s.engine.ToggleAllByPrefix(ctx, input.Prefix)
		if err != nil {
			return nil, out, err
		}
		out = ToggleVisibilityOutput{Visible: visible,
			Message: fmt.Sprintf("entities under %q are now %s", input.Prefix, shownHidden(visible))}
	case input.All:
		visible, err := s.engine.ToggleAll(ctx)
		if err != nil {
			return nil, out, err
		}
		out = ToggleVisibilityOutput{Visible: visible,
			Message: fmt.Sprintf("all entities are now %s", shownHidden(visible))}
	default:
		keys, err := s.engine.ToggleSelected(ctx)
		if err != nil {
			return nil, out, err
		}
		out = ToggleVisibilityOutput{Keys: keys,
			Message: fmt.Sprintf("flipped %d selected entities", len(keys))}
	}

	if s.verbose {
		log.Printf("🔧 MCP toggle_visibility: %s", out.Message)
	}
	return &mcp.CallToolResult{}, out, nil
}

func shownHidden(visible bool) string {
	if visible {
		return "shown"
	}
	return "hidden"
}

// Tool 6: select_entities

type SelectEntitiesInput struct {
	Keys []string `json:"keys" jsonschema:"Entity keys to select; replaces the previous selection"`
}

type SelectEntitiesOutput struct {
	Options []visibility.Option `json:"options" jsonschema:"Selector options after the change"`
}

func (s *Server) handleSelectEntities(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input SelectEntitiesInput,
) (*mcp.CallToolResult, SelectEntitiesOutput, error) {
	if err := s.engine.Select(ctx, input.Keys); err != nil {
		return nil, SelectEntitiesOutput{}, err
	}
	opts, err := s.engine.Options(ctx)
	if err != nil {
		return nil, SelectEntitiesOutput{}, err
	}
	if opts == nil {
		opts = []visibility.Option{}
	}
	return &mcp.CallToolResult{}, SelectEntitiesOutput{Options: opts}, nil
}

// Tool 7: set_rates

type SetRatesInput struct {
	TraceHz float64 `json:"trace_hz,omitempty" jsonschema:"Trace plot refresh rate in Hz (omit to keep current)"`
	HistHz  float64 `json:"hist_hz,omitempty" jsonschema:"Histogram refresh rate in Hz (omit to keep current)"`
}

type SetRatesOutput struct {
	TraceHz     float64 `json:"trace_hz" jsonschema:"Trace plot refresh rate now in effect"`
	HistHz      float64 `json:"hist_hz" jsonschema:"Histogram refresh rate now in effect"`
	TimerPeriod string  `json:"timer_period" jsonschema:"Period of the shared update timer"`
}

func (s *Server) handleSetRates(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input SetRatesInput,
) (*mcp.CallToolResult, SetRatesOutput, error) {
	st, err := s.engine.Status(ctx)
	if err != nil {
		return nil, SetRatesOutput{}, err
	}

	rates := st.Rates
	if input.TraceHz != 0 {
		rates.Trace = input.TraceHz
	}
	if input.HistHz != 0 {
		rates.Hist = input.HistHz
	}
	if err := s.engine.SetRates(ctx, rates); err != nil {
		return nil, SetRatesOutput{}, err
	}

	st, err = s.engine.Status(ctx)
	if err != nil {
		return nil, SetRatesOutput{}, err
	}
	return &mcp.CallToolResult{}, SetRatesOutput{
		TraceHz:     st.Rates.Trace,
		HistHz:      st.Rates.Hist,
		TimerPeriod: st.TimerPeriod,
	}, nil
}

// Tool 8: set_histogram_mode

type SetHistogramModeInput struct {
	On bool `json:"on" jsonschema:"True to sum DATA waveforms into histograms, false to show HIST bar histograms"`
}

type SetHistogramModeOutput struct {
	HistogramMode bool `json:"histogram_mode" jsonschema:"Mode now in effect"`
}

func (s *Server) handleSetHistogramMode(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input SetHistogramModeInput,
) (*mcp.CallToolResult, SetHistogramModeOutput, error) {
	if err := s.engine.SetHistogramMode(ctx, input.On); err != nil {
		return nil, SetHistogramModeOutput{}, err
	}
	return &mcp.CallToolResult{}, SetHistogramModeOutput{HistogramMode: input.On}, nil
}

// registerTools registers all dashboard tools with the MCP server.
func (s *Server) registerTools() error {
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "get_status",
		Description: "START HERE: update loop health at a glance. Shows refresh rates, timer period, how many snapshots were fetched, pushed, accepted or skipped as unchanged, render passes, entity counts and the run/sub-run/event currently displayed. Use it to answer 'is the dashboard receiving data?'.",
	}, s.handleGetStatus)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "list_entities",
		Description: "List every plot and histogram the dashboard maintains, with count/min/max/mean and percentiles. Filter by key prefix: plot-diff- (stage difference time series), plot- (waveforms), hist-diff- (difference distributions), hist-bar- (HIST channel bar histograms), hist- (everything histogram).",
	}, s.handleListEntities)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "get_entity",
		Description: "Fetch the buffered points of one entity by key. Time series points are (unix seconds, microseconds); waveforms are (sample index, ADC value); histograms are (value or bin edge, count). Use last=N to limit output.",
	}, s.handleGetEntity)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "get_timing",
		Description: "Latest timing record from the PERF channel: crate/AMC identity, hex cdfHeader, stage timestamps, consecutive stage differences in microseconds and the pairwise difference matrix as a text table. Answers 'where is latency spent in the readout chain?'.",
	}, s.handleGetTiming)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "toggle_visibility",
		Description: "Show or hide dashboard entities. Pass exactly one of: key (flip one), prefix (all-or-nothing on a group, e.g. plot-diff-), all (all-or-nothing on everything) or selected (flip the entities chosen with select_entities). All-or-nothing hides everything if all are visible, otherwise shows everything.",
	}, s.handleToggleVisibility)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "select_entities",
		Description: "Replace the multi-select selector's selection with the given keys. Unknown keys are rejected and leave the selection untouched. Follow with toggle_visibility(selected=true) to flip them.",
	}, s.handleSelectEntities)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "set_rates",
		Description: "Retune refresh rates in Hz: trace_hz for time series and waveforms, hist_hz for histograms. Both must be positive; omitted values keep their current setting. The shared timer is rebuilt without ever running two timers.",
	}, s.handleSetRates)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "set_histogram_mode",
		Description: "Switch histogram generation: on sums DATA channel waveforms into per-channel histograms; off shows the bar histograms published on the HIST channel.",
	}, s.handleSetHistogramMode)

	return nil
}
