package webui

import (
	"context"
	"embed"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/encoding/json"

	"github.com/tobert/livedash/internal/engine"
	"github.com/tobert/livedash/internal/render/chartsink"
	"github.com/tobert/livedash/internal/schedule"
	"github.com/tobert/livedash/internal/visibility"
	"github.com/tobert/livedash/internal/viz"
)

//go:embed static/index.html
var staticFiles embed.FS

// Server serves the embedded dashboard page, JSON views, rendered charts
// and the control endpoints.
type Server struct {
	engine  *engine.Engine
	charts  *chartsink.Sink
	metrics prometheus.Gatherer
	loc     *time.Location
}

// New creates a web UI server. charts and metrics may be nil, which disables
// the SVG and /metrics endpoints.
func New(eng *engine.Engine, charts *chartsink.Sink, metrics prometheus.Gatherer) (*Server, error) {
	if eng == nil {
		return nil, errors.New("engine cannot be nil")
	}
	return &Server{engine: eng, charts: charts, metrics: metrics, loc: time.Local}, nil
}

// RegisterRoutes attaches web UI routes to an existing ServeMux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ui/", s.handleUI)
	mux.HandleFunc("GET /ui", s.handleUIRedirect)

	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/entities", s.handleEntities)
	mux.HandleFunc("GET /api/entities/{key}", s.handleFrame)
	mux.HandleFunc("GET /api/entities/{key}/svg", s.handleSVG)
	mux.HandleFunc("GET /api/timing", s.handleTiming)
	mux.HandleFunc("GET /api/channels", s.handleChannels)
	mux.HandleFunc("GET /api/options", s.handleOptions)
	mux.HandleFunc("GET /api/report", s.handleReport)

	mux.HandleFunc("POST /api/entities/{key}/toggle", s.handleToggle)
	mux.HandleFunc("POST /api/toggle-all", s.handleToggleAll)
	mux.HandleFunc("POST /api/toggle-selected", s.handleToggleSelected)
	mux.HandleFunc("PUT /api/selection", s.handleSelect)
	mux.HandleFunc("PUT /api/rates", s.handleRates)
	mux.HandleFunc("PUT /api/histogram-mode", s.handleHistogramMode)

	if s.metrics != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.metrics, promhttp.HandlerOpts{}))
	}
}

// ListenAndServe starts a standalone HTTP server for the web UI.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// handleUIRedirect redirects /ui to /ui/ for consistent routing.
func (s *Server) handleUIRedirect(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/ui/", http.StatusMovedPermanently)
}

// handleUI serves the embedded index.html.
func (s *Server) handleUI(w http.ResponseWriter, r *http.Request) {
	data, err := staticFiles.ReadFile("static/index.html")
	if err != nil {
		http.Error(w, "UI not found", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(data)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.engine.Status(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, st)
}

// handleEntities lists entities with statistics, optionally filtered by
// ?prefix=.
func (s *Server) handleEntities(w http.ResponseWriter, r *http.Request) {
	sums, err := s.engine.Summaries(r.Context(), r.URL.Query().Get("prefix"))
	if err != nil {
		writeError(w, err)
		return
	}
	if sums == nil {
		sums = []engine.EntitySummary{}
	}
	writeJSON(w, sums)
}

func (s *Server) handleFrame(w http.ResponseWriter, r *http.Request) {
	f, err := s.engine.Frame(r.Context(), r.PathValue("key"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, f)
}

func (s *Server) handleSVG(w http.ResponseWriter, r *http.Request) {
	if s.charts == nil {
		http.Error(w, "chart rendering disabled", http.StatusNotFound)
		return
	}
	svg, ok := s.charts.SVG(r.PathValue("key"))
	if !ok {
		http.Error(w, "no chart for "+r.PathValue("key"), http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "image/svg+xml")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(svg)
}

// timingResponse is the JSON shape for /api/timing.
type timingResponse struct {
	UpdatedAt   time.Time       `json:"updated_at,omitzero"`
	Fields      []timingField   `json:"fields"`
	Differences []differenceRow `json:"differences"`
	Matrix      matrixResponse  `json:"matrix"`
}

type timingField struct {
	Name    string `json:"name"`
	Display string `json:"display"`
}

type differenceRow struct {
	Label string   `json:"label"`
	Value *float64 `json:"value"` // null when the difference is unavailable
}

type matrixResponse struct {
	Stages []string       `json:"stages"`
	Cells  [][]matrixCell `json:"cells"`
}

type matrixCell struct {
	Text  string `json:"text"`
	Color string `json:"color"`
}

func (s *Server) handleTiming(w http.ResponseWriter, r *http.Request) {
	tv, err := s.engine.Timing(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, buildTimingResponse(tv, s.loc))
}

func buildTimingResponse(tv engine.TimingView, loc *time.Location) timingResponse {
	resp := timingResponse{
		UpdatedAt:   tv.UpdatedAt,
		Fields:      []timingField{},
		Differences: []differenceRow{},
		Matrix:      matrixResponse{Stages: tv.Matrix.Stages, Cells: [][]matrixCell{}},
	}

	for _, f := range engine.TimingFields(tv) {
		resp.Fields = append(resp.Fields, timingField{Name: f.Name, Display: viz.FormatTimingValue(f, loc)})
	}
	for _, d := range tv.Differences {
		row := differenceRow{Label: d.Label}
		if d.Valid {
			v := d.Value
			row.Value = &v
		}
		resp.Differences = append(resp.Differences, row)
	}
	for _, row := range engine.MatrixCells(tv.Matrix) {
		cells := make([]matrixCell, len(row))
		for i, c := range row {
			cells[i] = matrixCell{Text: viz.CellText(c), Color: viz.CellColor(c)}
		}
		resp.Matrix.Cells = append(resp.Matrix.Cells, cells)
	}
	return resp
}

func (s *Server) handleChannels(w http.ResponseWriter, r *http.Request) {
	chs, err := s.engine.Channels(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, engine.ChannelRows(chs))
}

func (s *Server) handleOptions(w http.ResponseWriter, r *http.Request) {
	opts, err := s.engine.Options(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, opts)
}

// handleReport returns every text table as plain text.
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	out, err := s.engine.Report(r.Context(), s.loc)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte(out))
}

// visibilityResponse is the JSON shape returned by the toggle endpoints.
type visibilityResponse struct {
	Visible bool     `json:"visible"`
	Keys    []string `json:"keys,omitempty"`
}

func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request) {
	visible, err := s.engine.Toggle(r.Context(), r.PathValue("key"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, visibilityResponse{Visible: visible, Keys: []string{r.PathValue("key")}})
}

// handleToggleAll applies the all-or-nothing rule to every entity, or to
// those matching ?prefix=.
func (s *Server) handleToggleAll(w http.ResponseWriter, r *http.Request) {
	var (
		visible bool
		err     error
	)
	if prefix := r.URL.Query().Get("prefix"); prefix != "" {
		visible, err = s.engine.ToggleAllByPrefix(r.Context(), prefix)
	} else {
		visible, err = s.engine.ToggleAll(r.Context())
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, visibilityResponse{Visible: visible})
}

func (s *Server) handleToggleSelected(w http.ResponseWriter, r *http.Request) {
	keys, err := s.engine.ToggleSelected(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, visibilityResponse{Keys: keys})
}

type selectRequest struct {
	Keys []string `json:"keys"`
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	var req selectRequest
	if !readJSON(w, r, &req) {
		return
	}
	if err := s.engine.Select(r.Context(), req.Keys); err != nil {
		writeError(w, err)
		return
	}
	s.handleOptions(w, r)
}

func (s *Server) handleRates(w http.ResponseWriter, r *http.Request) {
	var rates schedule.Rates
	if !readJSON(w, r, &rates) {
		return
	}
	if err := s.engine.SetRates(r.Context(), rates); err != nil {
		writeError(w, err)
		return
	}
	s.handleStatus(w, r)
}

type histogramModeRequest struct {
	On bool `json:"on"`
}

func (s *Server) handleHistogramMode(w http.ResponseWriter, r *http.Request) {
	var req histogramModeRequest
	if !readJSON(w, r, &req) {
		return
	}
	if err := s.engine.SetHistogramMode(r.Context(), req.On); err != nil {
		writeError(w, err)
		return
	}
	s.handleStatus(w, r)
}

func readJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		http.Error(w, "invalid JSON body: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

// writeError maps engine errors onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, visibility.ErrUnknownKey):
		code = http.StatusNotFound
	case errors.Is(err, schedule.ErrInvalidRate):
		code = http.StatusBadRequest
	case errors.Is(err, engine.ErrStopped), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		code = http.StatusServiceUnavailable
	}
	http.Error(w, err.Error(), code)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "")
	if err := enc.Encode(v); err != nil {
		log.Printf("webui: failed to write JSON: %v", err)
	}
}
