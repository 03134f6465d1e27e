package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/tobert/livedash/internal/engine"
	"github.com/tobert/livedash/internal/visibility"
	"github.com/tobert/livedash/internal/viz"
)

// registerResources registers all MCP resources and resource templates.
func (s *Server) registerResources() {
	s.mcpServer.AddResource(&mcp.Resource{
		URI:         "livedash://status",
		Name:        "status",
		Description: "Update loop counters, refresh rates and entity counts.",
		MIMEType:    "text/plain",
	}, s.handleStatusResource)

	s.mcpServer.AddResource(&mcp.Resource{
		URI:         "livedash://timing",
		Name:        "timing",
		Description: "Latest timing record and the pairwise stage difference matrix.",
		MIMEType:    "text/plain",
	}, s.handleTimingResource)

	s.mcpServer.AddResource(&mcp.Resource{
		URI:         "livedash://channels",
		Name:        "channels",
		Description: "Backend channels with publish counts, data sizes and rates.",
		MIMEType:    "text/plain",
	}, s.handleChannelsResource)

	s.mcpServer.AddResource(&mcp.Resource{
		URI:         "livedash://report",
		Name:        "report",
		Description: "Every dashboard table in one text block.",
		MIMEType:    "text/plain",
	}, s.handleReportResource)

	s.mcpServer.AddResourceTemplate(&mcp.ResourceTemplate{
		URITemplate: "livedash://entities/{key}",
		Name:        "entity-detail",
		Description: "Statistics and the most recent points of one plot or histogram.",
		MIMEType:    "text/plain",
	}, s.handleEntityResource)
}

// ─── Static resource handlers ───────────────────────────────────────────

func (s *Server) handleStatusResource(
	ctx context.Context,
	req *mcp.ReadResourceRequest,
) (*mcp.ReadResourceResult, error) {
	st, err := s.engine.Status(ctx)
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	b.WriteString(viz.LoopOverview(engine.LoopStats(st)))
	fmt.Fprintf(&b, "\n  Rates:     trace %g Hz, hist %g Hz\n", st.Rates.Trace, st.Rates.Hist)
	fmt.Fprintf(&b, "  Histogram: %s\n", histogramSource(st.HistogramMode))
	if st.Event.Waveforms > 0 {
		fmt.Fprintf(&b, "  Event:     run %d, sub-run %d, event %d (%d waveforms)\n",
			st.Event.Run, st.Event.SubRun, st.Event.Event, st.Event.Waveforms)
	}

	return textResult(req.Params.URI, b.String()), nil
}

func histogramSource(on bool) string {
	if on {
		return "summed from DATA waveforms"
	}
	return "HIST channel bar histograms"
}

func (s *Server) handleTimingResource(
	ctx context.Context,
	req *mcp.ReadResourceRequest,
) (*mcp.ReadResourceResult, error) {
	tv, err := s.engine.Timing(ctx)
	if err != nil {
		return nil, err
	}
	return textResult(req.Params.URI, s.timingOutput(tv).Table), nil
}

func (s *Server) handleChannelsResource(
	ctx context.Context,
	req *mcp.ReadResourceRequest,
) (*mcp.ReadResourceResult, error) {
	chs, err := s.engine.Channels(ctx)
	if err != nil {
		return nil, err
	}
	text := viz.ChannelTable(engine.ChannelRows(chs), s.loc)
	if text == "" {
		text = "No channels yet.\n"
	}
	return textResult(req.Params.URI, text), nil
}

func (s *Server) handleReportResource(
	ctx context.Context,
	req *mcp.ReadResourceRequest,
) (*mcp.ReadResourceResult, error) {
	out, err := s.engine.Report(ctx, s.loc)
	if err != nil {
		return nil, err
	}
	return textResult(req.Params.URI, out), nil
}

// ─── Template resource handlers ─────────────────────────────────────────

// entityResourceTail is how many points the entity resource lists.
const entityResourceTail = 10

func (s *Server) handleEntityResource(
	ctx context.Context,
	req *mcp.ReadResourceRequest,
) (*mcp.ReadResourceResult, error) {
	key, err := extractURIParam(req.Params.URI, "livedash://entities/")
	if err != nil {
		return nil, mcp.ResourceNotFoundError(req.Params.URI)
	}

	f, err := s.engine.Frame(ctx, key)
	if errors.Is(err, visibility.ErrUnknownKey) {
		return nil, mcp.ResourceNotFoundError(req.Params.URI)
	}
	if err != nil {
		return nil, err
	}

	var sum engine.EntitySummary
	sums, err := s.engine.Summaries(ctx, key)
	if err != nil {
		return nil, err
	}
	for _, es := range sums {
		if es.Key == key {
			sum = es
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Entity: %s\n", f.Key)
	b.WriteString(strings.Repeat("═", len(f.Key)+8) + "\n")
	fmt.Fprintf(&b, "  Title:    %s\n", f.Title)
	fmt.Fprintf(&b, "  Kind:     %s (%s)\n", f.Kind, sum.Class)
	fmt.Fprintf(&b, "  Visible:  %t\n", f.Visible)
	fmt.Fprintf(&b, "  Points:   %s\n", fmtNum(len(f.Points)))
	if sum.Evicted > 0 {
		fmt.Fprintf(&b, "  Evicted:  %s\n", fmtNum(int(sum.Evicted)))
	}
	if sum.Stats.Count > 0 {
		fmt.Fprintf(&b, "  Range:    %g .. %g (mean %.3f)\n", sum.Stats.Min, sum.Stats.Max, sum.Stats.Mean)
	}
	for _, p := range []string{"p50", "p95", "p99"} {
		if v, ok := sum.Percentiles[p]; ok {
			fmt.Fprintf(&b, "  %s:      %g\n", p, v)
		}
	}

	pts := f.Points
	if len(pts) > entityResourceTail {
		pts = pts[len(pts)-entityResourceTail:]
	}
	if len(pts) > 0 {
		fmt.Fprintf(&b, "\n  Last %d points (x, y):\n", len(pts))
		for _, p := range pts {
			fmt.Fprintf(&b, "    %g, %g\n", p.X, p.Y)
		}
	}

	return textResult(req.Params.URI, b.String()), nil
}

// ─── Helpers ────────────────────────────────────────────────────────────

// extractURIParam extracts the parameter value from a URI by stripping the prefix
// and URL-decoding the remainder.
func extractURIParam(uri, prefix string) (string, error) {
	if !strings.HasPrefix(uri, prefix) {
		return "", fmt.Errorf("invalid URI: %s", uri)
	}
	param := strings.TrimPrefix(uri, prefix)
	if param == "" {
		return "", fmt.Errorf("empty parameter in URI: %s", uri)
	}
	decoded, err := url.PathUnescape(param)
	if err != nil {
		return "", fmt.Errorf("invalid encoding in URI: %w", err)
	}
	return decoded, nil
}

// textResult wraps a string in a ReadResourceResult.
func textResult(uri, text string) *mcp.ReadResourceResult {
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{
			URI:      uri,
			MIMEType: "text/plain",
			Text:     text,
		}},
	}
}

// fmtNum formats an integer with comma separators (e.g. 10,000).
func fmtNum(n int) string {
	if n < 0 {
		return "-" + fmtNum(-n)
	}
	s := fmt.Sprintf("%d", n)
	if n < 1000 {
		return s
	}

	var result strings.Builder
	remainder := len(s) % 3
	if remainder > 0 {
		result.WriteString(s[:remainder])
	}
	for i := remainder; i < len(s); i += 3 {
		if result.Len() > 0 {
			result.WriteByte(',')
		}
		result.WriteString(s[i : i+3])
	}
	return result.String()
}
