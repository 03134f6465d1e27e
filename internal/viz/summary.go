package viz

import (
	"fmt"
	"strings"
)

// LoopOverview renders update-loop counters and the visible-entity bar.
func LoopOverview(stats LoopStats) string {
	var b strings.Builder

	b.WriteString("Update Loop\n")
	fmt.Fprintf(&b, "  Timer: %s\n", stats.TimerPeriod)
	fmt.Fprintf(&b, "  Fetches: %s (%s failed)  Pushes: %s\n",
		formatCount(int(stats.Fetches)), formatCount(int(stats.FetchErrors)), formatCount(int(stats.Pushes)))
	fmt.Fprintf(&b, "  Snapshots: %s accepted, %s unchanged\n",
		formatCount(int(stats.Accepted)), formatCount(int(stats.Unchanged)))
	fmt.Fprintf(&b, "  Render passes: %s\n", formatCount(int(stats.RenderPasses)))
	writeBar(&b, "Visible", stats.Visible, stats.Entities)

	return b.String()
}

func writeBar(b *strings.Builder, label string, count, capacity int) {
	barWidth := 20
	filled := 0
	if capacity > 0 {
		filled = count * barWidth / capacity
	}
	if filled > barWidth {
		filled = barWidth
	}

	bar := strings.Repeat("#", filled) + strings.Repeat(".", barWidth-filled)

	// Pad label to 8 chars for alignment
	paddedLabel := fmt.Sprintf("%-8s", label)
	fmt.Fprintf(b, "  %s [%s]  %s / %s\n", paddedLabel, bar, formatCount(count), formatCount(capacity))
}

// EntitySummary renders a horizontal bar chart of buffered points per entity.
// Width controls total line width; 0 uses default (80).
func EntitySummary(entities []EntityStats, width int) string {
	if len(entities) == 0 {
		return ""
	}
	if width <= 0 {
		width = 80
	}

	visible := 0
	maxPoints := 0
	maxKeyLen := 0
	for _, e := range entities {
		if e.Visible {
			visible++
		}
		maxPoints = max(maxPoints, e.Points)
		maxKeyLen = max(maxKeyLen, len(e.Key))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Entities (%d, %d visible)\n", len(entities), visible)

	// Key column gets whatever the bar and counters leave over
	maxKeyLen = min(maxKeyLen, max(12, width-50))
	barBudget := 20

	for _, e := range entities {
		key := e.Key
		if len(key) > maxKeyLen {
			key = key[:maxKeyLen-1] + "…"
		}

		barLen := 0
		if maxPoints > 0 {
			barLen = e.Points * barBudget / maxPoints
		}
		if barLen < 1 && e.Points > 0 {
			barLen = 1
		}
		bar := strings.Repeat("#", barLen) + strings.Repeat(" ", barBudget-barLen)

		mark := " "
		if e.Visible {
			mark = "✓"
		}

		extra := ""
		if p, ok := e.Percentiles["p50"]; ok {
			extra = fmt.Sprintf("  p50=%.4g p95=%.4g p99=%.4g", p, e.Percentiles["p95"], e.Percentiles["p99"])
		}
		if e.Evicted > 0 {
			extra += fmt.Sprintf("  (%s evicted)", formatCount(int(e.Evicted)))
		}

		fmt.Fprintf(&b, "  %s %-*s  %s  %s pts%s\n", mark, maxKeyLen, key, bar, formatCount(e.Points), extra)
	}

	return b.String()
}

func formatCount(n int) string {
	if n < 0 {
		return "-" + formatCount(-n)
	}
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}
	if n < 1_000_000 {
		return fmt.Sprintf("%d,%03d", n/1000, n%1000)
	}
	return fmt.Sprintf("%d,%03d,%03d", n/1_000_000, (n%1_000_000)/1000, n%1000)
}
