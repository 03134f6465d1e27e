package viz

import (
	"fmt"
	"strings"
	"time"
)

// ChannelTable renders a compact table of publisher channels.
func ChannelTable(rows []ChannelRow, loc *time.Location) string {
	if len(rows) == 0 {
		return ""
	}
	if loc == nil {
		loc = time.Local
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Channels (%d)\n", len(rows))
	fmt.Fprintf(&b, "  %-6s  %-24s  %9s  %11s  %9s  %8s  %10s  %-19s  %-19s\n",
		"Name", "Address", "Publishes", "Data Size", "Avg Size", "Pub/s", "Bytes/s", "Start Time", "Last Receive")

	for _, r := range rows {
		addr := r.Address
		if len(addr) > 24 {
			addr = addr[:23] + "…"
		}
		fmt.Fprintf(&b, "  %-6s  %-24s  %9s  %11s  %9.1f  %8.2f  %10.1f  %-19s  %-19s\n",
			r.Name, addr,
			formatCount(int(r.TotalPublishes)), formatCount(int(r.TotalDataSize)),
			r.AverageDataSize, r.RatePublishes, r.RateData,
			formatUnix(r.StartTime, loc), formatUnix(r.LastReceiveTime, loc))
	}

	return b.String()
}

func formatUnix(sec float64, loc *time.Location) string {
	if sec <= 0 {
		return "-"
	}
	return time.UnixMilli(int64(sec * 1000)).In(loc).Format("2006-01-02 15:04:05")
}
