package viz

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// timestampLayout shows stage timestamps down to the microsecond.
const timestampLayout = "2006-01-02 15:04:05.000000"

// FormatTimingValue formats one timing field for display: cdfHeader in hex,
// stage timestamps as local date-times with microseconds (zero means the
// stage was not reached), everything else verbatim.
func FormatTimingValue(f TimingField, loc *time.Location) string {
	if !f.Present {
		return "N/A"
	}
	switch {
	case f.Name == "cdfHeader":
		return "0x" + strconv.FormatUint(uint64(f.Value), 16)
	case f.Stage:
		if f.Value == 0 {
			return "N/A"
		}
		if loc == nil {
			loc = time.Local
		}
		return time.UnixMicro(int64(f.Value)).In(loc).Format(timestampLayout)
	default:
		return strconv.FormatFloat(f.Value, 'f', -1, 64)
	}
}

// TimingTable renders the latest timing record as a two-column table.
func TimingTable(fields []TimingField, loc *time.Location) string {
	if len(fields) == 0 {
		return ""
	}

	width := 0
	for _, f := range fields {
		width = max(width, len(f.Name))
	}

	var b strings.Builder
	b.WriteString("Latest Timing Record\n")
	for _, f := range fields {
		fmt.Fprintf(&b, "  %-*s  %s\n", width, f.Name, FormatTimingValue(f, loc))
	}
	return b.String()
}

// HeatColor maps a difference onto a colour scale clamped to -50..50 and
// returns it as #rrggbb. Zero is yellow; positive values shade towards red
// at 50, negative values from green just below zero back to yellow at -50.
func HeatColor(value float64) string {
	const lower, upper = -50.0, 50.0
	green := [3]float64{0, 255, 0}
	yellow := [3]float64{255, 255, 0}
	red := [3]float64{255, 0, 0}

	value = math.Max(math.Min(value, upper), lower)

	var from, to [3]float64
	var pct float64
	if value < 0 {
		from, to, pct = green, yellow, value/lower
	} else {
		from, to, pct = yellow, red, value/upper
	}

	var b strings.Builder
	b.WriteByte('#')
	for i := range 3 {
		c := math.Round((1-pct)*from[i] + pct*to[i])
		fmt.Fprintf(&b, "%02x", int(c))
	}
	return b.String()
}

// CellColor is the background colour of a matrix cell.
func CellColor(c MatrixCell) string {
	switch {
	case c.Blank:
		return "black"
	case c.NA:
		return "gray"
	case c.Value <= 0:
		return "lightgray"
	default:
		return HeatColor(c.Value)
	}
}

// CellText is the displayed content of a matrix cell.
func CellText(c MatrixCell) string {
	switch {
	case c.Blank:
		return ""
	case c.NA:
		return "N/A"
	default:
		return strconv.FormatFloat(c.Value, 'f', -1, 64)
	}
}

// DifferenceMatrix renders the lower-triangular stage matrix. Row stage
// minus column stage; blank cells are shown as "·".
func DifferenceMatrix(stages []string, cells [][]MatrixCell) string {
	if len(stages) == 0 || len(cells) != len(stages) {
		return ""
	}

	labelWidth := 0
	for _, s := range stages {
		labelWidth = max(labelWidth, len(s))
	}

	colWidth := 3
	for _, row := range cells {
		for _, c := range row {
			colWidth = max(colWidth, len(CellText(c)))
		}
	}

	var b strings.Builder
	b.WriteString("Stage Differences (row - column)\n")
	fmt.Fprintf(&b, "  %-*s", labelWidth, "")
	for i := range stages {
		fmt.Fprintf(&b, "  %*s", colWidth, fmt.Sprintf("c%d", i))
	}
	b.WriteByte('\n')

	for r, row := range cells {
		fmt.Fprintf(&b, "  %-*s", labelWidth, stages[r])
		for c := range stages {
			text := "·"
			if c < len(row) && !row[c].Blank {
				text = CellText(row[c])
			}
			fmt.Fprintf(&b, "  %*s", colWidth, text)
		}
		fmt.Fprintf(&b, "  c%d\n", r)
	}
	return b.String()
}
