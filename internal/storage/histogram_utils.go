package storage

import (
	"math"
	"slices"
)

var percentileTargets = map[string]float64{"p50": 0.50, "p95": 0.95, "p99": 0.99}

// ComputeBinPercentiles estimates percentiles from fixed-width bin data.
// edges[i] is the lower edge of bin i and every bin is width wide, matching the
// layout of a bar histogram. Uses linear interpolation within bins (the
// histogram_quantile approach used by Prometheus).
// Returns nil if there are no bins or the histogram is empty.
func ComputeBinPercentiles(edges []float64, width float64, contents []float64) map[string]float64 {
	n := min(len(edges), len(contents))
	if n == 0 || width <= 0 {
		return nil
	}

	total := 0.0
	for _, c := range contents[:n] {
		if c > 0 {
			total += c
		}
	}
	if total == 0 {
		return nil
	}

	percentiles := make(map[string]float64, len(percentileTargets))
	for name, target := range percentileTargets {
		if p := estimateBinPercentile(edges[:n], width, contents[:n], total, target); !math.IsNaN(p) {
			percentiles[name] = p
		}
	}

	if len(percentiles) == 0 {
		return nil
	}
	return percentiles
}

// estimateBinPercentile walks the cumulative distribution until it covers
// target*total and interpolates inside that bin. Negative contents are
// treated as empty.
func estimateBinPercentile(edges []float64, width float64, contents []float64, total, target float64) float64 {
	targetCount := total * target
	cumulative := 0.0

	for i, c := range contents {
		if c <= 0 {
			continue
		}
		cumulative += c
		if cumulative >= targetCount {
			prev := cumulative - c
			fraction := (targetCount - prev) / c
			return edges[i] + fraction*width
		}
	}

	// Only reachable through rounding at target 1.0
	return edges[len(edges)-1] + width
}

// ComputeSamplePercentiles returns p50/p95/p99 of raw samples using linear
// interpolation between closest ranks. NaN samples are ignored.
// Returns nil if there are no usable samples.
func ComputeSamplePercentiles(samples []float64) map[string]float64 {
	sorted := sortedFinite(samples)
	if len(sorted) == 0 {
		return nil
	}

	percentiles := make(map[string]float64, len(percentileTargets))
	for name, target := range percentileTargets {
		percentiles[name] = rankPercentile(sorted, target)
	}
	return percentiles
}

func rankPercentile(sorted []float64, target float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	pos := target * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	frac := pos - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}

func sortedFinite(samples []float64) []float64 {
	out := make([]float64, 0, len(samples))
	for _, s := range samples {
		if !math.IsNaN(s) {
			out = append(out, s)
		}
	}
	slices.Sort(out)
	return out
}

// SampleStats summarises a set of raw samples.
type SampleStats struct {
	Count int     `json:"count"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Mean  float64 `json:"mean"`
}

// ComputeSampleStats returns count, min, max and mean of samples. NaN
// samples are ignored. The zero value is returned for an empty input.
func ComputeSampleStats(samples []float64) SampleStats {
	var st SampleStats
	sum := 0.0
	for _, s := range samples {
		if math.IsNaN(s) {
			continue
		}
		if st.Count == 0 || s < st.Min {
			st.Min = s
		}
		if st.Count == 0 || s > st.Max {
			st.Max = s
		}
		sum += s
		st.Count++
	}
	if st.Count > 0 {
		st.Mean = sum / float64(st.Count)
	}
	return st
}
