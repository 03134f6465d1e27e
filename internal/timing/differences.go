// Package timing derives inter-stage durations from timing records.
//
// A timing record carries one timestamp per pipeline stage. Stages are filled
// in progressively as a unit of work moves through the pipeline, so a zero
// timestamp means "stage not reached yet", never "zero duration".
package timing

import "github.com/tobert/livedash/internal/snapshot"

// DefaultStages is the stage order of the DAQ frontend pipeline.
var DefaultStages = []string{
	"TCPProcUnlocked",
	"gotTCPHeaderWord",
	"gotTCPHeaderWord2",
	"GPUProcUnlocked",
	"GPUProcDone",
	"GPUCopyDone",
	"MFEProcUnlocked",
	"MFEBanksMade",
	"losslessComp",
}

// IdentityFields identify the unit of work a timing record describes.
var IdentityFields = []string{
	"crateNum",
	"cdfHeader",
	"MidasFillNum",
	"TCPFillNum",
	"GPUFillNum",
}

// Difference is the duration between two stages of one record. A difference
// that is not Valid is null and must be skipped by consumers.
type Difference struct {
	Later   string
	Earlier string
	Label   string
	Value   float64
	Valid   bool
}

// Label formats the human-readable name of a stage difference.
func Label(later, earlier string) string {
	return later + " - " + earlier
}

// Differences computes the N-1 adjacent-stage differences of rec for the
// ordered stage list. For a pair (i, i+1):
//
//   - stage i+1 zero: null, there is no later time yet.
//   - stage i zero: compare against the nearest earlier stage that was
//     recorded (numeric and nonzero) and relabel; null if none was.
//   - both numeric: stage[i+1] - stage[i].
//   - otherwise null.
func Differences(rec snapshot.Record, stages []string) []Difference {
	if len(stages) < 2 {
		return nil
	}

	out := make([]Difference, 0, len(stages)-1)
	for i := 0; i < len(stages)-1; i++ {
		later, earlier := stages[i+1], stages[i]
		d := Difference{Later: later, Earlier: earlier, Label: Label(later, earlier)}

		next, nextOK := rec.Number(later)
		cur, curOK := rec.Number(earlier)

		switch {
		case nextOK && next == 0:
			// not reached yet
		case curOK && cur == 0:
			if !nextOK {
				break
			}
			if j, prev, found := lastRecorded(rec, stages, i-1); found {
				d.Earlier = stages[j]
				d.Label = Label(later, stages[j])
				d.Value = next - prev
				d.Valid = true
			}
		case curOK && nextOK:
			d.Value = next - cur
			d.Valid = true
		}

		out = append(out, d)
	}
	return out
}

// lastRecorded scans backward from stage index from for the nearest stage
// with a numeric, nonzero timestamp.
func lastRecorded(rec snapshot.Record, stages []string, from int) (int, float64, bool) {
	for j := from; j >= 0; j-- {
		if v, ok := rec.Number(stages[j]); ok && v != 0 {
			return j, v, true
		}
	}
	return 0, 0, false
}

// Valid filters out null differences, preserving order.
func Valid(diffs []Difference) []Difference {
	out := make([]Difference, 0, len(diffs))
	for _, d := range diffs {
		if d.Valid {
			out = append(out, d)
		}
	}
	return out
}
