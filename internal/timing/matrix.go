package timing

import "github.com/tobert/livedash/internal/snapshot"

// CellState classifies one entry of the pairwise difference matrix.
type CellState int

const (
	// CellRedundant is on or above the diagonal; the matrix is lower-triangular.
	CellRedundant CellState = iota
	// CellUnavailable means one of the two stages has not been reached.
	CellUnavailable
	// CellNonPositive holds a difference that is zero or negative.
	CellNonPositive
	// CellValue holds a positive difference.
	CellValue
)

// Cell is one entry of the matrix.
type Cell struct {
	State CellState
	Value float64
}

// Matrix holds row stage minus column stage for every stage pair of a record.
type Matrix struct {
	Stages []string
	Cells  [][]Cell
}

// NewMatrix builds the pairwise difference matrix of rec. Cells[r][c] is
// stage[r] - stage[c] for c < r.
func NewMatrix(rec snapshot.Record, stages []string) Matrix {
	m := Matrix{
		Stages: append([]string(nil), stages...),
		Cells:  make([][]Cell, len(stages)),
	}

	for r, rowStage := range stages {
		row := make([]Cell, len(stages))
		rowVal, rowOK := rec.Number(rowStage)

		for c, colStage := range stages {
			if c >= r {
				row[c] = Cell{State: CellRedundant}
				continue
			}
			colVal, colOK := rec.Number(colStage)
			if !rowOK || !colOK || rowVal == 0 || colVal == 0 {
				row[c] = Cell{State: CellUnavailable}
				continue
			}
			diff := rowVal - colVal
			if diff <= 0 {
				row[c] = Cell{State: CellNonPositive, Value: diff}
				continue
			}
			row[c] = Cell{State: CellValue, Value: diff}
		}
		m.Cells[r] = row
	}
	return m
}
