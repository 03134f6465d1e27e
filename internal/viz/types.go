package viz

// TimingField is one column of the timing table.
// Decoupled from snapshot types so viz is a pure rendering package.
type TimingField struct {
	Name    string
	Value   float64
	Present bool // false when the record lacks a numeric value
	Stage   bool // stage timestamps are microseconds since the epoch
}

// MatrixCell is one cell of the stage difference matrix.
type MatrixCell struct {
	Blank bool // on or above the diagonal
	NA    bool // one of the two stages was not reached
	Value float64
}

// ChannelRow describes one publisher channel for the channel table.
type ChannelRow struct {
	Address         string  `json:"address"`
	Name            string  `json:"channel_name"`
	TotalPublishes  int64   `json:"total_publishes"`
	TotalDataSize   int64   `json:"total_data_size"`
	AverageDataSize float64 `json:"average_data_size"`
	RatePublishes   float64 `json:"rate_publishes"`
	RateData        float64 `json:"rate_data"`
	StartTime       float64 `json:"start_time"`        // Unix seconds
	LastReceiveTime float64 `json:"last_receive_time"` // Unix seconds
}

// LoopStats describes the update loop for the overview.
type LoopStats struct {
	Fetches      uint64
	FetchErrors  uint64
	Pushes       uint64
	Accepted     uint64
	Unchanged    uint64
	RenderPasses uint64
	Entities     int
	Visible      int
	TimerPeriod  string
}

// EntityStats describes one render entity for the entity summary.
type EntityStats struct {
	Key         string
	Visible     bool
	Points      int
	Evicted     uint64
	Percentiles map[string]float64 // p50/p95/p99, nil when not computed
}
