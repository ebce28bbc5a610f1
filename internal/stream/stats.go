package stream

// Stats is a read-only rollup over a stream collection.
type Stats struct {
	TotalStreams      int   `json:"totalStreams"`
	ActiveStreams     int   `json:"activeStreams"`
	TotalSent         int64 `json:"totalSent"`
	TotalTransactions int   `json:"totalTransactions"`
	// CurrentFlowRate is sompi per second across active streams.
	CurrentFlowRate float64 `json:"currentFlowRate"`
}

// Aggregate computes Stats. It holds no state of its own.
func Aggregate(streams []Stream) Stats {
	st := Stats{TotalStreams: len(streams)}
	for i := range streams {
		s := &streams[i]
		st.TotalSent += s.AmountSent
		st.TotalTransactions += len(s.TxHistory)
		if s.Status != StatusActive {
			continue
		}
		st.ActiveStreams++
		if s.IntervalSeconds > 0 {
			st.CurrentFlowRate += float64(s.FlowRate) / float64(s.IntervalSeconds)
		}
	}
	return st
}
