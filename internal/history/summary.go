package history

// Summary represents aggregated scan insights over the stored history.
type Summary struct {
	TotalScans           int            `json:"total_scans"`
	AverageTopConfidence float64        `json:"average_top_confidence"`
	ClassCounts          map[string]int `json:"class_counts"`
	LatestTimestamp      int64          `json:"latest_timestamp,omitempty"`
}

// Summary aggregates the current history by top prediction.
func (s *Store) Summary() Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summary := Summary{
		TotalScans:  len(s.results),
		ClassCounts: make(map[string]int),
	}
	if len(s.results) == 0 {
		return summary
	}

	var total float64
	for _, r := range s.results {
		top := r.Top()
		summary.ClassCounts[top.ClassName]++
		total += top.Probability
		if r.Timestamp > summary.LatestTimestamp {
			summary.LatestTimestamp = r.Timestamp
		}
	}
	summary.AverageTopConfidence = total / float64(len(s.results))
	return summary
}
