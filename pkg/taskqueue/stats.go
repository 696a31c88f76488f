package taskqueue

// Stats summarizes the queue for status displays.
type Stats struct {
	ByStatus          map[Status]int `json:"by_status"`
	Total             int            `json:"total"`
	Active            int            `json:"active"` // claimed + in_progress
	CompletionPercent float64        `json:"completion_percent"`
}

// Stats counts tasks per status and derives completion and active counts.
func (q *Queue) Stats() (*Stats, error) {
	tasks, err := q.LoadAll()
	if err != nil {
		return nil, err
	}

	stats := &Stats{ByStatus: make(map[Status]int, len(AllStatuses))}
	for _, status := range AllStatuses {
		stats.ByStatus[status] = 0
	}
	for _, task := range tasks {
		stats.ByStatus[task.Status]++
	}

	stats.Total = len(tasks)
	stats.Active = stats.ByStatus[StatusClaimed] + stats.ByStatus[StatusInProgress]
	if stats.Total > 0 {
		stats.CompletionPercent = float64(stats.ByStatus[StatusCompleted]) / float64(stats.Total) * 100
	}
	return stats, nil
}
