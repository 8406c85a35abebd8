package domain

// Entry records when a task ran in a simulated schedule
type Entry struct {
	TaskID    string  `json:"task_id"`
	StartTime float64 `json:"start_time"`
	EndTime   float64 `json:"end_time"`
	Status    Status  `json:"status"`
}

// Duration returns EndTime - StartTime
func (e Entry) Duration() float64 {
	return e.EndTime - e.StartTime
}

// Step is one discrete event of the simulation: the clock value, the tasks
// that finished and started at it, and the tasks running afterwards.
type Step struct {
	Time      float64  `json:"time"`
	Completed []string `json:"completed,omitempty"`
	Started   []string `json:"started,omitempty"`
	Running   []string `json:"running"`
}

// Schedule is the output of one scheduler run. Entries are ordered by
// non-decreasing StartTime; Steps form the event timeline.
type Schedule struct {
	Entries []Entry `json:"entries"`
	Steps   []Step  `json:"steps,omitempty"`
}

// Entry returns the entry for a task ID
func (s *Schedule) Entry(taskID string) (Entry, bool) {
	for _, e := range s.Entries {
		if e.TaskID == taskID {
			return e, true
		}
	}
	return Entry{}, false
}

// Index returns the entries keyed by task ID
func (s *Schedule) Index() map[string]Entry {
	idx := make(map[string]Entry, len(s.Entries))
	for _, e := range s.Entries {
		idx[e.TaskID] = e
	}
	return idx
}

// RunningAt returns the IDs of tasks occupying a slot at simulated time t,
// using half-open [start, end) intervals.
func (s *Schedule) RunningAt(t float64) []string {
	var ids []string
	for _, e := range s.Entries {
		if e.StartTime <= t && t < e.EndTime {
			ids = append(ids, e.TaskID)
		}
	}
	return ids
}

// Metrics is the derived summary of a completed schedule
type Metrics struct {
	Makespan       float64 `json:"makespan"`
	Efficiency     float64 `json:"efficiency"`
	Utilization    float64 `json:"utilization"`
	TotalWork      float64 `json:"total_work"`
	CriticalPath   float64 `json:"critical_path,omitempty"`
	LowerBound     float64 `json:"lower_bound,omitempty"`
	PeakParallel   int     `json:"peak_parallel"`
	TotalTasks     int     `json:"total_tasks"`
	CompletedTasks int     `json:"completed_tasks"`
}
