package runstore

import "time"

// Status is a run's lifecycle state.
type Status string

const (
	StatusRunning     Status = "running"
	StatusFinished    Status = "finished"
	StatusFailed      Status = "failed"
	StatusInterrupted Status = "interrupted"
	StatusStale       Status = "stale"
)

// MetricMode says whether a primary metric improves by increasing or
// decreasing.
type MetricMode string

const (
	ModeMax MetricMode = "max"
	ModeMin MetricMode = "min"
)

// Meta is the immutable-after-creation portion of a run's metadata,
// persisted to meta.json.
type Meta struct {
	ID        string    `json:"id"`
	Path      string    `json:"path"`
	Alias     string    `json:"alias,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	Host      string    `json:"host,omitempty"`
}

// PrimaryMetric tracks the best value seen so far for a designated
// metric, per the run's configured improvement direction.
type PrimaryMetric struct {
	Name    string     `json:"name,omitempty"`
	Mode    MetricMode `json:"mode,omitempty"`
	Best    float64    `json:"best,omitempty"`
	Step    *int64     `json:"step,omitempty"`
	HasBest bool       `json:"has_best,omitempty"`
}

// StatusFile is the mutable lifecycle portion of a run, persisted to
// status.json and rewritten atomically on every transition.
type StatusFile struct {
	Status        Status        `json:"status"`
	PID           int           `json:"pid,omitempty"`
	UpdatedAt     time.Time     `json:"updated_at"`
	PrimaryMetric PrimaryMetric `json:"primary_metric"`
	DeletedAt     *time.Time    `json:"deleted_at,omitempty"`
}

// Event is one metric-event row appended to events.jsonl.
type Event struct {
	Timestamp time.Time          `json:"ts"`
	Step      *int64             `json:"step,omitempty"`
	Stage     string             `json:"stage,omitempty"`
	Fields    map[string]float64 `json:"fields"`
}

// improves reports whether candidate is strictly better than best
// under mode.
func improves(mode MetricMode, best, candidate float64, hasBest bool) bool {
	if !hasBest {
		return true
	}
	if mode == ModeMin {
		return candidate < best
	}
	return candidate > best
}

// update applies a candidate metric value at step, returning true if it
// became the new best.
func (p *PrimaryMetric) update(value float64, step *int64) bool {
	if p.Name == "" {
		return false
	}
	if !improves(p.Mode, p.Best, value, p.HasBest) {
		return false
	}
	p.Best = value
	p.HasBest = true
	p.Step = step
	return true
}
