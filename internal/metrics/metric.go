// Package metrics batches dimensioned run measurements and flushes them to a
// pluggable sink on a best-effort basis.
package metrics

import "time"

// Unit of a measurement.
type Unit string

const (
	UnitCount   Unit = "Count"
	UnitSeconds Unit = "Seconds"
)

// Well-known metric names.
const (
	NameStart     = "Start"
	NameDuration  = "Duration"
	NameExit      = "Exit"
	NameEnd       = "End"
	NameHeartbeat = "Heartbeat"
)

// Dimension keys.
const (
	DimTeam  = "Team"
	DimGroup = "Group"
	DimJob   = "Job"
)

// Metric is a single immutable measurement.
type Metric struct {
	Name       string            `json:"name"`
	Value      float64           `json:"value"`
	Unit       Unit              `json:"unit"`
	Dimensions map[string]string `json:"dimensions"`
	Timestamp  time.Time         `json:"timestamp"`
}

// New creates a Count metric stamped with the current time. dims is copied.
func New(name string, value float64, dims map[string]string) Metric {
	return Metric{
		Name:       name,
		Value:      value,
		Unit:       UnitCount,
		Dimensions: copyDims(dims),
		Timestamp:  time.Now().UTC(),
	}
}

// WithUnit returns a copy with a different unit.
func (m Metric) WithUnit(u Unit) Metric {
	m.Dimensions = copyDims(m.Dimensions)
	m.Unit = u
	return m
}

// WithTimestamp returns a copy with a different timestamp.
func (m Metric) WithTimestamp(t time.Time) Metric {
	m.Dimensions = copyDims(m.Dimensions)
	m.Timestamp = t
	return m
}

// JobDimensions are attached to every per-job metric.
func JobDimensions(team, group, job string) map[string]string {
	return map[string]string{DimTeam: team, DimGroup: group, DimJob: job}
}

// TeamDimensions are used for the team-wide Exit rollup.
func TeamDimensions(team string) map[string]string {
	return map[string]string{DimTeam: team}
}

func copyDims(dims map[string]string) map[string]string {
	out := make(map[string]string, len(dims))
	for k, v := range dims {
		out[k] = v
	}
	return out
}
