package pool

// Status is the advisory health of the pool, derived from occupancy and
// estimated memory. It feeds admission control and observability but never
// forces disconnections on its own.
type Status int

const (
	StatusHealthy Status = iota
	StatusDegraded
	StatusOverloaded
	StatusCritical
)

func (s Status) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusDegraded:
		return "degraded"
	case StatusOverloaded:
		return "overloaded"
	case StatusCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// signalLevel grades one signal against its warning and critical thresholds:
// 0 below warning, 1 between, 2 at or above critical. Occupancy passes
// ratios, memory passes byte counts; only the units of value and thresholds
// have to agree.
func signalLevel(value, warning, critical float64) int {
	switch {
	case value >= critical:
		return 2
	case value >= warning:
		return 1
	default:
		return 0
	}
}

// combineSignals maps the two graded signals onto a Status. Both signals at
// critical means Critical; a single critical signal means Overloaded; a
// single warning means Degraded.
func combineSignals(occupancy, memory int) Status {
	switch {
	case occupancy == 2 && memory == 2:
		return StatusCritical
	case occupancy == 2 || memory == 2:
		return StatusOverloaded
	case occupancy == 1 || memory == 1:
		return StatusDegraded
	default:
		return StatusHealthy
	}
}
