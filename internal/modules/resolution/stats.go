package resolution

import (
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"
)

// TimingSummary describes the per-instrument latency distribution of one
// resolution run, in seconds. Cached hits are excluded so the numbers
// reflect actual broker round-trip behaviour.
type TimingSummary struct {
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	P95    float64 `json:"p95"`
}

// summarizeTimings computes the latency distribution from raw durations.
// Returns nil when nothing was measured.
func summarizeTimings(durations []time.Duration) *TimingSummary {
	if len(durations) == 0 {
		return nil
	}

	seconds := make([]float64, len(durations))
	for i, d := range durations {
		seconds[i] = d.Seconds()
	}
	sort.Float64s(seconds)

	summary := &TimingSummary{
		Count: len(seconds),
		Min:   seconds[0],
		Max:   seconds[len(seconds)-1],
		Mean:  stat.Mean(seconds, nil),
		P95:   stat.Quantile(0.95, stat.Empirical, seconds, nil),
	}
	if len(seconds) > 1 {
		summary.StdDev = stat.StdDev(seconds, nil)
	}
	return summary
}
