package resolution

import (
	"sync"
	"time"

	"github.com/aristath/scout/internal/events"
)

// ProgressReporter emits throttled progress events for one resolution run.
// Workers report from multiple goroutines; the reporter serializes emission
// and guarantees the reported count never goes backwards. Totals never
// change mid-run.
type ProgressReporter struct {
	eventManager *events.Manager
	runID        string
	total        int

	mu          sync.Mutex
	current     int
	lastReport  time.Time
	minInterval time.Duration
}

// NewProgressReporter creates a progress reporter with throttling.
// Default throttle is 100ms (10 updates/sec max) for real-time feel.
func NewProgressReporter(em *events.Manager, runID string, total int) *ProgressReporter {
	return &ProgressReporter{
		eventManager: em,
		runID:        runID,
		total:        total,
		minInterval:  100 * time.Millisecond,
	}
}

// Advance records one completed instrument and emits a progress event unless
// throttled. Completion (current == total) always bypasses the throttle.
func (pr *ProgressReporter) Advance(label string) {
	if pr.eventManager == nil {
		return
	}

	// Emitting under the lock keeps delivered counts in order; Publish is
	// non-blocking so the lock is never held on a slow subscriber.
	pr.mu.Lock()
	defer pr.mu.Unlock()

	pr.current++
	now := time.Now()
	if now.Sub(pr.lastReport) < pr.minInterval && pr.current != pr.total {
		return
	}
	pr.lastReport = now

	pr.emit(pr.current, label)
}

// Finish emits the terminal (total, total) progress event, bypassing the
// throttle. Safe to call even when every instrument already reported.
func (pr *ProgressReporter) Finish() {
	if pr.eventManager == nil {
		return
	}

	pr.mu.Lock()
	defer pr.mu.Unlock()

	pr.current = pr.total
	pr.lastReport = time.Now()
	pr.emit(pr.total, "")
}

func (pr *ProgressReporter) emit(current int, label string) {
	pr.eventManager.EmitTyped(events.ResolutionProgress, "resolution", &events.ResolutionRunData{
		RunID:  pr.runID,
		Status: "progress",
		Progress: &events.ResolutionProgressInfo{
			Current: current,
			Total:   pr.total,
			Label:   label,
		},
		Timestamp: time.Now(),
	})
}
