package batch

import (
	"time"

	"github.com/turtacn/stockscan/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/stockscan/pkg/types/job"
)

// ComputeProgress derives a snapshot from raw counts. completed includes
// failed items. The remaining-time estimate assumes a constant rate and is
// only available once something has completed.
func ComputeProgress(elapsed time.Duration, completed, failed, total int) job.RunProgress {
	p := job.RunProgress{
		Total:     total,
		Completed: completed,
		Failed:    failed,
		Elapsed:   elapsed,
	}
	if total > 0 {
		p.Percentage = float64(completed) / float64(total) * 100
	}
	if completed > 0 {
		perItem := float64(elapsed) / float64(completed)
		remaining := time.Duration(perItem*float64(total)) - elapsed
		if remaining < 0 {
			remaining = 0
		}
		p.EstimatedRemaining = remaining
		p.EstimateAvailable = true
	}
	if secs := elapsed.Seconds(); secs > 0 {
		p.ThroughputPerSec = float64(completed) / secs
	}
	return p
}

// Tracker accumulates counts for one run (or one pipeline stage) and feeds
// the progress callback. It is driven by the orchestrating goroutine only
// and is not safe for concurrent use.
type Tracker struct {
	start     time.Time
	total     int
	completed int
	failed    int
	callback  func(job.RunProgress)
	logger    logging.Logger
	now       func() time.Time
}

// NewTracker starts the clock. A nil callback is allowed.
func NewTracker(total int, callback func(job.RunProgress), logger logging.Logger) *Tracker {
	return &Tracker{
		start:    time.Now(),
		total:    total,
		callback: callback,
		logger:   logging.OrNop(logger),
		now:      time.Now,
	}
}

// Advance adds the outcome of one chunk and reports the new snapshot.
func (t *Tracker) Advance(completed, failed int) job.RunProgress {
	t.completed += completed
	t.failed += failed
	p := ComputeProgress(t.now().Sub(t.start), t.completed, t.failed, t.total)
	t.notify(p)
	return p
}

// Snapshot computes the current progress without notifying.
func (t *Tracker) Snapshot() job.RunProgress {
	return ComputeProgress(t.now().Sub(t.start), t.completed, t.failed, t.total)
}

func (t *Tracker) notify(p job.RunProgress) {
	if t.callback == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("progress callback panicked", logging.Any("panic", r))
		}
	}()
	t.callback(p)
}
