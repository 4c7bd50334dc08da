package job

import (
	"fmt"
	"time"
)

// ItemStatus is the terminal state of one item.
type ItemStatus string

const (
	StatusSuccess   ItemStatus = "success"
	StatusFailed    ItemStatus = "failed"
	StatusTimeout   ItemStatus = "timeout"
	StatusCancelled ItemStatus = "cancelled"
)

func (s ItemStatus) String() string { return string(s) }

// ItemResult is produced exactly once per submitted item. Retries are
// internal and never surface as separate results.
type ItemResult[R any] struct {
	ID      string     `json:"id"`
	Success bool       `json:"success"`
	Status  ItemStatus `json:"status"`
	Data    R          `json:"data,omitempty"`
	// Err is the last error seen; nil on success.
	Err error `json:"-"`
	// ErrorKind is the error code of Err, kept for serialisation.
	ErrorKind      string        `json:"error_kind,omitempty"`
	ErrorMessage   string        `json:"error_message,omitempty"`
	Attempts       int           `json:"attempts"`
	FromCache      bool          `json:"from_cache,omitempty"`
	ProcessingTime time.Duration `json:"processing_time"`
	// MemoryUsedMB is the growth of the process heap while the item ran. It
	// is approximate (other goroutines allocate too) and only measured when
	// MaxConcurrency is 1; it stays zero otherwise.
	MemoryUsedMB float64 `json:"memory_used_mb"`
	// Stage is set by pipeline runs to the stage that produced the result.
	Stage string `json:"stage,omitempty"`
}

// RunProgress is an immutable snapshot handed to the progress callback.
type RunProgress struct {
	Total      int           `json:"total"`
	Completed  int           `json:"completed"`
	Failed     int           `json:"failed"`
	Percentage float64       `json:"percentage"`
	Elapsed    time.Duration `json:"elapsed"`

	// EstimatedRemaining is only meaningful when EstimateAvailable is true.
	EstimatedRemaining time.Duration `json:"estimated_remaining"`
	EstimateAvailable  bool          `json:"estimate_available"`
	ThroughputPerSec   float64       `json:"throughput_per_sec"`
}

func (p RunProgress) String() string {
	eta := "n/a"
	if p.EstimateAvailable {
		eta = p.EstimatedRemaining.Round(time.Millisecond).String()
	}
	return fmt.Sprintf("%d/%d (%.1f%%) failed=%d eta=%s %.2f items/s",
		p.Completed, p.Total, p.Percentage, p.Failed, eta, p.ThroughputPerSec)
}

// ResourceSample is one point of the resource time-series recorded during a
// run.
type ResourceSample struct {
	Timestamp        time.Time `json:"timestamp"`
	CPUPercent       float64   `json:"cpu_percent"`
	MemoryPercent    float64   `json:"memory_percent"`
	MemoryMB         float64   `json:"memory_mb"`
	NetworkBytesSent uint64    `json:"network_bytes_sent"`
	NetworkBytesRecv uint64    `json:"network_bytes_recv"`
}

// RunMode names the entry point that produced a summary.
type RunMode string

const (
	ModeBatch    RunMode = "batch"
	ModeAdaptive RunMode = "adaptive"
	ModePipeline RunMode = "pipeline"
	ModeStream   RunMode = "stream"
)

// RunSummary aggregates a finished run.
type RunSummary[R any] struct {
	RunID            string           `json:"run_id"`
	Mode             RunMode          `json:"mode"`
	TotalItems       int              `json:"total_items"`
	SuccessCount     int              `json:"success_count"`
	FailureCount     int              `json:"failure_count"`
	CacheHits        int              `json:"cache_hits"`
	TotalTime        time.Duration    `json:"total_time"`
	AvgTime          time.Duration    `json:"avg_time"`
	PeakMemoryMB     float64          `json:"peak_memory_mb"`
	ThroughputPerSec float64          `json:"throughput_per_sec"`
	Effective        RunConfig        `json:"effective_config"`
	Metrics          []ResourceSample `json:"metrics,omitempty"`
	// StageFailures counts items dropped at each pipeline stage.
	StageFailures map[string]int  `json:"stage_failures,omitempty"`
	Results       []ItemResult[R] `json:"results,omitempty"`
}

// Overview returns a copy without per-item results and samples.
func (s *RunSummary[R]) Overview() RunSummary[R] {
	out := *s
	out.Results = nil
	out.Metrics = nil
	return out
}

// Failures returns the failed results in submission order.
func (s *RunSummary[R]) Failures() []ItemResult[R] {
	var out []ItemResult[R]
	for _, r := range s.Results {
		if !r.Success {
			out = append(out, r)
		}
	}
	return out
}
