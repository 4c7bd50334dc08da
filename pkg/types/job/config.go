package job

import (
	"time"

	"github.com/turtacn/stockscan/pkg/errors"
)

// RunConfig is supplied per invocation. The engine never mutates the caller's
// value; load-balanced runs work on a Clone (the effective config).
type RunConfig struct {
	BatchSize      int `json:"batch_size"`
	MaxConcurrency int `json:"max_concurrency"`
	// MemoryThresholdMB triggers cache cleanup when sampled memory exceeds
	// it. Zero disables threshold cleanup; sampling still happens.
	MemoryThresholdMB float64       `json:"memory_threshold_mb"`
	ItemTimeout       time.Duration `json:"item_timeout"`
	// RetryAttempts is the number of retries after the first attempt.
	RetryAttempts int          `json:"retry_attempts"`
	PriorityMode  PriorityMode `json:"priority_mode"`
	CacheEnabled  bool         `json:"cache_enabled"`

	// ProgressCallback is invoked synchronously after each chunk. It must not
	// block: the next chunk is not admitted until it returns.
	ProgressCallback func(RunProgress) `json:"-"`
}

// Validate checks every field and returns an ErrCodeInvalidConfig AppError
// naming the first offending one.
func (c RunConfig) Validate() error {
	switch {
	case c.BatchSize <= 0:
		return errors.InvalidConfig("batch_size", "must be > 0")
	case c.MaxConcurrency <= 0:
		return errors.InvalidConfig("max_concurrency", "must be > 0")
	case c.MemoryThresholdMB < 0:
		return errors.InvalidConfig("memory_threshold_mb", "must be >= 0")
	case c.ItemTimeout <= 0:
		return errors.InvalidConfig("item_timeout", "must be > 0")
	case c.RetryAttempts < 0:
		return errors.InvalidConfig("retry_attempts", "must be >= 0")
	case !c.PriorityMode.Valid():
		return errors.InvalidConfig("priority_mode", "must be one of speed, quality, balanced")
	}
	return nil
}

// Clone returns a copy that can be adjusted without touching c.
func (c RunConfig) Clone() RunConfig {
	return c
}

// WithoutCallback returns a copy with ProgressCallback cleared, suitable for
// storing in a summary.
func (c RunConfig) WithoutCallback() RunConfig {
	c.ProgressCallback = nil
	return c
}
