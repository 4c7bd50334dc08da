package batch

import (
	"context"
	"math"

	"github.com/turtacn/stockscan/pkg/types/job"
)

// Load thresholds and growth ceilings of the adaptive balancer.
const (
	HighLoadPercent = 80.0
	LowLoadPercent  = 30.0

	MaxAdaptiveConcurrency = 8
	MaxAdaptiveBatchSize   = 16
)

// SystemLoad is host utilisation in percent.
type SystemLoad struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
}

// LoadProbe reports current system load.
type LoadProbe interface {
	Sample(ctx context.Context) (SystemLoad, error)
}

// StaticProbe always reports the same load.
type StaticProbe SystemLoad

func (p StaticProbe) Sample(context.Context) (SystemLoad, error) { return SystemLoad(p), nil }

// LoadProbeFunc adapts a function to LoadProbe.
type LoadProbeFunc func(ctx context.Context) (SystemLoad, error)

func (f LoadProbeFunc) Sample(ctx context.Context) (SystemLoad, error) { return f(ctx) }

// Optimize returns a copy of cfg adjusted for load:
//
//	cpu > 80%  halves MaxConcurrency (floor 1)
//	cpu < 30%  grows it by half, rounded up, up to 8
//	mem > 80%  halves BatchSize (floor 1)
//	mem < 30%  grows it by half, rounded up, up to 16
//
// Growth never lowers a value that already exceeds its ceiling.
func Optimize(cfg job.RunConfig, load SystemLoad) job.RunConfig {
	out := cfg.Clone()

	switch {
	case load.CPUPercent > HighLoadPercent:
		out.MaxConcurrency = halve(out.MaxConcurrency)
	case load.CPUPercent < LowLoadPercent:
		out.MaxConcurrency = grow(out.MaxConcurrency, MaxAdaptiveConcurrency)
	}

	switch {
	case load.MemoryPercent > HighLoadPercent:
		out.BatchSize = halve(out.BatchSize)
	case load.MemoryPercent < LowLoadPercent:
		out.BatchSize = grow(out.BatchSize, MaxAdaptiveBatchSize)
	}
	return out
}

func halve(n int) int {
	return max(1, n/2)
}

func grow(n, ceiling int) int {
	if n >= ceiling {
		return n
	}
	return min(int(math.Ceil(float64(n)*1.5)), ceiling)
}
