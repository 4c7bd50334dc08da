package batch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/stockscan/pkg/types/job"
)

// scriptedSampler returns the queued memory readings in order, then repeats
// the last one.
type scriptedSampler struct {
	mu       sync.Mutex
	readings []float64
	err      error
	calls    int
}

func (s *scriptedSampler) Sample(context.Context) (job.ResourceSample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return job.ResourceSample{}, s.err
	}
	mb := s.readings[len(s.readings)-1]
	if len(s.readings) > 1 {
		s.readings = s.readings[1:]
	}
	return job.ResourceSample{MemoryMB: mb, CPUPercent: 12}, nil
}

func (s *scriptedSampler) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func TestMonitor_RecordsSamplesAndPeak(t *testing.T) {
	s := &scriptedSampler{readings: []float64{10, 40, 25}}
	m := NewMonitor(s, MonitorConfig{}, nil, nil)

	for i := 0; i < 3; i++ {
		_, ok := m.SampleNow(context.Background())
		require.True(t, ok)
	}

	samples := m.Samples()
	require.Len(t, samples, 3)
	assert.Equal(t, 10.0, samples[0].MemoryMB)
	assert.False(t, samples[0].Timestamp.IsZero())
	assert.Equal(t, 40.0, m.Peak())
	assert.Equal(t, 0, m.Cleanups())
}

func TestMonitor_BoundedTimeSeries(t *testing.T) {
	s := &scriptedSampler{readings: []float64{1, 2, 3, 4, 5}}
	m := NewMonitor(s, MonitorConfig{MaxSamples: 3}, nil, nil)
	for i := 0; i < 5; i++ {
		m.SampleNow(context.Background())
	}

	samples := m.Samples()
	require.Len(t, samples, 3)
	assert.Equal(t, 3.0, samples[0].MemoryMB)
	assert.Equal(t, 5.0, samples[2].MemoryMB)
}

func TestMonitor_CleanupAboveThreshold(t *testing.T) {
	ctx := context.Background()
	cache := NewMemoryCache[int](500)
	for i := 0; i < 300; i++ {
		cache.Set(ctx, time.Duration(i).String(), i)
	}

	s := &scriptedSampler{readings: []float64{50, 150}}
	m := NewMonitor(s, MonitorConfig{ThresholdMB: 100, RetentionFloor: 100}, nil, nil, cache.Trim)
	released := 0
	m.release = func() { released++ }

	m.SampleNow(ctx)
	assert.Equal(t, 0, m.Cleanups())
	assert.Equal(t, 300, cache.Len())

	m.SampleNow(ctx)
	assert.Equal(t, 1, m.Cleanups())
	assert.Equal(t, 1, released)
	assert.Equal(t, 100, cache.Len())
}

func TestMonitor_ZeroThresholdNeverCleans(t *testing.T) {
	s := &scriptedSampler{readings: []float64{1e6}}
	called := false
	m := NewMonitor(s, MonitorConfig{}, nil, nil, func(int) int { called = true; return 0 })
	m.release = func() {}

	m.SampleNow(context.Background())
	assert.False(t, called)
	assert.Equal(t, 0, m.Cleanups())
}

func TestMonitor_SamplerErrorIsSkipped(t *testing.T) {
	s := &scriptedSampler{err: errors.New("no /proc")}
	m := NewMonitor(s, MonitorConfig{}, nil, nil)

	_, ok := m.SampleNow(context.Background())
	assert.False(t, ok)
	assert.Empty(t, m.Samples())
}

func TestMonitor_StartStop(t *testing.T) {
	s := &scriptedSampler{readings: []float64{5}}
	m := NewMonitor(s, MonitorConfig{Interval: time.Millisecond}, nil, nil)

	m.Start(context.Background())
	require.Eventually(t, func() bool { return s.Calls() >= 3 }, time.Second, time.Millisecond)
	m.Stop()
	m.Stop()

	calls := s.Calls()
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, calls, s.Calls(), "no sampling after Stop")
}

func TestMonitor_StopWithoutStart(t *testing.T) {
	m := NewMonitor(nil, MonitorConfig{}, nil, nil)
	assert.NotPanics(t, m.Stop)
}

func TestRuntimeSampler(t *testing.T) {
	s, err := RuntimeSampler{}.Sample(context.Background())
	require.NoError(t, err)
	assert.Greater(t, s.MemoryMB, 0.0)
}
