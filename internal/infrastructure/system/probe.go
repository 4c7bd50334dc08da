// Package system reads host and process resource usage through gopsutil
// for the engine's load balancer and resource monitor.
package system

import (
	"context"
	"os"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/net"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/turtacn/stockscan/internal/batch"
	"github.com/turtacn/stockscan/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/stockscan/pkg/errors"
	"github.com/turtacn/stockscan/pkg/types/job"
)

// Probe samples CPU, memory, network and process RSS. It implements
// batch.ResourceSampler; LoadProbe adapts it to batch.LoadProbe.
type Probe struct {
	cpuPercent    func(ctx context.Context) (float64, error)
	memoryPercent func(ctx context.Context) (float64, error)
	netCounters   func(ctx context.Context) (sent, recv uint64, err error)
	rssBytes      func(ctx context.Context) (uint64, error)
	now           func() time.Time
	logger        logging.Logger
}

// NewProbe watches the current process.
func NewProbe(logger logging.Logger) (*Probe, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "open current process")
	}
	return &Probe{
		cpuPercent:    hostCPUPercent,
		memoryPercent: hostMemoryPercent,
		netCounters:   hostNetCounters,
		rssBytes: func(ctx context.Context) (uint64, error) {
			info, err := proc.MemoryInfoWithContext(ctx)
			if err != nil {
				return 0, err
			}
			return info.RSS, nil
		},
		now:    time.Now,
		logger: logging.OrNop(logger).Named("system_probe"),
	}, nil
}

// hostCPUPercent uses a zero interval: the value covers the time since the
// previous call, so it never blocks.
func hostCPUPercent(ctx context.Context) (float64, error) {
	pct, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return 0, err
	}
	if len(pct) == 0 {
		return 0, nil
	}
	return pct[0], nil
}

func hostMemoryPercent(ctx context.Context) (float64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return vm.UsedPercent, nil
}

func hostNetCounters(ctx context.Context) (uint64, uint64, error) {
	counters, err := net.IOCountersWithContext(ctx, false)
	if err != nil {
		return 0, 0, err
	}
	if len(counters) == 0 {
		return 0, 0, nil
	}
	return counters[0].BytesSent, counters[0].BytesRecv, nil
}

// Load reports host CPU and memory utilisation.
func (p *Probe) Load(ctx context.Context) (batch.SystemLoad, error) {
	cpuPct, err := p.cpuPercent(ctx)
	if err != nil {
		return batch.SystemLoad{}, errors.Wrap(err, errors.ErrCodeInternal, "read cpu usage")
	}
	memPct, err := p.memoryPercent(ctx)
	if err != nil {
		return batch.SystemLoad{}, errors.Wrap(err, errors.ErrCodeInternal, "read memory usage")
	}
	return batch.SystemLoad{CPUPercent: cpuPct, MemoryPercent: memPct}, nil
}

func (p *Probe) LoadProbe() batch.LoadProbe { return batch.LoadProbeFunc(p.Load) }

// Sample returns a full resource sample. MemoryMB is the process RSS, which
// is what the memory threshold is compared against. Network counters are
// best effort.
func (p *Probe) Sample(ctx context.Context) (job.ResourceSample, error) {
	load, err := p.Load(ctx)
	if err != nil {
		return job.ResourceSample{}, err
	}
	rss, err := p.rssBytes(ctx)
	if err != nil {
		return job.ResourceSample{}, errors.Wrap(err, errors.ErrCodeInternal, "read process memory")
	}

	s := job.ResourceSample{
		Timestamp:     p.now(),
		CPUPercent:    load.CPUPercent,
		MemoryPercent: load.MemoryPercent,
		MemoryMB:      float64(rss) / (1 << 20),
	}
	if sent, recv, err := p.netCounters(ctx); err != nil {
		p.logger.Debug("network counters unavailable", logging.Err(err))
	} else {
		s.NetworkBytesSent, s.NetworkBytesRecv = sent, recv
	}
	return s, nil
}
