package client

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/turtacn/stockscan/pkg/errors"
	"github.com/turtacn/stockscan/pkg/types/job"
)

type LivenessResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Uptime  string `json:"uptime"`
}

type ComponentCheck struct {
	Status  string `json:"status"`
	Latency string `json:"latency,omitempty"`
	Error   string `json:"error,omitempty"`
}

type ReadinessResponse struct {
	Status     string                    `json:"status"`
	Components map[string]ComponentCheck `json:"components,omitempty"`
}

// Ready reports whether the status is "ready".
func (r *ReadinessResponse) Ready() bool { return r != nil && r.Status == "ready" }

// EngineCounters are the engine's lifetime counters.
type EngineCounters struct {
	TotalProcessed int64 `json:"total_processed"`
	ErrorCount     int64 `json:"error_count"`
	CacheHits      int64 `json:"cache_hits"`
	CacheMisses    int64 `json:"cache_misses"`
	Retries        int64 `json:"retries"`
	Timeouts       int64 `json:"timeouts"`
	Cleanups       int64 `json:"cleanups"`
	Runs           int64 `json:"runs"`
	CacheEntries   int   `json:"cache_entries"`
}

// WorkerStats is the worker section of /v1/stats.
type WorkerStats struct {
	Generation      int64         `json:"generation"`
	Published       int64         `json:"published"`
	PublishFailures int64         `json:"publish_failures"`
	Unfinished      int64         `json:"unfinished"`
	RunConfig       job.RunConfig `json:"run_config"`
	Source          struct {
		Consumed       int64 `json:"consumed"`
		Delivered      int64 `json:"delivered"`
		Acked          int64 `json:"acked"`
		DeadLettered   int64 `json:"dead_lettered"`
		CommitFailures int64 `json:"commit_failures"`
		Uncommitted    int64 `json:"uncommitted"`
		Lag            int64 `json:"lag"`
	} `json:"source"`
	Publisher struct {
		Published int64 `json:"published"`
		Failed    int64 `json:"failed"`
		Retries   int64 `json:"retries"`
	} `json:"publisher"`
}

type StatsResponse struct {
	Engine EngineCounters `json:"engine"`
	// Worker is nil when the server runs without a worker.
	Worker *WorkerStats `json:"worker,omitempty"`
}

// RunOverview is a run summary without per-item results.
type RunOverview = job.RunSummary[json.RawMessage]

// Health calls /healthz.
func (c *Client) Health(ctx context.Context) (*LivenessResponse, error) {
	var out LivenessResponse
	if err := c.get(ctx, "/healthz", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Ready calls /readyz. A not-ready server yields both the decoded response
// and an *APIError with status 503.
func (c *Client) Ready(ctx context.Context) (*ReadinessResponse, error) {
	var out ReadinessResponse
	err := c.do(ctx, http.MethodGet, "/readyz", nil, &out, &out)
	if err != nil && out.Status == "" {
		return nil, err
	}
	return &out, err
}

// Stats calls /v1/stats.
func (c *Client) Stats(ctx context.Context) (*StatsResponse, error) {
	var out StatsResponse
	if err := c.get(ctx, "/v1/stats", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// LastRun calls /v1/runs/last. It returns nil and no error while no run has
// completed.
func (c *Client) LastRun(ctx context.Context) (*RunOverview, error) {
	var out RunOverview
	if err := c.get(ctx, "/v1/runs/last", &out); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.IsNotFound() {
			return nil, nil
		}
		return nil, err
	}
	return &out, nil
}

// WaitReady polls Ready every interval until the server is ready or ctx
// ends. On timeout it returns the last answer's error, if any.
func (c *Client) WaitReady(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastErr error
	for {
		r, err := c.Ready(ctx)
		if err == nil && r.Ready() {
			return nil
		}
		if err != nil && ctx.Err() == nil {
			lastErr = err
		}
		select {
		case <-ctx.Done():
			if lastErr != nil {
				return lastErr
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
