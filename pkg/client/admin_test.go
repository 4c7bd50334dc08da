package client

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/stockscan/pkg/types/job"
)

func TestReady(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/readyz", r.URL.Path)
		fmt.Fprint(w, `{"status":"ready","components":{"redis":{"status":"healthy","latency":"1ms"}}}`)
	})
	r, err := c.Ready(context.Background())
	require.NoError(t, err)
	assert.True(t, r.Ready())
	assert.Equal(t, "healthy", r.Components["redis"].Status)
}

func TestReady_NotReadyCarriesBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, `{"status":"not_ready","components":{"analyzer":{"status":"unhealthy","error":"connection refused"}}}`)
	})
	r, err := c.Ready(context.Background())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.True(t, apiErr.IsUnavailable())
	require.NotNil(t, r)
	assert.False(t, r.Ready())
	assert.Equal(t, "connection refused", r.Components["analyzer"].Error)
}

func TestStats_WithWorker(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/stats", r.URL.Path)
		fmt.Fprint(w, `{
			"engine":{"total_processed":10,"error_count":1,"cache_hits":3,"runs":1,"cache_entries":7},
			"worker":{"generation":2,"published":9,"publish_failures":1,
				"run_config":{"batch_size":8,"max_concurrency":4,"priority_mode":"speed"},
				"source":{"consumed":11,"dead_lettered":1},
				"publisher":{"published":9,"retries":2}}
		}`)
	})
	s, err := c.Stats(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 10, s.Engine.TotalProcessed)
	assert.Equal(t, 7, s.Engine.CacheEntries)
	require.NotNil(t, s.Worker)
	assert.EqualValues(t, 2, s.Worker.Generation)
	assert.Equal(t, job.PrioritySpeed, s.Worker.RunConfig.PriorityMode)
	assert.EqualValues(t, 1, s.Worker.Source.DeadLettered)
	assert.EqualValues(t, 2, s.Worker.Publisher.Retries)
}

func TestStats_EngineOnly(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"engine":{"runs":4}}`)
	})
	s, err := c.Stats(context.Background())
	require.NoError(t, err)
	assert.Nil(t, s.Worker)
}

func TestLastRun(t *testing.T) {
	var done atomic.Bool
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if !done.Load() {
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"code":"COMMON_005","message":"no run has completed yet"}`)
			return
		}
		fmt.Fprint(w, `{"run_id":"r-1","mode":"batch","total_items":3,"success_count":2,"failure_count":1}`)
	})

	run, err := c.LastRun(context.Background())
	require.NoError(t, err)
	assert.Nil(t, run)

	done.Store(true)
	run, err = c.LastRun(context.Background())
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, "r-1", run.RunID)
	assert.Equal(t, job.ModeBatch, run.Mode)
	assert.Equal(t, 1, run.FailureCount)
}

func TestWaitReady(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprint(w, `{"status":"not_ready"}`)
			return
		}
		fmt.Fprint(w, `{"status":"ready"}`)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.WaitReady(ctx, 5*time.Millisecond))
	assert.EqualValues(t, 3, calls.Load())
}

func TestWaitReady_Timeout(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, `{"status":"not_ready"}`)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := c.WaitReady(ctx, 5*time.Millisecond)
	var apiErr *APIError
	assert.ErrorAs(t, err, &apiErr)
}
